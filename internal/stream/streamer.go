package stream

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Streamer fans captured output lines out to websocket subscribers, keyed by
// job id. The pumps publish accepted lines here in addition to persisting
// them; delivery is best effort.
type Streamer struct {
	mu          sync.RWMutex
	subscribers map[string][]*websocket.Conn
}

func NewStreamer() *Streamer {
	return &Streamer{
		subscribers: make(map[string][]*websocket.Conn),
	}
}

func (s *Streamer) Subscribe(jobID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[jobID] = append(s.subscribers[jobID], conn)
}

func (s *Streamer) Unsubscribe(jobID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subscribers[jobID]
	for i, c := range subs {
		if c == conn {
			s.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish sends one output line to every subscriber of a job. Write failures
// are ignored; dead connections are reaped in Close.
func (s *Streamer) Publish(jobID, stream, line string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.subscribers[jobID] {
		_ = conn.WriteJSON(map[string]string{"stream": stream, "line": line})
	}
}

// Close drops all subscribers of a job once its run is over.
func (s *Streamer) Close(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.subscribers[jobID] {
		conn.Close()
	}
	delete(s.subscribers, jobID)
}
