package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// dialSubscriber opens a websocket against a throwaway server that registers
// the server side of the connection as a subscriber.
func dialSubscriber(t *testing.T, s *Streamer, jobID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		s.Subscribe(jobID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStreamerPublish(t *testing.T) {
	s := NewStreamer()
	client := dialSubscriber(t, s, "job-1")

	// Subscription happens in the server handler; wait for it to land.
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.subscribers["job-1"]) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Publish("job-1", "stdout", "downloading track 3")

	var msg map[string]string
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, client.ReadJSON(&msg))
	assert.Equal(t, "stdout", msg["stream"])
	assert.Equal(t, "downloading track 3", msg["line"])
}

func TestStreamerCloseDropsSubscribers(t *testing.T) {
	s := NewStreamer()
	dialSubscriber(t, s, "job-1")

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.subscribers["job-1"]) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Close("job-1")
	s.mu.RLock()
	_, ok := s.subscribers["job-1"]
	s.mu.RUnlock()
	assert.False(t, ok)

	// Publishing to a closed job is a no-op, not a panic.
	s.Publish("job-1", "stdout", "late line")
}

func TestStreamerUnsubscribe(t *testing.T) {
	s := NewStreamer()
	dialSubscriber(t, s, "job-1")

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.subscribers["job-1"]) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.mu.RLock()
	conn := s.subscribers["job-1"][0]
	s.mu.RUnlock()

	s.Unsubscribe("job-1", conn)
	s.mu.RLock()
	remaining := len(s.subscribers["job-1"])
	s.mu.RUnlock()
	assert.Zero(t, remaining)
}
