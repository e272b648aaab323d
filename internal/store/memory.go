package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryStore keeps jobs, runs and chunks in process memory. Used by tests
// and ephemeral runs; the sqlite store is the durable default.
type InMemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	runs   map[string]*Run
	chunks map[string][]*Chunk // keyed by run id
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs:   make(map[string]*Job),
		runs:   make(map[string]*Run),
		chunks: make(map[string][]*Chunk),
	}
}

// PutJob inserts or replaces a job. Jobs are created by the intake side, not
// by the engine, so this is not part of the Store interface.
func (s *InMemoryStore) PutJob(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *job
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = time.Now().UTC()
	s.jobs[c.ID] = &c
}

func (s *InMemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	c := *job
	return &c, nil
}

func (s *InMemoryStore) TransitionJob(_ context.Context, id string, status JobStatus, upd JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	job.Status = status
	if upd.ResultRefID != "" {
		job.ResultRefID = upd.ResultRefID
	}
	if upd.ReplyText != "" {
		job.ReplyText = upd.ReplyText
	}
	if upd.FailureReason != "" {
		job.FailureReason = upd.FailureReason
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	c := *run
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	s.runs[c.ID] = &c
	return nil
}

func (s *InMemoryStore) FinalizeRun(_ context.Context, runID string, status RunStatus, fin RunFinal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if run.Status != RunStatusInProgress {
		return fmt.Errorf("run %s already finalized as %s", runID, run.Status)
	}
	run.Status = status
	run.ExitCode = fin.ExitCode
	run.FailureReason = fin.FailureReason
	run.ReplyText = fin.ReplyText
	now := time.Now().UTC()
	run.FinishedAt = &now
	return nil
}

func (s *InMemoryStore) AppendChunk(_ context.Context, chunk *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *chunk
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.chunks[c.RunID] = append(s.chunks[c.RunID], &c)
	return nil
}

func (s *InMemoryStore) AncestorChain(_ context.Context, jobID string, depth int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chain []*Job
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	for parent := job.ParentJobID; parent != "" && len(chain) < depth; {
		p, ok := s.jobs[parent]
		if !ok {
			break
		}
		c := *p
		chain = append(chain, &c)
		parent = p.ParentJobID
	}
	return chain, nil
}

// GetRun, RunsForJob and RunChunks exist for tests and diagnostics.

func (s *InMemoryStore) GetRun(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	c := *run
	return &c, true
}

func (s *InMemoryStore) RunsForJob(jobID string) []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Run
	for _, run := range s.runs {
		if run.JobID == jobID {
			c := *run
			out = append(out, &c)
		}
	}
	return out
}

func (s *InMemoryStore) RunChunks(runID string) []*Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Chunk, len(s.chunks[runID]))
	copy(out, s.chunks[runID])
	return out
}
