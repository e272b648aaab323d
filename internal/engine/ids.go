package engine

import (
	"fmt"
	"sync/atomic"
	"time"
)

// RunIDSource mints run ids from a job id, a timestamp and a monotonic
// counter. It is constructed once and injected; nothing here is package-level
// state.
type RunIDSource struct {
	now func() time.Time
	seq atomic.Int64
}

func NewRunIDSource() *RunIDSource {
	return &RunIDSource{now: func() time.Time { return time.Now().UTC() }}
}

// NewRunIDSourceAt fixes the clock. For tests.
func NewRunIDSourceAt(now func() time.Time) *RunIDSource {
	return &RunIDSource{now: now}
}

func (s *RunIDSource) Next(jobID string) string {
	n := s.seq.Add(1)
	return fmt.Sprintf("%s-%s-%d", jobID, s.now().Format("20060102T150405"), n)
}
