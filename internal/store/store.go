package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Store is the narrow interface the engine needs from the job store. The
// backing document store is a separate system; implementations here keep just
// enough state to drive job lifecycles and retain captured output.
type Store interface {
	// GetJob returns the job or ErrNotFound.
	GetJob(ctx context.Context, id string) (*Job, error)
	// TransitionJob sets the job status and, atomically with it, any result
	// or failure fields carried in upd.
	TransitionJob(ctx context.Context, id string, status JobStatus, upd JobUpdate) error
	// CreateRun records the start of an execution attempt.
	CreateRun(ctx context.Context, run *Run) error
	// FinalizeRun moves a run out of in_progress exactly once.
	FinalizeRun(ctx context.Context, runID string, status RunStatus, fin RunFinal) error
	// AppendChunk persists one captured output line.
	AppendChunk(ctx context.Context, chunk *Chunk) error
	// AncestorChain walks parent_job_id from the given job upward, oldest
	// last, visiting at most depth ancestors. The job itself is excluded.
	AncestorChain(ctx context.Context, jobID string, depth int) ([]*Job, error)
}
