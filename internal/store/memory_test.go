package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransitionJob(t *testing.T) {
	s := NewInMemoryStore()
	s.PutJob(&Job{ID: "j1", Kind: "song_wish", Status: JobStatusApproved})

	err := s.TransitionJob(context.Background(), "j1", JobStatusDone, JobUpdate{
		ResultRefID: "doc-1",
		ReplyText:   "hello",
	})
	require.NoError(t, err)

	job, err := s.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Equal(t, "doc-1", job.ResultRefID)
	assert.Equal(t, "hello", job.ReplyText)
}

func TestMemoryTransitionMissingJob(t *testing.T) {
	s := NewInMemoryStore()
	err := s.TransitionJob(context.Background(), "ghost", JobStatusFailed, JobUpdate{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGetJobReturnsCopy(t *testing.T) {
	s := NewInMemoryStore()
	s.PutJob(&Job{ID: "j1", Status: JobStatusApproved})

	job, err := s.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	job.Status = JobStatusFailed

	again, err := s.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusApproved, again.Status, "callers must not mutate stored state")
}

func TestMemoryFinalizeRunExactlyOnce(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.CreateRun(context.Background(), &Run{ID: "r1", JobID: "j1", Status: RunStatusInProgress}))

	code := 0
	require.NoError(t, s.FinalizeRun(context.Background(), "r1", RunStatusSuccess, RunFinal{ExitCode: &code}))

	err := s.FinalizeRun(context.Background(), "r1", RunStatusFailed, RunFinal{})
	require.Error(t, err, "a run reaches a terminal state exactly once")

	run, ok := s.GetRun("r1")
	require.True(t, ok)
	assert.Equal(t, RunStatusSuccess, run.Status)
	assert.NotNil(t, run.FinishedAt)
}

func TestMemoryDuplicateRun(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.CreateRun(context.Background(), &Run{ID: "r1"}))
	require.Error(t, s.CreateRun(context.Background(), &Run{ID: "r1"}))
}

func TestMemoryAncestorChain(t *testing.T) {
	s := NewInMemoryStore()
	prev := ""
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		s.PutJob(&Job{ID: id, Status: JobStatusDone, ParentJobID: prev})
		prev = id
	}

	chain, err := s.AncestorChain(context.Background(), "g", 5)
	require.NoError(t, err)
	require.Len(t, chain, 5, "depth bound applies")
	assert.Equal(t, "f", chain[0].ID)
	assert.Equal(t, "b", chain[4].ID)

	// A missing parent ends the walk instead of erroring.
	s.PutJob(&Job{ID: "orphan", ParentJobID: "never-existed"})
	chain, err = s.AncestorChain(context.Background(), "orphan", 5)
	require.NoError(t, err)
	assert.Empty(t, chain)

	_, err = s.AncestorChain(context.Background(), "ghost", 5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryAppendChunk(t *testing.T) {
	s := NewInMemoryStore()
	for i := int64(0); i < 3; i++ {
		require.NoError(t, s.AppendChunk(context.Background(), &Chunk{
			ID: "c", RunID: "r1", JobID: "j1", Stream: StreamStdout, BatchIndex: i,
		}))
	}
	assert.Len(t, s.RunChunks("r1"), 3)
	assert.Empty(t, s.RunChunks("r2"))
}
