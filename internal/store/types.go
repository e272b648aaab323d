package store

import (
	"time"
)

type JobStatus string

const (
	JobStatusApproved JobStatus = "approved"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusRejected JobStatus = "rejected"
)

type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusSuccess    RunStatus = "success"
	RunStatusFailed     RunStatus = "failed"
)

// Job is one unit of externally-delegated work. Jobs are created outside the
// engine (by the intake API); the engine only reads them and requests status
// transitions.
type Job struct {
	ID            string            `json:"id" gorm:"primaryKey"`
	Kind          string            `json:"kind" gorm:"index"`
	Status        JobStatus         `json:"status"`
	Params        map[string]string `json:"params,omitempty" gorm:"serializer:json"`
	ParentJobID   string            `json:"parent_job_id,omitempty"`
	ResultRefID   string            `json:"result_ref_id,omitempty"`
	ReplyText     string            `json:"reply_text,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	NotifyURL     string            `json:"notify_url,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Run is one execution attempt of a Job's external program. A Job may
// accumulate several Runs over its lifetime, but only one is in progress at a
// time.
type Run struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	JobID         string     `json:"job_id" gorm:"index"`
	RunnerProgram string     `json:"runner_program"`
	Status        RunStatus  `json:"status"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ReplyText     string     `json:"reply_text,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Chunk is one captured output line of a Run. Append-only.
type Chunk struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	RunID      string    `json:"run_id" gorm:"index"`
	JobID      string    `json:"job_id" gorm:"index"`
	Stream     string    `json:"stream"`
	BatchIndex int64     `json:"batch_index"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// JobUpdate carries the optional fields persisted together with a status
// transition.
type JobUpdate struct {
	ResultRefID   string
	ReplyText     string
	FailureReason string
}

// RunFinal carries the fields persisted when a Run reaches a terminal status.
type RunFinal struct {
	ExitCode      *int
	FailureReason string
	ReplyText     string
}
