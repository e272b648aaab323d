package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lunehq/skillrunner/internal/logging"
	"github.com/lunehq/skillrunner/internal/notify"
	"github.com/lunehq/skillrunner/internal/store"
	"github.com/lunehq/skillrunner/internal/stream"
)

// Engine drives jobs from pickup to exactly one terminal state. It owns the
// dispatch queues, invokes the supervisor and interprets its outcome; every
// error of a single job's processing is converted into a failed status here
// and never escapes to the consumer loop.
type Engine struct {
	store    store.Store
	log      *logging.Logger
	sup      *Supervisor
	ids      *RunIDSource
	notifier notify.Notifier
	streamer *stream.Streamer
	kinds    map[string]*registration
	wg       sync.WaitGroup
}

func New(st store.Store, log *logging.Logger, sup *Supervisor, ids *RunIDSource, notifier notify.Notifier, streamer *stream.Streamer) *Engine {
	return &Engine{
		store:    st,
		log:      log.With("component", "engine"),
		sup:      sup,
		ids:      ids,
		notifier: notifier,
		streamer: streamer,
		kinds:    make(map[string]*registration),
	}
}

func (e *Engine) process(ctx context.Context, reg *registration, jobID string) {
	log := e.log.With("kind", reg.adapter.Kind(), "job_id", jobID)
	JobsInFlight.Inc()
	defer JobsInFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			log.Error("job processing panicked", "panic", r)
		}
	}()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		log.Warn("job not found on pickup, skipping", "error", err)
		JobsSkippedTotal.WithLabelValues(reg.adapter.Kind()).Inc()
		return
	}
	if job.Kind != reg.adapter.Kind() {
		log.Warn("job enqueued to wrong kind queue, skipping", "job_kind", job.Kind)
		JobsSkippedTotal.WithLabelValues(reg.adapter.Kind()).Inc()
		return
	}

	switch job.Status {
	case store.JobStatusApproved:
		if err := e.store.TransitionJob(ctx, job.ID, store.JobStatusRunning, store.JobUpdate{}); err != nil {
			log.Error("marking job running failed, skipping", "error", err)
			return
		}
	case store.JobStatusRunning:
		// Resumed after a restart; the previous attempt's run record stays
		// in_progress and requires operator attention.
		log.Info("job already running, starting a fresh attempt")
	case store.JobStatusDone, store.JobStatusRejected:
		log.Info("job already terminal, skipping", "status", job.Status)
		JobsSkippedTotal.WithLabelValues(reg.adapter.Kind()).Inc()
		return
	default:
		log.Warn("job in unexpected status, skipping", "status", job.Status)
		JobsSkippedTotal.WithLabelValues(reg.adapter.Kind()).Inc()
		return
	}

	runID := e.ids.Next(job.ID)
	run := &store.Run{
		ID:            runID,
		JobID:         job.ID,
		RunnerProgram: reg.runner.Program,
		Status:        store.RunStatusInProgress,
		StartedAt:     time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		e.failJob(ctx, reg, job, "", nil, fmt.Sprintf("creating run record: %v", err))
		return
	}
	log = log.With("run_id", runID)

	outcome, execErr := e.sup.Execute(ctx, reg.runner, reg.adapter, job, runID)
	if e.streamer != nil {
		e.streamer.Close(job.ID)
	}

	if execErr != nil {
		if errors.Is(execErr, ErrRunTimeout) {
			// The skill may have finished the actual work and written its
			// result before the kill; only the deadline says otherwise.
			doc, perr := ReadResultFile(outcome.ResultPath)
			if perr == nil {
				log.Info("run timed out but left a parseable result, finalizing as success")
				TimeoutRecoveriesTotal.WithLabelValues(reg.adapter.Kind()).Inc()
				e.finalizeDone(ctx, reg, job, runID, doc, nil, outcome.ResultPath, log)
				return
			}
			log.Info("run timed out with no usable result file", "error", perr)
		}
		e.failJob(ctx, reg, job, runID, outcome.ExitCode, execErr.Error())
		return
	}

	doc, err := ReadResultFile(outcome.ResultPath)
	if err != nil {
		e.failJob(ctx, reg, job, runID, outcome.ExitCode,
			fmt.Sprintf("%v (exit code %s)", err, formatExitCode(outcome.ExitCode)))
		return
	}
	e.finalizeDone(ctx, reg, job, runID, doc, outcome.ExitCode, outcome.ResultPath, log)
}

// finalizeDone persists the done transition together with the extracted
// result fields, finalizes the run as success and fires the best-effort
// notification. exitCode is nil on the timeout-recovery path.
func (e *Engine) finalizeDone(ctx context.Context, reg *registration, job *store.Job, runID string, doc map[string]any, exitCode *int, resultPath string, log *logging.Logger) {
	documentID, replyText := ExtractResultFields(doc)

	upd := store.JobUpdate{ResultRefID: documentID, ReplyText: replyText}
	if err := e.store.TransitionJob(ctx, job.ID, store.JobStatusDone, upd); err != nil {
		e.failJob(ctx, reg, job, runID, exitCode, fmt.Sprintf("persisting done state: %v", err))
		return
	}
	if err := e.store.FinalizeRun(ctx, runID, store.RunStatusSuccess, store.RunFinal{
		ExitCode:  exitCode,
		ReplyText: replyText,
	}); err != nil {
		log.Error("finalizing run as success failed", "error", err)
	}
	JobsDoneTotal.WithLabelValues(reg.adapter.Kind()).Inc()
	log.Info("job done", "document_id", documentID)

	if e.notifier != nil && job.NotifyURL != "" {
		// Detached: completion is not awaited, errors are logged only.
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			err := e.notifier.Notify(nctx, job.NotifyURL, notify.Event{
				JobID:      job.ID,
				Kind:       reg.adapter.Kind(),
				Type:       reg.adapter.EventType(),
				DocumentID: documentID,
				ReplyText:  replyText,
				Timestamp:  time.Now().UTC(),
			})
			if err != nil {
				log.Warn("notification failed", "url", job.NotifyURL, "error", err)
			}
		}()
	}

	if reg.runner.DeleteResultFile {
		if err := os.Remove(resultPath); err != nil && !os.IsNotExist(err) {
			log.Warn("removing result file failed", "path", resultPath, "error", err)
		}
	}
}

// failJob finalizes the run (when one was created) and moves the job to
// failed. Store errors on this path are logged and swallowed: signaling a
// failure must not itself loop into more failures.
func (e *Engine) failJob(ctx context.Context, reg *registration, job *store.Job, runID string, exitCode *int, reason string) {
	log := e.log.With("kind", reg.adapter.Kind(), "job_id", job.ID)
	if runID != "" {
		if err := e.store.FinalizeRun(ctx, runID, store.RunStatusFailed, store.RunFinal{
			ExitCode:      exitCode,
			FailureReason: reason,
		}); err != nil {
			log.Error("finalizing run as failed errored", "run_id", runID, "error", err)
		}
	}
	if err := e.store.TransitionJob(ctx, job.ID, store.JobStatusFailed, store.JobUpdate{FailureReason: reason}); err != nil {
		log.Error("marking job failed errored", "error", err)
	}
	JobsFailedTotal.WithLabelValues(reg.adapter.Kind()).Inc()
	log.Warn("job failed", "reason", reason)
}

func formatExitCode(code *int) string {
	if code == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *code)
}
