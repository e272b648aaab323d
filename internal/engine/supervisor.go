package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lunehq/skillrunner/internal/config"
	"github.com/lunehq/skillrunner/internal/logging"
	"github.com/lunehq/skillrunner/internal/store"
	"github.com/lunehq/skillrunner/internal/stream"
)

// ErrRunTimeout marks a run that was killed at its deadline. The controller
// checks for it with errors.Is before deciding whether the run can still be
// salvaged from an already-written result file.
var ErrRunTimeout = errors.New("skill run timed out")

// ancestorDepth bounds the parent chain handed to chainable skills.
const ancestorDepth = 5

// Outcome is the normalized result of one supervised execution. ExitCode is
// nil when the process was killed rather than exiting on its own.
type Outcome struct {
	Success    bool
	ExitCode   *int
	Stdout     string
	Stderr     string
	ResultPath string
}

// Supervisor runs the external skill program for one job attempt: payload
// file in, result file out, both output streams pumped into the store.
type Supervisor struct {
	store            store.Store
	log              *logging.Logger
	streamer         *stream.Streamer
	contentStorePath string
	maxChunksPerRun  int64
}

func NewSupervisor(st store.Store, log *logging.Logger, streamer *stream.Streamer, contentStorePath string, maxChunksPerRun int64) *Supervisor {
	if maxChunksPerRun <= 0 {
		maxChunksPerRun = config.DefaultMaxChunksPerRun
	}
	return &Supervisor{
		store:            st,
		log:              log.With("component", "supervisor"),
		streamer:         streamer,
		contentStorePath: contentStorePath,
		maxChunksPerRun:  maxChunksPerRun,
	}
}

type payloadAncestor struct {
	JobID      string            `json:"job_id"`
	Params     map[string]string `json:"params,omitempty"`
	DocumentID string            `json:"document_id,omitempty"`
	ReplyText  string            `json:"reply_text,omitempty"`
}

type payload struct {
	JobID            string            `json:"job_id"`
	Kind             string            `json:"kind"`
	Params           map[string]string `json:"params"`
	ContentStorePath string            `json:"content_store_path"`
	SkillFile        string            `json:"skill_file"`
	Ancestors        []payloadAncestor `json:"ancestors,omitempty"`
}

// Execute runs the skill program once under the runner's deadline. The
// returned Outcome always carries the expected result file path, even on
// error, so the caller can attempt timeout recovery. The payload file is
// removed on every exit path.
func (s *Supervisor) Execute(ctx context.Context, runner config.Runner, adapter Adapter, job *store.Job, runID string) (*Outcome, error) {
	out := &Outcome{ResultPath: filepath.Join(runner.ResultDir, runID+".json")}

	if err := os.MkdirAll(runner.ResultDir, 0o755); err != nil {
		return out, fmt.Errorf("preparing result dir %s: %w", runner.ResultDir, err)
	}
	// A stale result file from a previous attempt at this path must not be
	// mistaken for this run's output.
	if err := os.Remove(out.ResultPath); err != nil && !os.IsNotExist(err) {
		return out, fmt.Errorf("removing stale result file %s: %w", out.ResultPath, err)
	}

	doc := payload{
		JobID:            job.ID,
		Kind:             adapter.Kind(),
		Params:           adapter.PayloadParams(job),
		ContentStorePath: s.contentStorePath,
		SkillFile:        runner.SkillFile,
	}
	if adapter.Chainable() {
		chain, err := s.store.AncestorChain(ctx, job.ID, ancestorDepth)
		if err != nil {
			// Best effort: the skill still works without context.
			s.log.Warn("fetching ancestor chain failed, continuing without it", "job_id", job.ID, "error", err)
		}
		for _, anc := range chain {
			doc.Ancestors = append(doc.Ancestors, payloadAncestor{
				JobID:      anc.ID,
				Params:     anc.Params,
				DocumentID: anc.ResultRefID,
				ReplyText:  anc.ReplyText,
			})
		}
	}

	payloadPath := filepath.Join(runner.ResultDir, runID+".payload.json")
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return out, fmt.Errorf("encoding payload for job %s: %w", job.ID, err)
	}
	if err := os.WriteFile(payloadPath, raw, 0o600); err != nil {
		return out, fmt.Errorf("writing payload file %s: %w", payloadPath, err)
	}
	defer func() {
		if err := os.Remove(payloadPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("removing payload file failed", "path", payloadPath, "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, runner.Timeout)
	defer cancel()

	args := append(append([]string(nil), runner.Args...), payloadPath)
	cmd := exec.CommandContext(runCtx, runner.Program, args...)
	cmd.Dir = runner.WorkDir
	// Kill the whole process group at the deadline. Skill scripts fork
	// helpers; a surviving grandchild would hold the output pipes open and
	// stall the pumps past the kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Env = append(os.Environ(),
		"SKILL_FILE="+runner.SkillFile,
		"CONTENT_STORE_PATH="+s.contentStorePath,
		"RESULT_DIR="+runner.ResultDir,
		"RESULT_FILE="+out.ResultPath,
	)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return out, fmt.Errorf("opening stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return out, fmt.Errorf("opening stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return out, fmt.Errorf("starting %s: %w", runner.Program, err)
	}

	// One shared counter keeps batch indices globally ordered across both
	// streams and enforces the per-run persistence cap.
	var seq atomic.Int64
	stdoutPump := s.newPump(job.ID, runID, store.StreamStdout, nil, &seq)
	stderrPump := s.newPump(job.ID, runID, store.StreamStderr, stderrNoise, &seq)

	var g errgroup.Group
	g.Go(func() error {
		text, err := stdoutPump.drain(ctx, stdoutPipe)
		out.Stdout = text
		return err
	})
	g.Go(func() error {
		text, err := stderrPump.drain(ctx, stderrPipe)
		out.Stderr = text
		return err
	})

	// Killing the process closes its pipes, so the pumps always terminate;
	// they must be joined before Wait releases the pipe fds.
	pumpErr := g.Wait()
	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%w after %s (program %s)", ErrRunTimeout, runner.Timeout, runner.Program)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return out, fmt.Errorf("waiting for %s: %w", runner.Program, waitErr)
		}
		code := exitErr.ExitCode()
		out.ExitCode = &code
		out.Success = false
	} else {
		code := 0
		out.ExitCode = &code
		out.Success = true
	}

	if pumpErr != nil {
		return out, fmt.Errorf("capturing output of run %s: %w", runID, pumpErr)
	}
	return out, nil
}

func (s *Supervisor) newPump(jobID, runID, streamName string, filter lineFilter, seq *atomic.Int64) *chunkPump {
	return &chunkPump{
		store:    s.store,
		log:      s.log,
		streamer: s.streamer,
		jobID:    jobID,
		runID:    runID,
		stream:   streamName,
		filter:   filter,
		seq:      seq,
		maxChunk: s.maxChunksPerRun,
	}
}
