package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lunehq/skillrunner/internal/logging"
	"github.com/lunehq/skillrunner/internal/store"
	"github.com/lunehq/skillrunner/internal/stream"
)

// maxLineBytes bounds a single scanned output line. Skill scripts
// occasionally dump large JSON blobs on one line.
const maxLineBytes = 1024 * 1024

// lineFilter reports whether a line is known noise and should be dropped
// entirely: not persisted, not counted, not part of the accumulated text.
type lineFilter func(line string) bool

// stderrNoise drops the benign urllib3 warning that every skill script emits
// on macOS runners.
func stderrNoise(line string) bool {
	return strings.Contains(line, "NotOpenSSLWarning")
}

// chunkPump consumes one line-oriented process stream, accumulating the full
// text and persisting each accepted line as a sequence-numbered chunk until
// the per-run cap is reached. The batch counter is shared with the sibling
// pump on the other stream, so indices are globally ordered within a run.
type chunkPump struct {
	store    store.Store
	log      *logging.Logger
	streamer *stream.Streamer
	jobID    string
	runID    string
	stream   string
	filter   lineFilter
	seq      *atomic.Int64
	maxChunk int64
}

// drain reads until the stream closes and returns the newline-joined accepted
// text. Persistence failures are logged and do not interrupt the pump; a read
// failure returns the text captured so far alongside the error.
func (p *chunkPump) drain(ctx context.Context, r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var text strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if p.filter != nil && p.filter(line) {
			continue
		}
		if text.Len() > 0 {
			text.WriteByte('\n')
		}
		text.WriteString(line)

		if p.streamer != nil {
			p.streamer.Publish(p.jobID, p.stream, line)
		}
		p.persist(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		return text.String(), fmt.Errorf("reading %s of run %s: %w", p.stream, p.runID, err)
	}
	return text.String(), nil
}

func (p *chunkPump) persist(ctx context.Context, line string) {
	if p.seq.Load() >= p.maxChunk {
		return
	}
	// The counter may race past the cap between the check above and the
	// increment; the index check below keeps persisted chunks at the cap.
	idx := p.seq.Add(1) - 1
	if idx >= p.maxChunk {
		return
	}
	chunk := &store.Chunk{
		ID:         fmt.Sprintf("%s-%s-%d", p.runID, p.stream, idx),
		RunID:      p.runID,
		JobID:      p.jobID,
		Stream:     p.stream,
		BatchIndex: idx,
		Content:    line,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.store.AppendChunk(ctx, chunk); err != nil {
		p.log.Warn("persisting output chunk failed", "run_id", p.runID, "stream", p.stream, "batch_index", idx, "error", err)
		return
	}
	ChunksPersistedTotal.WithLabelValues(p.stream).Inc()
}
