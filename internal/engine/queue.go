package engine

import (
	"context"
	"fmt"

	"github.com/lunehq/skillrunner/internal/config"
)

// queueCapacity bounds each kind's intake channel. Enqueue callers block once
// it is full; that backpressure is the only flow control the engine needs.
const queueCapacity = 128

// registration binds one job kind to its adapter, runner settings and
// dispatch queue.
type registration struct {
	adapter Adapter
	runner  config.Runner
	queue   chan string
}

// Register adds a job kind to the engine. Must be called before Start.
func (e *Engine) Register(adapter Adapter, runner config.Runner) {
	e.kinds[adapter.Kind()] = &registration{
		adapter: adapter,
		runner:  runner,
		queue:   make(chan string, queueCapacity),
	}
}

// Enqueue accepts a job id into its kind's FIFO queue. It blocks only when
// the queue is full, and returns early if ctx is cancelled first.
func (e *Engine) Enqueue(ctx context.Context, kind, jobID string) error {
	reg, ok := e.kinds[kind]
	if !ok {
		return fmt.Errorf("unknown job kind %q", kind)
	}
	select {
	case reg.queue <- jobID:
		JobsEnqueuedTotal.WithLabelValues(kind).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches one consumer goroutine per registered kind. Each consumer
// processes ids strictly in order: job N+1 of a kind does not begin until job
// N's full lifecycle has completed. Per-job failures never stop a consumer.
func (e *Engine) Start(ctx context.Context) {
	for _, reg := range e.kinds {
		reg := reg
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			log := e.log.With("kind", reg.adapter.Kind())
			log.Info("dispatch consumer started", "queue_capacity", queueCapacity)
			for {
				select {
				case <-ctx.Done():
					log.Info("dispatch consumer stopping")
					return
				case id := <-reg.queue:
					e.process(ctx, reg, id)
				}
			}
		}()
	}
}

// Wait blocks until all consumers have stopped after ctx cancellation.
func (e *Engine) Wait() {
	e.wg.Wait()
}
