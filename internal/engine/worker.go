package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gemhq/gem/internal/observability"
	"github.com/gemhq/gem/internal/store"
)

// DefaultPollInterval is the sleep between empty claim attempts.
const DefaultPollInterval = 5 * time.Second

// Worker claims invocations one at a time and runs them through the engine.
// Multiple workers run in parallel; correctness comes from the store's claim
// protocol, not from coordination between workers.
type Worker struct {
	id      string
	engine  *Engine
	store   store.QueueStore
	poll    time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewWorker creates a worker with a generated id. A zero poll interval falls
// back to the default.
func NewWorker(eng *Engine, st store.QueueStore, poll time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Worker {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Worker{
		id:      "worker-" + uuid.NewString()[:8],
		engine:  eng,
		store:   st,
		poll:    poll,
		logger:  logger.WithFields("component", "worker"),
		metrics: metrics,
	}
}

// ID returns the worker's identity, stamped onto every row it claims.
func (w *Worker) ID() string {
	return w.id
}

// Run loops until ctx ends. After a successful claim the worker immediately
// tries again to drain backlog; it only sleeps when the queue is empty.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ctx, "worker started", "worker_id", w.id, "poll_interval", w.poll.String())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "worker stopping", "worker_id", w.id)
			return ctx.Err()
		case <-timer.C:
		}

		claimed, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error(ctx, "claim cycle failed", "worker_id", w.id, "error", err)
		}
		if claimed {
			timer.Reset(0)
		} else {
			timer.Reset(w.poll)
		}
	}
}

// RunOnce performs a single claim attempt and processes the row if one was
// claimed. Returns whether a row was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	inv, err := w.store.Claim(ctx, w.id)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if inv == nil {
		return false, nil
	}

	if w.metrics != nil {
		w.metrics.InvocationsClaimed.WithLabelValues(inv.ToolName).Inc()
	}
	w.logger.Info(ctx, "claimed invocation", "worker_id", w.id, "call_id", inv.CallID, "tool", inv.ToolName)

	if err := w.engine.Process(ctx, inv); err != nil {
		// Store-level failure; the row stays for the sweeper. The loop
		// itself survives every outcome.
		return true, fmt.Errorf("process %s: %w", inv.CallID, err)
	}
	return true, nil
}
