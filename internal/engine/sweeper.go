package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gemhq/gem/internal/observability"
	"github.com/gemhq/gem/internal/registry"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

const (
	// DefaultSweepInterval is the pause between sweeps.
	DefaultSweepInterval = time.Minute

	// DefaultStalenessFloor is the minimum age of a claim before the
	// sweeper will touch it, regardless of how short the tool's timeout is.
	DefaultStalenessFloor = time.Minute

	sweepBatchSize = 100
)

// Sweeper recovers invocations stuck in running because their worker died
// between claim and receipt. It writes the worker_lost receipt BEFORE
// flipping the row: reversing the order would let a crash here leave a
// failed row with no receipt.
type Sweeper struct {
	store    store.Store
	registry *registry.Registry
	interval time.Duration
	floor    time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewSweeper creates a sweeper. Zero interval and floor fall back to the
// defaults.
func NewSweeper(st store.Store, reg *registry.Registry, interval, floor time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if floor <= 0 {
		floor = DefaultStalenessFloor
	}
	return &Sweeper{
		store:    st,
		registry: reg,
		interval: interval,
		floor:    floor,
		logger:   logger.WithFields("component", "sweeper"),
		metrics:  metrics,
	}
}

// Run sweeps on a ticker until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info(ctx, "sweeper started", "interval", s.interval.String(), "floor", s.floor.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			reclaimed, err := s.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error(ctx, "sweep failed", "error", err)
			}
			if reclaimed > 0 {
				s.logger.Info(ctx, "reclaimed stale invocations", "count", reclaimed)
			}
		}
	}
}

// Sweep performs one pass and returns how many rows it sealed as lost.
// The store query uses the coarse floor cutoff; the per-tool staleness bound
// of max(2 x timeout, floor) is applied here, where the registry is at hand.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.floor)
	stale, err := s.store.ListRunningClaimedBefore(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale running: %w", err)
	}

	reclaimed := 0
	for _, inv := range stale {
		if inv.ClaimedAt == nil {
			continue
		}
		if time.Since(*inv.ClaimedAt) < s.staleness(inv.ToolName) {
			continue
		}
		if err := s.reclaim(ctx, inv); err != nil {
			s.logger.Error(ctx, "reclaim failed", "call_id", inv.CallID, "error", err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

// staleness returns the bound for a tool: twice its timeout, never below the
// floor. Unknown tools get the floor.
func (s *Sweeper) staleness(toolName string) time.Duration {
	bound := s.floor
	if tool, ok := s.registry.Get(toolName); ok {
		if doubled := 2 * tool.Timeout(); doubled > bound {
			bound = doubled
		}
	}
	return bound
}

func (s *Sweeper) reclaim(ctx context.Context, inv *models.Invocation) error {
	ctx = observability.WithCallID(ctx, inv.CallID)

	body := models.FailedResult{Error: models.ErrorDetail{
		Code:    models.ErrCodeWorkerLost,
		Message: fmt.Sprintf("worker %s never sealed this call; claim is stale", inv.WorkerID),
	}}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode worker_lost result: %w", err)
	}

	receipt := &models.Receipt{
		ID:       uuid.NewString(),
		CallID:   inv.CallID,
		ToolName: inv.ToolName,
		Status:   models.ReceiptFailed,
		Result:   encoded,
	}
	terminal := models.StatusFailed
	errMsg := models.ErrCodeWorkerLost
	if err := s.store.InsertReceipt(ctx, receipt); err != nil {
		if !errors.Is(err, store.ErrDuplicateKey) {
			return fmt.Errorf("write worker_lost receipt: %w", err)
		}
		// The worker sealed the call after all; flip the row to match the
		// receipt it wrote.
		s.logger.Warn(ctx, "receipt appeared during sweep, flipping row only")
		existing, gerr := s.store.GetReceiptByCall(ctx, inv.CallID)
		if gerr != nil {
			return fmt.Errorf("fetch sealing receipt: %w", gerr)
		}
		if existing != nil && existing.Status == models.ReceiptSucceeded {
			terminal = models.StatusSucceeded
			errMsg = ""
		}
	}

	if err := s.store.MarkTerminal(ctx, inv.CallID, terminal, errMsg); err != nil {
		return fmt.Errorf("mark lost invocation failed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SweeperReclaimed.WithLabelValues(inv.ToolName).Inc()
	}
	s.logger.Warn(ctx, "sealed lost invocation", "tool", inv.ToolName, "worker_id", inv.WorkerID)
	return nil
}
