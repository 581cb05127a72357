package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gemhq/gem/internal/observability"
	"github.com/gemhq/gem/internal/registry"
	"github.com/gemhq/gem/internal/retry"
	"github.com/gemhq/gem/internal/schema"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

// Config tunes the engine.
type Config struct {
	// ReceiptRetry bounds the retries around receipt writes. A receipt that
	// still cannot be written is left to the sweeper.
	ReceiptRetry retry.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ReceiptRetry: retry.Exponential(3, 100*time.Millisecond, 2*time.Second),
	}
}

// Engine runs the execution pipeline for claimed invocations. It is the sole
// writer of receipts; handlers only report outcomes.
type Engine struct {
	store      store.Store
	registry   *registry.Registry
	validator  *schema.Validator
	dispatcher *Dispatcher
	config     Config
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// New creates an engine. Metrics may be nil.
func New(st store.Store, reg *registry.Registry, dispatcher *Dispatcher, logger *observability.Logger, metrics *observability.Metrics, config Config) *Engine {
	if config.ReceiptRetry.MaxAttempts == 0 {
		config.ReceiptRetry = DefaultConfig().ReceiptRetry
	}
	return &Engine{
		store:      st,
		registry:   reg,
		validator:  schema.NewValidator(),
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		metrics:    metrics,
	}
}

// Process executes one claimed invocation end to end and seals its receipt.
// The invocation must be in running state. A returned error means the store
// failed and the row was left for the sweeper; handler failures are not
// errors, they are failed receipts.
func (e *Engine) Process(ctx context.Context, inv *models.Invocation) error {
	ctx = observability.WithCallID(ctx, inv.CallID)
	ctx = observability.WithTool(ctx, inv.ToolName)

	tool, ok := e.registry.Get(inv.ToolName)
	if !ok {
		e.logger.Warn(ctx, "unknown tool")
		return e.sealFailed(ctx, inv, models.ErrCodeUnknownTool,
			fmt.Sprintf("tool %q is not in the registry", inv.ToolName), "")
	}

	prior, err := e.priorReceipt(ctx, tool, inv)
	var missingKey *errMissingKey
	if errors.As(err, &missingKey) {
		return e.sealFailed(ctx, inv, models.ErrCodeValidationError, missingKey.Error(), "/"+missingKey.field)
	}
	if err != nil {
		e.logger.Error(ctx, "idempotency lookup failed", "error", err)
		return fmt.Errorf("idempotency lookup: %w", err)
	}
	if prior != nil {
		return e.sealFromPrior(ctx, inv, tool, prior)
	}

	if verr := e.validator.Validate(tool.InputSchema, inv.Input); verr != nil {
		return e.sealFailed(ctx, inv, models.ErrCodeValidationError, verr.Message, verr.Path)
	}

	handler := e.dispatcher.Resolve(tool.Name)
	if handler == nil {
		outcome := models.NotConfigured(
			fmt.Sprintf("no handler registered for %q", tool.Name),
			nil,
			[]string{fmt.Sprintf("implement and register a handler for %q", tool.Name)},
		)
		return e.seal(ctx, inv, tool, outcome)
	}

	outcome, execErr := e.execute(ctx, tool, inv, handler)
	if execErr != nil {
		code := models.ErrCodeHandlerError
		if errors.Is(execErr, context.DeadlineExceeded) {
			code = models.ErrCodeTimeout
			e.logger.Warn(ctx, "handler timed out", "timeout_ms", tool.TimeoutMS)
		} else {
			e.logger.Warn(ctx, "handler failed", "error", execErr)
		}
		return e.sealFailed(ctx, inv, code, execErr.Error(), "")
	}

	if outcome.Status == models.ReceiptSucceeded {
		e.checkOutputContract(ctx, tool, outcome)
	}
	return e.seal(ctx, inv, tool, outcome)
}

// execute races the handler against the tool's deadline. Handler panics are
// recovered into errors so one bad handler cannot take the worker down.
func (e *Engine) execute(ctx context.Context, tool *registry.Tool, inv *models.Invocation, handler HandlerFunc) (*models.ToolOutcome, error) {
	var input map[string]any
	if err := json.Unmarshal(inv.Input, &input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	call := &Call{CallID: inv.CallID, ToolName: inv.ToolName, Input: input}

	hctx, cancel := context.WithTimeout(ctx, tool.Timeout())
	defer cancel()

	type handlerResult struct {
		outcome *models.ToolOutcome
		err     error
	}
	done := make(chan handlerResult, 1)

	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		outcome, err := handler(hctx, call)
		done <- handlerResult{outcome: outcome, err: err}
	}()

	select {
	case <-hctx.Done():
		// The handler goroutine keeps running until it honours cancellation;
		// the engine stops waiting either way.
		return nil, fmt.Errorf("exceeded %dms deadline: %w", tool.TimeoutMS, context.DeadlineExceeded)
	case result := <-done:
		if e.metrics != nil {
			e.metrics.ExecutionDuration.WithLabelValues(tool.Name).Observe(time.Since(start).Seconds())
		}
		if result.err != nil {
			return nil, result.err
		}
		if result.outcome == nil {
			return nil, fmt.Errorf("handler returned no outcome")
		}
		return result.outcome, nil
	}
}

// checkOutputContract validates the result against the output schema and the
// tool's receipt_fields. Drift is logged, never downgraded: the handler is
// authoritative for its verdict.
func (e *Engine) checkOutputContract(ctx context.Context, tool *registry.Tool, outcome *models.ToolOutcome) {
	encoded, err := json.Marshal(outcome.Result)
	if err != nil {
		e.logger.Warn(ctx, "result is not encodable", "error", err)
		return
	}
	if verr := e.validator.Validate(tool.OutputSchema, encoded); verr != nil {
		e.logger.Warn(ctx, "result drifts from output schema", "path", verr.Path, "detail", verr.Message)
	}
	for _, field := range tool.ReceiptFields {
		if !hasDottedPath(outcome.Result, field) {
			e.logger.Warn(ctx, "receipt field missing from result", "field", field)
		}
	}
}

// sealFromPrior answers the invocation from an earlier receipt. A new
// receipt is written for this call_id, carrying the prior result and an
// idempotency_hit marker, so every terminal invocation keeps exactly one
// receipt of its own.
func (e *Engine) sealFromPrior(ctx context.Context, inv *models.Invocation, tool *registry.Tool, prior *models.Receipt) error {
	if e.metrics != nil {
		e.metrics.IdempotencyHits.WithLabelValues(tool.Name, string(tool.Idempotency.Mode)).Inc()
	}
	e.logger.Info(ctx, "reusing prior receipt", "prior_call_id", prior.CallID, "mode", string(tool.Idempotency.Mode))

	receipt := &models.Receipt{
		ID:       uuid.NewString(),
		CallID:   inv.CallID,
		ToolName: inv.ToolName,
		Status:   prior.Status,
		Result:   prior.Result,
		Effects:  models.Effects{IdempotencyHit: true},
	}
	return e.writeAndFlip(ctx, inv, receipt)
}

// seal writes the receipt for a fresh outcome and flips the queue row.
func (e *Engine) seal(ctx context.Context, inv *models.Invocation, tool *registry.Tool, outcome *models.ToolOutcome) error {
	receipt := &models.Receipt{
		ID:       uuid.NewString(),
		CallID:   inv.CallID,
		ToolName: inv.ToolName,
		Status:   outcome.Status,
		Effects:  outcome.Effects,
	}

	switch outcome.Status {
	case models.ReceiptNotConfigured:
		body := models.NotConfiguredResult{
			Reason:      outcome.Reason,
			RequiredEnv: outcome.RequiredEnv,
			NextSteps:   outcome.NextSteps,
		}
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode not_configured result: %w", err)
		}
		receipt.Result = encoded
	default:
		encoded, err := json.Marshal(outcome.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		receipt.Result = encoded
	}

	return e.writeAndFlip(ctx, inv, receipt)
}

// sealFailed seals the invocation with a failed receipt carrying a
// structured error.
func (e *Engine) sealFailed(ctx context.Context, inv *models.Invocation, code, message, path string) error {
	body := models.FailedResult{Error: models.ErrorDetail{Code: code, Message: message, Path: path}}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode error result: %w", err)
	}
	receipt := &models.Receipt{
		ID:       uuid.NewString(),
		CallID:   inv.CallID,
		ToolName: inv.ToolName,
		Status:   models.ReceiptFailed,
		Result:   encoded,
	}
	return e.writeAndFlip(ctx, inv, receipt)
}

// writeAndFlip writes the receipt (retried, the write is the invariant that
// matters) and then transitions the queue row to its terminal status. If the
// receipt cannot be written the row stays running and the sweeper takes over.
func (e *Engine) writeAndFlip(ctx context.Context, inv *models.Invocation, receipt *models.Receipt) error {
	result := retry.Do(ctx, e.config.ReceiptRetry, func() error {
		err := e.store.InsertReceipt(ctx, receipt)
		if errors.Is(err, store.ErrDuplicateKey) {
			return retry.Permanent(err)
		}
		return err
	})
	switch {
	case result.Err == nil:
		if e.metrics != nil {
			e.metrics.ReceiptsSealed.WithLabelValues(inv.ToolName, string(receipt.Status)).Inc()
		}
	case errors.Is(result.Err, store.ErrDuplicateKey):
		// A receipt already seals this call, likely the sweeper's
		// receipt-first worker_lost write landing mid-execution. The existing
		// receipt wins; the row must flip to match it, not this verdict.
		existing, gerr := e.store.GetReceiptByCall(ctx, inv.CallID)
		if gerr != nil {
			return fmt.Errorf("fetch sealing receipt: %w", gerr)
		}
		if existing == nil {
			return fmt.Errorf("receipt for %s already exists but cannot be read", inv.CallID)
		}
		e.logger.Warn(ctx, "call already sealed, adopting existing verdict",
			"sealed_status", string(existing.Status))
		receipt = existing
	default:
		e.logger.Error(ctx, "receipt write failed, leaving row for sweeper",
			"error", result.Err, "attempts", result.Attempts)
		return fmt.Errorf("write receipt: %w", result.Err)
	}

	terminal := terminalStatus(receipt.Status)
	errMsg := ""
	if terminal == models.StatusFailed {
		errMsg = receiptErrorMessage(receipt)
	}
	if err := e.store.MarkTerminal(ctx, inv.CallID, terminal, errMsg); err != nil {
		// The receipt exists, so the invariant holds; the sweeper or a
		// later pass resolves the row.
		e.logger.Error(ctx, "terminal transition failed", "error", err, "status", string(terminal))
		return fmt.Errorf("mark terminal: %w", err)
	}

	e.logger.Info(ctx, "invocation sealed", "status", string(receipt.Status))
	return nil
}

// terminalStatus maps a receipt verdict onto the queue row's terminal state.
// not_configured counts as failed: the requested work did not happen.
func terminalStatus(status models.ReceiptStatus) models.InvocationStatus {
	if status == models.ReceiptSucceeded {
		return models.StatusSucceeded
	}
	return models.StatusFailed
}

// receiptErrorMessage extracts a short error string for the queue row.
func receiptErrorMessage(receipt *models.Receipt) string {
	if receipt.Status == models.ReceiptNotConfigured {
		return "not_configured"
	}
	var body models.FailedResult
	if err := json.Unmarshal(receipt.Result, &body); err == nil && body.Error.Code != "" {
		msg := body.Error.Code
		if body.Error.Message != "" {
			msg += ": " + body.Error.Message
		}
		return msg
	}
	return string(models.ReceiptFailed)
}

// hasDottedPath reports whether the dotted path resolves to a value in the
// result map.
func hasDottedPath(result map[string]any, path string) bool {
	current := any(result)
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		current, ok = m[segment]
		if !ok {
			return false
		}
	}
	return true
}
