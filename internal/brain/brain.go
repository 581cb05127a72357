// Package brain is the router in front of the queue: it turns a typed
// request into validated invocations using an ordered rule table (with an
// optional LLM fallback that must produce the same artifact shape), enqueues
// them, and in waiting modes polls for receipts.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gemhq/gem/internal/observability"
	"github.com/gemhq/gem/internal/registry"
	"github.com/gemhq/gem/internal/schema"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

const (
	// DefaultWaitTimeout bounds the receipt poll when the caller gives none.
	DefaultWaitTimeout = 10 * time.Second

	// DefaultPollInterval is the receipt poll cadence.
	DefaultPollInterval = 500 * time.Millisecond
)

// contextFillFields are injected from the request context when the tool's
// schema declares them and extraction left them empty.
var contextFillFields = []string{"lead_id", "quote_id", "job_id", "invoice_id"}

// Brain plans and enqueues invocations. It writes only to the queue and the
// run audit, never to receipts or domain tables.
type Brain struct {
	store     store.Store
	registry  *registry.Registry
	validator *schema.Validator
	rules     []planRule
	planner   Planner // optional LLM fallback
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// New creates a brain. planner may be nil; metrics may be nil.
func New(st store.Store, reg *registry.Registry, planner Planner, logger *observability.Logger, metrics *observability.Metrics) *Brain {
	return &Brain{
		store:     st,
		registry:  reg,
		validator: schema.NewValidator(),
		rules:     defaultRules(),
		planner:   planner,
		logger:    logger.WithFields("component", "brain"),
		metrics:   metrics,
	}
}

// Run executes one brain request. A returned error means the request itself
// was malformed; planning and enqueue problems are reported inside the
// response instead.
func (b *Brain) Run(ctx context.Context, req *models.BrainRequest) (*models.BrainResponse, error) {
	if req == nil || req.Message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}

	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	response := &models.BrainResponse{
		RunID:    runID,
		Enqueued: []string{},
		Receipts: []models.Receipt{},
		Errors:   []string{},
	}

	planned, decision := b.plan(ctx, req)
	if req.Limits.MaxToolCalls > 0 && len(planned) > req.Limits.MaxToolCalls {
		planned = planned[:req.Limits.MaxToolCalls]
	}
	response.Decision = decision
	response.Planned = planned

	// Atomic-plan rule: one invalid candidate aborts the run before any
	// row is written.
	if errs := b.validatePlan(planned); len(errs) > 0 {
		response.Errors = append(response.Errors, errs...)
		b.finish(ctx, req, response)
		return response, nil
	}

	switch req.Mode {
	case models.ModeAnswer:
		response.OK = true
	case models.ModePlan:
		response.Decision.Reason += "; plan awaiting approval"
		response.OK = true
	case models.ModeEnqueue:
		b.enqueue(ctx, response)
	case models.ModeEnqueueAndWait:
		b.enqueue(ctx, response)
		b.waitForReceipts(ctx, req.Limits, response)
	}

	b.finish(ctx, req, response)
	return response, nil
}

// plan runs the rule table and falls back to the LLM planner when no rule
// produces a valid candidate.
func (b *Brain) plan(ctx context.Context, req *models.BrainRequest) ([]models.PlannedCall, models.Decision) {
	for _, rule := range b.rules {
		tool, ok := b.registry.Get(rule.tool)
		if !ok {
			continue
		}
		for _, pattern := range rule.patterns {
			groups, matched := namedGroups(pattern, req.Message)
			if !matched {
				continue
			}
			input := rule.extract(groups, req.Message, req.Context)
			b.fillContext(tool, input, req.Context)
			encoded, err := json.Marshal(input)
			if err != nil {
				continue
			}
			if verr := b.validator.Validate(tool.InputSchema, encoded); verr != nil {
				b.logger.Debug(ctx, "rule matched but input did not validate",
					"tool", rule.tool, "detail", verr.Error())
				continue
			}
			return []models.PlannedCall{{
					ToolName:   rule.tool,
					Input:      encoded,
					Confidence: rule.confidence,
				}}, models.Decision{
					Source: "rules",
					Reason: fmt.Sprintf("matched rule for %s", rule.tool),
				}
		}
	}

	if b.planner != nil {
		planned, reason, err := b.planner.Plan(ctx, req.Message, b.registry.All())
		if err != nil {
			b.logger.Warn(ctx, "llm planner failed", "error", err)
			return nil, models.Decision{Source: "none", Reason: "no rule matched and the language model planner failed"}
		}
		for i := range planned {
			b.fillContextRaw(&planned[i], req.Context)
		}
		return planned, models.Decision{Source: "llm", Reason: reason}
	}

	return nil, models.Decision{Source: "none", Reason: "no rule matched the message"}
}

// fillContext injects known entity ids from the request context, but only
// into fields the schema declares and extraction left empty.
func (b *Brain) fillContext(tool *registry.Tool, input map[string]any, reqCtx map[string]string) {
	for _, field := range contextFillFields {
		value := reqCtx[field]
		if value == "" || !tool.DeclaresInputField(field) {
			continue
		}
		if existing, ok := input[field].(string); ok && existing != "" {
			continue
		}
		if _, present := input[field]; present && input[field] != "" {
			continue
		}
		input[field] = value
	}
}

// fillContextRaw applies the context fill to an LLM-planned call.
func (b *Brain) fillContextRaw(call *models.PlannedCall, reqCtx map[string]string) {
	tool, ok := b.registry.Get(call.ToolName)
	if !ok {
		return
	}
	var input map[string]any
	if err := json.Unmarshal(call.Input, &input); err != nil {
		return
	}
	if input == nil {
		input = map[string]any{}
	}
	b.fillContext(tool, input, reqCtx)
	if encoded, err := json.Marshal(input); err == nil {
		call.Input = encoded
	}
}

// validatePlan checks every candidate against the registry.
func (b *Brain) validatePlan(planned []models.PlannedCall) []string {
	var errs []string
	for _, call := range planned {
		tool, ok := b.registry.Get(call.ToolName)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: unknown tool", call.ToolName))
			continue
		}
		if verr := b.validator.Validate(tool.InputSchema, call.Input); verr != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", call.ToolName, verr.Error()))
		}
	}
	return errs
}

// enqueue writes the planned invocations. Enqueue is best effort: a failure
// on call k does not roll back calls before it, and the response reports the
// partial result honestly.
func (b *Brain) enqueue(ctx context.Context, response *models.BrainResponse) {
	for _, call := range response.Planned {
		inv := &models.Invocation{
			CallID:         uuid.NewString(),
			ToolName:       call.ToolName,
			Input:          call.Input,
			IdempotencyKey: call.IdempotencyKey,
		}
		if err := b.store.Enqueue(ctx, inv); err != nil {
			response.Errors = append(response.Errors, fmt.Sprintf("enqueue %s: %v", call.ToolName, err))
			continue
		}
		if b.metrics != nil {
			b.metrics.InvocationsEnqueued.WithLabelValues(call.ToolName).Inc()
		}
		response.Enqueued = append(response.Enqueued, inv.CallID)
	}
	response.OK = len(response.Errors) == 0
}

// waitForReceipts polls until every enqueued call has a receipt or the wait
// budget runs out. The invocations keep running either way; only the caller
// stops waiting.
func (b *Brain) waitForReceipts(ctx context.Context, limits models.BrainLimits, response *models.BrainResponse) {
	waitTimeout := DefaultWaitTimeout
	if limits.WaitTimeoutMS > 0 {
		waitTimeout = time.Duration(limits.WaitTimeoutMS) * time.Millisecond
	}
	pollInterval := DefaultPollInterval
	if limits.PollIntervalMS > 0 {
		pollInterval = time.Duration(limits.PollIntervalMS) * time.Millisecond
	}

	deadline := time.NewTimer(waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	pending := make(map[string]bool, len(response.Enqueued))
	for _, callID := range response.Enqueued {
		pending[callID] = true
	}

	for len(pending) > 0 {
		for callID := range pending {
			receipt, err := b.store.GetReceiptByCall(ctx, callID)
			if err != nil {
				b.logger.Warn(ctx, "receipt poll failed", "call_id", callID, "error", err)
				continue
			}
			if receipt != nil {
				response.Receipts = append(response.Receipts, *receipt)
				delete(pending, callID)
			}
		}
		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			b.markPending(response, pending)
			return
		case <-deadline.C:
			b.markPending(response, pending)
			return
		case <-ticker.C:
		}
	}
}

func (b *Brain) markPending(response *models.BrainResponse, pending map[string]bool) {
	for callID := range pending {
		response.Pending = append(response.Pending, callID)
	}
	response.Errors = append(response.Errors,
		fmt.Sprintf("wait timed out with %d receipts still pending", len(pending)))
}

// finish records the audit row and the run metric. Audit is best effort.
func (b *Brain) finish(ctx context.Context, req *models.BrainRequest, response *models.BrainResponse) {
	status := "ok"
	if len(response.Errors) > 0 {
		status = "error"
	}
	if b.metrics != nil {
		b.metrics.BrainRuns.WithLabelValues(string(req.Mode), status).Inc()
	}

	run := &store.BrainRun{
		RunID:    response.RunID,
		Message:  req.Message,
		Mode:     string(req.Mode),
		Decision: mustJSON(response.Decision),
		Planned:  mustJSON(response.Planned),
		Enqueued: mustJSON(response.Enqueued),
		Receipts: mustJSON(response.Receipts),
		Status:   status,
		Errors:   mustJSON(response.Errors),
	}
	if err := b.store.InsertBrainRun(ctx, run); err != nil {
		b.logger.Warn(ctx, "brain run audit write failed", "error", err)
	}
	b.logger.Info(ctx, "brain run finished",
		"mode", string(req.Mode), "status", status,
		"planned", len(response.Planned), "enqueued", len(response.Enqueued))
}

func mustJSON(v any) json.RawMessage {
	encoded, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return encoded
}
