package models

import "encoding/json"

// BrainMode selects how far a brain run takes its plan.
type BrainMode string

const (
	ModeAnswer         BrainMode = "answer"
	ModePlan           BrainMode = "plan"
	ModeEnqueue        BrainMode = "enqueue"
	ModeEnqueueAndWait BrainMode = "enqueue_and_wait"
)

// Valid reports whether the mode is one of the four recognised modes.
func (m BrainMode) Valid() bool {
	switch m {
	case ModeAnswer, ModePlan, ModeEnqueue, ModeEnqueueAndWait:
		return true
	}
	return false
}

// BrainLimits bounds a single brain run.
type BrainLimits struct {
	// MaxToolCalls caps the plan length. Excess candidates are silently
	// truncated. Zero means unlimited.
	MaxToolCalls int `json:"max_tool_calls,omitempty"`

	// WaitTimeoutMS bounds the receipt poll in enqueue_and_wait mode.
	WaitTimeoutMS int `json:"wait_timeout_ms,omitempty"`

	// PollIntervalMS is the receipt poll interval. Defaults to 500.
	PollIntervalMS int `json:"poll_interval_ms,omitempty"`
}

// BrainRequest is the typed request the brain accepts.
type BrainRequest struct {
	Message string            `json:"message"`
	Mode    BrainMode         `json:"mode"`
	Context map[string]string `json:"context,omitempty"`
	Limits  BrainLimits       `json:"limits,omitempty"`
}

// PlannedCall is one candidate invocation produced by the planner.
type PlannedCall struct {
	ToolName       string          `json:"tool_name"`
	Input          json.RawMessage `json:"input"`
	Confidence     float64         `json:"confidence,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Decision explains how the plan was produced.
type Decision struct {
	Source string `json:"source"` // rules | llm | none
	Reason string `json:"reason"`
}

// BrainResponse is the typed response of a brain run.
type BrainResponse struct {
	OK       bool          `json:"ok"`
	RunID    string        `json:"run_id"`
	Decision Decision      `json:"decision"`
	Planned  []PlannedCall `json:"planned"`
	Enqueued []string      `json:"enqueued"`
	Receipts []Receipt     `json:"receipts"`
	Pending  []string      `json:"pending,omitempty"`
	Errors   []string      `json:"errors"`
}
