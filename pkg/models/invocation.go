// Package models defines the wire types shared between the brain (router),
// the execution engine, and the HTTP API: invocations, receipts, effects,
// and the brain request/response envelope.
package models

import (
	"encoding/json"
	"time"
)

// InvocationStatus is the lifecycle state of a queued tool call.
// Status advances one way: queued -> running -> succeeded | failed.
type InvocationStatus string

const (
	StatusQueued    InvocationStatus = "queued"
	StatusRunning   InvocationStatus = "running"
	StatusSucceeded InvocationStatus = "succeeded"
	StatusFailed    InvocationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s InvocationStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Invocation is one attempt to execute a tool, identified by CallID.
// The brain writes these rows; workers own every transition after that.
type Invocation struct {
	CallID         string           `json:"call_id"`
	ToolName       string           `json:"tool_name"`
	Input          json.RawMessage  `json:"input"`
	Status         InvocationStatus `json:"status"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	WorkerID       string           `json:"worker_id,omitempty"`
	ClaimedAt      *time.Time       `json:"claimed_at,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
