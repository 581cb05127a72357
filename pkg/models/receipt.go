package models

import (
	"encoding/json"
	"time"
)

// ReceiptStatus is the terminal verdict sealed into a receipt.
type ReceiptStatus string

const (
	ReceiptSucceeded     ReceiptStatus = "succeeded"
	ReceiptFailed        ReceiptStatus = "failed"
	ReceiptNotConfigured ReceiptStatus = "not_configured"
)

// Error codes carried inside a failed receipt's result.error.code field.
const (
	ErrCodeUnknownTool     = "unknown_tool"
	ErrCodeValidationError = "validation_error"
	ErrCodeTimeout         = "timeout"
	ErrCodeHandlerError    = "handler_error"
	ErrCodeWorkerLost      = "worker_lost"
	ErrCodeDBError         = "db_error"
)

// Receipt is the immutable record sealing an invocation. Exactly one receipt
// exists per terminal invocation; the database enforces uniqueness on CallID.
type Receipt struct {
	ID        string          `json:"id"`
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Status    ReceiptStatus   `json:"status"`
	Result    json.RawMessage `json:"result"`
	Effects   Effects         `json:"effects"`
	CreatedAt time.Time       `json:"created_at"`
}

// ErrorDetail is the structured error embedded in a failed receipt's result.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// NotConfiguredResult is the result body of a not_configured receipt.
type NotConfiguredResult struct {
	Reason      string   `json:"reason"`
	RequiredEnv []string `json:"required_env"`
	NextSteps   []string `json:"next_steps"`
}

// FailedResult wraps an ErrorDetail as the result body of a failed receipt.
type FailedResult struct {
	Error ErrorDetail `json:"error"`
}
