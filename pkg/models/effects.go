package models

// Effects is the structured audit of side effects a handler performed.
// Entries are informational; the engine does not reconcile them against
// actual writes.
type Effects struct {
	DBWrites       []DBWrite      `json:"db_writes,omitempty"`
	MessagesSent   []MessageSent  `json:"messages_sent,omitempty"`
	FilesWritten   []FileWrite    `json:"files_written,omitempty"`
	ExternalCalls  []ExternalCall `json:"external_calls,omitempty"`
	IdempotencyHit bool           `json:"idempotency_hit,omitempty"`
}

// DBWrite records one row-level mutation performed by a handler.
type DBWrite struct {
	Table string `json:"table"`
	Op    string `json:"op"` // insert | update | delete
	RowID string `json:"row_id,omitempty"`
}

// MessageSent records an outbound message (SMS, email).
type MessageSent struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	MessageID string `json:"message_id,omitempty"`
}

// FileWrite records a file created or modified by a handler.
type FileWrite struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes,omitempty"`
}

// ExternalCall records an outbound call to a third-party service.
type ExternalCall struct {
	Service string `json:"service"`
	Method  string `json:"method,omitempty"`
	Status  string `json:"status,omitempty"`
}
