// Package store persists the invocation queue, receipts, the domain tables
// the handlers own, and the brain's audit trail. The Postgres implementation
// is authoritative; the memory implementation mirrors its semantics for
// tests, including claim mutual exclusion and unique constraints.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gemhq/gem/pkg/models"
)

// ErrDuplicateKey is returned when an insert violates a unique constraint:
// a reused idempotency key, a second receipt for a call, or a keyed domain
// row that already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// Store is the full persistence surface. The brain uses the queue, receipt
// reads, and the run audit; the engine uses the queue, receipts, and sweep;
// handlers use the domain accessors.
type Store interface {
	QueueStore
	ReceiptStore
	DomainStore
	RunStore

	Ping(ctx context.Context) error
	Close() error
}

// QueueStore manages invocation rows.
type QueueStore interface {
	// Enqueue inserts a queued invocation. Returns ErrDuplicateKey when the
	// idempotency key is already present.
	Enqueue(ctx context.Context, inv *models.Invocation) error

	// Claim atomically selects the oldest queued invocation, transitions it
	// to running, and stamps worker_id and claimed_at. Rows locked by other
	// transactions are skipped. Returns (nil, nil) when the queue is empty.
	Claim(ctx context.Context, workerID string) (*models.Invocation, error)

	// MarkTerminal transitions a running invocation to succeeded or failed.
	MarkTerminal(ctx context.Context, callID string, status models.InvocationStatus, errMsg string) error

	// GetInvocation fetches one invocation. Returns (nil, nil) when absent.
	GetInvocation(ctx context.Context, callID string) (*models.Invocation, error)

	// ListRunningClaimedBefore returns running invocations claimed before
	// cutoff, oldest first. The sweeper applies per-tool staleness on top.
	ListRunningClaimedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Invocation, error)
}

// ReceiptStore manages receipt rows. Receipts are immutable once written.
type ReceiptStore interface {
	// InsertReceipt writes a receipt. Returns ErrDuplicateKey when the call
	// already has one.
	InsertReceipt(ctx context.Context, r *models.Receipt) error

	// GetReceiptByCall fetches the receipt sealing callID. (nil, nil) when
	// the call is still in flight.
	GetReceiptByCall(ctx context.Context, callID string) (*models.Receipt, error)

	// FindReceiptByIdempotencyKey returns the earliest receipt whose
	// invocation carried the given idempotency key. (nil, nil) when none.
	FindReceiptByIdempotencyKey(ctx context.Context, key string) (*models.Receipt, error)

	// FindSucceededKeyedReceipt returns the earliest succeeded receipt for
	// toolName whose invocation input carried keyValue in keyField.
	FindSucceededKeyedReceipt(ctx context.Context, toolName, keyField, keyValue string) (*models.Receipt, error)
}

// RunStore persists the brain's audit records.
type RunStore interface {
	InsertBrainRun(ctx context.Context, run *BrainRun) error
}

// BrainRun is the audit record of one brain run.
type BrainRun struct {
	RunID     string
	Message   string
	Mode      string
	Decision  json.RawMessage
	Planned   json.RawMessage
	Enqueued  json.RawMessage
	Receipts  json.RawMessage
	Status    string
	Errors    json.RawMessage
	CreatedAt time.Time
}
