package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gemhq/gem/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It mirrors the Postgres semantics that matter: claim mutual exclusion,
// the partial unique index on idempotency keys, one receipt per call, and
// unique natural keys on the domain tables.
type MemoryStore struct {
	mu sync.Mutex

	invocations map[string]*models.Invocation
	idemKeys    map[string]string // idempotency_key -> call_id
	receipts    map[string]*models.Receipt
	runs        map[string]*BrainRun

	leads       map[string]*Lead
	leadPhones  map[string]string // phone -> lead id
	inspections map[string]*Inspection
	inspRefs    map[string]string
	quotes      map[string]*Quote
	quoteRefs   map[string]string
	jobs        map[string]*Job
	jobRefs     map[string]string
	invoices    map[string]*Invoice
	invoiceRefs map[string]string
	messages    []*Message
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invocations: make(map[string]*models.Invocation),
		idemKeys:    make(map[string]string),
		receipts:    make(map[string]*models.Receipt),
		runs:        make(map[string]*BrainRun),
		leads:       make(map[string]*Lead),
		leadPhones:  make(map[string]string),
		inspections: make(map[string]*Inspection),
		inspRefs:    make(map[string]string),
		quotes:      make(map[string]*Quote),
		quoteRefs:   make(map[string]string),
		jobs:        make(map[string]*Job),
		jobRefs:     make(map[string]string),
		invoices:    make(map[string]*Invoice),
		invoiceRefs: make(map[string]string),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Enqueue inserts a queued invocation.
func (s *MemoryStore) Enqueue(ctx context.Context, inv *models.Invocation) error {
	if inv == nil {
		return fmt.Errorf("invocation is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invocations[inv.CallID]; exists {
		return ErrDuplicateKey
	}
	if inv.IdempotencyKey != "" {
		if _, exists := s.idemKeys[inv.IdempotencyKey]; exists {
			return ErrDuplicateKey
		}
	}

	now := time.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	inv.Status = models.StatusQueued
	if len(inv.Input) == 0 {
		inv.Input = json.RawMessage(`{}`)
	}

	stored := *inv
	s.invocations[inv.CallID] = &stored
	if inv.IdempotencyKey != "" {
		s.idemKeys[inv.IdempotencyKey] = inv.CallID
	}
	return nil
}

// Claim picks the oldest queued invocation and transitions it to running.
// The store mutex plays the role of the row lock.
func (s *MemoryStore) Claim(ctx context.Context, workerID string) (*models.Invocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *models.Invocation
	for _, inv := range s.invocations {
		if inv.Status != models.StatusQueued {
			continue
		}
		if oldest == nil || inv.CreatedAt.Before(oldest.CreatedAt) {
			oldest = inv
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := time.Now()
	oldest.Status = models.StatusRunning
	oldest.WorkerID = workerID
	oldest.ClaimedAt = &now
	oldest.UpdatedAt = now

	claimed := *oldest
	return &claimed, nil
}

// MarkTerminal transitions a running invocation to its terminal status.
func (s *MemoryStore) MarkTerminal(ctx context.Context, callID string, status models.InvocationStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invocations[callID]
	if !ok || inv.Status != models.StatusRunning {
		return fmt.Errorf("invocation %s is not running", callID)
	}
	inv.Status = status
	inv.Error = errMsg
	inv.UpdatedAt = time.Now()
	return nil
}

// GetInvocation fetches an invocation copy.
func (s *MemoryStore) GetInvocation(ctx context.Context, callID string) (*models.Invocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invocations[callID]
	if !ok {
		return nil, nil
	}
	copied := *inv
	return &copied, nil
}

// ListRunningClaimedBefore returns running invocations claimed before cutoff.
func (s *MemoryStore) ListRunningClaimedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Invocation, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Invocation
	for _, inv := range s.invocations {
		if inv.Status != models.StatusRunning || inv.ClaimedAt == nil {
			continue
		}
		if inv.ClaimedAt.Before(cutoff) {
			copied := *inv
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClaimedAt.Before(*out[j].ClaimedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertReceipt writes a receipt, enforcing one per call.
func (s *MemoryStore) InsertReceipt(ctx context.Context, r *models.Receipt) error {
	if r == nil {
		return fmt.Errorf("receipt is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[r.CallID]; exists {
		return ErrDuplicateKey
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if len(r.Result) == 0 {
		r.Result = json.RawMessage(`{}`)
	}
	stored := *r
	s.receipts[r.CallID] = &stored
	return nil
}

// GetReceiptByCall fetches the receipt for a call.
func (s *MemoryStore) GetReceiptByCall(ctx context.Context, callID string) (*models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[callID]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}

// FindReceiptByIdempotencyKey returns the earliest receipt whose invocation
// carried the key.
func (s *MemoryStore) FindReceiptByIdempotencyKey(ctx context.Context, key string) (*models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *models.Receipt
	for callID, inv := range s.invocations {
		if inv.IdempotencyKey != key {
			continue
		}
		r, ok := s.receipts[callID]
		if !ok {
			continue
		}
		if earliest == nil || r.CreatedAt.Before(earliest.CreatedAt) {
			earliest = r
		}
	}
	if earliest == nil {
		return nil, nil
	}
	copied := *earliest
	return &copied, nil
}

// FindSucceededKeyedReceipt returns the earliest succeeded receipt for
// toolName whose invocation input carried keyValue in keyField.
func (s *MemoryStore) FindSucceededKeyedReceipt(ctx context.Context, toolName, keyField, keyValue string) (*models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *models.Receipt
	for callID, inv := range s.invocations {
		if inv.ToolName != toolName {
			continue
		}
		var input map[string]any
		if err := json.Unmarshal(inv.Input, &input); err != nil {
			continue
		}
		value, _ := input[keyField].(string)
		if value != keyValue {
			continue
		}
		r, ok := s.receipts[callID]
		if !ok || r.Status != models.ReceiptSucceeded {
			continue
		}
		if earliest == nil || r.CreatedAt.Before(earliest.CreatedAt) {
			earliest = r
		}
	}
	if earliest == nil {
		return nil, nil
	}
	copied := *earliest
	return &copied, nil
}

// InsertBrainRun records a brain run.
func (s *MemoryStore) InsertBrainRun(ctx context.Context, run *BrainRun) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	stored := *run
	s.runs[run.RunID] = &stored
	return nil
}

// GetBrainRun fetches a recorded run. Test helper; the Postgres store has no
// read path for runs.
func (s *MemoryStore) GetBrainRun(runID string) (*BrainRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	copied := *run
	return &copied, true
}

// CountInvocations returns the number of queue rows. Test helper.
func (s *MemoryStore) CountInvocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invocations)
}

// CountReceipts returns the number of receipt rows. Test helper.
func (s *MemoryStore) CountReceipts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}
