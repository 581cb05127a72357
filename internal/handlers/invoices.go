package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gemhq/gem/internal/engine"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

type invoiceHandlers struct {
	deps *Deps
}

func (h *invoiceHandlers) create(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	jobID := stringField(call.Input, "job_id")
	job, err := h.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s not found", jobID)
	}

	invoice := &store.Invoice{
		ID:         uuid.NewString(),
		JobID:      jobID,
		InvoiceRef: stringField(call.Input, "invoice_ref"),
		Amount:     numberField(call.Input, "amount"),
		Status:     "issued",
	}
	if dueAt, ok := timeField(call.Input, "due_at"); ok {
		invoice.DueAt = &dueAt
	}

	err = h.deps.Store.InsertInvoice(ctx, invoice)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, lookupErr := h.deps.Store.GetInvoiceByRef(ctx, invoice.InvoiceRef)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup existing invoice: %w", lookupErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("invoice %s vanished after duplicate insert", invoice.InvoiceRef)
		}
		return models.Succeeded(map[string]any{
			"invoice_id": existing.ID,
			"created":    false,
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	outcome := models.Succeeded(map[string]any{
		"invoice_id": invoice.ID,
		"created":    true,
	})
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "invoices", Op: "insert", RowID: invoice.ID}}
	return outcome, nil
}

// markPaid records payment. Re-running it on a paid invoice is harmless,
// which is what makes the tool safe-retry.
func (h *invoiceHandlers) markPaid(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	invoiceID := stringField(call.Input, "invoice_id")

	paidAt, ok := timeField(call.Input, "paid_at")
	if !ok {
		paidAt = time.Now().UTC()
	}

	found, err := h.deps.Store.MarkInvoicePaid(ctx, invoiceID, paidAt)
	if err != nil {
		return nil, fmt.Errorf("mark invoice paid: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("invoice %s not found", invoiceID)
	}

	outcome := models.Succeeded(map[string]any{
		"invoice_id": invoiceID,
		"status":     "paid",
	})
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "invoices", Op: "update", RowID: invoiceID}}
	return outcome, nil
}
