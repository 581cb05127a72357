package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gemhq/gem/internal/engine"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

type inspectionHandlers struct {
	deps *Deps
}

func (h *inspectionHandlers) schedule(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	scheduledAt, ok := timeField(call.Input, "scheduled_at")
	if !ok {
		return nil, fmt.Errorf("scheduled_at is not a valid timestamp")
	}

	insp := &store.Inspection{
		ID:          uuid.NewString(),
		LeadID:      stringField(call.Input, "lead_id"),
		BookingRef:  stringField(call.Input, "booking_ref"),
		ScheduledAt: scheduledAt,
		Notes:       stringField(call.Input, "notes"),
		Status:      "scheduled",
	}

	err := h.deps.Store.InsertInspection(ctx, insp)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, lookupErr := h.deps.Store.GetInspectionByRef(ctx, insp.BookingRef)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup existing inspection: %w", lookupErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("inspection %s vanished after duplicate insert", insp.BookingRef)
		}
		return models.Succeeded(map[string]any{
			"inspection_id": existing.ID,
			"created":       false,
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert inspection: %w", err)
	}

	outcome := models.Succeeded(map[string]any{
		"inspection_id": insp.ID,
		"created":       true,
	})
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "inspections", Op: "insert", RowID: insp.ID}}
	return outcome, nil
}
