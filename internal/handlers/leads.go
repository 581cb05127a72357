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

type leadHandlers struct {
	deps *Deps
}

// create inserts a lead keyed on phone. Two workers can reach this insert
// with the same phone; the loser of the race treats the existing row as its
// result.
func (h *leadHandlers) create(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	lead := &store.Lead{
		ID:     uuid.NewString(),
		Name:   stringField(call.Input, "name"),
		Phone:  stringField(call.Input, "phone"),
		Suburb: stringField(call.Input, "suburb"),
		Source: stringField(call.Input, "source"),
		Email:  stringField(call.Input, "email"),
		Notes:  stringField(call.Input, "notes"),
		Status: "new",
	}

	err := h.deps.Store.InsertLead(ctx, lead)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, lookupErr := h.deps.Store.GetLeadByPhone(ctx, lead.Phone)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup existing lead: %w", lookupErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("lead with phone %s vanished after duplicate insert", lead.Phone)
		}
		h.deps.Logger.Info(ctx, "lead already exists, reusing", "lead_id", existing.ID)
		return models.Succeeded(map[string]any{
			"lead_id": existing.ID,
			"created": false,
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert lead: %w", err)
	}

	outcome := models.Succeeded(map[string]any{
		"lead_id": lead.ID,
		"created": true,
	})
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "leads", Op: "insert", RowID: lead.ID}}
	return outcome, nil
}

// updateStage maps the tool's stage field onto the table's status column.
func (h *leadHandlers) updateStage(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	leadID := stringField(call.Input, "lead_id")
	stage := stringField(call.Input, "stage")

	found, err := h.deps.Store.UpdateLeadStatus(ctx, leadID, stage)
	if err != nil {
		return nil, fmt.Errorf("update lead stage: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("lead %s not found", leadID)
	}

	outcome := models.Succeeded(map[string]any{
		"lead_id": leadID,
		"stage":   stage,
	})
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "leads", Op: "update", RowID: leadID}}
	return outcome, nil
}

func (h *leadHandlers) get(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	leadID := stringField(call.Input, "lead_id")

	lead, err := h.deps.Store.GetLead(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	if lead == nil {
		return nil, fmt.Errorf("lead %s not found", leadID)
	}

	return models.Succeeded(map[string]any{
		"lead_id": lead.ID,
		"name":    lead.Name,
		"phone":   lead.Phone,
		"suburb":  lead.Suburb,
		"stage":   lead.Status,
	}), nil
}
