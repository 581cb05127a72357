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

type quoteHandlers struct {
	deps *Deps
}

func (h *quoteHandlers) create(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	quote := &store.Quote{
		ID:          uuid.NewString(),
		LeadID:      stringField(call.Input, "lead_id"),
		QuoteRef:    stringField(call.Input, "quote_ref"),
		Amount:      numberField(call.Input, "amount"),
		Description: stringField(call.Input, "description"),
		Status:      "draft",
	}

	err := h.deps.Store.InsertQuote(ctx, quote)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, lookupErr := h.deps.Store.GetQuoteByRef(ctx, quote.QuoteRef)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup existing quote: %w", lookupErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("quote %s vanished after duplicate insert", quote.QuoteRef)
		}
		return models.Succeeded(map[string]any{
			"quote_id": existing.ID,
			"created":  false,
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert quote: %w", err)
	}

	outcome := models.Succeeded(map[string]any{
		"quote_id": quote.ID,
		"created":  true,
	})
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "quotes", Op: "insert", RowID: quote.ID}}
	return outcome, nil
}

func (h *quoteHandlers) accept(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	quoteID := stringField(call.Input, "quote_id")

	found, err := h.deps.Store.UpdateQuoteStatus(ctx, quoteID, "accepted")
	if err != nil {
		return nil, fmt.Errorf("accept quote: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("quote %s not found", quoteID)
	}

	outcome := models.Succeeded(map[string]any{
		"quote_id": quoteID,
		"status":   "accepted",
	})
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "quotes", Op: "update", RowID: quoteID}}
	return outcome, nil
}
