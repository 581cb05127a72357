package handlers

import (
	"context"
	"time"

	"github.com/gemhq/gem/internal/engine"
	"github.com/gemhq/gem/pkg/models"
)

type osHandlers struct {
	deps *Deps
}

// healthCheck reports database connectivity. A failed ping is still a
// succeeded receipt; the verdict is about the report, not the database.
func (h *osHandlers) healthCheck(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	database := "ok"
	if err := h.deps.Store.Ping(ctx); err != nil {
		database = "error"
		h.deps.Logger.Warn(ctx, "health check ping failed", "error", err)
	}
	return models.Succeeded(map[string]any{
		"database": database,
		"time":     time.Now().UTC().Format(time.RFC3339),
	}), nil
}
