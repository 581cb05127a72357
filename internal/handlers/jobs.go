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

type jobHandlers struct {
	deps *Deps
}

func (h *jobHandlers) create(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	quoteID := stringField(call.Input, "quote_id")
	quote, err := h.deps.Store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("get quote: %w", err)
	}
	if quote == nil {
		return nil, fmt.Errorf("quote %s not found", quoteID)
	}

	scheduledAt, ok := timeField(call.Input, "scheduled_at")
	if !ok {
		return nil, fmt.Errorf("scheduled_at is not a valid timestamp")
	}

	job := &store.Job{
		ID:          uuid.NewString(),
		QuoteID:     quoteID,
		JobRef:      stringField(call.Input, "job_ref"),
		ScheduledAt: scheduledAt,
		Status:      "scheduled",
	}

	err = h.deps.Store.InsertJob(ctx, job)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, lookupErr := h.deps.Store.GetJobByRef(ctx, job.JobRef)
		if lookupErr != nil {
			return nil, fmt.Errorf("lookup existing job: %w", lookupErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("job %s vanished after duplicate insert", job.JobRef)
		}
		return models.Succeeded(map[string]any{
			"job_id":  existing.ID,
			"created": false,
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	outcome := models.Succeeded(map[string]any{
		"job_id":  job.ID,
		"created": true,
	})
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "jobs", Op: "insert", RowID: job.ID}}
	return outcome, nil
}

func (h *jobHandlers) updateStage(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	jobID := stringField(call.Input, "job_id")
	stage := stringField(call.Input, "stage")

	found, err := h.deps.Store.UpdateJobStatus(ctx, jobID, stage)
	if err != nil {
		return nil, fmt.Errorf("update job stage: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("job %s not found", jobID)
	}

	outcome := models.Succeeded(map[string]any{
		"job_id": jobID,
		"stage":  stage,
	})
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "jobs", Op: "update", RowID: jobID}}
	return outcome, nil
}
