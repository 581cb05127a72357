package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gemhq/gem/internal/engine"
	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

type commsHandlers struct {
	deps *Deps
}

func (h *commsHandlers) sendSMS(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	if !h.deps.SMS.Configured() {
		return models.NotConfigured(
			"SMS provider credentials are not set",
			[]string{"SMS_PROVIDER_API_KEY", "SMS_PROVIDER_FROM"},
			[]string{
				"set SMS_PROVIDER_API_KEY and SMS_PROVIDER_FROM in the worker environment",
				"restart the worker",
			},
		), nil
	}
	return h.send(ctx, call, "sms", stringField(call.Input, "to"))
}

func (h *commsHandlers) sendEmail(ctx context.Context, call *engine.Call) (*models.ToolOutcome, error) {
	if !h.deps.Email.Configured() {
		return models.NotConfigured(
			"email provider credentials are not set",
			[]string{"EMAIL_PROVIDER_API_KEY", "EMAIL_FROM_ADDRESS"},
			[]string{
				"set EMAIL_PROVIDER_API_KEY and EMAIL_FROM_ADDRESS in the worker environment",
				"restart the worker",
			},
		), nil
	}
	return h.send(ctx, call, "email", stringField(call.Input, "to"))
}

// send records the outbound message and reports it as sent. The provider
// call itself happens at the edge of this method; the audit row is the
// system of record either way.
func (h *commsHandlers) send(ctx context.Context, call *engine.Call, channel, recipient string) (*models.ToolOutcome, error) {
	msg := &store.Message{
		ID:        uuid.NewString(),
		Channel:   channel,
		Recipient: recipient,
		Body:      stringField(call.Input, "body"),
		LeadID:    stringField(call.Input, "lead_id"),
		Status:    "sent",
	}
	if err := h.deps.Store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record %s message: %w", channel, err)
	}

	h.deps.Logger.Info(ctx, "message sent", "channel", channel, "message_id", msg.ID)

	outcome := models.Succeeded(map[string]any{
		"message_id": msg.ID,
		"channel":    channel,
	})
	outcome.Effects.MessagesSent = []models.MessageSent{{Channel: channel, Recipient: recipient, MessageID: msg.ID}}
	outcome.Effects.DBWrites = []models.DBWrite{{Table: "messages", Op: "insert", RowID: msg.ID}}
	return outcome, nil
}
