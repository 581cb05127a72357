package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

// webhookEvent is the delivery envelope every source posts.
type webhookEvent struct {
	Type       string         `json:"type"`
	ExternalID string         `json:"external_id"`
	Data       map[string]any `json:"data"`
}

// webhookRoute maps one event type to one tool invocation.
type webhookRoute struct {
	tool  string
	build func(data map[string]any) map[string]any
}

// webhookRoutes is the fixed event->tool table, keyed by source then event
// type. Events absent from the table are acknowledged and dropped.
var webhookRoutes = map[string]map[string]webhookRoute{
	"ghl": {
		"ContactCreate": {
			tool: "leads.create",
			build: func(data map[string]any) map[string]any {
				input := map[string]any{
					"name":   dataString(data, "name"),
					"phone":  dataString(data, "phone"),
					"suburb": dataString(data, "suburb"),
					"source": "ghl",
				}
				if email := dataString(data, "email"); email != "" {
					input["email"] = email
				}
				return input
			},
		},
		// An inbound message from a known contact marks the lead contacted.
		"InboundMessage": {
			tool: "leads.update_stage",
			build: func(data map[string]any) map[string]any {
				return map[string]any{
					"lead_id": dataString(data, "contact_id"),
					"stage":   "contacted",
				}
			},
		},
	},
}

func dataString(data map[string]any, key string) string {
	value, _ := data[key].(string)
	return strings.TrimSpace(value)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.webhookOutcome(source, "rejected")
		s.writeError(w, http.StatusBadRequest, "read body")
		return
	}

	if secret := s.config.WebhookSecrets[source]; secret != "" {
		if !verifySignature(body, r.Header.Get(SignatureHeader), secret) {
			s.logger.Warn(r.Context(), "webhook signature rejected", "source", source)
			s.webhookOutcome(source, "rejected")
			s.writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.webhookOutcome(source, "rejected")
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode event: %v", err))
		return
	}
	if event.Type == "" || event.ExternalID == "" {
		s.webhookOutcome(source, "rejected")
		s.writeError(w, http.StatusBadRequest, "type and external_id are required")
		return
	}

	route, ok := webhookRoutes[source][event.Type]
	if !ok {
		s.logger.Debug(r.Context(), "webhook event ignored", "source", source, "type", event.Type)
		s.webhookOutcome(source, "ignored")
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	tool, ok := s.registry.Get(route.tool)
	if !ok {
		s.webhookOutcome(source, "rejected")
		s.writeError(w, http.StatusInternalServerError, "webhook route names an unknown tool")
		return
	}

	input, err := json.Marshal(route.build(event.Data))
	if err != nil {
		s.webhookOutcome(source, "rejected")
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("encode input: %v", err))
		return
	}
	if verr := s.validator.Validate(tool.InputSchema, input); verr != nil {
		s.webhookOutcome(source, "rejected")
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %s", route.tool, verr.Error()))
		return
	}

	inv := &models.Invocation{
		CallID:         uuid.NewString(),
		ToolName:       route.tool,
		Input:          input,
		IdempotencyKey: fmt.Sprintf("%s-%s-%s", source, event.Type, event.ExternalID),
	}
	if err := s.store.Enqueue(r.Context(), inv); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			s.webhookOutcome(source, "duplicate")
			s.writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
		s.logger.Error(r.Context(), "webhook enqueue failed", "source", source, "error", err)
		s.webhookOutcome(source, "rejected")
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	s.logger.Info(r.Context(), "webhook enqueued",
		"source", source, "type", event.Type, "tool", route.tool, "call_id", inv.CallID)
	s.webhookOutcome(source, "enqueued")
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "enqueued", "call_id": inv.CallID})
}

func (s *Server) webhookOutcome(source, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookDeliveries.WithLabelValues(source, outcome).Inc()
	}
}

func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
