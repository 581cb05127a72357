// Package handlers implements the domain tools behind the engine: CRM leads,
// inspections, quotes, jobs, invoices, and outbound communications. Handlers
// report outcomes; the engine owns receipts and timeouts.
package handlers

import (
	"fmt"
	"time"

	"github.com/gemhq/gem/internal/engine"
	"github.com/gemhq/gem/internal/observability"
	"github.com/gemhq/gem/internal/store"
)

// SMSConfig carries the SMS provider credentials. Empty fields turn
// comms.send_sms into a not_configured tool.
type SMSConfig struct {
	APIKey string
	From   string
}

// Configured reports whether the provider can be used.
func (c SMSConfig) Configured() bool {
	return c.APIKey != "" && c.From != ""
}

// EmailConfig carries the email provider credentials.
type EmailConfig struct {
	APIKey      string
	FromAddress string
}

// Configured reports whether the provider can be used.
func (c EmailConfig) Configured() bool {
	return c.APIKey != "" && c.FromAddress != ""
}

// Deps is everything the handlers share.
type Deps struct {
	Store  store.Store
	Logger *observability.Logger
	SMS    SMSConfig
	Email  EmailConfig
}

// Register binds every shipped handler to its tool name.
func Register(d *engine.Dispatcher, deps *Deps) error {
	if deps == nil || deps.Store == nil {
		return fmt.Errorf("handler deps require a store")
	}

	ops := &osHandlers{deps: deps}
	leads := &leadHandlers{deps: deps}
	inspections := &inspectionHandlers{deps: deps}
	quotes := &quoteHandlers{deps: deps}
	jobs := &jobHandlers{deps: deps}
	invoices := &invoiceHandlers{deps: deps}
	comms := &commsHandlers{deps: deps}

	bindings := []struct {
		name string
		fn   engine.HandlerFunc
	}{
		{"os.health_check", ops.healthCheck},
		{"leads.create", leads.create},
		{"leads.update_stage", leads.updateStage},
		{"leads.get", leads.get},
		{"inspections.schedule", inspections.schedule},
		{"quotes.create", quotes.create},
		{"quotes.accept", quotes.accept},
		{"jobs.create", jobs.create},
		{"jobs.update_stage", jobs.updateStage},
		{"invoices.create", invoices.create},
		{"invoices.mark_paid", invoices.markPaid},
		{"comms.send_sms", comms.sendSMS},
		{"comms.send_email", comms.sendEmail},
	}
	for _, binding := range bindings {
		if err := d.Register(binding.name, binding.fn); err != nil {
			return fmt.Errorf("register %s: %w", binding.name, err)
		}
	}
	return nil
}

// Input accessors. The engine validated the payload against the input
// schema before dispatch, so missing values mean optional fields.

func stringField(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

func numberField(input map[string]any, key string) float64 {
	v, _ := input[key].(float64)
	return v
}

func timeField(input map[string]any, key string) (time.Time, bool) {
	raw, ok := input[key].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
