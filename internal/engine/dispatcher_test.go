package engine

import (
	"context"
	"testing"

	"github.com/gemhq/gem/pkg/models"
)

func noopHandler(ctx context.Context, call *Call) (*models.ToolOutcome, error) {
	return models.Succeeded(map[string]any{}), nil
}

func TestDispatcherRegisterAndResolve(t *testing.T) {
	d := NewDispatcher()
	if err := d.Register("leads.create", noopHandler); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	d.Seal()

	if d.Resolve("leads.create") == nil {
		t.Error("registered handler should resolve")
	}
	if d.Resolve("leads.delete") != nil {
		t.Error("unregistered name should resolve to nil")
	}
}

func TestDispatcherRejectsDuplicates(t *testing.T) {
	d := NewDispatcher()
	if err := d.Register("leads.create", noopHandler); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := d.Register("leads.create", noopHandler); err == nil {
		t.Error("duplicate registration should fail")
	}
}

func TestDispatcherSealBlocksRegistration(t *testing.T) {
	d := NewDispatcher()
	d.Seal()
	if err := d.Register("leads.create", noopHandler); err == nil {
		t.Error("registration after Seal should fail")
	}
}

func TestDispatcherRejectsNilHandler(t *testing.T) {
	d := NewDispatcher()
	if err := d.Register("leads.create", nil); err == nil {
		t.Error("nil handler should be rejected")
	}
}

func TestFuncName(t *testing.T) {
	tests := []struct {
		tool string
		want string
	}{
		{"leads.create", "create"},
		{"jobs.update_stage", "update_stage"},
		{"integrations.google_drive.search", "google_drive_search"},
		{"os.health_check", "health_check"},
	}
	for _, tt := range tests {
		if got := FuncName(tt.tool); got != tt.want {
			t.Errorf("FuncName(%q) = %q, want %q", tt.tool, got, tt.want)
		}
	}
}
