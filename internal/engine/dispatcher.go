// Package engine executes queued invocations: it claims rows, enforces
// idempotency, validates payloads, dispatches to handlers under a per-tool
// deadline, and seals exactly one receipt per invocation. The sweeper
// recovers rows whose worker died mid-flight.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/gemhq/gem/pkg/models"
)

// Call is what a handler receives: the claimed invocation, the decoded
// input, and the tool's registry metadata by name.
type Call struct {
	CallID   string
	ToolName string
	Input    map[string]any
}

// HandlerFunc executes one tool call. A returned error becomes a
// handler_error receipt; handlers signal not_configured through the outcome,
// not through an error.
type HandlerFunc func(ctx context.Context, call *Call) (*models.ToolOutcome, error)

// Dispatcher maps tool names to handler functions. Domain packages register
// their handlers at init; the table is frozen before workers start.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	sealed   bool
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a tool name. Registering after Seal or
// registering a name twice is a programming error.
func (d *Dispatcher) Register(name string, fn HandlerFunc) error {
	if d.sealed {
		return fmt.Errorf("dispatcher is sealed")
	}
	if fn == nil {
		return fmt.Errorf("handler for %q is nil", name)
	}
	if _, dup := d.handlers[name]; dup {
		return fmt.Errorf("handler %q already registered", name)
	}
	d.handlers[name] = fn
	return nil
}

// Seal freezes the table. Workers only ever read after this point, so no
// locking is needed on Resolve.
func (d *Dispatcher) Seal() {
	d.sealed = true
}

// Resolve returns the handler for name, or nil when none is registered.
// A registered tool without a handler is a not_configured outcome, decided
// by the engine.
func (d *Dispatcher) Resolve(name string) HandlerFunc {
	return d.handlers[name]
}

// Names returns the registered tool names, in no particular order.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// FuncName derives the conventional handler function name from a tool name:
// every segment after the domain, joined with underscores. For example
// integrations.google_drive.search maps to google_drive_search in the
// integrations package.
func FuncName(toolName string) string {
	_, rest, ok := strings.Cut(toolName, ".")
	if !ok {
		return toolName
	}
	return strings.ReplaceAll(rest, ".", "_")
}
