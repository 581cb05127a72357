// Package registry loads the tool catalogue from its embedded YAML document
// and exposes read-only accessors. The catalogue is frozen for the lifetime
// of the process; changing it requires a restart.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gemhq/gem/internal/schema"
)

//go:embed tools.yaml
var toolsYAML []byte

// IdempotencyMode controls how the engine deduplicates repeated invocations.
type IdempotencyMode string

const (
	IdempotencyNone      IdempotencyMode = "none"
	IdempotencySafeRetry IdempotencyMode = "safe-retry"
	IdempotencyKeyed     IdempotencyMode = "keyed"
)

// Idempotency describes a tool's dedup discipline.
type Idempotency struct {
	Mode     IdempotencyMode `yaml:"mode" json:"mode"`
	KeyField string          `yaml:"key_field" json:"key_field,omitempty"`
}

// Tool is one schema-bound operation in the catalogue.
type Tool struct {
	Name          string
	Description   string
	InputSchema   json.RawMessage
	OutputSchema  json.RawMessage
	Idempotency   Idempotency
	TimeoutMS     int
	Permissions   []string
	ReceiptFields []string
}

// Timeout returns the tool's hard execution deadline as a duration.
func (t *Tool) Timeout() time.Duration {
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

// Domain returns the leading segment of the tool name.
func (t *Tool) Domain() string {
	name, _, _ := strings.Cut(t.Name, ".")
	return name
}

// Registry is the immutable, ordered tool catalogue.
type Registry struct {
	tools  []*Tool
	byName map[string]*Tool
}

// Load parses and verifies the embedded catalogue. Any structural problem is
// a startup-fatal error.
func Load() (*Registry, error) {
	return load(toolsYAML)
}

// Parse loads a catalogue from an explicit YAML document instead of the
// embedded one.
func Parse(doc []byte) (*Registry, error) {
	return load(doc)
}

type toolDoc struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	TimeoutMS     int            `yaml:"timeout_ms"`
	Idempotency   Idempotency    `yaml:"idempotency"`
	Permissions   []string       `yaml:"permissions"`
	InputSchema   map[string]any `yaml:"input_schema"`
	OutputSchema  map[string]any `yaml:"output_schema"`
	ReceiptFields []string       `yaml:"receipt_fields"`
}

func load(doc []byte) (*Registry, error) {
	var parsed struct {
		Tools []toolDoc `yaml:"tools"`
	}
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("parse tool catalogue: %w", err)
	}
	if len(parsed.Tools) == 0 {
		return nil, fmt.Errorf("tool catalogue is empty")
	}

	validator := schema.NewValidator()
	reg := &Registry{byName: make(map[string]*Tool, len(parsed.Tools))}

	for _, td := range parsed.Tools {
		tool, err := buildTool(td, validator)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", td.Name, err)
		}
		if _, dup := reg.byName[tool.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", tool.Name)
		}
		reg.tools = append(reg.tools, tool)
		reg.byName[tool.Name] = tool
	}

	return reg, nil
}

func buildTool(td toolDoc, validator *schema.Validator) (*Tool, error) {
	if td.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if parts := strings.Split(td.Name, "."); len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("name must be domain.method or domain.sub.method")
	}
	if td.Description == "" {
		return nil, fmt.Errorf("missing description")
	}
	if td.TimeoutMS <= 0 {
		return nil, fmt.Errorf("timeout_ms must be positive")
	}

	switch td.Idempotency.Mode {
	case IdempotencyNone, IdempotencySafeRetry:
	case IdempotencyKeyed:
		if td.Idempotency.KeyField == "" {
			return nil, fmt.Errorf("keyed idempotency requires key_field")
		}
	case "":
		return nil, fmt.Errorf("missing idempotency mode")
	default:
		return nil, fmt.Errorf("unknown idempotency mode %q", td.Idempotency.Mode)
	}

	inputSchema, err := normalizeSchema(td.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("input_schema: %w", err)
	}
	outputSchema, err := normalizeSchema(td.OutputSchema)
	if err != nil {
		return nil, fmt.Errorf("output_schema: %w", err)
	}

	if _, err := validator.Compile(inputSchema); err != nil {
		return nil, fmt.Errorf("input_schema: %w", err)
	}
	if _, err := validator.Compile(outputSchema); err != nil {
		return nil, fmt.Errorf("output_schema: %w", err)
	}

	if td.Idempotency.Mode == IdempotencyKeyed {
		if err := requireField(td.InputSchema, td.Idempotency.KeyField); err != nil {
			return nil, err
		}
	}

	return &Tool{
		Name:          td.Name,
		Description:   td.Description,
		InputSchema:   inputSchema,
		OutputSchema:  outputSchema,
		Idempotency:   td.Idempotency,
		TimeoutMS:     td.TimeoutMS,
		Permissions:   td.Permissions,
		ReceiptFields: td.ReceiptFields,
	}, nil
}

// normalizeSchema converts the YAML schema document to JSON and applies the
// catalogue default: object schemas reject unknown properties unless the
// document says otherwise.
func normalizeSchema(doc map[string]any) (json.RawMessage, error) {
	if doc == nil {
		return nil, fmt.Errorf("missing schema")
	}
	if doc["type"] != "object" {
		return nil, fmt.Errorf("top-level schema must have type object")
	}
	if _, ok := doc["additionalProperties"]; !ok {
		doc["additionalProperties"] = false
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return out, nil
}

// requireField checks that the keyed tool's key_field is a declared, required
// input property.
func requireField(doc map[string]any, field string) error {
	props, _ := doc["properties"].(map[string]any)
	if _, ok := props[field]; !ok {
		return fmt.Errorf("key_field %q is not a declared input property", field)
	}
	required, _ := doc["required"].([]any)
	for _, r := range required {
		if r == field {
			return nil
		}
	}
	return fmt.Errorf("key_field %q must be a required input property", field)
}

// Get returns the tool definition for name.
func (r *Registry) Get(name string) (*Tool, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}

// All returns the catalogue in document order. Callers must not mutate the
// returned slice.
func (r *Registry) All() []*Tool {
	return r.tools
}

// DeclaresInputField reports whether the tool's input schema declares the
// named property. Used by the brain's context fill.
func (t *Tool) DeclaresInputField(field string) bool {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(t.InputSchema, &doc); err != nil {
		return false
	}
	_, ok := doc.Properties[field]
	return ok
}
