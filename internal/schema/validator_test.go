package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

var leadSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"phone": {"type": "string", "minLength": 6},
		"suburb": {"type": "string"},
		"source": {"type": "string"},
		"stage": {"type": "string", "enum": ["new", "contacted", "quoted"]},
		"scheduled_at": {"type": "string", "format": "date-time"}
	},
	"required": ["name", "phone", "suburb", "source"],
	"additionalProperties": false
}`)

func TestValidateConformingPayload(t *testing.T) {
	v := NewValidator()

	payload := json.RawMessage(`{"name":"John","phone":"0412345678","suburb":"Clayton","source":"test"}`)
	if err := v.Validate(leadSchema, payload); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	v := NewValidator()

	payload := json.RawMessage(`{"name":"x"}`)
	err := v.Validate(leadSchema, payload)
	if err == nil {
		t.Fatal("Validate() = nil, want error for missing fields")
	}
	if !strings.Contains(err.Message, "phone") {
		t.Errorf("error %q should name the missing phone field", err.Message)
	}
}

func TestValidateRejectsAdditionalProperties(t *testing.T) {
	v := NewValidator()

	payload := json.RawMessage(`{"name":"John","phone":"0412345678","suburb":"Clayton","source":"test","extra":1}`)
	if err := v.Validate(leadSchema, payload); err == nil {
		t.Fatal("Validate() = nil, want error for additional property")
	}
}

func TestValidateEnumMembership(t *testing.T) {
	v := NewValidator()

	payload := json.RawMessage(`{"name":"John","phone":"0412345678","suburb":"Clayton","source":"test","stage":"bogus"}`)
	err := v.Validate(leadSchema, payload)
	if err == nil {
		t.Fatal("Validate() = nil, want enum error")
	}
	if !strings.Contains(err.Path, "stage") {
		t.Errorf("error path %q should point at stage", err.Path)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	v := NewValidator()

	payload := json.RawMessage(`{"name":1,"phone":"0412345678","suburb":"Clayton","source":"test"}`)
	err := v.Validate(leadSchema, payload)
	if err == nil {
		t.Fatal("Validate() = nil, want type error")
	}
	if !strings.Contains(err.Path, "name") {
		t.Errorf("error path %q should point at name", err.Path)
	}
}

func TestValidateDateTimeFormat(t *testing.T) {
	v := NewValidator()

	payload := json.RawMessage(`{"name":"John","phone":"0412345678","suburb":"Clayton","source":"test","scheduled_at":"not-a-date"}`)
	if err := v.Validate(leadSchema, payload); err == nil {
		t.Fatal("Validate() = nil, want date-time format error")
	}

	payload = json.RawMessage(`{"name":"John","phone":"0412345678","suburb":"Clayton","source":"test","scheduled_at":"2026-08-26T10:00:00Z"}`)
	if err := v.Validate(leadSchema, payload); err != nil {
		t.Fatalf("Validate() with valid date-time = %v, want nil", err)
	}
}

func TestValidateEmptyPayloadTreatedAsObject(t *testing.T) {
	v := NewValidator()

	empty := json.RawMessage(`{"type":"object","additionalProperties":false}`)
	if err := v.Validate(empty, nil); err != nil {
		t.Fatalf("Validate(nil payload) = %v, want nil", err)
	}
}

func TestValidateMalformedPayload(t *testing.T) {
	v := NewValidator()

	if err := v.Validate(leadSchema, json.RawMessage(`{`)); err == nil {
		t.Fatal("Validate() = nil, want error for malformed JSON")
	}
}

func TestCompileCachesSchemas(t *testing.T) {
	v := NewValidator()

	first, err := v.Compile(leadSchema)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	second, err := v.Compile(leadSchema)
	if err != nil {
		t.Fatalf("Compile() second error: %v", err)
	}
	if first != second {
		t.Error("Compile should return the cached schema on the second call")
	}
}

func TestCompileInvalidSchema(t *testing.T) {
	v := NewValidator()

	if _, err := v.Compile(json.RawMessage(`{"type": 12}`)); err == nil {
		t.Fatal("Compile() = nil, want error for invalid schema")
	}
}
