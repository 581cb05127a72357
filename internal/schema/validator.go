// Package schema validates tool payloads against the JSON-Schema documents
// carried by the registry. Both sides of the queue validate: the brain before
// enqueueing and the worker before dispatch.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError describes a payload that failed schema validation.
// Path is a JSON pointer into the offending part of the instance.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" || e.Path == "/" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator compiles and caches schemas by their serialized form.
type Validator struct {
	cache sync.Map // schema text -> *jsonschema.Schema
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Compile compiles a schema document, caching the result. The same document
// is compiled at most once per process.
func (v *Validator) Compile(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := v.cache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("schema.json", strings.NewReader(key)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache.Store(key, compiled)
	return compiled, nil
}

// Validate checks payload against schema. A nil return means the payload
// conforms. Schema compilation problems and malformed payloads are returned
// as *ValidationError too, so callers have a single failure shape.
func (v *Validator) Validate(schema, payload json.RawMessage) *ValidationError {
	compiled, err := v.Compile(schema)
	if err != nil {
		return &ValidationError{Message: err.Error()}
	}

	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return &ValidationError{Message: fmt.Sprintf("payload is not valid JSON: %v", err)}
	}

	if err := compiled.Validate(decoded); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toValidationError flattens the jsonschema error tree into the deepest
// leaf cause, which carries the most specific path and message.
func toValidationError(err error) *ValidationError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Message: err.Error()}
	}

	leaf := deepestCause(ve)
	path := leaf.InstanceLocation
	if path == "" {
		path = "/"
	}
	return &ValidationError{Path: path, Message: leaf.Message}
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
