// Package validators provides the concrete JSON-Schema Validator
// implementation used by core.Router for handler input/output validation.
package validators

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/raffel-dev/raffel/core"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationResult is the outcome of a single Validate call. It is
// core.ValidationResult, so SchemaValidator satisfies core.Validator.
type ValidationResult = core.ValidationResult

// SchemaValidator is the gojsonschema-backed Validator. Compiled schemas are
// cached by their serialized form so repeated calls against the same
// HandlerDef schema do not re-parse it.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator returns a ready-to-use SchemaValidator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*gojsonschema.Schema)}
}

// Validate checks value against schema, returning a ValidationResult whose
// Violations are human-readable diagnostics suitable for an error's details.
func (v *SchemaValidator) Validate(schema, value json.RawMessage) (ValidationResult, error) {
	compiled, err := v.getSchema(schema)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("compile schema: %w", err)
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(value))
	if err != nil {
		return ValidationResult{}, fmt.Errorf("validate: %w", err)
	}

	if result.Valid() {
		return ValidationResult{OK: true}, nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return ValidationResult{OK: false, Violations: violations}, nil
}

// ToJSONSchema returns schema unchanged; gojsonschema schemas are already
// plain JSON Schema documents, so no translation step is needed.
func (v *SchemaValidator) ToJSONSchema(schema json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(schema) {
		return nil, fmt.Errorf("schema is not valid JSON")
	}
	return schema, nil
}

func (v *SchemaValidator) getSchema(schema json.RawMessage) (*gojsonschema.Schema, error) {
	key := string(schema)

	v.mu.Lock()
	defer v.mu.Unlock()

	if compiled, ok := v.cache[key]; ok {
		return compiled, nil
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, err
	}
	v.cache[key] = compiled
	return compiled, nil
}
