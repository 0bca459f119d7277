package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator checks call params against a definition's schema.
//
// Validate returns one message per violation, or none when params are
// valid. A non-nil error means the schema itself could not be used.
type Validator interface {
	Validate(schema *jsonschema.Schema, params json.RawMessage) ([]string, error)
}

// ValidatorFunc adapts a function to a Validator.
type ValidatorFunc func(schema *jsonschema.Schema, params json.RawMessage) ([]string, error)

func (f ValidatorFunc) Validate(schema *jsonschema.Schema, params json.RawMessage) ([]string, error) {
	return f(schema, params)
}

// SchemaValidator validates params with JSON Schema. Resolved schemas are
// cached by pointer, so a schema must not be mutated after registration.
type SchemaValidator struct {
	resolved sync.Map // *jsonschema.Schema -> *jsonschema.Resolved
}

// NewSchemaValidator returns a SchemaValidator with an empty cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

func (v *SchemaValidator) Validate(schema *jsonschema.Schema, params json.RawMessage) ([]string, error) {
	rs, err := v.resolve(schema)
	if err != nil {
		return nil, err
	}

	var instance any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &instance); err != nil {
			return []string{err.Error()}, nil
		}
	}
	if err := rs.Validate(instance); err != nil {
		return errorMessages(err), nil
	}
	return nil, nil
}

func (v *SchemaValidator) resolve(schema *jsonschema.Schema) (*jsonschema.Resolved, error) {
	if rs, ok := v.resolved.Load(schema); ok {
		return rs.(*jsonschema.Resolved), nil
	}
	rs, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: resolving params schema: %w", err)
	}
	actual, _ := v.resolved.LoadOrStore(schema, rs)
	return actual.(*jsonschema.Resolved), nil
}

// errorMessages flattens joined errors into one message each.
func errorMessages(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, errorMessages(e)...)
		}
		if len(msgs) > 0 {
			return msgs
		}
	}
	return []string{err.Error()}
}

// MustSchema parses a JSON Schema document. It panics on malformed input and
// is meant for package-level schema variables.
func MustSchema(doc string) *jsonschema.Schema {
	s := new(jsonschema.Schema)
	if err := json.Unmarshal([]byte(doc), s); err != nil {
		panic("jsonrpc: invalid schema: " + err.Error())
	}
	return s
}
