package jsonrpc

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Procedure is one instantiated call, bound to its params and the
// transaction state.
type Procedure interface {
	Call(ctx context.Context) (any, error)
}

// CallFunc adapts a function to a Procedure.
type CallFunc func(ctx context.Context) (any, error)

func (f CallFunc) Call(ctx context.Context) (any, error) {
	return f(ctx)
}

// Definition describes a procedure that can be invoked by name.
//
// ParamsSchema returns nil when params are not validated. New is called once
// per call, after validation, and returns the Procedure to run.
type Definition interface {
	Name() string
	ParamsSchema() *jsonschema.Schema
	New(params json.RawMessage, state *State) (Procedure, error)
}

// ProcedureFunc is the body of a procedure registered with Func.
type ProcedureFunc func(ctx context.Context, params json.RawMessage, state *State) (any, error)

type funcDefinition struct {
	name   string
	schema *jsonschema.Schema
	fn     ProcedureFunc
}

// Func returns a Definition that passes the raw params to fn.
func Func(name string, schema *jsonschema.Schema, fn ProcedureFunc) Definition {
	return &funcDefinition{name: name, schema: schema, fn: fn}
}

func (d *funcDefinition) Name() string                     { return d.name }
func (d *funcDefinition) ParamsSchema() *jsonschema.Schema { return d.schema }

func (d *funcDefinition) New(params json.RawMessage, state *State) (Procedure, error) {
	return CallFunc(func(ctx context.Context) (any, error) {
		return d.fn(ctx, params, state)
	}), nil
}

type typedDefinition[P any] struct {
	name   string
	schema *jsonschema.Schema
	fn     func(ctx context.Context, params P, state *State) (any, error)
}

// Typed returns a Definition whose params are decoded into P when the call is
// instantiated. Absent params leave P at its zero value. A decoding failure
// is reported as CodeInvalidParams.
func Typed[P any](name string, schema *jsonschema.Schema, fn func(ctx context.Context, params P, state *State) (any, error)) Definition {
	return &typedDefinition[P]{name: name, schema: schema, fn: fn}
}

func (d *typedDefinition[P]) Name() string                     { return d.name }
func (d *typedDefinition[P]) ParamsSchema() *jsonschema.Schema { return d.schema }

func (d *typedDefinition[P]) New(params json.RawMessage, state *State) (Procedure, error) {
	var p P
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, Errorf(CodeInvalidParams, "invalid params: %v", err)
		}
	}
	return CallFunc(func(ctx context.Context) (any, error) {
		return d.fn(ctx, p, state)
	}), nil
}

// CleanParams removes the named members from an object params payload.
// Non-object payloads are returned unchanged.
func CleanParams(params json.RawMessage, fields ...string) (json.RawMessage, error) {
	if len(params) == 0 || len(fields) == 0 {
		return params, nil
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(params, &members); err != nil {
		return params, nil
	}
	for _, f := range fields {
		delete(members, f)
	}
	return json.Marshal(members)
}

// Registry maps method names to definitions. It is safe for concurrent use.
// The zero value is an empty registry.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds definitions, keyed by Name. A later definition with the same
// name replaces the earlier one.
func (r *Registry) Register(defs ...Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defs == nil {
		r.defs = make(map[string]Definition)
	}
	for _, d := range defs {
		if d == nil {
			panic("jsonrpc: nil procedure definition")
		}
		r.defs[d.Name()] = d
	}
}

// Lookup returns the definition registered for method.
func (r *Registry) Lookup(method string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[method]
	return d, ok
}

// Names returns the registered method names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
