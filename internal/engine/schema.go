package engine

import (
	executor "github.com/hanpama/gqlamqp/internal/executor"
	introspection "github.com/hanpama/gqlamqp/internal/introspection"
	resolver "github.com/hanpama/gqlamqp/internal/resolver"
	schema "github.com/hanpama/gqlamqp/internal/schema"
)

// Schema pairs a type system with the runtime that resolves its fields.
type Schema struct {
	types *schema.Schema
	exec  *executor.Executor
}

// NewSchema wraps an already built type system. Documents are validated only
// when the type system was built from SDL; see schema.Schema.AST.
func NewSchema(types *schema.Schema, runtime executor.Runtime) *Schema {
	return &Schema{types: types, exec: executor.NewExecutor(runtime, types)}
}

// SchemaOption configures BuildSchema.
type SchemaOption func(*schemaOptions)

type schemaOptions struct {
	introspection bool
}

// WithIntrospection toggles the __schema and __type meta fields. They are
// enabled by default.
func WithIntrospection(enabled bool) SchemaOption {
	return func(o *schemaOptions) { o.introspection = enabled }
}

// BuildSchema builds an executable schema from SDL and a resolver registry.
func BuildSchema(sdl string, reg *resolver.Registry, opts ...SchemaOption) (*Schema, error) {
	types, err := schema.BuildFromSDL(sdl)
	if err != nil {
		return nil, err
	}
	o := schemaOptions{introspection: true}
	for _, opt := range opts {
		opt(&o)
	}
	var rt executor.Runtime = resolver.New(types, reg)
	if !o.introspection {
		return NewSchema(types, rt), nil
	}
	rt, extended := introspection.Wrap(rt, types)
	return &Schema{types: types, exec: executor.NewExecutor(rt, extended)}, nil
}

func (s *Schema) Types() *schema.Schema { return s.types }
