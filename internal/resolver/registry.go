package resolver

import (
	"context"
	"strings"
	"sync"
)

// FieldFunc resolves one field for one parent value.
type FieldFunc func(ctx context.Context, source any, args map[string]any) (any, error)

// Item is one parent/arguments pair handed to a BatchFunc.
type Item struct {
	Source any
	Args   map[string]any
}

// BatchFunc resolves one field for many parents at once. It must return one
// value per item in order. A non-nil error fails every item of the batch; use
// ItemError values in the result slice to fail single items.
type BatchFunc func(ctx context.Context, items []Item) ([]any, error)

// ItemError fails a single item of a batch.
type ItemError struct{ Err error }

func (e ItemError) Error() string { return e.Err.Error() }
func (e ItemError) Unwrap() error { return e.Err }

// TypeFunc names the concrete object type of an interface or union value.
type TypeFunc func(value any) (string, error)

// ScalarFunc serializes a custom scalar to a JSON-safe value.
type ScalarFunc func(value any) (any, error)

type key [2]string

// Registry maps (objectType, field) to resolver functions. Fields without a
// registration resolve by reading the property of the same name from the
// parent value. A Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	fields  map[key]FieldFunc
	batches map[key]BatchFunc
	types   map[string]TypeFunc
	scalars map[string]ScalarFunc
}

func NewRegistry() *Registry {
	return &Registry{
		fields:  map[key]FieldFunc{},
		batches: map[key]BatchFunc{},
		types:   map[string]TypeFunc{},
		scalars: map[string]ScalarFunc{},
	}
}

// Map builds a registry from "Type.field" keys, the shape resolver maps are
// usually written in.
func Map(funcs map[string]FieldFunc) *Registry {
	r := NewRegistry()
	for k, fn := range funcs {
		typ, field, _ := strings.Cut(k, ".")
		r.Field(typ, field, fn)
	}
	return r
}

// Field registers a per-item resolver.
func (r *Registry) Field(objectType, field string, fn FieldFunc) *Registry {
	r.mu.Lock()
	r.fields[key{objectType, field}] = fn
	r.mu.Unlock()
	return r
}

// Batch registers a batch resolver. It is used for @async fields and also
// answers synchronous calls with a batch of one.
func (r *Registry) Batch(objectType, field string, fn BatchFunc) *Registry {
	r.mu.Lock()
	r.batches[key{objectType, field}] = fn
	r.mu.Unlock()
	return r
}

// Type registers a concrete type resolver for an interface or union.
func (r *Registry) Type(abstractType string, fn TypeFunc) *Registry {
	r.mu.Lock()
	r.types[abstractType] = fn
	r.mu.Unlock()
	return r
}

// Scalar registers a serializer for a custom scalar.
func (r *Registry) Scalar(name string, fn ScalarFunc) *Registry {
	r.mu.Lock()
	r.scalars[name] = fn
	r.mu.Unlock()
	return r
}

func (r *Registry) field(objectType, field string) FieldFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fields[key{objectType, field}]
}

func (r *Registry) batch(objectType, field string) BatchFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batches[key{objectType, field}]
}

func (r *Registry) typeFunc(abstractType string) TypeFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[abstractType]
}

func (r *Registry) scalar(name string) ScalarFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scalars[name]
}
