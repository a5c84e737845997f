package resolver

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	executor "github.com/hanpama/gqlamqp/internal/executor"
	schema "github.com/hanpama/gqlamqp/internal/schema"
)

// Runtime implements executor.Runtime over a Registry of Go functions.
//   - Sync fields call their FieldFunc, or a BatchFunc with one item, or read
//     the parent's property.
//   - Async fields are grouped by (objectType, field). Groups run in parallel
//     and each group calls its BatchFunc once. Groups without a BatchFunc call
//     the per-item resolver for every task.
//   - A panic inside a resolver is re-raised on the calling goroutine so the
//     caller's recovery applies regardless of which group it came from.
type Runtime struct {
	schema *schema.Schema
	reg    *Registry
}

var _ executor.Runtime = (*Runtime)(nil)

func New(sch *schema.Schema, reg *Registry) *Runtime {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Runtime{schema: sch, reg: reg}
}

func (r *Runtime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	if fn := r.reg.field(objectType, field); fn != nil {
		return fn(ctx, source, args)
	}
	if fn := r.reg.batch(objectType, field); fn != nil {
		res := r.runBatch(ctx, fn, []Item{{Source: source, Args: args}})
		return res[0].Value, res[0].Error
	}
	return Property(source, field)
}

func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	type group struct {
		objectType string
		field      string
		idxs       []int
	}
	groups := []group{}
	idxByKey := map[key]int{}
	for i, t := range tasks {
		k := key{t.ObjectType, t.Field}
		if gi, ok := idxByKey[k]; ok {
			groups[gi].idxs = append(groups[gi].idxs, i)
		} else {
			idxByKey[k] = len(groups)
			groups = append(groups, group{objectType: t.ObjectType, field: t.Field, idxs: []int{i}})
		}
	}

	run := func(g group) {
		if fn := r.reg.batch(g.objectType, g.field); fn != nil {
			items := make([]Item, len(g.idxs))
			for j, idx := range g.idxs {
				items[j] = Item{Source: tasks[idx].Source, Args: tasks[idx].Args}
			}
			res := r.runBatch(ctx, fn, items)
			for j, idx := range g.idxs {
				results[idx] = res[j]
			}
			return
		}
		fn := r.reg.field(g.objectType, g.field)
		for _, idx := range g.idxs {
			var v any
			var err error
			if fn != nil {
				v, err = fn(ctx, tasks[idx].Source, tasks[idx].Args)
			} else {
				v, err = Property(tasks[idx].Source, g.field)
			}
			results[idx] = executor.AsyncResolveResult{Value: v, Error: err}
		}
	}

	if len(groups) == 1 {
		run(groups[0])
		return results
	}

	var (
		wg        sync.WaitGroup
		panicOnce sync.Once
		panicked  any
	)
	wg.Add(len(groups))
	for _, g := range groups {
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					panicOnce.Do(func() { panicked = p })
				}
			}()
			run(g)
		}()
	}
	wg.Wait()
	if panicked != nil {
		panic(panicked)
	}
	return results
}

func (r *Runtime) runBatch(ctx context.Context, fn BatchFunc, items []Item) []executor.AsyncResolveResult {
	out := make([]executor.AsyncResolveResult, len(items))
	values, err := fn(ctx, items)
	if err == nil && len(values) != len(items) {
		err = fmt.Errorf("batch resolver returned %d values for %d items", len(values), len(items))
	}
	for i := range out {
		if err != nil {
			out[i].Error = err
			continue
		}
		if ie, ok := values[i].(ItemError); ok {
			out[i].Error = ie.Err
			continue
		}
		out[i].Value = values[i]
	}
	return out
}

// ResolveType consults the registered TypeFunc first, then a "__typename"
// entry on map values, then a GraphQLType method.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if fn := r.reg.typeFunc(abstractType); fn != nil {
		return fn(value)
	}
	switch v := value.(type) {
	case map[string]any:
		if name, ok := v["__typename"].(string); ok {
			return name, nil
		}
	case interface{ GraphQLType() string }:
		return v.GraphQLType(), nil
	}
	return "", fmt.Errorf("cannot resolve concrete type of %s from %T", abstractType, value)
}

func (r *Runtime) ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error) {
	return value, nil
}

func (r *Runtime) ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error) {
	return value, nil
}

// SerializeLeafValue applies the built-in scalar rules, registered custom
// scalar serializers and enum membership checks. Unregistered custom scalars
// pass through; byte slices are base64-encoded.
func (r *Runtime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch scalarOrEnumTypeName {
	case "Int":
		return serializeInt(value)
	case "Float":
		return serializeFloat(value)
	case "String":
		return serializeString(value)
	case "Boolean":
		return serializeBoolean(value)
	case "ID":
		return serializeID(value)
	}
	if fn := r.reg.scalar(scalarOrEnumTypeName); fn != nil {
		return fn(value)
	}
	if r.schema != nil {
		if t := r.schema.Types[scalarOrEnumTypeName]; t != nil && t.Kind == schema.TypeKindEnum {
			return serializeEnum(t, value)
		}
	}
	if b, ok := value.([]byte); ok {
		return base64.StdEncoding.EncodeToString(b), nil
	}
	return value, nil
}
