// Package introspection answers the __schema and __type meta fields.
//
// The __Schema, __Type and related object types come from the SDL prelude,
// so schemas built from SDL already declare them. Wrap adds the two entry
// fields to the query type and resolves the introspection objects from the
// schema.Schema values themselves.
package introspection

import (
	"context"
	"slices"
	"strings"

	executor "github.com/hanpama/gqlamqp/internal/executor"
	schema "github.com/hanpama/gqlamqp/internal/schema"
)

// Wrap returns a copy of sch whose query type carries __schema and __type,
// together with a runtime that answers them before delegating to base.
// sch itself is not modified.
func Wrap(base executor.Runtime, sch *schema.Schema) (executor.Runtime, *schema.Schema) {
	return &runtime{Runtime: base, types: sch}, extend(sch)
}

func extend(sch *schema.Schema) *schema.Schema {
	out := *sch
	out.Types = make(map[string]*schema.Type, len(sch.Types))
	for name, t := range sch.Types {
		out.Types[name] = t
	}
	q := sch.GetQueryType()
	if q == nil {
		return &out
	}
	qc := *q
	qc.Fields = append(slices.Clone(q.Fields),
		schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))),
		schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "", schema.NonNullType(schema.NamedType("String")))),
	)
	out.Types[q.Name] = &qc
	return &out
}

type runtime struct {
	executor.Runtime
	types *schema.Schema
}

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	if objectType == r.types.QueryType {
		switch field {
		case "__schema":
			return r.types, nil
		case "__type":
			name, _ := args["name"].(string)
			return nilType(r.types.Types[name]), nil
		}
	}

	switch src := source.(type) {
	case *schema.Schema:
		return r.schemaField(src, field), nil
	case *schema.Type:
		return r.typeField(src, field, args), nil
	case *schema.TypeRef:
		return r.typeRefField(src, field, args), nil
	case *schema.Field:
		return fieldField(src, field, args), nil
	case *schema.InputValue:
		return inputValueField(src, field), nil
	case *schema.EnumValue:
		return deprecatable(src.Name, src.Description, src.IsDeprecated, src.DeprecationReason, field), nil
	case *schema.Directive:
		return directiveField(src, field, args), nil
	}
	return r.Runtime.ResolveSync(ctx, objectType, field, source, args)
}

func (r *runtime) schemaField(s *schema.Schema, field string) any {
	switch field {
	case "description":
		return optional(s.Description)
	case "types":
		out := make([]*schema.Type, 0, len(s.Types))
		for _, t := range s.Types {
			out = append(out, t)
		}
		slices.SortFunc(out, func(a, b *schema.Type) int { return strings.Compare(a.Name, b.Name) })
		return out
	case "queryType":
		return nilType(s.GetQueryType())
	case "mutationType":
		return nilType(s.GetMutationType())
	case "subscriptionType":
		return nilType(s.GetSubscriptionType())
	case "directives":
		out := make([]*schema.Directive, 0, len(s.Directives))
		for _, d := range s.Directives {
			// @async is a server annotation, not part of the public type system
			if d.Name == schema.AsyncDirective {
				continue
			}
			out = append(out, d)
		}
		slices.SortFunc(out, func(a, b *schema.Directive) int { return strings.Compare(a.Name, b.Name) })
		return out
	}
	return nil
}

func (r *runtime) typeField(t *schema.Type, field string, args map[string]any) any {
	switch field {
	case "kind":
		return string(t.Kind)
	case "name":
		return t.Name
	case "description":
		return optional(t.Description)
	case "specifiedByURL":
		if t.SpecifiedByURL == nil {
			return nil
		}
		return *t.SpecifiedByURL
	case "isOneOf":
		if t.Kind != schema.TypeKindInputObject {
			return nil
		}
		return t.OneOf
	case "fields":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil
		}
		return visible(t.Fields, includeDeprecated(args), func(f *schema.Field) bool { return f.IsDeprecated })
	case "interfaces":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil
		}
		return r.lookup(t.Interfaces)
	case "possibleTypes":
		if t.Kind != schema.TypeKindInterface && t.Kind != schema.TypeKindUnion {
			return nil
		}
		if t.Kind == schema.TypeKindUnion {
			return r.lookup(t.PossibleTypes)
		}
		return r.implementations(t.Name)
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil
		}
		return visible(t.EnumValues, includeDeprecated(args), func(v *schema.EnumValue) bool { return v.IsDeprecated })
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil
		}
		return visible(t.InputFields, includeDeprecated(args), func(v *schema.InputValue) bool { return v.IsDeprecated })
	case "ofType":
		return nil
	}
	return nil
}

// typeRefField answers __Type fields for a field or argument type. Wrapping
// kinds describe themselves; named references resolve to the named type.
func (r *runtime) typeRefField(ref *schema.TypeRef, field string, args map[string]any) any {
	if ref.Kind == schema.TypeRefKindNamed {
		t := r.types.Types[ref.Named]
		if t == nil {
			return nil
		}
		return r.typeField(t, field, args)
	}
	switch field {
	case "kind":
		return string(ref.Kind)
	case "ofType":
		if ref.OfType == nil {
			return nil
		}
		return ref.OfType
	}
	return nil
}

func (r *runtime) lookup(names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, n := range names {
		if t := r.types.Types[n]; t != nil {
			out = append(out, t)
		}
	}
	return out
}

// implementations lists the object types implementing iface, by name.
func (r *runtime) implementations(iface string) []*schema.Type {
	var out []*schema.Type
	for _, t := range r.types.Types {
		if t.Kind == schema.TypeKindObject && slices.Contains(t.Interfaces, iface) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *schema.Type) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func fieldField(f *schema.Field, field string, args map[string]any) any {
	switch field {
	case "args":
		return visible(f.Arguments, includeDeprecated(args), func(v *schema.InputValue) bool { return v.IsDeprecated })
	case "type":
		return f.Type
	}
	return deprecatable(f.Name, f.Description, f.IsDeprecated, f.DeprecationReason, field)
}

func inputValueField(v *schema.InputValue, field string) any {
	switch field {
	case "type":
		return v.Type
	case "defaultValue":
		if v.DefaultValue == nil {
			return nil
		}
		return schema.RenderValue(v.DefaultValue)
	}
	return deprecatable(v.Name, v.Description, v.IsDeprecated, v.DeprecationReason, field)
}

func directiveField(d *schema.Directive, field string, args map[string]any) any {
	switch field {
	case "name":
		return d.Name
	case "description":
		return optional(d.Description)
	case "locations":
		return slices.Clone(d.Locations)
	case "args":
		return visible(d.Arguments, includeDeprecated(args), func(v *schema.InputValue) bool { return v.IsDeprecated })
	case "isRepeatable":
		return d.IsRepeatable
	}
	return nil
}

// deprecatable answers the members shared by __Field, __InputValue and
// __EnumValue.
func deprecatable(name, description string, deprecated bool, reason, field string) any {
	switch field {
	case "name":
		return name
	case "description":
		return optional(description)
	case "isDeprecated":
		return deprecated
	case "deprecationReason":
		if !deprecated {
			return nil
		}
		return reason
	}
	return nil
}

func visible[T any](items []T, all bool, deprecated func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if all || !deprecated(it) {
			out = append(out, it)
		}
	}
	return out
}

func includeDeprecated(args map[string]any) bool {
	v, _ := args["includeDeprecated"].(bool)
	return v
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilType(t *schema.Type) any {
	if t == nil {
		return nil
	}
	return t
}
