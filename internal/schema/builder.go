package schema

import (
	"fmt"

	language "github.com/hanpama/gqlamqp/internal/language"
)

// AsyncDirective marks a field for batched resolution. BuildFromSDL declares
// it automatically so SDL files can use it without a definition.
const AsyncDirective = "async"

const asyncDirectiveSDL = "directive @async on FIELD_DEFINITION\n"

func NewSchema(description string) *Schema {
	return &Schema{
		Description: description,
		Types:       make(map[string]*Type),
		Directives:  make(map[string]*Directive),
	}
}

func (s *Schema) SetQueryType(name string) *Schema        { s.QueryType = name; return s }
func (s *Schema) SetMutationType(name string) *Schema     { s.MutationType = name; return s }
func (s *Schema) SetSubscriptionType(name string) *Schema { s.SubscriptionType = name; return s }

func (s *Schema) AddType(t *Type) *Schema {
	s.Types[t.Name] = t
	return s
}

func (s *Schema) AddDirective(d *Directive) *Schema {
	s.Directives[d.Name] = d
	return s
}

func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

func (t *Type) AddField(f *Field) *Type            { t.Fields = append(t.Fields, f); return t }
func (t *Type) AddInterface(name string) *Type     { t.Interfaces = append(t.Interfaces, name); return t }
func (t *Type) AddPossibleType(name string) *Type  { t.PossibleTypes = append(t.PossibleTypes, name); return t }
func (t *Type) AddEnumValue(v *EnumValue) *Type    { t.EnumValues = append(t.EnumValues, v); return t }
func (t *Type) AddInputField(v *InputValue) *Type  { t.InputFields = append(t.InputFields, v); return t }
func (t *Type) SetOneOf(oneOf bool) *Type          { t.OneOf = oneOf; return t }
func (t *Type) SetSpecifiedByURL(url string) *Type { t.SpecifiedByURL = &url; return t }

// FieldByName returns the named field or nil.
func (t *Type) FieldByName(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// NewFieldMap collects fields in declaration order.
func NewFieldMap(fields ...*Field) []*Field {
	out := make([]*Field, 0, len(fields))
	return append(out, fields...)
}

func NewField(name, description string, typ *TypeRef) *Field {
	return &Field{Name: name, Description: description, Type: typ}
}

func (f *Field) SetAsync(async bool) *Field { f.Async = async; return f }

func (f *Field) AddArgument(in *InputValue) *Field {
	f.Arguments = append(f.Arguments, in)
	return f
}

func (f *Field) Deprecate(reason string) *Field {
	f.IsDeprecated = true
	f.DeprecationReason = reason
	return f
}

func NewEnumValue(name, description string) *EnumValue {
	return &EnumValue{Name: name, Description: description}
}

func (e *EnumValue) Deprecate(reason string) *EnumValue {
	e.IsDeprecated = true
	e.DeprecationReason = reason
	return e
}

func NewInputValue(name, description string, typ *TypeRef) *InputValue {
	return &InputValue{Name: name, Description: description, Type: typ}
}

func (in *InputValue) SetDefault(v any) *InputValue { in.DefaultValue = v; return in }

func (in *InputValue) Deprecate(reason string) *InputValue {
	in.IsDeprecated = true
	in.DeprecationReason = reason
	return in
}

func NewDirective(name, description string) *Directive {
	return &Directive{Name: name, Description: description}
}

func (d *Directive) SetRepeatable(repeatable bool) *Directive { d.IsRepeatable = repeatable; return d }

func (d *Directive) AddArgument(in *InputValue) *Directive {
	d.Arguments = append(d.Arguments, in)
	return d
}

// BuildFromSDL parses and validates SDL and returns the corresponding Schema.
// Fields annotated with @async are flagged for batched resolution.
func BuildFromSDL(sdl string) (*Schema, error) {
	return BuildFromSources("schema.graphql", sdl)
}

// BuildFromSources is BuildFromSDL with an explicit source name used in
// error locations.
func BuildFromSources(name, sdl string) (*Schema, error) {
	doc, err := language.LoadSchema(name, asyncDirectiveSDL+sdl)
	if err != nil {
		return nil, err
	}
	return FromAST(doc)
}

// FromAST converts a validated gqlparser schema.
func FromAST(doc *language.Schema) (*Schema, error) {
	if doc == nil {
		return nil, fmt.Errorf("schema: nil type system")
	}
	if doc.Query == nil {
		return nil, fmt.Errorf("schema: query root type is required")
	}
	s := NewSchema(doc.Description)
	s.ast = doc
	s.SetQueryType(doc.Query.Name)
	if doc.Mutation != nil {
		s.SetMutationType(doc.Mutation.Name)
	}
	if doc.Subscription != nil {
		s.SetSubscriptionType(doc.Subscription.Name)
	}

	for _, def := range doc.Types {
		t, err := buildType(def)
		if err != nil {
			return nil, err
		}
		s.AddType(t)
	}
	for _, def := range doc.Directives {
		d, err := buildDirective(def)
		if err != nil {
			return nil, err
		}
		d.BuiltIn = def.Position == nil || def.Position.Src == nil || def.Position.Src.BuiltIn || def.Name == AsyncDirective
		s.AddDirective(d)
	}
	for name, possible := range doc.PossibleTypes {
		// union members come from the definition itself
		t := s.Types[name]
		if t == nil || t.Kind != TypeKindInterface {
			continue
		}
		for _, p := range possible {
			t.AddPossibleType(p.Name)
		}
	}
	return s, nil
}

func buildType(def *language.Definition) (*Type, error) {
	var t *Type
	switch def.Kind {
	case language.Object:
		t = NewType(def.Name, TypeKindObject, def.Description)
	case language.Interface:
		t = NewType(def.Name, TypeKindInterface, def.Description)
	case language.Union:
		t = NewType(def.Name, TypeKindUnion, def.Description)
		for _, name := range def.Types {
			t.AddPossibleType(name)
		}
	case language.Scalar:
		t = NewType(def.Name, TypeKindScalar, def.Description)
		if d := def.Directives.ForName("specifiedBy"); d != nil {
			if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				t.SetSpecifiedByURL(arg.Value.Raw)
			}
		}
	case language.Enum:
		t = NewType(def.Name, TypeKindEnum, def.Description)
		for _, v := range def.EnumValues {
			ev := NewEnumValue(v.Name, v.Description)
			if reason, ok := deprecation(v.Directives); ok {
				ev.Deprecate(reason)
			}
			t.AddEnumValue(ev)
		}
	case language.InputObject:
		t = NewType(def.Name, TypeKindInputObject, def.Description)
		t.SetOneOf(def.Directives.ForName("oneOf") != nil)
		for _, f := range def.Fields {
			in, err := buildInputValue(f.Name, f.Description, f.Type, f.DefaultValue, f.Directives)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", def.Name, f.Name, err)
			}
			t.AddInputField(in)
		}
	default:
		return nil, fmt.Errorf("schema: unsupported kind %s for %s", def.Kind, def.Name)
	}
	t.BuiltIn = def.BuiltIn

	if def.Kind == language.Object || def.Kind == language.Interface {
		for _, name := range def.Interfaces {
			t.AddInterface(name)
		}
		for _, fd := range def.Fields {
			// meta fields are answered by the executor
			if len(fd.Name) > 1 && fd.Name[:2] == "__" {
				continue
			}
			f, err := buildField(fd)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", def.Name, fd.Name, err)
			}
			t.AddField(f)
		}
	}
	return t, nil
}

func buildField(fd *language.FieldDefinition) (*Field, error) {
	f := NewField(fd.Name, fd.Description, buildTypeRef(fd.Type)).
		SetAsync(fd.Directives.ForName(AsyncDirective) != nil)
	if reason, ok := deprecation(fd.Directives); ok {
		f.Deprecate(reason)
	}
	for _, a := range fd.Arguments {
		in, err := buildInputValue(a.Name, a.Description, a.Type, a.DefaultValue, a.Directives)
		if err != nil {
			return nil, err
		}
		f.AddArgument(in)
	}
	return f, nil
}

func buildDirective(def *language.DirectiveDefinition) (*Directive, error) {
	d := NewDirective(def.Name, def.Description).SetRepeatable(def.IsRepeatable)
	for _, loc := range def.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, a := range def.Arguments {
		in, err := buildInputValue(a.Name, a.Description, a.Type, a.DefaultValue, a.Directives)
		if err != nil {
			return nil, fmt.Errorf("schema: @%s(%s): %w", def.Name, a.Name, err)
		}
		d.AddArgument(in)
	}
	return d, nil
}

func buildInputValue(name, description string, typ *language.Type, def *language.Value, dirs language.DirectiveList) (*InputValue, error) {
	in := NewInputValue(name, description, buildTypeRef(typ))
	if def != nil {
		v, err := def.Value(nil)
		if err != nil {
			return nil, fmt.Errorf("default value: %w", err)
		}
		in.SetDefault(v)
	}
	if reason, ok := deprecation(dirs); ok {
		in.Deprecate(reason)
	}
	return in, nil
}

func buildTypeRef(t *language.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var inner *TypeRef
	if t.Elem != nil {
		inner = ListType(buildTypeRef(t.Elem))
	} else {
		inner = NamedType(t.NamedType)
	}
	if t.NonNull {
		return NonNullType(inner)
	}
	return inner
}

func deprecation(dirs language.DirectiveList) (string, bool) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return "", false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return "", true
}
