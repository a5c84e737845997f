package resolver

import (
	"fmt"
	"reflect"
	"strings"
)

// Property reads the field named name from a parent value: a string-keyed
// map entry, or an exported struct field matched by its json tag or by a
// case-insensitive name. Missing properties and nil parents resolve to nil.
func Property(source any, name string) (any, error) {
	if source == nil {
		return nil, nil
	}
	if m, ok := source.(map[string]any); ok {
		return m[name], nil
	}
	v := reflect.ValueOf(source)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot read %q from map keyed by %s", name, v.Type().Key())
		}
		e := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !e.IsValid() {
			return nil, nil
		}
		return e.Interface(), nil
	case reflect.Struct:
		f, ok := structField(v.Type(), name)
		if !ok {
			return nil, nil
		}
		return v.FieldByIndex(f.Index).Interface(), nil
	default:
		return nil, fmt.Errorf("cannot read %q from %T", name, source)
	}
}

func structField(t reflect.Type, name string) (reflect.StructField, bool) {
	var fallback *reflect.StructField
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == "-" {
			continue
		}
		if tag == name {
			return f, true
		}
		if tag == "" && fallback == nil && strings.EqualFold(f.Name, name) {
			fallback = &f
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return reflect.StructField{}, false
}
