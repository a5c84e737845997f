package engine

import (
	"bytes"
	"encoding/json"
)

// Response is the formatted outcome of one execution.
//
// HasData distinguishes a null data member from an absent one: requests that
// fail before execution starts (syntax, validation, variables) carry only
// errors.
//
// Data objects are maps, so their members encode in key order rather than
// selection order.
type Response struct {
	Data       any
	HasData    bool
	Errors     []map[string]any
	Extensions map[string]any
}

func (r *Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	member := func(name string, v any) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(`"` + name + `":`)
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
	if r.HasData {
		if err := member("data", r.Data); err != nil {
			return nil, err
		}
	}
	if len(r.Errors) > 0 {
		if err := member("errors", r.Errors); err != nil {
			return nil, err
		}
	}
	if len(r.Extensions) > 0 {
		if err := member("extensions", r.Extensions); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Response) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data       json.RawMessage  `json:"data"`
		Errors     []map[string]any `json:"errors"`
		Extensions map[string]any   `json:"extensions"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Response{Errors: raw.Errors, Extensions: raw.Extensions}
	if raw.Data != nil {
		r.HasData = true
		if err := json.Unmarshal(raw.Data, &r.Data); err != nil {
			return err
		}
	}
	return nil
}
