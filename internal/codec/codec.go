// Package codec converts message bodies to requests and responses to message
// bodies. JSON is the default; application/x-protobuf bodies carry a
// google.protobuf.Struct with the same members.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	engine "github.com/hanpama/gqlamqp/internal/engine"
)

const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

var (
	ErrNotObject = errors.New("codec: body is not a single request object")
	ErrMalformed = errors.New("codec: malformed body")
)

// Request is the decoded form of one message.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Normalize maps a content-type header to one of the supported types.
// Unknown and empty values fall back to JSON.
func Normalize(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mt {
	case ContentTypeProtobuf, "application/protobuf":
		return ContentTypeProtobuf
	default:
		return ContentTypeJSON
	}
}

// DecodeRequest decodes one request. Bodies that are not a single object
// (arrays, scalars, malformed bytes) decode to a zero Request together with
// an error describing why; members of the wrong type are left unset. Callers
// that treat every message as a request can ignore the error and let the
// missing query be reported by the engine.
func DecodeRequest(contentType string, body []byte) (Request, error) {
	var members map[string]any
	switch Normalize(contentType) {
	case ContentTypeProtobuf:
		var s structpb.Struct
		if err := proto.Unmarshal(body, &s); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		members = s.AsMap()
	default:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return Request{}, fmt.Errorf("%w: got %s", ErrNotObject, jsonKind(v))
		}
		members = m
	}

	var req Request
	req.Query, _ = members["query"].(string)
	req.OperationName, _ = members["operationName"].(string)
	req.Variables, _ = members["variables"].(map[string]any)
	req.Extensions, _ = members["extensions"].(map[string]any)
	return req, nil
}

// EncodeRequest is the inverse of DecodeRequest.
func EncodeRequest(contentType string, req Request) ([]byte, error) {
	if Normalize(contentType) == ContentTypeProtobuf {
		m := map[string]any{"query": req.Query}
		if req.OperationName != "" {
			m["operationName"] = req.OperationName
		}
		if req.Variables != nil {
			m["variables"] = req.Variables
		}
		if req.Extensions != nil {
			m["extensions"] = req.Extensions
		}
		return marshalStruct(m)
	}
	return json.Marshal(req)
}

// EncodeResponse encodes a formatted response for the given content type.
func EncodeResponse(contentType string, resp *engine.Response) ([]byte, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	if Normalize(contentType) != ContentTypeProtobuf {
		return b, nil
	}
	// round-trip through JSON so formatter output of any Go type becomes
	// Struct-compatible values
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return marshalStruct(m)
}

// DecodeResponse is the inverse of EncodeResponse.
func DecodeResponse(contentType string, body []byte) (*engine.Response, error) {
	if Normalize(contentType) == ContentTypeProtobuf {
		var s structpb.Struct
		if err := proto.Unmarshal(body, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		j, err := json.Marshal(s.AsMap())
		if err != nil {
			return nil, err
		}
		body = j
	}
	var resp engine.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &resp, nil
}

func marshalStruct(m map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return proto.Marshal(s)
}

func jsonKind(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
