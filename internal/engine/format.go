package engine

import (
	"errors"
	"fmt"

	language "github.com/hanpama/gqlamqp/internal/language"
)

// ErrorFormatter turns one GraphQL error into its response representation.
type ErrorFormatter func(err *language.Error) map[string]any

// ResponseFormatter reshapes a response after errors are formatted.
type ResponseFormatter func(resp *Response, p Params) *Response

// FormatError is the default ErrorFormatter: message, then locations, path
// and extensions when present.
func FormatError(err *language.Error) map[string]any {
	out := map[string]any{"message": err.Message}
	if len(err.Locations) > 0 {
		out["locations"] = err.Locations
	}
	if len(err.Path) > 0 {
		out["path"] = err.Path
	}
	if len(err.Extensions) > 0 {
		out["extensions"] = err.Extensions
	}
	return out
}

// DebugFormatError is FormatError plus extensions.exception describing the
// underlying Go error.
func DebugFormatError(err *language.Error) map[string]any {
	out := FormatError(err)
	if err.Err == nil {
		return out
	}
	ext := make(map[string]any, len(err.Extensions)+1)
	for k, v := range err.Extensions {
		ext[k] = v
	}
	chain := []string{}
	for e := err.Err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	ext["exception"] = map[string]any{
		"type":  fmt.Sprintf("%T", err.Err),
		"chain": chain,
	}
	out["extensions"] = ext
	return out
}

func formatErrors(errs language.ErrorList, format ErrorFormatter) []map[string]any {
	if len(errs) == 0 {
		return nil
	}
	out := make([]map[string]any, len(errs))
	for i, e := range errs {
		out[i] = format(e)
	}
	return out
}
