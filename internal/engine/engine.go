// Package engine runs one GraphQL request end to end: parse, validate,
// execute and format.
package engine

import (
	"context"
	"errors"
	"time"

	eventbus "github.com/hanpama/gqlamqp/internal/eventbus"
	events "github.com/hanpama/gqlamqp/internal/events"
	language "github.com/hanpama/gqlamqp/internal/language"
)

// ErrNoSchema is returned by Execute when Params carries no schema.
var ErrNoSchema = errors.New("engine: no schema")

// ValidationRule is an extra document validation rule.
type ValidationRule = language.Rule

// Params describes one request.
type Params struct {
	Schema    *Schema
	Query     string
	Variables map[string]any
	// Context is handed to resolvers through RequestContext.
	Context       any
	RootValue     any
	OperationName string

	ValidationRules []ValidationRule
	FormatError     ErrorFormatter
	FormatResponse  ResponseFormatter
	Debug           bool
}

// Execute runs p and returns the formatted response. Request failures
// (syntax, validation, variables) and field errors are part of the response;
// the returned error is reserved for misuse such as a missing schema.
func Execute(ctx context.Context, p Params) (*Response, error) {
	if p.Schema == nil {
		return nil, ErrNoSchema
	}
	format := p.FormatError
	if format == nil {
		format = FormatError
		if p.Debug {
			format = DebugFormatError
		}
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: p.Query, OperationName: p.OperationName})
	resp, opType, errs := run(WithRequestContext(ctx, p.Context), p)
	raw := make([]error, len(errs))
	for i := range errs {
		raw[i] = errs[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         p.Query,
		OperationName: p.OperationName,
		OperationType: opType,
		Executed:      resp.HasData,
		Errors:        raw,
		Duration:      time.Since(start),
	})

	resp.Errors = formatErrors(errs, format)
	if p.FormatResponse != nil {
		if shaped := p.FormatResponse(resp, p); shaped != nil {
			resp = shaped
		}
	}
	return resp, nil
}

func run(ctx context.Context, p Params) (*Response, string, language.ErrorList) {
	if p.Query == "" {
		return &Response{}, "", language.ErrorList{{Message: "Must provide query string."}}
	}
	doc, perr := language.ParseQuery(p.Query)
	if perr != nil {
		return &Response{}, "", language.ErrorList{perr}
	}

	opType := ""
	if op := selectOperation(doc, p.OperationName); op != nil {
		opType = string(op.Operation)
	}

	// schemas assembled without SDL have no AST to validate against
	if ast := p.Schema.types.AST(); ast != nil {
		if errs := language.Validate(ast, doc, p.ValidationRules...); len(errs) > 0 {
			return &Response{}, opType, errs
		}
	}

	res := p.Schema.exec.ExecuteRequest(ctx, doc, p.OperationName, p.Variables, p.RootValue)
	if res.RequestError {
		return &Response{}, opType, res.Errors
	}
	return &Response{Data: res.Data, HasData: true}, opType, res.Errors
}

func selectOperation(doc *language.QueryDocument, name string) *language.OperationDefinition {
	if name != "" {
		return doc.Operations.ForName(name)
	}
	if len(doc.Operations) == 1 {
		return doc.Operations[0]
	}
	return nil
}
