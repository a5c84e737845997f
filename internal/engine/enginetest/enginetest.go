// Package enginetest provides the schemas and rules shared by the engine and
// bridge tests.
package enginetest

import (
	"context"
	"errors"

	engine "github.com/hanpama/gqlamqp/internal/engine"
	language "github.com/hanpama/gqlamqp/internal/language"
	resolver "github.com/hanpama/gqlamqp/internal/resolver"
)

const TestSDL = `
schema {
  query: QueryRoot
  mutation: MutationRoot
}

type QueryRoot {
  test(who: String): String
  thrower: String!
  context: String
}

type MutationRoot {
  writeTest: QueryRoot
}
`

const MutationSDL = `
schema {
  query: QueryRoot
  mutation: MutationType
}

type QueryRoot {
  test: String
}

type MutationType {
  testMutation(echo: String): String
}
`

// ErrThrows is returned by QueryRoot.thrower.
var ErrThrows = errors.New("Throws!")

// TestSchema answers test with a greeting, fails thrower and echoes the
// request context from context.
func TestSchema() *engine.Schema {
	reg := resolver.Map(map[string]resolver.FieldFunc{
		"QueryRoot.test": func(ctx context.Context, _ any, args map[string]any) (any, error) {
			who, _ := args["who"].(string)
			if who == "" {
				who = "World"
			}
			return "Hello " + who, nil
		},
		"QueryRoot.thrower": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			return nil, ErrThrows
		},
		"QueryRoot.context": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			return engine.RequestContext(ctx), nil
		},
		"MutationRoot.writeTest": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			return map[string]any{}, nil
		},
	})
	return mustBuild(TestSDL, reg)
}

// MutationSchema echoes its argument from MutationType.testMutation.
func MutationSchema() *engine.Schema {
	reg := resolver.Map(map[string]resolver.FieldFunc{
		"MutationType.testMutation": func(ctx context.Context, _ any, args map[string]any) (any, error) {
			echo, _ := args["echo"].(string)
			return "not really a mutation, but who cares: " + echo, nil
		},
	})
	return mustBuild(MutationSDL, reg)
}

// AlwaysInvalidRule reports a single error for every operation.
var AlwaysInvalidRule = engine.ValidationRule{
	Name: "AlwaysInvalidRule",
	RuleFunc: func(observers *language.Events, addError language.AddErrFunc) {
		observers.OnOperation(func(_ *language.Walker, _ *language.OperationDefinition) {
			addError(language.Message("AlwaysInvalidRule was really invalid!"))
		})
	},
}

// SanitizeErrors replaces every error with a message-only entry.
func SanitizeErrors(err *language.Error) map[string]any {
	return map[string]any{"message": "Custom error format: " + err.Message}
}

// ElaborateErrors keeps message and locations and adds a stack member.
func ElaborateErrors(err *language.Error) map[string]any {
	return map[string]any{
		"message":   err.Message,
		"locations": err.Locations,
		"stack":     "Stack trace",
	}
}

func mustBuild(sdl string, reg *resolver.Registry) *engine.Schema {
	s, err := engine.BuildSchema(sdl, reg)
	if err != nil {
		panic(err)
	}
	return s
}
