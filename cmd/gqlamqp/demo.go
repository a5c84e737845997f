package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	engine "github.com/hanpama/gqlamqp/internal/engine"
	logging "github.com/hanpama/gqlamqp/internal/logging"
	reqid "github.com/hanpama/gqlamqp/internal/reqid"
	resolver "github.com/hanpama/gqlamqp/internal/resolver"
)

const demoSDL = `
type Query {
  "Greets who, or World."
  hello(who: String): String!
  echo(message: String!): String!
  "Current server time, RFC 3339."
  now: String!
  "The request context as JSON."
  context: String
  requestId: String
}

type Mutation {
  echo(message: String!): String!
}
`

func demoResolvers() *resolver.Registry {
	echo := func(ctx context.Context, _ any, args map[string]any) (any, error) {
		return args["message"], nil
	}
	return resolver.Map(map[string]resolver.FieldFunc{
		"Query.hello": func(ctx context.Context, _ any, args map[string]any) (any, error) {
			who, _ := args["who"].(string)
			if who == "" {
				who = "World"
			}
			logging.FromContext(ctx).Debug("greeting", "who", who)
			return "Hello " + who, nil
		},
		"Query.echo": echo,
		"Query.now": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
		"Query.context": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			v := engine.RequestContext(ctx)
			if v == nil {
				return nil, nil
			}
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		},
		"Query.requestId": func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			id, _ := reqid.FromContext(ctx)
			return id, nil
		},
		"Mutation.echo": echo,
	})
}

// loadSchema builds the SDL in path, or the demo schema when path is empty.
// Fields of the demo resolvers present in the file keep their behaviour.
func loadSchema(path string, introspection bool) (*engine.Schema, error) {
	sdl := demoSDL
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		sdl = string(b)
	}
	sch, err := engine.BuildSchema(sdl, demoResolvers(), engine.WithIntrospection(introspection))
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return sch, nil
}
