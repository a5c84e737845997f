package engine

import "context"

type requestContextKey struct{}

// WithRequestContext attaches the per-request context value resolvers read
// with RequestContext.
func WithRequestContext(ctx context.Context, v any) context.Context {
	return context.WithValue(ctx, requestContextKey{}, v)
}

// RequestContext returns the value passed as Params.Context.
func RequestContext(ctx context.Context) any {
	return ctx.Value(requestContextKey{})
}
