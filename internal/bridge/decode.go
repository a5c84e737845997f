package bridge

import (
	"context"
	"maps"

	codec "github.com/hanpama/gqlamqp/internal/codec"
	engine "github.com/hanpama/gqlamqp/internal/engine"
	transport "github.com/hanpama/gqlamqp/internal/transport"
)

// decode turns one message into one request. Bodies that are not a single
// request object (batches, scalars, garbage) become a request without a
// query, and the engine reports the missing query in the response.
func (b *Bridge) decode(ctx context.Context, msg transport.Message) engine.Params {
	req, err := codec.DecodeRequest(msg.ContentType, msg.Body)
	if err != nil {
		b.logger.Debug("message body is not a request object", "message_id", msg.ID, "error", err)
	}
	return b.params(ctx, []codec.Request{req}, false)[0]
}

// params assembles the engine input for each request. batched is false for
// every caller while messages carry a single request.
func (b *Bridge) params(ctx context.Context, reqs []codec.Request, batched bool) []engine.Params {
	out := make([]engine.Params, len(reqs))
	for i, req := range reqs {
		p := engine.Params{
			Schema:          b.opts.Schema,
			Query:           req.Query,
			Variables:       req.Variables,
			Context:         requestContext(b.opts.Context, batched),
			RootValue:       b.opts.RootValue,
			OperationName:   req.OperationName,
			ValidationRules: b.opts.ValidationRules,
			FormatError:     b.opts.FormatError,
			FormatResponse:  b.opts.FormatResponse,
			Debug:           b.opts.Debug,
		}
		if b.opts.FormatParams != nil {
			p = b.opts.FormatParams(ctx, p)
		}
		out[i] = p
	}
	return out
}

// requestContext shares v by reference unless requests are batched, in which
// case map contexts are shallow-copied so requests in one batch do not see
// each other's writes.
func requestContext(v any, batched bool) any {
	if !batched {
		return v
	}
	if m, ok := v.(map[string]any); ok {
		return maps.Clone(m)
	}
	return v
}
