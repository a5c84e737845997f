package bridge

import (
	"context"
	"fmt"

	codec "github.com/hanpama/gqlamqp/internal/codec"
	engine "github.com/hanpama/gqlamqp/internal/engine"
	transport "github.com/hanpama/gqlamqp/internal/transport"
)

// Reply returns a Callback that publishes each response to the message's
// reply address, encoded like the request and tagged with its correlation
// id. Messages without a reply address are ignored.
func Reply(pub transport.Publisher) Callback {
	return func(ctx context.Context, msg transport.Message, resp *engine.Response) error {
		if msg.ReplyTo == "" {
			return nil
		}
		ct := codec.Normalize(msg.ContentType)
		body, err := codec.EncodeResponse(ct, resp)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		return pub.Publish(ctx, msg.ReplyTo, transport.Message{
			Body:          body,
			ContentType:   ct,
			CorrelationID: msg.CorrelationID,
		})
	}
}

// Chain runs callbacks in order and stops at the first error.
func Chain(cbs ...Callback) Callback {
	return func(ctx context.Context, msg transport.Message, resp *engine.Response) error {
		for _, cb := range cbs {
			if cb == nil {
				continue
			}
			if err := cb(ctx, msg, resp); err != nil {
				return err
			}
		}
		return nil
	}
}
