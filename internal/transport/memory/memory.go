// Package memory is an in-process transport built on watermill's GoChannel
// pub/sub. It backs the bridge tests and `gqlamqp serve -transport memory`.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	transport "github.com/hanpama/gqlamqp/internal/transport"
)

// Metadata keys carrying Message fields through watermill messages.
const (
	metaKeyTopic         = "topic"
	metaKeyContentType   = "content_type"
	metaKeyReplyTo       = "reply_to"
	metaKeyCorrelationID = "correlation_id"
)

// Transport implements transport.Transport, transport.Publisher and
// transport.Caller in process.
type Transport struct {
	logger *slog.Logger
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	closed bool
}

// Options tune the underlying GoChannel.
type Options struct {
	// OutputChannelBuffer is the per-subscriber buffer. Zero means unbuffered.
	OutputChannelBuffer int64
}

// New creates an in-memory transport. A nil logger uses slog.Default.
func New(logger *slog.Logger, opts Options) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	// gochannel is chatty at info level
	wl := watermill.NewSlogLoggerWithLevelMapping(logger, map[slog.Level]slog.Level{
		slog.LevelInfo: slog.LevelDebug,
	})
	return &Transport{
		logger: logger,
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: opts.OutputChannelBuffer}, wl),
	}
}

// Subscribe starts a consumer on topic. Messages are acked on receipt and
// each one is handled on its own goroutine, so handler errors are logged
// rather than redelivered. Cancelling the returned subscription stops
// delivery; handlers already running keep their context.
func (t *Transport) Subscribe(ctx context.Context, topic string, h transport.Handler) (transport.Subscription, error) {
	if t.isClosed() {
		return nil, transport.ErrClosed
	}
	base := context.WithoutCancel(ctx)
	subCtx, cancel := context.WithCancel(base)
	messages, err := t.pubsub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("memory: subscribe %s: %w", topic, err)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		for wmMsg := range messages {
			// a nacked gochannel message is resent to the same subscriber
			wmMsg.Ack()
			msg := fromWatermill(topic, wmMsg)
			go func() {
				if err := h(base, msg); err != nil {
					t.logger.Error("failed to handle message", "topic", topic, "msg_id", msg.ID, "error", err)
				}
			}()
		}
		t.logger.Debug("subscription message loop ended", "topic", topic)
	}()

	return transport.NewSubscription(topic, func(ctx context.Context) error {
		cancel()
		select {
		case <-loopDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}), nil
}

// Publish sends msg to topic. With no subscriber on topic the message is
// dropped.
func (t *Transport) Publish(ctx context.Context, topic string, msg transport.Message) error {
	if t.isClosed() {
		return transport.ErrClosed
	}
	msg.Topic = topic
	if err := t.pubsub.Publish(topic, toWatermill(ctx, msg)); err != nil {
		return fmt.Errorf("memory: publish %s: %w", topic, err)
	}
	return nil
}

// Call publishes msg with a private reply topic and waits for the first
// reply whose correlation id matches.
func (t *Transport) Call(ctx context.Context, topic string, msg transport.Message) (transport.Message, error) {
	if t.isClosed() {
		return transport.Message{}, transport.ErrClosed
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	msg.ReplyTo = "reply." + uuid.NewString()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	replies, err := t.pubsub.Subscribe(subCtx, msg.ReplyTo)
	if err != nil {
		return transport.Message{}, fmt.Errorf("memory: subscribe %s: %w", msg.ReplyTo, err)
	}
	if err := t.Publish(ctx, topic, msg); err != nil {
		return transport.Message{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return transport.Message{}, ctx.Err()
		case wmMsg, ok := <-replies:
			if !ok {
				if err := ctx.Err(); err != nil {
					return transport.Message{}, err
				}
				return transport.Message{}, transport.ErrClosed
			}
			wmMsg.Ack()
			reply := fromWatermill(msg.ReplyTo, wmMsg)
			if reply.CorrelationID == msg.CorrelationID {
				return reply, nil
			}
		}
	}
}

// Close shuts the pub/sub down. Open subscriptions stop receiving.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.pubsub.Close()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func toWatermill(ctx context.Context, msg transport.Message) *message.Message {
	id := msg.ID
	if id == "" {
		id = watermill.NewUUID()
	}
	wmMsg := message.NewMessage(id, msg.Body)
	wmMsg.SetContext(context.WithoutCancel(ctx))
	for k, v := range msg.Headers {
		wmMsg.Metadata.Set(k, v)
	}
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	wmMsg.Metadata.Set(metaKeyContentType, msg.ContentType)
	wmMsg.Metadata.Set(metaKeyReplyTo, msg.ReplyTo)
	wmMsg.Metadata.Set(metaKeyCorrelationID, msg.CorrelationID)
	return wmMsg
}

func fromWatermill(topic string, wmMsg *message.Message) transport.Message {
	headers := make(map[string]string)
	for k, v := range wmMsg.Metadata {
		switch k {
		case metaKeyTopic, metaKeyContentType, metaKeyReplyTo, metaKeyCorrelationID:
		default:
			headers[k] = v
		}
	}
	if t := wmMsg.Metadata.Get(metaKeyTopic); t != "" {
		topic = t
	}
	return transport.Message{
		ID:            wmMsg.UUID,
		Topic:         topic,
		Body:          wmMsg.Payload,
		ContentType:   wmMsg.Metadata.Get(metaKeyContentType),
		ReplyTo:       wmMsg.Metadata.Get(metaKeyReplyTo),
		CorrelationID: wmMsg.Metadata.Get(metaKeyCorrelationID),
		Headers:       headers,
	}
}
