// Package transport defines the message transport contract the bridge
// consumes. Adapters live in the amqp and memory subpackages.
package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrCancelled is returned by Subscription.Cancel after the first call.
	ErrCancelled = errors.New("transport: subscription already cancelled")
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")
	// ErrRedeliver, wrapped in a handler error, asks the adapter to hand the
	// message back to the broker instead of rejecting it.
	ErrRedeliver = errors.New("transport: redeliver")
)

// Message is one delivery or one outgoing publication.
type Message struct {
	ID            string
	Topic         string
	Body          []byte
	ContentType   string
	ReplyTo       string
	CorrelationID string
	Headers       map[string]string
}

// Handler processes one delivered message. A non-nil error rejects the
// delivery; how that is signalled to the broker is up to the adapter.
// Handlers run concurrently.
type Handler func(ctx context.Context, msg Message) error

// Transport opens subscriptions on topics.
type Transport interface {
	// Subscribe starts delivering messages published to topic. It returns
	// once the subscription is live.
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
}

// Publisher sends messages to a topic or to a reply address.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Caller publishes msg to topic and waits for the reply carrying the same
// correlation id.
type Caller interface {
	Call(ctx context.Context, topic string, msg Message) (Message, error)
}

// Subscription is the cancellation handle for one Subscribe call.
type Subscription interface {
	Topic() string
	// Cancel stops delivery of further messages. Handlers already running
	// are not interrupted. Calls after the first return ErrCancelled.
	Cancel(ctx context.Context) error
	Cancelled() bool
	// Done is closed once Cancel has completed.
	Done() <-chan struct{}
}

// NewSubscription builds a Subscription around an adapter's cancel
// function. cancel runs at most once; its error is returned from the first
// Cancel call and the subscription counts as cancelled either way.
func NewSubscription(topic string, cancel func(ctx context.Context) error) Subscription {
	return &subscription{topic: topic, cancel: cancel, done: make(chan struct{})}
}

type subscription struct {
	topic  string
	cancel func(ctx context.Context) error

	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

func (s *subscription) Topic() string { return s.topic }

func (s *subscription) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.cancelled = true
	s.mu.Unlock()
	defer close(s.done)
	if s.cancel == nil {
		return nil
	}
	return s.cancel(ctx)
}

func (s *subscription) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *subscription) Done() <-chan struct{} { return s.done }
