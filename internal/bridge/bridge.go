// Package bridge subscribes to a topic and runs every delivered message as a
// GraphQL request, handing the formatted response to a callback.
//
// A Bridge moves through Uninitialized, Subscribing, Active, Unsubscribing
// and Inactive. It is started once and stopped once. Messages are processed
// concurrently with no ordering between their callbacks. A message that
// fails (engine misuse, a panic, a failing callback) is rejected on its own
// and never affects the subscription or other messages.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	engine "github.com/hanpama/gqlamqp/internal/engine"
	eventbus "github.com/hanpama/gqlamqp/internal/eventbus"
	events "github.com/hanpama/gqlamqp/internal/events"
	logging "github.com/hanpama/gqlamqp/internal/logging"
	reqid "github.com/hanpama/gqlamqp/internal/reqid"
	transport "github.com/hanpama/gqlamqp/internal/transport"
	amqp "github.com/hanpama/gqlamqp/internal/transport/amqp"
)

var (
	ErrMissingOptions = errors.New("bridge: options are required")
	ErrMissingSchema  = errors.New("bridge: options must include a schema")
	ErrAlreadyStarted = errors.New("bridge: already started")
	ErrNotStarted     = errors.New("bridge: not started")
	ErrStopped        = errors.New("bridge: stopped")
	ErrSubscribe      = errors.New("bridge: subscribe failed")
	ErrPanic          = errors.New("bridge: pipeline panicked")
)

// State is the lifecycle state of a Bridge.
type State int32

const (
	Uninitialized State = iota
	Subscribing
	Active
	Unsubscribing
	Inactive
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Unsubscribing:
		return "unsubscribing"
	case Inactive:
		return "inactive"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Bridge runs GraphQL requests delivered on one topic.
type Bridge struct {
	opts      Options
	logger    *slog.Logger
	transport transport.Transport

	mu       sync.Mutex
	state    State
	sub      transport.Subscription
	cb       Callback
	stopping bool
	inflight int
	drained  chan struct{}
	onStop   []*stopHook

	// deliver is held shared while a callback runs so DiscardInFlight can
	// wait out callbacks that began before Stop.
	deliver sync.RWMutex
}

type stopHook struct{ fn func() }

// New validates opts and builds a Bridge. Nothing is dialled or subscribed
// until Start.
func New(opts *Options) (*Bridge, error) {
	if opts == nil {
		return nil, ErrMissingOptions
	}
	if opts.Schema == nil {
		return nil, ErrMissingSchema
	}
	o := *opts
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.Child(logger, loggerChild, loggerClass).With("topic", o.Topic)

	tr := o.Transport
	if tr == nil {
		tr = amqp.New(logger, o.Connection)
	}
	return &Bridge{opts: o, logger: logger, transport: tr}, nil
}

// Topic returns the effective topic.
func (b *Bridge) Topic() string { return b.opts.Topic }

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start opens the subscription and returns once it is live. cb may be nil.
// Start is valid only once; a failed Start leaves the bridge Uninitialized
// so it can be retried.
func (b *Bridge) Start(ctx context.Context, cb Callback) error {
	b.mu.Lock()
	switch b.state {
	case Uninitialized:
	case Inactive:
		b.mu.Unlock()
		return ErrStopped
	default:
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.cb = cb
	from := b.transition(Subscribing)
	b.mu.Unlock()
	b.changed(ctx, from, Subscribing)

	sub, err := b.transport.Subscribe(ctx, b.opts.Topic, b.handle)
	if err != nil {
		b.logger.Error("failed to subscribe", "error", err)
		eventbus.Publish(ctx, events.SubscriptionFailed{Topic: b.opts.Topic, Op: "subscribe", Err: err})
		b.mu.Lock()
		b.cb = nil
		from = b.transition(Uninitialized)
		b.mu.Unlock()
		b.changed(ctx, from, Uninitialized)
		return fmt.Errorf("%w: %s: %w", ErrSubscribe, b.opts.Topic, err)
	}

	b.mu.Lock()
	b.sub = sub
	from = b.transition(Active)
	b.mu.Unlock()
	b.changed(ctx, from, Active)
	b.logger.Info("subscribed")
	return nil
}

// Stop cancels the subscription. A failing cancellation is logged and not
// returned. With DeliverInFlight, Stop then waits for running pipelines
// until ctx is done. Stop before Start returns ErrNotStarted; a second Stop
// returns ErrStopped.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case Active:
	case Unsubscribing, Inactive:
		b.mu.Unlock()
		return ErrStopped
	default:
		b.mu.Unlock()
		return ErrNotStarted
	}
	sub := b.sub
	b.stopping = true
	from := b.transition(Unsubscribing)
	b.mu.Unlock()
	b.changed(ctx, from, Unsubscribing)

	if err := sub.Cancel(ctx); err != nil {
		b.logger.Error("failed to cancel subscription", "error", err)
		eventbus.Publish(ctx, events.SubscriptionFailed{Topic: b.opts.Topic, Op: "unsubscribe", Err: err})
	} else {
		b.logger.Log(ctx, logging.LevelTrace, "subscription cancelled")
	}

	switch b.opts.InFlight {
	case DiscardInFlight:
		if err := b.barrier(ctx); err != nil {
			b.logger.Warn("stopped while a callback was still running", "error", err)
		}
	default:
		if err := b.wait(ctx); err != nil {
			b.logger.Warn("stopped before in-flight messages finished", "error", err)
		}
	}

	b.mu.Lock()
	b.sub = nil
	onStop := b.onStop
	b.onStop = nil
	from = b.transition(Inactive)
	b.mu.Unlock()
	b.changed(ctx, from, Inactive)
	for _, h := range onStop {
		h.fn()
	}
	return nil
}

// Stream starts the bridge and returns its responses as a channel. The
// channel is closed when Stop returns. Pipelines block while the channel is
// full.
func (b *Bridge) Stream(ctx context.Context, buffer int) (<-chan *engine.Response, error) {
	out := make(chan *engine.Response, buffer)
	done := make(chan struct{})
	var mu sync.RWMutex
	closed := false

	send := func(ctx context.Context, _ transport.Message, resp *engine.Response) error {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return ErrStopped
		}
		select {
		case out <- resp:
			return nil
		case <-done:
			return ErrStopped
		}
	}

	hook := &stopHook{fn: func() {
		close(done)
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}}
	b.mu.Lock()
	b.onStop = append(b.onStop, hook)
	b.mu.Unlock()

	if err := b.Start(ctx, send); err != nil {
		b.mu.Lock()
		b.onStop = slices.DeleteFunc(b.onStop, func(h *stopHook) bool { return h == hook })
		b.mu.Unlock()
		return nil, err
	}
	return out, nil
}

// handle is the transport handler: decode, execute, format, deliver.
func (b *Bridge) handle(ctx context.Context, msg transport.Message) (err error) {
	cb, ok := b.enter()
	if !ok {
		return fmt.Errorf("%w: %w", ErrStopped, transport.ErrRedeliver)
	}
	defer b.leave()

	ctx, rid := reqid.NewContext(ctx)
	logger := b.logger.With("request_id", rid, "message_id", msg.ID)
	ctx = logging.WithLogger(ctx, logger)
	start := time.Now()
	eventbus.Publish(ctx, events.MessageReceived{
		Topic:       b.opts.Topic,
		MessageID:   msg.ID,
		ContentType: msg.ContentType,
		Size:        len(msg.Body),
	})
	dropped := false
	defer func() {
		eventbus.Publish(ctx, events.MessageProcessed{
			Topic:     b.opts.Topic,
			MessageID: msg.ID,
			Err:       err,
			Dropped:   dropped,
			Duration:  time.Since(start),
		})
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			logger.Error("pipeline panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	resp, err := engine.Execute(ctx, b.decode(ctx, msg))
	if err != nil {
		logger.Error("query execution failed", "error", err)
		return fmt.Errorf("execute: %w", err)
	}
	b.deliver.RLock()
	defer b.deliver.RUnlock()
	if b.discarding() {
		dropped = true
		logger.Debug("dropping result finished after stop")
		return nil
	}
	if cb == nil {
		return nil
	}
	if err := cb(ctx, msg, resp); err != nil {
		logger.Error("callback failed", "error", err)
		return fmt.Errorf("callback: %w", err)
	}
	return nil
}

// enter admits a delivery. Once Stop has begun nothing new is admitted, so
// deliveries still arriving while the subscription is cancelled go back to
// the broker.
func (b *Bridge) enter() (Callback, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return nil, false
	}
	switch b.state {
	case Subscribing, Active:
		b.inflight++
		return b.cb, true
	default:
		return nil, false
	}
}

func (b *Bridge) leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight--
	if b.inflight == 0 && b.drained != nil {
		close(b.drained)
		b.drained = nil
	}
}

func (b *Bridge) wait(ctx context.Context) error {
	b.mu.Lock()
	if b.inflight == 0 {
		b.mu.Unlock()
		return nil
	}
	if b.drained == nil {
		b.drained = make(chan struct{})
	}
	drained := b.drained
	b.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// barrier returns once no callback that started before Stop is running.
func (b *Bridge) barrier(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.deliver.Lock()
		b.deliver.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) discarding() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopping && b.opts.InFlight == DiscardInFlight
}

// transition must be called with mu held.
func (b *Bridge) transition(to State) State {
	from := b.state
	b.state = to
	return from
}

func (b *Bridge) changed(ctx context.Context, from, to State) {
	b.logger.Debug("state changed", "from", from.String(), "to", to.String())
	eventbus.Publish(ctx, events.SubscriptionStateChanged{Topic: b.opts.Topic, From: from.String(), To: to.String()})
}
