package bridge

import (
	"context"
	"log/slog"

	engine "github.com/hanpama/gqlamqp/internal/engine"
	transport "github.com/hanpama/gqlamqp/internal/transport"
	amqp "github.com/hanpama/gqlamqp/internal/transport/amqp"
)

// DefaultTopic is the topic used when Options.Topic is empty.
const DefaultTopic = "graphql"

// Logger attributes identifying the bridge in shared logs.
const (
	loggerChild = "graphql-server-amqp"
	loggerClass = "AmqpSubscriptionServer"
)

// InFlightPolicy decides what happens to pipelines still running when Stop
// is called.
type InFlightPolicy int

const (
	// DeliverInFlight lets running pipelines finish and invoke the callback.
	// Stop returns after they have. Values other than DiscardInFlight behave
	// the same way.
	DeliverInFlight InFlightPolicy = iota
	// DiscardInFlight drops results that complete after Stop began.
	DiscardInFlight
)

func (p InFlightPolicy) String() string {
	switch p {
	case DeliverInFlight:
		return "deliver"
	case DiscardInFlight:
		return "discard"
	default:
		return "unknown"
	}
}

// Callback receives the formatted response for one message. A returned
// error rejects the message at the transport.
type Callback func(ctx context.Context, msg transport.Message, resp *engine.Response) error

// Options configure a Bridge. Schema is required.
type Options struct {
	Schema *engine.Schema

	// Topic to subscribe to. Defaults to DefaultTopic.
	Topic string

	// Connection is used to build an AMQP transport when Transport is nil.
	// Empty fields take the amqp package defaults (127.0.0.1:5672).
	Connection amqp.Config
	Transport  transport.Transport

	Logger *slog.Logger

	// Context is passed to every request. It is shared by reference across
	// concurrent messages; callers own any synchronization it needs.
	Context   any
	RootValue any

	ValidationRules []engine.ValidationRule
	FormatError     engine.ErrorFormatter
	FormatResponse  engine.ResponseFormatter

	// FormatParams receives each assembled request. Its result replaces it.
	FormatParams func(ctx context.Context, p engine.Params) engine.Params

	Debug    bool
	InFlight InFlightPolicy
}
