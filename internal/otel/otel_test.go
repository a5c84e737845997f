package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	eventbus "github.com/hanpama/gqlamqp/internal/eventbus"
	events "github.com/hanpama/gqlamqp/internal/events"
	reqid "github.com/hanpama/gqlamqp/internal/reqid"
)

func newRecorder(t *testing.T) (*eventbus.Bus, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	bus := eventbus.New()
	off := Register(bus, tp.Tracer("test"))
	t.Cleanup(off)
	return bus, sr
}

func TestMessageSpans(t *testing.T) {
	bus, sr := newRecorder(t)
	ctx, _ := reqid.NewContext(context.Background())

	eventbus.PublishTo(ctx, bus, events.MessageReceived{Topic: "graphql", MessageID: "m-1", Size: 12})
	eventbus.PublishTo(ctx, bus, events.GraphQLStart{Query: "{ test }"})
	eventbus.PublishTo(ctx, bus, events.GraphQLFinish{Query: "{ test }", OperationType: "query", Executed: true})
	eventbus.PublishTo(ctx, bus, events.MessageProcessed{Topic: "graphql", MessageID: "m-1"})

	spans := sr.Ended()
	require.Len(t, spans, 2)
	gql, msg := spans[0], spans[1]
	require.Equal(t, "graphql.operation", gql.Name())
	require.Equal(t, "amqp.process", msg.Name())
	require.Equal(t, msg.SpanContext().SpanID(), gql.Parent().SpanID())
	require.Equal(t, codes.Unset, msg.Status().Code)

	attrs := map[string]any{}
	for _, kv := range msg.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	require.Equal(t, "graphql", attrs["messaging.destination.name"])
	require.Equal(t, "m-1", attrs["messaging.message.id"])
	require.Equal(t, int64(12), attrs["messaging.message.payload_size_bytes"])
}

func TestMessageSpans_Error(t *testing.T) {
	bus, sr := newRecorder(t)
	ctx, _ := reqid.NewContext(context.Background())

	eventbus.PublishTo(ctx, bus, events.MessageReceived{Topic: "graphql"})
	eventbus.PublishTo(ctx, bus, events.MessageProcessed{Topic: "graphql", Err: errors.New("panic")})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Len(t, spans[0].Events(), 1)
}

func TestFinishWithoutStartIsIgnored(t *testing.T) {
	bus, sr := newRecorder(t)
	ctx, _ := reqid.NewContext(context.Background())
	eventbus.PublishTo(ctx, bus, events.GraphQLFinish{})
	eventbus.PublishTo(ctx, bus, events.MessageProcessed{})
	require.Empty(t, sr.Ended())
}

func TestSubscriptionFailedSpan(t *testing.T) {
	bus, sr := newRecorder(t)
	eventbus.PublishTo(context.Background(), bus, events.SubscriptionFailed{Topic: "graphql", Op: "subscribe", Err: errors.New("refused")})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "amqp.subscribe", spans[0].Name())
	require.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "gqlamqp")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
