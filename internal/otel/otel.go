package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/gqlamqp/internal/eventbus"
	events "github.com/hanpama/gqlamqp/internal/events"
	reqid "github.com/hanpama/gqlamqp/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const tracerName = "gqlamqp"

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(ctx context.Context, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Register(eventbus.Current(), tp.Tracer(tracerName))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Register turns bus events into spans from tracer: one "amqp.process" span
// per message with a "graphql.operation" child, plus short spans for
// subscription failures. It returns a function removing the subscribers.
func Register(bus *eventbus.Bus, tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register(bus)
}

type subscriber struct {
	tracer   trace.Tracer
	msgSpans sync.Map // rid -> trace.Span
	gqlSpans sync.Map // rid -> trace.Span
}

func (s *subscriber) register(bus *eventbus.Bus) func() {
	offs := []func(){
		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.MessageReceived) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "amqp.process", trace.WithSpanKind(trace.SpanKindConsumer))
			span.SetAttributes(
				semconv.MessagingSystem("rabbitmq"),
				semconv.MessagingOperationProcess,
				semconv.MessagingDestinationName(e.Topic),
				semconv.MessagingMessageID(e.MessageID),
				semconv.MessagingMessagePayloadSizeBytes(e.Size),
				attribute.String("messaging.content_type", e.ContentType),
			)
			s.msgSpans.Store(rid, span)
		}),

		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.MessageProcessed) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.msgSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(attribute.Bool("gqlamqp.dropped", e.Dropped))
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),

		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.GraphQLStart) {
			rid, _ := reqid.FromContext(ctx)
			parent := ctx
			if v, ok := s.msgSpans.Load(rid); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
			_, span := s.tracer.Start(parent, "graphql.operation")
			span.SetAttributes(attribute.String("graphql.operation.name", e.OperationName))
			s.gqlSpans.Store(rid, span)
		}),

		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.GraphQLFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.gqlSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(
				attribute.String("graphql.operation.type", e.OperationType),
				attribute.Bool("graphql.executed", e.Executed),
				attribute.Int("graphql.error_count", len(e.Errors)),
			)
			span.End()
		}),

		eventbus.SubscribeTo(bus, func(ctx context.Context, e events.SubscriptionFailed) {
			_, span := s.tracer.Start(ctx, "amqp."+e.Op)
			span.SetAttributes(semconv.MessagingDestinationName(e.Topic))
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
