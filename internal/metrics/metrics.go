// Package metrics exports Prometheus metrics derived from bus events.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/gqlamqp/internal/eventbus"
	events "github.com/hanpama/gqlamqp/internal/events"
)

const namespace = "gqlamqp"

// Message outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeDropped = "dropped"
)

// Metrics holds the collectors.
type Metrics struct {
	messages   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inflight   *prometheus.GaugeVec
	operations *prometheus.CounterVec
	active     *prometheus.GaugeVec
	failures   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages processed, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Time from delivery to callback completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		inflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_in_flight",
			Help:      "Messages currently being processed.",
		}, []string{"topic"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graphql_operations_total",
			Help:      "GraphQL operations, by operation type and whether they produced errors.",
		}, []string{"operation_type", "result"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_active",
			Help:      "1 while the topic subscription is active.",
		}, []string{"topic"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_failures_total",
			Help:      "Failed subscribe and unsubscribe attempts.",
		}, []string{"topic", "op"}),
	}
}

// Register subscribes m to bus and returns a function removing it.
func (m *Metrics) Register(bus *eventbus.Bus) (unsubscribe func()) {
	offs := []func(){
		eventbus.SubscribeTo(bus, func(_ context.Context, e events.MessageReceived) {
			m.inflight.WithLabelValues(e.Topic).Inc()
		}),
		eventbus.SubscribeTo(bus, func(_ context.Context, e events.MessageProcessed) {
			m.inflight.WithLabelValues(e.Topic).Dec()
			m.duration.WithLabelValues(e.Topic).Observe(e.Duration.Seconds())
			outcome := OutcomeOK
			switch {
			case e.Err != nil:
				outcome = OutcomeError
			case e.Dropped:
				outcome = OutcomeDropped
			}
			m.messages.WithLabelValues(e.Topic, outcome).Inc()
		}),
		eventbus.SubscribeTo(bus, func(_ context.Context, e events.GraphQLFinish) {
			opType := e.OperationType
			if opType == "" {
				opType = "unknown"
			}
			result := OutcomeOK
			if len(e.Errors) > 0 {
				result = OutcomeError
			}
			m.operations.WithLabelValues(opType, result).Inc()
		}),
		eventbus.SubscribeTo(bus, func(_ context.Context, e events.SubscriptionStateChanged) {
			v := 0.0
			if e.To == "active" {
				v = 1
			}
			m.active.WithLabelValues(e.Topic).Set(v)
		}),
		eventbus.SubscribeTo(bus, func(_ context.Context, e events.SubscriptionFailed) {
			m.failures.WithLabelValues(e.Topic, e.Op).Inc()
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
