// Package amqp is the RabbitMQ transport. Each topic maps to a queue on the
// default exchange; deliveries are acked after the handler returns and
// rejected without requeue when it fails.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	transport "github.com/hanpama/gqlamqp/internal/transport"
)

// DirectReplyTo is RabbitMQ's pseudo-queue for RPC replies.
const DirectReplyTo = "amq.rabbitmq.reply-to"

// Transport implements transport.Transport, transport.Publisher and
// transport.Caller over one AMQP connection.
type Transport struct {
	cfg    Config
	conn   *Connection
	logger *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel
}

// New builds a transport for cfg. No connection is made until the first
// Subscribe, Publish or Call.
func New(logger *slog.Logger, cfg Config) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()
	logger = logger.With("amqp_host", cfg.Host, "amqp_port", cfg.Port)
	return &Transport{
		cfg:    cfg,
		conn:   NewConnection(cfg.URL(), logger),
		logger: logger,
	}
}

// Config returns the effective configuration.
func (t *Transport) Config() Config { return t.cfg }

// Connection exposes the underlying connection, mainly for health checks.
func (t *Transport) Connection() *Connection { return t.conn }

// Subscribe declares the topic queue and starts consuming from it. It
// returns once the first consumer is registered with the broker. After a
// reconnect the consumer is registered again on the new connection.
func (t *Transport) Subscribe(ctx context.Context, topic string, h transport.Handler) (transport.Subscription, error) {
	c := &consumer{
		topic:   topic,
		tag:     "gqlamqp-" + uuid.NewString(),
		cfg:     t.cfg,
		conn:    t.conn,
		logger:  t.logger.With("queue", topic),
		handler: h,
		base:    context.WithoutCancel(ctx),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	deliveries, err := c.setup()
	if err != nil {
		return nil, fmt.Errorf("amqp: subscribe %s: %w", topic, err)
	}
	go c.run(deliveries)
	return transport.NewSubscription(topic, c.cancel), nil
}

// Publish sends msg to the queue named topic through the default exchange.
// Reply addresses such as DirectReplyTo names are valid topics.
func (t *Transport) Publish(ctx context.Context, topic string, msg transport.Message) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	if t.pubCh == nil || t.pubCh.IsClosed() {
		ch, err := t.conn.Channel()
		if err != nil {
			return fmt.Errorf("amqp: publish %s: %w", topic, err)
		}
		t.pubCh = ch
	}
	if err := t.pubCh.PublishWithContext(ctx, "", topic, false, false, toPublishing(msg, t.cfg.Durable)); err != nil {
		return fmt.Errorf("amqp: publish %s: %w", topic, err)
	}
	t.logger.Debug("published message", "routing_key", topic, "message_id", msg.ID)
	return nil
}

// Call publishes msg to topic with DirectReplyTo as its reply address and
// waits for the reply carrying the same correlation id. The topic queue is
// declared first so a request sent before any server started is kept.
func (t *Transport) Call(ctx context.Context, topic string, msg transport.Message) (transport.Message, error) {
	ch, err := t.conn.Channel()
	if err != nil {
		return transport.Message{}, fmt.Errorf("amqp: call %s: %w", topic, err)
	}
	defer ch.Close()

	if _, err := declareQueue(ch, topic, t.cfg.Durable); err != nil {
		return transport.Message{}, fmt.Errorf("amqp: call %s: %w", topic, err)
	}
	// direct reply-to requires consuming in no-ack mode before publishing
	replies, err := ch.Consume(DirectReplyTo, "", true, false, false, false, nil)
	if err != nil {
		return transport.Message{}, fmt.Errorf("amqp: consume %s: %w", DirectReplyTo, err)
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	msg.ReplyTo = DirectReplyTo
	if err := ch.PublishWithContext(ctx, "", topic, false, false, toPublishing(msg, t.cfg.Durable)); err != nil {
		return transport.Message{}, fmt.Errorf("amqp: publish %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return transport.Message{}, ctx.Err()
		case d, ok := <-replies:
			if !ok {
				return transport.Message{}, fmt.Errorf("amqp: call %s: %w", topic, amqp.ErrClosed)
			}
			if d.CorrelationId == msg.CorrelationID {
				return fromDelivery(DirectReplyTo, d), nil
			}
		}
	}
}

// Close closes the connection. Open subscriptions stop receiving.
func (t *Transport) Close() error {
	t.pubMu.Lock()
	if t.pubCh != nil {
		_ = t.pubCh.Close()
		t.pubCh = nil
	}
	t.pubMu.Unlock()
	return t.conn.Close()
}

func declareQueue(ch *amqp.Channel, name string, durable bool) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		name,    // name
		durable, // durable
		false,   // auto-delete
		false,   // exclusive
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return q, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return q, nil
}

func toPublishing(msg transport.Message, durable bool) amqp.Publishing {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	var headers amqp.Table
	if len(msg.Headers) > 0 {
		headers = make(amqp.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			headers[k] = v
		}
	}
	mode := amqp.Transient
	if durable {
		mode = amqp.Persistent
	}
	return amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  mode,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		MessageId:     id,
		Timestamp:     time.Now(),
		Body:          msg.Body,
	}
}

func fromDelivery(topic string, d amqp.Delivery) transport.Message {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = fmt.Sprint(v)
	}
	return transport.Message{
		ID:            d.MessageId,
		Topic:         topic,
		Body:          d.Body,
		ContentType:   d.ContentType,
		ReplyTo:       d.ReplyTo,
		CorrelationID: d.CorrelationId,
		Headers:       headers,
	}
}
