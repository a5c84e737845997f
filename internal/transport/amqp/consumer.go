package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	transport "github.com/hanpama/gqlamqp/internal/transport"
)

var errConsumerStopped = errors.New("amqp: consumer stopped")

// consumer is one Subscribe call. It owns a channel per connection
// generation and re-registers itself after reconnects.
type consumer struct {
	topic   string
	tag     string
	cfg     Config
	conn    *Connection
	logger  *slog.Logger
	handler transport.Handler
	base    context.Context

	mu        sync.Mutex
	ch        *amqp.Channel
	cancelled bool

	handlers sync.WaitGroup
	stopped  chan struct{}
	done     chan struct{}
}

func (c *consumer) setup() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	if _, err := declareQueue(ch, c.topic, c.cfg.Durable); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(
		c.topic, // queue
		c.tag,   // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		_ = ch.Close()
		return nil, errConsumerStopped
	}
	c.ch = ch
	return deliveries, nil
}

func (c *consumer) run(deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	c.logger.Info("consumer started")
	for {
		for d := range deliveries {
			c.handlers.Add(1)
			go func() {
				defer c.handlers.Done()
				handleDelivery(c.base, c.logger, c.topic, c.handler, d)
			}()
		}

		// deliveries closed: cancelled, or the connection went away
		var err error
		deliveries, err = c.restart()
		if err != nil {
			return
		}
	}
}

func (c *consumer) restart() (<-chan amqp.Delivery, error) {
	for {
		select {
		case <-c.stopped:
			return nil, errConsumerStopped
		default:
		}
		reconnected := c.conn.Reconnected()
		deliveries, err := c.setup()
		if err == nil {
			c.logger.Info("consumer restarted")
			return deliveries, nil
		}
		if errors.Is(err, errConsumerStopped) || errors.Is(err, transport.ErrClosed) {
			return nil, err
		}
		c.logger.Warn("deliveries channel closed, waiting for reconnect", "error", err)
		select {
		case <-c.stopped:
			return nil, errConsumerStopped
		case <-c.conn.Closed():
			return nil, transport.ErrClosed
		case <-reconnected:
		}
	}
}

// cancel stops the broker from delivering more messages. The channel stays
// open until handlers already running have acked.
func (c *consumer) cancel(ctx context.Context) error {
	c.mu.Lock()
	c.cancelled = true
	ch := c.ch
	c.mu.Unlock()
	close(c.stopped)

	var err error
	if ch != nil && !ch.IsClosed() {
		if cerr := ch.Cancel(c.tag, false); cerr != nil && !isClosedErr(cerr) {
			err = fmt.Errorf("cancel consumer %s: %w", c.tag, cerr)
			_ = ch.Close()
		}
	}

	go func() {
		<-c.done
		c.handlers.Wait()
		c.mu.Lock()
		ch := c.ch
		c.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
	}()

	select {
	case <-c.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	if err == nil {
		c.logger.Info("consumer cancelled")
	}
	return err
}

// handleDelivery runs h for one delivery, acking on success and rejecting
// without requeue on failure. Errors wrapping transport.ErrRedeliver requeue.
func handleDelivery(ctx context.Context, logger *slog.Logger, topic string, h transport.Handler, d amqp.Delivery) {
	msg := fromDelivery(topic, d)
	logger.Debug("received message", "message_id", msg.ID, "content_type", msg.ContentType)

	if err := h(ctx, msg); err != nil {
		requeue := errors.Is(err, transport.ErrRedeliver)
		logger.Error("handler failed", "message_id", msg.ID, "requeue", requeue, "error", err)
		if nerr := d.Nack(false, requeue); nerr != nil {
			logger.Warn("nack failed", "message_id", msg.ID, "error", nerr)
		}
		return
	}
	if aerr := d.Ack(false); aerr != nil {
		logger.Warn("ack failed", "message_id", msg.ID, "error", aerr)
	}
}
