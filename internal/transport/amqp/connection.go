package amqp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	transport "github.com/hanpama/gqlamqp/internal/transport"
)

// ErrNotConnected is returned while the connection is being re-established.
var ErrNotConnected = errors.New("amqp: not connected")

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Connection is a lazily dialled AMQP connection that reconnects with
// exponential back-off after the broker drops it.
type Connection struct {
	url    string
	logger *slog.Logger
	dial   func(url string) (*amqp.Connection, error)

	mu          sync.RWMutex
	conn        *amqp.Connection
	closed      bool
	closedCh    chan struct{}
	reconnected chan struct{}
}

// NewConnection returns a connection factory for url. Nothing is dialled
// until the first channel is requested.
func NewConnection(url string, logger *slog.Logger) *Connection {
	return &Connection{
		url:         url,
		logger:      logger,
		dial:        amqp.Dial,
		closedCh:    make(chan struct{}),
		reconnected: make(chan struct{}),
	}
}

// Channel opens a new channel, dialling first if there is no live
// connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// Reconnected returns a channel that is closed at the next successful
// reconnect. Grab it before trying to use the connection so a reconnect
// in between is not missed.
func (c *Connection) Reconnected() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// Closed is closed by Close.
func (c *Connection) Closed() <-chan struct{} { return c.closedCh }

// IsConnected reports whether a live connection exists.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close closes the connection and stops reconnecting.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	c.logger.Info("connection closed")
	return nil
}

func (c *Connection) connection() (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, transport.ErrClosed
	}
	if c.conn != nil {
		if c.conn.IsClosed() {
			// the watcher owns redialling
			return nil, ErrNotConnected
		}
		return c.conn, nil
	}
	conn, err := c.dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	c.conn = conn
	c.logger.Info("connected to RabbitMQ")
	go c.watch()
	return conn, nil
}

// watch waits for the connection to drop and reconnects.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.closedCh:
			return
		case err := <-notifyClose:
			if err != nil {
				c.logger.Warn("connection closed", "error", err)
			}
			if !c.reconnect() {
				return
			}
		}
	}
}

func (c *Connection) reconnect() bool {
	delay := minReconnectDelay
	for {
		c.logger.Info("attempting to reconnect", "delay", delay)
		select {
		case <-c.closedCh:
			return false
		case <-time.After(delay):
		}

		conn, err := c.dial(c.url)
		if err != nil {
			c.logger.Warn("reconnect failed", "error", err)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return false
		}
		c.conn = conn
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()

		c.logger.Info("reconnected to RabbitMQ")
		return true
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, amqp.ErrClosed) || errors.Is(err, transport.ErrClosed)
}
