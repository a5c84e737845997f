package amqp

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Defaults for a local broker.
const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 5672
	DefaultUsername = "guest"
	DefaultPassword = "guest"
	DefaultVHost    = "/"
	DefaultPrefetch = 16
)

// Config holds broker connection parameters. Zero fields take the defaults
// above.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string

	// Prefetch caps unacknowledged deliveries per subscription, which also
	// caps concurrent handlers.
	Prefetch int

	// Durable declares topic queues durable and publishes persistent
	// messages.
	Durable bool
}

// WithDefaults returns c with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.VHost == "" {
		c.VHost = DefaultVHost
	}
	if c.Prefetch <= 0 {
		c.Prefetch = DefaultPrefetch
	}
	return c
}

// URL renders the dial URL.
func (c Config) URL() string {
	c = c.WithDefaults()
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    c.VHost,
	}.String()
}
