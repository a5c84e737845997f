// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrInvalid is wrapped by Validate errors.
var ErrInvalid = errors.New("config: invalid")

// Transports.
const (
	TransportAMQP   = "amqp"
	TransportMemory = "memory"
)

// In-flight policies.
const (
	InFlightDeliver = "deliver"
	InFlightDiscard = "discard"
)

type Config struct {
	Topic     string `env:"GQLAMQP_TOPIC" envDefault:"graphql"`
	Transport string `env:"GQLAMQP_TRANSPORT" envDefault:"amqp"`
	// SchemaFile is an SDL file served instead of the built-in demo schema.
	SchemaFile string `env:"GQLAMQP_SCHEMA"`
	Debug      bool   `env:"GQLAMQP_DEBUG"`
	InFlight   string `env:"GQLAMQP_IN_FLIGHT" envDefault:"deliver"`
	// Introspection enables the __schema and __type meta fields.
	Introspection bool `env:"GQLAMQP_INTROSPECTION" envDefault:"true"`

	AMQP AMQP
	Log  Log

	// MetricsAddr serves /metrics and /healthz. Empty disables the listener.
	MetricsAddr  string `env:"GQLAMQP_METRICS_ADDR" envDefault:":9090"`
	OTelEndpoint string `env:"GQLAMQP_OTEL_ENDPOINT"`
	OTelService  string `env:"GQLAMQP_OTEL_SERVICE" envDefault:"gqlamqp"`
}

type AMQP struct {
	Host     string `env:"GQLAMQP_AMQP_HOST" envDefault:"127.0.0.1"`
	Port     int    `env:"GQLAMQP_AMQP_PORT" envDefault:"5672"`
	User     string `env:"GQLAMQP_AMQP_USER" envDefault:"guest"`
	Password string `env:"GQLAMQP_AMQP_PASSWORD" envDefault:"guest"`
	VHost    string `env:"GQLAMQP_AMQP_VHOST" envDefault:"/"`
	Prefetch int    `env:"GQLAMQP_AMQP_PREFETCH" envDefault:"16"`
	Durable  bool   `env:"GQLAMQP_AMQP_DURABLE"`
}

type Log struct {
	Level  string `env:"GQLAMQP_LOG_LEVEL" envDefault:"info"`
	Format string `env:"GQLAMQP_LOG_FORMAT" envDefault:"json"`
}

// Load reads the given .env files (".env" when none are named; missing
// files are skipped), then parses the environment. Variables already set in
// the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// FromMap parses cfg from vars instead of the process environment.
func FromMap(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerated values.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportAMQP, TransportMemory:
	default:
		return fmt.Errorf("%w: transport %q (want %s or %s)", ErrInvalid, c.Transport, TransportAMQP, TransportMemory)
	}
	switch c.InFlight {
	case InFlightDeliver, InFlightDiscard:
	default:
		return fmt.Errorf("%w: in-flight policy %q (want %s or %s)", ErrInvalid, c.InFlight, InFlightDeliver, InFlightDiscard)
	}
	if c.Topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalid)
	}
	return nil
}
