package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	bridge "github.com/hanpama/gqlamqp/internal/bridge"
	codec "github.com/hanpama/gqlamqp/internal/codec"
	config "github.com/hanpama/gqlamqp/internal/config"
	eventbus "github.com/hanpama/gqlamqp/internal/eventbus"
	logging "github.com/hanpama/gqlamqp/internal/logging"
	metrics "github.com/hanpama/gqlamqp/internal/metrics"
	otel "github.com/hanpama/gqlamqp/internal/otel"
	schema "github.com/hanpama/gqlamqp/internal/schema"
	transport "github.com/hanpama/gqlamqp/internal/transport"
	amqp "github.com/hanpama/gqlamqp/internal/transport/amqp"
	memory "github.com/hanpama/gqlamqp/internal/transport/memory"
)

const rootUsage = `gqlamqp: GraphQL over AMQP

USAGE:
  gqlamqp <command> [flags]

COMMANDS:
  serve            Answer GraphQL requests published to a queue
  publish          Send one request and print the reply
  schema           Print the SDL a serve command would answer for
  help             Show help for any command

Every flag defaults to its GQLAMQP_* environment variable, which may also be
set in a .env file in the working directory.
`

const serveUsage = `serve FLAGS:
  -topic <name>                 Queue to consume (default: graphql)
  -transport amqp|memory        Message transport (default: amqp)
  -schema <file>                SDL file to serve instead of the demo schema
  -debug                        Include stack traces in error responses
  -introspection <bool>         Answer __schema and __type (default: true)
  -in-flight deliver|discard    What Stop does with running requests (default: deliver)
  -metrics.addr <addr>          Serve /metrics and /healthz; empty disables (default: :9090)
  -otel.endpoint <addr>         OTLP collector endpoint
  -otel.service <name>          OpenTelemetry service name (default: gqlamqp)
  -log.level <level>            trace, debug, info, warn or error (default: info)
  -log.format json|text         Log format (default: json)
  -stop.timeout <duration>      Graceful stop bound (default: 10s)
` + amqpUsage

const publishUsage = `publish FLAGS:
  -topic <name>                 Queue to publish to (default: graphql)
  -query <document>             GraphQL document (required)
  -variables <json>             Variables as a JSON object
  -operation <name>             Operation name
  -protobuf                     Encode the request as application/x-protobuf
  -timeout <duration>           Reply timeout (default: 10s)
` + amqpUsage

const schemaUsage = `schema FLAGS:
  -schema <file>                SDL file; the demo schema when omitted
  -out <file>                   Write SDL to file (default: stdout)
`

const amqpUsage = `  -amqp.host <host>             Broker host (default: 127.0.0.1)
  -amqp.port <port>             Broker port (default: 5672)
  -amqp.user <name>             Broker user (default: guest)
  -amqp.password <password>     Broker password (default: guest)
  -amqp.vhost <vhost>           Virtual host (default: /)
  -amqp.prefetch <n>            Unacked deliveries per consumer (default: 16)
  -amqp.durable                 Declare durable queues and persistent messages
`

const stopTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("gqlamqp failed", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("gqlamqp", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "publish":
		return cmdPublish(cmdArgs)
	case "schema":
		return cmdSchema(os.Stdout, cmdArgs)
	case "help":
		return cmdHelp(os.Stdout, cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(w io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(w, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(w, serveUsage)
	case "publish":
		fmt.Fprint(w, publishUsage)
	case "schema":
		fmt.Fprint(w, schemaUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func bindAMQP(fs *flag.FlagSet, c *config.AMQP) {
	fs.StringVar(&c.Host, "amqp.host", c.Host, "Broker host")
	fs.IntVar(&c.Port, "amqp.port", c.Port, "Broker port")
	fs.StringVar(&c.User, "amqp.user", c.User, "Broker user")
	fs.StringVar(&c.Password, "amqp.password", c.Password, "Broker password")
	fs.StringVar(&c.VHost, "amqp.vhost", c.VHost, "Virtual host")
	fs.IntVar(&c.Prefetch, "amqp.prefetch", c.Prefetch, "Unacked deliveries per consumer")
	fs.BoolVar(&c.Durable, "amqp.durable", c.Durable, "Durable queues")
}

func amqpConfig(c config.AMQP) amqp.Config {
	return amqp.Config{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		VHost:    c.VHost,
		Prefetch: c.Prefetch,
		Durable:  c.Durable,
	}
}

func parseServe(args []string) (config.Config, time.Duration, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, 0, err
	}
	timeout := stopTimeout
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&cfg.Topic, "topic", cfg.Topic, "Queue to consume")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Message transport")
	fs.StringVar(&cfg.SchemaFile, "schema", cfg.SchemaFile, "SDL file")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Debug error formatting")
	fs.BoolVar(&cfg.Introspection, "introspection", cfg.Introspection, "Enable introspection")
	fs.StringVar(&cfg.InFlight, "in-flight", cfg.InFlight, "In-flight policy")
	fs.StringVar(&cfg.MetricsAddr, "metrics.addr", cfg.MetricsAddr, "Metrics listen address")
	fs.StringVar(&cfg.OTelEndpoint, "otel.endpoint", cfg.OTelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&cfg.OTelService, "otel.service", cfg.OTelService, "OpenTelemetry service name")
	fs.StringVar(&cfg.Log.Level, "log.level", cfg.Log.Level, "Log level")
	fs.StringVar(&cfg.Log.Format, "log.format", cfg.Log.Format, "Log format")
	fs.DurationVar(&timeout, "stop.timeout", timeout, "Graceful stop bound")
	bindAMQP(fs, &cfg.AMQP)
	if err := fs.Parse(args); err != nil {
		return cfg, 0, err
	}
	return cfg, timeout, cfg.Validate()
}

func cmdServe(args []string) error {
	cfg, timeout, err := parseServe(args)
	if err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	logger, err := logging.Setup(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(ctx, cfg.OTelEndpoint, cfg.OTelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()
	return a.run(ctx, timeout)
}

// messaging is what both transports provide.
type messaging interface {
	transport.Transport
	transport.Publisher
	transport.Caller
	io.Closer
}

func newMessaging(cfg config.Config, logger *slog.Logger) messaging {
	if cfg.Transport == config.TransportMemory {
		return memory.New(logger, memory.Options{})
	}
	return amqp.New(logger, amqpConfig(cfg.AMQP))
}

// app is one running bridge with its transport and metrics.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	tr       messaging
	bridge   *bridge.Bridge
	registry *prometheus.Registry
	offs     []func()
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	sch, err := loadSchema(cfg.SchemaFile, cfg.Introspection)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a := &app{cfg: cfg, logger: logger, registry: reg}
	if bus := eventbus.Current(); bus != nil {
		a.offs = append(a.offs, metrics.New(reg).Register(bus))
	}

	policy := bridge.DeliverInFlight
	if cfg.InFlight == config.InFlightDiscard {
		policy = bridge.DiscardInFlight
	}
	a.tr = newMessaging(cfg, logger)
	a.bridge, err = bridge.New(&bridge.Options{
		Schema:    sch,
		Topic:     cfg.Topic,
		Transport: a.tr,
		Logger:    logger,
		Context:   map[string]any{"service": cfg.OTelService, "topic": cfg.Topic},
		Debug:     cfg.Debug,
		InFlight:  policy,
	})
	if err != nil {
		_ = a.tr.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s := a.bridge.State(); s != bridge.Active {
			http.Error(w, s.String(), http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

// run starts the bridge, blocks until ctx is done and stops it within
// timeout.
func (a *app) run(ctx context.Context, timeout time.Duration) error {
	var srv *http.Server
	if a.cfg.MetricsAddr != "" {
		srv = &http.Server{Addr: a.cfg.MetricsAddr, Handler: a.handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics listener failed", "addr", a.cfg.MetricsAddr, "err", err)
			}
		}()
	}

	if err := a.bridge.Start(ctx, bridge.Reply(a.tr)); err != nil {
		if srv != nil {
			_ = srv.Close()
		}
		return err
	}
	a.logger.Info("serving GraphQL", "topic", a.cfg.Topic, "transport", a.cfg.Transport, "metrics", a.cfg.MetricsAddr)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := a.bridge.Stop(stopCtx)
	if srv != nil {
		_ = srv.Shutdown(stopCtx)
	}
	return err
}

func (a *app) close() error {
	for _, off := range a.offs {
		off()
	}
	return a.tr.Close()
}

type publishFlags struct {
	topic     string
	query     string
	variables string
	operation string
	protobuf  bool
	timeout   time.Duration
	amqp      config.AMQP
}

func parsePublish(args []string) (publishFlags, error) {
	cfg, err := config.Load()
	if err != nil {
		return publishFlags{}, err
	}
	p := publishFlags{topic: cfg.Topic, timeout: 10 * time.Second, amqp: cfg.AMQP}
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&p.topic, "topic", p.topic, "Queue to publish to")
	fs.StringVar(&p.query, "query", p.query, "GraphQL document")
	fs.StringVar(&p.variables, "variables", p.variables, "Variables as JSON")
	fs.StringVar(&p.operation, "operation", p.operation, "Operation name")
	fs.BoolVar(&p.protobuf, "protobuf", p.protobuf, "Protobuf request body")
	fs.DurationVar(&p.timeout, "timeout", p.timeout, "Reply timeout")
	bindAMQP(fs, &p.amqp)
	if err := fs.Parse(args); err != nil {
		return p, err
	}
	if p.query == "" {
		return p, fmt.Errorf("-query is required")
	}
	return p, nil
}

func (p publishFlags) request() (codec.Request, string, error) {
	req := codec.Request{Query: p.query, OperationName: p.operation}
	if p.variables != "" {
		if err := json.Unmarshal([]byte(p.variables), &req.Variables); err != nil {
			return req, "", fmt.Errorf("-variables: %w", err)
		}
	}
	ct := codec.ContentTypeJSON
	if p.protobuf {
		ct = codec.ContentTypeProtobuf
	}
	return req, ct, nil
}

func cmdPublish(args []string) error {
	p, err := parsePublish(args)
	if err != nil {
		fmt.Fprint(os.Stderr, publishUsage)
		return err
	}
	req, ct, err := p.request()
	if err != nil {
		return err
	}
	logger, err := logging.Setup(logging.Config{Level: "warn", Format: "text"})
	if err != nil {
		return err
	}
	tr := amqp.New(logger, amqpConfig(p.amqp))
	defer func() { _ = tr.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return call(ctx, tr, os.Stdout, p.topic, req, ct)
}

// call sends req to topic and writes the decoded reply to w as indented
// JSON.
func call(ctx context.Context, c transport.Caller, w io.Writer, topic string, req codec.Request, contentType string) error {
	body, err := codec.EncodeRequest(contentType, req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	reply, err := c.Call(ctx, topic, transport.Message{Body: body, ContentType: contentType})
	if err != nil {
		return fmt.Errorf("call %s: %w", topic, err)
	}
	resp, err := codec.DecodeResponse(reply.ContentType, reply.Body)
	if err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
	return err
}

func cmdSchema(w io.Writer, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	outFile := ""
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&cfg.SchemaFile, "schema", cfg.SchemaFile, "SDL file")
	fs.StringVar(&outFile, "out", outFile, "Write SDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, schemaUsage)
		return err
	}

	sch, err := loadSchema(cfg.SchemaFile, false)
	if err != nil {
		return err
	}
	sdl := schema.Render(sch.Types())
	if outFile == "" {
		_, err := io.WriteString(w, sdl)
		return err
	}
	return os.WriteFile(outFile, []byte(sdl), 0o644)
}
