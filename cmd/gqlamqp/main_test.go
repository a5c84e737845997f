package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	bridge "github.com/hanpama/gqlamqp/internal/bridge"
	codec "github.com/hanpama/gqlamqp/internal/codec"
	config "github.com/hanpama/gqlamqp/internal/config"
	eventbus "github.com/hanpama/gqlamqp/internal/eventbus"
)

func TestHelp(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, cmdHelp(&buf, nil))
	require.Contains(t, buf.String(), "COMMANDS")

	buf.Reset()
	require.NoError(t, cmdHelp(&buf, []string{"serve"}))
	require.Contains(t, buf.String(), "-in-flight")
	require.Contains(t, buf.String(), "-amqp.prefetch")

	buf.Reset()
	require.NoError(t, cmdHelp(&buf, []string{"publish"}))
	require.Contains(t, buf.String(), "-query")

	buf.Reset()
	require.NoError(t, cmdHelp(&buf, []string{"schema"}))
	require.Contains(t, buf.String(), "-out")

	require.Error(t, cmdHelp(&buf, []string{"nope"}))
}

func TestRun_UnknownCommand(t *testing.T) {
	require.ErrorContains(t, run([]string{"bogus"}), "unknown command")
	require.ErrorContains(t, run(nil), "missing command")
}

func TestParseServe(t *testing.T) {
	t.Setenv("GQLAMQP_TOPIC", "env-topic")
	t.Setenv("GQLAMQP_AMQP_HOST", "rabbit")

	cfg, timeout, err := parseServe([]string{"-transport", "memory", "-in-flight", "discard", "-amqp.port", "5673", "-stop.timeout", "3s"})
	require.NoError(t, err)
	require.Equal(t, "env-topic", cfg.Topic)
	require.Equal(t, config.TransportMemory, cfg.Transport)
	require.Equal(t, config.InFlightDiscard, cfg.InFlight)
	require.Equal(t, "rabbit", cfg.AMQP.Host)
	require.Equal(t, 5673, cfg.AMQP.Port)
	require.Equal(t, 3*time.Second, timeout)

	_, _, err = parseServe([]string{"-transport", "kafka"})
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestParsePublish(t *testing.T) {
	_, err := parsePublish(nil)
	require.ErrorContains(t, err, "-query is required")

	p, err := parsePublish([]string{"-query", "query Q($who: String) { hello(who: $who) }", "-variables", `{"who":"AMQP"}`, "-operation", "Q", "-protobuf"})
	require.NoError(t, err)
	req, ct, err := p.request()
	require.NoError(t, err)
	require.Equal(t, codec.ContentTypeProtobuf, ct)
	require.Equal(t, "Q", req.OperationName)
	require.Equal(t, map[string]any{"who": "AMQP"}, req.Variables)

	p.variables = "[1"
	_, _, err = p.request()
	require.ErrorContains(t, err, "-variables")
}

func TestLoadSchema(t *testing.T) {
	_, err := loadSchema("", true)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "schema.graphql")
	require.NoError(t, os.WriteFile(path, []byte("type Query { hello(who: String): String! }\n"), 0o600))
	_, err = loadSchema(path, true)
	require.NoError(t, err)

	_, err = loadSchema(filepath.Join(t.TempDir(), "absent.graphql"), true)
	require.ErrorContains(t, err, "read schema")

	require.NoError(t, os.WriteFile(path, []byte("type Query {"), 0o600))
	_, err = loadSchema(path, true)
	require.ErrorContains(t, err, "build schema")
}

func TestSchemaCommand(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, cmdSchema(&buf, nil))
	require.Contains(t, buf.String(), "hello(who: String): String!")
	require.NotContains(t, buf.String(), "__schema")

	out := filepath.Join(t.TempDir(), "out.graphql")
	require.NoError(t, cmdSchema(io.Discard, []string{"-out", out}))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, buf.String(), string(b))
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	cfg, err := config.FromMap(map[string]string{"GQLAMQP_TRANSPORT": config.TransportMemory})
	require.NoError(t, err)
	cfg.MetricsAddr = ""

	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.close() })
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServe_Memory(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/healthz").Code)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.run(ctx, time.Second) }()
	require.Eventually(t, func() bool { return a.bridge.State() == bridge.Active }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()

	var out bytes.Buffer
	require.NoError(t, call(callCtx, a.tr, &out, "graphql", codec.Request{Query: `{ hello(who: "AMQP") }`}, codec.ContentTypeJSON))
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, map[string]any{"data": map[string]any{"hello": "Hello AMQP"}}, got)

	out.Reset()
	req := codec.Request{Query: `mutation M($m: String!) { echo(message: $m) }`, Variables: map[string]any{"m": "pb"}}
	require.NoError(t, call(callCtx, a.tr, &out, "graphql", req, codec.ContentTypeProtobuf))
	require.Contains(t, out.String(), `"echo": "pb"`)

	out.Reset()
	require.NoError(t, call(callCtx, a.tr, &out, "graphql", codec.Request{Query: `{ context requestId }`}, codec.ContentTypeJSON))
	got = nil
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	data := got["data"].(map[string]any)
	require.JSONEq(t, `{"service":"gqlamqp","topic":"graphql"}`, data["context"].(string))
	require.NotEmpty(t, data["requestId"])

	out.Reset()
	require.NoError(t, call(callCtx, a.tr, &out, "graphql", codec.Request{Query: `{ __type(name: "Query") { fields { name } } }`}, codec.ContentTypeJSON))
	require.Contains(t, out.String(), `"name": "hello"`)

	require.Eventually(t, func() bool {
		return bytes.Contains(get(t, h, "/metrics").Body.Bytes(), []byte(`gqlamqp_messages_total{outcome="ok",topic="graphql"} 4`))
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	require.Equal(t, bridge.Inactive, a.bridge.State())
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/healthz").Code)
}

func TestCall_Timeout(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// nothing consumes the topic
	err := call(ctx, a.tr, io.Discard, "nobody", codec.Request{Query: "{ now }"}, codec.ContentTypeJSON)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
