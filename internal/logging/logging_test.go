package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"trace": LevelTrace,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNew_JSONTrace(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "trace"})
	require.NoError(t, err)

	Child(logger, "graphql-server-amqp", "AmqpSubscriptionServer").Log(context.Background(), LevelTrace, "subscription cancelled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "TRACE", line["level"])
	require.Equal(t, "subscription cancelled", line["msg"])
	require.Equal(t, "graphql-server-amqp", line["child"])
	require.Equal(t, "AmqpSubscriptionServer", line["class"])
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "info", Format: "text"})
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "msg=shown")

	_, err = New(&buf, Config{Format: "xml"})
	require.Error(t, err)
}

func TestContext(t *testing.T) {
	require.Same(t, slog.Default(), FromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	require.Same(t, logger, FromContext(WithLogger(context.Background(), logger)))
}
