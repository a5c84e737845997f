package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	transport "github.com/hanpama/gqlamqp/internal/transport"
)

func newTransport(t *testing.T) *Transport {
	t.Helper()
	tr := New(nil, Options{OutputChannelBuffer: 8})
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestPublishSubscribe_MapsFields(t *testing.T) {
	tr := newTransport(t)
	got := make(chan transport.Message, 1)
	sub, err := tr.Subscribe(context.Background(), "graphql", func(ctx context.Context, msg transport.Message) error {
		got <- msg
		return nil
	})
	require.NoError(t, err)
	defer sub.Cancel(context.Background())

	sent := transport.Message{
		ID:            "m-1",
		Body:          []byte(`{"query":"{ test }"}`),
		ContentType:   "application/json",
		ReplyTo:       "replies",
		CorrelationID: "c-1",
		Headers:       map[string]string{"x-tenant": "a"},
	}
	require.NoError(t, tr.Publish(context.Background(), "graphql", sent))

	select {
	case msg := <-got:
		want := sent
		want.Topic = "graphql"
		if diff := cmp.Diff(want, msg); diff != "" {
			t.Fatalf("message mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestHandlersRunConcurrently(t *testing.T) {
	tr := newTransport(t)
	release := make(chan struct{})
	started := make(chan string, 2)
	sub, err := tr.Subscribe(context.Background(), "graphql", func(ctx context.Context, msg transport.Message) error {
		started <- string(msg.Body)
		<-release
		return nil
	})
	require.NoError(t, err)
	defer sub.Cancel(context.Background())

	require.NoError(t, tr.Publish(context.Background(), "graphql", transport.Message{Body: []byte("a")}))
	require.NoError(t, tr.Publish(context.Background(), "graphql", transport.Message{Body: []byte("b")}))

	var bodies []string
	for range 2 {
		select {
		case b := <-started:
			bodies = append(bodies, b)
		case <-time.After(2 * time.Second):
			t.Fatal("second handler blocked behind the first")
		}
	}
	close(release)
	if diff := cmp.Diff([]string{"a", "b"}, bodies, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Fatalf("bodies mismatch (-want +got):\n%s", diff)
	}
}

func TestHandlerErrorKeepsSubscription(t *testing.T) {
	tr := newTransport(t)
	got := make(chan string, 2)
	sub, err := tr.Subscribe(context.Background(), "graphql", func(ctx context.Context, msg transport.Message) error {
		got <- string(msg.Body)
		return errors.New("boom")
	})
	require.NoError(t, err)
	defer sub.Cancel(context.Background())

	for _, b := range []string{"1", "2"} {
		require.NoError(t, tr.Publish(context.Background(), "graphql", transport.Message{Body: []byte(b)}))
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("message %s not delivered", b)
		}
	}
	select {
	case b := <-got:
		t.Fatalf("unexpected redelivery of %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	tr := newTransport(t)
	got := make(chan string, 1)
	sub, err := tr.Subscribe(context.Background(), "graphql", func(ctx context.Context, msg transport.Message) error {
		got <- string(msg.Body)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, sub.Cancel(context.Background()))
	require.True(t, sub.Cancelled())
	<-sub.Done()
	require.ErrorIs(t, sub.Cancel(context.Background()), transport.ErrCancelled)

	require.NoError(t, tr.Publish(context.Background(), "graphql", transport.Message{Body: []byte("late")}))
	select {
	case b := <-got:
		t.Fatalf("delivered %s after cancel", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCall(t *testing.T) {
	tr := newTransport(t)
	sub, err := tr.Subscribe(context.Background(), "graphql", func(ctx context.Context, msg transport.Message) error {
		return tr.Publish(ctx, msg.ReplyTo, transport.Message{
			Body:          append([]byte("re:"), msg.Body...),
			CorrelationID: msg.CorrelationID,
		})
	})
	require.NoError(t, err)
	defer sub.Cancel(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := tr.Call(ctx, "graphql", transport.Message{Body: []byte("ping"), CorrelationID: "c-9"})
	require.NoError(t, err)
	require.Equal(t, "re:ping", string(reply.Body))
	require.Equal(t, "c-9", reply.CorrelationID)
}

func TestCall_Timeout(t *testing.T) {
	tr := newTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.Call(ctx, "nobody", transport.Message{Body: []byte("ping")})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClosed(t *testing.T) {
	tr := New(nil, Options{})
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Subscribe(context.Background(), "graphql", func(context.Context, transport.Message) error { return nil })
	require.ErrorIs(t, err, transport.ErrClosed)
	require.ErrorIs(t, tr.Publish(context.Background(), "graphql", transport.Message{}), transport.ErrClosed)
}
