package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimburion/configdata/pkg/bus"
	"github.com/nimburion/configdata/pkg/testutil"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// fakeReader serves queued messages, then blocks until ctx is done.
type fakeReader struct {
	queue     chan kafka.Message
	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{queue: make(chan kafka.Message, len(msgs))}
	for _, msg := range msgs {
		r.queue <- msg
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.queue:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func newTestTransport(t *testing.T, w *fakeWriter, r *fakeReader) *Transport {
	t.Helper()
	transport, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "configdata.bus", GroupID: "orders-a"}, testutil.NewMockLogger())
	require.NoError(t, err)
	transport.producer = w
	transport.newReader = func() reader { return r }
	return transport
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing brokers", Config{Topic: "t", GroupID: "g"}},
		{"missing topic", Config{Brokers: []string{"localhost:9092"}, GroupID: "g"}},
		{"missing group", Config{Brokers: []string{"localhost:9092"}, Topic: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config, testutil.NewMockLogger())
			assert.Error(t, err)
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	transport, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "t", GroupID: "g"}, testutil.NewMockLogger())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, transport.config.OperationTimeout)
	assert.Equal(t, 3, transport.config.MaxRetries)
}

func TestPublishWritesEncodedEvent(t *testing.T) {
	w := &fakeWriter{}
	transport := newTestTransport(t, w, newFakeReader())

	event := bus.NewRefreshEvent("cli", "orders")
	require.NoError(t, transport.Publish(context.Background(), event))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "orders", string(msg.Key))
	decoded, err := bus.Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	transport := newTestTransport(t, &fakeWriter{err: boom}, newFakeReader())

	err := transport.Publish(context.Background(), bus.NewRefreshEvent("cli", ""))
	assert.ErrorIs(t, err, boom)
}

func TestSubscribeCommitsHandledAndMalformedMessages(t *testing.T) {
	good, err := bus.Encode(bus.NewRefreshEvent("cli", ""))
	require.NoError(t, err)
	r := newFakeReader(
		kafka.Message{Offset: 1, Value: good},
		kafka.Message{Offset: 2, Value: []byte("garbage")},
	)
	transport := newTestTransport(t, &fakeWriter{}, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan bus.Event, 1)
	require.NoError(t, transport.Subscribe(ctx, func(_ context.Context, event bus.Event) error {
		received <- event
		return nil
	}))

	select {
	case event := <-received:
		assert.Equal(t, "cli", event.Origin)
	case <-time.After(time.Second):
		t.Fatal("expected the event to reach the handler")
	}
	assert.Eventually(t, func() bool { return len(r.Committed()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestSubscribeLeavesFailedMessagesUncommitted(t *testing.T) {
	payload, err := bus.Encode(bus.NewRefreshEvent("cli", ""))
	require.NoError(t, err)
	r := newFakeReader(kafka.Message{Offset: 7, Value: payload})
	transport := newTestTransport(t, &fakeWriter{}, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{})
	require.NoError(t, transport.Subscribe(ctx, func(context.Context, bus.Event) error {
		close(called)
		return errors.New("refresh failed")
	}))

	<-called
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.Committed())
}

func TestClosedTransport(t *testing.T) {
	w := &fakeWriter{}
	r := newFakeReader()
	transport := newTestTransport(t, w, r)
	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, transport.Subscribe(subCtx, func(context.Context, bus.Event) error { return nil }))

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	assert.True(t, w.closed)
	assert.True(t, r.closed)

	ctx := context.Background()
	assert.ErrorIs(t, transport.Publish(ctx, bus.NewRefreshEvent("cli", "")), bus.ErrClosed)
	assert.ErrorIs(t, transport.Subscribe(ctx, func(context.Context, bus.Event) error { return nil }), bus.ErrClosed)
	assert.ErrorIs(t, transport.HealthCheck(ctx), bus.ErrClosed)
}
