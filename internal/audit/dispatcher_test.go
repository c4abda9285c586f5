package audit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	assert.Nil(t, d)

	// nil dispatcher is inert
	d.Emit(context.Background(), Event{EventType: "login_success"})
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "signup_success"})
	}
	d.Close()

	assert.Equal(t, int64(10), sink.count.Load())

	// emits after close are ignored
	d.Emit(context.Background(), Event{EventType: "signup_success"})
	assert.Equal(t, int64(10), sink.count.Load())
}

func TestDispatcherDropIfFullCountsDrops(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failure"})
	}
	require.Eventually(t, func() bool { return d.Dropped() > 0 }, time.Second, 5*time.Millisecond)

	close(sink.gate)
	d.Close()
}

func TestDispatcherBlockingEmitHonoursContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	// first event is taken by the worker, second fills the buffer
	d.Emit(context.Background(), Event{EventType: "a"})
	d.Emit(context.Background(), Event{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Emit(ctx, Event{EventType: "c"})
	assert.Less(t, time.Since(start), time.Second)

	close(sink.gate)
	d.Close()
}

func TestZapSinkWritesStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{
		Timestamp: time.Now(),
		EventType: "password_reset_request",
		AccountID: "acc-1",
		Success:   true,
		Metadata:  map[string]string{"email": "user@example.com"},
	})
	sink.Emit(context.Background(), Event{
		EventType: "login_failure",
		Error:     "invalid credentials",
	})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "acc-1", entries[0].ContextMap()["account_id"])
	assert.Equal(t, "user@example.com", entries[0].ContextMap()["meta.email"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "invalid credentials", entries[1].ContextMap()["error"])
}
