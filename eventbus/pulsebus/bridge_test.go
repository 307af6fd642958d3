package pulsebus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/aura-automation/aura/eventbus"
	"github.com/aura-automation/aura/eventbus/pulsebus"
	"github.com/aura-automation/aura/value"
)

// fakeClient/fakeStream/fakeSink implement pulsebus.Client/Stream/Sink over
// an in-memory channel, standing in for Redis in tests (the teacher's own
// stream/pulse tests, sink_test.go/subscriber_test.go, take the same
// approach against fakes rather than a live Redis).
type fakeClient struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
}

func newFakeClient() *fakeClient { return &fakeClient{streams: map[string]*fakeStream{}} }

func (c *fakeClient) Stream(name string, _ ...streamopts.Stream) (pulsebus.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{sinks: map[string]*fakeSink{}}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(context.Context) error { return nil }

type fakeStream struct {
	mu    sync.Mutex
	sinks map[string]*fakeSink
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sink := range s.sinks {
		sink.deliver(&streaming.Event{EventName: event, Payload: payload})
	}
	return "0-1", nil
}

func (s *fakeStream) NewSink(_ context.Context, name string, _ ...streamopts.Sink) (pulsebus.Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink, ok := s.sinks[name]
	if !ok {
		sink = &fakeSink{ch: make(chan *streaming.Event, 16)}
		s.sinks[name] = sink
	}
	return sink, nil
}

type fakeSink struct {
	ch   chan *streaming.Event
	acks int
}

func (s *fakeSink) deliver(e *streaming.Event) { s.ch <- e }

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *fakeSink) Ack(context.Context, *streaming.Event) error {
	s.acks++
	return nil
}

func (s *fakeSink) Close(context.Context) {}

func TestBridge_RelayDeliversToOtherBridgesLocalBus(t *testing.T) {
	client := newFakeClient()

	busA := eventbus.New()
	bridgeA := pulsebus.NewBridge(client, busA)

	busB := eventbus.New()
	bridgeB := pulsebus.NewBridge(client, busB)

	var received eventbus.Event
	done := make(chan struct{})
	busB.Subscribe("*", "order.*", false, "", func(ctx context.Context, e eventbus.Event) {
		received = e
		close(done)
	})

	cancelB, err := bridgeB.Start(context.Background())
	require.NoError(t, err)
	defer cancelB()

	e := eventbus.NewEvent("order.created", map[string]value.Value{"id": value.String("o-1")}, "tests", "orders")
	require.NoError(t, bridgeA.Relay(context.Background(), e))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed event")
	}

	assert.Equal(t, e.ID, received.ID)
	assert.Equal(t, "order.created", received.Name)
	assert.Equal(t, "orders", received.Channel)
}

func TestBridge_SkipsItsOwnRelayedEventsOnConsume(t *testing.T) {
	client := newFakeClient()
	bus := eventbus.New()
	bridge := pulsebus.NewBridge(client, bus)

	var calls int
	bus.Subscribe("*", "*", false, "", func(ctx context.Context, e eventbus.Event) { calls++ })

	cancel, err := bridge.Start(context.Background())
	require.NoError(t, err)
	defer cancel()

	e := eventbus.NewEvent("self.echo", nil, "tests", "")
	require.NoError(t, bridge.Relay(context.Background(), e))

	// Give the consume goroutine a chance to process the echoed envelope;
	// it must be acked and dropped without a second local dispatch (the
	// original Publish, if any, is the caller's responsibility, not
	// Bridge's).
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, calls)
}
