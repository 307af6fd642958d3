// Package pulsebus adapts eventbus.Bus to a goa.design/pulse/streaming
// backend so events published on one process are observed by every other
// process sharing the same Redis-backed stream (spec.md §4.1's event bus
// extended to distributed deployments). It is grounded on the teacher's
// stream/pulse package: Client/Stream/Sink mirror
// features/stream/pulse/clients/pulse/client.go's wrapper around
// goa.design/pulse/streaming, and Bridge splits outbound/inbound relay the
// way sink.go (Send) and subscriber.go (Subscribe/consume) do, generalized
// from the teacher's bespoke stream.Event envelope to eventbus.Event.
package pulsebus

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Client exposes the subset of Pulse streaming required by Bridge.
	Client interface {
		// Stream returns a handle to the named Pulse stream, creating it if
		// it doesn't already exist.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases resources owned by the client.
		Close(ctx context.Context) error
	}

	// Stream exposes the operations Bridge needs on one Pulse stream.
	Stream interface {
		// Add publishes event/payload to the stream, returning the
		// Redis-assigned entry id.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a Pulse consumer group on this stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
	}

	// Sink mirrors the subset of a Pulse consumer group Bridge consumes.
	Sink interface {
		// Subscribe returns a channel emitting events as they arrive.
		Subscribe() <-chan *streaming.Event
		// Ack acknowledges successful processing of an event.
		Ack(context.Context, *streaming.Event) error
		// Close stops the sink and releases resources.
		Close(context.Context)
	}
)

// client wraps a Redis connection and provides Pulse stream access.
type client struct {
	redis  *redis.Client
	maxLen int
}

// NewClient constructs a Pulse-backed Client from an existing Redis
// connection. rdb must not be nil.
func NewClient(rdb *redis.Client, maxLen int) (Client, error) {
	if rdb == nil {
		return nil, errors.New("pulsebus: redis client is required")
	}
	return &client{redis: rdb, maxLen: maxLen}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulsebus: stream name is required")
	}
	if c.maxLen > 0 {
		opts = append([]streamopts.Stream{streamopts.WithStreamMaxLen(c.maxLen)}, opts...)
	}
	str, err := streaming.NewStream(name, c.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulsebus: create stream %q: %w", name, err)
	}
	return &handle{stream: str}, nil
}

func (c *client) Close(ctx context.Context) error { return nil }

type handle struct{ stream *streaming.Stream }

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulsebus: add: %w", err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulsebus: new sink: %w", err)
	}
	return sinkAdapter{sink}, nil
}

// sinkAdapter adapts *streaming.Sink (Close() with no return value) to the
// Sink interface above.
type sinkAdapter struct{ *streaming.Sink }

func (s sinkAdapter) Close(ctx context.Context) { s.Sink.Close(ctx) }
