package eventbus

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/aura-automation/aura/telemetry"
)

// Callback handles a delivered event. Async callbacks (subscribed with
// Subscribe's async argument set to true) are awaited directly by the publishing goroutine
// tree; sync callbacks run on the bus's worker pool (spec §4.1 "Publish").
type Callback func(ctx context.Context, e Event)

// SyncPool offloads synchronous callback execution; satisfied by
// workerpool.Pool.
type SyncPool interface {
	Submit(fn func())
}

type inlinePool struct{}

func (inlinePool) Submit(fn func()) { fn() }

// subscription is one (channel, pattern, callback) triple.
type subscription struct {
	channel   string
	pattern   string
	async     bool
	fn        Callback
	seq       int // insertion order, used for best-effort FIFO-per-subscriber delivery
	dedupeKey string
}

// Handle is the opaque subscription handle returned by Subscribe, used to
// Unsubscribe later (spec §4.1).
type Handle struct {
	channel string
	pattern string
	seq     int
}

// Bus is the event bus (C4). MaxDepth defaults to 10 (spec §4.1).
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	next int

	maxDepth int
	pool     SyncPool
	log      telemetry.Logger

	overflowMu sync.Mutex
	fanout     chan map[string]any
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxDepth overrides the default max_depth of 10.
func WithMaxDepth(n int) Option {
	return func(b *Bus) { b.maxDepth = n }
}

// WithSyncPool installs the pool sync callbacks run on.
func WithSyncPool(p SyncPool) Option {
	return func(b *Bus) { b.pool = p }
}

// WithLogger installs the logger used for critical depth-exceeded messages
// and debug/info tracing.
func WithLogger(l telemetry.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithFanoutBuffer sizes the bounded external-consumer fan-out queue (spec
// §6 "Event stream contract"; queue overflow drops oldest).
func WithFanoutBuffer(n int) Option {
	return func(b *Bus) { b.fanout = make(chan map[string]any, n) }
}

// New constructs a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{maxDepth: 10, pool: inlinePool{}, log: telemetry.NoopLogger{}}
	for _, o := range opts {
		o(b)
	}
	if b.fanout == nil {
		b.fanout = make(chan map[string]any, 256)
	}
	return b
}

// Subscribe registers callback against (channel, pattern). channel "*"
// matches events on any channel. Duplicate (channel, pattern, callback)
// triples are rejected silently (spec §4.1): since Go funcs are not
// comparable, duplicate detection here is by (channel, pattern) plus the
// caller-supplied dedupeKey — callers that want strict func-identity dedupe
// should pass a stable dedupeKey (e.g. a handler name).
func (b *Bus) Subscribe(channel, pattern string, async bool, dedupeKey string, cb Callback) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if channel == "" {
		channel = "*"
	}
	if dedupeKey != "" {
		for _, s := range b.subs {
			if s.channel == channel && s.pattern == pattern && s.dedupeKey == dedupeKey {
				return Handle{channel: channel, pattern: pattern, seq: s.seq}
			}
		}
	}
	seq := b.next
	b.next++
	b.subs = append(b.subs, subscription{channel: channel, pattern: pattern, async: async, fn: cb, seq: seq, dedupeKey: dedupeKey})
	return Handle{channel: channel, pattern: pattern, seq: seq}
}

// Unsubscribe removes the subscription identified by handle.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.channel == h.channel && s.pattern == h.pattern && s.seq == h.seq {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches e as given: it does not copy the event, assign a new
// id, or change Depth or CausationChain. Those are fixed when the event is
// built: NewEvent starts a root at depth 0, and Event.Caused builds a
// follow-on event with depth+1 and the parent id appended. If e.Depth >=
// max_depth the event is dropped and logged critical
// (P5); otherwise matching callbacks are dispatched concurrently and all
// callback errors/panics are isolated — Publish itself never returns an
// error caused by a subscriber.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Depth >= b.maxDepth {
		b.log.Critical(ctx, "eventbus: depth exceeded, event dropped",
			"event", e.Name, "depth", e.Depth, "max_depth", b.maxDepth,
			"causation_chain", e.CausationChain)
		return
	}

	b.log.Info(ctx, "eventbus: publish", "event", e.Name, "channel", e.Channel, "depth", e.Depth)
	b.enqueueFanout(e)

	matched := b.matchingCallbacks(e)
	if len(matched) == 0 {
		b.log.Debug(ctx, "eventbus: no subscribers", "event", e.Name, "channel", e.Channel)
		return
	}

	var wg sync.WaitGroup
	for _, s := range matched {
		s := s
		if s.async {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.invoke(ctx, s, e)
			}()
		} else {
			wg.Add(1)
			b.pool.Submit(func() {
				defer wg.Done()
				b.invoke(ctx, s, e)
			})
		}
	}
	wg.Wait()
}

func (b *Bus) invoke(ctx context.Context, s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error(ctx, "eventbus: callback panicked", "event", e.Name, "panic", r)
		}
	}()
	s.fn(ctx, e)
}

// matchingCallbacks collects all subscriptions whose (channel, pattern)
// matches the event, deduplicated and ordered by subscription sequence
// (insertion order), preserving best-effort FIFO-per-subscriber delivery
// (spec §4.1, §5 "Event delivery is FIFO per subscriber").
func (b *Bus) matchingCallbacks(e Event) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []subscription
	for _, s := range b.subs {
		if s.channel != "*" && s.channel != e.Channel {
			continue
		}
		ok, err := path.Match(s.pattern, e.Name)
		if err != nil || !ok {
			continue
		}
		matched = append(matched, s)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	return matched
}

// enqueueFanout pushes the serialized event to the bounded external-consumer
// queue; on overflow the oldest entry is dropped (spec §6).
func (b *Bus) enqueueFanout(e Event) {
	b.overflowMu.Lock()
	defer b.overflowMu.Unlock()
	select {
	case b.fanout <- e.ToMap():
	default:
		select {
		case <-b.fanout:
		default:
		}
		select {
		case b.fanout <- e.ToMap():
		default:
		}
	}
}

// Stream returns the read side of the external fan-out queue (spec §6
// "subscription stream of all events with depth<=max" — depth filtering is
// the publisher's responsibility via max_depth; every event that reaches
// Publish's dispatch step is also streamed here).
func (b *Bus) Stream() <-chan map[string]any {
	return b.fanout
}

// Teardown clears all subscriptions atomically (spec §4.1 "Teardown").
func (b *Bus) Teardown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}
