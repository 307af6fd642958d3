// Package eventbus implements C4: pub/sub with channel+glob pattern matching,
// causation chains, and depth-based cycle breaking (spec.md §4.1). It is
// grounded on original_source/packages/aura_core/event_bus.py, translated
// from asyncio's single-lock coroutine model into goroutines + sync.RWMutex,
// with sync callbacks dispatched onto a worker pool (mirroring the async
// source's loop.run_in_executor) and async callbacks invoked directly.
package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-automation/aura/value"
)

// Event is immutable once published; Depth and CausationChain are set when
// the event is built, by NewEvent or Caused, and the bus dispatches them
// unchanged (spec §3 "Event").
type Event struct {
	ID              string
	Name            string
	Channel         string
	Payload         map[string]value.Value
	Source          string
	Timestamp       time.Time
	CausationChain  []string
	Depth           int
}

// DefaultChannel is used when a published event does not specify one.
const DefaultChannel = "global"

// NewEvent constructs a root event (depth 0, a causation chain containing
// only its own id) ready to publish.
func NewEvent(name string, payload map[string]value.Value, source, channel string) Event {
	if channel == "" {
		channel = DefaultChannel
	}
	id := uuid.NewString()
	return Event{
		ID:             id,
		Name:           name,
		Channel:        channel,
		Payload:        payload,
		Source:         source,
		Timestamp:      time.Now(),
		CausationChain: []string{id},
		Depth:          0,
	}
}

// Caused constructs an event caused by parent: depth+1, parent's id appended
// to the causation chain (spec §4.1 "Publish"). Used when a handler publishes
// a follow-on event in reaction to one it received.
func (parent Event) Caused(name string, payload map[string]value.Value, source, channel string) Event {
	if channel == "" {
		channel = parent.Channel
	}
	id := uuid.NewString()
	chain := make([]string, len(parent.CausationChain), len(parent.CausationChain)+1)
	copy(chain, parent.CausationChain)
	chain = append(chain, parent.ID)
	return Event{
		ID:             id,
		Name:           name,
		Channel:        channel,
		Payload:        payload,
		Source:         source,
		Timestamp:      time.Now(),
		CausationChain: chain,
		Depth:          parent.Depth + 1,
	}
}

// ToMap serializes the event for the external event-stream contract (spec §6
// "Event stream contract").
func (e Event) ToMap() map[string]any {
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = value.ToGo(v)
	}
	return map[string]any{
		"id":              e.ID,
		"name":            e.Name,
		"channel":         e.Channel,
		"payload":         payload,
		"source":          e.Source,
		"timestamp":       e.Timestamp,
		"causation_chain": e.CausationChain,
		"depth":           e.Depth,
	}
}
