package pulsebus

import (
	"time"

	"github.com/aura-automation/aura/eventbus"
	"github.com/aura-automation/aura/value"
)

// envelope is the wire format for one eventbus.Event published to a shared
// Pulse stream. Origin identifies the Bridge that relayed it, so that
// bridge can skip re-dispatching its own events back into its local Bus.
type envelope struct {
	Origin         string         `json:"origin"`
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Channel        string         `json:"channel"`
	Payload        map[string]any `json:"payload"`
	Source         string         `json:"source"`
	Timestamp      time.Time      `json:"timestamp"`
	CausationChain []string       `json:"causation_chain"`
	Depth          int            `json:"depth"`
}

func toEnvelope(origin string, e eventbus.Event) envelope {
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = value.ToGo(v)
	}
	return envelope{
		Origin:         origin,
		ID:             e.ID,
		Name:           e.Name,
		Channel:        e.Channel,
		Payload:        payload,
		Source:         e.Source,
		Timestamp:      e.Timestamp,
		CausationChain: e.CausationChain,
		Depth:          e.Depth,
	}
}

// toEvent reconstructs the eventbus.Event carried by env, preserving its
// id/depth/causation chain so every process dispatches an identical Event
// regardless of which one originally published it.
func (env envelope) toEvent() eventbus.Event {
	payload := make(map[string]value.Value, len(env.Payload))
	for k, v := range env.Payload {
		payload[k] = value.FromGo(v)
	}
	return eventbus.Event{
		ID:             env.ID,
		Name:           env.Name,
		Channel:        env.Channel,
		Payload:        payload,
		Source:         env.Source,
		Timestamp:      env.Timestamp,
		CausationChain: env.CausationChain,
		Depth:          env.Depth,
	}
}
