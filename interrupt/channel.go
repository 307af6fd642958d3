package interrupt

import "context"

// Channel is the bounded hand-off between the guardian and the commander
// (scheduler.py's `interrupt_queue: deque`, here a buffered channel so
// Submit backpressures instead of growing unbounded).
type Channel struct {
	ch chan Rule
}

// NewChannel constructs a Channel with the given buffer capacity.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = 16
	}
	return &Channel{ch: make(chan Rule, capacity)}
}

// Submit enqueues rule, blocking until there is room or ctx is done
// (interrupt_service.py's `await self.scheduler.interrupt_queue.put(rule)`).
func (c *Channel) Submit(ctx context.Context, rule Rule) error {
	select {
	case c.ch <- rule:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a rule is available or ctx is done, for the
// commander's consumption loop (C12).
func (c *Channel) Receive(ctx context.Context) (Rule, error) {
	select {
	case rule := <-c.ch:
		return rule, nil
	case <-ctx.Done():
		return Rule{}, ctx.Err()
	}
}

// TryReceive returns a queued rule without blocking, for the commander's
// "pop ready interrupt-rule" priority check (spec §4.5's "with self.lock: if
// self.interrupt_queue: ...").
func (c *Channel) TryReceive() (Rule, bool) {
	select {
	case rule := <-c.ch:
		return rule, true
	default:
		return Rule{}, false
	}
}
