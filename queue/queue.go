// Package queue implements C8: a bounded, priority-aware tasklet queue
// feeding the execution manager. Grounded on
// original_source/packages/aura_core/task_queue.py's TaskQueue (an
// asyncio.PriorityQueue of (priority, Tasklet) pairs, priority 0 for
// high-priority puts and 1 for normal).
//
// asyncio.PriorityQueue's backing heap only compares the priority field
// (Tasklet itself is declared compare=False), so ties within a priority
// level have no ordering guarantee from Python's heapq either. Rather than
// port a heap, this queue uses one FIFO channel per priority level and
// always drains the high-priority channel first when both are ready,
// giving the same two-level priority behavior with a stronger, simpler
// guarantee: FIFO order is preserved within each level.
package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aura-automation/aura/eventbus"
)

// Tasklet is one unit of work destined for the execution manager (spec.md
// §3 "Tasklet"), grounded on task_queue.py's Tasklet dataclass.
type Tasklet struct {
	TaskName         string
	Payload          map[string]any
	IsAdHoc          bool
	TriggeringEvent  *eventbus.Event
	ExecutionMode    string // "sync" or "async"
	ResourceTags     []string
	TimeoutSeconds   float64
	CPUBound         bool
}

// Queue is a bounded two-level priority FIFO (spec §4.4 "put"/"put_nowait").
type Queue struct {
	high   chan Tasklet
	normal chan Tasklet

	// unfinished tracks items put but not yet Done, mirroring asyncio.Queue's
	// separate unfinished_tasks counter that Join blocks on (qsize() tracks
	// only the raw buffer occupancy, a different number).
	unfinished atomic.Int64
}

// New constructs a Queue with the given per-level capacity (spec's
// maxsize, used for backpressure).
func New(maxsize int) *Queue {
	if maxsize <= 0 {
		maxsize = 1000
	}
	return &Queue{
		high:   make(chan Tasklet, maxsize),
		normal: make(chan Tasklet, maxsize),
	}
}

// Put enqueues t, blocking until space is available or ctx is done (spec's
// "await self._queue.put", backpressure via the bounded channel).
func (q *Queue) Put(ctx context.Context, t Tasklet, highPriority bool) error {
	ch := q.normal
	if highPriority {
		ch = q.high
	}
	select {
	case ch <- t:
		q.unfinished.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrQueueFull is returned by TryPut when the requested priority level has
// no room.
type ErrQueueFull struct{}

func (ErrQueueFull) Error() string { return "queue: full" }

// TryPut enqueues t without blocking, matching put_nowait's "raise
// QueueFull" contract.
func (q *Queue) TryPut(t Tasklet, highPriority bool) error {
	ch := q.normal
	if highPriority {
		ch = q.high
	}
	select {
	case ch <- t:
		q.unfinished.Add(1)
		return nil
	default:
		return ErrQueueFull{}
	}
}

// TryGet returns a tasklet without blocking, preferring a ready
// high-priority item over a ready normal-priority one, for the commander's
// (C12) "elif not task_queue.empty()" non-blocking poll.
func (q *Queue) TryGet() (Tasklet, bool) {
	select {
	case t := <-q.high:
		return t, true
	default:
	}
	select {
	case t := <-q.normal:
		return t, true
	default:
		return Tasklet{}, false
	}
}

// Get blocks until a tasklet is available or ctx is done, always preferring
// a ready high-priority item over a ready normal-priority one (spec's
// "await self._queue.get").
func (q *Queue) Get(ctx context.Context) (Tasklet, error) {
	select {
	case t := <-q.high:
		return t, nil
	default:
	}

	select {
	case t := <-q.high:
		return t, nil
	case t := <-q.normal:
		return t, nil
	case <-ctx.Done():
		return Tasklet{}, ctx.Err()
	}
}

// Done signals that a previously-Get'd tasklet finished processing (spec's
// task_done, called unconditionally whether the tasklet succeeded or
// failed, per Open Question #1's adopted decision).
func (q *Queue) Done() {
	q.unfinished.Add(-1)
}

// Join blocks until every enqueued tasklet has had Done called for it
// (spec's join). It polls rather than parking on a sync.WaitGroup directly
// so Join itself can also honor cancellation.
func (q *Queue) Join(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if q.unfinished.Load() <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Empty reports whether both priority levels are currently empty.
func (q *Queue) Empty() bool {
	return len(q.high) == 0 && len(q.normal) == 0
}

// QSize returns the approximate combined occupancy of both priority
// buffers, matching qsize's "approximate" contract.
func (q *Queue) QSize() int {
	return len(q.high) + len(q.normal)
}
