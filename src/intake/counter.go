package intake

import (
	"context"
	"sync"
)

// EventCounter tracks the events of every sender between Submit and the point
// where they leave the pipeline. It implements hashgraph.IntakeEventCounter.
//
// Capacity only bounds the events waiting in the queue. A slot is freed as
// soon as the worker picks the event up, so events parked in the orphan buffer
// never hold one and cannot block the parents that would release them.
type EventCounter struct {
	slots chan struct{}

	mu        sync.Mutex
	perSender map[uint32]int
	entered   uint64
	exited    uint64
}

// NewEventCounter creates a counter admitting at most capacity queued events.
func NewEventCounter(capacity int) *EventCounter {
	if capacity < 1 {
		capacity = 1
	}
	return &EventCounter{
		slots:     make(chan struct{}, capacity),
		perSender: make(map[uint32]int),
	}
}

// EventEnteredIntakePipeline blocks until there is room in the queue or the
// context ends.
func (c *EventCounter) EventEnteredIntakePipeline(ctx context.Context, senderID uint32) error {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.perSender[senderID]++
	c.entered++
	c.mu.Unlock()

	return nil
}

// EventDequeued frees the queue slot of an event taken by the worker. The
// event is still counted against its sender until it exits.
func (c *EventCounter) EventDequeued() {
	select {
	case <-c.slots:
	default:
	}
}

// EventExitedIntakePipeline records that an event of senderID was dropped or
// fully processed.
func (c *EventCounter) EventExitedIntakePipeline(senderID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.perSender[senderID]
	if !ok {
		return
	}
	if n <= 1 {
		delete(c.perSender, senderID)
	} else {
		c.perSender[senderID] = n - 1
	}
	c.exited++
}

// abandon undoes EventEnteredIntakePipeline for an event that never reached
// the queue.
func (c *EventCounter) abandon(senderID uint32) {
	c.EventExitedIntakePipeline(senderID)
	c.EventDequeued()
}

// HasUnprocessedEvents is true while events received from the sender are still
// inside the pipeline, orphans included. The gossip loop skips such peers.
func (c *EventCounter) HasUnprocessedEvents(senderID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perSender[senderID] > 0
}

// Inflight is the number of events inside the pipeline, orphans included.
func (c *EventCounter) Inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.entered - c.exited)
}

// Queued is the number of events waiting for the worker.
func (c *EventCounter) Queued() int {
	return len(c.slots)
}

// Totals returns the number of events that entered and exited so far.
func (c *EventCounter) Totals() (entered, exited uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entered, c.exited
}
