package hashgraph

import "sync"

// IntakeEventCounter tracks events inside the intake pipeline. Every component
// that drops an event calls EventExitedIntakePipeline exactly once for it.
type IntakeEventCounter interface {
	EventExitedIntakePipeline(senderID uint32)
}

// NoOpIntakeEventCounter ignores all calls.
type NoOpIntakeEventCounter struct{}

// EventExitedIntakePipeline implements IntakeEventCounter.
func (NoOpIntakeEventCounter) EventExitedIntakePipeline(uint32) {}

// CountingIntakeEventCounter records exits per sender. Tests use it to check
// that every dropped event was accounted for.
type CountingIntakeEventCounter struct {
	sync.Mutex
	exits map[uint32]int
	total int
}

// NewCountingIntakeEventCounter ...
func NewCountingIntakeEventCounter() *CountingIntakeEventCounter {
	return &CountingIntakeEventCounter{exits: make(map[uint32]int)}
}

// EventExitedIntakePipeline implements IntakeEventCounter.
func (c *CountingIntakeEventCounter) EventExitedIntakePipeline(senderID uint32) {
	c.Lock()
	defer c.Unlock()
	c.exits[senderID]++
	c.total++
}

// Exits returns the number of exits recorded for a sender.
func (c *CountingIntakeEventCounter) Exits(senderID uint32) int {
	c.Lock()
	defer c.Unlock()
	return c.exits[senderID]
}

// Total returns the number of exits recorded for all senders.
func (c *CountingIntakeEventCounter) Total() int {
	c.Lock()
	defer c.Unlock()
	return c.total
}
