package zone

import "sync"

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Entries uint64 `json:"entries"`
	Exits   uint64 `json:"exits"`
	Inside  uint64 `json:"inside"`
}

// Counters accumulates entries, exits and current occupancy. The pipeline is
// the only writer; readers on other goroutines use Snapshot.
type Counters struct {
	mu      sync.RWMutex
	entries uint64
	exits   uint64
	inside  uint64
}

// Apply folds one transition into the counters and returns the new values.
// Occupancy never drops below zero.
func (c *Counters) Apply(t Transition) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch t {
	case Entry:
		c.entries++
		c.inside++
	case Exit:
		c.exits++
		if c.inside > 0 {
			c.inside--
		}
	}
	return c.snapshotLocked()
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries, c.exits, c.inside = 0, 0, 0
}

func (c *Counters) snapshotLocked() Snapshot {
	return Snapshot{Entries: c.entries, Exits: c.exits, Inside: c.inside}
}
