// Package retention implements the Retention Counters:
// in-memory per-channel and per-group row counts, seeded at startup
// from the Store and kept in sync by the Ingestor on every insertion
// and eviction.
package retention

import "sync"

// Counters tracks live row counts per channel id and per group id, and
// reports zero for any unseen id. Construct it with New; a zero Counters
// has no maps, and the Increment, Decrement and Set methods panic on it.
type Counters struct {
	mu sync.Mutex
	channels map[int64]int
	groups map[int64]int
}

// New constructs Counters seeded from byChannel and byGroup, the
// aggregate counts the Store reports at startup.
func New(byChannel, byGroup map[int64]int) *Counters {
	c := &Counters{channels: make(map[int64]int), groups: make(map[int64]int)}
	for id, n := range byChannel {
		c.channels[id] = n
	}
	for id, n := range byGroup {
		c.groups[id] = n
	}
	return c
}

// Channel returns the current count for channelID.
func (c *Counters) Channel(channelID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[channelID]
}

// Group returns the current count for groupID.
func (c *Counters) Group(groupID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups[groupID]
}

// IncrementChannel records one more persisted row for channelID.
func (c *Counters) IncrementChannel(channelID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID]++
}

// IncrementGroup records one more persisted row for groupID.
func (c *Counters) IncrementGroup(groupID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[groupID]++
}

// DecrementChannel records that n rows were evicted for channelID.
func (c *Counters) DecrementChannel(channelID int64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] -= n
}

// DecrementGroup records that n rows were evicted for groupID.
func (c *Counters) DecrementGroup(groupID int64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[groupID] -= n
}

// SetChannel pins the channel counter to an exact value, used after a
// ring-buffer eviction settles the count to the configured limit.
func (c *Counters) SetChannel(channelID int64, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] = value
}

// SetGroup pins the group counter to an exact value.
func (c *Counters) SetGroup(groupID int64, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[groupID] = value
}
