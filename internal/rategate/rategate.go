// Package rategate implements the Rate Gate: per channel, it remembers
// the last accepted timestamp and payload, and suppresses incoming
// samples under two independently configurable rules.
package rategate

import (
	"sync"
	"time"
)

type channelState struct {
	lastAccepted time.Time
	lastPayload  string
}

// Gate holds per-channel rate-limit state. Construct it with New; the
// zero value has no state map, and Commit on it panics.
type Gate struct {
	mu    sync.Mutex
	state map[int64]channelState
}

// New constructs an empty Gate.
func New() *Gate {
	return &Gate{state: make(map[int64]channelState)}
}

// Limits are the group-configured suppression thresholds applied to a
// channel. Zero means "rule disabled".
type Limits struct {
	MinInterval          time.Duration
	MinUnchangedInterval time.Duration
}

// Check evaluates the two suppression rules in order for channelID at
// time now with the given payload, without mutating any state. It
// returns true if the sample would be persisted. Callers that go on to
// actually persist the sample must call Commit afterwards; a failed
// insertion must skip the Commit so the gate's state matches what is
// actually on disk.
func (g *Gate) Check(channelID int64, now time.Time, payload string, limits Limits) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, known := g.state[channelID]
	if !known {
		return true
	}

	elapsed := now.Sub(prev.lastAccepted)
	if limits.MinInterval > 0 && elapsed < limits.MinInterval {
		return false
	}
	if limits.MinUnchangedInterval > 0 && payload == prev.lastPayload && elapsed < limits.MinUnchangedInterval {
		return false
	}
	return true
}

// Commit records that a sample with payload was accepted and persisted
// for channelID at time now.
func (g *Gate) Commit(channelID int64, now time.Time, payload string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state[channelID] = channelState{lastAccepted: now, lastPayload: payload}
}

// Allow is Check immediately followed by Commit, for callers that don't
// need to separate the suppression decision from the store write (e.g.
// tests that never fail to insert).
func (g *Gate) Allow(channelID int64, now time.Time, payload string, limits Limits) bool {
	if !g.Check(channelID, now, payload, limits) {
		return false
	}
	g.Commit(channelID, now, payload)
	return true
}
