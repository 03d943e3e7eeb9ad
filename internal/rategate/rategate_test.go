package rategate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wirenboard/wb-mqtt-db/internal/rategate"
)

// TestMinInterval reproduces scenario S1: "1" at t=0,
// "2" at t=1s, "3" at t=3s with MinInterval=2s stores ["1", "3"].
func TestMinInterval(t *testing.T) {
	g := rategate.New()
	base := time.Unix(0, 0)
	limits := rategate.Limits{MinInterval: 2 * time.Second}

	assert.True(t, g.Allow(1, base, "1", limits))
	assert.False(t, g.Allow(1, base.Add(1*time.Second), "2", limits))
	assert.True(t, g.Allow(1, base.Add(3*time.Second), "3", limits))
}

// TestMinUnchangedInterval reproduces scenario S2: "7"@0, "7"@2, "8"@3,
// "7"@4 with MinUnchangedInterval=5s stores ["7"@0, "8"@3, "7"@4].
func TestMinUnchangedInterval(t *testing.T) {
	g := rategate.New()
	base := time.Unix(0, 0)
	limits := rategate.Limits{MinUnchangedInterval: 5 * time.Second}

	assert.True(t, g.Allow(1, base, "7", limits))
	assert.False(t, g.Allow(1, base.Add(2*time.Second), "7", limits))
	assert.True(t, g.Allow(1, base.Add(3*time.Second), "8", limits))
	assert.True(t, g.Allow(1, base.Add(4*time.Second), "7", limits))
}

func TestRulesAreIndependentAndChannelScoped(t *testing.T) {
	g := rategate.New()
	base := time.Unix(0, 0)
	limits := rategate.Limits{MinInterval: 10 * time.Second}

	assert.True(t, g.Allow(1, base, "x", limits))
	// A different channel is unaffected by channel 1's state.
	assert.True(t, g.Allow(2, base, "x", limits))
	// With only MinInterval configured, an unchanged payload is accepted
	// once MinInterval has elapsed: the unchanged rule stays disabled.
	assert.True(t, g.Allow(1, base.Add(10*time.Second), "x", limits))
}

func TestDisabledLimitsNeverSuppress(t *testing.T) {
	g := rategate.New()
	base := time.Unix(0, 0)

	assert.True(t, g.Allow(1, base, "a", rategate.Limits{}))
	assert.True(t, g.Allow(1, base, "a", rategate.Limits{}))
}
