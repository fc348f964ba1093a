package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountAlwaysIncludesAtFullRate(t *testing.T) {
	c := NewController(Count, 100)
	for i := 0; i < 50; i++ {
		require.True(t, c.Include(nil))
	}
}

func TestCountNeverIncludesAtZeroRate(t *testing.T) {
	c := NewController(Count, 0)
	for i := 0; i < 50; i++ {
		require.False(t, c.Include(nil))
	}
}

func TestCountConvergesTowardConfiguredRate(t *testing.T) {
	c := NewController(Count, 25)
	included := 0
	const total = 4000
	for i := 0; i < total; i++ {
		if c.Include(nil) {
			included++
		}
	}
	frac := float64(included) / float64(total)
	assert.InDelta(t, 0.25, frac, 0.03)
}

func TestAdaptiveDecaysTowardThreshold(t *testing.T) {
	loc := NewState(100, 10)
	for i := 0; i < 2000; i++ {
		(&Controller{scheme: Adaptive}).Include(loc)
	}
	assert.InDelta(t, 10, loc.rate(), 0.5)
}

func TestAdaptiveNeverDecaysBelowThreshold(t *testing.T) {
	loc := NewState(100, 10)
	ctrl := &Controller{scheme: Adaptive}
	for i := 0; i < 10000; i++ {
		ctrl.Include(loc)
	}
	assert.GreaterOrEqual(t, loc.rate(), 10.0)
}

func TestAdaptiveIncludesAtLeastSomeAccesses(t *testing.T) {
	loc := NewState(50, 1)
	ctrl := &Controller{scheme: Adaptive}
	included := 0
	for i := 0; i < 200; i++ {
		if ctrl.Include(loc) {
			included++
		}
	}
	assert.Greater(t, included, 0)
}
