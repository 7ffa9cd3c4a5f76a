package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBandwidthGBsZeroInputs(t *testing.T) {
	assert.Equal(t, 0.0, BandwidthGBs(0, 1.0))
	assert.Equal(t, 0.0, BandwidthGBs(1000, 0))
}

func TestBandwidthGBsKnownValue(t *testing.T) {
	// IRP/Haswell scenario from spec.md §8: all_inserts=1e6 -> 0.064 GB/s.
	assert.InDelta(t, 0.064, BandwidthGBs(1_000_000, 1.0), 1e-12)
}

func TestHitRateBounds(t *testing.T) {
	assert.Equal(t, 0.0, HitRate(0, 0))
	assert.InDelta(t, 1.0, HitRate(10, 0), 1e-12)
	r := HitRate(3, 1)
	assert.GreaterOrEqual(t, r, 0.0)
	assert.LessOrEqual(t, r, 1.0)
}

func TestOccupancyRatio(t *testing.T) {
	assert.Equal(t, 0.0, OccupancyRatio(5, 0))
	assert.Equal(t, 1.0, OccupancyRatio(7, 7))
}

func TestLatencyNsZeroDenominators(t *testing.T) {
	assert.Equal(t, 0.0, LatencyNs(10, 0, 100, 1e9))
	assert.Equal(t, 0.0, LatencyNs(10, 100, 0, 1e9))
}

func TestLatencyNsKnownValue(t *testing.T) {
	// spec.md §8 scenario 1: occupancy=2e7, inserts=1e6, clockticks=1e9,
	// elapsed=1s -> latency 20ns.
	got := LatencyNs(2e7, 1e6, 1e9, 1e9)
	assert.InDelta(t, 20.0, got, 1e-9)
}

func TestUncoreFrequencyGHz(t *testing.T) {
	assert.Equal(t, 0.0, UncoreFrequencyGHz(1e9, 0))
	assert.InDelta(t, 1.0, UncoreFrequencyGHz(1e9, 1.0), 1e-9)
}
