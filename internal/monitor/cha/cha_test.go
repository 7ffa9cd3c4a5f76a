package cha

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opencpm/pcmd/internal/chacatalog"
	"github.com/opencpm/pcmd/internal/hw"
	"github.com/opencpm/pcmd/internal/rotation"
)

// newTestMonitor builds a Monitor with boxCount 0 so Collect's per-box MSR
// read loop never executes (0 iterations), letting the hit/miss pairing and
// derived-metric logic be exercised against a preset accumulator without
// real hardware.
func newTestMonitor(groups []chacatalog.Group, start time.Time, elapsed time.Duration) *Monitor {
	now := start.Add(elapsed)
	return &Monitor{
		socket:            0,
		boxCount:          0,
		representativeCPU: 0,
		msr:               hw.NewMsrPool(nil),
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		scheduler:         rotation.New(groups, rotation.DefaultInterval, func() time.Time { return now }),
		prev:              make(map[int]boxCounters),
		acc:               make(map[string]accumulated),
		start:             start,
		now:               func() time.Time { return now },
	}
}

func TestCollectDerivesHitMissMetricsFromPairedAccumulators(t *testing.T) {
	start := time.Unix(1000, 0)
	m := newTestMonitor([]chacatalog.Group{{Name: "Uncore Frequency"}}, start, time.Second)

	m.acc["DRDRead Hit"] = accumulated{occupancy: 2_000_000, insert: 800, clockticks: 1_000_000_000}
	m.acc["DRDRead Miss"] = accumulated{occupancy: 500_000, insert: 200, clockticks: 1_000_000_000}

	metrics, err := m.Collect()
	assert.NoError(t, err)

	assert.InDelta(t, 0.8, metrics["cha_drdread_hit_rate"], 1e-9)
	assert.Greater(t, metrics["cha_drdread_bandwidth_gbs"], 0.0)
	assert.Greater(t, metrics["cha_drdread_hit_bandwidth_gbs"], 0.0)
	assert.Greater(t, metrics["cha_drdread_miss_bandwidth_gbs"], 0.0)
	assert.Greater(t, metrics["cha_drdread_hit_latency_ns"], 0.0)
	assert.Greater(t, metrics["cha_drdread_miss_latency_ns"], 0.0)
}

func TestCollectSkipsUnpairedHitEntries(t *testing.T) {
	start := time.Unix(1000, 0)
	m := newTestMonitor([]chacatalog.Group{{Name: "Uncore Frequency"}}, start, time.Second)

	m.acc["RFO Hit"] = accumulated{occupancy: 10, insert: 5, clockticks: 100}

	metrics, err := m.Collect()
	assert.NoError(t, err)

	_, hasHitRate := metrics["cha_rfo_hit_rate"]
	assert.False(t, hasHitRate)
	assert.Equal(t, 5.0, metrics["cha_rfo_hit_insert_total"])
}

func TestCollectDerivesUncoreFrequencyFromDedicatedGroup(t *testing.T) {
	start := time.Unix(1000, 0)
	m := newTestMonitor([]chacatalog.Group{{Name: "Uncore Frequency"}}, start, 2*time.Second)

	m.acc["Uncore Frequency"] = accumulated{clockticks: 4_000_000_000}

	metrics, err := m.Collect()
	assert.NoError(t, err)
	assert.InDelta(t, 2.0, metrics["cha_uncore_frequency_ghz"], 1e-9)
}
