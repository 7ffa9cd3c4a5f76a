// Package rapl monitors package, core-domain, and DRAM energy via RAPL
// MSRs, converting energy-counter deltas to average watts, per spec.md
// §4.8. Grounded on
// _examples/original_source/uncflow-agent/counters/rapl/monitor.rs.
package rapl

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opencpm/pcmd/internal/counterdelta"
	"github.com/opencpm/pcmd/internal/hw"
	"github.com/opencpm/pcmd/internal/register"
)

const raplCounterWidth = 32

// Monitor reads the package/PP0/DRAM energy-status MSRs for one socket,
// scaling counter deltas into watts using the unit descriptor read once at
// construction (the unit never changes at runtime).
type Monitor struct {
	socket int
	cpu    int
	msr    *hw.MsrPool
	logger *slog.Logger

	joulesPerLSB float64
	prevPkg      uint64
	prevPP0      uint64
	prevDram     uint64
	lastRun      time.Time
	now          func() time.Time
}

// New constructs a RAPL monitor for socket, reading MSRs through cpu (any
// core on the socket; RAPL domains are package-wide).
func New(socket, cpu int, msr *hw.MsrPool, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := msr.Read(cpu, register.MsrRaplPowerUnit)
	if err != nil {
		return nil, err
	}
	unit := register.DecodePowerUnit(raw)
	return &Monitor{
		socket:       socket,
		cpu:          cpu,
		msr:          msr,
		logger:       logger,
		joulesPerLSB: unit.EnergyJoulesPerLSB(),
		now:          time.Now,
	}, nil
}

func (m *Monitor) Name() string { return fmt.Sprintf("rapl/socket%d", m.socket) }

// Program is a no-op: RAPL energy counters are always-on and read-only.
func (m *Monitor) Program() error { return nil }

// Collect converts the energy-counter delta since the last call into
// average watts over the elapsed wall-clock interval.
func (m *Monitor) Collect() (map[string]float64, error) {
	now := m.now()
	elapsed := now.Sub(m.lastRun).Seconds()
	if m.lastRun.IsZero() {
		elapsed = 1
	}
	m.lastRun = now

	pkg, err := m.msr.Read(m.cpu, register.MsrPkgEnergyStatus)
	if err != nil {
		return nil, err
	}
	pp0, err := m.msr.Read(m.cpu, register.MsrPp0EnergyStatus)
	if err != nil {
		return nil, err
	}
	dram, err := m.msr.Read(m.cpu, register.MsrDramEnergyStatus)
	if err != nil {
		return nil, err
	}

	pkgWatts := m.watts(counterdelta.Of(pkg, m.prevPkg, raplCounterWidth), elapsed)
	pp0Watts := m.watts(counterdelta.Of(pp0, m.prevPP0, raplCounterWidth), elapsed)
	dramWatts := m.watts(counterdelta.Of(dram, m.prevDram, raplCounterWidth), elapsed)

	m.prevPkg, m.prevPP0, m.prevDram = pkg, pp0, dram

	return map[string]float64{
		"package_watts": pkgWatts,
		"core_watts":    pp0Watts,
		"dram_watts":    dramWatts,
	}, nil
}

func (m *Monitor) watts(deltaLSB uint64, elapsed float64) float64 {
	if elapsed == 0 {
		return 0
	}
	return float64(deltaLSB) * m.joulesPerLSB / elapsed
}

func (m *Monitor) Shutdown() {}
