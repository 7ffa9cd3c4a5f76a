// Package corepmu monitors one core's three fixed counters (instructions
// retired, unhalted core cycles, unhalted reference cycles) plus up to 4
// programmable counters from a curated LLC/L2 event set, deriving IPC,
// LLC/L2 hit rates and misses-per-instruction, and an elapsed-time estimate
// from the reference-cycle count and the core's base frequency, per
// spec.md §4.10. Grounded on
// _examples/original_source/uncflow-agent/counters/core/monitor.rs and
// _examples/original_source/uncflow-agent/counters/core/events.rs.
package corepmu

import (
	"fmt"
	"log/slog"

	"github.com/opencpm/pcmd/internal/calculator"
	"github.com/opencpm/pcmd/internal/counterdelta"
	"github.com/opencpm/pcmd/internal/hw"
	"github.com/opencpm/pcmd/internal/register"
)

const fixedCounterWidth = 48
const programmableCounterWidth = 48

type pmuEvent struct {
	name  string
	event uint8
	umask uint8
}

// defaultEvents is the curated 4-counter set: LLC references/misses and L2
// request references/misses, enough to derive both hit rates and both MPI
// metrics.
var defaultEvents = [4]pmuEvent{
	{"llc_references", 0x2E, 0x4F},
	{"llc_misses", 0x2E, 0x41},
	{"l2_references", 0x24, 0xFF},
	{"l2_misses", 0x24, 0x3F},
}

// Monitor reads one core's fixed and programmable PMU counters.
type Monitor struct {
	core   int
	msr    *hw.MsrPool
	logger *slog.Logger

	baseFrequencyHz float64

	prevInstructions, prevCycles, prevRefCycles uint64
	prevProgrammable                            [4]uint64
}

// New constructs a core PMU monitor for core, reading MSR_PLATFORM_INFO once
// to derive the core's base (max non-turbo) frequency for the elapsed-time
// metric.
func New(core int, msr *hw.MsrPool, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	platformInfo, err := msr.Read(core, register.MsrPlatformInfo)
	if err != nil {
		return nil, err
	}
	maxNonTurboRatio := (platformInfo >> 8) & 0xFF
	baseFrequencyHz := float64(maxNonTurboRatio) * 1e8 // 100 MHz per ratio step

	return &Monitor{core: core, msr: msr, logger: logger, baseFrequencyHz: baseFrequencyHz}, nil
}

func (m *Monitor) Name() string { return fmt.Sprintf("corepmu/core%d", m.core) }

// Program disables all counters, configures the three architectural fixed
// counters in user+OS mode and the 4 general-purpose counters with the
// curated event set, clears every counter, then enables all 7 via
// PERF_GLOBAL_CTRL.
func (m *Monitor) Program() error {
	if err := m.msr.Write(m.core, register.MsrPerfGlobalCtrl, 0); err != nil {
		return err
	}

	const osUsr = 0x3 // bit0 OS, bit1 USR
	fixed := register.FixedCounterControl{
		Ctr0: osUsr, // instructions retired
		Ctr1: osUsr, // unhalted core cycles
		Ctr2: osUsr, // unhalted reference cycles
	}
	if err := m.msr.Write(m.core, register.MsrFixedCtrCtrl, fixed.Encode()); err != nil {
		return err
	}

	for i, ev := range defaultEvents {
		sel := register.PerfEvtSel{EventSelect: ev.event, UnitMask: ev.umask, Usr: true, Os: true, Enable: true}
		if err := m.msr.Write(m.core, register.MsrPerfEvtSel0+uint64(i), sel.Encode()); err != nil {
			return err
		}
	}

	for _, addr := range []uint64{register.MsrFixedCtr0, register.MsrFixedCtr1, register.MsrFixedCtr2} {
		if err := m.msr.Write(m.core, addr, 0); err != nil {
			return err
		}
	}
	for i := range defaultEvents {
		if err := m.msr.Write(m.core, register.MsrPmc0+uint64(i), 0); err != nil {
			return err
		}
	}

	return m.msr.Write(m.core, register.MsrPerfGlobalCtrl, register.GlobalCtrlEnableAll)
}

// Collect derives IPC, LLC/L2 hit rates and misses-per-instruction from the
// curated 4-counter set, and an elapsed-time estimate from the unhalted
// reference-cycle delta and the core's base frequency.
func (m *Monitor) Collect() (map[string]float64, error) {
	instructions, err := m.msr.Read(m.core, register.MsrFixedCtr0)
	if err != nil {
		return nil, err
	}
	cycles, err := m.msr.Read(m.core, register.MsrFixedCtr1)
	if err != nil {
		return nil, err
	}
	refCycles, err := m.msr.Read(m.core, register.MsrFixedCtr2)
	if err != nil {
		return nil, err
	}

	var programmable [4]uint64
	for i := range defaultEvents {
		v, err := m.msr.Read(m.core, register.MsrPmc0+uint64(i))
		if err != nil {
			return nil, err
		}
		programmable[i] = v
	}

	instDelta := counterdelta.Of(instructions, m.prevInstructions, fixedCounterWidth)
	cycleDelta := counterdelta.Of(cycles, m.prevCycles, fixedCounterWidth)
	refCycleDelta := counterdelta.Of(refCycles, m.prevRefCycles, fixedCounterWidth)
	m.prevInstructions, m.prevCycles, m.prevRefCycles = instructions, cycles, refCycles

	var deltas [4]uint64
	for i, v := range programmable {
		deltas[i] = counterdelta.Of(v, m.prevProgrammable[i], programmableCounterWidth)
	}
	m.prevProgrammable = programmable

	llcMisses, llcRefs := deltas[1], deltas[0]
	l2Misses, l2Refs := deltas[3], deltas[2]

	var ipc, l3Mpi, l2Mpi, elapsedTime float64
	if cycleDelta != 0 {
		ipc = float64(instDelta) / float64(cycleDelta)
	}
	if instDelta != 0 {
		l3Mpi = float64(llcMisses) / float64(instDelta)
		l2Mpi = float64(l2Misses) / float64(instDelta)
	}
	if m.baseFrequencyHz > 0 {
		elapsedTime = float64(refCycleDelta) / m.baseFrequencyHz
	}

	return map[string]float64{
		"ipc":          ipc,
		"llc_hit_rate": calculator.HitRate(llcRefs-minU64(llcRefs, llcMisses), llcMisses),
		"l2_hit_rate":  calculator.HitRate(l2Refs-minU64(l2Refs, l2Misses), l2Misses),
		"l3_mpi":       l3Mpi,
		"l2_mpi":       l2Mpi,
		"elapsed_time": elapsedTime,
	}, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Shutdown disables every counter by clearing PERF_GLOBAL_CTRL, mirroring
// the original's Drop impl for CoreMonitor
// (_examples/original_source/uncflow-agent/counters/core/monitor.rs),
// which writes 0 to IA32_PERF_GLOBAL_CTRL on drop, per spec.md §4.10/§5.
func (m *Monitor) Shutdown() {
	if err := m.msr.Write(m.core, register.MsrPerfGlobalCtrl, 0); err != nil {
		m.logger.Warn("failed to disable core PMU counters on shutdown", "core", m.core, "error", err)
	}
}
