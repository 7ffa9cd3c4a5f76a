// Package iio monitors the IIO (Integrated I/O) boxes: three hard-coded
// programmable-event groups swept sequentially each tick (TLB miss, TLB
// hit, occupancy/frequency), plus a bank of free-running PCIe inbound/
// outbound bandwidth counters per channel/port, degrading gracefully when
// the programmable counters are permission-denied (read-only BIOS
// lockdown) by reporting PCIe bandwidth only, per spec.md §4.6. Grounded
// on _examples/original_source/uncflow-agent/counters/iio/monitor.rs and
// uncflow-raw/src/arch/skylake/iio.rs.
package iio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opencpm/pcmd/internal/counterdelta"
	"github.com/opencpm/pcmd/internal/hw"
	"github.com/opencpm/pcmd/internal/register"
)

const (
	cachelineBytes  = 64
	measureDuration = time.Second
)

// eventConfig is one (event, umask, channel_mask, fc_mask) counter
// programming.
type eventConfig struct {
	event, umask, channelMask, fcMask uint8
}

// eventGroup is one named group of up to 4 events, programmed into a
// channel's 4 counter slots together.
type eventGroup struct {
	name   string
	events [4]eventConfig
}

// groups is the fixed 3-group catalog swept once per tick: TLB misses by
// kind, TLB hits and related misses, and occupancy/completion/frequency.
var groups = []eventGroup{
	{
		name: "tlb_miss",
		events: [4]eventConfig{
			{0x41, 0x20, 0xFF, 0x07}, // TLB miss
			{0x41, 0x04, 0xFF, 0x07}, // L1 miss
			{0x41, 0x08, 0xFF, 0x07}, // L2 miss
			{0x41, 0x10, 0xFF, 0x07}, // L3 miss
		},
	},
	{
		name: "tlb_hit",
		events: [4]eventConfig{
			{0x41, 0x01, 0xFF, 0x07}, // TLB hit
			{0x41, 0x02, 0xFF, 0x07}, // context miss
			{0x41, 0x40, 0xFF, 0x07}, // TLB full
			{0x41, 0x80, 0xFF, 0x07}, // TLB1 miss
		},
	},
	{
		name: "occupancy",
		events: [4]eventConfig{
			{0x40, 0x00, 0xFF, 0x07}, // occupancy
			{0xC2, 0x04, 0xFF, 0x07}, // completion inserts
			{0xD5, 0x00, 0xFF, 0x07}, // completion occupancy
			{0x01, 0x00, 0xFF, 0x07}, // clockticks
		},
	},
}

// Monitor sweeps the 3 programmable event groups across every IIO channel
// on a socket once per tick, and reads the always-available PCIe
// inbound/outbound bandwidth counters.
type Monitor struct {
	socket            int
	representativeCPU int
	msr               *hw.MsrPool
	logger            *slog.Logger
	sleep             func(time.Duration)

	programmableAvailable bool // false once a write is rejected for permission reasons
	warnedUnavailable     bool

	prevPcieIn  [register.IioChannelCount][register.IioPciePortCount]uint64
	prevPcieOut [register.IioChannelCount][register.IioPciePortCount]uint64
	haveLast    bool
	lastTick    time.Time
	now         func() time.Time
}

// New constructs an IIO monitor for socket, driving MSR I/O through
// representativeCPU.
func New(socket, representativeCPU int, msr *hw.MsrPool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		socket: socket, representativeCPU: representativeCPU, msr: msr, logger: logger,
		programmableAvailable: true,
		sleep:                 time.Sleep,
		now:                   time.Now,
	}
}

func (m *Monitor) Name() string { return fmt.Sprintf("iio/socket%d", m.socket) }

// Program is a no-op: each programmable group is frozen, programmed, and
// unfrozen fresh within Collect's per-group sweep.
func (m *Monitor) Program() error { return nil }

func ctlAddr(ch, counter int) uint64 {
	switch counter {
	case 0:
		return register.IioCtl0[ch]
	case 1:
		return register.IioCtl1[ch]
	case 2:
		return register.IioCtl2[ch]
	default:
		return register.IioCtl3[ch]
	}
}

func ctrAddr(ch, counter int) uint64 {
	switch counter {
	case 0:
		return register.IioCtr0[ch]
	case 1:
		return register.IioCtr1[ch]
	case 2:
		return register.IioCtr2[ch]
	default:
		return register.IioCtr3[ch]
	}
}

func isPermissionDenied(err error) bool {
	return errors.Is(err, os.ErrPermission)
}

// programGroup freezes, programs, and unfreezes every channel's 4 counters
// for the given group. Returns (unavailable, error): unavailable is true if
// a write failed for permission reasons, in which case the monitor should
// fall back to PCIe-bandwidth-only collection rather than failing outright.
func (m *Monitor) programGroup(g eventGroup) (bool, error) {
	for ch := 0; ch < register.IioChannelCount; ch++ {
		freeze := register.IioBoxControl{Freeze: true}
		if err := m.msr.Write(m.representativeCPU, register.IioBoxCtl[ch], freeze.Encode()); err != nil {
			if isPermissionDenied(err) {
				return true, nil
			}
			return false, err
		}
		for i, ev := range g.events {
			ctl := register.IioCounterControl{
				Event: ev.event, Umask: ev.umask, ChannelMask: ev.channelMask, FcMask: ev.fcMask,
				Reset: true, OvfEnable: true, Enable: true,
			}
			if err := m.msr.Write(m.representativeCPU, ctlAddr(ch, i), ctl.Encode()); err != nil {
				if isPermissionDenied(err) {
					return true, nil
				}
				return false, err
			}
		}
		unfreeze := register.IioBoxControl{}
		if err := m.msr.Write(m.representativeCPU, register.IioBoxCtl[ch], unfreeze.Encode()); err != nil {
			return false, err
		}
	}
	return false, nil
}

// readGroup sums each of the group's 4 counter slots across every channel.
func (m *Monitor) readGroup() ([4]uint64, error) {
	var sums [4]uint64
	for ch := 0; ch < register.IioChannelCount; ch++ {
		for i := 0; i < 4; i++ {
			v, err := m.msr.Read(m.representativeCPU, ctrAddr(ch, i))
			if err != nil {
				return [4]uint64{}, err
			}
			sums[i] += v & ((uint64(1) << register.IioProgrammableCounterWidth) - 1)
		}
	}
	return sums, nil
}

// collectProgrammable sweeps all 3 groups sequentially (program, sleep one
// second, read), returning false without error if the hardware rejected
// programming for permission reasons.
func (m *Monitor) collectProgrammable(metrics map[string]float64) (bool, error) {
	results := make(map[string][4]uint64, len(groups))
	for _, g := range groups {
		unavailable, err := m.programGroup(g)
		if err != nil {
			return false, err
		}
		if unavailable {
			return false, nil
		}
		m.sleep(measureDuration)
		sums, err := m.readGroup()
		if err != nil {
			return false, err
		}
		results[g.name] = sums
	}

	if tlbMiss, ok := results["tlb_miss"]; ok {
		metrics["tlb_miss"] = float64(tlbMiss[0])
		metrics["l1_miss"] = float64(tlbMiss[1])
		metrics["l2_miss"] = float64(tlbMiss[2])
		metrics["l3_miss"] = float64(tlbMiss[3])
	}
	if tlbHit, ok := results["tlb_hit"]; ok {
		metrics["tlb_hit"] = float64(tlbHit[0])
		metrics["context_miss"] = float64(tlbHit[1])
		metrics["tlb_full"] = float64(tlbHit[2])
		metrics["tlb1_miss"] = float64(tlbHit[3])
	}
	if occ, ok := results["occupancy"]; ok {
		clockticks := occ[3]
		if clockticks > 0 {
			metrics["frequency_ghz"] = float64(clockticks) / 1e9
			metrics["occupancy_ratio"] = float64(occ[0]) / float64(clockticks)
		}
	}
	return true, nil
}

// collectPcieBandwidth reads the always-available free-running PCIe
// inbound/outbound counters and derives per-(channel,port) GB/s bandwidth
// against the previous tick's reading.
func (m *Monitor) collectPcieBandwidth(metrics map[string]float64) error {
	var curIn, curOut [register.IioChannelCount][register.IioPciePortCount]uint64
	for ch := 0; ch < register.IioChannelCount; ch++ {
		for port := 0; port < register.IioPciePortCount; port++ {
			in, err := m.msr.Read(m.representativeCPU, register.IioPcieBandwidthIn[ch][port])
			if err != nil {
				return err
			}
			out, err := m.msr.Read(m.representativeCPU, register.IioPcieBandwidthOut[ch][port])
			if err != nil {
				return err
			}
			const mask = (uint64(1) << register.IioPcieCounterWidth) - 1
			curIn[ch][port] = in & mask
			curOut[ch][port] = out & mask
		}
	}

	now := m.now()
	if m.haveLast {
		elapsed := now.Sub(m.lastTick).Seconds()
		for ch := 0; ch < register.IioChannelCount; ch++ {
			for port := 0; port < register.IioPciePortCount; port++ {
				inDelta := counterdelta.Of(curIn[ch][port], m.prevPcieIn[ch][port], register.IioPcieCounterWidth)
				outDelta := counterdelta.Of(curOut[ch][port], m.prevPcieOut[ch][port], register.IioPcieCounterWidth)
				var inBW, outBW float64
				if elapsed > 0 {
					inBW = float64(inDelta) * cachelineBytes / elapsed / 1e9
					outBW = float64(outDelta) * cachelineBytes / elapsed / 1e9
				}
				metrics[fmt.Sprintf("pcie_in_bandwidth_gbps_ch%d_port%d", ch, port)] = inBW
				metrics[fmt.Sprintf("pcie_out_bandwidth_gbps_ch%d_port%d", ch, port)] = outBW
			}
		}
	}

	m.prevPcieIn, m.prevPcieOut = curIn, curOut
	m.lastTick = now
	m.haveLast = true
	return nil
}

// Collect sweeps the programmable event groups (if available) and the
// PCIe bandwidth counters (always available), merging both into one
// metric set.
func (m *Monitor) Collect() (map[string]float64, error) {
	metrics := make(map[string]float64, 16)

	if m.programmableAvailable {
		available, err := m.collectProgrammable(metrics)
		if err != nil {
			return nil, err
		}
		if !available {
			m.programmableAvailable = false
			if !m.warnedUnavailable {
				m.logger.Warn("IIO programmable counters unavailable (permission denied); reporting PCIe bandwidth only", "socket", m.socket)
				m.warnedUnavailable = true
			}
		}
	}

	if err := m.collectPcieBandwidth(metrics); err != nil {
		return nil, err
	}

	return metrics, nil
}

func (m *Monitor) Shutdown() {}
