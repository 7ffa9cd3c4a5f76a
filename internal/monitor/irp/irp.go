// Package irp monitors the IRP (I/O Request Processing) boxes, dual-backed
// by MSR (Skylake and newer) or PCI configuration space (Haswell/
// Broadwell), selected by the running CPU's architecture profile, per
// spec.md §4.7. Each tick sweeps the full 7-event catalog sequentially:
// program → measure for one second → read → derive, rather than holding a
// steady-state program across ticks like the other uncore monitors.
// Grounded on
// _examples/original_source/uncflow-agent/counters/irp/monitor.rs.
package irp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opencpm/pcmd/internal/archprofile"
	"github.com/opencpm/pcmd/internal/calculator"
	"github.com/opencpm/pcmd/internal/hw"
	"github.com/opencpm/pcmd/internal/hwerr"
	"github.com/opencpm/pcmd/internal/register"
)

const (
	irpPciDevice   = 5
	irpPciFunction = 6
	irpPciDeviceID = 0x6F39

	cachelineBytes  = 64
	measureDuration = time.Second
)

// eventConfig is one named pair of (event,umask) configurations: config0
// goes to the first counter in a unit (or pair), config1 to the second.
type eventConfig struct {
	name                           string
	event0, umask0, event1, umask1 uint8
}

// events is the fixed IRP catalog. MSR mode programs each one into all 3
// units and reads back a 2-wide aggregate; PCI mode programs two at a time
// across the unit's 4 counters (the trailing unpaired entry, CLFlush, has
// no partner under this pairing and is not collected in PCI mode).
var events = []eventConfig{
	{"All", 0x0F, 0x01, 0x10, 0xFF},
	{"Clockticks", 0x0F, 0x01, 0x01, 0x00},
	{"PCIeRead", 0x0F, 0x01, 0x10, 0x01},
	{"RFO", 0x0F, 0x01, 0x10, 0x08},
	{"PCIItoM", 0x0F, 0x01, 0x10, 0x10},
	{"WbMtoI", 0x0F, 0x01, 0x10, 0x40},
	{"CLFlush", 0x0F, 0x01, 0x10, 0x80},
}

// Monitor sweeps IRP read/write/bandwidth/latency metrics for one socket,
// through whichever backend the architecture exposes.
type Monitor struct {
	socket  int
	backend archprofile.IrpBackend
	logger  *slog.Logger

	msr               *hw.MsrPool
	representativeCPU int

	pci     *hw.PciPool
	pciAddr hw.PciConfigAddress

	sleep func(time.Duration)
}

// New constructs an IRP monitor for socket, selecting MSR or PCI backend
// from arch. msr/representativeCPU are used for the MSR backend; pci is
// used for the PCI backend. Returns Unsupported if arch exposes neither.
func New(socket int, arch archprofile.Architecture, msr *hw.MsrPool, representativeCPU int, pci *hw.PciPool, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := arch.IrpBackend()
	m := &Monitor{
		socket: socket, backend: backend, logger: logger,
		msr: msr, representativeCPU: representativeCPU, pci: pci,
		sleep: time.Sleep,
	}

	switch backend {
	case archprofile.IrpBackendMsr:
		// MSR addresses are fixed per-socket via representativeCPU; nothing to probe.
	case archprofile.IrpBackendPci:
		m.pciAddr = hw.PciConfigAddress{Socket: socket, Device: irpPciDevice, Function: irpPciFunction, DeviceID: irpPciDeviceID}
		v, err := pci.Read32(m.pciAddr, 0)
		if err != nil {
			return nil, err
		}
		if v&0xFFFF != 0x8086 {
			return nil, hwerr.Pci(fmt.Sprintf("socket=%d", socket), fmt.Errorf("IRP device not found: vendor 0x%04x", v&0xFFFF))
		}
	default:
		return nil, hwerr.Unsupported(fmt.Sprintf("IRP on architecture %s", arch))
	}
	return m, nil
}

func (m *Monitor) Name() string { return fmt.Sprintf("irp/socket%d", m.socket) }

// Program is a no-op: each Collect call programs, measures, and reads the
// full event catalog from a clean freeze+reset, so there is no
// steady-state configuration to establish up front.
func (m *Monitor) Program() error { return nil }

func (m *Monitor) programMsr(ev eventConfig) error {
	freezeReset := register.IrpBoxControl{Freeze: true, Reset: true}
	unfreeze := register.IrpBoxControl{}
	for unit := 0; unit < 3; unit++ {
		if err := m.msr.Write(m.representativeCPU, register.IrpMsrUnitCtl[unit], freezeReset.Encode()); err != nil {
			return err
		}
		ctl0 := register.IrpCounterControl{Event: ev.event0, Umask: ev.umask0, Enable: true}
		if err := m.msr.Write(m.representativeCPU, register.IrpMsrCtl0[unit], ctl0.Encode()); err != nil {
			return err
		}
		ctl1 := register.IrpCounterControl{Event: ev.event1, Umask: ev.umask1, Enable: true}
		if err := m.msr.Write(m.representativeCPU, register.IrpMsrCtl1[unit], ctl1.Encode()); err != nil {
			return err
		}
		if err := m.msr.Write(m.representativeCPU, register.IrpMsrUnitCtl[unit], unfreeze.Encode()); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) readMsrAggregate() ([2]uint64, error) {
	const mask = (uint64(1) << register.IrpCounterWidth) - 1
	var agg [2]uint64
	for unit := 0; unit < 3; unit++ {
		c0, err := m.msr.Read(m.representativeCPU, register.IrpMsrCtr0[unit])
		if err != nil {
			return [2]uint64{}, err
		}
		c1, err := m.msr.Read(m.representativeCPU, register.IrpMsrCtr1[unit])
		if err != nil {
			return [2]uint64{}, err
		}
		agg[0] += c0 & mask
		agg[1] += c1 & mask
	}
	return agg, nil
}

func (m *Monitor) programPciPair(c0, c1 eventConfig) error {
	freezeReset := register.IrpBoxControl{Freeze: true, Reset: true}
	if err := m.pci.Write32(m.pciAddr, register.IrpPciUnitCtlOffset, uint32(freezeReset.Encode())); err != nil {
		return err
	}
	ctls := [4]register.IrpCounterControl{
		{Event: c0.event0, Umask: c0.umask0, Enable: true},
		{Event: c0.event1, Umask: c0.umask1, Enable: true},
		{Event: c1.event0, Umask: c1.umask0, Enable: true},
		{Event: c1.event1, Umask: c1.umask1, Enable: true},
	}
	for i, ctl := range ctls {
		if err := m.pci.Write32(m.pciAddr, register.IrpPciCtlOffsets[i], uint32(ctl.Encode())); err != nil {
			return err
		}
	}
	unfreeze := register.IrpBoxControl{}
	return m.pci.Write32(m.pciAddr, register.IrpPciUnitCtlOffset, uint32(unfreeze.Encode()))
}

func (m *Monitor) readPciCounters() ([4]uint64, error) {
	status, err := m.pci.Read32(m.pciAddr, register.IrpPciUnitStatusOffset)
	if err != nil {
		return [4]uint64{}, err
	}
	if status&0xF != 0 {
		if err := m.pci.Write32(m.pciAddr, register.IrpPciUnitStatusOffset, status&0xF); err != nil {
			return [4]uint64{}, err
		}
	}
	const mask = (uint64(1) << 32) - 1
	var out [4]uint64
	for i, off := range register.IrpPciCtrOffsets {
		v, err := m.pci.Read32(m.pciAddr, off)
		if err != nil {
			return [4]uint64{}, err
		}
		out[i] = uint64(v) & mask
	}
	return out, nil
}

// Collect sweeps the event catalog once, in full, on whichever backend
// this socket uses, and returns the metrics derived along the way.
func (m *Monitor) Collect() (map[string]float64, error) {
	results := make(map[string][2]uint64, len(events))
	metrics := make(map[string]float64, len(events))

	switch m.backend {
	case archprofile.IrpBackendMsr:
		for _, ev := range events {
			if err := m.programMsr(ev); err != nil {
				return nil, err
			}
			m.sleep(measureDuration)
			agg, err := m.readMsrAggregate()
			if err != nil {
				return nil, err
			}
			results[ev.name] = agg
			m.deriveMetrics(ev.name, agg, measureDuration, results, metrics)
		}
	case archprofile.IrpBackendPci:
		for i := 0; i+1 < len(events); i += 2 {
			c0, c1 := events[i], events[i+1]
			if err := m.programPciPair(c0, c1); err != nil {
				return nil, err
			}
			m.sleep(measureDuration)
			values, err := m.readPciCounters()
			if err != nil {
				return nil, err
			}
			agg0 := [2]uint64{values[0], values[1]}
			agg1 := [2]uint64{values[2], values[3]}
			results[c0.name] = agg0
			m.deriveMetrics(c0.name, agg0, measureDuration, results, metrics)
			results[c1.name] = agg1
			m.deriveMetrics(c1.name, agg1, measureDuration, results, metrics)
		}
		// events[6] (CLFlush) has no partner under step-2 pairing of 7
		// entries on the PCI backend and is not collected there.
	}

	return metrics, nil
}

// deriveMetrics applies the per-event-name derivation rules from spec.md
// §4.7 to one event's aggregated (occupancy, inserts) pair.
func (m *Monitor) deriveMetrics(name string, values [2]uint64, elapsed time.Duration, results map[string][2]uint64, metrics map[string]float64) {
	elapsedS := elapsed.Seconds()
	elapsedNs := elapsedS * 1e9

	switch name {
	case "Clockticks":
		frequency := calculator.UncoreFrequencyGHz(values[1], elapsedS)
		metrics["frequency_ghz"] = frequency
		if all, ok := results["All"]; ok {
			metrics["latency_ns"] = calculator.LatencyNs(all[0], all[1], values[1], elapsedNs)
			if frequency > 0 {
				metrics["any_occupancy"] = float64(all[0]) / (frequency * 1e9 * elapsedS)
			}
		}
	case "All":
		if clk, ok := results["Clockticks"]; ok {
			metrics["latency_ns"] = calculator.LatencyNs(values[0], values[1], clk[1], elapsedNs)
		}
		metrics["all_bandwidth_gbps"] = calculator.BandwidthGBs(values[1], elapsedS)
	case "PCIeRead":
		metrics["pcie_read_bandwidth_gbps"] = calculator.BandwidthGBs(values[1], elapsedS)
	case "RFO":
		metrics["rfo_bandwidth_gbps"] = calculator.BandwidthGBs(values[1], elapsedS)
	case "PCIItoM":
		metrics["pci_itom_bandwidth_gbps"] = calculator.BandwidthGBs(values[1], elapsedS)
	case "WbMtoI":
		metrics["wbmtoi_bandwidth_gbps"] = calculator.BandwidthGBs(values[1], elapsedS)
	case "CLFlush":
		metrics["clflush_bandwidth_gbps"] = calculator.BandwidthGBs(values[1], elapsedS)
	}
}

func (m *Monitor) Shutdown() {}
