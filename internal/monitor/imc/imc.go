// Package imc monitors the Integrated Memory Controller: read and write
// bandwidth, queue occupancy, and latency derived via Little's Law, each
// aggregated across the socket's detected channels, per spec.md §4.4. Grounded on
// _examples/original_source/uncflow-agent/counters/imc/monitor.rs.
package imc

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opencpm/pcmd/internal/calculator"
	"github.com/opencpm/pcmd/internal/counterdelta"
	"github.com/opencpm/pcmd/internal/hw"
	"github.com/opencpm/pcmd/internal/register"
)

// channel is one Skylake-SP IMC PCI device/function/device-id tuple.
type channel struct {
	device   uint32
	function uint32
	deviceID uint32
}

// skylakeChannels is the Skylake-SP memory-channel PCI address table: up to
// 6 channels across 3 integrated memory controllers.
var skylakeChannels = []channel{
	{0x0A, 2, 0x2042},
	{0x0A, 6, 0x2046},
	{0x0B, 2, 0x204A},
	{0x0C, 2, 0x2042},
	{0x0C, 6, 0x2046},
	{0x0D, 2, 0x204A},
}

type channelCounters struct {
	read, write, rpqOcc, wpqOcc, dclk uint64
}

// Monitor reads read/write CAS counts, RPQ/WPQ occupancy, and the DCLK
// free-running clock from every IMC channel detected on a socket.
type Monitor struct {
	socket  int
	pci     *hw.PciPool
	logger  *slog.Logger
	devices []channel

	prev    map[int]channelCounters
	lastRun time.Time
	now     func() time.Time
}

// New probes which of the known Skylake-SP channel tuples answer on
// socket, defaulting to the first two channels if none are detected
// (modern IMCs always expose at least 2).
func New(socket int, pci *hw.PciPool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	var found []channel
	for i, ch := range skylakeChannels {
		addr := hw.PciConfigAddress{Socket: socket, Device: ch.device, Function: ch.function, DeviceID: ch.deviceID}
		if v, err := pci.Read32(addr, 0); err == nil && v&0xFFFF == 0x8086 {
			found = append(found, ch)
		} else {
			logger.Debug("IMC channel not found", "channel", i, "device", ch.device, "function", ch.function)
		}
	}
	if len(found) == 0 {
		logger.Warn("no IMC channels detected, assuming 2")
		found = skylakeChannels[:2]
	}
	return &Monitor{
		socket:  socket,
		pci:     pci,
		logger:  logger,
		devices: found,
		prev:    make(map[int]channelCounters),
		now:     time.Now,
	}
}

func (m *Monitor) Name() string { return fmt.Sprintf("imc/socket%d", m.socket) }

// Program writes nothing: it does not freeze the channels or program the
// counter-control and DCLK-control registers (register.ImcBoxCtl,
// ImcCtl0-3, ImcDclkCtl). Collect reads the four counters and DCLK with
// whatever event selection and enable state they already hold.
func (m *Monitor) Program() error { return nil }

func (m *Monitor) addr(ch channel) hw.PciConfigAddress {
	return hw.PciConfigAddress{Socket: m.socket, Device: ch.device, Function: ch.function, DeviceID: ch.deviceID}
}

func (m *Monitor) readChannel(ch channel) (channelCounters, error) {
	addr := m.addr(ch)
	read, err := m.pci.Read32(addr, register.ImcCtr0)
	if err != nil {
		return channelCounters{}, err
	}
	write, err := m.pci.Read32(addr, register.ImcCtr1)
	if err != nil {
		return channelCounters{}, err
	}
	rpq, err := m.pci.Read32(addr, register.ImcCtr2)
	if err != nil {
		return channelCounters{}, err
	}
	wpq, err := m.pci.Read32(addr, register.ImcCtr3)
	if err != nil {
		return channelCounters{}, err
	}
	dclk, err := m.pci.Read32(addr, register.ImcDclkCtr)
	if err != nil {
		return channelCounters{}, err
	}
	return channelCounters{uint64(read), uint64(write), uint64(rpq), uint64(wpq), uint64(dclk)}, nil
}

// Collect aggregates read/write bandwidth, average queue occupancy, and
// Little's-Law latency across every detected channel.
func (m *Monitor) Collect() (map[string]float64, error) {
	now := m.now()
	elapsed := now.Sub(m.lastRun).Seconds()
	if m.lastRun.IsZero() {
		elapsed = 1
	}
	m.lastRun = now

	var readInserts, writeInserts, rpqOccDelta, wpqOccDelta, clockSum uint64
	for i, ch := range m.devices {
		cur, err := m.readChannel(ch)
		if err != nil {
			return nil, err
		}
		prev := m.prev[i]
		readInserts += counterdelta.Of(cur.read, prev.read, 32)
		writeInserts += counterdelta.Of(cur.write, prev.write, 32)
		clockSum += counterdelta.Of(cur.dclk, prev.dclk, 32)
		rpqOccDelta += counterdelta.Of(cur.rpqOcc, prev.rpqOcc, 32)
		wpqOccDelta += counterdelta.Of(cur.wpqOcc, prev.wpqOcc, 32)
		m.prev[i] = cur
	}

	n := uint64(len(m.devices))
	var rpqAvg, wpqAvg float64
	if n > 0 {
		rpqAvg = float64(rpqOccDelta) / float64(n)
		wpqAvg = float64(wpqOccDelta) / float64(n)
	}

	readBW := calculator.BandwidthGBs(readInserts, elapsed)
	writeBW := calculator.BandwidthGBs(writeInserts, elapsed)
	freqGHz := calculator.UncoreFrequencyGHz(clockSum, elapsed)

	elapsedNs := elapsed * 1e9
	readLatency := calculator.LatencyNs(rpqOccDelta, readInserts, clockSum, elapsedNs)
	writeLatency := calculator.LatencyNs(wpqOccDelta, writeInserts, clockSum, elapsedNs)

	return map[string]float64{
		"read_bandwidth_gbps":   readBW,
		"write_bandwidth_gbps":  writeBW,
		"read_queue_occupancy":  rpqAvg,
		"write_queue_occupancy": wpqAvg,
		"read_latency_ns":       readLatency,
		"write_latency_ns":      writeLatency,
		"frequency_ghz":         freqGHz,
	}, nil
}

func (m *Monitor) Shutdown() {}
