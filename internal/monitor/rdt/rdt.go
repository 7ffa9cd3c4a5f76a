// Package rdt monitors per-core LLC occupancy and local/remote memory
// bandwidth via RDT's CMT/MBM counters: one RMID is allocated per
// monitored core, associated via IA32_PQR_ASSOC, and read back through the
// shared IA32_QM_EVTSEL/IA32_QM_CTR pair, per spec.md §4.9. Grounded on
// _examples/original_source/uncflow-agent/counters/rdt/monitor.rs.
package rdt

import (
	"fmt"
	"log/slog"

	"github.com/opencpm/pcmd/internal/hw"
	"github.com/opencpm/pcmd/internal/register"
)

// reassertInterval is how many Collect ticks pass between RMID
// reassertions: RDT associations can be silently dropped by a core reset
// or CPU hotplug event, so they are periodically re-written rather than
// only once at startup, per spec.md §4.9.
const reassertInterval = 30

// Monitor tracks CMT/MBM counters for a fixed set of cores on one socket.
type Monitor struct {
	socket          int
	cores           []int
	monitoringCore  int
	msr             *hw.MsrPool
	logger          *slog.Logger
	scalingFactor   uint64

	rmidOf      map[int]uint32
	rmidUsed    [register.RmidMax]bool
	prevLocal   map[int]uint64
	prevRemote  map[int]uint64
	tick        int
}

// New allocates one RMID per core and associates it via IA32_PQR_ASSOC.
// monitoringCore is any core on the socket used to read back IA32_QM_CTR
// (the counters are socket-shared, keyed by RMID).
func New(socket int, cores []int, monitoringCore int, scalingFactor uint32, msr *hw.MsrPool, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		socket:         socket,
		cores:          cores,
		monitoringCore: monitoringCore,
		msr:            msr,
		logger:         logger,
		scalingFactor:  uint64(scalingFactor),
		rmidOf:         make(map[int]uint32, len(cores)),
		prevLocal:      make(map[int]uint64, len(cores)),
		prevRemote:     make(map[int]uint64, len(cores)),
	}
	m.rmidUsed[0] = true // RMID 0 means "not monitored"; never hand it out.

	for _, core := range cores {
		rmid, err := m.allocateRmid()
		if err != nil {
			return nil, err
		}
		if err := m.assignRmid(core, rmid); err != nil {
			return nil, err
		}
		m.rmidOf[core] = rmid
		logger.Info("assigned RMID", "core", core, "rmid", rmid)
	}
	return m, nil
}

func (m *Monitor) allocateRmid() (uint32, error) {
	for i := 1; i < register.RmidMax; i++ {
		if !m.rmidUsed[i] {
			m.rmidUsed[i] = true
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("rdt: no free RMIDs available")
}

func (m *Monitor) assignRmid(core int, rmid uint32) error {
	current, err := m.msr.Read(core, register.MsrPqrAssoc)
	if err != nil {
		return err
	}
	return m.msr.Write(core, register.MsrPqrAssoc, register.WithRmid(current, uint16(rmid)))
}

func (m *Monitor) Name() string { return fmt.Sprintf("rdt/socket%d", m.socket) }

// Program re-asserts every core's RMID association: RDT associations can
// be reset by a CPU reset or hotplug event, so this is safe to call
// repeatedly. Collect calls it every reassertInterval ticks and logs each
// such reassertion at debug level; Program itself logs nothing.
func (m *Monitor) Program() error {
	for core, rmid := range m.rmidOf {
		if err := m.assignRmid(core, rmid); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) readEvent(rmid uint32, event uint8) (uint64, error) {
	sel := register.QmEventSelect{Rmid: rmid, EventID: event}
	if err := m.msr.Write(m.monitoringCore, register.MsrQmEvtSel, sel.Encode()); err != nil {
		return 0, err
	}
	return m.msr.Read(m.monitoringCore, register.MsrQmCtr)
}

// Collect reads LLC occupancy (a gauge, not a delta) and local/remote
// memory bandwidth (deltas scaled by the MBM scaling factor) for every
// monitored core, keeping each core's reading as its own metric — per
// spec.md §6's core=<id> labeling and
// _examples/original_source/uncflow-agent/counters/rdt/monitor.rs's
// per-core get_metrics(core_id) accessor — rather than collapsing the
// socket's cores into one scalar. The dimension is carried the same way
// every other per-dimension metric in this daemon is (see
// internal/monitor/iio's pcie_in_bandwidth_gbps_ch%d_port%d): baked into
// the metric-name string, since the collector's gauge vector is only keyed
// by monitor name and metric name.
func (m *Monitor) Collect() (map[string]float64, error) {
	m.tick++
	if m.tick%reassertInterval == 0 {
		m.logger.Debug("reasserting RMID associations", "socket", m.socket, "tick", m.tick)
		if err := m.Program(); err != nil {
			return nil, err
		}
	}

	metrics := make(map[string]float64, len(m.cores)*3)

	for _, core := range m.cores {
		rmid := m.rmidOf[core]

		occRaw, err := m.readEvent(rmid, register.EventLlcOccupancy)
		if err != nil {
			return nil, err
		}
		localRaw, err := m.readEvent(rmid, register.EventLocalMemBw)
		if err != nil {
			return nil, err
		}
		remoteRaw, err := m.readEvent(rmid, register.EventRemoteMemBw)
		if err != nil {
			return nil, err
		}

		occupancy := occRaw * m.scalingFactor
		localDelta := saturatingSub(localRaw, m.prevLocal[core]) * m.scalingFactor
		remoteDelta := saturatingSub(remoteRaw, m.prevRemote[core]) * m.scalingFactor
		m.prevLocal[core] = localRaw
		m.prevRemote[core] = remoteRaw

		metrics[fmt.Sprintf("llc_occupancy_bytes_core%d", core)] = float64(occupancy)
		metrics[fmt.Sprintf("local_memory_bandwidth_bytes_core%d", core)] = float64(localDelta)
		metrics[fmt.Sprintf("remote_memory_bandwidth_bytes_core%d", core)] = float64(remoteDelta)
	}

	return metrics, nil
}

// saturatingSub computes a free-running counter delta. Per spec.md §4.9, a
// wrapped or RMID-reset counter (current < previous) reports its raw current
// value rather than zero or an underflowed delta — wraparound is rare at 1 Hz
// sampling and the hardware resets RMID counters on reallocation anyway.
func saturatingSub(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

// Shutdown releases every RMID this monitor owns back to the pool and
// reassociates each core with RMID 0 ("not monitored"), per spec.md §4.9
// ("Drop of the monitor frees every id it owns"). The pool bookkeeping is
// freed unconditionally even if the MSR reassociation write fails, since a
// failing write leaves the RMID unusable on that core regardless and the
// process is tearing down.
func (m *Monitor) Shutdown() {
	for core, rmid := range m.rmidOf {
		if err := m.assignRmid(core, 0); err != nil {
			m.logger.Warn("failed to clear RMID association on shutdown", "core", core, "rmid", rmid, "error", err)
		}
		m.rmidUsed[rmid] = false
		delete(m.rmidOf, core)
	}
}
