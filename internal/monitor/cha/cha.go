// Package cha monitors the Caching/Home Agent boxes: ring-transaction
// hit/miss rates, bandwidth and latency, LLC lookup counts by state,
// eviction rate, and the catalog's victim/snoop-filter-eviction/queue/
// frequency/credit groups, rotating through an event catalog wider than the
// four physical counters per box, per spec.md §4.5. Grounded on
// _examples/original_source/uncflow-agent/counters/cha/monitor.rs and
// metrics/cha/calculator.rs's calculate_transaction_metrics.
package cha

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opencpm/pcmd/internal/calculator"
	"github.com/opencpm/pcmd/internal/chacatalog"
	"github.com/opencpm/pcmd/internal/counterdelta"
	"github.com/opencpm/pcmd/internal/hw"
	"github.com/opencpm/pcmd/internal/register"
	"github.com/opencpm/pcmd/internal/rotation"
)

// hitSuffix and missSuffix mark a named accumulator entry as one half of a
// transaction-type pair, per chacatalog.TransactionGroup's "<Type> Hit"/
// "<Type> Miss" naming.
const (
	hitSuffix  = " Hit"
	missSuffix = " Miss"
)

type boxCounters [4]uint64

// accumulated holds the running occupancy/insert/clockticks sums for one
// rotation group, across however many ticks it has been the active group.
type accumulated struct {
	occupancy, insert, clockticks uint64
}

// Monitor rotates every box on a socket through the CHA event catalog,
// accumulating occupancy/insert/clockticks per named event group.
type Monitor struct {
	socket           int
	boxCount         int
	representativeCPU int
	msr              *hw.MsrPool
	logger           *slog.Logger

	scheduler *rotation.Scheduler[chacatalog.Group]
	prev      map[int]boxCounters
	acc       map[string]accumulated

	start time.Time // used as calculator's elapsed-time base, per
	                 // calculator.rs's RawEventData.duration
	now   func() time.Time
}

// New constructs a CHA monitor for boxCount boxes on socket, driving MSR
// I/O for all boxes through the CPU at representativeCPU (CHA boxes are
// uncore-wide, so any core on the socket observes the same state).
func New(socket, boxCount, representativeCPU int, msr *hw.MsrPool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		socket:            socket,
		boxCount:          boxCount,
		representativeCPU: representativeCPU,
		msr:               msr,
		logger:            logger,
		scheduler:         rotation.New(chacatalog.FullCatalog(), rotation.DefaultInterval, nil),
		prev:              make(map[int]boxCounters),
		acc:               make(map[string]accumulated),
		start:             time.Now(),
		now:               time.Now,
	}
}

func (m *Monitor) Name() string { return fmt.Sprintf("cha/socket%d", m.socket) }

// Program freezes every box, sets the current rotation group's filters and
// counter controls, then unfreezes.
func (m *Monitor) Program() error {
	group, ok := m.scheduler.Current()
	if !ok {
		return nil
	}
	for box := 0; box < m.boxCount; box++ {
		if err := m.programGroup(box, group); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) programGroup(box int, group chacatalog.Group) error {
	freeze := register.ChaBoxControl{Freeze: true}
	if err := m.msr.Write(m.representativeCPU, register.ChaBoxAddr(box), freeze.Encode()); err != nil {
		return err
	}

	if group.Opcode0 != 0 {
		filter0 := register.ChaFilter0{OpcodeMatch: uint16(group.Opcode0)}
		if err := m.msr.Write(m.representativeCPU, register.ChaFilter0Addr(box), filter0.Encode()); err != nil {
			return err
		}
	}
	if group.LLCState != 0 {
		filter1 := register.ChaFilter1{State: uint8(group.LLCState)}
		if err := m.msr.Write(m.representativeCPU, register.ChaFilter1Addr(box), filter1.Encode()); err != nil {
			return err
		}
	}

	for i, cfg := range group.Counters {
		if cfg.Event == 0 && cfg.Umask == 0 {
			continue
		}
		ctl := register.ChaCounterControl{EventSelect: cfg.Event, UnitMask: cfg.Umask, Enable: true}
		if err := m.msr.Write(m.representativeCPU, register.ChaCounterCtlAddr(box, i), ctl.Encode()); err != nil {
			return err
		}
	}

	unfreeze := register.ChaBoxControl{Freeze: false, FreezeEnable: true}
	return m.msr.Write(m.representativeCPU, register.ChaBoxAddr(box), unfreeze.Encode())
}

func (m *Monitor) readBox(box int) (boxCounters, error) {
	var c boxCounters
	for i := range c {
		v, err := m.msr.Read(m.representativeCPU, register.ChaCounterValueAddr(box, i))
		if err != nil {
			return boxCounters{}, err
		}
		c[i] = v
	}
	return c, nil
}

// Collect aggregates the current rotation group's counters across every
// box, accumulates them against prior ticks for this group, and rotates to
// the next group once the rotation interval has elapsed. It returns
// occupancy-ratio and insert-total metrics for every named group
// accumulated so far, plus — for every "<Type> Hit"/"<Type> Miss" pair
// among them — the hit-rate, bandwidth, and latency metrics derived from
// that pairing.
func (m *Monitor) Collect() (map[string]float64, error) {
	group, ok := m.scheduler.Current()
	if !ok {
		return nil, nil
	}

	var occ, ins, clk uint64
	for box := 0; box < m.boxCount; box++ {
		cur, err := m.readBox(box)
		if err != nil {
			return nil, err
		}
		prev := m.prev[box]
		occ += counterdelta.Of(cur[0], prev[0], register.ChaCounterWidth)
		ins += counterdelta.Of(cur[1], prev[1], register.ChaCounterWidth)
		clk += counterdelta.Of(cur[2], prev[2], register.ChaCounterWidth)
		m.prev[box] = cur
	}

	entry := m.acc[group.Name]
	entry.occupancy += occ
	entry.insert += ins
	entry.clockticks += clk
	m.acc[group.Name] = entry

	elapsed := m.now().Sub(m.start).Seconds()

	metrics := make(map[string]float64, len(m.acc))
	for name, a := range m.acc {
		metrics[metricKey(name, "occupancy_ratio")] = calculator.OccupancyRatio(a.occupancy, a.clockticks)
		metrics[metricKey(name, "insert_total")] = float64(a.insert)
	}

	// Pair every "<Type> Hit"/"<Type> Miss" accumulator entry and derive
	// the hit-rate, bandwidth, and latency metrics calculate_transaction_
	// metrics (metrics/cha/calculator.rs) computes from the same pairing.
	for name, hit := range m.acc {
		base, ok := strings.CutSuffix(name, hitSuffix)
		if !ok {
			continue
		}
		miss, ok := m.acc[base+missSuffix]
		if !ok {
			continue
		}
		metrics[metricKey(base, "hit_rate")] = calculator.HitRate(hit.insert, miss.insert)
		metrics[metricKey(base, "bandwidth_gbs")] = calculator.BandwidthGBs(hit.insert+miss.insert, elapsed)
		metrics[metricKey(base, "hit_bandwidth_gbs")] = calculator.BandwidthGBs(hit.insert, elapsed)
		metrics[metricKey(base, "miss_bandwidth_gbs")] = calculator.BandwidthGBs(miss.insert, elapsed)
		metrics[metricKey(base, "hit_latency_ns")] = calculator.LatencyNs(hit.occupancy, hit.insert, hit.clockticks, elapsed*1e9)
		metrics[metricKey(base, "miss_latency_ns")] = calculator.LatencyNs(miss.occupancy, miss.insert, miss.clockticks, elapsed*1e9)
	}

	if freq, ok := m.acc["Uncore Frequency"]; ok {
		metrics["cha_uncore_frequency_ghz"] = calculator.UncoreFrequencyGHz(freq.clockticks, elapsed)
	}

	if m.scheduler.ShouldRotate() {
		m.scheduler.Rotate()
		next, _ := m.scheduler.Current()
		m.logger.Debug("rotating CHA event group", "socket", m.socket, "next", next.Name, "index", m.scheduler.CurrentIndex(), "total", m.scheduler.Len())
		for box := 0; box < m.boxCount; box++ {
			if err := m.programGroup(box, next); err != nil {
				return nil, err
			}
		}
		m.prev = make(map[int]boxCounters)
	}

	return metrics, nil
}

func metricKey(group, suffix string) string {
	return fmt.Sprintf("cha_%s_%s", sanitize(group), suffix)
}

func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c-'A'+'a')
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (m *Monitor) Shutdown() {}
