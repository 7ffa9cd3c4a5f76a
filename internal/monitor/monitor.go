// Package monitor defines the interface every per-unit telemetry monitor
// satisfies. Grounded on _examples' emu/device.Device interface: one
// lifecycle-bearing type per monitored unit, with a uniform
// program/collect/shutdown contract the collector façade drives without
// knowing each unit's register layout.
package monitor

// Monitor is one hardware counter class (IMC, CHA, IIO, IRP, RAPL, RDT, or
// core PMU) for one socket, or for the core PMU one core. Program runs once
// at startup to select and
// enable events; Collect runs once per tick and returns a flat metric
// name/value map ready to merge into the exported gauge set.
type Monitor interface {
	// Name identifies the monitor in logs and metric label values.
	Name() string
	// Program selects and enables the counters this monitor reads.
	Program() error
	// Collect reads current counter values, derives metrics from the delta
	// since the previous call, and returns them keyed by metric name.
	Collect() (map[string]float64, error)
	// Shutdown releases any resources (handles are pool-owned and outlive
	// the monitor, so this is usually a no-op).
	Shutdown()
}
