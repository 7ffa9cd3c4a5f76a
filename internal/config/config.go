// Package config defines the daemon's runtime configuration, populated by
// cobra/viper flag and file binding in cmd/pcmd, per spec.md §7.
package config

import "fmt"

// Config is the fully-resolved set of monitored resources and daemon
// behavior flags.
type Config struct {
	// Sockets to monitor (IMC, CHA, IIO, IRP, RAPL all run per-socket).
	Sockets []int
	// Cores to monitor for RDT/CMT/MBM and core PMU metrics.
	Cores []int
	// CoreLabels maps a core id to a human label used on exported metrics.
	CoreLabels map[int]string

	EnableIMC     bool
	EnableCHA     bool
	EnableIIO     bool
	EnableIRP     bool
	EnableRAPL    bool
	EnableRDT     bool
	EnableCorePMU bool

	Verbose      bool
	InstanceName string
	ListenAddr   string
}

// Validate checks the configuration is internally consistent before the
// collector wires any monitor against it.
func (c *Config) Validate() error {
	if len(c.Sockets) == 0 && (c.EnableIMC || c.EnableCHA || c.EnableIIO || c.EnableIRP || c.EnableRAPL) {
		return fmt.Errorf("config: socket-scoped monitoring enabled but no sockets configured")
	}
	if len(c.Cores) == 0 && (c.EnableRDT || c.EnableCorePMU) {
		return fmt.Errorf("config: core-scoped monitoring enabled but no cores configured")
	}
	return nil
}

// Label returns the configured label for core, or its decimal id if none
// was set.
func (c *Config) Label(core int) string {
	if l, ok := c.CoreLabels[core]; ok {
		return l
	}
	return fmt.Sprintf("%d", core)
}
