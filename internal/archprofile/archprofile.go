// Package archprofile detects the running Intel server CPU generation from
// CPUID and exposes per-generation event tables and capability flags, per
// spec.md §4.1 and §4.6. Grounded on
// _examples/original_source/uncflow-agent/common/{arch,cpuid}.rs.
package archprofile

import "log/slog"

// Architecture identifies an Intel server CPU generation.
type Architecture int

const (
	Unknown Architecture = iota
	Haswell
	Broadwell
	Skylake
	CascadeLake
	IceLake
)

func (a Architecture) String() string {
	switch a {
	case Haswell:
		return "Haswell"
	case Broadwell:
		return "Broadwell"
	case Skylake:
		return "Skylake"
	case CascadeLake:
		return "Cascade Lake"
	case IceLake:
		return "Ice Lake"
	default:
		return "Unknown"
	}
}

// IrpBackend names the register space an architecture exposes its IRP box
// counters through.
type IrpBackend int

const (
	IrpBackendNone IrpBackend = iota
	IrpBackendMsr
	IrpBackendPci
)

// L2Event names an encoded (event, umask) pair with its human label.
type L2Event struct {
	Event uint8
	Umask uint8
	Name  string
}

// Detect reads CPUID leaf 1 and classifies the running CPU. Non-Intel or
// pre-Haswell CPUs, and unrecognized models below the Skylake encoding
// range, report Unknown. Unrecognized models at or above the Skylake
// encoding default to Skylake, on the assumption that newer unlisted
// parts are more likely Skylake-family than anything older.
func Detect(logger *slog.Logger) Architecture {
	if logger == nil {
		logger = slog.Default()
	}

	eax, _, _, _ := cpuid(1, 0)
	stepping := eax & 0xF
	model := (eax >> 4) & 0xF
	family := (eax >> 8) & 0xF
	extModel := (eax >> 16) & 0xF
	extFamily := (eax >> 20) & 0xFF

	displayFamily := family
	if family == 0xF {
		displayFamily = family + extFamily
	}
	displayModel := model
	if family == 0x6 || family == 0xF {
		displayModel = (extModel << 4) + model
	}

	logger.Info("cpu identified", "family", displayFamily, "model", displayModel, "stepping", stepping)

	if displayFamily != 0x6 {
		logger.Warn("non-Intel or pre-family-6 CPU detected")
		return Unknown
	}

	switch displayModel {
	case 0x3C, 0x45, 0x46:
		return Haswell
	case 0x3D, 0x47, 0x4F, 0x56:
		return Broadwell
	case 0x4E, 0x5E:
		return Skylake
	case 0x55:
		if stepping >= 5 {
			return CascadeLake
		}
		return Skylake
	case 0x7D, 0x7E, 0x6A, 0x6C:
		return IceLake
	default:
		if displayModel >= 0x4E {
			logger.Info("unrecognized model, defaulting to Skylake event layout", "model", displayModel)
			return Skylake
		}
		logger.Warn("unrecognized model", "model", displayModel)
		return Unknown
	}
}

// L2EvictionEvents returns the architecture's L2-eviction event encodings.
func (a Architecture) L2EvictionEvents() []L2Event {
	switch a {
	case Haswell, Broadwell:
		return []L2Event{{0xF2, 0x05, "L2OutClean"}, {0xF2, 0x06, "L2OutDirty"}}
	default:
		return []L2Event{{0xF2, 0x01, "L2OutSilent"}, {0xF2, 0x02, "L2OutNonSilent"}}
	}
}

// L2PrefetchEvents returns the architecture's L2-prefetch event encodings.
func (a Architecture) L2PrefetchEvents() []L2Event {
	switch a {
	case Haswell, Broadwell:
		return []L2Event{{0x24, 0x30, "L2PrefetchMiss"}, {0x24, 0x50, "L2PrefetchHit"}}
	default:
		return []L2Event{{0x24, 0x38, "L2PrefetchMiss"}, {0x24, 0xD8, "L2PrefetchHit"}}
	}
}

// SupportsOffcoreResponse reports whether the architecture exposes the
// offcore response MSR pair used by core PMU monitors.
func (a Architecture) SupportsOffcoreResponse() bool {
	switch a {
	case Haswell, Broadwell, Skylake, CascadeLake, IceLake:
		return true
	default:
		return false
	}
}

// ChaCount returns the number of CHA (uncore) boxes on the architecture, or
// false if unknown.
func (a Architecture) ChaCount() (int, bool) {
	switch a {
	case Haswell:
		return 18, true
	case Broadwell:
		return 14, true
	case Skylake:
		return 14, true
	case CascadeLake:
		return 26, true
	case IceLake:
		return 24, true
	default:
		return 0, false
	}
}

// IrpBackend reports which register space the architecture's IRP boxes
// are programmed and read through: MSR on Skylake and newer, PCI
// configuration space on Haswell/Broadwell, none otherwise.
func (a Architecture) IrpBackend() IrpBackend {
	switch a {
	case Skylake, CascadeLake, IceLake:
		return IrpBackendMsr
	case Haswell, Broadwell:
		return IrpBackendPci
	default:
		return IrpBackendNone
	}
}

// MbmScalingFactor reads CPUID leaf 0x0F sub-leaf 1 EBX, the scaling factor
// applied to raw MBM (memory bandwidth monitoring) counter deltas to
// convert them to bytes. A zero readout is treated as unsupported hardware
// and defaults to 1 so callers never multiply by zero.
func MbmScalingFactor(logger *slog.Logger) uint32 {
	if logger == nil {
		logger = slog.Default()
	}
	_, ebx, _, _ := cpuid(0x0F, 0x1)
	if ebx == 0 {
		logger.Warn("MBM scaling factor is 0, defaulting to 1")
		return 1
	}
	logger.Info("MBM scaling factor detected", "factor", ebx)
	return ebx
}
