package corepmu

import (
	"io"
	"log/slog"
	"testing"

	"github.com/opencpm/pcmd/internal/hw"
)

// TestShutdownDoesNotPanicWithoutHardware exercises the Shutdown cleanup
// path spec.md §4.10/§5 requires (PERF_GLOBAL_CTRL <- 0 on drop, per the
// original's Drop impl for CoreMonitor). The MsrPool here has no open
// handle, so the write fails exactly as it would against a MSR device the
// caller doesn't have permission for; Shutdown must log and return rather
// than propagate or panic.
func TestShutdownDoesNotPanicWithoutHardware(t *testing.T) {
	m := &Monitor{
		core:   0,
		msr:    hw.NewMsrPool(nil),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	m.Shutdown()
}
