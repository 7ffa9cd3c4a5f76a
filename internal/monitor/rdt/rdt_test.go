package rdt

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencpm/pcmd/internal/hw"
)

// newTestMonitor builds a Monitor with RMIDs already allocated, bypassing
// New (which requires real MSR access to assign them). The MsrPool is real
// but backed by no open handles; Shutdown's best-effort reassociation write
// fails harmlessly in a sandbox with no /dev/cpu/N/msr, exactly like
// Program's and Collect's calls would.
func newTestMonitor(cores []int) *Monitor {
	m := &Monitor{
		socket:         0,
		cores:          cores,
		monitoringCore: cores[0],
		msr:            hw.NewMsrPool(nil),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		rmidOf:         make(map[int]uint32, len(cores)),
		prevLocal:      make(map[int]uint64, len(cores)),
		prevRemote:     make(map[int]uint64, len(cores)),
	}
	for i, core := range cores {
		rmid := uint32(i + 1)
		m.rmidOf[core] = rmid
		m.rmidUsed[rmid] = true
	}
	return m
}

func TestShutdownFreesEveryOwnedRmid(t *testing.T) {
	// spec.md §8: "Drop of the monitor frees every id it owns."
	m := newTestMonitor([]int{4, 5, 6})

	m.Shutdown()

	assert.Empty(t, m.rmidOf)
	assert.False(t, m.rmidUsed[1])
	assert.False(t, m.rmidUsed[2])
	assert.False(t, m.rmidUsed[3])
}

func TestShutdownOnlyFreesOwnedRmids(t *testing.T) {
	m := newTestMonitor([]int{4})
	m.rmidUsed[99] = true // owned by some other monitor, must survive

	m.Shutdown()

	assert.True(t, m.rmidUsed[99])
	assert.Empty(t, m.rmidOf)
}
