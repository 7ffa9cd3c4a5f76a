package hw

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/opencpm/pcmd/internal/hwerr"
)

// AffinityGuard pins the calling OS thread to a single CPU for the duration
// of an MSR read/write, then restores the prior affinity mask on scope
// exit — including on error paths, per spec.md §5 ("Affinity").
//
// Go schedules goroutines onto OS threads freely, so a guard also locks the
// calling goroutine to its current OS thread for its lifetime; releasing it
// unlocks the goroutine again.
type AffinityGuard struct {
	old    unix.CPUSet
	locked bool
}

// NewAffinityGuard pins the calling thread to cpu. Callers must call
// Release on every exit path (defer immediately after a successful call).
func NewAffinityGuard(cpu int) (*AffinityGuard, error) {
	if cpu < 0 {
		return nil, hwerr.Affinity(fmt.Sprintf("cpu=%d", cpu), fmt.Errorf("invalid CPU id"))
	}

	runtime.LockOSThread()

	var old unix.CPUSet
	if err := unix.SchedGetaffinity(0, &old); err != nil {
		runtime.UnlockOSThread()
		return nil, hwerr.Affinity(fmt.Sprintf("cpu=%d", cpu), err)
	}

	var want unix.CPUSet
	want.Set(cpu)
	if err := unix.SchedSetaffinity(0, &want); err != nil {
		runtime.UnlockOSThread()
		return nil, hwerr.Affinity(fmt.Sprintf("cpu=%d", cpu), err)
	}

	return &AffinityGuard{old: old, locked: true}, nil
}

// Release restores the affinity mask observed before the guard was created.
// Safe to call multiple times.
func (g *AffinityGuard) Release() {
	if g == nil || !g.locked {
		return
	}
	_ = unix.SchedSetaffinity(0, &g.old)
	runtime.UnlockOSThread()
	g.locked = false
}
