// Package rotation implements the event-rotation scheduler CHA monitoring
// uses to cycle its four physical counters across an event catalog larger
// than four events, per spec.md §4.5. Grounded on
// _examples/original_source/uncflow-agent/counters/cha/monitor.rs's
// EventScheduler.
package rotation

import "time"

// DefaultInterval is the rotation cadence used when a monitor does not
// override it: long enough for counters to accumulate a meaningful delta
// between groups.
const DefaultInterval = 2 * time.Second

// Scheduler cycles through a fixed list of groups, one active at a time,
// rotating to the next group once Interval has elapsed since the last
// rotation. It is not safe for concurrent use; callers serialize access
// the same way they serialize MSR programming for the box it drives.
type Scheduler[T any] struct {
	groups   []T
	index    int
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// New constructs a scheduler over groups, rotating every interval. now
// stands in for time.Now in tests; callers pass nil for real use.
func New[T any](groups []T, interval time.Duration, now func() time.Time) *Scheduler[T] {
	if now == nil {
		now = time.Now
	}
	return &Scheduler[T]{groups: groups, interval: interval, last: now(), now: now}
}

// Current returns the active group and true, or the zero value and false
// if the scheduler holds no groups.
func (s *Scheduler[T]) Current() (T, bool) {
	var zero T
	if len(s.groups) == 0 {
		return zero, false
	}
	return s.groups[s.index], true
}

// CurrentIndex returns the active group's position in the catalog.
func (s *Scheduler[T]) CurrentIndex() int { return s.index }

// Len returns the number of groups in rotation.
func (s *Scheduler[T]) Len() int { return len(s.groups) }

// ShouldRotate reports whether Interval has elapsed since the last
// rotation (or construction, if Rotate has never been called).
func (s *Scheduler[T]) ShouldRotate() bool {
	return s.now().Sub(s.last) >= s.interval
}

// Rotate advances to the next group, wrapping around at the end of the
// catalog, and resets the rotation clock. A no-op on an empty scheduler.
func (s *Scheduler[T]) Rotate() {
	if len(s.groups) == 0 {
		return
	}
	s.index = (s.index + 1) % len(s.groups)
	s.last = s.now()
}
