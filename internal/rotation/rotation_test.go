package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRotateWraps(t *testing.T) {
	// spec.md §8 / grounded on monitor.rs's test_event_scheduler: two
	// groups rotate 0 -> 1 -> 0.
	s := New([]string{"a", "b"}, time.Second, nil)
	assert.Equal(t, 0, s.CurrentIndex())

	s.Rotate()
	assert.Equal(t, 1, s.CurrentIndex())

	s.Rotate()
	assert.Equal(t, 0, s.CurrentIndex())
}

func TestShouldRotateUsesInjectedClock(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	s := New([]string{"a", "b"}, 2*time.Second, clock)
	assert.False(t, s.ShouldRotate())

	now = now.Add(3 * time.Second)
	assert.True(t, s.ShouldRotate())

	s.Rotate()
	assert.False(t, s.ShouldRotate())
}

func TestEmptySchedulerIsSafe(t *testing.T) {
	s := New[string](nil, time.Second, nil)
	_, ok := s.Current()
	assert.False(t, ok)
	s.Rotate()
	assert.Equal(t, 0, s.CurrentIndex())
}
