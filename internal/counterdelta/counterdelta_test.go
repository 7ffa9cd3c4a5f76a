package counterdelta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOfWrap(t *testing.T) {
	// spec.md §8: delta(5, 2^W - 1) = 6.
	for _, w := range []uint{32, 36, 48} {
		max := uint64(1)<<w - 1
		assert.Equal(t, uint64(6), Of(5, max, w), "width %d", w)
	}
}

func TestOfNoWrap(t *testing.T) {
	assert.Equal(t, uint64(15), Of(975, 960, 48))
}

func TestOfImcWrapScenario(t *testing.T) {
	// spec.md §8 scenario 3: width 48, previous = 2^48-10, current = 5 -> delta 15.
	prev := uint64(1)<<48 - 10
	assert.Equal(t, uint64(15), Of(5, prev, 48))
}
