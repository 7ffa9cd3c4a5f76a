package hw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPURangeList(t *testing.T) {
	cpus, err := parseCPURangeList("0-3,8-11")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 8, 9, 10, 11}, cpus)
}

func TestParseCPURangeListSingletons(t *testing.T) {
	cpus, err := parseCPURangeList("0,2,4")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, cpus)
}

func TestParseCPURangeListEmpty(t *testing.T) {
	cpus, err := parseCPURangeList("")
	require.NoError(t, err)
	assert.Nil(t, cpus)
}
