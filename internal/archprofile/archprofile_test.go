package archprofile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchitectureString(t *testing.T) {
	assert.Equal(t, "Cascade Lake", CascadeLake.String())
	assert.Equal(t, "Unknown", Unknown.String())
}

func TestSupportsOffcoreResponse(t *testing.T) {
	assert.True(t, Skylake.SupportsOffcoreResponse())
	assert.False(t, Unknown.SupportsOffcoreResponse())
}

func TestChaCount(t *testing.T) {
	n, ok := Skylake.ChaCount()
	assert.True(t, ok)
	assert.Equal(t, 14, n)

	_, ok = Unknown.ChaCount()
	assert.False(t, ok)
}

func TestIrpBackendByGeneration(t *testing.T) {
	assert.Equal(t, IrpBackendMsr, Skylake.IrpBackend())
	assert.Equal(t, IrpBackendMsr, IceLake.IrpBackend())
	assert.Equal(t, IrpBackendPci, Haswell.IrpBackend())
	assert.Equal(t, IrpBackendPci, Broadwell.IrpBackend())
	assert.Equal(t, IrpBackendNone, Unknown.IrpBackend())
}

func TestL2EventTablesDifferByGeneration(t *testing.T) {
	hsw := Haswell.L2EvictionEvents()
	skl := Skylake.L2EvictionEvents()
	assert.Equal(t, "L2OutClean", hsw[0].Name)
	assert.Equal(t, "L2OutSilent", skl[0].Name)
}
