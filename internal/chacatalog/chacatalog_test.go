package chacatalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllTransactionGroupsCount(t *testing.T) {
	// spec.md §8: 11 transaction types x 2 (hit/miss) = 22 groups.
	assert.Len(t, AllTransactionGroups(), 22)
}

func TestAllLLCLookupGroupsCount(t *testing.T) {
	// spec.md §8: 7 LLC states x 4 lookup types = 28 groups.
	assert.Len(t, AllLLCLookupGroups(), 28)
}

func TestFullCatalogCount(t *testing.T) {
	// spec.md §4.5/§8: every transaction, LLC-lookup, eviction, LLC-victim,
	// snoop-filter-eviction, queue-occupancy, frequency, and credit group.
	assert.Len(t, FullCatalog(), 22+28+1+4+3+1+1+1+1+2)
}

func TestAllVictimGroupsCount(t *testing.T) {
	assert.Len(t, AllVictimGroups(), 4)
}

func TestAllSFEvictionGroupsCount(t *testing.T) {
	assert.Len(t, AllSFEvictionGroups(), 3)
}

func TestAllCreditGroupsCount(t *testing.T) {
	assert.Len(t, AllCreditGroups(), 2)
}

func TestVictimGroupNamesAndUmasks(t *testing.T) {
	m := VictimGroup(VictimType{"M", 0x01})
	f := VictimGroup(VictimType{"F", 0x08})
	assert.Equal(t, "LLC Victim M", m.Name)
	assert.Equal(t, uint8(0x01), m.Counters[1].Umask)
	assert.Equal(t, "LLC Victim F", f.Name)
	assert.Equal(t, uint8(0x08), f.Counters[1].Umask)
}

func TestSFEvictionGroupNamesAndUmasks(t *testing.T) {
	g := SFEvictionGroup(SFEvictionType{"S", 0x04})
	assert.Equal(t, "SF Eviction S", g.Name)
	assert.Equal(t, uint8(0x04), g.Counters[1].Umask)
}

func TestCreditGroupNames(t *testing.T) {
	groups := AllCreditGroups()
	assert.Equal(t, "ReadNoCredit", groups[0].Name)
	assert.Equal(t, "WriteNoCredit", groups[1].Name)
	assert.NotEqual(t, groups[0].Counters[1].Umask, groups[1].Counters[1].Umask)
}

func TestTransactionGroupHitMissUmask(t *testing.T) {
	hit := TransactionGroup(TransactionType{"DRDRead", 0x202}, true)
	miss := TransactionGroup(TransactionType{"DRDRead", 0x202}, false)

	assert.Equal(t, uint8(0x14), hit.Counters[0].Umask)
	assert.Equal(t, uint8(0x24), miss.Counters[0].Umask)
	assert.Equal(t, uint32(0x202), hit.Opcode0)
	assert.Equal(t, "DRDRead Hit", hit.Name)
	assert.Equal(t, "DRDRead Miss", miss.Name)
}
