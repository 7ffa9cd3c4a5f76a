package register

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChaCounterControlRoundTrip(t *testing.T) {
	ctrl := ChaCounterControl{
		EventSelect: 0x36,
		UnitMask:    0x14,
		Enable:      true,
		Threshold:   10,
	}
	require.NoError(t, ctrl.Validate())
	got := DecodeChaCounterControl(ctrl.Encode())
	assert.Equal(t, ctrl, got)
}

func TestChaCounterControlValidate(t *testing.T) {
	ctrl := ChaCounterControl{Threshold: 64}
	assert.Error(t, ctrl.Validate())

	ctrl = ChaCounterControl{Threshold: 63, QueueOccupancySelect: 4}
	assert.Error(t, ctrl.Validate())

	ctrl = ChaCounterControl{Threshold: 63, QueueOccupancySelect: 3}
	assert.NoError(t, ctrl.Validate())
}

func TestChaFilter1RoundTrip(t *testing.T) {
	f := ChaFilter1{TID: 0x1FFFF, State: StateModified | StateExclusive}
	require.NoError(t, f.Validate())
	assert.Equal(t, f, DecodeChaFilter1(f.Encode()))
}

func TestIioCounterControlRoundTrip(t *testing.T) {
	c := IioCounterControl{
		Event:       0x12,
		Umask:       0x34,
		TidEnable:   true,
		Enable:      true,
		Threshold:   0xFFF,
		ChannelMask: 0xFF,
		FcMask:      0x7,
	}
	require.NoError(t, c.Validate())
	assert.Equal(t, c, DecodeIioCounterControl(c.Encode()))
}

func TestIioCounterControlValidateThreshold(t *testing.T) {
	c := IioCounterControl{Threshold: 0x1000}
	assert.Error(t, c.Validate())
	c = IioCounterControl{FcMask: 8}
	assert.Error(t, c.Validate())
}

func TestImcRegistersRoundTrip(t *testing.T) {
	c := ImcCounterControl{Event: ImcCasReadEvent, Umask: ImcCasReadUmask, Enable: true}
	assert.Equal(t, c, DecodeImcCounterControl(c.Encode()))

	box := ImcBoxControl{Freeze: true, Reset: true}
	assert.Equal(t, box, DecodeImcBoxControl(box.Encode()))
}

func TestPerfEvtSelRoundTrip(t *testing.T) {
	p := PerfEvtSel{EventSelect: 0x2E, UnitMask: 0x4F, Usr: true, Os: true, Enable: true}
	assert.Equal(t, p, DecodePerfEvtSel(p.Encode()))
}

func TestFixedCounterControlRoundTrip(t *testing.T) {
	f := FixedCounterControl{Ctr0: FixedCtrUserMode, Ctr1: FixedCtrUserMode, Ctr2: FixedCtrUserMode}
	require.NoError(t, f.Validate())
	assert.Equal(t, f, DecodeFixedCounterControl(f.Encode()))
}

func TestPowerUnitEnergyScale(t *testing.T) {
	pu := DecodePowerUnit(0x000A0E03)
	assert.InDelta(t, 1.0/16384.0, pu.EnergyJoulesPerLSB(), 1e-9)
}

func TestQmEventSelectRoundTrip(t *testing.T) {
	q := QmEventSelect{Rmid: 8, EventID: EventLocalMemBw}
	require.NoError(t, q.Validate())
	assert.Equal(t, q, DecodeQmEventSelect(q.Encode()))
	assert.Equal(t, uint64(8)<<32|2, q.Encode())
}

func TestPqrAssociationPreservesCos(t *testing.T) {
	current := PqrAssociation{Rmid: 3, Cos: 7}.Encode()
	updated := WithRmid(current, 42)
	got := DecodePqrAssociation(updated)
	assert.Equal(t, uint16(42), got.Rmid)
	assert.Equal(t, uint32(7), got.Cos)
}

// encode(decode(w)) == w masked to the defined bits of ImcCounterControl
// (event[0:8], umask[8:16], enable[22]) — §8 round-trip property for a
// fully-populated word.
func TestImcCounterControlMask(t *testing.T) {
	const definedMask = 0xFFFF | (1 << 22)
	got := DecodeImcCounterControl(^uint64(0)).Encode()
	assert.Equal(t, uint64(definedMask), got)
}
