package hw

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencpm/pcmd/internal/hwerr"
)

func buildMcfg(records []McfgRecord) []byte {
	length := uint32(mcfgHeaderSize + len(records)*mcfgRecordSize)
	buf := make([]byte, length)
	copy(buf[0:4], []byte("MCFG"))
	binary.LittleEndian.PutUint32(buf[4:8], length)
	for i, rec := range records {
		off := mcfgHeaderSize + i*mcfgRecordSize
		binary.LittleEndian.PutUint64(buf[off:off+8], rec.BaseAddress)
		binary.LittleEndian.PutUint16(buf[off+8:off+10], rec.Segment)
		buf[off+10] = rec.StartBus
		buf[off+11] = rec.EndBus
	}
	return buf
}

func TestParseMcfgRecordCount(t *testing.T) {
	// spec.md §8: header with length = 44+16k parses to exactly k records.
	records := []McfgRecord{
		{BaseAddress: 0xE0000000, Segment: 0, StartBus: 0, EndBus: 0x7F},
		{BaseAddress: 0xF0000000, Segment: 1, StartBus: 0, EndBus: 0x3F},
	}
	data := buildMcfg(records)

	parsed, err := ParseMcfg(data)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, records[0], parsed[0])
	assert.Equal(t, records[1], parsed[1])
}

func TestParseMcfgTruncated(t *testing.T) {
	data := buildMcfg([]McfgRecord{{StartBus: 0, EndBus: 1}})
	data = data[:len(data)-4]

	_, err := ParseMcfg(data)
	require.Error(t, err)
	assert.Equal(t, hwerr.KindParse, hwerr.KindOf(err))
}

func TestParseMcfgShortHeader(t *testing.T) {
	_, err := ParseMcfg([]byte{0, 1, 2})
	require.Error(t, err)
	assert.Equal(t, hwerr.KindParse, hwerr.KindOf(err))
}

type fakeProber struct {
	hits map[PciAddress]struct{ vendor, device uint32 }
}

func (f fakeProber) ProbeVendorDevice(addr PciAddress) (uint32, uint32, bool) {
	hit, ok := f.hits[addr]
	if !ok {
		return 0, 0, false
	}
	return hit.vendor, hit.device, true
}

func TestMcfgResolveSelectsSocketThMatch(t *testing.T) {
	records := []McfgRecord{{BaseAddress: 0, Segment: 0, StartBus: 0, EndBus: 1}}
	data := buildMcfg(records)

	sock0 := PciAddress{Segment: 0, Bus: 0, Device: 5, Function: 0}
	sock1 := PciAddress{Segment: 0, Bus: 1, Device: 5, Function: 0}
	prober := fakeProber{hits: map[PciAddress]struct{ vendor, device uint32 }{
		sock0: {vendor: intelVendorID, device: 0x2042},
		sock1: {vendor: intelVendorID, device: 0x2042},
	}}

	mcfg := &Mcfg{prober: prober, cache: make(map[PciConfigAddress]PciAddress)}
	var err error
	mcfg.records, err = ParseMcfg(data)
	require.NoError(t, err)

	addr := PciConfigAddress{Socket: 1, Device: 5, Function: 0, DeviceID: 0x2042}
	resolved, err := mcfg.Resolve(addr)
	require.NoError(t, err)
	assert.Equal(t, sock1, resolved)

	// Memoized: a second resolve must not need the prober to find new hits.
	mcfg.prober = fakeProber{hits: nil}
	resolved2, err := mcfg.Resolve(addr)
	require.NoError(t, err)
	assert.Equal(t, sock1, resolved2)
}

func TestMcfgResolveNoMatch(t *testing.T) {
	records := []McfgRecord{{StartBus: 0, EndBus: 0}}
	data := buildMcfg(records)
	mcfg := &Mcfg{prober: fakeProber{}, cache: make(map[PciConfigAddress]PciAddress)}
	var err error
	mcfg.records, err = ParseMcfg(data)
	require.NoError(t, err)

	_, err = mcfg.Resolve(PciConfigAddress{Socket: 0, Device: 5, Function: 0, DeviceID: 0x2042})
	require.Error(t, err)
	assert.Equal(t, hwerr.KindPci, hwerr.KindOf(err))
}
