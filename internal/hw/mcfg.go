package hw

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/opencpm/pcmd/internal/hwerr"
)

const (
	mcfgHeaderSize = 44
	mcfgRecordSize = 16
)

// McfgRecord is one parsed MCFG record: a PCI segment group's memory-mapped
// config-space base address and the bus range it covers.
type McfgRecord struct {
	BaseAddress uint64
	Segment     uint16
	StartBus    uint8
	EndBus      uint8
}

func mcfgPath() string {
	if _, ok := os.LookupEnv("DOCKER_RUNNING"); ok {
		return "/pcm/sys/firmware/acpi/tables/MCFG"
	}
	return "/sys/firmware/acpi/tables/MCFG"
}

// ParseMcfg parses the ACPI MCFG table binary layout described in
// spec.md §6: a 44-byte header followed by (length-44)/16 16-byte records.
// All fields are little-endian. A byte-wise parser is used rather than an
// unsafe pointer cast, per spec.md §9 design notes.
func ParseMcfg(data []byte) ([]McfgRecord, error) {
	if len(data) < mcfgHeaderSize {
		return nil, hwerr.Parse("MCFG header", fmt.Errorf("truncated: got %d bytes, need %d", len(data), mcfgHeaderSize))
	}
	length := binary.LittleEndian.Uint32(data[4:8])
	if int(length) < mcfgHeaderSize || (int(length)-mcfgHeaderSize)%mcfgRecordSize != 0 {
		return nil, hwerr.Parse("MCFG header", fmt.Errorf("invalid length field %d", length))
	}
	nRecords := (int(length) - mcfgHeaderSize) / mcfgRecordSize
	if len(data) < mcfgHeaderSize+nRecords*mcfgRecordSize {
		return nil, hwerr.Parse("MCFG records", fmt.Errorf("truncated: got %d bytes, need %d", len(data), mcfgHeaderSize+nRecords*mcfgRecordSize))
	}

	records := make([]McfgRecord, 0, nRecords)
	for i := 0; i < nRecords; i++ {
		off := mcfgHeaderSize + i*mcfgRecordSize
		rec := data[off : off+mcfgRecordSize]
		records = append(records, McfgRecord{
			BaseAddress: binary.LittleEndian.Uint64(rec[0:8]),
			Segment:     binary.LittleEndian.Uint16(rec[8:10]),
			StartBus:    rec[10],
			EndBus:      rec[11],
		})
	}
	return records, nil
}

// PciProber reads offset 0 of a candidate PCI config address and reports
// vendor/device id, for MCFG scanning. Implemented by the real PCI path;
// swappable in tests.
type PciProber interface {
	ProbeVendorDevice(addr PciAddress) (vendor, device uint32, ok bool)
}

type realProber struct{}

func (realProber) ProbeVendorDevice(addr PciAddress) (uint32, uint32, bool) {
	h, err := openPciHandle(addr)
	if err != nil {
		return 0, 0, false
	}
	defer h.file.Close()
	v, err := h.Read32(0)
	if err != nil {
		return 0, 0, false
	}
	return v & 0xFFFF, (v >> 16) & 0xFFFF, true
}

// Mcfg resolves logical (socket, device, function, device_id) tuples to
// physical (segment, bus, device, function) addresses by scanning the MCFG
// table's bus ranges, memoizing results. See spec.md §4.2 and §9 (the
// socket-th-match-in-scan-order limitation is preserved unchanged).
type Mcfg struct {
	records []McfgRecord
	prober  PciProber

	mu    sync.RWMutex
	cache map[PciConfigAddress]PciAddress
}

// NewMcfg parses the MCFG table at path (mcfgPath() by default) using
// prober to validate candidate addresses. prober nil selects the real PCI
// config-space prober.
func NewMcfg(path string, prober PciProber) (*Mcfg, error) {
	if prober == nil {
		prober = realProber{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, hwerr.Io(path, err)
	}
	records, err := ParseMcfg(data)
	if err != nil {
		return nil, err
	}
	return &Mcfg{records: records, prober: prober, cache: make(map[PciConfigAddress]PciAddress)}, nil
}

// NewDefaultMcfg parses the platform's MCFG table at its well-known path.
func NewDefaultMcfg() (*Mcfg, error) {
	return NewMcfg(mcfgPath(), nil)
}

// Resolve returns the physical address for a logical PCI target, scanning
// every bus in every MCFG record's range and selecting the socket-th match
// in scan order (memoized after the first resolution).
func (m *Mcfg) Resolve(addr PciConfigAddress) (PciAddress, error) {
	m.mu.RLock()
	if phys, ok := m.cache[addr]; ok {
		m.mu.RUnlock()
		return phys, nil
	}
	m.mu.RUnlock()

	var candidates []PciAddress
	for _, rec := range m.records {
		for bus := int(rec.StartBus); bus <= int(rec.EndBus); bus++ {
			cand := PciAddress{Segment: uint32(rec.Segment), Bus: uint32(bus), Device: addr.Device, Function: addr.Function}
			vendor, device, ok := m.prober.ProbeVendorDevice(cand)
			if ok && vendor == intelVendorID && device == addr.DeviceID {
				candidates = append(candidates, cand)
			}
		}
	}

	if addr.Socket >= len(candidates) {
		return PciAddress{}, hwerr.Pci(fmt.Sprintf("%+v", addr), fmt.Errorf("no PCI device found for socket %d (found %d candidates)", addr.Socket, len(candidates)))
	}

	phys := candidates[addr.Socket]
	m.mu.Lock()
	m.cache[addr] = phys
	m.mu.Unlock()
	return phys, nil
}
