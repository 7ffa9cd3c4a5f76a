package hw

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/opencpm/pcmd/internal/hwerr"
)

// PciConfigAddress is the logical target passed by monitors: a socket, PCI
// device/function, and the vendor device-id expected at that tuple.
type PciConfigAddress struct {
	Socket   int
	Device   uint32
	Function uint32
	DeviceID uint32
}

// PciAddress is the physical address a PciConfigAddress resolves to.
type PciAddress struct {
	Segment  uint32
	Bus      uint32
	Device   uint32
	Function uint32
}

func pciBasePath() string {
	if _, ok := os.LookupEnv("DOCKER_RUNNING"); ok {
		return "/pcm/proc/bus/pci"
	}
	return "/proc/bus/pci"
}

func (a PciAddress) path() string {
	base := pciBasePath()
	if a.Segment > 0 {
		return fmt.Sprintf("%s/%04x:%02x/%02x.%x", base, a.Segment, a.Bus, a.Device, a.Function)
	}
	return fmt.Sprintf("%s/%02x/%02x.%x", base, a.Bus, a.Device, a.Function)
}

// PciHandle is a lazily-opened, mutex-serialized handle to one PCI
// config-space device file.
type PciHandle struct {
	mu   sync.Mutex
	file *os.File
	addr PciAddress
}

func openPciHandle(addr PciAddress) (*PciHandle, error) {
	path := addr.path()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, hwerr.Pci(path, err)
	}
	return &PciHandle{file: f, addr: addr}, nil
}

// Read32 performs a naturally-aligned 4-byte little-endian read at offset.
func (h *PciHandle) Read32(offset uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var buf [4]byte
	if _, err := unix.Pread(int(h.file.Fd()), buf[:], int64(offset)); err != nil {
		return 0, hwerr.Pci(fmt.Sprintf("%+v offset=0x%x", h.addr, offset), err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Write32 performs a naturally-aligned 4-byte little-endian write at offset.
func (h *PciHandle) Write32(offset uint32, value uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if _, err := unix.Pwrite(int(h.file.Fd()), buf[:], int64(offset)); err != nil {
		return hwerr.Pci(fmt.Sprintf("%+v offset=0x%x", h.addr, offset), err)
	}
	return nil
}

// Read64 performs a naturally-aligned 8-byte little-endian read at offset.
func (h *PciHandle) Read64(offset uint32) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var buf [8]byte
	if _, err := unix.Pread(int(h.file.Fd()), buf[:], int64(offset)); err != nil {
		return 0, hwerr.Pci(fmt.Sprintf("%+v offset=0x%x", h.addr, offset), err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

const intelVendorID = 0x8086

// PciPool is a process-wide cache of resolved PciConfigAddress -> PciHandle,
// backed by an Mcfg resolver, with the same RW-lock discipline as MsrPool.
type PciPool struct {
	mu      sync.RWMutex
	handles map[PciConfigAddress]*PciHandle
	mcfg    *Mcfg
	logger  *slog.Logger
}

// NewPciPool constructs a pool backed by mcfg. logger may be nil.
func NewPciPool(mcfg *Mcfg, logger *slog.Logger) *PciPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &PciPool{handles: make(map[PciConfigAddress]*PciHandle), mcfg: mcfg, logger: logger}
}

func (p *PciPool) get(addr PciConfigAddress) (*PciHandle, error) {
	p.mu.RLock()
	h, ok := p.handles[addr]
	p.mu.RUnlock()
	if ok {
		return h, nil
	}

	phys, err := p.mcfg.Resolve(addr)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[addr]; ok {
		return h, nil
	}
	h, err = openPciHandle(phys)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("opened PCI handle", "address", addr, "physical", phys)
	p.handles[addr] = h
	return h, nil
}

func (p *PciPool) Read32(addr PciConfigAddress, offset uint32) (uint32, error) {
	h, err := p.get(addr)
	if err != nil {
		return 0, err
	}
	return h.Read32(offset)
}

func (p *PciPool) Write32(addr PciConfigAddress, offset uint32, value uint32) error {
	h, err := p.get(addr)
	if err != nil {
		return err
	}
	return h.Write32(offset, value)
}

func (p *PciPool) Read64(addr PciConfigAddress, offset uint32) (uint64, error) {
	h, err := p.get(addr)
	if err != nil {
		return 0, err
	}
	return h.Read64(offset)
}

// Close closes every open handle.
func (p *PciPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, h := range p.handles {
		if err := h.file.Close(); err != nil {
			p.logger.Warn("closing PCI handle", "address", addr, "error", err)
		}
	}
	p.handles = make(map[PciConfigAddress]*PciHandle)
}
