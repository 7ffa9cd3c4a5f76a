package register

// IMC (Integrated Memory Controller) PCI-config register offsets, grounded
// on uncflow-agent's Skylake-SP channel layout.
const (
	ImcCounterWidth = 48

	ImcBoxCtl  uint32 = 0x0F4
	ImcCtl0    uint32 = 0x0D8
	ImcCtl1    uint32 = 0x0DC
	ImcCtl2    uint32 = 0x0E0
	ImcCtl3    uint32 = 0x0E4
	ImcCtr0    uint32 = 0x0A0
	ImcCtr1    uint32 = 0x0A8
	ImcCtr2    uint32 = 0x0B0
	ImcCtr3    uint32 = 0x0B8
	ImcDclkCtl uint32 = 0x0A4
	ImcDclkCtr uint32 = 0x0A4

	ImcCasReadEvent   uint8 = 0x04
	ImcCasReadUmask   uint8 = 0x03
	ImcCasWriteEvent  uint8 = 0x04
	ImcCasWriteUmask  uint8 = 0x0C
	ImcRpqOccupancy   uint8 = 0x80
	ImcWpqOccupancy   uint8 = 0x81
)

// ImcBoxControl freezes/resets an IMC channel's counters.
type ImcBoxControl struct {
	Freeze bool
	Reset  bool
}

func (c ImcBoxControl) Encode() uint64 {
	var v uint64
	if c.Freeze {
		v |= 1 << 8
	}
	if c.Reset {
		v |= 1 << 16
	}
	return v
}

func DecodeImcBoxControl(w uint64) ImcBoxControl {
	return ImcBoxControl{Freeze: w&(1<<8) != 0, Reset: w&(1<<16) != 0}
}

func (c ImcBoxControl) Validate() error { return nil }

// ImcCounterControl programs one of an IMC channel's four counters: event
// in bits 0-7, umask in 8-15, enable at bit 22.
type ImcCounterControl struct {
	Event  uint8
	Umask  uint8
	Enable bool
}

func (c ImcCounterControl) Encode() uint64 {
	v := uint64(c.Event) | uint64(c.Umask)<<8
	if c.Enable {
		v |= 1 << 22
	}
	return v
}

func DecodeImcCounterControl(w uint64) ImcCounterControl {
	return ImcCounterControl{
		Event:  uint8(w & 0xFF),
		Umask:  uint8((w >> 8) & 0xFF),
		Enable: w&(1<<22) != 0,
	}
}

func (c ImcCounterControl) Validate() error { return nil }

// ImcDclkControl enables the free-running memory-controller clock counter.
type ImcDclkControl struct {
	Enable bool
	Reset  bool
}

func (c ImcDclkControl) Encode() uint64 {
	var v uint64
	if c.Enable {
		v |= 1 << 22
	}
	if c.Reset {
		v |= 1 << 19
	}
	return v
}

func DecodeImcDclkControl(w uint64) ImcDclkControl {
	return ImcDclkControl{Enable: w&(1<<22) != 0, Reset: w&(1<<19) != 0}
}

func (c ImcDclkControl) Validate() error { return nil }
