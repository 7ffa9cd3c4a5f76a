package register

// CHA (Caching/Home Agent) MSR address layout. Stride is the offset between
// consecutive CHA box base addresses.
const (
	ChaBoxCtlBase   uint64 = 0xE00
	ChaCtl0Base     uint64 = 0xE01
	ChaCtr0Base     uint64 = 0xE08
	ChaFilter0Base  uint64 = 0xE05
	ChaFilter1Base  uint64 = 0xE06
	ChaBoxStride    uint64 = 0x10
	ChaCounterWidth        = 48
)

// ChaBoxAddr returns the box-control MSR address for the ith CHA unit.
func ChaBoxAddr(i int) uint64 { return ChaBoxCtlBase + uint64(i)*ChaBoxStride }

// ChaCounterCtlAddr returns the control MSR address for counter `ctr` (0-3)
// of the ith CHA unit.
func ChaCounterCtlAddr(i, ctr int) uint64 { return ChaCtl0Base + uint64(i)*ChaBoxStride + uint64(ctr) }

// ChaCounterValueAddr returns the counter-value MSR address for counter
// `ctr` (0-3) of the ith CHA unit.
func ChaCounterValueAddr(i, ctr int) uint64 {
	return ChaCtr0Base + uint64(i)*ChaBoxStride + uint64(ctr)
}

// ChaFilter0Addr and ChaFilter1Addr return the filter MSR addresses for the
// ith CHA unit.
func ChaFilter0Addr(i int) uint64 { return ChaFilter0Base + uint64(i)*ChaBoxStride }
func ChaFilter1Addr(i int) uint64 { return ChaFilter1Base + uint64(i)*ChaBoxStride }

// ChaBoxControl freezes/resets every counter in one CHA unit.
type ChaBoxControl struct {
	Freeze        bool
	FreezeEnable  bool
	ResetCounters bool
	ResetControl  bool
}

func (c ChaBoxControl) Encode() uint64 {
	var v uint64
	if c.Freeze {
		v |= 1 << 0
	}
	if c.ResetCounters {
		v |= 1 << 1
	}
	if c.ResetControl {
		v |= 1 << 2
	}
	if c.FreezeEnable {
		v |= 1 << 8
		if !c.Freeze {
			v |= 1 << 16
		}
	}
	return v
}

func DecodeChaBoxControl(w uint64) ChaBoxControl {
	return ChaBoxControl{
		Freeze:        w&(1<<0) != 0,
		ResetCounters: w&(1<<1) != 0,
		ResetControl:  w&(1<<2) != 0,
		FreezeEnable:  w&(1<<8) != 0,
	}
}

func (c ChaBoxControl) Validate() error { return nil }

// ChaCounterControl programs one of a CHA unit's four counters.
//
//	0-7   event_select
//	8-15  unit_mask
//	16-17 queue_occupancy_select
//	18    edge_detect
//	22    enable
//	23    invert
//	24-29 threshold (6 bits)
//	30    occupancy_invert
//	31    occupancy_edge_detect
type ChaCounterControl struct {
	EventSelect          uint8
	UnitMask             uint8
	QueueOccupancySelect uint8
	EdgeDetect           bool
	Enable               bool
	Invert               bool
	Threshold            uint8
	OccupancyInvert      bool
	OccupancyEdgeDetect  bool
}

func (c ChaCounterControl) Encode() uint64 {
	v := uint64(c.EventSelect) | uint64(c.UnitMask)<<8 | uint64(c.QueueOccupancySelect&0x3)<<16
	if c.EdgeDetect {
		v |= 1 << 18
	}
	if c.Enable {
		v |= 1 << 22
	}
	if c.Invert {
		v |= 1 << 23
	}
	v |= uint64(c.Threshold&0x3F) << 24
	if c.OccupancyInvert {
		v |= 1 << 30
	}
	if c.OccupancyEdgeDetect {
		v |= 1 << 31
	}
	return v
}

func DecodeChaCounterControl(w uint64) ChaCounterControl {
	return ChaCounterControl{
		EventSelect:          uint8(w & 0xFF),
		UnitMask:             uint8((w >> 8) & 0xFF),
		QueueOccupancySelect: uint8((w >> 16) & 0x3),
		EdgeDetect:           w&(1<<18) != 0,
		Enable:               w&(1<<22) != 0,
		Invert:               w&(1<<23) != 0,
		Threshold:            uint8((w >> 24) & 0x3F),
		OccupancyInvert:      w&(1<<30) != 0,
		OccupancyEdgeDetect:  w&(1<<31) != 0,
	}
}

func (c ChaCounterControl) Validate() error {
	if err := fieldFits("threshold", uint64(c.Threshold), 6); err != nil {
		return err
	}
	return fieldFits("queue_occupancy_select", uint64(c.QueueOccupancySelect), 2)
}

// ChaFilter0 matches events by transaction opcode.
type ChaFilter0 struct {
	OpcodeMatch uint16
}

func (f ChaFilter0) Encode() uint64             { return uint64(f.OpcodeMatch) }
func DecodeChaFilter0(w uint64) ChaFilter0       { return ChaFilter0{OpcodeMatch: uint16(w & 0xFFFF)} }
func (f ChaFilter0) Validate() error            { return nil }

// ChaFilter1 matches events by thread id and cache-line state. State
// occupies bits 17-23 as per spec.md §4.5 ("state bits at position 17").
type ChaFilter1 struct {
	TID   uint32 // bits 0-16
	State uint8  // bits 17-23
}

func (f ChaFilter1) Encode() uint64 {
	return uint64(f.TID&0x1FFFF) | uint64(f.State)<<17
}

func DecodeChaFilter1(w uint64) ChaFilter1 {
	return ChaFilter1{
		TID:   uint32(w & 0x1FFFF),
		State: uint8((w >> 17) & 0x7F),
	}
}

func (f ChaFilter1) Validate() error {
	return fieldFits("tid", uint64(f.TID), 17)
}

// Cache-line states usable in ChaFilter1.State.
const (
	StateModified  uint8 = 0x40
	StateExclusive uint8 = 0x20
	StateShared    uint8 = 0x02
	StateInvalid   uint8 = 0x01
	StateSFM       uint8 = 0x08
	StateSFE       uint8 = 0x04
	StateSFS       uint8 = 0x02
)
