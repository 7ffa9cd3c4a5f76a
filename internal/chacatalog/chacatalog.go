// Package chacatalog is the CHA (Caching/Home Agent) event catalog: every
// transaction-type/hit-miss and LLC-state/lookup-type combination the box's
// four physical counters rotate through, per spec.md §4.5. Grounded on
// _examples/original_source/uncflow-agent/counters/cha/events.rs.
package chacatalog

// CounterConfig is one physical counter's (event, umask) encoding within a
// Group. An all-zero entry means the counter is unused by this group.
type CounterConfig struct {
	Event uint8
	Umask uint8
}

// Group is one CHA event-rotation slot: four counter programmings plus the
// opcode/state filter values the box's BoxFilter0/BoxFilter1 registers need
// to scope those counters to a specific transaction.
type Group struct {
	Name      string
	Counters  [4]CounterConfig
	Opcode0   uint32
	Opcode1   uint32
	LLCState  uint32
}

// TransactionType is a CHA ring transaction class, with the 10-bit opcode
// CHA's BoxFilter0 register matches against.
type TransactionType struct {
	Name   string
	Opcode uint32
}

var transactionTypes = []TransactionType{
	{"PCIeRead", 0x21E},
	{"PCIeFullWrite", 0x248},
	{"PCIePartialWrite", 0x249},
	{"PCIeWriteBack", 0x194},
	{"DRDRead", 0x202},
	{"RFO", 0x200},
	{"ItoM", 0x204},
	{"CLFlush", 0x204},
	{"WbMtoI", 0x1C4},
	{"RxCIRQ", 0x180},
	{"RxCPRQ", 0x181},
}

// TransactionTypes returns the CHA transaction-type table.
func TransactionTypes() []TransactionType {
	out := make([]TransactionType, len(transactionTypes))
	copy(out, transactionTypes)
	return out
}

// LLCState is a cache-line/snoop-filter state CHA's BoxFilter1 register
// matches against.
type LLCState struct {
	Name  string
	Value uint32
}

var llcStates = []LLCState{
	{"M", 0x40},
	{"E", 0x20},
	{"S", 0x02},
	{"I", 0x01},
	{"SFM", 0x08},
	{"SFE", 0x04},
	{"SFS", 0x02},
}

// LLCStates returns the CHA LLC-state table.
func LLCStates() []LLCState {
	out := make([]LLCState, len(llcStates))
	copy(out, llcStates)
	return out
}

// LLCLookupType is a request-class CHA's LLC lookup event's umask selects.
type LLCLookupType struct {
	Name  string
	Umask uint8
}

var llcLookupTypes = []LLCLookupType{
	{"Read", 0x03},
	{"Write", 0x05},
	{"RemoteSnoop", 0x09},
	{"Any", 0x11},
}

// LLCLookupTypes returns the CHA LLC-lookup-type table.
func LLCLookupTypes() []LLCLookupType {
	out := make([]LLCLookupType, len(llcLookupTypes))
	copy(out, llcLookupTypes)
	return out
}

const (
	occupancyEvent = 0x36
	insertEvent    = 0x35
	clockTicksEvent = 0x00
)

func occupancyUmask(isHit bool) uint8 {
	if isHit {
		return 0x14
	}
	return 0x24
}

// TransactionGroup builds the occupancy/insert/clockticks counter group for
// one transaction type, scoped to hits or misses.
func TransactionGroup(t TransactionType, isHit bool) Group {
	label := "Miss"
	if isHit {
		label = "Hit"
	}
	return Group{
		Name: t.Name + " " + label,
		Counters: [4]CounterConfig{
			{occupancyEvent, occupancyUmask(isHit)},
			{insertEvent, occupancyUmask(isHit)},
			{clockTicksEvent, 0},
			{0, 0},
		},
		Opcode0: t.Opcode,
	}
}

// AllTransactionGroups returns every transaction-type x hit/miss group: 11
// types x 2 = 22 groups, per spec.md §8.
func AllTransactionGroups() []Group {
	groups := make([]Group, 0, len(transactionTypes)*2)
	for _, t := range transactionTypes {
		groups = append(groups, TransactionGroup(t, true))
		groups = append(groups, TransactionGroup(t, false))
	}
	return groups
}

// LLCLookupGroup builds the lookup-count group for one LLC state x lookup
// type combination.
func LLCLookupGroup(state LLCState, lookup LLCLookupType) Group {
	return Group{
		Name: "LLC Lookup " + state.Name + " " + lookup.Name,
		Counters: [4]CounterConfig{
			{0x34, lookup.Umask},
			{0, 0},
			{0, 0},
			{0, 0},
		},
		LLCState: state.Value,
	}
}

// AllLLCLookupGroups returns every LLC-state x lookup-type group: 7 states
// x 4 types = 28 groups, per spec.md §8.
func AllLLCLookupGroups() []Group {
	groups := make([]Group, 0, len(llcStates)*len(llcLookupTypes))
	for _, s := range llcStates {
		for _, l := range llcLookupTypes {
			groups = append(groups, LLCLookupGroup(s, l))
		}
	}
	return groups
}

// EvictionGroup is the single occupancy/insert group that tracks CHA
// cache-line evictions (umask 0x32 on both counters).
func EvictionGroup() Group {
	return Group{
		Name: "Eviction",
		Counters: [4]CounterConfig{
			{occupancyEvent, 0x32},
			{insertEvent, 0x32},
			{0, 0},
			{0, 0},
		},
	}
}

// VictimType is one LLC victim source state: the state a cache line held
// before being evicted to make room for an incoming line. Unit masks are
// the VictimType discriminants from
// _examples/original_source/uncflow-agent/metrics/cha/types.rs.
type VictimType struct {
	Name  string
	Umask uint8
}

var victimTypes = []VictimType{
	{"M", 0x01},
	{"E", 0x02},
	{"S", 0x04},
	{"F", 0x08},
}

// VictimTypes returns the LLC victim-type table.
func VictimTypes() []VictimType {
	out := make([]VictimType, len(victimTypes))
	copy(out, victimTypes)
	return out
}

// SFEvictionType is one snoop-filter eviction source state, with unit masks
// taken from types.rs's SFEvictionType discriminants.
type SFEvictionType struct {
	Name  string
	Umask uint8
}

var sfEvictionTypes = []SFEvictionType{
	{"M", 0x01},
	{"E", 0x02},
	{"S", 0x04},
}

// SFEvictionTypes returns the snoop-filter eviction-type table.
func SFEvictionTypes() []SFEvictionType {
	out := make([]SFEvictionType, len(sfEvictionTypes))
	copy(out, sfEvictionTypes)
	return out
}

const (
	// victimEvent (LLC_VICTIMS) and sfEvictionEvent (SF_EVICTION) are not
	// pinned to a concrete code anywhere in
	// _examples/original_source/uncflow-agent: types.rs only defines the
	// per-state unit masks, and monitor.rs never schedules either event.
	// These follow the Skylake-SP uncore CHA layout's published event
	// numbers for the same two counted conditions.
	victimEvent         uint8 = 0x37
	sfEvictionEvent     uint8 = 0x3D
	irqOccupancyUmask   uint8 = 0x01
	prqOccupancyUmask   uint8 = 0x02
	readNoCreditUmask   uint8 = 0x01
	writeNoCreditUmask  uint8 = 0x02
)

// VictimGroup counts lines evicted from the LLC that were in state v,
// one raw insert count per catalog entry (get_llc_victim in
// metrics/cha/calculator.rs reads this the same way: a named lookup with
// no occupancy/clockticks pairing).
func VictimGroup(v VictimType) Group {
	return Group{
		Name:     "LLC Victim " + v.Name,
		Counters: [4]CounterConfig{{0, 0}, {victimEvent, v.Umask}, {0, 0}, {0, 0}},
	}
}

// AllVictimGroups returns every LLC victim-state group: 4 groups.
func AllVictimGroups() []Group {
	groups := make([]Group, 0, len(victimTypes))
	for _, v := range victimTypes {
		groups = append(groups, VictimGroup(v))
	}
	return groups
}

// SFEvictionGroup counts snoop-filter evictions sourced from state e.
func SFEvictionGroup(e SFEvictionType) Group {
	return Group{
		Name:     "SF Eviction " + e.Name,
		Counters: [4]CounterConfig{{0, 0}, {sfEvictionEvent, e.Umask}, {0, 0}, {0, 0}},
	}
}

// AllSFEvictionGroups returns every snoop-filter eviction-state group: 3
// groups.
func AllSFEvictionGroups() []Group {
	groups := make([]Group, 0, len(sfEvictionTypes))
	for _, e := range sfEvictionTypes {
		groups = append(groups, SFEvictionGroup(e))
	}
	return groups
}

// EvictionQueueOccupancyGroup tracks the eviction queue's occupancy against
// clockticks directly, so calculate_eviction_queue_occupancy's ratio has its
// own rotation slot instead of only being derivable while the combined
// Eviction bandwidth/latency group happens to be active.
func EvictionQueueOccupancyGroup() Group {
	return Group{
		Name:     "Eviction Queue Occupancy",
		Counters: [4]CounterConfig{{occupancyEvent, 0x32}, {0, 0}, {clockTicksEvent, 0}, {0, 0}},
	}
}

// IRQOccupancyGroup and PRQOccupancyGroup track the CHA ingress request
// queue occupancy for coherent (IRQ) and non-coherent/probe (PRQ) requests,
// the two queues RxCIRQ/RxCPRQ's transaction opcodes (0x180/0x181) drain
// into, per types.rs's IRQOccupancy/PRQOccupancy metric kinds.
func IRQOccupancyGroup() Group {
	return Group{
		Name:     "IRQ Occupancy",
		Counters: [4]CounterConfig{{occupancyEvent, irqOccupancyUmask}, {0, 0}, {clockTicksEvent, 0}, {0, 0}},
	}
}

func PRQOccupancyGroup() Group {
	return Group{
		Name:     "PRQ Occupancy",
		Counters: [4]CounterConfig{{occupancyEvent, prqOccupancyUmask}, {0, 0}, {clockTicksEvent, 0}, {0, 0}},
	}
}

// UncoreFrequencyGroup is a bare clockticks counter, giving
// calculate_uncore_frequency's "use clockticks from any event" a dedicated
// source with its own rotation slot instead of depending on whichever
// group the rotation happens to be on. Like every other group, it is only
// counted while the rotation is on that slot.
func UncoreFrequencyGroup() Group {
	return Group{
		Name:     "Uncore Frequency",
		Counters: [4]CounterConfig{{0, 0}, {0, 0}, {clockTicksEvent, 0}, {0, 0}},
	}
}

// CreditGroup counts occasions the CHA had no outgoing credit available in
// the given direction. Neither events.rs nor monitor.rs pins a concrete
// event code for ReadNoCredit/WriteNoCredit — the original's
// get_credit_metric is a bare named lookup with no programming side at
// all — so this reuses the catalog's insert-style single counter shape,
// distinguished by direction-specific unit masks.
func CreditGroup(name string, umask uint8) Group {
	return Group{
		Name:     name,
		Counters: [4]CounterConfig{{0, 0}, {insertEvent, umask}, {0, 0}, {0, 0}},
	}
}

// AllCreditGroups returns the ReadNoCredit/WriteNoCredit groups: 2 groups.
func AllCreditGroups() []Group {
	return []Group{
		CreditGroup("ReadNoCredit", readNoCreditUmask),
		CreditGroup("WriteNoCredit", writeNoCreditUmask),
	}
}

// FullCatalog returns the complete rotation set: every transaction,
// LLC-lookup, eviction, victim, snoop-filter-eviction, queue-occupancy,
// frequency, and credit group named by spec.md §4.5 — 64 groups total
// (22 + 28 + 1 + 4 + 3 + 1 + 1 + 1 + 1 + 2).
func FullCatalog() []Group {
	groups := AllTransactionGroups()
	groups = append(groups, AllLLCLookupGroups()...)
	groups = append(groups, EvictionGroup())
	groups = append(groups, AllVictimGroups()...)
	groups = append(groups, AllSFEvictionGroups()...)
	groups = append(groups, EvictionQueueOccupancyGroup())
	groups = append(groups, IRQOccupancyGroup())
	groups = append(groups, PRQOccupancyGroup())
	groups = append(groups, UncoreFrequencyGroup())
	groups = append(groups, AllCreditGroups()...)
	return groups
}
