package mips64

import "github.com/dynamips/dynamips-go/pkg/mts"

// ExcKind is the Cause.ExcCode value for a MIPS64 exception, a subset
// of the architectural exception list relevant to this engine.
type ExcKind uint32

const (
	ExcInt  ExcKind = 0
	ExcMod  ExcKind = 1
	ExcTLBL ExcKind = 2
	ExcTLBS ExcKind = 3
	ExcAdEL ExcKind = 4
	ExcAdES ExcKind = 5
	ExcSys  ExcKind = 8
	ExcBp   ExcKind = 9
	ExcRI   ExcKind = 10
	ExcCpU  ExcKind = 11
	ExcOv   ExcKind = 12
	ExcTr   ExcKind = 13
)

const (
	statusIE  uint64 = 1 << 0
	statusEXL uint64 = 1 << 1
	statusERL uint64 = 1 << 2
	statusIMShift      = 8
	causeBD   uint64 = 1 << 31
	causeIPShift       = 8
)

// tlbEntry64 models one MIPS64 TLB entry (even/odd page pair),
// generalized from the teacher's 32-bit COP0 TLBEntry to 64-bit VPN2
// and PFN fields while keeping the same field shape.
type tlbEntry64 struct {
	vpn2 uint64
	asid uint32
	g    bool

	pfn0 uint64
	c0   uint8
	d0   bool
	v0   bool

	pfn1 uint64
	c1   uint8
	d1   bool
	v1   bool

	pageMask uint64 // extra address bits beyond the default 4K page
}

// CP0 is the MIPS64 system control coprocessor: selected architectural
// registers plus the hardware TLB, grounded on the teacher's
// internal/mips COP0 model and widened to 64 bits.
type CP0 struct {
	tlb     []tlbEntry64
	tlbSize int

	index, random     uint32
	entryLo0, entryLo1 uint64
	context           uint64
	pageMask          uint64
	wired             uint32
	badVAddr          uint64
	count             uint32
	entryHi           uint64
	compare           uint32
	status            uint64
	cause             uint64
	epc               uint64
	prid              uint32
}

// DefaultTLBSize is the number of hardware TLB entries modeled.
const DefaultTLBSize = 64

// NewCP0 creates a CP0 with DefaultTLBSize TLB entries, all invalid.
func NewCP0() *CP0 {
	return &CP0{tlb: make([]tlbEntry64, DefaultTLBSize), tlbSize: DefaultTLBSize}
}

// Reset clears CP0 architectural state, installing reset MMU state
// (an empty TLB, ERL set per the architecture's reset behavior).
func (c *CP0) Reset() {
	for i := range c.tlb {
		c.tlb[i] = tlbEntry64{}
	}
	c.index, c.random = 0, uint32(c.tlbSize-1)
	c.entryLo0, c.entryLo1 = 0, 0
	c.entryHi, c.context, c.pageMask = 0, 0, 0
	c.wired, c.compare, c.count = 0, 0, 0
	c.status = statusERL
	c.cause, c.epc = 0, 0
}

func (c *CP0) IE() bool  { return c.status&statusIE != 0 }
func (c *CP0) EXL() bool { return c.status&statusEXL != 0 }
func (c *CP0) ERL() bool { return c.status&statusERL != 0 }
func (c *CP0) IM() uint64 { return (c.status >> statusIMShift) & 0xFF }

// SetPendingIP mirrors the pending IRQ bitmap into Cause.IP for the
// software-visible interrupt-pending bits.
func (c *CP0) SetPendingIP(mask uint64) {
	c.cause = (c.cause &^ (uint64(0xFF) << causeIPShift)) | ((mask & 0xFF) << causeIPShift)
}

// RaiseException writes EPC/Cause and returns the vector PC, per
// spec.md §4.G's trigger_exception contract ("writes the
// architectural exception registers and redirects PC to the vector").
func (c *CP0) RaiseException(kind ExcKind, pc uint64, inDelaySlot bool, aux uint32) uint64 {
	if !c.EXL() {
		if inDelaySlot {
			c.epc = pc - 4
			c.cause |= causeBD
		} else {
			c.epc = pc
			c.cause &^= causeBD
		}
	}
	c.cause = (c.cause &^ 0x7C) | (uint64(kind) << 2)
	c.status |= statusEXL
	c.badVAddr = uint64(aux)

	const bootExcVector = 0xFFFFFFFFBFC00380
	const ramExcVector = 0xFFFFFFFF80000180
	if c.status&(1<<22) != 0 { // BEV
		return bootExcVector
	}
	return ramExcVector
}

// ERET returns from an exception, clearing EXL and restoring PC from
// EPC, per spec.md §4.G's "eret/rfi" equivalence requirement.
func (c *CP0) ERET() uint64 {
	c.status &^= statusEXL
	return c.epc
}

// probe finds a TLB entry matching vpn2/asid (or global), returning
// its index, or -1.
func (c *CP0) probe(vpn2 uint64, asid uint32) int {
	for i, e := range c.tlb {
		if e.vpn2 == vpn2 && (e.g || e.asid == asid) {
			return i
		}
	}
	return -1
}

// Walker adapts CP0's hardware TLB to the mts.Walker contract MTS
// needs on a soft-TLB miss.
type Walker struct{ cp0 *CP0 }

// NewWalker returns an mts.Walker backed by cp0's hardware TLB.
func NewWalker(cp0 *CP0) *Walker { return &Walker{cp0: cp0} }

var _ mts.Walker = (*Walker)(nil)

// Walk implements mts.Walker: translate vpage under asid, consulting
// the even/odd TLB entry pair the way real MIPS64 hardware does.
func (w *Walker) Walk(vpage uint64, asid uint32, access mts.Perm) (uint64, mts.Perm, mts.Exception) {
	c := w.cp0
	vpn2 := vpage >> 1
	even := vpage&1 == 0

	idx := c.probe(vpn2, asid)
	if idx < 0 {
		c.badVAddr = vpage << 12
		if access&mts.PermWrite != 0 {
			return 0, 0, mts.ExcTlbMiss
		}
		return 0, 0, mts.ExcTlbMiss
	}
	e := c.tlb[idx]

	var pfn uint64
	var valid, dirty bool
	var cacheAttr uint8
	if even {
		pfn, valid, dirty, cacheAttr = e.pfn0, e.v0, e.d0, e.c0
	} else {
		pfn, valid, dirty, cacheAttr = e.pfn1, e.v1, e.d1, e.c1
	}
	_ = cacheAttr
	if !valid {
		return 0, 0, mts.ExcTlbMiss
	}
	if access&mts.PermWrite != 0 && !dirty {
		return 0, 0, mts.ExcProtectionViolation
	}

	perm := mts.PermRead | mts.PermExec
	if dirty {
		perm |= mts.PermWrite
	}
	return pfn, perm, mts.NoException
}

// WriteTLB installs or replaces entry idx (TLBWI) with the register
// state currently loaded into EntryHi/EntryLo0/EntryLo1/PageMask.
func (c *CP0) WriteTLB(idx int) {
	if idx < 0 || idx >= len(c.tlb) {
		return
	}
	c.tlb[idx] = tlbEntry64{
		vpn2:     c.entryHi >> 13,
		asid:     uint32(c.entryHi & 0xFF),
		g:        c.entryLo0&1 != 0 && c.entryLo1&1 != 0,
		pfn0:     (c.entryLo0 >> 6) & 0xFFFFF,
		c0:       uint8((c.entryLo0 >> 3) & 0x7),
		d0:       c.entryLo0&(1<<2) != 0,
		v0:       c.entryLo0&(1<<1) != 0,
		pfn1:     (c.entryLo1 >> 6) & 0xFFFFF,
		c1:       uint8((c.entryLo1 >> 3) & 0x7),
		d1:       c.entryLo1&(1<<2) != 0,
		v1:       c.entryLo1&(1<<1) != 0,
		pageMask: c.pageMask,
	}
}

// ReadTLB loads entry idx (TLBR) into EntryHi/EntryLo0/EntryLo1/PageMask.
func (c *CP0) ReadTLB(idx int) {
	if idx < 0 || idx >= len(c.tlb) {
		return
	}
	e := c.tlb[idx]
	c.entryHi = (e.vpn2 << 13) | uint64(e.asid)
	c.entryLo0 = (e.pfn0 << 6) | uint64(e.c0)<<3 | b2u(e.d0)<<2 | b2u(e.v0)<<1 | b2u(e.g)
	c.entryLo1 = (e.pfn1 << 6) | uint64(e.c1)<<3 | b2u(e.d1)<<2 | b2u(e.v1)<<1 | b2u(e.g)
	c.pageMask = e.pageMask
}

// Probe implements TLBP: sets Index to the matching entry, or sets the
// probe-failure bit.
func (c *CP0) Probe() {
	vpn2 := c.entryHi >> 13
	asid := uint32(c.entryHi & 0xFF)
	idx := c.probe(vpn2, asid)
	if idx < 0 {
		c.index = 1 << 31
		return
	}
	c.index = uint32(idx)
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// MFC0/MTC0 register numbers this engine models (a subset of the full
// architectural set, sufficient for the save/restore and TLB-fault
// paths spec.md exercises).
const (
	RegIndex    = 0
	RegRandom   = 1
	RegEntryLo0 = 2
	RegEntryLo1 = 3
	RegContext  = 4
	RegPageMask = 5
	RegWired    = 6
	RegBadVAddr = 8
	RegCount    = 9
	RegEntryHi  = 10
	RegCompare  = 11
	RegStatus   = 12
	RegCause    = 13
	RegEPC      = 14
	RegPRId     = 15
)

// MFC0 reads CP0 register reg (sel 0), per spec.md §4.G.
func (c *CP0) MFC0(reg uint8) uint64 {
	switch reg {
	case RegIndex:
		return uint64(c.index)
	case RegRandom:
		return uint64(c.random)
	case RegEntryLo0:
		return c.entryLo0
	case RegEntryLo1:
		return c.entryLo1
	case RegContext:
		return c.context
	case RegPageMask:
		return c.pageMask
	case RegWired:
		return uint64(c.wired)
	case RegBadVAddr:
		return c.badVAddr
	case RegCount:
		return uint64(c.count)
	case RegEntryHi:
		return c.entryHi
	case RegCompare:
		return uint64(c.compare)
	case RegStatus:
		return c.status
	case RegCause:
		return c.cause
	case RegEPC:
		return c.epc
	case RegPRId:
		return uint64(c.prid)
	default:
		return 0
	}
}

// MTC0 writes CP0 register reg (sel 0). Writes to EntryHi/Status/
// PageMask must flush the soft-TLB per spec.md §4.E's coherence
// invariant; that flush is the caller's (CPU's) responsibility once
// MTC0 reports which registers changed via its bool return.
func (c *CP0) MTC0(reg uint8, val uint64) (needsTLBFlush bool) {
	switch reg {
	case RegIndex:
		c.index = uint32(val)
	case RegEntryLo0:
		c.entryLo0 = val
	case RegEntryLo1:
		c.entryLo1 = val
	case RegContext:
		c.context = val
	case RegPageMask:
		c.pageMask = val
		return true
	case RegWired:
		c.wired = uint32(val)
	case RegEntryHi:
		c.entryHi = val
		return true
	case RegCompare:
		c.compare = uint32(val)
		c.cause &^= 1 << 30
	case RegStatus:
		c.status = val
		return true
	case RegCause:
		c.cause = val
	case RegEPC:
		c.epc = val
	}
	return false
}

// Tick advances Count by one and raises a timer interrupt if it now
// equals Compare. Its only caller is CPU.Tick, which cmd/dynamips runs
// from its periodic-task wheel; the dispatcher loop does not call it.
func (c *CP0) Tick() {
	c.count++
	if c.count == c.compare {
		c.cause |= 1 << 30
	}
}
