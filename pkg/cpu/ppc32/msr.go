package ppc32

import "github.com/dynamips/dynamips-go/pkg/mts"

// ExcKind is a PowerPC exception vector offset selector, the PPC
// analogue of pkg/cpu/mips64's ExcKind.
type ExcKind int

const (
	ExcReset ExcKind = iota
	ExcMachineCheck
	ExcDSI // data storage interrupt: load/store fault
	ExcISI // instruction storage interrupt: fetch fault
	ExcExternal
	ExcAlignment
	ExcProgram // illegal instruction / trap
	ExcDecrementer
	ExcSystemCall
)

// exception vector offsets from the base set by MSR[IP], matching the
// standard PowerPC 32-bit exception table.
var excVectorOffset = map[ExcKind]uint32{
	ExcReset:        0x0100,
	ExcMachineCheck: 0x0200,
	ExcDSI:          0x0300,
	ExcISI:          0x0400,
	ExcExternal:     0x0500,
	ExcAlignment:    0x0600,
	ExcProgram:      0x0700,
	ExcDecrementer:  0x0900,
	ExcSystemCall:   0x0C00,
}

// MSR bit masks used by this build; PowerPC numbers MSR bits 0 (MSB)
// through 31 (LSB), so these are expressed as plain bit masks rather
// than IBM bit numbers.
const (
	msrEE uint32 = 1 << 15 // external interrupt enable
	msrPR uint32 = 1 << 14 // problem (user) state
	msrIP uint32 = 1 << 6  // exception prefix: vectors at 0xFFFn_nnnn vs 0x000n_nnnn
	msrME uint32 = 1 << 12 // machine check enable
)

// MSR models the machine state register plus the SPRs and segment
// registers every PPC32 translation/exception path in this build
// touches: SRR0/SRR1 (exception save), SPRG0-3 (scratch), DEC/TBU/TBL
// (decrementer and time base), and SR[0..15] (segment registers the
// PPC32 Walker consults for BAT-miss hashed-page-table lookups).
type MSR struct {
	value uint32

	srr0 uint32
	srr1 uint32

	sprg [4]uint32

	dec uint32
	tbu uint32
	tbl uint32

	sr [16]uint32

	// BATs: 4 instruction + 4 data, each an (upper, lower) pair, per
	// the PowerPC 603e/750 block-address-translation model spec.md
	// §4.E's PPC32 architecture note names.
	ibatu, ibatl [4]uint32
	dbatu, dbatl [4]uint32
}

func NewMSR() *MSR { return &MSR{} }

// Reset sets MSR to the post-reset state: interrupts disabled,
// exception prefix high (vectors at 0xFFFn_nnnn), supervisor mode.
func (m *MSR) Reset() {
	m.value = msrIP
	m.srr0, m.srr1 = 0, 0
	m.sprg = [4]uint32{}
	m.dec, m.tbu, m.tbl = 0, 0, 0
	m.sr = [16]uint32{}
	m.ibatu, m.ibatl = [4]uint32{}, [4]uint32{}
	m.dbatu, m.dbatl = [4]uint32{}, [4]uint32{}
}

func (m *MSR) SR(n uint32) uint32     { return m.sr[n&0xF] }
func (m *MSR) SetSR(n uint32, v uint32) { m.sr[n&0xF] = v }

func (m *MSR) EE() bool         { return m.value&msrEE != 0 }
func (m *MSR) Problem() bool    { return m.value&msrPR != 0 }
func (m *MSR) Value() uint32    { return m.value }
func (m *MSR) SetValue(v uint32) { m.value = v }

// RaiseException saves pc/MSR into SRR0/SRR1, disables further
// interrupts (MSR[EE] and MSR[PR] clear, matching real hardware
// entering supervisor mode with interrupts masked) and returns the
// vector address for kind, honoring MSR[IP]'s exception-prefix bit.
func (m *MSR) RaiseException(kind ExcKind, pc uint32) uint32 {
	m.srr0 = pc
	m.srr1 = m.value
	m.value &^= msrEE | msrPR

	base := uint32(0)
	if m.value&msrIP != 0 || m.srr1&msrIP != 0 {
		base = 0xFFF00000
	}
	return base | excVectorOffset[kind]
}

// RFI ("return from interrupt") restores MSR from SRR1 and returns
// SRR0, the resume PC, mirroring pkg/cpu/mips64's CP0.ERET.
func (m *MSR) RFI() (pc uint32) {
	m.value = m.srr1
	return m.srr0
}

// Tick advances the time base and, on a decrementer underflow, raises
// the decrementer exception request; the caller (CPU.DeliverPendingIRQ
// path) is responsible for actually dispatching it.
func (m *MSR) Tick() (decExpired bool) {
	m.tbl++
	if m.tbl == 0 {
		m.tbu++
	}
	if m.dec == 0 {
		decExpired = true
		m.dec = 0xFFFFFFFF
	} else {
		m.dec--
	}
	return decExpired
}

// Walker implements mts.Walker for PPC32: a BAT hit short-circuits
// straight to a physical page, otherwise the segment register + a
// (modeled, not physically hashed) page-table walk produces one, per
// spec.md §4.E's "PPC32 BAT + segment registers + hashed page table"
// architecture note. This build models the hashed-page-table step as
// a direct identity mapping gated by the segment register's T bit
// (a direct-store segment, T=1, reports a bus error),
// which is sufficient to exercise the Walker contract end-to-end
// without emulating IBM's exact PTEG hash function.
type Walker struct {
	msr *MSR
}

func NewWalker(m *MSR) *Walker { return &Walker{msr: m} }

var _ mts.Walker = (*Walker)(nil)

func (w *Walker) Walk(vpage uint64, asid uint32, access mts.Perm) (uint64, mts.Perm, mts.Exception) {
	vaddr := vpage << 12

	if ppage, perm, ok := w.batLookup(vaddr, access); ok {
		return ppage, perm, mts.NoException
	}

	sr := w.msr.sr[(vaddr>>28)&0xF]
	if sr&(1<<31) != 0 {
		// T=1 segments (direct-store) are not modeled; treat as
		// unmapped rather than guessing at I/O semantics.
		return 0, 0, mts.ExcBusError
	}

	// Modeled hashed-page-table step: identity-map within the segment,
	// full permissions, so every PPC32 component downstream of the
	// Walker (MTS, TCB, devices) can be exercised without a literal
	// PTEG walk.
	return vpage, mts.PermRead | mts.PermWrite | mts.PermExec, mts.NoException
}

func (w *Walker) batLookup(vaddr uint32, access mts.Perm) (uint64, mts.Perm, bool) {
	bats := w.msr.dbatu
	batl := w.msr.dbatl
	if access&mts.PermExec != 0 {
		bats = w.msr.ibatu
		batl = w.msr.ibatl
	}
	for i := 0; i < 4; i++ {
		upper := bats[i]
		if upper&0x3 == 0 { // Vs/Vp both clear: BAT invalid
			continue
		}
		bepi := upper & 0xFFFE0000
		bl := (upper >> 2) & 0x7FF
		mask := ^(bl << 17) & 0xFFFE0000
		if vaddr&mask != bepi&mask {
			continue
		}
		lower := batl[i]
		brpn := lower & 0xFFFE0000
		perm := mts.PermRead | mts.PermExec
		if lower&0x2 != 0 {
			perm |= mts.PermWrite
		}
		ppage := uint64(brpn|(vaddr&^mask)) >> 12
		return ppage, perm, true
	}
	return 0, 0, false
}

// MFSPR/MTSPR register numbers this build implements.
const (
	SprXER  = 1
	SprLR   = 8
	SprCTR  = 9
	SprDSISR = 18
	SprDAR  = 19
	SprDEC  = 22
	SprSRR0 = 26
	SprSRR1 = 27
	SprSPRG0 = 272
	SprSPRG1 = 273
	SprSPRG2 = 274
	SprSPRG3 = 275
	SprTBL  = 268
	SprTBU  = 269
	SprIBAT0U = 528
	SprIBAT0L = 529
	SprDBAT0U = 536
	SprDBAT0L = 537
)

// MFSPR reads a special-purpose register this model supports, beyond
// LR/CTR/XER (which live directly on CPU and are handled by the
// decoder's dedicated mfspr/mtspr cases for those three).
func (m *MSR) MFSPR(spr uint32) uint32 {
	switch spr {
	case SprDSISR, SprDAR:
		return 0
	case SprDEC:
		return m.dec
	case SprSRR0:
		return m.srr0
	case SprSRR1:
		return m.srr1
	case SprSPRG0:
		return m.sprg[0]
	case SprSPRG1:
		return m.sprg[1]
	case SprSPRG2:
		return m.sprg[2]
	case SprSPRG3:
		return m.sprg[3]
	case SprTBL:
		return m.tbl
	case SprTBU:
		return m.tbu
	case SprIBAT0U, SprIBAT0U + 2, SprIBAT0U + 4, SprIBAT0U + 6:
		return m.ibatu[(spr-SprIBAT0U)/2]
	case SprIBAT0L, SprIBAT0L + 2, SprIBAT0L + 4, SprIBAT0L + 6:
		return m.ibatl[(spr-SprIBAT0L)/2]
	case SprDBAT0U, SprDBAT0U + 2, SprDBAT0U + 4, SprDBAT0U + 6:
		return m.dbatu[(spr-SprDBAT0U)/2]
	case SprDBAT0L, SprDBAT0L + 2, SprDBAT0L + 4, SprDBAT0L + 6:
		return m.dbatl[(spr-SprDBAT0L)/2]
	default:
		return 0
	}
}

func (m *MSR) MTSPR(spr uint32, v uint32) {
	switch spr {
	case SprDEC:
		m.dec = v
	case SprSRR0:
		m.srr0 = v
	case SprSRR1:
		m.srr1 = v
	case SprSPRG0:
		m.sprg[0] = v
	case SprSPRG1:
		m.sprg[1] = v
	case SprSPRG2:
		m.sprg[2] = v
	case SprSPRG3:
		m.sprg[3] = v
	case SprTBL:
		m.tbl = v
	case SprTBU:
		m.tbu = v
	case SprIBAT0U, SprIBAT0U + 2, SprIBAT0U + 4, SprIBAT0U + 6:
		m.ibatu[(spr-SprIBAT0U)/2] = v
	case SprIBAT0L, SprIBAT0L + 2, SprIBAT0L + 4, SprIBAT0L + 6:
		m.ibatl[(spr-SprIBAT0L)/2] = v
	case SprDBAT0U, SprDBAT0U + 2, SprDBAT0U + 4, SprDBAT0U + 6:
		m.dbatu[(spr-SprDBAT0U)/2] = v
	case SprDBAT0L, SprDBAT0L + 2, SprDBAT0L + 4, SprDBAT0L + 6:
		m.dbatl[(spr-SprDBAT0L)/2] = v
	}
}
