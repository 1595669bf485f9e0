package mts

// Walker performs the architecture-specific page-table/TLB walk on a
// soft-TLB miss. MIPS64 supplies one backed by its hardware TLB model
// (variable page sizes, ASID-qualified); PPC32 supplies one backed by
// BATs, segment registers and a hashed page table. Either way the
// contract mts needs is the same: translate a virtual page to a
// physical page and a permission set, or fail with an Exception.
type Walker interface {
	// Walk translates vpage (already shifted right by the page shift)
	// under the given ASID/address-space tag, returning the physical
	// page number and permissions on success.
	Walk(vpage uint64, asid uint32, access Perm) (ppage uint64, perm Perm, exc Exception)
}

// MTS is the translation subsystem for one CPU: a soft-TLB in front
// of a Walker and a shared PhysMap, parameterized over address width
// only by the caller passing appropriately sized vaddr/paddr values
// (MIPS64 uses the full 64 bits; PPC32 masks to 32).
type MTS struct {
	tlb       *softTLB
	walker    Walker
	phys      *PhysMap
	onInvalidate InvalidateHook
}

// New creates an MTS with a soft-TLB of 2^tlbSizeLog2 entries.
func New(walker Walker, phys *PhysMap, tlbSizeLog2 uint, onInvalidate InvalidateHook) *MTS {
	return &MTS{tlb: newSoftTLB(tlbSizeLog2), walker: walker, phys: phys, onInvalidate: onInvalidate}
}

// SetWalker replaces the Walker an MTS consults on a soft-TLB miss.
// Architecture CPU constructors build their hardware-TLB/BAT state
// (CP0, MSR) only once the CPU itself exists, after the MTS they're
// wired to must already have been constructed; callers break that
// cycle by constructing the MTS with a nil Walker, building the CPU,
// then calling SetWalker with a Walker bound to the CPU's own
// register state.
func (m *MTS) SetWalker(w Walker) { m.walker = w }

// FlushTLB drops every soft-TLB entry, used on MMU control register
// writes per spec.md §4.E's TLB-coherence invariant.
func (m *MTS) FlushTLB() { m.tlb.flush() }

// FlushTLBASID drops only entries tagged with asid.
func (m *MTS) FlushTLBASID(asid uint32) { m.tlb.flushASID(asid) }

// translate resolves vaddr to a tlbEntry, walking the page table on
// a soft-TLB miss and installing the result.
func (m *MTS) translate(vaddr uint64, asid uint32, access Perm) (*tlbEntry, Exception) {
	vpage := vaddr >> pageShift
	if e, ok := m.tlb.lookup(vpage, asid); ok {
		if e.perm&access == 0 {
			return nil, ExcProtectionViolation
		}
		return e, NoException
	}

	ppage, perm, exc := m.walker.Walk(vpage, asid, access)
	if exc != NoException {
		return nil, exc
	}
	if perm&access == 0 {
		return nil, ExcProtectionViolation
	}

	paddr := ppage << pageShift
	region := m.phys.Lookup(paddr)
	if region == nil {
		return nil, ExcBusError
	}

	e := tlbEntry{valid: true, vpage: vpage, asid: asid, perm: perm}
	if region.HostBase != nil {
		e.kind = kindRAM
		off := paddr - region.Base
		pageStart := off &^ (pageSize - 1)
		e.hostBase = region.HostBase[pageStart:]
		e.physPage = physPage(paddr)
		e.execPage = region.Exec
	} else {
		e.kind = kindMMIO
		e.region = region
		e.pageOff = paddr - region.Base
	}
	m.tlb.install(e)
	return &e, NoException
}

// Read performs a size-qualified load from vaddr.
func (m *MTS) Read(vaddr uint64, asid uint32, width AccessWidth) (uint64, Exception) {
	if vaddr&uint64(width-1) != 0 {
		return 0, ExcAddressError
	}
	e, exc := m.translate(vaddr, asid, PermRead)
	if exc != NoException {
		return 0, exc
	}
	switch e.kind {
	case kindRAM:
		off := vaddr & (pageSize - 1)
		return loadLE(e.hostBase, off, width), NoException
	case kindMMIO:
		pageBase := e.pageOff &^ (pageSize - 1)
		off := pageBase + (vaddr & (pageSize - 1))
		return e.region.Handler.MMIORead(off, width), NoException
	default:
		return 0, ExcBusError
	}
}

// Write performs a size-qualified store to vaddr. When the target
// physical page is exec-tagged, the TCB manager's invalidation hook
// is invoked before the store is made visible, per spec.md §4.E.
func (m *MTS) Write(vaddr uint64, asid uint32, width AccessWidth, value uint64) Exception {
	if vaddr&uint64(width-1) != 0 {
		return ExcAddressError
	}
	e, exc := m.translate(vaddr, asid, PermWrite)
	if exc != NoException {
		return exc
	}
	switch e.kind {
	case kindRAM:
		if e.execPage {
			if m.onInvalidate != nil {
				m.onInvalidate(e.physPage)
			}
			m.tlb.invalidatePhysPage(e.physPage)
		}
		off := vaddr & (pageSize - 1)
		storeLE(e.hostBase, off, width, value)
		return NoException
	case kindMMIO:
		pageBase := e.pageOff &^ (pageSize - 1)
		off := pageBase + (vaddr & (pageSize - 1))
		e.region.Handler.MMIOWrite(off, width, value)
		return NoException
	default:
		return ExcBusError
	}
}

// FetchPage resolves the guest page containing vaddr for instruction
// fetch and returns a snapshot of its bytes plus the physical page
// number backing it, the input the TCB build path (spec.md §4.F step
// 2: "snapshot the page's MIN_PAGE bytes ... to compute a checksum")
// needs. Only RAM-backed pages may hold code; an MMIO page faults with
// ExcBusError, matching real hardware's inability to execute out of
// a device's I/O window.
func (m *MTS) FetchPage(vaddr uint64, asid uint32) ([]byte, uint64, Exception) {
	pageBase := vaddr &^ (pageSize - 1)
	e, exc := m.translate(pageBase, asid, PermExec)
	if exc != NoException {
		return nil, 0, exc
	}
	if e.kind != kindRAM {
		return nil, 0, ExcBusError
	}
	snap := make([]byte, pageSize)
	copy(snap, e.hostBase[:pageSize])
	return snap, e.physPage, NoException
}

// InvalidatePhysPage is exposed so the VM's physical-memory loader
// (e.g. patching ROM/NVRAM contents outside of the normal CPU memop
// path) can still keep the soft-TLB coherent.
func (m *MTS) InvalidatePhysPage(pp uint64) { m.tlb.invalidatePhysPage(pp) }

func loadLE(b []byte, off uint64, width AccessWidth) uint64 {
	var v uint64
	for i := AccessWidth(0); i < width; i++ {
		v |= uint64(b[off+uint64(i)]) << (8 * i)
	}
	return v
}

func storeLE(b []byte, off uint64, width AccessWidth, value uint64) {
	for i := AccessWidth(0); i < width; i++ {
		b[off+uint64(i)] = byte(value >> (8 * i))
	}
}
