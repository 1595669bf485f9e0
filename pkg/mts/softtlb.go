package mts

// entryKind tags the payload of a soft-TLB entry, per spec.md §9's
// "raw pointers across MTS fast-path" design note: represent the
// payload as a tagged variant so the JIT can still inline the hot
// path as a direct host load after a single tag check.
type entryKind uint8

const (
	kindUnmapped entryKind = iota
	kindRAM
	kindMMIO
)

// tlbEntry is one soft-TLB slot. Ram and Mmio fields are valid only
// when Kind says so; Unmapped entries exist only transiently (a probe
// that found no match reports that, it never installs an Unmapped
// entry).
type tlbEntry struct {
	valid bool
	vpage uint64 // guest virtual page number
	asid  uint32
	perm  Perm
	kind  entryKind

	// kindRAM
	hostBase []byte // host slice covering this page, offset 0 == page start
	physPage uint64 // physical page number backing this entry, for SMC invalidation
	execPage bool   // region.Exec at install time
	// kindMMIO
	region  *PhysRegion
	pageOff uint64 // physical offset of this page within region
}

// softTLB is a fixed-size open-addressed hash table of tlbEntry,
// probed by (vpage, asid), matching spec.md §4.D's "fixed-size
// open-addressed hash of entries keyed by (guest_virtual_page, asid)".
type softTLB struct {
	entries []tlbEntry
	mask    uint64
}

func newSoftTLB(sizeLog2 uint) *softTLB {
	n := uint64(1) << sizeLog2
	return &softTLB{entries: make([]tlbEntry, n), mask: n - 1}
}

func (t *softTLB) hash(vpage uint64, asid uint32) uint64 {
	h := vpage*0x9E3779B97F4A7C15 + uint64(asid)*0xC2B2AE3D27D4EB4F
	return h & t.mask
}

// lookup probes for (vpage, asid), returning the entry and true on hit.
func (t *softTLB) lookup(vpage uint64, asid uint32) (*tlbEntry, bool) {
	const maxProbe = 8
	idx := t.hash(vpage, asid)
	for i := uint64(0); i < maxProbe; i++ {
		e := &t.entries[(idx+i)&t.mask]
		if e.valid && e.vpage == vpage && e.asid == asid {
			return e, true
		}
		if !e.valid {
			return nil, false
		}
	}
	return nil, false
}

// install inserts or replaces the slot for (vpage, asid), evicting
// whatever currently probes into the same bucket chain if it is full.
func (t *softTLB) install(e tlbEntry) {
	const maxProbe = 8
	idx := t.hash(e.vpage, e.asid)
	for i := uint64(0); i < maxProbe; i++ {
		slot := &t.entries[(idx+i)&t.mask]
		if !slot.valid || (slot.vpage == e.vpage && slot.asid == e.asid) {
			*slot = e
			return
		}
	}
	// Every probe slot occupied: evict the first one (simple FIFO-ish
	// eviction under pressure; a soft-TLB miss just re-walks the page
	// table, so an eviction is never incorrect, only a cache miss).
	t.entries[idx] = e
}

// flush invalidates every entry; called on MMU control register
// writes per spec.md §4.E's TLB-coherence invariant.
func (t *softTLB) flush() {
	for i := range t.entries {
		t.entries[i] = tlbEntry{}
	}
}

// flushASID invalidates only entries tagged with asid, used when an
// architecture changes ASID without requiring a full flush.
func (t *softTLB) flushASID(asid uint32) {
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].asid == asid {
			t.entries[i] = tlbEntry{}
		}
	}
}

// invalidatePhysPage drops any entry backed by physical page pp, used
// by the SMC-invalidation path when a write lands on an exec-tagged
// page (spec.md §4.F: TBs built from pp are invalidated and the
// soft-TLB entries that could re-enter them must go too).
func (t *softTLB) invalidatePhysPage(pp uint64) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.valid && e.kind == kindRAM && e.physPage == pp {
			*e = tlbEntry{}
		}
	}
}
