package tcb

import (
	"hash/fnv"
	"sync"
)

const (
	virtHashBits = 10
	physHashBits = 10
	minPageBytes = 4096
)

// Decoder turns one guest page's raw bytes into a sequence of
// EmitInsn/EmitBranchTarget calls against an Emitter, per spec.md
// §4.F step 4 ("iterate instructions, decode via an instruction
// lookup table ..., run the emitter"). Each CPU architecture package
// supplies its own Decoder.
type Decoder interface {
	Decode(page []byte, execState ExecState, em Emitter)
}

// Manager owns one CPU's translation caches: the virt_hash / phys_hash
// probes, the live-TB list, and a private chunk pool, plus a reference
// to the process-wide SharedGroup it is bound to.
type Manager struct {
	mu sync.Mutex

	decoder Decoder
	shared  *SharedGroup
	chunks  chunkPool

	virtHash map[uint64]*TB
	physHash map[uint64][]*TB

	liveHead *TB
	nojit    bool
}

// NewManager creates a Manager bound to group, decoding pages with
// decoder. When forceNOJIT is true every TC is built with the
// interpreter back-end regardless of native back-end availability
// (used for the JIT-vs-interpreter equivalence test in spec.md §8).
func NewManager(decoder Decoder, group *SharedGroup, forceNOJIT bool) *Manager {
	return &Manager{
		decoder:  decoder,
		shared:   group,
		virtHash: make(map[uint64]*TB),
		physHash: make(map[uint64][]*TB),
		nojit:    forceNOJIT,
	}
}

func vhKey(vpage uint64) uint64 { return vpage & ((1 << virtHashBits) - 1) }
func phKey(ppage uint64) uint64 { return ppage & ((1 << physHashBits) - 1) }

// Lookup returns the TB for guest virtual page vpage, or nil on a miss.
// The caller (the CPU's dispatch loop) calls Build on a miss.
func (m *Manager) Lookup(vpage uint64) *TB {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb := m.virtHash[vhKey(vpage)]
	if tb != nil && tb.VAddrPage == vpage && !tb.TC.isSMC() {
		return tb
	}
	return nil
}

func checksumPage(page []byte) uint32 {
	h := fnv.New32a()
	h.Write(page)
	return h.Sum32()
}

// Build constructs (or reuses, via the private cache or the TSG) a TB
// for guest virtual page vpage, backed by physical page ppage and the
// raw guest bytes page (at least minPageBytes, or shorter at the end
// of a region). execState is the architectural mode the translation
// is only valid under.
func (m *Manager) Build(vpage, ppage uint64, page []byte, execState ExecState) *TB {
	size := len(page)
	if size > minPageBytes {
		size = minPageBytes
		page = page[:size]
	}
	checksum := checksumPage(page)

	m.mu.Lock()
	defer m.mu.Unlock()

	if tc := m.findPrivate(checksum, execState, size); tc != nil {
		return m.attach(vpage, ppage, tc.retain())
	}
	if tc := m.shared.lookup(checksum, execState, size); tc != nil {
		return m.attach(vpage, ppage, tc)
	}

	tc := m.buildNew(page, checksum, execState, size)
	return m.attach(vpage, ppage, tc)
}

// findPrivate scans this CPU's own live TBs for a TC with a matching
// signature, the "per-CPU cache" half of spec.md §4.F step 3.
func (m *Manager) findPrivate(checksum uint32, execState ExecState, size int) *TC {
	for tb := m.liveHead; tb != nil; tb = tb.next {
		tc := tb.TC
		if tc.Checksum == checksum && tc.ExecState == execState && tc.Size == size {
			return tc
		}
	}
	return nil
}

func (m *Manager) buildNew(page []byte, checksum uint32, execState ExecState, size int) *TC {
	em := Emitter(NewNOJITEmitter())
	// A native back-end would be selected here when m.nojit is false
	// and one is registered for the target architecture; none is
	// wired in this build, so every TC uses the interpreter back-end,
	// which spec.md §4.F requires to always exist and behave
	// identically to any native back-end.
	_ = m.nojit

	m.decoder.Decode(page, execState, em)
	code, ops, instPtr, ck, err := em.Seal()
	if err != nil {
		// Out-of-memory or emission failure: fall back to a minimal
		// NOJIT build of the same page rather than aborting the guest
		// (spec.md §4.F failure semantics).
		em = NewNOJITEmitter()
		m.decoder.Decode(page, execState, em)
		code, ops, instPtr, ck, _ = em.Seal()
	}

	return &TC{
		Checksum: checksum, ExecState: execState, Size: size,
		code: code, ops: ops, instPtr: instPtr, refCount: 1, chunk: ck,
	}
}

// attach binds a new TB to tc for vpage/ppage and links it into both
// hashes and the live list.
func (m *Manager) attach(vpage, ppage uint64, tc *TC) *TB {
	tb := &TB{VAddrPage: vpage, TC: tc}
	m.virtHash[vhKey(vpage)] = tb
	m.physHash[phKey(ppage)] = append(m.physHash[phKey(ppage)], tb)

	tb.next = m.liveHead
	if m.liveHead != nil {
		m.liveHead.prev = tb
	}
	m.liveHead = tb
	return tb
}

// InvalidatePhysPage marks every TB built from physical page ppage as
// SMC and unlinks them from virt_hash, per spec.md §4.F: "All TBs in
// phys_hash[pp] are marked smc ... and are removed from virt_hash."
// Each TB drops its reference to its TC: a shared TC whose refcount
// reaches 0 is removed from the shared group's pool, a private TC only
// has its refcount decremented; no chunk memory is reclaimed here.
func (m *Manager) InvalidatePhysPage(ppage uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := phKey(ppage)
	tbs := m.physHash[key]
	if len(tbs) == 0 {
		return
	}
	delete(m.physHash, key)

	for _, tb := range tbs {
		tb.TC.markSMC()
		if cur, ok := m.virtHash[vhKey(tb.VAddrPage)]; ok && cur == tb {
			delete(m.virtHash, vhKey(tb.VAddrPage))
		}
		m.unlinkLive(tb)

		if tb.TC.shared {
			m.shared.unbindOne(tb.TC)
		} else {
			tb.TC.release()
		}
	}
}

func (m *Manager) unlinkLive(tb *TB) {
	if tb.prev != nil {
		tb.prev.next = tb.next
	} else if m.liveHead == tb {
		m.liveHead = tb.next
	}
	if tb.next != nil {
		tb.next.prev = tb.prev
	}
	tb.next, tb.prev = nil, nil
}

// Unbind releases every TB this Manager holds back to the shared
// group (or frees them privately), per spec.md §4.F's CPU
// destruction-time unbind semantics.
func (m *Manager) Unbind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tb := m.liveHead; tb != nil; {
		next := tb.next
		if tb.TC.shared {
			m.shared.unbindOne(tb.TC)
		} else {
			tb.TC.release()
		}
		tb = next
	}
	m.liveHead = nil
	m.virtHash = make(map[uint64]*TB)
	m.physHash = make(map[uint64][]*TB)
}
