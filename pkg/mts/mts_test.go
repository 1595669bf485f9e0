package mts

import "testing"

// identityWalker maps every virtual page straight onto the same
// physical page number, with a fixed permission set, for use in tests.
type identityWalker struct {
	perm Perm
	fail Exception
}

func (w *identityWalker) Walk(vpage uint64, asid uint32, access Perm) (uint64, Perm, Exception) {
	if w.fail != NoException {
		return 0, 0, w.fail
	}
	return vpage, w.perm, NoException
}

type recordingHandler struct {
	reads  []uint64
	writes []uint64
	value  uint64
}

func (h *recordingHandler) MMIORead(offset uint64, width AccessWidth) uint64 {
	h.reads = append(h.reads, offset)
	return h.value
}

func (h *recordingHandler) MMIOWrite(offset uint64, width AccessWidth, value uint64) {
	h.writes = append(h.writes, offset)
	h.value = value
}

func TestMTSRamReadWriteRoundTrip(t *testing.T) {
	ram := make([]byte, pageSize*4)
	phys := NewPhysMap()
	phys.Add(&PhysRegion{Base: 0, Length: uint64(len(ram)), Perm: PermRead | PermWrite, HostBase: ram})

	m := New(&identityWalker{perm: PermRead | PermWrite}, phys, 6, nil)

	if exc := m.Write(0x1000, 0, Width32, 0xDEADBEEF); exc != NoException {
		t.Fatalf("write: %v", exc)
	}
	v, exc := m.Read(0x1000, 0, Width32)
	if exc != NoException {
		t.Fatalf("read: %v", exc)
	}
	if v != 0xDEADBEEF {
		t.Errorf("got %#x, want %#x", v, uint64(0xDEADBEEF))
	}
}

func TestMTSUnalignedAccessFaults(t *testing.T) {
	ram := make([]byte, pageSize)
	phys := NewPhysMap()
	phys.Add(&PhysRegion{Base: 0, Length: uint64(len(ram)), Perm: PermRead | PermWrite, HostBase: ram})
	m := New(&identityWalker{perm: PermRead | PermWrite}, phys, 4, nil)

	if _, exc := m.Read(0x1001, 0, Width32); exc != ExcAddressError {
		t.Errorf("exc = %v, want ExcAddressError", exc)
	}
}

func TestMTSProtectionViolation(t *testing.T) {
	ram := make([]byte, pageSize)
	phys := NewPhysMap()
	phys.Add(&PhysRegion{Base: 0, Length: uint64(len(ram)), Perm: PermRead, HostBase: ram})
	m := New(&identityWalker{perm: PermRead}, phys, 4, nil)

	if exc := m.Write(0, 0, Width8, 1); exc != ExcProtectionViolation {
		t.Errorf("exc = %v, want ExcProtectionViolation", exc)
	}
}

func TestMTSUnmappedIsBusError(t *testing.T) {
	phys := NewPhysMap()
	m := New(&identityWalker{perm: PermRead | PermWrite}, phys, 4, nil)

	if _, exc := m.Read(0x4000, 0, Width8); exc != ExcBusError {
		t.Errorf("exc = %v, want ExcBusError", exc)
	}
}

func TestMTSTlbMissPropagatesWalkerException(t *testing.T) {
	phys := NewPhysMap()
	m := New(&identityWalker{fail: ExcTlbMiss}, phys, 4, nil)

	if _, exc := m.Read(0, 0, Width8); exc != ExcTlbMiss {
		t.Errorf("exc = %v, want ExcTlbMiss", exc)
	}
}

func TestMTSMMIODispatch(t *testing.T) {
	h := &recordingHandler{value: 42}
	phys := NewPhysMap()
	phys.Add(&PhysRegion{Base: 0x1000, Length: pageSize, Perm: PermRead | PermWrite, Handler: h})
	m := New(&identityWalker{perm: PermRead | PermWrite}, phys, 4, nil)

	v, exc := m.Read(0x1000, 0, Width32)
	if exc != NoException || v != 42 {
		t.Fatalf("read = %v, %v", v, exc)
	}
	if exc := m.Write(0x1004, 0, Width32, 7); exc != NoException {
		t.Fatalf("write: %v", exc)
	}
	if len(h.reads) != 1 || h.reads[0] != 0 {
		t.Errorf("reads = %v", h.reads)
	}
	if len(h.writes) != 1 || h.writes[0] != 4 {
		t.Errorf("writes = %v", h.writes)
	}
}

func TestMTSExecWriteInvalidatesAndFiresHook(t *testing.T) {
	ram := make([]byte, pageSize*3)
	phys := NewPhysMap()
	phys.Add(&PhysRegion{Base: 0, Length: uint64(len(ram)), Perm: PermRead | PermWrite, Exec: true, HostBase: ram})

	var invalidated []uint64
	m := New(&identityWalker{perm: PermRead | PermWrite}, phys, 4, func(pp uint64) {
		invalidated = append(invalidated, pp)
	})

	// First access installs a soft-TLB entry tagged exec.
	if exc := m.Write(0x2000, 0, Width8, 1); exc != NoException {
		t.Fatalf("write: %v", exc)
	}
	if len(invalidated) != 1 || invalidated[0] != physPage(0x2000) {
		t.Errorf("invalidated = %v", invalidated)
	}

	// The soft-TLB entry for that page must itself be gone.
	if e, ok := m.tlb.lookup(0x2000>>pageShift, 0); ok {
		t.Errorf("entry survived invalidation: %+v", e)
	}
}

func TestMTSFlushTLBDropsEntries(t *testing.T) {
	ram := make([]byte, pageSize)
	phys := NewPhysMap()
	phys.Add(&PhysRegion{Base: 0, Length: uint64(len(ram)), Perm: PermRead | PermWrite, HostBase: ram})
	m := New(&identityWalker{perm: PermRead | PermWrite}, phys, 4, nil)

	m.Read(0, 0, Width8)
	if _, ok := m.tlb.lookup(0, 0); !ok {
		t.Fatal("expected entry installed after first read")
	}
	m.FlushTLB()
	if _, ok := m.tlb.lookup(0, 0); ok {
		t.Error("entry survived FlushTLB")
	}
}
