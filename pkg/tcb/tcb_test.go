package tcb

import "testing"

// countingDecoder emits one interpreted instruction per 4-byte word
// that just increments a counter on the cpu argument (a *int).
type countingDecoder struct{ calls int }

func (d *countingDecoder) Decode(page []byte, execState ExecState, em Emitter) {
	d.calls++
	for off := 0; off+4 <= len(page); off += 4 {
		lastWord := off+4 >= len(page)
		em.EmitInsn(off, func(cpu interface{}) bool {
			c := cpu.(*int)
			*c++
			return lastWord
		})
	}
}

func page(n int) []byte {
	return make([]byte, n)
}

func TestBuildAndLookupCachesByVPage(t *testing.T) {
	d := &countingDecoder{}
	m := NewManager(d, NewSharedGroup(), true)

	tb1 := m.Build(100, 0x1000>>12, page(16), 0)
	if got := m.Lookup(100); got != tb1 {
		t.Fatalf("lookup after build: got %v, want %v", got, tb1)
	}
}

func TestBuildReusesPrivateTCForIdenticalPage(t *testing.T) {
	d := &countingDecoder{}
	m := NewManager(d, NewSharedGroup(), true)

	tb1 := m.Build(100, 1, page(16), 0)
	tb2 := m.Build(200, 2, page(16), 0)

	if tb1.TC != tb2.TC {
		t.Error("identical pages under the same exec state should share one TC")
	}
	if d.calls != 1 {
		t.Errorf("decoder called %d times, want 1 (second build should reuse)", d.calls)
	}
}

func TestBuildDistinguishesExecState(t *testing.T) {
	d := &countingDecoder{}
	m := NewManager(d, NewSharedGroup(), true)

	tb1 := m.Build(100, 1, page(16), 0)
	tb2 := m.Build(100, 1, page(16), 1)

	if tb1.TC == tb2.TC {
		t.Error("different exec states must not share a TC")
	}
}

func TestInvalidatePhysPageMarksSMCAndRemovesFromVirtHash(t *testing.T) {
	d := &countingDecoder{}
	m := NewManager(d, NewSharedGroup(), true)

	m.Build(100, 7, page(16), 0)
	if m.Lookup(100) == nil {
		t.Fatal("expected a TB before invalidation")
	}

	m.InvalidatePhysPage(7)

	if got := m.Lookup(100); got != nil {
		t.Errorf("Lookup after invalidation = %v, want nil", got)
	}
}

func TestSharedGroupAcrossTwoManagers(t *testing.T) {
	d1 := &countingDecoder{}
	d2 := &countingDecoder{}
	group := NewSharedGroup()

	m1 := NewManager(d1, group, true)
	m2 := NewManager(d2, group, true)

	tb1 := m1.Build(10, 1, page(16), 0)
	group.publish(tb1.TC)

	tb2 := m2.Build(20, 1, page(16), 0)
	if tb2.TC != tb1.TC {
		t.Fatal("second CPU should reuse the shared TC for an identical page")
	}
	if d2.calls != 0 {
		t.Errorf("second manager's decoder ran %d times, want 0 (should hit the shared pool)", d2.calls)
	}
}

func TestNOJITRunExecutesAllOpsUntilEOB(t *testing.T) {
	em := NewNOJITEmitter()
	count := 0
	em.EmitInsn(0, func(cpu interface{}) bool { count++; return false })
	em.EmitInsn(4, func(cpu interface{}) bool { count++; return false })
	em.EmitInsn(8, func(cpu interface{}) bool { count++; return true })
	_, ops, instPtr, _, err := em.Seal()
	if err != nil {
		t.Fatal(err)
	}

	var cpu int
	RunNOJIT(ops, instPtr[0], &cpu)
	if count != 3 {
		t.Errorf("ran %d ops, want 3", count)
	}
}
