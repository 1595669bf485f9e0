package tcb

import "sync"

// tsgKey identifies a translation independent of which CPU built it:
// (checksum, exec_state, page_size), per spec.md §4.F.
type tsgKey struct {
	checksum  uint32
	execState ExecState
	size      int
}

// SharedGroup is the process-wide translation sharing group: CPUs bind
// to it at creation and unbind at destruction, per spec.md §4.F. Every
// TC registered here is immutable once shared ("Hard rule: a TC in the
// shared pool is immutable").
type SharedGroup struct {
	mu   sync.Mutex
	pool map[tsgKey]*TC
	pools chunkPool
}

// NewSharedGroup creates an empty, unbound translation sharing group.
func NewSharedGroup() *SharedGroup {
	return &SharedGroup{pool: make(map[tsgKey]*TC)}
}

// lookup finds a TC matching (checksum, execState, size) and retains it
// for the caller.
func (g *SharedGroup) lookup(checksum uint32, execState ExecState, size int) *TC {
	g.mu.Lock()
	defer g.mu.Unlock()
	tc, ok := g.pool[tsgKey{checksum, execState, size}]
	if !ok {
		return nil
	}
	return tc.retain()
}

// publish registers tc (already built, refcount==1 from its builder) in
// the shared pool and marks it shared, hence immutable. It leaves the
// refcount alone; each later lookup hit retains tc for its new sharer.
func (g *SharedGroup) publish(tc *TC) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tc.mu.Lock()
	tc.shared = true
	tc.mu.Unlock()
	g.pool[tsgKey{tc.Checksum, tc.ExecState, tc.Size}] = tc
}

// unbindOne drops the group's share of tc; if its refcount reaches 0
// the TC is removed from the pool and returned so the caller can free
// its chunk allocation. Per spec.md §4.F: "on unbind, every TC whose
// references drop to the CPU itself is converted back to private or
// freed."
func (g *SharedGroup) unbindOne(tc *TC) (removed bool) {
	if n := tc.release(); n > 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pool, tsgKey{tc.Checksum, tc.ExecState, tc.Size})
	return true
}
