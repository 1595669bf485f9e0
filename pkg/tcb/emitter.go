package tcb

// Emitter is the back-end seam: every architecture decoder produces a
// stream of per-instruction callbacks into an Emitter, which turns them
// into either native machine code or, for the NOJIT back-end, a
// directly-interpreted Op stream. Exactly one back-end is selected per
// TC at build time (spec.md §4.F: "Out-of-memory during emission
// downgrades the current TB to the NOJIT back-end rather than aborting
// the guest").
type Emitter interface {
	// EmitInsn appends the interpreter/codegen for one guest
	// instruction at guest byte offset instOff within the page, where
	// exec runs that instruction against the CPU and reports whether
	// it ended the translation block (a branch, syscall, or page
	// boundary).
	EmitInsn(instOff int, exec InsnExec)
	// EmitBranchTarget marks instOff as a branch target, the point at
	// which spec.md §4.F requires flushing IR to native bytes and
	// recording a patch point.
	EmitBranchTarget(instOff int)
	// Seal finishes emission and returns the built TC body: code bytes
	// or ops, and instPtr per instruction offset (indexed by
	// instOff/insnSize). chunk is nil for back-ends that do not need
	// a JIT memory allocation (NOJIT).
	Seal() (code []byte, ops []Op, instPtr []int, chunk *chunk, err error)
}

// InsnExec executes one decoded guest instruction against cpu and
// reports whether it ended the translation block.
type InsnExec func(cpu interface{}) (eob bool)

// nojitEmitter implements Emitter by recording one Op per instruction
// that calls straight back into the interpreter; it always exists per
// spec.md §4.F ("A NOJIT back-end always exists").
type nojitEmitter struct {
	ops     []Op
	instPtr []int
	offsets []int
}

// NewNOJITEmitter returns the always-available interpreter back-end.
func NewNOJITEmitter() Emitter { return &nojitEmitter{} }

func (e *nojitEmitter) EmitInsn(instOff int, exec InsnExec) {
	idx := len(e.ops)
	e.ops = append(e.ops, Op{Exec: func(cpu interface{}) (int, bool) {
		eob := exec(cpu)
		return idx + 1, eob
	}})
	e.offsets = append(e.offsets, instOff)
	e.instPtr = append(e.instPtr, idx)
}

func (e *nojitEmitter) EmitBranchTarget(instOff int) {
	// The interpreter back-end has no native flush/patch step; branch
	// targets are already addressable by instPtr lookup.
}

func (e *nojitEmitter) Seal() ([]byte, []Op, []int, *chunk, error) {
	return nil, e.ops, e.instPtr, nil, nil
}

// RunNOJIT executes a sealed NOJIT op stream starting at op index
// start, returning once an instruction reports eob (end of block).
func RunNOJIT(ops []Op, start int, cpu interface{}) {
	i := start
	for i >= 0 && i < len(ops) {
		next, eob := ops[i].Exec(cpu)
		if eob {
			return
		}
		i = next
	}
}
