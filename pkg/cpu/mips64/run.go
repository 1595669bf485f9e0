package mips64

import (
	"github.com/dynamips/dynamips-go/pkg/mts"
	"github.com/dynamips/dynamips-go/pkg/tcb"
)

// decoderAdapter implements tcb.Decoder for MIPS64: it decodes the raw
// guest bytes of a page and emits one interpreter call per instruction,
// exactly the "decode via an instruction lookup table ... run the
// emitter" step of spec.md §4.F.
type decoderAdapter struct{}

// NewDecoder returns the tcb.Decoder this architecture uses to build
// translation blocks.
func NewDecoder() tcb.Decoder { return decoderAdapter{} }

func (decoderAdapter) Decode(page []byte, execState tcb.ExecState, em tcb.Emitter) {
	for off := 0; off+4 <= len(page); off += 4 {
		raw := uint32(page[off]) | uint32(page[off+1])<<8 | uint32(page[off+2])<<16 | uint32(page[off+3])<<24
		in := Decode(raw)
		em.EmitInsn(off, func(cpuIface interface{}) bool {
			cpu := cpuIface.(*CPU)

			// A branch's delay slot is the instruction in program order
			// immediately following it, which is exactly the next Op
			// this closure runs for: capture whether *this* instruction
			// is executing as someone else's delay slot before Execute
			// can overwrite cpu.inDelay with its own branch outcome.
			wasDelaySlot := cpu.inDelay
			delayTarget := cpu.delayNextPC

			res := Execute(cpu, in)

			switch {
			case res.PCAlreadySet:
				// TriggerException already redirected PC to a vector,
				// using cpu.inDelay (still true if wasDelaySlot) to set
				// the BD bit and EPC correctly; leave inDelay as-is.
			case wasDelaySlot:
				cpu.inDelay = false
				cpu.PC = delayTarget
			case res.Jump:
				cpu.PC = res.BranchTarget
			case res.Branch:
				cpu.inDelay = true
				cpu.delayNextPC = res.BranchTarget
				cpu.PC += 4
			default:
				cpu.PC += 4
			}

			return wasDelaySlot || (res.EndOfBlock && !res.Branch)
		})
	}
}

// RunCPU enters the dispatcher loop and returns once the CPU
// transitions out of StateRunning, per spec.md §4.G's run_cpu
// contract. mgr is this CPU's translation-block manager (pkg/tcb).
func (c *CPU) RunCPU(mgr *tcb.Manager) {
	c.setState(StateRunning)
	for c.State() == StateRunning {
		if c.hasIdlePC && c.PC == c.idlePC {
			c.Stop()
			return
		}
		c.RunOneBlock(mgr)
	}
}

// RunOneBlock executes exactly one dispatcher iteration of spec.md
// §4.F's pseudocode: deliver a pending IRQ if one is enabled,
// otherwise look up (or build) the TB covering the current PC and run
// it to its next end-of-block point. Exposed separately from RunCPU so
// tests (and a single-step debugger) can drive the dispatcher without
// an enclosing run loop.
func (c *CPU) RunOneBlock(mgr *tcb.Manager) {
	if c.DeliverPendingIRQ() {
		return
	}

	vpage := c.PC >> 12
	tb := mgr.Lookup(vpage)
	if tb == nil {
		page, ppage, exc := c.mts.FetchPage(c.PC, c.asid)
		if exc != mts.NoException {
			deliverMemException(c, exc, c.PC)
			return
		}
		tb = mgr.Build(vpage, ppage, page, ExecStateOf(c))
	}

	c.runTB(tb)
}

// runTB executes a translation block's NOJIT op stream starting at the
// instruction offset matching the current PC within the page.
func (c *CPU) runTB(tb *tcb.TB) {
	tc := tb.TC
	startOff := int(c.PC & 0xFFF)
	idx := tc.InstPtrForOffset(startOff)
	if idx < 0 {
		// PC does not land on an instruction boundary already
		// translated in this TB (e.g. a mid-page jump target never
		// decoded because the page tail was short); fall back to
		// faulting it as a reserved instruction rather than executing
		// garbage.
		c.TriggerException(ExcRI, 0)
		return
	}

	// PC/delay-slot bookkeeping happens inside each Op's closure (see
	// decoderAdapter.Decode), so RunFrom needs no per-instruction hook here.
	tc.RunFrom(idx, c, func() {})
}

// ExecStateOf captures whatever architectural bits make a translation
// mode-specific; this build keys solely on KSU (user vs. kernel),
// since that is the only mode bit the modeled instruction set's
// semantics depend on.
func ExecStateOf(c *CPU) tcb.ExecState {
	return tcb.ExecState((c.cp0.status >> 3) & 0x3)
}
