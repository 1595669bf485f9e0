package ppc32

import (
	"github.com/dynamips/dynamips-go/pkg/mts"
	"github.com/dynamips/dynamips-go/pkg/tcb"
)

// decoderAdapter implements tcb.Decoder for PPC32. Unlike MIPS64,
// PowerPC has no delay slots, so each Op closure only has to choose
// between "PC already redirected" (Jump, or an exception's
// PCAlreadySet) and "fall through to PC+4".
type decoderAdapter struct{}

// NewDecoder returns the tcb.Decoder this architecture uses to build
// translation blocks.
func NewDecoder() tcb.Decoder { return decoderAdapter{} }

func (decoderAdapter) Decode(page []byte, execState tcb.ExecState, em tcb.Emitter) {
	for off := 0; off+4 <= len(page); off += 4 {
		raw := uint32(page[off])<<24 | uint32(page[off+1])<<16 | uint32(page[off+2])<<8 | uint32(page[off+3])
		in := Decode(raw)
		em.EmitInsn(off, func(cpuIface interface{}) bool {
			cpu := cpuIface.(*CPU)
			res := Execute(cpu, in)
			switch {
			case res.PCAlreadySet:
			case res.Jump:
				cpu.PC = res.BranchTarget
			default:
				cpu.PC += 4
			}
			return res.EndOfBlock
		})
	}
}

// RunCPU enters the dispatcher loop and returns once the CPU
// transitions out of StateRunning, mirroring pkg/cpu/mips64.RunCPU.
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

// RunOneBlock executes one dispatcher iteration: deliver a pending IRQ
// if enabled, otherwise look up or build the TB covering PC and run it
// to its next end-of-block point.
func (c *CPU) RunOneBlock(mgr *tcb.Manager) {
	if c.DeliverPendingIRQ() {
		return
	}

	vpage := uint64(c.PC) >> 12
	tb := mgr.Lookup(vpage)
	if tb == nil {
		page, ppage, exc := c.mts.FetchPage(uint64(c.PC), c.pid)
		if exc != mts.NoException {
			deliverMemException(c, exc)
			return
		}
		tb = mgr.Build(vpage, ppage, page, ExecStateOf(c))
	}

	c.runTB(tb)
}

func (c *CPU) runTB(tb *tcb.TB) {
	tc := tb.TC
	startOff := int(c.PC & 0xFFF)
	idx := tc.InstPtrForOffset(startOff)
	if idx < 0 {
		c.TriggerException(ExcProgram)
		return
	}
	tc.RunFrom(idx, c, func() {})
}

// ExecStateOf keys the translation cache on MSR[PR] (problem vs.
// supervisor state), the one mode bit that changes this build's
// decode/execute semantics.
func ExecStateOf(c *CPU) tcb.ExecState {
	if c.msr.Problem() {
		return 1
	}
	return 0
}
