// Package ppc32 implements the PowerPC 32-bit guest CPU core of
// spec.md §4.G: 32 GPRs, LR/CTR/XER, the condition register fields,
// MSR, segment registers, and the SPRG/decrementer/time-base SPRs,
// driven through the same table-driven-decode-plus-switch-execute
// idiom pkg/cpu/mips64 uses.
package ppc32

import (
	"sync"

	"github.com/dynamips/dynamips-go/pkg/mts"
)

// RunState mirrors pkg/cpu/mips64's CPU lifecycle states.
type RunState int

const (
	StateHalted RunState = iota
	StateRunning
	StateSuspended
)

const NumIRQLines = 8

// XER bit positions (bit 0 is SO in IBM/PowerPC bit numbering; this
// build keeps them as plain mask constants against a uint32 XER).
const (
	xerSO uint32 = 1 << 31
	xerOV uint32 = 1 << 30
	xerCA uint32 = 1 << 29
)

// CR field indices, CR0 being the one most integer ops with Rc=1
// implicitly update.
const (
	crLT = 8 // mask of the LT bit within a 4-bit CR field (LT, GT, EQ, SO from the top)
)

// CPU is one PowerPC 32-bit guest processor. As with pkg/cpu/mips64,
// exactly one goroutine drives RunCPU; SetIRQ/ClearIRQ may be called from
// device goroutines and only touch the pending bitmap under irqMu.
type CPU struct {
	GPR [32]uint32
	LR  uint32
	CTR uint32
	XER uint32
	CR  uint32 // eight 4-bit fields, CR0 in bits 31..28

	PC uint32

	msr *MSR

	irqMu      sync.Mutex
	irqPending uint64
	irqCond    *sync.Cond

	state   RunState
	stateMu sync.Mutex

	mts *mts.MTS
	pid uint32 // address-space tag, mirrors the ASID role pkg/cpu/mips64 uses

	idlePC    uint32
	hasIdlePC bool
}

// New creates a CPU wired to the given MTS (already constructed with
// this CPU's Walker).
func New(m *mts.MTS) *CPU {
	c := &CPU{mts: m, msr: NewMSR()}
	c.irqCond = sync.NewCond(&c.irqMu)
	return c
}

// Reset clears registers and sets PC to the architectural reset
// vector used by Dynamips-modeled PowerPC boards (0xFFF00100, the
// ROM reset entry point), flushing the MTS soft-TLB so no stale
// translation survives a reset.
func (c *CPU) Reset() {
	c.GPR = [32]uint32{}
	c.LR, c.CTR, c.XER, c.CR = 0, 0, 0, 0
	c.PC = 0xFFF00100
	c.msr.Reset()
	c.mts.FlushTLB()
	c.setState(StateHalted)
}

func (c *CPU) GetReg(i uint8) uint32 { return c.GPR[i] }
func (c *CPU) SetReg(i uint8, v uint32) { c.GPR[i] = v }

func (c *CPU) setState(s RunState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	// Broadcast unconditionally: WaitForWork's condition also depends
	// on leaving StateSuspended, including via a transition back to
	// Running (Resume), not only to Halted.
	c.irqCond.Broadcast()
}

func (c *CPU) State() RunState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Suspend transitions the CPU out of Running; RunCPU's dispatcher
// loop exits after finishing its current block. Callers outside this
// package (pkg/vm's lifecycle) use this rather than the unexported
// setState.
func (c *CPU) Suspend() { c.setState(StateSuspended) }

// Resume transitions a Suspended CPU back to Running and wakes
// WaitForWork if the CPU is currently idling there.
func (c *CPU) Resume() { c.setState(StateRunning) }

// Stop transitions the CPU to Halted; RunCPU's dispatcher loop exits
// after finishing its current block.
func (c *CPU) Stop() { c.setState(StateHalted) }

// SetIdlePC configures the CLI's --idle-pc address, mirroring
// pkg/cpu/mips64.CPU.SetIdlePC.
func (c *CPU) SetIdlePC(addr uint32) {
	c.idlePC = addr
	c.hasIdlePC = true
}

// MSR exposes this CPU's machine state register, needed to build the
// mts.Walker wired back into this CPU's own MTS via mts.MTS.SetWalker,
// mirroring pkg/cpu/mips64.CPU.CP0.
func (c *CPU) MSR() *MSR { return c.msr }

// Tick advances the time base/decrementer by one count, delivering the
// decrementer exception line on underflow. cmd/dynamips registers it
// with its periodic-task wheel so guest time advances even while the
// dispatcher is otherwise idling in WaitForWork.
func (c *CPU) Tick() {
	if c.msr.Tick() {
		c.SetIRQ(0)
	}
}

func (c *CPU) SetIRQ(line uint) {
	c.irqMu.Lock()
	c.irqPending |= 1 << line
	c.irqCond.Broadcast()
	c.irqMu.Unlock()
}

func (c *CPU) ClearIRQ(line uint) {
	c.irqMu.Lock()
	c.irqPending &^= 1 << line
	c.irqMu.Unlock()
}

func (c *CPU) pendingIRQMask() uint64 {
	c.irqMu.Lock()
	defer c.irqMu.Unlock()
	return c.irqPending
}

// irqEnabled reports whether MSR[EE] currently allows external
// interrupts.
func (c *CPU) irqEnabled() bool { return c.msr.EE() }

// TriggerException redirects PC to the exception vector for kind,
// saving the resume address in SRR0 and the pre-exception MSR in SRR1
// per the PowerPC exception-entry contract.
func (c *CPU) TriggerException(kind ExcKind) {
	vec := c.msr.RaiseException(kind, c.PC)
	c.PC = vec
}

// DeliverPendingIRQ mirrors pkg/cpu/mips64's DeliverPendingIRQ: if an
// IRQ line is both pending and currently enabled, deliver it as an
// external-interrupt exception and report true so the dispatcher loop
// re-fetches from the vector instead of the interrupted PC.
func (c *CPU) DeliverPendingIRQ() bool {
	if !c.irqEnabled() {
		return false
	}
	if c.pendingIRQMask() == 0 {
		return false
	}
	c.TriggerException(ExcExternal)
	return true
}

// WaitForWork blocks until an IRQ is asserted or the CPU leaves
// StateSuspended, the same idle-wait optimization pkg/cpu/mips64 uses.
func (c *CPU) WaitForWork() {
	c.irqMu.Lock()
	for c.irqPending == 0 && c.State() == StateSuspended {
		c.irqCond.Wait()
	}
	c.irqMu.Unlock()
}
