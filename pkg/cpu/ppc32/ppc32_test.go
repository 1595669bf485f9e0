package ppc32

import (
	"testing"

	"github.com/dynamips/dynamips-go/pkg/mts"
	"github.com/dynamips/dynamips-go/pkg/tcb"
)

func encodeD(opcd, rt, ra uint8, imm uint16) uint32 {
	return uint32(opcd)<<26 | uint32(rt)<<21 | uint32(ra)<<16 | uint32(imm)
}

func encodeX(opcd, rt, ra, rb uint8, xo uint16, rc bool) uint32 {
	w := uint32(opcd)<<26 | uint32(rt)<<21 | uint32(ra)<<16 | uint32(rb)<<11 | uint32(xo)<<1
	if rc {
		w |= 1
	}
	return w
}

func newTestCPU(t *testing.T, ramSize int) (*CPU, []byte) {
	t.Helper()
	ram := make([]byte, ramSize)
	phys := mts.NewPhysMap()
	phys.Add(&mts.PhysRegion{Base: 0, Length: uint64(ramSize), Perm: mts.PermRead | mts.PermWrite | mts.PermExec, Exec: true, HostBase: ram})
	walker := &identityNoFaultWalker{}
	m := mts.New(walker, phys, 6, nil)
	cpu := New(m)
	cpu.Reset()
	cpu.PC = 0
	return cpu, ram
}

type identityNoFaultWalker struct{}

func (identityNoFaultWalker) Walk(vpage uint64, asid uint32, access mts.Perm) (uint64, mts.Perm, mts.Exception) {
	return vpage, mts.PermRead | mts.PermWrite | mts.PermExec, mts.NoException
}

func putWordBE(ram []byte, off int, w uint32) {
	ram[off] = byte(w >> 24)
	ram[off+1] = byte(w >> 16)
	ram[off+2] = byte(w >> 8)
	ram[off+3] = byte(w)
}

func TestExecuteADDI(t *testing.T) {
	cpu, _ := newTestCPU(t, 4096)
	in := Decode(encodeD(opADDI, 3, 0, 42))
	Execute(cpu, in)
	if got := cpu.GetReg(3); got != 42 {
		t.Errorf("r3 = %d, want 42", got)
	}
}

func TestExecuteAddXOFormAndRcUpdatesCR0(t *testing.T) {
	cpu, _ := newTestCPU(t, 4096)
	cpu.SetReg(4, 1)
	cpu.SetReg(5, 2)
	in := Decode(encodeX(op31, 6, 4, 5, xoADD, true))
	Execute(cpu, in)
	if got := cpu.GetReg(6); got != 3 {
		t.Errorf("r6 = %d, want 3", got)
	}
	if cpu.CR>>28 != 0x4 { // GT field in CR0
		t.Errorf("CR0 = %#x, want GT set", cpu.CR>>28)
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	cpu, _ := newTestCPU(t, 4096)
	cpu.SetReg(3, 0x100)
	cpu.SetReg(4, 0xCAFEBABE)
	stw := Decode(encodeD(opSTW, 4, 3, 0))
	if res := Execute(cpu, stw); res.EndOfBlock {
		t.Fatal("store should not end the block")
	}
	lwz := Decode(encodeD(opLWZ, 5, 3, 0))
	Execute(cpu, lwz)
	if got := cpu.GetReg(5); got != 0xCAFEBABE {
		t.Errorf("loaded %#x, want %#x", got, uint32(0xCAFEBABE))
	}
}

func TestUnconditionalBranchHasNoDelaySlot(t *testing.T) {
	cpu, ram := newTestCPU(t, 4096)

	// b +8 (skip the next instruction entirely: PowerPC branches have
	// no delay slot, unlike MIPS's bc/jr family)
	putWordBE(ram, 0, uint32(opB)<<26|8)
	// would set r3=99 if the branch ever let it execute
	putWordBE(ram, 4, encodeD(opADDI, 3, 0, 99))

	mgr := tcb.NewManager(NewDecoder(), tcb.NewSharedGroup(), true)
	cpu.RunOneBlock(mgr)

	if got := cpu.GetReg(3); got != 0 {
		t.Errorf("r3 = %d, want 0 (the instruction after an unconditional branch must not execute)", got)
	}
	if cpu.PC != 8 {
		t.Errorf("PC = %#x, want 8", cpu.PC)
	}
}

func TestDivideByZeroLeavesRegisterZero(t *testing.T) {
	cpu, _ := newTestCPU(t, 4096)
	cpu.SetReg(4, 10)
	cpu.SetReg(5, 0)
	in := Decode(encodeX(op31, 6, 4, 5, xoDIVW, false))
	Execute(cpu, in)
	if got := cpu.GetReg(6); got != 0 {
		t.Errorf("r6 = %d, want 0 on divide by zero", got)
	}
}

func TestNOJITMatchesDirectInterpretation(t *testing.T) {
	prog := []uint32{
		encodeD(opADDI, 3, 0, 10),
		encodeD(opADDI, 4, 3, 5),
		encodeX(op31, 5, 3, 4, xoADD, false),
	}

	direct, _ := newTestCPU(t, 4096)
	for _, w := range prog {
		Execute(direct, Decode(w))
	}

	viaTCB, ram := newTestCPU(t, 4096)
	for i, w := range prog {
		putWordBE(ram, i*4, w)
	}
	mgr := tcb.NewManager(NewDecoder(), tcb.NewSharedGroup(), true)
	viaTCB.RunOneBlock(mgr)

	for r := 0; r < 32; r++ {
		if direct.GetReg(uint8(r)) != viaTCB.GetReg(uint8(r)) {
			t.Errorf("r%d: direct=%#x tcb=%#x", r, direct.GetReg(uint8(r)), viaTCB.GetReg(uint8(r)))
		}
	}
}
