package ppc32

import (
	"github.com/dynamips/dynamips-go/internal/dynutil"
	"github.com/dynamips/dynamips-go/pkg/mts"
)

// StepResult mirrors pkg/cpu/mips64's StepResult: PowerPC control flow
// has no delay slots, so every taken branch is an immediate Jump, but
// the PCAlreadySet distinction (an exception already redirected PC)
// still applies identically.
type StepResult struct {
	BranchTarget uint32
	Jump         bool
	PCAlreadySet bool
	EndOfBlock   bool
}

// Execute interprets one decoded instruction against cpu, the
// PowerPC counterpart of pkg/cpu/mips64's Execute: the reference
// semantics every opcode implements directly, and also what the
// NOJIT back-end's Op stream calls.
func Execute(cpu *CPU, in Insn) StepResult {
	switch in.Opcd {
	case opADDI:
		base := int32(0)
		if in.RA != 0 {
			base = int32(cpu.GetReg(in.RA))
		}
		cpu.SetReg(in.RT, uint32(base+in.SIMM))
	case opADDIS:
		base := int32(0)
		if in.RA != 0 {
			base = int32(cpu.GetReg(in.RA))
		}
		cpu.SetReg(in.RT, uint32(base+(in.SIMM<<16)))
	case opADDIC:
		a := cpu.GetReg(in.RA)
		sum := a + uint32(in.SIMM)
		cpu.setCA(sum < a)
		cpu.SetReg(in.RT, sum)
	case opADDICDot:
		a := cpu.GetReg(in.RA)
		sum := a + uint32(in.SIMM)
		cpu.setCA(sum < a)
		cpu.SetReg(in.RT, sum)
		cpu.updateCR0(int32(sum))
	case opSUBFIC:
		a := cpu.GetReg(in.RA)
		diff := uint32(in.SIMM) - a
		cpu.setCA(a == 0 || diff <= uint32(in.SIMM))
		cpu.SetReg(in.RT, diff)
	case opMULLI:
		cpu.SetReg(in.RT, uint32(int32(cpu.GetReg(in.RA))*in.SIMM))
	case opCMPI:
		cpu.setCRField(in.RT>>2, cmpSigned(int32(cpu.GetReg(in.RA)), in.SIMM, cpu.XER&xerSO != 0))
	case opCMPLI:
		cpu.setCRField(in.RT>>2, cmpUnsigned(cpu.GetReg(in.RA), in.UIMM, cpu.XER&xerSO != 0))
	case opANDIDot:
		r := cpu.GetReg(in.RA) & in.UIMM
		cpu.SetReg(in.RT, r)
		cpu.updateCR0(int32(r))
	case opANDISDot:
		r := cpu.GetReg(in.RA) & (in.UIMM << 16)
		cpu.SetReg(in.RT, r)
		cpu.updateCR0(int32(r))
	case opORI:
		cpu.SetReg(in.RT, cpu.GetReg(in.RA)|in.UIMM)
	case opORIS:
		cpu.SetReg(in.RT, cpu.GetReg(in.RA)|(in.UIMM<<16))
	case opXORI:
		cpu.SetReg(in.RT, cpu.GetReg(in.RA)^in.UIMM)
	case opXORIS:
		cpu.SetReg(in.RT, cpu.GetReg(in.RA)^(in.UIMM<<16))
	case opRLWINM:
		cpu.SetReg(in.RA, rotlMask(cpu.GetReg(in.RT), in.SH, in.MB, in.ME))
		if in.Rc {
			cpu.updateCR0(int32(cpu.GetReg(in.RA)))
		}
	case opRLWIMI:
		m := mask(in.MB, in.ME)
		rot := rotl32(cpu.GetReg(in.RT), in.SH)
		cpu.SetReg(in.RA, (cpu.GetReg(in.RA) &^ m) | (rot & m))
		if in.Rc {
			cpu.updateCR0(int32(cpu.GetReg(in.RA)))
		}
	case opRLWNM:
		sh := uint8(cpu.GetReg(in.RB) & 0x1F)
		cpu.SetReg(in.RA, rotlMask(cpu.GetReg(in.RT), sh, in.MB, in.ME))
		if in.Rc {
			cpu.updateCR0(int32(cpu.GetReg(in.RA)))
		}
	case opLWZ:
		return loadInsn(cpu, in, mts.Width32, false, false)
	case opLWZU:
		return loadInsn(cpu, in, mts.Width32, false, true)
	case opLBZ:
		return loadInsn(cpu, in, mts.Width8, false, false)
	case opLBZU:
		return loadInsn(cpu, in, mts.Width8, false, true)
	case opLHZ:
		return loadInsn(cpu, in, mts.Width16, false, false)
	case opLHZU:
		return loadInsn(cpu, in, mts.Width16, false, true)
	case opSTW:
		return storeInsn(cpu, in, mts.Width32, false)
	case opSTWU:
		return storeInsn(cpu, in, mts.Width32, true)
	case opSTB:
		return storeInsn(cpu, in, mts.Width8, false)
	case opSTBU:
		return storeInsn(cpu, in, mts.Width8, true)
	case opSTH:
		return storeInsn(cpu, in, mts.Width16, false)
	case opSTHU:
		return storeInsn(cpu, in, mts.Width16, true)
	case opB:
		target := uint32(int32(cpu.PC) + int32(in.LI))
		if in.AA {
			target = uint32(int32(in.LI))
		}
		if in.LK {
			cpu.LR = cpu.PC + 4
		}
		return StepResult{Jump: true, BranchTarget: target, EndOfBlock: true}
	case opBC:
		return branchConditional(cpu, in)
	case opCR_OPS:
		return executeCROps(cpu, in)
	case op31:
		return execute31(cpu, in)
	default:
		cpu.TriggerException(ExcProgram)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	return StepResult{}
}

func branchConditional(cpu *CPU, in Insn) StepResult {
	if !branchTaken(cpu, in.BO, in.BI) {
		return StepResult{}
	}
	target := uint32(int32(cpu.PC) + int32(in.BD))
	if in.AA {
		target = uint32(int32(in.BD))
	}
	if in.LK {
		cpu.LR = cpu.PC + 4
	}
	return StepResult{Jump: true, BranchTarget: target, EndOfBlock: true}
}

// branchTaken evaluates the BO/BI condition-and-count logic common to
// bc/bclr/bcctr, per the standard PowerPC branch-condition encoding
// (BO bit 2 skips the CTR decrement-and-test, BO bit 4 skips the CR-bit
// test).
func branchTaken(cpu *CPU, bo, bi uint8) bool {
	ctrOK := true
	if bo&0x04 == 0 {
		cpu.CTR--
		ctrOK = (cpu.CTR != 0) == (bo&0x02 == 0)
	}
	crOK := true
	if bo&0x10 == 0 {
		bit := cpu.crBit(bi)
		crOK = bit == (bo&0x08 != 0)
	}
	return ctrOK && crOK
}

func executeCROps(cpu *CPU, in Insn) StepResult {
	switch in.XO {
	case xlBCLR:
		if !branchTaken(cpu, in.BO, in.BI) {
			return StepResult{}
		}
		target := cpu.LR &^ 0x3
		if in.LK {
			cpu.LR = cpu.PC + 4
		}
		return StepResult{Jump: true, BranchTarget: target, EndOfBlock: true}
	case xlBCCTR:
		if !branchTaken(cpu, in.BO|0x04, in.BI) {
			return StepResult{}
		}
		target := cpu.CTR &^ 0x3
		if in.LK {
			cpu.LR = cpu.PC + 4
		}
		return StepResult{Jump: true, BranchTarget: target, EndOfBlock: true}
	case xlCRAND:
		cpu.setCrBit(in.RT, cpu.crBit(in.RA)&&cpu.crBit(in.RB))
	case xlCROR:
		cpu.setCrBit(in.RT, cpu.crBit(in.RA)||cpu.crBit(in.RB))
	case xlCRXOR:
		cpu.setCrBit(in.RT, cpu.crBit(in.RA) != cpu.crBit(in.RB))
	default:
		cpu.TriggerException(ExcProgram)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	return StepResult{}
}

func execute31(cpu *CPU, in Insn) StepResult {
	switch in.XO {
	case xoADD, xoADD + 512:
		a, b := int32(cpu.GetReg(in.RA)), int32(cpu.GetReg(in.RB))
		sum := a + b
		if in.OE && dynutil.CheckAdditionOverflow(a, b, sum) {
			cpu.setOV(true)
		} else if in.OE {
			cpu.setOV(false)
		}
		cpu.SetReg(in.RT, uint32(sum))
		if in.Rc {
			cpu.updateCR0(sum)
		}
	case xoADDC, xoADDC + 512:
		a, b := cpu.GetReg(in.RA), cpu.GetReg(in.RB)
		sum := a + b
		cpu.setCA(sum < a)
		if in.OE {
			cpu.setOV(dynutil.CheckAdditionOverflow(int32(a), int32(b), int32(sum)))
		}
		cpu.SetReg(in.RT, sum)
		if in.Rc {
			cpu.updateCR0(int32(sum))
		}
	case xoSUBF, xoSUBF + 512:
		a, b := int32(cpu.GetReg(in.RA)), int32(cpu.GetReg(in.RB))
		diff := b - a
		if in.OE && dynutil.CheckSubtractionOverflow(b, a, diff) {
			cpu.setOV(true)
		} else if in.OE {
			cpu.setOV(false)
		}
		cpu.SetReg(in.RT, uint32(diff))
		if in.Rc {
			cpu.updateCR0(diff)
		}
	case xoSUBFC, xoSUBFC + 512:
		a, b := cpu.GetReg(in.RA), cpu.GetReg(in.RB)
		diff := b - a
		cpu.setCA(b >= a)
		if in.OE {
			cpu.setOV(dynutil.CheckSubtractionOverflow(int32(b), int32(a), int32(diff)))
		}
		cpu.SetReg(in.RT, diff)
		if in.Rc {
			cpu.updateCR0(int32(diff))
		}
	case xoNEG, xoNEG + 512:
		a := int32(cpu.GetReg(in.RA))
		r := -a
		if in.OE {
			cpu.setOV(a == -2147483648)
		}
		cpu.SetReg(in.RT, uint32(r))
		if in.Rc {
			cpu.updateCR0(r)
		}
	case xoMULLW, xoMULLW + 512:
		p := int64(int32(cpu.GetReg(in.RA))) * int64(int32(cpu.GetReg(in.RB)))
		if in.OE {
			cpu.setOV(p != int64(int32(p)))
		}
		cpu.SetReg(in.RT, uint32(int32(p)))
		if in.Rc {
			cpu.updateCR0(int32(p))
		}
	case xoMULHW:
		p := int64(int32(cpu.GetReg(in.RA))) * int64(int32(cpu.GetReg(in.RB)))
		cpu.SetReg(in.RT, uint32(p>>32))
	case xoMULHWU:
		p := uint64(cpu.GetReg(in.RA)) * uint64(cpu.GetReg(in.RB))
		cpu.SetReg(in.RT, uint32(p>>32))
	case xoDIVW, xoDIVW + 512:
		a, b := int32(cpu.GetReg(in.RA)), int32(cpu.GetReg(in.RB))
		if b == 0 {
			if in.OE {
				cpu.setOV(true)
			}
			cpu.SetReg(in.RT, 0)
		} else {
			if in.OE {
				cpu.setOV(false)
			}
			cpu.SetReg(in.RT, uint32(a/b))
		}
	case xoDIVWU, xoDIVWU + 512:
		a, b := cpu.GetReg(in.RA), cpu.GetReg(in.RB)
		if b == 0 {
			if in.OE {
				cpu.setOV(true)
			}
			cpu.SetReg(in.RT, 0)
		} else {
			if in.OE {
				cpu.setOV(false)
			}
			cpu.SetReg(in.RT, a/b)
		}
	case xoAND:
		cpu.SetReg(in.RA, cpu.GetReg(in.RT)&cpu.GetReg(in.RB))
		if in.Rc {
			cpu.updateCR0(int32(cpu.GetReg(in.RA)))
		}
	case xoANDC:
		cpu.SetReg(in.RA, cpu.GetReg(in.RT)&^cpu.GetReg(in.RB))
		if in.Rc {
			cpu.updateCR0(int32(cpu.GetReg(in.RA)))
		}
	case xoOR:
		cpu.SetReg(in.RA, cpu.GetReg(in.RT)|cpu.GetReg(in.RB))
		if in.Rc {
			cpu.updateCR0(int32(cpu.GetReg(in.RA)))
		}
	case xoNOR:
		cpu.SetReg(in.RA, ^(cpu.GetReg(in.RT) | cpu.GetReg(in.RB)))
		if in.Rc {
			cpu.updateCR0(int32(cpu.GetReg(in.RA)))
		}
	case xoXOR:
		cpu.SetReg(in.RA, cpu.GetReg(in.RT)^cpu.GetReg(in.RB))
		if in.Rc {
			cpu.updateCR0(int32(cpu.GetReg(in.RA)))
		}
	case xoSLW:
		sh := cpu.GetReg(in.RB) & 0x3F
		var r uint32
		if sh < 32 {
			r = cpu.GetReg(in.RT) << sh
		}
		cpu.SetReg(in.RA, r)
		if in.Rc {
			cpu.updateCR0(int32(r))
		}
	case xoCNTLZW:
		v := cpu.GetReg(in.RT)
		n := uint32(0)
		for n < 32 && v&(1<<(31-n)) == 0 {
			n++
		}
		cpu.SetReg(in.RA, n)
		if in.Rc {
			cpu.updateCR0(int32(n))
		}
	case xoCMP:
		cpu.setCRField(in.RT>>2, cmpSigned(int32(cpu.GetReg(in.RA)), int32(cpu.GetReg(in.RB)), cpu.XER&xerSO != 0))
	case xoCMPL:
		cpu.setCRField(in.RT>>2, cmpUnsigned(cpu.GetReg(in.RA), cpu.GetReg(in.RB), cpu.XER&xerSO != 0))
	case xoMFCR:
		cpu.SetReg(in.RT, cpu.CR)
	case xoMFSPR:
		cpu.SetReg(in.RT, cpu.mfspr(in.SPR))
	case xoMTSPR:
		cpu.mtspr(in.SPR, cpu.GetReg(in.RT))
	case xoMFMSR:
		cpu.SetReg(in.RT, cpu.msr.Value())
	case xoMTMSR:
		cpu.msr.SetValue(cpu.GetReg(in.RT))
	case xoMFSR:
		cpu.SetReg(in.RT, cpu.msr.SR(uint32(in.RA)&0xF))
	case xoMTSR:
		cpu.msr.SetSR(uint32(in.RA)&0xF, cpu.GetReg(in.RT))
	case xoLWZX:
		return loadIndexed(cpu, in, mts.Width32)
	case xoRFI:
		target := cpu.msr.RFI()
		return StepResult{Jump: true, BranchTarget: target, EndOfBlock: true}
	case xoTW:
		// trap-on-condition: this build treats any tw as a program
		// exception, matching the teacher's "unimplemented opcode
		// faults rather than silently no-ops" posture.
		cpu.TriggerException(ExcProgram)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	default:
		cpu.TriggerException(ExcProgram)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	return StepResult{}
}

func (c *CPU) mfspr(spr uint32) uint32 {
	switch spr {
	case SprLR:
		return c.LR
	case SprCTR:
		return c.CTR
	case SprXER:
		return c.XER
	default:
		return c.msr.MFSPR(spr)
	}
}

func (c *CPU) mtspr(spr uint32, v uint32) {
	switch spr {
	case SprLR:
		c.LR = v
	case SprCTR:
		c.CTR = v
	case SprXER:
		c.XER = v
	default:
		c.msr.MTSPR(spr, v)
	}
}

func loadInsn(cpu *CPU, in Insn, width mts.AccessWidth, signExt bool, update bool) StepResult {
	addr := uint32(int32(cpu.GetReg(in.RA)) + in.SIMM)
	v, exc := cpu.mts.Read(uint64(addr), cpu.pid, width)
	if exc != mts.NoException {
		deliverMemException(cpu, exc)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	if signExt {
		v = uint64(int64(int32(v)))
	}
	cpu.SetReg(in.RT, uint32(v))
	if update {
		cpu.SetReg(in.RA, addr)
	}
	return StepResult{}
}

func loadIndexed(cpu *CPU, in Insn, width mts.AccessWidth) StepResult {
	base := uint32(0)
	if in.RA != 0 {
		base = cpu.GetReg(in.RA)
	}
	addr := base + cpu.GetReg(in.RB)
	v, exc := cpu.mts.Read(uint64(addr), cpu.pid, width)
	if exc != mts.NoException {
		deliverMemException(cpu, exc)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	cpu.SetReg(in.RT, uint32(v))
	return StepResult{}
}

func storeInsn(cpu *CPU, in Insn, width mts.AccessWidth, update bool) StepResult {
	addr := uint32(int32(cpu.GetReg(in.RA)) + in.SIMM)
	exc := cpu.mts.Write(uint64(addr), cpu.pid, width, uint64(cpu.GetReg(in.RT)))
	if exc != mts.NoException {
		deliverMemException(cpu, exc)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	if update {
		cpu.SetReg(in.RA, addr)
	}
	return StepResult{}
}

func deliverMemException(cpu *CPU, exc mts.Exception) {
	switch exc {
	case mts.ExcAddressError:
		cpu.TriggerException(ExcAlignment)
	default:
		cpu.TriggerException(ExcDSI)
	}
}

func (c *CPU) setCA(v bool) {
	if v {
		c.XER |= xerCA
	} else {
		c.XER &^= xerCA
	}
}

func (c *CPU) setOV(v bool) {
	if v {
		c.XER |= xerOV | xerSO
	} else {
		c.XER &^= xerOV
	}
}

// updateCR0 sets CR field 0 from the signed result of an Rc=1
// instruction: LT/GT/EQ against zero plus a copy of XER[SO].
func (c *CPU) updateCR0(result int32) {
	var f uint32
	switch {
	case result < 0:
		f = 0x8
	case result > 0:
		f = 0x4
	default:
		f = 0x2
	}
	if c.XER&xerSO != 0 {
		f |= 0x1
	}
	c.setCRField(0, f)
}

func cmpSigned(a, b int32, so bool) uint32 {
	var f uint32
	switch {
	case a < b:
		f = 0x8
	case a > b:
		f = 0x4
	default:
		f = 0x2
	}
	if so {
		f |= 0x1
	}
	return f
}

func cmpUnsigned(a, b uint32, so bool) uint32 {
	var f uint32
	switch {
	case a < b:
		f = 0x8
	case a > b:
		f = 0x4
	default:
		f = 0x2
	}
	if so {
		f |= 0x1
	}
	return f
}

// setCRField writes a 4-bit CR field (0 = CR0, ... 7 = CR7), CR0 being
// the field most integer ops with Rc=1 update and the one bcond
// instructions index with a field number in BI>>2.
func (c *CPU) setCRField(field uint8, val uint32) {
	shift := uint((7 - field) * 4)
	c.CR = (c.CR &^ (0xF << shift)) | ((val & 0xF) << shift)
}

func (c *CPU) crBit(bi uint8) bool {
	shift := uint(31 - bi)
	return c.CR&(1<<shift) != 0
}

func (c *CPU) setCrBit(bi uint8, v bool) {
	shift := uint(31 - bi)
	if v {
		c.CR |= 1 << shift
	} else {
		c.CR &^= 1 << shift
	}
}

func rotl32(v uint32, sh uint8) uint32 {
	sh &= 0x1F
	return (v << sh) | (v >> (32 - sh))
}

func mask(mb, me uint8) uint32 {
	var m uint32
	if mb <= me {
		for i := uint8(mb); i <= me; i++ {
			m |= 1 << (31 - i)
		}
	} else {
		for i := uint8(0); i <= me; i++ {
			m |= 1 << (31 - i)
		}
		for i := uint8(mb); i <= 31; i++ {
			m |= 1 << (31 - i)
		}
	}
	return m
}

func rotlMask(v uint32, sh, mb, me uint8) uint32 {
	return rotl32(v, sh) & mask(mb, me)
}
