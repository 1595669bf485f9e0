package mips64

import (
	"github.com/dynamips/dynamips-go/internal/dynutil"
	"github.com/dynamips/dynamips-go/pkg/mts"
)

// StepResult tells the dispatcher what happened to control flow:
//   - Branch: a delayed branch/jump was taken; BranchTarget takes
//     effect only after the one following instruction (the delay
//     slot) has executed.
//   - Jump: an immediate jump (ERET) with no delay slot.
//   - PCAlreadySet: TriggerException has already redirected PC to the
//     exception vector; the dispatcher must not touch PC itself.
// Any of the three ends the current translation block.
type StepResult struct {
	BranchTarget uint64
	Branch       bool
	Jump         bool
	PCAlreadySet bool
	EndOfBlock   bool
}

// Execute interprets one decoded instruction against cpu, the
// "interpreter leaf" every opcode has per spec.md §4.G ("the
// reference semantics"). It is also what the NOJIT back-end's Op
// stream calls directly, so JIT-vs-interpreter equivalence reduces to
// "the native back-end's emitted code must produce the same cpu state
// as a call to Execute."
func Execute(cpu *CPU, in Insn) StepResult {
	switch in.Opcode {
	case opSPECIAL:
		return executeSpecial(cpu, in)
	case opCOP0:
		return executeCOP0(cpu, in)
	case opJ, opJAL:
		target := (cpu.PC &^ 0x0FFFFFFF) | (uint64(in.Target) << 2)
		if in.Opcode == opJAL {
			cpu.SetReg(31, cpu.PC+8)
		}
		return StepResult{Branch: true, BranchTarget: target, EndOfBlock: true}
	case opBEQ:
		return branchIf(cpu, in, cpu.GetReg(in.Rs) == cpu.GetReg(in.Rt))
	case opBNE:
		return branchIf(cpu, in, cpu.GetReg(in.Rs) != cpu.GetReg(in.Rt))
	case opBLEZ:
		return branchIf(cpu, in, int64(cpu.GetReg(in.Rs)) <= 0)
	case opBGTZ:
		return branchIf(cpu, in, int64(cpu.GetReg(in.Rs)) > 0)
	case opADDI:
		rs := int64(cpu.GetReg(in.Rs))
		temp := rs + in.Imm16
		if dynutil.CheckAdditionOverflow(rs, in.Imm16, temp) {
			cpu.TriggerException(ExcOv, 0)
			return StepResult{EndOfBlock: true, PCAlreadySet: true}
		}
		cpu.SetReg(in.Rt, uint64(temp))
	case opADDIU:
		cpu.SetReg(in.Rt, uint64(int64(cpu.GetReg(in.Rs))+in.Imm16))
	case opSLTI:
		cpu.SetReg(in.Rt, b2uCPU(int64(cpu.GetReg(in.Rs)) < in.Imm16))
	case opSLTIU:
		cpu.SetReg(in.Rt, b2uCPU(cpu.GetReg(in.Rs) < uint64(in.Imm16)))
	case opANDI:
		cpu.SetReg(in.Rt, cpu.GetReg(in.Rs)&in.ImmU16)
	case opORI:
		cpu.SetReg(in.Rt, cpu.GetReg(in.Rs)|in.ImmU16)
	case opXORI:
		cpu.SetReg(in.Rt, cpu.GetReg(in.Rs)^in.ImmU16)
	case opLUI:
		cpu.SetReg(in.Rt, uint64(int64(int32(in.ImmU16<<16))))
	case opLB:
		return loadInsn(cpu, in, mts.Width8, true)
	case opLBU:
		return loadInsn(cpu, in, mts.Width8, false)
	case opLH:
		return loadInsn(cpu, in, mts.Width16, true)
	case opLHU:
		return loadInsn(cpu, in, mts.Width16, false)
	case opLW:
		return loadInsn(cpu, in, mts.Width32, true)
	case opSB:
		return storeInsn(cpu, in, mts.Width8)
	case opSH:
		return storeInsn(cpu, in, mts.Width16)
	case opSW:
		return storeInsn(cpu, in, mts.Width32)
	default:
		cpu.TriggerException(ExcRI, 0)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	return StepResult{}
}

func b2uCPU(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func branchIf(cpu *CPU, in Insn, taken bool) StepResult {
	if !taken {
		return StepResult{}
	}
	target := uint64(int64(cpu.PC) + 4 + in.Imm16<<2)
	return StepResult{Branch: true, BranchTarget: target, EndOfBlock: true}
}

func loadInsn(cpu *CPU, in Insn, width mts.AccessWidth, signExt bool) StepResult {
	addr := uint64(int64(cpu.GetReg(in.Rs)) + in.Imm16)
	v, exc := cpu.mts.Read(addr, cpu.asid, width)
	if exc != mts.NoException {
		deliverMemException(cpu, exc, addr)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	if signExt {
		switch width {
		case mts.Width8:
			v = uint64(int64(int8(v)))
		case mts.Width16:
			v = uint64(int64(int16(v)))
		case mts.Width32:
			v = uint64(int64(int32(v)))
		}
	}
	cpu.SetReg(in.Rt, v)
	return StepResult{}
}

func storeInsn(cpu *CPU, in Insn, width mts.AccessWidth) StepResult {
	addr := uint64(int64(cpu.GetReg(in.Rs)) + in.Imm16)
	exc := cpu.mts.Write(addr, cpu.asid, width, cpu.GetReg(in.Rt))
	if exc != mts.NoException {
		deliverMemException(cpu, exc, addr)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	return StepResult{}
}

func deliverMemException(cpu *CPU, exc mts.Exception, addr uint64) {
	switch exc {
	case mts.ExcTlbMiss:
		cpu.TriggerException(ExcTLBL, uint32(addr))
	case mts.ExcAddressError:
		cpu.TriggerException(ExcAdEL, uint32(addr))
	case mts.ExcProtectionViolation:
		cpu.TriggerException(ExcMod, uint32(addr))
	default:
		cpu.TriggerException(ExcAdEL, uint32(addr))
	}
}

func executeSpecial(cpu *CPU, in Insn) StepResult {
	switch in.Funct {
	case fnSLL:
		cpu.SetReg(in.Rd, uint64(uint32(cpu.GetReg(in.Rt))<<in.Shamt))
	case fnSRL:
		cpu.SetReg(in.Rd, uint64(uint32(cpu.GetReg(in.Rt))>>in.Shamt))
	case fnSRA:
		cpu.SetReg(in.Rd, uint64(int64(int32(cpu.GetReg(in.Rt))>>in.Shamt)))
	case fnSLLV:
		cpu.SetReg(in.Rd, uint64(uint32(cpu.GetReg(in.Rt))<<(cpu.GetReg(in.Rs)&0x1F)))
	case fnSRLV:
		cpu.SetReg(in.Rd, uint64(uint32(cpu.GetReg(in.Rt))>>(cpu.GetReg(in.Rs)&0x1F)))
	case fnSRAV:
		cpu.SetReg(in.Rd, uint64(int64(int32(cpu.GetReg(in.Rt))>>(cpu.GetReg(in.Rs)&0x1F))))
	case fnJR:
		target := cpu.GetReg(in.Rs)
		return StepResult{Branch: true, BranchTarget: target, EndOfBlock: true}
	case fnJALR:
		target := cpu.GetReg(in.Rs)
		rd := in.Rd
		if rd == 0 {
			rd = 31
		}
		cpu.SetReg(rd, cpu.PC+8)
		return StepResult{Branch: true, BranchTarget: target, EndOfBlock: true}
	case fnMFHI:
		cpu.SetReg(in.Rd, cpu.HI)
	case fnMTHI:
		cpu.HI = cpu.GetReg(in.Rs)
	case fnMFLO:
		cpu.SetReg(in.Rd, cpu.LO)
	case fnMTLO:
		cpu.LO = cpu.GetReg(in.Rs)
	case fnMULT:
		p := int64(int32(cpu.GetReg(in.Rs))) * int64(int32(cpu.GetReg(in.Rt)))
		cpu.LO = uint64(int32(p))
		cpu.HI = uint64(int32(p >> 32))
	case fnMULTU:
		p := uint64(uint32(cpu.GetReg(in.Rs))) * uint64(uint32(cpu.GetReg(in.Rt)))
		cpu.LO = uint64(uint32(p))
		cpu.HI = uint64(uint32(p >> 32))
	case fnDIV:
		rs, rt := int32(cpu.GetReg(in.Rs)), int32(cpu.GetReg(in.Rt))
		if rt == 0 {
			cpu.LO, cpu.HI = 0, 0
		} else {
			cpu.LO = uint64(uint32(rs / rt))
			cpu.HI = uint64(uint32(rs % rt))
		}
	case fnDIVU:
		rs, rt := uint32(cpu.GetReg(in.Rs)), uint32(cpu.GetReg(in.Rt))
		if rt == 0 {
			cpu.LO, cpu.HI = 0, 0
		} else {
			cpu.LO = uint64(rs / rt)
			cpu.HI = uint64(rs % rt)
		}
	case fnADD:
		rs, rt := int32(cpu.GetReg(in.Rs)), int32(cpu.GetReg(in.Rt))
		temp := rs + rt
		if dynutil.CheckAdditionOverflow(rs, rt, temp) {
			cpu.TriggerException(ExcOv, 0)
			return StepResult{EndOfBlock: true, PCAlreadySet: true}
		}
		cpu.SetReg(in.Rd, uint64(int64(temp)))
	case fnADDU:
		cpu.SetReg(in.Rd, uint64(int64(int32(cpu.GetReg(in.Rs))+int32(cpu.GetReg(in.Rt)))))
	case fnSUB:
		rs, rt := int32(cpu.GetReg(in.Rs)), int32(cpu.GetReg(in.Rt))
		temp := rs - rt
		if dynutil.CheckSubtractionOverflow(rs, rt, temp) {
			cpu.TriggerException(ExcOv, 0)
			return StepResult{EndOfBlock: true, PCAlreadySet: true}
		}
		cpu.SetReg(in.Rd, uint64(int64(temp)))
	case fnSUBU:
		cpu.SetReg(in.Rd, uint64(int64(int32(cpu.GetReg(in.Rs))-int32(cpu.GetReg(in.Rt)))))
	case fnAND:
		cpu.SetReg(in.Rd, cpu.GetReg(in.Rs)&cpu.GetReg(in.Rt))
	case fnOR:
		cpu.SetReg(in.Rd, cpu.GetReg(in.Rs)|cpu.GetReg(in.Rt))
	case fnXOR:
		cpu.SetReg(in.Rd, cpu.GetReg(in.Rs)^cpu.GetReg(in.Rt))
	case fnNOR:
		cpu.SetReg(in.Rd, ^(cpu.GetReg(in.Rs) | cpu.GetReg(in.Rt)))
	case fnSLT:
		cpu.SetReg(in.Rd, b2uCPU(int64(cpu.GetReg(in.Rs)) < int64(cpu.GetReg(in.Rt))))
	case fnSLTU:
		cpu.SetReg(in.Rd, b2uCPU(cpu.GetReg(in.Rs) < cpu.GetReg(in.Rt)))
	default:
		cpu.TriggerException(ExcRI, 0)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	return StepResult{}
}

func executeCOP0(cpu *CPU, in Insn) StepResult {
	if in.Rs == cop0FnMFC0 {
		cpu.SetReg(in.Rt, cpu.cp0.MFC0(in.Rd))
		return StepResult{}
	}
	if in.Rs == cop0FnMTC0 {
		if cpu.cp0.MTC0(in.Rd, cpu.GetReg(in.Rt)) {
			cpu.mts.FlushTLB()
		}
		return StepResult{}
	}
	// CO-bit-set TLB/ERET ops, distinguished by Funct per the teacher's
	// COP0Instruction grouping.
	switch in.Funct {
	case tlbFnTLBR:
		cpu.cp0.ReadTLB(int(cpu.cp0.index & 0x3F))
	case tlbFnTLBWI:
		cpu.cp0.WriteTLB(int(cpu.cp0.index & 0x3F))
		cpu.mts.FlushTLB()
	case tlbFnTLBWR:
		cpu.cp0.WriteTLB(int(cpu.cp0.random % uint32(cpu.cp0.tlbSize)))
		cpu.mts.FlushTLB()
	case tlbFnTLBP:
		cpu.cp0.Probe()
	case tlbFnERET:
		target := cpu.cp0.ERET()
		return StepResult{Jump: true, BranchTarget: target, EndOfBlock: true}
	default:
		cpu.TriggerException(ExcRI, 0)
		return StepResult{EndOfBlock: true, PCAlreadySet: true}
	}
	return StepResult{}
}
