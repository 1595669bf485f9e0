package mips64

// Insn is a decoded MIPS64 instruction ready for interpretation; the
// table-driven decoder spec.md §4.G calls for is Decode, a 2-level
// range check (opcode, then funct for R-type) plus mask-compare,
// directly generalizing the teacher's RTypeInstruction/ITypeInstruction/
// JTypeInstruction/COP0Instruction split to 64-bit operands.
type Insn struct {
	Raw    uint32
	Opcode uint8
	Rs, Rt, Rd uint8
	Shamt  uint8
	Funct  uint8
	Imm16  int64 // sign-extended
	ImmU16 uint64
	Target uint32 // 26-bit jump target, still word-addressed per MIPS
}

// Decode splits raw into its R/I/J fields; which fields are meaningful
// depends on Opcode/Funct, matching the teacher's per-type Decode.
func Decode(raw uint32) Insn {
	return Insn{
		Raw:    raw,
		Opcode: uint8((raw >> 26) & 0x3F),
		Rs:     uint8((raw >> 21) & 0x1F),
		Rt:     uint8((raw >> 16) & 0x1F),
		Rd:     uint8((raw >> 11) & 0x1F),
		Shamt:  uint8((raw >> 6) & 0x1F),
		Funct:  uint8(raw & 0x3F),
		Imm16:  int64(int16(raw & 0xFFFF)),
		ImmU16: uint64(raw & 0xFFFF),
		Target: raw & 0x3FFFFFF,
	}
}

const (
	opSPECIAL = 0x00
	opREGIMM  = 0x01
	opJ       = 0x02
	opJAL     = 0x03
	opBEQ     = 0x04
	opBNE     = 0x05
	opBLEZ    = 0x06
	opBGTZ    = 0x07
	opADDI    = 0x08
	opADDIU   = 0x09
	opSLTI    = 0x0A
	opSLTIU   = 0x0B
	opANDI    = 0x0C
	opORI     = 0x0D
	opXORI    = 0x0E
	opLUI     = 0x0F
	opCOP0    = 0x10
	opLB      = 0x20
	opLH      = 0x21
	opLW      = 0x23
	opLBU     = 0x24
	opLHU     = 0x25
	opSB      = 0x28
	opSH      = 0x29
	opSW      = 0x2B
)

const (
	fnSLL  = 0x00
	fnSRL  = 0x02
	fnSRA  = 0x03
	fnSLLV = 0x04
	fnSRLV = 0x06
	fnSRAV = 0x07
	fnJR   = 0x08
	fnJALR = 0x09
	fnMFHI = 0x10
	fnMTHI = 0x11
	fnMFLO = 0x12
	fnMTLO = 0x13
	fnMULT  = 0x18
	fnMULTU = 0x19
	fnDIV   = 0x1A
	fnDIVU  = 0x1B
	fnADD   = 0x20
	fnADDU  = 0x21
	fnSUB   = 0x22
	fnSUBU  = 0x23
	fnAND   = 0x24
	fnOR    = 0x25
	fnXOR   = 0x26
	fnNOR   = 0x27
	fnSLT   = 0x2A
	fnSLTU  = 0x2B
)

const (
	cop0FnMFC0 = 0x00
	cop0FnMTC0 = 0x04
	cop0FnTLB  = 0x10 // CO bit set, funct distinguishes TLB ops
)

const (
	tlbFnTLBR  = 0x01
	tlbFnTLBWI = 0x02
	tlbFnTLBWR = 0x06
	tlbFnTLBP  = 0x08
	tlbFnERET  = 0x18
)
