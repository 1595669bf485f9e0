package ppc32

// Insn is one decoded 32-bit PowerPC instruction, fields extracted
// eagerly the way pkg/cpu/mips64's Insn does, rather than re-masking
// the raw word inside every Execute case.
type Insn struct {
	Raw uint32

	Opcd uint8 // primary opcode, bits 0-5

	RT, RS, RA, RB uint8 // register fields; RT and RS alias the same bit range

	SIMM int32  // sign-extended 16-bit immediate (D-form)
	UIMM uint32 // zero-extended 16-bit immediate (D-form)

	LI uint32 // 24-bit branch displacement (I-form), already <<2 and sign-extended to 32 bits by Decode
	BD int32  // 14-bit conditional-branch displacement (B-form), sign-extended and <<2

	BO, BI uint8

	AA, LK bool

	OE bool
	Rc bool

	XO uint16 // extended opcode, bits 21-30 (X/XO-form) or bits 22-30 depending on form

	SH, MB, ME uint8 // rotate/shift fields (M-form)

	SPR uint32 // assembled SPR field for mfspr/mtspr
}

func signExt16(v uint16) int32 { return int32(int16(v)) }

func Decode(raw uint32) Insn {
	in := Insn{Raw: raw}
	in.Opcd = uint8(raw >> 26)
	in.RT = uint8((raw >> 21) & 0x1F)
	in.RS = in.RT
	in.RA = uint8((raw >> 16) & 0x1F)
	in.RB = uint8((raw >> 11) & 0x1F)
	in.SIMM = signExt16(uint16(raw))
	in.UIMM = uint32(uint16(raw))
	in.Rc = raw&0x1 != 0
	in.OE = (raw>>10)&0x1 != 0
	in.XO = uint16((raw >> 1) & 0x3FF)
	in.SH = uint8((raw >> 11) & 0x1F)
	in.MB = uint8((raw >> 6) & 0x1F)
	in.ME = uint8((raw >> 1) & 0x1F)

	// LI (I-form, used by opcode 18 "b"): bits 6-29, sign-extended, <<2.
	li := raw & 0x03FFFFFC
	if li&0x02000000 != 0 {
		li |= 0xFC000000
	}
	in.LI = li
	in.AA = raw&0x2 != 0
	in.LK = raw&0x1 != 0

	// B-form (bc): BO bits 6-10, BI bits 11-15, BD bits 16-29 <<2 sign-extended.
	in.BO = uint8((raw >> 21) & 0x1F)
	in.BI = uint8((raw >> 16) & 0x1F)
	bd := int32(raw & 0x0000FFFC)
	if bd&0x8000 != 0 {
		bd |= ^int32(0xFFFF)
	}
	in.BD = bd

	// SPR field for mfspr/mtspr (X-form): assembled from two 5-bit
	// halves swapped relative to RA/RB order.
	in.SPR = ((raw >> 16) & 0x1F) | (((raw >> 11) & 0x1F) << 5)

	return in
}

// primary opcodes this build decodes.
const (
	opTDI   = 2
	opMULLI = 7
	opSUBFIC = 8
	opCMPLI = 10
	opCMPI  = 11
	opADDIC  = 12
	opADDICDot = 13
	opADDI  = 14
	opADDIS = 15
	opBC    = 16
	opSC    = 17
	opB     = 18
	opCR_OPS = 19 // bclr, bcctr, crxor, etc, XL-form
	opRLWIMI = 20
	opRLWINM = 21
	opRLWNM  = 23
	opORI   = 24
	opORIS  = 25
	opXORI  = 26
	opXORIS = 27
	opANDIDot = 28
	opANDISDot = 29
	op31    = 31 // X/XO-form integer ops
	opLWZ   = 32
	opLWZU  = 33
	opLBZ   = 34
	opLBZU  = 35
	opSTW   = 36
	opSTWU  = 37
	opSTB   = 38
	opSTBU  = 39
	opLHZ   = 40
	opLHZU  = 41
	opSTH   = 44
	opSTHU  = 45
)

// extended opcodes under primary opcode 31 (X/XO-form).
const (
	xoCMP    = 0
	xoSUBFC  = 8
	xoADDC   = 10
	xoMULHWU = 11
	xoMFCR   = 19
	xoLWZX   = 23
	xoSLW    = 24
	xoCNTLZW = 26
	xoAND    = 28
	xoCMPL   = 32
	xoSUBF   = 40
	xoANDC   = 60
	xoMULHW  = 75
	xoMFMSR  = 83
	xoOR     = 444
	xoDIVWU  = 459
	xoMTSPR  = 467
	xoNOR    = 124
	xoMTMSR  = 146
	xoMFSPR  = 339
	xoDIVW   = 491
	xoMTSR   = 210
	xoMFSR   = 595
	xoNEG    = 104
	xoXOR    = 316
	xoMULLW  = 235
	xoADD    = 266
	xoTW     = 4
	xoRFI    = 50
)

// extended opcodes under primary opcode 19 (XL-form, CR/branch ops).
const (
	xlBCLR  = 16
	xlBCCTR = 528
	xlCRAND = 257
	xlCROR  = 449
	xlCRXOR = 193
)
