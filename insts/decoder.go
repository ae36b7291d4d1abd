// Package insts provides ARM system instruction definitions and decoding.
package insts

import "fmt"

// Op represents a decoded system instruction.
type Op uint16

// Opcodes.
const (
	OpUnknown Op = iota
	OpMRS
	OpMSR
	OpMSRImm
	OpSYS
	OpSYSL
	OpSVC
	OpHVC
	OpSMC
	OpBRK
	OpBKPT
	OpHLT
	OpUDF
	OpERET
	OpHint
	OpBarrier
	OpMRC
	OpMCR
	OpMRRC
	OpMCRR
	OpMRSPSR
	OpMSRPSR
	OpCPS
	OpSUBSPCLR
)

var opNames = [...]string{
	OpUnknown:  "UNKNOWN",
	OpMRS:      "MRS",
	OpMSR:      "MSR",
	OpMSRImm:   "MSR(imm)",
	OpSYS:      "SYS",
	OpSYSL:     "SYSL",
	OpSVC:      "SVC",
	OpHVC:      "HVC",
	OpSMC:      "SMC",
	OpBRK:      "BRK",
	OpBKPT:     "BKPT",
	OpHLT:      "HLT",
	OpUDF:      "UDF",
	OpERET:     "ERET",
	OpHint:     "HINT",
	OpBarrier:  "BARRIER",
	OpMRC:      "MRC",
	OpMCR:      "MCR",
	OpMRRC:     "MRRC",
	OpMCRR:     "MCRR",
	OpMRSPSR:   "MRS(psr)",
	OpMSRPSR:   "MSR(psr)",
	OpCPS:      "CPS",
	OpSUBSPCLR: "SUBS PC, LR",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint16(o))
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown   Format = iota
	FormatSysReg           // System register move or SYS
	FormatException        // Exception generating
	FormatPSTATE           // PSTATE or CPSR update
	FormatHint             // Hints and barriers
	FormatCoproc           // AArch32 coprocessor transfer
	FormatReturn           // Exception return
)

// ISA is the instruction set an encoding belongs to.
type ISA uint8

// Instruction sets.
const (
	ISAA64 ISA = iota
	ISAA32
	ISAT32
)

// Cond represents an AArch32 condition code.
type Cond uint8

// Condition codes.
const (
	CondEQ Cond = 0b0000 // Equal (Z == 1)
	CondNE Cond = 0b0001 // Not Equal (Z == 0)
	CondCS Cond = 0b0010 // Carry Set (C == 1)
	CondCC Cond = 0b0011 // Carry Clear (C == 0)
	CondMI Cond = 0b0100 // Negative (N == 1)
	CondPL Cond = 0b0101 // Positive or zero (N == 0)
	CondVS Cond = 0b0110 // Overflow (V == 1)
	CondVC Cond = 0b0111 // No overflow (V == 0)
	CondHI Cond = 0b1000 // Unsigned higher (C == 1 && Z == 0)
	CondLS Cond = 0b1001 // Unsigned lower or same (C == 0 || Z == 1)
	CondGE Cond = 0b1010 // Signed greater than or equal (N == V)
	CondLT Cond = 0b1011 // Signed less than (N != V)
	CondGT Cond = 0b1100 // Signed greater than (Z == 0 && N == V)
	CondLE Cond = 0b1101 // Signed less than or equal (Z == 1 || N != V)
	CondAL Cond = 0b1110 // Always
	CondNV Cond = 0b1111 // Unconditional encoding space
)

// Hint identifies a hint instruction.
type Hint uint8

// Hints.
const (
	HintNOP   Hint = 0
	HintYIELD Hint = 1
	HintWFE   Hint = 2
	HintWFI   Hint = 3
	HintSEV   Hint = 4
	HintSEVL  Hint = 5
)

// PSTATE fields written by the A64 MSR (immediate) form. The values are
// op1<<3 | op2.
const (
	PSTATEUAO     = 0<<3 | 3
	PSTATEPAN     = 0<<3 | 4
	PSTATESPSel   = 0<<3 | 5
	PSTATEDAIFSet = 3<<3 | 6
	PSTATEDAIFClr = 3<<3 | 7
)

// Instruction represents a decoded system instruction.
type Instruction struct {
	Op     Op     // Operation code
	Format Format // Encoding format
	ISA    ISA    // Instruction set of the encoding
	Size   uint8  // Encoding length in bytes
	Cond   Cond   // AArch32 condition; CondAL in A64

	// System register operands. For AArch32 coprocessor transfers Op1 and
	// Op2 hold opc1 and opc2.
	Op0, Op1, CRn, CRm, Op2 uint8
	CP                      uint8 // Coprocessor number, 14 or 15
	Rt, Rt2                 uint8 // Transfer registers
	IsRead                  bool  // true for MRS, SYSL, MRC and MRRC

	// Imm is the exception immediate, the MSR (immediate) CRm, or the
	// SUBS PC, LR offset.
	Imm uint32

	// Status register operands.
	SPSR bool  // MRS/MSR names the SPSR rather than CPSR
	Mask uint8 // MSR field mask: c, x, s, f in bits 0-3
	// ImmValue is set when MSR writes an immediate; the value is in Imm.
	ImmValue bool

	// CPS operands.
	IMod       uint8 // 0b10 enables, 0b11 disables the AIF masks
	ChangeMode bool
	Mode       uint8
	AIF        uint8 // A, I, F in bits 2, 1, 0

	Hint Hint
}

// Decoder decodes machine code into system instructions.
type Decoder struct{}

// NewDecoder creates a new instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit A64 instruction word.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{Op: OpUnknown, ISA: ISAA64, Size: 4, Cond: CondAL}

	switch {
	case d.isExceptionGen(word):
		d.decodeExceptionGen(word, inst)
	case d.isSystem(word):
		d.decodeSystem(word, inst)
	case word == 0xd69f03e0:
		inst.Op = OpERET
		inst.Format = FormatReturn
	}

	return inst
}

// isExceptionGen checks for SVC, HVC, SMC, BRK and HLT.
// Format: 11010100 | opc | imm16 | op2 | LL
func (d *Decoder) isExceptionGen(word uint32) bool {
	return word>>24 == 0xd4 && (word>>2)&0x7 == 0
}

func (d *Decoder) decodeExceptionGen(word uint32, inst *Instruction) {
	opc := (word >> 21) & 0x7     // bits [23:21]
	imm16 := (word >> 5) & 0xffff // bits [20:5]
	ll := word & 0x3              // bits [1:0]

	inst.Format = FormatException
	inst.Imm = imm16

	switch {
	case opc == 0 && ll == 1:
		inst.Op = OpSVC
	case opc == 0 && ll == 2:
		inst.Op = OpHVC
	case opc == 0 && ll == 3:
		inst.Op = OpSMC
	case opc == 1 && ll == 0:
		inst.Op = OpBRK
	case opc == 2 && ll == 0:
		inst.Op = OpHLT
	default:
		inst.Format = FormatUnknown
		inst.Imm = 0
	}
}

// isSystem checks for the system instruction class.
// Format: 1101010100 | L | op0 | op1 | CRn | CRm | op2 | Rt
func (d *Decoder) isSystem(word uint32) bool {
	return word>>22 == 0b1101010100
}

func (d *Decoder) decodeSystem(word uint32, inst *Instruction) {
	l := (word >> 21) & 0x1

	inst.Op0 = uint8(word>>19) & 0x3
	inst.Op1 = uint8(word>>16) & 0x7
	inst.CRn = uint8(word>>12) & 0xf
	inst.CRm = uint8(word>>8) & 0xf
	inst.Op2 = uint8(word>>5) & 0x7
	inst.Rt = uint8(word) & 0x1f
	inst.IsRead = l == 1

	switch inst.Op0 {
	case 0:
		d.decodeSystemOp0(inst, l)
	case 1:
		inst.Format = FormatSysReg
		inst.Op = OpSYS
		if l == 1 {
			inst.Op = OpSYSL
		}
	default:
		inst.Format = FormatSysReg
		inst.Op = OpMSR
		if l == 1 {
			inst.Op = OpMRS
		}
	}
}

// decodeSystemOp0 handles hints, barriers and MSR (immediate).
func (d *Decoder) decodeSystemOp0(inst *Instruction, l uint32) {
	if l == 1 || inst.Rt != 31 {
		return
	}
	switch inst.CRn {
	case 2:
		inst.Op = OpHint
		inst.Format = FormatHint
		inst.Hint = Hint(inst.CRm<<3 | inst.Op2)
	case 3:
		if inst.Op2 >= 2 {
			inst.Op = OpBarrier
			inst.Format = FormatHint
		}
	case 4:
		inst.Op = OpMSRImm
		inst.Format = FormatPSTATE
		inst.Imm = uint32(inst.CRm)
		inst.ImmValue = true
	}
}

// DecodeA32 decodes a 32-bit A32 instruction word.
func (d *Decoder) DecodeA32(word uint32) *Instruction {
	inst := &Instruction{Op: OpUnknown, ISA: ISAA32, Size: 4, Cond: Cond(word >> 28)}

	if inst.Cond == CondNV {
		d.decodeA32Unconditional(word, inst)
		return inst
	}

	switch {
	case (word>>24)&0xf == 0xf:
		inst.Op = OpSVC
		inst.Format = FormatException
		inst.Imm = word & 0xffffff
	case (word>>24)&0xf == 0xe && (word>>4)&1 == 1:
		d.decodeCoproc(word, inst)
	case (word>>21)&0x7f == 0b1100010:
		d.decodeCoproc64(word, inst)
	case (word>>23)&0x1f == 0b00010 && (word>>20)&1 == 0 && (word>>4)&0xf == 0x7:
		d.decodeA32ExceptionGen(word, inst)
	case word&0x0fffffff == 0x0160006e:
		inst.Op = OpERET
		inst.Format = FormatReturn
	case word&0x0fffff00 == 0x025ef000:
		// SUBS PC, LR, #imm8 with rotation zero.
		inst.Op = OpSUBSPCLR
		inst.Format = FormatReturn
		inst.Imm = word & 0xff
	case word&0x0fffffff == 0x01b0f00e:
		// MOVS PC, LR
		inst.Op = OpSUBSPCLR
		inst.Format = FormatReturn
	case word&0x0fbf0fff == 0x010f0000:
		inst.Op = OpMRSPSR
		inst.Format = FormatPSTATE
		inst.SPSR = (word>>22)&1 == 1
		inst.Rt = uint8(word>>12) & 0xf
		inst.IsRead = true
	case word&0x0fb0fff0 == 0x0120f000:
		inst.Op = OpMSRPSR
		inst.Format = FormatPSTATE
		inst.SPSR = (word>>22)&1 == 1
		inst.Mask = uint8(word>>16) & 0xf
		inst.Rt = uint8(word) & 0xf
	case word&0x0fb0f000 == 0x0320f000:
		d.decodeA32MSRImm(word, inst)
	case word&0x0ff000f0 == 0x07f000f0:
		inst.Op = OpUDF
		inst.Format = FormatException
		inst.Imm = (word>>4)&0xfff0 | word&0xf
	}

	return inst
}

// decodeA32ExceptionGen decodes BKPT, HVC, SMC and HLT.
// Format: cond | 00010 | op | 0 | imm12 | 0111 | imm4
func (d *Decoder) decodeA32ExceptionGen(word uint32, inst *Instruction) {
	op := (word >> 21) & 0x3
	imm16 := (word>>4)&0xfff0 | word&0xf

	inst.Format = FormatException
	inst.Imm = imm16
	switch op {
	case 0b00:
		inst.Op = OpHLT
	case 0b01:
		inst.Op = OpBKPT
	case 0b10:
		inst.Op = OpHVC
	case 0b11:
		inst.Op = OpSMC
		inst.Imm = word & 0xf
	}
}

// decodeA32MSRImm decodes MSR (immediate), or a hint when the mask is
// empty. The immediate is an 8-bit value rotated right by twice the
// rotation field.
func (d *Decoder) decodeA32MSRImm(word uint32, inst *Instruction) {
	mask := uint8(word>>16) & 0xf
	spsr := (word>>22)&1 == 1
	if mask == 0 && !spsr {
		inst.Op = OpHint
		inst.Format = FormatHint
		inst.Hint = Hint(word & 0xff)
		return
	}

	rot := ((word >> 8) & 0xf) * 2
	imm8 := word & 0xff

	inst.Op = OpMSRPSR
	inst.Format = FormatPSTATE
	inst.SPSR = spsr
	inst.Mask = mask
	inst.ImmValue = true
	inst.Imm = imm8>>rot | imm8<<((32-rot)&31)
}

// decodeCoproc decodes MCR and MRC.
// Format: cond | 1110 | opc1 | L | CRn | Rt | coproc | opc2 | 1 | CRm
func (d *Decoder) decodeCoproc(word uint32, inst *Instruction) {
	cp := uint8(word>>8) & 0xf
	if cp != 14 && cp != 15 {
		return
	}

	inst.Format = FormatCoproc
	inst.CP = cp
	inst.Op1 = uint8(word>>21) & 0x7
	inst.IsRead = (word>>20)&1 == 1
	inst.CRn = uint8(word>>16) & 0xf
	inst.Rt = uint8(word>>12) & 0xf
	inst.Op2 = uint8(word>>5) & 0x7
	inst.CRm = uint8(word) & 0xf

	inst.Op = OpMCR
	if inst.IsRead {
		inst.Op = OpMRC
	}
}

// decodeCoproc64 decodes MCRR and MRRC.
// Format: cond | 1100010 | L | Rt2 | Rt | coproc | opc1 | CRm
func (d *Decoder) decodeCoproc64(word uint32, inst *Instruction) {
	cp := uint8(word>>8) & 0xf
	if cp != 14 && cp != 15 {
		return
	}

	inst.Format = FormatCoproc
	inst.CP = cp
	inst.IsRead = (word>>20)&1 == 1
	inst.Rt2 = uint8(word>>16) & 0xf
	inst.Rt = uint8(word>>12) & 0xf
	inst.Op1 = uint8(word>>4) & 0xf
	inst.CRm = uint8(word) & 0xf

	inst.Op = OpMCRR
	if inst.IsRead {
		inst.Op = OpMRRC
	}
}

// decodeA32Unconditional decodes CPS.
// Format: 111100010000 | imod | M | 0 | 0000000 | A | I | F | 0 | mode
func (d *Decoder) decodeA32Unconditional(word uint32, inst *Instruction) {
	if word&0xfff1fe20 != 0xf1000000 {
		return
	}
	inst.Cond = CondAL
	inst.Op = OpCPS
	inst.Format = FormatPSTATE
	inst.IMod = uint8(word>>18) & 0x3
	inst.ChangeMode = (word>>17)&1 == 1
	inst.AIF = uint8(word>>6) & 0x7
	inst.Mode = uint8(word) & 0x1f
}

// ThumbIs32 reports whether a T32 encoding whose first halfword is hw is
// 32 bits long.
func ThumbIs32(hw uint16) bool {
	return hw>>11 >= 0b11101
}

// DecodeThumb decodes a T32 instruction. For 32-bit encodings word holds
// the first halfword in bits [31:16]; for 16-bit encodings it holds the
// halfword in bits [15:0].
func (d *Decoder) DecodeThumb(word uint32) *Instruction {
	if ThumbIs32(uint16(word >> 16)) {
		return d.decodeThumb32(word)
	}
	return d.decodeThumb16(uint16(word))
}

func (d *Decoder) decodeThumb16(hw uint16) *Instruction {
	inst := &Instruction{Op: OpUnknown, ISA: ISAT32, Size: 2, Cond: CondAL}

	switch {
	case hw>>8 == 0xdf:
		inst.Op = OpSVC
		inst.Format = FormatException
		inst.Imm = uint32(hw & 0xff)
	case hw>>8 == 0xde:
		inst.Op = OpUDF
		inst.Format = FormatException
		inst.Imm = uint32(hw & 0xff)
	case hw>>8 == 0xbe:
		inst.Op = OpBKPT
		inst.Format = FormatException
		inst.Imm = uint32(hw & 0xff)
	case hw&0xffc0 == 0xba80:
		inst.Op = OpHLT
		inst.Format = FormatException
		inst.Imm = uint32(hw & 0x3f)
	case hw&0xffe8 == 0xb660:
		inst.Op = OpCPS
		inst.Format = FormatPSTATE
		inst.IMod = 0b10 | uint8(hw>>4)&1
		inst.AIF = uint8(hw) & 0x7
	case hw&0xff0f == 0xbf00:
		inst.Op = OpHint
		inst.Format = FormatHint
		inst.Hint = Hint(hw>>4) & 0xf
	}

	return inst
}

func (d *Decoder) decodeThumb32(word uint32) *Instruction {
	inst := &Instruction{Op: OpUnknown, ISA: ISAT32, Size: 4, Cond: CondAL}

	switch {
	case (word>>24)&0xef == 0xee && (word>>4)&1 == 1:
		// MCR/MRC share the A32 layout below the condition field.
		d.decodeCoproc(word, inst)
	case (word>>20)&0xefe == 0xec4:
		d.decodeCoproc64(word, inst)
	case word&0xfff0f000 == 0xf7e08000:
		inst.Op = OpHVC
		inst.Format = FormatException
		inst.Imm = (word>>16)&0xf<<12 | word&0xfff
	case word&0xfff0ffff == 0xf7f08000:
		inst.Op = OpSMC
		inst.Format = FormatException
		inst.Imm = (word >> 16) & 0xf
	case word == 0xf3de8f00:
		inst.Op = OpERET
		inst.Format = FormatReturn
	case word&0xffffff00 == 0xf3de8f00:
		inst.Op = OpSUBSPCLR
		inst.Format = FormatReturn
		inst.Imm = word & 0xff
	case word&0xffeff0ff == 0xf3ef8000:
		inst.Op = OpMRSPSR
		inst.Format = FormatPSTATE
		inst.SPSR = (word>>20)&1 == 1
		inst.Rt = uint8(word>>8) & 0xf
		inst.IsRead = true
	case word&0xffe0f0ff == 0xf3808000:
		inst.Op = OpMSRPSR
		inst.Format = FormatPSTATE
		inst.SPSR = (word>>20)&1 == 1
		inst.Rt = uint8(word>>16) & 0xf
		inst.Mask = uint8(word>>8) & 0xf
	case word&0xfff0f000 == 0xf7f0a000:
		inst.Op = OpUDF
		inst.Format = FormatException
		inst.Imm = (word>>16)&0xf<<12 | word&0xfff
	}

	return inst
}
