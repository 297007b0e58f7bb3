// Package insts provides Alpha AXP instruction definitions, decoding,
// and encoding.
package insts

// Op identifies a decoded Alpha operation.
type Op uint16

// Alpha operations. The decoder resolves an Op from the opcode plus,
// where the format has one, the function code.
const (
	OpUnknown Op = iota

	// CALL_PAL and the PAL-mode privileged register moves.
	OpCALLPAL
	OpHWMFPR
	OpHWMTPR

	// Integer operate, opcode 0x10.
	OpADDL
	OpADDQ
	OpSUBL
	OpSUBQ
	OpADDLV
	OpADDQV
	OpSUBLV
	OpSUBQV
	OpS4ADDL
	OpS8ADDL
	OpS4SUBL
	OpS8SUBL
	OpS4ADDQ
	OpS8ADDQ
	OpS4SUBQ
	OpS8SUBQ
	OpCMPEQ
	OpCMPLT
	OpCMPLE
	OpCMPULT
	OpCMPULE
	OpCMPBGE

	// Integer logical, opcode 0x11.
	OpAND
	OpBIC
	OpBIS
	OpORNOT
	OpXOR
	OpEQV
	OpCMOVEQ
	OpCMOVNE
	OpCMOVLT
	OpCMOVGE
	OpCMOVLE
	OpCMOVGT
	OpCMOVLBS
	OpCMOVLBC

	// Shift and byte manipulation, opcode 0x12.
	OpSLL
	OpSRL
	OpSRA
	OpEXTBL
	OpEXTWL
	OpEXTLL
	OpEXTQL
	OpEXTWH
	OpEXTLH
	OpEXTQH
	OpINSBL
	OpINSWL
	OpINSLL
	OpINSQL
	OpINSWH
	OpINSLH
	OpINSQH
	OpMSKBL
	OpMSKWL
	OpMSKLL
	OpMSKQL
	OpMSKWH
	OpMSKLH
	OpMSKQH
	OpZAP
	OpZAPNOT

	// Integer multiply, opcode 0x13.
	OpMULL
	OpMULQ
	OpUMULH
	OpMULLV
	OpMULQV

	// Sign extension and counting, opcode 0x1C.
	OpSEXTB
	OpSEXTW
	OpCTPOP
	OpCTLZ
	OpCTTZ

	// Floating-point arithmetic, opcodes 0x14/0x15/0x16. The source
	// format, rounding mode, and trap qualifiers are carried in
	// dedicated instruction fields.
	OpFADD
	OpFSUB
	OpFMUL
	OpFDIV
	OpFSQRT
	OpFCMPUN
	OpFCMPEQ
	OpFCMPLT
	OpFCMPLE
	OpFCVTS // convert to S (IEEE) or F (VAX)
	OpFCVTD // convert to D (VAX)
	OpFCVTT // convert to T (IEEE) or G (VAX)
	OpFCVTQ // convert to integer quadword

	// Floating-point data movement, opcode 0x17.
	OpCPYS
	OpCPYSN
	OpCPYSE
	OpMTFPCR
	OpMFFPCR
	OpFCMOVEQ
	OpFCMOVNE
	OpFCMOVLT
	OpFCMOVGE
	OpFCMOVLE
	OpFCMOVGT
	OpCVTLQ
	OpCVTQL

	// Memory format.
	OpLDA
	OpLDAH
	OpLDBU
	OpLDWU
	OpLDL
	OpLDQ
	OpLDQU
	OpLDLL
	OpLDQL
	OpSTB
	OpSTW
	OpSTL
	OpSTQ
	OpSTQU
	OpSTLC
	OpSTQC
	OpLDF
	OpLDG
	OpLDS
	OpLDT
	OpSTF
	OpSTG
	OpSTS
	OpSTT

	// Branch format.
	OpBR
	OpBSR
	OpBEQ
	OpBNE
	OpBLT
	OpBLE
	OpBGT
	OpBGE
	OpBLBC
	OpBLBS
	OpFBEQ
	OpFBNE
	OpFBLT
	OpFBLE
	OpFBGT
	OpFBGE

	// Jump format, opcode 0x1A.
	OpJMP
	OpJSR
	OpRET
	OpJSRCoroutine

	// Miscellaneous, opcode 0x18.
	OpTRAPB
	OpEXCB
	OpMB
	OpWMB
	OpFETCH
	OpFETCHM
	OpRPCC
	OpRC
	OpRS
)

// Format identifies one of the six Alpha instruction encodings.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatMemory         // Ra, Rb, 16-bit signed displacement
	FormatMemoryFunc     // memory format with a function code in the displacement
	FormatJump           // Ra, Rb, 2-bit jump type, 14-bit hint
	FormatOperate        // Ra, Rb or 8-bit literal, Rc, 7-bit function
	FormatFP             // Fa, Fb, Fc, 11-bit function
	FormatBranch         // Ra, 21-bit signed displacement
	FormatPAL            // 26-bit PAL function
)

// FPFormat identifies a floating-point source/operand format.
type FPFormat uint8

// Floating-point formats. The VAX formats (F, G, D) and IEEE formats
// (S, T) share encodings in the function field; the opcode selects
// the family.
const (
	FPFormatS FPFormat = iota // IEEE single / VAX F
	FPFormatD                 // VAX D
	FPFormatT                 // IEEE double / VAX G
	FPFormatQ                 // integer quadword
)

// RoundMode is a floating-point rounding mode from the function
// field. Plus-infinity rounding is reachable through RoundDynamic
// with the FPCR dynamic rounding field set accordingly.
type RoundMode uint8

// Rounding modes.
const (
	RoundChopped RoundMode = iota
	RoundMinusInf
	RoundNormal
	RoundDynamic
)

// Jump types from bits 15:14 of the jump format.
const (
	JumpJMP = 0
	JumpJSR = 1
	JumpRET = 2
	JumpCoroutine = 3
)

// Instruction is a decoded Alpha instruction.
type Instruction struct {
	Raw    uint32
	Opcode uint8
	Op     Op
	Format Format

	// Register fields. For floating-point instructions these name
	// F registers.
	Ra uint8
	Rb uint8
	Rc uint8

	// Operate format literal operand (bits 20:13, selected by bit 12).
	IsLiteral bool
	Literal   uint8

	// Memory format 16-bit signed displacement.
	Disp int16

	// Branch format displacement, sign-extended, in instructions.
	BranchDisp int32

	// Function code: 7 bits for operate, 11 bits for floating
	// operate, 16 bits for the miscellaneous opcode.
	Function uint16

	// PAL function code (26 bits).
	PALFunc uint32

	// Jump format hint (14 bits) and type (bits 15:14).
	JumpHint uint16
	JumpType uint8

	// Floating-point qualifiers decoded from the function field.
	FPSrc    FPFormat
	Round    RoundMode
	TrapQual uint8
	VAX      bool
}

// IsFloat reports whether the instruction reads or writes the
// floating-point register file.
func (i *Instruction) IsFloat() bool {
	switch i.Opcode {
	case 0x14, 0x15, 0x16, 0x17,
		0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27,
		0x31, 0x32, 0x33, 0x35, 0x36, 0x37:
		return true
	}
	return false
}

// IsBranch reports whether the instruction can redirect the PC.
func (i *Instruction) IsBranch() bool {
	switch i.Format {
	case FormatBranch, FormatJump, FormatPAL:
		return true
	}
	return false
}
