package insts

// Instruction encoders. Each encoder is the exact inverse of the
// corresponding decode path, so Decode(Encode(...)) round-trips
// bit-for-bit. Tests and the built-in demo programs assemble with
// these.

// EncodeMemory builds a memory-format word: LDA, loads, and stores.
func EncodeMemory(opcode uint8, ra, rb uint8, disp int16) uint32 {
	return uint32(opcode&0x3F)<<26 |
		uint32(ra&0x1F)<<21 |
		uint32(rb&0x1F)<<16 |
		uint32(uint16(disp))
}

// EncodeOperate builds an integer operate word with a register
// operand in Rb.
func EncodeOperate(opcode uint8, fn uint8, ra, rb, rc uint8) uint32 {
	return uint32(opcode&0x3F)<<26 |
		uint32(ra&0x1F)<<21 |
		uint32(rb&0x1F)<<16 |
		uint32(fn&0x7F)<<5 |
		uint32(rc&0x1F)
}

// EncodeOperateLit builds an integer operate word with an 8-bit
// literal operand (bit 12 set).
func EncodeOperateLit(opcode uint8, fn uint8, ra uint8, lit uint8, rc uint8) uint32 {
	return uint32(opcode&0x3F)<<26 |
		uint32(ra&0x1F)<<21 |
		uint32(lit)<<13 |
		1<<12 |
		uint32(fn&0x7F)<<5 |
		uint32(rc&0x1F)
}

// EncodeFP builds a floating-operate word with an 11-bit function.
func EncodeFP(opcode uint8, fn uint16, fa, fb, fc uint8) uint32 {
	return uint32(opcode&0x3F)<<26 |
		uint32(fa&0x1F)<<21 |
		uint32(fb&0x1F)<<16 |
		uint32(fn&0x7FF)<<5 |
		uint32(fc&0x1F)
}

// FPFunction composes an 11-bit floating function field from its
// parts: operation nibble, source format, rounding mode, and trap
// qualifiers.
func FPFunction(op uint8, src FPFormat, round RoundMode, trap uint8) uint16 {
	return uint16(op&0xF) |
		uint16(src&0x3)<<4 |
		uint16(round&0x3)<<6 |
		uint16(trap&0x7)<<8
}

// EncodeBranch builds a branch-format word. disp is in instructions.
func EncodeBranch(opcode uint8, ra uint8, disp int32) uint32 {
	return uint32(opcode&0x3F)<<26 |
		uint32(ra&0x1F)<<21 |
		uint32(disp)&0x1FFFFF
}

// EncodeJump builds a jump-format word (opcode 0x1A).
func EncodeJump(jumpType uint8, ra, rb uint8, hint uint16) uint32 {
	return uint32(0x1A)<<26 |
		uint32(ra&0x1F)<<21 |
		uint32(rb&0x1F)<<16 |
		uint32(jumpType&0x3)<<14 |
		uint32(hint&0x3FFF)
}

// EncodePAL builds a CALL_PAL word with a 26-bit function.
func EncodePAL(fn uint32) uint32 {
	return fn & 0x3FFFFFF
}

// EncodeMisc builds a miscellaneous-format word (opcode 0x18) with
// the function code in the displacement field.
func EncodeMisc(fn uint16, ra, rb uint8) uint32 {
	return uint32(0x18)<<26 |
		uint32(ra&0x1F)<<21 |
		uint32(rb&0x1F)<<16 |
		uint32(fn)
}

// EncodeHWMFPR builds an HW_MFPR word reading the numbered IPR.
func EncodeHWMFPR(ra uint8, ipr uint16) uint32 {
	return uint32(0x19)<<26 | uint32(ra&0x1F)<<21 | uint32(ipr)
}

// EncodeHWMTPR builds an HW_MTPR word writing the numbered IPR.
func EncodeHWMTPR(ra uint8, ipr uint16) uint32 {
	return uint32(0x1D)<<26 | uint32(ra&0x1F)<<21 | uint32(ipr)
}
