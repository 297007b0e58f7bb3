package emu

import (
	"math/bits"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/insts"
)

// IntUnit executes the integer operate opcodes (0x10-0x13, 0x1C).
type IntUnit struct {
	regFile *RegFile
	pending *pendingFault
}

// NewIntUnit creates an integer unit over the given register file.
func NewIntUnit(regFile *RegFile, pending *pendingFault) *IntUnit {
	return &IntUnit{regFile: regFile, pending: pending}
}

// operands reads Ra and the Rb-or-literal operand. Literals are
// zero-extended 8-bit values.
func (u *IntUnit) operands(inst *insts.Instruction) (uint64, uint64) {
	a := u.regFile.ReadReg(inst.Ra)
	if inst.IsLiteral {
		return a, uint64(inst.Literal)
	}
	return a, u.regFile.ReadReg(inst.Rb)
}

// sext32 sign-extends a longword result to 64 bits.
func sext32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// byteMask returns the data mask for a byte-manipulation size.
func byteMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * size)) - 1
}

// Execute performs the operation and stages the Rc writeback.
// Overflow on a V-suffix variant sets FPCR.IOV (plus SUM) and, when
// the integer overflow trap is enabled, latches an arithmetic fault
// for retirement.
func (u *IntUnit) Execute(inst *insts.Instruction) {
	a, b := u.operands(inst)

	var result uint64
	write := true

	switch inst.Op {
	case insts.OpADDL:
		result = sext32(uint32(a) + uint32(b))
	case insts.OpADDQ:
		result = a + b
	case insts.OpSUBL:
		result = sext32(uint32(a) - uint32(b))
	case insts.OpSUBQ:
		result = a - b

	case insts.OpADDLV:
		sum := uint32(a) + uint32(b)
		result = sext32(sum)
		if (^(uint32(a)^uint32(b))&(uint32(a)^sum))>>31 != 0 {
			u.overflow()
		}
	case insts.OpADDQV:
		result = a + b
		if (^(a^b)&(a^result))>>63 != 0 {
			u.overflow()
		}
	case insts.OpSUBLV:
		diff := uint32(a) - uint32(b)
		result = sext32(diff)
		if ((uint32(a)^uint32(b))&(uint32(a)^diff))>>31 != 0 {
			u.overflow()
		}
	case insts.OpSUBQV:
		result = a - b
		if ((a^b)&(a^result))>>63 != 0 {
			u.overflow()
		}

	case insts.OpS4ADDL:
		result = sext32(uint32(a)*4 + uint32(b))
	case insts.OpS8ADDL:
		result = sext32(uint32(a)*8 + uint32(b))
	case insts.OpS4SUBL:
		result = sext32(uint32(a)*4 - uint32(b))
	case insts.OpS8SUBL:
		result = sext32(uint32(a)*8 - uint32(b))
	case insts.OpS4ADDQ:
		result = a*4 + b
	case insts.OpS8ADDQ:
		result = a*8 + b
	case insts.OpS4SUBQ:
		result = a*4 - b
	case insts.OpS8SUBQ:
		result = a*8 - b

	case insts.OpCMPEQ:
		result = boolToReg(a == b)
	case insts.OpCMPLT:
		result = boolToReg(int64(a) < int64(b))
	case insts.OpCMPLE:
		result = boolToReg(int64(a) <= int64(b))
	case insts.OpCMPULT:
		result = boolToReg(a < b)
	case insts.OpCMPULE:
		result = boolToReg(a <= b)
	case insts.OpCMPBGE:
		for i := 0; i < 8; i++ {
			if uint8(a>>(8*i)) >= uint8(b>>(8*i)) {
				result |= 1 << i
			}
		}

	case insts.OpMULL:
		result = sext32(uint32(a) * uint32(b))
	case insts.OpMULQ:
		result = a * b
	case insts.OpUMULH:
		result, _ = bits.Mul64(a, b)
	case insts.OpMULLV:
		prod := int64(int32(a)) * int64(int32(b))
		result = sext32(uint32(prod))
		if prod != int64(int32(prod)) {
			u.overflow()
		}
	case insts.OpMULQV:
		hi, lo := bits.Mul64(a, b)
		// Correct the unsigned high word into the signed high word.
		shi := hi - (a>>63)*b - (b>>63)*a
		result = lo
		if shi != uint64(int64(lo)>>63) {
			u.overflow()
		}

	case insts.OpAND:
		result = a & b
	case insts.OpBIC:
		result = a &^ b
	case insts.OpBIS:
		result = a | b
	case insts.OpORNOT:
		result = a | ^b
	case insts.OpXOR:
		result = a ^ b
	case insts.OpEQV:
		result = a ^ ^b

	case insts.OpCMOVEQ:
		result, write = b, a == 0
	case insts.OpCMOVNE:
		result, write = b, a != 0
	case insts.OpCMOVLT:
		result, write = b, int64(a) < 0
	case insts.OpCMOVGE:
		result, write = b, int64(a) >= 0
	case insts.OpCMOVLE:
		result, write = b, int64(a) <= 0
	case insts.OpCMOVGT:
		result, write = b, int64(a) > 0
	case insts.OpCMOVLBS:
		result, write = b, a&1 != 0
	case insts.OpCMOVLBC:
		result, write = b, a&1 == 0

	case insts.OpSLL:
		result = a << (b & 0x3F)
	case insts.OpSRL:
		result = a >> (b & 0x3F)
	case insts.OpSRA:
		result = uint64(int64(a) >> (b & 0x3F))

	case insts.OpEXTBL:
		result = u.extractLow(a, b, 1)
	case insts.OpEXTWL:
		result = u.extractLow(a, b, 2)
	case insts.OpEXTLL:
		result = u.extractLow(a, b, 4)
	case insts.OpEXTQL:
		result = u.extractLow(a, b, 8)
	case insts.OpEXTWH:
		result = u.extractHigh(a, b, 2)
	case insts.OpEXTLH:
		result = u.extractHigh(a, b, 4)
	case insts.OpEXTQH:
		result = u.extractHigh(a, b, 8)

	case insts.OpINSBL:
		result = u.insertLow(a, b, 1)
	case insts.OpINSWL:
		result = u.insertLow(a, b, 2)
	case insts.OpINSLL:
		result = u.insertLow(a, b, 4)
	case insts.OpINSQL:
		result = u.insertLow(a, b, 8)
	case insts.OpINSWH:
		result = u.insertHigh(a, b, 2)
	case insts.OpINSLH:
		result = u.insertHigh(a, b, 4)
	case insts.OpINSQH:
		result = u.insertHigh(a, b, 8)

	case insts.OpMSKBL:
		result = u.maskLow(a, b, 1)
	case insts.OpMSKWL:
		result = u.maskLow(a, b, 2)
	case insts.OpMSKLL:
		result = u.maskLow(a, b, 4)
	case insts.OpMSKQL:
		result = u.maskLow(a, b, 8)
	case insts.OpMSKWH:
		result = u.maskHigh(a, b, 2)
	case insts.OpMSKLH:
		result = u.maskHigh(a, b, 4)
	case insts.OpMSKQH:
		result = u.maskHigh(a, b, 8)

	case insts.OpZAP:
		result = zapBytes(a, uint8(b))
	case insts.OpZAPNOT:
		result = zapBytes(a, ^uint8(b))

	case insts.OpSEXTB:
		result = uint64(int64(int8(b)))
	case insts.OpSEXTW:
		result = uint64(int64(int16(b)))
	case insts.OpCTPOP:
		result = uint64(bits.OnesCount64(b))
	case insts.OpCTLZ:
		result = uint64(bits.LeadingZeros64(b))
	case insts.OpCTTZ:
		result = uint64(bits.TrailingZeros64(b))

	default:
		u.pending.raise(&arch.Fault{Kind: arch.FaultIllegalInstruction})
		return
	}

	if write {
		u.regFile.WriteReg(inst.Rc, result)
	}
}

// overflow records an integer overflow: IOV plus SUM always, an
// arithmetic trap only when enabled.
func (u *IntUnit) overflow() {
	u.regFile.SetFPCRStatus(FPCRIov)
	if u.regFile.TrapEnabled(FPCRIov) {
		u.pending.raise(&arch.Fault{Kind: arch.FaultArithmetic})
	}
}

// extractLow implements EXTxL: shift Ra right by the byte offset in
// Rb and keep size bytes.
func (u *IntUnit) extractLow(a, b uint64, size int) uint64 {
	shift := (b & 0x7) * 8
	return (a >> shift) & byteMask(size)
}

// extractHigh implements EXTxH using the 128-bit shift formulation
// of the architecture manual.
func (u *IntUnit) extractHigh(a, b uint64, size int) uint64 {
	shift := (64 - (b&0x7)*8) & 0x3F
	return (a << shift) & byteMask(size)
}

// insertLow implements INSxL.
func (u *IntUnit) insertLow(a, b uint64, size int) uint64 {
	shift := (b & 0x7) * 8
	return (a & byteMask(size)) << shift
}

// insertHigh implements INSxH: the bytes that overflow past bit 63
// when the datum is placed at the byte offset.
func (u *IntUnit) insertHigh(a, b uint64, size int) uint64 {
	bl := b & 0x7
	if bl == 0 {
		return 0
	}
	return (a & byteMask(size)) >> (64 - 8*bl)
}

// maskLow implements MSKxL: clear size bytes at the byte offset.
func (u *IntUnit) maskLow(a, b uint64, size int) uint64 {
	shift := (b & 0x7) * 8
	return a &^ (byteMask(size) << shift)
}

// maskHigh implements MSKxH.
func (u *IntUnit) maskHigh(a, b uint64, size int) uint64 {
	bl := b & 0x7
	if bl == 0 {
		return a
	}
	return a &^ (byteMask(size) >> (64 - 8*bl))
}

// zapBytes clears every byte of v whose bit is set in mask.
func zapBytes(v uint64, mask uint8) uint64 {
	for i := 0; i < 8; i++ {
		if mask&(1<<i) != 0 {
			v &^= uint64(0xFF) << (8 * i)
		}
	}
	return v
}
