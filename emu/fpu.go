package emu

import (
	"math"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/insts"
)

// FPUnit executes the floating-point opcodes: IEEE S and T
// arithmetic (0x16), the VAX formats (0x15), square roots (0x14),
// and the data-movement group (0x17).
//
// Registers hold every format widened to an IEEE double bit pattern;
// loads, stores, and conversions translate the memory formats.
// Rounding is emulated in software per operation, so no host
// rounding-mode state leaks across CPUs.
type FPUnit struct {
	regFile *RegFile
	pending *pendingFault
}

// NewFPUnit creates a floating-point unit over the given register
// file.
func NewFPUnit(regFile *RegFile, pending *pendingFault) *FPUnit {
	return &FPUnit{regFile: regFile, pending: pending}
}

const fpSignBit = uint64(1) << 63

// fpTrue is the Alpha encoding of a true comparison result (2.0).
const fpTrue = uint64(0x4000000000000000)

// status records a detected floating-point condition: the FPCR bit
// plus SUM always, a trap only when the condition is enabled.
func (u *FPUnit) status(bit uint64) {
	u.regFile.SetFPCRStatus(bit)
	if u.regFile.TrapEnabled(bit) {
		u.pending.raise(&arch.Fault{Kind: arch.FaultFloatingPoint})
	}
}

// rounding resolves the instruction's rounding mode, consulting the
// FPCR dynamic field when the instruction selects dynamic rounding.
func (u *FPUnit) rounding(mode insts.RoundMode) roundMode {
	switch mode {
	case insts.RoundChopped:
		return roundChopped
	case insts.RoundMinusInf:
		return roundMinusInf
	case insts.RoundNormal:
		return roundNearest
	default:
		switch u.regFile.DynamicRounding() {
		case FPCRDynChopped:
			return roundChopped
		case FPCRDynMinusInf:
			return roundMinusInf
		case FPCRDynPlusInf:
			return roundPlusInf
		default:
			return roundNearest
		}
	}
}

// Execute performs the operation and stages the Fc writeback.
func (u *FPUnit) Execute(inst *insts.Instruction) {
	switch inst.Opcode {
	case 0x17:
		u.executeDataMove(inst)
	default:
		u.executeArith(inst)
	}
}

func (u *FPUnit) executeArith(inst *insts.Instruction) {
	fa := math.Float64frombits(u.regFile.ReadFloat(inst.Ra))
	fb := math.Float64frombits(u.regFile.ReadFloat(inst.Rb))
	rm := u.rounding(inst.Round)
	single := inst.FPSrc == insts.FPFormatS

	switch inst.Op {
	case insts.OpFADD, insts.OpFSUB, insts.OpFMUL, insts.OpFDIV:
		u.arith(inst, fa, fb, rm, single)
	case insts.OpFSQRT:
		u.sqrt(inst, fb, rm, single)
	case insts.OpFCMPUN, insts.OpFCMPEQ, insts.OpFCMPLT, insts.OpFCMPLE:
		u.compare(inst, fa, fb)
	case insts.OpFCVTS, insts.OpFCVTD, insts.OpFCVTT, insts.OpFCVTQ:
		u.convert(inst, fb, rm)
	default:
		u.pending.raise(&arch.Fault{Kind: arch.FaultIllegalInstruction})
	}
}

// arith performs ADD/SUB/MUL/DIV with software rounding and status
// detection.
func (u *FPUnit) arith(inst *insts.Instruction, fa, fb float64, rm roundMode, single bool) {
	if math.IsNaN(fa) || math.IsNaN(fb) {
		u.status(FPCRInv)
		u.writeResult(inst.Rc, math.NaN(), single, inst.VAX)
		return
	}

	var z, residual float64
	switch inst.Op {
	case insts.OpFADD:
		z, residual = addWithResidual(fa, fb)
	case insts.OpFSUB:
		z, residual = addWithResidual(fa, -fb)
	case insts.OpFMUL:
		z = fa * fb
		residual = math.FMA(fa, fb, -z)
	case insts.OpFDIV:
		if fb == 0 {
			if fa == 0 {
				u.status(FPCRInv)
				u.writeResult(inst.Rc, math.NaN(), single, inst.VAX)
			} else {
				u.status(FPCRDze)
				u.writeResult(inst.Rc, math.Inf(sign(fa)*sign(fb)), single, inst.VAX)
			}
			return
		}
		z = fa / fb
		if !math.IsInf(z, 0) {
			residual = -math.FMA(z, fb, -fa)
		}
	}

	// Inf-Inf and 0*Inf surface as NaN from the host arithmetic.
	if math.IsNaN(z) {
		u.status(FPCRInv)
		u.writeResult(inst.Rc, z, single, inst.VAX)
		return
	}

	z = applyRounding(z, residual, rm)
	if residual != 0 {
		u.status(FPCRIne)
	}
	u.finishArith(inst, z, single)
}

func (u *FPUnit) sqrt(inst *insts.Instruction, fb float64, rm roundMode, single bool) {
	if math.IsNaN(fb) || fb < 0 {
		u.status(FPCRInv)
		u.writeResult(inst.Rc, math.NaN(), single, inst.VAX)
		return
	}
	z := math.Sqrt(fb)
	residual := -math.FMA(z, z, -fb)
	z = applyRounding(z, residual, rm)
	if residual != 0 {
		u.status(FPCRIne)
	}
	u.finishArith(inst, z, single)
}

// finishArith applies range status and commits an arithmetic result.
func (u *FPUnit) finishArith(inst *insts.Instruction, z float64, single bool) {
	if single {
		z32 := float32(z)
		if math.IsInf(float64(z32), 0) && !math.IsInf(z, 0) {
			u.status(FPCROvf)
		}
		if z32 == 0 && z != 0 {
			u.status(FPCRUnf)
		}
		z = float64(z32)
	} else {
		if math.IsInf(z, 0) {
			u.status(FPCROvf)
		}
		if z != 0 && math.Abs(z) < math.SmallestNonzeroFloat64*float64(1<<52) && inst.VAX {
			// VAX formats have no denormals: flush to zero.
			u.status(FPCRUnf)
			z = 0
		}
	}
	u.writeResult(inst.Rc, z, single, inst.VAX)
}

func (u *FPUnit) writeResult(rc uint8, z float64, single, vax bool) {
	if vax && math.IsNaN(z) {
		// VAX arithmetic has no NaN; a reserved operand raises INV
		// and delivers zero.
		u.regFile.WriteFloat(rc, 0)
		return
	}
	if single {
		z = float64(float32(z))
	}
	u.regFile.WriteFloat(rc, math.Float64bits(z))
}

// compare writes 2.0 for true and 0.0 for false. CMPxUN is the quiet
// unordered test; the ordered comparisons signal INV on NaN.
func (u *FPUnit) compare(inst *insts.Instruction, fa, fb float64) {
	unordered := math.IsNaN(fa) || math.IsNaN(fb)

	var taken bool
	switch inst.Op {
	case insts.OpFCMPUN:
		taken = unordered
	case insts.OpFCMPEQ:
		if unordered {
			u.status(FPCRInv)
		}
		taken = !unordered && fa == fb
	case insts.OpFCMPLT:
		if unordered {
			u.status(FPCRInv)
		}
		taken = !unordered && fa < fb
	case insts.OpFCMPLE:
		if unordered {
			u.status(FPCRInv)
		}
		taken = !unordered && fa <= fb
	}

	if taken {
		u.regFile.WriteFloat(inst.Rc, fpTrue)
	} else {
		u.regFile.WriteFloat(inst.Rc, 0)
	}
}

// convert handles the format conversions. The source format comes
// from the function field; the destination from the operation.
func (u *FPUnit) convert(inst *insts.Instruction, fb float64, rm roundMode) {
	fromQuad := inst.FPSrc == insts.FPFormatQ
	rawB := u.regFile.ReadFloat(inst.Rb)

	switch inst.Op {
	case insts.OpFCVTQ:
		// To integer quadword with the instruction's rounding mode.
		if math.IsNaN(fb) || math.IsInf(fb, 0) {
			u.status(FPCRInv)
			u.regFile.WriteFloat(inst.Rc, 0)
			return
		}
		z := roundToInt(fb, rm)
		if z != fb {
			u.status(FPCRIne)
		}
		if z > math.MaxInt64 || z < math.MinInt64 {
			u.status(FPCRInv)
			u.regFile.WriteFloat(inst.Rc, 0)
			return
		}
		u.regFile.WriteFloat(inst.Rc, uint64(int64(z)))

	case insts.OpFCVTS:
		var v float64
		if fromQuad {
			v = float64(int64(rawB))
		} else {
			v = fb
		}
		z32 := float32(v)
		if float64(z32) != v {
			u.status(FPCRIne)
		}
		if math.IsInf(float64(z32), 0) && !math.IsInf(v, 0) {
			u.status(FPCROvf)
		}
		if inst.VAX {
			if ok := u.checkVAXRange(float64(z32), inst.Rc, vaxFExpBias, vaxFExpBits); !ok {
				return
			}
		}
		u.regFile.WriteFloat(inst.Rc, math.Float64bits(float64(z32)))

	case insts.OpFCVTT:
		var v float64
		if fromQuad {
			v = float64(int64(rawB))
			if float64(int64(v)) != float64(int64(rawB)) || v != float64(int64(rawB)) {
				u.status(FPCRIne)
			}
		} else {
			v = fb
		}
		if inst.VAX {
			if ok := u.checkVAXRange(v, inst.Rc, vaxGExpBias, vaxGExpBits); !ok {
				return
			}
		}
		u.regFile.WriteFloat(inst.Rc, math.Float64bits(v))

	case insts.OpFCVTD:
		if ok := u.checkVAXRange(fb, inst.Rc, vaxDExpBias, vaxDExpBits); !ok {
			return
		}
		u.regFile.WriteFloat(inst.Rc, math.Float64bits(fb))
	}
}

// checkVAXRange verifies a value fits the destination VAX format:
// overflow raises OVF, underflow flushes the destination to true zero
// with UNF. Returns false when the result was already committed.
func (u *FPUnit) checkVAXRange(v float64, rc uint8, bias, expBits int) bool {
	if v == 0 {
		return true
	}
	_, exp := math.Frexp(math.Abs(v))
	maxExp := (1 << expBits) - 1 - bias
	minExp := 1 - bias
	if exp > maxExp {
		u.status(FPCROvf)
		return true
	}
	if exp < minExp {
		u.regFile.WriteFloat(rc, 0)
		u.status(FPCRUnf)
		return false
	}
	return true
}

// executeDataMove handles opcode 0x17: sign-copy, FCMOV, FPCR moves,
// and the longword converts.
func (u *FPUnit) executeDataMove(inst *insts.Instruction) {
	a := u.regFile.ReadFloat(inst.Ra)
	b := u.regFile.ReadFloat(inst.Rb)

	switch inst.Op {
	case insts.OpCPYS:
		u.regFile.WriteFloat(inst.Rc, (a&fpSignBit)|(b&^fpSignBit))
	case insts.OpCPYSN:
		u.regFile.WriteFloat(inst.Rc, ((a^fpSignBit)&fpSignBit)|(b&^fpSignBit))
	case insts.OpCPYSE:
		// Copy sign and exponent from Fa, fraction from Fb.
		u.regFile.WriteFloat(inst.Rc, (a&0xFFF0000000000000)|(b&0x000FFFFFFFFFFFFF))
	case insts.OpMTFPCR:
		u.regFile.SetFPCR(a)
	case insts.OpMFFPCR:
		u.regFile.WriteFloat(inst.Rc, u.regFile.FPCR())
	case insts.OpFCMOVEQ:
		u.fcmov(inst, a&^fpSignBit == 0, b)
	case insts.OpFCMOVNE:
		u.fcmov(inst, a&^fpSignBit != 0, b)
	case insts.OpFCMOVLT:
		u.fcmov(inst, a&fpSignBit != 0 && a&^fpSignBit != 0, b)
	case insts.OpFCMOVGE:
		u.fcmov(inst, a&fpSignBit == 0 || a&^fpSignBit == 0, b)
	case insts.OpFCMOVLE:
		u.fcmov(inst, a&fpSignBit != 0 || a&^fpSignBit == 0, b)
	case insts.OpFCMOVGT:
		u.fcmov(inst, a&fpSignBit == 0 && a&^fpSignBit != 0, b)
	case insts.OpCVTLQ:
		lw := uint32(((b >> 32) & 0xC0000000) | ((b >> 29) & 0x3FFFFFFF))
		u.regFile.WriteFloat(inst.Rc, uint64(int64(int32(lw))))
	case insts.OpCVTQL:
		if int64(b) != int64(int32(b)) {
			u.status(FPCRIov)
		}
		lw := uint64(uint32(b))
		u.regFile.WriteFloat(inst.Rc, ((lw&0xC0000000)<<32)|((lw&0x3FFFFFFF)<<29))
	default:
		u.pending.raise(&arch.Fault{Kind: arch.FaultIllegalInstruction})
	}
}

func (u *FPUnit) fcmov(inst *insts.Instruction, cond bool, b uint64) {
	if cond {
		u.regFile.WriteFloat(inst.Rc, b)
	}
}

// roundMode is the resolved software rounding mode.
type roundMode uint8

const (
	roundNearest roundMode = iota
	roundChopped
	roundMinusInf
	roundPlusInf
)

// addWithResidual computes a+b and the exact rounding residual using
// the two-sum transformation.
func addWithResidual(a, b float64) (float64, float64) {
	s := a + b
	if math.IsInf(s, 0) {
		return s, 0
	}
	bv := s - a
	av := s - bv
	return s, (a - av) + (b - bv)
}

// applyRounding adjusts a nearest-rounded result z with known
// residual sign toward the requested rounding direction. The
// adjustment is at most one ulp, which is exact for directed modes.
func applyRounding(z, residual float64, rm roundMode) float64 {
	if residual == 0 || math.IsInf(z, 0) {
		return z
	}
	switch rm {
	case roundMinusInf:
		if residual < 0 {
			return math.Nextafter(z, math.Inf(-1))
		}
	case roundPlusInf:
		if residual > 0 {
			return math.Nextafter(z, math.Inf(1))
		}
	case roundChopped:
		if z > 0 && residual < 0 {
			return math.Nextafter(z, 0)
		}
		if z < 0 && residual > 0 {
			return math.Nextafter(z, 0)
		}
	}
	return z
}

// roundToInt rounds to an integral value per the rounding mode,
// with round-half-even for nearest.
func roundToInt(v float64, rm roundMode) float64 {
	switch rm {
	case roundChopped:
		return math.Trunc(v)
	case roundMinusInf:
		return math.Floor(v)
	case roundPlusInf:
		return math.Ceil(v)
	default:
		return math.RoundToEven(v)
	}
}

func sign(v float64) int {
	if math.Signbit(v) {
		return -1
	}
	return 1
}
