package emu

import (
	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/insts"
)

// BranchUnit resolves control-transfer instructions: unconditional
// and conditional branches (0x30-0x3F), floating-point branches, and
// the jump group (0x1A).
type BranchUnit struct {
	regFile *RegFile
	pending *pendingFault
}

// NewBranchUnit creates a branch unit over the given register file.
func NewBranchUnit(regFile *RegFile, pending *pendingFault) *BranchUnit {
	return &BranchUnit{regFile: regFile, pending: pending}
}

// Execute resolves the branch at pc. It returns the next PC and
// whether the transfer was taken; a not-taken branch falls through to
// pc+4.
func (u *BranchUnit) Execute(inst *insts.Instruction, pc uint64) (uint64, bool) {
	fallthru := pc + 4

	if inst.Format == insts.FormatJump {
		// The displacement field is a branch-prediction hint only;
		// the target comes from Rb with the low bits cleared.
		target := u.regFile.ReadReg(inst.Rb) &^ 3
		u.regFile.WriteReg(inst.Ra, fallthru)
		return target, true
	}

	target := inst.BranchTarget(pc)

	switch inst.Op {
	case insts.OpBR, insts.OpBSR:
		u.regFile.WriteReg(inst.Ra, fallthru)
		return target, true

	case insts.OpBEQ:
		return u.resolve(u.regFile.ReadReg(inst.Ra) == 0, target, fallthru)
	case insts.OpBNE:
		return u.resolve(u.regFile.ReadReg(inst.Ra) != 0, target, fallthru)
	case insts.OpBLT:
		return u.resolve(int64(u.regFile.ReadReg(inst.Ra)) < 0, target, fallthru)
	case insts.OpBLE:
		return u.resolve(int64(u.regFile.ReadReg(inst.Ra)) <= 0, target, fallthru)
	case insts.OpBGT:
		return u.resolve(int64(u.regFile.ReadReg(inst.Ra)) > 0, target, fallthru)
	case insts.OpBGE:
		return u.resolve(int64(u.regFile.ReadReg(inst.Ra)) >= 0, target, fallthru)
	case insts.OpBLBC:
		return u.resolve(u.regFile.ReadReg(inst.Ra)&1 == 0, target, fallthru)
	case insts.OpBLBS:
		return u.resolve(u.regFile.ReadReg(inst.Ra)&1 != 0, target, fallthru)

	case insts.OpFBEQ:
		return u.resolve(u.floatZero(inst.Ra), target, fallthru)
	case insts.OpFBNE:
		return u.resolve(!u.floatZero(inst.Ra), target, fallthru)
	case insts.OpFBLT:
		return u.resolve(u.floatNegative(inst.Ra) && !u.floatZero(inst.Ra), target, fallthru)
	case insts.OpFBLE:
		return u.resolve(u.floatNegative(inst.Ra) || u.floatZero(inst.Ra), target, fallthru)
	case insts.OpFBGT:
		return u.resolve(!u.floatNegative(inst.Ra) && !u.floatZero(inst.Ra), target, fallthru)
	case insts.OpFBGE:
		return u.resolve(!u.floatNegative(inst.Ra) || u.floatZero(inst.Ra), target, fallthru)
	}

	u.pending.raise(&arch.Fault{Kind: arch.FaultIllegalInstruction, PC: pc})
	return fallthru, false
}

func (u *BranchUnit) resolve(taken bool, target, fallthru uint64) (uint64, bool) {
	if taken {
		return target, true
	}
	return fallthru, false
}

// floatZero tests for positive or negative zero.
func (u *BranchUnit) floatZero(reg uint8) bool {
	return u.regFile.ReadFloat(reg)&^fpSignBit == 0
}

func (u *BranchUnit) floatNegative(reg uint8) bool {
	return u.regFile.ReadFloat(reg)&fpSignBit != 0
}
