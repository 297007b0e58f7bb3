package emu

import (
	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/insts"
)

// MiscUnit executes the miscellaneous opcode (0x18): memory and trap
// barriers, prefetch hints, the cycle counter, and the interrupt
// flag primitives.
type MiscUnit struct {
	cpu *CPU
}

// NewMiscUnit creates a miscellaneous unit for the given CPU.
func NewMiscUnit(cpu *CPU) *MiscUnit {
	return &MiscUnit{cpu: cpu}
}

// Execute performs the operation. Execution is architecturally
// in-order here, so the trap barriers have nothing left to drain and
// complete immediately.
func (u *MiscUnit) Execute(inst *insts.Instruction) {
	c := u.cpu

	switch inst.Op {
	case insts.OpTRAPB, insts.OpEXCB:
		// Arithmetic traps retire with the instruction that raised
		// them; the barrier is already satisfied.

	case insts.OpMB:
		c.bus.Barrier(c.id, arch.BarrierFull)
	case insts.OpWMB:
		c.bus.Barrier(c.id, arch.BarrierWrite)

	case insts.OpFETCH, insts.OpFETCHM:
		// Prefetch hints carry no architectural effect.

	case insts.OpRPCC:
		// Low half is the cycle count, high half the process offset
		// loaded by SWPCTX.
		c.regFile.WriteReg(inst.Ra, uint64(c.pccOff)<<32|c.cycles&0xFFFFFFFF)

	case insts.OpRC:
		c.regFile.WriteReg(inst.Ra, boolToReg(c.intrFlag))
		c.intrFlag = false
	case insts.OpRS:
		c.regFile.WriteReg(inst.Ra, boolToReg(c.intrFlag))
		c.intrFlag = true

	default:
		c.pending.raise(&arch.Fault{Kind: arch.FaultIllegalInstruction})
	}
}
