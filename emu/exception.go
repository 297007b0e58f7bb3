package emu

import "github.com/sarchlab/axpsim/arch"

// Executors never abort execution directly. On a detected fault they
// record it here; retirement consumes the record, populates the
// exception IPRs, and vectors the PC.

// pendingFault is the per-instruction fault latch.
type pendingFault struct {
	fault *arch.Fault
}

func (p *pendingFault) raise(f *arch.Fault) {
	if p.fault == nil {
		p.fault = f
	}
}

func (p *pendingFault) take() *arch.Fault {
	f := p.fault
	p.fault = nil
	return f
}

// RaiseMemoryException populates EXC_ADDR, EXC_SUM, EXC_PC, and
// EXC_PS from a memory fault, switches to kernel mode in PAL mode
// with interrupts disabled, and returns the memory-management vector
// PC. Reservations do not survive exceptions.
func (c *CPU) RaiseMemoryException(addr uint64, isWrite, isTranslation, isAlignment bool) uint64 {
	kind := arch.FaultAccessViolation
	if isTranslation {
		kind = arch.FaultTranslationMiss
	}
	if isAlignment {
		kind = arch.FaultAlignment
	}
	f := &arch.Fault{Kind: kind, VA: addr, PC: c.PC, Write: isWrite}
	return c.enterException(f)
}

// enterException performs the PAL-entry state machine for a fault:
// save PS and PC, set PAL mode, clear interrupt enable, force kernel
// mode, and vector to PAL_BASE plus the category entry point.
func (c *CPU) enterException(f *arch.Fault) uint64 {
	c.ClearReservation()

	ps := c.iprs.RawRead(IPRPS)
	c.iprs.SaveExceptionState(ExceptionFrame{PC: c.PC, PS: ps})

	var param uint64
	category := f.EntryIndex()
	switch category {
	case arch.EntryMemory:
		param = f.VA
		c.iprs.RawWrite(IPREXCSUM, f.ExcSum())
	case arch.EntryArithmetic:
		param = f.ExcSum()
	}
	vector := c.iprs.HandleException(category, param)

	newPS := arch.PSWithMode(ps, arch.ModeKernel) | arch.PSPAL
	newPS &^= arch.PSIE
	c.iprs.RawWrite(IPRPS, newPS)

	c.events.publishException(ExceptionEvent{CPU: c.id, Kind: f.Kind, PC: c.PC})
	return vector
}
