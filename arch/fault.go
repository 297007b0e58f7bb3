package arch

import "fmt"

// FaultKind classifies an execution or memory fault.
type FaultKind uint8

// Fault kinds.
const (
	FaultNone FaultKind = iota
	FaultTranslationMiss
	FaultProtection
	FaultAlignment
	FaultAccessViolation
	FaultArithmetic
	FaultFloatingPoint
	FaultIllegalInstruction
	FaultPrivilegeViolation
	FaultMachineCheck
	FaultPAL
	FaultBreakpoint
	FaultSystemCall
)

// String returns the fault kind name.
func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultTranslationMiss:
		return "translation-miss"
	case FaultProtection:
		return "protection-fault"
	case FaultAlignment:
		return "alignment-fault"
	case FaultAccessViolation:
		return "access-violation"
	case FaultArithmetic:
		return "arithmetic-fault"
	case FaultFloatingPoint:
		return "floating-point-fault"
	case FaultIllegalInstruction:
		return "illegal-instruction"
	case FaultPrivilegeViolation:
		return "privilege-violation"
	case FaultMachineCheck:
		return "machine-check"
	case FaultPAL:
		return "pal-exception"
	case FaultBreakpoint:
		return "breakpoint"
	case FaultSystemCall:
		return "system-call"
	}
	return "invalid"
}

// Fault is a structured fault record produced by the memory system or
// an executor and consumed at instruction retirement.
type Fault struct {
	Kind        FaultKind
	VA          uint64
	PC          uint64
	Word        uint32
	Write       bool
	Instruction bool
}

// Error implements the error interface so faults can flow through
// ordinary error plumbing at the engine boundary.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s at VA=0x%X PC=0x%X", f.Kind, f.VA, f.PC)
}

// EntryIndex returns the exception vector category for the fault.
func (f *Fault) EntryIndex() int {
	switch f.Kind {
	case FaultArithmetic, FaultFloatingPoint:
		return EntryArithmetic
	case FaultTranslationMiss, FaultProtection, FaultAlignment, FaultAccessViolation:
		return EntryMemory
	default:
		return EntrySystem
	}
}

// ExcSum composes the EXC_SUM bits for a memory fault.
func (f *Fault) ExcSum() uint64 {
	var sum uint64
	if f.Write {
		sum |= ExcSumWrite
	} else {
		sum |= ExcSumFaultOnRead
	}
	switch f.Kind {
	case FaultTranslationMiss:
		sum |= ExcSumTransNotValid
	case FaultProtection, FaultAccessViolation, FaultPrivilegeViolation:
		sum |= ExcSumAccessViolation
	case FaultAlignment:
		sum |= ExcSumAlignment
	}
	return sum
}
