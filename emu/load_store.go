package emu

import (
	"math"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/insts"
)

// Bus is the CPU-side view of the memory system. Implementations
// perform translation, cache lookup, and coherency for the calling
// CPU; the CPU's privilege mode and address-space number are obtained
// through the context it registered.
//
// A returned fault carries the faulting virtual address; the caller
// latches it for retirement.
type Bus interface {
	// Fetch reads the instruction word at va.
	Fetch(cpuID int, va uint64) (uint32, *arch.Fault)

	// Read reads size bytes (1, 2, 4, or 8) at va, little-endian.
	Read(cpuID int, va uint64, size int) (uint64, *arch.Fault)

	// Write writes size bytes at va.
	Write(cpuID int, va uint64, size int, value uint64) *arch.Fault

	// LoadLocked reads size bytes and installs an LL/SC reservation
	// over the enclosing aligned quadword.
	LoadLocked(cpuID int, va uint64, size int) (uint64, *arch.Fault)

	// StoreConditional writes size bytes if the CPU still holds a
	// valid reservation covering va. It reports whether the store
	// succeeded.
	StoreConditional(cpuID int, va uint64, size int, value uint64) (bool, *arch.Fault)

	// ReadPhys and WritePhys access physical memory directly,
	// bypassing translation. PAL routines use them for hardware
	// context blocks.
	ReadPhys(pa uint64, size int) (uint64, *arch.Fault)
	WritePhys(pa uint64, size int, value uint64) *arch.Fault

	// Barrier orders this CPU's memory operations.
	Barrier(cpuID int, kind arch.BarrierKind)

	// SyncInstructionStream discards the CPU's cached instruction
	// stream so subsequent fetches observe prior data writes.
	SyncInstructionStream(cpuID int)
}

// MemUnit executes the memory-format instructions: address
// calculation, loads, stores, the unaligned quadword pair, the
// floating-point formats, and load-locked/store-conditional.
type MemUnit struct {
	regFile *RegFile
	bus     Bus
	pending *pendingFault
	events  *Events
	cpuID   int
}

// NewMemUnit creates a memory unit bound to the given bus.
func NewMemUnit(cpuID int, regFile *RegFile, bus Bus, pending *pendingFault) *MemUnit {
	return &MemUnit{regFile: regFile, bus: bus, pending: pending, cpuID: cpuID}
}

// effectiveAddr computes Rb plus the sign-extended displacement.
func (u *MemUnit) effectiveAddr(inst *insts.Instruction) uint64 {
	return u.regFile.ReadReg(inst.Rb) + uint64(int64(inst.Disp))
}

// checkAlign latches an alignment fault for a natural-alignment
// violation. LDQ_U and STQ_U never reach here.
func (u *MemUnit) checkAlign(va uint64, size int, write bool) bool {
	if size > 1 && va&uint64(size-1) != 0 {
		u.pending.raise(&arch.Fault{Kind: arch.FaultAlignment, VA: va, Write: write})
		return false
	}
	return true
}

// notifyWrite reports a committed store on the event hub.
func (u *MemUnit) notifyWrite(va uint64, size int, value uint64) {
	u.events.publishMemoryWrite(MemoryWriteEvent{CPU: u.cpuID, VA: va, Size: size, Value: value})
}

// fpStatus mirrors the floating-point unit's status recording for
// format conversions performed at load/store boundaries.
func (u *MemUnit) fpStatus(bit uint64) {
	u.regFile.SetFPCRStatus(bit)
	if u.regFile.TrapEnabled(bit) {
		u.pending.raise(&arch.Fault{Kind: arch.FaultFloatingPoint})
	}
}

// Execute performs the memory operation.
func (u *MemUnit) Execute(inst *insts.Instruction) {
	va := u.effectiveAddr(inst)

	switch inst.Op {
	case insts.OpLDA:
		u.regFile.WriteReg(inst.Ra, va)
	case insts.OpLDAH:
		u.regFile.WriteReg(inst.Ra, u.regFile.ReadReg(inst.Rb)+uint64(int64(inst.Disp))<<16)

	case insts.OpLDBU:
		u.load(inst.Ra, va, 1, false)
	case insts.OpLDWU:
		u.load(inst.Ra, va, 2, false)
	case insts.OpLDL:
		u.load(inst.Ra, va, 4, true)
	case insts.OpLDQ:
		u.load(inst.Ra, va, 8, false)
	case insts.OpLDQU:
		if v, f := u.bus.Read(u.cpuID, va&^7, 8); f == nil {
			u.regFile.WriteReg(inst.Ra, v)
		} else {
			u.pending.raise(f)
		}

	case insts.OpSTB:
		u.store(inst.Ra, va, 1)
	case insts.OpSTW:
		u.store(inst.Ra, va, 2)
	case insts.OpSTL:
		u.store(inst.Ra, va, 4)
	case insts.OpSTQ:
		u.store(inst.Ra, va, 8)
	case insts.OpSTQU:
		if f := u.bus.Write(u.cpuID, va&^7, 8, u.regFile.ReadReg(inst.Ra)); f != nil {
			u.pending.raise(f)
		} else {
			u.notifyWrite(va&^7, 8, u.regFile.ReadReg(inst.Ra))
		}

	case insts.OpLDLL:
		u.loadLocked(inst.Ra, va, 4)
	case insts.OpLDQL:
		u.loadLocked(inst.Ra, va, 8)
	case insts.OpSTLC:
		u.storeConditional(inst.Ra, va, 4)
	case insts.OpSTQC:
		u.storeConditional(inst.Ra, va, 8)

	case insts.OpLDS:
		if !u.checkAlign(va, 4, false) {
			return
		}
		if v, f := u.bus.Read(u.cpuID, va, 4); f == nil {
			single := math.Float32frombits(uint32(v))
			u.regFile.WriteFloat(inst.Ra, math.Float64bits(float64(single)))
		} else {
			u.pending.raise(f)
		}
	case insts.OpLDT:
		if !u.checkAlign(va, 8, false) {
			return
		}
		if v, f := u.bus.Read(u.cpuID, va, 8); f == nil {
			u.regFile.WriteFloat(inst.Ra, v)
		} else {
			u.pending.raise(f)
		}
	case insts.OpLDF:
		if !u.checkAlign(va, 4, false) {
			return
		}
		if v, f := u.bus.Read(u.cpuID, va, 4); f == nil {
			u.loadVAX(inst.Ra, func() (float64, bool) { return VAXFToHost(uint32(v)) })
		} else {
			u.pending.raise(f)
		}
	case insts.OpLDG:
		if !u.checkAlign(va, 8, false) {
			return
		}
		if v, f := u.bus.Read(u.cpuID, va, 8); f == nil {
			u.loadVAX(inst.Ra, func() (float64, bool) { return VAXGToHost(v) })
		} else {
			u.pending.raise(f)
		}

	case insts.OpSTS:
		if !u.checkAlign(va, 4, true) {
			return
		}
		d := math.Float64frombits(u.regFile.ReadFloat(inst.Ra))
		bits := uint64(math.Float32bits(float32(d)))
		if f := u.bus.Write(u.cpuID, va, 4, bits); f != nil {
			u.pending.raise(f)
		} else {
			u.notifyWrite(va, 4, bits)
		}
	case insts.OpSTT:
		if !u.checkAlign(va, 8, true) {
			return
		}
		if f := u.bus.Write(u.cpuID, va, 8, u.regFile.ReadFloat(inst.Ra)); f != nil {
			u.pending.raise(f)
		} else {
			u.notifyWrite(va, 8, u.regFile.ReadFloat(inst.Ra))
		}
	case insts.OpSTF:
		if !u.checkAlign(va, 4, true) {
			return
		}
		d := math.Float64frombits(u.regFile.ReadFloat(inst.Ra))
		bits, overflow := HostToVAXF(d)
		if overflow {
			u.fpStatus(FPCROvf)
		}
		if f := u.bus.Write(u.cpuID, va, 4, uint64(bits)); f != nil {
			u.pending.raise(f)
		} else {
			u.notifyWrite(va, 4, uint64(bits))
		}
	case insts.OpSTG:
		if !u.checkAlign(va, 8, true) {
			return
		}
		d := math.Float64frombits(u.regFile.ReadFloat(inst.Ra))
		bits, overflow := HostToVAXG(d)
		if overflow {
			u.fpStatus(FPCROvf)
		}
		if f := u.bus.Write(u.cpuID, va, 8, bits); f != nil {
			u.pending.raise(f)
		} else {
			u.notifyWrite(va, 8, bits)
		}

	default:
		u.pending.raise(&arch.Fault{Kind: arch.FaultIllegalInstruction})
	}
}

func (u *MemUnit) load(ra uint8, va uint64, size int, signExtend bool) {
	if !u.checkAlign(va, size, false) {
		return
	}
	v, f := u.bus.Read(u.cpuID, va, size)
	if f != nil {
		u.pending.raise(f)
		return
	}
	if signExtend {
		v = sext32(uint32(v))
	}
	u.regFile.WriteReg(ra, v)
}

func (u *MemUnit) store(ra uint8, va uint64, size int) {
	if !u.checkAlign(va, size, true) {
		return
	}
	value := u.regFile.ReadReg(ra)
	if f := u.bus.Write(u.cpuID, va, size, value); f != nil {
		u.pending.raise(f)
		return
	}
	u.notifyWrite(va, size, value)
}

// loadVAX commits a decoded VAX value, raising INV and loading zero
// for a reserved operand.
func (u *MemUnit) loadVAX(ra uint8, decode func() (float64, bool)) {
	v, reserved := decode()
	if reserved {
		u.fpStatus(FPCRInv)
		u.regFile.WriteFloat(ra, 0)
		return
	}
	u.regFile.WriteFloat(ra, math.Float64bits(v))
}

func (u *MemUnit) loadLocked(ra uint8, va uint64, size int) {
	if !u.checkAlign(va, size, false) {
		return
	}
	v, f := u.bus.LoadLocked(u.cpuID, va, size)
	if f != nil {
		u.pending.raise(f)
		return
	}
	if size == 4 {
		v = sext32(uint32(v))
	}
	u.regFile.WriteReg(ra, v)
}

// storeConditional writes Ra back as 1 on success and 0 on a lost
// reservation.
func (u *MemUnit) storeConditional(ra uint8, va uint64, size int) {
	if !u.checkAlign(va, size, true) {
		return
	}
	value := u.regFile.ReadReg(ra)
	ok, f := u.bus.StoreConditional(u.cpuID, va, size, value)
	if f != nil {
		u.pending.raise(f)
		return
	}
	if ok {
		u.notifyWrite(va, size, value)
	}
	u.regFile.WriteReg(ra, boolToReg(ok))
}
