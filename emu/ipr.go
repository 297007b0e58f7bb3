package emu

import (
	"sync"

	"github.com/sarchlab/axpsim/arch"
)

// Internal processor register numbering. The dense block below 128
// carries the architected registers; 128..255 is the generic PAL
// temporary window.
const (
	IPRASN = iota
	IPRASTEN
	IPRASTSR
	IPRFEN
	IPRIPIR
	IPRIPLR
	IPRMCES
	IPRPCBB
	IPRPRBR
	IPRPTBR
	IPRSCBB
	IPRSIRR
	IPRSISR
	IPRTBCHK
	IPRTBIA
	IPRTBIAP
	IPRTBIS
	IPRTBISD
	IPRTBISI
	IPRESP
	IPRSSP
	IPRUSP
	IPRKSP
	IPRVPTB
	IPRPERFMON
	IPRWHAMI
	IPRPALBASE
	IPRPS
	IPREXCPC
	IPREXCPS
	IPREXCSUM
	IPREXCADDR
	IPREXCMASK
	IPRUNIQUE
	IPRMMEnable
)

// Exception entry points and performance counters occupy fixed
// blocks of the dense numbering.
const (
	IPREntryBase  = 40
	IPREntryCount = 8
	IPRPerfBase   = 48
	IPRPerfCount  = 8

	IPRPALTempBase  = 128
	IPRPALTempCount = 128

	IPRCount = 256
)

// IPRKind classifies a register slot's behavior.
type IPRKind uint8

// Register kinds.
const (
	IPRKindReadWrite IPRKind = iota
	IPRKindReadOnly
	IPRKindWriteFunction
	IPRKindStackPointer
	IPRKindExceptionState
	IPRKindPALRegister
)

// IPRDescriptor describes one register slot: its access policy,
// reset value, write mask, and hooks. Write-function registers do
// not store values; they trigger side effects.
type IPRDescriptor struct {
	Name      string
	Kind      IPRKind
	Privilege arch.Mode
	PALOnly   bool
	Reset     uint64
	WriteMask uint64

	PreRead   func(index int, value uint64) uint64
	PostRead  func(index int, value uint64)
	PreWrite  func(index int, old, merged uint64) bool
	PostWrite func(index int, old, merged uint64)
}

// IPRSideEffects receives the architected side effects of
// write-function registers.
type IPRSideEffects interface {
	TLBInvalidateAll()
	TLBInvalidateProcess()
	TLBInvalidateEntry(va uint64)
	TLBInvalidateDataEntry(va uint64)
	TLBInvalidateInstrEntry(va uint64)
	SetIPL(ipl uint8)
	PostSoftwareInterrupt(level uint8)
	SendIPI(target int)
}

// ExceptionFrame is the PS/PC pair saved on PAL entry.
type ExceptionFrame struct {
	PC uint64
	PS uint64
}

// IPRBank holds the per-CPU internal processor registers. All access
// goes through Read/Write, which enforce the per-register privilege
// policy; the write path holds the lock across mask-and-merge so
// concurrent writers never produce torn updates.
type IPRBank struct {
	mu     sync.RWMutex
	cpuID  int
	values [IPRCount]uint64
	descs  [IPRCount]*IPRDescriptor

	events  *Events
	effects IPRSideEffects
}

// NewIPRBank creates an IPR bank for the given CPU with default
// descriptors and reset values.
func NewIPRBank(cpuID int, events *Events) *IPRBank {
	b := &IPRBank{cpuID: cpuID, events: events}
	b.installDescriptors()
	b.reset()
	return b
}

// SetSideEffects attaches the receiver for write-function side
// effects.
func (b *IPRBank) SetSideEffects(effects IPRSideEffects) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.effects = effects
}

func (b *IPRBank) installDescriptors() {
	rw := func(name string, priv arch.Mode, mask uint64) *IPRDescriptor {
		return &IPRDescriptor{Name: name, Kind: IPRKindReadWrite, Privilege: priv, WriteMask: mask}
	}
	allBits := ^uint64(0)

	b.descs[IPRASN] = rw("ASN", arch.ModeKernel, 0xFF)
	b.descs[IPRASTEN] = rw("ASTEN", arch.ModeKernel, 0xF)
	b.descs[IPRASTSR] = rw("ASTSR", arch.ModeKernel, 0xF)
	b.descs[IPRFEN] = rw("FEN", arch.ModeKernel, 0x1)
	b.descs[IPRIPIR] = &IPRDescriptor{
		Name: "IPIR", Kind: IPRKindWriteFunction,
		Privilege: arch.ModeKernel, WriteMask: allBits,
	}
	b.descs[IPRIPLR] = &IPRDescriptor{
		Name: "IPLR", Kind: IPRKindReadWrite,
		Privilege: arch.ModeKernel, WriteMask: 0x7,
	}
	b.descs[IPRMCES] = rw("MCES", arch.ModeKernel, 0x7)
	b.descs[IPRPCBB] = rw("PCBB", arch.ModeKernel, allBits)
	b.descs[IPRPRBR] = rw("PRBR", arch.ModeKernel, allBits)
	b.descs[IPRPTBR] = rw("PTBR", arch.ModeKernel, allBits)
	b.descs[IPRSCBB] = rw("SCBB", arch.ModeKernel, allBits)
	b.descs[IPRSIRR] = &IPRDescriptor{
		Name: "SIRR", Kind: IPRKindWriteFunction,
		Privilege: arch.ModeKernel, WriteMask: 0xF,
	}
	b.descs[IPRSISR] = &IPRDescriptor{
		Name: "SISR", Kind: IPRKindReadOnly,
		Privilege: arch.ModeKernel, WriteMask: 0,
	}
	b.descs[IPRTBCHK] = rw("TBCHK", arch.ModeKernel, allBits)
	b.descs[IPRTBIA] = &IPRDescriptor{
		Name: "TBIA", Kind: IPRKindWriteFunction,
		Privilege: arch.ModeKernel, WriteMask: allBits,
	}
	b.descs[IPRTBIAP] = &IPRDescriptor{
		Name: "TBIAP", Kind: IPRKindWriteFunction,
		Privilege: arch.ModeKernel, WriteMask: allBits,
	}
	b.descs[IPRTBIS] = &IPRDescriptor{
		Name: "TBIS", Kind: IPRKindWriteFunction,
		Privilege: arch.ModeKernel, WriteMask: allBits,
	}
	b.descs[IPRTBISD] = &IPRDescriptor{
		Name: "TBISD", Kind: IPRKindWriteFunction,
		Privilege: arch.ModeKernel, WriteMask: allBits,
	}
	b.descs[IPRTBISI] = &IPRDescriptor{
		Name: "TBISI", Kind: IPRKindWriteFunction,
		Privilege: arch.ModeKernel, WriteMask: allBits,
	}

	sp := func(name string, priv arch.Mode) *IPRDescriptor {
		return &IPRDescriptor{
			Name: name, Kind: IPRKindStackPointer,
			Privilege: priv, WriteMask: allBits,
		}
	}
	b.descs[IPRUSP] = sp("USP", arch.ModeUser)
	b.descs[IPRSSP] = sp("SSP", arch.ModeSupervisor)
	b.descs[IPRESP] = sp("ESP", arch.ModeExecutive)
	b.descs[IPRKSP] = sp("KSP", arch.ModeKernel)

	b.descs[IPRVPTB] = rw("VPTB", arch.ModeKernel, allBits)
	b.descs[IPRPERFMON] = rw("PERFMON", arch.ModeKernel, allBits)
	b.descs[IPRWHAMI] = &IPRDescriptor{
		Name: "WHAMI", Kind: IPRKindReadOnly,
		Privilege: arch.ModeUser, WriteMask: 0,
	}
	b.descs[IPRPALBASE] = rw("PAL_BASE", arch.ModeKernel, allBits)
	b.descs[IPRPS] = rw("PS", arch.ModeKernel, allBits)
	b.descs[IPRMMEnable] = rw("MM_ENABLE", arch.ModeKernel, 0x1)
	b.descs[IPRUNIQUE] = rw("UNIQUE", arch.ModeUser, allBits)

	exc := func(name string) *IPRDescriptor {
		return &IPRDescriptor{
			Name: name, Kind: IPRKindExceptionState,
			Privilege: arch.ModeKernel, WriteMask: allBits, PALOnly: true,
		}
	}
	b.descs[IPREXCPC] = exc("EXC_PC")
	b.descs[IPREXCPS] = exc("EXC_PS")
	b.descs[IPREXCSUM] = exc("EXC_SUM")
	b.descs[IPREXCADDR] = exc("EXC_ADDR")
	b.descs[IPREXCMASK] = exc("EXC_MASK")

	for i := 0; i < IPREntryCount; i++ {
		b.descs[IPREntryBase+i] = &IPRDescriptor{
			Name: "ENTRY", Kind: IPRKindReadWrite,
			Privilege: arch.ModeKernel, WriteMask: allBits,
			Reset: uint64(i) * arch.PALEntryStride,
		}
	}
	for i := 0; i < IPRPerfCount; i++ {
		b.descs[IPRPerfBase+i] = &IPRDescriptor{
			Name: "PERF_COUNTER", Kind: IPRKindReadWrite,
			Privilege: arch.ModeKernel, WriteMask: allBits,
		}
	}
	for i := 0; i < IPRPALTempCount; i++ {
		b.descs[IPRPALTempBase+i] = &IPRDescriptor{
			Name: "PAL_TEMP", Kind: IPRKindPALRegister,
			Privilege: arch.ModeKernel, WriteMask: allBits, PALOnly: true,
		}
	}
}

func (b *IPRBank) reset() {
	for i, d := range b.descs {
		if d != nil {
			b.values[i] = d.Reset
		} else {
			b.values[i] = 0
		}
	}
	b.values[IPRWHAMI] = uint64(b.cpuID)
	b.values[IPRPS] = arch.PSReset
	b.values[IPRMMEnable] = 1
}

// Clear resets the bank to defaults with fresh descriptors.
func (b *IPRBank) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.installDescriptors()
	b.reset()
}

// Descriptor returns the descriptor for an IPR number, or nil.
func (b *IPRBank) Descriptor(index int) *IPRDescriptor {
	if index < 0 || index >= IPRCount {
		return nil
	}
	return b.descs[index]
}

// inPALMode reports whether the attached processor status carries
// the PAL-mode flag. Callers hold at least the read lock.
func (b *IPRBank) inPALMode() bool {
	return b.values[IPRPS]&arch.PSPAL != 0
}

// canAccessLocked implements the access policy. PAL-only registers
// require PAL mode; read-only registers reject writes; stack
// pointers and ordinary registers are gated by the privilege ladder.
func (b *IPRBank) canAccessLocked(index int, mode arch.Mode, isWrite bool) bool {
	if index < 0 || index >= IPRCount {
		return false
	}
	d := b.descs[index]
	if d == nil {
		return false
	}
	if d.PALOnly && !b.inPALMode() {
		return false
	}
	if isWrite && d.Kind == IPRKindReadOnly {
		return false
	}
	// The requester must be at least as privileged as the register
	// requires: user <= supervisor <= executive <= kernel.
	return mode <= d.Privilege
}

// CanAccess reports whether the mode may perform the access.
func (b *IPRBank) CanAccess(index int, mode arch.Mode, isWrite bool) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.canAccessLocked(index, mode, isWrite)
}

// Read returns the register value, running pre/post read hooks.
// Reads of invalid or inaccessible registers return zero and emit an
// access event; they never fault.
func (b *IPRBank) Read(index int, mode arch.Mode) uint64 {
	b.mu.RLock()
	if !b.canAccessLocked(index, mode, false) {
		b.mu.RUnlock()
		b.events.publishIPRAccess(IprAccessEvent{CPU: b.cpuID, Index: index, Mode: mode})
		return 0
	}
	d := b.descs[index]
	value := b.values[index]
	b.mu.RUnlock()

	if d.PreRead != nil {
		value = d.PreRead(index, value)
	}
	if d.PostRead != nil {
		d.PostRead(index, value)
	}
	return value
}

// Write validates the access, merges the value through the write
// mask, runs the pre-write hook (which may veto), persists, then
// runs the post-write hook and any architected side effect.
func (b *IPRBank) Write(index int, value uint64, mode arch.Mode) {
	b.mu.Lock()
	if !b.canAccessLocked(index, mode, true) {
		b.mu.Unlock()
		b.events.publishIPRAccess(IprAccessEvent{CPU: b.cpuID, Index: index, Write: true, Mode: mode})
		return
	}

	d := b.descs[index]
	old := b.values[index]
	merged := (value & d.WriteMask) | (old &^ d.WriteMask)

	if d.PreWrite != nil && !d.PreWrite(index, old, merged) {
		b.mu.Unlock()
		return
	}

	if d.Kind != IPRKindWriteFunction {
		b.values[index] = merged
	}
	effects := b.effects
	b.mu.Unlock()

	if d.PostWrite != nil {
		d.PostWrite(index, old, merged)
	}
	b.applySideEffect(index, merged, effects)
	b.events.publishIPRChanged(IprChangedEvent{CPU: b.cpuID, Index: index, Old: old, New: merged})
}

// applySideEffect triggers the architected behavior of the
// write-function registers.
func (b *IPRBank) applySideEffect(index int, value uint64, effects IPRSideEffects) {
	if effects == nil {
		return
	}
	switch index {
	case IPRTBIA:
		effects.TLBInvalidateAll()
	case IPRTBIAP:
		effects.TLBInvalidateProcess()
	case IPRTBIS:
		effects.TLBInvalidateEntry(value)
	case IPRTBISD:
		effects.TLBInvalidateDataEntry(value)
	case IPRTBISI:
		effects.TLBInvalidateInstrEntry(value)
	case IPRIPLR:
		effects.SetIPL(uint8(value & 0x7))
	case IPRSIRR:
		level := uint8(value & 0xF)
		b.mu.Lock()
		b.values[IPRSISR] |= 1 << level
		b.mu.Unlock()
		effects.PostSoftwareInterrupt(level)
	case IPRIPIR:
		effects.SendIPI(int(value))
	}
}

// RawRead returns a register value without access checks. PAL
// service routines and the memory system use it for state the
// hardware consults directly (PS, PTBR, VPTB, ASN).
func (b *IPRBank) RawRead(index int) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index < 0 || index >= IPRCount {
		return 0
	}
	return b.values[index]
}

// RawWrite stores a register value without access checks or hooks.
func (b *IPRBank) RawWrite(index int, value uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= IPRCount {
		return
	}
	b.values[index] = value
}

// Values returns a copy of every register readable in the given
// mode, keyed by IPR number.
func (b *IPRBank) Values(mode arch.Mode) map[int]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[int]uint64)
	for i := 0; i < IPRCount; i++ {
		if b.canAccessLocked(i, mode, false) {
			out[i] = b.values[i]
		}
	}
	return out
}

// SaveExceptionState records the PS/PC pair into EXC_PS/EXC_PC.
func (b *IPRBank) SaveExceptionState(frame ExceptionFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[IPREXCPC] = frame.PC
	b.values[IPREXCPS] = frame.PS
}

// RestoreExceptionState returns the saved PS/PC pair.
func (b *IPRBank) RestoreExceptionState() ExceptionFrame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return ExceptionFrame{PC: b.values[IPREXCPC], PS: b.values[IPREXCPS]}
}

// HandleException records fault details and returns the vector PC
// for the exception category: PAL_BASE plus the category's entry
// point. Memory faults store the faulting address in EXC_ADDR;
// arithmetic faults accumulate EXC_SUM bits.
func (b *IPRBank) HandleException(category int, param uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch category {
	case arch.EntryMemory:
		b.values[IPREXCADDR] = param
	case arch.EntryArithmetic:
		b.values[IPREXCSUM] |= param
	}
	if category < 0 || category >= IPREntryCount {
		category = arch.EntrySystem
	}
	return b.values[IPRPALBASE] + b.values[IPREntryBase+category]
}

// BumpPerfCounter adds to a performance counter, saturating at the
// maximum rather than wrapping.
func (b *IPRBank) BumpPerfCounter(counter int, delta uint64) {
	if counter < 0 || counter >= IPRPerfCount {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.values[IPRPerfBase+counter]
	if v > ^uint64(0)-delta {
		v = ^uint64(0)
	} else {
		v += delta
	}
	b.values[IPRPerfBase+counter] = v
}
