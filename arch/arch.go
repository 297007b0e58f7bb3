// Package arch defines Alpha AXP architectural constants shared by the
// decoder, the executors, and the memory system.
package arch

// Mode is a processor privilege mode. The encoding matches the
// current-mode field of the processor status word.
type Mode uint8

// Privilege modes, most privileged first.
const (
	ModeKernel Mode = iota
	ModeExecutive
	ModeSupervisor
	ModeUser
)

// String returns the conventional short name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeKernel:
		return "kernel"
	case ModeExecutive:
		return "executive"
	case ModeSupervisor:
		return "supervisor"
	case ModeUser:
		return "user"
	}
	return "invalid"
}

// MorePrivilegedThan reports whether m is strictly more privileged
// than other. Lower encodings are more privileged.
func (m Mode) MorePrivilegedThan(other Mode) bool {
	return m < other
}

// Processor status word layout. The architected current-mode field
// occupies bits 1:0; the PAL-mode flag, IPL, and interrupt-enable
// flag live above it. EXC_PS saves and restores the whole word, so
// PAL entry and return are exact.
const (
	PSModeMask  uint64 = 0x3
	PSModeShift        = 0
	PSPAL       uint64 = 1 << 2
	PSIPLMask   uint64 = 0x7 << 3
	PSIPLShift         = 3
	PSIE        uint64 = 1 << 6
	PSSWMask    uint64 = 0x3 << 7
	PSSWShift          = 7
)

// PSReset is the processor status at reset: kernel mode, PAL-mode
// off, interrupts disabled, IPL 0.
const PSReset uint64 = 0

// PSMode extracts the current mode from a PS word.
func PSMode(ps uint64) Mode {
	return Mode(ps & PSModeMask)
}

// PSWithMode returns ps with the current-mode field replaced.
func PSWithMode(ps uint64, m Mode) uint64 {
	return (ps &^ PSModeMask) | uint64(m)
}

// PSIPL extracts the interrupt priority level from a PS word.
func PSIPL(ps uint64) uint8 {
	return uint8((ps & PSIPLMask) >> PSIPLShift)
}

// PSSW extracts the software field from a PS word.
func PSSW(ps uint64) uint8 {
	return uint8((ps & PSSWMask) >> PSSWShift)
}

// PSWithSW returns ps with the software field replaced.
func PSWithSW(ps uint64, sw uint8) uint64 {
	return (ps &^ PSSWMask) | (uint64(sw&0x3) << PSSWShift)
}

// PSWithIPL returns ps with the IPL field replaced.
func PSWithIPL(ps uint64, ipl uint8) uint64 {
	return (ps &^ PSIPLMask) | (uint64(ipl&0x7) << PSIPLShift)
}

// AccessType classifies a memory access for translation and
// protection checking.
type AccessType uint8

// Access types.
const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExecute
)

// String returns the access type name.
func (t AccessType) String() string {
	switch t {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExecute:
		return "execute"
	}
	return "invalid"
}

// BarrierKind selects a memory barrier flavor.
type BarrierKind uint8

// Barrier kinds. Acquire and Release are issued implicitly by the
// load-locked prologue and store-conditional epilogue.
const (
	BarrierRead BarrierKind = iota
	BarrierWrite
	BarrierFull
	BarrierAcquire
	BarrierRelease
)

// Virtual memory geometry. Pages are 8 KiB; the physical address
// space is at most 44 bits.
const (
	PageShift           = 13
	PageSize            = 1 << PageShift
	PageMask            = PageSize - 1
	PhysAddrBits        = 44
	PhysAddrMask uint64 = (1 << PhysAddrBits) - 1
)

// VPN returns the virtual page number of va.
func VPN(va uint64) uint64 {
	return va >> PageShift
}

// PageAlign returns va rounded down to its page base.
func PageAlign(va uint64) uint64 {
	return va &^ uint64(PageMask)
}

// Page table entry layout. The PFN field starts at bit 13; the low
// bits carry protection.
const (
	PTEValid       uint64 = 1 << 0
	PTEWriteEnable uint64 = 1 << 1
	PTEExecEnable  uint64 = 1 << 2
	PTEKernelOnly  uint64 = 1 << 3
	PTEGlobal      uint64 = 1 << 4
	PTEPFNShift           = 13
)

// ASN is an 8-bit address space number. ASN 0 tags global mappings.
const (
	ASNBits   = 8
	ASNGlobal = 0
)

// PAL entry points are spaced 0x40 bytes apart from PAL_BASE.
const PALEntryStride uint64 = 0x40

// Exception vector categories. The index selects one of the
// pre-populated exception entry points in the IPR bank.
const (
	EntrySystem     = 0
	EntryArithmetic = 1
	EntryInterrupt  = 2
	EntryMemory     = 3
)

// EXC_SUM bit assignments.
const (
	ExcSumWrite           uint64 = 1 << 0
	ExcSumAccessViolation uint64 = 1 << 1
	ExcSumFaultOnRead     uint64 = 1 << 2
	ExcSumTransNotValid   uint64 = 1 << 3
	ExcSumAlignment       uint64 = 1 << 4
)
