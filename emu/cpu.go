package emu

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/insts"
)

// TLBControl is the CPU's handle on its translation buffer, owned by
// the memory system. TLB-management IPR writes and PAL services
// forward through it.
type TLBControl interface {
	InvalidateAll(cpuID int)
	InvalidateProcess(cpuID int)
	InvalidateEntry(cpuID int, va uint64)
	InvalidateDataEntry(cpuID int, va uint64)
	InvalidateInstrEntry(cpuID int, va uint64)
}

// Stats counts retired work on one CPU.
type Stats struct {
	Instructions uint64
	Cycles       uint64

	IntOps        uint64
	FPOps         uint64
	Loads         uint64
	Stores        uint64
	Branches      uint64
	BranchesTaken uint64
	PALCalls      uint64
	Exceptions    uint64
	Interrupts    uint64
}

// StepResult reports one retired instruction.
type StepResult struct {
	PC     uint64
	Inst   *insts.Instruction
	Fault  *arch.Fault
	Halted bool
}

// CPU is one emulated Alpha processor: register files, IPR bank,
// decoder, and the per-family execution units, driven by a
// fetch/decode/execute/retire step.
type CPU struct {
	id      int
	PC      uint64
	regFile *RegFile
	iprs    *IPRBank
	events  *Events
	bus     Bus
	decoder *insts.Decoder
	pending *pendingFault

	intUnit    *IntUnit
	fpUnit     *FPUnit
	branchUnit *BranchUnit
	memUnit    *MemUnit
	miscUnit   *MiscUnit
	palUnit    *PALUnit

	cycles   uint64
	pccOff   uint32
	intrFlag bool
	halted   bool
	stats    Stats

	interlock *sync.Mutex
	tlbs      TLBControl
	ipiSend   func(target int)

	ipiPending atomic.Bool

	resMu sync.Mutex
}

// CPUOption configures a CPU at construction.
type CPUOption func(*CPU)

// WithBus connects the CPU to a memory system.
func WithBus(b Bus) CPUOption {
	return func(c *CPU) { c.bus = b }
}

// WithEvents attaches an event hub.
func WithEvents(e *Events) CPUOption {
	return func(c *CPU) { c.events = e }
}

// WithTLBControl attaches the memory system's TLB handle.
func WithTLBControl(t TLBControl) CPUOption {
	return func(c *CPU) { c.tlbs = t }
}

// WithInterlock shares the interlocked-queue mutex across CPUs.
func WithInterlock(m *sync.Mutex) CPUOption {
	return func(c *CPU) { c.interlock = m }
}

// WithIPISender routes IPIR writes to the SMP manager.
func WithIPISender(send func(target int)) CPUOption {
	return func(c *CPU) { c.ipiSend = send }
}

// NewCPU creates a CPU with the given hardware identity.
func NewCPU(id int, opts ...CPUOption) *CPU {
	c := &CPU{
		id:        id,
		decoder:   insts.NewDecoder(),
		regFile:   &RegFile{},
		pending:   &pendingFault{},
		interlock: &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.iprs = NewIPRBank(id, c.events)
	c.iprs.SetSideEffects(c)

	c.regFile.OnFPCRUpdate = func(fpcr uint64) {
		c.events.publishFPCR(FpcrUpdatedEvent{CPU: c.id, FPCR: fpcr})
	}

	c.intUnit = NewIntUnit(c.regFile, c.pending)
	c.fpUnit = NewFPUnit(c.regFile, c.pending)
	c.branchUnit = NewBranchUnit(c.regFile, c.pending)
	c.memUnit = NewMemUnit(c.id, c.regFile, c.bus, c.pending)
	c.memUnit.events = c.events
	c.miscUnit = NewMiscUnit(c)
	c.palUnit = NewPALUnit(c)
	return c
}

// ID returns the hardware CPU number.
func (c *CPU) ID() int { return c.id }

// Bus returns the memory system handle.
func (c *CPU) Bus() Bus { return c.bus }

// RegFile exposes the register file.
func (c *CPU) RegFile() *RegFile { return c.regFile }

// IPRs exposes the internal processor register bank.
func (c *CPU) IPRs() *IPRBank { return c.iprs }

// Cycles returns the cycle counter.
func (c *CPU) Cycles() uint64 { return c.cycles }

// Stats returns a snapshot of the retirement counters.
func (c *CPU) Stats() Stats {
	s := c.stats
	s.Cycles = c.cycles
	return s
}

// Halted reports whether the CPU has executed HALT.
func (c *CPU) Halted() bool { return c.halted }

// Halt stops the CPU as if it had executed HALT.
func (c *CPU) Halt() { c.halted = true }

// Reset clears architectural state and restarts at startPC.
func (c *CPU) Reset(startPC uint64) {
	c.regFile.Clear()
	c.iprs.Clear()
	c.PC = startPC
	c.cycles = 0
	c.pccOff = 0
	c.intrFlag = false
	c.halted = false
	c.stats = Stats{}
	c.pending.take()
	c.ipiPending.Store(false)
}

// Step retires one instruction, or delivers one pending interrupt.
func (c *CPU) Step() StepResult {
	if c.halted {
		return StepResult{PC: c.PC, Halted: true}
	}
	c.cycles++

	if vector, ok := c.checkInterrupts(); ok {
		c.PC = vector
		c.stats.Interrupts++
		return StepResult{PC: c.PC}
	}

	word, f := c.bus.Fetch(c.id, c.PC)
	if f != nil {
		f.PC = c.PC
		c.PC = c.enterException(f)
		c.stats.Exceptions++
		return StepResult{PC: c.PC, Fault: f}
	}

	return c.retire(c.decoder.Decode(word), word)
}

// ExecuteDecoded retires an instruction already fetched and decoded
// at the current PC. Pipelined engines perform fetch and decode in
// their own stages and commit here, so architectural state changes
// stay in program order.
func (c *CPU) ExecuteDecoded(inst *insts.Instruction, word uint32) StepResult {
	if c.halted {
		return StepResult{PC: c.PC, Halted: true}
	}
	c.cycles++

	if vector, ok := c.checkInterrupts(); ok {
		c.PC = vector
		c.stats.Interrupts++
		return StepResult{PC: c.PC}
	}

	return c.retire(inst, word)
}

// retire executes and commits one instruction.
func (c *CPU) retire(inst *insts.Instruction, word uint32) StepResult {
	next := c.execute(inst)

	fault := c.pending.take()
	if fault != nil {
		fault.PC = c.PC
		if fault.Word == 0 {
			fault.Word = word
		}
		next = c.enterException(fault)
		c.stats.Exceptions++
	}

	c.PC = next
	c.stats.Instructions++
	return StepResult{PC: c.PC, Inst: inst, Fault: fault, Halted: c.halted}
}

// execute routes the decoded instruction to its unit and returns the
// next PC.
func (c *CPU) execute(inst *insts.Instruction) uint64 {
	next := c.PC + 4

	switch {
	case inst.Op == insts.OpUnknown:
		c.pending.raise(&arch.Fault{Kind: arch.FaultIllegalInstruction, PC: c.PC})

	case inst.Op == insts.OpCALLPAL:
		next = c.palUnit.Execute(inst, c.PC)
		c.stats.PALCalls++

	case inst.Op == insts.OpHWMFPR || inst.Op == insts.OpHWMTPR:
		c.palUnit.ExecuteHWMove(inst)

	case inst.Format == insts.FormatBranch || inst.Format == insts.FormatJump:
		if inst.IsFloat() && !c.floatEnabled() {
			c.pending.raise(&arch.Fault{Kind: arch.FaultFloatingPoint, PC: c.PC})
			break
		}
		var taken bool
		next, taken = c.branchUnit.Execute(inst, c.PC)
		c.stats.Branches++
		if taken {
			c.stats.BranchesTaken++
		}

	case inst.Opcode == 0x18:
		c.miscUnit.Execute(inst)

	case inst.Opcode >= 0x14 && inst.Opcode <= 0x17:
		if !c.floatEnabled() {
			c.pending.raise(&arch.Fault{Kind: arch.FaultFloatingPoint, PC: c.PC})
			break
		}
		c.fpUnit.Execute(inst)
		c.stats.FPOps++

	case inst.Format == insts.FormatOperate:
		c.intUnit.Execute(inst)
		c.stats.IntOps++

	case inst.Format == insts.FormatMemory || inst.Format == insts.FormatMemoryFunc:
		if inst.IsFloat() && !c.floatEnabled() {
			c.pending.raise(&arch.Fault{Kind: arch.FaultFloatingPoint, PC: c.PC})
			break
		}
		c.memUnit.Execute(inst)
		if inst.Opcode >= 0x0A && inst.Opcode <= 0x0F || inst.Opcode >= 0x20 && inst.Opcode <= 0x2F {
			if isStoreOpcode(inst.Opcode) {
				c.stats.Stores++
			} else {
				c.stats.Loads++
			}
		}

	default:
		c.pending.raise(&arch.Fault{Kind: arch.FaultIllegalInstruction, PC: c.PC})
	}
	return next
}

func isStoreOpcode(opcode uint8) bool {
	switch opcode {
	case 0x0D, 0x0E, 0x0F, 0x24, 0x25, 0x26, 0x27, 0x2C, 0x2D, 0x2E, 0x2F:
		return true
	}
	return false
}

// floatEnabled reports whether floating-point instructions may
// execute: FEN set, or running in PAL mode.
func (c *CPU) floatEnabled() bool {
	if c.iprs.RawRead(IPRPS)&arch.PSPAL != 0 {
		return true
	}
	return c.iprs.RawRead(IPRFEN) != 0
}

// Run steps the CPU until it halts or the context is canceled.
func (c *CPU) Run(ctx context.Context) error {
	for !c.halted {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.Step()
	}
	return nil
}

// RunFor steps at most n instructions, stopping early on halt.
func (c *CPU) RunFor(n uint64) {
	for i := uint64(0); i < n && !c.halted; i++ {
		c.Step()
	}
}

// checkInterrupts delivers the highest-priority pending interrupt
// when the PS permits. IPIs outrank software interrupts; software
// interrupt levels must exceed the current IPL.
func (c *CPU) checkInterrupts() (uint64, bool) {
	ps := c.iprs.RawRead(IPRPS)
	if ps&arch.PSIE == 0 || ps&arch.PSPAL != 0 {
		return 0, false
	}

	if c.ipiPending.Swap(false) {
		return c.enterInterrupt(uint64(c.id)), true
	}

	sisr := c.iprs.RawRead(IPRSISR)
	ipl := arch.PSIPL(ps)
	for level := 15; level > int(ipl); level-- {
		if sisr&(1<<uint(level)) != 0 {
			c.iprs.RawWrite(IPRSISR, sisr&^(1<<uint(level)))
			return c.enterInterrupt(uint64(level)), true
		}
	}
	return 0, false
}

// enterInterrupt performs the PAL-entry transition for an interrupt.
func (c *CPU) enterInterrupt(param uint64) uint64 {
	ps := c.iprs.RawRead(IPRPS)
	c.iprs.SaveExceptionState(ExceptionFrame{PC: c.PC, PS: ps})
	vector := c.iprs.HandleException(arch.EntryInterrupt, param)
	c.iprs.RawWrite(IPRPS, palEntryPS(ps))
	return vector
}

// PostIPI marks an interprocessor interrupt pending. Safe to call
// from another CPU's goroutine.
func (c *CPU) PostIPI() {
	c.ipiPending.Store(true)
}

// IPRSideEffects implementation: IPR writes with behavior reach the
// CPU here.

// TLBInvalidateAll drops every TLB entry for this CPU.
func (c *CPU) TLBInvalidateAll() {
	if c.tlbs != nil {
		c.tlbs.InvalidateAll(c.id)
	}
	c.events.publishTLBInvalidated(TlbInvalidatedEvent{CPU: c.id, Scope: "all"})
}

// TLBInvalidateProcess drops the non-global entries.
func (c *CPU) TLBInvalidateProcess() {
	if c.tlbs != nil {
		c.tlbs.InvalidateProcess(c.id)
	}
	c.events.publishTLBInvalidated(TlbInvalidatedEvent{CPU: c.id, Scope: "process"})
}

// TLBInvalidateEntry drops the entry mapping va.
func (c *CPU) TLBInvalidateEntry(va uint64) {
	if c.tlbs != nil {
		c.tlbs.InvalidateEntry(c.id, va)
	}
	c.events.publishTLBInvalidated(TlbInvalidatedEvent{CPU: c.id, Scope: "entry", VA: va})
}

// TLBInvalidateDataEntry drops the data-side entry mapping va.
func (c *CPU) TLBInvalidateDataEntry(va uint64) {
	if c.tlbs != nil {
		c.tlbs.InvalidateDataEntry(c.id, va)
	}
	c.events.publishTLBInvalidated(TlbInvalidatedEvent{CPU: c.id, Scope: "data", VA: va})
}

// TLBInvalidateInstrEntry drops the instruction-side entry mapping
// va.
func (c *CPU) TLBInvalidateInstrEntry(va uint64) {
	if c.tlbs != nil {
		c.tlbs.InvalidateInstrEntry(c.id, va)
	}
	c.events.publishTLBInvalidated(TlbInvalidatedEvent{CPU: c.id, Scope: "instr", VA: va})
}

// SetIPL replaces the PS interrupt priority level.
func (c *CPU) SetIPL(ipl uint8) {
	ps := c.iprs.RawRead(IPRPS)
	c.iprs.RawWrite(IPRPS, arch.PSWithIPL(ps, ipl))
}

// PostSoftwareInterrupt records a software interrupt request. The
// SISR summary bit is maintained by the IPR bank; delivery happens
// at the next step boundary.
func (c *CPU) PostSoftwareInterrupt(level uint8) {}

// SendIPI routes an IPIR write to the SMP manager.
func (c *CPU) SendIPI(target int) {
	if c.ipiSend != nil {
		c.ipiSend(target)
	}
}

// Memory-system context: the bus queries the CPU's translation state
// and reservation through these methods.

// Mode returns the current privilege mode.
func (c *CPU) Mode() arch.Mode {
	return arch.PSMode(c.iprs.RawRead(IPRPS))
}

// ASN returns the current address space number.
func (c *CPU) ASN() uint64 {
	return c.iprs.RawRead(IPRASN)
}

// PTBR returns the page table base register.
func (c *CPU) PTBR() uint64 {
	return c.iprs.RawRead(IPRPTBR)
}

// VPTB returns the virtual page table base.
func (c *CPU) VPTB() uint64 {
	return c.iprs.RawRead(IPRVPTB)
}

// MMUEnabled reports whether address translation is on.
func (c *CPU) MMUEnabled() bool {
	return c.iprs.RawRead(IPRMMEnable) != 0
}

// SetReservation installs the LL/SC reservation over the aligned
// quadword containing pa.
func (c *CPU) SetReservation(pa uint64, size int) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	c.regFile.SetReservation(pa&^7, size)
}

// ClearReservation drops the reservation.
func (c *CPU) ClearReservation() {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	c.regFile.ClearReservation()
}

// ClearReservationOverlap drops the reservation if the written range
// touches the reserved quadword. It reports whether a reservation
// was lost.
func (c *CPU) ClearReservationOverlap(pa uint64, size int) bool {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	res := c.regFile.Reservation
	if !res.Valid {
		return false
	}
	lo := pa &^ 7
	hi := (pa + uint64(size) - 1) &^ 7
	if res.Addr < lo || res.Addr > hi {
		return false
	}
	c.regFile.ClearReservation()
	c.events.publishReservationInvalidated(ReservationInvalidatedEvent{CPU: c.id, PA: res.Addr})
	return true
}

// HasReservation reports whether a valid reservation covers the
// aligned quadword at pa.
func (c *CPU) HasReservation(pa uint64) bool {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	return c.regFile.CheckReservation(pa &^ 7)
}
