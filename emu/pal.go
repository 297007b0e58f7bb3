package emu

import (
	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/insts"
)

// PAL function codes. Services below 0x40 are privileged; the rest
// are callable from any mode. The set follows the VMS flavor for
// context and queue management with the generic MFPR/MTPR pair for
// register moves.
const (
	PALFuncHalt     = 0x00
	PALFuncCflush   = 0x01
	PALFuncDraina   = 0x02
	PALFuncSwpctx   = 0x05
	PALFuncMfpr     = 0x06
	PALFuncMtpr     = 0x07
	PALFuncSwppal   = 0x0A
	PALFuncWrfen    = 0x2B
	PALFuncWrvptptr = 0x2D
	PALFuncWrval    = 0x31
	PALFuncRdval    = 0x32
	PALFuncTbi      = 0x33
	PALFuncSwpipl   = 0x35
	PALFuncRdps     = 0x36
	PALFuncWrusp    = 0x38
	PALFuncRdusp    = 0x3A
	PALFuncWhami    = 0x3C

	PALFuncBpt     = 0x80
	PALFuncBugchk  = 0x81
	PALFuncChme    = 0x82
	PALFuncChmk    = 0x83 // CALLSYS
	PALFuncChms    = 0x84
	PALFuncChmu    = 0x85
	PALFuncImb     = 0x86
	PALFuncInsqhil = 0x87
	PALFuncInsqtil = 0x88
	PALFuncInsqhiq = 0x89
	PALFuncInsqtiq = 0x8A
	PALFuncRei     = 0x92
	PALFuncRemqhil = 0x93
	PALFuncRemqtil = 0x94
	PALFuncRemqhiq = 0x95
	PALFuncRemqtiq = 0x96
	PALFuncWrPsSw  = 0x9C
	PALFuncRscc    = 0x9D
	PALFuncReadUnq = 0x9E
	PALFuncWrUnq   = 0x9F
	PALFuncGentrap = 0xAA
)

// Hardware privileged context block layout, quadword offsets from
// the PCBB physical base.
const (
	pcbKSP    = 0
	pcbESP    = 8
	pcbSSP    = 16
	pcbUSP    = 24
	pcbPTBR   = 32
	pcbASN    = 40
	pcbFEN    = 56
	pcbPCC    = 64
	pcbUnique = 72
)

// TBI selector values (R16) for the TLB-invalidate service.
const (
	TbiAll     = -2
	TbiProcess = -1
	TbiInstr   = 1
	TbiData    = 2
	TbiSingle  = 3
)

// PALUnit executes CALL_PAL and the PAL-mode register moves. PAL
// services run natively: entry saves the exception frame and raises
// to kernel PAL mode, the routine runs, and exit restores the frame.
// Control-transfer services (CHMx, BPT, BUGCHK, GENTRAP) and
// functions without a native routine instead vector into the
// resident PAL image at PAL_BASE plus the function stride.
type PALUnit struct {
	cpu *CPU
}

// NewPALUnit creates a PAL unit for the given CPU.
func NewPALUnit(cpu *CPU) *PALUnit {
	return &PALUnit{cpu: cpu}
}

func palEntryPS(ps uint64) uint64 {
	return (arch.PSWithMode(ps, arch.ModeKernel) | arch.PSPAL) &^ arch.PSIE
}

// Execute dispatches a CALL_PAL at pc and returns the next PC. The
// call is bracketed by full memory barriers.
func (u *PALUnit) Execute(inst *insts.Instruction, pc uint64) uint64 {
	c := u.cpu
	fn := inst.PALFunc
	ps := c.iprs.RawRead(IPRPS)

	if fn < 0x40 && ps&arch.PSPAL == 0 && arch.PSMode(ps) != arch.ModeKernel {
		c.pending.raise(&arch.Fault{Kind: arch.FaultPrivilegeViolation, PC: pc})
		return pc + 4
	}

	c.bus.Barrier(c.id, arch.BarrierFull)
	next := u.dispatch(fn, pc, ps)
	c.bus.Barrier(c.id, arch.BarrierFull)
	return next
}

func (u *PALUnit) dispatch(fn uint32, pc, ps uint64) uint64 {
	c := u.cpu

	switch fn {
	case PALFuncRei:
		frame := c.iprs.RestoreExceptionState()
		c.iprs.RawWrite(IPRPS, frame.PS)
		return frame.PC

	case PALFuncHalt:
		c.halted = true
		return pc + 4

	case PALFuncBpt, PALFuncBugchk, PALFuncGentrap:
		return u.enter(fn, pc, ps, arch.ModeKernel)
	case PALFuncChmk:
		return u.enter(fn, pc, ps, arch.ModeKernel)
	case PALFuncChme:
		return u.enter(fn, pc, ps, arch.ModeExecutive)
	case PALFuncChms:
		return u.enter(fn, pc, ps, arch.ModeSupervisor)
	case PALFuncChmu:
		return u.enter(fn, pc, ps, arch.ModeUser)
	}

	c.iprs.SaveExceptionState(ExceptionFrame{PC: pc + 4, PS: ps})
	c.iprs.RawWrite(IPRPS, palEntryPS(ps))
	handled := u.service(fn)
	frame := c.iprs.RestoreExceptionState()
	c.iprs.RawWrite(IPRPS, frame.PS)
	if !handled {
		// No native routine: re-enter and run the resident image.
		c.iprs.SaveExceptionState(ExceptionFrame{PC: pc + 4, PS: ps})
		c.iprs.RawWrite(IPRPS, palEntryPS(ps))
		return c.iprs.RawRead(IPRPALBASE) + uint64(fn)*arch.PALEntryStride
	}
	return frame.PC
}

// enter performs a control transfer into the operating system: the
// frame is saved, the mode moves to the more privileged of current
// and target, and the PC vectors into the PAL image.
func (u *PALUnit) enter(fn uint32, pc, ps uint64, target arch.Mode) uint64 {
	c := u.cpu

	mode := arch.PSMode(ps)
	if mode.MorePrivilegedThan(target) {
		target = mode
	}

	c.iprs.SaveExceptionState(ExceptionFrame{PC: pc + 4, PS: ps})
	newPS := (arch.PSWithMode(ps, target) | arch.PSPAL) &^ arch.PSIE
	c.iprs.RawWrite(IPRPS, newPS)
	return c.iprs.RawRead(IPRPALBASE) + uint64(fn)*arch.PALEntryStride
}

// service runs a native PAL routine inside the entry/exit bracket.
// It reports whether the function has a native implementation. The
// caller's PS and return PC live in the saved frame, so services
// that change caller state edit EXC_PS directly.
func (u *PALUnit) service(fn uint32) bool {
	c := u.cpu
	r := c.regFile

	switch fn {
	case PALFuncCflush, PALFuncDraina:
		// The barrier bracket around the call already ordered and
		// flushed outstanding accesses.

	case PALFuncImb:
		c.bus.SyncInstructionStream(c.id)

	case PALFuncSwpctx:
		u.swpctx()

	case PALFuncMfpr:
		r.WriteReg(0, c.iprs.Read(int(r.ReadReg(16)), arch.ModeKernel))
	case PALFuncMtpr:
		c.iprs.Write(int(r.ReadReg(16)), r.ReadReg(17), arch.ModeKernel)

	case PALFuncSwppal:
		c.iprs.RawWrite(IPRPALBASE, r.ReadReg(16))
		r.WriteReg(0, 0)

	case PALFuncWrfen:
		c.iprs.RawWrite(IPRFEN, r.ReadReg(16)&1)
	case PALFuncWrvptptr:
		c.iprs.RawWrite(IPRVPTB, r.ReadReg(16))

	case PALFuncWrval:
		c.iprs.RawWrite(IPRPALTempBase, r.ReadReg(16))
	case PALFuncRdval:
		r.WriteReg(0, c.iprs.RawRead(IPRPALTempBase))

	case PALFuncTbi:
		u.tbi(int64(r.ReadReg(16)), r.ReadReg(17))

	case PALFuncSwpipl:
		old := c.iprs.RawRead(IPREXCPS)
		r.WriteReg(0, uint64(arch.PSIPL(old)))
		ipl := uint8(r.ReadReg(16) & 7)
		c.iprs.RawWrite(IPREXCPS, arch.PSWithIPL(old, ipl))
		c.iprs.RawWrite(IPRIPLR, uint64(ipl))
	case PALFuncRdps:
		r.WriteReg(0, c.iprs.RawRead(IPREXCPS))
	case PALFuncWrPsSw:
		old := c.iprs.RawRead(IPREXCPS)
		c.iprs.RawWrite(IPREXCPS, arch.PSWithSW(old, uint8(r.ReadReg(16))))

	case PALFuncWrusp:
		c.iprs.RawWrite(IPRUSP, r.ReadReg(16))
	case PALFuncRdusp:
		r.WriteReg(0, c.iprs.RawRead(IPRUSP))

	case PALFuncWhami:
		r.WriteReg(0, uint64(c.id))

	case PALFuncInsqhil:
		u.insertQueue(4, true)
	case PALFuncInsqtil:
		u.insertQueue(4, false)
	case PALFuncInsqhiq:
		u.insertQueue(8, true)
	case PALFuncInsqtiq:
		u.insertQueue(8, false)
	case PALFuncRemqhil:
		u.removeQueue(4, true)
	case PALFuncRemqtil:
		u.removeQueue(4, false)
	case PALFuncRemqhiq:
		u.removeQueue(8, true)
	case PALFuncRemqtiq:
		u.removeQueue(8, false)

	case PALFuncRscc:
		r.WriteReg(0, c.cycles)

	case PALFuncReadUnq:
		r.WriteReg(0, c.iprs.RawRead(IPRUNIQUE))
	case PALFuncWrUnq:
		c.iprs.RawWrite(IPRUNIQUE, r.ReadReg(16))

	default:
		return false
	}
	return true
}

// tbi decodes the TBI selector and applies the TLB invalidation.
func (u *PALUnit) tbi(selector int64, va uint64) {
	c := u.cpu
	switch selector {
	case TbiAll:
		c.TLBInvalidateAll()
	case TbiProcess:
		c.TLBInvalidateProcess()
	case TbiInstr:
		c.TLBInvalidateInstrEntry(va)
	case TbiData:
		c.TLBInvalidateDataEntry(va)
	case TbiSingle:
		c.TLBInvalidateEntry(va)
	}
}

// swpctx switches the hardware process context: the outgoing state
// is saved into the current PCB, the incoming state is loaded from
// the PCB at R16, and a process TLB invalidation runs when the ASN
// changed.
func (u *PALUnit) swpctx() {
	c := u.cpu
	newPCB := c.regFile.ReadReg(16)

	if old := c.iprs.RawRead(IPRPCBB); old != 0 {
		u.savePCB(old)
	}

	oldASN := c.iprs.RawRead(IPRASN)
	rd := func(off uint64) uint64 {
		v, f := c.bus.ReadPhys(newPCB+off, 8)
		if f != nil {
			c.pending.raise(f)
		}
		return v
	}

	c.iprs.RawWrite(IPRKSP, rd(pcbKSP))
	c.iprs.RawWrite(IPRESP, rd(pcbESP))
	c.iprs.RawWrite(IPRSSP, rd(pcbSSP))
	c.iprs.RawWrite(IPRUSP, rd(pcbUSP))
	c.iprs.RawWrite(IPRPTBR, rd(pcbPTBR))
	c.iprs.RawWrite(IPRFEN, rd(pcbFEN)&1)
	c.iprs.RawWrite(IPRUNIQUE, rd(pcbUnique))
	// The incoming process resumes its accumulated cycle count: the
	// offset makes RPCC's low half plus high half equal that count.
	c.pccOff = uint32(rd(pcbPCC)) - uint32(c.cycles)
	newASN := rd(pcbASN)
	c.iprs.RawWrite(IPRASN, newASN)
	c.iprs.RawWrite(IPRPCBB, newPCB)

	if newASN != oldASN {
		c.TLBInvalidateProcess()
	}
}

func (u *PALUnit) savePCB(pcb uint64) {
	c := u.cpu
	wr := func(off, v uint64) {
		if f := c.bus.WritePhys(pcb+off, 8, v); f != nil {
			c.pending.raise(f)
		}
	}
	wr(pcbKSP, c.iprs.RawRead(IPRKSP))
	wr(pcbESP, c.iprs.RawRead(IPRESP))
	wr(pcbSSP, c.iprs.RawRead(IPRSSP))
	wr(pcbUSP, c.iprs.RawRead(IPRUSP))
	wr(pcbPTBR, c.iprs.RawRead(IPRPTBR))
	wr(pcbASN, c.iprs.RawRead(IPRASN))
	wr(pcbFEN, c.iprs.RawRead(IPRFEN))
	wr(pcbPCC, uint64(uint32(c.cycles)+c.pccOff))
	wr(pcbUnique, c.iprs.RawRead(IPRUNIQUE))
}

// Self-relative interlocked queues. The header holds forward and
// backward links at offsets 0 and linkSize; an empty queue links to
// itself with zero offsets. All link reads and writes happen under
// the shared interlock so concurrent CPUs serialize.

func (u *PALUnit) queueRead(addr uint64, linkSize int) (int64, bool) {
	c := u.cpu
	v, f := c.bus.Read(c.id, addr, linkSize)
	if f != nil {
		c.pending.raise(f)
		return 0, false
	}
	if linkSize == 4 {
		return int64(int32(v)), true
	}
	return int64(v), true
}

func (u *PALUnit) queueWrite(addr uint64, linkSize int, v int64) bool {
	c := u.cpu
	if f := c.bus.Write(c.id, addr, linkSize, uint64(v)); f != nil {
		c.pending.raise(f)
		return false
	}
	return true
}

// insertQueue implements INSQHIx/INSQTIx. R16 is the header, R17 the
// entry. R0 returns 1 when the queue was empty before the insert, 0
// otherwise.
func (u *PALUnit) insertQueue(linkSize int, atHead bool) {
	c := u.cpu
	c.interlock.Lock()
	defer c.interlock.Unlock()

	h := c.regFile.ReadReg(16)
	e := c.regFile.ReadReg(17)
	ls := uint64(linkSize)

	if atHead {
		off, ok := u.queueRead(h, linkSize)
		if !ok {
			return
		}
		first := h + uint64(off)
		if !u.queueWrite(e, linkSize, int64(first-e)) ||
			!u.queueWrite(e+ls, linkSize, int64(h-e)) ||
			!u.queueWrite(first+ls, linkSize, int64(e-first)) ||
			!u.queueWrite(h, linkSize, int64(e-h)) {
			return
		}
		c.regFile.WriteReg(0, boolToReg(first == h))
		return
	}

	off, ok := u.queueRead(h+ls, linkSize)
	if !ok {
		return
	}
	last := h + uint64(off)
	if !u.queueWrite(e, linkSize, int64(h-e)) ||
		!u.queueWrite(e+ls, linkSize, int64(last-e)) ||
		!u.queueWrite(last, linkSize, int64(e-last)) ||
		!u.queueWrite(h+ls, linkSize, int64(e-h)) {
		return
	}
	c.regFile.WriteReg(0, boolToReg(last == h))
}

// removeQueue implements REMQHIx/REMQTIx. R16 is the header. R0
// returns 0 when the queue was empty, 1 when the removal left it
// empty, 2 when entries remain; R1 returns the removed entry.
func (u *PALUnit) removeQueue(linkSize int, atHead bool) {
	c := u.cpu
	c.interlock.Lock()
	defer c.interlock.Unlock()

	h := c.regFile.ReadReg(16)
	ls := uint64(linkSize)

	linkOff := uint64(0)
	if !atHead {
		linkOff = ls
	}
	off, ok := u.queueRead(h+linkOff, linkSize)
	if !ok {
		return
	}
	victim := h + uint64(off)
	if victim == h {
		c.regFile.WriteReg(0, 0)
		return
	}

	if atHead {
		next, ok := u.queueRead(victim, linkSize)
		if !ok {
			return
		}
		succ := victim + uint64(next)
		if !u.queueWrite(h, linkSize, int64(succ-h)) ||
			!u.queueWrite(succ+ls, linkSize, int64(h-succ)) {
			return
		}
		c.regFile.WriteReg(1, victim)
		if succ == h {
			c.regFile.WriteReg(0, 1)
		} else {
			c.regFile.WriteReg(0, 2)
		}
		return
	}

	prevOff, ok := u.queueRead(victim+ls, linkSize)
	if !ok {
		return
	}
	prev := victim + uint64(prevOff)
	if !u.queueWrite(h+ls, linkSize, int64(prev-h)) ||
		!u.queueWrite(prev, linkSize, int64(h-prev)) {
		return
	}
	c.regFile.WriteReg(1, victim)
	if prev == h {
		c.regFile.WriteReg(0, 1)
	} else {
		c.regFile.WriteReg(0, 2)
	}
}

// ExecuteHWMove executes HW_MFPR and HW_MTPR. Outside PAL mode they
// require kernel privilege.
func (u *PALUnit) ExecuteHWMove(inst *insts.Instruction) {
	c := u.cpu
	ps := c.iprs.RawRead(IPRPS)
	if ps&arch.PSPAL == 0 && arch.PSMode(ps) != arch.ModeKernel {
		c.pending.raise(&arch.Fault{Kind: arch.FaultPrivilegeViolation})
		return
	}

	index := int(uint16(inst.Disp)) % IPRCount
	mode := arch.PSMode(ps)
	if inst.Op == insts.OpHWMFPR {
		c.regFile.WriteReg(inst.Ra, c.iprs.Read(index, mode))
	} else {
		c.iprs.Write(index, c.regFile.ReadReg(inst.Ra), mode)
	}
}
