package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/insts"
	"github.com/sarchlab/axpsim/mem"
)

var _ = Describe("PAL unit", func() {
	var (
		cpu *emu.CPU
		sys *mem.System
	)

	BeforeEach(func() {
		cpu, sys = newTestCPU()
	})

	It("should report the CPU number through WHAMI", func() {
		peer := emu.NewCPU(3, emu.WithBus(sys), emu.WithTLBControl(sys))
		sys.RegisterCPU(3, peer)
		peer.Reset(testEntry)
		peer.IPRs().RawWrite(emu.IPRMMEnable, 0)
		peer.RegFile().WriteReg(0, 0xFF)
		loadProgram(sys, insts.EncodePAL(emu.PALFuncWhami))

		peer.Step()

		Expect(peer.RegFile().ReadReg(0)).To(Equal(uint64(3)))
	})

	It("should halt on CALL_PAL HALT", func() {
		loadProgram(sys, insts.EncodePAL(emu.PALFuncHalt))

		cpu.Step()

		Expect(cpu.Halted()).To(BeTrue())
		Expect(cpu.PC).To(Equal(testEntry + 4))
	})

	It("should swap the interrupt priority level", func() {
		cpu.RegFile().WriteReg(16, 5)
		loadProgram(sys, insts.EncodePAL(emu.PALFuncSwpipl))

		cpu.Step()

		Expect(cpu.RegFile().ReadReg(0)).To(Equal(uint64(0)))
		Expect(arch.PSIPL(cpu.IPRs().RawRead(emu.IPRPS))).To(Equal(uint8(5)))
		Expect(cpu.IPRs().RawRead(emu.IPRIPLR)).To(Equal(uint64(5)))
		Expect(cpu.PC).To(Equal(testEntry + 4))
	})

	It("should read the processor status through RDPS", func() {
		before := cpu.IPRs().RawRead(emu.IPRPS)
		loadProgram(sys, insts.EncodePAL(emu.PALFuncRdps))

		cpu.Step()

		Expect(cpu.RegFile().ReadReg(0)).To(Equal(before))
	})

	It("should write the PS software field through WR_PS_SW", func() {
		cpu.RegFile().WriteReg(16, 2)
		loadProgram(sys, insts.EncodePAL(emu.PALFuncWrPsSw))

		cpu.Step()

		Expect(arch.PSSW(cpu.IPRs().RawRead(emu.IPRPS))).To(Equal(uint8(2)))
		Expect(cpu.PC).To(Equal(testEntry + 4))
	})

	It("should store and recall the process-unique value", func() {
		cpu.RegFile().WriteReg(16, 0xDEADBEEF)
		loadProgram(sys,
			insts.EncodePAL(emu.PALFuncWrUnq),
			insts.EncodePAL(emu.PALFuncReadUnq),
		)

		cpu.Step()
		cpu.RegFile().WriteReg(0, 0)
		cpu.Step()

		Expect(cpu.RegFile().ReadReg(0)).To(Equal(uint64(0xDEADBEEF)))
	})

	It("should move IPRs through MFPR and MTPR", func() {
		cpu.RegFile().WriteReg(16, uint64(emu.IPRWHAMI))
		loadProgram(sys, insts.EncodePAL(emu.PALFuncMfpr))

		cpu.Step()

		Expect(cpu.RegFile().ReadReg(0)).To(Equal(uint64(0)))
	})

	It("should refuse privileged services from user mode", func() {
		cpu.IPRs().RawWrite(emu.IPRPS, arch.PSWithMode(0, arch.ModeUser))
		loadProgram(sys, insts.EncodePAL(emu.PALFuncWhami))

		result := cpu.Step()

		Expect(result.Fault).NotTo(BeNil())
		Expect(result.Fault.Kind).To(Equal(arch.FaultPrivilegeViolation))
	})

	It("should allow unprivileged services from user mode", func() {
		cpu.IPRs().RawWrite(emu.IPRPS, arch.PSWithMode(0, arch.ModeUser))
		cpu.RegFile().WriteReg(16, 7)
		loadProgram(sys, insts.EncodePAL(emu.PALFuncWrUnq))

		result := cpu.Step()

		Expect(result.Fault).To(BeNil())
		Expect(cpu.IPRs().RawRead(emu.IPRUNIQUE)).To(Equal(uint64(7)))
	})

	It("should change mode and return through REI", func() {
		loadProgram(sys, insts.EncodePAL(emu.PALFuncChmk))
		rei := insts.EncodePAL(emu.PALFuncRei)
		sys.WritePhys(uint64(emu.PALFuncChmk)*arch.PALEntryStride, 4, uint64(rei))

		before := cpu.IPRs().RawRead(emu.IPRPS)

		cpu.Step()
		Expect(cpu.PC).To(Equal(uint64(emu.PALFuncChmk) * arch.PALEntryStride))
		Expect(cpu.IPRs().RawRead(emu.IPRPS) & arch.PSPAL).NotTo(BeZero())

		cpu.Step()
		Expect(cpu.PC).To(Equal(testEntry + 4))
		Expect(cpu.IPRs().RawRead(emu.IPRPS)).To(Equal(before))
	})

	Describe("interlocked queues", func() {
		const (
			header = uint64(0x3000)
			entryA = uint64(0x3100)
			entryB = uint64(0x3200)
		)

		insq := func(entry uint64) uint64 {
			cpu.RegFile().WriteReg(16, header)
			cpu.RegFile().WriteReg(17, entry)
			loadProgram(sys, insts.EncodePAL(emu.PALFuncInsqhiq))
			cpu.PC = testEntry
			cpu.Step()
			return cpu.RegFile().ReadReg(0)
		}

		remq := func() (uint64, uint64) {
			cpu.RegFile().WriteReg(16, header)
			loadProgram(sys, insts.EncodePAL(emu.PALFuncRemqhiq))
			cpu.PC = testEntry
			cpu.Step()
			return cpu.RegFile().ReadReg(0), cpu.RegFile().ReadReg(1)
		}

		It("should link entries self-relatively at the head", func() {
			Expect(insq(entryA)).To(Equal(uint64(1))) // queue was empty

			fwd, _ := sys.ReadPhys(header, 8)
			Expect(int64(fwd)).To(Equal(int64(entryA - header)))
			bwd, _ := sys.ReadPhys(entryA+8, 8)
			Expect(int64(bwd)).To(Equal(int64(header) - int64(entryA)))

			Expect(insq(entryB)).To(Equal(uint64(0)))
			fwd, _ = sys.ReadPhys(header, 8)
			Expect(int64(fwd)).To(Equal(int64(entryB - header)))
		})

		It("should remove in head order with the R0 conventions", func() {
			insq(entryA)
			insq(entryB)

			status, victim := remq()
			Expect(status).To(Equal(uint64(2))) // entries remain
			Expect(victim).To(Equal(entryB))

			status, victim = remq()
			Expect(status).To(Equal(uint64(1))) // queue now empty
			Expect(victim).To(Equal(entryA))

			status, _ = remq()
			Expect(status).To(Equal(uint64(0))) // was empty
		})
	})

	It("should switch hardware context with SWPCTX", func() {
		const pcb = uint64(0x5000)
		sys.WritePhys(pcb, 8, 0x111)    // KSP
		sys.WritePhys(pcb+32, 8, 0x222) // PTBR
		sys.WritePhys(pcb+40, 8, 7)     // ASN
		sys.WritePhys(pcb+56, 8, 1)     // FEN
		sys.WritePhys(pcb+72, 8, 0x333) // unique value

		cpu.RegFile().WriteReg(16, pcb)
		loadProgram(sys, insts.EncodePAL(emu.PALFuncSwpctx))

		cpu.Step()

		Expect(cpu.IPRs().RawRead(emu.IPRKSP)).To(Equal(uint64(0x111)))
		Expect(cpu.IPRs().RawRead(emu.IPRPTBR)).To(Equal(uint64(0x222)))
		Expect(cpu.IPRs().RawRead(emu.IPRASN)).To(Equal(uint64(7)))
		Expect(cpu.IPRs().RawRead(emu.IPRFEN)).To(Equal(uint64(1)))
		Expect(cpu.IPRs().RawRead(emu.IPRUNIQUE)).To(Equal(uint64(0x333)))
		Expect(cpu.IPRs().RawRead(emu.IPRPCBB)).To(Equal(pcb))
	})

	It("should resynchronize the instruction stream on IMB", func() {
		csys := mem.NewSystem(mem.WithPhysLimit(1<<20), mem.WithCaches())
		c := emu.NewCPU(0, emu.WithBus(csys), emu.WithTLBControl(csys))
		csys.RegisterCPU(0, c)
		c.Reset(testEntry)
		c.IPRs().RawWrite(emu.IPRMMEnable, 0)

		// Patch a HALT slot into an ADDQ, then execute through it.
		patch := insts.EncodeOperateLit(0x10, 0x20, 31, 7, 5) // R5 = 7
		lo := int16(patch)
		hi := int16((patch + 0x8000) >> 16)
		slot := int16(testEntry + 0x18)

		loadProgram(csys,
			insts.EncodeMemory(0x08, 1, 31, lo),   // LDA R1, lo
			insts.EncodeMemory(0x09, 1, 1, hi),    // LDAH R1, hi
			insts.EncodeMemory(0x2C, 1, 31, slot), // STL R1, slot
			insts.EncodePAL(emu.PALFuncImb),
			insts.EncodeOperate(0x11, 0x20, 31, 31, 31), // nop
			insts.EncodeOperate(0x11, 0x20, 31, 31, 31), // nop
			insts.EncodePAL(emu.PALFuncHalt), // the patched slot
			insts.EncodePAL(emu.PALFuncHalt),
		)

		c.RunFor(20)

		Expect(c.Halted()).To(BeTrue())
		Expect(c.RegFile().ReadReg(5)).To(Equal(uint64(7)))
		Expect(c.PC).To(Equal(testEntry + 0x20))
	})

	It("should write the floating enable through WRFEN", func() {
		cpu.RegFile().WriteReg(16, 1)
		loadProgram(sys, insts.EncodePAL(emu.PALFuncWrfen))

		cpu.Step()

		Expect(cpu.IPRs().RawRead(emu.IPRFEN)).To(Equal(uint64(1)))
	})
})
