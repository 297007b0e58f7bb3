package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/insts"
	"github.com/sarchlab/axpsim/mem"
)

var _ = Describe("Interrupt delivery", func() {
	var (
		cpu *emu.CPU
		sys *mem.System
	)

	nop := insts.EncodeOperate(0x11, 0x20, 31, 31, 31) // BIS r31,r31,r31

	enableInterrupts := func() {
		ps := cpu.IPRs().RawRead(emu.IPRPS)
		cpu.IPRs().RawWrite(emu.IPRPS, ps|arch.PSIE)
	}

	BeforeEach(func() {
		cpu, sys = newTestCPU()
		loadProgram(sys, nop, nop)
	})

	It("should deliver a posted software interrupt", func() {
		enableInterrupts()
		cpu.IPRs().Write(emu.IPRSIRR, 4, arch.ModeKernel)

		cpu.Step()

		Expect(cpu.PC).To(Equal(arch.PALEntryStride * arch.EntryInterrupt))
		Expect(cpu.Stats().Interrupts).To(Equal(uint64(1)))
		Expect(cpu.IPRs().RawRead(emu.IPRSISR)).To(Equal(uint64(0)))
		Expect(cpu.IPRs().RawRead(emu.IPREXCPC)).To(Equal(testEntry))
		Expect(cpu.IPRs().RawRead(emu.IPRPS) & arch.PSPAL).NotTo(BeZero())
	})

	It("should hold interrupts while IE is clear", func() {
		cpu.IPRs().Write(emu.IPRSIRR, 4, arch.ModeKernel)

		cpu.Step()

		Expect(cpu.PC).To(Equal(testEntry + 4))
		Expect(cpu.Stats().Interrupts).To(Equal(uint64(0)))
		Expect(cpu.IPRs().RawRead(emu.IPRSISR)).NotTo(BeZero())
	})

	It("should mask levels at or below the current IPL", func() {
		enableInterrupts()
		cpu.SetIPL(5)
		cpu.IPRs().Write(emu.IPRSIRR, 5, arch.ModeKernel)
		cpu.IPRs().Write(emu.IPRSIRR, 3, arch.ModeKernel)

		cpu.Step()

		Expect(cpu.PC).To(Equal(testEntry + 4))
		Expect(cpu.IPRs().RawRead(emu.IPRSISR)).To(Equal(uint64(1<<5 | 1<<3)))
	})

	It("should deliver the highest pending level first", func() {
		enableInterrupts()
		cpu.IPRs().Write(emu.IPRSIRR, 2, arch.ModeKernel)
		cpu.IPRs().Write(emu.IPRSIRR, 9, arch.ModeKernel)

		cpu.Step()

		Expect(cpu.Stats().Interrupts).To(Equal(uint64(1)))
		Expect(cpu.IPRs().RawRead(emu.IPRSISR)).To(Equal(uint64(1 << 2)))
	})

	It("should deliver an IPI ahead of software interrupts", func() {
		enableInterrupts()
		cpu.PostIPI()
		cpu.IPRs().Write(emu.IPRSIRR, 9, arch.ModeKernel)

		cpu.Step()

		Expect(cpu.PC).To(Equal(arch.PALEntryStride * arch.EntryInterrupt))
		Expect(cpu.IPRs().RawRead(emu.IPRSISR)).To(Equal(uint64(1 << 9)))
	})

	It("should not deliver while in PAL mode", func() {
		enableInterrupts()
		ps := cpu.IPRs().RawRead(emu.IPRPS)
		cpu.IPRs().RawWrite(emu.IPRPS, ps|arch.PSPAL)
		cpu.PostIPI()

		cpu.Step()

		Expect(cpu.Stats().Interrupts).To(Equal(uint64(0)))
		Expect(cpu.PC).To(Equal(testEntry + 4))
	})

	It("should resume the interrupted program through REI", func() {
		enableInterrupts()
		cpu.IPRs().Write(emu.IPRSIRR, 4, arch.ModeKernel)
		vector := arch.PALEntryStride * arch.EntryInterrupt
		sys.WritePhys(vector, 4, uint64(insts.EncodePAL(emu.PALFuncRei)))

		cpu.Step() // delivery
		cpu.Step() // REI

		Expect(cpu.PC).To(Equal(testEntry))
		Expect(cpu.IPRs().RawRead(emu.IPRPS) & arch.PSIE).NotTo(BeZero())
		Expect(cpu.IPRs().RawRead(emu.IPRPS) & arch.PSPAL).To(BeZero())
	})
})
