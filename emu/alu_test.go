package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/insts"
	"github.com/sarchlab/axpsim/mem"
)

var _ = Describe("Integer unit", func() {
	var (
		cpu *emu.CPU
		sys *mem.System
	)

	BeforeEach(func() {
		cpu, sys = newTestCPU()
	})

	It("should execute ADDQ R1, R2, R3", func() {
		cpu.RegFile().WriteReg(1, 2)
		cpu.RegFile().WriteReg(2, 3)
		loadProgram(sys, 0x40220403)

		result := cpu.Step()

		Expect(result.Fault).To(BeNil())
		Expect(cpu.RegFile().ReadReg(3)).To(Equal(uint64(5)))
		Expect(cpu.PC).To(Equal(testEntry + 4))
		Expect(cpu.Stats().IntOps).To(Equal(uint64(1)))
	})

	It("should execute the literal form", func() {
		cpu.RegFile().WriteReg(1, 40)
		loadProgram(sys, insts.EncodeOperateLit(0x10, 0x20, 1, 2, 3))

		cpu.Step()

		Expect(cpu.RegFile().ReadReg(3)).To(Equal(uint64(42)))
	})

	It("should sign-extend longword results", func() {
		cpu.RegFile().WriteReg(1, 0x7FFFFFFF)
		loadProgram(sys, insts.EncodeOperateLit(0x10, 0x00, 1, 1, 3)) // ADDL

		cpu.Step()

		Expect(cpu.RegFile().ReadReg(3)).To(Equal(uint64(0xFFFFFFFF80000000)))
	})

	It("should keep R31 hardwired to zero", func() {
		cpu.RegFile().WriteReg(1, 7)
		cpu.RegFile().WriteReg(2, 8)
		loadProgram(sys, insts.EncodeOperate(0x10, 0x20, 1, 2, 31))

		cpu.Step()

		Expect(cpu.RegFile().ReadReg(31)).To(Equal(uint64(0)))
	})

	Describe("overflow variants", func() {
		It("should set IOV and SUM and trap on ADDLV overflow", func() {
			cpu.RegFile().WriteReg(1, 0x7FFFFFFF)
			loadProgram(sys, insts.EncodeOperateLit(0x10, 0x40, 1, 1, 3))

			result := cpu.Step()

			Expect(result.Fault).NotTo(BeNil())
			Expect(result.Fault.Kind).To(Equal(arch.FaultArithmetic))

			fpcr := cpu.RegFile().FPCR()
			Expect(fpcr & emu.FPCRIov).NotTo(BeZero())
			Expect(fpcr & emu.FPCRSum).NotTo(BeZero())

			// Vectored to the arithmetic entry point.
			Expect(cpu.PC).To(Equal(arch.PALEntryStride * arch.EntryArithmetic))
			Expect(cpu.IPRs().RawRead(emu.IPREXCPC)).To(Equal(testEntry))
		})

		It("should suppress the trap when integer overflow is disabled", func() {
			cpu.RegFile().SetFPCR(emu.FPCRIned)
			cpu.RegFile().WriteReg(1, 0x7FFFFFFF)
			loadProgram(sys, insts.EncodeOperateLit(0x10, 0x40, 1, 1, 3))

			result := cpu.Step()

			Expect(result.Fault).To(BeNil())
			Expect(cpu.RegFile().FPCR() & emu.FPCRIov).NotTo(BeZero())
			Expect(cpu.PC).To(Equal(testEntry + 4))
		})

		It("should not flag an exact ADDQV", func() {
			cpu.RegFile().WriteReg(1, 10)
			cpu.RegFile().WriteReg(2, 20)
			loadProgram(sys, insts.EncodeOperate(0x10, 0x60, 1, 2, 3))

			result := cpu.Step()

			Expect(result.Fault).To(BeNil())
			Expect(cpu.RegFile().ReadReg(3)).To(Equal(uint64(30)))
			Expect(cpu.RegFile().FPCR() & emu.FPCRIov).To(BeZero())
		})
	})

	Describe("compares", func() {
		It("should compare signed and unsigned differently", func() {
			cpu.RegFile().WriteReg(1, ^uint64(0)) // -1 signed, max unsigned
			cpu.RegFile().WriteReg(2, 1)
			loadProgram(sys,
				insts.EncodeOperate(0x10, 0x4D, 1, 2, 3), // CMPLT
				insts.EncodeOperate(0x10, 0x1D, 1, 2, 4), // CMPULT
			)

			cpu.Step()
			cpu.Step()

			Expect(cpu.RegFile().ReadReg(3)).To(Equal(uint64(1)))
			Expect(cpu.RegFile().ReadReg(4)).To(Equal(uint64(0)))
		})
	})

	Describe("conditional moves", func() {
		It("should move only when the condition holds", func() {
			cpu.RegFile().WriteReg(1, 0)
			cpu.RegFile().WriteReg(2, 0x55)
			cpu.RegFile().WriteReg(3, 0x11)
			cpu.RegFile().WriteReg(4, 0x11)
			loadProgram(sys,
				insts.EncodeOperate(0x11, 0x24, 1, 2, 3), // CMOVEQ: taken
				insts.EncodeOperate(0x11, 0x26, 1, 2, 4), // CMOVNE: not taken
			)

			cpu.Step()
			cpu.Step()

			Expect(cpu.RegFile().ReadReg(3)).To(Equal(uint64(0x55)))
			Expect(cpu.RegFile().ReadReg(4)).To(Equal(uint64(0x11)))
		})
	})

	Describe("shifts and byte manipulation", func() {
		It("should shift with a 6-bit count", func() {
			cpu.RegFile().WriteReg(1, 1)
			loadProgram(sys, insts.EncodeOperateLit(0x12, 0x39, 1, 8, 3)) // SLL

			cpu.Step()

			Expect(cpu.RegFile().ReadReg(3)).To(Equal(uint64(0x100)))
		})

		It("should extract a byte with EXTBL", func() {
			cpu.RegFile().WriteReg(1, 0x1122334455667788)
			loadProgram(sys, insts.EncodeOperateLit(0x12, 0x06, 1, 2, 3))

			cpu.Step()

			Expect(cpu.RegFile().ReadReg(3)).To(Equal(uint64(0x66)))
		})

		It("should clear selected bytes with ZAP", func() {
			cpu.RegFile().WriteReg(1, 0x1122334455667788)
			loadProgram(sys, insts.EncodeOperateLit(0x12, 0x30, 1, 0x0F, 3))

			cpu.Step()

			Expect(cpu.RegFile().ReadReg(3)).To(Equal(uint64(0x1122334400000000)))
		})
	})

	It("should raise an illegal-instruction fault on an undecodable word", func() {
		loadProgram(sys, 0x1C000000) // unassigned opcode 0x07

		result := cpu.Step()

		Expect(result.Fault).NotTo(BeNil())
		Expect(result.Fault.Kind).To(Equal(arch.FaultIllegalInstruction))
	})
})
