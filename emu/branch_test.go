package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/insts"
	"github.com/sarchlab/axpsim/mem"
)

var _ = Describe("Branch unit", func() {
	var (
		cpu *emu.CPU
		sys *mem.System
	)

	BeforeEach(func() {
		cpu, sys = newTestCPU()
	})

	It("should take BEQ when the register is zero", func() {
		cpu.RegFile().WriteReg(1, 0)
		loadProgram(sys, insts.EncodeBranch(0x39, 1, 5))

		cpu.Step()

		Expect(cpu.PC).To(Equal(uint64(0x1018)))
		Expect(cpu.Stats().Branches).To(Equal(uint64(1)))
		Expect(cpu.Stats().BranchesTaken).To(Equal(uint64(1)))
	})

	It("should fall through BEQ when the register is nonzero", func() {
		cpu.RegFile().WriteReg(1, 1)
		loadProgram(sys, insts.EncodeBranch(0x39, 1, 5))

		cpu.Step()

		Expect(cpu.PC).To(Equal(testEntry + 4))
		Expect(cpu.Stats().BranchesTaken).To(Equal(uint64(0)))
	})

	It("should branch backward", func() {
		cpu.RegFile().WriteReg(2, 1)
		cpu.PC = testEntry + 0x1C
		sys.WritePhys(testEntry+0x1C, 4, uint64(insts.EncodeBranch(0x3D, 2, -6)))

		cpu.Step()

		Expect(cpu.PC).To(Equal(testEntry + 0x8))
	})

	It("should link BSR into Ra", func() {
		loadProgram(sys, insts.EncodeBranch(0x34, 26, 3))

		cpu.Step()

		Expect(cpu.RegFile().ReadReg(26)).To(Equal(testEntry + 4))
		Expect(cpu.PC).To(Equal(testEntry + 4 + 12))
	})

	It("should test the low bit with BLBS and BLBC", func() {
		cpu.RegFile().WriteReg(1, 2)
		loadProgram(sys,
			insts.EncodeBranch(0x3C, 1, 5), // BLBS: bit clear, not taken
			insts.EncodeBranch(0x38, 1, 5), // BLBC: bit clear, taken
		)

		cpu.Step()
		Expect(cpu.PC).To(Equal(testEntry + 4))

		cpu.Step()
		Expect(cpu.PC).To(Equal(testEntry + 8 + 20))
	})

	Describe("jumps", func() {
		It("should jump to Rb with the low bits cleared and link", func() {
			cpu.RegFile().WriteReg(27, 0x2003)
			loadProgram(sys, insts.EncodeJump(insts.JumpJSR, 26, 27, 0))

			cpu.Step()

			Expect(cpu.PC).To(Equal(uint64(0x2000)))
			Expect(cpu.RegFile().ReadReg(26)).To(Equal(testEntry + 4))
		})

		It("should return through RET", func() {
			cpu.RegFile().WriteReg(26, 0x3000)
			loadProgram(sys, insts.EncodeJump(insts.JumpRET, 31, 26, 1))

			cpu.Step()

			Expect(cpu.PC).To(Equal(uint64(0x3000)))
		})
	})

	Describe("floating branches", func() {
		BeforeEach(func() {
			cpu.IPRs().RawWrite(emu.IPRFEN, 1)
		})

		It("should treat minus zero as zero", func() {
			cpu.RegFile().WriteFloat(1, 1<<63) // -0.0
			loadProgram(sys, insts.EncodeBranch(0x31, 1, 5)) // FBEQ

			cpu.Step()

			Expect(cpu.PC).To(Equal(uint64(0x1018)))
		})

		It("should branch on the sign for FBLT", func() {
			cpu.RegFile().WriteFloat(1, 0xC000000000000000) // -2.0
			loadProgram(sys, insts.EncodeBranch(0x32, 1, 5))

			cpu.Step()

			Expect(cpu.PC).To(Equal(uint64(0x1018)))
		})
	})
})
