package emu_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/insts"
	"github.com/sarchlab/axpsim/mem"
)

func f64(v float64) uint64 { return math.Float64bits(v) }

var _ = Describe("Floating-point unit", func() {
	var (
		cpu *emu.CPU
		sys *mem.System
	)

	addt := insts.EncodeFP(0x16,
		insts.FPFunction(0x0, insts.FPFormatT, insts.RoundNormal, 0), 1, 2, 3)

	BeforeEach(func() {
		cpu, sys = newTestCPU()
		cpu.IPRs().RawWrite(emu.IPRFEN, 1)
	})

	It("should fault when floating point is disabled", func() {
		cpu.IPRs().RawWrite(emu.IPRFEN, 0)
		cpu.RegFile().SetFPCR(0)
		loadProgram(sys, addt)

		result := cpu.Step()

		Expect(result.Fault).NotTo(BeNil())
		Expect(result.Fault.Kind).To(Equal(arch.FaultFloatingPoint))
	})

	It("should add T-floats exactly", func() {
		cpu.RegFile().WriteFloat(1, f64(1.5))
		cpu.RegFile().WriteFloat(2, f64(2.25))
		loadProgram(sys, addt)

		result := cpu.Step()

		Expect(result.Fault).To(BeNil())
		Expect(cpu.RegFile().ReadFloat(3)).To(Equal(f64(3.75)))
		Expect(cpu.RegFile().FPCR() & emu.FPCRIne).To(BeZero())
	})

	It("should record INE on an inexact result", func() {
		cpu.RegFile().SetFPCR(emu.FPCRIned)
		cpu.RegFile().WriteFloat(1, f64(1)) // 1 + 2^-60 rounds away
		cpu.RegFile().WriteFloat(2, f64(0x1p-60))
		loadProgram(sys, addt)

		result := cpu.Step()

		Expect(result.Fault).To(BeNil())
		Expect(cpu.RegFile().ReadFloat(3)).To(Equal(f64(1)))
		Expect(cpu.RegFile().FPCR() & emu.FPCRIne).NotTo(BeZero())
		Expect(cpu.RegFile().FPCR() & emu.FPCRSum).NotTo(BeZero())
	})

	It("should round toward minus infinity when asked", func() {
		cpu.RegFile().SetFPCR(emu.FPCRIned)
		cpu.RegFile().WriteFloat(1, f64(1))
		cpu.RegFile().WriteFloat(2, f64(0x1p-60))
		loadProgram(sys, insts.EncodeFP(0x16,
			insts.FPFunction(0x1, insts.FPFormatT, insts.RoundMinusInf, 0), 1, 2, 3)) // SUBT/M

		cpu.Step()

		Expect(cpu.RegFile().ReadFloat(3)).To(Equal(f64(1) - 1)) // nextafter(1, 0)
	})

	Describe("compares", func() {
		cmpteq := insts.EncodeFP(0x16,
			insts.FPFunction(0x5, insts.FPFormatT, insts.RoundNormal, 0), 1, 2, 3)

		It("should write 2.0 for a true comparison", func() {
			cpu.RegFile().WriteFloat(1, f64(4))
			cpu.RegFile().WriteFloat(2, f64(4))
			loadProgram(sys, cmpteq)

			cpu.Step()

			Expect(cpu.RegFile().ReadFloat(3)).To(Equal(uint64(0x4000000000000000)))
		})

		It("should write zero for a false comparison", func() {
			cpu.RegFile().WriteFloat(1, f64(4))
			cpu.RegFile().WriteFloat(2, f64(5))
			loadProgram(sys, cmpteq)

			cpu.Step()

			Expect(cpu.RegFile().ReadFloat(3)).To(Equal(uint64(0)))
		})

		It("should signal INV on an ordered compare with NaN", func() {
			cpu.RegFile().SetFPCR(emu.FPCRInvd)
			cpu.RegFile().WriteFloat(1, f64(math.NaN()))
			cpu.RegFile().WriteFloat(2, f64(1))
			loadProgram(sys, insts.EncodeFP(0x16,
				insts.FPFunction(0x6, insts.FPFormatT, insts.RoundNormal, 0), 1, 2, 3)) // CMPTLT

			result := cpu.Step()

			Expect(result.Fault).To(BeNil())
			Expect(cpu.RegFile().ReadFloat(3)).To(Equal(uint64(0)))
			Expect(cpu.RegFile().FPCR() & emu.FPCRInv).NotTo(BeZero())
		})

		It("should treat CMPTUN as the quiet unordered test", func() {
			cpu.RegFile().WriteFloat(1, f64(math.NaN()))
			cpu.RegFile().WriteFloat(2, f64(1))
			loadProgram(sys, insts.EncodeFP(0x16,
				insts.FPFunction(0x4, insts.FPFormatT, insts.RoundNormal, 0), 1, 2, 3))

			result := cpu.Step()

			Expect(result.Fault).To(BeNil())
			Expect(cpu.RegFile().ReadFloat(3)).To(Equal(uint64(0x4000000000000000)))
			Expect(cpu.RegFile().FPCR() & emu.FPCRInv).To(BeZero())
		})
	})

	It("should deliver infinity and DZE on divide by zero", func() {
		cpu.RegFile().SetFPCR(emu.FPCRDzed)
		cpu.RegFile().WriteFloat(1, f64(1))
		cpu.RegFile().WriteFloat(2, 0)
		loadProgram(sys, insts.EncodeFP(0x16,
			insts.FPFunction(0x3, insts.FPFormatT, insts.RoundNormal, 0), 1, 2, 3)) // DIVT

		result := cpu.Step()

		Expect(result.Fault).To(BeNil())
		Expect(cpu.RegFile().ReadFloat(3)).To(Equal(f64(math.Inf(1))))
		Expect(cpu.RegFile().FPCR() & emu.FPCRDze).NotTo(BeZero())
	})

	It("should trap on divide by zero when DZE is enabled", func() {
		cpu.RegFile().SetFPCR(0)
		cpu.RegFile().WriteFloat(1, f64(1))
		cpu.RegFile().WriteFloat(2, 0)
		loadProgram(sys, insts.EncodeFP(0x16,
			insts.FPFunction(0x3, insts.FPFormatT, insts.RoundNormal, 0), 1, 2, 3))

		result := cpu.Step()

		Expect(result.Fault).NotTo(BeNil())
		Expect(result.Fault.Kind).To(Equal(arch.FaultFloatingPoint))
		Expect(cpu.PC).To(Equal(arch.PALEntryStride * arch.EntryArithmetic))
	})

	Describe("conversions", func() {
		It("should chop CVTTQ/C toward zero", func() {
			cpu.RegFile().SetFPCR(emu.FPCRIned)
			cpu.RegFile().WriteFloat(2, f64(-2.75))
			loadProgram(sys, insts.EncodeFP(0x16,
				insts.FPFunction(0xF, insts.FPFormatT, insts.RoundChopped, 0), 31, 2, 3))

			cpu.Step()

			Expect(int64(cpu.RegFile().ReadFloat(3))).To(Equal(int64(-2)))
			Expect(cpu.RegFile().FPCR() & emu.FPCRIne).NotTo(BeZero())
		})

		It("should convert a quadword to S-float", func() {
			cpu.RegFile().WriteFloat(2, 7)
			loadProgram(sys, insts.EncodeFP(0x16,
				insts.FPFunction(0xC, insts.FPFormatQ, insts.RoundNormal, 0), 31, 2, 3))

			cpu.Step()

			Expect(cpu.RegFile().ReadFloat(3)).To(Equal(f64(7)))
		})

		It("should flush a VAX underflow to true zero with UNF", func() {
			cpu.RegFile().SetFPCR(emu.FPCRUnfd)
			cpu.RegFile().WriteFloat(2, f64(0x1p-140))
			loadProgram(sys, insts.EncodeFP(0x15,
				insts.FPFunction(0xC, insts.FPFormatT, insts.RoundNormal, 0), 31, 2, 3)) // CVTGF

			result := cpu.Step()

			Expect(result.Fault).To(BeNil())
			Expect(cpu.RegFile().ReadFloat(3)).To(Equal(uint64(0)))
			Expect(cpu.RegFile().FPCR() & emu.FPCRUnf).NotTo(BeZero())
			Expect(cpu.RegFile().FPCR() & emu.FPCRSum).NotTo(BeZero())
		})

		It("should flag IOV on a CVTQL that does not fit", func() {
			cpu.RegFile().SetFPCR(emu.FPCRIned)
			cpu.RegFile().WriteFloat(2, uint64(1)<<32)
			loadProgram(sys, insts.EncodeFP(0x17, 0x030, 31, 2, 3))

			result := cpu.Step()

			Expect(result.Fault).To(BeNil())
			Expect(cpu.RegFile().FPCR() & emu.FPCRIov).NotTo(BeZero())
		})

		It("should round-trip a longword through CVTQL and CVTLQ", func() {
			cpu.RegFile().SetFPCR(emu.FPCRIned)
			cpu.RegFile().WriteFloat(2, uint64(uint32(0x80000001)))
			loadProgram(sys,
				insts.EncodeFP(0x17, 0x030, 31, 2, 3), // CVTQL
				insts.EncodeFP(0x17, 0x010, 31, 3, 4), // CVTLQ
			)

			cpu.Step()
			cpu.Step()

			Expect(cpu.RegFile().ReadFloat(4)).To(Equal(uint64(0xFFFFFFFF80000001)))
		})
	})

	Describe("data movement", func() {
		It("should copy the sign with CPYS and CPYSN", func() {
			cpu.RegFile().WriteFloat(1, f64(-1))
			cpu.RegFile().WriteFloat(2, f64(3))
			loadProgram(sys,
				insts.EncodeFP(0x17, 0x020, 1, 2, 3), // CPYS
				insts.EncodeFP(0x17, 0x021, 1, 2, 4), // CPYSN
			)

			cpu.Step()
			cpu.Step()

			Expect(cpu.RegFile().ReadFloat(3)).To(Equal(f64(-3)))
			Expect(cpu.RegFile().ReadFloat(4)).To(Equal(f64(3)))
		})

		It("should move the FPCR through MT_FPCR and MF_FPCR", func() {
			cpu.RegFile().WriteFloat(1, emu.FPCRIned|emu.FPCRInvd)
			loadProgram(sys,
				insts.EncodeFP(0x17, 0x024, 1, 1, 31), // MT_FPCR
				insts.EncodeFP(0x17, 0x025, 31, 31, 2), // MF_FPCR
			)

			cpu.Step()
			cpu.Step()

			Expect(cpu.RegFile().ReadFloat(2)).To(Equal(emu.FPCRIned | emu.FPCRInvd))
		})

		It("should move conditionally with FCMOVEQ", func() {
			cpu.RegFile().WriteFloat(1, 0) // +0 satisfies EQ
			cpu.RegFile().WriteFloat(2, f64(9))
			cpu.RegFile().WriteFloat(3, f64(1))
			loadProgram(sys, insts.EncodeFP(0x17, 0x02A, 1, 2, 3))

			cpu.Step()

			Expect(cpu.RegFile().ReadFloat(3)).To(Equal(f64(9)))
		})
	})

	Describe("FPCR summary", func() {
		It("should keep SUM sticky across individual status clears", func() {
			cpu.RegFile().SetFPCRStatus(emu.FPCRInv)
			cpu.RegFile().ClearFPCRStatus(emu.FPCRInv)

			Expect(cpu.RegFile().FPCR() & emu.FPCRInv).To(BeZero())
			Expect(cpu.RegFile().FPCR() & emu.FPCRSum).NotTo(BeZero())

			cpu.RegFile().ClearFPCRSummary()
			Expect(cpu.RegFile().FPCR() & emu.FPCRSum).To(BeZero())
		})
	})
})
