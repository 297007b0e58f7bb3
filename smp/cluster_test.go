package smp_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/insts"
	"github.com/sarchlab/axpsim/mem"
	"github.com/sarchlab/axpsim/smp"
)

var _ = Describe("Cluster", func() {
	const entry = uint64(0x1000)

	var cl *smp.Cluster

	// disableMMU must follow every Reset: reset turns translation back
	// on.
	disableMMU := func() {
		for _, cpu := range cl.CPUs() {
			cpu.IPRs().RawWrite(emu.IPRMMEnable, 0)
		}
	}

	load := func(words ...uint32) {
		for i, w := range words {
			cl.System().WritePhys(entry+uint64(i)*4, 4, uint64(w))
		}
	}

	BeforeEach(func() {
		cl = smp.NewCluster(2, smp.WithMemOptions(mem.WithPhysLimit(1<<20)))
	})

	AfterEach(func() {
		cl.Shutdown()
	})

	It("should wire each CPU into the shared system", func() {
		Expect(cl.CPUs()).To(HaveLen(2))
		Expect(cl.CPU(0).ID()).To(Equal(0))
		Expect(cl.CPU(1).ID()).To(Equal(1))
		Expect(cl.CPU(2)).To(BeNil())
		Expect(cl.Manager().Count()).To(Equal(2))
		Expect(cl.System().TLBFor(1)).NotTo(BeNil())
	})

	It("should boot the primary and park the secondaries", func() {
		cl.Boot(entry)

		Expect(cl.CPU(0).PC).To(Equal(entry))
		Expect(cl.CPU(0).Halted()).To(BeFalse())
		Expect(cl.CPU(1).Halted()).To(BeTrue())

		cl.StartSecondary(1, entry+0x100)
		Expect(cl.CPU(1).Halted()).To(BeFalse())
		Expect(cl.CPU(1).PC).To(Equal(entry + 0x100))
	})

	It("should keep an interlocked counter exact across CPUs", func() {
		const (
			iters   = 50
			counter = uint64(0x4000)
		)
		load(
			insts.EncodeOperateLit(0x10, 0x20, 31, iters, 1), // R1 = iters
			insts.EncodeMemory(0x08, 2, 31, int16(counter)),  // R2 = &counter
			insts.EncodeMemory(0x2B, 3, 2, 0),                // LDQ_L R3, (R2)
			insts.EncodeOperateLit(0x10, 0x20, 3, 1, 3),      // R3++
			insts.EncodeMemory(0x2F, 3, 2, 0),                // STQ_C R3, (R2)
			insts.EncodeBranch(0x39, 3, -4),                  // BEQ: retry on conflict
			insts.EncodeOperateLit(0x10, 0x29, 1, 1, 1),      // R1--
			insts.EncodeBranch(0x3D, 1, -6),                  // BNE: next iteration
			insts.EncodePAL(0x00),                            // HALT
		)

		cl.Boot(entry)
		cl.StartSecondary(1, entry)
		disableMMU()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cl.RunAll(ctx)

		Expect(cl.Manager().AllHalted()).To(BeTrue())
		v, fault := cl.System().ReadPhys(counter, 8)
		Expect(fault).To(BeNil())
		Expect(v).To(Equal(uint64(2 * iters)))
	})

	It("should deliver manager IPIs into a CPU's interrupt path", func() {
		nop := insts.EncodeOperate(0x11, 0x20, 31, 31, 31)
		load(nop, nop)
		cl.Boot(entry)
		disableMMU()

		cpu := cl.CPU(0)
		ps := cpu.IPRs().RawRead(emu.IPRPS)
		cpu.IPRs().RawWrite(emu.IPRPS, ps|arch.PSIE)

		cl.Manager().SendIPI(0)
		cpu.Step()

		Expect(cpu.PC).To(Equal(arch.PALEntryStride * arch.EntryInterrupt))
		Expect(cl.Manager().Stats().IPIsSent).To(Equal(uint64(1)))
	})

	It("should tally coherency traffic drained from the inboxes", func() {
		cl.System().Barrier(0, arch.BarrierFull)

		Eventually(func() uint64 {
			return cl.SnoopCount(mem.MsgWriteback)
		}).Should(BeNumerically(">=", 1))
	})

	It("should surface coherency traffic on the event hub", func() {
		cl.Shutdown()
		events := emu.NewEvents(16)
		cl = smp.NewCluster(2,
			smp.WithMemOptions(mem.WithPhysLimit(1<<20)),
			smp.WithEvents(events),
		)

		cl.System().Barrier(0, arch.BarrierFull)

		var ev emu.CacheCoherencyEvent
		Eventually(events.CacheCoherency).Should(Receive(&ev))
		Expect(ev.CPU).To(Equal(1))
		Expect(ev.Kind).To(Equal("writeback"))
	})

	It("should detach everything on Shutdown", func() {
		cl.Shutdown()

		Expect(cl.Manager().Count()).To(Equal(0))
		Expect(cl.System().TLBFor(0)).To(BeNil())
		for _, cpu := range cl.CPUs() {
			Expect(cpu.Halted()).To(BeTrue())
		}
	})
})
