package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/insts"
	"github.com/sarchlab/axpsim/mem"
)

var _ = Describe("Event hub", func() {
	var (
		cpu *emu.CPU
		sys *mem.System
		ev  *emu.Events
	)

	BeforeEach(func() {
		sys = mem.NewSystem(mem.WithPhysLimit(1 << 20))
		ev = emu.NewEvents(16)
		cpu = emu.NewCPU(0,
			emu.WithBus(sys),
			emu.WithTLBControl(sys),
			emu.WithEvents(ev),
		)
		sys.RegisterCPU(0, cpu)
		cpu.Reset(testEntry)
		cpu.IPRs().RawWrite(emu.IPRMMEnable, 0)
	})

	It("should report committed stores", func() {
		loadProgram(sys,
			insts.EncodeMemory(0x08, 1, 31, 0x77),   // LDA r1, 0x77
			insts.EncodeMemory(0x2D, 1, 31, 0x4000), // STQ r1, 0x4000
		)
		cpu.Step()
		cpu.Step()

		var w emu.MemoryWriteEvent
		Expect(ev.MemoryWrite).To(Receive(&w))
		Expect(w.VA).To(Equal(uint64(0x4000)))
		Expect(w.Size).To(Equal(8))
		Expect(w.Value).To(Equal(uint64(0x77)))
	})

	It("should not report a faulted store", func() {
		loadProgram(sys,
			insts.EncodeMemory(0x2D, 1, 31, 0x4001), // misaligned STQ
		)
		cpu.Step()

		Expect(ev.MemoryWrite).NotTo(Receive())
	})

	It("should report TLB invalidations by scope", func() {
		cpu.IPRs().Write(emu.IPRTBIA, 0, arch.ModeKernel)

		var t emu.TlbInvalidatedEvent
		Expect(ev.TlbInvalidated).To(Receive(&t))
		Expect(t.Scope).To(Equal("all"))

		cpu.IPRs().Write(emu.IPRTBIS, 0x8000, arch.ModeKernel)
		Expect(ev.TlbInvalidated).To(Receive(&t))
		Expect(t.Scope).To(Equal("entry"))
		Expect(t.VA).To(Equal(uint64(0x8000)))
	})

	It("should report a reservation lost to a peer write", func() {
		peer := emu.NewCPU(1, emu.WithBus(sys), emu.WithTLBControl(sys))
		sys.RegisterCPU(1, peer)
		peer.Reset(testEntry)
		peer.IPRs().RawWrite(emu.IPRMMEnable, 0)

		loadProgram(sys,
			insts.EncodeMemory(0x08, 1, 31, 0x4000), // LDA r1, 0x4000
			insts.EncodeMemory(0x2B, 2, 1, 0),       // LDQ_L r2, (r1)
		)
		cpu.Step()
		cpu.Step()

		Expect(sys.Write(1, 0x4004, 4, 1)).To(BeNil())

		var r emu.ReservationInvalidatedEvent
		Expect(ev.ReservationInvalidated).To(Receive(&r))
		Expect(r.PA).To(Equal(uint64(0x4000)))
	})

	It("should drop events rather than block when nobody listens", func() {
		tiny := emu.NewEvents(1)
		c := emu.NewCPU(2, emu.WithBus(sys), emu.WithEvents(tiny))
		sys.RegisterCPU(2, c)
		c.Reset(testEntry)
		c.IPRs().RawWrite(emu.IPRMMEnable, 0)

		loadProgram(sys,
			insts.EncodeMemory(0x08, 1, 31, 0x11),
			insts.EncodeMemory(0x2D, 1, 31, 0x5000),
			insts.EncodeMemory(0x2D, 1, 31, 0x5008),
			insts.EncodeMemory(0x2D, 1, 31, 0x5010),
		)
		for i := 0; i < 4; i++ {
			c.Step()
		}

		var w emu.MemoryWriteEvent
		Expect(tiny.MemoryWrite).To(Receive(&w))
		Expect(w.VA).To(Equal(uint64(0x5000)))
		Expect(tiny.MemoryWrite).NotTo(Receive())
	})
})
