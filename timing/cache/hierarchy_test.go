package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axpsim/timing/cache"
)

var _ = Describe("Hierarchy", func() {
	var (
		phys   *memBacking
		h      *cache.Hierarchy
		snoops []cache.SnoopEvent
	)

	newHierarchy := func(opts ...cache.HierarchyOption) *cache.Hierarchy {
		opts = append(opts, cache.WithSnoopObserver(func(ev cache.SnoopEvent) {
			snoops = append(snoops, ev)
		}))
		hier := cache.NewHierarchy(
			func(addr uint64, buf []byte) { copy(buf, phys.Read(addr, len(buf))) },
			func(addr uint64, data []byte) { phys.Write(addr, data) },
			opts...,
		)
		hier.AttachCPU(0)
		hier.AttachCPU(1)
		return hier
	}

	snoopKinds := func(kind cache.SnoopKind) int {
		n := 0
		for _, ev := range snoops {
			if ev.Kind == kind {
				n++
			}
		}
		return n
	}

	BeforeEach(func() {
		phys = newMemBacking()
		snoops = nil
		h = newHierarchy()
	})

	It("should load a sole reader Exclusive", func() {
		phys.setWord(0x100, 0xAA)

		Expect(h.Read(0, 0x100, 8)).To(Equal(uint64(0xAA)))
		Expect(h.Caches(0).L1D.State(0x100)).To(Equal(cache.Exclusive))
		Expect(h.ModifiedOrExclusiveHolders(0x100)).To(Equal([]int{0}))
	})

	It("should downgrade to Shared when a second CPU reads", func() {
		phys.setWord(0x100, 0xAA)

		h.Read(0, 0x100, 8)
		Expect(h.Read(1, 0x100, 8)).To(Equal(uint64(0xAA)))

		Expect(h.Caches(0).L1D.State(0x100)).To(Equal(cache.Shared))
		Expect(h.Caches(1).L1D.State(0x100)).To(Equal(cache.Shared))
		Expect(h.ModifiedOrExclusiveHolders(0x100)).To(BeEmpty())
		Expect(snoopKinds(cache.SnoopDowngrade)).To(Equal(1))
	})

	It("should upgrade a write to Modified", func() {
		h.Write(0, 0x100, 8, 0xBB)

		Expect(h.Caches(0).L1D.State(0x100)).To(Equal(cache.Modified))
		Expect(h.ModifiedOrExclusiveHolders(0x100)).To(Equal([]int{0}))
		Expect(phys.word(0x100)).To(Equal(uint64(0))) // not written through
	})

	It("should surface a peer's modified data to a reader", func() {
		h.Write(0, 0x100, 8, 0xCC)

		Expect(h.Read(1, 0x100, 8)).To(Equal(uint64(0xCC)))
		Expect(h.Caches(0).L1D.State(0x100)).To(Equal(cache.Shared))
		Expect(h.Caches(1).L1D.State(0x100)).To(Equal(cache.Shared))
	})

	It("should invalidate peers when a sharer writes", func() {
		phys.setWord(0x100, 0x11)
		h.Read(0, 0x100, 8)
		h.Read(1, 0x100, 8)

		h.Write(1, 0x100, 8, 0x22)

		Expect(h.Caches(0).L1D.State(0x100)).To(Equal(cache.Invalid))
		Expect(h.Caches(1).L1D.State(0x100)).To(Equal(cache.Modified))
		Expect(snoopKinds(cache.SnoopInvalidate)).To(Equal(1))

		Expect(h.Read(0, 0x100, 8)).To(Equal(uint64(0x22)))
	})

	It("should transfer modified ownership between writers", func() {
		h.Write(0, 0x100, 8, 0x33)
		h.Write(1, 0x100, 8, 0x44)

		Expect(h.Caches(0).L1D.State(0x100)).To(Equal(cache.Invalid))
		Expect(h.Caches(1).L1D.State(0x100)).To(Equal(cache.Modified))
		Expect(h.Read(0, 0x100, 8)).To(Equal(uint64(0x44)))
	})

	It("should fetch instructions through the L1I", func() {
		phys.setWord(0x200, 0x47FF041F)

		Expect(h.FetchInstr(0, 0x200, 4)).To(Equal(uint64(0x47FF041F)))
		Expect(h.Caches(0).L1I.Stats().Misses).To(Equal(uint64(1)))

		h.FetchInstr(0, 0x200, 4)
		Expect(h.Caches(0).L1I.Stats().Hits).To(Equal(uint64(1)))
	})

	It("should let an instruction fetch see peer-modified data", func() {
		h.Write(1, 0x200, 4, 0x47FF041F)

		Expect(h.FetchInstr(0, 0x200, 4)).To(Equal(uint64(0x47FF041F)))
	})

	It("should drop stale L1I copies when the line is written", func() {
		phys.setWord(0x200, 0xAAAA)
		h.FetchInstr(0, 0x200, 4)
		h.FetchInstr(1, 0x200, 4)

		h.Write(0, 0x200, 4, 0xBBBB)

		Expect(h.Caches(0).L1I.State(0x200)).To(Equal(cache.Invalid))
		Expect(h.Caches(1).L1I.State(0x200)).To(Equal(cache.Invalid))

		// Once the writer drains, both fetch streams see the new word.
		h.DrainCPU(0)
		Expect(h.FetchInstr(0, 0x200, 4)).To(Equal(uint64(0xBBBB)))
		Expect(h.FetchInstr(1, 0x200, 4)).To(Equal(uint64(0xBBBB)))
	})

	It("should empty a CPU's L1I on InvalidateInstr", func() {
		phys.setWord(0x200, 0xAAAA)
		h.FetchInstr(0, 0x200, 4)

		h.InvalidateInstr(0)

		Expect(h.Caches(0).L1I.State(0x200)).To(Equal(cache.Invalid))
		h.FetchInstr(0, 0x200, 4)
		Expect(h.Caches(0).L1I.Stats().Misses).To(Equal(uint64(2)))
	})

	It("should publish dirty lines on DrainCPU", func() {
		h.Write(0, 0x100, 8, 0x55)
		h.DrainCPU(0)

		// The line lands in the shared L3; a peer read sees it.
		Expect(h.Read(1, 0x100, 8)).To(Equal(uint64(0x55)))
		Expect(h.Caches(0).L1D.State(0x100)).NotTo(Equal(cache.Invalid))
	})

	It("should write everything back to memory on FlushAll", func() {
		h.Write(0, 0x100, 8, 0x66)
		h.Write(1, 0x180, 8, 0x77)

		h.FlushAll()

		Expect(phys.word(0x100)).To(Equal(uint64(0x66)))
		Expect(phys.word(0x180)).To(Equal(uint64(0x77)))
		Expect(h.Caches(0).L1D.State(0x100)).To(Equal(cache.Invalid))
	})

	It("should flush a CPU's stack on detach", func() {
		h.Write(0, 0x100, 8, 0x88)
		h.DetachCPU(0)

		Expect(h.Caches(0)).To(BeNil())
		Expect(h.Read(1, 0x100, 8)).To(Equal(uint64(0x88)))
	})

	It("should warm the L2 when prefetching is on", func() {
		phys.setWord(0x100, 0x1)
		snoops = nil
		hp := newHierarchy(cache.WithPrefetch(true))

		hp.Read(0, 0x100, 8)

		// The next sequential line is resident in the L2.
		Expect(hp.Caches(0).L2.Read(0x140, 0, cache.Shared).Hit).To(BeTrue())
	})
})
