package mem_test

import (
	"github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/mem"
)

var _ = Describe("MMIO manager", func() {
	var (
		mockCtrl *gomock.Controller
		handler  *MockMMIOHandler
		manager  *mem.MMIOManager
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		handler = NewMockMMIOHandler(mockCtrl)
		manager = mem.NewMMIOManager()
		manager.Register(0x1000_0000, 0x100, handler)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should resolve window-relative offsets", func() {
		h, offset, ok := manager.Lookup(0x1000_0040, 4)
		Expect(ok).To(BeTrue())
		Expect(offset).To(Equal(uint64(0x40)))
		Expect(h).To(BeIdenticalTo(handler))
	})

	It("should miss outside every window", func() {
		_, _, ok := manager.Lookup(0x2000_0000, 4)
		Expect(ok).To(BeFalse())
	})

	It("should miss when the access straddles the window end", func() {
		_, _, ok := manager.Lookup(0x1000_00FD, 4)
		Expect(ok).To(BeFalse())
	})

	It("should route reads to the device", func() {
		handler.EXPECT().Read(uint64(0x8), 4).Return(uint64(0xAB), mem.MMIOOK)

		v, fault := manager.Read(0x1000_0008, 4)
		Expect(fault).To(BeNil())
		Expect(v).To(Equal(uint64(0xAB)))
	})

	It("should retry a busy device", func() {
		gomock.InOrder(
			handler.EXPECT().Read(uint64(0), 4).Return(uint64(0), mem.MMIOBusy),
			handler.EXPECT().Read(uint64(0), 4).Return(uint64(7), mem.MMIOOK),
		)

		v, fault := manager.Read(0x1000_0000, 4)
		Expect(fault).To(BeNil())
		Expect(v).To(Equal(uint64(7)))
	})

	It("should surface a device fault as a machine check", func() {
		handler.EXPECT().Write(uint64(0), 4, uint64(1)).Return(mem.MMIOFault)

		fault := manager.Write(0x1000_0000, 4, 1)
		Expect(fault).NotTo(BeNil())
		Expect(fault.Kind).To(Equal(arch.FaultMachineCheck))
		Expect(fault.Write).To(BeTrue())
	})

	It("should give up after bounded busy retries", func() {
		handler.EXPECT().Read(uint64(0), 4).
			Return(uint64(0), mem.MMIOBusy).AnyTimes()

		_, fault := manager.Read(0x1000_0000, 4)
		Expect(fault).NotTo(BeNil())
		Expect(fault.Kind).To(Equal(arch.FaultMachineCheck))
	})

	It("should fault on a read with no window", func() {
		_, fault := manager.Read(0x2000_0000, 4)
		Expect(fault).NotTo(BeNil())
	})
})
