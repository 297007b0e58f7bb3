package mem

import (
	"sync"

	"github.com/sarchlab/axpsim/arch"
)

// MMIOStatus is the outcome of a device access. Busy devices are
// retried a bounded number of times before surfacing as a fault.
type MMIOStatus int

// Device access outcomes.
const (
	MMIOOK MMIOStatus = iota
	MMIOBusy
	MMIOFault
)

// mmioRetryLimit bounds the busy-retry loop.
const mmioRetryLimit = 100

// MMIOHandler models one memory-mapped device. Offsets are relative
// to the window base.
type MMIOHandler interface {
	Name() string
	Read(offset uint64, size int) (uint64, MMIOStatus)
	Write(offset uint64, size int, value uint64) MMIOStatus
}

type mmioWindow struct {
	base    uint64
	length  uint64
	handler MMIOHandler
}

func (w *mmioWindow) contains(pa uint64, size int) bool {
	return pa >= w.base && pa+uint64(size) <= w.base+w.length
}

// MMIOManager routes physical addresses that fall inside registered
// device windows. Matching accesses bypass the cache hierarchy and
// physical backing store.
type MMIOManager struct {
	mu      sync.RWMutex
	windows []mmioWindow
}

// NewMMIOManager creates an empty manager.
func NewMMIOManager() *MMIOManager {
	return &MMIOManager{}
}

// Register adds a device window at [base, base+length).
func (m *MMIOManager) Register(base, length uint64, handler MMIOHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = append(m.windows, mmioWindow{base: base, length: length, handler: handler})
}

// Lookup finds the window containing [pa, pa+size).
func (m *MMIOManager) Lookup(pa uint64, size int) (MMIOHandler, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.windows {
		if m.windows[i].contains(pa, size) {
			return m.windows[i].handler, pa - m.windows[i].base, true
		}
	}
	return nil, 0, false
}

// Read performs a device read with bounded busy retries.
func (m *MMIOManager) Read(pa uint64, size int) (uint64, *arch.Fault) {
	handler, offset, ok := m.Lookup(pa, size)
	if !ok {
		return 0, &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa}
	}
	for attempt := 0; attempt < mmioRetryLimit; attempt++ {
		v, status := handler.Read(offset, size)
		switch status {
		case MMIOOK:
			return v, nil
		case MMIOFault:
			return 0, &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa}
		}
	}
	return 0, &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa}
}

// Write performs a device write with bounded busy retries.
func (m *MMIOManager) Write(pa uint64, size int, value uint64) *arch.Fault {
	handler, offset, ok := m.Lookup(pa, size)
	if !ok {
		return &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa, Write: true}
	}
	for attempt := 0; attempt < mmioRetryLimit; attempt++ {
		switch handler.Write(offset, size, value) {
		case MMIOOK:
			return nil
		case MMIOFault:
			return &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa, Write: true}
		}
	}
	return &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa, Write: true}
}
