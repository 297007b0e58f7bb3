// Package mem implements the Alpha memory system: physical storage,
// per-CPU translation buffers, MMIO routing, and the coherency bus
// that ties the CPUs' caches together.
package mem

import (
	"sync"

	"github.com/sarchlab/axpsim/arch"
)

// physPageShift sizes the sparse backing pages. It matches the
// architectural page size so page-table experiments map one to one.
const physPageShift = arch.PageShift

const physPageSize = 1 << physPageShift

// PhysMem is sparse physical memory over the 44-bit address space.
// Pages materialize on first write; reads of unbacked pages return
// zero.
type PhysMem struct {
	mu    sync.RWMutex
	limit uint64
	pages map[uint64][]byte
}

// NewPhysMem creates physical memory covering [0, limit). A zero
// limit covers the full architectural range.
func NewPhysMem(limit uint64) *PhysMem {
	if limit == 0 || limit > arch.PhysAddrMask+1 {
		limit = arch.PhysAddrMask + 1
	}
	return &PhysMem{
		limit: limit,
		pages: make(map[uint64][]byte),
	}
}

// Limit returns the exclusive upper bound of the physical range.
func (m *PhysMem) Limit() uint64 { return m.limit }

// Contains reports whether [pa, pa+size) lies inside physical
// memory.
func (m *PhysMem) Contains(pa uint64, size int) bool {
	return pa < m.limit && pa+uint64(size) <= m.limit
}

// Read reads size bytes (1, 2, 4, or 8) little-endian at pa.
func (m *PhysMem) Read(pa uint64, size int) (uint64, *arch.Fault) {
	if !m.Contains(pa, size) {
		return 0, &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(m.byteAt(pa+uint64(i))) << (8 * i)
	}
	return v, nil
}

// Write writes size bytes little-endian at pa.
func (m *PhysMem) Write(pa uint64, size int, value uint64) *arch.Fault {
	if !m.Contains(pa, size) {
		return &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa, Write: true}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < size; i++ {
		page := m.pageFor(pa + uint64(i))
		page[(pa+uint64(i))&(physPageSize-1)] = byte(value >> (8 * i))
	}
	return nil
}

// ReadBytes copies len(buf) bytes starting at pa.
func (m *PhysMem) ReadBytes(pa uint64, buf []byte) *arch.Fault {
	if !m.Contains(pa, len(buf)) {
		return &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range buf {
		buf[i] = m.byteAt(pa + uint64(i))
	}
	return nil
}

// WriteBytes copies buf into memory at pa.
func (m *PhysMem) WriteBytes(pa uint64, buf []byte) *arch.Fault {
	if !m.Contains(pa, len(buf)) {
		return &arch.Fault{Kind: arch.FaultMachineCheck, VA: pa, Write: true}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, b := range buf {
		page := m.pageFor(pa + uint64(i))
		page[(pa+uint64(i))&(physPageSize-1)] = b
	}
	return nil
}

// PagesBacked returns the number of materialized pages.
func (m *PhysMem) PagesBacked() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}

func (m *PhysMem) byteAt(pa uint64) byte {
	page, ok := m.pages[pa>>physPageShift]
	if !ok {
		return 0
	}
	return page[pa&(physPageSize-1)]
}

func (m *PhysMem) pageFor(pa uint64) []byte {
	key := pa >> physPageShift
	page, ok := m.pages[key]
	if !ok {
		page = make([]byte, physPageSize)
		m.pages[key] = page
	}
	return page
}
