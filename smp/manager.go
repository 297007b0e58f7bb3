// Package smp coordinates multiple processors: registration, online
// state, and interprocessor interrupt routing.
package smp

import (
	"sync"

	"github.com/rs/xid"
)

// Processor is the manager's view of one CPU.
type Processor interface {
	ID() int
	PostIPI()
	Halted() bool
	Halt()
}

// Stats counts manager activity.
type Stats struct {
	IPIsSent    uint64
	IPIsDropped uint64
	Broadcasts  uint64
}

type slot struct {
	proc   Processor
	online bool
}

// Manager tracks the processors of one system. All methods are safe
// for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	name      string
	slots     map[int]*slot
	interlock sync.Mutex
	stats     Stats
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		name:  xid.New().String(),
		slots: make(map[int]*slot),
	}
}

// Name returns the unique system identifier.
func (m *Manager) Name() string { return m.name }

// Interlock returns the mutex shared by all processors for
// interlocked memory sequences.
func (m *Manager) Interlock() *sync.Mutex { return &m.interlock }

// Register adds a processor, initially online. Re-registering an ID
// replaces the previous entry.
func (m *Manager) Register(p Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[p.ID()] = &slot{proc: p, online: true}
}

// Deregister removes a processor.
func (m *Manager) Deregister(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, id)
}

// SetOnline marks a processor online or offline. Offline processors
// receive no interrupts.
func (m *Manager) SetOnline(id int, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[id]; ok {
		s.online = online
	}
}

// Online reports whether the processor is registered and online.
func (m *Manager) Online(id int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[id]
	return ok && s.online
}

// Count returns the number of registered processors.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

// Processor returns the registered processor for id, if any.
func (m *Manager) Processor(id int) (Processor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, false
	}
	return s.proc, true
}

// SendIPI posts an interprocessor interrupt to the target. Interrupts
// to unknown or offline targets are dropped.
func (m *Manager) SendIPI(target int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[target]
	if !ok || !s.online {
		m.stats.IPIsDropped++
		return
	}
	m.stats.IPIsSent++
	s.proc.PostIPI()
}

// Broadcast posts an interprocessor interrupt to every online
// processor except those excluded.
func (m *Manager) Broadcast(exclude ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Broadcasts++
	for id, s := range m.slots {
		if !s.online || contains(exclude, id) {
			continue
		}
		m.stats.IPIsSent++
		s.proc.PostIPI()
	}
}

// HaltAll stops every registered processor.
func (m *Manager) HaltAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		s.proc.Halt()
	}
}

// AllHalted reports whether every registered processor has stopped.
func (m *Manager) AllHalted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		if !s.proc.Halted() {
			return false
		}
	}
	return true
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
