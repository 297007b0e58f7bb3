package emu

import "github.com/sarchlab/axpsim/arch"

// Event payloads published by a CPU. Delivery is through buffered
// channels, one reader per channel, so dispatch stays single-threaded
// per subscriber. Publishing never blocks the CPU: when a subscriber
// falls behind, events are dropped rather than stalling execution.

// FpcrUpdatedEvent reports a change to the floating-point control
// register.
type FpcrUpdatedEvent struct {
	CPU  int
	FPCR uint64
}

// IprChangedEvent reports a committed IPR write.
type IprChangedEvent struct {
	CPU   int
	Index int
	Old   uint64
	New   uint64
}

// IprAccessEvent reports a rejected IPR access.
type IprAccessEvent struct {
	CPU   int
	Index int
	Write bool
	Mode  arch.Mode
}

// ExceptionEvent reports an exception taken by a CPU, including the
// fatal halting case.
type ExceptionEvent struct {
	CPU   int
	Kind  arch.FaultKind
	PC    uint64
	Fatal bool
}

// TlbInvalidatedEvent reports a TLB invalidation applied to a CPU.
// VA is zero for the whole-TLB and per-process scopes.
type TlbInvalidatedEvent struct {
	CPU   int
	Scope string
	VA    uint64
}

// MemoryWriteEvent reports a committed store.
type MemoryWriteEvent struct {
	CPU   int
	VA    uint64
	Size  int
	Value uint64
}

// ReservationInvalidatedEvent reports an LL/SC reservation lost to
// another agent's write.
type ReservationInvalidatedEvent struct {
	CPU int
	PA  uint64
}

// CacheCoherencyEvent reports coherency traffic observed at a CPU's
// inbox.
type CacheCoherencyEvent struct {
	CPU  int
	Kind string
	Addr uint64
}

// Events is the per-CPU event hub.
type Events struct {
	FpcrUpdated            chan FpcrUpdatedEvent
	IprChanged             chan IprChangedEvent
	IprAccess              chan IprAccessEvent
	Exception              chan ExceptionEvent
	TlbInvalidated         chan TlbInvalidatedEvent
	MemoryWrite            chan MemoryWriteEvent
	ReservationInvalidated chan ReservationInvalidatedEvent
	CacheCoherency         chan CacheCoherencyEvent
}

// NewEvents creates an event hub with the given per-channel buffer
// depth.
func NewEvents(depth int) *Events {
	return &Events{
		FpcrUpdated:            make(chan FpcrUpdatedEvent, depth),
		IprChanged:             make(chan IprChangedEvent, depth),
		IprAccess:              make(chan IprAccessEvent, depth),
		Exception:              make(chan ExceptionEvent, depth),
		TlbInvalidated:         make(chan TlbInvalidatedEvent, depth),
		MemoryWrite:            make(chan MemoryWriteEvent, depth),
		ReservationInvalidated: make(chan ReservationInvalidatedEvent, depth),
		CacheCoherency:         make(chan CacheCoherencyEvent, depth),
	}
}

func (e *Events) publishFPCR(ev FpcrUpdatedEvent) {
	if e == nil {
		return
	}
	select {
	case e.FpcrUpdated <- ev:
	default:
	}
}

func (e *Events) publishIPRChanged(ev IprChangedEvent) {
	if e == nil {
		return
	}
	select {
	case e.IprChanged <- ev:
	default:
	}
}

func (e *Events) publishIPRAccess(ev IprAccessEvent) {
	if e == nil {
		return
	}
	select {
	case e.IprAccess <- ev:
	default:
	}
}

func (e *Events) publishException(ev ExceptionEvent) {
	if e == nil {
		return
	}
	select {
	case e.Exception <- ev:
	default:
	}
}

func (e *Events) publishTLBInvalidated(ev TlbInvalidatedEvent) {
	if e == nil {
		return
	}
	select {
	case e.TlbInvalidated <- ev:
	default:
	}
}

func (e *Events) publishMemoryWrite(ev MemoryWriteEvent) {
	if e == nil {
		return
	}
	select {
	case e.MemoryWrite <- ev:
	default:
	}
}

func (e *Events) publishReservationInvalidated(ev ReservationInvalidatedEvent) {
	if e == nil {
		return
	}
	select {
	case e.ReservationInvalidated <- ev:
	default:
	}
}

// PublishCoherency reports an observed coherency message. It is
// exported because the inbox drain lives outside this package.
func (e *Events) PublishCoherency(ev CacheCoherencyEvent) {
	if e == nil {
		return
	}
	select {
	case e.CacheCoherency <- ev:
	default:
	}
}
