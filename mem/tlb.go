package mem

import (
	"sync"

	"github.com/sarchlab/axpsim/arch"
)

// DefaultTLBCapacity is the per-CPU translation buffer size.
const DefaultTLBCapacity = 128

// TLBEntry is one translation. Global entries match any ASN and
// survive process-scoped invalidation.
type TLBEntry struct {
	VPN uint64
	ASN uint64
	PFN uint64

	Valid       bool
	WriteEnable bool
	ExecEnable  bool
	KernelOnly  bool
	Global      bool

	// Instruction marks an instruction-stream entry for the scoped
	// invalidations.
	Instruction bool

	Referenced uint64
	Dirty      bool

	// PageShift overrides the architectural granularity when
	// non-zero.
	PageShift int
}

func (e *TLBEntry) pageShift() int {
	if e.PageShift != 0 {
		return e.PageShift
	}
	return arch.PageShift
}

// PA composes the physical address for va through this entry.
func (e *TLBEntry) PA(va uint64) uint64 {
	shift := e.pageShift()
	return e.PFN<<shift | va&(1<<shift-1)
}

func (e *TLBEntry) matches(vpn, asn uint64) bool {
	return e.Valid && e.VPN == vpn && (e.Global || e.ASN == asn)
}

// TLBStats counts lookups on one TLB.
type TLBStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
	Age     uint64
}

// TLB is a fixed-capacity LRU translation buffer for one CPU. The
// lock is exclusive even on lookup because a hit touches the LRU age.
type TLB struct {
	mu       sync.Mutex
	entries  []TLBEntry
	capacity int
	age      uint64
	hits     uint64
	misses   uint64
}

// NewTLB creates a TLB with the given capacity.
func NewTLB(capacity int) *TLB {
	if capacity <= 0 {
		capacity = DefaultTLBCapacity
	}
	return &TLB{
		entries:  make([]TLBEntry, 0, capacity),
		capacity: capacity,
	}
}

// Lookup finds the entry translating va under asn and checks
// protection for the access. The fault result distinguishes a miss
// (FaultTranslationMiss) from a protection violation.
func (t *TLB) Lookup(va, asn uint64, access arch.AccessType, mode arch.Mode) (*TLBEntry, arch.FaultKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vpn := arch.VPN(va)
	for i := range t.entries {
		e := &t.entries[i]
		if !e.matches(vpn, asn) {
			continue
		}

		// A protection failure on a matching entry is still a hit:
		// the translation was found, the access was refused.
		if e.KernelOnly && mode != arch.ModeKernel {
			t.hits++
			return nil, arch.FaultProtection
		}
		switch access {
		case arch.AccessWrite:
			if !e.WriteEnable {
				t.hits++
				return nil, arch.FaultProtection
			}
			e.Dirty = true
		case arch.AccessExecute:
			if !e.ExecEnable {
				t.hits++
				return nil, arch.FaultProtection
			}
		}

		t.age++
		e.Referenced = t.age
		t.hits++
		return e, arch.FaultNone
	}

	t.misses++
	return nil, arch.FaultTranslationMiss
}

// CheckTB is the hit-only probe: it returns the physical address for
// va, or zero with ok false, without protection checks.
func (t *TLB) CheckTB(va, asn uint64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vpn := arch.VPN(va)
	for i := range t.entries {
		e := &t.entries[i]
		if e.matches(vpn, asn) {
			t.age++
			e.Referenced = t.age
			return e.PA(va), true
		}
	}
	return 0, false
}

// Insert adds entry, replacing an existing translation for the same
// (VPN, ASN) first and otherwise evicting the LRU victim when full.
func (t *TLB) Insert(entry TLBEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.age++
	entry.Referenced = t.age
	entry.Valid = true

	for i := range t.entries {
		e := &t.entries[i]
		if e.VPN == entry.VPN && e.ASN == entry.ASN && e.Instruction == entry.Instruction {
			t.entries[i] = entry
			return
		}
	}

	if len(t.entries) < t.capacity {
		t.entries = append(t.entries, entry)
		return
	}

	victim := 0
	for i := range t.entries {
		if t.entries[i].Referenced < t.entries[victim].Referenced {
			victim = i
		}
	}
	t.entries[victim] = entry
}

// InvalidateAll drops every entry.
func (t *TLB) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = t.entries[:0]
}

// InvalidateProcess drops the non-global entries.
func (t *TLB) InvalidateProcess() {
	t.invalidate(func(e *TLBEntry) bool { return !e.Global })
}

// InvalidateASN drops the non-global entries tagged with asn.
func (t *TLB) InvalidateASN(asn uint64) {
	t.invalidate(func(e *TLBEntry) bool { return !e.Global && e.ASN == asn })
}

// InvalidateEntry drops any entry translating va, instruction or
// data.
func (t *TLB) InvalidateEntry(va uint64) {
	vpn := arch.VPN(va)
	t.invalidate(func(e *TLBEntry) bool { return e.VPN == vpn })
}

// InvalidateDataEntry drops the data-side entry for va.
func (t *TLB) InvalidateDataEntry(va uint64) {
	vpn := arch.VPN(va)
	t.invalidate(func(e *TLBEntry) bool { return e.VPN == vpn && !e.Instruction })
}

// InvalidateInstrEntry drops the instruction-side entry for va.
func (t *TLB) InvalidateInstrEntry(va uint64) {
	vpn := arch.VPN(va)
	t.invalidate(func(e *TLBEntry) bool { return e.VPN == vpn && e.Instruction })
}

func (t *TLB) invalidate(drop func(*TLBEntry) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	for i := range t.entries {
		if !drop(&t.entries[i]) {
			kept = append(kept, t.entries[i])
		}
	}
	t.entries = kept
}

// Stats returns a snapshot of the lookup counters.
func (t *TLB) Stats() TLBStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TLBStats{
		Hits:    t.hits,
		Misses:  t.misses,
		Entries: len(t.entries),
		Age:     t.age,
	}
}
