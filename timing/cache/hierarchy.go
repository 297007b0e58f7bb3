package cache

import "sync"

// SnoopKind classifies a coherency action applied to a peer cache.
type SnoopKind int

// Snoop kinds.
const (
	SnoopInvalidate SnoopKind = iota
	SnoopFlush
	SnoopDowngrade
)

// CPUCaches is one CPU's private cache stack.
type CPUCaches struct {
	L1I *Cache
	L1D *Cache
	L2  *Cache
}

// SnoopEvent reports a coherency action taken against a peer.
type SnoopEvent struct {
	CPU  int
	Addr uint64
	Kind SnoopKind
}

// HierarchyOption configures a Hierarchy.
type HierarchyOption func(*Hierarchy)

// WithL1IConfig overrides the L1 instruction cache geometry.
func WithL1IConfig(cfg Config) HierarchyOption {
	return func(h *Hierarchy) { h.l1iCfg = cfg }
}

// WithL1DConfig overrides the L1 data cache geometry.
func WithL1DConfig(cfg Config) HierarchyOption {
	return func(h *Hierarchy) { h.l1dCfg = cfg }
}

// WithL2Config overrides the L2 geometry.
func WithL2Config(cfg Config) HierarchyOption {
	return func(h *Hierarchy) { h.l2Cfg = cfg }
}

// WithL3Config overrides the shared L3 geometry.
func WithL3Config(cfg Config) HierarchyOption {
	return func(h *Hierarchy) { h.l3Cfg = cfg }
}

// WithPrefetch enables next-line prefetching into the L2 on data
// read misses.
func WithPrefetch(enabled bool) HierarchyOption {
	return func(h *Hierarchy) { h.prefetch = enabled }
}

// WithSnoopObserver registers a callback invoked for every peer
// snoop, under the coherency lock.
func WithSnoopObserver(fn func(SnoopEvent)) HierarchyOption {
	return func(h *Hierarchy) { h.onSnoop = fn }
}

// Hierarchy is the full cache system: per-CPU L1I/L1D/L2 stacks over
// a shared L3 backed by physical memory. MESI is tracked at the L1D
// level; every operation runs under one coherency lock so state
// transitions across CPUs are serialized.
type Hierarchy struct {
	mu sync.Mutex

	l3   *Cache
	cpus map[int]*CPUCaches

	l1iCfg, l1dCfg, l2Cfg, l3Cfg Config
	prefetch                     bool
	onSnoop                      func(SnoopEvent)

	backingRead  func(addr uint64, buf []byte)
	backingWrite func(addr uint64, data []byte)
}

// physBacking adapts the backing callbacks to the BackingStore
// interface for the L3.
type physBacking struct {
	read  func(addr uint64, buf []byte)
	write func(addr uint64, data []byte)
}

func (p *physBacking) Read(addr uint64, size int) []byte {
	buf := make([]byte, size)
	if p.read != nil {
		p.read(addr, buf)
	}
	return buf
}

func (p *physBacking) Write(addr uint64, data []byte) {
	if p.write != nil {
		p.write(addr, data)
	}
}

// chainBacking adapts a lower cache level to BackingStore.
type chainBacking struct {
	next *Cache
}

func (b *chainBacking) Read(addr uint64, size int) []byte {
	return b.next.ReadBytes(addr, size)
}

func (b *chainBacking) Write(addr uint64, data []byte) {
	b.next.WriteBytes(addr, data)
}

// NewHierarchy creates a hierarchy over the physical-memory
// callbacks.
func NewHierarchy(read func(addr uint64, buf []byte), write func(addr uint64, data []byte), opts ...HierarchyOption) *Hierarchy {
	h := &Hierarchy{
		cpus:         make(map[int]*CPUCaches),
		l1iCfg:       DefaultL1IConfig(),
		l1dCfg:       DefaultL1DConfig(),
		l2Cfg:        DefaultL2Config(),
		l3Cfg:        DefaultL3Config(),
		backingRead:  read,
		backingWrite: write,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.l3 = New(h.l3Cfg, &physBacking{read: h.backingRead, write: h.backingWrite})
	return h
}

// AttachCPU builds the private cache stack for a CPU.
func (h *Hierarchy) AttachCPU(cpuID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l2 := New(h.l2Cfg, &chainBacking{next: h.l3})
	h.cpus[cpuID] = &CPUCaches{
		L1I: New(h.l1iCfg, &chainBacking{next: l2}),
		L1D: New(h.l1dCfg, &chainBacking{next: l2}),
		L2:  l2,
	}
}

// DetachCPU flushes and removes a CPU's private stack.
func (h *Hierarchy) DetachCPU(cpuID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.cpus[cpuID]; ok {
		c.L1D.Flush()
		c.L1I.InvalidateAll()
		c.L2.Flush()
		delete(h.cpus, cpuID)
	}
}

// Caches returns a CPU's private stack, for inspection.
func (h *Hierarchy) Caches(cpuID int) *CPUCaches {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cpus[cpuID]
}

// L3 returns the shared last-level cache.
func (h *Hierarchy) L3() *Cache { return h.l3 }

func (h *Hierarchy) snooped(cpu int, addr uint64, kind SnoopKind) {
	if h.onSnoop != nil {
		h.onSnoop(SnoopEvent{CPU: cpu, Addr: addr, Kind: kind})
	}
}

// FetchInstr reads instruction bytes for a CPU through its L1I.
func (h *Hierarchy) FetchInstr(cpuID int, pa uint64, size int) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.cpus[cpuID]
	if !ok {
		return 0
	}
	// A peer holding the line Modified must surface its data first.
	h.writebackPeerModified(cpuID, pa, false)
	return c.L1I.Read(pa, size, Shared).Data
}

// Read performs a coherent data read.
//
// Transitions: no holder anywhere loads Exclusive; a Shared or
// Exclusive peer makes both Shared; a Modified peer writes back to
// the L3 and both become Shared.
func (h *Hierarchy) Read(cpuID int, pa uint64, size int) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.cpus[cpuID]
	if !ok {
		return 0
	}

	if c.L1D.State(pa) != Invalid {
		return c.L1D.Read(pa, size, Shared).Data
	}

	fill := Exclusive
	peerHadModified := false
	for id, peer := range h.cpus {
		if id == cpuID {
			continue
		}
		switch peer.L1D.State(pa) {
		case Modified:
			h.writebackToL3(peer, pa)
			peer.L1D.SetState(pa, Shared)
			h.snooped(id, pa, SnoopDowngrade)
			fill = Shared
			peerHadModified = true
		case Exclusive:
			peer.L1D.SetState(pa, Shared)
			h.snooped(id, pa, SnoopDowngrade)
			fill = Shared
		case Shared:
			fill = Shared
		}
	}

	if peerHadModified {
		// The private L2 may hold a stale copy from before the peer
		// modified the line.
		c.L2.InvalidateLine(pa)
	}

	result := c.L1D.Read(pa, size, fill)

	if h.prefetch {
		h.prefetchNextLine(c, pa)
	}
	return result.Data
}

// Write performs a coherent data write.
//
// Transitions: Exclusive upgrades silently to Modified; Shared
// broadcasts invalidates first; a Modified peer writes back and
// invalidates before this CPU installs the line Modified.
func (h *Hierarchy) Write(cpuID int, pa uint64, size int, value uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.cpus[cpuID]
	if !ok {
		return
	}

	// The instruction stream may hold the line even when no L1D does.
	// Every L1I drops it, and a peer L2 copy that the MESI walk below
	// would not see is flushed so a later refetch cannot resurrect the
	// old bytes.
	for id, peer := range h.cpus {
		peer.L1I.InvalidateLine(pa)
		if id != cpuID && peer.L1D.State(pa) == Invalid {
			peer.L2.FlushLine(pa)
		}
	}

	peerHadModified := false
	if c.L1D.State(pa) != Modified && c.L1D.State(pa) != Exclusive {
		for id, peer := range h.cpus {
			if id == cpuID {
				continue
			}
			if peer.L1D.State(pa) == Modified {
				h.writebackToL3(peer, pa)
				peerHadModified = true
			}
			if peer.L1D.State(pa) != Invalid {
				peer.L1D.InvalidateLine(pa)
				peer.L2.InvalidateLine(pa)
				h.snooped(id, pa, SnoopInvalidate)
			}
		}
	}

	if peerHadModified {
		c.L2.InvalidateLine(pa)
	}
	c.L1D.Write(pa, size, value)
}

// writebackPeerModified pushes a Modified peer copy down to the L3;
// when invalidate is set the peer's line is dropped, otherwise it
// downgrades to Shared.
func (h *Hierarchy) writebackPeerModified(cpuID int, pa uint64, invalidate bool) {
	for id, peer := range h.cpus {
		if id == cpuID {
			continue
		}
		if peer.L1D.State(pa) != Modified {
			continue
		}
		h.writebackToL3(peer, pa)
		if invalidate {
			peer.L1D.InvalidateLine(pa)
			peer.L2.InvalidateLine(pa)
			h.snooped(id, pa, SnoopInvalidate)
		} else {
			peer.L1D.SetState(pa, Shared)
			h.snooped(id, pa, SnoopDowngrade)
		}
	}
}

// writebackToL3 copies a peer's Modified line directly into the
// shared L3, bypassing the peer's private L2, and marks it clean.
func (h *Hierarchy) writebackToL3(peer *CPUCaches, pa uint64) {
	data, ok := peer.L1D.PeekBlock(pa)
	if !ok {
		return
	}
	blockAddr := pa / uint64(peer.L1D.config.BlockSize) * uint64(peer.L1D.config.BlockSize)
	h.l3.WriteBytes(blockAddr, data)
	peer.L1D.ClearDirty(pa)
	peer.L2.InvalidateLine(pa)
}

// prefetchNextLine warms the L2 with the next sequential line,
// skipping lines any peer currently holds so the prefetch cannot
// disturb coherency.
func (h *Hierarchy) prefetchNextLine(c *CPUCaches, pa uint64) {
	blockSize := uint64(c.L1D.config.BlockSize)
	next := (pa/blockSize + 1) * blockSize
	for _, peer := range h.cpus {
		if peer.L1D.State(next) != Invalid {
			return
		}
	}
	c.L2.Read(next, 0, Exclusive)
}

// Snoop applies a coherency action to one CPU's stack.
func (h *Hierarchy) Snoop(cpuID int, pa uint64, kind SnoopKind) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.cpus[cpuID]
	if !ok {
		return
	}
	switch kind {
	case SnoopInvalidate:
		c.L1D.InvalidateLine(pa)
		c.L1I.InvalidateLine(pa)
		c.L2.InvalidateLine(pa)
	case SnoopFlush:
		if c.L1D.State(pa) == Modified {
			h.writebackToL3(c, pa)
		}
		c.L1D.InvalidateLine(pa)
		c.L1I.InvalidateLine(pa)
		c.L2.InvalidateLine(pa)
	case SnoopDowngrade:
		if c.L1D.State(pa) == Modified {
			h.writebackToL3(c, pa)
		}
		if c.L1D.State(pa) != Invalid {
			c.L1D.SetState(pa, Shared)
		}
	}
	h.snooped(cpuID, pa, kind)
}

// InvalidateLine drops the line from one CPU's stack without
// writeback.
func (h *Hierarchy) InvalidateLine(cpuID int, pa uint64) {
	h.Snoop(cpuID, pa, SnoopInvalidate)
}

// FlushLine writes back and drops the line from one CPU's stack.
func (h *Hierarchy) FlushLine(cpuID int, pa uint64) {
	h.Snoop(cpuID, pa, SnoopFlush)
}

// DrainCPU writes back a CPU's dirty lines, keeping them resident.
// Full barriers use it to publish writes to the shared L3.
func (h *Hierarchy) DrainCPU(cpuID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.cpus[cpuID]; ok {
		c.L1D.DrainDirty()
		c.L2.DrainDirty()
	}
}

// InvalidateInstr drops a CPU's entire L1I. The instruction-memory
// barrier uses it to resynchronize the fetch stream with prior data
// writes.
func (h *Hierarchy) InvalidateInstr(cpuID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.cpus[cpuID]; ok {
		c.L1I.InvalidateAll()
	}
}

// FlushAll writes back and invalidates every cache including the
// shared L3.
func (h *Hierarchy) FlushAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.cpus {
		c.L1D.Flush()
		c.L1I.InvalidateAll()
		c.L2.Flush()
	}
	h.l3.Flush()
}

// ModifiedOrExclusiveHolders returns the CPUs whose L1D holds pa in
// Modified or Exclusive state.
func (h *Hierarchy) ModifiedOrExclusiveHolders(pa uint64) []int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var holders []int
	for id, c := range h.cpus {
		if s := c.L1D.State(pa); s == Modified || s == Exclusive {
			holders = append(holders, id)
		}
	}
	return holders
}
