package mem

import (
	"sync"

	"github.com/sarchlab/axpsim/arch"
	"github.com/sarchlab/axpsim/timing/cache"
)

// CPUContext is the per-CPU state the memory system consults during
// translation and reservation handling. The CPU registers it at
// attach time.
type CPUContext interface {
	Mode() arch.Mode
	ASN() uint64
	PTBR() uint64
	VPTB() uint64
	MMUEnabled() bool

	SetReservation(pa uint64, size int)
	ClearReservation()
	ClearReservationOverlap(pa uint64, size int) bool
	HasReservation(pa uint64) bool
}

// Region is a legacy named mapping consulted when the page walk
// finds no valid PTE.
type Region struct {
	Name       string
	VABase     uint64
	Length     uint64
	PABase     uint64
	Writable   bool
	Executable bool
	KernelOnly bool
}

func (r *Region) contains(va uint64) bool {
	return va >= r.VABase && va < r.VABase+r.Length
}

type cpuState struct {
	ctx    CPUContext
	tlb    *TLB
	online bool
}

// System is the central authority for physical and virtual memory:
// translation with per-CPU TLBs, the coherent cache hierarchy, MMIO
// routing, LL/SC reservations, and the coherency message bus.
type System struct {
	mu   sync.RWMutex
	cpus map[int]*cpuState

	phys      *PhysMem
	mmio      *MMIOManager
	bus       *CoherencyBus
	hierarchy *cache.Hierarchy
	regions   []Region

	tlbCapacity int

	// resMu spans reservation check-and-act so a store-conditional
	// cannot race a conflicting write.
	resMu sync.Mutex
}

// SystemOption configures a System.
type SystemOption func(*System)

// WithPhysLimit bounds physical memory.
func WithPhysLimit(limit uint64) SystemOption {
	return func(s *System) { s.phys = NewPhysMem(limit) }
}

// WithTLBCapacity sizes the per-CPU TLBs.
func WithTLBCapacity(capacity int) SystemOption {
	return func(s *System) { s.tlbCapacity = capacity }
}

// WithCaches enables the coherent cache hierarchy. Without it,
// accesses go straight to physical memory.
func WithCaches(opts ...cache.HierarchyOption) SystemOption {
	return func(s *System) {
		s.hierarchy = cache.NewHierarchy(
			func(addr uint64, buf []byte) { s.phys.ReadBytes(addr, buf) },
			func(addr uint64, data []byte) { s.phys.WriteBytes(addr, data) },
			opts...,
		)
	}
}

// WithRegion adds a legacy named mapping.
func WithRegion(r Region) SystemOption {
	return func(s *System) { s.regions = append(s.regions, r) }
}

// NewSystem creates a memory system.
func NewSystem(opts ...SystemOption) *System {
	s := &System{
		cpus:        make(map[int]*cpuState),
		mmio:        NewMMIOManager(),
		bus:         NewCoherencyBus(0),
		tlbCapacity: DefaultTLBCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.phys == nil {
		s.phys = NewPhysMem(0)
	}
	return s
}

// Phys returns the physical backing store.
func (s *System) Phys() *PhysMem { return s.phys }

// MMIO returns the device window manager.
func (s *System) MMIO() *MMIOManager { return s.mmio }

// Bus returns the coherency message bus.
func (s *System) Bus() *CoherencyBus { return s.bus }

// Hierarchy returns the cache hierarchy, nil when caches are off.
func (s *System) Hierarchy() *cache.Hierarchy { return s.hierarchy }

// RegisterCPU attaches a CPU: its TLB and cache stack are created
// and its coherency inbox opened. The returned channel carries the
// CPU's coherency messages.
func (s *System) RegisterCPU(cpuID int, ctx CPUContext) <-chan CoherencyMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cpus[cpuID] = &cpuState{
		ctx:    ctx,
		tlb:    NewTLB(s.tlbCapacity),
		online: true,
	}
	if s.hierarchy != nil {
		s.hierarchy.AttachCPU(cpuID)
	}
	return s.bus.Attach(cpuID)
}

// DeregisterCPU detaches a CPU: reservation dropped, TLB cleared,
// caches flushed, and a final flush broadcast to the peers.
func (s *System) DeregisterCPU(cpuID int) {
	s.mu.Lock()
	state, ok := s.cpus[cpuID]
	if ok {
		delete(s.cpus, cpuID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	state.ctx.ClearReservation()
	state.tlb.InvalidateAll()
	if s.hierarchy != nil {
		s.hierarchy.DetachCPU(cpuID)
	}
	s.bus.Broadcast(CoherencyMessage{Kind: MsgFlush, From: cpuID})
	s.bus.Detach(cpuID)
}

// SetOnline flips a CPU's online flag. Offline CPUs keep their state
// but stop receiving broadcast TLB invalidations.
func (s *System) SetOnline(cpuID int, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.cpus[cpuID]; ok {
		state.online = online
	}
}

func (s *System) state(cpuID int) *cpuState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpus[cpuID]
}

// TLBFor returns a CPU's TLB, nil when unregistered.
func (s *System) TLBFor(cpuID int) *TLB {
	if st := s.state(cpuID); st != nil {
		return st.tlb
	}
	return nil
}

// Translate resolves va for a CPU: TLB first, then the page walk
// through VPTB, then the named-region fallback. Successful walks
// populate the TLB with an entry scoped to the access that proved
// safe.
func (s *System) Translate(cpuID int, va uint64, access arch.AccessType, isInstruction bool) (uint64, *arch.Fault) {
	st := s.state(cpuID)
	if st == nil {
		return 0, &arch.Fault{Kind: arch.FaultMachineCheck, VA: va}
	}
	ctx := st.ctx

	if !ctx.MMUEnabled() {
		pa := va & arch.PhysAddrMask
		if !s.validPA(pa, 1) {
			return 0, &arch.Fault{Kind: arch.FaultAccessViolation, VA: va, Write: access == arch.AccessWrite}
		}
		return pa, nil
	}

	mode := ctx.Mode()
	asn := ctx.ASN()

	entry, kind := st.tlb.Lookup(va, asn, access, mode)
	switch kind {
	case arch.FaultNone:
		pa := entry.PA(va)
		if !s.validPA(pa, 1) {
			return 0, &arch.Fault{Kind: arch.FaultAccessViolation, VA: va, Write: access == arch.AccessWrite}
		}
		return pa, nil
	case arch.FaultProtection:
		return 0, &arch.Fault{Kind: arch.FaultProtection, VA: va, Write: access == arch.AccessWrite}
	}

	return s.pageWalk(st, va, access, isInstruction, mode, asn)
}

// pageWalk reads the PTE at VPTB + VPN*8, validates protection, and
// synthesizes a TLB entry on success.
func (s *System) pageWalk(st *cpuState, va uint64, access arch.AccessType, isInstruction bool, mode arch.Mode, asn uint64) (uint64, *arch.Fault) {
	vpn := arch.VPN(va)
	pteAddr := st.ctx.VPTB() + vpn*8

	pte, fault := s.phys.Read(pteAddr, 8)
	if fault != nil || pte&arch.PTEValid == 0 {
		if pa, ok := s.regionFallback(st, va, access, isInstruction, mode, asn); ok {
			return pa, nil
		}
		return 0, &arch.Fault{Kind: arch.FaultTranslationMiss, VA: va, Write: access == arch.AccessWrite}
	}

	if access == arch.AccessWrite && pte&arch.PTEWriteEnable == 0 {
		return 0, &arch.Fault{Kind: arch.FaultProtection, VA: va, Write: true}
	}
	if access == arch.AccessExecute && pte&arch.PTEExecEnable == 0 {
		return 0, &arch.Fault{Kind: arch.FaultProtection, VA: va}
	}
	if mode != arch.ModeKernel && pte&arch.PTEKernelOnly != 0 {
		return 0, &arch.Fault{Kind: arch.FaultProtection, VA: va, Write: access == arch.AccessWrite}
	}

	pfn := pte >> arch.PTEPFNShift
	pa := pfn<<arch.PageShift | va&arch.PageMask
	if !s.validPA(pa, 1) {
		return 0, &arch.Fault{Kind: arch.FaultAccessViolation, VA: va, Write: access == arch.AccessWrite}
	}

	st.tlb.Insert(TLBEntry{
		VPN:         vpn,
		ASN:         asn,
		PFN:         pfn,
		WriteEnable: pte&arch.PTEWriteEnable != 0 && access == arch.AccessWrite,
		ExecEnable:  pte&arch.PTEExecEnable != 0 && (access == arch.AccessExecute || isInstruction),
		KernelOnly:  pte&arch.PTEKernelOnly != 0,
		Global:      pte&arch.PTEGlobal != 0 || asn == arch.ASNGlobal,
		Instruction: isInstruction,
	})
	return pa, nil
}

// regionFallback consults the legacy named regions.
func (s *System) regionFallback(st *cpuState, va uint64, access arch.AccessType, isInstruction bool, mode arch.Mode, asn uint64) (uint64, bool) {
	for i := range s.regions {
		r := &s.regions[i]
		if !r.contains(va) {
			continue
		}
		if access == arch.AccessWrite && !r.Writable {
			return 0, false
		}
		if access == arch.AccessExecute && !r.Executable {
			return 0, false
		}
		if r.KernelOnly && mode != arch.ModeKernel {
			return 0, false
		}
		pa := r.PABase + (va - r.VABase)

		st.tlb.Insert(TLBEntry{
			VPN:         arch.VPN(va),
			ASN:         asn,
			PFN:         pa >> arch.PageShift,
			WriteEnable: r.Writable && access == arch.AccessWrite,
			ExecEnable:  r.Executable && (access == arch.AccessExecute || isInstruction),
			KernelOnly:  r.KernelOnly,
			Global:      true,
			Instruction: isInstruction,
		})
		return pa, true
	}
	return 0, false
}

func (s *System) validPA(pa uint64, size int) bool {
	if s.phys.Contains(pa, size) {
		return true
	}
	_, _, ok := s.mmio.Lookup(pa, size)
	return ok
}

// Fetch reads the instruction word at va for a CPU.
func (s *System) Fetch(cpuID int, va uint64) (uint32, *arch.Fault) {
	pa, fault := s.Translate(cpuID, va, arch.AccessExecute, true)
	if fault != nil {
		return 0, fault
	}
	// Device windows are not executable. Refusing here also keeps a
	// wrong-path speculative fetch from ticking a side-effecting
	// device read.
	if _, _, ok := s.mmio.Lookup(pa, 4); ok {
		return 0, &arch.Fault{Kind: arch.FaultAccessViolation, VA: va}
	}
	if s.hierarchy != nil {
		return uint32(s.hierarchy.FetchInstr(cpuID, pa, 4)), nil
	}
	v, f := s.phys.Read(pa, 4)
	return uint32(v), f
}

// Read performs a coherent virtual read.
func (s *System) Read(cpuID int, va uint64, size int) (uint64, *arch.Fault) {
	pa, fault := s.Translate(cpuID, va, arch.AccessRead, false)
	if fault != nil {
		return 0, fault
	}
	return s.readPA(cpuID, pa, size)
}

// Write performs a coherent virtual write.
func (s *System) Write(cpuID int, va uint64, size int, value uint64) *arch.Fault {
	pa, fault := s.Translate(cpuID, va, arch.AccessWrite, false)
	if fault != nil {
		return fault
	}
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return s.writePA(cpuID, pa, size, value)
}

func (s *System) readPA(cpuID int, pa uint64, size int) (uint64, *arch.Fault) {
	if _, _, ok := s.mmio.Lookup(pa, size); ok {
		return s.mmio.Read(pa, size)
	}
	if s.hierarchy != nil {
		return s.hierarchy.Read(cpuID, pa, size), nil
	}
	return s.phys.Read(pa, size)
}

// writePA commits a physical write, clearing overlapping
// reservations on every other CPU. Callers hold resMu.
func (s *System) writePA(cpuID int, pa uint64, size int, value uint64) *arch.Fault {
	if _, _, ok := s.mmio.Lookup(pa, size); ok {
		return s.mmio.Write(pa, size, value)
	}

	s.clearPeerReservations(cpuID, pa, size)

	if s.hierarchy != nil {
		s.hierarchy.Write(cpuID, pa, size, value)
		s.bus.Broadcast(CoherencyMessage{Kind: MsgInvalidate, From: cpuID, Addr: pa, Size: size})
		return nil
	}
	return s.phys.Write(pa, size, value)
}

func (s *System) clearPeerReservations(cpuID int, pa uint64, size int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, st := range s.cpus {
		if id == cpuID {
			continue
		}
		if st.ctx.ClearReservationOverlap(pa, size) {
			s.bus.Send(id, CoherencyMessage{Kind: MsgReservationClear, From: cpuID, Addr: pa, Size: size})
		}
	}
}

// LoadLocked reads va and installs a reservation over the enclosing
// aligned quadword. The prologue acts as an acquire barrier.
func (s *System) LoadLocked(cpuID int, va uint64, size int) (uint64, *arch.Fault) {
	st := s.state(cpuID)
	if st == nil {
		return 0, &arch.Fault{Kind: arch.FaultMachineCheck, VA: va}
	}
	s.Barrier(cpuID, arch.BarrierAcquire)

	pa, fault := s.Translate(cpuID, va, arch.AccessRead, false)
	if fault != nil {
		return 0, fault
	}
	v, fault := s.readPA(cpuID, pa, size)
	if fault != nil {
		return 0, fault
	}
	st.ctx.SetReservation(pa, size)
	return v, nil
}

// StoreConditional writes va iff the CPU's reservation still covers
// the physical target. Success clears every overlapping reservation;
// failure clears only the caller's. The epilogue acts as a release
// barrier.
func (s *System) StoreConditional(cpuID int, va uint64, size int, value uint64) (bool, *arch.Fault) {
	st := s.state(cpuID)
	if st == nil {
		return false, &arch.Fault{Kind: arch.FaultMachineCheck, VA: va}
	}

	pa, fault := s.Translate(cpuID, va, arch.AccessWrite, false)
	if fault != nil {
		return false, fault
	}

	s.resMu.Lock()
	defer s.resMu.Unlock()

	if !st.ctx.HasReservation(pa) {
		st.ctx.ClearReservation()
		return false, nil
	}

	if fault := s.writePA(cpuID, pa, size, value); fault != nil {
		return false, fault
	}
	st.ctx.ClearReservation()
	s.Barrier(cpuID, arch.BarrierRelease)
	return true, nil
}

// ReadPhys reads physical memory directly, still honoring MMIO
// windows.
func (s *System) ReadPhys(pa uint64, size int) (uint64, *arch.Fault) {
	if _, _, ok := s.mmio.Lookup(pa, size); ok {
		return s.mmio.Read(pa, size)
	}
	return s.phys.Read(pa, size)
}

// WritePhys writes physical memory directly.
func (s *System) WritePhys(pa uint64, size int, value uint64) *arch.Fault {
	if _, _, ok := s.mmio.Lookup(pa, size); ok {
		return s.mmio.Write(pa, size, value)
	}
	s.resMu.Lock()
	s.clearPeerReservations(-1, pa, size)
	s.resMu.Unlock()
	return s.phys.Write(pa, size, value)
}

// Barrier orders a CPU's memory operations. A full barrier drains
// the CPU's write buffers to the shared level and broadcasts a
// writeback message; a write barrier drains only.
func (s *System) Barrier(cpuID int, kind arch.BarrierKind) {
	switch kind {
	case arch.BarrierFull:
		if s.hierarchy != nil {
			s.hierarchy.DrainCPU(cpuID)
		}
		s.bus.Broadcast(CoherencyMessage{Kind: MsgWriteback, From: cpuID})
	case arch.BarrierWrite, arch.BarrierRelease:
		if s.hierarchy != nil {
			s.hierarchy.DrainCPU(cpuID)
		}
	}
	// Acquire and read barriers are satisfied by the coherency
	// lock's ordering.
}

// SyncInstructionStream makes the CPU's instruction fetches coherent
// with prior writes: dirty data drains to the shared level and the
// L1I starts over empty.
func (s *System) SyncInstructionStream(cpuID int) {
	if s.hierarchy != nil {
		s.hierarchy.DrainCPU(cpuID)
		s.hierarchy.InvalidateInstr(cpuID)
	}
}

// TLB control. The single-CPU forms implement the CPU-side handle;
// the broadcast forms apply to every online CPU with an optional
// exclusion.

// InvalidateAll drops every TLB entry on one CPU.
func (s *System) InvalidateAll(cpuID int) {
	if st := s.state(cpuID); st != nil {
		st.tlb.InvalidateAll()
	}
}

// InvalidateProcess drops the non-global entries on one CPU.
func (s *System) InvalidateProcess(cpuID int) {
	if st := s.state(cpuID); st != nil {
		st.tlb.InvalidateProcess()
	}
}

// InvalidateEntry drops any entry for va on one CPU.
func (s *System) InvalidateEntry(cpuID int, va uint64) {
	if st := s.state(cpuID); st != nil {
		st.tlb.InvalidateEntry(va)
	}
}

// InvalidateDataEntry drops the data entry for va on one CPU.
func (s *System) InvalidateDataEntry(cpuID int, va uint64) {
	if st := s.state(cpuID); st != nil {
		st.tlb.InvalidateDataEntry(va)
	}
}

// InvalidateInstrEntry drops the instruction entry for va on one
// CPU.
func (s *System) InvalidateInstrEntry(cpuID int, va uint64) {
	if st := s.state(cpuID); st != nil {
		st.tlb.InvalidateInstrEntry(va)
	}
}

// BroadcastInvalidateAll drops every TLB on all online CPUs except
// those excluded.
func (s *System) BroadcastInvalidateAll(exclude ...int) {
	s.eachOnline(exclude, func(st *cpuState) { st.tlb.InvalidateAll() })
}

// BroadcastInvalidateProcess drops non-global entries on all online
// CPUs except those excluded.
func (s *System) BroadcastInvalidateProcess(exclude ...int) {
	s.eachOnline(exclude, func(st *cpuState) { st.tlb.InvalidateProcess() })
}

// BroadcastInvalidateEntry drops entries for va on all online CPUs
// except those excluded.
func (s *System) BroadcastInvalidateEntry(va uint64, exclude ...int) {
	s.eachOnline(exclude, func(st *cpuState) { st.tlb.InvalidateEntry(va) })
}

// BroadcastInvalidateASN drops entries tagged asn on all online CPUs
// except those excluded.
func (s *System) BroadcastInvalidateASN(asn uint64, exclude ...int) {
	s.eachOnline(exclude, func(st *cpuState) { st.tlb.InvalidateASN(asn) })
}

func (s *System) eachOnline(exclude []int, fn func(*cpuState)) {
	skip := make(map[int]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, st := range s.cpus {
		if skip[id] || !st.online {
			continue
		}
		fn(st)
	}
}

// SendCoherencyMessage delivers a message to one CPU's inbox.
func (s *System) SendCoherencyMessage(target int, msg CoherencyMessage) {
	s.bus.Send(target, msg)
}

// BroadcastCoherencyMessage delivers a message to every CPU but the
// sender.
func (s *System) BroadcastCoherencyMessage(msg CoherencyMessage) {
	s.bus.Broadcast(msg)
}
