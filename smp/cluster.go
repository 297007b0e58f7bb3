package smp

import (
	"context"
	"sync"

	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/mem"
)

// Cluster assembles a complete multiprocessor: N CPUs over one memory
// system, sharing the interlock and routing interprocessor interrupts
// through the manager.
type Cluster struct {
	manager *Manager
	system  *mem.System
	events  *emu.Events
	cpus    []*emu.CPU

	pumpWG   sync.WaitGroup
	pumpStop chan struct{}
	stopOnce sync.Once

	snoopMu     sync.Mutex
	snoopCounts map[mem.CoherencyKind]uint64
}

// ClusterOption configures a Cluster.
type ClusterOption func(*clusterConfig)

type clusterConfig struct {
	memOpts []mem.SystemOption
	events  *emu.Events
}

// WithMemOptions forwards options to the memory system.
func WithMemOptions(opts ...mem.SystemOption) ClusterOption {
	return func(c *clusterConfig) { c.memOpts = append(c.memOpts, opts...) }
}

// WithEvents attaches a shared event hub to every CPU.
func WithEvents(e *emu.Events) ClusterOption {
	return func(c *clusterConfig) { c.events = e }
}

// NewCluster builds and wires numCPUs processors.
func NewCluster(numCPUs int, opts ...ClusterOption) *Cluster {
	cfg := &clusterConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	cl := &Cluster{
		manager:     NewManager(),
		system:      mem.NewSystem(cfg.memOpts...),
		events:      cfg.events,
		pumpStop:    make(chan struct{}),
		snoopCounts: make(map[mem.CoherencyKind]uint64),
	}

	for id := 0; id < numCPUs; id++ {
		cpu := emu.NewCPU(id,
			emu.WithBus(cl.system),
			emu.WithEvents(cl.events),
			emu.WithTLBControl(cl.system),
			emu.WithInterlock(cl.manager.Interlock()),
			emu.WithIPISender(cl.manager.SendIPI),
		)
		inbox := cl.system.RegisterCPU(id, cpu)
		cl.manager.Register(cpu)
		cl.cpus = append(cl.cpus, cpu)

		cl.pumpWG.Add(1)
		go cl.snoopPump(id, inbox)
	}
	return cl
}

// snoopPump drains one CPU's coherency inbox. The memory system
// applies each message's effect at the source, so the pump tallies
// traffic and surfaces it on the event hub.
func (cl *Cluster) snoopPump(cpuID int, inbox <-chan mem.CoherencyMessage) {
	defer cl.pumpWG.Done()
	for {
		select {
		case <-cl.pumpStop:
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			cl.snoopMu.Lock()
			cl.snoopCounts[msg.Kind]++
			cl.snoopMu.Unlock()
			cl.events.PublishCoherency(emu.CacheCoherencyEvent{
				CPU:  cpuID,
				Kind: msg.Kind.String(),
				Addr: msg.Addr,
			})
		}
	}
}

// Manager returns the processor registry.
func (cl *Cluster) Manager() *Manager { return cl.manager }

// System returns the shared memory system.
func (cl *Cluster) System() *mem.System { return cl.system }

// CPU returns processor id, nil when out of range.
func (cl *Cluster) CPU(id int) *emu.CPU {
	if id < 0 || id >= len(cl.cpus) {
		return nil
	}
	return cl.cpus[id]
}

// CPUs returns all processors in hardware order.
func (cl *Cluster) CPUs() []*emu.CPU { return cl.cpus }

// SnoopCount returns how many messages of the kind have been drained.
func (cl *Cluster) SnoopCount(kind mem.CoherencyKind) uint64 {
	cl.snoopMu.Lock()
	defer cl.snoopMu.Unlock()
	return cl.snoopCounts[kind]
}

// Boot resets the primary to startPC and parks the secondaries
// halted; StartSecondary releases them.
func (cl *Cluster) Boot(startPC uint64) {
	for i, cpu := range cl.cpus {
		cpu.Reset(startPC)
		if i != 0 {
			cpu.Halt()
		}
	}
}

// StartSecondary restarts a halted secondary at pc.
func (cl *Cluster) StartSecondary(id int, pc uint64) {
	if cpu := cl.CPU(id); cpu != nil {
		cpu.Reset(pc)
	}
}

// RunAll drives every non-halted CPU on its own goroutine until all
// halt or the context is canceled.
func (cl *Cluster) RunAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, cpu := range cl.cpus {
		if cpu.Halted() {
			continue
		}
		wg.Add(1)
		go func(c *emu.CPU) {
			defer wg.Done()
			c.Run(ctx)
		}(cpu)
	}
	wg.Wait()
}

// Shutdown halts the CPUs, detaches them from the memory system, and
// stops the inbox pumps.
func (cl *Cluster) Shutdown() {
	cl.manager.HaltAll()
	for _, cpu := range cl.cpus {
		cl.system.DeregisterCPU(cpu.ID())
		cl.manager.Deregister(cpu.ID())
	}
	cl.stopOnce.Do(func() { close(cl.pumpStop) })
	cl.pumpWG.Wait()
}
