// Package main provides the entry point for axpsim.
// Axpsim is a functional Alpha AXP multiprocessor simulator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/peterh/liner"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/insts"
	"github.com/sarchlab/axpsim/mem"
	"github.com/sarchlab/axpsim/smp"
	"github.com/sarchlab/axpsim/timing/pipeline"
)

var (
	numCPUs  = flag.Int("cpus", 2, "Number of processors")
	maxSteps = flag.Uint64("steps", 1_000_000, "Instruction limit per CPU")
	engine   = flag.String("engine", "step", "Execution engine: step, pipeline, hybrid")
	monitor  = flag.Bool("monitor", false, "Drop into the interactive monitor instead of running")
	verbose  = flag.Bool("v", false, "Verbose output")
)

const (
	entryPC     = 0x1000
	counterAddr = 0x4000
	consoleBase = 0x1000_0000
)

func main() {
	flag.Parse()
	defer atexit.Exit(0)

	cluster := smp.NewCluster(*numCPUs,
		smp.WithMemOptions(
			mem.WithPhysLimit(256<<20),
			mem.WithCaches(),
			mem.WithRegion(mem.Region{
				Name:       "ram",
				Length:     consoleBase + 0x100,
				Writable:   true,
				Executable: true,
			}),
		),
	)
	atexit.Register(cluster.Shutdown)

	cluster.System().MMIO().Register(consoleBase, 0x100, &console{out: os.Stdout})
	loadDemo(cluster.System())

	cluster.Boot(entryPC)
	for id := 1; id < *numCPUs; id++ {
		cluster.StartSecondary(id, entryPC)
	}

	if *monitor {
		runMonitor(cluster)
		return
	}

	run(cluster)
	report(cluster)

	if *verbose {
		count, _ := cluster.System().ReadPhys(counterAddr, 8)
		fmt.Printf("shared counter: %d\n", count)
	}
}

func run(cluster *smp.Cluster) {
	ctx := context.Background()

	switch *engine {
	case "pipeline":
		done := make(chan struct{}, *numCPUs)
		for _, cpu := range cluster.CPUs() {
			pipe := pipeline.New(cpu)
			go func() {
				pipe.Run(ctx)
				done <- struct{}{}
			}()
		}
		for range cluster.CPUs() {
			<-done
		}
	case "hybrid":
		done := make(chan struct{}, *numCPUs)
		for _, cpu := range cluster.CPUs() {
			eng := pipeline.NewHybrid(cpu)
			go func() {
				eng.RunFor(*maxSteps)
				done <- struct{}{}
			}()
		}
		for range cluster.CPUs() {
			<-done
		}
	default:
		done := make(chan struct{}, *numCPUs)
		for _, cpu := range cluster.CPUs() {
			go func(c *emu.CPU) {
				c.RunFor(*maxSteps)
				done <- struct{}{}
			}(cpu)
		}
		for range cluster.CPUs() {
			<-done
		}
	}
}

// console is a write-only character device.
type console struct {
	out *os.File
}

func (c *console) Name() string { return "console" }

func (c *console) Read(offset uint64, size int) (uint64, mem.MMIOStatus) {
	return 0, mem.MMIOOK
}

func (c *console) Write(offset uint64, size int, value uint64) mem.MMIOStatus {
	fmt.Fprintf(c.out, "%c", byte(value))
	return mem.MMIOOK
}

// loadDemo assembles the built-in program: each CPU bumps a shared
// counter 100 times under LL/SC, prints its identity letter on the
// console, and halts.
func loadDemo(sys *mem.System) {
	words := []uint32{
		insts.EncodeMemory(0x08, 2, 31, 100),         // LDA r2, 100(zero)
		insts.EncodeMemory(0x08, 3, 31, counterAddr), // LDA r3, counter
		// loop:
		insts.EncodeMemory(0x2A, 4, 3, 0),                // LDL_L r4, (r3)
		insts.EncodeOperateLit(0x10, 0x00, 4, 1, 5),      // ADDL r4, 1, r5
		insts.EncodeMemory(0x2E, 5, 3, 0),                // STL_C r5, (r3)
		insts.EncodeBranch(0x39, 5, -4),                  // BEQ r5, loop
		insts.EncodeOperateLit(0x10, 0x29, 2, 1, 2),      // SUBQ r2, 1, r2
		insts.EncodeBranch(0x3D, 2, -6),                  // BNE r2, loop
		insts.EncodePAL(emu.PALFuncWhami),                // WHAMI -> r0
		insts.EncodeOperateLit(0x10, 0x20, 0, 'A', 7),    // ADDQ r0, 'A', r7
		insts.EncodeMemory(0x09, 6, 31, consoleBase>>16), // LDAH r6, console
		insts.EncodeMemory(0x0E, 7, 6, 0),                // STB r7, (r6)
		insts.EncodePAL(emu.PALFuncHalt),                 // HALT
	}
	for i, w := range words {
		sys.WritePhys(entryPC+uint64(i)*4, 4, uint64(w))
	}
}

func report(cluster *smp.Cluster) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{
		"CPU", "Insts", "Cycles", "Int", "FP", "Loads", "Stores",
		"Branches", "PAL", "Excs", "TLB Hits", "TLB Misses",
	})
	for _, cpu := range cluster.CPUs() {
		s := cpu.Stats()
		tlb := cluster.System().TLBFor(cpu.ID()).Stats()
		t.AppendRow(table.Row{
			cpu.ID(), s.Instructions, s.Cycles, s.IntOps, s.FPOps,
			s.Loads, s.Stores, s.Branches, s.PALCalls, s.Exceptions,
			tlb.Hits, tlb.Misses,
		})
	}
	t.Render()

	if *verbose {
		m := cluster.Manager().Stats()
		fmt.Printf("IPIs sent: %d dropped: %d reservation clears: %d\n",
			m.IPIsSent, m.IPIsDropped,
			cluster.SnoopCount(mem.MsgReservationClear))
	}
}

// runMonitor is a small debug console in the tradition of the SRM
// prompt: examine and deposit memory, inspect registers, single step.
func runMonitor(cluster *smp.Cluster) {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	atexit.Register(func() { line.Close() })

	current := 0
	decoder := insts.NewDecoder()

	fmt.Println("axpsim monitor; 'help' lists commands")
	for {
		input, err := line.Prompt(fmt.Sprintf("axp[%d]> ", current))
		if err != nil {
			return
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}
		cpu := cluster.CPU(current)

		switch fields[0] {
		case "help":
			fmt.Println("cpu N | regs | e ADDR [N] | d ADDR VAL | dis ADDR [N] | step [N] | run [N] | quit")
		case "cpu":
			if n, ok := parseNum(fields, 1); ok && cluster.CPU(int(n)) != nil {
				current = int(n)
			}
		case "regs":
			printRegs(cpu)
		case "e", "examine":
			addr, ok := parseNum(fields, 1)
			if !ok {
				break
			}
			count := uint64(1)
			if n, ok := parseNum(fields, 2); ok {
				count = n
			}
			for i := uint64(0); i < count; i++ {
				v, fault := cluster.System().ReadPhys(addr+i*8, 8)
				if fault != nil {
					fmt.Printf("%016x: %v\n", addr+i*8, fault)
					break
				}
				fmt.Printf("%016x: %016x\n", addr+i*8, v)
			}
		case "d", "deposit":
			addr, ok1 := parseNum(fields, 1)
			val, ok2 := parseNum(fields, 2)
			if ok1 && ok2 {
				if fault := cluster.System().WritePhys(addr, 8, val); fault != nil {
					fmt.Println(fault)
				}
			}
		case "dis":
			addr, ok := parseNum(fields, 1)
			if !ok {
				addr = cpu.PC
			}
			count := uint64(8)
			if n, ok := parseNum(fields, 2); ok {
				count = n
			}
			for i := uint64(0); i < count; i++ {
				w, fault := cluster.System().ReadPhys(addr+i*4, 4)
				if fault != nil {
					break
				}
				fmt.Printf("%016x: %s\n", addr+i*4, decoder.Decode(uint32(w)))
			}
		case "step":
			count := uint64(1)
			if n, ok := parseNum(fields, 1); ok {
				count = n
			}
			for i := uint64(0); i < count && !cpu.Halted(); i++ {
				r := cpu.Step()
				fmt.Printf("%016x: %s\n", r.PC, r.Inst)
			}
		case "run":
			count := *maxSteps
			if n, ok := parseNum(fields, 1); ok {
				count = n
			}
			cpu.RunFor(count)
			fmt.Printf("stopped at %016x after %d instructions\n",
				cpu.PC, cpu.Stats().Instructions)
		case "quit", "q":
			return
		default:
			fmt.Println("unknown command; 'help' lists commands")
		}
	}
}

func printRegs(cpu *emu.CPU) {
	rf := cpu.RegFile()
	fmt.Printf("pc  %016x  ps %016x  fpcr %016x\n",
		cpu.PC, cpu.IPRs().RawRead(emu.IPRPS), rf.FPCR())
	for i := uint8(0); i < 32; i += 4 {
		fmt.Printf("r%-2d %016x  r%-2d %016x  r%-2d %016x  r%-2d %016x\n",
			i, rf.ReadReg(i), i+1, rf.ReadReg(i+1),
			i+2, rf.ReadReg(i+2), i+3, rf.ReadReg(i+3))
	}
}

func parseNum(fields []string, idx int) (uint64, bool) {
	if idx >= len(fields) {
		return 0, false
	}
	s := strings.TrimPrefix(strings.ToLower(fields[idx]), "0x")
	if v, err := strconv.ParseUint(s, 16, 64); err == nil {
		return v, true
	}
	if v, err := strconv.ParseUint(fields[idx], 10, 64); err == nil {
		return v, true
	}
	return 0, false
}
