package pipeline

import "github.com/sarchlab/axpsim/emu"

// ExecMode is the per-PC execution mode of the hybrid engine.
type ExecMode uint8

// Execution modes, cold to hot.
const (
	ModeInterpret ExecMode = iota
	ModeProfile
	ModeCompiled
)

// String returns the mode name.
func (m ExecMode) String() string {
	switch m {
	case ModeInterpret:
		return "interpret"
	case ModeProfile:
		return "profile"
	case ModeCompiled:
		return "compiled"
	}
	return "unknown"
}

// DefaultProfileThreshold promotes a PC to profiling after this many
// executions.
const DefaultProfileThreshold = 16

// DefaultCompileThreshold requests compilation after this many
// executions.
const DefaultCompileThreshold = 64

// CompiledBlock is a natively compiled unit starting at one PC. Run
// must be semantically equivalent to interpreting from that PC; it
// reports false when its assumptions no longer hold, leaving the
// architectural state untouched.
type CompiledBlock interface {
	Run(cpu *emu.CPU) (emu.StepResult, bool)
}

// CompiledBlockProvider supplies compiled blocks on request.
type CompiledBlockProvider interface {
	Compile(pc uint64) (CompiledBlock, bool)
}

// HybridStats counts hybrid-engine activity.
type HybridStats struct {
	Interpreted     uint64
	Profiled        uint64
	CompiledRuns    uint64
	CompileRequests uint64
	Divergences     uint64
}

// HybridEngine executes one CPU, selecting per PC between
// interpretation (cold), profiling (warm, same semantics plus
// counting), and delegation to a compiled block (hot). A compiled
// block that bails reverts its PC to interpretation.
type HybridEngine struct {
	cpu      *emu.CPU
	provider CompiledBlockProvider

	profileThreshold uint64
	compileThreshold uint64

	counts map[uint64]uint64
	modes  map[uint64]ExecMode
	blocks map[uint64]CompiledBlock
	stats  HybridStats
}

// HybridOption configures a HybridEngine.
type HybridOption func(*HybridEngine)

// WithProvider attaches a compiled-block provider. Without one, hot
// PCs stay in profile mode.
func WithProvider(p CompiledBlockProvider) HybridOption {
	return func(e *HybridEngine) { e.provider = p }
}

// WithThresholds overrides the promotion thresholds.
func WithThresholds(profile, compile uint64) HybridOption {
	return func(e *HybridEngine) {
		e.profileThreshold = profile
		e.compileThreshold = compile
	}
}

// NewHybrid creates a hybrid engine for the CPU.
func NewHybrid(cpu *emu.CPU, opts ...HybridOption) *HybridEngine {
	e := &HybridEngine{
		cpu:              cpu,
		profileThreshold: DefaultProfileThreshold,
		compileThreshold: DefaultCompileThreshold,
		counts:           make(map[uint64]uint64),
		modes:            make(map[uint64]ExecMode),
		blocks:           make(map[uint64]CompiledBlock),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats returns a snapshot of the counters.
func (e *HybridEngine) Stats() HybridStats { return e.stats }

// Mode returns the current execution mode for pc.
func (e *HybridEngine) Mode(pc uint64) ExecMode { return e.modes[pc] }

// Step retires one instruction through the mode selected for the
// current PC.
func (e *HybridEngine) Step() emu.StepResult {
	pc := e.cpu.PC

	switch e.modes[pc] {
	case ModeCompiled:
		if result, ok := e.blocks[pc].Run(e.cpu); ok {
			e.stats.CompiledRuns++
			return result
		}
		// Divergence: demote and interpret this execution.
		e.stats.Divergences++
		e.modes[pc] = ModeInterpret
		e.counts[pc] = 0
		delete(e.blocks, pc)
		e.stats.Interpreted++
		return e.cpu.Step()

	case ModeProfile:
		e.stats.Profiled++
		result := e.cpu.Step()
		e.bump(pc)
		return result

	default:
		e.stats.Interpreted++
		result := e.cpu.Step()
		e.bump(pc)
		return result
	}
}

// RunFor steps at most n instructions, stopping early on halt.
func (e *HybridEngine) RunFor(n uint64) {
	for i := uint64(0); i < n && !e.cpu.Halted(); i++ {
		e.Step()
	}
}

func (e *HybridEngine) bump(pc uint64) {
	e.counts[pc]++
	n := e.counts[pc]

	switch e.modes[pc] {
	case ModeInterpret:
		if n >= e.profileThreshold {
			e.modes[pc] = ModeProfile
		}
	case ModeProfile:
		if n >= e.compileThreshold && e.provider != nil {
			e.stats.CompileRequests++
			if block, ok := e.provider.Compile(pc); ok {
				e.blocks[pc] = block
				e.modes[pc] = ModeCompiled
			}
		}
	}
}
