// Package pipeline provides the staged execution engines: a
// four-stage worker pipeline over bounded queues, and the hybrid
// engine that promotes hot code paths to a compiled executor.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/axpsim/emu"
	"github.com/sarchlab/axpsim/insts"
)

// DefaultQueueDepth is the capacity of each inter-stage queue.
const DefaultQueueDepth = 8

// Stats counts pipeline activity. Stall counters increment when a
// stage finds its downstream queue full and must block.
type Stats struct {
	Fetched      uint64
	Decoded      uint64
	Retired      uint64
	Flushes      uint64
	FetchStalls  uint64
	DecodeStalls uint64
	ExecStalls   uint64
}

type decodeToken struct {
	epoch   uint64
	pc      uint64
	word    uint32
	faulted bool
}

type execToken struct {
	epoch   uint64
	pc      uint64
	word    uint32
	inst    *insts.Instruction
	faulted bool
}

type retireToken struct {
	epoch  uint64
	pc     uint64
	result emu.StepResult
}

// Pipeline runs one CPU through four worker stages: fetch, decode,
// execute, writeback. Only the execute stage touches architectural
// state, so program order is preserved; fetch runs ahead on a
// sequential prediction and a redirect flushes the younger stages by
// bumping the epoch.
type Pipeline struct {
	cpu     *emu.CPU
	bus     emu.Bus
	decoder *insts.Decoder
	depth   int

	decodeQ chan decodeToken
	execQ   chan execToken
	retireQ chan retireToken

	epoch    atomic.Uint64
	redirect chan uint64
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats Stats

	// OnRetire, when set, observes every retired instruction.
	OnRetire func(emu.StepResult)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithQueueDepth sizes the inter-stage queues.
func WithQueueDepth(depth int) PipelineOption {
	return func(p *Pipeline) { p.depth = depth }
}

// New creates a pipeline for the CPU.
func New(cpu *emu.CPU, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cpu:     cpu,
		bus:     cpu.Bus(),
		decoder: insts.NewDecoder(),
		depth:   DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.decodeQ = make(chan decodeToken, p.depth)
	p.execQ = make(chan execToken, p.depth)
	p.retireQ = make(chan retireToken, p.depth)
	p.redirect = make(chan uint64, 1)
	p.stop = make(chan struct{})
	return p
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pipeline) stall(counter *uint64) {
	p.mu.Lock()
	*counter++
	p.mu.Unlock()
}

func (p *Pipeline) count(counter *uint64) {
	p.mu.Lock()
	*counter++
	p.mu.Unlock()
}

// Run drives the CPU until it halts or the context is canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.wg.Add(4)
	go p.fetchStage()
	go p.decodeStage()
	go p.executeStage()

	done := make(chan struct{})
	go func() {
		p.writebackStage(done)
		p.wg.Done()
	}()

	select {
	case <-ctx.Done():
		p.Stop()
		p.wg.Wait()
		return ctx.Err()
	case <-done:
		p.Stop()
		p.wg.Wait()
		return nil
	}
}

// Stop sets the shutdown flag; the stages drain and exit.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// fetchStage produces instruction words along the sequential
// prediction, restarting at the redirect target after a flush.
func (p *Pipeline) fetchStage() {
	defer p.wg.Done()
	defer close(p.decodeQ)

	pc := p.cpu.PC
	for {
		select {
		case <-p.stop:
			return
		case target := <-p.redirect:
			pc = target
			continue
		default:
		}

		epoch := p.epoch.Load()
		word, fault := p.bus.Fetch(p.cpu.ID(), pc)
		p.count(&p.stats.Fetched)

		// A faulted fetch still flows through as a token: the execute
		// stage takes the fault at the right architectural point by
		// re-fetching, and the resulting redirect restarts the front
		// end at the handler.
		tok := decodeToken{epoch: epoch, pc: pc, word: word, faulted: fault != nil}
		select {
		case p.decodeQ <- tok:
		default:
			p.stall(&p.stats.FetchStalls)
			select {
			case p.decodeQ <- tok:
			case <-p.stop:
				return
			}
		}
		pc += 4
	}
}

func (p *Pipeline) decodeStage() {
	defer p.wg.Done()
	defer close(p.execQ)

	for tok := range p.decodeQ {
		if tok.epoch != p.epoch.Load() {
			continue
		}
		var inst *insts.Instruction
		if !tok.faulted {
			inst = p.decoder.Decode(tok.word)
		}
		p.count(&p.stats.Decoded)

		out := execToken{epoch: tok.epoch, pc: tok.pc, word: tok.word, inst: inst, faulted: tok.faulted}
		select {
		case p.execQ <- out:
		default:
			p.stall(&p.stats.DecodeStalls)
			select {
			case p.execQ <- out:
			case <-p.stop:
				return
			}
		}
	}
}

// executeStage is the only stage that mutates architectural state.
// Tokens whose PC no longer matches the CPU are stale speculation
// and are dropped.
func (p *Pipeline) executeStage() {
	defer p.wg.Done()
	defer close(p.retireQ)

	for tok := range p.execQ {
		if tok.epoch != p.epoch.Load() || tok.pc != p.cpu.PC {
			continue
		}
		var result emu.StepResult
		if tok.faulted {
			// Re-fetch so the fault vectors exactly as the step
			// engine would.
			result = p.cpu.Step()
		} else {
			result = p.cpu.ExecuteDecoded(tok.inst, tok.word)
		}

		out := retireToken{epoch: tok.epoch, pc: tok.pc, result: result}
		select {
		case p.retireQ <- out:
		default:
			p.stall(&p.stats.ExecStalls)
			select {
			case p.retireQ <- out:
			case <-p.stop:
				return
			}
		}
	}
}

// writebackStage commits results: it counts retirement, reports to
// the observer, and flushes the front end whenever control flow left
// the sequential prediction.
func (p *Pipeline) writebackStage(done chan struct{}) {
	defer close(done)

	for tok := range p.retireQ {
		p.count(&p.stats.Retired)
		if p.OnRetire != nil {
			p.OnRetire(tok.result)
		}
		if tok.result.Halted {
			return
		}

		if tok.result.PC != tok.pc+4 {
			p.flushTo(tok.result.PC)
		}
	}
}

// flushTo invalidates all in-flight work and restarts fetch at
// target.
func (p *Pipeline) flushTo(target uint64) {
	p.epoch.Add(1)
	p.count(&p.stats.Flushes)
	select {
	case p.redirect <- target:
	default:
		// Overwrite a pending redirect with the newer target.
		select {
		case <-p.redirect:
		default:
		}
		p.redirect <- target
	}
}
