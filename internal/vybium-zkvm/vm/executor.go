package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrConfigMismatch is returned when an executable is run under a VmConfig
// other than the one it was transpiled with.
var ErrConfigMismatch = errors.New("vm: executable was transpiled under a different vm config")

// ExecutionResult is the outcome of a successful run.
type ExecutionResult struct {
	PublicOutput []byte
	Cycles       uint64
	Pages        int
}

// Executor runs executables under a fixed VmConfig.
type Executor struct {
	config *VmConfig
	logger zerolog.Logger
}

// NewExecutor validates cfg and returns an executor for it.
func NewExecutor(cfg *VmConfig, logger zerolog.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{
		config: cfg.Clone(),
		logger: logger.With().Str("module", "executor").Logger(),
	}, nil
}

// Execute runs exe on the given input chunks without recording a trace.
func (e *Executor) Execute(exe *Executable, input [][]byte) (*ExecutionResult, error) {
	return e.run(exe, input, nil)
}

// Trace runs exe and records every step.
func (e *Executor) Trace(exe *Executable, input [][]byte) (*ExecutionTrace, error) {
	recorder := NewTraceRecorder()
	result, err := e.run(exe, input, recorder)
	if err != nil {
		return nil, err
	}
	return recorder.Finish(result), nil
}

func (e *Executor) run(exe *Executable, input [][]byte, recorder *TraceRecorder) (*ExecutionResult, error) {
	if err := exe.Validate(); err != nil {
		return nil, err
	}
	if exe.ConfigFingerprint() != e.config.Fingerprint() {
		return nil, fmt.Errorf("%w: executable %s, config %s",
			ErrConfigMismatch, exe.ConfigFingerprint().Short(), e.config.Fingerprint().Short())
	}

	mem := NewMemory(DefaultMaxPages)
	if err := exe.loadInto(mem); err != nil {
		return nil, fmt.Errorf("failed to load executable: %w", err)
	}
	port := &hostPort{
		mem:       mem,
		input:     input,
		maxOutput: e.config.System.MaxPublicValues,
	}
	cpu := NewCPU(e.config, exe.PcStart())
	maxCycles := e.config.System.MaxCycles

	e.logger.Debug().
		Str("entry", fmt.Sprintf("0x%08x", exe.PcStart())).
		Int("rom_words", exe.CodeLen()).
		Int("input_chunks", len(input)).
		Msg("starting execution")

	var cycles uint64
	for !cpu.Halted {
		if cycles >= maxCycles {
			return nil, &Trap{PC: cpu.PC, Cycle: cycles, Cause: fmt.Errorf("%w: %d", ErrCycleLimit, maxCycles)}
		}
		instr, ok := exe.InstructionAt(cpu.PC)
		if !ok {
			return nil, &Trap{PC: cpu.PC, Cycle: cycles, Cause: ErrFetchFault}
		}
		outBefore := uint32(len(port.output))
		rec, _, err := cpu.Step(instr, port)
		if err != nil {
			return nil, &Trap{PC: cpu.PC, Cycle: cycles, Cause: err}
		}
		if recorder != nil {
			rec.OutCount = outBefore
			recorder.Record(rec)
		}
		cycles++
	}

	if recorder != nil {
		recorder.Halt(cpu, uint32(len(port.output)))
	}

	e.logger.Debug().
		Uint64("cycles", cycles).
		Int("public_bytes", len(port.output)).
		Msg("execution halted")

	return &ExecutionResult{
		PublicOutput: port.output,
		Cycles:       cycles,
		Pages:        mem.PageCount(),
	}, nil
}

// hostPort serves the guest from real memory and the input chunks.
type hostPort struct {
	mem       *Memory
	input     [][]byte
	next      int
	current   []byte
	pos       int
	output    []byte
	maxOutput int
}

func (p *hostPort) Load(addr uint32, width int) (uint32, error) {
	return p.mem.Load(addr, width)
}

func (p *hostPort) Store(addr uint32, width int, value uint32) error {
	return p.mem.Store(addr, width, value)
}

func (p *hostPort) Hint(code uint32) (uint32, error) {
	switch code {
	case EcallHintInput:
		if p.next >= len(p.input) {
			return 0, fmt.Errorf("%w: no input chunk left (%d consumed)", ErrInputUnderrun, p.next)
		}
		p.current = p.input[p.next]
		p.next++
		p.pos = 0
		return uint32(len(p.current)), nil
	default:
		if p.current == nil || p.pos >= len(p.current) {
			return 0, fmt.Errorf("%w: read past end of chunk %d", ErrInputUnderrun, p.next-1)
		}
		var word [4]byte
		copy(word[:], p.current[p.pos:])
		p.pos += 4
		return binary.LittleEndian.Uint32(word[:]), nil
	}
}

func (p *hostPort) Reveal(word uint32) error {
	if len(p.output)+4 > p.maxOutput {
		return fmt.Errorf("%w: %d bytes", ErrPublicOutputLimit, p.maxOutput)
	}
	p.output = binary.LittleEndian.AppendUint32(p.output, word)
	return nil
}
