package vm

import (
	"errors"
	"fmt"
)

// NumRegisters is the number of general-purpose registers.
const NumRegisters = 32

// ABI register indices used by the system call convention.
const (
	RegA0 = 10
	RegA7 = 17
)

// System call codes, selected by a7.
const (
	EcallHalt      uint32 = 0
	EcallReveal    uint32 = 1
	EcallHintInput uint32 = 2
	EcallHintRead  uint32 = 3
)

// Trap causes.
var (
	ErrIllegalInstruction = errors.New("vm: illegal instruction")
	ErrExtensionDisabled  = errors.New("vm: instruction extension not enabled")
	ErrMemoryFault        = errors.New("vm: memory access fault")
	ErrFetchFault         = errors.New("vm: instruction fetch outside ROM")
	ErrInputUnderrun      = errors.New("vm: input stream underrun")
	ErrIoDisabled         = errors.New("vm: io extension not enabled")
	ErrUnknownEcall       = errors.New("vm: unknown system call")
	ErrBreakpoint         = errors.New("vm: breakpoint")
	ErrNonZeroExit        = errors.New("vm: guest exited with non-zero code")
	ErrCycleLimit         = errors.New("vm: cycle limit exceeded")
	ErrPublicOutputLimit  = errors.New("vm: public output limit exceeded")
	ErrHalted             = errors.New("vm: machine already halted")
)

// Trap is an abnormal halt of the guest.
type Trap struct {
	PC    uint32
	Cycle uint64
	Cause error
}

func (t *Trap) Error() string {
	return fmt.Sprintf("trap at pc=0x%08x cycle=%d: %v", t.PC, t.Cycle, t.Cause)
}

func (t *Trap) Unwrap() error {
	return t.Cause
}

// MemKind classifies the memory access performed by a step.
type MemKind uint32

const (
	MemNone MemKind = iota
	MemLoad
	MemStore
)

// Port is the CPU's view of memory and the host I/O channel. The executor
// backs it with real memory and input chunks; the verifier backs it with the
// values recorded in a trace row.
type Port interface {
	// Load returns the width-byte value at addr, zero-extended.
	Load(addr uint32, width int) (uint32, error)
	// Store writes the low width bytes of value.
	Store(addr uint32, width int, value uint32) error
	// Hint serves EcallHintInput and EcallHintRead.
	Hint(code uint32) (uint32, error)
	// Reveal appends a word to the public output.
	Reveal(word uint32) error
}

// StepRecord captures one executed instruction.
type StepRecord struct {
	Clk        uint32
	PC         uint32
	NextPC     uint32
	Instr      uint32
	Halted     bool
	MemKind    MemKind
	MemAddr    uint32
	MemValue   uint32
	Hint       uint32
	OutCount   uint32
	RegsBefore [NumRegisters]uint32
	RegsAfter  [NumRegisters]uint32
}

// CPU is the RV32IM register state.
type CPU struct {
	Regs     [NumRegisters]uint32
	PC       uint32
	Halted   bool
	ExitCode uint32

	ext extensionSet
}

// NewCPU creates a CPU for the given configuration starting at pc.
func NewCPU(cfg *VmConfig, pc uint32) *CPU {
	return &CPU{PC: pc, ext: cfg.extensionSet()}
}

// Step executes instr at the current PC against port. The returned record
// has Clk, OutCount and Halted left for the caller to fill. revealed reports
// whether the step appended to the public output.
func (c *CPU) Step(instr uint32, port Port) (rec StepRecord, revealed bool, err error) {
	if c.Halted {
		return rec, false, ErrHalted
	}
	ext, err := Classify(instr)
	if err != nil {
		return rec, false, fmt.Errorf("%w: %v", ErrIllegalInstruction, err)
	}
	if !c.ext.covers(ext) {
		return rec, false, fmt.Errorf("%w: %s instruction 0x%08x", ErrExtensionDisabled, ext, instr)
	}

	rec.PC = c.PC
	rec.Instr = instr
	rec.RegsBefore = c.Regs

	revealed, err = c.execute(instr, port, &rec)
	if err != nil {
		return rec, false, err
	}
	c.Regs[0] = 0
	rec.NextPC = c.PC
	rec.RegsAfter = c.Regs
	return rec, revealed, nil
}

func (c *CPU) setReg(rd, v uint32) {
	if rd != 0 {
		c.Regs[rd] = v
	}
}

func (c *CPU) execute(instr uint32, port Port, rec *StepRecord) (bool, error) {
	opcode := instr & 0x7F
	funct3 := (instr >> 12) & 0x7

	switch opcode {
	case OpLui:
		rd, imm := decodeU(instr)
		c.setReg(rd, imm)
		c.PC += 4

	case OpAuipc:
		rd, imm := decodeU(instr)
		c.setReg(rd, c.PC+imm)
		c.PC += 4

	case OpJal:
		rd, imm := decodeJ(instr)
		c.setReg(rd, c.PC+4)
		c.PC = uint32(int32(c.PC) + imm)

	case OpJalr:
		rd, rs1, imm := decodeI(instr)
		target := uint32(int32(c.Regs[rs1])+imm) &^ 1
		c.setReg(rd, c.PC+4)
		c.PC = target

	case OpBranch:
		rs1, rs2, imm := decodeB(instr)
		a, b := c.Regs[rs1], c.Regs[rs2]
		var taken bool
		switch funct3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int32(a) < int32(b)
		case 5:
			taken = int32(a) >= int32(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		}
		if taken {
			c.PC = uint32(int32(c.PC) + imm)
		} else {
			c.PC += 4
		}

	case OpLoad:
		rd, rs1, imm := decodeI(instr)
		addr := uint32(int32(c.Regs[rs1]) + imm)
		width := 1 << (funct3 & 0x3)
		raw, err := port.Load(addr, width)
		if err != nil {
			return false, fmt.Errorf("%w: load at 0x%08x: %v", ErrMemoryFault, addr, err)
		}
		var val uint32
		switch funct3 {
		case 0:
			val = uint32(int32(int8(raw)))
		case 1:
			val = uint32(int32(int16(raw)))
		default:
			val = raw
		}
		c.setReg(rd, val)
		rec.MemKind, rec.MemAddr, rec.MemValue = MemLoad, addr, raw
		c.PC += 4

	case OpStore:
		rs1, rs2, imm := decodeS(instr)
		addr := uint32(int32(c.Regs[rs1]) + imm)
		width := 1 << funct3
		val := c.Regs[rs2]
		if width < 4 {
			val &= (1 << (8 * width)) - 1
		}
		if err := port.Store(addr, width, val); err != nil {
			return false, fmt.Errorf("%w: store at 0x%08x: %v", ErrMemoryFault, addr, err)
		}
		rec.MemKind, rec.MemAddr, rec.MemValue = MemStore, addr, val
		c.PC += 4

	case OpImm:
		c.executeImmediate(instr)
		c.PC += 4

	case OpReg:
		c.executeRegister(instr)
		c.PC += 4

	case OpMisc:
		c.PC += 4

	case OpSystem:
		if instr == InstrEbreak {
			return false, ErrBreakpoint
		}
		return c.ecall(port, rec)

	default:
		return false, fmt.Errorf("%w: opcode 0x%02x", ErrIllegalInstruction, opcode)
	}
	return false, nil
}

func (c *CPU) ecall(port Port, rec *StepRecord) (bool, error) {
	code := c.Regs[RegA7]
	switch code {
	case EcallHalt:
		if c.Regs[RegA0] != 0 {
			return false, fmt.Errorf("%w: %d", ErrNonZeroExit, c.Regs[RegA0])
		}
		c.Halted = true
		c.ExitCode = 0
		return false, nil
	case EcallReveal, EcallHintInput, EcallHintRead:
		if !c.ext.io {
			return false, fmt.Errorf("%w: system call %d", ErrIoDisabled, code)
		}
	default:
		return false, fmt.Errorf("%w: %d", ErrUnknownEcall, code)
	}

	if code == EcallReveal {
		if err := port.Reveal(c.Regs[RegA0]); err != nil {
			return false, err
		}
		c.PC += 4
		return true, nil
	}

	v, err := port.Hint(code)
	if err != nil {
		return false, err
	}
	c.setReg(RegA0, v)
	rec.Hint = v
	c.PC += 4
	return false, nil
}

func (c *CPU) executeImmediate(instr uint32) {
	rd, rs1, imm := decodeI(instr)
	funct3 := (instr >> 12) & 0x7
	src := c.Regs[rs1]
	immU := uint32(imm)

	var v uint32
	switch funct3 {
	case 0:
		v = uint32(int32(src) + imm)
	case 1:
		v = src << (immU & 0x1F)
	case 2:
		v = boolWord(int32(src) < imm)
	case 3:
		v = boolWord(src < immU)
	case 4:
		v = src ^ immU
	case 5:
		if (instr>>30)&1 == 1 {
			v = uint32(int32(src) >> (immU & 0x1F))
		} else {
			v = src >> (immU & 0x1F)
		}
	case 6:
		v = src | immU
	case 7:
		v = src & immU
	}
	c.setReg(rd, v)
}

func (c *CPU) executeRegister(instr uint32) {
	rd := (instr >> 7) & 0x1F
	rs1 := (instr >> 15) & 0x1F
	rs2 := (instr >> 20) & 0x1F
	funct3 := (instr >> 12) & 0x7
	funct7 := instr >> 25
	a, b := c.Regs[rs1], c.Regs[rs2]

	if funct7 == 0x01 {
		c.setReg(rd, mulDiv(funct3, a, b))
		return
	}

	var v uint32
	switch funct3 {
	case 0:
		if funct7 == 0x20 {
			v = a - b
		} else {
			v = a + b
		}
	case 1:
		v = a << (b & 0x1F)
	case 2:
		v = boolWord(int32(a) < int32(b))
	case 3:
		v = boolWord(a < b)
	case 4:
		v = a ^ b
	case 5:
		if funct7 == 0x20 {
			v = uint32(int32(a) >> (b & 0x1F))
		} else {
			v = a >> (b & 0x1F)
		}
	case 6:
		v = a | b
	case 7:
		v = a & b
	}
	c.setReg(rd, v)
}

// mulDiv implements the M extension, including the RISC-V division by zero
// and overflow conventions.
func mulDiv(funct3, a, b uint32) uint32 {
	switch funct3 {
	case 0:
		return a * b
	case 1:
		return uint32(uint64(int64(int32(a))*int64(int32(b))) >> 32)
	case 2:
		return uint32(uint64(int64(int32(a))*int64(b)) >> 32)
	case 3:
		return uint32((uint64(a) * uint64(b)) >> 32)
	case 4:
		switch {
		case b == 0:
			return 0xFFFFFFFF
		case int32(a) == -1<<31 && int32(b) == -1:
			return a
		default:
			return uint32(int32(a) / int32(b))
		}
	case 5:
		if b == 0 {
			return 0xFFFFFFFF
		}
		return a / b
	case 6:
		switch {
		case b == 0:
			return a
		case int32(a) == -1<<31 && int32(b) == -1:
			return 0
		default:
			return uint32(int32(a) % int32(b))
		}
	default:
		if b == 0 {
			return a
		}
		return a % b
	}
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
