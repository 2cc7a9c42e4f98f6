package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrReplayMismatch reports a trace row that does not follow from executing
// its own instruction.
var ErrReplayMismatch = errors.New("vm: trace row inconsistent with instruction semantics")

// ReplayOutcome is what a replayed row implies for its successor.
type ReplayOutcome struct {
	Revealed    bool
	HaltedAfter bool
}

// ReplayStep re-executes the instruction recorded in row, answering memory
// and hint requests from the row itself and reveals from publicOutput, and
// checks the recorded post-state.
func ReplayStep(cfg *VmConfig, row StepRecord, publicOutput []byte) (ReplayOutcome, error) {
	if row.Halted {
		return ReplayOutcome{HaltedAfter: true}, checkPaddingRow(row)
	}

	cpu := NewCPU(cfg, row.PC)
	cpu.Regs = row.RegsBefore
	if cpu.Regs[0] != 0 {
		return ReplayOutcome{}, fmt.Errorf("%w: x0 is non-zero", ErrReplayMismatch)
	}
	port := &replayPort{row: row, public: publicOutput}

	got, revealed, err := cpu.Step(row.Instr, port)
	if err != nil {
		return ReplayOutcome{}, fmt.Errorf("%w: %v", ErrReplayMismatch, err)
	}
	if !port.memUsed && row.MemKind != MemNone {
		return ReplayOutcome{}, fmt.Errorf("%w: unused memory access recorded", ErrReplayMismatch)
	}
	if got.NextPC != row.NextPC {
		return ReplayOutcome{}, fmt.Errorf("%w: next pc 0x%08x, recorded 0x%08x", ErrReplayMismatch, got.NextPC, row.NextPC)
	}
	if got.RegsAfter != row.RegsAfter {
		return ReplayOutcome{}, fmt.Errorf("%w: register file differs", ErrReplayMismatch)
	}
	if got.Hint != row.Hint {
		return ReplayOutcome{}, fmt.Errorf("%w: hint column", ErrReplayMismatch)
	}
	return ReplayOutcome{Revealed: revealed, HaltedAfter: cpu.Halted}, nil
}

func checkPaddingRow(row StepRecord) error {
	switch {
	case row.NextPC != row.PC:
		return fmt.Errorf("%w: halted row moves pc", ErrReplayMismatch)
	case row.RegsBefore != row.RegsAfter:
		return fmt.Errorf("%w: halted row changes registers", ErrReplayMismatch)
	case row.Instr != 0 || row.MemKind != MemNone || row.MemAddr != 0 || row.MemValue != 0 || row.Hint != 0:
		return fmt.Errorf("%w: halted row carries activity", ErrReplayMismatch)
	}
	return nil
}

// CheckTransition verifies that next follows cur given cur's replay outcome.
func CheckTransition(cur, next StepRecord, out ReplayOutcome) error {
	wantCount := cur.OutCount
	if out.Revealed {
		wantCount += 4
	}
	switch {
	case next.Clk != cur.Clk+1:
		return fmt.Errorf("%w: clock does not advance", ErrReplayMismatch)
	case next.PC != cur.NextPC:
		return fmt.Errorf("%w: pc 0x%08x does not continue 0x%08x", ErrReplayMismatch, next.PC, cur.NextPC)
	case next.RegsBefore != cur.RegsAfter:
		return fmt.Errorf("%w: register file not carried over", ErrReplayMismatch)
	case next.OutCount != wantCount:
		return fmt.Errorf("%w: output count %d, want %d", ErrReplayMismatch, next.OutCount, wantCount)
	case next.Halted != out.HaltedAfter:
		return fmt.Errorf("%w: halted flag", ErrReplayMismatch)
	}
	return nil
}

// replayPort answers from a recorded row.
type replayPort struct {
	row     StepRecord
	public  []byte
	memUsed bool
}

func (p *replayPort) Load(addr uint32, width int) (uint32, error) {
	if p.row.MemKind != MemLoad || p.row.MemAddr != addr {
		return 0, fmt.Errorf("no recorded load at 0x%08x", addr)
	}
	if err := checkAccess(addr, width); err != nil {
		return 0, err
	}
	if width < 4 && p.row.MemValue>>(8*width) != 0 {
		return 0, fmt.Errorf("recorded value exceeds %d bytes", width)
	}
	p.memUsed = true
	return p.row.MemValue, nil
}

func (p *replayPort) Store(addr uint32, width int, value uint32) error {
	if p.row.MemKind != MemStore || p.row.MemAddr != addr || p.row.MemValue != value {
		return fmt.Errorf("no recorded store of 0x%08x at 0x%08x", value, addr)
	}
	if err := checkAccess(addr, width); err != nil {
		return err
	}
	p.memUsed = true
	return nil
}

func (p *replayPort) Hint(uint32) (uint32, error) {
	return p.row.Hint, nil
}

func (p *replayPort) Reveal(word uint32) error {
	start := int(p.row.OutCount)
	if start+4 > len(p.public) {
		return fmt.Errorf("%w: reveal beyond claimed output", ErrPublicOutputLimit)
	}
	want := binary.LittleEndian.AppendUint32(nil, word)
	if !bytes.Equal(p.public[start:start+4], want) {
		return fmt.Errorf("revealed word 0x%08x differs from claimed output", word)
	}
	return nil
}

// CheckPublicStep checks what the revealed columns of row imply on their
// own: the instruction is enabled and can move the pc to row.NextPC.
func CheckPublicStep(cfg *VmConfig, row PublicStep) error {
	if row.Halted {
		if row.NextPC != row.PC || row.Instr != 0 {
			return fmt.Errorf("%w: halted row carries activity", ErrReplayMismatch)
		}
		return nil
	}
	ext, err := Classify(row.Instr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReplayMismatch, err)
	}
	if !cfg.extensionSet().covers(ext) {
		return fmt.Errorf("%w: %s instruction 0x%08x disabled", ErrReplayMismatch, ext, row.Instr)
	}

	seq := row.PC + 4
	switch row.Instr & 0x7F {
	case OpJal:
		_, imm := decodeJ(row.Instr)
		seq = uint32(int32(row.PC) + imm)
	case OpBranch:
		_, _, imm := decodeB(row.Instr)
		if row.NextPC == uint32(int32(row.PC)+imm) {
			return nil
		}
	case OpJalr:
		if row.NextPC&1 != 0 {
			return fmt.Errorf("%w: odd jump target 0x%08x", ErrReplayMismatch, row.NextPC)
		}
		return nil
	case OpSystem:
		if row.Instr != InstrEcall {
			return fmt.Errorf("%w: breakpoint", ErrReplayMismatch)
		}
		// A halting ecall leaves the pc in place.
		if row.NextPC == row.PC {
			return nil
		}
	}
	if row.NextPC != seq {
		return fmt.Errorf("%w: next pc 0x%08x, instruction 0x%08x at 0x%08x", ErrReplayMismatch, row.NextPC, row.Instr, row.PC)
	}
	return nil
}

// CheckPublicTransition verifies that the revealed columns of next follow
// those of cur. Only an ecall may halt or reveal, and a halting ecall does
// not advance the pc.
func CheckPublicTransition(cur, next PublicStep) error {
	ecall := !cur.Halted && cur.Instr == InstrEcall
	halts := ecall && cur.NextPC == cur.PC
	switch {
	case next.Clk != cur.Clk+1:
		return fmt.Errorf("%w: clock does not advance", ErrReplayMismatch)
	case next.PC != cur.NextPC:
		return fmt.Errorf("%w: pc 0x%08x does not continue 0x%08x", ErrReplayMismatch, next.PC, cur.NextPC)
	case next.Halted != (cur.Halted || halts):
		return fmt.Errorf("%w: halted flag", ErrReplayMismatch)
	}
	switch next.OutCount - cur.OutCount {
	case 0:
	case 4:
		if !ecall || halts {
			return fmt.Errorf("%w: output grows without a reveal", ErrReplayMismatch)
		}
	default:
		return fmt.Errorf("%w: output count %d, want %d or %d", ErrReplayMismatch, next.OutCount, cur.OutCount, cur.OutCount+4)
	}
	return nil
}
