package vm

// ExecutionTrace is the step-by-step record of a halted run.
type ExecutionTrace struct {
	Steps      []StepRecord
	HaltPC     uint32
	FinalRegs  [NumRegisters]uint32
	FinalCount uint32
	Result     *ExecutionResult
}

// TraceRecorder collects StepRecords while the executor runs.
type TraceRecorder struct {
	steps      []StepRecord
	haltPC     uint32
	finalRegs  [NumRegisters]uint32
	finalCount uint32
}

// NewTraceRecorder creates an empty recorder.
func NewTraceRecorder() *TraceRecorder {
	return &TraceRecorder{steps: make([]StepRecord, 0, 1024)}
}

// Record appends a step, stamping its clock.
func (tr *TraceRecorder) Record(rec StepRecord) {
	rec.Clk = uint32(len(tr.steps))
	tr.steps = append(tr.steps, rec)
}

// Halt stores the final machine state.
func (tr *TraceRecorder) Halt(cpu *CPU, outCount uint32) {
	tr.haltPC = cpu.PC
	tr.finalRegs = cpu.Regs
	tr.finalCount = outCount
}

// Finish returns the recorded trace.
func (tr *TraceRecorder) Finish(result *ExecutionResult) *ExecutionTrace {
	return &ExecutionTrace{
		Steps:      tr.steps,
		HaltPC:     tr.haltPC,
		FinalRegs:  tr.finalRegs,
		FinalCount: tr.finalCount,
		Result:     result,
	}
}

// PaddingRow is the row repeated after the halting step.
func (t *ExecutionTrace) PaddingRow(clk uint32) StepRecord {
	return StepRecord{
		Clk:        clk,
		PC:         t.HaltPC,
		NextPC:     t.HaltPC,
		Halted:     true,
		OutCount:   t.FinalCount,
		RegsBefore: t.FinalRegs,
		RegsAfter:  t.FinalRegs,
	}
}

// Padded returns the steps followed by at least one padding row, with the
// total length rounded up to height.
func (t *ExecutionTrace) Padded(height int) []StepRecord {
	rows := make([]StepRecord, height)
	copy(rows, t.Steps)
	for i := len(t.Steps); i < height; i++ {
		rows[i] = t.PaddingRow(uint32(i))
	}
	return rows
}

// NumColumns is the width of a trace row.
const NumColumns = 10 + 2*NumRegisters

// Column indices. The leading NumPublicColumns columns carry control flow
// and are revealed by proofs; the rest hold registers, memory traffic and
// hints.
const (
	ColClk = iota
	ColPC
	ColNextPC
	ColInstr
	ColHalted
	ColOutCount
	ColMemKind
	ColMemAddr
	ColMemValue
	ColHint
	ColRegsBefore
	ColRegsAfter = ColRegsBefore + NumRegisters
)

// NumPublicColumns is the number of revealed leading columns.
const NumPublicColumns = ColMemKind

// Columns flattens the record into a trace row.
func (r StepRecord) Columns() []uint32 {
	row := make([]uint32, NumColumns)
	row[ColClk] = r.Clk
	row[ColPC] = r.PC
	row[ColNextPC] = r.NextPC
	row[ColInstr] = r.Instr
	row[ColHalted] = boolWord(r.Halted)
	row[ColOutCount] = r.OutCount
	row[ColMemKind] = uint32(r.MemKind)
	row[ColMemAddr] = r.MemAddr
	row[ColMemValue] = r.MemValue
	row[ColHint] = r.Hint
	copy(row[ColRegsBefore:], r.RegsBefore[:])
	copy(row[ColRegsAfter:], r.RegsAfter[:])
	return row
}

// PublicStep is the revealed part of a StepRecord.
type PublicStep struct {
	Clk      uint32
	PC       uint32
	NextPC   uint32
	Instr    uint32
	Halted   bool
	OutCount uint32
}

// Public drops the private columns of r.
func (r StepRecord) Public() PublicStep {
	return PublicStep{
		Clk:      r.Clk,
		PC:       r.PC,
		NextPC:   r.NextPC,
		Instr:    r.Instr,
		Halted:   r.Halted,
		OutCount: r.OutCount,
	}
}

// PublicStepFromColumns decodes the revealed columns of a row.
func PublicStepFromColumns(row []uint32) (PublicStep, bool) {
	if len(row) != NumPublicColumns || row[ColHalted] > 1 {
		return PublicStep{}, false
	}
	return PublicStep{
		Clk:      row[ColClk],
		PC:       row[ColPC],
		NextPC:   row[ColNextPC],
		Instr:    row[ColInstr],
		Halted:   row[ColHalted] == 1,
		OutCount: row[ColOutCount],
	}, true
}
