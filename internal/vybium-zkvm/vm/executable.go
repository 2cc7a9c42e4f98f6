package vm

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
)

var ErrMalformedExecutable = errors.New("vm: malformed executable")

// Segment is an initialized region of guest memory.
type Segment struct {
	Addr uint32
	Data []byte
}

// Executable is a VM-native program: the instruction ROM, initial data and
// the entry point, bound to the VmConfig it was transpiled under. It is
// immutable; accessors return copies.
type Executable struct {
	pcBase   uint32
	pcStart  uint32
	code     []uint32
	segments []Segment
	configFP core.Fingerprint
}

// NewExecutable assembles an executable from its parts and validates it.
func NewExecutable(pcBase, pcStart uint32, code []uint32, segments []Segment, configFP core.Fingerprint) (*Executable, error) {
	exe := &Executable{
		pcBase:   pcBase,
		pcStart:  pcStart,
		code:     append([]uint32(nil), code...),
		configFP: configFP,
	}
	for _, s := range segments {
		exe.segments = append(exe.segments, Segment{Addr: s.Addr, Data: append([]byte(nil), s.Data...)})
	}
	if err := exe.Validate(); err != nil {
		return nil, err
	}
	return exe, nil
}

// Validate checks structural well-formedness.
func (e *Executable) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil executable", ErrMalformedExecutable)
	}
	if len(e.code) == 0 {
		return fmt.Errorf("%w: empty instruction ROM", ErrMalformedExecutable)
	}
	if e.pcBase%4 != 0 {
		return fmt.Errorf("%w: pc base 0x%08x not word aligned", ErrMalformedExecutable, e.pcBase)
	}
	if uint64(e.pcBase)+4*uint64(len(e.code)) > 1<<32 {
		return fmt.Errorf("%w: instruction ROM overflows address space", ErrMalformedExecutable)
	}
	if _, ok := e.InstructionAt(e.pcStart); !ok {
		return fmt.Errorf("%w: entry 0x%08x outside instruction ROM", ErrMalformedExecutable, e.pcStart)
	}
	if e.configFP.IsZero() {
		return fmt.Errorf("%w: missing vm config fingerprint", ErrMalformedExecutable)
	}
	return nil
}

// PcBase is the address of the first ROM word.
func (e *Executable) PcBase() uint32 { return e.pcBase }

// PcStart is the entry point.
func (e *Executable) PcStart() uint32 { return e.pcStart }

// ConfigFingerprint identifies the VmConfig used at transpilation.
func (e *Executable) ConfigFingerprint() core.Fingerprint { return e.configFP }

// CodeLen is the number of ROM words.
func (e *Executable) CodeLen() int { return len(e.code) }

// Code returns a copy of the instruction ROM.
func (e *Executable) Code() []uint32 {
	return append([]uint32(nil), e.code...)
}

// Segments returns a copy of the initialized data segments.
func (e *Executable) Segments() []Segment {
	out := make([]Segment, len(e.segments))
	for i, s := range e.segments {
		out[i] = Segment{Addr: s.Addr, Data: append([]byte(nil), s.Data...)}
	}
	return out
}

// InstructionAt fetches the ROM word at pc.
func (e *Executable) InstructionAt(pc uint32) (uint32, bool) {
	if pc < e.pcBase || pc%4 != 0 {
		return 0, false
	}
	idx := uint64(pc-e.pcBase) / 4
	if idx >= uint64(len(e.code)) {
		return 0, false
	}
	return e.code[idx], true
}

// RomIndex maps pc to its ROM slot.
func (e *Executable) RomIndex(pc uint32) (int, bool) {
	if _, ok := e.InstructionAt(pc); !ok {
		return 0, false
	}
	return int((pc - e.pcBase) / 4), true
}

// loadInto writes ROM and data segments into memory.
func (e *Executable) loadInto(mem *Memory) error {
	for i, w := range e.code {
		if err := mem.Store(e.pcBase+uint32(4*i), 4, w); err != nil {
			return err
		}
	}
	for _, s := range e.segments {
		if err := mem.LoadSegment(s.Addr, s.Data); err != nil {
			return err
		}
	}
	return nil
}
