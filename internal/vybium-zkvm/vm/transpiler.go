package vm

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	ErrMalformedImage         = errors.New("vm: malformed guest image")
	ErrUnsupportedInstruction = errors.New("vm: instruction not covered by enabled extensions")
)

// Transpiler converts RISC-V ELF images into Executables.
type Transpiler struct {
	spec   TranspilerSpec
	logger zerolog.Logger
}

// NewTranspiler creates a transpiler for spec.
func NewTranspiler(spec TranspilerSpec, logger zerolog.Logger) *Transpiler {
	return &Transpiler{
		spec:   spec,
		logger: logger.With().Str("module", "transpiler").Logger(),
	}
}

// Transpile parses image and checks every instruction against the enabled
// extensions.
func (t *Transpiler) Transpile(image []byte) (*Executable, error) {
	if t.spec.fingerprint.IsZero() || !t.spec.extensions.system || !t.spec.extensions.rv32i {
		return nil, fmt.Errorf("%w: transpiler spec lacks system or rv32i", ErrMissingRv32i)
	}

	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: expected 32-bit little-endian ELF", ErrMalformedImage)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("%w: machine %v is not RISC-V", ErrMalformedImage, f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("%w: ELF type %v is not executable", ErrMalformedImage, f.Type)
	}

	var (
		code     []uint32
		pcBase   uint32
		haveText bool
		segments []Segment
	)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Vaddr+prog.Memsz > 1<<32 || prog.Filesz > prog.Memsz {
			return nil, fmt.Errorf("%w: segment at 0x%x exceeds address space", ErrMalformedImage, prog.Vaddr)
		}
		data := make([]byte, prog.Memsz)
		if prog.Filesz > 0 {
			if _, err := prog.ReadAt(data[:prog.Filesz], 0); err != nil {
				return nil, fmt.Errorf("%w: reading segment: %v", ErrMalformedImage, err)
			}
		}

		if prog.Flags&elf.PF_X == 0 {
			segments = append(segments, Segment{Addr: uint32(prog.Vaddr), Data: data})
			continue
		}
		if haveText {
			return nil, fmt.Errorf("%w: multiple executable segments", ErrMalformedImage)
		}
		if prog.Vaddr%4 != 0 || len(data)%4 != 0 {
			return nil, fmt.Errorf("%w: executable segment not word aligned", ErrMalformedImage)
		}
		haveText = true
		pcBase = uint32(prog.Vaddr)
		code, err = t.decodeText(pcBase, data)
		if err != nil {
			return nil, err
		}
	}
	if !haveText {
		return nil, fmt.Errorf("%w: no executable segment", ErrMalformedImage)
	}

	exe, err := NewExecutable(pcBase, uint32(f.Entry), code, segments, t.spec.fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}

	t.logger.Debug().
		Int("rom_words", len(code)).
		Int("data_segments", len(segments)).
		Str("entry", fmt.Sprintf("0x%08x", exe.PcStart())).
		Msg("transpiled guest image")
	return exe, nil
}

func (t *Transpiler) decodeText(base uint32, data []byte) ([]uint32, error) {
	code := make([]uint32, len(data)/4)
	for i := range code {
		word := binary.LittleEndian.Uint32(data[4*i:])
		ext, err := Classify(word)
		if err != nil {
			return nil, fmt.Errorf("%w at 0x%08x: %v", ErrUnsupportedInstruction, base+uint32(4*i), err)
		}
		if !t.spec.Covers(ext) {
			return nil, fmt.Errorf("%w: %s instruction 0x%08x at 0x%08x",
				ErrUnsupportedInstruction, ext, word, base+uint32(4*i))
		}
		code[i] = word
	}
	return code, nil
}
