package guest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Load addresses used by the in-process toolchain.
const (
	TextBase uint32 = 0x00200000
	DataBase uint32 = 0x00300000
)

const (
	elfHeaderSize  = 52
	progHeaderSize = 32
)

// WriteELF lays out text and data as an ELF32 little-endian RISC-V
// executable with one PT_LOAD segment per non-empty section.
func WriteELF(text []uint32, textBase uint32, data []byte, dataBase uint32, entry uint32) ([]byte, error) {
	if len(text) == 0 {
		return nil, fmt.Errorf("%w: empty text section", ErrAssembly)
	}

	textBytes := make([]byte, 4*len(text))
	for i, w := range text {
		binary.LittleEndian.PutUint32(textBytes[4*i:], w)
	}

	type segment struct {
		vaddr uint32
		flags elf.ProgFlag
		data  []byte
	}
	segments := []segment{{vaddr: textBase, flags: elf.PF_R | elf.PF_X, data: textBytes}}
	if len(data) > 0 {
		segments = append(segments, segment{vaddr: dataBase, flags: elf.PF_R | elf.PF_W, data: data})
	}

	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     elfHeaderSize,
		Ehsize:    elfHeaderSize,
		Phentsize: progHeaderSize,
		Phnum:     uint16(len(segments)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}

	offset := uint32(elfHeaderSize + progHeaderSize*len(segments))
	for _, s := range segments {
		ph := elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    offset,
			Vaddr:  s.vaddr,
			Paddr:  s.vaddr,
			Filesz: uint32(len(s.data)),
			Memsz:  uint32(len(s.data)),
			Flags:  uint32(s.flags),
			Align:  4,
		}
		if err := binary.Write(&buf, binary.LittleEndian, &ph); err != nil {
			return nil, err
		}
		offset += uint32(len(s.data))
	}
	for _, s := range segments {
		buf.Write(s.data)
	}
	return buf.Bytes(), nil
}
