package guest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

// ErrAssembly is returned for malformed assembly sources.
var ErrAssembly = errors.New("guest: assembly error")

// Program is the output of the assembler.
type Program struct {
	Text    []uint32
	Data    []byte
	Entry   uint32
	Symbols map[string]uint32
}

// ELF renders the program as an executable image.
func (p *Program) ELF() ([]byte, error) {
	return WriteELF(p.Text, TextBase, p.Data, DataBase, p.Entry)
}

var registerNames = map[string]uint32{
	"zero": 0, "ra": 1, "sp": 2, "gp": 3, "tp": 4,
	"t0": 5, "t1": 6, "t2": 7, "s0": 8, "fp": 8, "s1": 9,
	"a0": 10, "a1": 11, "a2": 12, "a3": 13, "a4": 14, "a5": 15, "a6": 16, "a7": 17,
	"s2": 18, "s3": 19, "s4": 20, "s5": 21, "s6": 22, "s7": 23, "s8": 24, "s9": 25,
	"s10": 26, "s11": 27, "t3": 28, "t4": 29, "t5": 30, "t6": 31,
}

type rOp struct{ funct3, funct7 uint32 }

var rTypeOps = map[string]rOp{
	"add": {0, 0x00}, "sub": {0, 0x20}, "sll": {1, 0x00}, "slt": {2, 0x00},
	"sltu": {3, 0x00}, "xor": {4, 0x00}, "srl": {5, 0x00}, "sra": {5, 0x20},
	"or": {6, 0x00}, "and": {7, 0x00},
	"mul": {0, 0x01}, "mulh": {1, 0x01}, "mulhsu": {2, 0x01}, "mulhu": {3, 0x01},
	"div": {4, 0x01}, "divu": {5, 0x01}, "rem": {6, 0x01}, "remu": {7, 0x01},
}

var immOps = map[string]uint32{
	"addi": 0, "slti": 2, "sltiu": 3, "xori": 4, "ori": 6, "andi": 7,
}

var shiftOps = map[string]rOp{
	"slli": {1, 0x00}, "srli": {5, 0x00}, "srai": {5, 0x20},
}

var loadOps = map[string]uint32{"lb": 0, "lh": 1, "lw": 2, "lbu": 4, "lhu": 5}

var storeOps = map[string]uint32{"sb": 0, "sh": 1, "sw": 2}

var branchOps = map[string]uint32{"beq": 0, "bne": 1, "blt": 4, "bge": 5, "bltu": 6, "bgeu": 7}

type section int

const (
	sectionText section = iota
	sectionData
)

// statement is one parsed source line.
type statement struct {
	line     int
	section  section
	addr     uint32
	mnemonic string
	args     []string
}

// Assemble translates RV32IM assembly into a Program. Symbols in defines
// are visible to .ifdef blocks.
func Assemble(src string, defines map[string]bool) (*Program, error) {
	a := &assembler{
		symbols: make(map[string]uint32),
		defines: defines,
	}
	if err := a.firstPass(src); err != nil {
		return nil, err
	}
	if err := a.secondPass(); err != nil {
		return nil, err
	}

	entry := TextBase
	if start, ok := a.symbols["_start"]; ok {
		entry = start
	}
	return &Program{
		Text:    a.text,
		Data:    a.data,
		Entry:   entry,
		Symbols: a.symbols,
	}, nil
}

type assembler struct {
	symbols    map[string]uint32
	defines    map[string]bool
	statements []statement
	textSize   uint32
	dataSize   uint32
	text       []uint32
	data       []byte
}

func lineError(line int, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrAssembly, line, fmt.Sprintf(format, args...))
}

func (a *assembler) firstPass(src string) error {
	current := sectionText
	var conds []bool
	active := func() bool {
		for _, c := range conds {
			if !c {
				return false
			}
		}
		return true
	}

	for i, raw := range strings.Split(src, "\n") {
		lineNo := i + 1
		line := stripComment(raw)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case ".ifdef", ".ifndef":
			if len(fields) != 2 {
				return lineError(lineNo, "%s needs one symbol", fields[0])
			}
			defined := a.defines[fields[1]]
			conds = append(conds, defined == (fields[0] == ".ifdef"))
			continue
		case ".else":
			if len(conds) == 0 {
				return lineError(lineNo, ".else without .ifdef")
			}
			conds[len(conds)-1] = !conds[len(conds)-1]
			continue
		case ".endif":
			if len(conds) == 0 {
				return lineError(lineNo, ".endif without .ifdef")
			}
			conds = conds[:len(conds)-1]
			continue
		}
		if !active() {
			continue
		}

		for {
			colon := strings.Index(line, ":")
			if colon < 0 || strings.ContainsAny(line[:colon], " \t,(") {
				break
			}
			label := line[:colon]
			if _, dup := a.symbols[label]; dup {
				return lineError(lineNo, "duplicate label %q", label)
			}
			a.symbols[label] = a.cursor(current)
			line = strings.TrimSpace(line[colon+1:])
		}
		if line == "" {
			continue
		}

		mnemonic, rest, _ := strings.Cut(line, " ")
		mnemonic = strings.ToLower(strings.TrimSpace(mnemonic))
		args := splitArgs(rest)

		switch mnemonic {
		case ".text":
			current = sectionText
			continue
		case ".data", ".rodata", ".bss":
			current = sectionData
			continue
		case ".section":
			if len(args) == 1 && strings.HasPrefix(args[0], ".text") {
				current = sectionText
			} else {
				current = sectionData
			}
			continue
		case ".globl", ".global", ".type", ".size", ".option", ".file":
			continue
		}

		st := statement{line: lineNo, section: current, addr: a.cursor(current), mnemonic: mnemonic, args: args}
		size, err := a.sizeOf(st)
		if err != nil {
			return err
		}
		if current == sectionText {
			if size%4 != 0 {
				return lineError(lineNo, "text section data must be word sized")
			}
			a.textSize += size
		} else {
			a.dataSize += size
		}
		a.statements = append(a.statements, st)
	}
	if len(conds) != 0 {
		return fmt.Errorf("%w: unterminated .ifdef", ErrAssembly)
	}
	return nil
}

func (a *assembler) cursor(s section) uint32 {
	if s == sectionText {
		return TextBase + a.textSize
	}
	return DataBase + a.dataSize
}

func (a *assembler) sizeOf(st statement) (uint32, error) {
	switch st.mnemonic {
	case ".word":
		return 4 * uint32(len(st.args)), nil
	case ".half":
		return 2 * uint32(len(st.args)), nil
	case ".byte":
		return uint32(len(st.args)), nil
	case ".space", ".zero":
		if len(st.args) != 1 {
			return 0, lineError(st.line, "%s needs a size", st.mnemonic)
		}
		n, err := parseImmediate(st.args[0])
		if err != nil || n < 0 {
			return 0, lineError(st.line, "bad size %q", st.args[0])
		}
		return uint32(n), nil
	case ".align", ".p2align":
		if len(st.args) < 1 {
			return 0, lineError(st.line, ".align needs an exponent")
		}
		exp, err := parseImmediate(st.args[0])
		if err != nil || exp < 0 || exp > 12 {
			return 0, lineError(st.line, "bad alignment %q", st.args[0])
		}
		align := uint32(1) << exp
		return (align - st.addr%align) % align, nil
	case "li":
		if len(st.args) != 2 {
			return 0, lineError(st.line, "li needs rd, imm")
		}
		v, err := parseImmediate(st.args[1])
		if err != nil {
			return 0, lineError(st.line, "bad immediate %q", st.args[1])
		}
		if v >= -2048 && v < 2048 {
			return 4, nil
		}
		return 8, nil
	case "la":
		return 8, nil
	default:
		if strings.HasPrefix(st.mnemonic, ".") {
			return 0, lineError(st.line, "unknown directive %s", st.mnemonic)
		}
		return 4, nil
	}
}

func (a *assembler) secondPass() error {
	a.data = make([]byte, 0, a.dataSize)
	for _, st := range a.statements {
		if strings.HasPrefix(st.mnemonic, ".") {
			if err := a.emitDirective(st); err != nil {
				return err
			}
			continue
		}
		if st.section != sectionText {
			return lineError(st.line, "instruction %s outside .text", st.mnemonic)
		}
		words, err := a.encode(st)
		if err != nil {
			return err
		}
		a.text = append(a.text, words...)
	}
	if len(a.text) == 0 {
		return fmt.Errorf("%w: no instructions", ErrAssembly)
	}
	return nil
}

func (a *assembler) emitDirective(st statement) error {
	var out []byte
	switch st.mnemonic {
	case ".word", ".half", ".byte":
		width := map[string]int{".word": 4, ".half": 2, ".byte": 1}[st.mnemonic]
		for _, arg := range st.args {
			v, err := a.value(arg)
			if err != nil {
				return lineError(st.line, "%v", err)
			}
			for b := 0; b < width; b++ {
				out = append(out, byte(uint64(v)>>(8*b)))
			}
		}
	default:
		size, err := a.sizeOf(st)
		if err != nil {
			return err
		}
		out = make([]byte, size)
	}

	if st.section == sectionData {
		a.data = append(a.data, out...)
		return nil
	}
	for i := 0; i+4 <= len(out); i += 4 {
		a.text = append(a.text, uint32(out[i])|uint32(out[i+1])<<8|uint32(out[i+2])<<16|uint32(out[i+3])<<24)
	}
	return nil
}

func (a *assembler) encode(st statement) ([]uint32, error) {
	args := st.args
	need := func(n int) error {
		if len(args) != n {
			return lineError(st.line, "%s expects %d operands, got %d", st.mnemonic, n, len(args))
		}
		return nil
	}
	reg := func(i int) (uint32, error) {
		r, ok := parseRegister(args[i])
		if !ok {
			return 0, lineError(st.line, "bad register %q", args[i])
		}
		return r, nil
	}
	imm := func(i int, bits uint) (int32, error) {
		v, err := a.value(args[i])
		if err != nil {
			return 0, lineError(st.line, "%v", err)
		}
		lo, hi := -(int64(1) << (bits - 1)), int64(1)<<(bits-1)
		if v < lo || v >= hi {
			return 0, lineError(st.line, "immediate %d does not fit %d bits", v, bits)
		}
		return int32(v), nil
	}
	offset := func(i int, bits uint) (int32, error) {
		target, err := a.value(args[i])
		if err != nil {
			return 0, lineError(st.line, "%v", err)
		}
		off := target - int64(st.addr)
		if off%2 != 0 || off < -(int64(1)<<(bits-1)) || off >= int64(1)<<(bits-1) {
			return 0, lineError(st.line, "branch target %s out of range", args[i])
		}
		return int32(off), nil
	}

	m := st.mnemonic
	if op, ok := rTypeOps[m]; ok {
		if err := need(3); err != nil {
			return nil, err
		}
		rd, err1 := reg(0)
		rs1, err2 := reg(1)
		rs2, err3 := reg(2)
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, err
		}
		return []uint32{vm.EncodeR(vm.OpReg, rd, op.funct3, rs1, rs2, op.funct7)}, nil
	}
	if funct3, ok := immOps[m]; ok {
		if err := need(3); err != nil {
			return nil, err
		}
		rd, err1 := reg(0)
		rs1, err2 := reg(1)
		v, err3 := imm(2, 12)
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, err
		}
		return []uint32{vm.EncodeI(vm.OpImm, rd, funct3, rs1, v)}, nil
	}
	if op, ok := shiftOps[m]; ok {
		if err := need(3); err != nil {
			return nil, err
		}
		rd, err1 := reg(0)
		rs1, err2 := reg(1)
		v, err3 := a.value(args[2])
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, lineError(st.line, "%v", err)
		}
		if v < 0 || v > 31 {
			return nil, lineError(st.line, "shift amount %d out of range", v)
		}
		return []uint32{vm.EncodeI(vm.OpImm, rd, op.funct3, rs1, int32(op.funct7<<5)|int32(v))}, nil
	}
	if funct3, ok := loadOps[m]; ok {
		if err := need(2); err != nil {
			return nil, err
		}
		rd, err := reg(0)
		if err != nil {
			return nil, err
		}
		off, base, err := a.memOperand(st, args[1])
		if err != nil {
			return nil, err
		}
		return []uint32{vm.EncodeI(vm.OpLoad, rd, funct3, base, off)}, nil
	}
	if funct3, ok := storeOps[m]; ok {
		if err := need(2); err != nil {
			return nil, err
		}
		rs2, err := reg(0)
		if err != nil {
			return nil, err
		}
		off, base, err := a.memOperand(st, args[1])
		if err != nil {
			return nil, err
		}
		return []uint32{vm.EncodeS(vm.OpStore, funct3, base, rs2, off)}, nil
	}
	if funct3, ok := branchOps[m]; ok {
		if err := need(3); err != nil {
			return nil, err
		}
		rs1, err1 := reg(0)
		rs2, err2 := reg(1)
		off, err3 := offset(2, 13)
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, err
		}
		return []uint32{vm.EncodeB(vm.OpBranch, funct3, rs1, rs2, off)}, nil
	}

	switch m {
	case "lui", "auipc":
		if err := need(2); err != nil {
			return nil, err
		}
		rd, err := reg(0)
		if err != nil {
			return nil, err
		}
		v, err := a.value(args[1])
		if err != nil || v < 0 || v > 0xFFFFF {
			return nil, lineError(st.line, "bad upper immediate %q", args[1])
		}
		op := vm.OpLui
		if m == "auipc" {
			op = vm.OpAuipc
		}
		return []uint32{vm.EncodeU(op, rd, uint32(v)<<12)}, nil
	case "jal":
		rd := uint32(1)
		target := 0
		if len(args) == 2 {
			r, err := reg(0)
			if err != nil {
				return nil, err
			}
			rd, target = r, 1
		} else if err := need(1); err != nil {
			return nil, err
		}
		off, err := offset(target, 21)
		if err != nil {
			return nil, err
		}
		return []uint32{vm.EncodeJ(vm.OpJal, rd, off)}, nil
	case "jalr":
		if len(args) == 1 {
			rs1, err := reg(0)
			if err != nil {
				return nil, err
			}
			return []uint32{vm.EncodeI(vm.OpJalr, 1, 0, rs1, 0)}, nil
		}
		if err := need(2); err != nil {
			return nil, err
		}
		rd, err := reg(0)
		if err != nil {
			return nil, err
		}
		off, base, err := a.memOperand(st, args[1])
		if err != nil {
			return nil, err
		}
		return []uint32{vm.EncodeI(vm.OpJalr, rd, 0, base, off)}, nil
	case "ecall":
		return []uint32{vm.InstrEcall}, need(0)
	case "ebreak":
		return []uint32{vm.InstrEbreak}, need(0)
	case "fence":
		return []uint32{0x0000000F}, nil
	case "nop":
		return []uint32{vm.InstrNop}, need(0)
	case "mv", "not", "neg", "seqz", "snez":
		if err := need(2); err != nil {
			return nil, err
		}
		rd, err1 := reg(0)
		rs, err2 := reg(1)
		if err := errors.Join(err1, err2); err != nil {
			return nil, err
		}
		switch m {
		case "mv":
			return []uint32{vm.EncodeI(vm.OpImm, rd, 0, rs, 0)}, nil
		case "not":
			return []uint32{vm.EncodeI(vm.OpImm, rd, 4, rs, -1)}, nil
		case "neg":
			return []uint32{vm.EncodeR(vm.OpReg, rd, 0, 0, rs, 0x20)}, nil
		case "seqz":
			return []uint32{vm.EncodeI(vm.OpImm, rd, 3, rs, 1)}, nil
		default:
			return []uint32{vm.EncodeR(vm.OpReg, rd, 3, 0, rs, 0)}, nil
		}
	case "li":
		rd, err := reg(0)
		if err != nil {
			return nil, err
		}
		v, err := parseImmediate(args[1])
		if err != nil {
			return nil, lineError(st.line, "bad immediate %q", args[1])
		}
		if v < -(1<<31) || v > 0xFFFFFFFF {
			return nil, lineError(st.line, "immediate %d does not fit 32 bits", v)
		}
		if v >= -2048 && v < 2048 {
			return []uint32{vm.EncodeI(vm.OpImm, rd, 0, 0, int32(v))}, nil
		}
		return loadUpper(rd, uint32(v)), nil
	case "la":
		if err := need(2); err != nil {
			return nil, err
		}
		rd, err := reg(0)
		if err != nil {
			return nil, err
		}
		addr, err := a.value(args[1])
		if err != nil {
			return nil, lineError(st.line, "%v", err)
		}
		return loadUpper(rd, uint32(addr)), nil
	case "j", "call", "tail":
		if err := need(1); err != nil {
			return nil, err
		}
		off, err := offset(0, 21)
		if err != nil {
			return nil, err
		}
		rd := uint32(0)
		if m == "call" {
			rd = 1
		}
		return []uint32{vm.EncodeJ(vm.OpJal, rd, off)}, nil
	case "jr":
		if err := need(1); err != nil {
			return nil, err
		}
		rs, err := reg(0)
		if err != nil {
			return nil, err
		}
		return []uint32{vm.EncodeI(vm.OpJalr, 0, 0, rs, 0)}, nil
	case "ret":
		return []uint32{vm.EncodeI(vm.OpJalr, 0, 0, 1, 0)}, need(0)
	case "beqz", "bnez":
		if err := need(2); err != nil {
			return nil, err
		}
		rs, err := reg(0)
		if err != nil {
			return nil, err
		}
		off, err := offset(1, 13)
		if err != nil {
			return nil, err
		}
		funct3 := uint32(0)
		if m == "bnez" {
			funct3 = 1
		}
		return []uint32{vm.EncodeB(vm.OpBranch, funct3, rs, 0, off)}, nil
	}
	return nil, lineError(st.line, "unknown instruction %q", m)
}

// loadUpper materializes a 32-bit constant with lui+addi.
func loadUpper(rd, v uint32) []uint32 {
	lo := int32(v<<20) >> 20
	hi := (v - uint32(lo)) & 0xFFFFF000
	return []uint32{
		vm.EncodeU(vm.OpLui, rd, hi),
		vm.EncodeI(vm.OpImm, rd, 0, rd, lo),
	}
}

func (a *assembler) memOperand(st statement, arg string) (int32, uint32, error) {
	open := strings.Index(arg, "(")
	if open < 0 || !strings.HasSuffix(arg, ")") {
		return 0, 0, lineError(st.line, "bad memory operand %q", arg)
	}
	base, ok := parseRegister(arg[open+1 : len(arg)-1])
	if !ok {
		return 0, 0, lineError(st.line, "bad base register in %q", arg)
	}
	var off int64
	if s := strings.TrimSpace(arg[:open]); s != "" {
		v, err := a.value(s)
		if err != nil {
			return 0, 0, lineError(st.line, "%v", err)
		}
		off = v
	}
	if off < -2048 || off >= 2048 {
		return 0, 0, lineError(st.line, "offset %d does not fit 12 bits", off)
	}
	return int32(off), base, nil
}

// value resolves a numeric literal or a symbol address.
func (a *assembler) value(s string) (int64, error) {
	if v, err := parseImmediate(s); err == nil {
		return v, nil
	}
	if addr, ok := a.symbols[s]; ok {
		return int64(addr), nil
	}
	return 0, fmt.Errorf("undefined symbol %q", s)
}

func parseImmediate(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if len(s) == 3 && s[0] == '\'' && s[2] == '\'' {
		return int64(s[1]), nil
	}
	return strconv.ParseInt(s, 0, 64)
}

func parseRegister(s string) (uint32, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if r, ok := registerNames[s]; ok {
		return r, true
	}
	if strings.HasPrefix(s, "x") {
		n, err := strconv.Atoi(s[1:])
		if err == nil && n >= 0 && n < vm.NumRegisters {
			return uint32(n), true
		}
	}
	return 0, false
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
