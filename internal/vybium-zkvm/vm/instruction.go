package vm

import (
	"errors"
	"fmt"
)

// Extension names the capability module an instruction belongs to.
type Extension int

const (
	ExtSystem Extension = iota
	ExtRv32i
	ExtRv32m
	ExtIo
)

// String returns the configuration key of the extension.
func (e Extension) String() string {
	switch e {
	case ExtSystem:
		return "system"
	case ExtRv32i:
		return "rv32i"
	case ExtRv32m:
		return "rv32m"
	case ExtIo:
		return "io"
	default:
		return fmt.Sprintf("extension(%d)", int(e))
	}
}

// Major opcodes.
const (
	OpLoad   uint32 = 0x03
	OpMisc   uint32 = 0x0F
	OpImm    uint32 = 0x13
	OpAuipc  uint32 = 0x17
	OpStore  uint32 = 0x23
	OpReg    uint32 = 0x33
	OpLui    uint32 = 0x37
	OpBranch uint32 = 0x63
	OpJalr   uint32 = 0x67
	OpJal    uint32 = 0x6F
	OpSystem uint32 = 0x73
)

// Fixed instruction words.
const (
	InstrEcall  uint32 = 0x00000073
	InstrEbreak uint32 = 0x00100073
	InstrNop    uint32 = 0x00000013
)

// ErrUndecodable is returned for words that are not RV32IM instructions.
var ErrUndecodable = errors.New("vm: undecodable instruction")

// Classify decodes enough of word to decide which extension must be enabled
// to execute it.
func Classify(word uint32) (Extension, error) {
	opcode := word & 0x7F
	funct3 := (word >> 12) & 0x7
	funct7 := word >> 25

	switch opcode {
	case OpLui, OpAuipc, OpJal:
		return ExtRv32i, nil
	case OpJalr:
		if funct3 != 0 {
			break
		}
		return ExtRv32i, nil
	case OpBranch:
		if funct3 == 2 || funct3 == 3 {
			break
		}
		return ExtRv32i, nil
	case OpLoad:
		if funct3 == 3 || funct3 > 5 {
			break
		}
		return ExtRv32i, nil
	case OpStore:
		if funct3 > 2 {
			break
		}
		return ExtRv32i, nil
	case OpImm:
		switch funct3 {
		case 1:
			if funct7 != 0 {
				return 0, fmt.Errorf("%w: 0x%08x", ErrUndecodable, word)
			}
		case 5:
			if funct7 != 0 && funct7 != 0x20 {
				return 0, fmt.Errorf("%w: 0x%08x", ErrUndecodable, word)
			}
		}
		return ExtRv32i, nil
	case OpReg:
		switch funct7 {
		case 0x01:
			return ExtRv32m, nil
		case 0x00:
			return ExtRv32i, nil
		case 0x20:
			if funct3 == 0 || funct3 == 5 {
				return ExtRv32i, nil
			}
		}
	case OpMisc:
		return ExtRv32i, nil
	case OpSystem:
		if word == InstrEcall || word == InstrEbreak {
			return ExtSystem, nil
		}
	}
	return 0, fmt.Errorf("%w: 0x%08x", ErrUndecodable, word)
}

func decodeU(instr uint32) (rd uint32, imm uint32) {
	rd = (instr >> 7) & 0x1F
	imm = instr & 0xFFFFF000
	return
}

func decodeJ(instr uint32) (rd uint32, imm int32) {
	rd = (instr >> 7) & 0x1F
	raw := ((instr >> 31) << 20) |
		(((instr >> 12) & 0xFF) << 12) |
		(((instr >> 20) & 0x1) << 11) |
		(((instr >> 21) & 0x3FF) << 1)
	if raw&(1<<20) != 0 {
		raw |= 0xFFE00000
	}
	imm = int32(raw)
	return
}

func decodeI(instr uint32) (rd, rs1 uint32, imm int32) {
	rd = (instr >> 7) & 0x1F
	rs1 = (instr >> 15) & 0x1F
	imm = int32(instr) >> 20
	return
}

func decodeS(instr uint32) (rs1, rs2 uint32, imm int32) {
	rs1 = (instr >> 15) & 0x1F
	rs2 = (instr >> 20) & 0x1F
	raw := ((instr >> 7) & 0x1F) | (((instr >> 25) & 0x7F) << 5)
	if raw&(1<<11) != 0 {
		raw |= 0xFFFFF000
	}
	imm = int32(raw)
	return
}

func decodeB(instr uint32) (rs1, rs2 uint32, imm int32) {
	rs1 = (instr >> 15) & 0x1F
	rs2 = (instr >> 20) & 0x1F
	raw := (((instr >> 31) & 0x1) << 12) |
		(((instr >> 7) & 0x1) << 11) |
		(((instr >> 25) & 0x3F) << 5) |
		(((instr >> 8) & 0xF) << 1)
	if raw&(1<<12) != 0 {
		raw |= 0xFFFFE000
	}
	imm = int32(raw)
	return
}

// EncodeR encodes an R-type instruction.
func EncodeR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

// EncodeI encodes an I-type instruction.
func EncodeI(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return (uint32(imm&0xFFF) << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

// EncodeS encodes an S-type instruction.
func EncodeS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	immU := uint32(imm & 0xFFF)
	return ((immU >> 5) << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) |
		((immU & 0x1F) << 7) | opcode
}

// EncodeB encodes a B-type instruction; imm is a byte offset.
func EncodeB(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	immU := uint32(imm)
	return (((immU >> 12) & 0x1) << 31) | (((immU >> 5) & 0x3F) << 25) |
		(rs2 << 20) | (rs1 << 15) | (funct3 << 12) |
		(((immU >> 1) & 0xF) << 8) | (((immU >> 11) & 0x1) << 7) | opcode
}

// EncodeU encodes a U-type instruction; imm holds bits 31:12.
func EncodeU(opcode, rd uint32, imm uint32) uint32 {
	return (imm & 0xFFFFF000) | (rd << 7) | opcode
}

// EncodeJ encodes a J-type instruction; imm is a byte offset.
func EncodeJ(opcode, rd uint32, imm int32) uint32 {
	immU := uint32(imm)
	return (((immU >> 20) & 0x1) << 31) | (((immU >> 1) & 0x3FF) << 21) |
		(((immU >> 11) & 0x1) << 20) | (((immU >> 12) & 0xFF) << 12) |
		(rd << 7) | opcode
}
