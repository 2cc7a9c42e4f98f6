package vybiumzkvm

import (
	"encoding/binary"
	"fmt"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/utils"
)

// MaxChunkSize bounds a single input chunk.
const MaxChunkSize = 1 << 24

// Encoder is implemented by values that can append their canonical
// encoding to the input stream. The guest reads the fields back in the
// order they were written.
type Encoder interface {
	EncodeInput(w *InputWriter) error
}

// InputWriter accumulates the encoding of one value. Integers are
// little-endian.
type InputWriter struct {
	buf []byte
}

// WriteU32 appends a 32-bit word.
func (w *InputWriter) WriteU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteU64 appends a 64-bit integer as two words, low word first.
func (w *InputWriter) WriteU64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteI64 appends a signed 64-bit integer in two's complement.
func (w *InputWriter) WriteI64(v int64) {
	w.WriteU64(uint64(v))
}

// WriteBool appends a word holding 0 or 1.
func (w *InputWriter) WriteBool(v bool) {
	if v {
		w.WriteU32(1)
	} else {
		w.WriteU32(0)
	}
}

// WriteBytes appends a length word followed by the bytes, zero-padded to a
// word boundary.
func (w *InputWriter) WriteBytes(b []byte) {
	w.WriteU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	w.buf = append(w.buf, make([]byte, utils.AlignUp(len(w.buf), 4)-len(w.buf))...)
}

// Len is the number of bytes written so far.
func (w *InputWriter) Len() int { return len(w.buf) }

// StdIn is the ordered input stream. Every Write appends one chunk; the guest
// sees chunks in write order.
type StdIn struct {
	chunks [][]byte
}

// NewStdIn returns an empty stream.
func NewStdIn() *StdIn {
	return &StdIn{}
}

// Write appends the encoding of v as one chunk.
func (s *StdIn) Write(v Encoder) error {
	if v == nil {
		return stageError(StageEncode, fmt.Errorf("nil value"), "cannot encode input")
	}
	var w InputWriter
	if err := v.EncodeInput(&w); err != nil {
		return stageError(StageEncode, err, "cannot encode %T", v)
	}
	if len(w.buf) > MaxChunkSize {
		return stageError(StageEncode, fmt.Errorf("chunk of %d bytes exceeds %d", len(w.buf), MaxChunkSize), "cannot encode %T", v)
	}
	s.chunks = append(s.chunks, w.buf)
	return nil
}

// WriteBytes appends raw bytes as one chunk.
func (s *StdIn) WriteBytes(b []byte) {
	s.chunks = append(s.chunks, append([]byte(nil), b...))
}

// WriteWords appends little-endian words as one chunk.
func (s *StdIn) WriteWords(words ...uint32) {
	chunk := make([]byte, 0, 4*len(words))
	for _, w := range words {
		chunk = binary.LittleEndian.AppendUint32(chunk, w)
	}
	s.chunks = append(s.chunks, chunk)
}

// Clone returns an independent deep copy.
func (s *StdIn) Clone() *StdIn {
	return &StdIn{chunks: s.Chunks()}
}

// Chunks returns a deep copy of the chunks in order.
func (s *StdIn) Chunks() [][]byte {
	if s == nil {
		return nil
	}
	out := make([][]byte, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

// Len is the number of chunks.
func (s *StdIn) Len() int {
	if s == nil {
		return 0
	}
	return len(s.chunks)
}

// U32 encodes as a single word.
type U32 uint32

// EncodeInput implements Encoder.
func (v U32) EncodeInput(w *InputWriter) error {
	w.WriteU32(uint32(v))
	return nil
}

// U64 encodes as two words, low first.
type U64 uint64

// EncodeInput implements Encoder.
func (v U64) EncodeInput(w *InputWriter) error {
	w.WriteU64(uint64(v))
	return nil
}

// Bytes encodes as a length word and the padded bytes.
type Bytes []byte

// EncodeInput implements Encoder.
func (v Bytes) EncodeInput(w *InputWriter) error {
	w.WriteBytes(v)
	return nil
}

// U64s encodes each value as a U64, with no length prefix.
type U64s []uint64

// EncodeInput implements Encoder.
func (v U64s) EncodeInput(w *InputWriter) error {
	for _, x := range v {
		w.WriteU64(x)
	}
	return nil
}
