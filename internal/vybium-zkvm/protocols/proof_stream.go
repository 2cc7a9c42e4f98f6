package protocols

import (
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
)

// Transcript is the Fiat-Shamir state shared by prover and verifier. Every
// absorbed item moves the Tip5 state; every sample is derived from it, so
// both sides see the same challenges iff they absorbed the same items.
type Transcript struct {
	state   hash.Digest
	counter uint64
}

// NewTranscript starts a transcript under a protocol label.
func NewTranscript(label string) *Transcript {
	t := &Transcript{}
	t.AbsorbBytes([]byte(label))
	return t
}

// Absorb mixes field elements into the state.
func (t *Transcript) Absorb(elems []field.Element) {
	input := make([]field.Element, 0, len(t.state)+1+len(elems))
	input = append(input, t.state[:]...)
	input = append(input, field.New(uint64(len(elems))))
	input = append(input, elems...)
	t.state = hash.HashVarlen(input)
	t.counter = 0
}

// AbsorbBytes mixes a byte string into the state.
func (t *Transcript) AbsorbBytes(b []byte) {
	t.Absorb(core.BytesToElements(b))
}

// AbsorbU64 mixes one integer into the state. Values at or above the field
// modulus are split into two 32-bit limbs.
func (t *Transcript) AbsorbU64(v uint64) {
	t.Absorb([]field.Element{field.New(v & 0xFFFFFFFF), field.New(v >> 32)})
}

// SampleScalar draws one field element.
func (t *Transcript) SampleScalar() field.Element {
	var input [10]field.Element
	copy(input[:], t.state[:])
	input[len(t.state)] = field.New(t.counter)
	t.counter++
	return hash.Hash10(input)[0]
}

// SampleScalars draws n field elements.
func (t *Transcript) SampleScalars(n int) []field.Element {
	out := make([]field.Element, n)
	for i := range out {
		out[i] = t.SampleScalar()
	}
	return out
}

// SampleIndices draws n indices in [0, upperBound). upperBound must be a
// power of two so that the reduction is unbiased.
func (t *Transcript) SampleIndices(upperBound, n int) []int {
	out := make([]int, n)
	mask := uint64(upperBound - 1)
	for i := range out {
		out[i] = int(t.SampleScalar().Value() & mask)
	}
	return out
}

// StateBytes exposes the current state for proof-of-work grinding.
func (t *Transcript) StateBytes() []byte {
	return core.DigestBytes(t.state)
}
