package core

import (
	"encoding/binary"

	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"
)

// BytesToElements packs bytes into field elements, four little-endian bytes
// per element. The final element is zero padded. Every element is below 2^32
// and therefore canonical.
func BytesToElements(b []byte) []field.Element {
	out := make([]field.Element, 0, (len(b)+3)/4+1)
	out = append(out, field.New(uint64(len(b))))
	for i := 0; i < len(b); i += 4 {
		var word [4]byte
		copy(word[:], b[i:])
		out = append(out, field.New(uint64(binary.LittleEndian.Uint32(word[:]))))
	}
	return out
}

// Uint32sToElements lifts words into the field.
func Uint32sToElements(words []uint32) []field.Element {
	out := make([]field.Element, len(words))
	for i, w := range words {
		out[i] = field.New(uint64(w))
	}
	return out
}

// ElementBytes encodes a field element as eight little-endian bytes.
func ElementBytes(e field.Element) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], e.Value())
	return buf[:]
}

// ElementsBytes concatenates ElementBytes for every element.
func ElementsBytes(elems []field.Element) []byte {
	out := make([]byte, 0, 8*len(elems))
	for _, e := range elems {
		out = append(out, ElementBytes(e)...)
	}
	return out
}

// DigestBytes serializes a Tip5 digest.
func DigestBytes(d hash.Digest) []byte {
	return ElementsBytes(d[:])
}
