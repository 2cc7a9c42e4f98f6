package core

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint is a 32-byte blake3 digest identifying an artifact.
type Fingerprint [32]byte

// Hex returns the lowercase hex encoding.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first eight hex characters, handy for logs.
func (f Fingerprint) Short() string {
	return f.Hex()[:8]
}

// IsZero reports whether f is the all-zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Hasher accumulates a domain-separated blake3 fingerprint.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher starts a fingerprint under the given domain tag.
func NewHasher(domain string) *Hasher {
	h := blake3.New()
	hs := &Hasher{h: h}
	hs.WriteBytes([]byte(domain))
	return hs
}

// WriteU32 absorbs a little-endian uint32.
func (hs *Hasher) WriteU32(v uint32) *Hasher {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	hs.h.Write(buf[:])
	return hs
}

// WriteU64 absorbs a little-endian uint64.
func (hs *Hasher) WriteU64(v uint64) *Hasher {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	hs.h.Write(buf[:])
	return hs
}

// WriteBool absorbs a single byte.
func (hs *Hasher) WriteBool(v bool) *Hasher {
	if v {
		hs.h.Write([]byte{1})
	} else {
		hs.h.Write([]byte{0})
	}
	return hs
}

// WriteBytes absorbs a length-prefixed byte string.
func (hs *Hasher) WriteBytes(b []byte) *Hasher {
	hs.WriteU64(uint64(len(b)))
	hs.h.Write(b)
	return hs
}

// Sum finalizes the fingerprint.
func (hs *Hasher) Sum() Fingerprint {
	var f Fingerprint
	copy(f[:], hs.h.Sum(nil))
	return f
}

// Seal returns the blake3 digest of data under a domain tag.
func Seal(domain string, data []byte) Fingerprint {
	return NewHasher(domain).WriteBytes(data).Sum()
}
