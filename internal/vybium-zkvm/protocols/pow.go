package protocols

import (
	"context"
	"encoding/binary"
	"math/bits"

	"github.com/zeebo/blake3"
)

// grind searches for a nonce whose blake3 hash over the transcript state has
// at least powBits leading zero bits.
func grind(ctx context.Context, state []byte, powBits int) (uint64, error) {
	if powBits == 0 {
		return 0, nil
	}
	for nonce := uint64(0); ; nonce++ {
		if nonce&0xFFF == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if checkPow(state, nonce, powBits) {
			return nonce, nil
		}
	}
}

// checkPow verifies a grinding nonce.
func checkPow(state []byte, nonce uint64, powBits int) bool {
	h := blake3.New()
	_, _ = h.Write(state)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nonce)
	_, _ = h.Write(buf[:])
	sum := h.Sum(nil)
	return leadingZeros(sum) >= powBits
}

func leadingZeros(b []byte) int {
	n := 0
	for _, c := range b {
		if c != 0 {
			return n + bits.LeadingZeros8(c)
		}
		n += 8
	}
	return n
}
