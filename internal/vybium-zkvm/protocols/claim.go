package protocols

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
)

// CurrentVersion is the proof format version.
const CurrentVersion uint32 = 1

var ErrInvalidClaim = errors.New("protocols: invalid claim")

// Claim contains the public information of a verifiably correct computation:
// which committed executable ran and what it revealed.
type Claim struct {
	// ExeCommitment binds the executable, its load layout and the
	// proof-system parameters it was committed under.
	ExeCommitment core.Fingerprint

	// Version of the proof format.
	Version uint32

	// PublicOutput is the byte stream revealed by the guest.
	PublicOutput []byte
}

// NewClaim creates a claim for the given commitment.
func NewClaim(commitment core.Fingerprint) *Claim {
	return &Claim{
		ExeCommitment: commitment,
		Version:       CurrentVersion,
		PublicOutput:  make([]byte, 0),
	}
}

// WithOutput sets the public output.
func (c *Claim) WithOutput(output []byte) *Claim {
	c.PublicOutput = append([]byte(nil), output...)
	return c
}

// Validate checks that the claim is well formed.
func (c *Claim) Validate() error {
	if c.ExeCommitment.IsZero() {
		return fmt.Errorf("%w: missing executable commitment", ErrInvalidClaim)
	}
	if c.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidClaim, c.Version)
	}
	return nil
}

// Elements encodes the claim for the transcript.
func (c *Claim) Elements() []field.Element {
	elems := []field.Element{field.New(uint64(c.Version))}
	elems = append(elems, core.BytesToElements(c.ExeCommitment[:])...)
	elems = append(elems, core.BytesToElements(c.PublicOutput)...)
	return elems
}
