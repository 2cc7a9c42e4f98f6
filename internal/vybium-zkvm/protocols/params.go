package protocols

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/utils"
)

// Bounds on proof-system parameters.
const (
	MinLogBlowup     = 1
	MaxLogBlowup     = 4
	MaxSecurityBits  = 256
	StandardPowBits  = 16
	StandardSecurity = 100
	DefaultLogBlowup = 2
)

var ErrInvalidParams = errors.New("protocols: invalid proof system parameters")

// ProofSystemParams are the FRI security parameters shared by the
// commitment stage and key generation.
type ProofSystemParams struct {
	LogBlowup    int `yaml:"log_blowup" cbor:"1,keyasint"`
	SecurityBits int `yaml:"security_bits" cbor:"2,keyasint"`
	PowBits      int `yaml:"pow_bits,omitempty" cbor:"3,keyasint"`
}

// StandardParams returns parameters targeting securityBits of conjectured
// security with the standard proof-of-work budget.
func StandardParams(securityBits, logBlowup int) ProofSystemParams {
	return ProofSystemParams{
		LogBlowup:    logBlowup,
		SecurityBits: securityBits,
		PowBits:      StandardPowBits,
	}
}

// DefaultParams is StandardParams(100, 2).
func DefaultParams() ProofSystemParams {
	return StandardParams(StandardSecurity, DefaultLogBlowup)
}

// Validate checks the parameters against the backend's limits.
func (p ProofSystemParams) Validate() error {
	if p.LogBlowup < MinLogBlowup || p.LogBlowup > MaxLogBlowup {
		return fmt.Errorf("%w: log blowup %d not in [%d, %d]", ErrInvalidParams, p.LogBlowup, MinLogBlowup, MaxLogBlowup)
	}
	if p.PowBits < 0 || p.PowBits > 30 {
		return fmt.Errorf("%w: pow bits %d not in [0, 30]", ErrInvalidParams, p.PowBits)
	}
	if p.SecurityBits <= p.PowBits || p.SecurityBits > MaxSecurityBits {
		return fmt.Errorf("%w: security bits %d not in (%d, %d]", ErrInvalidParams, p.SecurityBits, p.PowBits, MaxSecurityBits)
	}
	return nil
}

// Blowup is the rate inverse 2^LogBlowup.
func (p ProofSystemParams) Blowup() int {
	return 1 << p.LogBlowup
}

// NumQueries is the number of FRI and trace queries needed for the target
// security: each query contributes LogBlowup bits on top of the grinding.
func (p ProofSystemParams) NumQueries() int {
	return utils.CeilDiv(p.SecurityBits-p.PowBits, p.LogBlowup)
}

// Fingerprint binds the parameters into digests.
func (p ProofSystemParams) Fingerprint() core.Fingerprint {
	return core.NewHasher("vybium-zkvm/fri-params/v1").
		WriteU64(uint64(p.LogBlowup)).
		WriteU64(uint64(p.SecurityBits)).
		WriteU64(uint64(p.PowBits)).
		Sum()
}

// String renders the parameters the way they are usually quoted.
func (p ProofSystemParams) String() string {
	return fmt.Sprintf("fri(blowup=%d, security=%d bits, pow=%d bits, queries=%d)",
		p.Blowup(), p.SecurityBits, p.PowBits, p.NumQueries())
}
