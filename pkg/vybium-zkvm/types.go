package vybiumzkvm

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/guest"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/protocols"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

// VmConfig enumerates the enabled VM extensions
type VmConfig = vm.VmConfig

// SystemConfig configures the base system services
type SystemConfig = vm.SystemConfig

// Rv32iConfig enables the RV32I base instruction set
type Rv32iConfig = vm.Rv32iConfig

// Rv32mConfig enables multiply and divide
type Rv32mConfig = vm.Rv32mConfig

// IoConfig enables hint input and reveal
type IoConfig = vm.IoConfig

// Executable is a VM-native program
type Executable = vm.Executable

// ProofSystemParams are the FRI security parameters
type ProofSystemParams = protocols.ProofSystemParams

// AppConfig pairs proof-system parameters and a VM configuration
type AppConfig = protocols.AppConfig

// CommittedExe is an executable bound to proof-system parameters
type CommittedExe = protocols.CommittedExe

// ProvingKey is immutable and shareable across provers
type ProvingKey = protocols.ProvingKey

// VerifyingKey is the public projection of a ProvingKey
type VerifyingKey = protocols.VerifyingKey

// Proof is a self-contained proof of execution
type Proof = protocols.Proof

// Fingerprint is a 32-byte digest identifying an artifact
type Fingerprint = core.Fingerprint

// GuestOptions controls how a guest target is compiled
type GuestOptions = guest.Options

// TargetFilter narrows target selection
type TargetFilter = guest.TargetFilter

// TargetKind is bin, example or lib
type TargetKind = guest.TargetKind

// Target kinds.
const (
	KindBin     = guest.KindBin
	KindExample = guest.KindExample
	KindLib     = guest.KindLib
)

// NewVmConfig returns a configuration with no extensions.
func NewVmConfig() *VmConfig { return vm.NewVmConfig() }

// DefaultSystemConfig returns the default system limits.
func DefaultSystemConfig() SystemConfig { return vm.DefaultSystemConfig() }

// DefaultRv32imConfig enables system, rv32i, rv32m and io.
func DefaultRv32imConfig() *VmConfig { return vm.DefaultRv32imConfig() }

// StandardParams targets securityBits of conjectured security.
func StandardParams(securityBits, logBlowup int) ProofSystemParams {
	return protocols.StandardParams(securityBits, logBlowup)
}

// NewAppConfig builds an AppConfig.
func NewAppConfig(params ProofSystemParams, vmConfig *VmConfig) AppConfig {
	return protocols.NewAppConfig(params, vmConfig)
}

// DefaultGuestOptions builds in release mode with no features.
func DefaultGuestOptions() GuestOptions { return guest.DefaultOptions() }

// PublicOutput is the byte stream revealed by the guest, four bytes per
// revealed word.
type PublicOutput []byte

// Words decodes the output as little-endian words.
func (o PublicOutput) Words() []uint32 {
	words := make([]uint32, len(o)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(o[4*i:])
	}
	return words
}

// Hex returns the hex encoding.
func (o PublicOutput) Hex() string {
	return hex.EncodeToString(o)
}

// RejectReason classifies a rejected proof.
type RejectReason = protocols.RejectReason

// Reject reasons.
const (
	ReasonNone                 = protocols.ReasonNone
	ReasonMalformed            = protocols.ReasonMalformed
	ReasonKeyMismatch          = protocols.ReasonKeyMismatch
	ReasonCommitmentMismatch   = protocols.ReasonCommitmentMismatch
	ReasonCryptographicFailure = protocols.ReasonCryptographicFailure
)

// Verdict is Accept or Reject(reason). A reject is an expected outcome,
// not an error.
type Verdict struct {
	Accepted bool
	Reason   RejectReason
	Detail   string
}

func verdictFrom(v protocols.Verdict) Verdict {
	return Verdict{Accepted: v.Accepted, Reason: v.Reason, Detail: v.Detail}
}

// Err converts a reject to an *SdkError with code VerificationReject. It is
// nil for an accepting verdict.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	return &SdkError{
		Stage:   StageVerify,
		Code:    CodeVerificationReject,
		Message: fmt.Sprintf("%s: %s", v.Reason, v.Detail),
	}
}

func (v Verdict) String() string {
	if v.Accepted {
		return "Accept"
	}
	return fmt.Sprintf("Reject(%s)", v.Reason)
}

// DefaultParams returns the default proof system parameters.
func DefaultParams() ProofSystemParams { return protocols.DefaultParams() }
