package protocols

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/utils"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

// MaxLogDomain is the two-adicity of the Goldilocks multiplicative group;
// no evaluation domain can be larger than 2^MaxLogDomain.
const MaxLogDomain = 32

var ErrKeygen = errors.New("protocols: key generation failed")

// AppConfig is the application-level configuration keys are derived from.
type AppConfig struct {
	Params ProofSystemParams `yaml:"app_fri_params" cbor:"1,keyasint"`
	Vm     *vm.VmConfig      `yaml:"vm" cbor:"2,keyasint"`
}

// NewAppConfig pairs parameters and a VM configuration.
func NewAppConfig(params ProofSystemParams, vmConfig *vm.VmConfig) AppConfig {
	return AppConfig{Params: params, Vm: vmConfig}
}

// Validate checks the config and its compatibility with the backend.
func (c AppConfig) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.Vm == nil {
		return fmt.Errorf("%w: missing vm config", vm.ErrMissingSystem)
	}
	if err := c.Vm.Validate(); err != nil {
		return err
	}
	if logDomain := maxLogHeight(c.Vm) + c.Params.LogBlowup; logDomain > MaxLogDomain {
		return fmt.Errorf("%w: %d cycles with blowup %d need a domain of 2^%d, max 2^%d",
			ErrInvalidParams, c.Vm.System.MaxCycles, c.Params.Blowup(), logDomain, MaxLogDomain)
	}
	return nil
}

// Fingerprint binds params and VM config; it identifies the key pair.
func (c AppConfig) Fingerprint() core.Fingerprint {
	pfp := c.Params.Fingerprint()
	vfp := c.Vm.Fingerprint()
	return core.NewHasher("vybium-zkvm/app-config/v1").
		WriteBytes(pfp[:]).
		WriteBytes(vfp[:]).
		WriteU32(vm.NumColumns).
		WriteU32(NumCombinedColumns).
		Sum()
}

// maxLogHeight is the log trace height of the longest admissible run:
// MaxCycles steps plus the mandatory padding row.
func maxLogHeight(cfg *vm.VmConfig) int {
	rows := cfg.System.MaxCycles + 1
	log := 0
	for uint64(1)<<log < rows {
		log++
	}
	return max(log, utils.Log2(MinTraceHeight))
}

// ProvingKey is immutable after Keygen and may be shared by concurrent
// provers.
type ProvingKey struct {
	config       AppConfig
	fingerprint  core.Fingerprint
	maxLogHeight int
	domains      []*ArithmeticDomain
	vk           *VerifyingKey
}

// VerifyingKey is the public projection of a ProvingKey.
type VerifyingKey struct {
	params       ProofSystemParams
	vm           *vm.VmConfig
	fingerprint  core.Fingerprint
	maxLogHeight int
}

// Keygen derives the key pair for cfg. It is deterministic.
func Keygen(cfg AppConfig) (*ProvingKey, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeygen, err)
	}
	cfg.Vm = cfg.Vm.Clone()

	logHeight := maxLogHeight(cfg.Vm)
	domains := make([]*ArithmeticDomain, logHeight+cfg.Params.LogBlowup+1)
	for k := range domains {
		d, err := NewArithmeticDomain(1 << k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeygen, err)
		}
		domains[k] = d
	}

	fp := cfg.Fingerprint()
	return &ProvingKey{
		config:       cfg,
		fingerprint:  fp,
		maxLogHeight: logHeight,
		domains:      domains,
		vk: &VerifyingKey{
			params:       cfg.Params,
			vm:           cfg.Vm.Clone(),
			fingerprint:  fp,
			maxLogHeight: logHeight,
		},
	}, nil
}

// VerifyingKey returns the paired verifying key.
func (pk *ProvingKey) VerifyingKey() *VerifyingKey { return pk.vk }

// Config returns a copy of the AppConfig the key was derived from.
func (pk *ProvingKey) Config() AppConfig {
	return AppConfig{Params: pk.config.Params, Vm: pk.config.Vm.Clone()}
}

// Params returns the proof-system parameters.
func (pk *ProvingKey) Params() ProofSystemParams { return pk.config.Params }

// Fingerprint identifies the key pair.
func (pk *ProvingKey) Fingerprint() core.Fingerprint { return pk.fingerprint }

// MaxTraceHeight is the largest trace the key can prove.
func (pk *ProvingKey) MaxTraceHeight() int { return 1 << pk.maxLogHeight }

// Params returns the proof-system parameters.
func (vk *VerifyingKey) Params() ProofSystemParams { return vk.params }

// VmConfig returns a copy of the VM configuration.
func (vk *VerifyingKey) VmConfig() *vm.VmConfig { return vk.vm.Clone() }

// Fingerprint identifies the key pair.
func (vk *VerifyingKey) Fingerprint() core.Fingerprint { return vk.fingerprint }

// Config reconstructs the AppConfig the key was derived from.
func (vk *VerifyingKey) Config() AppConfig {
	return AppConfig{Params: vk.params, Vm: vk.vm.Clone()}
}
