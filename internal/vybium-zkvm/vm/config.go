package vm

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
)

// Default system limits.
const (
	DefaultMaxCycles       uint64 = 1 << 24
	DefaultMaxPublicValues        = 64
	MaxCyclesLimit         uint64 = 1 << 28
)

var (
	ErrMissingSystem      = errors.New("vm: system extension is required")
	ErrMissingRv32i       = errors.New("vm: base rv32i extension is required")
	ErrInvalidSystemLimit = errors.New("vm: invalid system limit")
)

// SystemConfig configures the base system services (halt, cycle limit,
// public value storage).
type SystemConfig struct {
	MaxCycles       uint64 `yaml:"max_cycles,omitempty" cbor:"1,keyasint"`
	MaxPublicValues int    `yaml:"max_public_values,omitempty" cbor:"2,keyasint"`
}

// DefaultSystemConfig returns the default system limits.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		MaxCycles:       DefaultMaxCycles,
		MaxPublicValues: DefaultMaxPublicValues,
	}
}

// Rv32iConfig enables the RV32I base integer instruction set.
type Rv32iConfig struct{}

// Rv32mConfig enables the M extension (multiply, divide, remainder).
type Rv32mConfig struct{}

// IoConfig enables the hint-input and reveal system calls.
type IoConfig struct{}

// VmConfig enumerates the capability modules of the virtual machine. A nil
// sub-configuration means the extension is disabled.
type VmConfig struct {
	System *SystemConfig `yaml:"system,omitempty" cbor:"1,keyasint"`
	Rv32i  *Rv32iConfig  `yaml:"rv32i,omitempty" cbor:"2,keyasint"`
	Rv32m  *Rv32mConfig  `yaml:"rv32m,omitempty" cbor:"3,keyasint"`
	Io     *IoConfig     `yaml:"io,omitempty" cbor:"4,keyasint"`
}

// NewVmConfig returns an empty configuration; enable extensions with the
// With* builders.
func NewVmConfig() *VmConfig {
	return &VmConfig{}
}

// DefaultRv32imConfig enables every extension with default settings.
func DefaultRv32imConfig() *VmConfig {
	return NewVmConfig().
		WithSystem(DefaultSystemConfig()).
		WithRv32i(Rv32iConfig{}).
		WithRv32m(Rv32mConfig{}).
		WithIo(IoConfig{})
}

// WithSystem enables system services.
func (c *VmConfig) WithSystem(s SystemConfig) *VmConfig {
	c.System = &s
	return c
}

// WithRv32i enables the base ISA.
func (c *VmConfig) WithRv32i(e Rv32iConfig) *VmConfig {
	c.Rv32i = &e
	return c
}

// WithRv32m enables the multiply extension.
func (c *VmConfig) WithRv32m(e Rv32mConfig) *VmConfig {
	c.Rv32m = &e
	return c
}

// WithIo enables the I/O channel.
func (c *VmConfig) WithIo(e IoConfig) *VmConfig {
	c.Io = &e
	return c
}

// Validate checks that the enabled extensions form a compatible set.
func (c *VmConfig) Validate() error {
	if c == nil || c.System == nil {
		return ErrMissingSystem
	}
	if c.Rv32i == nil {
		return ErrMissingRv32i
	}
	if c.System.MaxCycles == 0 || c.System.MaxCycles > MaxCyclesLimit {
		return fmt.Errorf("%w: max cycles %d not in [1, %d]", ErrInvalidSystemLimit, c.System.MaxCycles, MaxCyclesLimit)
	}
	if c.System.MaxPublicValues < 0 {
		return fmt.Errorf("%w: max public values %d", ErrInvalidSystemLimit, c.System.MaxPublicValues)
	}
	return nil
}

// Clone returns a deep copy.
func (c *VmConfig) Clone() *VmConfig {
	out := &VmConfig{}
	if c.System != nil {
		s := *c.System
		out.System = &s
	}
	if c.Rv32i != nil {
		out.Rv32i = &Rv32iConfig{}
	}
	if c.Rv32m != nil {
		out.Rv32m = &Rv32mConfig{}
	}
	if c.Io != nil {
		out.Io = &IoConfig{}
	}
	return out
}

// Equal reports structural equality.
func (c *VmConfig) Equal(other *VmConfig) bool {
	return c.Fingerprint() == other.Fingerprint()
}

// Fingerprint is a digest over the structure of the configuration.
func (c *VmConfig) Fingerprint() core.Fingerprint {
	h := core.NewHasher("vybium-zkvm/vm-config/v1")
	if c == nil {
		return h.Sum()
	}
	h.WriteBool(c.System != nil)
	if c.System != nil {
		h.WriteU64(c.System.MaxCycles).WriteU64(uint64(c.System.MaxPublicValues))
	}
	h.WriteBool(c.Rv32i != nil)
	h.WriteBool(c.Rv32m != nil)
	h.WriteBool(c.Io != nil)
	return h.Sum()
}

// Extensions lists the enabled extension names.
func (c *VmConfig) Extensions() []string {
	var names []string
	if c.System != nil {
		names = append(names, "system")
	}
	if c.Rv32i != nil {
		names = append(names, "rv32i")
	}
	if c.Rv32m != nil {
		names = append(names, "rv32m")
	}
	if c.Io != nil {
		names = append(names, "io")
	}
	return names
}

// Transpiler derives the transpiler spec for this configuration.
func (c *VmConfig) Transpiler() TranspilerSpec {
	return TranspilerSpec{
		extensions:  c.extensionSet(),
		fingerprint: c.Fingerprint(),
	}
}

func (c *VmConfig) extensionSet() extensionSet {
	return extensionSet{
		system: c.System != nil,
		rv32i:  c.Rv32i != nil,
		rv32m:  c.Rv32m != nil,
		io:     c.Io != nil,
	}
}

// extensionSet is the flattened view the CPU and transpiler consult.
type extensionSet struct {
	system bool
	rv32i  bool
	rv32m  bool
	io     bool
}

func (e extensionSet) covers(ext Extension) bool {
	switch ext {
	case ExtSystem:
		return e.system
	case ExtRv32i:
		return e.rv32i
	case ExtRv32m:
		return e.rv32m && e.rv32i
	case ExtIo:
		return e.io
	default:
		return false
	}
}

// TranspilerSpec is the part of a VmConfig the transpiler needs.
type TranspilerSpec struct {
	extensions  extensionSet
	fingerprint core.Fingerprint
}

// Fingerprint identifies the VmConfig this spec was derived from.
func (s TranspilerSpec) Fingerprint() core.Fingerprint {
	return s.fingerprint
}

// Covers reports whether the extension is enabled.
func (s TranspilerSpec) Covers(ext Extension) bool {
	return s.extensions.covers(ext)
}
