package vybiumzkvm

import (
	"fmt"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/protocols"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/utils"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

// appConfigFile is the on-disk form of an AppConfig:
//
//	app_fri_params:
//	  log_blowup: 2
//	  security_bits: 100
//	vm:
//	  system: {max_cycles: 16777216}
//	  rv32i: {}
//	  rv32m: {}
//	  io: {}
//
// An extension key that is present enables the extension. Omitted numbers
// take their defaults.
type appConfigFile struct {
	Params *paramsFile  `yaml:"app_fri_params"`
	Vm     *vm.VmConfig `yaml:"vm"`
}

type paramsFile struct {
	LogBlowup    int  `yaml:"log_blowup"`
	SecurityBits int  `yaml:"security_bits"`
	PowBits      *int `yaml:"pow_bits"`
}

// ParseAppConfig decodes a YAML app config.
func ParseAppConfig(data []byte) (AppConfig, error) {
	var file appConfigFile
	if err := utils.DecodeYAML(data, &file); err != nil {
		return AppConfig{}, stageError(StageConfig, err, "cannot parse app config")
	}
	return file.resolve()
}

// LoadAppConfig reads a YAML app config from path.
func LoadAppConfig(path string) (AppConfig, error) {
	var file appConfigFile
	if err := utils.LoadYAML(path, &file); err != nil {
		return AppConfig{}, stageError(StageConfig, err, "cannot load app config")
	}
	return file.resolve()
}

// MarshalAppConfig renders cfg in the file format.
func MarshalAppConfig(cfg AppConfig) ([]byte, error) {
	pow := cfg.Params.PowBits
	data, err := utils.EncodeYAML(appConfigFile{
		Params: &paramsFile{
			LogBlowup:    cfg.Params.LogBlowup,
			SecurityBits: cfg.Params.SecurityBits,
			PowBits:      &pow,
		},
		Vm: cfg.Vm,
	})
	if err != nil {
		return nil, stageError(StageConfig, err, "cannot render app config")
	}
	return data, nil
}

func (f appConfigFile) resolve() (AppConfig, error) {
	params := protocols.DefaultParams()
	if p := f.Params; p != nil {
		if p.LogBlowup != 0 {
			params.LogBlowup = p.LogBlowup
		}
		if p.SecurityBits != 0 {
			params.SecurityBits = p.SecurityBits
		}
		if p.PowBits != nil {
			params.PowBits = *p.PowBits
		}
	}

	cfg := f.Vm
	if cfg == nil {
		cfg = vm.DefaultRv32imConfig()
	}
	if cfg.System != nil {
		def := vm.DefaultSystemConfig()
		if cfg.System.MaxCycles == 0 {
			cfg.System.MaxCycles = def.MaxCycles
		}
		if cfg.System.MaxPublicValues == 0 {
			cfg.System.MaxPublicValues = def.MaxPublicValues
		}
	}

	app := protocols.NewAppConfig(params, cfg)
	if err := app.Validate(); err != nil {
		return AppConfig{}, stageError(StageConfig, err, "invalid app config")
	}
	return app, nil
}

// describeApp summarizes an app config for logs.
func describeApp(cfg AppConfig) string {
	return fmt.Sprintf("%s vm=%v", cfg.Params, cfg.Vm.Extensions())
}
