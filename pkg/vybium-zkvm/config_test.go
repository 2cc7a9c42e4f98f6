package vybiumzkvm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfigFile(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := ParseAppConfig([]byte("app_fri_params: {}\n"))
		require.NoError(t, err)
		assert.Equal(t, DefaultParams(), cfg.Params)
		assert.True(t, cfg.Vm.Equal(DefaultRv32imConfig()))
	})

	t.Run("Explicit", func(t *testing.T) {
		cfg, err := ParseAppConfig([]byte(`
app_fri_params:
  log_blowup: 4
vm:
  system:
    max_cycles: 1000
  rv32i: {}
  io: {}
`))
		require.NoError(t, err)
		assert.Equal(t, StandardParams(100, 4), cfg.Params)
		assert.Equal(t, uint64(1000), cfg.Vm.System.MaxCycles)
		assert.Equal(t, DefaultSystemConfig().MaxPublicValues, cfg.Vm.System.MaxPublicValues)
		assert.Nil(t, cfg.Vm.Rv32m)
		assert.NotNil(t, cfg.Vm.Io)
	})

	t.Run("Invalid", func(t *testing.T) {
		for name, doc := range map[string]string{
			"UnknownField": "app_fri_params:\n  blowup: 2\n",
			"NoSystem":     "vm:\n  rv32i: {}\n",
			"BadBlowup":    "app_fri_params:\n  log_blowup: 9\n",
			"NotYAML":      "app_fri_params: [",
			"Empty":        "",
		} {
			_, err := ParseAppConfig([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidConfig, name)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		cfg := NewAppConfig(StandardParams(100, 4), NewVmConfig().
			WithSystem(SystemConfig{MaxCycles: 1 << 10, MaxPublicValues: 64}).
			WithRv32i(Rv32iConfig{}).
			WithIo(IoConfig{}))
		data, err := MarshalAppConfig(cfg)
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "app.yaml")
		require.NoError(t, os.WriteFile(path, data, 0o644))
		loaded, err := LoadAppConfig(path)
		require.NoError(t, err)
		assert.Equal(t, cfg.Fingerprint(), loaded.Fingerprint())
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := LoadAppConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
