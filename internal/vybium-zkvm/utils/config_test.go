package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Level int    `yaml:"level"`
}

func TestYAML(t *testing.T) {
	t.Run("Decode", func(t *testing.T) {
		var s sample
		require.NoError(t, DecodeYAML([]byte("name: fib\nlevel: 3\n"), &s))
		assert.Equal(t, sample{Name: "fib", Level: 3}, s)
	})

	t.Run("Unknown_Field", func(t *testing.T) {
		var s sample
		require.ErrorIs(t, DecodeYAML([]byte("name: fib\nlevle: 3\n"), &s), ErrConfig)
	})

	t.Run("Empty", func(t *testing.T) {
		var s sample
		require.ErrorIs(t, DecodeYAML(nil, &s), ErrConfig)
	})

	t.Run("Load_And_Encode", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "c.yaml")
		data, err := EncodeYAML(sample{Name: "x", Level: 1})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		var s sample
		require.NoError(t, LoadYAML(path, &s))
		assert.Equal(t, sample{Name: "x", Level: 1}, s)

		require.ErrorIs(t, LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"), &s), ErrConfig)
	})
}
