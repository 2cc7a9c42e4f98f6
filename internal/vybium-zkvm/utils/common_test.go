package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPowerOfTwoHelpers(t *testing.T) {
	t.Run("IsPowerOfTwo", func(t *testing.T) {
		assert.True(t, IsPowerOfTwo(1))
		assert.True(t, IsPowerOfTwo(64))
		assert.False(t, IsPowerOfTwo(0))
		assert.False(t, IsPowerOfTwo(-4))
		assert.False(t, IsPowerOfTwo(12))
	})

	t.Run("Log2", func(t *testing.T) {
		assert.Equal(t, 0, Log2(1))
		assert.Equal(t, 10, Log2(1024))
		assert.Equal(t, -1, Log2(6))
	})

	t.Run("NextPowerOfTwo", func(t *testing.T) {
		assert.Equal(t, 1, NextPowerOfTwo(0))
		assert.Equal(t, 1, NextPowerOfTwo(1))
		assert.Equal(t, 8, NextPowerOfTwo(5))
		assert.Equal(t, 8, NextPowerOfTwo(8))
		assert.Equal(t, 16, NextPowerOfTwo(9))
	})
}

func TestArithmeticHelpers(t *testing.T) {
	assert.Equal(t, 42, CeilDiv(84, 2))
	assert.Equal(t, 43, CeilDiv(85, 2))
	assert.Equal(t, 8, AlignUp(5, 4))
	assert.Equal(t, 8, AlignUp(8, 4))
	assert.Equal(t, 0, AlignUp(0, 4))
}
