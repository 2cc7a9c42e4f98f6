package protocols

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
)

func testValues(n int) []field.Element {
	out := make([]field.Element, n)
	for i := range out {
		out[i] = field.New(uint64(3*i*i + 7*i + 1))
	}
	return out
}

func TestArithmeticDomain(t *testing.T) {
	t.Run("Interpolate_Evaluate_RoundTrip", func(t *testing.T) {
		d, err := NewArithmeticDomain(16)
		require.NoError(t, err)
		values := testValues(16)
		coeffs, err := d.Interpolate(values)
		require.NoError(t, err)
		back, err := d.Evaluate(coeffs)
		require.NoError(t, err)
		for i := range values {
			require.True(t, values[i].Equal(back[i]), "index %d", i)
		}
	})

	t.Run("Evaluate_Matches_Horner", func(t *testing.T) {
		d, err := NewArithmeticDomain(8)
		require.NoError(t, err)
		coeffs := []field.Element{field.New(5), field.New(0), field.New(2)}
		values, err := d.Evaluate(coeffs)
		require.NoError(t, err)
		for i, v := range values {
			x := d.Element(i)
			want := field.New(5).Add(field.New(2).Mul(x).Mul(x))
			require.True(t, want.Equal(v), "index %d", i)
		}
	})

	t.Run("Generator_Has_Exact_Order", func(t *testing.T) {
		for log := 0; log <= 32; log++ {
			length := 1 << log
			d, err := NewArithmeticDomain(length)
			require.NoError(t, err, "length 2^%d", log)
			require.Equal(t, length, d.Length)
			require.True(t, d.Generator.ModPow(uint64(length)).Equal(field.One), "g^%d != 1", length)
			if length > 1 {
				require.False(t, d.Generator.ModPow(uint64(length/2)).Equal(field.One), "g^%d == 1", length/2)
			}
		}
	})

	t.Run("Halve_Squares_Generator", func(t *testing.T) {
		d, err := NewArithmeticDomain(64)
		require.NoError(t, err)
		h, err := d.Halve()
		require.NoError(t, err)
		require.Equal(t, 32, h.Length)
		require.True(t, h.Generator.ModPow(32).Equal(field.One))
		require.False(t, h.Generator.ModPow(16).Equal(field.One))

		single, err := NewArithmeticDomain(1)
		require.NoError(t, err)
		_, err = single.Halve()
		require.ErrorIs(t, err, ErrDomain)
	})

	t.Run("Rejects_Non_Power_Of_Two", func(t *testing.T) {
		_, err := NewArithmeticDomain(12)
		require.ErrorIs(t, err, ErrDomain)
		_, err = NewArithmeticDomain(0)
		require.ErrorIs(t, err, ErrDomain)
	})

	t.Run("LowDegreeExtend_Keeps_Trace_Values", func(t *testing.T) {
		values := testValues(8)
		ext, err := LowDegreeExtend(values, 4)
		require.NoError(t, err)
		require.Len(t, ext, 32)
		for i, v := range values {
			require.True(t, v.Equal(ext[4*i]), "row %d", i)
		}
	})
}
