package protocols

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
)

func TestFri(t *testing.T) {
	commitAndVerify := func(t *testing.T, codeword []field.Element, folds int) error {
		t.Helper()
		domain, err := NewArithmeticDomain(len(codeword))
		require.NoError(t, err)
		pt := NewTranscript("fri-test")
		c, err := friCommit(codeword, domain, folds, pt)
		require.NoError(t, err)

		vt := NewTranscript("fri-test")
		v, err := newFriVerifier(c.roots, c.final, len(codeword), vt)
		if err != nil {
			return err
		}
		for _, idx := range []int{0, 5, 17, len(codeword) - 1} {
			q, err := c.open(idx)
			require.NoError(t, err)
			if err := v.verifyQuery(q, idx); err != nil {
				return err
			}
			link, err := c.openFirst(idx)
			require.NoError(t, err)
			require.True(t, v.verifyFirst(idx, link))
		}
		return nil
	}

	t.Run("Low_Degree_Codeword_Accepted", func(t *testing.T) {
		codeword, err := LowDegreeExtend(testValues(8), 4)
		require.NoError(t, err)
		require.NoError(t, commitAndVerify(t, codeword, 3))
	})

	t.Run("High_Degree_Codeword_Rejected", func(t *testing.T) {
		require.ErrorIs(t, commitAndVerify(t, testValues(32), 3), ErrFriRejected)
	})

	t.Run("Tampered_Layer_Value_Rejected", func(t *testing.T) {
		codeword, err := LowDegreeExtend(testValues(8), 4)
		require.NoError(t, err)
		domain, err := NewArithmeticDomain(32)
		require.NoError(t, err)
		c, err := friCommit(codeword, domain, 3, NewTranscript("fri-test"))
		require.NoError(t, err)
		v, err := newFriVerifier(c.roots, c.final, 32, NewTranscript("fri-test"))
		require.NoError(t, err)

		q, err := c.open(9)
		require.NoError(t, err)
		q.Layers[1].Left++
		require.ErrorIs(t, v.verifyQuery(q, 9), ErrFriRejected)

		q, err = c.open(9)
		require.NoError(t, err)
		require.ErrorIs(t, v.verifyQuery(q, 10), ErrFriRejected)
	})
}

func TestTranscript(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		a, b := NewTranscript("x"), NewTranscript("x")
		a.AbsorbU64(42)
		b.AbsorbU64(42)
		require.Equal(t, a.SampleScalars(4), b.SampleScalars(4))
		require.Equal(t, a.StateBytes(), b.StateBytes())
	})

	t.Run("Absorb_Changes_Samples", func(t *testing.T) {
		a, b := NewTranscript("x"), NewTranscript("x")
		a.AbsorbU64(1)
		b.AbsorbU64(2)
		require.NotEqual(t, a.SampleScalar(), b.SampleScalar())
	})

	t.Run("Indices_In_Range", func(t *testing.T) {
		tr := NewTranscript("x")
		for _, i := range tr.SampleIndices(64, 100) {
			require.GreaterOrEqual(t, i, 0)
			require.Less(t, i, 64)
		}
	})
}

func TestProofOfWork(t *testing.T) {
	state := NewTranscript("pow").StateBytes()
	nonce, err := grind(context.Background(), state, 8)
	require.NoError(t, err)
	require.True(t, checkPow(state, nonce, 8))
	require.Equal(t, 12, leadingZeros([]byte{0x00, 0x08}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = grind(ctx, state, 64)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenedRows(t *testing.T) {
	require.Equal(t, []int{0, 3, 4, 6, 7}, openedRows([]int{3, 6, 3}, 8))
	require.Equal(t, []int{0, 1, 7}, openedRows([]int{0}, 8))
}
