package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"
)

func testLeaves(n int) [][]byte {
	leaves := make([][]byte, n)
	for i := range leaves {
		leaves[i] = []byte(fmt.Sprintf("leaf-%d", i))
	}
	return leaves
}

func TestMerkleTree(t *testing.T) {
	t.Run("Rejects_Bad_Leaf_Counts", func(t *testing.T) {
		_, err := NewMerkleTree(nil)
		require.ErrorIs(t, err, ErrEmptyTree)

		_, err = NewMerkleTree(testLeaves(3))
		require.ErrorIs(t, err, ErrLeafCount)
	})

	t.Run("Auth_Paths_Verify", func(t *testing.T) {
		leaves := testLeaves(16)
		tree, err := NewMerkleTree(leaves)
		require.NoError(t, err)
		require.Equal(t, 4, tree.Height())

		for i, leaf := range leaves {
			path, err := tree.AuthPath(i)
			require.NoError(t, err)
			require.True(t, VerifyAuthPath(tree.Root(), leaf, i, path), "leaf %d", i)
		}
	})

	t.Run("Wrong_Leaf_Or_Index_Fails", func(t *testing.T) {
		leaves := testLeaves(8)
		tree, err := NewMerkleTree(leaves)
		require.NoError(t, err)

		path, err := tree.AuthPath(5)
		require.NoError(t, err)
		require.False(t, VerifyAuthPath(tree.Root(), leaves[4], 5, path))
		require.False(t, VerifyAuthPath(tree.Root(), leaves[5], 4, path))
		require.False(t, VerifyAuthPath(tree.Root(), leaves[5], 13, path))

		_, err = tree.AuthPath(8)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
	})

	t.Run("Single_Leaf", func(t *testing.T) {
		tree, err := NewMerkleTree(testLeaves(1))
		require.NoError(t, err)
		path, err := tree.AuthPath(0)
		require.NoError(t, err)
		require.Empty(t, path)
		require.True(t, VerifyAuthPath(tree.Root(), []byte("leaf-0"), 0, path))
	})
}

func TestFingerprint(t *testing.T) {
	a := NewHasher("test").WriteU32(1).WriteBytes([]byte("x")).Sum()
	b := NewHasher("test").WriteU32(1).WriteBytes([]byte("x")).Sum()
	c := NewHasher("other").WriteU32(1).WriteBytes([]byte("x")).Sum()

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.False(t, a.IsZero())
	require.Len(t, a.Hex(), 64)
	require.Equal(t, a.Hex()[:8], a.Short())
}

func TestBytesToElements(t *testing.T) {
	elems := BytesToElements([]byte{1, 0, 0, 0, 2})
	require.Len(t, elems, 3)
	require.Equal(t, uint64(5), elems[0].Value())
	require.Equal(t, uint64(1), elems[1].Value())
	require.Equal(t, uint64(2), elems[2].Value())
}

func TestDigestBytes(t *testing.T) {
	var d hash.Digest
	for i := range d {
		d[i] = field.New(uint64(i + 1))
	}
	b := DigestBytes(d)
	require.Len(t, b, 8*hash.DigestLen)
	require.Equal(t, ElementsBytes(d[:]), b)
	require.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, b[:8])
	require.Equal(t, []byte{5, 0, 0, 0, 0, 0, 0, 0}, b[32:])
}
