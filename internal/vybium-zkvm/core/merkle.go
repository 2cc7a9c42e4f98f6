package core

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// NodeSize is the byte length of every Merkle node.
const NodeSize = 32

var (
	ErrEmptyTree         = errors.New("merkle: cannot build tree from empty leaf set")
	ErrLeafCount         = errors.New("merkle: leaf count must be a power of two")
	ErrIndexOutOfRange   = errors.New("merkle: leaf index out of range")
	ErrMalformedAuthPath = errors.New("merkle: malformed authentication path")
)

// MerkleTree commits to a power-of-two number of leaf digests.
// Leaves are hashed with a leaf prefix and inner nodes with a node prefix so
// that a leaf can never be reinterpreted as an inner node.
type MerkleTree struct {
	levels [][][]byte
}

// NewMerkleTree builds a tree over the given leaf payloads.
func NewMerkleTree(leaves [][]byte) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if len(leaves)&(len(leaves)-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrLeafCount, len(leaves))
	}

	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		level[i] = HashLeaf(leaf)
	}

	levels := [][][]byte{level}
	for len(level) > 1 {
		next := make([][]byte, len(level)/2)
		for i := range next {
			next[i] = hashNode(level[2*i], level[2*i+1])
		}
		levels = append(levels, next)
		level = next
	}

	return &MerkleTree{levels: levels}, nil
}

// Root returns the Merkle root.
func (mt *MerkleTree) Root() []byte {
	root := mt.levels[len(mt.levels)-1][0]
	out := make([]byte, NodeSize)
	copy(out, root)
	return out
}

// Height is the number of sibling nodes in every authentication path.
func (mt *MerkleTree) Height() int {
	return len(mt.levels) - 1
}

// NumLeaves returns the number of committed leaves.
func (mt *MerkleTree) NumLeaves() int {
	return len(mt.levels[0])
}

// AuthPath returns the sibling nodes from the leaf level up to the root.
func (mt *MerkleTree) AuthPath(index int) ([][]byte, error) {
	if index < 0 || index >= mt.NumLeaves() {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, mt.NumLeaves())
	}

	path := make([][]byte, 0, mt.Height())
	current := index
	for level := 0; level < mt.Height(); level++ {
		sibling := mt.levels[level][current^1]
		node := make([]byte, NodeSize)
		copy(node, sibling)
		path = append(path, node)
		current >>= 1
	}
	return path, nil
}

// VerifyAuthPath checks that leaf sits at index under root.
func VerifyAuthPath(root, leaf []byte, index int, path [][]byte) bool {
	if index < 0 || index>>len(path) != 0 {
		return false
	}
	node := HashLeaf(leaf)
	current := index
	for _, sibling := range path {
		if len(sibling) != NodeSize {
			return false
		}
		if current&1 == 0 {
			node = hashNode(node, sibling)
		} else {
			node = hashNode(sibling, node)
		}
		current >>= 1
	}
	return bytes.Equal(node, root)
}

// HashLeaf hashes a leaf payload.
func HashLeaf(data []byte) []byte {
	h := sha3.New256()
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

func hashNode(left, right []byte) []byte {
	h := sha3.New256()
	h.Write([]byte{0x01})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
