package protocols

import (
	"fmt"
	"runtime"

	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"
	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/hash"
	"golang.org/x/sync/errgroup"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/utils"
	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/vm"
)

// MinTraceHeight keeps every FRI instance at least one fold deep.
const MinTraceHeight = 4

// NumCombinedColumns is the number of values per row that enter the
// low-degree codeword: the public columns followed by the private digest.
const NumCombinedColumns = vm.NumPublicColumns + hash.DigestLen

// TraceTable is the padded execution trace in row-major order. Only the
// public columns of a row are ever opened; the private columns enter the
// commitment through a salted digest.
type TraceTable struct {
	rows    [][]uint32
	private []hash.Digest
	tree    *core.MerkleTree
}

// NewTraceTable flattens the padded step records.
func NewTraceTable(steps []vm.StepRecord) (*TraceTable, error) {
	if !utils.IsPowerOfTwo(len(steps)) || len(steps) < MinTraceHeight {
		return nil, fmt.Errorf("trace height %d must be a power of 2 and at least %d", len(steps), MinTraceHeight)
	}
	rows := make([][]uint32, len(steps))
	for i, s := range steps {
		rows[i] = s.Columns()
	}
	return &TraceTable{rows: rows}, nil
}

// Height is the number of rows.
func (tt *TraceTable) Height() int {
	return len(tt.rows)
}

// Commit digests the private columns of every row under a salt derived from
// seed, hashes each row with Tip5 and builds the row Merkle tree. seed must
// stay with the prover. Rows are hashed in parallel.
func (tt *TraceTable) Commit(seed []byte) ([]byte, error) {
	if len(seed) < 16 {
		return nil, fmt.Errorf("salt seed of %d bytes is too short", len(seed))
	}
	leaves := make([][]byte, len(tt.rows))
	private := make([]hash.Digest, len(tt.rows))

	var g errgroup.Group
	workers := runtime.GOMAXPROCS(0)
	chunk := utils.CeilDiv(len(tt.rows), workers)
	for start := 0; start < len(tt.rows); start += chunk {
		start, end := start, min(start+chunk, len(tt.rows))
		g.Go(func() error {
			for i := start; i < end; i++ {
				row := tt.rows[i]
				private[i] = PrivateDigest(rowSalt(seed, i), row[vm.NumPublicColumns:])
				leaves[i] = RowLeaf(row[:vm.NumPublicColumns], private[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tree, err := core.NewMerkleTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace tree: %w", err)
	}
	tt.tree, tt.private = tree, private
	return tree.Root(), nil
}

// Open returns the public columns of row i, its private digest and its
// authentication path.
func (tt *TraceTable) Open(i int) (RowOpening, error) {
	if tt.tree == nil {
		return RowOpening{}, fmt.Errorf("trace table not committed")
	}
	path, err := tt.tree.AuthPath(i)
	if err != nil {
		return RowOpening{}, err
	}
	return RowOpening{
		Index:   uint32(i),
		Values:  append([]uint32(nil), tt.rows[i][:vm.NumPublicColumns]...),
		Private: tt.private[i],
		Path:    path,
	}, nil
}

// Combine folds every committed row into one value with the given weights.
func (tt *TraceTable) Combine(weights []field.Element) ([]field.Element, error) {
	if tt.tree == nil {
		return nil, fmt.Errorf("trace table not committed")
	}
	if len(weights) != NumCombinedColumns {
		return nil, fmt.Errorf("got %d column weights for %d columns", len(weights), NumCombinedColumns)
	}
	out := make([]field.Element, len(tt.rows))
	for i, row := range tt.rows {
		out[i] = CombineRow(row[:vm.NumPublicColumns], tt.private[i], weights)
	}
	return out, nil
}

// CombineRow is the weighted sum of a row's public columns and private
// digest.
func CombineRow(public []uint32, private hash.Digest, weights []field.Element) field.Element {
	acc := field.Zero
	for j, v := range public {
		acc = acc.Add(weights[j].Mul(field.New(uint64(v))))
	}
	for j, e := range private {
		acc = acc.Add(weights[len(public)+j].Mul(e))
	}
	return acc
}

// RowLeaf is the Merkle leaf payload of a trace row.
func RowLeaf(public []uint32, private hash.Digest) []byte {
	elems := append(core.Uint32sToElements(public), private[:]...)
	return core.DigestBytes(hash.HashVarlen(elems))
}

// PrivateDigest hashes the private columns of a row behind salt.
func PrivateDigest(salt []field.Element, private []uint32) hash.Digest {
	elems := append(append([]field.Element(nil), salt...), core.Uint32sToElements(private)...)
	return hash.HashVarlen(elems)
}

func rowSalt(seed []byte, i int) []field.Element {
	s := core.NewHasher("vybium-zkvm/row-salt/v1").WriteBytes(seed).WriteU64(uint64(i)).Sum()
	return core.BytesToElements(s[:])
}
