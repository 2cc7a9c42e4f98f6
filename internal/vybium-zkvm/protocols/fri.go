package protocols

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/core"
)

var ErrFriRejected = errors.New("protocols: FRI check failed")

// FriLayerOpening opens the pair {p, p + n/2} of one layer.
type FriLayerOpening struct {
	Left      uint64
	Right     uint64
	LeftPath  [][]byte
	RightPath [][]byte
}

// FriQuery follows one index through every committed layer.
type FriQuery struct {
	Index  uint32
	Layers []FriLayerOpening
}

type friLayer struct {
	values []field.Element
	tree   *core.MerkleTree
}

// friCommitment holds the prover side of the commit phase.
type friCommitment struct {
	layers []friLayer
	roots  [][]byte
	final  []field.Element
}

// friCommit repeatedly commits and folds the codeword, absorbing each layer
// root before sampling its folding challenge.
func friCommit(codeword []field.Element, domain *ArithmeticDomain, numFolds int, t *Transcript) (*friCommitment, error) {
	if domain.Length != len(codeword) {
		return nil, fmt.Errorf("%w: codeword of %d over domain of %d", ErrDomain, len(codeword), domain.Length)
	}
	c := &friCommitment{}
	current := codeword
	for k := 0; k < numFolds; k++ {
		tree, err := commitValues(current)
		if err != nil {
			return nil, fmt.Errorf("failed to commit FRI layer %d: %w", k, err)
		}
		root := tree.Root()
		t.AbsorbBytes(root)
		beta := t.SampleScalar()

		c.layers = append(c.layers, friLayer{values: current, tree: tree})
		c.roots = append(c.roots, root)

		current = fold(current, domain.Generator, beta)
		if domain, err = domain.Halve(); err != nil {
			return nil, err
		}
	}
	c.final = current
	t.Absorb(c.final)
	return c, nil
}

// open produces the query path starting at index.
func (c *friCommitment) open(index int) (FriQuery, error) {
	q := FriQuery{Index: uint32(index)}
	idx := index
	for _, layer := range c.layers {
		half := len(layer.values) / 2
		p := idx % half
		leftPath, err := layer.tree.AuthPath(p)
		if err != nil {
			return q, err
		}
		rightPath, err := layer.tree.AuthPath(p + half)
		if err != nil {
			return q, err
		}
		q.Layers = append(q.Layers, FriLayerOpening{
			Left:      layer.values[p].Value(),
			Right:     layer.values[p+half].Value(),
			LeftPath:  leftPath,
			RightPath: rightPath,
		})
		idx = p
	}
	return q, nil
}

// openFirst opens a single value of the first layer.
func (c *friCommitment) openFirst(index int) (LinkOpening, error) {
	path, err := c.layers[0].tree.AuthPath(index)
	if err != nil {
		return LinkOpening{}, err
	}
	return LinkOpening{Value: c.layers[0].values[index].Value(), Path: path}, nil
}

// fold halves a codeword over the domain generated by gen:
// f'(x^2) = (f(x) + f(-x))/2 + beta * (f(x) - f(-x)) / (2x).
func fold(values []field.Element, gen, beta field.Element) []field.Element {
	half := len(values) / 2
	out := make([]field.Element, half)
	x := field.One
	for p := 0; p < half; p++ {
		out[p] = foldPair(values[p], values[p+half], x, beta)
		x = x.Mul(gen)
	}
	return out
}

var twoInv = field.New(2).Inverse()

func foldPair(left, right, x, beta field.Element) field.Element {
	even := left.Add(right).Mul(twoInv)
	odd := left.Sub(right).Mul(twoInv).Mul(x.Inverse())
	return even.Add(beta.Mul(odd))
}

func commitValues(values []field.Element) (*core.MerkleTree, error) {
	leaves := make([][]byte, len(values))
	for i, v := range values {
		leaves[i] = core.ElementBytes(v)
	}
	return core.NewMerkleTree(leaves)
}

// friVerifier replays the commit phase from the proof and checks queries.
type friVerifier struct {
	roots  [][]byte
	betas  []field.Element
	final  []field.Element
	domain *ArithmeticDomain
}

func newFriVerifier(roots [][]byte, final []field.Element, length int, t *Transcript) (*friVerifier, error) {
	domain, err := NewArithmeticDomain(length)
	if err != nil {
		return nil, err
	}
	v := &friVerifier{roots: roots, final: final, domain: domain}
	for _, root := range roots {
		t.AbsorbBytes(root)
		v.betas = append(v.betas, t.SampleScalar())
	}
	t.Absorb(final)

	if len(final) != length>>len(roots) {
		return nil, fmt.Errorf("%w: final layer has %d values, want %d", ErrFriRejected, len(final), length>>len(roots))
	}
	for _, f := range final[1:] {
		if !f.Equal(final[0]) {
			return nil, fmt.Errorf("%w: final layer is not constant", ErrFriRejected)
		}
	}
	return v, nil
}

func (v *friVerifier) verifyQuery(q FriQuery, want int) error {
	if int(q.Index) != want {
		return fmt.Errorf("%w: query index %d, sampled %d", ErrFriRejected, q.Index, want)
	}
	if len(q.Layers) != len(v.roots) {
		return fmt.Errorf("%w: query opens %d layers, want %d", ErrFriRejected, len(q.Layers), len(v.roots))
	}

	idx, domain := want, v.domain
	var expected field.Element
	for k, layer := range q.Layers {
		half := domain.Length / 2
		p := idx % half
		if !core.VerifyAuthPath(v.roots[k], core.ElementBytes(field.New(layer.Left)), p, layer.LeftPath) ||
			!core.VerifyAuthPath(v.roots[k], core.ElementBytes(field.New(layer.Right)), p+half, layer.RightPath) {
			return fmt.Errorf("%w: layer %d authentication path", ErrFriRejected, k)
		}
		left, right := field.New(layer.Left), field.New(layer.Right)
		if k > 0 {
			current := left
			if idx >= half {
				current = right
			}
			if !current.Equal(expected) {
				return fmt.Errorf("%w: layer %d inconsistent with fold of layer %d", ErrFriRejected, k, k-1)
			}
		}
		expected = foldPair(left, right, domain.Element(p), v.betas[k])
		next, err := domain.Halve()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFriRejected, err)
		}
		idx, domain = p, next
	}
	if !v.final[idx].Equal(expected) {
		return fmt.Errorf("%w: last fold disagrees with final layer", ErrFriRejected)
	}
	return nil
}

// verifyFirst checks a single opened value of the first layer.
func (v *friVerifier) verifyFirst(index int, link LinkOpening) bool {
	return core.VerifyAuthPath(v.roots[0], core.ElementBytes(field.New(link.Value)), index, link.Path)
}
