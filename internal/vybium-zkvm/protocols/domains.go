package protocols

import (
	"errors"
	"fmt"

	"github.com/vybium/vybium-crypto/pkg/vybium-crypto/field"

	"github.com/vybium/vybium-zkvm/internal/vybium-zkvm/utils"
)

var ErrDomain = errors.New("protocols: invalid evaluation domain")

// ArithmeticDomain is the multiplicative subgroup {generator^i : i < length}.
// All domains have power-of-2 lengths for NTT.
type ArithmeticDomain struct {
	Generator field.Element
	Length    int
}

// NewArithmeticDomain creates the subgroup of the given power-of-2 length and
// checks that its generator has exact order length.
func NewArithmeticDomain(length int) (*ArithmeticDomain, error) {
	if !utils.IsPowerOfTwo(length) {
		return nil, fmt.Errorf("%w: length %d is not a power of 2", ErrDomain, length)
	}
	root, ok := field.PrimitiveRoots[uint64(length)]
	if !ok {
		return nil, fmt.Errorf("%w: no root of unity of order %d", ErrDomain, length)
	}
	// The table holds canonical values; field.New maps them to Montgomery form.
	generator := field.New(root)
	if !pow(generator, uint64(length)).Equal(field.One) {
		return nil, fmt.Errorf("%w: generator order does not divide %d", ErrDomain, length)
	}
	if length > 1 && pow(generator, uint64(length/2)).Equal(field.One) {
		return nil, fmt.Errorf("%w: generator is not primitive for %d", ErrDomain, length)
	}
	return &ArithmeticDomain{Generator: generator, Length: length}, nil
}

// Halve returns the domain of squares.
func (d *ArithmeticDomain) Halve() (*ArithmeticDomain, error) {
	if d.Length < 2 {
		return nil, fmt.Errorf("%w: cannot halve domain of length %d", ErrDomain, d.Length)
	}
	return &ArithmeticDomain{
		Generator: d.Generator.Mul(d.Generator),
		Length:    d.Length / 2,
	}, nil
}

// Element returns generator^i.
func (d *ArithmeticDomain) Element(i int) field.Element {
	return pow(d.Generator, uint64(i))
}

// Interpolate returns the coefficients of the polynomial taking values on
// the domain.
func (d *ArithmeticDomain) Interpolate(values []field.Element) ([]field.Element, error) {
	if len(values) != d.Length {
		return nil, fmt.Errorf("%w: %d values for domain of length %d", ErrDomain, len(values), d.Length)
	}
	coeffs := append([]field.Element(nil), values...)
	ntt(coeffs, d.Generator.Inverse())
	nInv := field.New(uint64(d.Length)).Inverse()
	for i := range coeffs {
		coeffs[i] = coeffs[i].Mul(nInv)
	}
	return coeffs, nil
}

// Evaluate evaluates a polynomial of degree < Length over the domain.
func (d *ArithmeticDomain) Evaluate(coeffs []field.Element) ([]field.Element, error) {
	if len(coeffs) > d.Length {
		return nil, fmt.Errorf("%w: %d coefficients exceed domain length %d", ErrDomain, len(coeffs), d.Length)
	}
	values := make([]field.Element, d.Length)
	copy(values, coeffs)
	for i := len(coeffs); i < d.Length; i++ {
		values[i] = field.Zero
	}
	ntt(values, d.Generator)
	return values, nil
}

// LowDegreeExtend interpolates values over the trace domain and evaluates
// the result over the blown-up domain. The trace domain is a subgroup of
// the extended one, so value i reappears at index i*blowup.
func LowDegreeExtend(values []field.Element, blowup int) ([]field.Element, error) {
	extDomain, err := NewArithmeticDomain(len(values) * blowup)
	if err != nil {
		return nil, err
	}
	return extDomain.Extend(values)
}

// Extend is LowDegreeExtend onto d. len(values) must divide d.Length.
func (d *ArithmeticDomain) Extend(values []field.Element) ([]field.Element, error) {
	if len(values) == 0 || d.Length%len(values) != 0 {
		return nil, fmt.Errorf("%w: cannot extend %d values onto %d points", ErrDomain, len(values), d.Length)
	}
	blowup := d.Length / len(values)
	traceDomain := &ArithmeticDomain{
		Generator: pow(d.Generator, uint64(blowup)),
		Length:    len(values),
	}
	coeffs, err := traceDomain.Interpolate(values)
	if err != nil {
		return nil, err
	}
	return d.Evaluate(coeffs)
}

// ntt computes a[j] <- sum_i a[i] * omega^(i*j) in place.
func ntt(a []field.Element, omega field.Element) {
	n := len(a)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		w := pow(omega, uint64(n/length))
		half := length / 2
		for start := 0; start < n; start += length {
			wn := field.One
			for k := 0; k < half; k++ {
				u := a[start+k]
				v := a[start+k+half].Mul(wn)
				a[start+k] = u.Add(v)
				a[start+k+half] = u.Sub(v)
				wn = wn.Mul(w)
			}
		}
	}
}

// pow computes base^exp by square and multiply.
func pow(base field.Element, exp uint64) field.Element {
	result := field.One
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base)
		}
		base = base.Mul(base)
		exp >>= 1
	}
	return result
}
