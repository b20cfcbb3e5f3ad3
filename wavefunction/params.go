package wavefunction

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/fumin/qvmc/vmcerr"
)

const (
	// Alpha is the Gaussian width parameter.
	Alpha = "alpha"
	// Beta rescales coordinate axis 0 of the elliptic trial state.
	Beta = "beta"
)

// Params are the variational parameters, keyed by name.
type Params map[string][]float64

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = slices.Clone(v)
	}
	return c
}

// Names returns the parameter names in the canonical, sorted, order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Size is the number of scalar parameters.
func (p Params) Size() int {
	var n int
	for _, v := range p {
		n += len(v)
	}
	return n
}

// Flatten concatenates the parameters in Names order.
func (p Params) Flatten() []float64 {
	flat := make([]float64, 0, p.Size())
	for _, k := range p.Names() {
		flat = append(flat, p[k]...)
	}
	return flat
}

// Unflatten is the inverse of Flatten: it returns parameters with the shapes of p and the values of flat.
func (p Params) Unflatten(flat []float64) (Params, error) {
	if len(flat) != p.Size() {
		return nil, errors.Wrapf(vmcerr.ErrInvalidParameterShape, "%d %d", len(flat), p.Size())
	}
	q := make(Params, len(p))
	var off int
	for _, k := range p.Names() {
		n := len(p[k])
		q[k] = slices.Clone(flat[off : off+n])
		off += n
	}
	return q, nil
}

func (p Params) String() string {
	ss := make([]string, 0, len(p))
	for _, k := range p.Names() {
		ss = append(ss, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(ss, " ")
}

// validateGaussian checks p against the Gaussian family for n particles in d dimensions.
func validateGaussian(p Params, n, d int) error {
	if p == nil {
		return errors.Wrap(vmcerr.ErrUninitialized, "nil params")
	}
	if n <= 0 || d <= 0 {
		return errors.Wrapf(vmcerr.ErrInvalidParameterShape, "%d particles %d dims", n, d)
	}
	alpha, ok := p[Alpha]
	if !ok {
		return errors.Wrapf(vmcerr.ErrUninitialized, "missing %s", Alpha)
	}
	if len(alpha) != 1 && len(alpha) != n {
		return errors.Wrapf(vmcerr.ErrInvalidParameterShape, "%s has %d values for %d particles", Alpha, len(alpha), n)
	}
	for k, v := range p {
		switch k {
		case Alpha:
		case Beta:
			if len(v) != 1 {
				return errors.Wrapf(vmcerr.ErrInvalidParameterShape, "%s has %d values", Beta, len(v))
			}
		default:
			return errors.Wrapf(vmcerr.ErrInvalidParameterShape, "unknown parameter %q", k)
		}
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return errors.Wrapf(vmcerr.ErrNumericalInstability, "%s=%v", k, v)
			}
		}
	}
	return nil
}
