package wavefunction

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Ansatz is a trial state known only through its per-particle log amplitude.
type Ansatz interface {
	Validate(p Params, n, d int) error
	LogAmplitude(p Params, r *mat.Dense) ([]float64, error)
}

// FiniteDiff differentiates an Ansatz numerically with gonum's finite difference formulas.
type FiniteDiff struct {
	Ansatz Ansatz
}

func (b FiniteDiff) Validate(p Params, n, d int) error {
	return b.Ansatz.Validate(p, n, d)
}

func (b FiniteDiff) LogAmplitude(p Params, r *mat.Dense) ([]float64, error) {
	return b.Ansatz.LogAmplitude(p, r)
}

func (b FiniteDiff) GradPosition(p Params, r *mat.Dense) (*mat.Dense, error) {
	n, d := r.Dims()
	f, ferr := b.sumOverPositions(p, n, d)
	x := mat.DenseCopyOf(r).RawMatrix().Data
	grad := fd.Gradient(nil, f, x, nil)
	if *ferr != nil {
		return nil, errors.Wrap(*ferr, "")
	}
	return mat.NewDense(n, d, grad), nil
}

func (b FiniteDiff) GradParams(p Params, rs []*mat.Dense) (*mat.Dense, error) {
	if len(rs) == 0 {
		return nil, nil
	}
	theta := p.Flatten()
	grads := mat.NewDense(len(rs), len(theta), nil)
	for s, r := range rs {
		var ferr error
		f := func(v []float64) float64 {
			q, err := p.Unflatten(v)
			if err != nil {
				ferr = err
				return math.NaN()
			}
			la, err := b.Ansatz.LogAmplitude(q, r)
			if err != nil {
				ferr = err
				return math.NaN()
			}
			return floats.Sum(la)
		}
		fd.Gradient(grads.RawRowView(s), f, theta, nil)
		if ferr != nil {
			return nil, errors.Wrapf(ferr, "%d", s)
		}
	}
	return grads, nil
}

func (b FiniteDiff) Laplacian(p Params, r *mat.Dense) (float64, error) {
	grad, err := b.GradPosition(p, r)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	n, d := r.Dims()
	f, ferr := b.sumOverPositions(p, n, d)
	x := mat.DenseCopyOf(r).RawMatrix().Data
	lapLog := fd.Laplacian(f, x, nil)
	if *ferr != nil {
		return math.NaN(), errors.Wrap(*ferr, "")
	}
	g := grad.RawMatrix().Data
	return lapLog + floats.Dot(g, g), nil
}

// sumOverPositions returns ln Ψ as a function of the flattened positions.
// The returned error pointer holds the first failure seen by the function.
func (b FiniteDiff) sumOverPositions(p Params, n, d int) (func([]float64) float64, *error) {
	var ferr error
	f := func(x []float64) float64 {
		la, err := b.Ansatz.LogAmplitude(p, mat.NewDense(n, d, x))
		if err != nil {
			if ferr == nil {
				ferr = err
			}
			return math.NaN()
		}
		return floats.Sum(la)
	}
	return f, &ferr
}

var _ Backend = FiniteDiff{}
var _ Backend = Gaussian{}
