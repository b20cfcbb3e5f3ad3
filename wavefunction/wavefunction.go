// Package wavefunction implements parameterized trial wavefunctions in the log domain.
//
// A Backend provides the log amplitude and its derivatives as pure functions of the parameters and a configuration.
// A Wavefunction owns the current parameters and checks every call against its particle and dimension counts.
package wavefunction

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/qvmc/vmcerr"
)

const (
	BackendAnalytic   = "analytic"
	BackendFiniteDiff = "finitediff"
)

// Backend is the capability contract of a trial state.
// A configuration r is an N×D matrix with one particle per row.
type Backend interface {
	Validate(p Params, n, d int) error
	// LogAmplitude returns the contribution of each particle to ln Ψ.
	LogAmplitude(p Params, r *mat.Dense) ([]float64, error)
	GradPosition(p Params, r *mat.Dense) (*mat.Dense, error)
	// GradParams returns one row of d ln Ψ / dθ per configuration.
	GradParams(p Params, rs []*mat.Dense) (*mat.Dense, error)
	// Laplacian returns ∇²Ψ/Ψ.
	Laplacian(p Params, r *mat.Dense) (float64, error)
}

// NewBackend returns the Gaussian trial state differentiated by the named backend.
func NewBackend(name string) (Backend, error) {
	switch name {
	case BackendAnalytic:
		return Gaussian{}, nil
	case BackendFiniteDiff:
		return FiniteDiff{Ansatz: Gaussian{}}, nil
	default:
		return nil, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "backend %q", name)
	}
}

// Wavefunction is a trial state of n particles in d dimensions together with its variational parameters.
// Its methods may be called concurrently as long as SetParams is not.
type Wavefunction struct {
	n       int
	d       int
	backend Backend

	params  Params
	version int
}

// New returns a Wavefunction without parameters.
func New(backend Backend, n, d int) (*Wavefunction, error) {
	if backend == nil {
		return nil, errors.Wrap(vmcerr.ErrInvalidConfigChoice, "nil backend")
	}
	if n <= 0 || d <= 0 {
		return nil, errors.Wrapf(vmcerr.ErrInvalidParameterShape, "%d particles %d dims", n, d)
	}
	return &Wavefunction{n: n, d: d, backend: backend}, nil
}

func (w *Wavefunction) NumParticles() int { return w.n }
func (w *Wavefunction) Dim() int { return w.d }

// Version increases by one on every successful SetParams.
func (w *Wavefunction) Version() int { return w.version }

// Params returns a copy of the current parameters.
func (w *Wavefunction) Params() Params { return w.params.Clone() }

// SetParams replaces the parameters after validating their shapes.
func (w *Wavefunction) SetParams(p Params) error {
	if err := w.backend.Validate(p, w.n, w.d); err != nil {
		return errors.Wrap(err, "")
	}
	w.params = p.Clone()
	w.version++
	return nil
}

func (w *Wavefunction) LogAmplitude(r *mat.Dense) ([]float64, error) {
	if err := w.check(r); err != nil {
		return nil, errors.Wrap(err, "")
	}
	la, err := w.backend.LogAmplitude(w.params, r)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return la, nil
}

// LogProb returns the per-particle contributions to ln |Ψ|² = 2 ln Ψ.
func (w *Wavefunction) LogProb(r *mat.Dense) ([]float64, error) {
	la, err := w.LogAmplitude(r)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	floats.Scale(2, la)
	return la, nil
}

func (w *Wavefunction) GradPosition(r *mat.Dense) (*mat.Dense, error) {
	if err := w.check(r); err != nil {
		return nil, errors.Wrap(err, "")
	}
	g, err := w.backend.GradPosition(w.params, r)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return g, nil
}

// GradParams evaluates d ln Ψ / dθ for a batch of configurations in one call.
func (w *Wavefunction) GradParams(rs []*mat.Dense) (*mat.Dense, error) {
	if w.params == nil {
		return nil, errors.Wrap(vmcerr.ErrUninitialized, "params not set")
	}
	if len(rs) == 0 {
		return nil, errors.Wrap(vmcerr.ErrInvalidParameterShape, "empty batch")
	}
	for i, r := range rs {
		if err := w.check(r); err != nil {
			return nil, errors.Wrapf(err, "%d", i)
		}
	}
	g, err := w.backend.GradParams(w.params, rs)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return g, nil
}

func (w *Wavefunction) Laplacian(r *mat.Dense) (float64, error) {
	if err := w.check(r); err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	lap, err := w.backend.Laplacian(w.params, r)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	return lap, nil
}

func (w *Wavefunction) check(r *mat.Dense) error {
	if w.params == nil {
		return errors.Wrap(vmcerr.ErrUninitialized, "params not set")
	}
	if r == nil {
		return errors.Wrap(vmcerr.ErrInvalidParameterShape, "nil configuration")
	}
	if n, d := r.Dims(); n != w.n || d != w.d {
		return errors.Wrapf(vmcerr.ErrInvalidParameterShape, "configuration %dx%d, expected %dx%d", n, d, w.n, w.d)
	}
	return nil
}
