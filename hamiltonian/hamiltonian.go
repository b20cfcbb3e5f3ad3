// Package hamiltonian evaluates local energies of trial wavefunctions in external traps.
//
// All Hamiltonians are in natural units, ħ = m = 1, so that
//
//	E_L(r) = −½ ∇²Ψ(r)/Ψ(r) + V(r).
package hamiltonian

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/qvmc/vmcerr"
	"github.com/fumin/qvmc/wavefunction"
)

const (
	NameHarmonic = "harmonic"
	NameElliptic = "elliptic"

	InteractionNone    = "none"
	InteractionCoulomb = "coulomb"
)

// Hamiltonian computes the local energy of a configuration.
// Implementations hold no mutable state.
type Hamiltonian interface {
	LocalEnergy(wf *wavefunction.Wavefunction, r *mat.Dense) (float64, error)
	Name() string
}

// New returns the named Hamiltonian.
// gamma is the trap anisotropy of the elliptic trap and is ignored by the harmonic one.
func New(name string, gamma float64, in Interaction) (Hamiltonian, error) {
	if err := in.validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	switch name {
	case NameHarmonic:
		return Harmonic{Omega: 1, Interaction: in}, nil
	case NameElliptic:
		if !(gamma > 0) {
			return nil, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "gamma %f", gamma)
		}
		return Elliptic{Gamma: gamma, Interaction: in}, nil
	default:
		return nil, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "hamiltonian %q", name)
	}
}

// Harmonic is the isotropic trap V = ½ ω² Σ_i |r_i|².
type Harmonic struct {
	Omega       float64
	Interaction Interaction
}

func (h Harmonic) Name() string { return NameHarmonic }

func (h Harmonic) LocalEnergy(wf *wavefunction.Wavefunction, r *mat.Dense) (float64, error) {
	data := mat.DenseCopyOf(r).RawMatrix().Data
	trap := 0.5 * h.Omega * h.Omega * floats.Dot(data, data)
	return localEnergy(wf, r, trap, h.Interaction)
}

// Elliptic is the trap V = ½ Σ_i (γ² x_{i,0}² + Σ_{d≥1} x_{i,d}²), stretched along axis 0.
type Elliptic struct {
	Gamma       float64
	Interaction Interaction
}

func (h Elliptic) Name() string { return NameElliptic }

func (h Elliptic) LocalEnergy(wf *wavefunction.Wavefunction, r *mat.Dense) (float64, error) {
	n, _ := r.Dims()
	var trap float64
	for i := range n {
		ri := r.RawRowView(i)
		trap += h.Gamma*h.Gamma*ri[0]*ri[0] + floats.Dot(ri[1:], ri[1:])
	}
	return localEnergy(wf, r, 0.5*trap, h.Interaction)
}

func localEnergy(wf *wavefunction.Wavefunction, r *mat.Dense, trap float64, in Interaction) (float64, error) {
	lap, err := wf.Laplacian(r)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	pair, err := in.Potential(r)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}

	e := -0.5*lap + trap + pair
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return e, errors.Wrapf(vmcerr.ErrNumericalInstability, "laplacian %f trap %f pair %f", lap, trap, pair)
	}
	return e, nil
}
