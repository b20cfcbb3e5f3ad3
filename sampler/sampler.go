// Package sampler implements Markov chains whose stationary distribution is |Ψ|².
//
// A step proposes new coordinates for all particles at once and accepts or rejects each particle independently.
// All randomness of a step comes from Stream(seed, chain, step), so a chain is reproducible from any saved ChainState.
package sampler

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/qvmc/vmcerr"
	"github.com/fumin/qvmc/wavefunction"
)

const (
	NameMetropolis         = "metropolis"
	NameMetropolisHastings = "metropolis-hastings"
)

// Sampler advances a chain by one step.
type Sampler interface {
	Step(wf *wavefunction.Wavefunction, s ChainState) (ChainState, error)
	Name() string
	// Scale is the proposal scale: the step width for Metropolis and the time step for Metropolis-Hastings.
	Scale() float64
}

// New returns the named sampler.
func New(name string, scale, timeStep, diffusion float64, seed uint64) (Sampler, error) {
	switch name {
	case NameMetropolis:
		if !(scale > 0) {
			return nil, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "scale %f", scale)
		}
		return Metropolis{StepSize: scale, Seed: seed}, nil
	case NameMetropolisHastings:
		if !(timeStep > 0) || !(diffusion > 0) {
			return nil, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "time step %f diffusion %f", timeStep, diffusion)
		}
		return MetropolisHastings{TimeStep: timeStep, Diffusion: diffusion, Seed: seed}, nil
	default:
		return nil, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "sampler %q", name)
	}
}

// Metropolis proposes an isotropic Gaussian move of width StepSize.
type Metropolis struct {
	StepSize float64
	Seed     uint64
}

func (m Metropolis) Name() string { return NameMetropolis }
func (m Metropolis) Scale() float64 { return m.StepSize }

func (m Metropolis) Step(wf *wavefunction.Wavefunction, s ChainState) (ChainState, error) {
	s, err := Refresh(wf, s)
	if err != nil {
		return ChainState{}, errors.Wrap(err, "")
	}
	rng := Stream(m.Seed, s.Chain, s.Step)

	n, d := s.Positions.Dims()
	proposed := mat.NewDense(n, d, nil)
	for i := range n {
		cur, next := s.Positions.RawRowView(i), proposed.RawRowView(i)
		for j := range next {
			next[j] = cur[j] + m.StepSize*rng.NormFloat64()
		}
	}
	lp, err := proposalLogProb(wf, s, proposed)
	if err != nil {
		return ChainState{}, errors.Wrap(err, "")
	}

	logRatio := make([]float64, n)
	floats.SubTo(logRatio, lp, s.LogProb)
	return accept(s, proposed, lp, logRatio, rng.Float64), nil
}

// MetropolisHastings proposes a drift-diffusion (Langevin) move
//
//	y = x + D Δt F(x) + sqrt(2 D Δt) ξ,
//
// where F = 2∇ ln Ψ is the quantum force, and corrects for the asymmetric proposal in the acceptance ratio.
type MetropolisHastings struct {
	TimeStep  float64
	Diffusion float64
	Seed      uint64
}

func (m MetropolisHastings) Name() string { return NameMetropolisHastings }
func (m MetropolisHastings) Scale() float64 { return m.TimeStep }

func (m MetropolisHastings) Step(wf *wavefunction.Wavefunction, s ChainState) (ChainState, error) {
	s, err := Refresh(wf, s)
	if err != nil {
		return ChainState{}, errors.Wrap(err, "")
	}
	rng := Stream(m.Seed, s.Chain, s.Step)

	fx, err := quantumForce(wf, s.Positions)
	if err != nil {
		return ChainState{}, errors.Wrapf(err, "chain %d step %d", s.Chain, s.Step)
	}
	n, d := s.Positions.Dims()
	drift, sigma := m.Diffusion*m.TimeStep, math.Sqrt(2*m.Diffusion*m.TimeStep)
	proposed := mat.NewDense(n, d, nil)
	for i := range n {
		cur, f, next := s.Positions.RawRowView(i), fx.RawRowView(i), proposed.RawRowView(i)
		for j := range next {
			next[j] = cur[j] + drift*f[j] + sigma*rng.NormFloat64()
		}
	}
	lp, err := proposalLogProb(wf, s, proposed)
	if err != nil {
		return ChainState{}, errors.Wrap(err, "")
	}
	fy, err := quantumForce(wf, proposed)
	if err != nil {
		return ChainState{}, errors.Wrapf(err, "chain %d step %d", s.Chain, s.Step)
	}

	logRatio := make([]float64, n)
	for i := range n {
		g := greenLogRatio(s.Positions.RawRowView(i), proposed.RawRowView(i), fx.RawRowView(i), fy.RawRowView(i), drift)
		logRatio[i] = lp[i] - s.LogProb[i] + g
	}
	return accept(s, proposed, lp, logRatio, rng.Float64), nil
}

// greenLogRatio returns ln G(x|y) − ln G(y|x) for the drift-diffusion kernel
// G(y|x) ∝ exp(−|y − x − D Δt F(x)|² / (4 D Δt)), with drift = D Δt.
func greenLogRatio(x, y, fx, fy []float64, drift float64) float64 {
	var forward, backward float64
	for j := range x {
		f := y[j] - x[j] - drift*fx[j]
		b := x[j] - y[j] - drift*fy[j]
		forward += f * f
		backward += b * b
	}
	return (forward - backward) / (4 * drift)
}

func quantumForce(wf *wavefunction.Wavefunction, r *mat.Dense) (*mat.Dense, error) {
	g, err := wf.GradPosition(r)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	g.Scale(2, g)
	if !allFinite(g.RawMatrix().Data) {
		return nil, errors.Wrap(vmcerr.ErrNumericalInstability, "quantum force")
	}
	return g, nil
}

// proposalLogProb fails fast on a non-finite proposal rather than letting it into the chain.
func proposalLogProb(wf *wavefunction.Wavefunction, s ChainState, proposed *mat.Dense) ([]float64, error) {
	if !allFinite(proposed.RawMatrix().Data) {
		return nil, errors.Wrapf(vmcerr.ErrNumericalInstability, "chain %d step %d proposal", s.Chain, s.Step)
	}
	lp, err := wf.LogProb(proposed)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if !allFinite(lp) {
		return nil, errors.Wrapf(vmcerr.ErrNumericalInstability, "chain %d step %d log probability %v", s.Chain, s.Step, lp)
	}
	return lp, nil
}

// acceptProb is min(1, exp(logRatio)).
func acceptProb(logRatio float64) float64 {
	if logRatio >= 0 {
		return 1
	}
	return math.Exp(logRatio)
}
