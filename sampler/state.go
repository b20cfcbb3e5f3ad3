package sampler

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/qvmc/vmcerr"
	"github.com/fumin/qvmc/wavefunction"
)

// ChainState is the state of one Markov chain between steps.
// LogProb holds the per-particle ln |Ψ|² of Positions under the parameters of version ParamsVersion.
type ChainState struct {
	Chain         int
	Positions     *mat.Dense
	LogProb       []float64
	Accepted      int
	Step          int
	ParamsVersion int
}

// Init returns the initial state of chain chain, with positions drawn from a standard normal distribution.
func Init(wf *wavefunction.Wavefunction, seed uint64, chain int) (ChainState, error) {
	n, d := wf.NumParticles(), wf.Dim()
	rng := Stream(seed, chain, initStep)
	pos := mat.NewDense(n, d, nil)
	for i := range n {
		row := pos.RawRowView(i)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
	}

	s := ChainState{Chain: chain, Positions: pos}
	s, err := Refresh(wf, s)
	if err != nil {
		return ChainState{}, errors.Wrap(err, "")
	}
	return s, nil
}

// Refresh recomputes LogProb when the parameters of wf changed since s was computed.
func Refresh(wf *wavefunction.Wavefunction, s ChainState) (ChainState, error) {
	if s.Positions == nil {
		return ChainState{}, errors.Wrapf(vmcerr.ErrUninitialized, "chain %d", s.Chain)
	}
	if s.LogProb != nil && s.ParamsVersion == wf.Version() {
		return s, nil
	}
	if !allFinite(s.Positions.RawMatrix().Data) {
		return ChainState{}, errors.Wrapf(vmcerr.ErrNumericalInstability, "chain %d step %d positions", s.Chain, s.Step)
	}
	lp, err := wf.LogProb(s.Positions)
	if err != nil {
		return ChainState{}, errors.Wrap(err, "")
	}
	if !allFinite(lp) {
		return ChainState{}, errors.Wrapf(vmcerr.ErrNumericalInstability, "chain %d step %d log probability %v", s.Chain, s.Step, lp)
	}
	s.LogProb = lp
	s.ParamsVersion = wf.Version()
	return s, nil
}

// Clone returns a deep copy of s.
func (s ChainState) Clone() ChainState {
	c := s
	if s.Positions != nil {
		c.Positions = mat.DenseCopyOf(s.Positions)
	}
	c.LogProb = slices.Clone(s.LogProb)
	return c
}

// accept picks, per particle, the proposed or the current row.
// Particle i moves when a uniform draw is below exp(logRatio[i]).
func accept(s ChainState, proposed *mat.Dense, proposedLogProb, logRatio []float64, u func() float64) ChainState {
	n, d := s.Positions.Dims()
	next := ChainState{
		Chain:         s.Chain,
		Positions:     mat.NewDense(n, d, nil),
		LogProb:       make([]float64, n),
		Accepted:      s.Accepted,
		Step:          s.Step + 1,
		ParamsVersion: s.ParamsVersion,
	}
	for i := range n {
		src, lp := s.Positions, s.LogProb[i]
		if acceptProb(logRatio[i]) > u() {
			src, lp = proposed, proposedLogProb[i]
			next.Accepted++
		}
		copy(next.Positions.RawRowView(i), src.RawRowView(i))
		next.LogProb[i] = lp
	}
	return next
}
