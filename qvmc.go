// Package qvmc estimates ground state energies of trapped particles with variational Monte Carlo.
//
// A System ties together a trial wavefunction, a Hamiltonian, a Markov chain sampler and an optimizer.
// Sample runs independent chains in parallel and reports local energy statistics,
// Train alternates sampling with gradient descent steps on the variational parameters.
package qvmc

import (
	"context"
	"log"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/fumin/qvmc/hamiltonian"
	"github.com/fumin/qvmc/optimizer"
	"github.com/fumin/qvmc/sampler"
	"github.com/fumin/qvmc/vmcerr"
	"github.com/fumin/qvmc/wavefunction"
)

// Statistics summarize the local energies of a set of samples.
type Statistics struct {
	Energy     float64
	StdError   float64
	Variance   float64
	AcceptRate float64
	NumSamples int
}

// ChainResult is the output of one chain of a sampling run.
type ChainResult struct {
	Chain     int
	Positions []*mat.Dense
	Energies  []float64
	Accepted  int
	Stats     Statistics
}

// SampleResult is the output of a sampling run.
type SampleResult struct {
	Stats  Statistics
	Chains []ChainResult
}

// Positions returns the sampled configurations of all chains, chain by chain.
func (r SampleResult) Positions() []*mat.Dense {
	var ps []*mat.Dense
	for _, c := range r.Chains {
		ps = append(ps, c.Positions...)
	}
	return ps
}

// Energies returns the local energies in the order of Positions.
func (r SampleResult) Energies() []float64 {
	var es []float64
	for _, c := range r.Chains {
		es = append(es, c.Energies...)
	}
	return es
}

// Iteration records one training step.
type Iteration struct {
	Stats    Statistics
	Gradient []float64
	Params   wavefunction.Params
}

type TrainResult struct {
	History []Iteration
}

// System is a variational Monte Carlo calculation.
type System struct {
	cfg Config
	wf  *wavefunction.Wavefunction
	ham hamiltonian.Hamiltonian
	smp sampler.Sampler
	opt optimizer.Optimizer
	est optimizer.Estimator

	// states are the chains, carried over between sampling runs.
	states []sampler.ChainState

	trainingCycles int
	trainingBatch  int
	throttler      *skipThrottler
}

// NewSystem validates cfg and builds its components.
func NewSystem(cfg Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	backend, err := wavefunction.NewBackend(cfg.Backend)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	wf, err := wavefunction.New(backend, cfg.NumParticles, cfg.Dim)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := wf.SetParams(cfg.initialParams()); err != nil {
		return nil, errors.Wrap(err, "")
	}
	in := hamiltonian.Interaction{Kind: cfg.Interaction, Radius: cfg.Radius}
	ham, err := hamiltonian.New(cfg.Hamiltonian, cfg.gamma(), in)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	smp, err := sampler.New(cfg.Sampler, cfg.Scale, cfg.TimeStep, cfg.Diffusion, cfg.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	opt, err := optimizer.New(cfg.Optimizer, cfg.Eta)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	est, err := optimizer.NewEstimator(cfg.Estimator)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	s := &System{
		cfg:       cfg,
		wf:        wf,
		ham:       ham,
		smp:       smp,
		opt:       opt,
		est:       est,
		throttler: newSkipThrottler(cfg.LogInterval),
	}
	return s, nil
}

func (s *System) Config() Config { return s.cfg }

func (s *System) Wavefunction() *wavefunction.Wavefunction { return s.wf }

// States returns copies of the current chain states.
func (s *System) States() []sampler.ChainState {
	states := make([]sampler.ChainState, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st.Clone())
	}
	return states
}

// Restore replaces the chain states, for example with ones loaded from a checkpoint.
// states[i] must belong to chain i.
func (s *System) Restore(states []sampler.ChainState) error {
	restored := make([]sampler.ChainState, 0, len(states))
	for i, st := range states {
		if st.Chain != i {
			return errors.Wrapf(vmcerr.ErrInvalidParameterShape, "state %d belongs to chain %d", i, st.Chain)
		}
		if st.Positions == nil {
			return errors.Wrapf(vmcerr.ErrUninitialized, "chain %d", i)
		}
		if n, d := st.Positions.Dims(); n != s.cfg.NumParticles || d != s.cfg.Dim {
			return errors.Wrapf(vmcerr.ErrInvalidParameterShape, "chain %d is %dx%d", i, n, d)
		}
		st = st.Clone()
		st.LogProb = nil
		restored = append(restored, st)
	}
	s.states = restored
	return nil
}

// Sample advances nChains chains by nSteps steps each, evaluating the local energy after every step.
// Chains run concurrently, and continue from where the previous call left them.
func (s *System) Sample(ctx context.Context, nSteps, nChains int) (SampleResult, error) {
	if nSteps <= 0 || nChains <= 0 {
		return SampleResult{}, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "%d steps %d chains", nSteps, nChains)
	}
	for c := len(s.states); c < nChains; c++ {
		st, err := sampler.Init(s.wf, s.cfg.Seed, c)
		if err != nil {
			return SampleResult{}, &vmcerr.RunError{Stage: vmcerr.StageSampling, Iteration: -1, Chain: c, Step: 0, Err: err}
		}
		s.states = append(s.states, st)
	}

	chains := make([]ChainResult, nChains)
	finals := make([]sampler.ChainState, nChains)
	g, gctx := errgroup.WithContext(ctx)
	for c := range nChains {
		g.Go(func() error {
			var err error
			chains[c], finals[c], err = s.runChain(gctx, s.states[c], nSteps)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return SampleResult{}, err
	}
	copy(s.states, finals)

	res := SampleResult{Chains: chains}
	var accepted int
	for _, c := range chains {
		accepted += c.Accepted
	}
	res.Stats = statistics(res.Energies(), accepted, nSteps*nChains*s.cfg.NumParticles)
	return res, nil
}

func (s *System) runChain(ctx context.Context, st sampler.ChainState, nSteps int) (ChainResult, sampler.ChainState, error) {
	fail := func(err error) (ChainResult, sampler.ChainState, error) {
		return ChainResult{}, st, &vmcerr.RunError{Stage: vmcerr.StageSampling, Iteration: -1, Chain: st.Chain, Step: st.Step, Err: err}
	}

	res := ChainResult{Chain: st.Chain, Positions: make([]*mat.Dense, 0, nSteps), Energies: make([]float64, 0, nSteps)}
	start := st.Accepted
	for range nSteps {
		if err := ctx.Err(); err != nil {
			return fail(errors.Wrap(err, ""))
		}
		next, err := s.smp.Step(s.wf, st)
		if err != nil {
			return fail(err)
		}
		e, err := s.ham.LocalEnergy(s.wf, next.Positions)
		if err != nil {
			return fail(err)
		}
		st = next
		res.Positions = append(res.Positions, st.Positions)
		res.Energies = append(res.Energies, e)
	}
	res.Accepted = st.Accepted - start
	res.Stats = statistics(res.Energies, res.Accepted, nSteps*s.cfg.NumParticles)
	return res, st, nil
}

// Train runs maxIter iterations of sampling batchSize steps per chain followed by one optimizer step.
func (s *System) Train(ctx context.Context, maxIter, batchSize int) (TrainResult, error) {
	if maxIter < 0 || (maxIter > 0 && batchSize <= 0) {
		return TrainResult{}, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "%d iterations batch %d", maxIter, batchSize)
	}
	fail := func(it int, err error) error {
		var re *vmcerr.RunError
		if errors.As(err, &re) {
			return &vmcerr.RunError{Stage: vmcerr.StageTraining, Iteration: it, Chain: re.Chain, Step: re.Step, Err: re.Err}
		}
		return &vmcerr.RunError{Stage: vmcerr.StageTraining, Iteration: it, Chain: -1, Step: -1, Err: err}
	}

	var res TrainResult
	for it := range maxIter {
		batch, err := s.Sample(ctx, batchSize, s.cfg.NumChains)
		if err != nil {
			return res, fail(it, err)
		}
		grads, err := s.wf.GradParams(batch.Positions())
		if err != nil {
			return res, fail(it, err)
		}
		grad, err := s.est.Estimate(batch.Energies(), grads)
		if err != nil {
			return res, fail(it, err)
		}

		params := s.wf.Params()
		flat, err := s.opt.Step(params.Flatten(), grad)
		if err != nil {
			return res, fail(it, err)
		}
		next, err := params.Unflatten(flat)
		if err != nil {
			return res, fail(it, err)
		}
		if err := s.wf.SetParams(next); err != nil {
			return res, fail(it, err)
		}

		res.History = append(res.History, Iteration{Stats: batch.Stats, Gradient: grad, Params: next})
		if s.throttler.ok() || (it == maxIter-1 && s.cfg.LogInterval > 0) {
			log.Printf("%d/%d %f %s", it, maxIter, batch.Stats.Energy, next)
		}
	}

	s.trainingCycles += maxIter
	s.trainingBatch = batchSize
	return res, nil
}

// Record returns the aggregate results record of a sampling run.
func (s *System) Record(res SampleResult) Record {
	return s.record(-1, res.Stats)
}

// ChainRecords returns one results record per chain of a sampling run.
func (s *System) ChainRecords(res SampleResult) []Record {
	recs := make([]Record, 0, len(res.Chains))
	for _, c := range res.Chains {
		recs = append(recs, s.record(c.Chain, c.Stats))
	}
	return recs
}

func (s *System) record(chain int, st Statistics) Record {
	return Record{
		Chain:          chain,
		NumParticles:   s.cfg.NumParticles,
		Dim:            s.cfg.Dim,
		Eta:            s.cfg.Eta,
		Sampler:        s.smp.Name(),
		TrainingCycles: s.trainingCycles,
		TrainingBatch:  s.trainingBatch,
		Optimizer:      s.opt.Name(),
		Energy:         st.Energy,
		StdError:       st.StdError,
		Variance:       st.Variance,
		AcceptRate:     st.AcceptRate,
		Scale:          s.smp.Scale(),
		NumSamples:     st.NumSamples,
	}
}

func statistics(energies []float64, accepted, moves int) Statistics {
	mean, variance := stat.PopMeanVariance(energies, nil)
	return Statistics{
		Energy:     mean,
		StdError:   math.Sqrt(variance / float64(len(energies))),
		Variance:   variance,
		AcceptRate: float64(accepted) / float64(moves),
		NumSamples: len(energies),
	}
}
