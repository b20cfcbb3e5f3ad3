package qvmc

import (
	"time"

	"github.com/pkg/errors"

	"github.com/fumin/qvmc/hamiltonian"
	"github.com/fumin/qvmc/optimizer"
	"github.com/fumin/qvmc/sampler"
	"github.com/fumin/qvmc/vmcerr"
	"github.com/fumin/qvmc/wavefunction"
)

// Config are the problem and run parameters of a System.
type Config struct {
	NumParticles int `mapstructure:"nparticles"`
	Dim          int `mapstructure:"dim"`
	NumSamples   int `mapstructure:"nsamples"`
	NumChains    int `mapstructure:"nchains"`

	Backend     string  `mapstructure:"backend"`
	Hamiltonian string  `mapstructure:"hamiltonian"`
	Interaction string  `mapstructure:"interaction"`
	Radius      float64 `mapstructure:"radius"`
	// Gamma is the trap anisotropy of the elliptic Hamiltonian. Zero means Beta.
	Gamma float64 `mapstructure:"gamma"`

	Sampler   string  `mapstructure:"mcmc_alg"`
	Scale     float64 `mapstructure:"scale"`
	TimeStep  float64 `mapstructure:"time_step"`
	Diffusion float64 `mapstructure:"diffusion_coeff"`

	Optimizer      string  `mapstructure:"optimizer"`
	Estimator      string  `mapstructure:"estimator"`
	Eta            float64 `mapstructure:"eta"`
	TrainingCycles int     `mapstructure:"training_cycles"`
	BatchSize      int     `mapstructure:"batch_size"`

	Seed  uint64  `mapstructure:"seed"`
	Alpha float64 `mapstructure:"alpha"`
	Beta  float64 `mapstructure:"beta"`

	// LogInterval is the minimum time between training progress logs. Zero disables them.
	LogInterval time.Duration `mapstructure:"log_interval"`
}

// DefaultConfig returns four non-interacting particles in a three dimensional harmonic trap, sampled with Metropolis.
func DefaultConfig() Config {
	const dim = 3
	return Config{
		NumParticles: 4,
		Dim:          dim,
		NumSamples:   1 << 12,
		NumChains:    1,

		Backend:     wavefunction.BackendAnalytic,
		Hamiltonian: hamiltonian.NameHarmonic,
		Interaction: hamiltonian.InteractionNone,
		Radius:      0.0043,

		Sampler:   sampler.NameMetropolis,
		Scale:     1 + (dim-1)*0.1,
		TimeStep:  0.05,
		Diffusion: 0.5,

		Optimizer: optimizer.NameGradientDescent,
		Estimator: optimizer.EstimatorEnergy,
		Eta:       0,

		Seed:  142,
		Alpha: 0.2,
		Beta:  1,

		LogInterval: 10 * time.Second,
	}
}

// Validate rejects configurations that cannot run.
// Enumerated names are checked by the constructors NewSystem calls.
func (c Config) Validate() error {
	switch {
	case c.NumParticles <= 0 || c.Dim <= 0:
		return errors.Wrapf(vmcerr.ErrInvalidParameterShape, "%d particles %d dims", c.NumParticles, c.Dim)
	case c.NumSamples <= 0:
		return errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "nsamples %d", c.NumSamples)
	case c.NumChains <= 0:
		return errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "nchains %d", c.NumChains)
	case c.TrainingCycles < 0:
		return errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "training cycles %d", c.TrainingCycles)
	case c.TrainingCycles > 0 && c.BatchSize <= 0:
		return errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "batch size %d", c.BatchSize)
	case !(c.Alpha > 0):
		return errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "alpha %f", c.Alpha)
	case c.Hamiltonian == hamiltonian.NameElliptic && !(c.Beta > 0):
		return errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "beta %f", c.Beta)
	}
	return nil
}

// initialParams are the starting variational parameters.
// Only the elliptic trial state carries beta.
func (c Config) initialParams() wavefunction.Params {
	p := wavefunction.Params{wavefunction.Alpha: {c.Alpha}}
	if c.Hamiltonian == hamiltonian.NameElliptic {
		p[wavefunction.Beta] = []float64{c.Beta}
	}
	return p
}

func (c Config) gamma() float64 {
	if c.Gamma != 0 {
		return c.Gamma
	}
	return c.Beta
}
