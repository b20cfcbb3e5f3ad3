// Package optimizer updates variational parameters from sampled energy gradients.
package optimizer

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/fumin/qvmc/vmcerr"
)

const (
	NameGradientDescent = "gd"

	EstimatorEnergy = "energy"
	EstimatorMean   = "mean"
)

// Optimizer maps the current flattened parameters and a gradient estimate to new parameters.
type Optimizer interface {
	Step(params, grad []float64) ([]float64, error)
	Name() string
}

// New returns the named optimizer.
func New(name string, eta float64) (Optimizer, error) {
	switch name {
	case NameGradientDescent:
		if eta < 0 || math.IsNaN(eta) || math.IsInf(eta, 0) {
			return nil, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "learning rate %f", eta)
		}
		return GradientDescent{Eta: eta}, nil
	default:
		return nil, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "optimizer %q", name)
	}
}

// GradientDescent is plain gradient descent, params − Eta·grad.
type GradientDescent struct {
	Eta float64
}

func (gd GradientDescent) Name() string { return NameGradientDescent }

func (gd GradientDescent) Step(params, grad []float64) ([]float64, error) {
	if len(params) != len(grad) {
		return nil, errors.Wrapf(vmcerr.ErrInvalidParameterShape, "%d params %d gradients", len(params), len(grad))
	}
	next := slices.Clone(params)
	floats.AddScaled(next, -gd.Eta, grad)
	for _, v := range next {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrapf(vmcerr.ErrNumericalInstability, "%v %v", params, grad)
		}
	}
	return next, nil
}

// Estimator turns per-sample local energies and parameter gradients of ln Ψ into an energy gradient estimate.
// grads has one row per sample and one column per scalar parameter.
type Estimator interface {
	Estimate(energies []float64, grads *mat.Dense) ([]float64, error)
	Name() string
}

// NewEstimator returns the named estimator.
func NewEstimator(name string) (Estimator, error) {
	switch name {
	case EstimatorEnergy:
		return EnergyGradient{}, nil
	case EstimatorMean:
		return MeanGradient{}, nil
	default:
		return nil, errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "estimator %q", name)
	}
}

// EnergyGradient is the standard VMC estimator of dE/dθ,
//
//	2 (⟨E_L g⟩ − ⟨E_L⟩⟨g⟩),  g = d ln Ψ / dθ.
type EnergyGradient struct{}

func (EnergyGradient) Name() string { return EstimatorEnergy }

func (EnergyGradient) Estimate(energies []float64, grads *mat.Dense) ([]float64, error) {
	if err := checkBatch(energies, grads); err != nil {
		return nil, errors.Wrap(err, "")
	}
	_, c := grads.Dims()
	eMean := stat.Mean(energies, nil)
	est := make([]float64, c)
	col := make([]float64, len(energies))
	for k := range c {
		mat.Col(col, k, grads)
		gMean := stat.Mean(col, nil)
		est[k] = 2 * (floats.Dot(energies, col)/float64(len(energies)) - eMean*gMean)
	}
	return est, nil
}

// MeanGradient is the sample mean of d ln Ψ / dθ, ignoring the local energies.
type MeanGradient struct{}

func (MeanGradient) Name() string { return EstimatorMean }

func (MeanGradient) Estimate(energies []float64, grads *mat.Dense) ([]float64, error) {
	if err := checkBatch(energies, grads); err != nil {
		return nil, errors.Wrap(err, "")
	}
	_, c := grads.Dims()
	est := make([]float64, c)
	col := make([]float64, len(energies))
	for k := range c {
		mat.Col(col, k, grads)
		est[k] = stat.Mean(col, nil)
	}
	return est, nil
}

func checkBatch(energies []float64, grads *mat.Dense) error {
	if grads == nil || len(energies) == 0 {
		return errors.Wrap(vmcerr.ErrInvalidParameterShape, "empty batch")
	}
	if r, _ := grads.Dims(); r != len(energies) {
		return errors.Wrapf(vmcerr.ErrInvalidParameterShape, "%d energies %d gradients", len(energies), r)
	}
	return nil
}
