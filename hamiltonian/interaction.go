package hamiltonian

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/qvmc/vmcerr"
)

// Interaction is the pairwise potential between particles.
// With Kind InteractionCoulomb every pair contributes 1/max(r_ij, Radius).
type Interaction struct {
	Kind   string
	Radius float64
}

func (in Interaction) validate() error {
	switch in.Kind {
	case "", InteractionNone:
	case InteractionCoulomb:
		if in.Radius < 0 {
			return errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "radius %f", in.Radius)
		}
	default:
		return errors.Wrapf(vmcerr.ErrInvalidConfigChoice, "interaction %q", in.Kind)
	}
	return nil
}

// Potential returns the interaction energy of r.
func (in Interaction) Potential(r *mat.Dense) (float64, error) {
	if in.Kind != InteractionCoulomb {
		return 0, nil
	}

	n, _ := r.Dims()
	var v float64
	for i := range n {
		ri := r.RawRowView(i)
		for j := i + 1; j < n; j++ {
			dist := floats.Distance(ri, r.RawRowView(j), 2)
			if dist < in.Radius {
				dist = in.Radius
			}
			if dist == 0 {
				return 0, errors.Wrapf(vmcerr.ErrDegenerateConfiguration, "particles %d %d", i, j)
			}
			v += 1 / dist
		}
	}
	return v, nil
}
