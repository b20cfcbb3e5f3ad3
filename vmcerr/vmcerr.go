// Package vmcerr defines the error kinds shared by the variational Monte Carlo packages.
//
// Kinds are sentinel errors. Callers wrap them with github.com/pkg/errors and test for them with errors.Is.
package vmcerr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidParameterShape is returned when parameters or positions do not fit the configured particle and dimension counts.
	ErrInvalidParameterShape = errors.New("invalid parameter shape")
	// ErrUninitialized is returned when an operation runs before its parameters or state exist.
	ErrUninitialized = errors.New("uninitialized")
	// ErrDegenerateConfiguration is returned when the pairwise interaction meets a zero separation without a regularization radius.
	ErrDegenerateConfiguration = errors.New("degenerate configuration")
	// ErrNumericalInstability is returned for non-finite positions, probabilities or energies.
	ErrNumericalInstability = errors.New("numerical instability")
	// ErrInvalidConfigChoice is returned for an unsupported backend, hamiltonian, sampler, optimizer or estimator name.
	ErrInvalidConfigChoice = errors.New("invalid config choice")
)

// Stage is the part of a run that failed.
type Stage string

const (
	StageSampling Stage = "sampling"
	StageTraining Stage = "training"
)

// RunError reports where a run aborted.
// Iteration is -1 outside of training.
type RunError struct {
	Stage     Stage
	Iteration int
	Chain     int
	Step      int
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed at iteration %d chain %d step %d: %v", e.Stage, e.Iteration, e.Chain, e.Step, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Cause lets errors.Cause see through a RunError.
func (e *RunError) Cause() error { return e.Err }

// Format prints the wrapped stack trace with %+v.
func (e *RunError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s failed at iteration %d chain %d step %d: %+v", e.Stage, e.Iteration, e.Chain, e.Step, e.Err)
			return
		}
		fallthrough
	default:
		fmt.Fprint(s, e.Error())
	}
}
