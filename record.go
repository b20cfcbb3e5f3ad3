package qvmc

import (
	"fmt"
	"strconv"
)

// Record is the tabular summary of a sampling run.
// Chain is -1 for the aggregate over all chains.
type Record struct {
	Chain          int
	NumParticles   int
	Dim            int
	Eta            float64
	Sampler        string
	TrainingCycles int
	TrainingBatch  int
	Optimizer      string
	Energy         float64
	StdError       float64
	Variance       float64
	AcceptRate     float64
	Scale          float64
	NumSamples     int
}

// RecordHeader are the CSV column names of a Record.
var RecordHeader = []string{"chain", "nparticles", "dim", "eta", "mcmc_alg", "training_cycles", "training_batch", "optimizer", "energy", "std_error", "variance", "accept_rate", "scale", "nsamples"}

// CSV returns the fields of r in the order of RecordHeader.
func (r Record) CSV() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		strconv.Itoa(r.Chain),
		strconv.Itoa(r.NumParticles),
		strconv.Itoa(r.Dim),
		f(r.Eta),
		r.Sampler,
		strconv.Itoa(r.TrainingCycles),
		strconv.Itoa(r.TrainingBatch),
		r.Optimizer,
		f(r.Energy),
		f(r.StdError),
		f(r.Variance),
		f(r.AcceptRate),
		f(r.Scale),
		strconv.Itoa(r.NumSamples),
	}
}

func (r Record) String() string {
	return fmt.Sprintf("chain %d %dx%d %s E=%f±%f var=%f acc=%f", r.Chain, r.NumParticles, r.Dim, r.Sampler, r.Energy, r.StdError, r.Variance, r.AcceptRate)
}
