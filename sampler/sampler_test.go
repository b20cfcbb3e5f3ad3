package sampler

import (
	"flag"
	"fmt"
	"log"
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/qvmc/vmcerr"
	"github.com/fumin/qvmc/wavefunction"
)

func TestStream(t *testing.T) {
	t.Parallel()
	draw := func(seed uint64, chain, step int) []uint64 {
		rng := Stream(seed, chain, step)
		xs := make([]uint64, 8)
		for i := range xs {
			xs[i] = rng.Uint64()
		}
		return xs
	}
	equal := func(a, b []uint64) bool {
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	if !equal(draw(142, 0, 7), draw(142, 0, 7)) {
		t.Fatalf("same arguments gave different streams")
	}
	seen := make(map[uint64][3]int)
	for _, seed := range []uint64{0, 142} {
		for chain := range 4 {
			for step := initStep; step < 64; step++ {
				first := draw(seed, chain, step)[0]
				if prev, ok := seen[first]; ok {
					t.Fatalf("%v and %v share a stream", prev, [3]int{int(seed), chain, step})
				}
				seen[first] = [3]int{int(seed), chain, step}
			}
		}
	}
}

func TestDeterminism(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sampler Sampler
	}{
		{sampler: Metropolis{StepSize: 1.2, Seed: 142}},
		{sampler: MetropolisHastings{TimeStep: 0.05, Diffusion: 0.5, Seed: 142}},
	}
	for _, test := range tests {
		t.Run(test.sampler.Name(), func(t *testing.T) {
			t.Parallel()
			wf := newWavefunction(t, 3, 3, wavefunction.Params{wavefunction.Alpha: {0.3}})
			run := func(chain int) []ChainState {
				s, err := Init(wf, 142, chain)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				return runChain(t, test.sampler, wf, s, 200)
			}

			a, b := run(0), run(0)
			for i := range a {
				if !mat.Equal(a[i].Positions, b[i].Positions) || a[i].Accepted != b[i].Accepted {
					t.Fatalf("step %d differs: %v %v", i, mat.Formatted(a[i].Positions), mat.Formatted(b[i].Positions))
				}
			}
			c := run(1)
			if mat.Equal(a[len(a)-1].Positions, c[len(c)-1].Positions) {
				t.Fatalf("chains 0 and 1 coincide")
			}
			last := a[len(a)-1]
			if last.Step != 200 {
				t.Fatalf("%d, expected %d", last.Step, 200)
			}
		})
	}
}

func TestRestart(t *testing.T) {
	t.Parallel()
	m := Metropolis{StepSize: 1, Seed: 7}
	wf := newWavefunction(t, 2, 2, wavefunction.Params{wavefunction.Alpha: {0.5}})
	s, err := Init(wf, m.Seed, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	full := runChain(t, m, wf, s, 100)

	saved := full[49].Clone()
	resumed := runChain(t, m, wf, saved, 50)
	if !mat.Equal(resumed[49].Positions, full[99].Positions) {
		t.Fatalf("%v, expected %v", mat.Formatted(resumed[49].Positions), mat.Formatted(full[99].Positions))
	}
	if resumed[49].Accepted != full[99].Accepted {
		t.Fatalf("%d, expected %d", resumed[49].Accepted, full[99].Accepted)
	}
}

func TestDetailedBalance(t *testing.T) {
	t.Parallel()
	const alpha = 0.4
	wf := newWavefunction(t, 1, 3, wavefunction.Params{wavefunction.Alpha: {alpha}})
	rng := Stream(1, 0, 0)
	randomConfig := func() *mat.Dense {
		r := mat.NewDense(1, 3, nil)
		for j := range 3 {
			r.Set(0, j, 2*rng.NormFloat64())
		}
		return r
	}
	logProb := func(r *mat.Dense) float64 {
		lp, err := wf.LogProb(r)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		return lp[0]
	}
	force := func(r *mat.Dense) []float64 {
		f, err := quantumForce(wf, r)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		return f.RawRowView(0)
	}

	const drift = 0.5 * 0.05
	// logGreen is ln G(y|x) up to a constant.
	logGreen := func(y, x, fx []float64) float64 {
		var s float64
		for j := range y {
			d := y[j] - x[j] - drift*fx[j]
			s += d * d
		}
		return -s / (4 * drift)
	}

	for i := range 256 {
		a, b := randomConfig(), randomConfig()
		lpA, lpB := logProb(a), logProb(b)

		// Symmetric proposal: π(A) acc(A→B) = π(B) acc(B→A).
		forward := lpA + math.Log(acceptProb(lpB-lpA))
		backward := lpB + math.Log(acceptProb(lpA-lpB))
		if math.Abs(forward-backward) > 1e-9 {
			t.Fatalf("%d metropolis %f %f", i, forward, backward)
		}

		// Drift-diffusion proposal: π(A) G(B|A) acc(A→B) = π(B) G(A|B) acc(B→A).
		ra, rb, fa, fb := a.RawRowView(0), b.RawRowView(0), force(a), force(b)
		accAB := acceptProb(lpB - lpA + greenLogRatio(ra, rb, fa, fb, drift))
		accBA := acceptProb(lpA - lpB + greenLogRatio(rb, ra, fb, fa, drift))
		forward = lpA + logGreen(rb, ra, fa) + math.Log(accAB)
		backward = lpB + logGreen(ra, rb, fb) + math.Log(accBA)
		if math.Abs(forward-backward) > 1e-9 {
			t.Fatalf("%d metropolis-hastings %f %f", i, forward, backward)
		}
	}
}

func TestStationaryMoments(t *testing.T) {
	t.Parallel()
	const alpha = 0.4
	tests := []struct {
		sampler Sampler
	}{
		{sampler: Metropolis{StepSize: 1, Seed: 142}},
		{sampler: MetropolisHastings{TimeStep: 0.5, Diffusion: 0.5, Seed: 142}},
	}
	for _, test := range tests {
		t.Run(test.sampler.Name(), func(t *testing.T) {
			t.Parallel()
			wf := newWavefunction(t, 2, 3, wavefunction.Params{wavefunction.Alpha: {alpha}})
			s, err := Init(wf, 142, 0)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			const burnIn, steps = 1000, 20000
			states := runChain(t, test.sampler, wf, s, burnIn+steps)

			// |Ψ|² is a Gaussian with variance 1/(4α) per coordinate.
			var x2 float64
			for _, s := range states[burnIn:] {
				data := s.Positions.RawMatrix().Data
				x2 += floats.Dot(data, data) / float64(len(data))
			}
			x2 /= steps
			if expected := 1 / (4 * alpha); math.Abs(x2-expected) > 0.04 {
				t.Fatalf("%f, expected %f", x2, expected)
			}
		})
	}
}

func TestAcceptanceDecreasesWithScale(t *testing.T) {
	t.Parallel()
	wf := newWavefunction(t, 3, 3, wavefunction.Params{wavefunction.Alpha: {0.5}})
	const steps = 4000
	prev := math.Inf(1)
	for _, scale := range []float64{0.1, 0.5, 2, 8, 32} {
		m := Metropolis{StepSize: scale, Seed: 142}
		s, err := Init(wf, m.Seed, 0)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		states := runChain(t, m, wf, s, steps)
		rate := float64(states[steps-1].Accepted) / float64(steps*wf.NumParticles())
		if !(rate < prev) {
			t.Fatalf("scale %f acceptance %f, previous %f", scale, rate, prev)
		}
		prev = rate
	}
}

func TestRefreshAfterParamsChange(t *testing.T) {
	t.Parallel()
	m := Metropolis{StepSize: 0.5, Seed: 3}
	wf := newWavefunction(t, 2, 3, wavefunction.Params{wavefunction.Alpha: {0.3}})
	s, err := Init(wf, m.Seed, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := wf.SetParams(wavefunction.Params{wavefunction.Alpha: {0.6}}); err != nil {
		t.Fatalf("%+v", err)
	}
	s, err = Refresh(wf, s)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if s.ParamsVersion != wf.Version() {
		t.Fatalf("%d, expected %d", s.ParamsVersion, wf.Version())
	}
	lp, err := wf.LogProb(s.Positions)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !floats.Equal(lp, s.LogProb) {
		t.Fatalf("%v, expected %v", s.LogProb, lp)
	}
}

func TestNumericalInstability(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sampler Sampler
		state   func(s ChainState) ChainState
	}{
		{
			name:    "infinite scale",
			sampler: Metropolis{StepSize: math.Inf(1), Seed: 1},
			state:   func(s ChainState) ChainState { return s },
		},
		{
			name:    "nan positions",
			sampler: MetropolisHastings{TimeStep: 0.05, Diffusion: 0.5, Seed: 1},
			state: func(s ChainState) ChainState {
				s.Positions.Set(1, 2, math.NaN())
				s.LogProb = nil
				return s
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			wf := newWavefunction(t, 2, 3, wavefunction.Params{wavefunction.Alpha: {0.5}})
			s, err := Init(wf, 1, 0)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			_, err = test.sampler.Step(wf, test.state(s))
			if !errors.Is(err, vmcerr.ErrNumericalInstability) {
				t.Fatalf("%+v", err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		scale float64
		dt    float64
		diff  float64
		err   error
	}{
		{name: NameMetropolis, scale: 1.2},
		{name: NameMetropolisHastings, dt: 0.05, diff: 0.5},
		{name: NameMetropolis, scale: 0, err: vmcerr.ErrInvalidConfigChoice},
		{name: NameMetropolisHastings, dt: 0.05, err: vmcerr.ErrInvalidConfigChoice},
		{name: "mh", err: vmcerr.ErrInvalidConfigChoice},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s %f %f %f", test.name, test.scale, test.dt, test.diff), func(t *testing.T) {
			t.Parallel()
			s, err := New(test.name, test.scale, test.dt, test.diff, 142)
			if test.err != nil {
				if !errors.Is(err, test.err) {
					t.Fatalf("%+v, expected %v", err, test.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if s.Name() != test.name {
				t.Fatalf("%s, expected %s", s.Name(), test.name)
			}
		})
	}
}

func runChain(t *testing.T, smp Sampler, wf *wavefunction.Wavefunction, s ChainState, steps int) []ChainState {
	states := make([]ChainState, 0, steps)
	for range steps {
		var err error
		s, err = smp.Step(wf, s)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		states = append(states, s)
	}
	return states
}

func newWavefunction(t *testing.T, n, d int, p wavefunction.Params) *wavefunction.Wavefunction {
	wf, err := wavefunction.New(wavefunction.Gaussian{}, n, d)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := wf.SetParams(p); err != nil {
		t.Fatalf("%+v", err)
	}
	return wf
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
