package wavefunction

import (
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/qvmc/vmcerr"
)

func TestGaussianDerivatives(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p Params
		r *mat.Dense
	}{
		{
			p: Params{Alpha: {0.5}},
			r: mat.NewDense(1, 3, []float64{0.3, -1.2, 0.7}),
		},
		{
			p: Params{Alpha: {0.37}, Beta: {2.82843}},
			r: mat.NewDense(2, 3, []float64{0.3, -1.2, 0.7, -0.4, 0.1, 1.5}),
		},
		{
			p: Params{Alpha: {0.4, 0.6}},
			r: mat.NewDense(2, 2, []float64{1.1, -0.2, 0.5, 0.9}),
		},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.p), func(t *testing.T) {
			t.Parallel()
			const h, tol = 1e-4, 1e-5
			g := Gaussian{}
			n, d := test.r.Dims()
			if err := g.Validate(test.p, n, d); err != nil {
				t.Fatalf("%+v", err)
			}
			lnPsi := func(r *mat.Dense) float64 {
				la, err := g.LogAmplitude(test.p, r)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				return floats.Sum(la)
			}

			grad, err := g.GradPosition(test.p, test.r)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			lap, err := g.Laplacian(test.p, test.r)
			if err != nil {
				t.Fatalf("%+v", err)
			}

			// Central differences of ln Ψ.
			f0 := lnPsi(test.r)
			var lapLog, grad2 float64
			for i := range n {
				for j := range d {
					plus, minus := mat.DenseCopyOf(test.r), mat.DenseCopyOf(test.r)
					plus.Set(i, j, plus.At(i, j)+h)
					minus.Set(i, j, minus.At(i, j)-h)
					fp, fm := lnPsi(plus), lnPsi(minus)

					gij := (fp - fm) / (2 * h)
					if math.Abs(gij-grad.At(i, j)) > tol {
						t.Fatalf("grad[%d,%d] %f, expected %f", i, j, grad.At(i, j), gij)
					}
					lapLog += (fp - 2*f0 + fm) / (h * h)
					grad2 += gij * gij
				}
			}
			if math.Abs(lapLog+grad2-lap) > 1e-3 {
				t.Fatalf("%f, expected %f", lap, lapLog+grad2)
			}
		})
	}
}

func TestGaussianLaplacianClosedForm(t *testing.T) {
	t.Parallel()
	r := mat.NewDense(1, 3, []float64{0.3, -1.2, 0.7})
	const alpha = 0.5
	lap, err := Gaussian{}.Laplacian(Params{Alpha: {alpha}}, r)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	row := r.RawRowView(0)
	r2 := floats.Dot(row, row)
	expected := 4*alpha*alpha*r2 - 2*alpha*3
	if math.Abs(lap-expected) > 1e-12 {
		t.Fatalf("%f, expected %f", lap, expected)
	}
}

func TestFiniteDiffMatchesAnalytic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p Params
		r *mat.Dense
	}{
		{p: Params{Alpha: {0.5}}, r: mat.NewDense(1, 3, []float64{0.3, -1.2, 0.7})},
		{p: Params{Alpha: {0.2}, Beta: {1.5}}, r: mat.NewDense(3, 3, []float64{0.3, -1.2, 0.7, 1, 0, -1, 0.25, 0.5, -0.75})},
		{p: Params{Alpha: {0.3, 0.7}}, r: mat.NewDense(2, 1, []float64{-0.8, 1.3})},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.p), func(t *testing.T) {
			t.Parallel()
			const tol = 1e-5
			analytic, numeric := Gaussian{}, FiniteDiff{Ansatz: Gaussian{}}

			ga, err := analytic.GradPosition(test.p, test.r)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			gn, err := numeric.GradPosition(test.p, test.r)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !mat.EqualApprox(ga, gn, tol) {
				t.Fatalf("%v, expected %v", mat.Formatted(gn), mat.Formatted(ga))
			}

			la, err := analytic.Laplacian(test.p, test.r)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			ln, err := numeric.Laplacian(test.p, test.r)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if math.Abs(la-ln) > tol {
				t.Fatalf("%f, expected %f", ln, la)
			}

			batch := []*mat.Dense{test.r, scaled(test.r, 0.5), scaled(test.r, -2)}
			pa, err := analytic.GradParams(test.p, batch)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			pn, err := numeric.GradParams(test.p, batch)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !mat.EqualApprox(pa, pn, tol) {
				t.Fatalf("%v, expected %v", mat.Formatted(pn), mat.Formatted(pa))
			}
		})
	}
}

func TestWavefunctionErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		run  func(w *Wavefunction) error
		kind error
	}{
		{
			name: "uninitialized",
			run: func(w *Wavefunction) error {
				_, err := w.LogProb(mat.NewDense(2, 3, nil))
				return err
			},
			kind: vmcerr.ErrUninitialized,
		},
		{
			name: "alpha length",
			run: func(w *Wavefunction) error {
				return w.SetParams(Params{Alpha: {0.5, 0.5, 0.5}})
			},
			kind: vmcerr.ErrInvalidParameterShape,
		},
		{
			name: "beta length",
			run: func(w *Wavefunction) error {
				return w.SetParams(Params{Alpha: {0.5}, Beta: {1, 2}})
			},
			kind: vmcerr.ErrInvalidParameterShape,
		},
		{
			name: "unknown parameter",
			run: func(w *Wavefunction) error {
				return w.SetParams(Params{Alpha: {0.5}, "gamma": {1}})
			},
			kind: vmcerr.ErrInvalidParameterShape,
		},
		{
			name: "configuration shape",
			run: func(w *Wavefunction) error {
				if err := w.SetParams(Params{Alpha: {0.5}}); err != nil {
					return err
				}
				_, err := w.Laplacian(mat.NewDense(3, 2, nil))
				return err
			},
			kind: vmcerr.ErrInvalidParameterShape,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			w, err := New(Gaussian{}, 2, 3)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			err = test.run(w)
			if !errors.Is(err, test.kind) {
				t.Fatalf("%+v, expected %v", err, test.kind)
			}
		})
	}
}

func TestSetParamsVersion(t *testing.T) {
	t.Parallel()
	w, err := New(Gaussian{}, 1, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	p := Params{Alpha: {0.3}}
	for i := range 3 {
		if err := w.SetParams(p); err != nil {
			t.Fatalf("%+v", err)
		}
		if w.Version() != i+1 {
			t.Fatalf("%d, expected %d", w.Version(), i+1)
		}
	}

	// Mutating the caller's copy must not leak into the wavefunction.
	p[Alpha][0] = 100
	if got := w.Params()[Alpha][0]; got != 0.3 {
		t.Fatalf("%f, expected %f", got, 0.3)
	}
	if err := w.SetParams(Params{Alpha: {1, 2}}); err == nil {
		t.Fatalf("expected error")
	}
	if w.Version() != 3 {
		t.Fatalf("%d, expected %d", w.Version(), 3)
	}
}

func TestParamsFlatten(t *testing.T) {
	t.Parallel()
	p := Params{Beta: {3}, Alpha: {1, 2}}
	flat := p.Flatten()
	if !floats.Equal(flat, []float64{1, 2, 3}) {
		t.Fatalf("%v", flat)
	}
	q, err := p.Unflatten([]float64{4, 5, 6})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !floats.Equal(q[Alpha], []float64{4, 5}) || !floats.Equal(q[Beta], []float64{6}) {
		t.Fatalf("%v", q)
	}
	if _, err := p.Unflatten([]float64{1}); !errors.Is(err, vmcerr.ErrInvalidParameterShape) {
		t.Fatalf("%+v", err)
	}
}

func scaled(r *mat.Dense, c float64) *mat.Dense {
	var s mat.Dense
	s.Scale(c, r)
	return &s
}
