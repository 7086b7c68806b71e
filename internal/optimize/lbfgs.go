package optimize

import (
	"context"
	"math"

	"github.com/born-ml/born/autodiff"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	gonumopt "gonum.org/v1/gonum/optimize"
)

// L-BFGS parameters.
const (
	HistorySize     = 100
	ToleranceChange = 1e-9
)

// Termination describes how an L-BFGS run ended.
type Termination struct {
	Status      gonumopt.Status
	Loss        float64 // best total loss
	Evaluations int
	// Reason is set when the minimizer stopped on its own terms, for
	// example after a failed line search. The canvas still holds the best
	// point, so this is not an error of the run.
	Reason error
}

// LBFGS minimizes the objective with a limited-memory BFGS and a More-Thuente
// (strong Wolfe) line search. At most iterations major iterations and
// 1.25·iterations objective evaluations are spent; every evaluation is
// reported to observe. The canvas holds the best point found on return.
func LBFGS[B autodiff.BackwardCapable](ctx context.Context, p *Problem[B], iterations int, observe Observer) (Termination, error) {
	pixels := p.Pixels()
	n := len(pixels)

	x0 := make([]float64, n)
	for i, v := range pixels {
		x0[i] = float64(v)
	}

	var (
		evalErr error
		count   int
		lastX   []float64
		lastF   float64
		lastG   = make([]float64, n)
	)
	eval := func(x []float64) (float64, []float64) {
		if lastX != nil && floats.Equal(x, lastX) {
			return lastF, lastG
		}
		if evalErr != nil {
			return math.NaN(), lastG
		}
		for i, v := range x {
			pixels[i] = float32(v)
		}

		comps, grads, err := p.evaluate()
		if err != nil {
			evalErr = err
			return math.NaN(), lastG
		}
		for i, g := range p.gradient(grads) {
			lastG[i] = float64(g)
		}
		lastX = append(lastX[:0], x...)
		lastF = comps.Total

		if observe != nil {
			if err := observe(Step{Iteration: count, Components: comps, Pixels: pixels}); err != nil {
				evalErr = err
			}
		}
		count++
		return lastF, lastG
	}

	problem := gonumopt.Problem{
		Func: func(x []float64) float64 {
			f, _ := eval(x)
			return f
		},
		Grad: func(grad, x []float64) {
			_, g := eval(x)
			copy(grad, g)
		},
		Status: func() (gonumopt.Status, error) {
			if evalErr != nil {
				return gonumopt.Failure, evalErr
			}
			if err := stopped(ctx); err != nil {
				return gonumopt.Failure, err
			}
			return gonumopt.NotTerminated, nil
		},
	}
	settings := &gonumopt.Settings{
		MajorIterations: iterations,
		FuncEvaluations: iterations * 5 / 4,
		Converger: &gonumopt.FunctionConverge{
			Absolute:   ToleranceChange,
			Iterations: iterations,
		},
	}
	method := &gonumopt.LBFGS{
		Store:        HistorySize,
		Linesearcher: &gonumopt.MoreThuente{},
	}

	res, err := gonumopt.Minimize(problem, x0, settings, method)
	term := Termination{Evaluations: count}
	if res != nil {
		term.Status = res.Status
		term.Loss = res.F
		if len(res.X) == n {
			for i, v := range res.X {
				pixels[i] = float32(v)
			}
		}
	}

	switch {
	case evalErr != nil:
		return term, evalErr
	case err == nil:
		return term, nil
	case res == nil:
		return term, errors.Wrap(err, "l-bfgs")
	}
	if ctxErr := stopped(ctx); ctxErr != nil {
		return term, ctxErr
	}
	term.Reason = err
	return term, nil
}
