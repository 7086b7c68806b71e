// Package optimize drives the canvas towards a minimum of the style transfer
// objective, either with Born's Adam or with gonum's L-BFGS.
//
// Both drivers share one evaluation: clear the tape, record the objective,
// run a backward pass and read the gradient of the canvas. The canvas is the
// only tensor that changes during a run.
package optimize

import (
	"context"
	"math/rand/v2"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/loss"
)

// NoiseSigma is the standard deviation of the random canvas, on the 0..255
// pixel scale.
const NoiseSigma = 90

// InitialPixels returns the starting canvas for method. content fixes the
// size; style must already be resized to it and is only read by the
// "style" method. The "random" canvas is deterministic for a given seed.
func InitialPixels(method string, content, style []float32, seed uint64) ([]float32, error) {
	switch method {
	case config.InitContent:
		return append([]float32(nil), content...), nil
	case config.InitStyle:
		if len(style) != len(content) {
			return nil, errors.Errorf("style image has %d values, content has %d", len(style), len(content))
		}
		return append([]float32(nil), style...), nil
	case config.InitRandom:
		noise := distuv.Normal{Mu: 0, Sigma: NoiseSigma, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
		out := make([]float32, len(content))
		for i := range out {
			out[i] = float32(noise.Rand())
		}
		return out, nil
	default:
		return nil, errors.Errorf("unknown init method %q", method)
	}
}

// Step is reported after every evaluation of the objective.
type Step struct {
	Iteration  int
	Components loss.Components // unweighted terms and the weighted total
	// Pixels views the canvas; it is only valid during the callback.
	Pixels []float32
}

// Observer is called after every evaluation. A non-nil error stops the run.
type Observer func(Step) error

// Problem binds an objective to the canvas it optimizes.
type Problem[B autodiff.BackwardCapable] struct {
	objective *loss.Objective[B]
	canvas    *tensor.Tensor[float32, B]
	backend   B
}

// NewProblem creates a canvas tensor of the given shape holding a copy of
// pixels.
func NewProblem[B autodiff.BackwardCapable](objective *loss.Objective[B], pixels []float32, shape tensor.Shape, backend B) (*Problem[B], error) {
	canvas, err := tensor.FromSlice(append([]float32(nil), pixels...), shape, backend)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create canvas")
	}
	return &Problem[B]{objective: objective, canvas: canvas, backend: backend}, nil
}

// Canvas returns the tensor being optimized.
func (p *Problem[B]) Canvas() *tensor.Tensor[float32, B] {
	return p.canvas
}

// Pixels returns the current canvas values. The slice aliases the canvas.
func (p *Problem[B]) Pixels() []float32 {
	return p.canvas.Data()
}

// evaluate records the objective at the current canvas and runs backward.
// Framework panics (shape mismatches, unsupported ops) come back as errors.
func (p *Problem[B]) evaluate() (comps loss.Components, grads map[*tensor.RawTensor]*tensor.RawTensor, err error) {
	tape := p.backend.GetTape()
	defer func() {
		tape.StopRecording()
		tape.Clear()
		if r := recover(); r != nil {
			err = errors.Errorf("evaluation failed: %v", r)
		}
	}()

	tape.Clear()
	tape.StartRecording()
	total, comps := p.objective.Evaluate(p.canvas)
	grads = autodiff.Backward(total, p.backend)
	if _, ok := grads[p.canvas.Raw()]; !ok {
		return comps, nil, errors.New("objective does not depend on the canvas")
	}
	return comps, grads, nil
}

// gradient returns the canvas entry of grads.
func (p *Problem[B]) gradient(grads map[*tensor.RawTensor]*tensor.RawTensor) []float32 {
	return grads[p.canvas.Raw()].AsFloat32()
}

func stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "optimization interrupted")
	}
	return nil
}
