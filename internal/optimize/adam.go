package optimize

import (
	"context"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
)

// Adam runs one forward/backward/step per iteration with the canvas as the
// single parameter. Observers see the losses of the evaluation and the
// canvas after the update.
func Adam[B autodiff.BackwardCapable](ctx context.Context, p *Problem[B], iterations int, lr float64, observe Observer) error {
	param := nn.NewParameter("canvas", p.canvas)
	opt := optim.NewAdam([]*nn.Parameter[B]{param}, optim.AdamConfig{
		LR:    float32(lr),
		Betas: [2]float32{0.9, 0.999},
		Eps:   1e-8,
	}, p.backend)

	for i := 0; i < iterations; i++ {
		if err := stopped(ctx); err != nil {
			return err
		}

		comps, grads, err := p.evaluate()
		if err != nil {
			return err
		}
		opt.Step(grads)
		opt.ZeroGrad()

		if observe != nil {
			if err := observe(Step{Iteration: i, Components: comps, Pixels: p.Pixels()}); err != nil {
				return err
			}
		}
	}
	return nil
}
