// Package transfer wires images, the VGG extractor, the objective and the
// optimizer drivers into complete style transfer and reconstruction runs.
package transfer

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/imageio"
	"github.com/born-ml/styletransfer/internal/loss"
	"github.com/born-ml/styletransfer/internal/optimize"
	"github.com/born-ml/styletransfer/internal/vgg"
)

// Options carry the run's output sinks.
type Options struct {
	// Logger receives lifecycle events. Nil discards them.
	Logger *slog.Logger
	// Progress receives one line per evaluation. Nil means os.Stdout.
	Progress io.Writer
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Progress == nil {
		o.Progress = os.Stdout
	}
	return o
}

// Run performs neural style transfer as configured and returns the
// directory the images were written to. In reconstruction mode
// (cfg.Reconstruct set) it delegates to Reconstruct.
func Run[B autodiff.BackwardCapable](ctx context.Context, backend B, cfg config.Config, opts Options) (string, error) {
	if cfg.Reconstruct != "" {
		return Reconstruct(ctx, backend, cfg, opts)
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	opts = opts.withDefaults()

	content, err := imageio.Load(cfg.ContentPath(), cfg.Height)
	if err != nil {
		return "", err
	}
	style, err := imageio.Load(cfg.StylePath(), cfg.Height)
	if err != nil {
		return "", err
	}
	opts.Logger.Info("loaded images",
		"content", cfg.ContentPath(), "content_size", [2]int{content.Width, content.Height},
		"style", cfg.StylePath(), "style_size", [2]int{style.Width, style.Height})

	var resizedStyle []float32
	if cfg.InitMethod == config.InitStyle {
		img, err := imageio.LoadSized(cfg.StylePath(), content.Height, content.Width)
		if err != nil {
			return "", err
		}
		resizedStyle = img.Pixels
	}
	init, err := optimize.InitialPixels(cfg.InitMethod, content.Pixels, resizedStyle, cfg.Seed)
	if err != nil {
		return "", err
	}

	e, err := newExtractor(cfg, backend, opts.Logger)
	if err != nil {
		return "", err
	}
	contentT, err := toTensor(content, backend)
	if err != nil {
		return "", err
	}
	styleT, err := toTensor(style, backend)
	if err != nil {
		return "", err
	}

	weights := loss.Weights{
		Content: float32(cfg.ContentWeight),
		Style:   float32(cfg.StyleWeight),
		TV:      float32(cfg.TVWeight),
	}
	return optimizeCanvas(ctx, backend, cfg, opts, e, loss.NewTargets[B](e, contentT, styleT), weights, init, content)
}

// Reconstruct rebuilds the content or the style representation of the
// content image from seeded noise, with only the matching loss term.
func Reconstruct[B autodiff.BackwardCapable](ctx context.Context, backend B, cfg config.Config, opts Options) (string, error) {
	if cfg.Reconstruct == "" {
		return "", errors.New("no representation to reconstruct")
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	opts = opts.withDefaults()

	img, err := imageio.Load(cfg.ContentPath(), cfg.Height)
	if err != nil {
		return "", err
	}
	e, err := newExtractor(cfg, backend, opts.Logger)
	if err != nil {
		return "", err
	}
	t, err := toTensor(img, backend)
	if err != nil {
		return "", err
	}

	var (
		targets loss.Targets[B]
		weights loss.Weights
	)
	switch cfg.Reconstruct {
	case config.ReconstructContent:
		targets = loss.NewTargets[B](e, t, nil)
		weights.Content = 1
	case config.ReconstructStyle:
		targets = loss.NewTargets[B](e, nil, t)
		weights.Style = 1
	}
	init, err := optimize.InitialPixels(config.InitRandom, img.Pixels, nil, cfg.Seed)
	if err != nil {
		return "", err
	}
	opts.Logger.Info("reconstructing", "image", cfg.ContentPath(), "representation", cfg.Reconstruct)
	return optimizeCanvas(ctx, backend, cfg, opts, e, targets, weights, init, img)
}

func newExtractor[B autodiff.BackwardCapable](cfg config.Config, backend B, logger *slog.Logger) (*vgg.Extractor[B], error) {
	arch, err := vgg.ByName(cfg.Model)
	if err != nil {
		return nil, err
	}
	e := vgg.New(arch, backend)
	if err := e.LoadWeights(cfg.WeightsPath()); err != nil {
		return nil, err
	}
	logger.Info("loaded model", "model", arch.Name, "weights", cfg.WeightsPath(),
		"content_layer", arch.TapNames[arch.Content], "layers", len(arch.Layers))
	return e, nil
}

func toTensor[B tensor.Backend](img imageio.Image, backend B) (*tensor.Tensor[float32, B], error) {
	t, err := tensor.FromSlice(append([]float32(nil), img.Pixels...), tensor.Shape(img.Shape()), backend)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image tensor")
	}
	return t, nil
}

// optimizeCanvas runs the configured driver from init and writes images.
func optimizeCanvas[B autodiff.BackwardCapable](
	ctx context.Context,
	backend B,
	cfg config.Config,
	opts Options,
	e *vgg.Extractor[B],
	targets loss.Targets[B],
	weights loss.Weights,
	init []float32,
	like imageio.Image,
) (string, error) {
	obj, err := loss.NewObjective[B](e, targets, weights)
	if err != nil {
		return "", err
	}
	p, err := optimize.NewProblem(obj, init, tensor.Shape(like.Shape()), backend)
	if err != nil {
		return "", err
	}

	dir := cfg.DumpDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", dir)
	}
	opts.Logger.Info("optimizing", "optimizer", cfg.Optimizer, "iterations", cfg.Iterations,
		"init", cfg.InitMethod, "dump_dir", dir)

	s := newSaver(cfg, dir, like.Height, like.Width, opts.Logger)
	last := 0
	observe := func(step optimize.Step) error {
		last = step.Iteration
		if _, err := io.WriteString(opts.Progress, ProgressLine(cfg.Optimizer, step.Iteration, step.Components.Weighted(weights))); err != nil {
			return errors.Wrap(err, "failed to write progress")
		}
		return s.periodic(step.Iteration, step.Pixels)
	}

	switch cfg.Optimizer {
	case config.OptimizerAdam:
		err = optimize.Adam(ctx, p, cfg.Iterations, cfg.LearningRate, observe)
	case config.OptimizerLBFGS:
		var term optimize.Termination
		term, err = optimize.LBFGS(ctx, p, cfg.Iterations, observe)
		attrs := []any{"status", term.Status.String(), "loss", term.Loss, "evaluations", term.Evaluations}
		if term.Reason != nil {
			attrs = append(attrs, "reason", term.Reason.Error())
		}
		opts.Logger.Info("l-bfgs finished", attrs...)
	default:
		err = errors.Errorf("unknown optimizer %q", cfg.Optimizer)
	}
	if err != nil {
		return dir, err
	}

	if _, err := s.final(last, p.Pixels()); err != nil {
		return dir, err
	}
	return dir, nil
}
