package transfer

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/imageio"
	"github.com/born-ml/styletransfer/internal/loss"
)

// ProgressLine formats one evaluation. c holds weighted components.
func ProgressLine(optimizer string, iteration int, c loss.Components) string {
	label := "Adam"
	if optimizer == config.OptimizerLBFGS {
		label = "L-BFGS"
	}
	return fmt.Sprintf("%s | iteration: %03d, total loss=%12.4f, content_loss=%12.4f, style loss=%12.4f, tv loss=%12.4f\n",
		label, iteration, c.Total, c.Content, c.Style, c.TV)
}

// saver writes intermediate and final images of one run.
//
// With saving_freq > 0 every iteration i with i % saving_freq == 0 is
// dumped as a numbered frame, and so is the final image. With saving_freq
// == -1 only the final image is written, under its descriptive name.
type saver struct {
	cfg           config.Config
	dir           string
	height, width int
	logger        *slog.Logger
}

func newSaver(cfg config.Config, dir string, height, width int, logger *slog.Logger) *saver {
	return &saver{cfg: cfg, dir: dir, height: height, width: width, logger: logger}
}

// shouldSave reports whether iteration i is a periodic frame.
func (s *saver) shouldSave(i int) bool {
	return s.cfg.SavingFreq > 0 && i%s.cfg.SavingFreq == 0
}

func (s *saver) periodic(i int, pixels []float32) error {
	if !s.shouldSave(i) {
		return nil
	}
	_, err := s.write(s.cfg.FrameName(i), pixels)
	return err
}

// final writes the result of the run; last is the last iteration index.
func (s *saver) final(last int, pixels []float32) (string, error) {
	name := s.cfg.OutputName()
	if s.cfg.SavingFreq > 0 {
		name = s.cfg.FrameName(last)
	}
	path, err := s.write(name, pixels)
	if err != nil {
		return "", err
	}
	s.logger.Info("saved result", "path", path)
	return path, nil
}

func (s *saver) write(name string, pixels []float32) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := imageio.Save(path, pixels, s.height, s.width); err != nil {
		return "", err
	}
	s.logger.Debug("saved image", "path", path)
	return path, nil
}
