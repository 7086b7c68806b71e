package transfer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/loss"
	"github.com/born-ml/styletransfer/internal/vgg"
	"github.com/born-ml/styletransfer/internal/vgg/vggtest"
)

// weightsPath holds random vgg16 weights shared by the end-to-end tests.
var weightsPath string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "transfer-weights")
	if err != nil {
		panic(err)
	}
	weightsPath = filepath.Join(dir, "vgg16.safetensors")
	if err := vggtest.WriteWeights(weightsPath, vgg.VGG16(), 1); err != nil {
		panic(err)
	}
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func writeImage(t *testing.T, path string, w, h int, tint uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: tint, A: 255})
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, imaging.Save(img, path))
}

// testConfig lays out a data directory with a 16x16 content image and a
// 20x16 style image.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultIn(t.TempDir())
	cfg.ContentImgName = "lion.png"
	cfg.StyleImgName = "wave.png"
	cfg.Height = 16
	cfg.Model = "vgg16"
	cfg.Weights = weightsPath
	cfg.Iterations = 3
	cfg.Seed = 5
	writeImage(t, cfg.ContentPath(), 16, 16, 40)
	writeImage(t, cfg.StylePath(), 20, 16, 200)
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newBackend() *autodiff.Backend[*cpu.Backend] {
	return autodiff.New(cpu.New())
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProgressLine(t *testing.T) {
	c := loss.Components{Total: 1.5, Content: 1, Style: 0.25, TV: 0.25}

	assert.Equal(t,
		"L-BFGS | iteration: 007, total loss=      1.5000, content_loss=      1.0000, style loss=      0.2500, tv loss=      0.2500\n",
		ProgressLine(config.OptimizerLBFGS, 7, c))
	assert.True(t, strings.HasPrefix(ProgressLine(config.OptimizerAdam, 12, c), "Adam | iteration: 012,"))
}

func TestSaver_Periodic(t *testing.T) {
	cfg := config.DefaultIn(t.TempDir())
	cfg.SavingFreq = 3
	dir := t.TempDir()
	s := newSaver(cfg, dir, 2, 2, discardLogger())

	pixels := make([]float32, 12)
	for i := 0; i < 8; i++ {
		require.NoError(t, s.periodic(i, pixels))
	}
	path, err := s.final(7, pixels)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "0007.jpg"), path)
	assert.ElementsMatch(t, []string{"0000.jpg", "0003.jpg", "0006.jpg", "0007.jpg"}, listDir(t, dir))
}

func TestSaver_FinalOnly(t *testing.T) {
	cfg := config.DefaultIn(t.TempDir())
	dir := t.TempDir()
	s := newSaver(cfg, dir, 2, 2, discardLogger())

	pixels := make([]float32, 12)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.periodic(i, pixels))
	}
	_, err := s.final(4, pixels)
	require.NoError(t, err)

	assert.Equal(t, []string{cfg.OutputName()}, listDir(t, dir))
}

func TestRun_LBFGSWithFrames(t *testing.T) {
	cfg := testConfig(t)
	cfg.SavingFreq = 1

	var progress bytes.Buffer
	dir, err := Run(context.Background(), newBackend(), cfg, Options{Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutputImgDir, "combined_lion_wave"), dir)

	lines := strings.Split(strings.TrimSpace(progress.String()), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "L-BFGS | iteration: 000, total loss="))

	frames := listDir(t, dir)
	assert.Len(t, frames, len(lines)) // one frame per evaluation
	assert.Contains(t, frames, "0000.jpg")

	img, err := imaging.Open(filepath.Join(dir, "0000.jpg"))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
}

func TestRun_AdamStyleInit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimizer = config.OptimizerAdam
	cfg.InitMethod = config.InitStyle
	cfg.Iterations = 2

	var progress bytes.Buffer
	dir, err := Run(context.Background(), newBackend(), cfg, Options{Progress: &progress})
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(progress.String(), "Adam | iteration: "))
	assert.Equal(t, []string{cfg.OutputName()}, listDir(t, dir))
}

func TestReconstruct_Style(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reconstruct = config.ReconstructStyle
	cfg.StyleImgName = ""
	cfg.Optimizer = config.OptimizerAdam
	cfg.Iterations = 2

	var progress bytes.Buffer
	dir, err := Run(context.Background(), newBackend(), cfg, Options{Progress: &progress})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.OutputImgDir, "reconstruct_lion_style"), dir)
	assert.Equal(t, []string{"lion_style_o_adam_h_16_m_vgg16.jpg"}, listDir(t, dir))
	// Only the style term is active.
	assert.Contains(t, progress.String(), "content_loss=      0.0000")
	assert.Contains(t, progress.String(), "tv loss=      0.0000")
}

func TestRun_Errors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Height = 0
		_, err := Run(context.Background(), newBackend(), cfg, Options{})
		assert.Error(t, err)
	})

	t.Run("missing content image", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ContentImgName = "missing.png"
		_, err := Run(context.Background(), newBackend(), cfg, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing.png")
	})

	t.Run("missing weights", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Weights = filepath.Join(t.TempDir(), "none.safetensors")
		_, err := Run(context.Background(), newBackend(), cfg, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "none.safetensors")
	})

	t.Run("wrong weights", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Model = "vgg19"
		_, err := Run(context.Background(), newBackend(), cfg, Options{})
		assert.Error(t, err)
	})

	t.Run("reconstruct without mode", func(t *testing.T) {
		_, err := Reconstruct(context.Background(), newBackend(), testConfig(t), Options{})
		assert.Error(t, err)
	})
}
