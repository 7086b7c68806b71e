// Package config holds the hyperparameters of a style transfer run.
//
// A Config is built once, from Default, an optional YAML file and command
// line flags, validated, and treated as read-only for the rest of the run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Supported optimizers.
const (
	OptimizerLBFGS = "lbfgs"
	OptimizerAdam  = "adam"
)

// Canvas initialization methods.
const (
	InitRandom  = "random"
	InitContent = "content"
	InitStyle   = "style"
)

// Representations that can be reconstructed from noise.
const (
	ReconstructContent = "content"
	ReconstructStyle   = "style"
)

// Compute devices.
const (
	DeviceCPU    = "cpu"
	DeviceWebGPU = "webgpu"
)

// SaveFinalOnly disables intermediate image dumps.
const SaveFinalOnly = -1

// Choice lists, in the order they are shown in help output.
var (
	Optimizers   = []string{OptimizerLBFGS, OptimizerAdam}
	Models       = []string{"vgg16", "vgg19"}
	InitMethods  = []string{InitRandom, InitContent, InitStyle}
	Devices      = []string{DeviceCPU, DeviceWebGPU}
	Reconstructs = []string{ReconstructContent, ReconstructStyle}
)

// ImageFormat describes how dumped images are named: Digits is the zero
// padding of the iteration number and Ext the file extension.
type ImageFormat struct {
	Digits int    `yaml:"digits"`
	Ext    string `yaml:"ext"`
}

// Config is the full set of hyperparameters for one run.
type Config struct {
	ContentImgName string `yaml:"content_img_name"`
	StyleImgName   string `yaml:"style_img_name"`
	Height         int    `yaml:"height"`

	ContentWeight float64 `yaml:"content_weight"`
	StyleWeight   float64 `yaml:"style_weight"`
	TVWeight      float64 `yaml:"tv_weight"`

	Optimizer    string  `yaml:"optimizer"`
	Iterations   int     `yaml:"iterations"`
	LearningRate float64 `yaml:"learning_rate"` // Adam only
	Model        string  `yaml:"model"`
	InitMethod   string  `yaml:"init_method"`
	SavingFreq   int     `yaml:"saving_freq"`
	Seed         uint64  `yaml:"seed"`
	Device       string  `yaml:"device"`

	ContentImagesDir string      `yaml:"content_images_dir"`
	StyleImagesDir   string      `yaml:"style_images_dir"`
	OutputImgDir     string      `yaml:"output_img_dir"`
	ModelsDir        string      `yaml:"models_dir"`
	Weights          string      `yaml:"weights"`
	ImgFormat        ImageFormat `yaml:"img_format"`

	// Reconstruct selects reconstruction mode ("content" or "style"): the
	// chosen representation of ContentImgName is rebuilt from noise.
	Reconstruct string `yaml:"reconstruct"`
}

// Default returns the configuration used when nothing is overridden.
//
// Weights that worked for figures.jpg + vg_starry_night.jpg:
//
//	lbfgs, content init: (cw, sw, tv) = (1e5, 3e4, 1e0)
//	lbfgs, style init:   (cw, sw, tv) = (1e5, 1e1, 1e-1)
//	lbfgs, random init:  (cw, sw, tv) = (1e5, 1e3, 1e0)
//	adam, content init:  (cw, sw, tv) = (1e5, 1e5, 1e-1)
//	adam, style init:    (cw, sw, tv) = (1e5, 1e2, 1e-1)
//	adam, random init:   (cw, sw, tv) = (1e5, 1e2, 1e-1)
func Default() Config {
	return DefaultIn("data")
}

// DefaultIn returns Default with all resource directories rooted at dataDir.
func DefaultIn(dataDir string) Config {
	return Config{
		ContentImgName:   "figures.jpg",
		StyleImgName:     "vg_starry_night.jpg",
		Height:           400,
		ContentWeight:    1e5,
		StyleWeight:      3e4,
		TVWeight:         1e0,
		Optimizer:        OptimizerLBFGS,
		Iterations:       1000,
		LearningRate:     1e1,
		Model:            "vgg19",
		InitMethod:       InitContent,
		SavingFreq:       SaveFinalOnly,
		Device:           DeviceCPU,
		ContentImagesDir: filepath.Join(dataDir, "content-images"),
		StyleImagesDir:   filepath.Join(dataDir, "style-images"),
		OutputImgDir:     filepath.Join(dataDir, "output-images"),
		ModelsDir:        filepath.Join(dataDir, "models"),
		ImgFormat:        ImageFormat{Digits: 4, Ext: ".jpg"},
	}
}

// Load reads a YAML file and overlays it on Default.
// Keys missing from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	err := cfg.Overlay(path)
	return cfg, err
}

// Overlay replaces the fields set in the YAML file at path.
func (c *Config) Overlay(path string) error {
	//nolint:gosec // G304: config path is supplied by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "failed to parse config %s", path)
	}
	return nil
}

type choice struct {
	name, value string
	allowed     []string
}

// Validate checks enumerations and numeric ranges.
func (c Config) Validate() error {
	if c.ContentImgName == "" {
		return errors.New("content image name is empty")
	}
	if c.Reconstruct == "" && c.StyleImgName == "" {
		return errors.New("style image name is empty")
	}
	if c.Height <= 0 {
		return errors.Errorf("height must be positive, got %d", c.Height)
	}
	if c.Iterations <= 0 {
		return errors.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.SavingFreq != SaveFinalOnly && c.SavingFreq <= 0 {
		return errors.Errorf("saving_freq must be -1 or positive, got %d", c.SavingFreq)
	}
	if c.ContentWeight < 0 || c.StyleWeight < 0 || c.TVWeight < 0 {
		return errors.New("loss weights must be non-negative")
	}
	if c.Reconstruct == "" && c.ContentWeight == 0 && c.StyleWeight == 0 && c.TVWeight == 0 {
		return errors.New("at least one loss weight must be non-zero")
	}
	if c.Optimizer == OptimizerAdam && c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.ImgFormat.Digits <= 0 || c.ImgFormat.Ext == "" {
		return errors.Errorf("invalid img_format %+v", c.ImgFormat)
	}

	choices := []choice{
		{"optimizer", c.Optimizer, Optimizers},
		{"model", c.Model, Models},
		{"init_method", c.InitMethod, InitMethods},
		{"device", c.Device, Devices},
	}
	if c.Reconstruct != "" {
		choices = append(choices, choice{"reconstruct", c.Reconstruct, Reconstructs})
	}
	for _, ch := range choices {
		if !lo.Contains(ch.allowed, ch.value) {
			return errors.Errorf("invalid %s %q (choose from %v)", ch.name, ch.value, ch.allowed)
		}
	}
	return nil
}

// ContentPath is the resolved path of the content image.
func (c Config) ContentPath() string {
	return filepath.Join(c.ContentImagesDir, c.ContentImgName)
}

// StylePath is the resolved path of the style image.
func (c Config) StylePath() string {
	return filepath.Join(c.StyleImagesDir, c.StyleImgName)
}

// WeightsPath returns Weights if set, or <ModelsDir>/<Model>.safetensors.
func (c Config) WeightsPath() string {
	if c.Weights != "" {
		return c.Weights
	}
	return filepath.Join(c.ModelsDir, c.Model+".safetensors")
}

// FrameName is the file name of the image dumped at iteration i.
func (c Config) FrameName(i int) string {
	return fmt.Sprintf("%0*d%s", c.ImgFormat.Digits, i, c.ImgFormat.Ext)
}

// FramePattern is the printf-style pattern matching FrameName, e.g. "%04d.jpg".
func (c Config) FramePattern() string {
	return fmt.Sprintf("%%0%dd%s", c.ImgFormat.Digits, c.ImgFormat.Ext)
}

// OutputName is the descriptive file name of the final image, used when
// only the final image is saved.
func (c Config) OutputName() string {
	if c.Reconstruct != "" {
		return fmt.Sprintf("%s_%s_o_%s_h_%d_m_%s%s",
			stem(c.ContentImgName), c.Reconstruct, c.Optimizer, c.Height, c.Model, c.ImgFormat.Ext)
	}
	prefix := stem(c.ContentImgName) + "_" + stem(c.StyleImgName)
	return fmt.Sprintf("%s_o_%s_i_%s_h_%d_m_%s_cw_%g_sw_%g_tv_%g%s",
		prefix, c.Optimizer, c.InitMethod, c.Height, c.Model,
		c.ContentWeight, c.StyleWeight, c.TVWeight, c.ImgFormat.Ext)
}

// DumpDir is the directory all images of this run are written to.
func (c Config) DumpDir() string {
	if c.Reconstruct != "" {
		return filepath.Join(c.OutputImgDir, "reconstruct_"+stem(c.ContentImgName)+"_"+c.Reconstruct)
	}
	return filepath.Join(c.OutputImgDir, "combined_"+stem(c.ContentImgName)+"_"+stem(c.StyleImgName))
}

// stem returns the base name up to the first dot ("a.b.jpg" -> "a").
func stem(name string) string {
	s, _, _ := strings.Cut(filepath.Base(name), ".")
	return s
}
