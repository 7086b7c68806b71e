// Package main provides the nst command: neural style transfer on Born.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/transfer"
	"github.com/born-ml/styletransfer/internal/video"
)

const version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cliOptions is the state behind one command's flags. The config fields
// are bound to flags directly.
type cliOptions struct {
	cfg        config.Config
	dataDir    string
	configPath string
	video      bool
	verbose    bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &cliOptions{}
	root := &cobra.Command{
		Use:           "nst",
		Short:         "Neural style transfer with VGG features on the Born ML framework",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	addTransferFlags(root.Flags(), o)

	root.AddCommand(newTransferCmd(), newReconstructCmd(), newVideoCmd(), newVersionCmd())
	return root
}

func newTransferCmd() *cobra.Command {
	o := &cliOptions{}
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Render the content image in the style of the style image (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd)
		},
	}
	addTransferFlags(cmd.Flags(), o)
	return cmd
}

func newReconstructCmd() *cobra.Command {
	o := &cliOptions{}
	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Rebuild the content or style representation of an image from noise",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd)
		},
	}
	fs := cmd.Flags()
	addCommonFlags(fs, o)
	fs.StringVar(&o.cfg.ContentImgName, "image", o.cfg.ContentImgName, "image to reconstruct, in the content images directory")
	fs.StringVar(&o.cfg.Reconstruct, "representation", "", "representation to reconstruct: "+strings.Join(config.Reconstructs, "|"))
	_ = cmd.MarkFlagRequired("representation")
	return cmd
}

func newVideoCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "video <dir>",
		Short: "Assemble the numbered frames of a dump directory into out.mp4",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), verbose)
			out, err := video.Assemble(cmd.Context(), args[0], config.Default().FramePattern())
			if err != nil {
				logger.Error("video failed", "dir", args[0], "err", err)
				return err
			}
			logger.Info("video written", "path", out)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "nst %s\n", version)
		},
	}
}

// addCommonFlags registers the flags shared by transfer and reconstruct.
func addCommonFlags(fs *pflag.FlagSet, o *cliOptions) {
	o.cfg = config.Default()
	c := &o.cfg

	fs.IntVar(&c.Height, "height", c.Height, "height of content and style images")
	fs.StringVar(&c.Optimizer, "optimizer", c.Optimizer, strings.Join(config.Optimizers, "|"))
	fs.IntVar(&c.Iterations, "iterations", c.Iterations, "optimizer iterations")
	fs.Float64Var(&c.LearningRate, "learning_rate", c.LearningRate, "Adam learning rate")
	fs.StringVar(&c.Model, "model", c.Model, strings.Join(config.Models, "|"))
	fs.IntVar(&c.SavingFreq, "saving_freq", c.SavingFreq, "save every n-th iteration, -1 saves only the final image")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "seed of the random initialization")
	fs.StringVar(&c.Device, "device", c.Device, strings.Join(config.Devices, "|"))
	fs.StringVar(&c.Weights, "weights", "", "VGG weights (.safetensors), default <data_dir>/models/<model>.safetensors")

	fs.StringVar(&o.dataDir, "data_dir", "data", "root of content-images, style-images, output-images and models")
	fs.StringVar(&o.configPath, "config", "", "YAML file overlaid on the defaults, flags take precedence")
	fs.BoolVar(&o.video, "video", false, "assemble the dumped frames into out.mp4 with ffmpeg")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
}

func addTransferFlags(fs *pflag.FlagSet, o *cliOptions) {
	addCommonFlags(fs, o)
	c := &o.cfg

	fs.StringVar(&c.ContentImgName, "content_img_name", c.ContentImgName, "content image name")
	fs.StringVar(&c.StyleImgName, "style_img_name", c.StyleImgName, "style image name")
	fs.Float64Var(&c.ContentWeight, "content_weight", c.ContentWeight, "weight factor for content loss")
	fs.Float64Var(&c.StyleWeight, "style_weight", c.StyleWeight, "weight factor for style loss")
	fs.Float64Var(&c.TVWeight, "tv_weight", c.TVWeight, "weight factor for total variation loss")
	fs.StringVar(&c.InitMethod, "init_method", c.InitMethod, strings.Join(config.InitMethods, "|"))
}

// resolve builds the run configuration. Precedence, lowest first: defaults
// rooted at --data_dir, the --config file, explicitly set flags.
func (o *cliOptions) resolve(fs *pflag.FlagSet) (config.Config, error) {
	changed := map[string]string{}
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	cfg := config.DefaultIn(o.dataDir)
	if o.configPath != "" {
		if err := cfg.Overlay(o.configPath); err != nil {
			return cfg, err
		}
	}

	// The flags point into o.cfg: replace it, then replay what was set.
	o.cfg = cfg
	for name, value := range changed {
		if err := fs.Set(name, value); err != nil {
			return cfg, errors.Wrapf(err, "invalid --%s", name)
		}
	}
	return o.cfg, o.cfg.Validate()
}

func (o *cliOptions) run(cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), o.verbose)
	cfg, err := o.resolve(cmd.Flags())
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		return err
	}

	opts := transfer.Options{Logger: logger, Progress: cmd.OutOrStdout()}
	dir, err := runOnDevice(cmd.Context(), cfg, opts)
	if err != nil {
		logger.Error("run failed", "err", err)
		return err
	}

	if o.video {
		if cfg.SavingFreq == config.SaveFinalOnly {
			logger.Warn("no frames to assemble, set --saving_freq", "dir", dir)
			return nil
		}
		out, err := video.Assemble(cmd.Context(), dir, cfg.FramePattern())
		if err != nil {
			logger.Error("video failed", "dir", dir, "err", err)
			return nil
		}
		logger.Info("video written", "path", out)
	}
	return nil
}

func runOnDevice(ctx context.Context, cfg config.Config, opts transfer.Options) (string, error) {
	if cfg.Device == config.DeviceWebGPU {
		return runWebGPU(ctx, cfg, opts)
	}
	return transfer.Run(ctx, autodiff.New(cpu.New()), cfg, opts)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
