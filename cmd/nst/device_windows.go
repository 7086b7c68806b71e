//go:build windows

package main

import (
	"context"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/webgpu"
	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/transfer"
)

func runWebGPU(ctx context.Context, cfg config.Config, opts transfer.Options) (string, error) {
	if !webgpu.IsAvailable() {
		return "", errors.New("webgpu: no compatible GPU found, use --device cpu")
	}
	gpu, err := webgpu.New()
	if err != nil {
		return "", errors.Wrap(err, "webgpu: failed to initialize")
	}
	defer gpu.Release()

	opts.Logger.Info("using webgpu device")
	return transfer.Run(ctx, autodiff.New(gpu), cfg, opts)
}
