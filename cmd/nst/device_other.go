//go:build !windows

package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/born-ml/styletransfer/internal/config"
	"github.com/born-ml/styletransfer/internal/transfer"
)

// The Born WebGPU backend is only built on Windows.
func runWebGPU(context.Context, config.Config, transfer.Options) (string, error) {
	return "", errors.New("webgpu device is not supported on this platform, use --device cpu")
}
