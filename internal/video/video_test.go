package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
}

func TestCountFrames(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, 0, CountFrames(dir, "%04d.jpg"))

	touch(t, dir, "0000.jpg", "0001.jpg", "0002.jpg", "0004.jpg", "result.jpg")
	assert.Equal(t, 3, CountFrames(dir, "%04d.jpg"))
	assert.Equal(t, 0, CountFrames(dir, "%05d.jpg"))
}

func TestArgs(t *testing.T) {
	args := Args("out/combined_a_b", "%04d.jpg", 12)
	assert.Equal(t, []string{
		"-y",
		"-r", "30",
		"-i", filepath.Join("out/combined_a_b", "%04d.jpg"),
		"-vf", "trim=start_frame=0:end_frame=12",
		filepath.Join("out/combined_a_b", "out.mp4"),
	}, args)
}

func TestAssemble_NoFFmpeg(t *testing.T) {
	old := Binary
	Binary = "ffmpeg-that-does-not-exist"
	defer func() { Binary = old }()

	_, err := Assemble(context.Background(), t.TempDir(), "%04d.jpg")
	assert.ErrorIs(t, err, ErrNoFFmpeg)
}

// fakeFFmpeg puts a shell script named ffmpeg first in PATH. It records its
// arguments in args.txt next to itself and exits with code.
func fakeFFmpeg(t *testing.T, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	bin := t.TempDir()
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" > %s\necho 'encoder exploded' >&2\nexit %d\n",
		filepath.Join(bin, "args.txt"), code)
	require.NoError(t, os.WriteFile(filepath.Join(bin, "ffmpeg"), []byte(script), 0o700)) //nolint:gosec // test binary
	t.Setenv("PATH", bin)
	return bin
}

func TestAssemble(t *testing.T) {
	bin := fakeFFmpeg(t, 0)
	dir := t.TempDir()
	touch(t, dir, "0000.jpg", "0001.jpg")

	out, err := Assemble(context.Background(), dir, "%04d.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.mp4"), out)

	args, err := os.ReadFile(filepath.Join(bin, "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "end_frame=2")
}

func TestAssemble_NoFrames(t *testing.T) {
	fakeFFmpeg(t, 0)

	_, err := Assemble(context.Background(), t.TempDir(), "%04d.jpg")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoFFmpeg)
}

func TestAssemble_Failure(t *testing.T) {
	fakeFFmpeg(t, 1)
	dir := t.TempDir()
	touch(t, dir, "0000.jpg")

	_, err := Assemble(context.Background(), dir, "%04d.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoder exploded")
}
