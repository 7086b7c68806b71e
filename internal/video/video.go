// Package video turns the numbered frames of a dump directory into an mp4
// with the ffmpeg binary.
package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FPS is the frame rate of the assembled video.
const FPS = 30

// OutputName is the file written into the dump directory.
const OutputName = "out.mp4"

// ErrNoFFmpeg is returned when no ffmpeg binary can be found.
var ErrNoFFmpeg = errors.New("ffmpeg not found in PATH")

// Binary is the ffmpeg executable looked up in PATH.
var Binary = "ffmpeg"

// CountFrames counts the frames 0, 1, 2, ... named by pattern (for example
// "%04d.jpg") that exist in dir, stopping at the first gap.
func CountFrames(dir, pattern string) int {
	n := 0
	for {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf(pattern, n))); err != nil {
			return n
		}
		n++
	}
}

// Args returns the ffmpeg arguments that encode frames [0, frames) of dir.
func Args(dir, pattern string, frames int) []string {
	return []string{
		"-y",
		"-r", fmt.Sprint(FPS),
		"-i", filepath.Join(dir, pattern),
		"-vf", fmt.Sprintf("trim=start_frame=0:end_frame=%d", frames),
		filepath.Join(dir, OutputName),
	}
}

// Assemble encodes the frames of dir into dir/out.mp4 and returns its path.
func Assemble(ctx context.Context, dir, pattern string) (string, error) {
	bin, err := exec.LookPath(Binary)
	if err != nil {
		return "", errors.Wrapf(ErrNoFFmpeg, "cannot create video from %s", dir)
	}
	frames := CountFrames(dir, pattern)
	if frames == 0 {
		return "", errors.Errorf("no frames matching %s in %s", pattern, dir)
	}

	//nolint:gosec // G204: arguments are built from the dump directory
	cmd := exec.CommandContext(ctx, bin, Args(dir, pattern, frames)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", errors.Wrapf(err, "ffmpeg failed: %s", lastLine(string(out)))
	}
	return filepath.Join(dir, OutputName), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
