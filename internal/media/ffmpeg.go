package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// FFmpeg wraps the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg instance. Empty paths resolve from $PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// FFmpegPath returns the configured ffmpeg binary.
func (f *FFmpeg) FFmpegPath() string { return f.ffmpegPath }

// Check verifies both binaries can be found.
func (f *FFmpeg) Check() error {
	var errs []error
	for _, bin := range []string{f.ffmpegPath, f.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			errs = append(errs, fmt.Errorf("%s not found: %w", bin, err))
		}
	}
	return errors.Join(errs...)
}

// Probe reads the stream parameters of a video file.
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (Metadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Metadata{}, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	return ParseProbe(stdout.Bytes())
}

// ExtractFrames decodes every frame of inputPath into dir at native timing
// and returns the frame names in order.
func (f *FFmpeg) ExtractFrames(ctx context.Context, inputPath, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-map", "0:v:0",
		"-vsync", "0",
		"-start_number", "1",
		filepath.Join(dir, FramePattern),
	}
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("frame extraction failed: %w, output: %s", err, string(output))
	}

	names, err := ListFrames(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frames extracted from %s", inputPath)
	}
	return names, nil
}

// Rebuild muxes the frame sequence in framesDir back into a video next to
// outDir, carrying the original audio and color metadata. The file is
// written under a temporary name and renamed when ffmpeg succeeds.
func (f *FFmpeg) Rebuild(ctx context.Context, framesDir, original string, meta Metadata, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	out := filepath.Join(outDir, OutputName(original))
	tmp := filepath.Join(outDir, "."+filepath.Base(out)+".partial")

	args := RebuildArgs(RebuildOptions{
		FramesDir: framesDir,
		Original:  original,
		Output:    tmp,
		Meta:      meta,
	})
	log.Debug().Strs("args", args).Msg("rebuild")

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rebuild failed: %w, output: %s", err, string(output))
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename output: %w", err)
	}
	return out, nil
}
