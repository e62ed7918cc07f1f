package mask

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// RectRenderer rasterizes rectangles into a binary mask of the given size.
type RectRenderer interface {
	Name() string
	RenderRectangles(ctx context.Context, size image.Point, rects []image.Rectangle) (gocv.Mat, error)
}

// GocvRenderer paints rectangles in process.
type GocvRenderer struct{}

func (GocvRenderer) Name() string { return "gocv" }

func (GocvRenderer) RenderRectangles(_ context.Context, size image.Point, rects []image.Rectangle) (gocv.Mat, error) {
	if size.X <= 0 || size.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid mask size %dx%d", size.X, size.Y)
	}
	out := gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8UC1)
	frame := image.Rect(0, 0, size.X, size.Y)
	for _, r := range rects {
		r = r.Intersect(frame)
		if r.Empty() {
			continue
		}
		gocv.Rectangle(&out, r, White, -1)
	}
	return out, nil
}

// FFmpegRenderer draws the rectangles with ffmpeg's drawbox filter on a black
// canvas and reads the result back.
type FFmpegRenderer struct {
	Path    string
	TempDir string
}

func (FFmpegRenderer) Name() string { return "ffmpeg" }

func (r FFmpegRenderer) RenderRectangles(ctx context.Context, size image.Point, rects []image.Rectangle) (gocv.Mat, error) {
	if size.X <= 0 || size.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid mask size %dx%d", size.X, size.Y)
	}
	bin := r.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return gocv.NewMat(), fmt.Errorf("ffmpeg not available: %w", err)
	}

	dir, err := os.MkdirTemp(r.TempDir, "rmwm-mask-")
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "mask.png")

	filters := []string{"format=gray"}
	for _, rc := range rects {
		rc = rc.Intersect(image.Rect(0, 0, size.X, size.Y))
		if rc.Empty() {
			continue
		}
		filters = append(filters, fmt.Sprintf("drawbox=x=%d:y=%d:w=%d:h=%d:color=white:t=fill",
			rc.Min.X, rc.Min.Y, rc.Dx(), rc.Dy()))
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=%dx%d", size.X, size.Y),
		"-vf", strings.Join(filters, ","),
		"-frames:v", "1",
		out,
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return gocv.NewMat(), fmt.Errorf("ffmpeg drawbox failed: %w, output: %s", err, string(output))
	}

	m := gocv.IMRead(out, gocv.IMReadGrayScale)
	if m.Empty() {
		return m, fmt.Errorf("read rendered mask %s", out)
	}
	gocv.Threshold(m, &m, 127, 255, gocv.ThresholdBinary)
	return m, nil
}

// RendererChain tries each renderer in order; the first success wins.
type RendererChain []RectRenderer

// DefaultRenderers prefers the in-process renderer and falls back to ffmpeg.
func DefaultRenderers(ffmpegPath, tempDir string) RendererChain {
	return RendererChain{GocvRenderer{}, FFmpegRenderer{Path: ffmpegPath, TempDir: tempDir}}
}

func (c RendererChain) Name() string { return "chain" }

func (c RendererChain) RenderRectangles(ctx context.Context, size image.Point, rects []image.Rectangle) (gocv.Mat, error) {
	var errs []error
	for _, r := range c {
		m, err := r.RenderRectangles(ctx, size, rects)
		if err == nil {
			return m, nil
		}
		m.Close()
		log.Debug().Err(err).Str("renderer", r.Name()).Msg("mask renderer failed")
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
	}
	if len(errs) == 0 {
		return gocv.NewMat(), errors.New("no mask renderer configured")
	}
	return gocv.NewMat(), errors.Join(errs...)
}
