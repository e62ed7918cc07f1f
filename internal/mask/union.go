package mask

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// MaxSamples bounds the number of frames inspected to build a union mask.
const MaxSamples = 20

// SampleIndices picks up to limit evenly spaced indices in [0, n).
func SampleIndices(n, limit int) []int {
	if n <= 0 || limit <= 0 {
		return nil
	}
	if n <= limit {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if limit == 1 {
		return []int{0}
	}

	out := make([]int, 0, limit)
	last := -1
	for i := 0; i < limit; i++ {
		idx := i * (n - 1) / (limit - 1)
		if idx == last {
			continue
		}
		out = append(out, idx)
		last = idx
	}
	return out
}

// Detector produces the detection mask of a single frame.
type Detector func(frame gocv.Mat, p Params) (gocv.Mat, error)

func defaultDetector(frame gocv.Mat, p Params) (gocv.Mat, error) { return Detect(frame, p), nil }

// UnionFromFrames runs detect (Detect when nil) on every frame, ORs the
// results and dilates once more to cover the watermark's full excursion
// between samples.
func UnionFromFrames(frames []gocv.Mat, p Params, detect Detector) (gocv.Mat, error) {
	if len(frames) == 0 {
		return gocv.NewMat(), errors.New("no frames to sample")
	}
	rows, cols := frames[0].Rows(), frames[0].Cols()
	if rows <= 0 || cols <= 0 {
		return gocv.NewMat(), errors.New("empty sample frame")
	}

	if detect == nil {
		detect = defaultDetector
	}

	union := gocv.Zeros(rows, cols, gocv.MatTypeCV8UC1)
	for _, f := range frames {
		m, err := detect(f, p)
		if err != nil {
			union.Close()
			return gocv.NewMat(), fmt.Errorf("detect: %w", err)
		}
		if !m.Empty() {
			orInto(&union, m)
		}
		m.Close()
	}
	Dilate(&union, p.dilate())
	return union, nil
}

// BuildUnionMask samples up to MaxSamples frames from paths and builds the
// union mask from them.
func BuildUnionMask(ctx context.Context, paths []string, p Params, detect Detector) (gocv.Mat, error) {
	idx := SampleIndices(len(paths), MaxSamples)
	if len(idx) == 0 {
		return gocv.NewMat(), errors.New("no frames to sample")
	}

	frames := make([]gocv.Mat, 0, len(idx))
	defer func() {
		for _, f := range frames {
			f.Close()
		}
	}()
	for _, i := range idx {
		if err := ctx.Err(); err != nil {
			return gocv.NewMat(), err
		}
		f := gocv.IMRead(paths[i], gocv.IMReadColor)
		if f.Empty() {
			f.Close()
			return gocv.NewMat(), fmt.Errorf("read sample frame %s", paths[i])
		}
		frames = append(frames, f)
	}

	union, err := UnionFromFrames(frames, p, detect)
	if err != nil {
		return union, err
	}
	log.Debug().
		Int("samples", len(frames)).
		Float64("coverage", Coverage(union)).
		Str("mode", string(p.Mode)).
		Msg("union mask")
	return union, nil
}

// ComposePerFrameMask ORs, in order, the rendered extra regions, the geometry
// mask and the union mask (each resized to the frame when needed), binarizes
// at 50% and dilates. Nil inputs are skipped.
func ComposePerFrameMask(frame gocv.Mat, regions, geometry, union *gocv.Mat, dilatePx int) gocv.Mat {
	out := gocv.Zeros(frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC1)
	for _, m := range []*gocv.Mat{regions, geometry, union} {
		if m == nil || m.Empty() {
			continue
		}
		orInto(&out, *m)
	}
	gocv.Threshold(out, &out, 127, 255, gocv.ThresholdBinary)
	Dilate(&out, max(2, dilatePx))
	return out
}

// Composer builds the mask of every frame from precomputed rasters. It is
// safe for concurrent use once constructed.
type Composer struct {
	params   Params
	regions  *gocv.Mat
	geometry *gocv.Mat
	union    *gocv.Mat
	fallback func(gocv.Mat) (gocv.Mat, error)
}

// ComposerConfig wires a Composer. Geometry and Union stay owned by the
// caller; the rendered regions are owned by the Composer.
type ComposerConfig struct {
	Params   Params
	Size     image.Point
	Regions  []Rect
	Geometry *gocv.Mat
	Union    *gocv.Mat
	Renderer RectRenderer
	// Fallback runs when a frame's combined mask is empty and detection is
	// enabled. Defaults to Detect with Params.
	Fallback func(gocv.Mat) (gocv.Mat, error)
}

// NewComposer renders the extra regions once for the given frame size.
func NewComposer(ctx context.Context, cfg ComposerConfig) (*Composer, error) {
	c := &Composer{
		params:   cfg.Params,
		geometry: cfg.Geometry,
		union:    cfg.Union,
		fallback: cfg.Fallback,
	}
	if c.fallback == nil {
		p := cfg.Params
		c.fallback = func(f gocv.Mat) (gocv.Mat, error) { return Detect(f, p), nil }
	}

	if len(cfg.Regions) > 0 {
		renderer := cfg.Renderer
		if renderer == nil {
			renderer = GocvRenderer{}
		}
		rects := make([]image.Rectangle, 0, len(cfg.Regions))
		for _, r := range cfg.Regions {
			rects = append(rects, r.Image())
		}
		m, err := renderer.RenderRectangles(ctx, cfg.Size, rects)
		if err != nil {
			return nil, fmt.Errorf("render extra regions: %w", err)
		}
		c.regions = &m
	}
	return c, nil
}

// Compose returns the mask for frame and whether the per-frame fallback
// detection produced it.
func (c *Composer) Compose(frame gocv.Mat) (gocv.Mat, bool, error) {
	out := ComposePerFrameMask(frame, c.regions, c.geometry, c.union, c.params.DilatePx)
	if gocv.CountNonZero(out) > 0 || !c.params.Mode.Enabled() {
		return out, false, nil
	}

	out.Close()
	m, err := c.fallback(frame)
	if err != nil {
		return gocv.NewMat(), false, fmt.Errorf("fallback detection: %w", err)
	}
	return m, true, nil
}

// Close releases the rendered regions.
func (c *Composer) Close() {
	if c.regions != nil {
		c.regions.Close()
		c.regions = nil
	}
}
