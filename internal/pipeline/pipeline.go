// Package pipeline runs a source video through acquisition, probing, frame
// extraction, mask preparation, inpainting and reconstruction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"gocv.io/x/gocv"

	"github.com/cyber-nic/rm-watermarks-video/internal/acquire"
	"github.com/cyber-nic/rm-watermarks-video/internal/config"
	"github.com/cyber-nic/rm-watermarks-video/internal/inpaint"
	"github.com/cyber-nic/rm-watermarks-video/internal/logging"
	"github.com/cyber-nic/rm-watermarks-video/internal/mask"
	"github.com/cyber-nic/rm-watermarks-video/internal/media"
	"github.com/cyber-nic/rm-watermarks-video/internal/metrics"
)

var (
	ErrAcquire     = errors.New("source acquisition failed")
	ErrProbe       = errors.New("media probe failed")
	ErrExtract     = errors.New("frame extraction failed")
	ErrInpaint     = errors.New("inpainting failed")
	ErrReconstruct = errors.New("reconstruction failed")
)

const (
	FramesDir    = "frames"
	InpaintedDir = "inpainted"

	DebugUnionMask   = "debug_union_mask.png"
	DebugOverlayName = "debug_overlay_first_frame.png"
)

// Acquirer returns a local file for a path or URL.
type Acquirer interface {
	Acquire(ctx context.Context, src string) (acquire.Source, error)
}

// Media wraps the external media tools.
type Media interface {
	Probe(ctx context.Context, path string) (media.Metadata, error)
	ExtractFrames(ctx context.Context, path, dir string) ([]string, error)
	Rebuild(ctx context.Context, framesDir, original string, meta media.Metadata, outDir string) (string, error)
}

// Options configures a Pipeline.
type Options struct {
	Acquirer Acquirer
	Media    Media
	// Backend defaults to inpaint.Gocv.
	Backend inpaint.Backend
	// Renderer draws the extra regions; defaults to mask.GocvRenderer.
	Renderer mask.RectRenderer

	Mask      config.MaskOptions
	WorkDir   string
	OutputDir string
	Workers   int

	// KeepWorkDir keeps the per-run directory after the run.
	KeepWorkDir bool
	// Debug writes mask artifacts and keeps the working directory.
	Debug bool
	// Progress receives a per-frame progress bar when set.
	Progress io.Writer
}

// Result describes a finished (or failed) run.
type Result struct {
	RunID   string
	Source  acquire.Source
	Meta    media.Metadata
	WorkDir string
	Frames  int
	// ExpectedFrames is estimated from the probed duration and frame rate.
	ExpectedFrames int
	Stats          inpaint.Stats
	Output  string
	State   State
	History []State
}

type Pipeline struct {
	opts Options
}

func New(opts Options) (*Pipeline, error) {
	if opts.Acquirer == nil || opts.Media == nil {
		return nil, errors.New("acquirer and media tools required")
	}
	if opts.WorkDir == "" || opts.OutputDir == "" {
		return nil, errors.New("work and output directories required")
	}
	if opts.Backend == nil {
		opts.Backend = inpaint.Gocv{}
	}
	if opts.Renderer == nil {
		opts.Renderer = mask.GocvRenderer{}
	}
	if err := opts.Mask.Normalize(); err != nil {
		return nil, err
	}
	return &Pipeline{opts: opts}, nil
}

type run struct {
	p      *Pipeline
	fsm    *Machine
	res    Result
	logger zerolog.Logger
}

// Run processes src, a local path or URL, into the output directory.
func (p *Pipeline) Run(ctx context.Context, src string) (Result, error) {
	id := uuid.NewString()
	ctx = logging.WithRunID(ctx, id)

	r := &run{
		p:      p,
		fsm:    NewMachine(),
		res:    Result{RunID: id, WorkDir: filepath.Join(p.opts.WorkDir, id)},
		logger: logging.Component(ctx, "pipeline"),
	}
	start := time.Now()

	err := r.execute(ctx, src)
	if !p.opts.KeepWorkDir && !p.opts.Debug {
		if rmErr := os.RemoveAll(r.res.WorkDir); rmErr != nil {
			r.logger.Warn().Err(rmErr).Str("dir", r.res.WorkDir).Msg("remove work dir")
		}
	}
	if err != nil {
		r.fsm.Fire(EventFail)
	}

	r.res.State = r.fsm.State()
	r.res.History = r.fsm.History()
	metrics.RecordRun(string(r.res.State))

	if err != nil {
		r.logger.Error().Err(err).Str("state", string(r.res.State)).Msg(src)
		return r.res, err
	}
	r.logger.Info().
		Int64("duration(ms)", time.Since(start).Milliseconds()).
		Int("frames", r.res.Frames).
		Int("inpainted", r.res.Stats.Inpainted).
		Int("fallbacks", r.res.Stats.Fallbacks).
		Str("output", r.res.Output).
		Msg(filepath.Base(src))
	return r.res, nil
}

// step runs fn, records the stage duration and fires ev on success.
func (r *run) step(stage string, ev Event, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		return err
	}
	d := time.Since(start)
	metrics.RecordStage(stage, d.Seconds())
	if _, err := r.fsm.Fire(ev); err != nil {
		return err
	}
	r.logger.Debug().Int64("duration(ms)", d.Milliseconds()).Msg(stage)
	return nil
}

func (r *run) execute(ctx context.Context, src string) error {
	opts := r.p.opts
	framesDir := filepath.Join(r.res.WorkDir, FramesDir)
	outDir := filepath.Join(r.res.WorkDir, InpaintedDir)

	err := r.step("acquire", EventAcquire, func() error {
		s, err := opts.Acquirer.Acquire(ctx, src)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAcquire, err)
		}
		r.res.Source = s
		return nil
	})
	if err != nil {
		return err
	}

	err = r.step("probe", EventProbe, func() error {
		meta, err := opts.Media.Probe(ctx, r.res.Source.Path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProbe, err)
		}
		r.res.Meta = meta
		r.logger.Info().
			Int("width", meta.Width).
			Int("height", meta.Height).
			Str("codec", meta.Codec).
			Str("pix_fmt", meta.PixelFormat).
			Str("frame_rate", meta.FrameRate).
			Bool("audio", meta.HasAudio).
			Msg("probe")
		return nil
	})
	if err != nil {
		return err
	}

	var names []string
	err = r.step("extract", EventExtract, func() error {
		var err error
		names, err = opts.Media.ExtractFrames(ctx, r.res.Source.Path, framesDir)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExtract, err)
		}
		if len(names) == 0 {
			return fmt.Errorf("%w: no frames", ErrExtract)
		}
		r.res.Frames = len(names)
		r.res.ExpectedFrames = r.res.Meta.ExpectedFrames()
		if FrameCountDrift(r.res.ExpectedFrames, len(names)) {
			r.logger.Warn().
				Int("extracted", len(names)).
				Int("expected", r.res.ExpectedFrames).
				Float64("duration", r.res.Meta.Duration).
				Float64("fps", r.res.Meta.FPS).
				Msg("frame count differs from duration")
		}
		return nil
	})
	if err != nil {
		return err
	}

	var prepared *preparedMask
	err = r.step("mask", EventPrepareMask, func() error {
		var err error
		prepared, err = r.prepareMask(ctx, framesDir, names)
		if err != nil {
			return fmt.Errorf("%w: prepare mask: %w", ErrInpaint, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer prepared.Close()

	err = r.step("inpaint", EventInpaint, func() error {
		return r.inpaint(ctx, prepared, framesDir, outDir, names)
	})
	if err != nil {
		return err
	}

	if opts.Debug {
		if err := writeDebugArtifacts(prepared, outDir); err != nil {
			r.logger.Warn().Err(err).Msg("debug artifacts")
		}
	}

	err = r.step("reconstruct", EventReconstruct, func() error {
		out, err := opts.Media.Rebuild(ctx, outDir, r.res.Source.Path, r.res.Meta, opts.OutputDir)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrReconstruct, err)
		}
		r.res.Output = out
		return nil
	})
	if err != nil {
		return err
	}

	_, err = r.fsm.Fire(EventFinish)
	return err
}

// FrameCountDrift reports whether an extracted frame count is more than one
// frame away from the count expected from the stream duration. An unknown
// expectation never drifts.
func FrameCountDrift(expected, extracted int) bool {
	if expected <= 0 {
		return false
	}
	d := expected - extracted
	return d > 1 || d < -1
}

func (r *run) inpaint(ctx context.Context, prepared *preparedMask, framesDir, outDir string, names []string) error {
	opts := r.p.opts

	var onFrame func(inpaint.FrameResult)
	if opts.Progress != nil {
		bar := progressbar.NewOptions(len(names),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("inpainting"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		defer bar.Finish()
		onFrame = func(inpaint.FrameResult) { bar.Add(1) }
	}

	engine, err := inpaint.NewEngine(inpaint.Options{
		Backend:  opts.Backend,
		Composer: prepared.composer,
		Radius:   opts.Mask.InpaintRadius,
		Workers:  opts.Workers,
		OnFrame:  onFrame,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInpaint, err)
	}

	stats, err := engine.Run(ctx, framesDir, outDir, names)
	r.res.Stats = stats
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInpaint, err)
	}

	written, err := media.ListFrames(outDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInpaint, err)
	}
	if len(written) != len(names) {
		return fmt.Errorf("%w: wrote %d frames, extracted %d", ErrInpaint, len(written), len(names))
	}
	return nil
}

// preparedMask holds the rasters shared read-only by every frame.
type preparedMask struct {
	first    gocv.Mat
	union    *gocv.Mat
	geometry *gocv.Mat
	composer *mask.Composer
}

func (m *preparedMask) Close() {
	if m == nil {
		return
	}
	if m.composer != nil {
		m.composer.Close()
	}
	for _, mat := range []*gocv.Mat{m.union, m.geometry} {
		if mat != nil {
			mat.Close()
		}
	}
	m.first.Close()
}

func (r *run) prepareMask(ctx context.Context, framesDir string, names []string) (*preparedMask, error) {
	opts := r.p.opts
	params := opts.Mask.Params()

	first := gocv.IMRead(filepath.Join(framesDir, names[0]), gocv.IMReadColor)
	if first.Empty() {
		first.Close()
		return nil, fmt.Errorf("%w: %s", inpaint.ErrUnreadableFrame, names[0])
	}
	pm := &preparedMask{first: first}
	size := image.Pt(first.Cols(), first.Rows())

	fail := func(err error) (*preparedMask, error) {
		pm.Close()
		return nil, err
	}

	backend := opts.Backend
	if params.Mode.Enabled() {
		paths := make([]string, len(names))
		for i, n := range names {
			paths[i] = filepath.Join(framesDir, n)
		}
		u, err := mask.BuildUnionMask(ctx, paths, params, backend.DetectMask)
		if err != nil {
			return fail(fmt.Errorf("union mask: %w", err))
		}
		pm.union = &u
	}

	if g := opts.Mask.Geometry; g != nil {
		m, err := mask.BuildGeometryMask(size, *g)
		if err != nil {
			return fail(fmt.Errorf("geometry mask: %w", err))
		}
		pm.geometry = &m
	}

	c, err := mask.NewComposer(ctx, mask.ComposerConfig{
		Params:   params,
		Size:     size,
		Regions:  opts.Mask.ExtraRegions,
		Geometry: pm.geometry,
		Union:    pm.union,
		Renderer: opts.Renderer,
		Fallback: func(f gocv.Mat) (gocv.Mat, error) { return backend.DetectMask(f, params) },
	})
	if err != nil {
		return fail(err)
	}
	pm.composer = c

	ev := r.logger.Info().
		Str("mode", string(params.Mode)).
		Int("regions", len(opts.Mask.ExtraRegions)).
		Bool("geometry", pm.geometry != nil)
	if pm.union != nil {
		ev = ev.Float64("union_coverage", mask.Coverage(*pm.union))
	}
	ev.Msg("mask prepared")
	return pm, nil
}
