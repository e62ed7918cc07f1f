package inpaint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/cyber-nic/rm-watermarks-video/internal/mask"
	"github.com/cyber-nic/rm-watermarks-video/internal/metrics"
)

// ErrUnreadableFrame is returned when a frame cannot be decoded. Skipping it
// would shift every later frame, so the run stops instead.
var ErrUnreadableFrame = errors.New("unreadable frame")

// FrameResult describes one processed frame.
type FrameResult struct {
	Index       int
	Name        string
	Passthrough bool
	Fallback    bool
	Duration    time.Duration
}

// Stats summarizes a Run.
type Stats struct {
	Frames      int
	Inpainted   int
	Passthrough int
	Fallbacks   int
}

// Options configures an Engine.
type Options struct {
	Backend  Backend
	Composer *mask.Composer
	Radius   int
	// Workers defaults to runtime.NumCPU().
	Workers int
	// OnFrame is called from worker goroutines after every frame.
	OnFrame func(FrameResult)
}

// Engine inpaints a frame sequence into a separate directory, keeping the
// file names.
type Engine struct {
	backend  Backend
	composer *mask.Composer
	radius   int
	workers  int
	onFrame  func(FrameResult)
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		opts.Backend = Gocv{}
	}
	if opts.Composer == nil {
		return nil, errors.New("mask composer required")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Engine{
		backend:  opts.Backend,
		composer: opts.Composer,
		radius:   ClampRadius(opts.Radius),
		workers:  opts.Workers,
		onFrame:  opts.OnFrame,
	}, nil
}

// Run processes every named frame of inDir into outDir. Frames are handled
// in parallel; each output is written to a temporary file and renamed into
// place so an interrupted run never leaves a torn frame behind.
func (e *Engine) Run(ctx context.Context, inDir, outDir string, names []string) (Stats, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Stats{}, fmt.Errorf("create output dir: %w", err)
	}

	var inpainted, passthrough, fallbacks atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.ProcessFrame(filepath.Join(inDir, name), filepath.Join(outDir, name))
			if err != nil {
				return err
			}
			res.Index = i + 1

			switch {
			case res.Passthrough:
				passthrough.Add(1)
				metrics.FramesProcessed.WithLabelValues("passthrough").Inc()
			default:
				inpainted.Add(1)
				metrics.FramesProcessed.WithLabelValues("inpainted").Inc()
			}
			if res.Fallback {
				fallbacks.Add(1)
				metrics.MaskFallbacks.Inc()
			}
			if e.onFrame != nil {
				e.onFrame(res)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := Stats{
		Frames:      int(inpainted.Load() + passthrough.Load()),
		Inpainted:   int(inpainted.Load()),
		Passthrough: int(passthrough.Load()),
		Fallbacks:   int(fallbacks.Load()),
	}
	return stats, err
}

// ProcessFrame inpaints a single frame from inPath into outPath. A frame
// whose mask is empty is copied byte for byte.
func (e *Engine) ProcessFrame(inPath, outPath string) (FrameResult, error) {
	start := time.Now()
	res := FrameResult{Name: filepath.Base(inPath)}

	frame := gocv.IMRead(inPath, gocv.IMReadColor)
	defer frame.Close()
	if frame.Empty() {
		return res, fmt.Errorf("%w: %s", ErrUnreadableFrame, inPath)
	}

	m, fallback, err := e.composer.Compose(frame)
	if err != nil {
		return res, fmt.Errorf("compose mask for %s: %w", res.Name, err)
	}
	defer m.Close()
	res.Fallback = fallback

	if gocv.CountNonZero(m) == 0 {
		data, err := os.ReadFile(inPath)
		if err != nil {
			return res, fmt.Errorf("%w: %s: %v", ErrUnreadableFrame, inPath, err)
		}
		if err := renameio.WriteFile(outPath, data, 0o644); err != nil {
			return res, fmt.Errorf("write frame %s: %w", outPath, err)
		}
		res.Passthrough = true
		res.Duration = time.Since(start)
		return res, nil
	}

	out, err := e.backend.Inpaint(frame, m, e.radius)
	if err != nil {
		return res, fmt.Errorf("inpaint %s: %w", res.Name, err)
	}
	defer out.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, out)
	if err != nil {
		return res, fmt.Errorf("encode %s: %w", res.Name, err)
	}
	defer buf.Close()
	if err := renameio.WriteFile(outPath, buf.GetBytes(), 0o644); err != nil {
		return res, fmt.Errorf("write frame %s: %w", outPath, err)
	}

	res.Duration = time.Since(start)
	log.Debug().
		Int64("duration(ms)", res.Duration.Milliseconds()).
		Bool("fallback", fallback).
		Float64("coverage", mask.Coverage(m)).
		Msg(res.Name)
	return res, nil
}
