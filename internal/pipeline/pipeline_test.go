package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/cyber-nic/rm-watermarks-video/internal/acquire"
	"github.com/cyber-nic/rm-watermarks-video/internal/config"
	"github.com/cyber-nic/rm-watermarks-video/internal/inpaint"
	"github.com/cyber-nic/rm-watermarks-video/internal/mask"
	"github.com/cyber-nic/rm-watermarks-video/internal/media"
)

type fakeAcquirer struct {
	path string
	err  error
}

func (f fakeAcquirer) Acquire(_ context.Context, src string) (acquire.Source, error) {
	if f.err != nil {
		return acquire.Source{}, f.err
	}
	return acquire.Source{Path: f.path, Local: true}, nil
}

// fakeMedia writes synthetic frames and "rebuilds" by recording the frame
// names it was handed.
type fakeMedia struct {
	frames   int
	width    int
	height   int
	text     string
	probeErr error
	// duration overrides the probed duration when set.
	duration float64

	rebuilt []string
}

func (f *fakeMedia) Probe(context.Context, string) (media.Metadata, error) {
	if f.probeErr != nil {
		return media.Metadata{}, f.probeErr
	}
	d := f.duration
	if d == 0 {
		d = float64(f.frames) / 30
	}
	return media.Metadata{
		Width: f.width, Height: f.height,
		PixelFormat: "yuv420p", Codec: "h264",
		FrameRate: "30/1", FPS: 30,
		Duration: d,
	}, nil
}

func (f *fakeMedia) ExtractFrames(_ context.Context, _ string, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	for i := 1; i <= f.frames; i++ {
		m := gocv.NewMatWithSize(f.height, f.width, gocv.MatTypeCV8UC3)
		m.SetTo(gocv.NewScalar(60, 70, 80, 0))
		if f.text != "" {
			gocv.PutText(&m, f.text, image.Pt(f.width-150, f.height-30), gocv.FontHersheySimplex, 1.0, color.RGBA{R: 245, G: 245, B: 245, A: 255}, 2)
		}
		ok := gocv.IMWrite(filepath.Join(dir, media.FrameName(i)), m)
		m.Close()
		if !ok {
			return nil, errors.New("write frame")
		}
	}
	return media.ListFrames(dir)
}

func (f *fakeMedia) Rebuild(_ context.Context, framesDir, original string, _ media.Metadata, outDir string) (string, error) {
	names, err := media.ListFrames(framesDir)
	if err != nil {
		return "", err
	}
	f.rebuilt = names
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(outDir, media.OutputName(original))
	return out, os.WriteFile(out, []byte("mp4"), 0o644)
}

func newPipeline(t *testing.T, m *fakeMedia, opts Options) *Pipeline {
	t.Helper()
	if opts.Acquirer == nil {
		opts.Acquirer = fakeAcquirer{path: "/videos/clip.mp4"}
	}
	opts.Media = m
	opts.WorkDir = t.TempDir()
	opts.OutputDir = t.TempDir()
	opts.Workers = 2
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func TestRunPreservesFrameCount(t *testing.T) {
	fm := &fakeMedia{frames: 6, width: 320, height: 240}
	var progress bytes.Buffer
	p := newPipeline(t, fm, Options{
		Mask: config.MaskOptions{
			InpaintRadius: 3,
			DilatePx:      4,
			ExtraRegions:  []mask.Rect{{X: 10, Y: 10, W: 60, H: 30}},
		},
		Progress: &progress,
	})

	res, err := p.Run(context.Background(), "/videos/clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []State{
		StateIdle, StateAcquired, StateProbed, StateFramesExtracted,
		StateMaskPrepared, StateInpainted, StateReconstructed, StateDone,
	}, res.History)
	assert.Equal(t, 6, res.Frames)
	assert.Equal(t, 6, res.ExpectedFrames)
	assert.Equal(t, 6, res.Stats.Frames)
	assert.Equal(t, 6, res.Stats.Inpainted)
	assert.Len(t, fm.rebuilt, 6)
	assert.Equal(t, "clip_ai_rmwm.mp4", filepath.Base(res.Output))
	assert.FileExists(t, res.Output)
	assert.NoDirExists(t, res.WorkDir)
	assert.NotEmpty(t, res.RunID)
}

func TestRunEmptyMaskPassesFramesThrough(t *testing.T) {
	fm := &fakeMedia{frames: 3, width: 160, height: 120}
	p := newPipeline(t, fm, Options{KeepWorkDir: true})

	res, err := p.Run(context.Background(), "/videos/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Passthrough)
	assert.DirExists(t, res.WorkDir)

	for _, name := range fm.rebuilt {
		src, err := os.ReadFile(filepath.Join(res.WorkDir, FramesDir, name))
		require.NoError(t, err)
		dst, err := os.ReadFile(filepath.Join(res.WorkDir, InpaintedDir, name))
		require.NoError(t, err)
		assert.Equal(t, src, dst)
	}
}

func TestRunDebugArtifacts(t *testing.T) {
	fm := &fakeMedia{frames: 4, width: 640, height: 480, text: "logo"}
	p := newPipeline(t, fm, Options{
		Debug: true,
		Mask:  config.MaskOptions{Autodetect: "bottom-right", InpaintRadius: 3, DilatePx: 4, ExtraExpandPx: 6},
	})

	res, err := p.Run(context.Background(), "/videos/clip.mp4")
	require.NoError(t, err)

	inpainted := filepath.Join(res.WorkDir, InpaintedDir)
	assert.FileExists(t, filepath.Join(inpainted, DebugUnionMask))
	assert.FileExists(t, filepath.Join(inpainted, DebugOverlayName))
	assert.Len(t, fm.rebuilt, 4)
}

// countingBackend records detector calls and delegates to the gocv backend.
type countingBackend struct {
	inpaint.Gocv
	detects atomic.Int32
}

func (b *countingBackend) DetectMask(frame gocv.Mat, p mask.Params) (gocv.Mat, error) {
	b.detects.Add(1)
	return b.Gocv.DetectMask(frame, p)
}

func TestRunUnionMaskUsesBackendDetector(t *testing.T) {
	fm := &fakeMedia{frames: 5, width: 320, height: 240, text: "wm"}
	backend := &countingBackend{}
	p := newPipeline(t, fm, Options{
		Backend: backend,
		Mask:    config.MaskOptions{Autodetect: "bottom-right", InpaintRadius: 3, DilatePx: 4},
	})

	_, err := p.Run(context.Background(), "/videos/clip.mp4")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int(backend.detects.Load()), 5)
}

func TestRunFrameCountDrift(t *testing.T) {
	fm := &fakeMedia{frames: 3, width: 64, height: 64, duration: 1}
	p := newPipeline(t, fm, Options{})

	res, err := p.Run(context.Background(), "/videos/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, 30, res.ExpectedFrames)
	assert.True(t, FrameCountDrift(res.ExpectedFrames, res.Frames))
}

func TestFrameCountDrift(t *testing.T) {
	tests := []struct {
		expected, extracted int
		want                bool
	}{
		{120, 120, false},
		{120, 119, false},
		{120, 121, false},
		{120, 118, true},
		{120, 122, true},
		{0, 57, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FrameCountDrift(tt.expected, tt.extracted), "%d vs %d", tt.expected, tt.extracted)
	}
}

func TestRunFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		acq     Acquirer
		media   *fakeMedia
		want    error
		history []State
	}{
		{
			name:    "acquire",
			acq:     fakeAcquirer{err: boom},
			media:   &fakeMedia{frames: 1, width: 64, height: 64},
			want:    ErrAcquire,
			history: []State{StateIdle, StateFailed},
		},
		{
			name:    "probe",
			media:   &fakeMedia{frames: 1, width: 64, height: 64, probeErr: boom},
			want:    ErrProbe,
			history: []State{StateIdle, StateAcquired, StateFailed},
		},
		{
			name:    "no frames",
			media:   &fakeMedia{frames: 0, width: 64, height: 64},
			want:    ErrExtract,
			history: []State{StateIdle, StateAcquired, StateProbed, StateFailed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, tt.media, Options{Acquirer: tt.acq})
			res, err := p.Run(context.Background(), "/videos/clip.mp4")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, tt.history, res.History)
			assert.NoDirExists(t, res.WorkDir)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	fm := &fakeMedia{frames: 3, width: 64, height: 64}
	p := newPipeline(t, fm, Options{Mask: config.MaskOptions{ExtraRegions: []mask.Rect{{X: 1, Y: 1, W: 8, H: 8}}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := p.Run(ctx, "/videos/clip.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInpaint)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, res.State)
	assert.Nil(t, fm.rebuilt)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{
		Acquirer:  fakeAcquirer{},
		Media:     &fakeMedia{},
		WorkDir:   t.TempDir(),
		OutputDir: t.TempDir(),
		Mask:      config.MaskOptions{Autodetect: "sideways"},
	})
	assert.Error(t, err)
}

func TestDrawMaskOutline(t *testing.T) {
	frame := gocv.Zeros(100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()
	m := gocv.Zeros(100, 100, gocv.MatTypeCV8UC1)
	defer m.Close()

	same := DrawMaskOutline(frame, m)
	defer same.Close()
	assert.Equal(t, 0, gocv.CountNonZero(toGray(t, same)))

	gocv.Rectangle(&m, image.Rect(20, 20, 60, 60), mask.White, -1)
	out := DrawMaskOutline(frame, m)
	defer out.Close()
	assert.Greater(t, gocv.CountNonZero(toGray(t, out)), 0)
	assert.Equal(t, frame.Rows(), out.Rows())
}

func toGray(t *testing.T, m gocv.Mat) gocv.Mat {
	t.Helper()
	g := gocv.NewMat()
	t.Cleanup(func() { g.Close() })
	gocv.CvtColor(m, &g, gocv.ColorBGRToGray)
	return g
}
