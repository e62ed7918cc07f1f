package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeJSON = `{
  "streams": [
    {
      "codec_type": "video",
      "codec_name": "h264",
      "width": 704,
      "height": 1248,
      "pix_fmt": "yuv420p",
      "color_primaries": "bt709",
      "color_transfer": "bt709",
      "color_space": "bt709",
      "r_frame_rate": "30/1",
      "avg_frame_rate": "30/1",
      "duration": "4.000000"
    },
    {
      "codec_type": "audio",
      "codec_name": "aac"
    }
  ],
  "format": {"filename": "in.mp4", "duration": "4.021000"}
}`

func TestParseProbe(t *testing.T) {
	meta, err := ParseProbe([]byte(probeJSON))
	require.NoError(t, err)

	assert.Equal(t, Metadata{
		Width:          704,
		Height:         1248,
		PixelFormat:    "yuv420p",
		Codec:          "h264",
		ColorPrimaries: "bt709",
		ColorTransfer:  "bt709",
		ColorSpace:     "bt709",
		FrameRate:      "30/1",
		FPS:            30,
		Duration:       4,
		HasAudio:       true,
	}, meta)
	assert.Equal(t, 120, meta.ExpectedFrames())
}

func TestParseProbeFallbacks(t *testing.T) {
	data := `{"streams":[{"codec_type":"video","codec_name":"vp9","width":320,"height":240,
		"color_primaries":"unknown","r_frame_rate":"0/0","avg_frame_rate":"24000/1001"}],
		"format":{"duration":"2.5"}}`

	meta, err := ParseProbe([]byte(data))
	require.NoError(t, err)
	assert.Empty(t, meta.ColorPrimaries)
	assert.Empty(t, meta.PixelFormat)
	assert.Equal(t, "24000/1001", meta.FrameRate)
	assert.InDelta(t, 23.976, meta.FPS, 0.001)
	assert.Equal(t, 2.5, meta.Duration)
	assert.False(t, meta.HasAudio)
}

func TestParseProbeErrors(t *testing.T) {
	_, err := ParseProbe([]byte(`{"streams":[{"codec_type":"audio"}]}`))
	assert.Error(t, err)

	_, err = ParseProbe([]byte(`{"streams":[{"codec_type":"video","width":0,"height":10}]}`))
	assert.Error(t, err)

	_, err = ParseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	tests := map[string]float64{
		"30/1":       30,
		"30000/1001": 29.97002997002997,
		"25":         25,
		"0/0":        0,
		"":           0,
		"abc":        0,
	}
	for in, want := range tests {
		assert.InDelta(t, want, ParseFrameRate(in), 1e-9, in)
	}
}

func TestSelectEncoder(t *testing.T) {
	tests := []struct {
		codec string
		id    string
		args  []string
	}{
		{"h264", "libx264", []string{"-preset", "medium", "-crf", "18"}},
		{"hevc", "libx265", []string{"-preset", "medium", "-crf", "20"}},
		{"H265", "libx265", []string{"-preset", "medium", "-crf", "20"}},
		{"vp9", "libvpx-vp9", []string{"-crf", "30", "-b:v", "0"}},
		{"mpeg4", "libx264", []string{"-preset", "medium", "-crf", "18"}},
		{"", "libx264", []string{"-preset", "medium", "-crf", "18"}},
	}
	for _, tt := range tests {
		enc := SelectEncoder(tt.codec)
		assert.Equal(t, tt.id, enc.ID, tt.codec)
		assert.Equal(t, tt.args, enc.Args, tt.codec)
	}
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "clip_ai_rmwm.mp4", OutputName("/tmp/in/clip.mov"))
	assert.Equal(t, "abc_ai_rmwm.mp4", OutputName("abc"))
}

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func TestRebuildArgsColorRoundTrip(t *testing.T) {
	meta := Metadata{
		Width: 1920, Height: 1080, Codec: "hevc",
		PixelFormat:    "yuv420p10le",
		ColorPrimaries: "bt2020",
		ColorTransfer:  "smpte2084",
		ColorSpace:     "bt2020nc",
		FrameRate:      "30000/1001",
		HasAudio:       true,
	}
	args := RebuildArgs(RebuildOptions{FramesDir: "/w/out", Original: "/src/in.mp4", Output: "/o/in_ai_rmwm.mp4", Meta: meta})

	for flag, want := range map[string]string{
		"-color_primaries": "bt2020",
		"-color_trc":       "smpte2084",
		"-colorspace":      "bt2020nc",
		"-pix_fmt":         "yuv420p10le",
		"-framerate":       "30000/1001",
		"-c:v":             "libx265",
		"-c:a":             "copy",
	} {
		got, ok := argValue(args, flag)
		require.True(t, ok, flag)
		assert.Equal(t, want, got, flag)
	}
	assert.Contains(t, args, filepath.Join("/w/out", FramePattern))
	assert.Contains(t, args, "1:a?")
	assert.Equal(t, "/o/in_ai_rmwm.mp4", args[len(args)-1])
}

func TestRebuildArgsOmitsMissingTags(t *testing.T) {
	args := RebuildArgs(RebuildOptions{FramesDir: "f", Original: "in.mp4", Output: "out.mp4", Meta: Metadata{Codec: "h264"}})

	for _, flag := range []string{"-color_primaries", "-color_trc", "-colorspace", "-pix_fmt", "-framerate", "-c:a"} {
		_, ok := argValue(args, flag)
		assert.False(t, ok, flag)
	}
	assert.NotContains(t, args, "in.mp4")
}

func TestListFrames(t *testing.T) {
	dir := t.TempDir()
	for _, i := range []int{3, 1, 2} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, FrameName(i)), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	names, err := ListFrames(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame_000001.png", "frame_000002.png", "frame_000003.png"}, names)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FrameName(5)), []byte("x"), 0o644))
	_, err = ListFrames(dir)
	assert.ErrorContains(t, err, "gap")
}

func TestFFmpegRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffmpeg test in short mode")
	}
	ff := NewFFmpeg("", "")
	if err := ff.Check(); err != nil {
		t.Skip("ffmpeg not available")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "sample.mp4")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=size=704x1248:rate=30:duration=1",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-color_primaries", "bt709", "-color_trc", "bt709", "-colorspace", "bt709",
		src)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate sample video: %v %s", err, out)
	}

	ctx := context.Background()
	meta, err := ff.Probe(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 704, meta.Width)
	assert.Equal(t, 1248, meta.Height)
	assert.Equal(t, "h264", meta.Codec)

	frames, err := ff.ExtractFrames(ctx, src, filepath.Join(dir, "frames"))
	require.NoError(t, err)
	assert.Len(t, frames, 30)
	assert.InDelta(t, meta.ExpectedFrames(), len(frames), 1)

	out, err := ff.Rebuild(ctx, filepath.Join(dir, "frames"), src, meta, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, "sample_ai_rmwm.mp4", filepath.Base(out))

	rebuilt, err := ff.Probe(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, meta.Width, rebuilt.Width)
	assert.Equal(t, meta.Height, rebuilt.Height)
	assert.Equal(t, meta.PixelFormat, rebuilt.PixelFormat)
	assert.Equal(t, "bt709", meta.ColorPrimaries)
	assert.Equal(t, meta.ColorPrimaries, rebuilt.ColorPrimaries)
	assert.Equal(t, meta.ColorTransfer, rebuilt.ColorTransfer)
	assert.Equal(t, meta.ColorSpace, rebuilt.ColorSpace)
	assert.InDelta(t, meta.FPS, rebuilt.FPS, 0.01)

	again, err := ff.ExtractFrames(ctx, out, filepath.Join(dir, "again"))
	require.NoError(t, err)
	assert.Len(t, again, len(frames))
}
