package media

import (
	"path/filepath"
	"strings"
)

// OutputSuffix is appended to the source base name of every rebuilt video.
const OutputSuffix = "_ai_rmwm.mp4"

// Encoder is an ffmpeg video encoder and its quality arguments.
type Encoder struct {
	ID   string
	Args []string
}

// SelectEncoder re-encodes within the source codec family; anything else
// falls back to H.264.
func SelectEncoder(codec string) Encoder {
	switch strings.ToLower(strings.TrimSpace(codec)) {
	case "hevc", "h265":
		return Encoder{ID: "libx265", Args: []string{"-preset", "medium", "-crf", "20"}}
	case "vp9":
		return Encoder{ID: "libvpx-vp9", Args: []string{"-crf", "30", "-b:v", "0"}}
	default:
		return Encoder{ID: "libx264", Args: []string{"-preset", "medium", "-crf", "18"}}
	}
}

// OutputName derives the rebuilt video's file name from the source path.
func OutputName(src string) string {
	base := filepath.Base(src)
	return strings.TrimSuffix(base, filepath.Ext(base)) + OutputSuffix
}

// RebuildOptions describes one reconstruction.
type RebuildOptions struct {
	FramesDir string
	Original  string
	Output    string
	Meta      Metadata
}

// RebuildArgs builds the ffmpeg arguments that mux the frame sequence with
// the original audio. Pixel format and color tags are only emitted when the
// source carried them.
func RebuildArgs(o RebuildOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}

	if o.Meta.FrameRate != "" {
		args = append(args, "-framerate", o.Meta.FrameRate)
	}
	args = append(args, "-start_number", "1", "-i", filepath.Join(o.FramesDir, FramePattern))
	if o.Meta.HasAudio {
		args = append(args, "-i", o.Original)
	}

	args = append(args, "-map", "0:v:0")
	if o.Meta.HasAudio {
		args = append(args, "-map", "1:a?", "-c:a", "copy")
	}

	enc := SelectEncoder(o.Meta.Codec)
	args = append(args, "-c:v", enc.ID)
	args = append(args, enc.Args...)

	if o.Meta.PixelFormat != "" {
		args = append(args, "-pix_fmt", o.Meta.PixelFormat)
	}
	args = append(args, ColorArgs(o.Meta)...)
	if o.Meta.FrameRate != "" {
		args = append(args, "-r", o.Meta.FrameRate)
	}

	args = append(args, "-movflags", "+faststart", "-f", "mp4", o.Output)
	return args
}

// ColorArgs returns the -color_primaries, -color_trc and -colorspace pairs for
// the tags present in m.
func ColorArgs(m Metadata) []string {
	var args []string
	if m.ColorPrimaries != "" {
		args = append(args, "-color_primaries", m.ColorPrimaries)
	}
	if m.ColorTransfer != "" {
		args = append(args, "-color_trc", m.ColorTransfer)
	}
	if m.ColorSpace != "" {
		args = append(args, "-colorspace", m.ColorSpace)
	}
	return args
}
