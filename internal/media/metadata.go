package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Metadata holds the stream parameters needed to rebuild a video faithfully.
// It is produced once per run and never mutated.
type Metadata struct {
	Width          int
	Height         int
	PixelFormat    string
	Codec          string
	ColorPrimaries string
	ColorTransfer  string
	ColorSpace     string
	// FrameRate is the raw r_frame_rate rational, e.g. "30000/1001".
	FrameRate string
	FPS       float64
	Duration  float64
	HasAudio  bool
}

// ExpectedFrames estimates the frame count from duration and frame rate.
func (m Metadata) ExpectedFrames() int {
	if m.FPS <= 0 || m.Duration <= 0 {
		return 0
	}
	return int(m.Duration*m.FPS + 0.5)
}

// probeOutput is the subset of `ffprobe -print_format json` we consume.
type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Filename string `json:"filename"`
	Duration string `json:"duration"`
}

type probeStream struct {
	CodecType      string `json:"codec_type"`
	CodecName      string `json:"codec_name"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	PixFmt         string `json:"pix_fmt"`
	ColorPrimaries string `json:"color_primaries"`
	ColorTransfer  string `json:"color_transfer"`
	ColorSpace     string `json:"color_space"`
	RFrameRate     string `json:"r_frame_rate"`
	AvgFrameRate   string `json:"avg_frame_rate"`
	Duration       string `json:"duration"`
}

// ParseProbe builds Metadata from ffprobe JSON output. A missing video stream
// or non-positive dimensions are errors.
func ParseProbe(data []byte) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var (
		meta  Metadata
		video *probeStream
	)
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			meta.HasAudio = true
		}
	}
	if video == nil {
		return Metadata{}, errors.New("no video stream")
	}
	if video.Width <= 0 || video.Height <= 0 {
		return Metadata{}, fmt.Errorf("invalid video dimensions %dx%d", video.Width, video.Height)
	}

	meta.Width = video.Width
	meta.Height = video.Height
	meta.Codec = video.CodecName
	meta.PixelFormat = tag(video.PixFmt)
	meta.ColorPrimaries = tag(video.ColorPrimaries)
	meta.ColorTransfer = tag(video.ColorTransfer)
	meta.ColorSpace = tag(video.ColorSpace)

	rate := video.RFrameRate
	if ParseFrameRate(rate) <= 0 {
		rate = video.AvgFrameRate
	}
	if fps := ParseFrameRate(rate); fps > 0 {
		meta.FrameRate = strings.TrimSpace(rate)
		meta.FPS = fps
	}

	meta.Duration = parseSeconds(video.Duration)
	if meta.Duration <= 0 {
		meta.Duration = parseSeconds(out.Format.Duration)
	}
	return meta, nil
}

// tag drops values ffprobe uses for "not set".
func tag(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "unknown", "unspecified", "N/A", "reserved":
		return ""
	}
	return v
}

// ParseFrameRate handles fractional formats like "24000/1001" or "23.976"
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err1 != nil || err2 != nil || d <= 0 {
			return 0
		}
		return n / d
	}
	fps, err := strconv.ParseFloat(s, 64)
	if err != nil || fps < 0 {
		return 0
	}
	return fps
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
