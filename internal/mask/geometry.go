package mask

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"gocv.io/x/gocv"
)

// White is the value painted into binary masks.
var White = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Rect is an explicit pixel rectangle.
type Rect struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
	W int `yaml:"w" json:"w"`
	H int `yaml:"h" json:"h"`
}

// Image converts r into an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Position anchors a percentage rectangle or a mask template inside the frame.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
	Center      Position = "center"
	Top         Position = "top"
	Bottom      Position = "bottom"
	Left        Position = "left"
	Right       Position = "right"
)

// gravity names accepted as aliases, as used by mask template configs
var gravities = map[string]Position{
	"north-west": TopLeft,
	"north-east": TopRight,
	"south-west": BottomLeft,
	"south-east": BottomRight,
	"north":      Top,
	"south":      Bottom,
	"west":       Left,
	"east":       Right,
	"centre":     Center,
}

// ParsePosition accepts both position presets and gravity names.
func ParsePosition(s string) (Position, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if p, ok := gravities[s]; ok {
		return p, nil
	}
	switch p := Position(s); p {
	case TopLeft, TopRight, BottomLeft, BottomRight, Center, Top, Bottom, Left, Right:
		return p, nil
	case "":
		return BottomRight, nil
	}
	return "", fmt.Errorf("invalid position %q", s)
}

// Geometry describes a manual mask. Exactly one of Rect, the percentage
// fields, or File is expected to be set.
type Geometry struct {
	Rect *Rect `yaml:"rect,omitempty"`

	Position      string  `yaml:"position,omitempty"`
	WidthPercent  float64 `yaml:"width_percent,omitempty"`
	HeightPercent float64 `yaml:"height_percent,omitempty"`
	Margin        int     `yaml:"margin,omitempty"`

	// File is a grayscale mask template placed inside the frame according to
	// Position (or its gravity alias). Larger templates are cropped.
	File string `yaml:"file,omitempty"`
}

// IsZero reports whether g carries no geometry at all.
func (g Geometry) IsZero() bool {
	return g.Rect == nil && g.File == "" && g.WidthPercent <= 0 && g.HeightPercent <= 0
}

// Resolve converts a rectangle or percentage geometry into absolute pixel
// coordinates clipped to the frame.
func (g Geometry) Resolve(size image.Point) (image.Rectangle, error) {
	if size.X <= 0 || size.Y <= 0 {
		return image.Rectangle{}, fmt.Errorf("invalid frame size %dx%d", size.X, size.Y)
	}
	frame := image.Rect(0, 0, size.X, size.Y)

	if g.Rect != nil {
		return g.Rect.Image().Intersect(frame), nil
	}
	if g.WidthPercent <= 0 || g.HeightPercent <= 0 {
		return image.Rectangle{}, errors.New("geometry needs a rect or positive width/height percentages")
	}

	pos, err := ParsePosition(g.Position)
	if err != nil {
		return image.Rectangle{}, err
	}
	box := image.Pt(
		int(math.Round(float64(size.X)*g.WidthPercent/100)),
		int(math.Round(float64(size.Y)*g.HeightPercent/100)),
	)
	tl := anchor(pos, size, box, g.Margin)
	return image.Rectangle{Min: tl, Max: tl.Add(box)}.Intersect(frame), nil
}

// anchor returns the top-left corner of a box of the given size placed at pos.
func anchor(pos Position, frame, box image.Point, margin int) image.Point {
	left, right := margin, frame.X-box.X-margin
	top, bottom := margin, frame.Y-box.Y-margin
	midX, midY := (frame.X-box.X)/2, (frame.Y-box.Y)/2

	switch pos {
	case TopLeft:
		return image.Pt(left, top)
	case TopRight:
		return image.Pt(right, top)
	case BottomLeft:
		return image.Pt(left, bottom)
	case BottomRight:
		return image.Pt(right, bottom)
	case Top:
		return image.Pt(midX, top)
	case Bottom:
		return image.Pt(midX, bottom)
	case Left:
		return image.Pt(left, midY)
	case Right:
		return image.Pt(right, midY)
	default:
		return image.Pt(midX, midY)
	}
}

// BuildGeometryMask rasterizes g into a single channel binary mask of the
// given size. The result is deterministic for identical inputs.
func BuildGeometryMask(size image.Point, g Geometry) (gocv.Mat, error) {
	if size.X <= 0 || size.Y <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid frame size %dx%d", size.X, size.Y)
	}

	if g.File != "" {
		pos, err := ParsePosition(g.Position)
		if err != nil {
			return gocv.NewMat(), err
		}
		tpl := gocv.IMRead(g.File, gocv.IMReadGrayScale)
		defer tpl.Close()
		if tpl.Empty() {
			return gocv.NewMat(), fmt.Errorf("read mask template %s", g.File)
		}
		return placeTemplate(tpl, size, pos), nil
	}

	r, err := g.Resolve(size)
	if err != nil {
		return gocv.NewMat(), err
	}
	out := gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8UC1)
	if !r.Empty() {
		gocv.Rectangle(&out, r, White, -1)
	}
	return out, nil
}

// placeTemplate copies a template into an empty mask at the given gravity,
// cropping whatever falls outside the frame, then binarizes it.
func placeTemplate(tpl gocv.Mat, size image.Point, pos Position) gocv.Mat {
	out := gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8UC1)

	box := image.Pt(tpl.Cols(), tpl.Rows())
	off := anchor(pos, size, box, 0)
	dst := image.Rectangle{Min: off, Max: off.Add(box)}.Intersect(image.Rect(0, 0, size.X, size.Y))
	if dst.Empty() {
		return out
	}
	src := dst.Sub(off)

	srcROI := tpl.Region(src)
	defer srcROI.Close()
	dstROI := out.Region(dst)
	defer dstROI.Close()
	srcROI.CopyTo(&dstROI)

	gocv.Threshold(out, &out, 127, 255, gocv.ThresholdBinary)
	return out
}
