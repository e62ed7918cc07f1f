package mask

import (
	"fmt"
	"image"
	"strings"

	"gocv.io/x/gocv"
)

// Mode selects the automatic detection strategy.
type Mode string

const (
	ModeNone        Mode = ""
	ModeTopLeft     Mode = "top-left"
	ModeTopRight    Mode = "top-right"
	ModeBottomLeft  Mode = "bottom-left"
	ModeBottomRight Mode = "bottom-right"
	ModeFullText    Mode = "full-text"
)

// ParseMode maps a config value to a Mode. Empty, "none", "null" and "off"
// disable automatic detection.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", "none", "null", "off", "false":
		return ModeNone, nil
	case ModeTopLeft, ModeTopRight, ModeBottomLeft, ModeBottomRight, ModeFullText:
		return m, nil
	}
	return ModeNone, fmt.Errorf("invalid autodetect mode %q", s)
}

// Enabled reports whether m requests automatic detection.
func (m Mode) Enabled() bool { return m != ModeNone }

// Params tunes detection and mask growth.
type Params struct {
	Mode          Mode
	DilatePx      int
	ExtraExpandPx int
}

func (p Params) dilate() int { return max(2, p.DilatePx) }

const (
	cornerWidthRatio  = 0.35
	cornerHeightRatio = 0.20

	bandRatio       = 0.22
	centerBandRatio = 0.16

	minComponentArea = 50
	minAspect        = 0.5
	maxAspect        = 8.0

	minCornerMSERArea = 50
	minBandMSERArea   = 80
	minBandCompArea   = 100
)

// Detect runs the detector selected by p.Mode on a single frame. With
// detection disabled it returns an empty mask.
func Detect(frame gocv.Mat, p Params) gocv.Mat {
	switch p.Mode {
	case ModeNone:
		return gocv.Zeros(frame.Rows(), frame.Cols(), gocv.MatTypeCV8UC1)
	case ModeFullText:
		return DetectFullText(frame, p)
	default:
		return DetectCorner(frame, p)
	}
}

// CornerRegion returns the quadrant searched for a corner mode.
func CornerRegion(size image.Point, m Mode) image.Rectangle {
	w := int(float64(size.X) * cornerWidthRatio)
	h := int(float64(size.Y) * cornerHeightRatio)

	var x, y int
	switch m {
	case ModeTopLeft:
	case ModeTopRight:
		x = size.X - w
	case ModeBottomLeft:
		y = size.Y - h
	default:
		x, y = size.X-w, size.Y-h
	}
	return image.Rect(x, y, x+w, y+h)
}

// TextBands returns the top, bottom and central horizontal bands searched in
// full-text mode.
func TextBands(size image.Point) []image.Rectangle {
	bh := int(float64(size.Y) * bandRatio)
	ch := int(float64(size.Y) * centerBandRatio)
	cy := (size.Y - ch) / 2
	return []image.Rectangle{
		image.Rect(0, 0, size.X, bh),
		image.Rect(0, size.Y-bh, size.X, size.Y),
		image.Rect(0, cy, size.X, cy+ch),
	}
}

// DetectCorner searches one corner of the frame for bright, low saturation
// overlays and light text strokes.
func DetectCorner(frame gocv.Mat, p Params) gocv.Mat {
	size := image.Pt(frame.Cols(), frame.Rows())
	out := gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8UC1)

	roiRect := CornerRegion(size, p.Mode)
	if roiRect.Empty() {
		return out
	}
	roi := frame.Region(roiRect)
	defer roi.Close()

	bgr := toBGR(roi)
	defer bgr.Close()
	gray := toGray(roi)
	defer gray.Close()

	cand := brightLowSaturation(bgr)
	defer cand.Close()

	tophat := topHatOtsu(gray, 9)
	defer tophat.Close()
	gocv.BitwiseOr(cand, tophat, &cand)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 60, 160)
	gocv.BitwiseOr(cand, edges, &cand)

	closeStrokes(&cand)

	roiArea := roiRect.Dx() * roiRect.Dy()
	for _, c := range components(cand) {
		area := c.Box.Dx() * c.Box.Dy()
		if area <= minComponentArea || float64(area) >= 0.5*float64(roiArea) {
			continue
		}
		aspect := float64(c.Box.Dx()) / float64(c.Box.Dy())
		if aspect < minAspect || aspect > maxAspect {
			continue
		}
		paint(&out, c.Box.Add(roiRect.Min), p.ExtraExpandPx)
	}

	for _, r := range mserBoxes(gray) {
		if r.Dx()*r.Dy() <= minCornerMSERArea {
			continue
		}
		paint(&out, r.Add(roiRect.Min), p.ExtraExpandPx)
	}

	if gocv.CountNonZero(out) > 0 {
		Dilate(&out, p.dilate())
	}
	return out
}

// DetectFullText searches three horizontal bands for text-like blobs.
func DetectFullText(frame gocv.Mat, p Params) gocv.Mat {
	size := image.Pt(frame.Cols(), frame.Rows())
	out := gocv.Zeros(size.Y, size.X, gocv.MatTypeCV8UC1)

	for _, band := range TextBands(size) {
		if band.Empty() {
			continue
		}
		detectBand(frame, band, p, &out)
	}

	Dilate(&out, p.dilate())
	return out
}

func detectBand(frame gocv.Mat, band image.Rectangle, p Params, out *gocv.Mat) {
	roi := frame.Region(band)
	defer roi.Close()
	gray := toGray(roi)
	defer gray.Close()

	cand := topHatOtsu(gray, 11)
	defer cand.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 60, 160)
	gocv.BitwiseOr(cand, edges, &cand)

	for _, r := range mserBoxes(gray) {
		if r.Dx()*r.Dy() <= minBandMSERArea {
			continue
		}
		paint(out, r.Add(band.Min), p.ExtraExpandPx)
	}

	for _, c := range components(cand) {
		if c.Area <= minBandCompArea {
			continue
		}
		paint(out, c.Box.Add(band.Min), 0)
	}
}

// brightLowSaturation keeps pixels with V in [180,255] and S in [0,90].
func brightLowSaturation(bgr gocv.Mat) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	lower := gocv.NewScalar(0, 0, 180, 0)
	upper := gocv.NewScalar(180, 90, 255, 0)

	out := gocv.NewMat()
	gocv.InRangeWithScalar(hsv, lower, upper, &out)
	return out
}

// topHatOtsu isolates small bright structures and binarizes them with an
// Otsu threshold.
func topHatOtsu(gray gocv.Mat, ksize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(ksize, ksize))
	defer kernel.Close()

	tophat := gocv.NewMat()
	defer tophat.Close()
	gocv.MorphologyEx(gray, &tophat, gocv.MorphTophat, kernel)

	out := gocv.NewMat()
	// the threshold argument is ignored by Otsu
	gocv.Threshold(tophat, &out, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)
	return out
}

// closeStrokes performs a 5x3 closing with two iterations.
func closeStrokes(m *gocv.Mat) {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 3))
	defer kernel.Close()
	for i := 0; i < 2; i++ {
		gocv.Dilate(*m, m, kernel)
	}
	for i := 0; i < 2; i++ {
		gocv.Erode(*m, m, kernel)
	}
}

type component struct {
	Box  image.Rectangle
	Area int
}

// stats columns: left, top, width, height, area
func components(bin gocv.Mat) []component {
	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(bin, &labels, &stats, &centroids)
	out := make([]component, 0, n)
	for i := 1; i < n; i++ {
		x := int(stats.GetIntAt(i, 0))
		y := int(stats.GetIntAt(i, 1))
		w := int(stats.GetIntAt(i, 2))
		h := int(stats.GetIntAt(i, 3))
		if w <= 0 || h <= 0 {
			continue
		}
		out = append(out, component{
			Box:  image.Rect(x, y, x+w, y+h),
			Area: int(stats.GetIntAt(i, 4)),
		})
	}
	return out
}

// mserBoxes approximates each MSER keypoint by the square spanned by its
// diameter.
func mserBoxes(gray gocv.Mat) []image.Rectangle {
	mser := gocv.NewMSER()
	defer mser.Close()

	bounds := image.Rect(0, 0, gray.Cols(), gray.Rows())
	kps := mser.Detect(gray)
	out := make([]image.Rectangle, 0, len(kps))
	for _, kp := range kps {
		half := kp.Size / 2
		r := image.Rect(int(kp.X-half), int(kp.Y-half), int(kp.X+half+0.5), int(kp.Y+half+0.5)).Intersect(bounds)
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// paint fills r grown by expand pixels on every side, clipped to the mask.
func paint(m *gocv.Mat, r image.Rectangle, expand int) {
	if expand > 0 {
		r = r.Inset(-expand)
	}
	r = r.Intersect(image.Rect(0, 0, m.Cols(), m.Rows()))
	if r.Empty() {
		return
	}
	gocv.Rectangle(m, r, White, -1)
}

func toGray(m gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	switch m.Channels() {
	case 1:
		m.CopyTo(&out)
	case 4:
		gocv.CvtColor(m, &out, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(m, &out, gocv.ColorBGRToGray)
	}
	return out
}

func toBGR(m gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	switch m.Channels() {
	case 1:
		gocv.CvtColor(m, &out, gocv.ColorGrayToBGR)
	case 4:
		gocv.CvtColor(m, &out, gocv.ColorBGRAToBGR)
	default:
		m.CopyTo(&out)
	}
	return out
}
