package inpaint

import (
	"errors"

	"github.com/cyber-nic/rm-watermarks-video/internal/mask"
	"gocv.io/x/gocv"
)

const (
	MinRadius = 1
	MaxRadius = 16
	// the second pass runs two pixels wider, up to this bound
	maxSecondRadius = 18
)

// Backend detects watermark masks and fills them in.
type Backend interface {
	DetectMask(frame gocv.Mat, p mask.Params) (gocv.Mat, error)
	Inpaint(frame, m gocv.Mat, radius int) (gocv.Mat, error)
}

// ClampRadius bounds r to [MinRadius, MaxRadius].
func ClampRadius(r int) int {
	return min(max(r, MinRadius), MaxRadius)
}

// Radii returns the radii of the Telea and Navier-Stokes passes.
func Radii(r int) (first, second int) {
	return ClampRadius(r), min(max(r+2, MinRadius), maxSecondRadius)
}

// Gocv is the in-process OpenCV backend.
type Gocv struct{}

func (Gocv) DetectMask(frame gocv.Mat, p mask.Params) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), errors.New("empty frame")
	}
	return mask.Detect(frame, p), nil
}

// Inpaint removes the masked pixels with a fast marching pass followed by a
// Navier-Stokes pass over its output. The order matters: running NS first on
// unfilled pixels rings at the mask boundary.
func (Gocv) Inpaint(frame, m gocv.Mat, radius int) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), errors.New("empty frame")
	}
	if m.Rows() != frame.Rows() || m.Cols() != frame.Cols() {
		return gocv.NewMat(), errors.New("mask and frame sizes differ")
	}
	r1, r2 := Radii(radius)

	first := gocv.NewMat()
	defer first.Close()
	gocv.Inpaint(frame, m, &first, float32(r1), gocv.Telea)

	out := gocv.NewMat()
	gocv.Inpaint(first, m, &out, float32(r2), gocv.NS)
	return out, nil
}
