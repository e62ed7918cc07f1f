package mask

import (
	"image"

	"gocv.io/x/gocv"
)

// Dilate grows the set pixels of m in place with a px by px rectangular
// kernel. Larger px never yields a smaller mask.
func Dilate(m *gocv.Mat, px int) {
	if px < 1 || m.Empty() {
		return
	}
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(px, px))
	defer kernel.Close()
	gocv.Dilate(*m, m, kernel)
}

// Coverage is the fraction of set pixels in a single channel mask.
func Coverage(m gocv.Mat) float64 {
	total := m.Rows() * m.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(m)) / float64(total)
}

// orInto ORs src into dst, resizing src with nearest neighbour sampling when
// the sizes differ.
func orInto(dst *gocv.Mat, src gocv.Mat) {
	if src.Rows() == dst.Rows() && src.Cols() == dst.Cols() {
		gocv.BitwiseOr(*dst, src, dst)
		return
	}
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(dst.Cols(), dst.Rows()), 0, 0, gocv.InterpolationNearestNeighbor)
	gocv.BitwiseOr(*dst, resized, dst)
}
