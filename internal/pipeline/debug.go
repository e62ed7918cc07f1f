package pipeline

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"

	"gocv.io/x/gocv"
)

var overlayColor = color.RGBA{R: 255, A: 255}

// writeDebugArtifacts saves the union mask (when detection ran) and the first
// frame with the outline of its mask drawn on top.
func writeDebugArtifacts(pm *preparedMask, dir string) error {
	var errs []error
	if pm.union != nil && !pm.union.Empty() {
		path := filepath.Join(dir, DebugUnionMask)
		if !gocv.IMWrite(path, *pm.union) {
			errs = append(errs, fmt.Errorf("write %s", path))
		}
	}

	m, _, err := pm.composer.Compose(pm.first)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	defer m.Close()

	overlay := DrawMaskOutline(pm.first, m)
	defer overlay.Close()
	path := filepath.Join(dir, DebugOverlayName)
	if !gocv.IMWrite(path, overlay) {
		errs = append(errs, fmt.Errorf("write %s", path))
	}
	return errors.Join(errs...)
}

// DrawMaskOutline returns a copy of frame with the external contours of m
// drawn in red.
func DrawMaskOutline(frame, m gocv.Mat) gocv.Mat {
	out := frame.Clone()
	if m.Empty() || gocv.CountNonZero(m) == 0 {
		return out
	}
	contours := gocv.FindContours(m, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	gocv.DrawContours(&out, contours, -1, overlayColor, 2)
	return out
}
