package decision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// RotateExpand rotates src about its center by angle degrees
// (counter-clockwise) onto a canvas large enough to keep every corner.
// Nearest-neighbour sampling keeps binary masks binary.
func RotateExpand(src gocv.Mat, angle float64) gocv.Mat {
	if angle == 0 {
		return src.Clone()
	}

	w, h := src.Cols(), src.Rows()
	newW, newH := expandedSize(w, h, angle)

	center := image.Point{X: w / 2, Y: h / 2}
	rotMat := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer rotMat.Close()

	// shift so the rotated content is centered on the larger canvas
	rotMat.SetDoubleAt(0, 2, rotMat.GetDoubleAt(0, 2)+float64(newW-w)/2)
	rotMat.SetDoubleAt(1, 2, rotMat.GetDoubleAt(1, 2)+float64(newH-h)/2)

	rotated := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &rotated, rotMat, image.Point{X: newW, Y: newH},
		gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{})

	return rotated
}
