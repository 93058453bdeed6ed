package filters

import (
	"fmt"
	"image"

	apperrors "tableware-inspector/internal/errors"
	"tableware-inspector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// ResizeStep scales the input image by a fixed factor before classification.
type ResizeStep struct {
	scale float64
}

func NewResizeStep(scale float64) (*ResizeStep, error) {
	if scale <= 0 || scale > 1 {
		return nil, fmt.Errorf("resize scale must be in (0, 1], got %v", scale)
	}
	return &ResizeStep{scale: scale}, nil
}

func (r *ResizeStep) Name() string {
	return "resize"
}

func (r *ResizeStep) Apply(src gocv.Mat) (gocv.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "resize"); err != nil {
		return gocv.NewMat(), apperrors.NewValidationError("empty input image", err)
	}

	if r.scale == 1 {
		return src.Clone(), nil
	}

	width := int(float64(src.Cols()) * r.scale)
	height := int(float64(src.Rows()) * r.scale)
	if err := safe.ValidateDimensions(width, height, "resize"); err != nil {
		return gocv.NewMat(), apperrors.NewValidationError("resized image has zero area", err)
	}

	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
	return dst, nil
}
