package classify

import (
	"fmt"

	"tableware-inspector/internal/opencv/conversion"
	"tableware-inspector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// MaskClassifier turns an 8-bit BGR image into a 0/255 foreground mask of the
// same size. The caller owns the returned Mat.
type MaskClassifier interface {
	Classify(bgr gocv.Mat) (gocv.Mat, error)
	Name() string
}

// DirectClassifier converts the image and evaluates the ranges for every pixel.
type DirectClassifier struct {
	ranges RangeSet
	space  conversion.ColorSpace
}

func NewDirectClassifier(ranges RangeSet, space conversion.ColorSpace) (*DirectClassifier, error) {
	if err := ranges.Validate(space.ChannelLimits()); err != nil {
		return nil, err
	}
	return &DirectClassifier{
		ranges: append(RangeSet(nil), ranges...),
		space:  space,
	}, nil
}

func (d *DirectClassifier) Name() string {
	return "direct_classifier"
}

func (d *DirectClassifier) Classify(bgr gocv.Mat) (gocv.Mat, error) {
	if err := safe.ValidateBGR(bgr, "direct classification"); err != nil {
		return gocv.NewMat(), err
	}

	converted, err := conversion.ConvertFromBGR(bgr, d.space)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to convert to %s: %w", d.space, err)
	}
	defer converted.Close()

	samples := safe.ContinuousBytes(converted)
	mask := make([]byte, bgr.Rows()*bgr.Cols())
	for i := range mask {
		p := samples[3*i : 3*i+3]
		if d.ranges.Contains(p[0], p[1], p[2]) {
			mask[i] = 255
		}
	}

	return gocv.NewMatFromBytes(bgr.Rows(), bgr.Cols(), gocv.MatTypeCV8UC1, mask)
}
