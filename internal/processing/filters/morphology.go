package filters

import (
	"fmt"
	"image"

	"tableware-inspector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// MorphPolicy selects how MaskCleaner smooths a mask.
type MorphPolicy string

const (
	// PolicyOpenClose removes specks with a small opening, then fills holes
	// with a larger closing.
	PolicyOpenClose MorphPolicy = "open_close"
	// PolicyDilate bridges narrow gaps in under-segmented masks.
	PolicyDilate MorphPolicy = "dilate"
)

// MaskCleaner applies one morphology policy to a binary mask.
type MaskCleaner struct {
	policy           MorphPolicy
	openKernelSize   int
	closeKernelSize  int
	dilateKernelSize int
}

func NewMaskCleaner(policy MorphPolicy, openSize, closeSize, dilateSize int) (*MaskCleaner, error) {
	switch policy {
	case PolicyOpenClose:
		if openSize <= 0 || closeSize <= 0 {
			return nil, fmt.Errorf("open/close kernel sizes must be positive, got %d/%d", openSize, closeSize)
		}
	case PolicyDilate:
		if dilateSize <= 0 {
			return nil, fmt.Errorf("dilate kernel size must be positive, got %d", dilateSize)
		}
	default:
		return nil, fmt.Errorf("unknown morphology policy: %q", policy)
	}

	return &MaskCleaner{
		policy:           policy,
		openKernelSize:   openSize,
		closeKernelSize:  closeSize,
		dilateKernelSize: dilateSize,
	}, nil
}

func (m *MaskCleaner) Name() string {
	return "mask_cleaner"
}

func (m *MaskCleaner) Policy() MorphPolicy {
	return m.policy
}

func (m *MaskCleaner) Apply(src gocv.Mat) (gocv.Mat, error) {
	if err := safe.ValidateBinaryMask(src, "mask cleaning"); err != nil {
		return gocv.NewMat(), err
	}

	var cleaned gocv.Mat
	switch m.policy {
	case PolicyDilate:
		cleaned = m.dilate(src)
	default:
		cleaned = m.openThenClose(src)
	}
	defer cleaned.Close()

	return binarize(cleaned), nil
}

func (m *MaskCleaner) openThenClose(src gocv.Mat) gocv.Mat {
	openKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: m.openKernelSize, Y: m.openKernelSize})
	defer openKernel.Close()

	closeKernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: m.closeKernelSize, Y: m.closeKernelSize})
	defer closeKernel.Close()

	// Opening operation to remove small noise
	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(src, &opened, gocv.MorphOpen, openKernel)

	// Closing operation to fill small gaps
	result := gocv.NewMat()
	gocv.MorphologyEx(opened, &result, gocv.MorphClose, closeKernel)

	return result
}

func (m *MaskCleaner) dilate(src gocv.Mat) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: m.dilateKernelSize, Y: m.dilateKernelSize})
	defer kernel.Close()

	result := gocv.NewMat()
	gocv.Dilate(src, &result, kernel)
	return result
}

// binarize maps every nonzero value to 255.
func binarize(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Threshold(src, &dst, 0, 255, gocv.ThresholdBinary)
	return dst
}
