package conversion

import (
	"fmt"
	"strings"

	"tableware-inspector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// ColorSpace names the working space a classifier evaluates its ranges in.
type ColorSpace string

const (
	ColorSpaceBGR     ColorSpace = "bgr"
	ColorSpaceHSV     ColorSpace = "hsv"
	ColorSpaceHSVFull ColorSpace = "hsv_full"
	ColorSpaceLab     ColorSpace = "lab"
	ColorSpaceYCrCb   ColorSpace = "ycrcb"
)

// ParseColorSpace accepts the config spelling of a color space.
func ParseColorSpace(name string) (ColorSpace, error) {
	space := ColorSpace(strings.ToLower(strings.TrimSpace(name)))
	switch space {
	case "":
		return ColorSpaceHSV, nil
	case ColorSpaceBGR, ColorSpaceHSV, ColorSpaceHSVFull, ColorSpaceLab, ColorSpaceYCrCb:
		return space, nil
	default:
		return "", fmt.Errorf("unsupported color space: %q", name)
	}
}

// ChannelLimits returns the inclusive upper bound of each channel in s.
// OpenCV stores 8-bit hue as 0-179 unless the full range variant is used.
func (s ColorSpace) ChannelLimits() [3]int {
	if s == ColorSpaceHSV {
		return [3]int{179, 255, 255}
	}
	return [3]int{255, 255, 255}
}

func (s ColorSpace) conversionCode() (gocv.ColorConversionCode, bool) {
	switch s {
	case ColorSpaceHSV:
		return gocv.ColorBGRToHSV, true
	case ColorSpaceHSVFull:
		return gocv.ColorBGRToHSVFull, true
	case ColorSpaceLab:
		return gocv.ColorBGRToLab, true
	case ColorSpaceYCrCb:
		return gocv.ColorBGRToYCrCb, true
	default:
		return 0, false
	}
}

// ConvertFromBGR converts an 8-bit BGR image into space. The caller owns the
// returned Mat. For ColorSpaceBGR the result is a clone of src.
func ConvertFromBGR(src gocv.Mat, space ColorSpace) (gocv.Mat, error) {
	if err := safe.ValidateBGR(src, "color space conversion"); err != nil {
		return gocv.NewMat(), err
	}

	code, ok := space.conversionCode()
	if !ok {
		if space == ColorSpaceBGR {
			return src.Clone(), nil
		}
		return gocv.NewMat(), fmt.Errorf("unsupported color space: %q", space)
	}

	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, code)
	if dst.Empty() {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("conversion to %s produced an empty Mat", space)
	}

	return dst, nil
}
