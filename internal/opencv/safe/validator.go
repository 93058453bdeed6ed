package safe

import (
	"fmt"

	"gocv.io/x/gocv"
)

func ValidateMatForOperation(mat gocv.Mat, operation string) error {
	if mat.Empty() {
		return fmt.Errorf("Mat is empty for operation: %s", operation)
	}

	if mat.Rows() <= 0 || mat.Cols() <= 0 {
		return fmt.Errorf("Mat has invalid dimensions %dx%d for operation: %s",
			mat.Cols(), mat.Rows(), operation)
	}

	return nil
}

// ValidateBGR requires an 8-bit three channel image.
func ValidateBGR(mat gocv.Mat, operation string) error {
	if err := ValidateMatForOperation(mat, operation); err != nil {
		return err
	}

	if mat.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%s requires an 8-bit 3-channel image, got type %d with %d channels",
			operation, int(mat.Type()), mat.Channels())
	}

	return nil
}

// ValidateBinaryMask requires an 8-bit single channel image.
func ValidateBinaryMask(mat gocv.Mat, operation string) error {
	if err := ValidateMatForOperation(mat, operation); err != nil {
		return err
	}

	if mat.Type() != gocv.MatTypeCV8UC1 {
		return fmt.Errorf("%s requires an 8-bit single-channel mask, got type %d with %d channels",
			operation, int(mat.Type()), mat.Channels())
	}

	return nil
}

func ValidateDimensions(width, height int, operation string) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d for operation: %s", width, height, operation)
	}

	if width > 32768 || height > 32768 {
		return fmt.Errorf("dimensions %dx%d exceed maximum size for operation: %s", width, height, operation)
	}

	return nil
}

// IsBinary reports whether every element of a single channel mask is 0 or 255.
func IsBinary(mat gocv.Mat) bool {
	for _, v := range ContinuousBytes(mat) {
		if v != 0 && v != 255 {
			return false
		}
	}
	return true
}

// ContinuousBytes returns a copy of the pixel data, cloning first when the Mat
// is a non-continuous view such as a Region.
func ContinuousBytes(mat gocv.Mat) []byte {
	if mat.IsContinuous() {
		return mat.ToBytes()
	}

	clone := mat.Clone()
	defer clone.Close()
	return clone.ToBytes()
}
