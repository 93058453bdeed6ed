package safe

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestValidateBinaryMask(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	if err := ValidateBinaryMask(empty, "test"); err == nil {
		t.Error("expected error for empty Mat")
	}

	color := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV8UC3)
	defer color.Close()
	if err := ValidateBinaryMask(color, "test"); err == nil {
		t.Error("expected error for 3-channel Mat")
	}

	mask := gocv.Zeros(3, 3, gocv.MatTypeCV8UC1)
	defer mask.Close()
	if err := ValidateBinaryMask(mask, "test"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIsBinary(t *testing.T) {
	mask := gocv.Zeros(2, 2, gocv.MatTypeCV8UC1)
	defer mask.Close()

	mask.SetUCharAt(0, 0, 255)
	if !IsBinary(mask) {
		t.Error("0/255 mask should be binary")
	}

	mask.SetUCharAt(1, 1, 128)
	if IsBinary(mask) {
		t.Error("mask with a gray value should not be binary")
	}
}

func TestValidateDimensions(t *testing.T) {
	if err := ValidateDimensions(0, 10, "resize"); err == nil {
		t.Error("expected error for zero width")
	}
	if err := ValidateDimensions(40000, 10, "resize"); err == nil {
		t.Error("expected error for oversized width")
	}
	if err := ValidateDimensions(640, 480, "resize"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
