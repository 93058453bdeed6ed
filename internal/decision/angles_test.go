package decision

import (
	"image"
	"reflect"
	"testing"

	"gocv.io/x/gocv"
)

func TestAngleSequence(t *testing.T) {
	tests := []struct {
		name          string
		min, max, step float64
		want          []float64
	}{
		{"symmetric", -6, 6, 3, []float64{0, 3, -3, 6, -6}},
		{"zero step", -6, 6, 0, []float64{0}},
		{"step larger than range", -2, 2, 3, []float64{0}},
		{"asymmetric", -3, 6, 3, []float64{0, 3, -3, 6}},
		{"fractional", -1, 1, 0.5, []float64{0, 0.5, -0.5, 1, -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AngleSequence(tt.min, tt.max, tt.step)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AngleSequence(%v, %v, %v) = %v, want %v", tt.min, tt.max, tt.step, got, tt.want)
			}
		})
	}
}

func TestRotateExpand_GrowsCanvas(t *testing.T) {
	src := gocv.Zeros(20, 40, gocv.MatTypeCV8UC1)
	defer src.Close()

	rotated := RotateExpand(src, 90)
	defer rotated.Close()

	if rotated.Cols() != 20 || rotated.Rows() != 40 {
		t.Errorf("90 deg rotation size = %dx%d, want 20x40", rotated.Cols(), rotated.Rows())
	}

	tilted := RotateExpand(src, 6)
	defer tilted.Close()
	if tilted.Cols() <= 40 || tilted.Rows() <= 20 {
		t.Errorf("6 deg rotation should expand canvas, got %dx%d", tilted.Cols(), tilted.Rows())
	}
}

func TestRotateExpand_KeepsMaskBinary(t *testing.T) {
	src := gocv.Zeros(30, 30, gocv.MatTypeCV8UC1)
	defer src.Close()
	gocv.Rectangle(&src, image.Rect(8, 8, 22, 22), whiteColor, -1)

	rotated := RotateExpand(src, 3)
	defer rotated.Close()

	for y := 0; y < rotated.Rows(); y++ {
		for x := 0; x < rotated.Cols(); x++ {
			if v := rotated.GetUCharAt(y, x); v != 0 && v != 255 {
				t.Fatalf("pixel (%d,%d) = %d after rotation", x, y, v)
			}
		}
	}
}

func TestRotateExpand_ZeroAngleClones(t *testing.T) {
	src := gocv.Zeros(5, 7, gocv.MatTypeCV8UC1)
	defer src.Close()

	out := RotateExpand(src, 0)
	defer out.Close()

	if out.Cols() != 7 || out.Rows() != 5 {
		t.Errorf("size = %dx%d, want 7x5", out.Cols(), out.Rows())
	}
}
