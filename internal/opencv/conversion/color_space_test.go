package conversion

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestParseColorSpace(t *testing.T) {
	tests := []struct {
		in      string
		want    ColorSpace
		wantErr bool
	}{
		{"", ColorSpaceHSV, false},
		{"HSV", ColorSpaceHSV, false},
		{" lab ", ColorSpaceLab, false},
		{"hsv_full", ColorSpaceHSVFull, false},
		{"bgr", ColorSpaceBGR, false},
		{"cmyk", "", true},
	}

	for _, tt := range tests {
		got, err := ParseColorSpace(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColorSpace(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColorSpace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConvertFromBGR_PureBlueToHSV(t *testing.T) {
	src, err := gocv.NewMatFromBytes(1, 1, gocv.MatTypeCV8UC3, []byte{255, 0, 0})
	if err != nil {
		t.Fatalf("NewMatFromBytes: %v", err)
	}
	defer src.Close()

	hsv, err := ConvertFromBGR(src, ColorSpaceHSV)
	if err != nil {
		t.Fatalf("ConvertFromBGR: %v", err)
	}
	defer hsv.Close()

	// OpenCV 8-bit hue is degrees/2, so blue (240 degrees) lands on 120.
	got := hsv.ToBytes()
	if got[0] != 120 || got[1] != 255 || got[2] != 255 {
		t.Errorf("HSV of pure blue = %v, want [120 255 255]", got)
	}
}

func TestConvertFromBGR_RejectsSingleChannel(t *testing.T) {
	gray := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC1)
	defer gray.Close()

	out, err := ConvertFromBGR(gray, ColorSpaceHSV)
	defer out.Close()
	if err == nil {
		t.Fatal("expected error for single channel input")
	}
	if !out.Empty() {
		t.Error("expected empty Mat on failure")
	}
}
