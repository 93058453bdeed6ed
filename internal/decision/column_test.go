package decision

import (
	"math"
	"testing"

	"gocv.io/x/gocv"
)

// columnMask builds a height x width mask with count foreground pixels at
// the top of column col.
func columnMask(t *testing.T, width, height, col, count int) gocv.Mat {
	t.Helper()
	mask := gocv.Zeros(height, width, gocv.MatTypeCV8UC1)
	for y := 0; y < count; y++ {
		mask.SetUCharAt(y, col, 255)
	}
	return mask
}

func TestColumnRule_DensityBoundary(t *testing.T) {
	rule := ColumnRule{PixelRatio: 0.4, MinOffset: -0.5, MaxOffset: 0.5}

	tests := []struct {
		name  string
		count int
		want  bool
	}{
		{"exactly at threshold", 40, true},
		{"one pixel below", 39, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask := columnMask(t, 50, 100, 25, tt.count)
			defer mask.Close()

			got, err := rule.Evaluate(mask)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got.ConditionA != tt.want {
				t.Errorf("ConditionA = %v, want %v (ratio %v)", got.ConditionA, tt.want, got.DensityRatio)
			}
		})
	}
}

func TestColumnRule_DenseColumnRightOfCenterPasses(t *testing.T) {
	// width 200: column 120 is 20 px (10%) right of center
	mask := columnMask(t, 200, 100, 120, 45)
	defer mask.Close()

	got, err := DefaultColumnRule().Evaluate(mask)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if got.Column != 120 || got.Count != 45 {
		t.Errorf("selected column %d with %d px, want 120 with 45", got.Column, got.Count)
	}
	if got.Offset != 20 || math.Abs(got.OffsetRatio-0.10) > 1e-9 {
		t.Errorf("offset = %d (%v), want 20 (0.10)", got.Offset, got.OffsetRatio)
	}
	if !got.Pass || !got.ConditionA || !got.ConditionB {
		t.Errorf("expected pass, got %+v", got)
	}
}

func TestColumnRule_SparseColumnFailsDensityOnly(t *testing.T) {
	mask := columnMask(t, 200, 100, 120, 35)
	defer mask.Close()

	got, err := DefaultColumnRule().Evaluate(mask)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if got.Pass {
		t.Error("expected NG")
	}
	if got.ConditionA {
		t.Error("density condition should fail")
	}
	if !got.ConditionB {
		t.Error("offset condition should pass")
	}
}

func TestColumnRule_OffsetWindow(t *testing.T) {
	rule := DefaultColumnRule()

	tests := []struct {
		name string
		col  int
		want bool
	}{
		{"left of center", 90, false},
		{"at center", 100, true},
		{"at max offset", 130, true},
		{"past max offset", 131, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask := columnMask(t, 200, 100, tt.col, 80)
			defer mask.Close()

			got, err := rule.Evaluate(mask)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got.ConditionB != tt.want {
				t.Errorf("ConditionB = %v, want %v (offset %d)", got.ConditionB, tt.want, got.Offset)
			}
		})
	}
}

func TestColumnRule_EmptyMaskFails(t *testing.T) {
	mask := gocv.Zeros(50, 80, gocv.MatTypeCV8UC1)
	defer mask.Close()

	got, err := DefaultColumnRule().Evaluate(mask)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Count != 0 || got.ConditionA || got.Pass {
		t.Errorf("all-background mask should fail density, got %+v", got)
	}
	if got.Column != 0 {
		t.Errorf("tie on zero should select column 0, got %d", got.Column)
	}
}

func TestColumnRule_TiesPreferLeftmost(t *testing.T) {
	got := DefaultColumnRule().EvaluateProfile([]int{1, 7, 3, 7, 2}, 10)
	if got.Column != 1 {
		t.Errorf("Column = %d, want 1", got.Column)
	}
}

func TestColumnProfile(t *testing.T) {
	mask := gocv.Zeros(4, 3, gocv.MatTypeCV8UC1)
	defer mask.Close()
	mask.SetUCharAt(0, 0, 255)
	mask.SetUCharAt(1, 2, 255)
	mask.SetUCharAt(3, 2, 255)

	profile, err := ColumnProfile(mask)
	if err != nil {
		t.Fatalf("ColumnProfile: %v", err)
	}
	want := []int{1, 0, 2}
	for i := range want {
		if profile[i] != want[i] {
			t.Fatalf("profile = %v, want %v", profile, want)
		}
	}
}

func TestColumnRule_ProfileStats(t *testing.T) {
	got := DefaultColumnRule().EvaluateProfile([]int{2, 4}, 10)
	if math.Abs(got.MeanDensity-0.3) > 1e-9 {
		t.Errorf("MeanDensity = %v, want 0.3", got.MeanDensity)
	}
	// sample std of {0.2, 0.4}
	if math.Abs(got.StdDensity-math.Sqrt(0.02)) > 1e-9 {
		t.Errorf("StdDensity = %v, want %v", got.StdDensity, math.Sqrt(0.02))
	}
	if len(got.Lines()) == 0 {
		t.Error("expected diagnostic lines")
	}
}

func TestColumnRule_Validate(t *testing.T) {
	if err := DefaultColumnRule().Validate(); err != nil {
		t.Errorf("default rule invalid: %v", err)
	}
	if err := (ColumnRule{PixelRatio: 1.5}).Validate(); err == nil {
		t.Error("ratio above 1 should be invalid")
	}
	if err := (ColumnRule{PixelRatio: 0.4, MinOffset: 0.2, MaxOffset: 0.1}).Validate(); err == nil {
		t.Error("inverted offset window should be invalid")
	}
}
