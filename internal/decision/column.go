package decision

import (
	"fmt"
	"math"
	"strings"

	"tableware-inspector/internal/opencv/safe"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// ColumnRule accepts a mask whose densest column is dense enough and sits
// inside an offset window relative to the horizontal center.
type ColumnRule struct {
	PixelRatio float64 `yaml:"pixel_ratio" json:"pixel_ratio"`
	MinOffset  float64 `yaml:"min_offset" json:"min_offset"`
	MaxOffset  float64 `yaml:"max_offset" json:"max_offset"`
}

func DefaultColumnRule() ColumnRule {
	return ColumnRule{PixelRatio: 0.40, MinOffset: 0.00, MaxOffset: 0.15}
}

func (r ColumnRule) Validate() error {
	if r.PixelRatio < 0 || r.PixelRatio > 1 {
		return fmt.Errorf("pixel ratio must be in [0, 1], got %v", r.PixelRatio)
	}
	if r.MinOffset > r.MaxOffset {
		return fmt.Errorf("min offset %v exceeds max offset %v", r.MinOffset, r.MaxOffset)
	}
	if math.Abs(r.MinOffset) > 0.5 || math.Abs(r.MaxOffset) > 0.5 {
		return fmt.Errorf("offset thresholds must be within [-0.5, 0.5], got [%v, %v]", r.MinOffset, r.MaxOffset)
	}
	return nil
}

// DecisionResult is the outcome of one ColumnRule evaluation.
type DecisionResult struct {
	Pass         bool       `json:"pass"`
	Column       int        `json:"column"`
	Count        int        `json:"count"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	DensityRatio float64    `json:"density_ratio"`
	Offset       int        `json:"offset"`
	OffsetRatio  float64    `json:"offset_ratio"`
	ConditionA   bool       `json:"density_ok"`
	ConditionB   bool       `json:"offset_ok"`
	MeanDensity  float64    `json:"mean_density"`
	StdDensity   float64    `json:"std_density"`
	Rule         ColumnRule `json:"rule"`
}

// Lines renders the result as human-readable diagnostics.
func (d DecisionResult) Lines() []string {
	return []string{
		fmt.Sprintf("densest column: %d (%d/%d px)", d.Column, d.Count, d.Height),
		fmt.Sprintf("density: %.2f%% (threshold %.2f%%) %s",
			d.DensityRatio*100, d.Rule.PixelRatio*100, passFail(d.ConditionA)),
		fmt.Sprintf("offset: %+d px, %+.2f%% of width (window %.2f%% to %.2f%%) %s",
			d.Offset, d.OffsetRatio*100, d.Rule.MinOffset*100, d.Rule.MaxOffset*100, passFail(d.ConditionB)),
		fmt.Sprintf("column density mean %.2f%% std %.2f%%", d.MeanDensity*100, d.StdDensity*100),
		fmt.Sprintf("verdict: %s", verdict(d.Pass)),
	}
}

func (d DecisionResult) String() string {
	return strings.Join(d.Lines(), "\n")
}

// ColumnProfile counts foreground pixels per column of a binary mask.
func ColumnProfile(mask gocv.Mat) ([]int, error) {
	if err := safe.ValidateBinaryMask(mask, "column profile"); err != nil {
		return nil, err
	}

	ones := gocv.NewMat()
	defer ones.Close()
	gocv.Threshold(mask, &ones, 0, 1, gocv.ThresholdBinary)

	sums := gocv.NewMat()
	defer sums.Close()
	gocv.Reduce(ones, &sums, 0, gocv.ReduceSum, gocv.MatTypeCV32S)

	raw, err := sums.DataPtrInt32()
	if err != nil {
		return nil, fmt.Errorf("failed to read column sums: %w", err)
	}

	profile := make([]int, len(raw))
	for i, v := range raw {
		profile[i] = int(v)
	}
	return profile, nil
}

// Evaluate applies the rule to a cleaned binary mask.
func (r ColumnRule) Evaluate(mask gocv.Mat) (DecisionResult, error) {
	profile, err := ColumnProfile(mask)
	if err != nil {
		return DecisionResult{Rule: r}, err
	}
	return r.EvaluateProfile(profile, mask.Rows()), nil
}

// EvaluateProfile applies the rule to precomputed column counts.
func (r ColumnRule) EvaluateProfile(profile []int, height int) DecisionResult {
	width := len(profile)
	result := DecisionResult{Rule: r, Width: width, Height: height}
	if width == 0 || height == 0 {
		return result
	}

	// strict > keeps the leftmost column on ties
	best := 0
	for col := 1; col < width; col++ {
		if profile[col] > profile[best] {
			best = col
		}
	}

	result.Column = best
	result.Count = profile[best]
	result.DensityRatio = float64(result.Count) / float64(height)
	result.ConditionA = result.DensityRatio >= r.PixelRatio

	result.Offset = best - width/2
	result.OffsetRatio = float64(result.Offset) / float64(width)
	offset := float64(result.Offset)
	result.ConditionB = offset >= r.MinOffset*float64(width) && offset <= r.MaxOffset*float64(width)

	result.Pass = result.ConditionA && result.ConditionB
	result.MeanDensity, result.StdDensity = profileStats(profile, height)

	return result
}

func profileStats(profile []int, height int) (float64, float64) {
	densities := make([]float64, len(profile))
	for i, count := range profile {
		densities[i] = float64(count) / float64(height)
	}
	if len(densities) < 2 {
		return densities[0], 0
	}
	return stat.MeanStdDev(densities, nil)
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

func verdict(ok bool) string {
	if ok {
		return "OK"
	}
	return "NG"
}
