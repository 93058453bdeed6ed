package filters

import (
	"fmt"
	"image"
	"image/color"

	"tableware-inspector/internal/logger"
	"tableware-inspector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// RegionStrategy selects a RegionFilter implementation.
type RegionStrategy string

const (
	StrategyContourArea      RegionStrategy = "contour_area"
	StrategyComponentArea    RegionStrategy = "component_area"
	StrategyComponentPercent RegionStrategy = "component_percent"
)

var foreground = color.RGBA{R: 255, G: 255, B: 255, A: 0}

// RegionStage is one entry of an ordered region filtering sequence.
type RegionStage struct {
	Strategy  RegionStrategy `yaml:"strategy" json:"strategy"`
	Threshold float64        `yaml:"threshold" json:"threshold"`
}

// RegionStats summarizes one filtering pass.
type RegionStats struct {
	Kept    int
	Dropped int
	MinArea float64
}

// RegionFilter drops foreground regions smaller than an area threshold. A
// region's fate depends only on its own area.
type RegionFilter interface {
	Name() string
	Apply(src gocv.Mat) (gocv.Mat, error)
	Filter(src gocv.Mat) (gocv.Mat, RegionStats, error)
}

// Component is one labelled foreground region.
type Component struct {
	Label    int
	Area     int
	Centroid image.Point
}

// ContourAreaFilter keeps external contours whose enclosed area exceeds
// MinArea and fills them solid.
type ContourAreaFilter struct {
	MinArea float64
	logger  logger.Logger
}

// ComponentAreaFilter keeps connected components with more than MinArea pixels.
type ComponentAreaFilter struct {
	MinArea int
	logger  logger.Logger
}

// ComponentPercentFilter keeps connected components covering at least
// Percent of the image area.
type ComponentPercentFilter struct {
	Percent float64
	logger  logger.Logger
}

// NewRegionFilter builds the filter for strategy. threshold is a pixel area
// for the area strategies and a percentage for component_percent.
func NewRegionFilter(strategy RegionStrategy, threshold float64, log logger.Logger) (RegionFilter, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if threshold < 0 {
		return nil, fmt.Errorf("region threshold must not be negative, got %v", threshold)
	}

	switch strategy {
	case StrategyContourArea:
		return &ContourAreaFilter{MinArea: threshold, logger: log}, nil
	case StrategyComponentArea:
		return &ComponentAreaFilter{MinArea: int(threshold), logger: log}, nil
	case StrategyComponentPercent:
		if threshold > 100 {
			return nil, fmt.Errorf("component percent must be at most 100, got %v", threshold)
		}
		return &ComponentPercentFilter{Percent: threshold, logger: log}, nil
	default:
		return nil, fmt.Errorf("unknown region strategy: %q", strategy)
	}
}

// NewRegionFilters builds one filter per stage, in order.
func NewRegionFilters(stages []RegionStage, log logger.Logger) ([]RegionFilter, error) {
	out := make([]RegionFilter, 0, len(stages))
	for i, stage := range stages {
		f, err := NewRegionFilter(stage.Strategy, stage.Threshold, log)
		if err != nil {
			return nil, fmt.Errorf("region stage %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func (f *ContourAreaFilter) Name() string { return "region_" + string(StrategyContourArea) }

func (f *ContourAreaFilter) Apply(src gocv.Mat) (gocv.Mat, error) {
	dst, stats, err := f.Filter(src)
	if err == nil {
		logStats(f.logger, string(StrategyContourArea), stats)
	}
	return dst, err
}

func (f *ContourAreaFilter) Filter(src gocv.Mat) (gocv.Mat, RegionStats, error) {
	stats := RegionStats{MinArea: f.MinArea}
	if err := safe.ValidateBinaryMask(src, "contour filtering"); err != nil {
		return gocv.NewMat(), stats, err
	}

	contours := gocv.FindContours(src, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	dst := gocv.Zeros(src.Rows(), src.Cols(), gocv.MatTypeCV8UC1)
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) > f.MinArea {
			gocv.DrawContours(&dst, contours, i, foreground, -1)
			stats.Kept++
		} else {
			stats.Dropped++
		}
	}

	return dst, stats, nil
}

func (f *ComponentAreaFilter) Name() string { return "region_" + string(StrategyComponentArea) }

func (f *ComponentAreaFilter) Apply(src gocv.Mat) (gocv.Mat, error) {
	dst, stats, err := f.Filter(src)
	if err == nil {
		logStats(f.logger, string(StrategyComponentArea), stats)
	}
	return dst, err
}

func (f *ComponentAreaFilter) Filter(src gocv.Mat) (gocv.Mat, RegionStats, error) {
	return filterComponents(src, float64(f.MinArea), func(area int) bool {
		return area > f.MinArea
	})
}

func (f *ComponentPercentFilter) Name() string {
	return "region_" + string(StrategyComponentPercent)
}

func (f *ComponentPercentFilter) Apply(src gocv.Mat) (gocv.Mat, error) {
	dst, stats, err := f.Filter(src)
	if err == nil {
		logStats(f.logger, string(StrategyComponentPercent), stats)
	}
	return dst, err
}

// MinArea is the pixel threshold for an image of the given size, truncated
// toward zero.
func (f *ComponentPercentFilter) MinArea(rows, cols int) int {
	return int(float64(rows*cols) * (f.Percent / 100.0))
}

func (f *ComponentPercentFilter) Filter(src gocv.Mat) (gocv.Mat, RegionStats, error) {
	if src.Empty() {
		return filterComponents(src, 0, nil)
	}
	minArea := f.MinArea(src.Rows(), src.Cols())
	return filterComponents(src, float64(minArea), func(area int) bool {
		return area >= minArea
	})
}

// Components labels the mask with 8-connectivity. The returned labels Mat
// (CV_32S) is owned by the caller. Background label 0 is not listed.
func Components(src gocv.Mat) ([]Component, gocv.Mat, error) {
	if err := safe.ValidateBinaryMask(src, "connected components"); err != nil {
		return nil, gocv.NewMat(), err
	}

	labels := gocv.NewMat()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(src, &labels, &stats, &centroids)

	components := make([]Component, 0, max(n-1, 0))
	for label := 1; label < n; label++ {
		components = append(components, Component{
			Label: label,
			Area:  int(stats.GetIntAt(label, int(gocv.CC_STAT_AREA))),
			Centroid: image.Point{
				X: int(centroids.GetDoubleAt(label, 0) + 0.5),
				Y: int(centroids.GetDoubleAt(label, 1) + 0.5),
			},
		})
	}

	return components, labels, nil
}

func filterComponents(src gocv.Mat, minArea float64, keepArea func(int) bool) (gocv.Mat, RegionStats, error) {
	stats := RegionStats{MinArea: minArea}

	components, labels, err := Components(src)
	if err != nil {
		return gocv.NewMat(), stats, err
	}
	defer labels.Close()

	keep := make([]bool, len(components)+1)
	for _, c := range components {
		if keepArea(c.Area) {
			keep[c.Label] = true
			stats.Kept++
		} else {
			stats.Dropped++
		}
	}

	ids, err := labels.DataPtrInt32()
	if err != nil {
		return gocv.NewMat(), stats, fmt.Errorf("failed to read component labels: %w", err)
	}

	out := make([]byte, len(ids))
	for i, id := range ids {
		if id > 0 && keep[id] {
			out[i] = 255
		}
	}

	dst, err := gocv.NewMatFromBytes(src.Rows(), src.Cols(), gocv.MatTypeCV8UC1, out)
	return dst, stats, err
}

func logStats(log logger.Logger, strategy string, stats RegionStats) {
	log.Debug("RegionFilter", "regions filtered", map[string]interface{}{
		"strategy": strategy,
		"kept":     stats.Kept,
		"dropped":  stats.Dropped,
		"min_area": stats.MinArea,
	})
}
