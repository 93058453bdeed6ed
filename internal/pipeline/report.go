package pipeline

import (
	"fmt"
	"time"

	"tableware-inspector/internal/config"
	"tableware-inspector/internal/decision"

	"gocv.io/x/gocv"
)

// Report is the outcome of one inspection. Mask and Stages are owned by the
// report and released by Close.
type Report struct {
	OK           bool                         `json:"ok"`
	Verdict      string                       `json:"verdict"`
	Strategy     config.Strategy              `json:"strategy"`
	Classifier   string                       `json:"classifier"`
	Width        int                          `json:"width"`
	Height       int                          `json:"height"`
	Decision     *decision.DecisionResult     `json:"decision,omitempty"`
	Templates    *decision.VerificationResult `json:"templates,omitempty"`
	Diagnostics  []string                     `json:"diagnostics"`
	Elapsed      time.Duration                `json:"-"`
	ElapsedMS    float64                      `json:"elapsed_ms"`
	StageTimings map[string]float64           `json:"stage_timings_ms"`

	Mask   gocv.Mat            `json:"-"`
	Stages map[string]gocv.Mat `json:"-"`
}

func (r *Report) Close() {
	if r == nil {
		return
	}
	r.Mask.Close()
	for _, m := range r.Stages {
		m.Close()
	}
	r.Stages = nil
}

func (r *Report) String() string {
	return fmt.Sprintf("%s (%s, %.1fms)", r.Verdict, r.Strategy, r.ElapsedMS)
}

func verdictLabel(ok bool) string {
	if ok {
		return "OK"
	}
	return "NG"
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
