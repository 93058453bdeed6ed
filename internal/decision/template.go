package decision

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "tableware-inspector/internal/errors"
	"tableware-inspector/internal/logger"
	"tableware-inspector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

var (
	ErrTemplateDirMissing = errors.New("template directory not found")
	ErrNoTemplates        = errors.New("no template images found")
	ErrThresholdCount     = errors.New("threshold count does not match template count")
)

var templateExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// Template is one reference mask with its acceptance threshold. LoadErr is
// set when the file could not be decoded; such a template always fails.
type Template struct {
	Name      string
	Path      string
	Threshold float64
	Mask      gocv.Mat
	LoadErr   error
}

type TemplateSet struct {
	Dir       string
	Templates []*Template
}

// TemplateFiles lists usable template files in dir, sorted by name.
func TemplateFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewNotFoundError(dir, ErrTemplateDirMissing)
		}
		return nil, apperrors.NewIOError("failed to stat template directory", err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewNotFoundError(dir+" is not a directory", ErrTemplateDirMissing)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.NewIOError("failed to read template directory", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if templateExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, apperrors.NewNotFoundError(dir, ErrNoTemplates)
	}
	return names, nil
}

// LoadTemplates reads every template in dir as a grayscale mask and pairs
// it with the threshold at the same sorted position. Missing directories,
// empty directories and count mismatches are hard failures. A file that
// fails to decode is kept with LoadErr set.
func LoadTemplates(dir string, thresholds []float64, log logger.Logger) (*TemplateSet, error) {
	if log == nil {
		log = logger.NewNop()
	}

	names, err := TemplateFiles(dir)
	if err != nil {
		return nil, err
	}

	if len(names) != len(thresholds) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("%d templates, %d thresholds", len(names), len(thresholds)), ErrThresholdCount)
	}
	for i, t := range thresholds {
		if t < 0 || t > 1 || math.IsNaN(t) {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("threshold %d for %s must be in [0, 1], got %v", i, names[i], t), nil)
		}
	}

	set := &TemplateSet{Dir: dir, Templates: make([]*Template, 0, len(names))}
	for i, name := range names {
		tmpl := &Template{
			Name:      name,
			Path:      filepath.Join(dir, name),
			Threshold: thresholds[i],
		}

		gray := gocv.IMRead(tmpl.Path, gocv.IMReadGrayScale)
		if gray.Empty() {
			gray.Close()
			tmpl.Mask = gocv.NewMat()
			tmpl.LoadErr = apperrors.NewIOError("failed to decode template "+name, nil)
			log.Warning("TemplateVerifier", "template unreadable", map[string]interface{}{
				"template": name,
			})
		} else {
			// compressed formats leave gray edges
			tmpl.Mask = gocv.NewMat()
			gocv.Threshold(gray, &tmpl.Mask, 127, 255, gocv.ThresholdBinary)
			gray.Close()
		}

		set.Templates = append(set.Templates, tmpl)
	}

	log.Info("TemplateVerifier", "templates loaded", map[string]interface{}{
		"dir":   dir,
		"count": len(set.Templates),
	})

	return set, nil
}

func (s *TemplateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Templates)
}

func (s *TemplateSet) Close() {
	if s == nil {
		return
	}
	for _, t := range s.Templates {
		t.Mask.Close()
	}
}

// TemplateMatchResult records the best match of one template.
type TemplateMatchResult struct {
	Name           string  `json:"name"`
	BestSimilarity float64 `json:"best_similarity"`
	BestAngle      float64 `json:"best_angle"`
	Threshold      float64 `json:"threshold"`
	Passed         bool    `json:"passed"`
	AnglesTried    int     `json:"angles_tried"`
	AnglesSkipped  int     `json:"angles_skipped"`
	Err            string  `json:"error,omitempty"`
}

type VerificationResult struct {
	Passed  bool                  `json:"passed"`
	Results []TemplateMatchResult `json:"results"`
}

func (v VerificationResult) Lines() []string {
	lines := make([]string, 0, len(v.Results)+1)
	for _, r := range v.Results {
		if r.Err != "" {
			lines = append(lines, fmt.Sprintf("template %s: %s (%s)", r.Name, passFail(false), r.Err))
			continue
		}
		lines = append(lines, fmt.Sprintf("template %s: similarity %.2f%% at %+.1f deg (threshold %.2f%%, %d angles) %s",
			r.Name, r.BestSimilarity*100, r.BestAngle, r.Threshold*100, r.AnglesTried, passFail(r.Passed)))
	}
	lines = append(lines, fmt.Sprintf("template verdict: %s", verdict(v.Passed)))
	return lines
}

// AngleOptions bounds the rotation search.
type AngleOptions struct {
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

func DefaultAngleOptions() AngleOptions {
	return AngleOptions{Min: -6, Max: 6, Step: 3}
}

// scoreFunc returns the similarity of tmpl rotated by angle against target,
// or false when the rotated template does not fit.
type scoreFunc func(tmpl *Template, target gocv.Mat, angle float64) (float64, bool)

// TemplateVerifier checks a mask against every template in a set.
type TemplateVerifier struct {
	set    *TemplateSet
	angles []float64
	score  scoreFunc
	logger logger.Logger
}

func NewTemplateVerifier(set *TemplateSet, opts AngleOptions, log logger.Logger) (*TemplateVerifier, error) {
	if set.Len() == 0 {
		return nil, ErrNoTemplates
	}
	if opts.Min > 0 || opts.Max < 0 {
		return nil, fmt.Errorf("angle range [%v, %v] must contain 0", opts.Min, opts.Max)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &TemplateVerifier{
		set:    set,
		angles: AngleSequence(opts.Min, opts.Max, opts.Step),
		score:  matchRotated,
		logger: log,
	}, nil
}

func (v *TemplateVerifier) Angles() []float64 {
	return append([]float64(nil), v.angles...)
}

// Verify matches mask against every template. All templates are evaluated
// even after one fails.
func (v *TemplateVerifier) Verify(mask gocv.Mat) (VerificationResult, error) {
	if err := safe.ValidateBinaryMask(mask, "template verification"); err != nil {
		return VerificationResult{}, err
	}

	result := VerificationResult{Passed: true, Results: make([]TemplateMatchResult, 0, v.set.Len())}
	for _, tmpl := range v.set.Templates {
		r := v.matchTemplate(tmpl, mask)
		if !r.Passed {
			result.Passed = false
		}
		result.Results = append(result.Results, r)

		v.logger.Debug("TemplateVerifier", "template evaluated", map[string]interface{}{
			"template":   r.Name,
			"similarity": r.BestSimilarity,
			"angle":      r.BestAngle,
			"passed":     r.Passed,
		})
	}

	return result, nil
}

func (v *TemplateVerifier) matchTemplate(tmpl *Template, mask gocv.Mat) TemplateMatchResult {
	r := TemplateMatchResult{Name: tmpl.Name, Threshold: tmpl.Threshold}
	if tmpl.LoadErr != nil {
		r.Err = tmpl.LoadErr.Error()
		return r
	}

	for _, angle := range v.angles {
		similarity, ok := v.score(tmpl, mask, angle)
		if !ok {
			r.AnglesSkipped++
			continue
		}
		r.AnglesTried++
		if r.AnglesTried == 1 || similarity > r.BestSimilarity {
			r.BestSimilarity = similarity
			r.BestAngle = angle
		}
		if r.BestSimilarity >= tmpl.Threshold {
			break
		}
	}

	if r.AnglesTried == 0 {
		r.Err = "template larger than mask at every angle"
		return r
	}
	r.Passed = r.BestSimilarity >= tmpl.Threshold
	return r
}

func matchRotated(tmpl *Template, target gocv.Mat, angle float64) (float64, bool) {
	rotated := RotateExpand(tmpl.Mask, angle)
	defer rotated.Close()

	if rotated.Cols() > target.Cols() || rotated.Rows() > target.Rows() {
		return 0, false
	}

	result := gocv.NewMat()
	defer result.Close()
	noMask := gocv.NewMat()
	defer noMask.Close()
	gocv.MatchTemplate(target, rotated, &result, gocv.TmSqdiffNormed, noMask)

	minErr, _, _, _ := gocv.MinMaxLoc(result)
	return clampSimilarity(1 - float64(minErr)), true
}

func clampSimilarity(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
