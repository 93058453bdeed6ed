package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tableware-inspector/internal/classify"
	"tableware-inspector/internal/config"
	"tableware-inspector/internal/decision"
	"tableware-inspector/internal/eventbus"
	apperrors "tableware-inspector/internal/errors"
	"tableware-inspector/internal/logger"
	"tableware-inspector/internal/lut"
	"tableware-inspector/internal/opencv/conversion"
	"tableware-inspector/internal/opencv/safe"
	"tableware-inspector/internal/processing/chain"
	"tableware-inspector/internal/processing/filters"
	"tableware-inspector/internal/timing"

	"gocv.io/x/gocv"
)

// Options wires the stages of an Inspector.
type Options struct {
	Classifier classify.MaskClassifier
	Resize     *filters.ResizeStep
	Cleaner    *filters.MaskCleaner
	// Regions run in order after the cleaner. May be empty.
	Regions    []filters.RegionFilter
	Strategy   config.Strategy
	Column     decision.ColumnRule
	Verifier   *decision.TemplateVerifier
	Logger     logger.Logger
	// Events receives stage timings and one inspection_completed event per
	// image. Optional.
	Events     timing.EventPublisher
	// KeepStages retains a copy of every intermediate Mat in the report.
	KeepStages bool
}

// Inspector runs resize, classification, cleaning, region filtering and the
// configured decision rules over one image at a time. It is not safe for
// concurrent use.
type Inspector struct {
	opts      Options
	templates *decision.TemplateSet
	steps     *chain.ProcessingChain
	tracker   *timing.Tracker
}

// StageTiming summarizes the retained durations of one stage.
type StageTiming struct {
	Stage string  `json:"stage"`
	Runs  int     `json:"runs"`
	AvgMS float64 `json:"avg_ms"`
}

type classifyStep struct {
	classifier classify.MaskClassifier
}

func (s classifyStep) Name() string { return "classify" }

func (s classifyStep) Apply(input gocv.Mat) (gocv.Mat, error) {
	return s.classifier.Classify(input)
}

// renamedStep gives a repeated region strategy a distinct stage name.
type renamedStep struct {
	chain.ProcessingStep
	name string
}

func (s renamedStep) Name() string { return s.name }

func NewInspector(opts Options) (*Inspector, error) {
	if opts.Classifier == nil || opts.Resize == nil || opts.Cleaner == nil {
		return nil, apperrors.NewInternalError("inspector requires classifier, resize and cleaner stages", nil)
	}
	switch opts.Strategy {
	case config.StrategyColumn, config.StrategyTemplate, config.StrategyBoth:
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown strategy %q", opts.Strategy), nil)
	}
	if opts.Strategy.UsesTemplate() && opts.Verifier == nil {
		return nil, apperrors.NewValidationError("template strategy requires a verifier", decision.ErrNoTemplates)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	steps := chain.NewProcessingChain(nil)
	steps.AddStep(opts.Resize)
	steps.AddStep(classifyStep{classifier: opts.Classifier})
	steps.AddStep(opts.Cleaner)
	seen := make(map[string]int)
	for _, region := range opts.Regions {
		if region == nil {
			return nil, apperrors.NewInternalError("nil region filter", nil)
		}
		seen[region.Name()]++
		var step chain.ProcessingStep = region
		if n := seen[region.Name()]; n > 1 {
			step = renamedStep{ProcessingStep: region, name: fmt.Sprintf("%s_%d", region.Name(), n)}
		}
		steps.AddStep(step)
	}

	tracker := timing.NewTracker(opts.Events)
	steps.WithTracker(tracker)

	opts.Logger.Debug("Inspector", "pipeline assembled", map[string]interface{}{
		"steps":    steps.StepCount(),
		"stages":   steps.GetStepNames(),
		"strategy": string(opts.Strategy),
	})

	return &Inspector{opts: opts, steps: steps, tracker: tracker}, nil
}

// FromConfig builds an Inspector from cfg. When the cache is enabled, cache
// must already be initialized; otherwise pixels are classified directly.
func FromConfig(cfg *config.Config, cache *lut.Cache, log logger.Logger) (*Inspector, error) {
	if log == nil {
		log = logger.NewNop()
	}

	space, err := conversion.ParseColorSpace(cfg.ColorSpace)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid color space", err)
	}

	var classifier classify.MaskClassifier
	if cfg.Cache.Enabled {
		if cache == nil || !cache.IsReady() {
			return nil, apperrors.NewCacheError("classification cache is not ready", lut.ErrNotReady)
		}
		classifier = cache
	} else {
		direct, err := classify.NewDirectClassifier(cfg.Ranges, space)
		if err != nil {
			return nil, apperrors.NewValidationError("invalid color ranges", err)
		}
		classifier = direct
	}

	resize, err := filters.NewResizeStep(cfg.ResizeScale)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid resize scale", err)
	}

	m := cfg.Morphology
	cleaner, err := filters.NewMaskCleaner(m.Policy, m.OpenKernel, m.CloseKernel, m.DilateKernel)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid morphology", err)
	}

	regions, err := filters.NewRegionFilters(cfg.Region.Stages, log)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid region filter", err)
	}

	var templates *decision.TemplateSet
	var verifier *decision.TemplateVerifier
	if cfg.Strategy.UsesTemplate() {
		templates, err = decision.LoadTemplates(cfg.Templates.Dir, cfg.Templates.Thresholds, log)
		if err != nil {
			return nil, err
		}
		verifier, err = decision.NewTemplateVerifier(templates, cfg.Templates.Angles, log)
		if err != nil {
			templates.Close()
			return nil, apperrors.NewValidationError("invalid template verifier", err)
		}
	}

	inspector, err := NewInspector(Options{
		Classifier: classifier,
		Resize:     resize,
		Cleaner:    cleaner,
		Regions:    regions,
		Strategy:   cfg.Strategy,
		Column:     cfg.Column,
		Verifier:   verifier,
		Logger:     log,
	})
	if err != nil {
		templates.Close()
		return nil, err
	}
	inspector.templates = templates

	return inspector, nil
}

// NewCache creates the classification cache for cfg without loading or
// building the table.
func NewCache(cfg *config.Config, log logger.Logger) (*lut.Cache, error) {
	space, err := conversion.ParseColorSpace(cfg.ColorSpace)
	if err != nil {
		return nil, err
	}

	return lut.New(lut.Options{
		Path:   cfg.Cache.Path,
		Ranges: cfg.Ranges,
		Space:  space,
		Logger: log,
	})
}

// OpenCache creates the classification cache for cfg and initializes it,
// loading the file when valid and rebuilding otherwise.
func OpenCache(cfg *config.Config, log logger.Logger) (*lut.Cache, error) {
	cache, err := NewCache(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := cache.Init(); err != nil {
		return nil, err
	}
	return cache, nil
}

// WithEvents sets the publisher for inspection and stage timing events.
// Timings recorded so far are discarded.
func (i *Inspector) WithEvents(events timing.EventPublisher) *Inspector {
	i.opts.Events = events
	i.tracker = timing.NewTracker(events)
	i.steps.WithTracker(i.tracker)
	return i
}

func (i *Inspector) Strategy() config.Strategy {
	return i.opts.Strategy
}

func (i *Inspector) ClassifierName() string {
	return i.opts.Classifier.Name()
}

// Stages names the mask extraction steps in execution order.
func (i *Inspector) Stages() []string {
	return i.steps.GetStepNames()
}

// TimingSummary reports recent average durations for every stage that has
// run, mask extraction steps first.
func (i *Inspector) TimingSummary() []StageTiming {
	all := i.tracker.GetAllTimings()

	order := append(i.Stages(), "column_rule", "template_verify")
	summary := make([]StageTiming, 0, len(all))
	for _, stage := range order {
		samples, ok := all[stage]
		if !ok {
			continue
		}
		summary = append(summary, StageTiming{
			Stage: stage,
			Runs:  len(samples),
			AvgMS: durationMS(i.tracker.GetAverageTime(stage)),
		})
	}
	return summary
}

// Close releases templates loaded by FromConfig.
func (i *Inspector) Close() {
	i.templates.Close()
}

// Inspect runs the full pipeline over a BGR image. The caller owns the
// returned report and must Close it.
func (i *Inspector) Inspect(ctx context.Context, img gocv.Mat) (*Report, error) {
	if err := safe.ValidateBGR(img, "inspection"); err != nil {
		return nil, apperrors.NewValidationError("invalid input image", err)
	}

	start := time.Now()
	tracker := i.tracker

	report := &Report{
		Strategy:   i.opts.Strategy,
		Classifier: i.opts.Classifier.Name(),
	}
	if i.opts.KeepStages {
		report.Stages = make(map[string]gocv.Mat)
	}

	var observe chain.StageObserver
	if i.opts.KeepStages {
		observe = func(step string, out gocv.Mat) {
			report.Stages[step] = out.Clone()
		}
	}

	mask, err := i.steps.Execute(ctx, img, observe)
	if err != nil {
		report.Close()
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		i.opts.Logger.Error("Inspector", err, map[string]interface{}{"stage": "preprocess"})
		return nil, apperrors.NewProcessingError("mask extraction failed", err)
	}
	report.Mask = mask
	report.Width, report.Height = mask.Cols(), mask.Rows()

	ok := true

	if i.opts.Strategy.UsesColumn() {
		var result decision.DecisionResult
		err := tracker.Time("column_rule", func() error {
			var err error
			result, err = i.opts.Column.Evaluate(mask)
			return err
		})
		if err != nil {
			report.Close()
			return nil, apperrors.NewProcessingError("column rule failed", err)
		}
		report.Decision = &result
		report.Diagnostics = append(report.Diagnostics, result.Lines()...)
		ok = ok && result.Pass
	}

	if i.opts.Strategy.UsesTemplate() {
		var result decision.VerificationResult
		err := tracker.Time("template_verify", func() error {
			var err error
			result, err = i.opts.Verifier.Verify(mask)
			return err
		})
		if err != nil {
			report.Close()
			return nil, apperrors.NewProcessingError("template verification failed", err)
		}
		report.Templates = &result
		report.Diagnostics = append(report.Diagnostics, result.Lines()...)
		ok = ok && result.Passed
	}

	report.OK = ok
	report.Verdict = verdictLabel(ok)
	report.Elapsed = time.Since(start)
	report.ElapsedMS = durationMS(report.Elapsed)
	report.StageTimings = make(map[string]float64)
	last := tracker.Last()
	for _, stage := range i.Stages() {
		report.StageTimings[stage] = durationMS(last[stage])
	}
	if report.Decision != nil {
		report.StageTimings["column_rule"] = durationMS(last["column_rule"])
	}
	if report.Templates != nil {
		report.StageTimings["template_verify"] = durationMS(last["template_verify"])
	}

	if i.opts.Events != nil {
		i.opts.Events.Publish(eventbus.Event{
			Type: EventInspectionCompleted,
			Data: map[string]interface{}{
				"ok":         report.OK,
				"strategy":   string(report.Strategy),
				"elapsed_ms": report.ElapsedMS,
			},
		})
	}

	i.opts.Logger.Info("Inspector", "inspection complete", map[string]interface{}{
		"verdict":    report.Verdict,
		"strategy":   string(report.Strategy),
		"classifier": report.Classifier,
		"elapsed_ms": report.ElapsedMS,
	})

	return report, nil
}

// InspectFile loads and inspects the image at path.
func (i *Inspector) InspectFile(ctx context.Context, path string) (*Report, error) {
	img, err := LoadImageFile(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	return i.Inspect(ctx, img)
}
