package chain

import (
	"context"
	"fmt"

	"tableware-inspector/internal/timing"

	"gocv.io/x/gocv"
)

// ProcessingStep transforms a Mat into a new Mat. The input is never
// modified or closed by the step.
type ProcessingStep interface {
	Apply(input gocv.Mat) (gocv.Mat, error)
	Name() string
}

// StageObserver sees each step's output before the chain closes it. The Mat
// is only valid for the duration of the call.
type StageObserver func(step string, output gocv.Mat)

type ProcessingChain struct {
	steps   []ProcessingStep
	tracker *timing.Tracker
}

func NewProcessingChain(steps []ProcessingStep) *ProcessingChain {
	return &ProcessingChain{
		steps: steps,
	}
}

// WithTracker records per-step durations on tracker.
func (pc *ProcessingChain) WithTracker(tracker *timing.Tracker) *ProcessingChain {
	pc.tracker = tracker
	return pc
}

// Execute runs every step in order. Intermediate results are closed as soon
// as the next step has consumed them; the final result belongs to the caller.
// An empty chain returns a clone of input.
func (pc *ProcessingChain) Execute(ctx context.Context, input gocv.Mat, observe StageObserver) (gocv.Mat, error) {
	current := input
	owned := false

	release := func() {
		if owned {
			current.Close()
		}
	}

	for _, step := range pc.steps {
		select {
		case <-ctx.Done():
			release()
			return gocv.NewMat(), ctx.Err()
		default:
		}

		var token context.Context
		if pc.tracker != nil {
			token = pc.tracker.StartTiming(step.Name())
		}

		result, err := step.Apply(current)

		if pc.tracker != nil {
			pc.tracker.EndTiming(token)
		}

		if err != nil {
			result.Close()
			release()
			return gocv.NewMat(), fmt.Errorf("step %s failed: %w", step.Name(), err)
		}

		release()
		current = result
		owned = true

		if observe != nil {
			observe(step.Name(), current)
		}
	}

	if !owned {
		return input.Clone(), nil
	}
	return current, nil
}

func (pc *ProcessingChain) AddStep(step ProcessingStep) {
	pc.steps = append(pc.steps, step)
}

func (pc *ProcessingChain) StepCount() int {
	return len(pc.steps)
}

func (pc *ProcessingChain) GetStepNames() []string {
	names := make([]string, len(pc.steps))
	for i, step := range pc.steps {
		names[i] = step.Name()
	}
	return names
}
