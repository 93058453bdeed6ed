package timing

import (
	"context"
	"sync"
	"time"

	"tableware-inspector/internal/eventbus"
)

type contextKey struct{}

// Event is published to an optional EventPublisher when a stage completes.
type Event = eventbus.Event

type EventPublisher interface {
	Publish(event Event)
}

type TimingInfo struct {
	Operation string
	StartTime time.Time
}

// DefaultWindow is how many recent durations a Tracker keeps per stage.
const DefaultWindow = 1024

// Tracker records wall-clock durations per named stage, keeping the most
// recent window of samples for each.
type Tracker struct {
	timings   map[string][]time.Duration
	mu        sync.RWMutex
	publisher EventPublisher
	window    int
	now       func() time.Time
}

func NewTracker(publisher EventPublisher) *Tracker {
	return &Tracker{
		timings:   make(map[string][]time.Duration),
		publisher: publisher,
		window:    DefaultWindow,
		now:       time.Now,
	}
}

// StartTiming returns a token context carrying the start time of operation.
func (tt *Tracker) StartTiming(operation string) context.Context {
	return context.WithValue(context.Background(), contextKey{}, TimingInfo{
		Operation: operation,
		StartTime: tt.now(),
	})
}

// EndTiming records the duration for a token from StartTiming and returns it.
// Tokens not produced by StartTiming record nothing.
func (tt *Tracker) EndTiming(ctx context.Context) time.Duration {
	info, ok := ctx.Value(contextKey{}).(TimingInfo)
	if !ok {
		return 0
	}

	end := tt.now()
	duration := end.Sub(info.StartTime)

	tt.mu.Lock()
	samples := append(tt.timings[info.Operation], duration)
	if len(samples) > tt.window {
		samples = samples[len(samples)-tt.window:]
	}
	tt.timings[info.Operation] = samples
	tt.mu.Unlock()

	if tt.publisher != nil {
		tt.publisher.Publish(Event{
			Type:      "timing_completed",
			Timestamp: end,
			Data: map[string]interface{}{
				"operation": info.Operation,
				"duration":  duration,
			},
		})
	}

	return duration
}

// Time runs fn as operation and records its duration.
func (tt *Tracker) Time(operation string, fn func() error) error {
	token := tt.StartTiming(operation)
	defer tt.EndTiming(token)
	return fn()
}

func (tt *Tracker) GetTimings(operation string) []time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	timings := tt.timings[operation]
	if timings == nil {
		return nil
	}

	result := make([]time.Duration, len(timings))
	copy(result, timings)
	return result
}

func (tt *Tracker) GetAllTimings() map[string][]time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	result := make(map[string][]time.Duration, len(tt.timings))
	for operation, timings := range tt.timings {
		result[operation] = make([]time.Duration, len(timings))
		copy(result[operation], timings)
	}
	return result
}

// Last returns the most recent duration per stage.
func (tt *Tracker) Last() map[string]time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	result := make(map[string]time.Duration, len(tt.timings))
	for operation, timings := range tt.timings {
		if len(timings) > 0 {
			result[operation] = timings[len(timings)-1]
		}
	}
	return result
}

// GetAverageTime is the mean over the retained window.
func (tt *Tracker) GetAverageTime(operation string) time.Duration {
	timings := tt.GetTimings(operation)
	if len(timings) == 0 {
		return 0
	}

	var total time.Duration
	for _, duration := range timings {
		total += duration
	}

	return total / time.Duration(len(timings))
}
