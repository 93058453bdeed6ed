package pipeline

import (
	"sync"
	"time"

	"tableware-inspector/internal/eventbus"
)

const (
	EventInspectionCompleted = "inspection_completed"
	EventTimingCompleted     = "timing_completed"
)

// InspectionStats aggregates verdicts and stage durations from the events
// an Inspector publishes.
type InspectionStats struct {
	mu      sync.Mutex
	total   int
	ok      int
	stageNS map[string]time.Duration
	stageN  map[string]int
}

type StatsSnapshot struct {
	Total      int                `json:"total"`
	OK         int                `json:"ok"`
	NG         int                `json:"ng"`
	StageAvgMS map[string]float64 `json:"stage_avg_ms"`
}

func NewInspectionStats() *InspectionStats {
	return &InspectionStats{
		stageNS: make(map[string]time.Duration),
		stageN:  make(map[string]int),
	}
}

// Subscribe registers s for inspection and timing events on bus.
func (s *InspectionStats) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(EventInspectionCompleted, s)
	bus.Subscribe(EventTimingCompleted, s)
}

func (s *InspectionStats) GetID() string { return "inspection_stats" }

func (s *InspectionStats) Handle(event eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case EventInspectionCompleted:
		s.total++
		if ok, _ := event.Data["ok"].(bool); ok {
			s.ok++
		}
	case EventTimingCompleted:
		op, _ := event.Data["operation"].(string)
		d, _ := event.Data["duration"].(time.Duration)
		if op != "" {
			s.stageNS[op] += d
			s.stageN[op]++
		}
	}
}

func (s *InspectionStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Total:      s.total,
		OK:         s.ok,
		NG:         s.total - s.ok,
		StageAvgMS: make(map[string]float64, len(s.stageN)),
	}
	for op, n := range s.stageN {
		snap.StageAvgMS[op] = durationMS(s.stageNS[op] / time.Duration(n))
	}
	return snap
}
