package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stage names one hop of the widget pipeline measured by the rolling
// latency window. The vocabulary is fixed; observations for anything else
// are dropped.
type Stage string

const (
	StageControlToState   Stage = "control_to_state"
	StageLevelToFrame     Stage = "level_to_frame"
	StageSendToFirstReply Stage = "send_to_first_reply"
	StageSendToReplyDone  Stage = "send_to_reply_done"
)

// pipeline fixes the snapshot order and the p95 budget per stage.
var pipeline = [...]struct {
	stage       Stage
	p95TargetMS float64
}{
	{StageControlToState, 40},
	{StageLevelToFrame, 35},
	{StageSendToFirstReply, 900},
	{StageSendToReplyDone, 2500},
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

// StageIndicator counts a named operational event (reconnects and the
// like) alongside the latency stages.
type StageIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []StageStats     `json:"stages"`
	Indicators  []StageIndicator `json:"indicators,omitempty"`
}

// stageWindow keeps the most recent N observations per pipeline stage in
// fixed rings, one per vocabulary entry.
type stageWindow struct {
	mu         sync.Mutex
	size       int
	rings      [len(pipeline)]stageRing
	indicators []StageIndicator
}

type stageRing struct {
	values []float64
	next   int
	count  int
	last   float64
}

func (r *stageRing) add(ms float64) {
	r.values[r.next] = ms
	r.last = ms
	r.next = (r.next + 1) % len(r.values)
	if r.count < len(r.values) {
		r.count++
	}
}

func (r *stageRing) sorted() []float64 {
	out := make([]float64, r.count)
	copy(out, r.values[:r.count])
	sort.Float64s(out)
	return out
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	w := &stageWindow{size: size}
	for i := range w.rings {
		w.rings[i].values = make([]float64, size)
	}
	return w
}

func stageIndex(s Stage) int {
	for i := range pipeline {
		if pipeline[i].stage == s {
			return i
		}
	}
	return -1
}

func (w *stageWindow) Observe(stage Stage, ms float64) {
	i := stageIndex(stage)
	if i < 0 || ms < 0 {
		return
	}
	w.mu.Lock()
	w.rings[i].add(ms)
	w.mu.Unlock()
}

func (w *stageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.indicators {
		if w.indicators[i].Name == name {
			w.indicators[i].Count++
			return
		}
	}
	w.indicators = append(w.indicators, StageIndicator{Name: name, Count: 1})
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	stages := make([]StageStats, 0, len(pipeline))
	for i := range pipeline {
		r := &w.rings[i]
		if r.count == 0 {
			continue
		}
		samples := r.sorted()
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		stages = append(stages, StageStats{
			Stage:       string(pipeline[i].stage),
			Samples:     r.count,
			LastMS:      round2(r.last),
			AvgMS:       round2(sum / float64(r.count)),
			P50MS:       round2(nearestRank(samples, 0.50)),
			P95MS:       round2(nearestRank(samples, 0.95)),
			P99MS:       round2(nearestRank(samples, 0.99)),
			TargetP95MS: pipeline[i].p95TargetMS,
		})
	}

	indicators := make([]StageIndicator, len(w.indicators))
	copy(indicators, w.indicators)
	sort.Slice(indicators, func(i, j int) bool { return indicators[i].Name < indicators[j].Name })

	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      stages,
		Indicators:  indicators,
	}
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.rings {
		w.rings[i] = stageRing{values: make([]float64, w.size)}
	}
	w.indicators = nil
}

// nearestRank picks the nearest-rank percentile from an ascending sample
// slice.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
