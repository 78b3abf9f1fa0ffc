package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// LatencyTracker keeps one DDSketch per operation name. Values are recorded
// in milliseconds.
type LatencyTracker struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	relativeAccuracy float64
}

func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		sketches:         make(map[string]*ddsketch.DDSketch),
		relativeAccuracy: relativeAccuracy,
	}
}

func (lt *LatencyTracker) Record(operation string, d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, ok := lt.sketches[operation]
	if !ok {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(lt.relativeAccuracy)
		}
		lt.sketches[operation] = sketch
	}
	_ = sketch.Add(float64(d.Microseconds()) / 1000.0)
}

// Since records the time elapsed since start. Meant for defer.
func (lt *LatencyTracker) Since(operation string, start time.Time) {
	lt.Record(operation, time.Since(start))
}

type Stats struct {
	Operation string  `json:"operation"`
	Count     int64   `json:"count"`
	Min       float64 `json:"min_ms"`
	P50       float64 `json:"p50_ms"`
	P90       float64 `json:"p90_ms"`
	P99       float64 `json:"p99_ms"`
	Max       float64 `json:"max_ms"`
}

func (lt *LatencyTracker) GetStats(operation string) (Stats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.statsLocked(operation)
}

func (lt *LatencyTracker) statsLocked(operation string) (Stats, error) {
	sketch, ok := lt.sketches[operation]
	if !ok {
		return Stats{}, fmt.Errorf("no data for operation: %s", operation)
	}
	count := sketch.GetCount()
	if count == 0 {
		return Stats{Operation: operation}, nil
	}

	min, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	max, _ := sketch.GetMaxValue()
	return Stats{
		Operation: operation,
		Count:     int64(count),
		Min:       min,
		P50:       p50,
		P90:       p90,
		P99:       p99,
		Max:       max,
	}, nil
}

// GetAllStats returns the stats of every operation sorted by name.
func (lt *LatencyTracker) GetAllStats() []Stats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	stats := make([]Stats, 0, len(lt.sketches))
	for op := range lt.sketches {
		if s, err := lt.statsLocked(op); err == nil {
			stats = append(stats, s)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Operation < stats[j].Operation })
	return stats
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("%s: no data", s.Operation)
	}
	return fmt.Sprintf("%s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Operation, s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}
