package sim

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gammazero/deque"
	"golang.org/x/exp/maps"

	"lautenbacher.net/infraglow/source"
)

const maxValueHistory = 500

// valueTracker keeps a bounded history per entity and renders summary
// statistics for the value pane. Callers hold the Preview mutex.
type valueTracker struct {
	history map[string]*deque.Deque[float64]
	latest  map[string]string
}

type valueStats struct {
	min, max, mean, stdDev float64
}

func newValueTracker() *valueTracker {
	return &valueTracker{
		history: make(map[string]*deque.Deque[float64]),
		latest:  make(map[string]string),
	}
}

func (v *valueTracker) record(entityID, state string) {
	q, ok := v.history[entityID]
	if !ok {
		q = new(deque.Deque[float64])
		q.Grow(maxValueHistory)
		v.history[entityID] = q
	}
	if q.Len() == maxValueHistory {
		q.PopFront()
	}
	q.PushBack(source.ParseState(state))
	v.latest[entityID] = state
}

func (v *valueTracker) displayText() string {
	names := maps.Keys(v.history)
	sort.Strings(names)

	var buf strings.Builder
	for _, name := range names {
		stats := calculateStats(v.history[name])
		fmt.Fprintf(&buf, " [blue]%-32s[-] %10s  [min %7.1f | mean %7.1f | max %7.1f | σ %6.1f]\n",
			name, v.latest[name], stats.min, stats.mean, stats.max, stats.stdDev)
	}
	return buf.String()
}

func calculateStats(q *deque.Deque[float64]) valueStats {
	if q.Len() == 0 {
		return valueStats{}
	}

	var sum float64
	min, max := q.At(0), q.At(0)
	for i := 0; i < q.Len(); i++ {
		val := q.At(i)
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
		sum += val
	}
	mean := sum / float64(q.Len())

	var sumOfSquares float64
	for i := 0; i < q.Len(); i++ {
		d := q.At(i) - mean
		sumOfSquares += d * d
	}
	stdDev := math.Sqrt(sumOfSquares / float64(q.Len()))

	return valueStats{min: min, max: max, mean: mean, stdDev: stdDev}
}
