package timing

import (
	"sort"
	"sync"
	"time"
)

// Tracker accumulates durations per operation name. One Tracker belongs to
// one diff request; the fan-out tasks of that request may record into it
// concurrently.
type Tracker struct {
	mu      sync.Mutex
	timings map[string][]time.Duration
	order   []string
}

func NewTracker() *Tracker {
	return &Tracker{
		timings: make(map[string][]time.Duration),
	}
}

// Record adds one measurement for operation.
func (tt *Tracker) Record(operation string, d time.Duration) {
	if tt == nil {
		return
	}

	tt.mu.Lock()
	defer tt.mu.Unlock()

	if _, seen := tt.timings[operation]; !seen {
		tt.order = append(tt.order, operation)
	}
	tt.timings[operation] = append(tt.timings[operation], d)
}

// Start returns a func that records the elapsed time when called.
//
//	defer tracker.Start("align")()
func (tt *Tracker) Start(operation string) func() {
	start := time.Now()
	return func() {
		tt.Record(operation, time.Since(start))
	}
}

// StepDone lets a Tracker observe pipeline steps.
func (tt *Tracker) StepDone(step string, d time.Duration, _ error) {
	tt.Record(step, d)
}

// Entry is the total time spent in one operation.
type Entry struct {
	Operation string
	Count     int
	Total     time.Duration
}

// Summary returns one Entry per operation in first-seen order.
func (tt *Tracker) Summary() []Entry {
	if tt == nil {
		return nil
	}

	tt.mu.Lock()
	defer tt.mu.Unlock()

	entries := make([]Entry, 0, len(tt.order))
	for _, op := range tt.order {
		var total time.Duration
		for _, d := range tt.timings[op] {
			total += d
		}
		entries = append(entries, Entry{Operation: op, Count: len(tt.timings[op]), Total: total})
	}
	return entries
}

// Slowest returns up to n entries ordered by total time, longest first.
func (tt *Tracker) Slowest(n int) []Entry {
	entries := tt.Summary()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Total > entries[j].Total
	})
	if n < len(entries) {
		entries = entries[:n]
	}
	return entries
}
