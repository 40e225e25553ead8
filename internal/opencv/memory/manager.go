package memory

import (
	"sort"
	"sync"
	"time"
)

// Tracker records live Mat allocations. It implements safe.MemoryTracker and is
// safe for concurrent use by the fan-out tasks of one request.
type Tracker struct {
	mu          sync.Mutex
	allocations map[uint64]*AllocationRecord
	stats       Stats
}

type AllocationRecord struct {
	Tag       string
	CreatedAt time.Time
	Size      int64
}

type Stats struct {
	TotalAllocated int64
	TotalReleased  int64
	ActiveMats     int64
	ActiveBytes    int64
	PeakBytes      int64
}

func NewTracker() *Tracker {
	return &Tracker{
		allocations: make(map[uint64]*AllocationRecord),
	}
}

func (t *Tracker) TrackAllocation(id uint64, size int64, tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.allocations[id] = &AllocationRecord{Tag: tag, CreatedAt: time.Now(), Size: size}
	t.stats.TotalAllocated += size
	t.stats.ActiveMats++
	t.stats.ActiveBytes += size
	if t.stats.ActiveBytes > t.stats.PeakBytes {
		t.stats.PeakBytes = t.stats.ActiveBytes
	}
}

func (t *Tracker) TrackDeallocation(id uint64, tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.allocations[id]
	if !ok {
		return
	}
	delete(t.allocations, id)
	t.stats.TotalReleased += record.Size
	t.stats.ActiveMats--
	t.stats.ActiveBytes -= record.Size
}

func (t *Tracker) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// LiveTags lists the tags of allocations not yet released, sorted.
func (t *Tracker) LiveTags() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	tags := make([]string, 0, len(t.allocations))
	for _, record := range t.allocations {
		tags = append(tags, record.Tag)
	}
	sort.Strings(tags)
	return tags
}
