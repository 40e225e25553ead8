package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerCountsLiveAllocations(t *testing.T) {
	tr := NewTracker()

	tr.TrackAllocation(1, 100, "reference")
	tr.TrackAllocation(2, 50, "mask")
	stats := tr.GetStats()
	assert.EqualValues(t, 2, stats.ActiveMats)
	assert.EqualValues(t, 150, stats.ActiveBytes)
	assert.Equal(t, []string{"mask", "reference"}, tr.LiveTags())

	tr.TrackDeallocation(1, "reference")
	tr.TrackDeallocation(1, "reference")
	tr.TrackAllocation(3, 10, "contours")

	stats = tr.GetStats()
	assert.EqualValues(t, 2, stats.ActiveMats)
	assert.EqualValues(t, 60, stats.ActiveBytes)
	assert.EqualValues(t, 150, stats.PeakBytes)
	assert.EqualValues(t, 160, stats.TotalAllocated)
	assert.EqualValues(t, 100, stats.TotalReleased)
}
