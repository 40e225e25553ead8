package safe

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type countingTracker struct {
	live map[uint64]int64
}

func (c *countingTracker) TrackAllocation(id uint64, size int64, tag string) { c.live[id] = size }
func (c *countingTracker) TrackDeallocation(id uint64, tag string)           { delete(c.live, id) }

func TestNewMatRejectsBadDimensions(t *testing.T) {
	_, err := NewMat(0, 10, gocv.MatTypeCV8UC1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMat))
}

func TestCloneAndCloseTracking(t *testing.T) {
	tracker := &countingTracker{live: map[uint64]int64{}}

	m, err := NewMatWithTracker(4, 6, gocv.MatTypeCV8UC3, tracker, "src")
	require.NoError(t, err)
	assert.Equal(t, image.Pt(6, 4), m.Size())
	assert.Equal(t, int64(4*6*3), tracker.live[m.ID()])

	c, err := m.Clone("copy")
	require.NoError(t, err)
	assert.Len(t, tracker.live, 2)
	assert.True(t, c.SameSize(m))

	m.Close()
	m.Close()
	assert.False(t, m.IsValid())
	assert.True(t, m.Empty())
	assert.Len(t, tracker.live, 1)

	c.Close()
	assert.Empty(t, tracker.live)
}

func TestOwnRejectsEmpty(t *testing.T) {
	_, err := Own(gocv.NewMat(), nil, "empty")
	assert.True(t, errors.Is(err, ErrInvalidMat))
}

func TestValidators(t *testing.T) {
	gray, err := NewMat(3, 3, gocv.MatTypeCV8UC1)
	require.NoError(t, err)
	defer gray.Close()
	color, err := NewMat(3, 4, gocv.MatTypeCV8UC3)
	require.NoError(t, err)
	defer color.Close()

	assert.NoError(t, ValidateGray8(gray, "threshold"))
	assert.Error(t, ValidateGray8(color, "threshold"))
	assert.NoError(t, ValidateColor8(color, "align"))
	assert.NoError(t, ValidateChannels(color, "gray", 3, 4))
	assert.Error(t, ValidateChannels(gray, "gray", 3, 4))
	assert.Error(t, ValidateSameSize(gray, color, "absdiff"))
	assert.Error(t, ValidateMatForOperation(nil, "nil"))
	assert.Error(t, ValidateDimensions(40000, 10, "huge"))
}
