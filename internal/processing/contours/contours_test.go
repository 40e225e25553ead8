package contours

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"image-diff/internal/opencv/safe"
)

func maskWith(t *testing.T, rects ...image.Rectangle) *safe.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(100, 120, gocv.MatTypeCV8UC1)
	m.SetTo(gocv.NewScalar(0, 0, 0, 0))
	for _, r := range rects {
		gocv.Rectangle(&m, r, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	}
	sm, err := safe.Own(m, nil, "mask")
	require.NoError(t, err)
	return sm
}

func TestContourGeometry(t *testing.T) {
	c := Contour{{10, 10}, {10, 19}, {29, 19}, {29, 10}}
	assert.Equal(t, image.Rect(10, 10, 30, 20), c.Bounds())
	assert.InDelta(t, 19*9, c.Area(), 1e-9)

	assert.Zero(t, Contour{{1, 1}, {2, 2}}.Area())
	assert.Equal(t, image.Rectangle{}, Contour{}.Bounds())

	s := Set{c, {{0, 0}, {0, 4}, {4, 4}, {4, 0}}}
	assert.InDelta(t, 171+16, s.TotalArea(), 1e-9)
	assert.Len(t, s.Bounds(), 2)
}

func TestFindingExternalOnly(t *testing.T) {
	// A ring: the hole must not show up as a second contour.
	m := maskWith(t, image.Rect(20, 20, 80, 80))
	defer m.Close()
	inner := m.GetMat()
	gocv.Rectangle(&inner, image.Rect(40, 40, 60, 60), color.RGBA{}, -1)

	set, err := NewFinding().Transform(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, image.Rect(20, 20, 80, 80), set[0].Bounds())
}

func TestFindingSeparateRegions(t *testing.T) {
	m := maskWith(t, image.Rect(5, 5, 15, 15), image.Rect(60, 50, 90, 70))
	defer m.Close()

	set, err := NewFinding().Transform(context.Background(), m)
	require.NoError(t, err)
	assert.Len(t, set, 2)
}

func TestFindingEmptyMask(t *testing.T) {
	m := maskWith(t)
	defer m.Close()

	set, err := NewFinding().Transform(context.Background(), m)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestFindingRejectsColor(t *testing.T) {
	m, err := safe.NewMat(10, 10, gocv.MatTypeCV8UC3)
	require.NoError(t, err)
	defer m.Close()

	_, err = NewFinding().Transform(context.Background(), m)
	assert.ErrorIs(t, err, safe.ErrInvalidMat)
}

func TestPointsVectorRoundTrip(t *testing.T) {
	s := Set{{{1, 1}, {1, 5}, {5, 5}}}
	pv := s.PointsVector()
	defer pv.Close()
	assert.Equal(t, 1, pv.Size())
	assert.Equal(t, 3, pv.At(0).Size())
}
