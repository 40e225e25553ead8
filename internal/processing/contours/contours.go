// Package contours holds the region boundaries extracted from a change mask.
package contours

import (
	"context"
	"image"
	"math"

	"gocv.io/x/gocv"

	"image-diff/internal/opencv/safe"
)

// Contour is the ordered boundary of one connected foreground region.
type Contour []image.Point

// Set is the unordered result of one contour extraction.
type Set []Contour

// Bounds is the smallest rectangle containing every boundary point.
func (c Contour) Bounds() image.Rectangle {
	if len(c) == 0 {
		return image.Rectangle{}
	}

	r := image.Rectangle{Min: c[0], Max: c[0]}
	for _, p := range c[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	// Max is exclusive in image.Rectangle.
	r.Max = r.Max.Add(image.Pt(1, 1))
	return r
}

// Area is the polygon area enclosed by the boundary (shoelace formula).
func (c Contour) Area() float64 {
	n := len(c)
	if n < 3 {
		return 0
	}

	var sum int
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += c[i].X*c[j].Y - c[j].X*c[i].Y
	}
	return math.Abs(float64(sum)) / 2
}

// Bounds returns the bounding rectangle of every contour, in set order.
func (s Set) Bounds() []image.Rectangle {
	rects := make([]image.Rectangle, len(s))
	for i, c := range s {
		rects[i] = c.Bounds()
	}
	return rects
}

// TotalArea sums the enclosed area of all contours.
func (s Set) TotalArea() float64 {
	var total float64
	for _, c := range s {
		total += c.Area()
	}
	return total
}

// PointsVector converts the set for gocv drawing calls. The caller closes it.
func (s Set) PointsVector() gocv.PointsVector {
	pts := make([][]image.Point, len(s))
	for i, c := range s {
		pts[i] = c
	}
	return gocv.NewPointsVectorFromPoints(pts)
}

// Finding extracts the external boundaries of foreground regions in a binary
// mask. Holes inside a region are not reported.
type Finding struct{}

func NewFinding() *Finding {
	return &Finding{}
}

func (f *Finding) Name() string {
	return "finding_contours"
}

func (f *Finding) Transform(ctx context.Context, mask *safe.Mat) (Set, error) {
	if err := safe.ValidateGray8(mask, f.Name()); err != nil {
		return nil, err
	}

	found := gocv.FindContours(mask.GetMat(), gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer found.Close()

	raw := found.ToPoints()
	set := make(Set, 0, len(raw))
	for _, pts := range raw {
		if len(pts) == 0 {
			continue
		}
		set = append(set, Contour(pts))
	}
	return set, nil
}
