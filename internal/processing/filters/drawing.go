package filters

import (
	"context"
	"fmt"
	"image/color"

	"gocv.io/x/gocv"

	"image-diff/internal/opencv/safe"
	"image-diff/internal/processing/contours"
)

var (
	// Warm is the stroke for the first image of a pair.
	Warm = color.RGBA{R: 255, A: 255}
	// Cool is the stroke for the second image.
	Cool = color.RGBA{B: 255, A: 255}
)

// DrawingContours outlines a contour set on a copy of a color image.
type DrawingContours struct {
	set       contours.Set
	stroke    color.RGBA
	thickness int
}

func NewDrawingContours(set contours.Set, stroke color.RGBA, thickness int) (*DrawingContours, error) {
	if thickness < 1 {
		return nil, fmt.Errorf("drawing_contours: thickness must be positive, got %d", thickness)
	}
	return &DrawingContours{set: set, stroke: stroke, thickness: thickness}, nil
}

func (d *DrawingContours) Name() string {
	return "drawing_contours"
}

func (d *DrawingContours) Transform(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateColor8(input, d.Name()); err != nil {
		return nil, err
	}

	canvas := input.GetMat().Clone()
	if len(d.set) > 0 {
		pv := d.set.PointsVector()
		gocv.DrawContours(&canvas, pv, -1, d.stroke, d.thickness)
		pv.Close()
	}
	return safe.Own(canvas, input.Tracker(), d.Name())
}
