// Package threshold binarizes difference maps.
package threshold

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"image-diff/internal/opencv/safe"
)

const DefaultFloor = 70

// Thresholding binarizes with Otsu's automatic threshold, but never below a
// configured floor. Otsu on a nearly uniform map collapses toward zero and
// would turn sensor noise into foreground.
type Thresholding struct {
	floor float64
}

func NewThresholding(floor float64) (*Thresholding, error) {
	if floor < 0 || floor > 255 {
		return nil, fmt.Errorf("thresholding: floor must be within [0, 255], got %g", floor)
	}
	return &Thresholding{floor: floor}, nil
}

func (t *Thresholding) Name() string {
	return "thresholding"
}

func (t *Thresholding) Floor() float64 {
	return t.floor
}

// Effective returns the threshold Transform would apply to input, and false
// when the input is uniform and the mask is empty regardless.
func (t *Thresholding) Effective(input *safe.Mat) (float64, bool, error) {
	if err := safe.ValidateGray8(input, t.Name()); err != nil {
		return 0, false, err
	}

	src := input.GetMat()
	minVal, maxVal, _, _ := gocv.MinMaxLoc(src)
	if minVal == maxVal {
		return 0, false, nil
	}

	scratch := gocv.NewMat()
	defer scratch.Close()
	otsu := gocv.Threshold(src, &scratch, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	return max(float64(otsu), t.floor), true, nil
}

func (t *Thresholding) Transform(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	level, ok, err := t.Effective(input)
	if err != nil {
		return nil, err
	}

	if !ok {
		return safe.Own(gocv.Zeros(input.Rows(), input.Cols(), gocv.MatTypeCV8UC1), input.Tracker(), t.Name())
	}

	dst := gocv.NewMat()
	gocv.Threshold(input.GetMat(), &dst, float32(level), 255, gocv.ThresholdBinary)
	return safe.Own(dst, input.Tracker(), t.Name())
}
