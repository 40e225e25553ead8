package alignment

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

const (
	minDeterminant = 1e-8
	minProjectiveW = 1e-6
)

// Homography is a 3x3 projective transform mapping target pixel
// coordinates into the reference frame.
type Homography struct {
	m *mat.Dense
}

// NewHomography builds a homography from row-major values.
func NewHomography(values [9]float64) *Homography {
	return &Homography{m: mat.NewDense(3, 3, values[:])}
}

func homographyFromMat(h gocv.Mat) (*Homography, error) {
	if h.Empty() || h.Rows() != 3 || h.Cols() != 3 {
		return nil, fmt.Errorf("%w: estimator returned no transform", ErrDegenerateTransform)
	}

	var values [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			values[r*3+c] = h.GetDoubleAt(r, c)
		}
	}
	return NewHomography(values), nil
}

func (h *Homography) At(r, c int) float64 {
	return h.m.At(r, c)
}

// Values returns the matrix in row-major order.
func (h *Homography) Values() [9]float64 {
	var v [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v[r*3+c] = h.m.At(r, c)
		}
	}
	return v
}

// Det is the determinant after normalizing h33 to 1.
func (h *Homography) Det() float64 {
	scale := h.m.At(2, 2)
	if scale == 0 {
		return mat.Det(h.m)
	}
	var n mat.Dense
	n.Scale(1/scale, h.m)
	return mat.Det(&n)
}

// Apply maps (x, y) and reports false for points sent to infinity.
func (h *Homography) Apply(x, y float64) (float64, float64, bool) {
	in := mat.NewVecDense(3, []float64{x, y, 1})
	var out mat.VecDense
	out.MulVec(h.m, in)

	w := out.AtVec(2)
	if math.Abs(w) < minProjectiveW {
		return 0, 0, false
	}
	return out.AtVec(0) / w, out.AtVec(1) / w, true
}

// Inverse maps reference coordinates back into the target frame.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateTransform, err)
	}
	return &Homography{m: &inv}, nil
}

// Validate rejects transforms that cannot register an image of the given
// size. Non-finite entries, a (near) singular or non-invertible matrix and a
// target corner mapped across the line at infinity all fail.
func (h *Homography) Validate(size image.Point) error {
	for _, v := range h.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite matrix entry", ErrDegenerateTransform)
		}
	}

	if det := h.Det(); math.Abs(det) < minDeterminant {
		return fmt.Errorf("%w: determinant %g", ErrDegenerateTransform, det)
	}
	if _, err := h.Inverse(); err != nil {
		return err
	}

	for _, p := range corners(size) {
		w := h.m.At(2, 0)*p[0] + h.m.At(2, 1)*p[1] + h.m.At(2, 2)
		if w*h.m.At(2, 2) <= 0 || math.Abs(w) < minProjectiveW {
			return fmt.Errorf("%w: corner (%g, %g) projects to infinity", ErrDegenerateTransform, p[0], p[1])
		}
	}
	return nil
}

// ProjectBounds returns the bounding box of the target frame's corners after
// projection into the reference frame.
func (h *Homography) ProjectBounds(size image.Point) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range corners(size) {
		x, y, ok := h.Apply(p[0], p[1])
		if !ok {
			continue
		}
		minX, minY = math.Min(minX, x), math.Min(minY, y)
		maxX, maxY = math.Max(maxX, x), math.Max(maxY, y)
	}
	if math.IsInf(minX, 1) {
		return image.Rectangle{}
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// toMat converts back for gocv warp calls. The caller closes the result.
func (h *Homography) toMat() gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h.m.At(r, c))
		}
	}
	return m
}

func corners(size image.Point) [4][2]float64 {
	w, hgt := float64(size.X-1), float64(size.Y-1)
	return [4][2]float64{{0, 0}, {w, 0}, {w, hgt}, {0, hgt}}
}
