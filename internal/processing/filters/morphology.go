package filters

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"image-diff/internal/opencv/safe"
)

// morphology applies one rectangular-kernel operation a fixed number of
// times. The kernel is built once and only read afterwards, so a single
// instance may serve concurrent Transform calls.
type morphology struct {
	name       string
	kernel     gocv.Mat
	kernelSize int
	iterations int
	apply      func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat)
}

func newMorphology(name string, kernelSize, iterations int, apply func(gocv.Mat, *gocv.Mat, gocv.Mat)) (*morphology, error) {
	if kernelSize < 1 {
		return nil, fmt.Errorf("%s: kernel size must be positive, got %d", name, kernelSize)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("%s: iterations must be positive, got %d", name, iterations)
	}

	return &morphology{
		name:       name,
		kernel:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize)),
		kernelSize: kernelSize,
		iterations: iterations,
		apply:      apply,
	}, nil
}

func (m *morphology) transform(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateGray8(input, m.name); err != nil {
		return nil, err
	}

	current := input.GetMat().Clone()
	for i := 0; i < m.iterations; i++ {
		if err := ctx.Err(); err != nil {
			current.Close()
			return nil, err
		}
		next := gocv.NewMat()
		m.apply(current, &next, m.kernel)
		current.Close()
		current = next
	}

	return safe.Own(current, input.Tracker(), m.name)
}

func (m *morphology) Close() error {
	return m.kernel.Close()
}

// Eroding shrinks foreground regions of a binary mask, removing blobs
// smaller than the kernel.
type Eroding struct {
	*morphology
}

func NewEroding(kernelSize, iterations int) (*Eroding, error) {
	m, err := newMorphology("eroding", kernelSize, iterations, gocv.Erode)
	if err != nil {
		return nil, err
	}
	return &Eroding{m}, nil
}

func (e *Eroding) Name() string { return e.name }

func (e *Eroding) Transform(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	return e.transform(ctx, input)
}

// Dilating grows foreground regions and merges nearby fragments.
type Dilating struct {
	*morphology
}

func NewDilating(kernelSize, iterations int) (*Dilating, error) {
	m, err := newMorphology("dilating", kernelSize, iterations, gocv.Dilate)
	if err != nil {
		return nil, err
	}
	return &Dilating{m}, nil
}

func (d *Dilating) Name() string { return d.name }

func (d *Dilating) Transform(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	return d.transform(ctx, input)
}
