// Package filters implements the image transform steps used by the
// preprocessing and diff pipelines. Every step returns a new Mat and leaves
// its input untouched.
package filters

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"image-diff/internal/opencv/safe"
)

const (
	DefaultSmoothingKernel = 5
	DefaultErodeKernel     = 4
	DefaultErodeIterations = 3
	DefaultDilateKernel    = 4
	DefaultDilateIters     = 5
	DefaultStrokeWidth     = 4
)

func validate8U(mat *safe.Mat, operation string) error {
	if err := safe.ValidateMatForOperation(mat, operation); err != nil {
		return err
	}
	switch mat.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
		return nil
	}
	return fmt.Errorf("%w: %s requires an 8-bit Mat, got type %d", safe.ErrInvalidMat, operation, int(mat.Type()))
}

func checkOddKernel(name string, ksize int) error {
	if ksize < 1 || ksize%2 == 0 {
		return fmt.Errorf("%s: kernel size must be a positive odd number, got %d", name, ksize)
	}
	return nil
}

// ColorCorrection converts to grayscale and equalizes the histogram, which
// normalizes exposure differences between the two captures.
type ColorCorrection struct{}

func NewColorCorrection() *ColorCorrection {
	return &ColorCorrection{}
}

func (c *ColorCorrection) Name() string {
	return "color_correction"
}

func (c *ColorCorrection) Transform(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateChannels(input, c.Name(), 3, 4); err != nil {
		return nil, err
	}
	if err := validate8U(input, c.Name()); err != nil {
		return nil, err
	}

	code := gocv.ColorBGRToGray
	if input.Channels() == 4 {
		code = gocv.ColorBGRAToGray
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(input.GetMat(), &gray, code)

	equalized := gocv.NewMat()
	gocv.EqualizeHist(gray, &equalized)
	return safe.Own(equalized, input.Tracker(), c.Name())
}

type GaussianSmoothing struct {
	kernelSize int
}

func NewGaussianSmoothing(kernelSize int) (*GaussianSmoothing, error) {
	if err := checkOddKernel("gaussian_smoothing", kernelSize); err != nil {
		return nil, err
	}
	return &GaussianSmoothing{kernelSize: kernelSize}, nil
}

func (g *GaussianSmoothing) Name() string {
	return "gaussian_smoothing"
}

func (g *GaussianSmoothing) Transform(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	if err := validate8U(input, g.Name()); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	gocv.GaussianBlur(input.GetMat(), &dst, image.Pt(g.kernelSize, g.kernelSize), 0, 0, gocv.BorderDefault)
	return safe.Own(dst, input.Tracker(), g.Name())
}

// MedianSmoothing removes impulse noise from the difference map before it
// is thresholded.
type MedianSmoothing struct {
	kernelSize int
}

func NewMedianSmoothing(kernelSize int) (*MedianSmoothing, error) {
	// OpenCV rejects a median aperture of 1.
	if kernelSize < 3 {
		return nil, fmt.Errorf("median_smoothing: kernel size must be at least 3, got %d", kernelSize)
	}
	if err := checkOddKernel("median_smoothing", kernelSize); err != nil {
		return nil, err
	}
	return &MedianSmoothing{kernelSize: kernelSize}, nil
}

func (m *MedianSmoothing) Name() string {
	return "median_smoothing"
}

func (m *MedianSmoothing) Transform(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	if err := validate8U(input, m.Name()); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	gocv.MedianBlur(input.GetMat(), &dst, m.kernelSize)
	return safe.Own(dst, input.Tracker(), m.Name())
}
