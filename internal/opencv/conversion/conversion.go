// Package conversion moves pixels between encoded files, image.Image
// values and Mats.
package conversion

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	// Upload formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gocv.io/x/gocv"

	"image-diff/internal/opencv/safe"
)

// ErrUnsupportedFormat wraps decode failures for unknown or corrupt input.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ImageToMat converts img to a 3-channel BGR Mat, dropping alpha.
func ImageToMat(img image.Image, tracker safe.MemoryTracker, tag string) (*safe.Mat, error) {
	b := img.Bounds()
	if err := safe.ValidateDimensions(b.Dx(), b.Dy(), tag); err != nil {
		return nil, err
	}

	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", tag, err)
	}
	return safe.Own(m, tracker, tag)
}

// MatToImage converts a gray, BGR or BGRA Mat to an image.Image.
func MatToImage(m *safe.Mat) (image.Image, error) {
	if err := safe.ValidateChannels(m, "mat to image", 1, 3, 4); err != nil {
		return nil, err
	}
	img, err := m.GetMat().ToImage()
	if err != nil {
		return nil, fmt.Errorf("mat to image: %w", err)
	}
	return img, nil
}

// Decode reads any registered format into a BGR Mat. Dimensions are checked
// from the header before the pixels are decoded.
func Decode(r io.Reader, tracker safe.MemoryTracker, tag string) (*safe.Mat, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tag, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, tag, err)
	}
	if err := safe.ValidateDimensions(cfg.Width, cfg.Height, tag); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, tag, err)
	}
	return ImageToMat(img, tracker, tag)
}

// SideBySide places left and right next to each other. An image shorter
// than the other is stretched to the common height, keeping its width.
func SideBySide(left, right image.Image) *image.NRGBA {
	lb, rb := left.Bounds(), right.Bounds()
	height := max(lb.Dy(), rb.Dy())

	if lb.Dy() != height {
		left = imaging.Resize(left, lb.Dx(), height, imaging.Lanczos)
	}
	if rb.Dy() != height {
		right = imaging.Resize(right, rb.Dx(), height, imaging.Lanczos)
	}

	dst := imaging.New(lb.Dx()+rb.Dx(), height, color.Black)
	dst = imaging.Paste(dst, left, image.Pt(0, 0))
	return imaging.Paste(dst, right, image.Pt(lb.Dx(), 0))
}

func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// CombinePair renders two annotated Mats as one side-by-side JPEG.
func CombinePair(w io.Writer, first, second *safe.Mat, quality int) error {
	left, err := MatToImage(first)
	if err != nil {
		return err
	}
	right, err := MatToImage(second)
	if err != nil {
		return err
	}
	return EncodeJPEG(w, SideBySide(left, right), quality)
}
