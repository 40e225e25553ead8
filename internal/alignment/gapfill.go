package alignment

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"image-diff/internal/opencv/safe"
)

// GapMode selects how reprojection gaps are located.
type GapMode string

const (
	// GapZero treats every pixel that is exactly zero in all channels as a
	// gap. Genuinely black scene content is indistinguishable from a gap.
	GapZero GapMode = "zero"
	// GapFootprint treats pixels outside the warped target footprint as gaps.
	GapFootprint GapMode = "footprint"
)

func ParseGapMode(s string) (GapMode, error) {
	switch GapMode(s) {
	case "", GapZero:
		return GapZero, nil
	case GapFootprint:
		return GapFootprint, nil
	}
	return "", fmt.Errorf("unknown gap fill mode %q", s)
}

// GapFiller copies reference pixels into the gaps of a registered target.
// This assumes the static background continues into the unseen border; it
// does not recover real scene content.
type GapFiller struct {
	mode GapMode
}

func NewGapFiller(mode GapMode) (*GapFiller, error) {
	if _, err := ParseGapMode(string(mode)); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = GapZero
	}
	return &GapFiller{mode: mode}, nil
}

func (g *GapFiller) Mode() GapMode {
	return g.mode
}

// Fill returns the completed target and the number of pixels replaced.
// footprint is only consulted in GapFootprint mode.
func (g *GapFiller) Fill(ctx context.Context, reference, registered, footprint *safe.Mat) (*safe.Mat, int, error) {
	if err := safe.ValidateColor8(reference, "gap fill reference"); err != nil {
		return nil, 0, err
	}
	if err := safe.ValidateColor8(registered, "gap fill target"); err != nil {
		return nil, 0, err
	}
	if err := safe.ValidateSameSize(reference, registered, "gap fill"); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	gaps := gocv.NewMat()
	defer gaps.Close()

	switch g.mode {
	case GapFootprint:
		if err := safe.ValidateGray8(footprint, "gap fill footprint"); err != nil {
			return nil, 0, err
		}
		if err := safe.ValidateSameSize(reference, footprint, "gap fill footprint"); err != nil {
			return nil, 0, err
		}
		gocv.BitwiseNot(footprint.GetMat(), &gaps)
	default:
		zero := gocv.NewScalar(0, 0, 0, 0)
		gocv.InRangeWithScalar(registered.GetMat(), zero, zero, &gaps)
	}

	filled := gocv.CountNonZero(gaps)
	out := registered.GetMat().Clone()
	if filled > 0 {
		ref := reference.GetMat()
		ref.CopyToWithMask(&out, gaps)
	}

	result, err := safe.Own(out, registered.Tracker(), "gap_filled")
	if err != nil {
		return nil, 0, err
	}
	return result, filled, nil
}
