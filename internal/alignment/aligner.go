// Package alignment registers a target photograph onto the frame of a
// reference photograph and repairs the borders the reprojection leaves
// empty.
package alignment

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sort"

	"gocv.io/x/gocv"

	"image-diff/internal/opencv/safe"
	"image-diff/internal/worker"
)

// minHomographyPoints is the smallest sample a homography can be fitted to.
const minHomographyPoints = 4

// ORB construction defaults other than the feature budget.
const (
	orbScaleFactor   = 1.2
	orbLevels        = 8
	orbEdgeThreshold = 31
	orbFirstLevel    = 0
	orbWTAK          = 2
	orbHarrisScore   = 0
	orbPatchSize     = 31
	orbFastThreshold = 20
)

type Options struct {
	MaxFeatures     int
	RansacThreshold float64
	MaxIters        int
	Confidence      float64
	MinMatches      int
}

func DefaultOptions() Options {
	return Options{
		MaxFeatures:     500,
		RansacThreshold: 5.0,
		MaxIters:        2000,
		Confidence:      0.995,
		MinMatches:      minHomographyPoints,
	}
}

func (o Options) Validate() error {
	switch {
	case o.MaxFeatures < minHomographyPoints:
		return fmt.Errorf("alignment: max features must be at least %d, got %d", minHomographyPoints, o.MaxFeatures)
	case o.RansacThreshold <= 0:
		return fmt.Errorf("alignment: ransac threshold must be positive, got %g", o.RansacThreshold)
	case o.MaxIters < 1:
		return fmt.Errorf("alignment: max iterations must be positive, got %d", o.MaxIters)
	case o.Confidence <= 0 || o.Confidence >= 1:
		return fmt.Errorf("alignment: confidence must be within (0, 1), got %g", o.Confidence)
	case o.MinMatches < minHomographyPoints:
		return fmt.Errorf("alignment: min matches must be at least %d, got %d", minHomographyPoints, o.MinMatches)
	}
	return nil
}

// Result of registering a target onto a reference. Registered and Footprint
// have the reference's dimensions; Footprint is 255 where the target had
// source data and 0 elsewhere.
type Result struct {
	Registered *safe.Mat
	Footprint  *safe.Mat
	Homography *Homography
	Matches    int
	Inliers    int
	// Coverage is the fraction of the reference frame covered by the target.
	Coverage float64
}

func (r *Result) Close() {
	if r == nil {
		return
	}
	r.Registered.Close()
	r.Footprint.Close()
}

// Aligner estimates a target-to-reference homography from ORB features and
// warps the target into the reference frame. Each CPU-bound stage is
// dispatched to the pool.
type Aligner struct {
	opts Options
	pool *worker.Pool
}

func NewAligner(opts Options, pool *worker.Pool) (*Aligner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		pool = worker.NewPool(0)
	}
	return &Aligner{opts: opts, pool: pool}, nil
}

type features struct {
	keypoints   []gocv.KeyPoint
	descriptors gocv.Mat
}

func (f *features) Close() {
	f.descriptors.Close()
}

type correspondence struct {
	ref, target gocv.Point2f
}

func (a *Aligner) Align(ctx context.Context, reference, target *safe.Mat) (*Result, error) {
	if err := safe.ValidateColor8(reference, "align reference"); err != nil {
		return nil, err
	}
	if err := safe.ValidateColor8(target, "align target"); err != nil {
		return nil, err
	}

	var refFeatures, targetFeatures *features
	var g worker.Group
	g.Go(func() error {
		var err error
		refFeatures, err = worker.Call(ctx, a.pool, func() (*features, error) { return a.detect(reference) })
		return err
	})
	g.Go(func() error {
		var err error
		targetFeatures, err = worker.Call(ctx, a.pool, func() (*features, error) { return a.detect(target) })
		return err
	})
	err := g.Wait()
	defer func() {
		if refFeatures != nil {
			refFeatures.Close()
		}
		if targetFeatures != nil {
			targetFeatures.Close()
		}
	}()
	if err != nil {
		return nil, fmt.Errorf("feature detection: %w", err)
	}

	if found := min(len(refFeatures.keypoints), len(targetFeatures.keypoints)); found < a.opts.MinMatches {
		return nil, &CorrespondenceError{Stage: "keypoints", Found: found, Required: a.opts.MinMatches}
	}

	pairs, err := worker.Call(ctx, a.pool, func() ([]correspondence, error) {
		return a.match(refFeatures, targetFeatures), nil
	})
	if err != nil {
		return nil, fmt.Errorf("feature matching: %w", err)
	}
	if len(pairs) < a.opts.MinMatches {
		return nil, &CorrespondenceError{Stage: "matches", Found: len(pairs), Required: a.opts.MinMatches}
	}

	type estimate struct {
		h       *Homography
		inliers int
	}
	est, err := worker.Call(ctx, a.pool, func() (estimate, error) {
		h, inliers, err := a.estimate(pairs)
		return estimate{h, inliers}, err
	})
	if err != nil {
		return nil, err
	}
	if err := est.h.Validate(target.Size()); err != nil {
		return nil, err
	}

	res := &Result{Homography: est.h, Matches: len(pairs), Inliers: est.inliers}
	err = a.pool.Do(ctx, func() error {
		var err error
		res.Registered, res.Footprint, err = a.warp(reference.Size(), target, est.h)
		return err
	})
	if err != nil {
		res.Close()
		return nil, fmt.Errorf("warp: %w", err)
	}

	res.Coverage = float64(gocv.CountNonZero(res.Footprint.GetMat())) / float64(reference.Rows()*reference.Cols())
	return res, nil
}

func (a *Aligner) detect(src *safe.Mat) (*features, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src.GetMat(), &gray, gocv.ColorBGRToGray)

	orb := gocv.NewORBWithParams(a.opts.MaxFeatures, orbScaleFactor, orbLevels, orbEdgeThreshold,
		orbFirstLevel, orbWTAK, orbHarrisScore, orbPatchSize, orbFastThreshold)
	defer orb.Close()

	noMask := gocv.NewMat()
	defer noMask.Close()

	kps, desc := orb.DetectAndCompute(gray, noMask)
	return &features{keypoints: kps, descriptors: desc}, nil
}

// match pairs descriptors by Hamming distance with cross-checking, best
// matches first.
func (a *Aligner) match(ref, target *features) []correspondence {
	if ref.descriptors.Empty() || target.descriptors.Empty() {
		return nil
	}

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, true)
	defer bf.Close()

	matches := bf.Match(ref.descriptors, target.descriptors)
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })

	pairs := make([]correspondence, 0, len(matches))
	for _, m := range matches {
		r := ref.keypoints[m.QueryIdx]
		t := target.keypoints[m.TrainIdx]
		pairs = append(pairs, correspondence{
			ref:    gocv.Point2f{X: float32(r.X), Y: float32(r.Y)},
			target: gocv.Point2f{X: float32(t.X), Y: float32(t.Y)},
		})
	}
	return pairs
}

func (a *Aligner) estimate(pairs []correspondence) (*Homography, int, error) {
	src := gocv.NewMatWithSize(len(pairs), 2, gocv.MatTypeCV32F)
	defer src.Close()
	dst := gocv.NewMatWithSize(len(pairs), 2, gocv.MatTypeCV32F)
	defer dst.Close()
	for i, p := range pairs {
		src.SetFloatAt(i, 0, p.target.X)
		src.SetFloatAt(i, 1, p.target.Y)
		dst.SetFloatAt(i, 0, p.ref.X)
		dst.SetFloatAt(i, 1, p.ref.Y)
	}

	inlierMask := gocv.NewMat()
	defer inlierMask.Close()

	hm := gocv.FindHomography(src, &dst, gocv.HomograpyMethodRANSAC, a.opts.RansacThreshold,
		&inlierMask, a.opts.MaxIters, a.opts.Confidence)
	defer hm.Close()

	h, err := homographyFromMat(hm)
	if err != nil {
		return nil, 0, err
	}

	inliers := 0
	if !inlierMask.Empty() {
		inliers = gocv.CountNonZero(inlierMask)
	}
	return h, inliers, nil
}

// warp reprojects target into a frame of the given size. Pixels without
// source data come out exactly zero.
func (a *Aligner) warp(size image.Point, target *safe.Mat, h *Homography) (*safe.Mat, *safe.Mat, error) {
	hm := h.toMat()
	defer hm.Close()

	registered := gocv.NewMat()
	gocv.WarpPerspective(target.GetMat(), &registered, hm, size)
	reg, err := safe.Own(registered, target.Tracker(), "registered")
	if err != nil {
		return nil, nil, err
	}

	ones := gocv.NewMatWithSize(target.Rows(), target.Cols(), gocv.MatTypeCV8UC1)
	defer ones.Close()
	ones.SetTo(gocv.NewScalar(255, 0, 0, 0))

	footprint := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(ones, &footprint, hm, size,
		gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{})
	fp, err := safe.Own(footprint, target.Tracker(), "footprint")
	if err != nil {
		reg.Close()
		return nil, nil, err
	}
	return reg, fp, nil
}
