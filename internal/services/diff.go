// Package services runs the full comparison of two photographs: alignment,
// gap filling, preprocessing, differencing, contour extraction and
// annotation.
package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"time"

	"gocv.io/x/gocv"

	"image-diff/internal/alignment"
	"image-diff/internal/config"
	"image-diff/internal/debug/timing"
	"image-diff/internal/logger"
	"image-diff/internal/opencv/conversion"
	"image-diff/internal/opencv/safe"
	"image-diff/internal/processing/chain"
	"image-diff/internal/processing/contours"
	"image-diff/internal/processing/filters"
	"image-diff/internal/processing/threshold"
	"image-diff/internal/worker"
)

const component = "DiffService"

// ErrInvalidInput marks inputs that could not be decoded into images.
var ErrInvalidInput = errors.New("invalid input image")

// Stats describes one comparison.
type Stats struct {
	Matches  int
	Inliers  int
	Coverage float64
	// GapPixels is the number of target pixels copied from the reference.
	GapPixels       int
	// TargetBounds is where the target frame lands in the reference frame.
	// It may extend past the reference.
	TargetBounds    image.Rectangle
	Regions         []image.Rectangle
	ContourArea     float64
	ChangedFraction float64
}

// DiffResult holds the annotated pair in input order: First is the
// reference, Second the registered target. Both have the reference's size.
type DiffResult struct {
	First    *safe.Mat
	Second   *safe.Mat
	Contours contours.Set
	Stats    Stats
	Timings  []timing.Entry
}

func (r *DiffResult) Close() {
	if r == nil {
		return
	}
	r.First.Close()
	r.Second.Close()
}

type DiffService struct {
	pool       *worker.Pool
	log        logger.Logger
	aligner    *alignment.Aligner
	filler     *alignment.GapFiller
	preprocess *chain.ProcessingChain
	diff       *chain.Terminated[contours.Set]

	firstColor  color.RGBA
	secondColor color.RGBA
	thickness   int
	jpegQuality int
}

func NewDiffService(cfg *config.Config, pool *worker.Pool, log logger.Logger) (*DiffService, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if pool == nil {
		pool = worker.NewPool(cfg.Workers.Size)
	}
	if log == nil {
		log = logger.Nop()
	}

	aligner, err := alignment.NewAligner(cfg.Align.Options(), pool)
	if err != nil {
		return nil, err
	}
	mode, err := alignment.ParseGapMode(cfg.Align.GapFill)
	if err != nil {
		return nil, err
	}
	filler, err := alignment.NewGapFiller(mode)
	if err != nil {
		return nil, err
	}
	first, second, err := cfg.Annotate.Colors()
	if err != nil {
		return nil, err
	}
	if cfg.Annotate.Thickness < 1 {
		return nil, fmt.Errorf("annotate thickness must be positive, got %d", cfg.Annotate.Thickness)
	}

	diff, err := buildDiffPipeline(cfg.Diff, pool)
	if err != nil {
		return nil, err
	}

	return &DiffService{
		pool:        pool,
		log:         log,
		aligner:     aligner,
		filler:      filler,
		preprocess:  chain.NewProcessingChain(pool, filters.NewColorCorrection()),
		diff:        diff,
		firstColor:  first,
		secondColor: second,
		thickness:   cfg.Annotate.Thickness,
		jpegQuality: cfg.Output.JPEGQuality,
	}, nil
}

// buildDiffPipeline turns an absolute difference map into contours:
// smoothing, thresholding, erosion, dilation, contour extraction.
func buildDiffPipeline(cfg config.DiffConfig, pool *worker.Pool) (*chain.Terminated[contours.Set], error) {
	var smoothing chain.ImageStep
	var err error
	switch cfg.Smoothing {
	case config.SmoothingGaussian:
		smoothing, err = filters.NewGaussianSmoothing(cfg.SmoothingKernel)
	case config.SmoothingMedian, "":
		smoothing, err = filters.NewMedianSmoothing(cfg.SmoothingKernel)
	default:
		err = fmt.Errorf("unknown smoothing %q", cfg.Smoothing)
	}
	if err != nil {
		return nil, err
	}

	thresholding, err := threshold.NewThresholding(cfg.ThresholdFloor)
	if err != nil {
		return nil, err
	}
	eroding, err := filters.NewEroding(cfg.ErodeKernel, cfg.ErodeIterations)
	if err != nil {
		return nil, err
	}
	dilating, err := filters.NewDilating(cfg.DilateKernel, cfg.DilateIterations)
	if err != nil {
		eroding.Close()
		return nil, err
	}

	pc := chain.NewProcessingChain(pool, smoothing, thresholding, eroding, dilating)
	return chain.Then[contours.Set](pc, contours.NewFinding()), nil
}

// DiffStepNames lists the diff pipeline in execution order.
func (s *DiffService) DiffStepNames() []string {
	return s.diff.GetStepNames()
}

// FindDiff compares target against reference. Inputs stay owned by the
// caller; the result is new and must be closed.
func (s *DiffService) FindDiff(ctx context.Context, reference, target *safe.Mat) (*DiffResult, error) {
	started := time.Now()
	tt := timing.NewTracker()

	stop := tt.Start("align")
	aligned, err := s.aligner.Align(ctx, reference, target)
	stop()
	if err != nil {
		s.log.Warning(component, "alignment failed", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("align: %w", err)
	}
	defer aligned.Close()

	s.log.Debug(component, "target registered", map[string]interface{}{
		"matches":  aligned.Matches,
		"inliers":  aligned.Inliers,
		"coverage": aligned.Coverage,
	})

	type fillResult struct {
		mat    *safe.Mat
		filled int
	}
	stop = tt.Start("gap_fill")
	fill, err := worker.Call(ctx, s.pool, func() (fillResult, error) {
		m, n, err := s.filler.Fill(ctx, reference, aligned.Registered, aligned.Footprint)
		return fillResult{m, n}, err
	})
	stop()
	if err != nil {
		return nil, fmt.Errorf("gap fill: %w", err)
	}
	completed := fill.mat
	defer completed.Close()

	refPre, targetPre, err := s.preprocessPair(ctx, tt, reference, completed)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	stop = tt.Start("abs_diff")
	diffMap, err := worker.Call(ctx, s.pool, func() (*safe.Mat, error) {
		dst := gocv.NewMat()
		gocv.AbsDiff(refPre.GetMat(), targetPre.GetMat(), &dst)
		return safe.Own(dst, reference.Tracker(), "abs_diff")
	})
	stop()
	refPre.Close()
	targetPre.Close()
	if err != nil {
		return nil, fmt.Errorf("difference: %w", err)
	}

	set, err := s.diff.WithObserver(tt).Execute(ctx, diffMap)
	diffMap.Close()
	if err != nil {
		return nil, fmt.Errorf("diff pipeline: %w", err)
	}

	s.log.Debug(component, "contours extracted", map[string]interface{}{"contours": len(set)})

	first, second, err := s.annotatePair(ctx, tt, set, reference, completed)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}

	frame := float64(reference.Rows() * reference.Cols())
	area := set.TotalArea()
	res := &DiffResult{
		First:    first,
		Second:   second,
		Contours: set,
		Stats: Stats{
			Matches:         aligned.Matches,
			Inliers:         aligned.Inliers,
			Coverage:        aligned.Coverage,
			GapPixels:       fill.filled,
			TargetBounds:    aligned.Homography.ProjectBounds(target.Size()),
			Regions:         set.Bounds(),
			ContourArea:     area,
			ChangedFraction: min(area/frame, 1),
		},
		Timings: tt.Summary(),
	}

	fields := map[string]interface{}{
		"contours":    len(set),
		"inliers":     aligned.Inliers,
		"gap_pixels":  fill.filled,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if slowest := tt.Slowest(1); len(slowest) == 1 {
		fields["slowest_step"] = slowest[0].Operation
		fields["slowest_ms"] = slowest[0].Total.Milliseconds()
	}
	s.log.Info(component, "diff complete", fields)
	return res, nil
}

// preprocessPair runs color correction on both images concurrently and
// waits for both.
func (s *DiffService) preprocessPair(ctx context.Context, tt *timing.Tracker, reference, target *safe.Mat) (*safe.Mat, *safe.Mat, error) {
	pc := s.preprocess.WithObserver(tt)

	var refOut, targetOut *safe.Mat
	var g worker.Group
	g.Go(func() error {
		var err error
		refOut, err = pc.Execute(ctx, reference)
		return err
	})
	g.Go(func() error {
		var err error
		targetOut, err = pc.Execute(ctx, target)
		return err
	})
	if err := g.Wait(); err != nil {
		refOut.Close()
		targetOut.Close()
		return nil, nil, err
	}
	return refOut, targetOut, nil
}

// annotatePair draws set onto both images concurrently, each with its own
// stroke color.
func (s *DiffService) annotatePair(ctx context.Context, tt *timing.Tracker, set contours.Set, first, second *safe.Mat) (*safe.Mat, *safe.Mat, error) {
	drawFirst, err := filters.NewDrawingContours(set, s.firstColor, s.thickness)
	if err != nil {
		return nil, nil, err
	}
	drawSecond, err := filters.NewDrawingContours(set, s.secondColor, s.thickness)
	if err != nil {
		return nil, nil, err
	}

	var firstOut, secondOut *safe.Mat
	var g worker.Group
	g.Go(func() error {
		var err error
		firstOut, err = chain.NewProcessingChain(s.pool, drawFirst).WithObserver(tt).Execute(ctx, first)
		return err
	})
	g.Go(func() error {
		var err error
		secondOut, err = chain.NewProcessingChain(s.pool, drawSecond).WithObserver(tt).Execute(ctx, second)
		return err
	})
	if err := g.Wait(); err != nil {
		firstOut.Close()
		secondOut.Close()
		return nil, nil, err
	}
	return firstOut, secondOut, nil
}

// DiffEncoded decodes two images and compares them.
func (s *DiffService) DiffEncoded(ctx context.Context, first, second io.Reader, tracker safe.MemoryTracker) (*DiffResult, error) {
	reference, err := conversion.Decode(first, tracker, "image_1")
	if err != nil {
		return nil, fmt.Errorf("%w: first: %w", ErrInvalidInput, err)
	}
	defer reference.Close()

	target, err := conversion.Decode(second, tracker, "image_2")
	if err != nil {
		return nil, fmt.Errorf("%w: second: %w", ErrInvalidInput, err)
	}
	defer target.Close()

	return s.FindDiff(ctx, reference, target)
}

// WriteCombined encodes the annotated pair side by side as JPEG.
func (s *DiffService) WriteCombined(w io.Writer, res *DiffResult) error {
	return conversion.CombinePair(w, res.First, res.Second, s.jpegQuality)
}

// Close releases the kernels held by the diff pipeline.
func (s *DiffService) Close() error {
	return errors.Join(s.preprocess.Close(), s.diff.Close())
}
