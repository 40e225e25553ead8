package chain

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"image-diff/internal/opencv/memory"
	"image-diff/internal/opencv/safe"
	"image-diff/internal/worker"
)

// addStep adds a constant to every pixel and logs its name.
type addStep struct {
	name  string
	value float64
	log   *[]string
	mu    *sync.Mutex
}

func (s addStep) Name() string { return s.name }

func (s addStep) Transform(_ context.Context, in *safe.Mat) (*safe.Mat, error) {
	s.mu.Lock()
	*s.log = append(*s.log, s.name)
	s.mu.Unlock()

	dst := gocv.NewMat()
	src := in.GetMat()
	gocv.AddWeighted(src, 1, src, 0, s.value, &dst)
	return safe.Own(dst, in.Tracker(), s.name)
}

type failStep struct{}

func (failStep) Name() string { return "fail" }
func (failStep) Transform(context.Context, *safe.Mat) (*safe.Mat, error) {
	return nil, errors.New("bad input")
}

type shrinkStep struct{}

func (shrinkStep) Name() string { return "shrink" }
func (shrinkStep) Transform(_ context.Context, in *safe.Mat) (*safe.Mat, error) {
	dst := gocv.NewMat()
	gocv.Resize(in.GetMat(), &dst, image.Pt(in.Cols()/2, in.Rows()/2), 0, 0, gocv.InterpolationNearestNeighbor)
	return safe.Own(dst, in.Tracker(), "shrink")
}

type meanStep struct{}

func (meanStep) Name() string { return "mean" }
func (meanStep) Transform(_ context.Context, in *safe.Mat) (float64, error) {
	return in.GetMat().Mean().Val1, nil
}

type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) StepDone(step string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func newGray(t *testing.T, tracker safe.MemoryTracker, value float64) *safe.Mat {
	t.Helper()
	m, err := safe.NewMatWithTracker(8, 10, gocv.MatTypeCV8UC1, tracker, "input")
	require.NoError(t, err)
	mat := m.GetMat()
	mat.SetTo(gocv.NewScalar(value, 0, 0, 0))
	return m
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	tracker := memory.NewTracker()
	var log []string
	var mu sync.Mutex
	rec := &recorder{}

	pc := NewProcessingChain(worker.NewPool(2),
		addStep{name: "a", value: 10, log: &log, mu: &mu},
		addStep{name: "b", value: 20, log: &log, mu: &mu},
		addStep{name: "c", value: 30, log: &log, mu: &mu},
	).WithObserver(rec)

	input := newGray(t, tracker, 1)
	out, err := pc.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, log)
	assert.Equal(t, []string{"a", "b", "c"}, rec.steps)
	assert.Equal(t, []string{"a", "b", "c"}, pc.GetStepNames())
	assert.EqualValues(t, 61, out.GetMat().GetUCharAt(0, 0))
	assert.EqualValues(t, 1, input.GetMat().GetUCharAt(0, 0), "input must not be mutated")

	out.Close()
	input.Close()
	assert.Empty(t, tracker.LiveTags())
}

func TestExecuteAbortsOnFailure(t *testing.T) {
	tracker := memory.NewTracker()
	var log []string
	var mu sync.Mutex

	pc := NewProcessingChain(worker.NewPool(1),
		addStep{name: "a", value: 1, log: &log, mu: &mu},
		failStep{},
		addStep{name: "never", value: 1, log: &log, mu: &mu},
	)

	input := newGray(t, tracker, 0)
	defer input.Close()

	out, err := pc.Execute(context.Background(), input)
	require.Error(t, err)
	assert.Nil(t, out)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "fail", stepErr.Step)
	assert.Equal(t, []string{"a"}, log)
	assert.Equal(t, []string{"input"}, tracker.LiveTags())
}

func TestExecuteRejectsDimensionChange(t *testing.T) {
	pc := NewProcessingChain(worker.NewPool(1), shrinkStep{})
	input := newGray(t, nil, 0)
	defer input.Close()

	_, err := pc.Execute(context.Background(), input)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestExecuteHonorsCancelledContext(t *testing.T) {
	var log []string
	var mu sync.Mutex
	pc := NewProcessingChain(worker.NewPool(1), addStep{name: "a", log: &log, mu: &mu})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := newGray(t, nil, 0)
	defer input.Close()
	_, err := pc.Execute(ctx, input)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log)
}

func TestEmptyChainReturnsCopy(t *testing.T) {
	input := newGray(t, nil, 7)
	defer input.Close()

	out, err := NewProcessingChain(worker.NewPool(1)).Execute(context.Background(), input)
	require.NoError(t, err)
	defer out.Close()
	assert.NotSame(t, input, out)
	assert.Equal(t, input.Bytes(), out.Bytes())
}

func TestTerminatedChain(t *testing.T) {
	tracker := memory.NewTracker()
	var log []string
	var mu sync.Mutex

	term := Then[float64](NewProcessingChain(worker.NewPool(2),
		addStep{name: "a", value: 4, log: &log, mu: &mu},
	), meanStep{})

	input := newGray(t, tracker, 1)
	mean, err := term.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.InDelta(t, 5, mean, 1e-9)
	assert.Equal(t, []string{"a", "mean"}, term.GetStepNames())

	input.Close()
	assert.Empty(t, tracker.LiveTags())
}
