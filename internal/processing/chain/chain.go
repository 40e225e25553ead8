package chain

import (
	"context"
	"io"
	"time"

	"image-diff/internal/opencv/safe"
	"image-diff/internal/worker"
)

// Step converts one value into another. Implementations hold only
// construction-time parameters and may be shared by concurrent pipelines.
type Step[In, Out any] interface {
	Name() string
	Transform(ctx context.Context, input In) (Out, error)
}

// ImageStep is a Step from image to image. It must return a new Mat and leave
// its input untouched.
type ImageStep = Step[*safe.Mat, *safe.Mat]

// Observer is told about every step a pipeline finishes.
type Observer interface {
	StepDone(step string, d time.Duration, err error)
}

// ProcessingChain applies image steps strictly in order. Each step's
// computation is dispatched to the worker pool and waited for before the
// next one starts.
type ProcessingChain struct {
	steps    []ImageStep
	pool     *worker.Pool
	observer Observer
}

// NewProcessingChain builds a chain over a copy of steps.
func NewProcessingChain(pool *worker.Pool, steps ...ImageStep) *ProcessingChain {
	return &ProcessingChain{
		steps: append([]ImageStep(nil), steps...),
		pool:  pool,
	}
}

// WithObserver returns a shallow copy of the chain reporting to o. The step
// list is shared, so the copy is cheap enough to make per request.
func (pc *ProcessingChain) WithObserver(o Observer) *ProcessingChain {
	cp := *pc
	cp.observer = o
	return &cp
}

// Execute runs every step on input. The caller keeps ownership of input; the
// returned Mat is new and owned by the caller. On failure no partial result
// is returned and every intermediate is released.
func (pc *ProcessingChain) Execute(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	current := input

	for _, step := range pc.steps {
		if err := ctx.Err(); err != nil {
			release(current, input)
			return nil, err
		}

		result, err := runStep(ctx, pc.pool, pc.observer, step, current)
		if err == nil {
			err = checkSize(step.Name(), current, result)
			if err != nil {
				result.Close()
			}
		}
		release(current, input)
		if err != nil {
			return nil, err
		}

		current = result
	}

	if current == input {
		return input.Clone(input.Tag() + "_copy")
	}
	return current, nil
}

// GetStepNames lists the steps in execution order.
func (pc *ProcessingChain) GetStepNames() []string {
	names := make([]string, len(pc.steps))
	for i, step := range pc.steps {
		names[i] = step.Name()
	}
	return names
}

// Close releases step resources such as precomputed kernels.
func (pc *ProcessingChain) Close() error {
	for _, step := range pc.steps {
		if c, ok := step.(io.Closer); ok {
			c.Close()
		}
	}
	return nil
}

// Terminated is a chain ending in a step that yields a non-image result,
// such as a contour set. Nothing can follow it.
type Terminated[T any] struct {
	head *ProcessingChain
	last Step[*safe.Mat, T]
}

// Then terminates pc with last.
func Then[T any](pc *ProcessingChain, last Step[*safe.Mat, T]) *Terminated[T] {
	return &Terminated[T]{head: pc, last: last}
}

// WithObserver mirrors ProcessingChain.WithObserver.
func (t *Terminated[T]) WithObserver(o Observer) *Terminated[T] {
	return &Terminated[T]{head: t.head.WithObserver(o), last: t.last}
}

// Execute runs the image steps and then the terminal step.
func (t *Terminated[T]) Execute(ctx context.Context, input *safe.Mat) (T, error) {
	var zero T

	img, err := t.head.Execute(ctx, input)
	if err != nil {
		return zero, err
	}
	defer img.Close()

	return runStep(ctx, t.head.pool, t.head.observer, t.last, img)
}

// GetStepNames lists all steps including the terminal one.
func (t *Terminated[T]) GetStepNames() []string {
	return append(t.head.GetStepNames(), t.last.Name())
}

// Close releases resources of every step.
func (t *Terminated[T]) Close() error {
	t.head.Close()
	if c, ok := t.last.(io.Closer); ok {
		c.Close()
	}
	return nil
}

func runStep[Out any](ctx context.Context, pool *worker.Pool, obs Observer, step Step[*safe.Mat, Out], in *safe.Mat) (Out, error) {
	start := time.Now()
	out, err := worker.Call(ctx, pool, func() (Out, error) {
		return step.Transform(ctx, in)
	})
	if obs != nil {
		obs.StepDone(step.Name(), time.Since(start), err)
	}
	if err != nil {
		var zero Out
		return zero, &StepError{Step: step.Name(), Err: err}
	}
	return out, nil
}

func release(current, input *safe.Mat) {
	if current != input {
		current.Close()
	}
}
