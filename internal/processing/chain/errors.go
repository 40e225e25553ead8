package chain

import (
	"errors"
	"fmt"

	"image-diff/internal/opencv/safe"
)

// ErrDimensionMismatch marks a step that changed spatial dimensions. It is an
// internal defect, never a user error.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// StepError is returned when a step fails. The owning pipeline stops there.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func checkSize(step string, in, out *safe.Mat) error {
	if out == nil || out.Empty() {
		return &StepError{Step: step, Err: fmt.Errorf("%w: empty result", safe.ErrInvalidMat)}
	}
	if !in.SameSize(out) {
		return &StepError{Step: step, Err: fmt.Errorf("%w: %dx%d became %dx%d",
			ErrDimensionMismatch, in.Cols(), in.Rows(), out.Cols(), out.Rows())}
	}
	return nil
}
