package alignment

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCorrespondences means too few keypoint matches to fit
	// a homography.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
	// ErrDegenerateTransform means the fitted homography cannot be used to
	// register the target (singular, non-finite or folding the image).
	ErrDegenerateTransform = errors.New("degenerate transform")
)

// CorrespondenceError reports how many correspondences were found at the
// stage that came up short.
type CorrespondenceError struct {
	Stage    string
	Found    int
	Required int
}

func (e *CorrespondenceError) Error() string {
	return fmt.Sprintf("%s: %s: found %d, need %d", ErrInsufficientCorrespondences, e.Stage, e.Found, e.Required)
}

func (e *CorrespondenceError) Is(target error) bool {
	return target == ErrInsufficientCorrespondences
}
