package safe

import (
	"fmt"

	"gocv.io/x/gocv"
)

const maxDimension = 32768

func ValidateMatForOperation(mat *Mat, operation string) error {
	if mat == nil {
		return fmt.Errorf("%w: nil Mat for operation: %s", ErrInvalidMat, operation)
	}

	if !mat.IsValid() {
		return fmt.Errorf("%w: closed Mat for operation: %s", ErrInvalidMat, operation)
	}

	if mat.Empty() {
		return fmt.Errorf("%w: empty Mat for operation: %s", ErrInvalidMat, operation)
	}

	return ValidateDimensions(mat.Cols(), mat.Rows(), operation)
}

// ValidateChannels checks that mat has one of the accepted channel counts.
func ValidateChannels(mat *Mat, operation string, accepted ...int) error {
	if err := ValidateMatForOperation(mat, operation); err != nil {
		return err
	}

	channels := mat.Channels()
	for _, c := range accepted {
		if channels == c {
			return nil
		}
	}
	return fmt.Errorf("%w: %s requires %v channels, got %d", ErrInvalidMat, operation, accepted, channels)
}

// ValidateGray8 checks for a single-channel 8-bit Mat, the only type the mask
// steps operate on.
func ValidateGray8(mat *Mat, operation string) error {
	if err := ValidateMatForOperation(mat, operation); err != nil {
		return err
	}
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return fmt.Errorf("%w: %s requires an 8-bit single-channel Mat, got type %d",
			ErrInvalidMat, operation, int(mat.Type()))
	}
	return nil
}

// ValidateColor8 checks for a 3-channel 8-bit BGR Mat.
func ValidateColor8(mat *Mat, operation string) error {
	if err := ValidateMatForOperation(mat, operation); err != nil {
		return err
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: %s requires an 8-bit 3-channel Mat, got type %d",
			ErrInvalidMat, operation, int(mat.Type()))
	}
	return nil
}

func ValidateDimensions(width, height int, operation string) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d for operation: %s", ErrInvalidMat, width, height, operation)
	}

	if width > maxDimension || height > maxDimension {
		return fmt.Errorf("%w: dimensions %dx%d exceed maximum size for operation: %s", ErrInvalidMat, width, height, operation)
	}

	return nil
}

// ValidateSameSize checks that two Mats share spatial dimensions.
func ValidateSameSize(a, b *Mat, operation string) error {
	if !a.SameSize(b) {
		return fmt.Errorf("%w: %s needs equal sizes, got %dx%d and %dx%d",
			ErrInvalidMat, operation, a.Cols(), a.Rows(), b.Cols(), b.Rows())
	}
	return nil
}
