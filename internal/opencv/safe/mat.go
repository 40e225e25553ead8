package safe

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// ErrInvalidMat is returned for nil, closed or empty Mats.
var ErrInvalidMat = errors.New("invalid mat")

// MemoryTracker interface to avoid import cycles
type MemoryTracker interface {
	TrackAllocation(id uint64, size int64, tag string)
	TrackDeallocation(id uint64, tag string)
}

// Mat owns a gocv.Mat. The pixel data is treated as immutable once a Mat has
// been handed to another stage; steps always return a new Mat.
type Mat struct {
	mat        gocv.Mat
	isValid    int32
	id         uint64
	memTracker MemoryTracker
	tag        string
}

var nextMatID uint64

func NewMat(rows, cols int, matType gocv.MatType) (*Mat, error) {
	return NewMatWithTracker(rows, cols, matType, nil, "")
}

func NewMatWithTracker(rows, cols int, matType gocv.MatType, memTracker MemoryTracker, tag string) (*Mat, error) {
	if err := ValidateDimensions(cols, rows, tag); err != nil {
		return nil, err
	}

	mat := gocv.NewMatWithSize(rows, cols, matType)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to create Mat with size %dx%d", cols, rows)
	}

	return wrap(mat, memTracker, tag), nil
}

// Own takes ownership of m without copying. m must not be used or closed by
// the caller afterwards.
func Own(m gocv.Mat, memTracker MemoryTracker, tag string) (*Mat, error) {
	if m.Empty() {
		m.Close()
		return nil, fmt.Errorf("%w: %s produced an empty Mat", ErrInvalidMat, tag)
	}
	return wrap(m, memTracker, tag), nil
}

// NewMatFromMatWithTracker copies src into a new owned Mat.
func NewMatFromMatWithTracker(src gocv.Mat, memTracker MemoryTracker, tag string) (*Mat, error) {
	if src.Empty() {
		return nil, fmt.Errorf("%w: source Mat is empty", ErrInvalidMat)
	}
	return wrap(src.Clone(), memTracker, tag), nil
}

func wrap(m gocv.Mat, memTracker MemoryTracker, tag string) *Mat {
	sm := &Mat{
		mat:        m,
		isValid:    1,
		id:         atomic.AddUint64(&nextMatID, 1),
		memTracker: memTracker,
		tag:        tag,
	}

	if memTracker != nil {
		memTracker.TrackAllocation(sm.id, int64(m.Total()*m.ElemSize()), tag)
	}

	// Set finalizer for cleanup if Close() is not called
	runtime.SetFinalizer(sm, (*Mat).finalize)
	return sm
}

func (sm *Mat) IsValid() bool {
	return sm != nil && atomic.LoadInt32(&sm.isValid) == 1
}

func (sm *Mat) Empty() bool {
	if !sm.IsValid() {
		return true
	}
	return sm.mat.Empty()
}

func (sm *Mat) Rows() int {
	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Rows()
}

func (sm *Mat) Cols() int {
	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Cols()
}

func (sm *Mat) Channels() int {
	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Channels()
}

func (sm *Mat) Type() gocv.MatType {
	if !sm.IsValid() {
		return gocv.MatTypeCV8UC1
	}
	return sm.mat.Type()
}

// Size returns the spatial size as width x height.
func (sm *Mat) Size() image.Point {
	return image.Pt(sm.Cols(), sm.Rows())
}

// SameSize reports whether both Mats share width and height.
func (sm *Mat) SameSize(other *Mat) bool {
	return sm.Size() == other.Size()
}

// Tag is the allocation label, useful in logs.
func (sm *Mat) Tag() string {
	return sm.tag
}

func (sm *Mat) ID() uint64 {
	return sm.id
}

// Tracker returns the tracker new Mats derived from this one should report to.
func (sm *Mat) Tracker() MemoryTracker {
	if sm == nil {
		return nil
	}
	return sm.memTracker
}

// Clone returns a deep copy tracked under tag.
func (sm *Mat) Clone(tag string) (*Mat, error) {
	if sm.Empty() {
		return nil, fmt.Errorf("%w: cannot clone", ErrInvalidMat)
	}
	return wrap(sm.mat.Clone(), sm.memTracker, tag), nil
}

// GetMat exposes the underlying Mat for read-only use by gocv calls. It must
// not be closed by the caller.
func (sm *Mat) GetMat() gocv.Mat {
	return sm.mat
}

// Bytes returns a copy of the raw pixel buffer.
func (sm *Mat) Bytes() []byte {
	if sm.Empty() {
		return nil
	}
	return sm.mat.ToBytes()
}

func (sm *Mat) Close() {
	if sm == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&sm.isValid, 1, 0) {
		if sm.memTracker != nil {
			sm.memTracker.TrackDeallocation(sm.id, sm.tag)
		}

		sm.mat.Close()

		// Clear finalizer since we're cleaning up manually
		runtime.SetFinalizer(sm, nil)
	}
}

// finalize is called by Go's garbage collector as last resort cleanup
func (sm *Mat) finalize() {
	if atomic.LoadInt32(&sm.isValid) == 1 {
		sm.Close()
	}
}
