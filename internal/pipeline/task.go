package pipeline

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/bryanchriswhite/FluoroSim/internal/transform"
)

// Params is the per-task snapshot of the processing toggles
type Params = transform.Params

// TransformFunc turns a raw frame into a display frame. It must not modify
// raw or bg, which are shared with the loop and with other workers.
type TransformFunc func(raw *image.RGBA, p Params, bg *image.Gray) *image.Gray

var (
	// ErrNotReady is returned by Take before the task has completed
	ErrNotReady = errors.New("task not ready")

	// ErrAlreadyTaken is returned by a second Take on the same runner
	ErrAlreadyTaken = errors.New("task result already taken")

	// ErrTransformPanic marks a result whose transform panicked
	ErrTransformPanic = errors.New("transform panicked")
)

// Task is one frame submitted for processing. It is immutable once created.
type Task struct {
	Seq         uint64
	Frame       *image.RGBA
	SubmittedAt time.Time
	Params      Params
}

// Result is the outcome of a task. Frame is nil when Err is set.
type Result struct {
	Seq         uint64
	Frame       *image.Gray
	SubmittedAt time.Time
	Err         error
}

// execute runs fn for t, loading the background at execution time
func execute(t Task, fn TransformFunc, bg *Background) (res Result) {
	res = Result{Seq: t.Seq, SubmittedAt: t.SubmittedAt}

	defer func() {
		if r := recover(); r != nil {
			res.Frame = nil
			res.Err = fmt.Errorf("%w: seq %d: %v", ErrTransformPanic, t.Seq, r)
		}
	}()

	res.Frame = fn(t.Frame, t.Params, bg.Load())
	return res
}
