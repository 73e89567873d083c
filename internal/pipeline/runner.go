package pipeline

// Runner executes a Task and hands back its result exactly once.
//
// Ready never blocks. Take may only be called after Ready has returned true,
// and only once; otherwise it returns ErrNotReady or ErrAlreadyTaken.
type Runner interface {
	Ready() bool
	Take() (Result, error)
}

// ImmediateRunner runs its task synchronously at construction
type ImmediateRunner struct {
	result Result
	taken  bool
}

// NewImmediateRunner runs t to completion on the calling goroutine
func NewImmediateRunner(t Task, fn TransformFunc, bg *Background) *ImmediateRunner {
	return &ImmediateRunner{result: execute(t, fn, bg)}
}

// Ready is always true
func (r *ImmediateRunner) Ready() bool {
	return true
}

// Take returns the precomputed result
func (r *ImmediateRunner) Take() (Result, error) {
	if r.taken {
		return Result{}, ErrAlreadyTaken
	}
	r.taken = true
	return r.result, nil
}

// PooledRunner is a task queued on a Pool.
// The worker writes result before closing done, so a Take after Ready
// observes the complete result.
type PooledRunner struct {
	task   Task
	done   chan struct{}
	result Result
	taken  bool
}

func newPooledRunner(t Task) *PooledRunner {
	return &PooledRunner{task: t, done: make(chan struct{})}
}

// Ready reports whether the worker has finished the task
func (r *PooledRunner) Ready() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Take returns the worker's result
func (r *PooledRunner) Take() (Result, error) {
	if !r.Ready() {
		return Result{}, ErrNotReady
	}
	if r.taken {
		return Result{}, ErrAlreadyTaken
	}
	r.taken = true
	return r.result, nil
}

// Seq returns the sequence number of the wrapped task
func (r *PooledRunner) Seq() uint64 {
	return r.task.Seq
}

func (r *PooledRunner) run(fn TransformFunc, bg *Background) {
	r.result = execute(r.task, fn, bg)
	// Drop the raw frame so an abandoned runner does not pin it
	r.task.Frame = nil
	close(r.done)
}
