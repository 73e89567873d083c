package pipeline

import (
	"errors"
	"runtime"
	"sync"

	"github.com/bryanchriswhite/FluoroSim/internal/logger"
)

// ErrPoolClosed is returned by Submit after Close
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a fixed set of worker goroutines executing transform tasks.
// Closing the pool abandons queued tasks that have not started; their
// runners never become ready.
type Pool struct {
	size int
	fn   TransformFunc
	bg   *Background

	jobs chan *PooledRunner
	quit chan struct{}
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// DefaultPoolSize is the number of processing units available to the process
func DefaultPoolSize() int {
	return runtime.NumCPU()
}

// NewPool starts size workers. A size below one uses DefaultPoolSize.
func NewPool(size int, fn TransformFunc, bg *Background) *Pool {
	if size < 1 {
		size = DefaultPoolSize()
	}

	p := &Pool{
		size: size,
		fn:   fn,
		bg:   bg,
		jobs: make(chan *PooledRunner, size),
		quit: make(chan struct{}),
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}

	logger.WithComponent("pool").Debug().Int("workers", size).Msg("Worker pool started")
	return p
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// Submit queues t and returns its runner
func (p *Pool) Submit(t Task) (*PooledRunner, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	r := newPooledRunner(t)
	select {
	case p.jobs <- r:
		return r, nil
	case <-p.quit:
		return nil, ErrPoolClosed
	}
}

// Close stops the workers and waits for transforms already running to return
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()
	logger.WithComponent("pool").Debug().Msg("Worker pool stopped")
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case r := <-p.jobs:
			// Both cases can be ready at once; shutdown wins
			select {
			case <-p.quit:
				return
			default:
			}
			r.run(p.fn, p.bg)
		}
	}
}
