package pipeline

import (
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_DefaultSize(t *testing.T) {
	p := NewPool(0, newHeldTransform().apply, nil)
	defer p.Close()
	assert.Equal(t, DefaultPoolSize(), p.Size())
}

func TestPool_RunsConcurrently(t *testing.T) {
	const workers = 4
	var (
		mu      sync.Mutex
		running int
		peak    int
		release = make(chan struct{})
	)
	fn := func(raw *image.RGBA, _ Params, _ *image.Gray) *image.Gray {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return image.NewGray(image.Rect(0, 0, 1, 1))
	}

	p := NewPool(workers, fn, nil)
	defer p.Close()

	runners := make([]*PooledRunner, workers)
	for i := range runners {
		r, err := p.Submit(Task{Seq: uint64(i + 1), Frame: idFrame(uint8(i + 1))})
		require.NoError(t, err)
		runners[i] = r
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return peak == workers
	}, time.Second, time.Millisecond)

	close(release)
	for _, r := range runners {
		require.Eventually(t, r.Ready, time.Second, time.Millisecond)
	}
}

func TestPool_CloseAbandonsQueuedTasks(t *testing.T) {
	h := newHeldTransform(1, 2)
	p := NewPool(1, h.apply, nil)

	running, err := p.Submit(Task{Seq: 1, Frame: idFrame(1)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.started(1) }, time.Second, time.Millisecond)

	queued, err := p.Submit(Task{Seq: 2, Frame: idFrame(2)})
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a transform was still running")
	case <-time.After(20 * time.Millisecond):
	}

	h.release(1)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the running transform finished")
	}

	assert.True(t, running.Ready())
	assert.False(t, queued.Ready(), "queued task must never run after Close")
	assert.False(t, h.started(2))

	_, err = p.Submit(Task{Seq: 3, Frame: idFrame(3)})
	assert.ErrorIs(t, err, ErrPoolClosed)

	// Idempotent
	p.Close()
	h.releaseAll()
}
