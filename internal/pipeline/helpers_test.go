package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/FluoroSim/internal/input"
)

var errNoFrame = errors.New("no frame")

// idFrame builds a raw frame whose pixels all carry id, so the processed
// frame's first pixel identifies it.
func idFrame(id uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = id
		img.Pix[i+1] = id
		img.Pix[i+2] = id
		img.Pix[i+3] = 255
	}
	return img
}

// scriptSource returns scripted frames and errors in order, then errNoFrame
type scriptSource struct {
	mu       sync.Mutex
	script   []any
	acquired int
}

func framesSource(n int) *scriptSource {
	s := &scriptSource{}
	for i := 1; i <= n; i++ {
		s.script = append(s.script, idFrame(uint8(i)))
	}
	return s
}

func (s *scriptSource) Acquire(ctx context.Context) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	if len(s.script) == 0 {
		return nil, errNoFrame
	}
	next := s.script[0]
	s.script = s.script[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*image.RGBA), nil
}

func (s *scriptSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// recordSink keeps the id of every presented frame
type recordSink struct {
	ids           []uint8
	frames        []*image.Gray
	fullscreen    []bool
	fullscreenErr error
}

func (s *recordSink) Present(frame image.Image) error {
	g := frame.(*image.Gray)
	s.ids = append(s.ids, g.Pix[len(g.Pix)-1])
	s.frames = append(s.frames, g)
	return nil
}

func (s *recordSink) SetFullscreen(fullscreen bool) error {
	if s.fullscreenErr != nil {
		return s.fullscreenErr
	}
	s.fullscreen = append(s.fullscreen, fullscreen)
	return nil
}

// heldTransform copies the frame id into a gray frame, optionally blocking
// per id until released, and records what each task observed.
type heldTransform struct {
	mu     sync.Mutex
	holds  map[uint8]chan struct{}
	params map[uint8]Params
	done   map[uint8]bool
	delay  func(id uint8) time.Duration
}

func newHeldTransform(held ...uint8) *heldTransform {
	h := &heldTransform{
		holds:  make(map[uint8]chan struct{}),
		params: make(map[uint8]Params),
		done:   make(map[uint8]bool),
	}
	for _, id := range held {
		h.holds[id] = make(chan struct{})
	}
	return h
}

func (h *heldTransform) apply(raw *image.RGBA, p Params, bg *image.Gray) *image.Gray {
	id := raw.Pix[0]

	h.mu.Lock()
	h.params[id] = p
	hold := h.holds[id]
	h.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if h.delay != nil {
		time.Sleep(h.delay(id))
	}

	out := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range out.Pix {
		out.Pix[i] = id
	}

	h.mu.Lock()
	h.done[id] = true
	h.mu.Unlock()
	return out
}

func (h *heldTransform) release(id uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.holds[id]; ok {
		close(ch)
		delete(h.holds, id)
	}
}

func (h *heldTransform) releaseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.holds {
		close(ch)
		delete(h.holds, id)
	}
}

func (h *heldTransform) finished(ids ...uint8) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		if !h.done[id] {
			return false
		}
	}
	return true
}

func (h *heldTransform) started(id uint8) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.params[id]
	return ok
}

func (h *heldTransform) paramsFor(id uint8) Params {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.params[id]
}

// quietState disables gating and all annotation so frames reach the sink untouched
func quietState(threaded bool) State {
	return State{Threaded: threaded}
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Commands == nil {
		cfg.Commands = input.NewMux(8)
	}
	o, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	t.Cleanup(o.Close)
	return o
}

// stepUntil drives the loop until cond holds or the deadline passes
func stepUntil(t *testing.T, o *Orchestrator, cond func() bool) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached before deadline")
		}
		o.Step(ctx)
		time.Sleep(100 * time.Microsecond)
	}
}
