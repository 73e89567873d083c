package pipeline

import (
	"image"
	"sync/atomic"
	"time"
)

// State is the live set of toggles. It belongs to the orchestrator goroutine;
// other goroutines only ever see copies published in Telemetry.
type State struct {
	Subtract   bool `json:"subtract"`
	Overlay    bool `json:"overlay"`
	Equalize   bool `json:"equalize"`
	PedalGated bool `json:"pedal_gated"`
	Fullscreen bool `json:"fullscreen"`
	HUD        bool `json:"hud"`
	Threaded   bool `json:"threaded"`
}

// DefaultState matches the simulator's start-up behaviour: everything on
func DefaultState() State {
	return State{
		Subtract:   true,
		Overlay:    true,
		Equalize:   true,
		PedalGated: true,
		HUD:        true,
		Threaded:   true,
	}
}

// Params snapshots the processing toggles for a new task
func (s State) Params() Params {
	return Params{
		Subtract: s.Subtract,
		Overlay:  s.Overlay,
		Equalize: s.Equalize,
	}
}

// Background is the subtraction reference frame.
// It is replaced as a whole and never modified in place, so a reader holds
// either the old or the new frame, never a mix.
type Background struct {
	frame atomic.Pointer[image.Gray]
}

// NewBackground creates a holder with an optional initial frame
func NewBackground(initial *image.Gray) *Background {
	b := &Background{}
	if initial != nil {
		b.frame.Store(initial)
	}
	return b
}

// Load returns the current frame; nil when none has been taken.
// The returned frame must be treated as read-only.
func (b *Background) Load() *image.Gray {
	if b == nil {
		return nil
	}
	return b.frame.Load()
}

// Replace swaps in a new frame and returns the previous one
func (b *Background) Replace(frame *image.Gray) *image.Gray {
	return b.frame.Swap(frame)
}

// Telemetry is a point-in-time view of the pipeline for observers outside
// the loop goroutine.
type Telemetry struct {
	Session         string    `json:"session"`
	LatencyMS       *float64  `json:"latency_ms,omitempty"`
	FrameIntervalMS *float64  `json:"frame_interval_ms,omitempty"`
	Pending         int       `json:"pending"`
	Capacity        int       `json:"capacity"`
	Submitted       uint64    `json:"submitted"`
	Delivered       uint64    `json:"delivered"`
	Misses          uint64    `json:"misses"`
	Failures        uint64    `json:"failures"`
	PedalActive     bool      `json:"pedal_active"`
	State           State     `json:"state"`
	UpdatedAt       time.Time `json:"updated_at"`
}
