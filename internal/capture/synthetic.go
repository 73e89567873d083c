package capture

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"
)

// SyntheticSource renders a test scene for running without a camera: a
// static gradient "anatomy" with a dark instrument tip circling over it,
// paced at the configured frame rate.
type SyntheticSource struct {
	width  int
	height int
	period time.Duration

	mu    sync.Mutex
	frame int
	next  time.Time
}

// NewSyntheticSource creates a synthetic source of the spec's size and rate
func NewSyntheticSource(spec Spec) *SyntheticSource {
	fps := spec.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &SyntheticSource{
		width:  spec.Width,
		height: spec.Height,
		period: time.Second / time.Duration(fps),
	}
}

// Acquire implements Source
func (s *SyntheticSource) Acquire(ctx context.Context) (*image.RGBA, error) {
	s.mu.Lock()
	now := time.Now()
	if s.next.IsZero() {
		s.next = now
	}
	wait := s.next.Sub(now)
	s.next = s.next.Add(s.period)
	if s.next.Before(now) {
		// Fell behind; do not burst to catch up
		s.next = now.Add(s.period)
	}
	n := s.frame
	s.frame++
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrAcquisitionMiss, ctx.Err())
		}
	}

	return s.render(n), nil
}

func (s *SyntheticSource) render(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))

	angle := float64(n) * 2 * math.Pi / 120
	cx := float64(s.width)/2 + float64(s.width)/4*math.Cos(angle)
	cy := float64(s.height)/2 + float64(s.height)/4*math.Sin(angle)
	r := float64(min(s.width, s.height)) / 20
	r2 := r * r

	for y := 0; y < s.height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < s.width; x++ {
			v := uint8(64 + 128*x/max(s.width, 1))
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= r2 {
				v = 16
			}
			i := x * 4
			row[i] = v
			row[i+1] = v
			row[i+2] = v
			row[i+3] = 0xff
		}
	}
	return img
}

// Close implements Source
func (s *SyntheticSource) Close() error {
	return nil
}

// Name implements Source
func (s *SyntheticSource) Name() string {
	return fmt.Sprintf("synth:%dx%d", s.width, s.height)
}
