package output

import (
	"errors"
	"image"
	"strings"
)

// Sink defines the interface for frame presentation targets:
// - X11 window display
// - MJPEG HTTP stream
// - several of the above at once (Fanout)
type Sink interface {
	// Start initializes the sink
	Start() error

	// Stop cleanly shuts down the sink
	Stop() error

	// Present shows a processed frame. The sink may keep a reference to
	// frame; callers must not modify it afterwards.
	Present(frame image.Image) error

	// SetFullscreen switches between fullscreen and windowed presentation.
	// Sinks without a window accept it as a no-op.
	SetFullscreen(fullscreen bool) error

	// Name returns a human-readable name for this sink
	Name() string
}

// Fanout presents every frame on all of its sinks
type Fanout []Sink

// Start starts each sink, stopping the ones already started if any fails
func (f Fanout) Start() error {
	for i, s := range f {
		if err := s.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = f[j].Stop()
			}
			return err
		}
	}
	return nil
}

// Stop stops every sink and reports all failures
func (f Fanout) Stop() error {
	var errs []error
	for _, s := range f {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Present hands frame to every sink; one failing sink does not starve the others
func (f Fanout) Present(frame image.Image) error {
	var errs []error
	for _, s := range f {
		if err := s.Present(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetFullscreen implements Sink
func (f Fanout) SetFullscreen(fullscreen bool) error {
	var errs []error
	for _, s := range f {
		if err := s.SetFullscreen(fullscreen); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name implements Sink
func (f Fanout) Name() string {
	names := make([]string, len(f))
	for i, s := range f {
		names[i] = s.Name()
	}
	return strings.Join(names, " + ")
}
