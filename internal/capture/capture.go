// Package capture provides the frame sources feeding the pipeline: a camera,
// video file or arbitrary GStreamer pipeline read through a gst-launch
// subprocess, and a synthetic test pattern.
package capture

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrSourceUnavailable is returned when a source cannot be opened at all
	ErrSourceUnavailable = errors.New("frame source unavailable")

	// ErrAcquisitionMiss is returned when a single frame could not be read.
	// The source stays usable; the next Acquire may succeed.
	ErrAcquisitionMiss = errors.New("frame acquisition missed")

	// ErrInvalidSpec is returned by ParseSpec for malformed source strings
	ErrInvalidSpec = errors.New("invalid source spec")
)

// Source produces raw frames
type Source interface {
	// Acquire blocks until the next frame is available. The returned frame
	// is owned by the caller. Failures wrap ErrAcquisitionMiss.
	Acquire(ctx context.Context) (*image.RGBA, error)

	// Close stops the source and releases the device
	Close() error

	// Name returns a human-readable description of the source
	Name() string
}

// Options tune how sources are opened
type Options struct {
	// ReadTimeout bounds a single Acquire
	ReadTimeout time.Duration
	// LockDir holds the per-device lock files
	LockDir string
	// GstLaunch is the gst-launch executable
	GstLaunch string
}

const (
	DefaultReadTimeout = time.Second
	DefaultGstLaunch   = "gst-launch-1.0"
)

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.GstLaunch == "" {
		o.GstLaunch = DefaultGstLaunch
	}
	return o
}
