package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/bryanchriswhite/FluoroSim/internal/logger"
)

// Open routes spec to the matching backend and starts it. Camera sources
// hold an exclusive lock on the device for as long as they are open, so two
// simulators never fight over one camera. Files are only checked for
// existence and may be played by any number of readers.
func Open(spec Spec, opts Options) (Source, error) {
	opts = opts.withDefaults()
	log := logger.WithComponent("capture")

	if spec.Kind == KindSynthetic {
		src := NewSyntheticSource(spec)
		log.Info().Str("source", src.Name()).Msg("Using synthetic source")
		return src, nil
	}

	var lock *flock.Flock
	if spec.Device != "" {
		if _, err := os.Stat(spec.Device); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, spec.Device, err)
		}
	}
	if spec.Kind == KindCamera {
		var err error
		lock, err = lockDevice(opts.LockDir, spec.Device)
		if err != nil {
			return nil, err
		}
	}

	gst, err := NewGStreamerSource(spec, opts)
	if err == nil {
		err = gst.Start()
	}
	if err != nil {
		unlock(lock)
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	if lock == nil {
		return gst, nil
	}
	return &lockedSource{Source: gst, lock: lock}, nil
}

// lockPath maps a device path to its lock file
func lockPath(dir, device string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	name := strings.Trim(strings.ReplaceAll(filepath.Clean(device), string(filepath.Separator), "_"), "_")
	return filepath.Join(dir, "fluorosim-"+name+".lock")
}

func lockDevice(dir, device string) (*flock.Flock, error) {
	path := lockPath(dir, device)
	lock := flock.New(path)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock %s: %v", ErrSourceUnavailable, path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is in use by another simulator", ErrSourceUnavailable, device)
	}

	logger.WithComponent("capture").Debug().Str("lock", path).Msg("Device lock acquired")
	return lock, nil
}

func unlock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		logger.WithComponent("capture").Warn().Err(err).Str("lock", lock.Path()).Msg("Failed to release device lock")
	}
}

// lockedSource releases its device lock after the source is closed
type lockedSource struct {
	Source
	lock *flock.Flock
}

func (s *lockedSource) Close() error {
	err := s.Source.Close()
	unlock(s.lock)
	return err
}
