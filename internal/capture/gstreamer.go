package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FluoroSim/internal/logger"
)

// GStreamerSource reads raw RGBA frames from a gst-launch subprocess.
// Running GStreamer out of process keeps cgo out of the binary.
type GStreamerSource struct {
	name    string
	binary  string
	args    []string
	width   int
	height  int
	timeout time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	running bool

	// frames holds at most the newest unread frame
	frames  chan *image.RGBA
	done    chan struct{}
	readErr error
	log     *zerolog.Logger
}

// NewGStreamerSource prepares a subprocess source for spec without starting it
func NewGStreamerSource(spec Spec, opts Options) (*GStreamerSource, error) {
	opts = opts.withDefaults()

	args, err := launchArgs(spec)
	if err != nil {
		return nil, err
	}

	return &GStreamerSource{
		name:    "gstreamer:" + spec.String(),
		binary:  opts.GstLaunch,
		args:    args,
		width:   spec.Width,
		height:  spec.Height,
		timeout: opts.ReadTimeout,
		frames:  make(chan *image.RGBA, 1),
		done:    make(chan struct{}),
		log:     logger.WithComponent("gstreamer"),
	}, nil
}

// launchArgs builds the gst-launch argument list. Every pipeline ends in the
// same conversion tail so the reader always sees WxH RGBA.
func launchArgs(spec Spec) ([]string, error) {
	var head []string
	switch spec.Kind {
	case KindCamera:
		head = []string{"v4l2src", "device=" + spec.Device}
	case KindFile:
		head = []string{"filesrc", "location=" + spec.Device, "!", "decodebin"}
	case KindPipeline:
		// Not shell-parsed; quotes are passed through literally
		head = strings.Fields(spec.Pipeline)
	default:
		return nil, fmt.Errorf("%w: %s sources do not run through GStreamer", ErrInvalidSpec, spec.Kind)
	}

	// Files play at their native rate; live sources push as fast as they capture
	clockSync := "sync=false"
	if spec.Kind == KindFile {
		clockSync = "sync=true"
	}

	args := []string{"-q"}
	args = append(args, head...)
	args = append(args,
		"!", "videoconvert",
		"!", "videoscale",
		"!", "video/x-raw,format=RGBA,width="+strconv.Itoa(spec.Width)+",height="+strconv.Itoa(spec.Height),
		"!", "fdsink", "fd=1", clockSync,
	)
	return args, nil
}

// Start launches the subprocess and the frame reader
func (g *GStreamerSource) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}

	g.log.Debug().Str("binary", g.binary).Strs("args", g.args).Msg("Starting GStreamer subprocess")

	cmd := exec.Command(g.binary, g.args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", g.binary, err)
	}

	g.cmd = cmd
	g.running = true

	go g.readFrames(stdout)
	go g.logStderr(stderr)

	g.log.Info().
		Str("source", g.name).
		Int("pid", cmd.Process.Pid).
		Int("width", g.width).
		Int("height", g.height).
		Msg("GStreamer subprocess started")

	return nil
}

// readFrames reads fixed-size frames until the pipe closes
func (g *GStreamerSource) readFrames(stdout io.Reader) {
	defer close(g.done)

	frameSize := g.width * g.height * 4
	reader := bufio.NewReaderSize(stdout, frameSize*2)
	count := 0

	for {
		img := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
		n, err := io.ReadFull(reader, img.Pix)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				g.log.Warn().Int("bytes_read", n).Msg("Truncated frame at end of stream")
				err = io.EOF
			}
			switch {
			case errors.Is(err, io.EOF):
				g.log.Debug().Int("frames", count).Msg("EOF from GStreamer subprocess")
			case errors.Is(err, os.ErrClosed):
				g.log.Debug().Int("frames", count).Msg("Frame reader closed")
			default:
				g.log.Error().Err(err).Msg("Error reading frame")
			}
			g.readErr = err
			return
		}

		g.deliver(img)
		count++
	}
}

// deliver replaces any unread frame with img
func (g *GStreamerSource) deliver(img *image.RGBA) {
	select {
	case g.frames <- img:
		return
	default:
	}
	select {
	case <-g.frames:
	default:
	}
	select {
	case g.frames <- img:
	default:
	}
}

func (g *GStreamerSource) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			g.log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			g.log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Acquire implements Source
func (g *GStreamerSource) Acquire(ctx context.Context) (*image.RGBA, error) {
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case img := <-g.frames:
		return img, nil
	case <-g.done:
		// A final frame may have been queued just before the reader exited
		select {
		case img := <-g.frames:
			return img, nil
		default:
		}
		return nil, fmt.Errorf("%w: stream ended: %w", ErrAcquisitionMiss, g.readErr)
	case <-timer.C:
		return nil, fmt.Errorf("%w: no frame within %s", ErrAcquisitionMiss, g.timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionMiss, ctx.Err())
	}
}

// Close stops the subprocess
func (g *GStreamerSource) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}

	if g.cmd != nil && g.cmd.Process != nil {
		g.log.Debug().Int("pid", g.cmd.Process.Pid).Msg("Killing GStreamer subprocess")
		_ = g.cmd.Process.Kill()
		_ = g.cmd.Wait()
	}

	g.running = false
	g.log.Info().Str("source", g.name).Msg("GStreamer subprocess stopped")
	return nil
}

// Name implements Source
func (g *GStreamerSource) Name() string {
	return g.name
}
