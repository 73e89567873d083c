package capture

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the backend a Spec opens
type Kind int

const (
	KindCamera Kind = iota
	KindFile
	KindSynthetic
	KindPipeline
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindFile:
		return "file"
	case KindSynthetic:
		return "synth"
	case KindPipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// Default frame geometry when the spec carries no size parameter
const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30
)

// Spec is a parsed source description
type Spec struct {
	Kind     Kind
	Device   string
	Pipeline string
	Width    int
	Height   int
	FPS      int
	Params   map[string]string
}

// ParseSpec parses a source string of the form
//
//	<device>[:<name>=<value>[:...]]
//
// where device is a camera index (0 → /dev/video0), a device or file path,
// or "synth". The form "gst:<pipeline>" passes a GStreamer source pipeline
// to gst-launch-1.0 split on whitespace, with no shell quoting: a property
// value cannot contain spaces. Recognised parameters are size=WxH and fps=N.
func ParseSpec(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Spec{}, fmt.Errorf("%w: empty source", ErrInvalidSpec)
	}

	spec := Spec{
		Width:  DefaultWidth,
		Height: DefaultHeight,
		FPS:    DefaultFPS,
		Params: make(map[string]string),
	}

	if rest, ok := strings.CutPrefix(s, "gst:"); ok {
		spec.Kind = KindPipeline
		spec.Pipeline = strings.TrimSpace(rest)
		if spec.Pipeline == "" {
			return Spec{}, fmt.Errorf("%w: empty pipeline", ErrInvalidSpec)
		}
		return spec, nil
	}

	chunks := strings.Split(s, ":")
	device := chunks[0]
	for _, chunk := range chunks[1:] {
		name, value, ok := strings.Cut(chunk, "=")
		if !ok || name == "" {
			return Spec{}, fmt.Errorf("%w: parameter %q is not name=value", ErrInvalidSpec, chunk)
		}
		spec.Params[name] = value
	}

	switch {
	case device == "synth":
		spec.Kind = KindSynthetic
	case isIndex(device):
		spec.Kind = KindCamera
		spec.Device = "/dev/video" + device
	case strings.HasPrefix(device, "/dev/"):
		spec.Kind = KindCamera
		spec.Device = device
	case device == "":
		return Spec{}, fmt.Errorf("%w: missing device in %q", ErrInvalidSpec, s)
	default:
		spec.Kind = KindFile
		spec.Device = device
	}

	if size, ok := spec.Params["size"]; ok {
		w, h, err := parseSize(size)
		if err != nil {
			return Spec{}, err
		}
		spec.Width, spec.Height = w, h
	}
	if fps, ok := spec.Params["fps"]; ok {
		n, err := strconv.Atoi(fps)
		if err != nil || n <= 0 {
			return Spec{}, fmt.Errorf("%w: fps %q", ErrInvalidSpec, fps)
		}
		spec.FPS = n
	}

	return spec, nil
}

// String renders the spec back into source-string form
func (s Spec) String() string {
	switch s.Kind {
	case KindPipeline:
		return "gst:" + s.Pipeline
	case KindSynthetic:
		return fmt.Sprintf("synth:size=%dx%d:fps=%d", s.Width, s.Height, s.FPS)
	default:
		return fmt.Sprintf("%s:size=%dx%d", s.Device, s.Width, s.Height)
	}
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: size %q is not WxH", ErrInvalidSpec, s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("%w: size %q has bad width", ErrInvalidSpec, s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("%w: size %q has bad height", ErrInvalidSpec, s)
	}
	return w, h, nil
}
