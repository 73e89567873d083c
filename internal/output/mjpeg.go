package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/FluoroSim/internal/logger"
)

// DefaultJPEGQuality is used when MJPEGConfig.Quality is unset
const DefaultJPEGQuality = 85

// MJPEGConfig holds MJPEG stream settings
type MJPEGConfig struct {
	Quality int
}

// MJPEGStream serves presented frames as Motion JPEG over HTTP so the
// simulator can be watched from a browser on another machine.
type MJPEGStream struct {
	quality int

	mu        sync.RWMutex
	running   bool
	startTime time.Time

	// Latest frame, kept for snapshots
	frameMu    sync.RWMutex
	current    image.Image
	lastUpdate time.Time
	frameCount uint64

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
}

// NewMJPEGStream creates a new MJPEG stream sink
func NewMJPEGStream(cfg MJPEGConfig) *MJPEGStream {
	quality := cfg.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &MJPEGStream{
		quality: quality,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start implements Sink. The HTTP handlers are mounted separately.
func (m *MJPEGStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG stream already running")
	}

	m.running = true
	m.startTime = time.Now()

	logger.WithComponent("mjpeg").Info().Int("quality", m.quality).Msg("MJPEG stream started")
	return nil
}

// Stop implements Sink and disconnects every client
func (m *MJPEGStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	m.frameMu.RLock()
	frames := m.frameCount
	m.frameMu.RUnlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", frames).Msg("MJPEG stream stopped")
	return nil
}

// Present implements Sink. Encoding is skipped while nobody is watching.
func (m *MJPEGStream) Present(frame image.Image) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG stream not running")
	}

	m.frameMu.Lock()
	m.current = frame
	m.lastUpdate = time.Now()
	m.frameCount++
	m.frameMu.Unlock()

	if m.ClientCount() == 0 {
		return nil
	}

	data, err := m.encode(frame)
	if err != nil {
		return err
	}

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

func (m *MJPEGStream) encode(frame image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// SetFullscreen implements Sink; a stream has no window
func (m *MJPEGStream) SetFullscreen(bool) error {
	return nil
}

// Name implements Sink
func (m *MJPEGStream) Name() string {
	return "mjpeg"
}

// IsRunning returns true if the stream is active
func (m *MJPEGStream) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount returns the number of connected viewers
func (m *MJPEGStream) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// StreamHandler serves the multipart MJPEG stream
func (m *MJPEGStream) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frames := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frames] = struct{}{}
		count := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Int("clients", count).Str("remote", r.RemoteAddr).Msg("Client connected")

		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frames)
			count := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", count).Str("remote", r.RemoteAddr).Msg("Client disconnected")
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-frames:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
					return
				}
				if _, err := w.Write(data); err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

// SnapshotHandler serves the most recent frame as a single JPEG
func (m *MJPEGStream) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.frameMu.RLock()
		frame := m.current
		m.frameMu.RUnlock()

		if frame == nil {
			http.Error(w, "no frame presented yet", http.StatusNotFound)
			return
		}

		data, err := m.encode(frame)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// Stats is a point-in-time view of the stream
type Stats struct {
	Running    bool      `json:"running"`
	Clients    int       `json:"clients"`
	Frames     uint64    `json:"frames"`
	FPS        float64   `json:"fps"`
	LastUpdate time.Time `json:"last_update"`
}

// Stats returns the stream statistics
func (m *MJPEGStream) Stats() Stats {
	m.mu.RLock()
	running := m.running
	start := m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	frames := m.frameCount
	last := m.lastUpdate
	m.frameMu.RUnlock()

	var fps float64
	if running && !start.IsZero() {
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			fps = float64(frames) / elapsed
		}
	}

	return Stats{
		Running:    running,
		Clients:    m.ClientCount(),
		Frames:     frames,
		FPS:        fps,
		LastUpdate: last,
	}
}

// ViewerHandler serves a page showing the stream with the operator keys as buttons
func (m *MJPEGStream) ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>FluoroSim</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            color: #ccc;
            font-family: system-ui, -apple-system, sans-serif;
            display: flex;
            flex-direction: column;
            align-items: center;
            min-height: 100vh;
        }
        img {
            width: 100vw;
            height: calc(100vh - 64px);
            object-fit: contain;
            display: block;
        }
        .controls {
            display: flex;
            gap: 8px;
            padding: 12px;
            flex-wrap: wrap;
            justify-content: center;
        }
        button {
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            border: none;
            border-radius: 20px;
            font-size: 13px;
            cursor: pointer;
        }
        button:hover { background: rgba(60, 60, 60, 0.95); color: #fff; }
        button.pedal.active { background: rgba(180, 70, 70, 0.95); color: #fff; }
        #telemetry { font-family: monospace; font-size: 12px; padding: 0 12px; }
    </style>
</head>
<body>
    <img src="/stream" alt="FluoroSim live image">
    <div class="controls">
        <button class="pedal" id="pedal">Hold for fluoro</button>
        <button data-cmd="toggle-subtract">Subtraction</button>
        <button data-cmd="toggle-overlay">Overlay</button>
        <button data-cmd="toggle-equalize">Equalize</button>
        <button data-cmd="retake-background">Take background</button>
        <button data-cmd="toggle-gate">Pedal gating</button>
        <button data-cmd="toggle-hud">HUD</button>
        <span id="telemetry"></span>
    </div>
    <script>
        document.querySelectorAll('button[data-cmd]').forEach(btn => {
            btn.addEventListener('click', () => {
                fetch('/api/commands/' + btn.dataset.cmd, { method: 'POST' }).catch(console.error);
            });
        });

        const pedal = document.getElementById('pedal');
        function setPedal(pressed) {
            pedal.classList.toggle('active', pressed);
            fetch('/api/pedal', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ pressed: pressed })
            }).catch(console.error);
        }
        pedal.addEventListener('pointerdown', () => setPedal(true));
        pedal.addEventListener('pointerup', () => setPedal(false));
        pedal.addEventListener('pointerleave', () => setPedal(false));

        const telemetry = document.getElementById('telemetry');
        const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(proto + location.host + '/api/telemetry');
        ws.onmessage = ev => {
            const t = JSON.parse(ev.data);
            const latency = t.latency_ms !== undefined ? t.latency_ms.toFixed(1) + ' ms' : '-';
            telemetry.textContent = 'latency ' + latency + '  pending ' + t.pending + '/' + t.capacity;
        };
    </script>
</body>
</html>`
