package output

import (
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayFrame(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func TestFitRect(t *testing.T) {
	tests := []struct {
		name string
		src  image.Rectangle
		w, h int
		want image.Rectangle
	}{
		{"same size", image.Rect(0, 0, 640, 480), 640, 480, image.Rect(0, 0, 640, 480)},
		{"pillarbox", image.Rect(0, 0, 640, 480), 1920, 1080, image.Rect(240, 0, 1680, 1080)},
		{"letterbox", image.Rect(0, 0, 400, 100), 400, 400, image.Rect(0, 150, 400, 250)},
		{"empty", image.Rectangle{}, 100, 100, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fitRect(tt.src, tt.w, tt.h))
		})
	}
}

func TestPadStride(t *testing.T) {
	assert.Equal(t, 12, padStride(9, 4))
	assert.Equal(t, 8, padStride(8, 4))
	assert.Equal(t, 9, padStride(9, 0))
}

func TestFitInto_Gray(t *testing.T) {
	// 2x1 source into a 4x4 window: scaled to 4x2, centred vertically
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.Pix[0], src.Pix[1] = 10, 200

	const w, h, bpp = 4, 4, 4
	stride := padStride(w*bpp, 4)
	buf := make([]byte, stride*h)
	for i := range buf {
		buf[i] = 0xaa
	}

	fitInto(buf, stride, bpp, w, h, src)

	px := func(x, y int) []byte {
		i := y*stride + x*bpp
		return buf[i : i+3]
	}
	assert.Equal(t, []byte{0, 0, 0}, px(0, 0), "letterbox bars are black")
	assert.Equal(t, []byte{10, 10, 10}, px(0, 1))
	assert.Equal(t, []byte{10, 10, 10}, px(1, 2))
	assert.Equal(t, []byte{200, 200, 200}, px(3, 1))
	assert.Equal(t, []byte{0, 0, 0}, px(3, 3))
}

func TestFitInto_RGBAIsBGR(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	buf := make([]byte, 3)
	fitInto(buf, 3, 3, 1, 1, src)
	assert.Equal(t, []byte{3, 2, 1}, buf)
}

func TestKeysymRune(t *testing.T) {
	tests := []struct {
		ks   xproto.Keysym
		want rune
		ok   bool
	}{
		{0xff1b, 27, true},
		{0x20, ' ', true},
		{0x31, '1', true},
		{0x74, 't', true},
		{0xffb5, '5', true},
		{0xffe1, 0, false}, // Shift_L
	}
	for _, tt := range tests {
		got, ok := keysymRune(tt.ks)
		assert.Equal(t, tt.ok, ok, "keysym %#x", tt.ks)
		assert.Equal(t, tt.want, got, "keysym %#x", tt.ks)
	}
}

func TestMJPEGStream_Lifecycle(t *testing.T) {
	m := NewMJPEGStream(MJPEGConfig{})
	assert.Error(t, m.Present(grayFrame(4, 4, 0)), "present before start")

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	assert.NoError(t, m.SetFullscreen(true))

	// No viewers: frame is kept but not encoded
	require.NoError(t, m.Present(grayFrame(4, 4, 50)))
	stats := m.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, 0, stats.Clients)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}

func TestMJPEGStream_Snapshot(t *testing.T) {
	m := NewMJPEGStream(MJPEGConfig{Quality: 90})
	require.NoError(t, m.Start())
	defer m.Stop()

	rec := httptest.NewRecorder()
	m.SnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, m.Present(grayFrame(16, 8, 128)))

	rec = httptest.NewRecorder()
	m.SnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), img.Bounds())
}

func TestMJPEGStream_StreamsToClient(t *testing.T) {
	m := NewMJPEGStream(MJPEGConfig{})
	require.NoError(t, m.Start())
	defer m.Stop()

	srv := httptest.NewServer(m.StreamHandler())
	defer srv.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = m.Present(grayFrame(8, 8, 77))
			}
		}
	}()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "multipart/x-mixed-replace")

	part, err := multipart.NewReader(resp.Body, "frame").NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

	data, err := io.ReadAll(io.LimitReader(part, 1<<20))
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		require.NoError(t, err)
	}
	assert.NotEmpty(t, data)
}

func TestMJPEGStream_RejectsWhenStopped(t *testing.T) {
	m := NewMJPEGStream(MJPEGConfig{})
	rec := httptest.NewRecorder()
	m.StreamHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeSink struct {
	name       string
	startErr   error
	presentErr error
	started    bool
	stopped    bool
	presented  int
	fullscreen bool
}

func (s *fakeSink) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeSink) Stop() error {
	s.stopped = true
	return nil
}

func (s *fakeSink) Present(image.Image) error {
	s.presented++
	return s.presentErr
}

func (s *fakeSink) SetFullscreen(fs bool) error {
	s.fullscreen = fs
	return nil
}

func (s *fakeSink) Name() string { return s.name }

func TestFanout(t *testing.T) {
	a := &fakeSink{name: "a", presentErr: errors.New("broken pipe")}
	b := &fakeSink{name: "b"}
	f := Fanout{a, b}

	require.NoError(t, f.Start())
	assert.Equal(t, "a + b", f.Name())

	err := f.Present(grayFrame(2, 2, 0))
	assert.Error(t, err)
	assert.Equal(t, 1, a.presented)
	assert.Equal(t, 1, b.presented, "a failing sink must not starve the others")

	require.NoError(t, f.SetFullscreen(true))
	assert.True(t, a.fullscreen)
	assert.True(t, b.fullscreen)

	require.NoError(t, f.Stop())
	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
}

func TestFanout_StartRollsBack(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b", startErr: errors.New("no display")}

	err := Fanout{a, b}.Start()
	assert.Error(t, err)
	assert.True(t, a.started)
	assert.True(t, a.stopped)
}
