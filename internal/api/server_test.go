package api

import (
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/FluoroSim/internal/config"
	"github.com/bryanchriswhite/FluoroSim/internal/input"
	"github.com/bryanchriswhite/FluoroSim/internal/output"
	"github.com/bryanchriswhite/FluoroSim/internal/pipeline"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	telemetry pipeline.Telemetry
}

func (f *fakePipeline) Telemetry() pipeline.Telemetry {
	return f.telemetry
}

type fixture struct {
	server   *Server
	commands *input.Mux
	pedal    *input.SoftPedal
	stream   *output.MJPEGStream
	pipeline *fakePipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	latency := 12.5
	f := &fixture{
		commands: input.NewMux(1),
		pedal:    &input.SoftPedal{},
		stream:   output.NewMJPEGStream(output.MJPEGConfig{}),
		pipeline: &fakePipeline{telemetry: pipeline.Telemetry{
			Session:   "test-session",
			LatencyMS: &latency,
			Pending:   2,
			Capacity:  4,
			State:     pipeline.DefaultState(),
		}},
	}

	cfgMgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	f.server = NewServer(Options{
		Pipeline:          f.pipeline,
		Commands:          f.commands,
		Pedal:             f.pedal,
		Stream:            f.stream,
		Config:            cfgMgr,
		TelemetryInterval: 10 * time.Millisecond,
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestPreflight(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodOptions, "/api/commands/toggle-hud", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, ok := f.commands.Poll(0)
	assert.False(t, ok, "preflight must not queue a command")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.stream.Start())
	defer f.stream.Stop()

	rec := f.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Telemetry pipeline.Telemetry `json:"telemetry"`
		Stream    *output.Stats      `json:"stream"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "test-session", body.Telemetry.Session)
	require.NotNil(t, body.Telemetry.LatencyMS)
	assert.Equal(t, 12.5, *body.Telemetry.LatencyMS)
	assert.Equal(t, 4, body.Telemetry.Capacity)
	require.NotNil(t, body.Stream)
	assert.True(t, body.Stream.Running)
}

func TestCommand(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/commands/retake-background", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	cmd, ok := f.commands.Poll(0)
	require.True(t, ok)
	assert.Equal(t, input.RetakeBackground, cmd)

	t.Run("unknown", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/commands/self-destruct", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("queue full", func(t *testing.T) {
		require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/commands/toggle-hud", "").Code)
		rec := f.do(http.MethodPost, "/api/commands/toggle-hud", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		f.commands.Poll(0)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/commands/toggle-hud", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestListCommands(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/commands", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []struct {
		Name string `json:"name"`
		Key  string `json:"key"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, len(input.Commands()))

	byName := map[string]string{}
	for _, e := range list {
		byName[e.Name] = e.Key
	}
	assert.Equal(t, "Space", byName["toggle-gate"])
	assert.Equal(t, "5", byName["retake-background"])
	assert.Equal(t, "Esc", byName["terminate"])
}

func TestPedal(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/pedal", `{"pressed": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.pedal.Active())

	rec = f.do(http.MethodPost, "/api/pedal", `{"pressed": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.pedal.Active())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/pedal", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/pedal", `not json`).Code)
}

func TestConfig(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg config.Config
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cfg))
	assert.Equal(t, config.Defaults().Source.Spec, cfg.Source.Spec)
}

func TestStreamRoutes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.stream.Start())
	defer f.stream.Stop()

	rec := f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/telemetry")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/snapshot.jpg", "").Code)
	require.NoError(t, f.stream.Present(image.NewGray(image.Rect(0, 0, 8, 8))))
	rec = f.do(http.MethodGet, "/snapshot.jpg", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestNoStreamRoutesWithoutStream(t *testing.T) {
	s := NewServer(Options{Pipeline: &fakePipeline{}, Commands: input.NewMux(1)})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pedal", strings.NewReader(`{"pressed":true}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTelemetryWebSocket(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/telemetry"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 2; i++ {
		var tel pipeline.Telemetry
		require.NoError(t, conn.ReadJSON(&tel))
		assert.Equal(t, "test-session", tel.Session)
		assert.Equal(t, 2, tel.Pending)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.stream.Start())
	defer f.stream.Stop()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/commands/toggle-hud"},
		{http.MethodGet, "/api/pedal"},
		{http.MethodPost, "/api/status"},
		{http.MethodDelete, "/api/config"},
		{http.MethodPost, "/snapshot.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusMethodNotAllowed, f.do(tt.method, tt.path, "").Code)
		})
	}

	_, ok := f.commands.Poll(0)
	assert.False(t, ok)
	assert.False(t, f.pedal.Active())
}
