package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/FluoroSim/internal/config"
	"github.com/bryanchriswhite/FluoroSim/internal/input"
	"github.com/bryanchriswhite/FluoroSim/internal/logger"
	"github.com/bryanchriswhite/FluoroSim/internal/output"
	"github.com/bryanchriswhite/FluoroSim/internal/pipeline"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// DefaultTelemetryInterval is how often the telemetry websocket pushes
const DefaultTelemetryInterval = 250 * time.Millisecond

// Version is reported by the health endpoint
var Version = "dev"

// Pipeline is the read side of the orchestrator exposed over HTTP
type Pipeline interface {
	Telemetry() pipeline.Telemetry
}

// Server represents the HTTP control surface
type Server struct {
	router    *mux.Router
	pipeline  Pipeline
	commands  *input.Mux
	pedal     *input.SoftPedal
	stream    *output.MJPEGStream
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	interval  time.Duration

	mu         sync.Mutex
	httpServer *http.Server
}

// Options collects the server's collaborators; Stream and Config are optional
type Options struct {
	Pipeline          Pipeline
	Commands          *input.Mux
	Pedal             *input.SoftPedal
	Stream            *output.MJPEGStream
	Config            *config.Manager
	TelemetryInterval time.Duration
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	interval := opts.TelemetryInterval
	if interval <= 0 {
		interval = DefaultTelemetryInterval
	}

	s := &Server{
		router:    mux.NewRouter(),
		pipeline:  opts.Pipeline,
		commands:  opts.Commands,
		pedal:     opts.Pedal,
		stream:    opts.Stream,
		configMgr: opts.Config,
		interval:  interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Full paths on the root router: a PathPrefix subrouter reports a
	// method mismatch as 404 instead of 405
	r := s.router

	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/telemetry", s.handleTelemetry)

	// Operator input
	r.HandleFunc("/api/commands", s.handleListCommands).Methods("GET")
	r.HandleFunc("/api/commands/{name}", s.handleCommand).Methods("POST")
	r.HandleFunc("/api/pedal", s.handlePedal).Methods("POST")

	r.HandleFunc("/api/config", s.handleGetConfig).Methods("GET")

	if s.stream != nil {
		r.HandleFunc("/stream", s.stream.StreamHandler()).Methods("GET")
		r.HandleFunc("/snapshot.jpg", s.stream.SnapshotHandler()).Methods("GET")
		r.HandleFunc("/", s.stream.ViewerHandler()).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

type statusResponse struct {
	Telemetry pipeline.Telemetry `json:"telemetry"`
	Stream    *output.Stats      `json:"stream,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Telemetry: s.pipeline.Telemetry()}
	if s.stream != nil {
		stats := s.stream.Stats()
		resp.Stream = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name        string `json:"name"`
		Key         string `json:"key,omitempty"`
		Description string `json:"description,omitempty"`
	}

	keys := make(map[input.Command]input.Binding, len(input.Bindings))
	for _, b := range input.Bindings {
		keys[b.Command] = b
	}

	cmds := input.Commands()
	list := make([]entry, 0, len(cmds))
	for _, c := range cmds {
		e := entry{Name: c.String()}
		if b, ok := keys[c]; ok {
			e.Key = b.Label
			e.Description = b.Description
		}
		list = append(list, e)
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := input.ParseCommand(mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if !s.commands.Send(cmd) {
		http.Error(w, "command queue full", http.StatusServiceUnavailable)
		return
	}

	logger.WithComponent("api").Debug().Str("command", cmd.String()).Msg("Command queued")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "queued",
		"command": cmd.String(),
	})
}

func (s *Server) handlePedal(w http.ResponseWriter, r *http.Request) {
	if s.pedal == nil {
		http.Error(w, "software pedal disabled", http.StatusNotFound)
		return
	}

	var req struct {
		Pressed *bool `json:"pressed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Pressed == nil {
		http.Error(w, `missing "pressed"`, http.StatusBadRequest)
		return
	}

	s.pedal.Set(*req.Pressed)
	writeJSON(w, http.StatusOK, map[string]bool{"pressed": *req.Pressed})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reader goroutine notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.pipeline.Telemetry()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
