package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/FluoroSim/internal/logger"
)

// Config is the persisted simulator configuration
type Config struct {
	Source   SourceConfig   `json:"source" yaml:"source"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Overlay  OverlayConfig  `json:"overlay" yaml:"overlay"`
	Display  DisplayConfig  `json:"display" yaml:"display"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Pedal    PedalConfig    `json:"pedal" yaml:"pedal"`
	LogLevel string         `json:"log_level" yaml:"log_level"`
}

// SourceConfig selects and tunes the camera
type SourceConfig struct {
	// Spec is "<index>|<path>|synth[:size=WxH][:fps=N]" or "gst:<pipeline>"
	Spec        string        `json:"spec" yaml:"spec"`
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`
	LockDir     string        `json:"lock_dir" yaml:"lock_dir"`
	GstLaunch   string        `json:"gst_launch" yaml:"gst_launch"`
}

// PipelineConfig sizes the worker pool and sets the start-up toggles
type PipelineConfig struct {
	// Workers is the pool size and pending-queue bound; 0 means one per CPU
	Workers      int           `json:"workers" yaml:"workers"`
	Smoothing    float64       `json:"smoothing" yaml:"smoothing"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	Threaded   bool `json:"threaded" yaml:"threaded"`
	Subtract   bool `json:"subtract" yaml:"subtract"`
	Equalize   bool `json:"equalize" yaml:"equalize"`
	PedalGated bool `json:"pedal_gated" yaml:"pedal_gated"`
	HUD        bool `json:"hud" yaml:"hud"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Image   string  `json:"image" yaml:"image"`
	Weight  float64 `json:"weight" yaml:"weight"`
}

// DisplayConfig represents the X11 display window configuration
type DisplayConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Width      int    `json:"width" yaml:"width"`
	Height     int    `json:"height" yaml:"height"`
	Fullscreen bool   `json:"fullscreen" yaml:"fullscreen"`
	Title      string `json:"title" yaml:"title"`
}

// ServerConfig represents the HTTP control surface configuration
type ServerConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	JPEGQuality int    `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// PedalConfig describes the serial foot pedal; an empty port disables it
type PedalConfig struct {
	Port      string `json:"port" yaml:"port"`
	Signal    string `json:"signal" yaml:"signal"`
	ActiveLow bool   `json:"active_low" yaml:"active_low"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Defaults returns the default configuration: the simulator starts with
// every processing stage on and capture gated by the pedal.
func Defaults() *Config {
	return &Config{
		Source: SourceConfig{
			Spec:        "0",
			ReadTimeout: time.Second,
			GstLaunch:   "gst-launch-1.0",
		},
		Pipeline: PipelineConfig{
			Workers:      0,
			Smoothing:    0.5,
			PollInterval: time.Millisecond,
			Threaded:     true,
			Subtract:     true,
			Equalize:     true,
			PedalGated:   true,
			HUD:          true,
		},
		Overlay: OverlayConfig{
			Enabled: true,
			Image:   "skel.jpg",
			Weight:  0.5,
		},
		Display: DisplayConfig{
			Enabled: true,
			Width:   1280,
			Height:  720,
			Title:   "FluoroSim",
		},
		Server: ServerConfig{
			Enabled:     true,
			Host:        "127.0.0.1",
			Port:        8080,
			JPEGQuality: 85,
		},
		Pedal: PedalConfig{
			Signal: "cts",
		},
		LogLevel: "info",
	}
}

// Validate checks value ranges that would otherwise fail deep inside the pipeline
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Source.Spec) == "" {
		errs = append(errs, errors.New("source.spec must not be empty"))
	}
	if c.Pipeline.Workers < 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be >= 0, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.Smoothing < 0 || c.Pipeline.Smoothing >= 1 {
		errs = append(errs, fmt.Errorf("pipeline.smoothing must be in [0, 1), got %g", c.Pipeline.Smoothing))
	}
	if c.Overlay.Weight < 0 || c.Overlay.Weight > 1 {
		errs = append(errs, fmt.Errorf("overlay.weight must be in [0, 1], got %g", c.Overlay.Weight))
	}
	if c.Server.Enabled && (c.Server.Port < 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch strings.ToLower(c.Pedal.Signal) {
	case "", "cts", "dsr", "ri", "dcd":
	default:
		errs = append(errs, fmt.Errorf("pedal.signal must be cts, dsr, ri or dcd, got %q", c.Pedal.Signal))
	}

	return errors.Join(errs...)
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/fluorosim/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "fluorosim", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty, writing a
// default configuration if the file does not exist yet.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{configPath: path}

	if err := m.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("source", m.config.Source.Spec).
		Msg("Config loaded")

	return m, nil
}

// load reads the configuration from disk on top of the defaults, so keys
// missing from the file keep their default values
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()
	log := logger.WithComponent("config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().Err(err).Str("config_dir", configDir).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return fmt.Errorf("failed to write config: %w", err)
	}

	log.Debug().Str("path", m.configPath).Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration, then saves it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// ResolvePath resolves p relative to the config directory unless it is absolute
func (m *Manager) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return filepath.Join(m.GetConfigDir(), p)
}

// Marshal renders cfg as YAML
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
