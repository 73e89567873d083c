package commands

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/FluoroSim/internal/api"
	"github.com/bryanchriswhite/FluoroSim/internal/capture"
	"github.com/bryanchriswhite/FluoroSim/internal/config"
	"github.com/bryanchriswhite/FluoroSim/internal/input"
	"github.com/bryanchriswhite/FluoroSim/internal/logger"
	"github.com/bryanchriswhite/FluoroSim/internal/output"
	"github.com/bryanchriswhite/FluoroSim/internal/overlay"
	"github.com/bryanchriswhite/FluoroSim/internal/pipeline"
	"github.com/bryanchriswhite/FluoroSim/internal/transform"
)

// backgroundAttempts bounds the reads spent waiting for the camera to
// deliver its first frame
const backgroundAttempts = 5

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the simulator",
	Long: `Open the camera, take the initial background frame and run the capture,
processing and display loop until Esc is pressed or the process is interrupted.

Frames are shown in an X11 window and, when the server is enabled, streamed
to http://<host>:<port>/ together with the operator controls.`,
	Example: `  # Use the first camera with the settings from the config file
  fluorosim run

  # Run without hardware
  fluorosim run --source synth:size=640x480

  # Headless, web viewer only
  fluorosim run --no-display --port 9090

  # Serial foot pedal on the CTS line
  fluorosim run --pedal-port /dev/ttyUSB0`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("source", "", "camera: index, device path, synth[:size=WxH][:fps=N] or gst:<pipeline>")
	f.Int("workers", 0, "worker pool size and in-flight frame limit (default one per CPU)")
	f.Int("port", 0, "HTTP server port")
	f.Bool("no-server", false, "disable the HTTP viewer and control API")
	f.Bool("no-display", false, "disable the X11 display window")
	f.Bool("fullscreen", false, "start the display window fullscreen")
	f.Bool("no-keyboard", false, "do not read operator keys from the terminal")
	f.String("pedal-port", "", "serial port with a foot pedal")
	f.String("overlay", "", "overlay image (PNG or JPEG)")

	viper.BindPFlag("source.spec", f.Lookup("source"))
	viper.BindPFlag("pipeline.workers", f.Lookup("workers"))
	viper.BindPFlag("server.port", f.Lookup("port"))
	viper.BindPFlag("server.disabled", f.Lookup("no-server"))
	viper.BindPFlag("display.disabled", f.Lookup("no-display"))
	viper.BindPFlag("display.fullscreen", f.Lookup("fullscreen"))
	viper.BindPFlag("keyboard.disabled", f.Lookup("no-keyboard"))
	viper.BindPFlag("pedal.port", f.Lookup("pedal-port"))
	viper.BindPFlag("overlay.image", f.Lookup("overlay"))
}

// applyOverrides copies flags and FLUOROSIM_* variables that were set over cfg
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if v.IsSet("log_level") && v.GetString("log_level") != "" {
		cfg.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("source.spec") && v.GetString("source.spec") != "" {
		cfg.Source.Spec = v.GetString("source.spec")
	}
	if v.IsSet("pipeline.workers") && v.GetInt("pipeline.workers") > 0 {
		cfg.Pipeline.Workers = v.GetInt("pipeline.workers")
	}
	if v.IsSet("server.port") && v.GetInt("server.port") > 0 {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.GetBool("server.disabled") {
		cfg.Server.Enabled = false
	}
	if v.GetBool("display.disabled") {
		cfg.Display.Enabled = false
	}
	if v.IsSet("display.fullscreen") {
		cfg.Display.Fullscreen = v.GetBool("display.fullscreen")
	}
	if v.IsSet("pedal.port") && v.GetString("pedal.port") != "" {
		cfg.Pedal.Port = v.GetString("pedal.port")
	}
	if v.IsSet("overlay.image") && v.GetString("overlay.image") != "" {
		cfg.Overlay.Image = v.GetString("overlay.image")
		cfg.Overlay.Enabled = true
	}
}

// initialState maps the configured toggles onto the pipeline state.
// Overlay compositing stays off when no overlay image could be loaded.
func initialState(cfg *config.Config, hasOverlay bool) pipeline.State {
	return pipeline.State{
		Subtract:   cfg.Pipeline.Subtract,
		Overlay:    cfg.Overlay.Enabled && hasOverlay,
		Equalize:   cfg.Pipeline.Equalize,
		PedalGated: cfg.Pipeline.PedalGated,
		Fullscreen: cfg.Display.Enabled && cfg.Display.Fullscreen,
		HUD:        cfg.Pipeline.HUD,
		Threaded:   cfg.Pipeline.Threaded,
	}
}

// acquireBackground reads the first frame, retrying recoverable misses while
// the camera warms up
func acquireBackground(ctx context.Context, src pipeline.Source, attempts int) (*image.Gray, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var frame *image.RGBA
		frame, err = src.Acquire(ctx)
		if err == nil {
			return transform.Grayscale(frame), nil
		}
		if ctx.Err() != nil || !errors.Is(err, capture.ErrAcquisitionMiss) {
			break
		}
	}
	return nil, fmt.Errorf("%w: failed to read initial background frame: %w", capture.ErrSourceUnavailable, err)
}

// loadOverlay loads the overlay asset; a missing asset disables the overlay
func loadOverlay(cfg *config.Config, configMgr *config.Manager) *transform.Fluoro {
	if !cfg.Overlay.Enabled {
		return transform.NewFluoro(nil, cfg.Overlay.Weight)
	}

	img, err := overlay.LoadGray(configMgr.ResolvePath(cfg.Overlay.Image))
	if err != nil {
		logger.WithComponent("main").Warn().
			Err(err).
			Str("path", cfg.Overlay.Image).
			Msg("Overlay unavailable, continuing without overlay")
		img = nil
	}
	return transform.NewFluoro(img, cfg.Overlay.Weight)
}

// buildGate combines the software pedal with the serial pedal when configured.
// The returned closer releases the serial port.
func buildGate(cfg *config.Config, soft *input.SoftPedal) (input.Gate, func()) {
	gates := input.AnyGate{soft}
	if cfg.Pedal.Port == "" {
		return gates, func() {}
	}

	pedal, err := input.OpenSerialPedal(input.PedalConfig{
		Port:      cfg.Pedal.Port,
		Signal:    cfg.Pedal.Signal,
		ActiveLow: cfg.Pedal.ActiveLow,
	})
	if err != nil {
		logger.WithComponent("main").Warn().
			Err(err).
			Str("port", cfg.Pedal.Port).
			Msg("Foot pedal unavailable, use the keyboard or web UI instead")
		return gates, func() {}
	}
	return append(gates, pedal), func() { pedal.Close() }
}

// buildSinks creates the enabled sinks. The X11 window forwards its keys to
// commands and turns a window close into a terminate request.
func buildSinks(cfg *config.Config, commands *input.Mux) (output.Fanout, *output.MJPEGStream, error) {
	var (
		sinks  output.Fanout
		stream *output.MJPEGStream
	)

	if cfg.Server.Enabled {
		stream = output.NewMJPEGStream(output.MJPEGConfig{Quality: cfg.Server.JPEGQuality})
		sinks = append(sinks, stream)
	}

	if cfg.Display.Enabled {
		win, err := output.NewX11Window(output.X11Config{
			Width:      cfg.Display.Width,
			Height:     cfg.Display.Height,
			Title:      cfg.Display.Title,
			Fullscreen: cfg.Display.Fullscreen,
			OnKey:      func(key rune) { commands.SendKey(key) },
			OnClose:    func() { commands.Send(input.Terminate) },
		})
		if err != nil {
			if len(sinks) == 0 {
				return nil, nil, fmt.Errorf("failed to open display window: %w", err)
			}
			logger.WithComponent("main").Warn().Err(err).Msg("Display window unavailable, streaming only")
		} else {
			sinks = append(sinks, win)
		}
	}

	if len(sinks) == 0 {
		return nil, nil, errors.New("no output enabled: enable the display window or the server")
	}
	return sinks, stream, nil
}

func runSimulator(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	applyOverrides(cfg, viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Init(cfg.LogLevel, false)
	commands := input.NewMux(32)

	// Print the key table before the terminal switches to raw mode
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "FluoroSim - fluoroscopy simulator")
	fmt.Fprint(out, keyTable())
	fmt.Fprintln(out)

	if !viper.GetBool("keyboard.disabled") {
		term, err := input.StartTerminal(commands)
		switch {
		case err == nil:
			defer term.Close()
			logger.InitWithWriter(cfg.LogLevel, false, input.CRLFWriter{W: os.Stderr})
		case errors.Is(err, input.ErrNotTerminal):
		default:
			logger.WithComponent("main").Warn().Err(err).Msg("Terminal keyboard unavailable")
		}
	}

	log := logger.WithComponent("main")
	session := uuid.NewString()
	log.Info().
		Str("session", session).
		Str("config", configMgr.GetConfigPath()).
		Str("source", cfg.Source.Spec).
		Msg("Starting simulator")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spec, err := capture.ParseSpec(cfg.Source.Spec)
	if err != nil {
		return err
	}
	src, err := capture.Open(spec, capture.Options{
		ReadTimeout: cfg.Source.ReadTimeout,
		LockDir:     cfg.Source.LockDir,
		GstLaunch:   cfg.Source.GstLaunch,
	})
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	defer src.Close()

	bg, err := acquireBackground(ctx, src, backgroundAttempts)
	if err != nil {
		return err
	}

	fluoro := loadOverlay(cfg, configMgr)

	softPedal := &input.SoftPedal{}
	gate, closeGate := buildGate(cfg, softPedal)
	defer closeGate()

	sinks, stream, err := buildSinks(cfg, commands)
	if err != nil {
		return err
	}
	if err := sinks.Start(); err != nil {
		return fmt.Errorf("failed to start output: %w", err)
	}
	defer sinks.Stop()

	orch, err := pipeline.NewOrchestrator(pipeline.Config{
		Source:       src,
		Sink:         sinks,
		Transform:    fluoro.Apply,
		Gate:         gate,
		Commands:     commands,
		Background:   pipeline.NewBackground(bg),
		Workers:      cfg.Pipeline.Workers,
		Initial:      initialState(cfg, fluoro.HasOverlay()),
		Smoothing:    &cfg.Pipeline.Smoothing,
		PollInterval: cfg.Pipeline.PollInterval,
		Session:      session,
	})
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		server := api.NewServer(api.Options{
			Pipeline: orch,
			Commands: commands,
			Pedal:    softPedal,
			Stream:   stream,
			Config:   configMgr,
		})
		go func() {
			if err := server.Start(cfg.Server.Addr()); err != nil {
				log.Error().Err(err).Str("addr", cfg.Server.Addr()).Msg("HTTP server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		log.Info().Msgf("Viewer at http://%s/", cfg.Server.Addr())
	}

	log.Info().
		Str("sinks", sinks.Name()).
		Str("source", src.Name()).
		Msg("Simulator running, press Esc to exit")

	if err := orch.Run(ctx); err != nil {
		return err
	}

	log.Info().Msg("Shutting down")
	return nil
}
