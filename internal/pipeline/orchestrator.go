package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FluoroSim/internal/input"
	"github.com/bryanchriswhite/FluoroSim/internal/logger"
	"github.com/bryanchriswhite/FluoroSim/internal/overlay"
	"github.com/bryanchriswhite/FluoroSim/internal/stats"
	"github.com/bryanchriswhite/FluoroSim/internal/transform"
)

// Source produces raw frames. Each returned frame is owned by the caller.
type Source interface {
	Acquire(ctx context.Context) (*image.RGBA, error)
}

// Sink presents processed frames
type Sink interface {
	Present(frame image.Image) error
	SetFullscreen(fullscreen bool) error
}

// Config wires an Orchestrator to its collaborators
type Config struct {
	Source    Source
	Sink      Sink
	Transform TransformFunc

	// Gate enables capture while PedalGated is set; nil means never active
	Gate input.Gate
	// Commands is polled once per iteration; nil means no operator input
	Commands input.Source

	Background *Background
	Workers    int
	Initial    State
	// Smoothing is the telemetry coefficient in [0, 1); nil or out of range
	// uses the default, zero reports the latest sample unsmoothed
	Smoothing  *float64
	// PollInterval bounds the wait for a command in each iteration
	PollInterval time.Duration
	Session      string
	Clock        func() time.Time
}

// Orchestrator runs the capture / process / display loop.
//
// Each iteration drains completed results from the head of the pending queue
// in submission order, admits at most one new frame when there is room and
// the gate allows it, then applies at most one operator command. All fields
// are owned by the goroutine calling Step or Run.
type Orchestrator struct {
	source     Source
	sink       Sink
	transform  TransformFunc
	gate       input.Gate
	commands   input.Source
	background *Background

	pool  *Pool
	queue *PendingQueue
	hud   *overlay.HUD

	state    State
	latency  *stats.Smoother
	interval *stats.Smoother

	pollInterval time.Duration
	clock        func() time.Time
	session      string

	seq         uint64
	lastAcquire time.Time
	lastRaw     *image.RGBA
	submitted   uint64
	delivered   uint64
	misses      uint64
	missStreak  uint64
	failures    uint64
	pedalShown  bool
	telemetry   atomic.Pointer[Telemetry]
	log         *zerolog.Logger
}

// NewOrchestrator validates cfg and starts the worker pool
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline: frame source is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("pipeline: display sink is required")
	}
	if cfg.Transform == nil {
		return nil, errors.New("pipeline: transform is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	gate := cfg.Gate
	if gate == nil {
		gate = input.StaticGate(false)
	}
	commands := cfg.Commands
	if commands == nil {
		commands = input.NewMux(1)
	}
	bg := cfg.Background
	if bg == nil {
		bg = NewBackground(nil)
	}
	smoothing := stats.DefaultCoefficient
	if c := cfg.Smoothing; c != nil && *c >= 0 && *c < 1 {
		smoothing = *c
	}

	pool := NewPool(cfg.Workers, cfg.Transform, bg)

	o := &Orchestrator{
		source:       cfg.Source,
		sink:         cfg.Sink,
		transform:    cfg.Transform,
		gate:         gate,
		commands:     commands,
		background:   bg,
		pool:         pool,
		queue:        NewPendingQueue(pool.Size()),
		hud:          overlay.NewHUD(),
		state:        cfg.Initial,
		latency:      stats.NewSmoother(smoothing),
		interval:     stats.NewSmoother(smoothing),
		pollInterval: cfg.PollInterval,
		clock:        clock,
		session:      cfg.Session,
		log:          logger.WithComponent("pipeline"),
	}
	o.lastAcquire = clock()
	o.publish(false)

	return o, nil
}

// Run loops until a terminate command or ctx cancellation, then shuts the
// worker pool down. Tasks still in flight are abandoned.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.pool.Close()

	o.log.Info().
		Int("workers", o.pool.Size()).
		Str("session", o.session).
		Msg("Pipeline started")

	for {
		if err := ctx.Err(); err != nil {
			o.log.Info().Msg("Pipeline stopped by signal")
			return nil
		}
		if !o.Step(ctx) {
			o.log.Info().
				Uint64("submitted", o.submitted).
				Uint64("delivered", o.delivered).
				Uint64("misses", o.misses).
				Msg("Pipeline terminated")
			return nil
		}
	}
}

// Step runs one iteration and reports whether the loop should continue
func (o *Orchestrator) Step(ctx context.Context) bool {
	delivered := o.drain()
	admitted := o.admit(ctx)
	cont, handled := o.handleInput(ctx)

	if delivered > 0 || admitted || handled {
		o.publish(o.pedalShown)
	}
	return cont
}

// drain delivers every completed result at the head of the queue
func (o *Orchestrator) drain() int {
	delivered := 0
	sampled := false

	for o.queue.FrontReady() {
		r, _ := o.queue.PopFront()
		res, err := r.Take()
		if err != nil {
			o.log.Error().Err(err).Msg("Failed to take task result")
			continue
		}

		o.latency.Update(o.clock().Sub(res.SubmittedAt).Seconds())

		if res.Err != nil {
			o.failures++
			o.log.Error().Err(res.Err).Uint64("seq", res.Seq).Msg("Frame processing failed")
			continue
		}

		if !sampled {
			o.pedalShown = o.gate.Active()
			sampled = true
		}
		o.annotate(res.Frame, o.pedalShown)

		if err := o.sink.Present(res.Frame); err != nil {
			o.log.Warn().Err(err).Uint64("seq", res.Seq).Msg("Failed to present frame")
		}
		o.delivered++
		delivered++
	}

	return delivered
}

// admit acquires and submits one frame when capacity and the gate allow
func (o *Orchestrator) admit(ctx context.Context) bool {
	if o.queue.Full() {
		return false
	}
	if o.state.PedalGated && !o.gate.Active() {
		return false
	}

	raw, err := o.source.Acquire(ctx)
	if err != nil {
		o.misses++
		o.missStreak++
		// Warn once per streak
		if o.missStreak == 1 {
			o.log.Warn().Err(err).Msg("Frame acquisition failed, retrying")
		} else {
			o.log.Debug().Err(err).Uint64("streak", o.missStreak).Msg("Frame acquisition failed")
		}
		return false
	}
	if o.missStreak > 0 {
		o.log.Info().Uint64("missed", o.missStreak).Msg("Frame acquisition recovered")
		o.missStreak = 0
	}

	now := o.clock()
	o.interval.Update(now.Sub(o.lastAcquire).Seconds())
	o.lastAcquire = now
	o.lastRaw = raw

	o.seq++
	task := Task{
		Seq:         o.seq,
		Frame:       raw,
		SubmittedAt: now,
		Params:      o.state.Params(),
	}

	var runner Runner
	if o.state.Threaded {
		pooled, err := o.pool.Submit(task)
		if err != nil {
			o.log.Error().Err(err).Uint64("seq", task.Seq).Msg("Failed to submit frame")
			return false
		}
		runner = pooled
	} else {
		runner = NewImmediateRunner(task, o.transform, o.background)
	}

	if err := o.queue.Push(runner); err != nil {
		// Unreachable while admit is the only producer and checks Full first
		o.log.Error().Err(err).Uint64("seq", task.Seq).Msg("Failed to queue frame")
		return false
	}
	o.submitted++
	return true
}

// handleInput applies at most one command. It returns whether the loop should
// continue and whether a command was handled.
func (o *Orchestrator) handleInput(ctx context.Context) (bool, bool) {
	cmd, ok := o.commands.Poll(o.pollInterval)
	if !ok {
		return true, false
	}
	return o.apply(ctx, cmd), true
}

func (o *Orchestrator) apply(ctx context.Context, cmd input.Command) bool {
	switch cmd {
	case input.Terminate:
		o.log.Info().Msg("Terminate requested")
		return false
	case input.ToggleGate:
		o.state.PedalGated = !o.state.PedalGated
	case input.ToggleSubtract:
		o.state.Subtract = !o.state.Subtract
	case input.ToggleOverlay:
		o.state.Overlay = !o.state.Overlay
	case input.ToggleEqualize:
		o.state.Equalize = !o.state.Equalize
	case input.ToggleHUD:
		o.state.HUD = !o.state.HUD
	case input.ToggleThreaded:
		o.state.Threaded = !o.state.Threaded
	case input.SetFullscreen, input.SetWindowed:
		fullscreen := cmd == input.SetFullscreen
		if err := o.sink.SetFullscreen(fullscreen); err != nil {
			o.log.Warn().Err(err).Bool("fullscreen", fullscreen).Msg("Failed to change display mode")
			return true
		}
		o.state.Fullscreen = fullscreen
	case input.RetakeBackground:
		if err := o.retakeBackground(ctx); err != nil {
			o.log.Warn().Err(err).Msg("Failed to retake background")
			return true
		}
	default:
		o.log.Debug().Str("command", cmd.String()).Msg("Ignoring unknown command")
		return true
	}

	o.log.Info().
		Str("command", cmd.String()).
		Interface("state", o.state).
		Msg("Command applied")
	return true
}

// retakeBackground swaps in the most recent raw frame as the new reference
func (o *Orchestrator) retakeBackground(ctx context.Context) error {
	raw := o.lastRaw
	if raw == nil {
		var err error
		raw, err = o.source.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire background frame: %w", err)
		}
	}
	o.background.Replace(transform.Grayscale(raw))
	return nil
}

// annotate draws the HUD and pedal indicator onto a result frame
func (o *Orchestrator) annotate(frame *image.Gray, pedalActive bool) {
	if o.state.HUD {
		o.hud.DrawLines(frame, o.hudLines())
	}
	if pedalActive {
		o.hud.DrawFooter(frame, "PEDAL ACTIVE")
	}
}

func (o *Orchestrator) hudLines() []string {
	lines := []string{
		fmt.Sprintf("(1)Toggle Subtraction : %t  (3)Fullscreen (4)Windowed", o.state.Subtract),
		fmt.Sprintf("(2)Toggle Overlay     : %t  (5)Take Background (6)EqualizeHist", o.state.Overlay),
		fmt.Sprintf("(Space) Toggle Pedal  : %t  (7)Toggle HUD", o.state.PedalGated),
	}
	if v, ok := o.latency.Value(); ok {
		lines = append(lines, fmt.Sprintf("latency        : %.1f ms", v*1000))
	}
	if v, ok := o.interval.Value(); ok {
		lines = append(lines, fmt.Sprintf("frame interval : %.1f ms", v*1000))
	}
	lines = append(lines, fmt.Sprintf("(t)Threaded    : %t", o.state.Threaded))
	return lines
}

func (o *Orchestrator) publish(pedalActive bool) {
	t := &Telemetry{
		Session:     o.session,
		Pending:     o.queue.Len(),
		Capacity:    o.queue.Cap(),
		Submitted:   o.submitted,
		Delivered:   o.delivered,
		Misses:      o.misses,
		Failures:    o.failures,
		PedalActive: pedalActive,
		State:       o.state,
		UpdatedAt:   o.clock(),
	}
	if v, ok := o.latency.Value(); ok {
		ms := v * 1000
		t.LatencyMS = &ms
	}
	if v, ok := o.interval.Value(); ok {
		ms := v * 1000
		t.FrameIntervalMS = &ms
	}
	o.telemetry.Store(t)
}

// Telemetry returns the most recently published snapshot.
// It is safe to call from any goroutine.
func (o *Orchestrator) Telemetry() Telemetry {
	if t := o.telemetry.Load(); t != nil {
		return *t
	}
	return Telemetry{}
}

// State returns the current toggles. Only call from the loop goroutine.
func (o *Orchestrator) State() State {
	return o.state
}

// Pending returns the number of outstanding tasks
func (o *Orchestrator) Pending() int {
	return o.queue.Len()
}

// Capacity returns the maximum number of outstanding tasks
func (o *Orchestrator) Capacity() int {
	return o.queue.Cap()
}

// Close shuts the worker pool down without running the loop
func (o *Orchestrator) Close() {
	o.pool.Close()
}
