package input

import (
	"fmt"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/bryanchriswhite/FluoroSim/internal/logger"
)

// PedalConfig describes a foot pedal wired to a serial port modem status line.
// A momentary switch between DTR/RTS and one of the input lines is enough.
type PedalConfig struct {
	Port      string
	Signal    string // cts, dsr, ri or dcd
	ActiveLow bool
}

// SerialPedal samples a serial modem status line as a gate
type SerialPedal struct {
	port      serial.Port
	signal    string
	activeLow bool

	mu       sync.Mutex
	failures int
}

// OpenSerialPedal opens the serial port and validates the selected signal
func OpenSerialPedal(cfg PedalConfig) (*SerialPedal, error) {
	signal := strings.ToLower(cfg.Signal)
	if signal == "" {
		signal = "cts"
	}
	switch signal {
	case "cts", "dsr", "ri", "dcd":
	default:
		return nil, fmt.Errorf("unsupported pedal signal %q (use cts, dsr, ri or dcd)", cfg.Signal)
	}

	mode := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open pedal port %s: %w", cfg.Port, err)
	}

	// Drive the output lines high so a switch can pull an input line up
	if err := port.SetDTR(true); err != nil {
		logger.WithComponent("pedal").Warn().Err(err).Msg("Failed to raise DTR")
	}
	if err := port.SetRTS(true); err != nil {
		logger.WithComponent("pedal").Warn().Err(err).Msg("Failed to raise RTS")
	}

	logger.WithComponent("pedal").Info().
		Str("port", cfg.Port).
		Str("signal", signal).
		Bool("active_low", cfg.ActiveLow).
		Msg("Serial pedal opened")

	return &SerialPedal{
		port:      port,
		signal:    signal,
		activeLow: cfg.ActiveLow,
	}, nil
}

// Active implements Gate. Read errors count as an inactive pedal.
func (p *SerialPedal) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	bits, err := p.port.GetModemStatusBits()
	if err != nil {
		p.failures++
		// Log the first failure of a streak only
		if p.failures == 1 {
			logger.WithComponent("pedal").Warn().Err(err).Msg("Failed to read pedal state")
		}
		return false
	}
	p.failures = 0

	var level bool
	switch p.signal {
	case "cts":
		level = bits.CTS
	case "dsr":
		level = bits.DSR
	case "ri":
		level = bits.RI
	case "dcd":
		level = bits.DCD
	}

	return level != p.activeLow
}

// Close releases the serial port
func (p *SerialPedal) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Close()
}
