package input

import (
	"time"

	"github.com/bryanchriswhite/FluoroSim/internal/logger"
)

// Mux merges commands from any number of producers (display window, terminal,
// HTTP API) into a single queue polled by the pipeline loop.
type Mux struct {
	commands chan Command
}

// NewMux creates a mux that buffers up to size pending commands
func NewMux(size int) *Mux {
	if size < 1 {
		size = 16
	}
	return &Mux{commands: make(chan Command, size)}
}

// Send queues a command without blocking. It returns false when the queue is
// full and the command was dropped.
func (m *Mux) Send(cmd Command) bool {
	select {
	case m.commands <- cmd:
		return true
	default:
		logger.WithComponent("input").Warn().
			Str("command", cmd.String()).
			Msg("Command queue full, dropping command")
		return false
	}
}

// Poll implements Source
func (m *Mux) Poll(timeout time.Duration) (Command, bool) {
	if timeout <= 0 {
		select {
		case cmd := <-m.commands:
			return cmd, true
		default:
			return CommandNone, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case cmd := <-m.commands:
		return cmd, true
	case <-timer.C:
		return CommandNone, false
	}
}

// SendKey translates a key press and queues the resulting command
func (m *Mux) SendKey(key rune) bool {
	cmd, ok := CommandForKey(key)
	if !ok {
		return false
	}
	return m.Send(cmd)
}
