// Package input turns operator actions (keys, API calls, a foot pedal) into
// pipeline commands and gate readings.
package input

import (
	"fmt"
	"strings"
	"time"
)

// Command is an operator request handled by the pipeline loop
type Command int

const (
	CommandNone Command = iota
	ToggleGate
	ToggleSubtract
	ToggleOverlay
	SetFullscreen
	SetWindowed
	RetakeBackground
	ToggleEqualize
	ToggleHUD
	ToggleThreaded
	Terminate
)

var commandNames = map[Command]string{
	ToggleGate:       "toggle-gate",
	ToggleSubtract:   "toggle-subtract",
	ToggleOverlay:    "toggle-overlay",
	SetFullscreen:    "fullscreen",
	SetWindowed:      "windowed",
	RetakeBackground: "retake-background",
	ToggleEqualize:   "toggle-equalize",
	ToggleHUD:        "toggle-hud",
	ToggleThreaded:   "toggle-threaded",
	Terminate:        "terminate",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// ParseCommand resolves a command by its name, as used by the HTTP API
func ParseCommand(name string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range commandNames {
		if n == name {
			return c, nil
		}
	}
	return CommandNone, fmt.Errorf("unknown command: %q", name)
}

// Commands returns every known command in declaration order
func Commands() []Command {
	cmds := make([]Command, 0, len(commandNames))
	for c := ToggleGate; c <= Terminate; c++ {
		cmds = append(cmds, c)
	}
	return cmds
}

// Source yields at most one command per poll.
// Poll waits up to timeout for a command; a zero timeout never blocks.
type Source interface {
	Poll(timeout time.Duration) (Command, bool)
}

// Gate reports the state of a momentary enabling signal such as a foot pedal
type Gate interface {
	Active() bool
}
