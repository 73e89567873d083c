package input

// KeyEscape is the rune reported for the Escape key
const KeyEscape = rune(27)

// Binding pairs a key with the command it triggers
type Binding struct {
	Key         rune
	Label       string
	Command     Command
	Description string
}

// Bindings is the keyboard layout shared by the display window and the terminal
var Bindings = []Binding{
	{KeyEscape, "Esc", Terminate, "Exit"},
	{' ', "Space", ToggleGate, "Toggle pedal gating"},
	{'1', "1", ToggleSubtract, "Toggle background subtraction"},
	{'2', "2", ToggleOverlay, "Toggle overlay"},
	{'3', "3", SetFullscreen, "Fullscreen"},
	{'4', "4", SetWindowed, "Windowed mode"},
	{'5', "5", RetakeBackground, "Retake background used in subtraction"},
	{'6', "6", ToggleEqualize, "Toggle histogram equalization"},
	{'7', "7", ToggleHUD, "Toggle HUD (on screen text)"},
	{'t', "t", ToggleThreaded, "Toggle threaded processing"},
}

// CommandForKey maps a key press to a command
func CommandForKey(key rune) (Command, bool) {
	for _, b := range Bindings {
		if b.Key == key {
			return b.Command, true
		}
	}
	return CommandNone, false
}
