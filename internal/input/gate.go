package input

import "sync/atomic"

// StaticGate is a gate fixed at construction, used when no pedal is wired
type StaticGate bool

// Active implements Gate
func (g StaticGate) Active() bool {
	return bool(g)
}

// SoftPedal is a gate driven in software, e.g. from the HTTP API
type SoftPedal struct {
	pressed atomic.Bool
}

// Set presses or releases the pedal
func (p *SoftPedal) Set(pressed bool) {
	p.pressed.Store(pressed)
}

// Active implements Gate
func (p *SoftPedal) Active() bool {
	return p.pressed.Load()
}

// AnyGate is active when any of its gates is active
type AnyGate []Gate

// Active implements Gate
func (g AnyGate) Active() bool {
	for _, gate := range g {
		if gate != nil && gate.Active() {
			return true
		}
	}
	return false
}
