// Package stats holds the smoothed telemetry accumulators used by the pipeline.
package stats

// DefaultCoefficient weights the previous value and the new sample equally.
const DefaultCoefficient = 0.5

// Smoother is an exponential moving average over scalar samples.
//
// The first sample sets the value directly; each later sample s moves it to
// c*value + (1-c)*s. The coefficient is expected in [0, 1): larger values
// smooth harder. A Smoother is not safe for concurrent use.
type Smoother struct {
	coef  float64
	value float64
	set   bool
}

// NewSmoother creates a smoother with the given coefficient
func NewSmoother(coef float64) *Smoother {
	return &Smoother{coef: coef}
}

// Update folds a sample into the average
func (s *Smoother) Update(sample float64) {
	if !s.set {
		s.value = sample
		s.set = true
		return
	}
	s.value = s.coef*s.value + (1.0-s.coef)*sample
}

// Value returns the smoothed value and whether any sample has been recorded
func (s *Smoother) Value() (float64, bool) {
	return s.value, s.set
}

// Coefficient returns the smoothing coefficient
func (s *Smoother) Coefficient() float64 {
	return s.coef
}
