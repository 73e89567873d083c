package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmoother_Unset(t *testing.T) {
	s := NewSmoother(DefaultCoefficient)
	_, ok := s.Value()
	assert.False(t, ok)
}

func TestSmoother_FirstSampleSetsValue(t *testing.T) {
	s := NewSmoother(0.9)
	s.Update(42)

	v, ok := s.Value()
	require.True(t, ok)
	assert.Equal(t, 42.0, v)
}

func TestSmoother_Recurrence(t *testing.T) {
	tests := []struct {
		name    string
		coef    float64
		samples []float64
	}{
		{"half", 0.5, []float64{1, 2, 3, 4, 5}},
		{"heavy", 0.9, []float64{10, 0, 0, 10, 20, 5}},
		{"none", 0, []float64{3, 7, 1}},
		{"constant", 0.75, []float64{2, 2, 2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSmoother(tt.coef)
			var want float64
			for i, sample := range tt.samples {
				s.Update(sample)
				if i == 0 {
					want = sample
				} else {
					want = tt.coef*want + (1-tt.coef)*sample
				}
				got, ok := s.Value()
				require.True(t, ok)
				assert.InDelta(t, want, got, 1e-12, "step %d", i+1)
			}
		})
	}
}

func TestSmoother_ZeroCoefficientTracksLastSample(t *testing.T) {
	s := NewSmoother(0)
	s.Update(1)
	s.Update(9)

	v, _ := s.Value()
	assert.Equal(t, 9.0, v)
}
