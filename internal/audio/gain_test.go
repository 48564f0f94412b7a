package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyGain(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		factor   float64
		expected []int16
	}{
		{
			name:     "amplifies quiet samples",
			samples:  []int16{1, -2, 10, -10},
			factor:   300.0,
			expected: []int16{300, -600, 3000, -3000},
		},
		{
			name:     "clips positive overflow",
			samples:  []int16{200, 30000},
			factor:   300.0,
			expected: []int16{math.MaxInt16, math.MaxInt16},
		},
		{
			name:     "clips negative overflow",
			samples:  []int16{-200, -30000},
			factor:   300.0,
			expected: []int16{math.MinInt16, math.MinInt16},
		},
		{
			name:     "unity gain leaves samples alone",
			samples:  []int16{1, -2, 32767},
			factor:   1.0,
			expected: []int16{1, -2, 32767},
		},
		{
			name:     "zero samples",
			samples:  []int16{0, 0, 0},
			factor:   300.0,
			expected: []int16{0, 0, 0},
		},
		{
			name:     "empty block",
			samples:  []int16{},
			factor:   300.0,
			expected: []int16{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ApplyGain(tt.samples, tt.factor)
			assert.Equal(t, tt.expected, tt.samples)
		})
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{name: "empty block", samples: []int16{}, expected: 0},
		{name: "silence", samples: []int16{0, 0, 0, 0}, expected: 0},
		{name: "constant amplitude", samples: []int16{3000, 3000, 3000}, expected: 3000},
		{name: "sign invariant", samples: []int16{-3000, 3000, -3000, 3000}, expected: 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, RMS(tt.samples), 0.001)
		})
	}
}

func TestRMSMatchesThresholdScale(t *testing.T) {
	// A block hovering around +/-100 raw must read as silence against the
	// default 2000 threshold; one around +/-5000 must read as speech.
	quiet := make([]int16, 1600)
	loud := make([]int16, 1600)
	for i := range quiet {
		quiet[i] = 100
		loud[i] = 5000
	}

	cfg := DefaultConfig()
	assert.Less(t, RMS(quiet), cfg.SilenceThreshold)
	assert.Greater(t, RMS(loud), cfg.SilenceThreshold)
}
