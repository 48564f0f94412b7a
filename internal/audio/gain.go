package audio

import "math"

// ApplyGain amplifies samples in place by factor, hard-clipping to the
// int16 range. A factor <= 1 leaves quiet hardware alone but still clips
// anything out of range.
func ApplyGain(samples []int16, factor float64) {
	if factor == 1.0 {
		return
	}
	for i, s := range samples {
		v := float64(s) * factor
		switch {
		case v > math.MaxInt16:
			samples[i] = math.MaxInt16
		case v < math.MinInt16:
			samples[i] = math.MinInt16
		default:
			samples[i] = int16(v)
		}
	}
}

// RMS computes root-mean-square energy over a sample block on the raw
// int16 scale, matching the silence threshold units.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
