package visual

import "math"

// Synth produces a deterministic idle/mock signal for when no real
// AudioFrame source is available (permission denied, transport not yet
// connected). Visualization must keep running regardless.
type Synth struct {
	bins    int
	samples int
	step    uint64
}

// NewSynth builds a generator emitting frames with the given shape.
func NewSynth(bins, samples int) *Synth {
	if bins <= 0 {
		bins = 64
	}
	if samples <= 0 {
		samples = 128
	}
	return &Synth{bins: bins, samples: samples}
}

// Next returns the next synthetic frame: a slow breathing envelope over a
// low-frequency hump, quiet enough to read as ambient rather than speech.
func (s *Synth) Next() AudioFrame {
	s.step++
	t := float64(s.step)
	envelope := 0.25 + 0.15*math.Sin(t*0.05)

	bins := make([]float64, s.bins)
	for i := range bins {
		pos := float64(i) / float64(s.bins)
		hump := math.Exp(-8 * (pos - 0.2) * (pos - 0.2))
		ripple := 0.5 + 0.5*math.Sin(t*0.2+float64(i)*0.7)
		bins[i] = 255 * envelope * hump * (0.6 + 0.4*ripple)
	}

	samples := make([]float64, s.samples)
	for i := range samples {
		phase := t*0.3 + 2*math.Pi*float64(i)/float64(s.samples)
		samples[i] = envelope * math.Sin(phase)
	}

	return AudioFrame{
		FrequencyBins: bins,
		TimeDomain:    samples,
		Volume:        envelope,
	}
}
