// Package visual turns the streaming amplitude/frequency signal into
// drawable primitives at a bounded frame rate. It is decorative by
// contract: it never errors out of the session, and synthesizes a signal
// when none is available.
package visual

// AudioFrame is one sampled instant of the audio stream. Frames are
// ephemeral: consumed by the renderer and discarded.
type AudioFrame struct {
	// FrequencyBins holds magnitude values on a 0-255 scale.
	FrequencyBins []float64 `json:"frequency_bins"`
	// TimeDomain holds signed amplitude samples in [-1, 1].
	TimeDomain []float64 `json:"time_domain"`
	// Volume is a scalar loudness summary in [0, 1].
	Volume float64 `json:"volume"`
}

// Mode selects a visualization style.
type Mode string

const (
	ModeBars      Mode = "bars"
	ModeWave      Mode = "wave"
	ModeCircular  Mode = "circular"
	ModeParticles Mode = "particles"
)

// Bar is one vertical bar, origin at the top-left of the surface.
type Bar struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"w"`
	Height    float64 `json:"h"`
	Intensity float64 `json:"intensity"`
	Glow      bool    `json:"glow,omitempty"`
}

// Point is one polyline vertex.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RadialBar is one bar radiating from the surface center.
type RadialBar struct {
	Angle     float64 `json:"angle"`
	InnerR    float64 `json:"inner_r"`
	OuterR    float64 `json:"outer_r"`
	Intensity float64 `json:"intensity"`
}

// Particle is one ambient dot.
type Particle struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    float64 `json:"r"`
	Intensity float64 `json:"intensity"`
}

// RenderFrame is the renderer's complete output for one tick. The pixel
// backend (canvas, GPU surface, test sink) is interchangeable; only the
// populated slice for the frame's mode is meaningful.
type RenderFrame struct {
	Mode      Mode        `json:"mode"`
	Idle      bool        `json:"idle,omitempty"`
	Clear     bool        `json:"clear,omitempty"`
	Bars      []Bar       `json:"bars,omitempty"`
	Path      []Point     `json:"path,omitempty"`
	Radials   []RadialBar `json:"radials,omitempty"`
	Particles []Particle  `json:"particles,omitempty"`
}
