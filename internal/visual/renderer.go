package visual

import (
	"math"
	"math/rand"
)

// Config sizes the render surface and tunes the smoothing that keeps the
// output stable between noisy frames.
type Config struct {
	Width      float64
	Height     float64
	BarWidth   float64
	BarSpacing float64

	// SmoothingK is the exponential smoothing constant applied to every
	// rendered value: smoothed += (target - smoothed) * k. Raw per-frame
	// magnitudes are too noisy to draw directly.
	SmoothingK float64

	// GlowThreshold is the normalized magnitude above which a bar gets the
	// high-energy emphasis treatment.
	GlowThreshold float64

	ParticleCount int
}

// DefaultConfig matches the widget's shipped surface.
func DefaultConfig() Config {
	return Config{
		Width:         320,
		Height:        80,
		BarWidth:      3,
		BarSpacing:    2,
		SmoothingK:    0.3,
		GlowThreshold: 0.7,
		ParticleCount: 24,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Width <= 0 {
		c.Width = d.Width
	}
	if c.Height <= 0 {
		c.Height = d.Height
	}
	if c.BarWidth <= 0 {
		c.BarWidth = d.BarWidth
	}
	if c.BarSpacing < 0 {
		c.BarSpacing = d.BarSpacing
	}
	if c.SmoothingK <= 0 || c.SmoothingK > 1 {
		c.SmoothingK = d.SmoothingK
	}
	if c.GlowThreshold <= 0 || c.GlowThreshold > 1 {
		c.GlowThreshold = d.GlowThreshold
	}
	if c.ParticleCount <= 0 {
		c.ParticleCount = d.ParticleCount
	}
	return c
}

// Renderer converts AudioFrames into primitives for one mode. Not safe for
// concurrent use; each visualizer loop owns one renderer.
type Renderer struct {
	cfg      Config
	mode     Mode
	smoothed []float64
	rng      *rand.Rand
	tick     uint64
}

// NewRenderer builds a renderer for the given mode. The particle RNG is
// seeded deterministically so identical input sequences draw identically.
func NewRenderer(mode Mode, cfg Config) *Renderer {
	switch mode {
	case ModeBars, ModeWave, ModeCircular, ModeParticles:
	default:
		mode = ModeBars
	}
	return &Renderer{
		cfg:  cfg.withDefaults(),
		mode: mode,
		rng:  rand.New(rand.NewSource(1)),
	}
}

// Mode returns the renderer's visualization mode.
func (r *Renderer) Mode() Mode { return r.mode }

// Render produces one frame of primitives. Empty or all-zero input renders
// a valid zero-height/zero-amplitude frame; it never fails.
func (r *Renderer) Render(frame AudioFrame) RenderFrame {
	r.tick++
	switch r.mode {
	case ModeWave:
		return RenderFrame{Mode: ModeWave, Path: r.wavePath(frame.TimeDomain)}
	case ModeCircular:
		return RenderFrame{Mode: ModeCircular, Radials: r.radials(frame.FrequencyBins)}
	case ModeParticles:
		return RenderFrame{Mode: ModeParticles, Particles: r.particles(frame.FrequencyBins, frame.Volume)}
	default:
		return RenderFrame{Mode: ModeBars, Bars: r.bars(frame.FrequencyBins)}
	}
}

// IdleFrame is the lightweight pulsing-dots animation shown while the
// session is outside the audio-producing set, so the surface is never
// inert while the widget is visible.
func (r *Renderer) IdleFrame() RenderFrame {
	r.tick++
	const dots = 3
	pulse := 0.5 + 0.5*math.Sin(float64(r.tick)*0.12)
	cy := r.cfg.Height / 2
	spacing := r.cfg.Width / float64(dots+1)

	particles := make([]Particle, 0, dots)
	for i := 0; i < dots; i++ {
		phase := float64(i) * 0.8
		p := 0.5 + 0.5*math.Sin(float64(r.tick)*0.12+phase)
		particles = append(particles, Particle{
			X:         spacing * float64(i+1),
			Y:         cy,
			Radius:    2 + 2*p,
			Intensity: 0.3 + 0.4*pulse,
		})
	}
	return RenderFrame{Mode: r.mode, Idle: true, Particles: particles}
}

// ClearFrame tells the sink to wipe the surface; no stale frame may stay
// on screen after the render loop stops.
func (r *Renderer) ClearFrame() RenderFrame {
	return RenderFrame{Mode: r.mode, Clear: true}
}

// bucketCount bounds N by what fits on the surface.
func (r *Renderer) bucketCount() int {
	n := int(r.cfg.Width / (r.cfg.BarWidth + r.cfg.BarSpacing))
	if n < 1 {
		n = 1
	}
	return n
}

// smooth advances the per-bucket smoothed values toward targets.
func (r *Renderer) smooth(targets []float64) []float64 {
	if len(r.smoothed) != len(targets) {
		r.smoothed = make([]float64, len(targets))
	}
	k := r.cfg.SmoothingK
	for i, target := range targets {
		r.smoothed[i] += (target - r.smoothed[i]) * k
	}
	return r.smoothed
}

// buckets partitions the frequency bins into n averaged, normalized
// magnitudes in [0, 1].
func buckets(bins []float64, n int) []float64 {
	out := make([]float64, n)
	if len(bins) == 0 {
		return out
	}
	per := len(bins) / n
	if per < 1 {
		per = 1
	}
	for i := 0; i < n; i++ {
		start := i * per
		if start >= len(bins) {
			break
		}
		end := start + per
		if end > len(bins) {
			end = len(bins)
		}
		sum := 0.0
		for _, v := range bins[start:end] {
			sum += clamp(v, 0, 255)
		}
		out[i] = sum / float64(end-start) / 255
	}
	return out
}

func (r *Renderer) bars(bins []float64) []Bar {
	n := r.bucketCount()
	values := r.smooth(buckets(bins, n))

	out := make([]Bar, 0, n)
	step := r.cfg.BarWidth + r.cfg.BarSpacing
	for i, v := range values {
		h := v * r.cfg.Height
		out = append(out, Bar{
			X:         float64(i) * step,
			Y:         r.cfg.Height - h,
			Width:     r.cfg.BarWidth,
			Height:    h,
			Intensity: v,
			Glow:      v >= r.cfg.GlowThreshold,
		})
	}
	return out
}

func (r *Renderer) wavePath(samples []float64) []Point {
	mid := r.cfg.Height / 2
	if len(samples) == 0 {
		return []Point{{X: 0, Y: mid}, {X: r.cfg.Width, Y: mid}}
	}
	out := make([]Point, 0, len(samples))
	stepX := r.cfg.Width / float64(len(samples))
	for i, s := range samples {
		s = clamp(s, -1, 1)
		out = append(out, Point{
			X: float64(i) * stepX,
			Y: mid - s*mid,
		})
	}
	return out
}

func (r *Renderer) radials(bins []float64) []RadialBar {
	n := r.bucketCount()
	values := r.smooth(buckets(bins, n))

	base := math.Min(r.cfg.Width, r.cfg.Height) / 4
	maxExt := math.Min(r.cfg.Width, r.cfg.Height)/2 - base
	out := make([]RadialBar, 0, n)
	for i, v := range values {
		out = append(out, RadialBar{
			Angle:     2 * math.Pi * float64(i) / float64(n),
			InnerR:    base,
			OuterR:    base + v*maxExt,
			Intensity: v,
		})
	}
	return out
}

func (r *Renderer) particles(bins []float64, volume float64) []Particle {
	values := buckets(bins, 8)
	volume = clamp(volume, 0, 1)

	out := make([]Particle, 0, r.cfg.ParticleCount)
	for i := 0; i < r.cfg.ParticleCount; i++ {
		bucket := values[i%len(values)]
		energy := clamp(0.2+0.8*bucket*volume+0.2*bucket, 0, 1)
		out = append(out, Particle{
			X:         r.rng.Float64() * r.cfg.Width,
			Y:         r.rng.Float64() * r.cfg.Height,
			Radius:    1 + 3*energy,
			Intensity: energy,
		})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
