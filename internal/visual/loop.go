package visual

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultFrameRate is the render loop's target tick rate in Hz.
const DefaultFrameRate = 60

// Sink receives completed render frames. Implementations must be fast;
// slow sinks cause dropped ticks, never a growing queue.
type Sink func(RenderFrame)

// Gate reports whether the session is currently in the audio-producing
// set. Outside it the loop clears the surface and plays the idle
// animation.
type Gate func() bool

// Visualizer drives a Renderer at a fixed target frame rate from a
// latest-wins frame mailbox.
type Visualizer struct {
	renderer *Renderer
	synth    *Synth
	gate     Gate
	sink     Sink
	interval time.Duration

	mu       sync.Mutex
	latest   AudioFrame
	hasFrame bool
	staleAt  time.Time
}

// frameSourceTTL bounds how long a real frame keeps priority over the
// synthetic signal once the source goes quiet.
const frameSourceTTL = 2 * time.Second

// NewVisualizer builds a render loop. frameRate <= 0 selects the default
// 60 Hz target.
func NewVisualizer(renderer *Renderer, gate Gate, sink Sink, frameRate int) *Visualizer {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &Visualizer{
		renderer: renderer,
		synth:    NewSynth(64, 128),
		gate:     gate,
		sink:     sink,
		interval: time.Second / time.Duration(frameRate),
	}
}

// Offer delivers the newest audio frame. Older undrawn frames are
// discarded; the renderer always draws the latest sampled instant.
func (v *Visualizer) Offer(frame AudioFrame) {
	v.mu.Lock()
	v.latest = frame
	v.hasFrame = true
	v.staleAt = time.Now().Add(frameSourceTTL)
	v.mu.Unlock()
}

// Run ticks the render loop until ctx is cancelled, then clears the
// surface so no stale frame is left on screen.
func (v *Visualizer) Run(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	live := false
	for {
		select {
		case <-ctx.Done():
			v.emit(v.renderer.ClearFrame())
			return
		case <-ticker.C:
			if v.gate != nil && !v.gate() {
				if live {
					v.emit(v.renderer.ClearFrame())
					live = false
				}
				v.emit(v.renderer.IdleFrame())
				continue
			}
			live = true
			v.emit(v.renderer.Render(v.takeFrame()))
		}
	}
}

// takeFrame returns the latest real frame, falling back to the synthetic
// signal when the source is absent or stale.
func (v *Visualizer) takeFrame() AudioFrame {
	v.mu.Lock()
	frame, ok := v.latest, v.hasFrame
	if ok && time.Now().After(v.staleAt) {
		v.hasFrame = false
		ok = false
	}
	v.mu.Unlock()

	if !ok {
		return v.synth.Next()
	}
	return frame
}

// emit forwards one frame to the sink. The visualizer is decorative: a
// misbehaving sink is logged and swallowed, never surfaced to the session.
func (v *Visualizer) emit(frame RenderFrame) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("visual: sink panic swallowed: %v", r)
		}
	}()
	if v.sink != nil {
		v.sink(frame)
	}
}
