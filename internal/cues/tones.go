package cues

import "math"

// DefaultSampleRate is the PCM sample rate used for cue assets.
const DefaultSampleRate = 16000

// segment is one sine burst within a cue tone.
type segment struct {
	freq float64
	dur  float64
	gain float64
}

// cueShapes define each cue's sound: short two-tone figures that read as
// UI feedback rather than music.
var cueShapes = map[Cue][]segment{
	CueStart:      {{freq: 523.25, dur: 0.09, gain: 0.5}, {freq: 783.99, dur: 0.12, gain: 0.5}},
	CueProcessing: {{freq: 440.00, dur: 0.08, gain: 0.25}, {freq: 0, dur: 0.22, gain: 0}},
	CueResponding: {{freq: 659.25, dur: 0.10, gain: 0.45}},
	CueError:      {{freq: 196.00, dur: 0.16, gain: 0.5}, {freq: 174.61, dur: 0.20, gain: 0.5}},
	CueReset:      {{freq: 783.99, dur: 0.08, gain: 0.4}, {freq: 523.25, dur: 0.12, gain: 0.4}},
}

// TonePCM16 synthesizes the cue as mono little-endian PCM16 at the given
// sample rate. Unknown cues return the error tone so a bad asset request
// still produces audible feedback.
func TonePCM16(c Cue, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	shape, ok := cueShapes[c]
	if !ok {
		shape = cueShapes[CueError]
	}

	var out []byte
	for _, seg := range shape {
		out = append(out, renderSegment(seg, sampleRate)...)
	}
	return out
}

// renderSegment produces one burst with a raised-cosine envelope to avoid
// clicks at the segment edges.
func renderSegment(seg segment, sampleRate int) []byte {
	n := int(seg.dur * float64(sampleRate))
	if n <= 0 {
		return nil
	}
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		var sample float64
		if seg.freq > 0 {
			t := float64(i) / float64(sampleRate)
			envelope := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
			sample = seg.gain * envelope * math.Sin(2*math.Pi*seg.freq*t)
		}
		v := int16(sample * math.MaxInt16)
		out = append(out, byte(v), byte(v>>8))
	}
	return out
}
