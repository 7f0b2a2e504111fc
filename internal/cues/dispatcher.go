// Package cues maps session state entries to short audio notifications,
// distinct from the conversational audio itself.
package cues

import "sync"

// Cue names one short audio notification.
type Cue string

const (
	CueStart      Cue = "start"
	CueProcessing Cue = "processing"
	CueResponding Cue = "responding"
	CueError      Cue = "error"
	CueReset      Cue = "reset"
)

// Cues lists every known cue, for asset routing.
func Cues() []Cue {
	return []Cue{CueStart, CueProcessing, CueResponding, CueError, CueReset}
}

// Valid reports whether c names a known cue.
func (c Cue) Valid() bool {
	switch c {
	case CueStart, CueProcessing, CueResponding, CueError, CueReset:
		return true
	default:
		return false
	}
}

// Looping reports whether the cue plays as a loop until cancelled.
func (c Cue) Looping() bool { return c == CueProcessing }

// Player is the playback sink. Play and Stop must be non-blocking;
// overlapping the processing loop with a later cue is a defect the
// dispatcher prevents by stopping before playing.
type Player interface {
	Play(c Cue, loop bool)
	Stop(c Cue)
}

// Dispatcher plays exactly one cue per entry into a cue state. Re-entering
// a state after leaving it re-arms its cue. The mute flag is independent
// of the session's microphone mute.
type Dispatcher struct {
	mu      sync.Mutex
	player  Player
	current Cue
	playing Cue
	muted   bool
}

func NewDispatcher(player Player) *Dispatcher {
	return &Dispatcher{player: player}
}

// SetMuted disables cue playback without touching the microphone. A
// looping cue already playing is stopped immediately.
func (d *Dispatcher) SetMuted(muted bool) {
	d.mu.Lock()
	d.muted = muted
	stop := Cue("")
	if muted && d.playing != "" {
		stop = d.playing
		d.playing = ""
	}
	d.mu.Unlock()

	if stop != "" {
		d.player.Stop(stop)
	}
}

// Muted reports the cue mute flag.
func (d *Dispatcher) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// Enter dispatches the cue for a newly entered state. Entering the state
// already current is a no-op, which keeps duplicate transitions from
// double-playing.
func (d *Dispatcher) Enter(c Cue) {
	if !c.Valid() {
		return
	}

	d.mu.Lock()
	if c == d.current {
		d.mu.Unlock()
		return
	}
	d.current = c

	// The processing loop must stop the instant responding or error takes
	// over; overlapping cues are a defect.
	stop := Cue("")
	if d.playing != "" && d.playing != c {
		stop = d.playing
		d.playing = ""
	}

	play := !d.muted
	if play {
		d.playing = c
	}
	d.mu.Unlock()

	if stop != "" {
		d.player.Stop(stop)
	}
	if play {
		d.player.Play(c, c.Looping())
	}
}

// Leave clears the armed state so a later re-entry plays again. Cues other
// than loops are fire-and-forget, so only the loop is stopped.
func (d *Dispatcher) Leave(c Cue) {
	d.mu.Lock()
	if d.current != c {
		d.mu.Unlock()
		return
	}
	d.current = ""
	stop := Cue("")
	if d.playing == c && c.Looping() {
		stop = c
		d.playing = ""
	}
	d.mu.Unlock()

	if stop != "" {
		d.player.Stop(stop)
	}
}

// Cancel stops any in-flight playback and disarms the dispatcher; used
// when the session ends.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	stop := d.playing
	d.playing = ""
	d.current = ""
	d.mu.Unlock()

	if stop != "" {
		d.player.Stop(stop)
	}
}
