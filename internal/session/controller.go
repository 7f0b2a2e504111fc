package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransitionHook observes accepted transitions. Hooks run synchronously on
// the transitioning goroutine and must not call back into the Controller.
type TransitionHook func(Transition)

// ActivityHook observes activity-clock resets (used to re-arm the timeout
// governor).
type ActivityHook func(at time.Time)

// Controller owns one Session's lifecycle. It is the single writer of the
// Session; illegal transitions are logged no-ops so duplicate UI events are
// tolerated rather than surfaced as errors.
type Controller struct {
	mu       sync.Mutex
	now      func() time.Time
	id       string
	sess     *Session
	state    State
	onChange []TransitionHook
	onActive []ActivityHook
}

// NewController returns a Controller in the idle state. now may be nil, in
// which case the wall clock is used.
func NewController(now func() time.Time) *Controller {
	return NewControllerWithID(uuid.NewString(), now)
}

// NewControllerWithID returns an idle Controller whose eventual Session
// will carry the given ID. The ID is fixed up front so the HTTP layer can
// hand it to the page before the websocket start control arrives.
func NewControllerWithID(id string, now func() time.Time) *Controller {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{now: now, id: id, state: StateIdle}
}

// ID returns the session identifier, fixed at construction.
func (c *Controller) ID() string { return c.id }

// OnTransition registers a hook for accepted transitions. Must be called
// before the first transition.
func (c *Controller) OnTransition(h TransitionHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, h)
}

// OnActivity registers a hook for activity-clock resets.
func (c *Controller) OnActivity(h ActivityHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onActive = append(c.onActive, h)
}

// Start creates a new Session and moves idle → active. Starting while a
// session is already active or paused is a no-op, which is what prevents a
// duplicate transport connection from a double-tapped start button.
func (c *Controller) Start() bool {
	c.mu.Lock()
	if c.state != StateIdle {
		c.logRejected("start", c.state)
		c.mu.Unlock()
		return false
	}
	now := c.now()
	c.sess = &Session{
		ID:             c.id,
		State:          StateActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	tr := c.commitLocked(StateIdle, StateActive, CauseUser, now)
	c.mu.Unlock()
	c.fire(tr, now)
	return true
}

// Pause suspends local listening indication without disconnecting.
func (c *Controller) Pause() bool {
	return c.transition("pause", StateActive, StatePaused, CauseUser)
}

// Resume returns a paused session to active.
func (c *Controller) Resume() bool {
	return c.transition("resume", StatePaused, StateActive, CauseUser)
}

// End moves an active or paused session to ending. cause distinguishes an
// explicit stop from a forced timeout or a fatal transport fault.
func (c *Controller) End(cause Cause) bool {
	c.mu.Lock()
	if c.state != StateActive && c.state != StatePaused {
		c.logRejected("end", c.state)
		c.mu.Unlock()
		return false
	}
	now := c.now()
	from := c.state
	c.sess.EndCause = cause
	tr := c.commitLocked(from, StateEnding, cause, now)
	c.mu.Unlock()
	c.fire(tr, now)
	return true
}

// Finish completes teardown, ending → ended. Called once the transport
// disconnect resolves (or immediately when disconnect is best-effort).
func (c *Controller) Finish() bool {
	c.mu.Lock()
	if c.state != StateEnding {
		c.logRejected("finish", c.state)
		c.mu.Unlock()
		return false
	}
	now := c.now()
	c.sess.EndedAt = now
	tr := c.commitLocked(StateEnding, StateEnded, CauseDisconnected, now)
	c.mu.Unlock()
	c.fire(tr, now)
	return true
}

// Mute silences outbound audio. Valid only while active or paused, and
// deliberately not an activity reset: staying muted must not dodge the
// idle budget.
func (c *Controller) Mute() bool { return c.setMuted(true) }

// Unmute restores outbound audio.
func (c *Controller) Unmute() bool { return c.setMuted(false) }

func (c *Controller) setMuted(muted bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive && c.state != StatePaused {
		op := "mute"
		if !muted {
			op = "unmute"
		}
		c.logRejected(op, c.state)
		return false
	}
	c.sess.Muted = muted
	return true
}

// ResetActivity marks explicit user activity without changing state.
func (c *Controller) ResetActivity() {
	c.mu.Lock()
	if c.state != StateActive && c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	now := c.now()
	c.sess.LastActivityAt = now
	hooks := append([]ActivityHook(nil), c.onActive...)
	c.mu.Unlock()
	for _, h := range hooks {
		h(now)
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Muted reports the session mute flag.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.Muted
}

// Elapsed returns time since the session started, zero before Start.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0
	}
	return c.now().Sub(c.sess.StartedAt)
}

// Snapshot returns a copy of the Session, or nil before Start.
func (c *Controller) Snapshot() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	cp := *c.sess
	return &cp
}

func (c *Controller) transition(op string, from, to State, cause Cause) bool {
	c.mu.Lock()
	if c.state != from {
		c.logRejected(op, c.state)
		c.mu.Unlock()
		return false
	}
	now := c.now()
	tr := c.commitLocked(from, to, cause, now)
	c.mu.Unlock()
	c.fire(tr, now)
	return true
}

// commitLocked applies an accepted transition. Every accepted transition
// resets the activity clock.
func (c *Controller) commitLocked(from, to State, cause Cause, now time.Time) Transition {
	c.state = to
	c.sess.State = to
	c.sess.LastActivityAt = now
	return Transition{
		SessionID: c.sess.ID,
		From:      from,
		To:        to,
		Cause:     cause,
		At:        now,
	}
}

func (c *Controller) fire(tr Transition, now time.Time) {
	c.mu.Lock()
	change := append([]TransitionHook(nil), c.onChange...)
	var active []ActivityHook
	if !tr.To.Terminal() {
		active = append(active, c.onActive...)
	}
	c.mu.Unlock()

	for _, h := range change {
		h(tr)
	}
	for _, h := range active {
		h(now)
	}
}

func (c *Controller) logRejected(op string, state State) {
	log.Printf("session %s: rejected %s in state %s", c.id, op, state)
}
