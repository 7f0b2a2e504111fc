// Package timeout enforces the hard idle budget that bounds runaway
// backend cost: a session left alone past its budget is forcibly ended,
// with one audible warning ahead of the deadline.
package timeout

import (
	"sync"
	"time"

	"github.com/aria-voice/aria/internal/session"
)

// Policy configures the idle budget. It is not mutated at runtime except
// through Extend.
type Policy struct {
	IdleBudget  time.Duration
	WarningLead time.Duration
	Extension   time.Duration

	// MutedIdleCounts controls whether time spent muted still burns the
	// idle budget. Defaults to true so a user cannot mute indefinitely to
	// dodge the budget while staying silent.
	MutedIdleCounts bool
}

// DefaultPolicy matches the widget's shipped budget: five minutes idle,
// thirty seconds of warning, five-minute extensions.
func DefaultPolicy() Policy {
	return Policy{
		IdleBudget:      5 * time.Minute,
		WarningLead:     30 * time.Second,
		Extension:       5 * time.Minute,
		MutedIdleCounts: true,
	}
}

// StateFn reports the current session state and mute flag. The governor
// re-checks it before every signal so a timer queued behind a user action
// can never fire against a session the user already ended.
type StateFn func() (state session.State, muted bool)

// Governor tracks last activity against the idle budget and emits a
// warning and then a forced timeout, each at most once per deadline.
type Governor struct {
	mu      sync.Mutex
	policy  Policy
	now     func() time.Time
	stateFn StateFn

	deadline time.Time
	warned   bool
	fired    bool
	stopped  bool
	timer    *time.Timer

	onWarning func(remaining time.Duration)
	onTimeout func()
}

// NewGovernor builds a Governor. It is inert until the first Reset. now
// may be nil for the wall clock.
func NewGovernor(policy Policy, stateFn StateFn, now func() time.Time) *Governor {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if policy.IdleBudget <= 0 {
		policy.IdleBudget = DefaultPolicy().IdleBudget
	}
	if policy.WarningLead <= 0 || policy.WarningLead >= policy.IdleBudget {
		policy.WarningLead = DefaultPolicy().WarningLead
	}
	if policy.Extension <= 0 {
		policy.Extension = DefaultPolicy().Extension
	}
	return &Governor{policy: policy, stateFn: stateFn, now: now}
}

// OnWarning registers the warning callback. Register before the first
// Reset.
func (g *Governor) OnWarning(fn func(remaining time.Duration)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onWarning = fn
}

// OnTimeout registers the forced-timeout callback. Register before the
// first Reset.
func (g *Governor) OnTimeout(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTimeout = fn
}

// Policy returns the configured budget.
func (g *Governor) Policy() Policy {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy
}

// Reset recomputes the deadline from an activity timestamp, clears the
// warning latch, and re-arms the check.
func (g *Governor) Reset(at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	if at.IsZero() {
		at = g.now()
	}
	g.deadline = at.Add(g.policy.IdleBudget)
	g.warned = false
	g.fired = false
	g.rearmLocked()
}

// Extend pushes the deadline out by d (the policy extension when d <= 0)
// and clears the warning latch so a fresh warning can fire against the new
// deadline. Returns the new deadline.
func (g *Governor) Extend(d time.Duration) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.fired || g.deadline.IsZero() {
		return g.deadline
	}
	if d <= 0 {
		d = g.policy.Extension
	}
	g.deadline = g.deadline.Add(d)
	g.warned = false
	g.rearmLocked()
	return g.deadline
}

// Deadline returns the current forced-timeout deadline, zero before the
// first Reset.
func (g *Governor) Deadline() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deadline
}

// Remaining returns time left before the forced timeout.
func (g *Governor) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deadline.IsZero() {
		return 0
	}
	return g.deadline.Sub(g.now())
}

// Stop cancels the pending check permanently. Idempotent; any callback
// racing with Stop re-checks state and becomes a no-op.
func (g *Governor) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// rearmLocked schedules the next check: the warning edge first, then the
// deadline itself.
func (g *Governor) rearmLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if g.stopped || g.fired || g.deadline.IsZero() {
		return
	}
	next := g.deadline
	if !g.warned {
		next = g.deadline.Add(-g.policy.WarningLead)
	}
	wait := next.Sub(g.now())
	if wait < 0 {
		wait = 0
	}
	g.timer = time.AfterFunc(wait, g.check)
}

// check is the single evaluation point for both signals. It runs on the
// timer goroutine and again re-arms itself until the deadline resolves.
func (g *Governor) check() {
	g.mu.Lock()
	if g.stopped || g.fired || g.deadline.IsZero() {
		g.mu.Unlock()
		return
	}

	// User actions outrank queued timers: a session that already left the
	// audible set gets no further signals from this governor.
	state, muted := session.StateIdle, false
	if g.stateFn != nil {
		state, muted = g.stateFn()
	}
	if !state.Audible() {
		g.mu.Unlock()
		return
	}

	now := g.now()
	remaining := g.deadline.Sub(now)

	if remaining <= 0 {
		if muted && !g.policy.MutedIdleCounts {
			// Muted idle time is configured not to burn the budget; grant a
			// fresh budget instead of firing.
			g.deadline = now.Add(g.policy.IdleBudget)
			g.warned = false
			g.rearmLocked()
			g.mu.Unlock()
			return
		}
		g.fired = true
		fn := g.onTimeout
		if g.timer != nil {
			g.timer.Stop()
			g.timer = nil
		}
		g.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}

	var warnFn func(time.Duration)
	if remaining <= g.policy.WarningLead && !g.warned {
		g.warned = true
		warnFn = g.onWarning
	}
	g.rearmLocked()
	g.mu.Unlock()

	if warnFn != nil {
		warnFn(remaining)
	}
}
