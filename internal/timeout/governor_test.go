package timeout

import (
	"sync"
	"testing"
	"time"

	"github.com/aria-voice/aria/internal/session"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	clk      *fakeClock
	gov      *Governor
	state    session.State
	muted    bool
	warnings []time.Duration
	timeouts int
}

func newHarness(policy Policy) *harness {
	h := &harness{clk: newFakeClock(), state: session.StateActive}
	h.gov = NewGovernor(policy, func() (session.State, bool) { return h.state, h.muted }, h.clk.now)
	h.gov.OnWarning(func(remaining time.Duration) { h.warnings = append(h.warnings, remaining) })
	h.gov.OnTimeout(func() {
		h.timeouts++
		h.state = session.StateEnded
	})
	return h
}

func testPolicy() Policy {
	return Policy{
		IdleBudget:      5 * time.Minute,
		WarningLead:     30 * time.Second,
		Extension:       5 * time.Minute,
		MutedIdleCounts: true,
	}
}

func TestGovernorWarningThenTimeoutScenario(t *testing.T) {
	h := newHarness(testPolicy())
	h.gov.Reset(h.clk.now())

	// 4m45s of silence: the warning edge is at 4m30s.
	h.clk.advance(4*time.Minute + 30*time.Second)
	h.gov.check()
	if len(h.warnings) != 1 {
		t.Fatalf("warnings = %d, want 1 at deadline-lead", len(h.warnings))
	}
	if h.warnings[0] != 30*time.Second {
		t.Fatalf("warning remaining = %s, want 30s", h.warnings[0])
	}

	// Re-checking before the deadline must not repeat the warning.
	h.clk.advance(15 * time.Second)
	h.gov.check()
	if len(h.warnings) != 1 {
		t.Fatalf("warnings = %d, want still 1", len(h.warnings))
	}

	h.clk.advance(15 * time.Second)
	h.gov.check()
	if h.timeouts != 1 {
		t.Fatalf("timeouts = %d, want 1 at 5m00s", h.timeouts)
	}

	// The governor stops after firing until the next reset.
	h.clk.advance(time.Hour)
	h.gov.check()
	if h.timeouts != 1 {
		t.Fatalf("timeouts = %d, want exactly 1 per deadline", h.timeouts)
	}
}

func TestGovernorExtendDefeatsImminentTimeout(t *testing.T) {
	h := newHarness(testPolicy())
	start := h.clk.now()
	h.gov.Reset(start)
	originalDeadline := h.gov.Deadline()

	h.clk.advance(4*time.Minute + 40*time.Second)
	h.gov.check()
	if len(h.warnings) != 1 {
		t.Fatalf("warnings = %d, want 1 before extension", len(h.warnings))
	}

	got := h.gov.Extend(5 * time.Minute)
	if want := originalDeadline.Add(5 * time.Minute); !got.Equal(want) {
		t.Fatalf("deadline after extend = %v, want %v", got, want)
	}

	// No timeout at the original 5m00s mark.
	h.clk.advance(20 * time.Second)
	h.gov.check()
	if h.timeouts != 0 {
		t.Fatalf("timeouts = %d, want 0 after extension", h.timeouts)
	}

	// The warning latch is cleared, so a fresh warning fires against the
	// new deadline.
	h.clk.advance(4*time.Minute + 40*time.Second)
	h.gov.check()
	if len(h.warnings) != 2 {
		t.Fatalf("warnings = %d, want 2 (one per deadline)", len(h.warnings))
	}

	h.clk.advance(time.Minute)
	h.gov.check()
	if h.timeouts != 1 {
		t.Fatalf("timeouts = %d, want 1 at the extended deadline", h.timeouts)
	}
}

func TestGovernorNeverFiresAfterSessionEnded(t *testing.T) {
	h := newHarness(testPolicy())
	h.gov.Reset(h.clk.now())

	h.clk.advance(10 * time.Minute)
	h.state = session.StateEnded
	h.gov.check()

	if h.timeouts != 0 || len(h.warnings) != 0 {
		t.Fatalf("timeouts = %d, warnings = %d, want 0/0 after independent end", h.timeouts, len(h.warnings))
	}
}

func TestGovernorResetClearsWarningLatch(t *testing.T) {
	h := newHarness(testPolicy())
	h.gov.Reset(h.clk.now())

	h.clk.advance(4*time.Minute + 45*time.Second)
	h.gov.check()
	if len(h.warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(h.warnings))
	}

	// Activity resets the deadline and re-arms the warning.
	h.gov.Reset(h.clk.now())
	h.clk.advance(4*time.Minute + 45*time.Second)
	h.gov.check()
	if len(h.warnings) != 2 {
		t.Fatalf("warnings = %d, want 2 after activity reset", len(h.warnings))
	}
}

func TestGovernorMutedIdleExemption(t *testing.T) {
	policy := testPolicy()
	policy.MutedIdleCounts = false
	h := newHarness(policy)
	h.gov.Reset(h.clk.now())
	h.muted = true

	h.clk.advance(6 * time.Minute)
	h.gov.check()
	if h.timeouts != 0 {
		t.Fatalf("timeouts = %d, want 0 while muted under exemption", h.timeouts)
	}

	// Unmuting resumes the budget against the refreshed deadline.
	h.muted = false
	h.clk.advance(6 * time.Minute)
	h.gov.check()
	if h.timeouts != 1 {
		t.Fatalf("timeouts = %d, want 1 once unmuted idle exceeds the budget", h.timeouts)
	}
}

func TestGovernorStopCancelsPendingSignals(t *testing.T) {
	h := newHarness(testPolicy())
	h.gov.Reset(h.clk.now())
	h.gov.Stop()

	h.clk.advance(time.Hour)
	h.gov.check()
	if h.timeouts != 0 || len(h.warnings) != 0 {
		t.Fatalf("signals after Stop: timeouts = %d, warnings = %d", h.timeouts, len(h.warnings))
	}

	// Reset after Stop stays inert.
	h.gov.Reset(h.clk.now())
	h.gov.check()
	if h.gov.Deadline() != (time.Time{}) {
		t.Fatalf("deadline after stopped reset = %v, want zero", h.gov.Deadline())
	}
}

func TestGovernorExtendBeforeResetIsNoOp(t *testing.T) {
	h := newHarness(testPolicy())
	if got := h.gov.Extend(time.Minute); !got.IsZero() {
		t.Fatalf("Extend() before reset = %v, want zero deadline", got)
	}
}

func TestGovernorRealTimerFires(t *testing.T) {
	done := make(chan struct{})
	gov := NewGovernor(Policy{
		IdleBudget:      40 * time.Millisecond,
		WarningLead:     10 * time.Millisecond,
		Extension:       time.Minute,
		MutedIdleCounts: true,
	}, func() (session.State, bool) { return session.StateActive, false }, nil)
	defer gov.Stop()

	var once sync.Once
	gov.OnTimeout(func() { once.Do(func() { close(done) }) })
	gov.Reset(time.Now().UTC())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("forced timeout did not fire")
	}
}
