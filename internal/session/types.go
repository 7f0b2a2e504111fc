package session

import "time"

// State is the lifecycle position of one widget session.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
	StatePaused State = "paused"
	StateEnding State = "ending"
	StateEnded  State = "ended"
)

// Audible reports whether the state belongs to the audio-producing set that
// keeps the visualizer render loop running.
func (s State) Audible() bool {
	return s == StateActive || s == StatePaused
}

// Terminal reports whether the state can never be left.
func (s State) Terminal() bool { return s == StateEnded }

// Cause records what drove a transition.
type Cause string

const (
	CauseUser         Cause = "user"
	CauseTimeout      Cause = "timeout"
	CauseFault        Cause = "fault"
	CauseDisconnected Cause = "disconnected"
)

// Session is one bounded conversational engagement. It is mutated only by
// its Controller; everything else reads snapshots.
type Session struct {
	ID             string    `json:"session_id"`
	State          State     `json:"state"`
	Muted          bool      `json:"muted"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	EndCause       Cause     `json:"end_cause,omitempty"`
}

// Transition is one accepted state change, delivered to subscribers.
type Transition struct {
	SessionID string    `json:"session_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Cause     Cause     `json:"cause"`
	At        time.Time `json:"at"`
}

// CreateRequest defines payload for creating a new widget session.
type CreateRequest struct {
	WidgetID string `json:"widget_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID      string    `json:"session_id"`
	WidgetID       string    `json:"widget_id"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IdleBudgetMS   int64     `json:"idle_budget_ms"`
	WarningLeadMS  int64     `json:"warning_lead_ms"`
}
