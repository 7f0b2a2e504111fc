package transcript

import "time"

// Role attributes a message to its speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one utterance or text entry. Interim messages are partial
// transcripts that stay mutable in place until finalized; everything else
// is immutable once appended.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Interim    bool      `json:"interim,omitempty"`
}
