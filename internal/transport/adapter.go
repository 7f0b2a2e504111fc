// Package transport is the boundary to the remote conversational backend.
// The backend itself is an external collaborator; this package defines the
// adapter contract the session core consumes, a websocket implementation,
// and a deterministic mock for dev and tests.
package transport

import (
	"context"

	"github.com/aria-voice/aria/internal/faults"
	"github.com/aria-voice/aria/internal/transcript"
	"github.com/aria-voice/aria/internal/visual"
)

// ConnState is the adapter's connection lifecycle, independent of the
// session state machine.
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
)

// EventType identifies adapter event variants.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventMessage     EventType = "message"
	EventAudioLevel  EventType = "audio_level"
	EventError       EventType = "error"
)

// Event is one occurrence on the adapter's stream. Only the field matching
// Type is populated.
type Event struct {
	Type       EventType
	State      ConnState
	Message    *transcript.Message
	AudioFrame *visual.AudioFrame
	Fault      *faults.Fault
	// Fatal marks an error event the session cannot survive; the engine
	// moves to ending on it.
	Fatal bool
}

// ConnectConfig carries per-session connection parameters.
type ConnectConfig struct {
	SessionID string
	WidgetID  string
}

// Adapter exposes the backend's imperative surface plus its event stream.
// Connect may return before the connection completes; callers treat the
// session transition as optimistic and handle a later error event.
type Adapter interface {
	Connect(ctx context.Context, cfg ConnectConfig) error
	Disconnect(ctx context.Context) error
	Mute()
	Unmute()
	SendText(ctx context.Context, text string) error
	Events() <-chan Event
}
