package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants exchanged with the
// widget page.
type MessageType string

const (
	// Client to server.
	TypeClientControl    MessageType = "client_control"
	TypeClientText       MessageType = "client_text"
	TypeClientAudioLevel MessageType = "client_audio_level"

	// Server to client.
	TypeSessionState MessageType = "session_state"
	TypeTranscript   MessageType = "transcript"
	TypeWarning      MessageType = "timeout_warning"
	TypeCue          MessageType = "audio_cue"
	TypeRenderFrame  MessageType = "render_frame"
	TypeAnnounce     MessageType = "announce"
	TypeErrorEvent   MessageType = "error_event"
)

// Control actions accepted inside a client_control payload.
const (
	ActionStart  = "start"
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionEnd    = "end"
	ActionMute   = "mute"
	ActionUnmute = "unmute"
	ActionExtend = "extend"

	// Cue mute is independent of the microphone mute: a user may turn
	// off sound cues while keeping the mic open, and vice versa.
	ActionCueMute   = "cue_mute"
	ActionCueUnmute = "cue_unmute"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// ClientAudioLevel carries the microphone level sampled by the page,
// normalized to [0,1]. High-rate, so it stays deliberately small.
type ClientAudioLevel struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Level     float64     `json:"level"`
}

type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	Cause     string      `json:"cause,omitempty"`
	Muted     bool        `json:"muted"`
	TSMs      int64       `json:"ts_ms"`
}

type TranscriptEntry struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
	Interim   bool        `json:"interim"`
	TSMs      int64       `json:"ts_ms"`
}

type TimeoutWarning struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	RemainingMS int64       `json:"remaining_ms"`
}

type AudioCue struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Cue       string      `json:"cue"`
	Looping   bool        `json:"looping"`
	Stop      bool        `json:"stop,omitempty"`
}

// RenderFrame wraps one visualizer frame. The frame payload is produced by
// the renderer and forwarded opaque to the page.
type RenderFrame struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Frame     json.RawMessage `json:"frame"`
}

type Announce struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func validAction(action string) bool {
	switch action {
	case ActionStart, ActionPause, ActionResume, ActionEnd,
		ActionMute, ActionUnmute, ActionExtend,
		ActionCueMute, ActionCueUnmute:
		return true
	}
	return false
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || !validAction(msg.Action) {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientAudioLevel:
		var msg ClientAudioLevel
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Level < 0 || msg.Level > 1 {
			return nil, errors.New("invalid client_audio_level")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
