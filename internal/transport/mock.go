package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aria-voice/aria/internal/faults"
	"github.com/aria-voice/aria/internal/transcript"
	"github.com/aria-voice/aria/internal/visual"
)

// MockAdapter is a local fallback backend used when no upstream is
// configured. It echoes text turns and emits a synthetic audio-level
// stream while "speaking", so the whole widget pipeline runs end to end
// offline.
type MockAdapter struct {
	mu        sync.Mutex
	events    chan Event
	connected bool
	muted     bool
	closed    bool
	synth     *visual.Synth
	replyWait time.Duration
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		events:    make(chan Event, 256),
		synth:     visual.NewSynth(64, 128),
		replyWait: 30 * time.Millisecond,
	}
}

func (a *MockAdapter) Connect(_ context.Context, _ ConnectConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return faults.New(faults.KindTransportError, "mock", "adapter closed")
	}
	if a.connected {
		return nil
	}
	a.connected = true
	a.emitLocked(Event{Type: EventStateChange, State: ConnConnecting})
	a.emitLocked(Event{Type: EventStateChange, State: ConnConnected})
	return nil
}

func (a *MockAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.closed {
		return nil
	}
	a.connected = false
	a.emitLocked(Event{Type: EventStateChange, State: ConnDisconnected})
	a.closed = true
	close(a.events)
	return nil
}

func (a *MockAdapter) Mute() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = true
}

func (a *MockAdapter) Unmute() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = false
}

// SendText echoes the turn back as an assistant message after a short
// delay, preceded by a burst of audio-level frames standing in for the
// spoken reply.
func (a *MockAdapter) SendText(_ context.Context, text string) error {
	a.mu.Lock()
	if !a.connected || a.closed {
		a.mu.Unlock()
		return faults.New(faults.KindSendFailure, "mock", "not connected")
	}
	wait := a.replyWait
	a.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return faults.New(faults.KindSendFailure, "mock", "empty text")
	}

	go func() {
		time.Sleep(wait)

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return
		}
		for i := 0; i < 5; i++ {
			frame := a.synth.Next()
			a.emitLocked(Event{Type: EventAudioLevel, AudioFrame: &frame})
		}
		a.emitLocked(Event{Type: EventMessage, Message: &transcript.Message{
			Role:       transcript.RoleAssistant,
			Content:    fmt.Sprintf("You said: %s", text),
			Confidence: 0.9,
		}})
	}()
	return nil
}

func (a *MockAdapter) Events() <-chan Event { return a.events }

// FailWith injects a backend error event, for tests and demos.
func (a *MockAdapter) FailWith(kind faults.Kind, detail string, fatal bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.emitLocked(Event{
		Type:  EventError,
		Fault: faults.New(kind, "mock", detail),
		Fatal: fatal,
	})
	if fatal {
		a.emitLocked(Event{Type: EventStateChange, State: ConnFailed})
	}
}

// EmitAudioLevel injects one synthetic caller-side frame, for tests.
func (a *MockAdapter) EmitAudioLevel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	frame := a.synth.Next()
	a.emitLocked(Event{Type: EventAudioLevel, AudioFrame: &frame})
}

func (a *MockAdapter) emitLocked(ev Event) {
	select {
	case a.events <- ev:
	default:
	}
}
