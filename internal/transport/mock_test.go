package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aria-voice/aria/internal/faults"
)

func drainUntil(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed before match")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("no matching event within deadline")
		}
	}
}

func TestMockAdapterConnectEmitsStateSequence(t *testing.T) {
	a := NewMockAdapter()
	if err := a.Connect(context.Background(), ConnectConfig{SessionID: "s1"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	first := <-a.Events()
	second := <-a.Events()
	if first.State != ConnConnecting || second.State != ConnConnected {
		t.Fatalf("states = %q, %q, want connecting then connected", first.State, second.State)
	}

	// Reconnect while connected is idempotent.
	if err := a.Connect(context.Background(), ConnectConfig{SessionID: "s1"}); err != nil {
		t.Fatalf("repeat Connect() error = %v", err)
	}
	select {
	case ev := <-a.Events():
		t.Fatalf("repeat connect emitted %+v", ev)
	default:
	}
}

func TestMockAdapterSendTextEchoes(t *testing.T) {
	a := NewMockAdapter()
	ctx := context.Background()
	_ = a.Connect(ctx, ConnectConfig{SessionID: "s1"})

	if err := a.SendText(ctx, "hello there"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	sawAudio := false
	msg := drainUntil(t, a.Events(), func(ev Event) bool {
		if ev.Type == EventAudioLevel {
			sawAudio = true
		}
		return ev.Type == EventMessage
	})
	if !sawAudio {
		t.Fatalf("no audio-level frames before the reply")
	}
	if !strings.Contains(msg.Message.Content, "hello there") {
		t.Fatalf("reply = %q, want echo of input", msg.Message.Content)
	}
}

func TestMockAdapterSendTextRequiresConnection(t *testing.T) {
	a := NewMockAdapter()
	err := a.SendText(context.Background(), "hi")
	if err == nil {
		t.Fatalf("SendText() before connect should fail")
	}
	if faults.KindOf(err) != faults.KindSendFailure {
		t.Fatalf("fault kind = %q, want %q", faults.KindOf(err), faults.KindSendFailure)
	}
}

func TestMockAdapterDisconnectClosesStream(t *testing.T) {
	a := NewMockAdapter()
	ctx := context.Background()
	_ = a.Connect(ctx, ConnectConfig{SessionID: "s1"})
	if err := a.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	sawDisconnected := false
	for ev := range a.Events() {
		if ev.Type == EventStateChange && ev.State == ConnDisconnected {
			sawDisconnected = true
		}
	}
	if !sawDisconnected {
		t.Fatalf("disconnected state never emitted")
	}

	if err := a.Disconnect(ctx); err != nil {
		t.Fatalf("repeat Disconnect() error = %v", err)
	}
}

func TestMockAdapterFailWithFatal(t *testing.T) {
	a := NewMockAdapter()
	_ = a.Connect(context.Background(), ConnectConfig{SessionID: "s1"})
	a.FailWith(faults.KindTransportError, "upstream gone", true)

	ev := drainUntil(t, a.Events(), func(ev Event) bool { return ev.Type == EventError })
	if !ev.Fatal {
		t.Fatalf("error event Fatal = false, want true")
	}
	state := drainUntil(t, a.Events(), func(ev Event) bool { return ev.Type == EventStateChange })
	if state.State != ConnFailed {
		t.Fatalf("state after fatal = %q, want %q", state.State, ConnFailed)
	}
}

func TestNewAdapterSelection(t *testing.T) {
	if _, err := NewAdapter("ws", "", ""); err == nil {
		t.Fatalf("ws mode without URL should error")
	}
	a, err := NewAdapter("auto", "", "")
	if err != nil {
		t.Fatalf("auto mode error = %v", err)
	}
	if _, ok := a.(*MockAdapter); !ok {
		t.Fatalf("auto without URL = %T, want *MockAdapter", a)
	}
	a, err = NewAdapter("auto", "wss://backend.example", "")
	if err != nil {
		t.Fatalf("auto mode with URL error = %v", err)
	}
	if _, ok := a.(*WSAdapter); !ok {
		t.Fatalf("auto with URL = %T, want *WSAdapter", a)
	}
	if _, err := NewAdapter("carrier-pigeon", "", ""); err == nil {
		t.Fatalf("invalid mode should error")
	}
}
