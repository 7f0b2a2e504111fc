package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aria-voice/aria/internal/transcript"
)

// upstreamStub accepts websocket dials and hands the server side of each
// connection to the test.
type upstreamStub struct {
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func newUpstreamStub() *upstreamStub {
	return &upstreamStub{conns: make(chan *websocket.Conn, 4)}
}

func (s *upstreamStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.conns <- conn
}

func dialStub(t *testing.T, stub *upstreamStub) (*WSAdapter, *websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(stub)

	a := NewWSAdapter(WSConfig{BaseURL: "ws" + strings.TrimPrefix(ts.URL, "http")})
	if err := a.Connect(context.Background(), ConnectConfig{SessionID: "s1", WidgetID: "w1"}); err != nil {
		ts.Close()
		t.Fatalf("Connect() error = %v", err)
	}

	var server *websocket.Conn
	select {
	case server = <-stub.conns:
	case <-time.After(2 * time.Second):
		ts.Close()
		t.Fatalf("upstream never saw the dial")
	}

	cleanup := func() {
		_ = a.Disconnect(context.Background())
		_ = server.Close()
		ts.Close()
	}
	return a, server, cleanup
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("events channel closed early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for adapter event")
	}
	return Event{}
}

func TestWSAdapterConnectAndMessage(t *testing.T) {
	a, server, cleanup := dialStub(t, newUpstreamStub())
	defer cleanup()

	if ev := nextEvent(t, a.Events()); ev.State != ConnConnecting {
		t.Fatalf("first event state = %s, want %s", ev.State, ConnConnecting)
	}
	if ev := nextEvent(t, a.Events()); ev.State != ConnConnected {
		t.Fatalf("second event state = %s, want %s", ev.State, ConnConnected)
	}

	if err := server.WriteJSON(upstreamEnvelope{Type: "message", Role: "assistant", Content: "hi there"}); err != nil {
		t.Fatalf("upstream write error = %v", err)
	}
	ev := nextEvent(t, a.Events())
	if ev.Type != EventMessage || ev.Message == nil {
		t.Fatalf("event = %+v, want a message event", ev)
	}
	if ev.Message.Role != transcript.RoleAssistant || ev.Message.Content != "hi there" {
		t.Fatalf("message = %+v, want assistant %q", ev.Message, "hi there")
	}

	if err := a.SendText(context.Background(), "ping"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	var env upstreamEnvelope
	if err := server.ReadJSON(&env); err != nil {
		t.Fatalf("upstream read error = %v", err)
	}
	if env.Type != "text" || env.Content != "ping" {
		t.Fatalf("upstream saw %+v, want text %q", env, "ping")
	}
}

func TestWSAdapterDisconnectRacesEmit(t *testing.T) {
	a, server, cleanup := dialStub(t, newUpstreamStub())
	defer cleanup()

	// Stream frames while the adapter shuts down underneath them.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; i < 200; i++ {
			if err := server.WriteJSON(upstreamEnvelope{Type: "audio_level", Volume: 0.4}); err != nil {
				return
			}
		}
	}()

	if err := a.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := a.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}
	// Late emits drop instead of sending on a closed channel.
	a.emit(Event{Type: EventAudioLevel})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-a.Events():
			if !ok {
				<-writerDone
				return
			}
		case <-deadline:
			t.Fatalf("events channel never closed after Disconnect")
		}
	}
}

func TestWSAdapterSendTextRequiresConnection(t *testing.T) {
	a := NewWSAdapter(WSConfig{BaseURL: "ws://127.0.0.1:0"})
	if err := a.SendText(context.Background(), "hello"); err == nil {
		t.Fatalf("SendText() before Connect = nil, want error")
	}
	if err := a.SendText(context.Background(), "  "); err == nil {
		t.Fatalf("SendText() with blank text = nil, want error")
	}
}
