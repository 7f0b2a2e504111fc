package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aria-voice/aria/internal/faults"
	"github.com/aria-voice/aria/internal/transcript"
	"github.com/aria-voice/aria/internal/visual"
)

// WSConfig configures the upstream websocket adapter.
type WSConfig struct {
	BaseURL       string
	AuthToken     string
	DialTimeout   time.Duration
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	MaxReconnects int
	WriteDeadline time.Duration
	ReadDeadline  time.Duration
}

func (c WSConfig) withDefaults() WSConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 250 * time.Millisecond
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 8 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = 10 * time.Second
	}
	if c.ReadDeadline <= 0 {
		c.ReadDeadline = 120 * time.Second
	}
	return c
}

// upstreamEnvelope is the backend's wire vocabulary. The protocol itself
// is owned upstream; this adapter only maps it onto adapter events.
type upstreamEnvelope struct {
	Type       string    `json:"type"`
	State      string    `json:"state,omitempty"`
	Role       string    `json:"role,omitempty"`
	Content    string    `json:"content,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Interim    bool      `json:"interim,omitempty"`
	Bins       []float64 `json:"frequency_bins,omitempty"`
	Samples    []float64 `json:"time_domain,omitempty"`
	Volume     float64   `json:"volume,omitempty"`
	Code       string    `json:"code,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Fatal      bool      `json:"fatal,omitempty"`
	Action     string    `json:"action,omitempty"`
}

// WSAdapter speaks the backend protocol over gorilla/websocket, with a
// capped-backoff reconnect for retryable drops.
type WSAdapter struct {
	cfg    WSConfig
	events chan Event

	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	sessID   string
	widgetID string
	muted    bool
	closed   bool
	cancel   context.CancelFunc
}

func NewWSAdapter(cfg WSConfig) *WSAdapter {
	return &WSAdapter{
		cfg:    cfg.withDefaults(),
		events: make(chan Event, 256),
	}
}

func (a *WSAdapter) Connect(ctx context.Context, cfg ConnectConfig) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return faults.New(faults.KindTransportError, "upstream", "adapter closed")
	}
	if a.conn != nil {
		a.mu.Unlock()
		return nil
	}
	a.sessID = cfg.SessionID
	a.widgetID = cfg.WidgetID
	a.mu.Unlock()

	a.emit(Event{Type: EventStateChange, State: ConnConnecting})

	conn, err := a.dial(ctx)
	if err != nil {
		a.emit(Event{Type: EventStateChange, State: ConnFailed})
		a.emit(Event{Type: EventError, Fault: faults.Wrap(faults.KindTransportError, "upstream", err), Fatal: true})
		return faults.Wrap(faults.KindTransportError, "upstream", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.conn = conn
	a.cancel = cancel
	a.mu.Unlock()

	a.emit(Event{Type: EventStateChange, State: ConnConnected})
	go a.readLoop(runCtx, conn)
	return nil
}

func (a *WSAdapter) dial(ctx context.Context) (*websocket.Conn, error) {
	a.mu.Lock()
	sessID, widgetID := a.sessID, a.widgetID
	a.mu.Unlock()

	u, err := url.Parse(strings.TrimRight(a.cfg.BaseURL, "/") + "/v1/conversation/ws")
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessID)
	if widgetID != "" {
		q.Set("widget_id", widgetID)
	}
	if a.cfg.AuthToken != "" {
		q.Set("token", a.cfg.AuthToken)
	}
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial upstream websocket: %w", err)
	}
	return conn, nil
}

func (a *WSAdapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	attempt := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || a.isClosed() {
				return
			}
			code := websocket.CloseGoingAway
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			if !faults.IsRetryableCloseCode(code) || attempt >= a.cfg.MaxReconnects {
				a.emit(Event{Type: EventStateChange, State: ConnFailed})
				a.emit(Event{Type: EventError, Fault: faults.Wrap(faults.KindTransportError, "upstream", err), Fatal: true})
				return
			}

			attempt++
			a.emit(Event{Type: EventStateChange, State: ConnReconnecting})
			wait := faults.ExponentialBackoff(attempt, a.cfg.ReconnectBase, a.cfg.ReconnectCap)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			next, dialErr := a.dial(ctx)
			if dialErr != nil {
				a.emit(Event{Type: EventError, Fault: faults.Wrap(faults.KindTransportError, "upstream", dialErr), Fatal: false})
				continue
			}
			a.mu.Lock()
			a.conn = next
			a.mu.Unlock()
			conn = next
			a.emit(Event{Type: EventStateChange, State: ConnConnected})
			a.resendMuteState()
			continue
		}
		attempt = 0

		var env upstreamEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("upstream: dropping undecodable frame: %v", err)
			continue
		}
		a.dispatch(env)
	}
}

func (a *WSAdapter) dispatch(env upstreamEnvelope) {
	switch env.Type {
	case "message":
		role := transcript.Role(env.Role)
		if role != transcript.RoleUser && role != transcript.RoleAssistant && role != transcript.RoleSystem {
			role = transcript.RoleAssistant
		}
		a.emit(Event{Type: EventMessage, Message: &transcript.Message{
			Role:       role,
			Content:    env.Content,
			Confidence: env.Confidence,
			DurationMS: env.DurationMS,
			Interim:    env.Interim,
		}})
	case "audio_level":
		a.emit(Event{Type: EventAudioLevel, AudioFrame: &visual.AudioFrame{
			FrequencyBins: env.Bins,
			TimeDomain:    env.Samples,
			Volume:        env.Volume,
		}})
	case "error":
		kind := faults.KindTransportError
		switch env.Code {
		case string(faults.KindPermissionDenied):
			kind = faults.KindPermissionDenied
		case string(faults.KindSendFailure):
			kind = faults.KindSendFailure
		}
		a.emit(Event{Type: EventError, Fault: faults.New(kind, "upstream", env.Detail), Fatal: env.Fatal})
	case "state":
		switch ConnState(env.State) {
		case ConnConnecting, ConnConnected, ConnReconnecting, ConnDisconnected, ConnFailed:
			a.emit(Event{Type: EventStateChange, State: ConnState(env.State)})
		}
	default:
		log.Printf("upstream: ignoring frame type %q", env.Type)
	}
}

// emit delivers one adapter event without blocking. Events are dropped
// once the adapter is closed or the buffer is full; a slow consumer must
// never stall the read loop.
func (a *WSAdapter) emit(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emitLocked(ev)
}

func (a *WSAdapter) emitLocked(ev Event) {
	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
	}
}

func (a *WSAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	conn := a.conn
	cancel := a.cancel
	a.conn = nil
	// The disconnected event, the closed flag, and the channel close
	// commit under one lock hold so a concurrent emit either lands
	// before the close or sees closed and drops.
	a.emitLocked(Event{Type: EventStateChange, State: ConnDisconnected})
	a.closed = true
	close(a.events)
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		a.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(time.Second))
		a.writeMu.Unlock()
		_ = conn.Close()
	}
	return nil
}

func (a *WSAdapter) Mute() {
	a.mu.Lock()
	a.muted = true
	a.mu.Unlock()
	_ = a.writeJSON(upstreamEnvelope{Type: "control", Action: "mute"})
}

func (a *WSAdapter) Unmute() {
	a.mu.Lock()
	a.muted = false
	a.mu.Unlock()
	_ = a.writeJSON(upstreamEnvelope{Type: "control", Action: "unmute"})
}

// resendMuteState reasserts mute after a reconnect so the fresh upstream
// connection matches local state.
func (a *WSAdapter) resendMuteState() {
	a.mu.Lock()
	muted := a.muted
	a.mu.Unlock()
	action := "unmute"
	if muted {
		action = "mute"
	}
	_ = a.writeJSON(upstreamEnvelope{Type: "control", Action: action})
}

func (a *WSAdapter) SendText(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return faults.New(faults.KindSendFailure, "upstream", "empty text")
	}
	if err := a.writeJSON(upstreamEnvelope{Type: "text", Content: text}); err != nil {
		return faults.Wrap(faults.KindSendFailure, "upstream", err)
	}
	return nil
}

func (a *WSAdapter) Events() <-chan Event { return a.events }

func (a *WSAdapter) writeJSON(payload upstreamEnvelope) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return faults.New(faults.KindTransportError, "upstream", "not connected")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteDeadline))
	return conn.WriteJSON(payload)
}

func (a *WSAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// NewAdapter selects the websocket adapter when an upstream is configured,
// otherwise the mock, matching the mode string (ws|mock|auto).
func NewAdapter(mode, baseURL, authToken string) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "ws":
		if strings.TrimSpace(baseURL) == "" {
			return nil, fmt.Errorf("TRANSPORT_MODE=ws requires TRANSPORT_UPSTREAM_URL")
		}
		return NewWSAdapter(WSConfig{BaseURL: baseURL, AuthToken: authToken}), nil
	case "mock":
		return NewMockAdapter(), nil
	case "", "auto":
		if strings.TrimSpace(baseURL) != "" {
			return NewWSAdapter(WSConfig{BaseURL: baseURL, AuthToken: authToken}), nil
		}
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("invalid transport mode %q (expected ws|mock|auto)", mode)
	}
}
