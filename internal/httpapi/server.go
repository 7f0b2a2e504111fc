package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aria-voice/aria/internal/config"
	"github.com/aria-voice/aria/internal/events"
	"github.com/aria-voice/aria/internal/host"
	"github.com/aria-voice/aria/internal/observability"
	"github.com/aria-voice/aria/internal/protocol"
	"github.com/aria-voice/aria/internal/session"
	"github.com/aria-voice/aria/internal/timeout"
	"github.com/aria-voice/aria/internal/transcript"
	"github.com/aria-voice/aria/internal/transport"
	"github.com/aria-voice/aria/internal/visual"
	"github.com/aria-voice/aria/internal/widget"
)

// AdapterFactory builds one transport adapter per websocket connection.
type AdapterFactory func() (transport.Adapter, error)

type Server struct {
	cfg        config.Config
	registry   *session.Registry
	bus        *events.Bus
	metrics    *observability.Metrics
	store      transcript.Store
	newAdapter AdapterFactory
	upgrader   websocket.Upgrader
	static     http.Handler

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession is the server-side state shared between the websocket engine
// and the transcript endpoints.
type liveSession struct {
	widgetID  string
	log       *transcript.Log
	connected bool
}

func New(cfg config.Config, registry *session.Registry, bus *events.Bus, store transcript.Store, metrics *observability.Metrics, newAdapter AdapterFactory) *Server {
	s := &Server{
		cfg:        cfg,
		registry:   registry,
		bus:        bus,
		metrics:    metrics,
		store:      store,
		newAdapter: newAdapter,
		static:     newStaticHandler(),
		live:       make(map[string]*liveSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from
				// the same origin, so another site cannot drive a widget
				// session on the user's behalf.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	registry.SetEvictHook(s.dropLive)
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/demo/", http.StatusTemporaryRedirect)
	})
	r.Get("/demo", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/demo/", http.StatusTemporaryRedirect)
	})
	r.Handle("/demo/*", http.StripPrefix("/demo/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/widget/session", s.handleCreateSession)
	r.Post("/v1/widget/session/{id}/end", s.handleEndSession)
	r.Get("/v1/widget/session/ws", s.handleSessionWS)
	r.Get("/v1/widget/session/{id}/transcript", s.handleTranscript)
	r.Get("/v1/widget/session/{id}/transcript/search", s.handleTranscriptSearch)
	r.Get("/v1/widget/session/{id}/transcript/export", s.handleTranscriptExport)
	r.Get("/v1/cues/{name}", s.handleCueAsset)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"transport_mode": s.cfg.TransportMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"archive_enabled": s.store != nil,
		"live_sessions":   s.registry.LiveCount(),
		"transport_mode":  s.cfg.TransportMode,
		"redact_pii":      s.cfg.RedactPII,
		"idle_budget_ms":  s.cfg.IdleBudget.Milliseconds(),
		"warning_lead_ms": s.cfg.WarningLead.Milliseconds(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.WidgetID) == "" {
		req.WidgetID = "default"
	}

	ctrl, reused := s.registry.Acquire(req.WidgetID, nil)
	s.ensureLive(ctrl.ID(), req.WidgetID)

	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.registry.LiveCount()))
	}

	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	snap := ctrl.Snapshot()
	resp := session.CreateResponse{
		SessionID:     ctrl.ID(),
		WidgetID:      req.WidgetID,
		State:         ctrl.State(),
		IdleBudgetMS:  s.cfg.IdleBudget.Milliseconds(),
		WarningLeadMS: s.cfg.WarningLead.Milliseconds(),
	}
	if snap != nil {
		resp.StartedAt = snap.StartedAt
		resp.LastActivityAt = snap.LastActivityAt
	}
	respondJSON(w, status, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	ctrl, err := s.registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	ctrl.End(session.CauseUser)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.registry.LiveCount()))
	}

	if snap := ctrl.Snapshot(); snap != nil {
		respondJSON(w, http.StatusOK, snap)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "state": ctrl.State()})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	ctrl, err := s.registry.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if ctrl.State().Terminal() {
		respondError(w, http.StatusGone, "session_ended", "session already ended")
		return
	}

	s.mu.Lock()
	ls, ok := s.live[sessionID]
	if ok && ls.connected {
		s.mu.Unlock()
		respondError(w, http.StatusConflict, "session_in_use", "session already has a live connection")
		return
	}
	if !ok {
		ls = s.newLiveLocked(sessionID, "default")
	}
	ls.connected = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		ls.connected = false
		s.mu.Unlock()
	}()

	adapter, err := s.newAdapter()
	if err != nil {
		respondError(w, http.StatusBadGateway, "transport_unavailable", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Writes stay single-threaded; a saturated client loses
			// frames, never the connection.
		}
	}

	caps := host.New(host.AnnouncerFunc(func(text string) {
		send(protocol.Announce{
			Type:      protocol.TypeAnnounce,
			SessionID: sessionID,
			Text:      text,
		})
	}), nil)

	eng := widget.NewEngine(widget.Config{
		Controller: ctrl,
		Policy: timeout.Policy{
			IdleBudget:      s.cfg.IdleBudget,
			WarningLead:     s.cfg.WarningLead,
			Extension:       s.cfg.Extension,
			MutedIdleCounts: s.cfg.MutedIdleCounts,
		},
		Adapter:    adapter,
		Log:        ls.log,
		Host:       caps,
		Bus:        s.bus,
		Metrics:    s.metrics,
		Send:       send,
		WidgetID:   ls.widgetID,
		VisualMode: visual.Mode(s.cfg.VisualMode),
		FrameRate:  s.cfg.FrameRate,
	})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		eng.Run(ctx)
	}()

	// Unblock the read loop once the session ends.
	go func() {
		<-runDone
		cancel()
		_ = conn.Close()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if s.metrics != nil {
					if t, ok := messageTypeOf(msg); ok {
						s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
					}
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if s.metrics != nil {
			if t, ok := messageTypeOf(parsed); ok {
				s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
			}
		}
		eng.Deliver(parsed)
	}

	cancel()
	<-runDone
	<-writerDone
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.registry.LiveCount()))
	}
}

// ensureLive creates the shared per-session state if it does not exist.
func (s *Server) ensureLive(sessionID, widgetID string) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls, ok := s.live[sessionID]; ok {
		return ls
	}
	return s.newLiveLocked(sessionID, widgetID)
}

func (s *Server) newLiveLocked(sessionID, widgetID string) *liveSession {
	opts := []transcript.Option{transcript.WithRedaction(s.cfg.RedactPII)}
	if s.store != nil {
		opts = append(opts, transcript.WithArchive(s.store))
	}
	ls := &liveSession{
		widgetID: widgetID,
		log:      transcript.NewLog(sessionID, s.cfg.DisplayBound, opts...),
	}
	s.live[sessionID] = ls
	return ls
}

// dropLive releases per-session state after the registry evicts a session.
func (s *Server) dropLive(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, sessionID)
}

func (s *Server) sessionLog(sessionID string) (*transcript.Log, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.live[sessionID]
	if !ok {
		return nil, false
	}
	return ls.log, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	case protocol.ClientAudioLevel:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.TranscriptEntry:
		return m.Type, true
	case protocol.TimeoutWarning:
		return m.Type, true
	case protocol.AudioCue:
		return m.Type, true
	case protocol.RenderFrame:
		return m.Type, true
	case protocol.Announce:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
