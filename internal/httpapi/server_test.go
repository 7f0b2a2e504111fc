package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aria-voice/aria/internal/config"
	"github.com/aria-voice/aria/internal/events"
	"github.com/aria-voice/aria/internal/observability"
	"github.com/aria-voice/aria/internal/session"
	"github.com/aria-voice/aria/internal/transport"
)

func testServer(t *testing.T, name string) (*httptest.Server, *Server) {
	t.Helper()
	cfg := config.Config{
		MetricsNamespace: fmt.Sprintf("test_httpapi_%s_%d", name, time.Now().UnixNano()),
		IdleBudget:       5 * time.Minute,
		WarningLead:      30 * time.Second,
		Extension:        5 * time.Minute,
		MutedIdleCounts:  true,
		DisplayBound:     100,
		FrameRate:        30,
		VisualMode:       "bars",
		TransportMode:    "mock",
		AllowAnyOrigin:   true,
	}
	registry := session.NewRegistry()
	bus := events.NewBus()
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	srv := New(cfg, registry, bus, nil, metrics, func() (transport.Adapter, error) {
		return transport.NewMockAdapter(), nil
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		bus.Close()
	})
	return ts, srv
}

func createSession(t *testing.T, ts *httptest.Server, widgetID string) (string, int) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"widget_id": widgetID})
	res, err := http.Post(ts.URL+"/v1/widget/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()

	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return sessionID, res.StatusCode
}

func TestCreateReusesLiveSessionPerWidget(t *testing.T) {
	ts, _ := testServer(t, "create")

	first, status := createSession(t, ts, "widget-1")
	if status != http.StatusCreated {
		t.Fatalf("first create status = %d, want %d", status, http.StatusCreated)
	}

	second, status := createSession(t, ts, "widget-1")
	if status != http.StatusOK {
		t.Fatalf("second create status = %d, want %d", status, http.StatusOK)
	}
	if second != first {
		t.Fatalf("second create returned %q, want reused %q", second, first)
	}

	other, _ := createSession(t, ts, "widget-2")
	if other == first {
		t.Fatalf("different widgets share session %q", first)
	}
}

func TestEndSessionNotFound(t *testing.T) {
	ts, _ := testServer(t, "endnf")

	res, err := http.Post(ts.URL+"/v1/widget/session/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("end status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestSessionWSConversation(t *testing.T) {
	ts, _ := testServer(t, "ws")
	sessionID, _ := createSession(t, ts, "widget-ws")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/widget/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	defer conn.Close()

	send := func(v any) {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("ws write error = %v", err)
		}
	}
	send(map[string]any{"type": "client_control", "session_id": sessionID, "action": "start"})

	var sawActive, sawReply, sawEnded bool
	deadline := time.Now().Add(5 * time.Second)
	send(map[string]any{"type": "client_text", "session_id": sessionID, "text": "ping"})
	for time.Now().Before(deadline) && !(sawActive && sawReply && sawEnded) {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg["type"] {
		case "session_state":
			if msg["state"] == "active" {
				sawActive = true
			}
			if msg["state"] == "ended" {
				sawEnded = true
			}
		case "transcript":
			if msg["role"] == "assistant" && msg["text"] == "You said: ping" {
				sawReply = true
				send(map[string]any{"type": "client_control", "session_id": sessionID, "action": "end"})
			}
		}
	}
	if !sawActive || !sawReply || !sawEnded {
		t.Fatalf("ws conversation incomplete: active=%v reply=%v ended=%v", sawActive, sawReply, sawEnded)
	}

	// The finished conversation stays queryable until the janitor evicts it.
	res, err := http.Get(ts.URL + "/v1/widget/session/" + sessionID + "/transcript/search?q=PING")
	if err != nil {
		t.Fatalf("search request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	total, _ := payload["total"].(float64)
	if total < 2 {
		t.Fatalf("search total = %v, want both the echo and the reply", payload["total"])
	}

	exportRes, err := http.Get(ts.URL + "/v1/widget/session/" + sessionID + "/transcript/export?format=markdown")
	if err != nil {
		t.Fatalf("export request error = %v", err)
	}
	defer exportRes.Body.Close()
	if exportRes.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d, want %d", exportRes.StatusCode, http.StatusOK)
	}
	var md bytes.Buffer
	if _, err := md.ReadFrom(exportRes.Body); err != nil {
		t.Fatalf("reading export body: %v", err)
	}
	if !strings.Contains(md.String(), "You said: ping") {
		t.Fatalf("export missing assistant reply:\n%s", md.String())
	}
}

func TestCueAssetEndpoint(t *testing.T) {
	ts, _ := testServer(t, "cues")

	res, err := http.Get(ts.URL + "/v1/cues/start")
	if err != nil {
		t.Fatalf("GET /v1/cues/start error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cue status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("cue content type = %q, want audio/wav", ct)
	}
	var body bytes.Buffer
	if _, err := body.ReadFrom(res.Body); err != nil {
		t.Fatalf("reading cue body: %v", err)
	}
	if !bytes.HasPrefix(body.Bytes(), []byte("RIFF")) {
		t.Fatalf("cue body is not a WAV stream")
	}

	missing, err := http.Get(ts.URL + "/v1/cues/kazoo")
	if err != nil {
		t.Fatalf("GET /v1/cues/kazoo error = %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown cue status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestDemoRoutes(t *testing.T) {
	ts, _ := testServer(t, "demo")

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rootRes, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer rootRes.Body.Close()
	if rootRes.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", rootRes.StatusCode, http.StatusTemporaryRedirect)
	}
	if got := rootRes.Header.Get("Location"); got != "/demo/" {
		t.Fatalf("GET / location = %q, want %q", got, "/demo/")
	}

	demoRes, err := http.Get(ts.URL + "/demo/")
	if err != nil {
		t.Fatalf("GET /demo/ error = %v", err)
	}
	defer demoRes.Body.Close()
	if demoRes.StatusCode != http.StatusOK {
		t.Fatalf("GET /demo/ status = %d, want %d", demoRes.StatusCode, http.StatusOK)
	}

	var body bytes.Buffer
	if _, err := body.ReadFrom(demoRes.Body); err != nil {
		t.Fatalf("reading /demo/ body failed: %v", err)
	}
	if !strings.Contains(body.String(), "id=\"surface\"") {
		t.Fatalf("GET /demo/ body missing expected content")
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	ts, _ := testServer(t, "perf")

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("perf status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode perf response: %v", err)
	}
	if _, ok := payload["window_size"]; !ok {
		t.Fatalf("missing window_size in response: %+v", payload)
	}
}
