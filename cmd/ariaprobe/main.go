// Command ariaprobe replays synthetic widget conversations against a
// running aria server and reports per-turn reply latency, plus the
// server-side stage window. It can also dump the cue tones as WAV files
// for inspection.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aria-voice/aria/internal/audio"
	"github.com/aria-voice/aria/internal/cues"
	"github.com/aria-voice/aria/internal/protocol"
)

type options struct {
	baseURL        string
	widgetID       string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	levelHz        int
	texts          []string
	dumpCuesDir    string
	verbose        bool
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

var defaultUtterances = []string{
	"How do I reset my password?",
	"Where can I find my invoices?",
	"Cancel my subscription.",
	"Thanks, that is all.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ariaprobe: %v\n", err)
		os.Exit(2)
	}
	if cfg.dumpCuesDir != "" {
		if err := dumpCues(cfg.dumpCuesDir); err != nil {
			fmt.Fprintf(os.Stderr, "ariaprobe: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ariaprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "aria base URL")
	flag.StringVar(&cfg.widgetID, "widget-id", "probe", "widget_id used for the synthetic session")
	flag.IntVar(&cfg.turns, "turns", 8, "number of text turns to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 10000, "timeout waiting for the reply per turn in milliseconds")
	flag.IntVar(&cfg.levelHz, "level-hz", 20, "synthetic audio_level rate while a turn is in flight (0 disables)")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.StringVar(&cfg.dumpCuesDir, "dump-cues", "", "write cue tones as WAV files into this directory and exit")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" && cfg.dumpCuesDir == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.levelHz < 0 || cfg.levelHz > 120 {
		return options{}, fmt.Errorf("level-hz must be in [0,120]")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func dumpCues(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, c := range cues.Cues() {
		pcm := cues.TonePCM16(c, cues.DefaultSampleRate)
		path := filepath.Join(dir, string(c)+".wav")
		if err := audio.WriteWAVPCM16LEFile(path, pcm, cues.DefaultSampleRate); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("ariaprobe: wrote %s (%d samples)\n", path, len(pcm)/2)
	}
	return nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("ariaprobe: session=%s turns=%d\n", sessionID, cfg.turns)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	replyCh := make(chan string, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, sessionID, replyCh, readErrCh, cfg.verbose)

	if err := sendControl(conn, sessionID, protocol.ActionStart); err != nil {
		return fmt.Errorf("send start: %w", err)
	}

	stopLevels := make(chan struct{})
	if cfg.levelHz > 0 {
		go levelLoop(conn, sessionID, cfg.levelHz, stopLevels)
	}
	defer close(stopLevels)

	var latencies []time.Duration
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		sentAt := time.Now()
		if err := conn.WriteJSON(protocol.ClientText{
			Type:      protocol.TypeClientText,
			SessionID: sessionID,
			Text:      text,
		}); err != nil {
			return fmt.Errorf("turn %d send text: %w", i+1, err)
		}

		if err := awaitReply(replyCh, readErrCh, cfg.turnTimeout); err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		d := time.Since(sentAt)
		latencies = append(latencies, d)
		if cfg.verbose {
			fmt.Printf("ariaprobe: turn %d/%d text=%q reply_ms=%.1f\n", i+1, cfg.turns, text, float64(d.Microseconds())/1000.0)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	_ = sendControl(conn, sessionID, protocol.ActionEnd)

	printLatencySummary(latencies)
	if err := printServerStages(ctx, httpClient, cfg.baseURL); err != nil {
		fmt.Printf("ariaprobe: server stage window unavailable: %v\n", err)
	}
	return nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(map[string]string{"widget_id": cfg.widgetID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/widget/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/widget/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/widget/session/ws"
	u.RawQuery = url.Values{"session_id": []string{sessionID}}.Encode()
	return u.String(), nil
}

func sendControl(conn *websocket.Conn, sessionID, action string) error {
	return conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    action,
		TSMs:      time.Now().UnixMilli(),
	})
}

// levelLoop streams a synthetic microphone level so the server's render
// pipeline and activity clock see real traffic.
func levelLoop(conn *websocket.Conn, sessionID string, hz int, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	t := 0.0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t += 1.0 / float64(hz)
			level := 0.3 + 0.25*math.Sin(2*math.Pi*0.8*t)
			err := conn.WriteJSON(protocol.ClientAudioLevel{
				Type:      protocol.TypeClientAudioLevel,
				SessionID: sessionID,
				Level:     level,
			})
			if err != nil {
				return
			}
		}
	}
}

func readLoop(conn *websocket.Conn, sessionID string, replyCh chan<- string, errCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		var env struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Text    string `json:"text"`
			Interim bool   `json:"interim"`
			State   string `json:"state"`
			Detail  string `json:"detail"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeTranscript):
			if env.Role == "assistant" && !env.Interim {
				replyCh <- env.Text
			}
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Printf("ariaprobe: server error: %s\n", env.Detail)
			}
		case string(protocol.TypeSessionState):
			if verbose && env.State != "" {
				fmt.Printf("ariaprobe: session %s state=%s\n", sessionID, env.State)
			}
		}
	}
}

func awaitReply(replyCh <-chan string, errCh <-chan error, timeout time.Duration) error {
	select {
	case <-replyCh:
		return nil
	case err := <-errCh:
		return fmt.Errorf("ws read: %w", err)
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s", timeout)
	}
}

func printLatencySummary(latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000.0 }
	sum := time.Duration(0)
	for _, d := range sorted {
		sum += d
	}
	p := func(q float64) time.Duration {
		idx := int(math.Ceil(q*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	fmt.Printf("ariaprobe: reply latency samples=%d avg_ms=%.1f p50_ms=%.1f p95_ms=%.1f max_ms=%.1f\n",
		len(sorted), ms(sum/time.Duration(len(sorted))), ms(p(0.50)), ms(p(0.95)), ms(sorted[len(sorted)-1]))
}

func printServerStages(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	var snap struct {
		Stages []struct {
			Stage   string  `json:"stage"`
			Samples int     `json:"samples"`
			AvgMS   float64 `json:"avg_ms"`
			P95MS   float64 `json:"p95_ms"`
		} `json:"stages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return err
	}
	for _, s := range snap.Stages {
		fmt.Printf("ariaprobe: stage %-20s samples=%d avg_ms=%.1f p95_ms=%.1f\n", s.Stage, s.Samples, s.AvgMS, s.P95MS)
	}
	return nil
}
