// Package widget wires one session's moving parts together: the state
// controller, idle governor, transport adapter, visualizer, cue
// dispatcher, transcript log, and the host-page event bus. One Engine
// serves one widget connection.
package widget

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/aria-voice/aria/internal/cues"
	"github.com/aria-voice/aria/internal/events"
	"github.com/aria-voice/aria/internal/faults"
	"github.com/aria-voice/aria/internal/host"
	"github.com/aria-voice/aria/internal/observability"
	"github.com/aria-voice/aria/internal/protocol"
	"github.com/aria-voice/aria/internal/session"
	"github.com/aria-voice/aria/internal/timeout"
	"github.com/aria-voice/aria/internal/transcript"
	"github.com/aria-voice/aria/internal/transport"
	"github.com/aria-voice/aria/internal/visual"
)

// Sender delivers one protocol message to the page. Implementations must
// be non-blocking; the engine never waits on a slow client.
type Sender func(msg any)

// activityFloor filters microphone noise out of the activity signal so a
// hot mic in an empty room cannot keep a session alive forever.
const activityFloor = 0.05

// disconnectWait bounds how long an ending session waits for the backend
// to acknowledge the disconnect before the session is finished anyway.
const disconnectWait = 3 * time.Second

// Config carries the per-session collaborators. Nil optional fields fall
// back to no-ops.
type Config struct {
	Controller *session.Controller
	Policy     timeout.Policy
	Adapter    transport.Adapter
	Log        *transcript.Log
	Bus        *events.Bus
	Host       *host.Capabilities
	Metrics    *observability.Metrics
	Send       Sender
	WidgetID   string
	VisualMode visual.Mode
	FrameRate  int
	Now        func() time.Time
}

// Engine runs one widget session end to end. Deliver feeds it parsed
// client messages; Run consumes them together with adapter events until
// the session reaches its terminal state.
type Engine struct {
	ctrl    *session.Controller
	gov     *timeout.Governor
	adapter transport.Adapter
	tlog    *transcript.Log
	bus     *events.Bus
	caps    *host.Capabilities
	metrics *observability.Metrics
	send    Sender
	cues    *cues.Dispatcher
	viz     *visual.Visualizer

	widgetID string
	now      func() time.Time

	inbox chan any
	ended chan struct{}

	// Nanosecond timestamp of the last client audio level, consumed by
	// the visualizer goroutine when the resulting frame goes out.
	lastLevel atomic.Int64

	// Conversation bookkeeping, touched only from the Run goroutine.
	awaitingReply bool
	responseOpen  bool
	sentAt        time.Time
}

func NewEngine(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Send == nil {
		cfg.Send = func(any) {}
	}
	if cfg.Host == nil {
		cfg.Host = host.New(nil, nil)
	}

	e := &Engine{
		ctrl:     cfg.Controller,
		adapter:  cfg.Adapter,
		tlog:     cfg.Log,
		bus:      cfg.Bus,
		caps:     cfg.Host,
		metrics:  cfg.Metrics,
		send:     cfg.Send,
		widgetID: cfg.WidgetID,
		now:      cfg.Now,
		inbox:    make(chan any, 64),
		ended:    make(chan struct{}),
	}

	e.cues = cues.NewDispatcher(&cuePlayer{engine: e})
	e.gov = timeout.NewGovernor(cfg.Policy, e.governorState, cfg.Now)
	e.gov.OnWarning(e.onWarning)
	e.gov.OnTimeout(e.onTimeout)

	mode := cfg.VisualMode
	if mode == "" {
		mode = visual.ModeBars
	}
	renderer := visual.NewRenderer(mode, visual.DefaultConfig())
	e.viz = visual.NewVisualizer(renderer, e.visualGate, e.emitFrame, cfg.FrameRate)

	e.ctrl.OnTransition(e.onTransition)
	e.ctrl.OnActivity(e.gov.Reset)
	return e
}

// Deliver hands a parsed client message to the engine. Audio levels are
// best-effort and dropped under pressure; controls and text block briefly
// so they are never lost.
func (e *Engine) Deliver(msg any) {
	switch msg.(type) {
	case protocol.ClientAudioLevel:
		select {
		case e.inbox <- msg:
		default:
		}
	default:
		select {
		case e.inbox <- msg:
		case <-e.ended:
		}
	}
}

// Run drives the session until it ends or ctx is cancelled. Cancellation
// of a live session ends it with the disconnected cause.
func (e *Engine) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer e.gov.Stop()

	go e.viz.Run(runCtx)

	adapterEvents := e.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			e.ctrl.End(session.CauseDisconnected)
			e.finish(context.Background())
			return
		case <-e.ended:
			return
		case msg := <-e.inbox:
			e.handleClient(runCtx, msg)
		case ev, ok := <-adapterEvents:
			if !ok {
				adapterEvents = nil
				continue
			}
			e.handleAdapter(ev)
		}
	}
}

func (e *Engine) governorState() (session.State, bool) {
	return e.ctrl.State(), e.ctrl.Muted()
}

func (e *Engine) visualGate() bool {
	return e.ctrl.State().Audible()
}

// handleClient dispatches one parsed page message.
func (e *Engine) handleClient(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case protocol.ClientControl:
		t0 := e.now()
		e.handleControl(ctx, m.Action)
		if e.metrics != nil {
			e.metrics.ObserveStage(observability.StageControlToState, e.now().Sub(t0))
		}
	case protocol.ClientText:
		e.handleText(ctx, m.Text)
	case protocol.ClientAudioLevel:
		e.handleAudioLevel(m.Level)
	default:
		log.Printf("widget %s: dropping unexpected message %T", e.ctrl.ID(), msg)
	}
}

func (e *Engine) handleControl(ctx context.Context, action string) {
	switch action {
	case protocol.ActionStart:
		e.start(ctx)
	case protocol.ActionPause:
		e.ctrl.Pause()
	case protocol.ActionResume:
		e.ctrl.Resume()
	case protocol.ActionEnd:
		e.ctrl.End(session.CauseUser)
	case protocol.ActionMute:
		e.setMuted(true)
	case protocol.ActionUnmute:
		e.setMuted(false)
	case protocol.ActionExtend:
		e.extend()
	case protocol.ActionCueMute:
		e.cues.SetMuted(true)
	case protocol.ActionCueUnmute:
		e.cues.SetMuted(false)
	default:
		log.Printf("widget %s: unknown control %q", e.ctrl.ID(), action)
	}
}

func (e *Engine) start(ctx context.Context) {
	if !e.ctrl.Start() {
		return
	}
	err := e.adapter.Connect(ctx, transport.ConnectConfig{
		SessionID: e.ctrl.ID(),
		WidgetID:  e.widgetID,
	})
	if err != nil {
		e.fault(faults.Wrap(faults.KindTransportError, "connect", err), true)
	}
}

func (e *Engine) setMuted(muted bool) {
	changed := false
	if muted {
		changed = e.ctrl.Mute()
	} else {
		changed = e.ctrl.Unmute()
	}
	if !changed {
		return
	}
	if muted {
		e.adapter.Mute()
	} else {
		e.adapter.Unmute()
	}
	e.sendState("")
}

func (e *Engine) extend() {
	deadline := e.gov.Extend(0)
	if e.metrics != nil {
		e.metrics.TimeoutEvents.WithLabelValues("extend").Inc()
	}
	e.caps.Announce("Session extended")
	e.send(protocol.TimeoutWarning{
		Type:        protocol.TypeWarning,
		SessionID:   e.ctrl.ID(),
		RemainingMS: deadline.Sub(e.now()).Milliseconds(),
	})
}

func (e *Engine) handleText(ctx context.Context, text string) {
	if e.ctrl.State() != session.StateActive {
		log.Printf("widget %s: dropping text in state %s", e.ctrl.ID(), e.ctrl.State())
		return
	}
	e.ctrl.ResetActivity()

	id := e.tlog.Append(ctx, transcript.Message{
		SessionID: e.ctrl.ID(),
		Role:      transcript.RoleUser,
		Content:   text,
	})
	e.sendEntry(transcript.Message{ID: id, SessionID: e.ctrl.ID(), Role: transcript.RoleUser, Content: text, Timestamp: e.now()})

	e.awaitingReply = true
	e.sentAt = e.now()
	e.publish(events.TopicProcessingStart, nil)
	e.cues.Enter(cues.CueProcessing)

	if err := e.adapter.SendText(ctx, text); err != nil {
		e.fault(faults.Wrap(faults.KindSendFailure, "send_text", err), false)
	}
}

func (e *Engine) handleAudioLevel(level float64) {
	if level >= activityFloor {
		e.ctrl.ResetActivity()
	}
	e.lastLevel.Store(e.now().UnixNano())
	e.viz.Offer(visual.AudioFrame{Volume: level})
	e.publish(events.TopicAudioLevel, level)
}

// handleAdapter reacts to one backend event.
func (e *Engine) handleAdapter(ev transport.Event) {
	switch ev.Type {
	case transport.EventMessage:
		if ev.Message != nil {
			e.handleMessage(*ev.Message)
		}
	case transport.EventAudioLevel:
		if ev.AudioFrame != nil {
			e.ctrl.ResetActivity()
			e.viz.Offer(*ev.AudioFrame)
			e.publish(events.TopicAudioLevel, ev.AudioFrame.Volume)
		}
	case transport.EventError:
		if ev.Fault != nil {
			e.fault(ev.Fault, ev.Fatal)
		}
	case transport.EventStateChange:
		e.handleConnState(ev.State)
	}
}

func (e *Engine) handleMessage(m transcript.Message) {
	m.SessionID = e.ctrl.ID()
	e.ctrl.ResetActivity()

	if m.Role == transcript.RoleAssistant {
		if !e.responseOpen {
			e.responseOpen = true
			e.publish(events.TopicResponseStart, nil)
			e.cues.Enter(cues.CueResponding)
			if e.awaitingReply && e.metrics != nil {
				d := e.now().Sub(e.sentAt)
				e.metrics.ObserveStage(observability.StageSendToFirstReply, d)
				e.metrics.ObserveReplyLatency(d)
			}
		}
		if !m.Interim {
			e.responseOpen = false
			e.cues.Leave(cues.CueResponding)
			e.publish(events.TopicResponseComplete, nil)
			if e.awaitingReply && e.metrics != nil {
				e.metrics.ObserveStage(observability.StageSendToReplyDone, e.now().Sub(e.sentAt))
			}
			e.awaitingReply = false
		}
	}

	m.ID = e.tlog.Append(context.Background(), m)
	if m.Timestamp.IsZero() {
		m.Timestamp = e.now()
	}
	e.sendEntry(m)
}

func (e *Engine) handleConnState(state transport.ConnState) {
	switch state {
	case transport.ConnReconnecting:
		e.caps.Announce("Connection lost, reconnecting")
		if e.metrics != nil {
			e.metrics.ObserveIndicator("transport_reconnect")
		}
	case transport.ConnFailed:
		e.fault(faults.New(faults.KindTransportError, "transport", "connection failed"), true)
	}
}

// fault surfaces one fault to the page and the bus. Fatal faults end the
// session; recoverable ones play the error cue and keep going.
func (e *Engine) fault(f *faults.Fault, fatal bool) {
	if e.metrics != nil {
		e.metrics.Faults.WithLabelValues(string(f.Kind)).Inc()
	}
	e.publish(events.TopicError, f.Kind)
	e.cues.Enter(cues.CueError)
	e.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: e.ctrl.ID(),
		Code:      string(f.Kind),
		Retryable: faults.Retryable(f.Kind),
		Detail:    f.Error(),
	})
	e.caps.Announce("Something went wrong")
	if fatal {
		e.ctrl.End(session.CauseFault)
	}
}

// onTransition reacts to every accepted state change. It runs on whichever
// goroutine drove the transition, so everything it touches is
// thread-safe.
func (e *Engine) onTransition(tr session.Transition) {
	if e.metrics != nil {
		e.metrics.SessionTransitions.WithLabelValues(string(tr.To), string(tr.Cause)).Inc()
	}
	e.sendState(tr.Cause)

	switch tr.To {
	case session.StateActive:
		if tr.From == session.StateIdle {
			e.cues.Enter(cues.CueStart)
			e.caps.Announce("Listening")
		} else {
			e.cues.Leave(cues.CueStart)
			e.caps.Announce("Resumed")
		}
		e.publish(events.TopicListeningStart, nil)
	case session.StatePaused:
		e.publish(events.TopicListeningStop, nil)
		e.caps.Announce("Paused")
	case session.StateEnding:
		e.gov.Stop()
		e.cues.Enter(cues.CueReset)
		e.publish(events.TopicReset, string(tr.Cause))
		e.caps.Announce("Session ended")
		go e.finish(context.Background())
	case session.StateEnded:
		e.cues.Cancel()
		close(e.ended)
	}
}

// finish disconnects the backend with a bounded wait, then completes the
// ending to ended transition.
func (e *Engine) finish(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, disconnectWait)
	defer cancel()
	if err := e.adapter.Disconnect(dctx); err != nil {
		log.Printf("widget %s: disconnect: %v", e.ctrl.ID(), err)
	}
	e.ctrl.Finish()
}

func (e *Engine) onWarning(remaining time.Duration) {
	if e.metrics != nil {
		e.metrics.TimeoutEvents.WithLabelValues("warning").Inc()
	}
	e.send(protocol.TimeoutWarning{
		Type:        protocol.TypeWarning,
		SessionID:   e.ctrl.ID(),
		RemainingMS: remaining.Milliseconds(),
	})
	e.caps.Announce("Session will end soon")
}

func (e *Engine) onTimeout() {
	if e.metrics != nil {
		e.metrics.TimeoutEvents.WithLabelValues("timeout").Inc()
	}
	e.ctrl.End(session.CauseTimeout)
}

func (e *Engine) sendState(cause session.Cause) {
	e.send(protocol.SessionState{
		Type:      protocol.TypeSessionState,
		SessionID: e.ctrl.ID(),
		State:     string(e.ctrl.State()),
		Cause:     string(cause),
		Muted:     e.ctrl.Muted(),
		TSMs:      e.now().UnixMilli(),
	})
}

func (e *Engine) sendEntry(m transcript.Message) {
	e.send(protocol.TranscriptEntry{
		Type:      protocol.TypeTranscript,
		SessionID: m.SessionID,
		MessageID: m.ID,
		Role:      string(m.Role),
		Text:      m.Content,
		Interim:   m.Interim,
		TSMs:      m.Timestamp.UnixMilli(),
	})
}

func (e *Engine) emitFrame(frame visual.RenderFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		log.Printf("widget %s: frame marshal: %v", e.ctrl.ID(), err)
		return
	}
	if e.metrics != nil {
		e.metrics.FramesEmitted.Inc()
		if at := e.lastLevel.Swap(0); at > 0 {
			e.metrics.ObserveStage(observability.StageLevelToFrame, time.Duration(e.now().UnixNano()-at))
		}
	}
	e.send(protocol.RenderFrame{
		Type:      protocol.TypeRenderFrame,
		SessionID: e.ctrl.ID(),
		Frame:     raw,
	})
}

func (e *Engine) publish(topic events.Topic, detail any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Topic: topic, SessionID: e.ctrl.ID(), Detail: detail})
}

// cuePlayer forwards cue commands to the page, which plays the matching
// tone fetched from the cue asset endpoint.
type cuePlayer struct {
	engine *Engine
}

func (p *cuePlayer) Play(c cues.Cue, loop bool) {
	if p.engine.metrics != nil {
		p.engine.metrics.CuePlays.WithLabelValues(string(c)).Inc()
	}
	p.engine.send(protocol.AudioCue{
		Type:      protocol.TypeCue,
		SessionID: p.engine.ctrl.ID(),
		Cue:       string(c),
		Looping:   loop,
	})
}

func (p *cuePlayer) Stop(c cues.Cue) {
	p.engine.send(protocol.AudioCue{
		Type:      protocol.TypeCue,
		SessionID: p.engine.ctrl.ID(),
		Cue:       string(c),
		Stop:      true,
	})
}
