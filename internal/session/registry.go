package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Registry tracks live Controllers by session ID and enforces the
// one-live-session-per-widget invariant. An existing live controller is
// handed back instead of a duplicate, so a repeated start cannot open a
// second transport connection.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*entry
	byWidget map[string]string
	onEvict  func(sessionID string)
}

type entry struct {
	widgetID  string
	ctrl      *Controller
	createdAt time.Time
}

// staleIdleAfter bounds how long a created-but-never-started session is
// retained (page fetched a session ID and never opened the websocket).
const staleIdleAfter = 5 * time.Minute

func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*entry),
		byWidget: make(map[string]string),
	}
}

// SetEvictHook registers a callback invoked for each session removed by the
// janitor sweep.
func (r *Registry) SetEvictHook(hook func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = hook
}

// Acquire returns the widget's live controller, creating an idle one if
// none exists or the previous session has ended. The new controller is not
// started; the engine registers its hooks first and starts it on the
// explicit user control. reused reports whether an existing live controller
// was handed back.
func (r *Registry) Acquire(widgetID string, now func() time.Time) (ctrl *Controller, reused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byWidget[widgetID]; ok {
		if e, ok := r.byID[id]; ok && !e.ctrl.State().Terminal() {
			return e.ctrl, true
		}
	}

	c := NewController(now)
	r.byID[c.ID()] = &entry{widgetID: widgetID, ctrl: c, createdAt: time.Now().UTC()}
	r.byWidget[widgetID] = c.ID()
	return c, false
}

// Get returns the controller owning sessionID.
func (r *Registry) Get(sessionID string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.ctrl, nil
}

// Remove drops a session from the registry once its engine finished.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionID)
}

func (r *Registry) removeLocked(sessionID string) {
	e, ok := r.byID[sessionID]
	if !ok {
		return
	}
	delete(r.byID, sessionID)
	if r.byWidget[e.widgetID] == sessionID {
		delete(r.byWidget, e.widgetID)
	}
}

// LiveCount counts sessions currently active or paused.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, e := range r.byID {
		if e.ctrl.State().Audible() {
			count++
		}
	}
	return count
}

// StartJanitor sweeps ended sessions whose engine died without cleanup.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) sweep() {
	var evicted []string
	now := time.Now().UTC()

	r.mu.Lock()
	for id, e := range r.byID {
		state := e.ctrl.State()
		stale := state == StateIdle && now.Sub(e.createdAt) >= staleIdleAfter
		if !state.Terminal() && !stale {
			continue
		}
		evicted = append(evicted, id)
		r.removeLocked(id)
	}
	hook := r.onEvict
	r.mu.Unlock()

	if hook != nil {
		for _, id := range evicted {
			hook(id)
		}
	}
}
