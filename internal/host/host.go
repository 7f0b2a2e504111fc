// Package host holds the capabilities the embedding page injects into the
// core: accessibility announcements and environment observation. The core
// never touches a rendering surface directly, which keeps it headless and
// testable.
package host

import "sync"

// Announcer updates an assistive-technology live region. Implementations
// must be non-blocking.
type Announcer interface {
	Announce(text string)
}

// AnnouncerFunc adapts a function to the Announcer interface.
type AnnouncerFunc func(text string)

func (f AnnouncerFunc) Announce(text string) { f(text) }

// Theme is the host page's current color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// EnvironmentObserver receives host environment changes the widget reacts
// to.
type EnvironmentObserver interface {
	ThemeChanged(theme Theme)
}

// Capabilities bundles the injected host hooks with safe no-op defaults so
// the core never nil-checks at call sites.
type Capabilities struct {
	announcer Announcer
	observer  EnvironmentObserver

	mu    sync.RWMutex
	theme Theme
}

// New builds Capabilities; nil hooks fall back to no-ops.
func New(announcer Announcer, observer EnvironmentObserver) *Capabilities {
	if announcer == nil {
		announcer = AnnouncerFunc(func(string) {})
	}
	c := &Capabilities{announcer: announcer, observer: observer, theme: ThemeLight}
	return c
}

// Announce forwards a status line to the live region.
func (c *Capabilities) Announce(text string) {
	if text == "" {
		return
	}
	c.announcer.Announce(text)
}

// SetTheme records a theme change and notifies the observer.
func (c *Capabilities) SetTheme(theme Theme) {
	if theme != ThemeLight && theme != ThemeDark {
		return
	}
	c.mu.Lock()
	changed := c.theme != theme
	c.theme = theme
	obs := c.observer
	c.mu.Unlock()

	if changed && obs != nil {
		obs.ThemeChanged(theme)
	}
}

// Theme returns the current theme.
func (c *Capabilities) Theme() Theme {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.theme
}
