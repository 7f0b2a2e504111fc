package host

import "testing"

type themeRecorder struct {
	changes []Theme
}

func (r *themeRecorder) ThemeChanged(t Theme) { r.changes = append(r.changes, t) }

func TestCapabilitiesAnnounceWithNilHook(t *testing.T) {
	c := New(nil, nil)
	c.Announce("listening") // must not panic
}

func TestCapabilitiesAnnounceForwards(t *testing.T) {
	var got []string
	c := New(AnnouncerFunc(func(text string) { got = append(got, text) }), nil)

	c.Announce("session started")
	c.Announce("")
	if len(got) != 1 || got[0] != "session started" {
		t.Fatalf("announced = %v, want single non-empty line", got)
	}
}

func TestCapabilitiesThemeChange(t *testing.T) {
	rec := &themeRecorder{}
	c := New(nil, rec)

	if c.Theme() != ThemeLight {
		t.Fatalf("default theme = %q, want light", c.Theme())
	}
	c.SetTheme(ThemeDark)
	c.SetTheme(ThemeDark) // no duplicate notification
	c.SetTheme(Theme("sepia"))

	if c.Theme() != ThemeDark {
		t.Fatalf("theme = %q, want dark", c.Theme())
	}
	if len(rec.changes) != 1 || rec.changes[0] != ThemeDark {
		t.Fatalf("observer changes = %v, want single dark notification", rec.changes)
	}
}
