package transcript

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// DefaultDisplayBound is the display-window size used when none is
// configured.
const DefaultDisplayBound = 100

// Log is the append-only conversation record for one session. Insertion
// order is chronological and authoritative; the display window is bounded
// while the full history remains available for export. An optional archive
// Store receives each finalized message.
type Log struct {
	mu           sync.RWMutex
	sessionID    string
	displayBound int
	messages     []Message
	interimIdx   map[Role]int
	archive      Store
	redactPII    bool
	now          func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithArchive attaches a persistence store that receives every finalized
// message.
func WithArchive(store Store) Option {
	return func(l *Log) { l.archive = store }
}

// WithRedaction masks common PII patterns before a message reaches the
// archive. The in-session display keeps the original text.
func WithRedaction(enabled bool) Option {
	return func(l *Log) { l.redactPII = enabled }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog builds a Log for one session. displayBound <= 0 selects the
// default.
func NewLog(sessionID string, displayBound int, opts ...Option) *Log {
	if displayBound <= 0 {
		displayBound = DefaultDisplayBound
	}
	l := &Log{
		sessionID:    sessionID,
		displayBound: displayBound,
		interimIdx:   make(map[Role]int),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a message and returns its ID. An interim message replaces
// the pending interim for its role in place; a final message for a role
// with a pending interim finalizes that entry rather than appending a
// duplicate.
func (l *Log) Append(ctx context.Context, m Message) string {
	l.mu.Lock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = l.now()
	}
	m.SessionID = l.sessionID

	idx, hasInterim := l.interimIdx[m.Role]
	switch {
	case hasInterim && m.Interim:
		// Mutable-in-place until finalized: keep the original ID and slot.
		m.ID = l.messages[idx].ID
		l.messages[idx] = m
	case hasInterim && !m.Interim:
		m.ID = l.messages[idx].ID
		l.messages[idx] = m
		delete(l.interimIdx, m.Role)
	default:
		l.messages = append(l.messages, m)
		if m.Interim {
			l.interimIdx[m.Role] = len(l.messages) - 1
		}
	}

	archive := l.archive
	redact := l.redactPII
	l.mu.Unlock()

	if archive != nil && !m.Interim {
		stored := m
		if redact {
			if masked, changed := RedactPII(stored.Content); changed {
				stored.Content = masked
			}
		}
		if err := archive.SaveMessage(ctx, stored); err != nil {
			log.Printf("transcript %s: archive append failed: %v", l.sessionID, err)
		}
	}
	return m.ID
}

// Finalize marks the pending interim for role immutable with its final
// content. Returns false when no interim is pending.
func (l *Log) Finalize(ctx context.Context, role Role, content string, confidence float64) bool {
	l.mu.Lock()
	idx, ok := l.interimIdx[role]
	if !ok {
		l.mu.Unlock()
		return false
	}
	m := l.messages[idx]
	l.mu.Unlock()

	m.Content = content
	m.Confidence = confidence
	m.Interim = false
	l.Append(ctx, m)
	return true
}

// Visible returns the most recent displayBound messages in chronological
// order.
func (l *Log) Visible() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if len(l.messages) > l.displayBound {
		start = len(l.messages) - l.displayBound
	}
	out := make([]Message, len(l.messages)-start)
	copy(out, l.messages[start:])
	return out
}

// All returns every message ever appended, regardless of the display
// bound.
func (l *Log) All() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len reports the total number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Span is one half-open character range [Start, End) into a message's
// content, counted in runes.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Match is one message containing the query, with every occurrence
// reported.
type Match struct {
	Message Message `json:"message"`
	Spans   []Span  `json:"spans"`
}

// Search finds messages whose content contains query, case-insensitively.
// Results keep chronological order; every occurrence in a message yields a
// span.
func (l *Log) Search(query string) []Match {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	needle := foldRunes(query)

	l.mu.RLock()
	defer l.mu.RUnlock()

	var matches []Match
	for _, m := range l.messages {
		spans := findSpans(foldRunes(m.Content), needle)
		if len(spans) > 0 {
			matches = append(matches, Match{Message: m, Spans: spans})
		}
	}
	return matches
}

// foldRunes lowercases rune by rune. strings.ToLower can change the rune
// count for a handful of characters, which would skew spans against the
// original content; per-rune folding keeps the indexes aligned.
func foldRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}

// findSpans reports every occurrence of needle in haystack, both in rune
// space so spans survive multibyte content.
func findSpans(haystack, needle []rune) []Span {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return nil
	}
	var spans []Span
	for i := 0; i+len(needle) <= len(haystack); i++ {
		matched := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				matched = false
				break
			}
		}
		if matched {
			spans = append(spans, Span{Start: i, End: i + len(needle)})
		}
	}
	return spans
}
