package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Format selects an export encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps a request string onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt", "plain":
		return FormatText, nil
	case "json", "structured":
		return FormatJSON, nil
	case "markdown", "md", "document", "doc":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// exportEnvelope is the structured export payload.
type exportEnvelope struct {
	SessionID    string    `json:"session_id"`
	ExportedAt   time.Time `json:"exported_at"`
	Messages     []Message `json:"messages"`
	MessageTotal int       `json:"message_total"`
}

// Export encodes every message in the log, regardless of the display
// bound.
func (l *Log) Export(format Format) ([]byte, error) {
	msgs := l.All()
	switch format {
	case FormatJSON:
		return json.MarshalIndent(exportEnvelope{
			SessionID:    l.sessionID,
			ExportedAt:   l.now(),
			Messages:     msgs,
			MessageTotal: len(msgs),
		}, "", "  ")
	case FormatMarkdown:
		return exportMarkdown(l.sessionID, msgs), nil
	case FormatText:
		return exportText(msgs), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func exportText(msgs []Message) []byte {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format(time.RFC3339), m.Role, m.Content)
	}
	return []byte(b.String())
}

func exportMarkdown(sessionID string, msgs []Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation transcript\n\nSession `%s`, %d messages.\n\n", sessionID, len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&b, "**%s** (%s):\n\n%s\n\n", m.Role, m.Timestamp.Format(time.RFC3339), m.Content)
	}
	return []byte(b.String())
}
