package transcript

import (
	"context"
	"strings"
)

// Store persists finalized transcript messages beyond the session's
// in-memory log.
type Store interface {
	SaveMessage(ctx context.Context, m Message) error
	SessionMessages(ctx context.Context, sessionID string) ([]Message, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise
// in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
