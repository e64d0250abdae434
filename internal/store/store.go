// Package store persists chat sessions, their messages and stored settings.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Store is implemented by the PostgreSQL, SQLite and in-memory backends.
// Lookups of a missing session return apperr.ErrNotFound.
type Store interface {
	CreateSession(ctx context.Context, title string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	RenameSession(ctx context.Context, id, title string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, sessionID, role, content string) (*Message, error)

	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string, secret bool) error
	ListConfig(ctx context.Context) ([]ConfigEntry, error)

	Close()
}

// Connect picks a backend from the DSN:
//
//	""  or "memory"                     in-memory, lost on exit
//	"sqlite:<path>" or "file:<path>"    local SQLite file
//	"postgres://..." / "postgresql://"  PostgreSQL
func Connect(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "file:"):
		return OpenSQLite(ctx, dsn)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Open(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported dsn scheme in %q", redactDSN(dsn))
	}
}

func titleOrDefault(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return DefaultSessionTitle
}

func newID() string { return uuid.NewString() }

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	if len(dsn) > 12 {
		return dsn[:12] + "..."
	}
	return dsn
}
