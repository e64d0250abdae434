package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/R0m1k3/n8ngest/internal/apperr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	session_id TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

CREATE TABLE IF NOT EXISTS chat_messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS app_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	is_secret  INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
`

// SQLite is a single-file backend. Timestamps are stored as unix nanoseconds.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty path")
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() { _ = s.db.Close() }

func (s *SQLite) stamp() int64 { return s.now().UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func (s *SQLite) CreateSession(ctx context.Context, title string) (*Session, error) {
	ts := s.stamp()
	sess := Session{ID: newID(), Title: titleOrDefault(title), CreatedAt: fromNanos(ts), UpdatedAt: fromNanos(ts)}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Title, ts, ts)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLite) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var created, updated int64
	err := row.Scan(&sess.ID, &sess.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt, sess.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &sess, nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT session_id, title, created_at, updated_at FROM chat_sessions WHERE session_id = ?`, id))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, session_id, role, content, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at, seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sess.Messages = []Message{}
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromNanos(created)
		sess.Messages = append(sess.Messages, m)
	}
	sess.MessageCount = len(sess.Messages)
	return sess, rows.Err()
}

func (s *SQLite) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.title, s.created_at, s.updated_at, COUNT(m.seq)
		FROM chat_sessions s
		LEFT JOIN chat_messages m ON m.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.updated_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		var sess Session
		var created, updated int64
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &updated, &sess.MessageCount); err != nil {
			return nil, err
		}
		sess.CreatedAt, sess.UpdatedAt = fromNanos(created), fromNanos(updated)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLite) RenameSession(ctx context.Context, id, title string) (*Session, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, updated_at = ? WHERE session_id = ?`,
		titleOrDefault(title), s.stamp(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.ErrNotFound
	}
	return s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT session_id, title, created_at, updated_at FROM chat_sessions WHERE session_id = ?`, id))
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) AppendMessage(ctx context.Context, sessionID, role, content string) (*Message, error) {
	ts := s.stamp()
	m := Message{ID: newID(), SessionID: sessionID, Role: role, Content: content, CreatedAt: fromNanos(ts)}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE session_id = ?`, ts, sessionID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.ErrNotFound
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, ts)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLite) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLite) SetConfig(ctx context.Context, key, value string, secret bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_config (key, value, is_secret, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		  value = excluded.value,
		  is_secret = excluded.is_secret,
		  updated_at = excluded.updated_at`,
		key, value, secret, s.stamp())
	return err
}

func (s *SQLite) ListConfig(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, is_secret, updated_at FROM app_config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ConfigEntry{}
	for rows.Next() {
		var e ConfigEntry
		var updated int64
		if err := rows.Scan(&e.Key, &e.Value, &e.IsSecret, &updated); err != nil {
			return nil, err
		}
		e.UpdatedAt = fromNanos(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}
