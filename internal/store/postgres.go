package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/R0m1k3/n8ngest/internal/apperr"
)

// Postgres stores everything under the n8ngest schema (see sql/schema.sql).
type Postgres struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() { s.pool.Close() }

// ExecSQL executes raw SQL (schema bootstrap). The schema file is idempotent.
func (s *Postgres) ExecSQL(ctx context.Context, sql string) error {
	_, err := s.pool.Exec(ctx, sql)
	return err
}

func (s *Postgres) CreateSession(ctx context.Context, title string) (*Session, error) {
	sess := Session{ID: newID(), Title: titleOrDefault(title)}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO n8ngest.chat_sessions (session_id, title)
		VALUES ($1,$2)
		RETURNING created_at, updated_at
	`, sess.ID, sess.Title).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Postgres) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, title, created_at, updated_at
		FROM n8ngest.chat_sessions
		WHERE session_id=$1
	`, id).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT message_id, session_id, role, content, created_at
		FROM n8ngest.chat_messages
		WHERE session_id=$1
		ORDER BY created_at, seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sess.Messages = []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		sess.Messages = append(sess.Messages, m)
	}
	sess.MessageCount = len(sess.Messages)
	return &sess, rows.Err()
}

func (s *Postgres) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.session_id, s.title, s.created_at, s.updated_at, COUNT(m.message_id)
		FROM n8ngest.chat_sessions s
		LEFT JOIN n8ngest.chat_messages m ON m.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Postgres) RenameSession(ctx context.Context, id, title string) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		UPDATE n8ngest.chat_sessions
		SET title=$2, updated_at=now()
		WHERE session_id=$1
		RETURNING session_id, title, created_at, updated_at
	`, id, titleOrDefault(title)).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Postgres) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM n8ngest.chat_sessions WHERE session_id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Postgres) AppendMessage(ctx context.Context, sessionID, role, content string) (*Message, error) {
	m := Message{ID: newID(), SessionID: sessionID, Role: role, Content: content}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE n8ngest.chat_sessions SET updated_at=now() WHERE session_id=$1`, sessionID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.ErrNotFound
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO n8ngest.chat_messages (message_id, session_id, role, content)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, m.ID, m.SessionID, m.Role, m.Content).Scan(&m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM n8ngest.app_config WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Postgres) SetConfig(ctx context.Context, key, value string, secret bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO n8ngest.app_config (key, value, is_secret)
		VALUES ($1,$2,$3)
		ON CONFLICT (key) DO UPDATE SET
		  value=EXCLUDED.value,
		  is_secret=EXCLUDED.is_secret,
		  updated_at=now()
	`, key, value, secret)
	return err
}

func (s *Postgres) ListConfig(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value, is_secret, updated_at
		FROM n8ngest.app_config
		ORDER BY key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ConfigEntry{}
	for rows.Next() {
		var e ConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.IsSecret, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
