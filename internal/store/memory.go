package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/R0m1k3/n8ngest/internal/apperr"
)

// Memory keeps everything in process. Returned values are copies.
type Memory struct {
	mu       sync.RWMutex
	now      func() time.Time
	seq      int
	sessions map[string]*memSession
	config   map[string]ConfigEntry
}

type memSession struct {
	Session
	order int
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		sessions: map[string]*memSession{},
		config:   map[string]ConfigEntry{},
	}
}

func (m *Memory) Close() {}

func (m *Memory) CreateSession(_ context.Context, title string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now().UTC()
	m.seq++
	s := &memSession{
		Session: Session{ID: newID(), Title: titleOrDefault(title), CreatedAt: ts, UpdatedAt: ts},
		order:   m.seq,
	}
	m.sessions[s.ID] = s
	out := s.summary()
	return &out, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := s.summary()
	out.Messages = append([]Message{}, s.Messages...)
	return &out, nil
}

func (m *Memory) ListSessions(context.Context) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*memSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].order > all[j].order
	})
	out := make([]Session, 0, len(all))
	for _, s := range all {
		out = append(out, s.summary())
	}
	return out, nil
}

func (m *Memory) RenameSession(_ context.Context, id, title string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	s.Title = titleOrDefault(title)
	s.UpdatedAt = m.now().UTC()
	out := s.summary()
	return &out, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, sessionID, role, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	ts := m.now().UTC()
	msg := Message{ID: newID(), SessionID: sessionID, Role: role, Content: content, CreatedAt: ts}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = ts
	return &msg, nil
}

func (m *Memory) GetConfig(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.config[key]
	return e.Value, ok, nil
}

func (m *Memory) SetConfig(_ context.Context, key, value string, secret bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = ConfigEntry{Key: key, Value: value, IsSecret: secret, UpdatedAt: m.now().UTC()}
	return nil
}

func (m *Memory) ListConfig(context.Context) ([]ConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConfigEntry, 0, len(m.config))
	for _, e := range m.config {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memSession) summary() Session {
	out := s.Session
	out.Messages = nil
	out.MessageCount = len(s.Messages)
	return out
}
