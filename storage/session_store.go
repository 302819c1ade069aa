// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/soothill/tachometer-monitor/pkg/logger"
	"github.com/soothill/tachometer-monitor/pkg/metrics"
	"github.com/soothill/tachometer-monitor/session"
)

// SessionsKey is the slot holding the JSON array of recorded sessions.
const SessionsKey = "tachometerSessions"

// SessionStore keeps the ordered list of recorded sessions in one KV slot.
// The in-memory list is authoritative; a failed write leaves it intact and
// the next successful write replaces the slot wholesale.
type SessionStore struct {
	kv  KV
	key string

	mu       sync.Mutex
	sessions []session.Session
}

// NewSessionStore creates a store over kv. Call Load to populate it.
func NewSessionStore(kv KV) *SessionStore {
	return &SessionStore{kv: kv, key: SessionsKey, sessions: []session.Session{}}
}

// Load reads the slot into memory and returns the sessions. A missing slot
// yields an empty list; an unreadable slot is deleted and also yields an
// empty list.
func (s *SessionStore) Load(ctx context.Context) []session.Session {
	loaded := s.read(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = loaded
	return cloneSessions(s.sessions)
}

// Save replaces the list, sorted most recent first, and writes it out.
// Write failures are logged and swallowed.
func (s *SessionStore) Save(ctx context.Context, sessions []session.Session) {
	sorted := cloneSessions(sessions)
	session.SortByStartDesc(sorted)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = sorted
	s.write(ctx)
}

// Add inserts added, re-sorts, saves, and returns the new list.
func (s *SessionStore) Add(ctx context.Context, added session.Session) []session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]session.Session, 0, len(s.sessions)+1)
	updated = append(updated, s.sessions...)
	updated = append(updated, added)
	session.SortByStartDesc(updated)
	s.sessions = updated

	s.write(ctx)
	return cloneSessions(s.sessions)
}

// Sessions returns the in-memory list.
func (s *SessionStore) Sessions() []session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSessions(s.sessions)
}

func (s *SessionStore) read(ctx context.Context) []session.Session {
	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return []session.Session{}
	}
	if err != nil {
		logger.Error().Err(err).Str("key", s.key).Msg("Failed to load sessions from store")
		return []session.Session{}
	}

	var sessions []session.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		metrics.StoreCorruptions.Inc()
		logger.Error().Err(err).Str("key", s.key).Msg("Stored sessions unreadable, discarding")
		if delErr := s.kv.Delete(ctx, s.key); delErr != nil {
			logger.Error().Err(delErr).Str("key", s.key).Msg("Failed to clear corrupt session slot")
		}
		return []session.Session{}
	}

	if sessions == nil {
		sessions = []session.Session{}
	}
	logger.Info().Int("count", len(sessions)).Msg("Loaded sessions")
	return sessions
}

// write encodes s.sessions to the slot. Caller holds s.mu.
func (s *SessionStore) write(ctx context.Context) {
	data, err := json.Marshal(s.sessions)
	if err != nil {
		metrics.StoreWriteErrors.Inc()
		logger.Error().Err(err).Msg("Failed to encode sessions")
		return
	}

	if err := s.kv.Set(ctx, s.key, data); err != nil {
		metrics.StoreWriteErrors.Inc()
		logger.Error().Err(err).Str("key", s.key).Msg("Failed to save sessions to store")
		return
	}

	logger.Debug().Int("count", len(s.sessions)).Int("bytes", len(data)).Msg("Saved sessions")
}

// cloneSessions copies the list; Session values are never mutated after
// creation so their Data slices are shared.
func cloneSessions(sessions []session.Session) []session.Session {
	out := make([]session.Session, len(sessions))
	copy(out, sessions)
	return out
}
