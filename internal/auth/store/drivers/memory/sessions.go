// Package memory is a process-local store driver. It backs single-node
// development and the service tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/edportal/sessionauth/pkg/idx"
)

type Option func(*Sessions)

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Sessions) { s.now = now }
}

// Sessions implements store.Sessions with expiry evaluated lazily on access.
type Sessions struct {
	mu  sync.Mutex
	now func() time.Time

	sessions map[string]domain.SessionRecord
	refresh  map[string]string // fingerprint -> session id
	users    map[string]map[string]struct{}
}

var _ store.Sessions = (*Sessions)(nil)

func NewSessions(opts ...Option) *Sessions {
	s := &Sessions{
		now:      time.Now,
		sessions: make(map[string]domain.SessionRecord),
		refresh:  make(map[string]string),
		users:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sessions) CreateSession(_ context.Context, ns store.NewSession) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	id := ns.ID
	if id == "" {
		id = idx.NewAt(now).String()
	}
	if _, ok := s.live(id, now); ok {
		return "", store.ErrAlreadyExists
	}

	issued := ns.IssuedAt
	if issued.IsZero() {
		issued = now
	}

	fp := cryptox.FingerprintToken(ns.RefreshToken)
	s.sessions[id] = domain.SessionRecord{
		ID:                 id,
		UserID:             ns.UserID,
		IssuedAt:           issued.UTC(),
		LastActivityAt:     issued.UTC(),
		ExpiresAt:          now.Add(ns.TTL),
		RememberMe:         ns.RememberMe,
		Device:             ns.Device,
		RefreshFingerprint: fp,
	}
	s.refresh[fp] = id

	set, ok := s.users[ns.UserID]
	if !ok {
		set = make(map[string]struct{})
		s.users[ns.UserID] = set
	}
	set[id] = struct{}{}

	return id, nil
}

func (s *Sessions) GetSession(_ context.Context, sessionID string) (domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(sessionID, s.now())
	if !ok {
		return domain.SessionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Sessions) RotateRefreshToken(_ context.Context, sessionID, oldToken, newToken string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec, ok := s.live(sessionID, now)
	if !ok {
		return store.ErrNotFound
	}

	if rec.RefreshFingerprint != cryptox.FingerprintToken(oldToken) {
		s.drop(rec)
		return store.ErrStaleRefreshToken
	}

	delete(s.refresh, rec.RefreshFingerprint)
	rec.RefreshFingerprint = cryptox.FingerprintToken(newToken)
	rec.LastActivityAt = now
	rec.ExpiresAt = now.Add(ttl)
	s.sessions[sessionID] = rec
	s.refresh[rec.RefreshFingerprint] = sessionID
	return nil
}

func (s *Sessions) RevokeSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.sessions[sessionID]; ok {
		s.drop(rec)
	}
	return nil
}

func (s *Sessions) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id := range s.users[userID] {
		if rec, ok := s.live(id, now); ok {
			s.drop(rec)
			n++
		}
	}
	delete(s.users, userID)
	return n, nil
}

func (s *Sessions) Touch(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(sessionID, s.now())
	if !ok {
		return store.ErrNotFound
	}
	rec.LastActivityAt = at.UTC()
	s.sessions[sessionID] = rec
	return nil
}

func (s *Sessions) ListUserSessions(_ context.Context, userID string) ([]domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []domain.SessionRecord
	for id := range s.users[userID] {
		if rec, ok := s.live(id, now); ok {
			out = append(out, rec)
		} else {
			delete(s.users[userID], id)
		}
	}

	slices.SortFunc(out, func(a, b domain.SessionRecord) int {
		return cmp.Or(b.LastActivityAt.Compare(a.LastActivityAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Sessions) Ping(context.Context) error { return nil }

func (s *Sessions) Close() error { return nil }

// live returns the record if it exists and has not expired, purging it
// otherwise. Callers hold mu.
func (s *Sessions) live(id string, now time.Time) (domain.SessionRecord, bool) {
	rec, ok := s.sessions[id]
	if !ok {
		return domain.SessionRecord{}, false
	}
	if !now.Before(rec.ExpiresAt) {
		s.drop(rec)
		return domain.SessionRecord{}, false
	}
	return rec, true
}

// drop removes all three halves of a session. Callers hold mu.
func (s *Sessions) drop(rec domain.SessionRecord) {
	delete(s.sessions, rec.ID)
	if s.refresh[rec.RefreshFingerprint] == rec.ID {
		delete(s.refresh, rec.RefreshFingerprint)
	}
	if set, ok := s.users[rec.UserID]; ok {
		delete(set, rec.ID)
		if len(set) == 0 {
			delete(s.users, rec.UserID)
		}
	}
}
