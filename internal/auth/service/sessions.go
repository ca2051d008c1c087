package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/metrics"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/edportal/sessionauth/pkg/slogx"
)

// Touch records activity on a session. It never extends the session's
// lifetime; only refresh rotation does.
func (s *AuthService) Touch(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidRequest
	}
	err := s.Sessions.Touch(ctx, sessionID, s.Codec.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionRevoked
		}
		return s.storeFailure(ctx, "touch", err)
	}
	return nil
}

// ListSessions returns the user's live sessions, most recently active first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]domain.SessionRecord, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	sessions, err := s.Sessions.ListUserSessions(ctx, userID)
	if err != nil {
		return nil, s.storeFailure(ctx, "list_sessions", err)
	}
	return sessions, nil
}

// RevokeOwnSession revokes one of the user's sessions, typically another
// device. A session owned by someone else is reported as not found.
func (s *AuthService) RevokeOwnSession(ctx context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return ErrInvalidRequest
	}

	rec, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return s.storeFailure(ctx, "get_session", err)
	}
	if rec.UserID != userID {
		slogx.FromContext(ctx).Warn("attempt to revoke foreign session",
			slog.String("sid", sessionID),
			slog.String("user_id", userID),
		)
		return ErrSessionNotFound
	}

	if err := s.Sessions.RevokeSession(ctx, sessionID); err != nil {
		return s.storeFailure(ctx, "revoke_session", err)
	}
	s.Metrics.Revoked(metrics.ReasonUser, 1)
	slogx.FromContext(ctx).Info("session revoked by owner", slog.String("sid", sessionID))
	return nil
}

// SessionActive reports whether sessionID is live and owned by userID.
// Store failures are returned so the gate can fail closed.
func (s *AuthService) SessionActive(ctx context.Context, sessionID, userID string) (bool, error) {
	rec, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		s.Metrics.StoreError("get_session")
		return false, err
	}
	return rec.UserID == userID, nil
}
