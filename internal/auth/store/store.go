package store

import (
	"context"
	"errors"
	"time"

	"github.com/edportal/sessionauth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrStaleRefreshToken is returned by RotateRefreshToken when the
	// presented token is no longer the one on record. The session has
	// already been revoked when this is returned.
	ErrStaleRefreshToken = errors.New("store: stale refresh token")

	// ErrUnavailable wraps transport failures of the backing store.
	ErrUnavailable = errors.New("store: unavailable")

	ErrPasswordMismatch = errors.New("store: password mismatch")
)

// NewSession is the input to CreateSession.
type NewSession struct {
	// ID is generated by the store when empty.
	ID           string
	UserID       string
	RefreshToken string
	TTL          time.Duration
	RememberMe   bool
	Device       domain.DeviceInfo
	IssuedAt     time.Time
}

// Sessions is the session store. Every method is atomic with respect to a
// single session. Refresh tokens are passed raw and indexed by fingerprint.
type Sessions interface {
	// CreateSession writes the record, the refresh mapping and the user set
	// membership together, all expiring after TTL.
	CreateSession(ctx context.Context, s NewSession) (string, error)

	// GetSession returns ErrNotFound for missing or expired sessions.
	GetSession(ctx context.Context, sessionID string) (domain.SessionRecord, error)

	// RotateRefreshToken swaps oldToken for newToken and renews the TTL. If
	// oldToken is not current the session is revoked and
	// ErrStaleRefreshToken returned. A missing session is ErrNotFound.
	RotateRefreshToken(ctx context.Context, sessionID, oldToken, newToken string, ttl time.Duration) error

	// RevokeSession is idempotent.
	RevokeSession(ctx context.Context, sessionID string) error

	// RevokeAllForUser revokes every session of the user and reports how many
	// were live.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)

	// Touch records activity without extending the TTL.
	Touch(ctx context.Context, sessionID string, at time.Time) error

	// ListUserSessions returns the live sessions of a user, most recently
	// active first, and prunes dangling set members.
	ListUserSessions(ctx context.Context, userID string) ([]domain.SessionRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// Directory is the read-only view of the portal's user table.
type Directory interface {
	// VerifyCredentials looks the account up by email and checks the
	// password. Unknown emails are ErrNotFound, bad passwords
	// ErrPasswordMismatch.
	VerifyCredentials(ctx context.Context, email, password string) (domain.Identity, error)

	GetIdentity(ctx context.Context, userID string) (domain.Identity, error)

	Ping(ctx context.Context) error
	Close() error
}
