// Package redis stores sessions in Redis. Each session is a hash with a TTL
// matching its refresh token, alongside a refresh fingerprint key and a
// per-user set. Multi-key updates run as Lua scripts so they are atomic.
package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/edportal/sessionauth/pkg/idx"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "auth:"

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// Timeout bounds dial, read and write.
	Timeout time.Duration
}

type Option func(*Sessions)

// WithClock overrides the clock used for issued and activity timestamps.
// Expiry itself is always enforced by Redis.
func WithClock(now func() time.Time) Option {
	return func(s *Sessions) { s.now = now }
}

type Sessions struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.Sessions = (*Sessions)(nil)

// Open connects and pings Redis.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Sessions, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, unavailable("ping", err)
	}

	return New(rdb, cfg.KeyPrefix, opts...), nil
}

// New wraps an existing client. An empty prefix uses DefaultKeyPrefix.
func New(rdb redis.UniversalClient, prefix string, opts ...Option) *Sessions {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	s := &Sessions{rdb: rdb, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sessions) sessionKey(id string) string  { return s.prefix + "session:" + id }
func (s *Sessions) refreshKey(fp string) string  { return s.prefix + "refresh:" + fp }
func (s *Sessions) userKey(userID string) string { return s.prefix + "user_sessions:" + userID }

func (s *Sessions) CreateSession(ctx context.Context, ns store.NewSession) (string, error) {
	now := s.now().UTC()
	id := ns.ID
	if id == "" {
		id = idx.NewAt(now).String()
	}
	issued := ns.IssuedAt
	if issued.IsZero() {
		issued = now
	}
	fp := cryptox.FingerprintToken(ns.RefreshToken)

	args := []any{
		ns.TTL.Milliseconds(), id,
		"user_id", ns.UserID,
		"issued_at", issued.UnixMilli(),
		"last_activity_at", issued.UnixMilli(),
		"expires_at", now.Add(ns.TTL).UnixMilli(),
		"remember_me", boolField(ns.RememberMe),
		"user_agent", ns.Device.UserAgent,
		"ip", ns.Device.IP,
		"device_type", string(ns.Device.Type),
		"refresh_fp", fp,
	}
	keys := []string{s.sessionKey(id), s.refreshKey(fp), s.userKey(ns.UserID)}

	created, err := createScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return "", unavailable("create session", err)
	}
	if created == 0 {
		return "", store.ErrAlreadyExists
	}
	return id, nil
}

func (s *Sessions) GetSession(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return domain.SessionRecord{}, unavailable("get session", err)
	}
	if len(fields) == 0 {
		return domain.SessionRecord{}, store.ErrNotFound
	}
	return decodeSession(sessionID, fields), nil
}

func (s *Sessions) RotateRefreshToken(ctx context.Context, sessionID, oldToken, newToken string, ttl time.Duration) error {
	now := s.now().UTC()
	oldFP := cryptox.FingerprintToken(oldToken)
	newFP := cryptox.FingerprintToken(newToken)

	res, err := rotateScript.Run(ctx, s.rdb,
		[]string{s.sessionKey(sessionID), s.refreshKey(newFP)},
		oldFP, newFP, ttl.Milliseconds(), now.UnixMilli(), now.Add(ttl).UnixMilli(), s.prefix, sessionID,
	).Int()
	if err != nil {
		return unavailable("rotate refresh token", err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return store.ErrNotFound
	default:
		return store.ErrStaleRefreshToken
	}
}

func (s *Sessions) RevokeSession(ctx context.Context, sessionID string) error {
	err := revokeScript.Run(ctx, s.rdb, []string{s.sessionKey(sessionID)}, s.prefix, sessionID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("revoke session", err)
	}
	return nil
}

func (s *Sessions) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := revokeAllScript.Run(ctx, s.rdb, []string{s.userKey(userID)}, s.prefix).Int()
	if err != nil {
		return 0, unavailable("revoke user sessions", err)
	}
	return n, nil
}

func (s *Sessions) Touch(ctx context.Context, sessionID string, at time.Time) error {
	ok, err := touchScript.Run(ctx, s.rdb, []string{s.sessionKey(sessionID)}, at.UnixMilli()).Int()
	if err != nil {
		return unavailable("touch session", err)
	}
	if ok == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Sessions) ListUserSessions(ctx context.Context, userID string) ([]domain.SessionRecord, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, unavailable("list user sessions", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("list user sessions", err)
	}

	var (
		out      []domain.SessionRecord
		dangling []any
	)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			dangling = append(dangling, ids[i])
			continue
		}
		out = append(out, decodeSession(ids[i], fields))
	}
	if len(dangling) > 0 {
		if err := s.rdb.SRem(ctx, s.userKey(userID), dangling...).Err(); err != nil {
			return nil, unavailable("prune user sessions", err)
		}
	}

	slices.SortFunc(out, func(a, b domain.SessionRecord) int {
		return cmp.Or(b.LastActivityAt.Compare(a.LastActivityAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Sessions) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *Sessions) Close() error { return s.rdb.Close() }

func decodeSession(id string, f map[string]string) domain.SessionRecord {
	return domain.SessionRecord{
		ID:             id,
		UserID:         f["user_id"],
		IssuedAt:       msField(f["issued_at"]),
		LastActivityAt: msField(f["last_activity_at"]),
		ExpiresAt:      msField(f["expires_at"]),
		RememberMe:     f["remember_me"] == "1",
		Device: domain.DeviceInfo{
			UserAgent: f["user_agent"],
			IP:        f["ip"],
			Type:      domain.DeviceType(f["device_type"]),
		},
		RefreshFingerprint: f["refresh_fp"],
	}
}

func msField(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, store.ErrUnavailable, err)
}
