package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/metrics"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/edportal/sessionauth/pkg/idx"
	"github.com/edportal/sessionauth/pkg/jwtx"
	"github.com/edportal/sessionauth/pkg/rbac"
	"github.com/edportal/sessionauth/pkg/slogx"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrInvalidCredentials  = errors.New("invalid_credentials")
	ErrAccountDisabled     = errors.New("account_disabled")
	ErrInvalidRefreshToken = errors.New("invalid_refresh_token")
	ErrSessionRevoked      = errors.New("session_revoked")
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrStoreUnavailable    = errors.New("store_unavailable")
)

// Codec is the part of jwtx.Codec the service needs.
type Codec interface {
	Issue(claims jwtx.Claims, ttl time.Duration) (string, error)
	VerifyRefresh(token string) (jwtx.Claims, error)
	Now() time.Time
}

// TTLPolicy holds the token lifetimes for normal and remember-me sessions.
type TTLPolicy struct {
	Access          time.Duration
	Refresh         time.Duration
	RememberAccess  time.Duration
	RememberRefresh time.Duration
}

func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Access:          jwtx.DefaultAccessTokenTTL,
		Refresh:         jwtx.DefaultRefreshTokenTTL,
		RememberAccess:  jwtx.RememberAccessTokenTTL,
		RememberRefresh: jwtx.RememberRefreshTokenTTL,
	}
}

// For returns the access and refresh lifetimes for a session.
func (p TTLPolicy) For(rememberMe bool) (access, refresh time.Duration) {
	if rememberMe {
		return p.RememberAccess, p.RememberRefresh
	}
	return p.Access, p.Refresh
}

// LoginRequest is a credential login attempt.
type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
	Device     domain.DeviceInfo
}

// AuthService logs users in, rotates refresh tokens and revokes sessions.
// It holds no locks; concurrent refreshes of one session are settled by the
// session store's compare-and-swap.
type AuthService struct {
	Directory store.Directory
	Sessions  store.Sessions
	Codec     Codec
	Metrics   *metrics.Metrics
	TTL       TTLPolicy
}

// Login verifies credentials, resolves the role, creates a session and issues
// a token pair whose refresh token is the one recorded in the store.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (domain.LoginResult, error) {
	start := time.Now()
	l := slogx.FromContext(ctx)

	res, stage, err := s.login(ctx, req)
	if err != nil {
		l.Info("login rejected",
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
		s.Metrics.Login(loginResult(err), time.Since(start))
		return domain.LoginResult{}, err
	}

	l.Info("login succeeded",
		slog.String("user_id", res.User.ID),
		slog.String("sid", res.SessionID),
		slog.String("role", string(res.User.Role)),
		slog.Bool("remember_me", req.RememberMe),
		slog.String("device_type", string(req.Device.Type)),
	)
	s.Metrics.Login("success", time.Since(start))
	return res, nil
}

// login walks credentials_submitted, validated, roles_resolved,
// session_created and tokens_issued. The returned stage names where it
// stopped.
func (s *AuthService) login(ctx context.Context, req LoginRequest) (domain.LoginResult, string, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return domain.LoginResult{}, "credentials_submitted", ErrInvalidRequest
	}

	ident, err := s.Directory.VerifyCredentials(ctx, email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrPasswordMismatch):
			return domain.LoginResult{}, "validated", ErrInvalidCredentials
		default:
			s.Metrics.StoreError("verify_credentials")
			slogx.FromContext(ctx).Error("directory lookup failed", slog.String("error", err.Error()))
			return domain.LoginResult{}, "validated", ErrStoreUnavailable
		}
	}
	if !ident.Active() {
		return domain.LoginResult{}, "validated", ErrAccountDisabled
	}
	if cryptox.NeedsRehash(ident.PasswordHash) {
		slogx.FromContext(ctx).Debug("legacy password hash", slog.String("user_id", ident.ID))
	}

	rp := rbac.Resolve(ident.Flags)

	accessTTL, refreshTTL := s.TTL.For(req.RememberMe)
	now := s.now()
	sid := idx.NewAt(now).String()

	refresh, err := s.issueRefresh(ident.ID, sid, now, refreshTTL)
	if err != nil {
		return domain.LoginResult{}, "session_created", err
	}

	_, err = s.Sessions.CreateSession(ctx, store.NewSession{
		ID:           sid,
		UserID:       ident.ID,
		RefreshToken: refresh,
		TTL:          refreshTTL,
		RememberMe:   req.RememberMe,
		Device:       req.Device,
		IssuedAt:     now,
	})
	if err != nil {
		s.Metrics.StoreError("create_session")
		slogx.FromContext(ctx).Error("create session failed", slog.String("error", err.Error()))
		return domain.LoginResult{}, "session_created", ErrStoreUnavailable
	}

	access, err := s.issueAccess(ident, rp, sid, now, accessTTL)
	if err != nil {
		s.discardSession(ctx, sid)
		return domain.LoginResult{}, "tokens_issued", err
	}

	return domain.LoginResult{
		Tokens: domain.TokenPair{
			AccessToken:   access,
			RefreshToken:  refresh,
			AccessTTL:     accessTTL,
			RefreshTTL:    refreshTTL,
			AccessExpiry:  now.Add(accessTTL),
			RefreshExpiry: now.Add(refreshTTL),
		},
		User:      domain.Summarize(ident, rp),
		SessionID: sid,
	}, "tokens_issued", nil
}

// Refresh rotates a refresh token. The role is resolved again from the
// directory so permission changes take effect on the next access token.
//
// A superseded token is treated as stolen: every session of the user is
// revoked and the caller sees ErrInvalidRefreshToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domain.RefreshResult, error) {
	res, err := s.refresh(ctx, refreshToken)
	s.Metrics.Refresh(refreshResult(err))
	return res, err
}

func (s *AuthService) refresh(ctx context.Context, refreshToken string) (domain.RefreshResult, error) {
	l := slogx.FromContext(ctx)

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.RefreshResult{}, ErrInvalidRequest
	}

	claims, err := s.Codec.VerifyRefresh(refreshToken)
	if err != nil {
		l.Info("refresh token rejected", slog.String("error", err.Error()))
		return domain.RefreshResult{}, ErrInvalidRefreshToken
	}
	if claims.SID == "" {
		return domain.RefreshResult{}, ErrInvalidRefreshToken
	}

	rec, err := s.Sessions.GetSession(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.RefreshResult{}, ErrSessionRevoked
		}
		return domain.RefreshResult{}, s.storeFailure(ctx, "get_session", err)
	}
	if rec.UserID != claims.Subject {
		l.Warn("refresh token subject does not own session",
			slog.String("sid", claims.SID),
			slog.String("user_id", claims.Subject),
		)
		return domain.RefreshResult{}, ErrInvalidRefreshToken
	}

	ident, err := s.Directory.GetIdentity(ctx, rec.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.revokeAll(ctx, rec.UserID, metrics.ReasonAccountInactive)
		return domain.RefreshResult{}, ErrSessionRevoked
	case err != nil:
		return domain.RefreshResult{}, s.storeFailure(ctx, "get_identity", err)
	case !ident.Active():
		s.revokeAll(ctx, rec.UserID, metrics.ReasonAccountInactive)
		return domain.RefreshResult{}, ErrSessionRevoked
	}

	rp := rbac.Resolve(ident.Flags)
	accessTTL, refreshTTL := s.TTL.For(rec.RememberMe)
	now := s.now()

	next, err := s.issueRefresh(ident.ID, rec.ID, now, refreshTTL)
	if err != nil {
		return domain.RefreshResult{}, err
	}

	err = s.Sessions.RotateRefreshToken(ctx, rec.ID, refreshToken, next, refreshTTL)
	switch {
	case errors.Is(err, store.ErrStaleRefreshToken):
		s.Metrics.Replay()
		l.Warn("refresh token replay detected",
			slog.String("sid", rec.ID),
			slog.String("user_id", rec.UserID),
			slog.String("refresh_fp", cryptox.FingerprintToken(refreshToken)),
		)
		s.Metrics.Revoked(metrics.ReasonReplay, 1)
		s.revokeAll(ctx, rec.UserID, metrics.ReasonReplay)
		return domain.RefreshResult{}, ErrInvalidRefreshToken
	case errors.Is(err, store.ErrNotFound):
		return domain.RefreshResult{}, ErrSessionRevoked
	case err != nil:
		return domain.RefreshResult{}, s.storeFailure(ctx, "rotate_refresh_token", err)
	}

	access, err := s.issueAccess(ident, rp, rec.ID, now, accessTTL)
	if err != nil {
		return domain.RefreshResult{}, err
	}

	l.Debug("refresh token rotated", slog.String("sid", rec.ID), slog.String("user_id", rec.UserID))

	return domain.RefreshResult{
		Tokens: domain.TokenPair{
			AccessToken:   access,
			RefreshToken:  next,
			AccessTTL:     accessTTL,
			RefreshTTL:    refreshTTL,
			AccessExpiry:  now.Add(accessTTL),
			RefreshExpiry: now.Add(refreshTTL),
		},
		User:      domain.Summarize(ident, rp),
		SessionID: rec.ID,
	}, nil
}

// Logout revokes one session. Unknown or already revoked sessions are not an
// error.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.Sessions.RevokeSession(ctx, sessionID); err != nil {
		return s.storeFailure(ctx, "revoke_session", err)
	}
	s.Metrics.Revoked(metrics.ReasonLogout, 1)
	slogx.FromContext(ctx).Info("session revoked", slog.String("sid", sessionID))
	return nil
}

// LogoutAll revokes every session of the user and reports how many were live.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	return s.revokeAllFor(ctx, userID, metrics.ReasonLogoutAll)
}

// RevokeUserSessions is LogoutAll on behalf of an administrator.
func (s *AuthService) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	return s.revokeAllFor(ctx, userID, metrics.ReasonAdmin)
}

func (s *AuthService) revokeAllFor(ctx context.Context, userID, reason string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidRequest
	}
	n, err := s.Sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, s.storeFailure(ctx, "revoke_all", err)
	}
	s.Metrics.Revoked(reason, n)
	slogx.FromContext(ctx).Info("user sessions revoked",
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Int("count", n),
	)
	return n, nil
}

// revokeAll is the best-effort cascade used inside refresh. The caller has
// already decided to reject the request.
func (s *AuthService) revokeAll(ctx context.Context, userID, reason string) {
	if _, err := s.revokeAllFor(ctx, userID, reason); err != nil {
		slogx.FromContext(ctx).Error("revoke all sessions failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// discardSession removes a session whose tokens never reached the caller.
func (s *AuthService) discardSession(ctx context.Context, sid string) {
	if err := s.Sessions.RevokeSession(ctx, sid); err != nil {
		s.Metrics.StoreError("discard_session")
		slogx.FromContext(ctx).Error("discard unissued session failed",
			slog.String("sid", sid),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuthService) storeFailure(ctx context.Context, op string, err error) error {
	s.Metrics.StoreError(op)
	slogx.FromContext(ctx).Error("session store failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return ErrStoreUnavailable
}

func (s *AuthService) now() time.Time {
	return s.Codec.Now().Truncate(time.Second)
}

func (s *AuthService) issueRefresh(userID, sid string, now time.Time, ttl time.Duration) (string, error) {
	return s.Codec.Issue(jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		SID:  sid,
		Type: jwtx.TokenTypeRefresh,
	}, ttl)
}

func (s *AuthService) issueAccess(ident domain.Identity, rp rbac.RolePermissionSet, sid string, now time.Time, ttl time.Duration) (string, error) {
	return s.Codec.Issue(jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  ident.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Email:         ident.Email,
		Name:          ident.Name,
		Role:          string(rp.Role),
		Permissions:   rp.Permissions,
		InstitutionID: ident.InstitutionID,
		SID:           sid,
		Type:          jwtx.TokenTypeAccess,
	}, ttl)
}

func loginResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}

func refreshResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid_refresh_token"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
