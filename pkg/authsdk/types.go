package authsdk

import "time"

// ============================================================================
// Login / Refresh
// ============================================================================

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

// UserInfo is the identity summary returned after login and by /auth/me.
type UserInfo struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	Name          string   `json:"name"`
	Role          string   `json:"role"`
	Permissions   []string `json:"permissions"`
	InstitutionID string   `json:"institutionId,omitempty"`
}

// TokenResponse is returned by both login and refresh.
type TokenResponse struct {
	// AccessToken is the HS256 JWT sent as "Authorization: Bearer".
	AccessToken string `json:"accessToken"`

	// RefreshToken replaces the one presented; the old one is dead.
	RefreshToken string `json:"refreshToken"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expiresIn"`

	// RefreshExpiresIn is the refresh token lifetime in seconds.
	RefreshExpiresIn int `json:"refreshExpiresIn"`

	SessionID string   `json:"sessionId"`
	User      UserInfo `json:"user"`
}

// RefreshRequest is the body of POST /auth/refresh. The refresh_token cookie
// is used when the body is empty.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// StatusResponse is returned by endpoints with nothing else to say.
type StatusResponse struct {
	Status string `json:"status"`
}

// LogoutAllResponse reports how many sessions were revoked.
type LogoutAllResponse struct {
	Revoked int `json:"revoked"`
}

// ============================================================================
// Sessions
// ============================================================================

// MeResponse is returned by GET /auth/me. It reflects the access token, not
// a fresh directory lookup.
type MeResponse struct {
	User      UserInfo  `json:"user"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionInfo describes one device session.
type SessionInfo struct {
	ID             string    `json:"id"`
	IssuedAt       time.Time `json:"issuedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	RememberMe     bool      `json:"rememberMe"`
	DeviceType     string    `json:"deviceType"`
	UserAgent      string    `json:"userAgent,omitempty"`
	IP             string    `json:"ip,omitempty"`

	// Current marks the session the request was made with.
	Current bool `json:"current"`
}

// SessionListResponse is returned by GET /auth/sessions.
type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// ============================================================================
// Health
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results for critical dependencies (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
type HealthChecks struct {
	// SessionStore is "ok" or the ping error
	SessionStore string `json:"session_store"`

	// Directory is "ok" or the ping error
	Directory string `json:"directory"`
}
