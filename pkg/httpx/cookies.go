package httpx

import (
	"net/http"
	"time"
)

const (
	CookieAccessToken  = "auth_token"
	CookieRefreshToken = "refresh_token"
	CookieSessionID    = "session_id"
	CookieUserRole     = "user_role"
)

// CookieConfig controls the attributes shared by all session cookies.
type CookieConfig struct {
	Domain string
	// Secure is set in production.
	Secure bool
}

// SessionCookies is the set of values mirrored into cookies after login or
// refresh.
type SessionCookies struct {
	AccessToken  string
	AccessTTL    time.Duration
	RefreshToken string
	RefreshTTL   time.Duration
	SessionID    string
	Role         string
}

// SetSessionCookies writes the token cookies. user_role is readable by
// scripts for client-side route gating and is never trusted by the server.
func SetSessionCookies(w http.ResponseWriter, cfg CookieConfig, s SessionCookies) {
	http.SetCookie(w, cfg.cookie(CookieAccessToken, s.AccessToken, s.AccessTTL, true))
	if s.RefreshToken != "" {
		http.SetCookie(w, cfg.cookie(CookieRefreshToken, s.RefreshToken, s.RefreshTTL, true))
	}
	if s.SessionID != "" {
		http.SetCookie(w, cfg.cookie(CookieSessionID, s.SessionID, s.RefreshTTL, true))
	}
	if s.Role != "" {
		http.SetCookie(w, cfg.cookie(CookieUserRole, s.Role, s.AccessTTL, false))
	}
}

// ClearSessionCookies expires every session cookie.
func ClearSessionCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{CookieAccessToken, CookieRefreshToken, CookieSessionID} {
		c := cfg.cookie(name, "", 0, true)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
	c := cfg.cookie(CookieUserRole, "", 0, false)
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (cfg CookieConfig) cookie(name, value string, ttl time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: httpOnly,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
