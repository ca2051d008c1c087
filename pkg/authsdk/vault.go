package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultNamespace prefixes every key a Manager owns.
const DefaultNamespace = "edportal.auth"

// StoredSession is the persisted form of a signed-in session.
type StoredSession struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	SessionID        string    `json:"sessionId"`
	User             UserInfo  `json:"user"`
	RememberMe       bool      `json:"rememberMe"`
	IssuedAt         time.Time `json:"issuedAt"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// AccessLifetime is the access token lifetime as granted.
func (s StoredSession) AccessLifetime() time.Duration {
	return s.AccessExpiresAt.Sub(s.IssuedAt)
}

func newStoredSession(resp *TokenResponse, rememberMe bool, now time.Time) StoredSession {
	return StoredSession{
		AccessToken:      resp.AccessToken,
		RefreshToken:     resp.RefreshToken,
		SessionID:        resp.SessionID,
		User:             resp.User,
		RememberMe:       rememberMe,
		IssuedAt:         now,
		AccessExpiresAt:  now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(time.Duration(resp.RefreshExpiresIn) * time.Second),
	}
}

// Vault owns a namespace of keys in a Backend. Clear removes only those
// keys; everything else in the backend is left alone.
type Vault struct {
	backend Backend
	ns      string
}

func NewVault(backend Backend, namespace string) *Vault {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Vault{backend: backend, ns: namespace}
}

func (v *Vault) sessionKey() string     { return v.ns + ":session" }
func (v *Vault) activityKey() string    { return v.ns + ":last_activity" }
func (v *Vault) signedOutKey() string   { return v.ns + ":signed_out" }
func (v *Vault) refreshLockKey() string { return v.ns + ":refresh_lock" }
func (v *Vault) owns(key string) bool   { return strings.HasPrefix(key, v.ns+":") }

func (v *Vault) keys() []string {
	return []string{v.sessionKey(), v.activityKey(), v.signedOutKey(), v.refreshLockKey()}
}

// Load returns the persisted session. A corrupt value is reported as absent.
func (v *Vault) Load() (StoredSession, bool, error) {
	raw, ok, err := v.backend.Get(v.sessionKey())
	if err != nil || !ok {
		return StoredSession{}, false, err
	}
	var s StoredSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.RefreshToken == "" {
		return StoredSession{}, false, nil
	}
	return s, true, nil
}

// Save persists s and clears any signed-out marker.
func (v *Vault) Save(s StoredSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("authsdk: encode session: %w", err)
	}
	if err := v.backend.Set(v.sessionKey(), string(raw)); err != nil {
		return err
	}
	return v.backend.Delete(v.signedOutKey())
}

// SignOut removes the session and leaves a marker so other instances can
// tell a sign-out from keys wiped by unrelated code. The marker is written
// first so it is visible by the time the session disappears.
func (v *Vault) SignOut(at time.Time) error {
	if err := v.backend.Set(v.signedOutKey(), formatMillis(at)); err != nil {
		return err
	}
	return v.backend.Delete(v.sessionKey(), v.activityKey(), v.refreshLockKey())
}

// SignedOutAt returns the time of the last sign-out, if any.
func (v *Vault) SignedOutAt() (time.Time, bool) {
	raw, ok, err := v.backend.Get(v.signedOutKey())
	if err != nil || !ok {
		return time.Time{}, false
	}
	return parseMillis(raw)
}

// Clear deletes every key of the namespace.
func (v *Vault) Clear() error {
	return v.backend.Delete(v.keys()...)
}

func (v *Vault) SetLastActivity(at time.Time) error {
	return v.backend.Set(v.activityKey(), formatMillis(at))
}

func (v *Vault) LastActivity() (time.Time, bool) {
	raw, ok, err := v.backend.Get(v.activityKey())
	if err != nil || !ok {
		return time.Time{}, false
	}
	return parseMillis(raw)
}

// AcquireRefreshLock takes a short lease so that only one instance sharing
// this vault calls refresh at a time. A lease held by another owner is
// honoured until it expires.
func (v *Vault) AcquireRefreshLock(owner string, now time.Time, ttl time.Duration) (bool, error) {
	key := v.refreshLockKey()
	cur, ok, err := v.backend.Get(key)
	if err != nil {
		return false, err
	}
	if ok {
		holder, until := parseLease(cur)
		if holder != owner && now.Before(until) {
			return false, nil
		}
	} else {
		cur = ""
	}
	return v.backend.CompareAndSwap(key, cur, owner+"|"+formatMillis(now.Add(ttl)))
}

// ReleaseRefreshLock drops the lease if owner still holds it.
func (v *Vault) ReleaseRefreshLock(owner string) error {
	key := v.refreshLockKey()
	cur, ok, err := v.backend.Get(key)
	if err != nil || !ok {
		return err
	}
	if holder, _ := parseLease(cur); holder != owner {
		return nil
	}
	_, err = v.backend.CompareAndSwap(key, cur, "")
	return err
}

// Watch reports changes to this vault's keys.
func (v *Vault) Watch(ctx context.Context) (<-chan string, error) {
	in, err := v.backend.Watch(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan string, cap(in))
	go func() {
		defer close(out)
		for k := range in {
			if v.owns(k) {
				out <- k
			}
		}
	}()
	return out, nil
}

func parseLease(s string) (string, time.Time) {
	owner, until, ok := strings.Cut(s, "|")
	if !ok {
		return "", time.Time{}
	}
	t, _ := parseMillis(until)
	return owner, t
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) (time.Time, bool) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
