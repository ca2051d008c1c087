package domain

import (
	"regexp"
	"strings"
	"time"
)

// SessionRecord is the server-side half of a login. It lives exactly as long
// as its refresh token mapping.
type SessionRecord struct {
	ID             string
	UserID         string
	IssuedAt       time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	RememberMe     bool
	Device         DeviceInfo

	// RefreshFingerprint identifies the current refresh token without
	// storing it.
	RefreshFingerprint string
}

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// DeviceInfo is the request metadata captured at login.
type DeviceInfo struct {
	UserAgent string
	IP        string
	Type      DeviceType
}

var mobileUA = regexp.MustCompile(`(?i)Mobile|Android|iPhone|iPad|iPod|BlackBerry|Windows Phone`)

// ClassifyDevice buckets a user agent. Android without "Mobile" is a tablet.
func ClassifyDevice(userAgent string) DeviceType {
	lower := strings.ToLower(userAgent)
	switch {
	case strings.Contains(lower, "ipad"),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		return DeviceTablet
	case mobileUA.MatchString(userAgent):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

// NewDeviceInfo captures user agent and address and classifies the device.
func NewDeviceInfo(userAgent, ip string) DeviceInfo {
	return DeviceInfo{UserAgent: userAgent, IP: ip, Type: ClassifyDevice(userAgent)}
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// LoginResult is the successful outcome of a credential login.
type LoginResult struct {
	Tokens    TokenPair
	User      UserSummary
	SessionID string
}

// RefreshResult is the outcome of a refresh rotation.
type RefreshResult struct {
	Tokens    TokenPair
	User      UserSummary
	SessionID string
}
