// Package metrics defines the Prometheus metrics of the auth service.
//
// Naming follows Prometheus conventions: an auth_ prefix, _total for
// counters, _seconds for durations. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Revocation reasons.
const (
	ReasonLogout          = "logout"
	ReasonLogoutAll       = "logout_all"
	ReasonReplay          = "replay"
	ReasonAdmin           = "admin"
	ReasonAccountInactive = "account_inactive"
	ReasonUser            = "user"
)

type Metrics struct {
	// LoginsTotal counts login attempts by result.
	LoginsTotal *prometheus.CounterVec

	// LoginDurationSeconds measures credential verification plus session
	// creation.
	LoginDurationSeconds prometheus.Histogram

	// RefreshesTotal counts refresh attempts by result.
	RefreshesTotal *prometheus.CounterVec

	// RefreshReplaysTotal counts superseded refresh tokens presented again.
	RefreshReplaysTotal prometheus.Counter

	// SessionsRevokedTotal counts revoked sessions by reason.
	SessionsRevokedTotal *prometheus.CounterVec

	// StoreErrorsTotal counts session store failures by operation.
	StoreErrorsTotal *prometheus.CounterVec
}

// New creates the metrics and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_logins_total",
				Help: "Total login attempts by result.",
			},
			[]string{"result"},
		),
		LoginDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auth_login_duration_seconds",
				Help:    "Duration of login requests in seconds.",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_refreshes_total",
				Help: "Total refresh attempts by result.",
			},
			[]string{"result"},
		),
		RefreshReplaysTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_refresh_replays_total",
				Help: "Total superseded refresh tokens presented again.",
			},
		),
		SessionsRevokedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_sessions_revoked_total",
				Help: "Total sessions revoked by reason.",
			},
			[]string{"reason"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_store_errors_total",
				Help: "Total session store failures by operation.",
			},
			[]string{"op"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.LoginsTotal,
			m.LoginDurationSeconds,
			m.RefreshesTotal,
			m.RefreshReplaysTotal,
			m.SessionsRevokedTotal,
			m.StoreErrorsTotal,
		)
	}
	return m
}

func (m *Metrics) Login(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(result).Inc()
	m.LoginDurationSeconds.Observe(d.Seconds())
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Replay() {
	if m == nil {
		return
	}
	m.RefreshReplaysTotal.Inc()
}

func (m *Metrics) Revoked(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsRevokedTotal.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(op).Inc()
}
