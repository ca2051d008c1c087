package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Login("success", 20*time.Millisecond)
	m.Login("invalid_credentials", time.Millisecond)
	m.Refresh("success")
	m.Replay()
	m.Revoked(ReasonReplay, 3)
	m.Revoked(ReasonLogout, 0)
	m.StoreError("create_session")

	require.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues("invalid_credentials")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshesTotal.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshReplaysTotal))
	require.Equal(t, 3.0, testutil.ToFloat64(m.SessionsRevokedTotal.WithLabelValues(ReasonReplay)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("create_session")))

	n, err := testutil.GatherAndCount(reg, "auth_sessions_revoked_total")
	require.NoError(t, err)
	require.Equal(t, 1, n, "zero revocations are not recorded")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Login("success", time.Second)
		m.Refresh("success")
		m.Replay()
		m.Revoked(ReasonLogout, 1)
		m.StoreError("touch")
	})
}
