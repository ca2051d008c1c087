package authsdk

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "correct horse"

var testRetry = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
	Multiplier:      2,
	Jitter:          0,
	MinSpacing:      500 * time.Millisecond,
}

type logoutRecorder struct {
	mu     sync.Mutex
	events []ForcedLogout
}

func (r *logoutRecorder) record(ev ForcedLogout) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *logoutRecorder) all() []ForcedLogout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ForcedLogout(nil), r.events...)
}

type harness struct {
	srv     *fakeServer
	clock   *fakeClock
	durable *MemoryBackend
}

func newHarness(t *testing.T) *harness {
	return &harness{srv: newFakeServer(t), clock: newFakeClock(), durable: NewMemoryBackend()}
}

func (h *harness) manager(t *testing.T, mutate ...func(*ManagerConfig)) (*Manager, *logoutRecorder) {
	t.Helper()
	rec := &logoutRecorder{}
	cfg := ManagerConfig{
		Client:    NewSDKClient(h.srv.URL),
		Durable:   h.durable,
		Ephemeral: NewMemoryBackend(),
		Clock:     h.clock,
		Retry:     testRetry,
		OnLogout:  rec.record,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Close)
	return m, rec
}

func withEphemeral(b Backend) func(*ManagerConfig) {
	return func(c *ManagerConfig) { c.Ephemeral = b }
}

func sessionKey() string { return DefaultNamespace + ":session" }

func TestManagerLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("default goes to ephemeral storage", func(t *testing.T) {
		h := newHarness(t)
		eph := NewMemoryBackend()
		m, _ := h.manager(t, withEphemeral(eph))

		assert.Equal(t, StateAnonymous, m.State())
		assert.False(t, m.IsAuthenticated())

		user, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)
		assert.Equal(t, "TEACHER", user.Role)
		assert.Equal(t, StateAuthenticated, m.State())
		assert.True(t, m.IsAuthenticated())
		assert.Equal(t, "sid-1", m.SessionID())

		token, ok := m.CurrentToken()
		require.True(t, ok)
		assert.Equal(t, "access-1", token)

		_, ok, _ = eph.Get(sessionKey())
		assert.True(t, ok)
		_, ok, _ = h.durable.Get(sessionKey())
		assert.False(t, ok)

		h.srv.mu.Lock()
		assert.True(t, h.srv.instances[m.InstanceID()], "requests carry the instance id")
		h.srv.mu.Unlock()
	})

	t.Run("remember me goes to durable storage", func(t *testing.T) {
		h := newHarness(t)
		eph := NewMemoryBackend()
		m, _ := h.manager(t, withEphemeral(eph))

		_, err := m.Login(ctx, "frizzle@school.edu", password, true)
		require.NoError(t, err)

		s, ok, err := NewVault(h.durable, "").Load()
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, s.RememberMe)
		assert.WithinDuration(t, h.clock.Now().Add(30*24*time.Hour), s.RefreshExpiresAt, 0)

		_, ok, _ = eph.Get(sessionKey())
		assert.False(t, ok)
	})

	t.Run("bad credentials", func(t *testing.T) {
		h := newHarness(t)
		m, _ := h.manager(t)

		_, err := m.Login(ctx, "frizzle@school.edu", "wrong", false)
		require.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Equal(t, StateAnonymous, m.State())
		_, ok := m.User()
		assert.False(t, ok)
	})
}

func TestManagerScheduledRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("fires margin before expiry", func(t *testing.T) {
		h := newHarness(t)
		m, _ := h.manager(t)
		_, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)

		d, ok := h.clock.pending()
		require.True(t, ok)
		assert.Equal(t, 55*time.Minute, d)

		h.clock.Advance(55*time.Minute - time.Second)
		assert.Equal(t, 0, h.srv.refreshes())

		h.clock.Advance(time.Second)
		assert.Equal(t, 1, h.srv.refreshes())
		assert.Equal(t, StateAuthenticated, m.State())

		token, _ := m.CurrentToken()
		assert.Equal(t, "access-2", token)

		d, ok = h.clock.pending()
		require.True(t, ok)
		assert.Equal(t, 55*time.Minute, d, "rescheduled from the new pair")
	})

	t.Run("margin capped at half the lifetime", func(t *testing.T) {
		h := newHarness(t)
		h.srv.setExpiresIn(240)
		m, _ := h.manager(t)
		_, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)

		d, ok := h.clock.pending()
		require.True(t, ok)
		assert.Equal(t, 2*time.Minute, d)
	})

	t.Run("manual refresh is throttled", func(t *testing.T) {
		h := newHarness(t)
		m, _ := h.manager(t)
		require.ErrorIs(t, m.Refresh(ctx), ErrNotAuthenticated)

		_, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)

		require.NoError(t, m.Refresh(ctx))
		assert.ErrorIs(t, m.Refresh(ctx), ErrRefreshThrottled)

		h.clock.Advance(testRetry.MinSpacing)
		require.NoError(t, m.Refresh(ctx))
		assert.Equal(t, 2, h.srv.refreshes())
	})

	t.Run("concurrent refresh joins the one in flight", func(t *testing.T) {
		h := newHarness(t)
		m, rec := h.manager(t)
		_, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)

		arrived, release := h.srv.holdRefreshes()
		t.Cleanup(release)

		first := make(chan error, 1)
		go func() { first <- m.Refresh(ctx) }()
		<-arrived
		assert.Equal(t, StateRefreshing, m.State())

		// Past MinSpacing, so only the in-flight call can stop a second one.
		h.clock.Advance(2 * time.Second)
		second := make(chan error, 1)
		go func() { second <- m.Refresh(ctx) }()

		assert.Never(t, func() bool { return len(second) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
			"second refresh waits for the first")
		release()

		require.NoError(t, <-first)
		require.NoError(t, <-second)
		assert.Equal(t, []string{"refresh-1"}, h.srv.presentedTokens())
		assert.Equal(t, StateAuthenticated, m.State())
		assert.Empty(t, rec.all())

		token, ok := m.CurrentToken()
		require.True(t, ok)
		assert.Equal(t, "access-2", token)
	})
}

func TestManagerRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers after transient failures", func(t *testing.T) {
		h := newHarness(t)
		m, rec := h.manager(t)
		_, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)

		h.srv.plan(http.StatusServiceUnavailable, http.StatusServiceUnavailable)

		h.clock.Advance(55 * time.Minute)
		assert.Equal(t, 1, h.srv.refreshes())
		assert.Equal(t, StateAuthenticated, m.State(), "access token still valid")
		d, _ := h.clock.pending()
		assert.Equal(t, time.Second, d)

		h.clock.Advance(time.Second)
		assert.Equal(t, 2, h.srv.refreshes())
		d, _ = h.clock.pending()
		assert.Equal(t, 2*time.Second, d)

		h.clock.Advance(2 * time.Second)
		assert.Equal(t, 3, h.srv.refreshes())
		token, _ := m.CurrentToken()
		assert.Equal(t, "access-2", token)
		assert.Empty(t, rec.all())
	})

	t.Run("forces logout after max attempts", func(t *testing.T) {
		h := newHarness(t)
		eph := NewMemoryBackend()
		require.NoError(t, eph.Set("app:theme", "dark"))

		m, rec := h.manager(t, withEphemeral(eph))
		_, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)
		m.SetDestination("/courses/42/grades")

		h.srv.plan(503, 503, 503, 503, 503)
		h.clock.Advance(55 * time.Minute)
		for range 4 {
			h.clock.Advance(time.Minute)
		}

		assert.Equal(t, 5, h.srv.refreshes())
		assert.Equal(t, StateExpired, m.State())
		assert.False(t, m.IsAuthenticated())

		events := rec.all()
		require.Len(t, events, 1)
		assert.Equal(t, ReasonRefreshFailed, events[0].Reason)
		assert.Equal(t, "/courses/42/grades", events[0].ReturnTo)
		assert.ErrorIs(t, events[0].Err, ErrStoreUnavailable)

		_, ok, _ := eph.Get(sessionKey())
		assert.False(t, ok)
		theme, ok, _ := eph.Get("app:theme")
		assert.True(t, ok, "unrelated keys survive")
		assert.Equal(t, "dark", theme)

		_, ok = h.clock.pending()
		assert.False(t, ok, "no retry after giving up")
	})

	t.Run("revoked session logs out at once", func(t *testing.T) {
		h := newHarness(t)
		m, rec := h.manager(t)
		_, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)

		h.srv.plan(http.StatusUnauthorized)
		h.clock.Advance(55 * time.Minute)

		assert.Equal(t, 1, h.srv.refreshes())
		assert.Equal(t, StateExpired, m.State())
		events := rec.all()
		require.Len(t, events, 1)
		assert.Equal(t, ReasonSessionEnded, events[0].Reason)
		assert.ErrorIs(t, events[0].Err, ErrSessionRevoked)

		// Login leaves Expired.
		_, err = m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)
		assert.Equal(t, StateAuthenticated, m.State())
	})
}

func TestManagerSharedStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("second instance adopts instead of replaying", func(t *testing.T) {
		h := newHarness(t)
		a, _ := h.manager(t)
		b, _ := h.manager(t)

		_, err := a.Login(ctx, "frizzle@school.edu", password, true)
		require.NoError(t, err)

		require.Eventually(t, b.IsAuthenticated, time.Second, 5*time.Millisecond)
		tb, _ := b.CurrentToken()
		assert.Equal(t, "access-1", tb)

		h.clock.Advance(55 * time.Minute)

		require.Eventually(t, func() bool {
			tb, _ := b.CurrentToken()
			return tb == "access-2"
		}, time.Second, 5*time.Millisecond)
		ta, _ := a.CurrentToken()
		assert.Equal(t, "access-2", ta)
		assert.Equal(t, 1, h.srv.refreshes(), "only one instance rotated")

		h.srv.mu.Lock()
		assert.False(t, h.srv.revoked)
		h.srv.mu.Unlock()
	})

	t.Run("refresh lease held elsewhere defers", func(t *testing.T) {
		h := newHarness(t)
		m, _ := h.manager(t)
		_, err := m.Login(ctx, "frizzle@school.edu", password, true)
		require.NoError(t, err)

		ok, err := NewVault(h.durable, "").AcquireRefreshLock("other-tab", h.clock.Now(), 10*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, m.Refresh(ctx))
		assert.Equal(t, 0, h.srv.refreshes())

		h.clock.Advance(15 * time.Second)
		assert.Equal(t, 1, h.srv.refreshes(), "lease expired, refresh proceeds")
	})

	t.Run("logout propagates", func(t *testing.T) {
		h := newHarness(t)
		a, recA := h.manager(t)
		b, _ := h.manager(t)

		_, err := a.Login(ctx, "frizzle@school.edu", password, true)
		require.NoError(t, err)
		require.Eventually(t, b.IsAuthenticated, time.Second, 5*time.Millisecond)

		require.NoError(t, b.Logout(ctx))
		assert.Equal(t, StateAnonymous, b.State())

		require.Eventually(t, func() bool { return a.State() == StateAnonymous }, time.Second, 5*time.Millisecond)
		events := recA.all()
		require.Len(t, events, 1)
		assert.Equal(t, ReasonSignedOutElsewhere, events[0].Reason)
	})
}

func TestManagerStorageDefense(t *testing.T) {
	ctx := context.Background()

	t.Run("restores keys wiped by other code", func(t *testing.T) {
		h := newHarness(t)
		eph := NewMemoryBackend()
		m, rec := h.manager(t, withEphemeral(eph))
		_, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)
		require.NoError(t, eph.Set("app:theme", "dark"))

		eph.Clear()

		require.Eventually(t, func() bool {
			_, ok, _ := eph.Get(sessionKey())
			return ok
		}, time.Second, 5*time.Millisecond)
		assert.True(t, m.IsAuthenticated())
		assert.Empty(t, rec.all())

		_, ok, _ := eph.Get("app:theme")
		assert.False(t, ok, "only our own keys are restored")
	})

	t.Run("logout clears only own keys", func(t *testing.T) {
		h := newHarness(t)
		eph := NewMemoryBackend()
		m, _ := h.manager(t, withEphemeral(eph))
		_, err := m.Login(ctx, "frizzle@school.edu", password, false)
		require.NoError(t, err)
		require.NoError(t, eph.Set("app:draft", "essay"))

		require.NoError(t, m.Logout(ctx))
		require.NoError(t, m.Logout(ctx), "second logout is a no-op")

		_, ok, _ := eph.Get(sessionKey())
		assert.False(t, ok)
		draft, ok, _ := eph.Get("app:draft")
		assert.True(t, ok)
		assert.Equal(t, "essay", draft)

		h.srv.mu.Lock()
		assert.Equal(t, 1, h.srv.logouts)
		h.srv.mu.Unlock()
	})
}

func TestManagerStart(t *testing.T) {
	ctx := context.Background()

	t.Run("restores and refreshes an expired access token", func(t *testing.T) {
		h := newHarness(t)
		first, _ := h.manager(t)
		_, err := first.Login(ctx, "frizzle@school.edu", password, true)
		require.NoError(t, err)
		first.Close()

		h.clock.Advance(2 * time.Hour)

		second, _ := h.manager(t)
		assert.Equal(t, StateAuthenticated, second.State())
		assert.False(t, second.IsAuthenticated(), "access token expired while closed")

		h.clock.Advance(0)
		assert.Equal(t, 1, h.srv.refreshes())
		assert.True(t, second.IsAuthenticated())
	})

	t.Run("drops a session past refresh expiry", func(t *testing.T) {
		h := newHarness(t)
		first, _ := h.manager(t)
		_, err := first.Login(ctx, "frizzle@school.edu", password, true)
		require.NoError(t, err)
		first.Close()

		h.clock.Advance(31 * 24 * time.Hour)

		second, _ := h.manager(t)
		assert.Equal(t, StateAnonymous, second.State())
		_, ok, _ := h.durable.Get(sessionKey())
		assert.False(t, ok)
	})
}

func TestManagerActivity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m, rec := h.manager(t)

	require.ErrorIs(t, m.RecordActivity(ctx), ErrNotAuthenticated)

	_, err := m.Login(ctx, "frizzle@school.edu", password, false)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Second)
	require.NoError(t, m.RecordActivity(ctx))
	assert.Equal(t, 0, h.srv.activityPings(), "throttled")
	at, ok := m.LastActivity()
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().UnixMilli(), at.UnixMilli())

	h.clock.Advance(25 * time.Second)
	require.NoError(t, m.RecordActivity(ctx))
	assert.Equal(t, 1, h.srv.activityPings())

	h.clock.Advance(5 * time.Second)
	require.NoError(t, m.RecordActivity(ctx))
	assert.Equal(t, 1, h.srv.activityPings())

	h.srv.mu.Lock()
	h.srv.revoked = true
	h.srv.mu.Unlock()

	h.clock.Advance(30 * time.Second)
	require.ErrorIs(t, m.RecordActivity(ctx), ErrSessionRevoked)
	assert.Equal(t, StateExpired, m.State())
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonSessionEnded, events[0].Reason)
}
