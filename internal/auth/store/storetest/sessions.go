// Package storetest holds the behaviour every store.Sessions driver must
// share. Driver tests call RunSessions with their own constructor.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/store"
	"github.com/stretchr/testify/require"
)

// Harness builds a fresh, empty driver per subtest.
type Harness struct {
	New func(t *testing.T) store.Sessions

	// Advance moves the driver's clock forward. Expiry cases are skipped
	// when it is nil.
	Advance func(d time.Duration)
}

const ttl = time.Hour

func newSession(userID, refresh string) store.NewSession {
	return store.NewSession{
		UserID:       userID,
		RefreshToken: refresh,
		TTL:          ttl,
		Device:       domain.NewDeviceInfo("Mozilla/5.0 (iPhone) Mobile", "198.51.100.7"),
	}
}

func RunSessions(t *testing.T, h Harness) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := h.New(t)

		ns := newSession("u1", "refresh-1")
		ns.RememberMe = true
		id, err := s.CreateSession(ctx, ns)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		rec, err := s.GetSession(ctx, id)
		require.NoError(t, err)
		require.Equal(t, id, rec.ID)
		require.Equal(t, "u1", rec.UserID)
		require.True(t, rec.RememberMe)
		require.Equal(t, domain.DeviceMobile, rec.Device.Type)
		require.Equal(t, "198.51.100.7", rec.Device.IP)
		require.NotEmpty(t, rec.RefreshFingerprint)
		require.NotEqual(t, "refresh-1", rec.RefreshFingerprint, "raw token must not be stored")
		require.WithinDuration(t, rec.IssuedAt.Add(ttl), rec.ExpiresAt, time.Second)
	})

	t.Run("caller supplied id", func(t *testing.T) {
		s := h.New(t)

		ns := newSession("u1", "refresh-1")
		ns.ID = "01HZX0000000000000000000AA"
		id, err := s.CreateSession(ctx, ns)
		require.NoError(t, err)
		require.Equal(t, ns.ID, id)

		ns.RefreshToken = "refresh-2"
		_, err = s.CreateSession(ctx, ns)
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		s := h.New(t)
		_, err := s.GetSession(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("rotate then replay", func(t *testing.T) {
		s := h.New(t)

		id, err := s.CreateSession(ctx, newSession("u1", "r1"))
		require.NoError(t, err)
		before, err := s.GetSession(ctx, id)
		require.NoError(t, err)

		require.NoError(t, s.RotateRefreshToken(ctx, id, "r1", "r2", ttl))

		after, err := s.GetSession(ctx, id)
		require.NoError(t, err)
		require.NotEqual(t, before.RefreshFingerprint, after.RefreshFingerprint)

		// r1 has been superseded; presenting it again kills the session.
		err = s.RotateRefreshToken(ctx, id, "r1", "r3", ttl)
		require.ErrorIs(t, err, store.ErrStaleRefreshToken)

		_, err = s.GetSession(ctx, id)
		require.ErrorIs(t, err, store.ErrNotFound)

		// So does the token that was current.
		require.ErrorIs(t, s.RotateRefreshToken(ctx, id, "r2", "r4", ttl), store.ErrNotFound)
	})

	t.Run("concurrent rotation has one winner", func(t *testing.T) {
		s := h.New(t)

		id, err := s.CreateSession(ctx, newSession("u1", "start"))
		require.NoError(t, err)

		const racers = 8
		errs := make([]error, racers)
		var wg sync.WaitGroup
		for i := range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.RotateRefreshToken(ctx, id, "start", fmt.Sprintf("next-%d", i), ttl)
			}()
		}
		wg.Wait()

		var won, stale int
		for _, err := range errs {
			switch {
			case err == nil:
				won++
			case isStaleOrGone(err):
				stale++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, won)
		require.Equal(t, racers-1, stale)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		s := h.New(t)

		id, err := s.CreateSession(ctx, newSession("u1", "r1"))
		require.NoError(t, err)

		require.NoError(t, s.RevokeSession(ctx, id))
		require.NoError(t, s.RevokeSession(ctx, id))
		require.NoError(t, s.RevokeSession(ctx, "never-existed"))

		_, err = s.GetSession(ctx, id)
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.RotateRefreshToken(ctx, id, "r1", "r2", ttl), store.ErrNotFound)

		list, err := s.ListUserSessions(ctx, "u1")
		require.NoError(t, err)
		require.Empty(t, list)
	})

	t.Run("revoke all for user", func(t *testing.T) {
		s := h.New(t)

		var ids []string
		for i := range 3 {
			id, err := s.CreateSession(ctx, newSession("u1", fmt.Sprintf("r%d", i)))
			require.NoError(t, err)
			ids = append(ids, id)
		}
		other, err := s.CreateSession(ctx, newSession("u2", "other"))
		require.NoError(t, err)

		n, err := s.RevokeAllForUser(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, 3, n)

		for _, id := range ids {
			_, err := s.GetSession(ctx, id)
			require.ErrorIs(t, err, store.ErrNotFound)
		}
		_, err = s.GetSession(ctx, other)
		require.NoError(t, err)

		n, err = s.RevokeAllForUser(ctx, "u1")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("touch records activity without extending ttl", func(t *testing.T) {
		s := h.New(t)

		id, err := s.CreateSession(ctx, newSession("u1", "r1"))
		require.NoError(t, err)
		before, err := s.GetSession(ctx, id)
		require.NoError(t, err)

		at := before.IssuedAt.Add(10 * time.Minute)
		require.NoError(t, s.Touch(ctx, id, at))

		after, err := s.GetSession(ctx, id)
		require.NoError(t, err)
		require.WithinDuration(t, at, after.LastActivityAt, time.Millisecond)
		require.WithinDuration(t, before.ExpiresAt, after.ExpiresAt, time.Millisecond)

		require.ErrorIs(t, s.Touch(ctx, "missing", at), store.ErrNotFound)
	})

	t.Run("list orders by last activity", func(t *testing.T) {
		s := h.New(t)

		a, err := s.CreateSession(ctx, newSession("u1", "ra"))
		require.NoError(t, err)
		b, err := s.CreateSession(ctx, newSession("u1", "rb"))
		require.NoError(t, err)
		_, err = s.CreateSession(ctx, newSession("u2", "rc"))
		require.NoError(t, err)

		recA, err := s.GetSession(ctx, a)
		require.NoError(t, err)
		require.NoError(t, s.Touch(ctx, a, recA.IssuedAt.Add(time.Minute)))

		list, err := s.ListUserSessions(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, a, list[0].ID)
		require.Equal(t, b, list[1].ID)
	})

	if h.Advance == nil {
		return
	}

	t.Run("sessions expire with their refresh token", func(t *testing.T) {
		s := h.New(t)

		id, err := s.CreateSession(ctx, newSession("u1", "r1"))
		require.NoError(t, err)

		h.Advance(ttl - time.Minute)
		require.NoError(t, s.Touch(ctx, id, time.Now()))
		_, err = s.GetSession(ctx, id)
		require.NoError(t, err, "touch must not be needed to stay alive within ttl")

		h.Advance(2 * time.Minute)
		_, err = s.GetSession(ctx, id)
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.RotateRefreshToken(ctx, id, "r1", "r2", ttl), store.ErrNotFound)

		list, err := s.ListUserSessions(ctx, "u1")
		require.NoError(t, err)
		require.Empty(t, list)
	})

	t.Run("rotation renews ttl", func(t *testing.T) {
		s := h.New(t)

		id, err := s.CreateSession(ctx, newSession("u1", "r1"))
		require.NoError(t, err)

		h.Advance(ttl - time.Minute)
		require.NoError(t, s.RotateRefreshToken(ctx, id, "r1", "r2", ttl))

		h.Advance(30 * time.Minute)
		_, err = s.GetSession(ctx, id)
		require.NoError(t, err)
	})
}

// A racer that loses after the winner already revoked the session on an
// earlier replay sees ErrNotFound instead.
func isStaleOrGone(err error) bool {
	return errors.Is(err, store.ErrStaleRefreshToken) || errors.Is(err, store.ErrNotFound)
}
