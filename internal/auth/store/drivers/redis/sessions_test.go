package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/store"
	redisstore "github.com/edportal/sessionauth/internal/auth/store/drivers/redis"
	"github.com/edportal/sessionauth/internal/auth/store/storetest"
	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a throwaway redis:7-alpine and returns its address.
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestSessions(t *testing.T) {
	addr := startRedis(t)
	n := 0

	storetest.RunSessions(t, storetest.Harness{
		New: func(t *testing.T) store.Sessions {
			n++
			s, err := redisstore.Open(context.Background(), redisstore.Config{
				Addr:      addr,
				KeyPrefix: fmt.Sprintf("test%d:", n),
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	})
}

func TestKeyLayout(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	s := redisstore.New(rdb, "layout:")

	id, err := s.CreateSession(ctx, store.NewSession{
		UserID:       "u1",
		RefreshToken: "r1",
		TTL:          time.Hour,
		Device:       domain.NewDeviceInfo("curl/8.0", "127.0.0.1"),
	})
	require.NoError(t, err)

	fp1 := cryptox.FingerprintToken("r1")

	t.Run("record, mapping and set share the ttl", func(t *testing.T) {
		sid, err := rdb.Get(ctx, "layout:refresh:"+fp1).Result()
		require.NoError(t, err)
		require.Equal(t, id, sid)

		for _, key := range []string{"layout:session:" + id, "layout:refresh:" + fp1, "layout:user_sessions:u1"} {
			ttl, err := rdb.PTTL(ctx, key).Result()
			require.NoError(t, err)
			require.Greater(t, ttl, 59*time.Minute, key)
		}

		members, err := rdb.SMembers(ctx, "layout:user_sessions:u1").Result()
		require.NoError(t, err)
		require.Equal(t, []string{id}, members)
	})

	t.Run("touch leaves ttl alone", func(t *testing.T) {
		require.NoError(t, rdb.PExpire(ctx, "layout:session:"+id, 10*time.Minute).Err())
		require.NoError(t, s.Touch(ctx, id, time.Now()))

		ttl, err := rdb.PTTL(ctx, "layout:session:"+id).Result()
		require.NoError(t, err)
		require.LessOrEqual(t, ttl, 10*time.Minute)
	})

	t.Run("rotation moves the mapping", func(t *testing.T) {
		require.NoError(t, s.RotateRefreshToken(ctx, id, "r1", "r2", 2*time.Hour))

		exists, err := rdb.Exists(ctx, "layout:refresh:"+fp1).Result()
		require.NoError(t, err)
		require.Zero(t, exists)

		sid, err := rdb.Get(ctx, "layout:refresh:"+cryptox.FingerprintToken("r2")).Result()
		require.NoError(t, err)
		require.Equal(t, id, sid)

		ttl, err := rdb.PTTL(ctx, "layout:user_sessions:u1").Result()
		require.NoError(t, err)
		require.Greater(t, ttl, 119*time.Minute, "set ttl follows the longest member")
	})

	t.Run("revoke removes every half", func(t *testing.T) {
		require.NoError(t, s.RevokeSession(ctx, id))

		n, err := rdb.Exists(ctx,
			"layout:session:"+id,
			"layout:refresh:"+cryptox.FingerprintToken("r2"),
		).Result()
		require.NoError(t, err)
		require.Zero(t, n)

		isMember, err := rdb.SIsMember(ctx, "layout:user_sessions:u1", id).Result()
		require.NoError(t, err)
		require.False(t, isMember)
	})

	t.Run("dangling set members are pruned on list", func(t *testing.T) {
		require.NoError(t, rdb.SAdd(ctx, "layout:user_sessions:u9", "ghost").Err())

		list, err := s.ListUserSessions(ctx, "u9")
		require.NoError(t, err)
		require.Empty(t, list)

		n, err := rdb.SCard(ctx, "layout:user_sessions:u9").Result()
		require.NoError(t, err)
		require.Zero(t, n)
	})
}

func TestUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := redisstore.Open(ctx, redisstore.Config{Addr: "127.0.0.1:1", Timeout: 200 * time.Millisecond})
	require.ErrorIs(t, err, store.ErrUnavailable)
}
