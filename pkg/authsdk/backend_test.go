package authsdk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "session.json")

	b, err := NewFileBackend(path)
	require.NoError(t, err)
	assert.Equal(t, path, b.Path())

	_, ok, err := b.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set("edportal.auth:session", `{"refreshToken":"r"}`))
	require.NoError(t, b.Set("app:theme", "dark"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A second backend on the same path sees the same data.
	other, err := NewFileBackend(path)
	require.NoError(t, err)
	v, ok, err := other.Get("app:theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", v)

	require.NoError(t, other.Delete("app:theme", "never-set"))
	_, ok, _ = b.Get("app:theme")
	assert.False(t, ok)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"session.json", "session.json.lock"}, names, "no temp files left behind")
}

// TestFileBackendSharedPath races two backends on one file, the way two
// processes share it.
func TestFileBackendSharedPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	a, err := NewFileBackend(path)
	require.NoError(t, err)
	b, err := NewFileBackend(path)
	require.NoError(t, err)
	backends := []*FileBackend{a, b}

	const perBackend = 20

	t.Run("one lease winner", func(t *testing.T) {
		var wg sync.WaitGroup
		var won atomic.Int32
		for i, be := range backends {
			for j := range perBackend {
				wg.Add(1)
				go func() {
					defer wg.Done()
					swapped, err := be.CompareAndSwap("lease", "", fmt.Sprintf("owner-%d-%d", i, j))
					assert.NoError(t, err)
					if swapped {
						won.Add(1)
					}
				}()
			}
		}
		wg.Wait()
		assert.Equal(t, int32(1), won.Load())
	})

	t.Run("no lost updates", func(t *testing.T) {
		var wg sync.WaitGroup
		for _, be := range backends {
			for range perBackend {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						cur, _, err := be.Get("counter")
						if !assert.NoError(t, err) {
							return
						}
						n, _ := strconv.Atoi(cur)
						swapped, err := be.CompareAndSwap("counter", cur, strconv.Itoa(n+1))
						if !assert.NoError(t, err) || swapped {
							return
						}
					}
				}()
			}
		}
		wg.Wait()

		v, ok, err := a.Get("counter")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, strconv.Itoa(2*perBackend), v)
	})
}

func TestFileBackendCompareAndSwap(t *testing.T) {
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)

	swapped, err := b.CompareAndSwap("lock", "", "a")
	require.NoError(t, err)
	assert.True(t, swapped, "empty prev matches a missing key")

	swapped, err = b.CompareAndSwap("lock", "", "b")
	require.NoError(t, err)
	assert.False(t, swapped)

	swapped, err = b.CompareAndSwap("lock", "a", "b")
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, err = b.CompareAndSwap("lock", "b", "")
	require.NoError(t, err)
	assert.True(t, swapped)
	_, ok, _ := b.Get("lock")
	assert.False(t, ok, "empty next deletes")
}

func TestFileBackendCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	b, err := NewFileBackend(path)
	require.NoError(t, err)
	_, _, err = b.Get("k")
	require.Error(t, err)
	assert.Error(t, b.Set("k", "v"))
}

func TestFileBackendWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	watcher, err := NewFileBackend(path)
	require.NoError(t, err)
	writer, err := NewFileBackend(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := watcher.Watch(ctx)
	require.NoError(t, err)

	seen := map[string]bool{}
	waitFor := func(key string) {
		t.Helper()
		require.Eventually(t, func() bool {
			for {
				select {
				case k := <-ch:
					seen[k] = true
				default:
					return seen[key]
				}
			}
		}, 2*time.Second, 10*time.Millisecond)
	}

	require.NoError(t, writer.Set("edportal.auth:session", "one"))
	waitFor("edportal.auth:session")

	require.NoError(t, writer.Delete("edportal.auth:session"))
	delete(seen, "edportal.auth:session")
	waitFor("edportal.auth:session")

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryBackendWatch(t *testing.T) {
	b := NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Set("a", "1"))
	require.NoError(t, b.Set("b", "2"))
	assert.Equal(t, "a", <-ch)
	assert.Equal(t, "b", <-ch)

	require.NoError(t, b.Delete("nope"))
	b.Clear()
	got := []string{<-ch, <-ch}
	assert.ElementsMatch(t, []string{"a", "b"}, got)

	_, ok, _ := b.Get("a")
	assert.False(t, ok)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestVault(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	b := NewMemoryBackend()
	require.NoError(t, b.Set("other.app:token", "keep"))

	v := NewVault(b, "")
	_, ok, err := v.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	s := StoredSession{
		AccessToken:      "a",
		RefreshToken:     "r",
		SessionID:        "sid",
		IssuedAt:         now,
		AccessExpiresAt:  now.Add(time.Hour),
		RefreshExpiresAt: now.Add(7 * 24 * time.Hour),
	}
	require.NoError(t, v.Save(s))
	require.NoError(t, v.SetLastActivity(now.Add(time.Minute)))

	got, ok, err := v.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sid", got.SessionID)
	assert.Equal(t, time.Hour, got.AccessLifetime())

	at, ok := v.LastActivity()
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Minute).UnixMilli(), at.UnixMilli())

	t.Run("sign out leaves a marker", func(t *testing.T) {
		require.NoError(t, v.SignOut(now.Add(2*time.Minute)))
		_, ok, _ := v.Load()
		assert.False(t, ok)
		_, ok = v.LastActivity()
		assert.False(t, ok)

		at, ok := v.SignedOutAt()
		require.True(t, ok)
		assert.Equal(t, now.Add(2*time.Minute).UnixMilli(), at.UnixMilli())

		require.NoError(t, v.Save(s))
		_, ok = v.SignedOutAt()
		assert.False(t, ok, "save clears the marker")
	})

	t.Run("corrupt session reads as absent", func(t *testing.T) {
		require.NoError(t, b.Set(DefaultNamespace+":session", "garbage"))
		_, ok, err := v.Load()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("clear keeps foreign keys", func(t *testing.T) {
		require.NoError(t, v.Clear())
		_, ok, _ := b.Get(DefaultNamespace + ":session")
		assert.False(t, ok)
		val, ok, _ := b.Get("other.app:token")
		assert.True(t, ok)
		assert.Equal(t, "keep", val)
	})
}

func TestVaultRefreshLock(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	v := NewVault(NewMemoryBackend(), "tab")

	ok, err := v.AcquireRefreshLock("a", now, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.AcquireRefreshLock("b", now.Add(time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held by a")

	ok, err = v.AcquireRefreshLock("a", now.Add(time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "owner may renew")

	require.NoError(t, v.ReleaseRefreshLock("b"), "releasing a foreign lease is a no-op")
	ok, _ = v.AcquireRefreshLock("b", now.Add(2*time.Second), 10*time.Second)
	assert.False(t, ok)

	ok, _ = v.AcquireRefreshLock("b", now.Add(12*time.Second), 10*time.Second)
	assert.True(t, ok, "expired lease is taken over")

	require.NoError(t, v.ReleaseRefreshLock("b"))
	ok, _ = v.AcquireRefreshLock("a", now.Add(13*time.Second), 10*time.Second)
	assert.True(t, ok)
}

func TestVaultWatchFiltersNamespace(t *testing.T) {
	b := NewMemoryBackend()
	v := NewVault(b, "tab")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := v.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Set("tabs:other", "x"))
	require.NoError(t, b.Set("tab:session", "y"))

	select {
	case k := <-ch:
		assert.Equal(t, "tab:session", k)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}
