package auth_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/edportal/sessionauth/internal/auth/app"
	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/store/drivers/sqlite"
	"github.com/edportal/sessionauth/pkg/authsdk"
	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/edportal/sessionauth/pkg/idx"
	"github.com/edportal/sessionauth/pkg/rbac"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * End-to-end tests run the fully wired service in process against a real
 * Redis container and a SQLite directory in a temp dir.
 */

const (
	signingSecret = "e2e-signing-secret-0123456789abcdef"
	userPassword  = "Sup3r-secret!"
)

type service struct {
	URL    string
	dbFile string
}

// startRedis runs a throwaway redis:7-alpine and returns its address.
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
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

// startService configures the service through its environment, the same way
// it runs in a container, and serves it with httptest.
func startService(t *testing.T) *service {
	t.Helper()
	redisAddr := startRedis(t)
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "auth.db")

	env := map[string]string{
		"AUTH_CONFIG_FILE":    "",
		"ENV":                 "test",
		"LOG_LEVEL":           "warn",
		"LOG_FORMAT":          "json",
		"AUTH_ISSUER":         "edportal-auth-e2e",
		"AUTH_SIGNING_SECRET": signingSecret,
		"SESSION_STORE":       "redis",
		"REDIS_ADDR":          redisAddr,
		"REDIS_KEY_PREFIX":    "e2e:",
		"DIRECTORY_DRIVER":    "sqlite",
		"AUTH_DATABASE_FILE":  dbFile,
		"AUTH_PEPPER_FILE":    filepath.Join(dir, "pepper"),
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := app.LoadConfig()
	require.NoError(t, err)

	application, err := app.New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		if err := application.Close(); err != nil {
			t.Logf("failed to close application: %v", err)
		}
	})

	return &service{URL: srv.URL, dbFile: dbFile}
}

// createUser writes an account straight into the directory, as the portal's
// admin tooling would, and returns its ID.
func (s *service) createUser(t *testing.T, email string, flags rbac.Flags) string {
	t.Helper()
	ctx := context.Background()

	hash, err := cryptox.HashPassword(userPassword)
	require.NoError(t, err)

	dir, err := sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", s.dbFile))
	require.NoError(t, err)
	defer dir.Close()

	ident := domain.Identity{
		ID:           idx.New().String(),
		Email:        email,
		Name:         email,
		PasswordHash: hash,
		Flags:        flags,
		Enabled:      true,
	}
	require.NoError(t, dir.CreateIdentity(ctx, ident))
	return ident.ID
}

func (s *service) setEnabled(t *testing.T, id string, enabled bool) {
	t.Helper()
	dir, err := sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", s.dbFile))
	require.NoError(t, err)
	defer dir.Close()
	require.NoError(t, dir.SetEnabled(context.Background(), id, enabled))
}

// login signs in with the shared test password and checks the response shape.
func login(t *testing.T, client *authsdk.SDKClient, email string, remember bool) *authsdk.TokenResponse {
	t.Helper()
	resp, err := client.Login(t.Context(), authsdk.LoginRequest{Email: email, Password: userPassword, RememberMe: remember})
	require.NoError(t, err, "login should succeed")
	assertTokenResponse(t, resp)
	return resp
}

// assertTokenResponse verifies a token response has all required fields.
func assertTokenResponse(t *testing.T, resp *authsdk.TokenResponse) {
	t.Helper()
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.AccessToken, "access token should not be empty")
	require.NotEmpty(t, resp.RefreshToken, "refresh token should not be empty")
	require.NotEmpty(t, resp.SessionID, "session id should not be empty")
	require.Positive(t, resp.ExpiresIn)
	require.Greater(t, resp.RefreshExpiresIn, resp.ExpiresIn)
}

// assertHealthy verifies a health check response is OK.
func assertHealthy(t *testing.T, health *authsdk.HealthResponse, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, health)
	require.Equal(t, "ok", health.Status)
}
