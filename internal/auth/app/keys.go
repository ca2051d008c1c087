package app

import (
	"fmt"
	"log/slog"

	"github.com/edportal/sessionauth/pkg/cryptox"
	"github.com/edportal/sessionauth/pkg/jwtx"
)

// InitCodec builds the token codec from the configured signing secret.
//
// There is a single HS256 secret per deployment. Changing it invalidates every
// outstanding access and refresh token, which forces all users to sign in
// again. Sessions in the store are left behind and expire on their own.
func InitCodec(cfg Config, logger *slog.Logger) (*jwtx.Codec, error) {
	codec, err := jwtx.NewCodec([]byte(cfg.SigningSecret), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	// Log a fingerprint so operators can tell whether two instances share a secret.
	logger.Info("token codec ready",
		"algorithm", "HS256",
		"issuer", cfg.Issuer,
		"secret_fp", cryptox.FingerprintToken(cfg.SigningSecret)[:12],
		"access_ttl", cfg.AccessTTL,
		"refresh_ttl", cfg.RefreshTTL,
	)

	return codec, nil
}
