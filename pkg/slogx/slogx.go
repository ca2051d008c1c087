package slogx

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted replaces the value of any attribute whose key names a credential.
const Redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively against the last segment of
// an attribute key, so "req.password" is redacted too.
var sensitiveKeys = map[string]bool{
	"password":       true,
	"access_token":   true,
	"refresh_token":  true,
	"token":          true,
	"authorization":  true,
	"cookie":         true,
	"secret":         true,
	"signing_secret": true,
	"pepper":         true,
}

type Config struct {
	Service string
	Version string
	Env     string // dev, test, production
	Level   string
	Format  string // json or text

	// Output defaults to stdout.
	Output io.Writer
}

// New builds the service logger, sets it as the slog default and returns it.
// Credential attributes are always redacted.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		AddSource:   cfg.Env == "dev",
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: RedactAttr,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler).With(
		"service", cfg.Service,
		"version", cfg.Version,
		"env", cfg.Env,
	)

	slog.SetDefault(logger)
	return logger
}

// RedactAttr is a slog.HandlerOptions.ReplaceAttr that blanks credentials.
func RedactAttr(groups []string, a slog.Attr) slog.Attr {
	if isSensitive(a.Key) && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, Redacted)
	}
	return a
}

func isSensitive(key string) bool {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	return sensitiveKeys[strings.ToLower(key)]
}

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
