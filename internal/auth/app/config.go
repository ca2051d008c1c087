package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edportal/sessionauth/internal/auth/service"
	"github.com/edportal/sessionauth/pkg/jwtx"
	"gopkg.in/yaml.v3"
)

// Config is loaded once at startup. Values come from defaults, then the
// optional YAML file named by AUTH_CONFIG_FILE, then environment variables.
type Config struct {
	Env                 string        `yaml:"env"`                   // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        `yaml:"log_level"`             // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        `yaml:"log_format"`            // Log format (json, text) (default: json)
	Port                int           `yaml:"port"`                  // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"` // Graceful shutdown timeout (default: 10s)

	Issuer string `yaml:"issuer"` // iss claim of issued tokens (default: edportal-auth)

	// SigningSecret is only read from the environment or SigningSecretFile.
	SigningSecret     string `yaml:"-"`
	SigningSecretFile string `yaml:"signing_secret_file"`

	AccessTTL          time.Duration `yaml:"access_ttl"`           // default: 1h
	RefreshTTL         time.Duration `yaml:"refresh_ttl"`          // default: 7d
	RememberAccessTTL  time.Duration `yaml:"remember_access_ttl"`  // default: 7d
	RememberRefreshTTL time.Duration `yaml:"remember_refresh_ttl"` // default: 30d

	// RememberMultiplier, when positive, derives both remember-me lifetimes
	// from the base ones.
	RememberMultiplier float64 `yaml:"remember_multiplier"`

	SessionStore string      `yaml:"session_store"` // redis or memory (default: redis)
	Redis        RedisConfig `yaml:"redis"`

	DirectoryDriver string `yaml:"directory_driver"` // sqlite or postgres (default: sqlite)
	DatabaseFile    string `yaml:"database_file"`    // SQLite file (default: ./auth.db)
	DatabaseURL     string `yaml:"-"`                // Postgres URL, environment only
	PepperFile      string `yaml:"pepper_file"`      // default: ./pepper

	CookieDomain   string `yaml:"cookie_domain"`
	MetricsEnabled bool   `yaml:"metrics_enabled"` // default: true
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"-"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

func defaultConfig() Config {
	return Config{
		Env:                 "dev",
		LogLevel:            "info",
		LogFormat:           "json",
		Port:                8080,
		ShutdownGracePeriod: 10 * time.Second,
		Issuer:              "edportal-auth",
		AccessTTL:           jwtx.DefaultAccessTokenTTL,
		RefreshTTL:          jwtx.DefaultRefreshTokenTTL,
		RememberAccessTTL:   jwtx.RememberAccessTokenTTL,
		RememberRefreshTTL:  jwtx.RememberRefreshTokenTTL,
		SessionStore:        "redis",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "auth:",
			Timeout:   3 * time.Second,
		},
		DirectoryDriver: "sqlite",
		DatabaseFile:    "auth.db",
		PepperFile:      "pepper",
		MetricsEnabled:  true,
	}
}

// LoadConfig builds and validates the configuration.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("AUTH_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.SigningSecret == "" && cfg.SigningSecretFile != "" {
		secret, err := readSecretFile(cfg.SigningSecretFile)
		if err != nil {
			return Config{}, err
		}
		cfg.SigningSecret = secret
	}

	if cfg.RememberMultiplier > 0 {
		cfg.RememberAccessTTL = scale(cfg.AccessTTL, cfg.RememberMultiplier)
		cfg.RememberRefreshTTL = scale(cfg.RefreshTTL, cfg.RememberMultiplier)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Env = getEnvOrDefault("ENV", cfg.Env)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.Port = getEnvIntOrDefault("PORT", cfg.Port)
	cfg.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)

	cfg.Issuer = getEnvOrDefault("AUTH_ISSUER", cfg.Issuer)
	cfg.SigningSecret = getEnvOrDefault("AUTH_SIGNING_SECRET", cfg.SigningSecret)
	cfg.SigningSecretFile = getEnvOrDefault("AUTH_SIGNING_SECRET_FILE", cfg.SigningSecretFile)

	cfg.AccessTTL = getEnvDurationOrDefault("AUTH_ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = getEnvDurationOrDefault("AUTH_REFRESH_TTL", cfg.RefreshTTL)
	cfg.RememberAccessTTL = getEnvDurationOrDefault("AUTH_REMEMBER_ACCESS_TTL", cfg.RememberAccessTTL)
	cfg.RememberRefreshTTL = getEnvDurationOrDefault("AUTH_REMEMBER_REFRESH_TTL", cfg.RememberRefreshTTL)
	cfg.RememberMultiplier = getEnvFloatOrDefault("AUTH_REMEMBER_MULTIPLIER", cfg.RememberMultiplier)

	cfg.SessionStore = getEnvOrDefault("SESSION_STORE", cfg.SessionStore)
	cfg.Redis.Addr = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = getEnvOrDefault("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)
	cfg.Redis.Timeout = getEnvDurationOrDefault("REDIS_TIMEOUT", cfg.Redis.Timeout)

	cfg.DirectoryDriver = getEnvOrDefault("DIRECTORY_DRIVER", cfg.DirectoryDriver)
	cfg.DatabaseFile = getEnvOrDefault("AUTH_DATABASE_FILE", cfg.DatabaseFile)
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.PepperFile = getEnvOrDefault("AUTH_PEPPER_FILE", cfg.PepperFile)

	cfg.CookieDomain = getEnvOrDefault("COOKIE_DOMAIN", cfg.CookieDomain)
	cfg.MetricsEnabled = getEnvBoolOrDefault("METRICS_ENABLED", cfg.MetricsEnabled)
}

// Validate rejects configurations the service must not start with.
func (c Config) Validate() error {
	var errs []string

	if c.SigningSecret == "" {
		errs = append(errs, "signing secret is required (set AUTH_SIGNING_SECRET or AUTH_SIGNING_SECRET_FILE)")
	} else if len(c.SigningSecret) < jwtx.MinSecretLength {
		errs = append(errs, fmt.Sprintf("signing secret must be at least %d bytes", jwtx.MinSecretLength))
	}

	for name, d := range map[string]time.Duration{
		"access_ttl":           c.AccessTTL,
		"refresh_ttl":          c.RefreshTTL,
		"remember_access_ttl":  c.RememberAccessTTL,
		"remember_refresh_ttl": c.RememberRefreshTTL,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if c.AccessTTL > c.RefreshTTL {
		errs = append(errs, "access_ttl must not exceed refresh_ttl")
	}
	if c.RememberAccessTTL > c.RememberRefreshTTL {
		errs = append(errs, "remember_access_ttl must not exceed remember_refresh_ttl")
	}

	switch c.SessionStore {
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis session store")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("session_store must be redis or memory, got %q", c.SessionStore))
	}

	switch c.DirectoryDriver {
	case "sqlite":
		if c.DatabaseFile == "" {
			errs = append(errs, "database_file is required for the sqlite directory")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres directory")
		}
	default:
		errs = append(errs, fmt.Sprintf("directory_driver must be sqlite or postgres, got %q", c.DirectoryDriver))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Production reports whether cookies must be marked Secure.
func (c Config) Production() bool {
	return c.Env == "prod" || c.Env == "production"
}

// TTLPolicy returns the token lifetimes for the auth service.
func (c Config) TTLPolicy() service.TTLPolicy {
	return service.TTLPolicy{
		Access:          c.AccessTTL,
		Refresh:         c.RefreshTTL,
		RememberAccess:  c.RememberAccessTTL,
		RememberRefresh: c.RememberRefreshTTL,
	}
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f).Round(time.Second)
}

func readSecretFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading signing secret file: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Day suffix, e.g. "7d" or "30d"
	if days, ok := strings.CutSuffix(value, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
	}

	return defaultValue
}
