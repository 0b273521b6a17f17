package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "SablePay"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultDispatchTimeout  = 10 * time.Second
	defaultDispatchAttempts = 5
	defaultReconcileLockTTL = 10 * time.Minute
	defaultPendingCutoff    = 30 * time.Minute
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string
	AppEnv   string
	Port     string
	LogLevel string

	DatabaseURL string
	RedisURL    string
	NATSURL     string

	// Provider webhook verification.
	ProviderHMACSecret string
	ProviderPublicKey  string // PEM-encoded RSA public key, optional
	AllowUnsigned      bool

	// Outbound tenant dispatch.
	DispatchTimeout     time.Duration
	DispatchMaxAttempts int

	// Reconciliation job.
	ReconcileLockTTL time.Duration
	PendingCutoff    time.Duration

	ShutdownPeriod time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              getEnv("APP_ENV", defaultAppEnv),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		NATSURL:             os.Getenv("NATS_URL"),
		ProviderHMACSecret:  os.Getenv("PROVIDER_HMAC_SECRET"),
		ProviderPublicKey:   os.Getenv("PROVIDER_PUBLIC_KEY"),
		DispatchTimeout:     defaultDispatchTimeout,
		DispatchMaxAttempts: defaultDispatchAttempts,
		ReconcileLockTTL:    defaultReconcileLockTTL,
		PendingCutoff:       defaultPendingCutoff,
		ShutdownPeriod:      defaultShutdownDelay,
	}

	var err error
	if cfg.AllowUnsigned, err = getBool("WEBHOOK_ALLOW_UNSIGNED", false); err != nil {
		return Config{}, err
	}
	if cfg.DispatchTimeout, err = getDuration("DISPATCH_TIMEOUT", cfg.DispatchTimeout); err != nil {
		return Config{}, err
	}
	if cfg.DispatchMaxAttempts, err = getInt("DISPATCH_MAX_ATTEMPTS", cfg.DispatchMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileLockTTL, err = getDuration("RECONCILE_LOCK_TTL", cfg.ReconcileLockTTL); err != nil {
		return Config{}, err
	}
	if cfg.PendingCutoff, err = getDuration("RECONCILE_PENDING_CUTOFF", cfg.PendingCutoff); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.NATSURL == "" {
		return Config{}, fmt.Errorf("NATS_URL must be set")
	}
	if cfg.ProviderHMACSecret == "" && cfg.ProviderPublicKey == "" && !cfg.AllowUnsigned {
		return Config{}, fmt.Errorf("either PROVIDER_HMAC_SECRET or PROVIDER_PUBLIC_KEY must be set unless WEBHOOK_ALLOW_UNSIGNED=true")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
