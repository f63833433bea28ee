package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process level configuration for the credential bridge.
type Server struct {
	Addr            string
	DatabaseURL     string
	JWTSigningKey   string
	Issuer          string
	ExternalBaseURL string
	SessionTimeout  time.Duration
	SweepInterval   time.Duration
	StatusListSize  int
	PublishCacheTTL time.Duration
}

const (
	defaultSessionTimeout  = 15 * time.Minute
	defaultSweepInterval   = 1 * time.Minute
	defaultStatusListSize  = 131072
	defaultPublishCacheTTL = 30 * time.Second
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:            envOr("VCBRIDGE_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("VCBRIDGE_DATABASE_URL"),
		Issuer:          envOr("VCBRIDGE_ISSUER", "did:web:issuer.vcbridge.local"),
		ExternalBaseURL: envOr("VCBRIDGE_BASE_URL", "http://localhost:8080"),
		SessionTimeout:  durationOr("VCBRIDGE_SESSION_TIMEOUT", defaultSessionTimeout),
		SweepInterval:   durationOr("VCBRIDGE_SWEEP_INTERVAL", defaultSweepInterval),
		StatusListSize:  intOr("VCBRIDGE_STATUS_LIST_SIZE", defaultStatusListSize),
		PublishCacheTTL: durationOr("VCBRIDGE_PUBLISH_CACHE_TTL", defaultPublishCacheTTL),
	}

	cfg.JWTSigningKey = os.Getenv("VCBRIDGE_JWT_SIGNING_KEY")
	if cfg.JWTSigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
