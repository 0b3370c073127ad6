// Package config provides configuration loading for the case service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load does not override variables already set, so the process
// environment takes precedence over both files.
func init() {
	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the case service.
type Config struct {
	Env            string // Deployment environment (dev, staging, prod)
	Port           string // HTTP server port
	LogLevel       string // debug, info, warn, error
	SentryDSN      string // Enables Sentry error reporting when set
	DatabaseDSN    string // PostgreSQL connection string; takes precedence over SQLitePath
	SQLitePath     string // SQLite database file used when no DSN is set
	TxnMaxAttempts int    // Optimistic transaction retry bound

	NATSURL string // NATS server URL; events and notifications are disabled when empty

	// Object storage
	S3Endpoint   string // S3-compatible storage endpoint
	S3Region     string // S3 region
	S3Bucket     string // S3 bucket name; local disk storage is used when empty
	S3AccessKey  string // S3 access key
	S3SecretKey  string // S3 secret key
	S3PublicURL  string // Base URL objects are served from
	MediaDir     string // Local media directory
	MediaBaseURL string // Public base URL for local media

	// Media limits
	MaxMediaSize     int64    // Maximum upload size in bytes
	AllowedMimeTypes []string // Accepted photo content types

	GeocoderURL       string // Nominatim-compatible reverse geocoding endpoint
	GeocoderUserAgent string // User-Agent sent to the geocoder

	FCMCredentialsFile string // Firebase service account JSON; enables push notifications

	// Admin authentication
	JWTIssuer   string // Expected issuer; admin routes are open when empty
	JWTAudience string // Expected audience
	JWKSURL     string // Key set used to verify admin tokens

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)

	TracingEnabled bool // Export spans to stdout
}

// Default configuration values used when environment variables are not set
const (
	defaultPort           = "8080"
	defaultEnv            = "dev"
	defaultLogLevel       = "info"
	defaultS3Region       = "us-east-1"
	defaultSQLitePath     = "data/roadcase.db"
	defaultMediaDir       = "data/media"
	defaultMediaBaseURL   = "/media"
	defaultGeocoderURL    = "https://nominatim.openstreetmap.org"
	defaultGeocoderUA     = "roadcase-service/1.0"
	defaultMaxMediaSize   = 10 * 1024 * 1024
	defaultTxnMaxAttempts = 25
)

// Load reads environment variables and produces a Config suitable for wiring the service.
func Load() (Config, error) {
	cfg := Config{
		Env:               getEnv("ROAD_ENV", defaultEnv),
		Port:              getEnv("ROAD_PORT", defaultPort),
		LogLevel:          getEnv("ROAD_LOG_LEVEL", defaultLogLevel),
		SentryDSN:         os.Getenv("ROAD_SENTRY_DSN"),
		DatabaseDSN:       os.Getenv("ROAD_DB_DSN"),
		SQLitePath:        getEnv("ROAD_SQLITE_PATH", defaultSQLitePath),
		NATSURL:           os.Getenv("ROAD_NATS_URL"),
		S3Endpoint:        os.Getenv("ROAD_S3_ENDPOINT"),
		S3Region:          getEnv("ROAD_S3_REGION", defaultS3Region),
		S3Bucket:          os.Getenv("ROAD_S3_BUCKET"),
		S3AccessKey:       os.Getenv("ROAD_S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("ROAD_S3_SECRET_KEY"),
		S3PublicURL:       os.Getenv("ROAD_S3_PUBLIC_URL"),
		MediaDir:          getEnv("ROAD_MEDIA_DIR", defaultMediaDir),
		MediaBaseURL:      getEnv("ROAD_MEDIA_BASE_URL", defaultMediaBaseURL),
		GeocoderURL:       getEnv("ROAD_GEOCODER_URL", defaultGeocoderURL),
		GeocoderUserAgent: getEnv("ROAD_GEOCODER_USER_AGENT", defaultGeocoderUA),
		JWTIssuer:         os.Getenv("ROAD_JWT_ISSUER"),
		JWTAudience:       os.Getenv("ROAD_JWT_AUDIENCE"),
		JWKSURL:           os.Getenv("ROAD_JWKS_URL"),
		TracingEnabled:    parseBool(os.Getenv("ROAD_TRACING")),
		MaxMediaSize:      defaultMaxMediaSize,
		TxnMaxAttempts:    defaultTxnMaxAttempts,
		AllowedMimeTypes:  []string{"image/jpeg", "image/png", "image/webp", "image/heic"},
	}

	cfg.FCMCredentialsFile = os.Getenv("ROAD_FCM_CREDENTIALS")

	if v, exists := os.LookupEnv("ROAD_MAX_MEDIA_SIZE"); exists {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size <= 0 {
			return cfg, fmt.Errorf("ROAD_MAX_MEDIA_SIZE must be a positive integer, got %q", v)
		}
		cfg.MaxMediaSize = size
	}

	if v, exists := os.LookupEnv("ROAD_TXN_MAX_ATTEMPTS"); exists {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("ROAD_TXN_MAX_ATTEMPTS must be a positive integer, got %q", v)
		}
		cfg.TxnMaxAttempts = n
	}

	if v, exists := os.LookupEnv("ROAD_ALLOWED_MIME_TYPES"); exists {
		cfg.AllowedMimeTypes = splitList(v)
	}

	if v, exists := os.LookupEnv("ROAD_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = splitList(v)
	}

	// Validate parameters that only make sense together
	if cfg.S3Bucket != "" && (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return cfg, fmt.Errorf("ROAD_S3_ACCESS_KEY and ROAD_S3_SECRET_KEY must be set together")
	}
	if cfg.JWTIssuer != "" && cfg.JWKSURL == "" {
		return cfg, fmt.Errorf("ROAD_JWKS_URL is required when ROAD_JWT_ISSUER is set")
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in prod.
func (c Config) IsProduction() bool {
	return c.Env == "prod" || c.Env == "production"
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
