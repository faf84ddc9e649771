// Package config provides configuration loading and management for the catalog service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
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

// Config captures environment-driven settings for the catalog service.
type Config struct {
	Env       string // Deployment environment (dev, staging, prod)
	Port      string // HTTP server port
	SiteURL   string // Canonical public URL used in SEO tags and the sitemap
	DataDir   string // Directory holding movies.json and sites.json
	PublicDir string // Directory with static pages and assets

	// Storage backend
	Store       string // file, badger or postgres
	BadgerDir   string // Badger data directory
	DatabaseDSN string // PostgreSQL connection string

	// Origin film API
	OriginURL     string        // Base URL of the film metadata API
	OriginAPIKey  string        // Value of the X-API-KEY header
	OriginTimeout time.Duration // Per-request timeout for origin calls

	// Event streaming and backups
	NATSURL     string // NATS server URL
	S3Endpoint  string // S3-compatible storage endpoint
	S3Region    string // S3 region
	S3Bucket    string // S3 bucket for cache snapshots
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key

	// Admin panel
	AdminUsername     string        // Admin login name
	AdminPassword     string        // Plaintext admin password, hashed on startup
	AdminPasswordHash string        // bcrypt hash of the admin password; wins over AdminPassword
	TokenSecret       string        // HMAC secret for admin tokens
	TokenTTL          time.Duration // Admin token lifetime

	// Presence and mirror sweeps
	OnlineTimeout       time.Duration // Inactivity window for a visitor session
	OnlineSweepInterval time.Duration // How often stale sessions are evicted
	SiteOfflineAfter    time.Duration // Heartbeat age after which a mirror is demoted
	SiteSweepInterval   time.Duration // How often mirrors are checked

	// Cache warm-up
	WarmOnStart  bool          // Preload and enrich the cache on startup
	WarmInterval time.Duration // Spacing between warm-up origin calls
	EnrichLimit  int           // Max incomplete records enriched per warm-up

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS
}

// Default configuration values used when environment variables are not set
const (
	defaultEnv       = "dev"
	defaultPort      = "3000"
	defaultSiteURL   = "https://cinematic.site"
	defaultDataDir   = "./data"
	defaultPublicDir = "./public"
	defaultStore     = "file"
	defaultOriginURL = "https://kinopoiskapiunofficial.tech"
	defaultS3Region  = "us-east-1"
	defaultAdminUser = "admin"
	defaultDevPass   = "cinema2024"

	defaultOriginTimeout       = 10 * time.Second
	defaultTokenTTL            = 24 * time.Hour
	defaultOnlineTimeout       = 60 * time.Second
	defaultOnlineSweepInterval = 30 * time.Second
	defaultSiteOfflineAfter    = 2 * time.Minute
	defaultSiteSweepInterval   = time.Minute
	defaultWarmInterval        = 350 * time.Millisecond
	defaultEnrichLimit         = 50
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if required parameters are missing or invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:       getEnv("CINE_ENV", defaultEnv),
		Port:      getEnv("CINE_PORT", defaultPort),
		SiteURL:   strings.TrimRight(getEnv("CINE_SITE_URL", defaultSiteURL), "/"),
		DataDir:   getEnv("CINE_DATA_DIR", defaultDataDir),
		PublicDir: getEnv("CINE_PUBLIC_DIR", defaultPublicDir),

		Store:       strings.ToLower(getEnv("CINE_STORE", defaultStore)),
		DatabaseDSN: os.Getenv("CINE_DB_DSN"),

		OriginURL:     strings.TrimRight(getEnv("CINE_ORIGIN_URL", defaultOriginURL), "/"),
		OriginAPIKey:  os.Getenv("CINE_ORIGIN_API_KEY"),
		OriginTimeout: getDuration("CINE_ORIGIN_TIMEOUT", defaultOriginTimeout),

		NATSURL:     os.Getenv("CINE_NATS_URL"),
		S3Endpoint:  os.Getenv("CINE_S3_ENDPOINT"),
		S3Region:    getEnv("CINE_S3_REGION", defaultS3Region),
		S3Bucket:    os.Getenv("CINE_S3_BUCKET"),
		S3AccessKey: os.Getenv("CINE_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("CINE_S3_SECRET_KEY"),

		AdminUsername:     getEnv("CINE_ADMIN_USERNAME", defaultAdminUser),
		AdminPassword:     os.Getenv("CINE_ADMIN_PASSWORD"),
		AdminPasswordHash: os.Getenv("CINE_ADMIN_PASSWORD_HASH"),
		TokenSecret:       os.Getenv("CINE_TOKEN_SECRET"),
		TokenTTL:          getDuration("CINE_TOKEN_TTL", defaultTokenTTL),

		OnlineTimeout:       getDuration("CINE_ONLINE_TIMEOUT", defaultOnlineTimeout),
		OnlineSweepInterval: getDuration("CINE_ONLINE_SWEEP_INTERVAL", defaultOnlineSweepInterval),
		SiteOfflineAfter:    getDuration("CINE_SITE_OFFLINE_AFTER", defaultSiteOfflineAfter),
		SiteSweepInterval:   getDuration("CINE_SITE_SWEEP_INTERVAL", defaultSiteSweepInterval),

		WarmOnStart:  true,
		WarmInterval: getDuration("CINE_WARM_INTERVAL", defaultWarmInterval),
		EnrichLimit:  getInt("CINE_ENRICH_LIMIT", defaultEnrichLimit),

		CORSAllowedOrigins: []string{"*"},
	}

	cfg.BadgerDir = getEnv("CINE_BADGER_DIR", cfg.DataDir+"/badger")

	if warm, exists := os.LookupEnv("CINE_WARM_ON_START"); exists {
		cfg.WarmOnStart = parseBool(warm)
	}

	if corsOrigins, exists := os.LookupEnv("CINE_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = splitList(corsOrigins)
	}

	// The well-known development password is only accepted in dev
	if cfg.AdminPassword == "" && cfg.AdminPasswordHash == "" {
		if cfg.Env != "dev" {
			return cfg, fmt.Errorf("CINE_ADMIN_PASSWORD or CINE_ADMIN_PASSWORD_HASH is required outside dev")
		}
		cfg.AdminPassword = defaultDevPass
	}

	// Validate required parameters
	if cfg.OriginAPIKey == "" {
		return cfg, fmt.Errorf("CINE_ORIGIN_API_KEY is required")
	}

	if cfg.TokenSecret == "" {
		return cfg, fmt.Errorf("CINE_TOKEN_SECRET is required")
	}

	switch cfg.Store {
	case "file", "badger":
	case "postgres":
		if cfg.DatabaseDSN == "" {
			return cfg, fmt.Errorf("CINE_DB_DSN is required when CINE_STORE=postgres")
		}
	default:
		return cfg, fmt.Errorf("unknown CINE_STORE %q", cfg.Store)
	}

	return cfg, nil
}

// BackupsEnabled reports whether S3 snapshot backups are configured. The
// endpoint is optional; without it the AWS default endpoint is used.
func (c Config) BackupsEnabled() bool {
	return c.S3Bucket != ""
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// getDuration parses a Go duration, returning the fallback if unset or malformed
func getDuration(key string, fallback time.Duration) time.Duration {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// getInt parses a positive integer, returning the fallback if unset or malformed
func getInt(key string, fallback int) int {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
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
