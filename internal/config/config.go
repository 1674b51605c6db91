// Package config loads the sync daemon's process-level configuration from
// environment variables. Per-account IMAP endpoints, providers, and
// credentials live in the database (internal/store) — this package only
// configures the process itself.
package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment
// variables.
type Config struct {
	// Environment is the deployment environment (development, production,
	// test). Defaults to "development" if MAILSYNC_ENV is not set.
	Environment string
	// EncryptionKeyBase64 is the base64-encoded AES-256 key used to
	// encrypt/decrypt account secrets at rest. Must decode to 32 bytes.
	EncryptionKeyBase64 string

	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// BlockstorePath is the root directory of the filesystem-backed
	// content-addressed blockstore (§6).
	BlockstorePath string

	// PollFrequency is how long a Folder Sync Engine sleeps (or IDLEs)
	// between poll passes (§4.6 step 8).
	PollFrequency time.Duration
	// SlowRefreshInterval gates the full all_uids() reconciliation pass in
	// poll step 6 (§4.6 supplement); defaults to 30x PollFrequency.
	SlowRefreshInterval time.Duration
	// ReconnectBackoff is the fixed delay the Engine waits between
	// reconnect attempts after a Network/ImapAbort error (§4.6 failure
	// semantics: "observed: 5s between reconnects").
	ReconnectBackoff time.Duration
	// MaxUIDInvalidResyncs bounds how many times resync_uids may fire for
	// one folder before MailsyncDone is raised (§4.6).
	MaxUIDInvalidResyncs int
	// MaxMessageBodyLength is loaded from MAILSYNC_MAX_MESSAGE_BODY_LENGTH
	// but not read by the crispin client, whose uids() RFC822.SIZE ceiling
	// is the fixed crispin.DefaultMaxMessageBodyLength (§4.4).
	MaxMessageBodyLength int64
	// PoolAcquireTimeout is loaded from MAILSYNC_POOL_ACQUIRE_TIMEOUT but
	// not read by the pool registry, which bounds Pool.Get's wait with its
	// own fixed 30s default when the caller's context has no deadline (§4.3).
	PoolAcquireTimeout time.Duration
}

// NewConfig loads and returns a new Config instance from environment
// variables.
func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintln(os.Stderr, "warning: .env file not found, using environment variables")
		}
	}

	pollFrequency, err := getEnvDuration("MAILSYNC_POLL_FREQUENCY", 30*time.Second)
	if err != nil {
		return nil, err
	}
	slowRefreshDefault := 30 * pollFrequency
	slowRefreshInterval, err := getEnvDuration("MAILSYNC_SLOW_REFRESH_INTERVAL", slowRefreshDefault)
	if err != nil {
		return nil, err
	}
	reconnectBackoff, err := getEnvDuration("MAILSYNC_RECONNECT_BACKOFF", 5*time.Second)
	if err != nil {
		return nil, err
	}
	poolAcquireTimeout, err := getEnvDuration("MAILSYNC_POOL_ACQUIRE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	maxResyncs, err := getEnvInt("MAILSYNC_MAX_UIDINVALID_RESYNCS", 10)
	if err != nil {
		return nil, err
	}
	maxBodyLen, err := getEnvInt64("MAILSYNC_MAX_MESSAGE_BODY_LENGTH", 50*1024*1024)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:          env,
		EncryptionKeyBase64:  os.Getenv("MAILSYNC_ENCRYPTION_KEY_BASE64"),
		DBHost:               getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:               getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:           getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:           os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:               getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:            getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		LogLevel:             getEnvOrDefault("MAILSYNC_LOG_LEVEL", "info"),
		BlockstorePath:       getEnvOrDefault("MAILSYNC_BLOCKSTORE_PATH", "./data/blockstore"),
		PollFrequency:        pollFrequency,
		SlowRefreshInterval:  slowRefreshInterval,
		ReconnectBackoff:     reconnectBackoff,
		MaxUIDInvalidResyncs: maxResyncs,
		MaxMessageBodyLength: maxBodyLen,
		PoolAcquireTimeout:   poolAcquireTimeout,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration values are set and
// valid.
func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is required")
	}

	decoded, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d bytes", len(decoded))
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if err := validatePort(c.DBPort); err != nil {
		return fmt.Errorf("MAILSYNC_DB_PORT is not a valid port number: %w", err)
	}

	if c.MaxUIDInvalidResyncs < 1 {
		return fmt.Errorf("MAILSYNC_MAX_UIDINVALID_RESYNCS must be at least 1")
	}

	if c.SlowRefreshInterval < c.PollFrequency {
		return fmt.Errorf("MAILSYNC_SLOW_REFRESH_INTERVAL must be at least MAILSYNC_POLL_FREQUENCY")
	}

	return nil
}

func validatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("port must be a number: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// GetDatabaseURL returns a PostgreSQL connection string built from the
// configuration. Username and password are URL-encoded.
func (c *Config) GetDatabaseURL() string {
	encodedUsername := url.QueryEscape(c.DBUsername)
	encodedPassword := url.QueryEscape(c.DBPassword)

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		encodedUsername,
		encodedPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid duration: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid integer: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid integer: %w", key, err)
	}
	return n, nil
}
