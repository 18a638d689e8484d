package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds settings for the API server and the execution engine
type Config struct {
	// API Server
	APIHost        string
	APIPort        int
	AllowedOrigins []string
	LogLevel       string

	// Storage
	DatabaseURL string

	// Engine
	NodeTimeout         time.Duration
	MaxConcurrency      int
	OutboundRateLimit   float64
	ExpressionEnvPrefix string
	ShutdownTimeout     time.Duration
}

const (
	DefaultAPIHost          = "0.0.0.0"
	DefaultAPIPort          = 8080
	DefaultAllowedOrigin    = "http://localhost:3003"
	DefaultLogLevel         = "debug"
	DefaultNodeTimeout      = 60 * time.Second
	DefaultMaxConcurrency   = 1
	DefaultShutdownTimeout  = 5 * time.Second
	DefaultExpressionPrefix = "WORKFLOW_ENV_"

	MaxTCPPort        = 65535
	MaxConcurrency    = 1024
	MaxNodeTimeoutMS  = 24 * 60 * 60 * 1000
	MaxShutdownMS     = 10 * 60 * 1000
	MaxOutboundPerSec = 100_000
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is not set")
	ErrInvalidAPIPort     = errors.New("invalid API port")
	ErrInvalidNodeTimeout = errors.New("node timeout must be positive")
	ErrInvalidConcurrency = errors.New("max concurrency must be positive")
	ErrInvalidRateLimit   = errors.New("outbound rate limit cannot be negative")
)

// NewDefaultConfig creates a configuration with defaults for every setting
// except the database URL, which must come from the environment
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:             DefaultAPIHost,
		APIPort:             DefaultAPIPort,
		AllowedOrigins:      []string{DefaultAllowedOrigin},
		LogLevel:            DefaultLogLevel,
		NodeTimeout:         DefaultNodeTimeout,
		MaxConcurrency:      DefaultMaxConcurrency,
		ExpressionEnvPrefix: DefaultExpressionPrefix,
		ShutdownTimeout:     DefaultShutdownTimeout,
	}
}

// LoadFromEnv overrides configuration values from environment variables
func (c *Config) LoadFromEnv() error {
	if dbURL, ok := os.LookupEnv("DATABASE_URL"); ok {
		c.DatabaseURL = dbURL
	}
	if host := os.Getenv("API_HOST"); host != "" {
		c.APIHost = host
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	if prefix, ok := os.LookupEnv("EXPRESSION_ENV_PREFIX"); ok {
		c.ExpressionEnvPrefix = prefix
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_CONCURRENCY", &c.MaxConcurrency, 0, MaxConcurrency,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"NODE_TIMEOUT_MS", &c.NodeTimeout, MaxNodeTimeoutMS,
	); err != nil {
		return err
	}
	if err := loadEnvMillis(
		"SHUTDOWN_TIMEOUT_MS", &c.ShutdownTimeout, MaxShutdownMS,
	); err != nil {
		return err
	}

	if s := os.Getenv("OUTBOUND_RATE_LIMIT"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 || v > MaxOutboundPerSec {
			return fmt.Errorf("invalid OUTBOUND_RATE_LIMIT: %q", s)
		}
		c.OutboundRateLimit = v
	}
	return nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.NodeTimeout <= 0 {
		return ErrInvalidNodeTimeout
	}
	if c.MaxConcurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.OutboundRateLimit < 0 {
		return ErrInvalidRateLimit
	}
	return nil
}

// Addr returns the host:port the API server listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// ExpressionEnv collects the environment variables carrying the configured
// prefix, with the prefix stripped. Nothing else from the process
// environment is visible to expressions
func (c *Config) ExpressionEnv() map[string]string {
	res := map[string]string{}
	if c.ExpressionEnvPrefix == "" {
		return res
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, c.ExpressionEnvPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, c.ExpressionEnvPrefix)
		if name != "" {
			res[name] = value
		}
	}
	return res
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

func loadEnvMillis(key string, dst *time.Duration, max int64) error {
	var ms int64
	if err := loadEnvInt(key, &ms, 0, max); err != nil {
		return err
	}
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
