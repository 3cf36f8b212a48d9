// Package config provides process-wide configuration management for
// LandKeeper. It handles environment variable loading, validation, and
// secure defaults, and loads per-Land-type configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"landkeeper/pkg/retry"

	"github.com/sirupsen/logrus"
)

// Config represents the server-wide configuration, loaded from environment
// variables with secure defaults. It governs the Transport Adapter, Admin
// API, session registry, and replay/metrics subsystems — everything that
// spans Lands rather than belonging to one Land type.
//
// Config is thread-safe; all field access should be done through getter
// methods when used concurrently, or by holding the mutex directly.
type Config struct {
	mu sync.RWMutex `json:"-"`

	// ListenAddr is the address the WebSocket Transport Adapter listens on.
	ListenAddr string `json:"listen_addr"`

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `json:"log_level"`

	// AllowedOrigins is the WebSocket CORS allowlist. Ignored when
	// EnableDevMode is true.
	AllowedOrigins []string `json:"allowed_origins"`

	// MaxFrameSize is the maximum size in bytes of a single inbound wire
	// frame, enforced by pkg/validation ahead of decode.
	MaxFrameSize int64 `json:"max_frame_size"`

	// EnableDevMode relaxes CORS origin checks and join authentication for
	// local development; never set in production.
	EnableDevMode bool `json:"enable_dev_mode"`

	// JoinTimeout bounds how long the Transport Adapter waits for a join
	// command's result before giving up.
	JoinTimeout time.Duration `json:"join_timeout"`

	// Admin API configuration

	// AdminListenAddr is the address the Admin HTTP API listens on. Empty
	// disables the Admin API entirely.
	AdminListenAddr string `json:"admin_listen_addr"`
	// AdminAPIKey, if set, is compared against the Admin API's X-API-Key
	// header.
	AdminAPIKey string `json:"admin_api_key"`
	// AdminJWTSecret, if set, HMAC-validates an admin-role bearer token.
	AdminJWTSecret string `json:"admin_jwt_secret"`

	// Performance monitoring configuration

	// EnableProfiling is read from ENABLE_PROFILING; no code in this
	// repository starts a pprof server from it.
	EnableProfiling bool `json:"enable_profiling"`
	// ProfilingPort is read from PROFILING_PORT and is likewise not used to
	// start any server.
	ProfilingPort int `json:"profiling_port"`
	// MetricsInterval is the period at which cmd/server flushes replay
	// records to ReplayDir when replay recording is enabled.
	MetricsInterval time.Duration `json:"metrics_interval"`

	// Rate limiting configuration

	// RateLimitEnabled enables per-session token-bucket limiting on
	// inbound frames.
	RateLimitEnabled bool `json:"rate_limit_enabled"`
	// RateLimitRequestsPerSecond is the steady-state rate allowed per
	// session.
	RateLimitRequestsPerSecond float64 `json:"rate_limit_requests_per_second"`
	// RateLimitBurst is the maximum burst allowed per session.
	RateLimitBurst int `json:"rate_limit_burst"`

	// Retry configuration, converted to retry.RetryConfig by GetRetryConfig.

	RetryEnabled           bool          `json:"retry_enabled"`
	RetryMaxAttempts       int           `json:"retry_max_attempts"`
	RetryInitialDelay      time.Duration `json:"retry_initial_delay"`
	RetryMaxDelay          time.Duration `json:"retry_max_delay"`
	RetryBackoffMultiplier float64       `json:"retry_backoff_multiplier"`
	RetryJitterPercent     int           `json:"retry_jitter_percent"`

	// Replay/persistence configuration

	// ReplayDir is the directory replay records are written to and served
	// from. Empty disables recording.
	ReplayDir string `json:"replay_dir"`
	// EnableReplayRecording turns on Recorder attachment for every Keeper.
	EnableReplayRecording bool `json:"enable_replay_recording"`

	// LandConfigDir is the directory of per-Land-type YAML configuration
	// files, loaded by LoadLandConfigs.
	LandConfigDir string `json:"land_config_dir"`

	// Session registry configuration, used only in multi-node
	// deployments.

	// NodeID identifies this process to the session registry.
	NodeID string `json:"node_id"`
	// SessionLeaseTTL is how long a claimed lease survives without a
	// heartbeat refresh.
	SessionLeaseTTL time.Duration `json:"session_lease_ttl"`
	// SessionHeartbeatInterval is how often a held lease is refreshed.
	SessionHeartbeatInterval time.Duration `json:"session_heartbeat_interval"`

	// Server lifecycle timeouts

	ShutdownTimeout     time.Duration `json:"shutdown_timeout"`
	ShutdownGracePeriod time.Duration `json:"shutdown_grace_period"`
}

// Load creates a new Config instance by reading from environment variables
// and applying secure defaults. It validates all configuration values and
// returns an error if any required values are missing or invalid.
func Load() (*Config, error) {
	logrus.WithFields(logrus.Fields{"function": "Load", "package": "config"}).Debug("entering Load")

	config := &Config{
		ListenAddr:     getEnvAsString("LISTEN_ADDR", ":8080"),
		LogLevel:       getEnvAsString("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{}),
		MaxFrameSize:   getEnvAsInt64("MAX_FRAME_SIZE", 64*1024), // 64KB default
		EnableDevMode:  getEnvAsBool("ENABLE_DEV_MODE", true),
		JoinTimeout:    getEnvAsDuration("JOIN_TIMEOUT", 10*time.Second),

		AdminListenAddr: getEnvAsString("ADMIN_LISTEN_ADDR", ""),
		AdminAPIKey:     getEnvAsString("ADMIN_API_KEY", ""),
		AdminJWTSecret:  getEnvAsString("ADMIN_JWT_SECRET", ""),

		EnableProfiling: getEnvAsBool("ENABLE_PROFILING", false),
		ProfilingPort:   getEnvAsInt("PROFILING_PORT", 0),
		MetricsInterval: getEnvAsDuration("METRICS_INTERVAL", 30*time.Second),

		RateLimitEnabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequestsPerSecond: getEnvAsFloat64("RATE_LIMIT_REQUESTS_PER_SECOND", 20),
		RateLimitBurst:             getEnvAsInt("RATE_LIMIT_BURST", 40),

		RetryEnabled:           getEnvAsBool("RETRY_ENABLED", true),
		RetryMaxAttempts:       getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay:      getEnvAsDuration("RETRY_INITIAL_DELAY", 100*time.Millisecond),
		RetryMaxDelay:          getEnvAsDuration("RETRY_MAX_DELAY", 30*time.Second),
		RetryBackoffMultiplier: getEnvAsFloat64("RETRY_BACKOFF_MULTIPLIER", 2.0),
		RetryJitterPercent:     getEnvAsInt("RETRY_JITTER_PERCENT", 10),

		ReplayDir:             getEnvAsString("REPLAY_DIR", "./data/replay"),
		EnableReplayRecording: getEnvAsBool("ENABLE_REPLAY_RECORDING", false),
		LandConfigDir:         getEnvAsString("LAND_CONFIG_DIR", "./config/lands"),

		NodeID:                   getEnvAsString("NODE_ID", ""),
		SessionLeaseTTL:          getEnvAsDuration("SESSION_LEASE_TTL", 15*time.Second),
		SessionHeartbeatInterval: getEnvAsDuration("SESSION_HEARTBEAT_INTERVAL", 5*time.Second),

		ShutdownTimeout:     getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: getEnvAsDuration("SHUTDOWN_GRACE_PERIOD", 1*time.Second),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Load",
		"package":     "config",
		"listen_addr": config.ListenAddr,
		"dev_mode":    config.EnableDevMode,
		"log_level":   config.LogLevel,
	}).Debug("configuration loaded, starting validation")

	if err := config.validate(); err != nil {
		logrus.WithFields(logrus.Fields{"function": "Load", "package": "config", "error": err}).Error("configuration validation failed")
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate coordinates validation of all configuration sections.
func (c *Config) validate() error {
	if err := c.validateServerSettings(); err != nil {
		return err
	}
	if err := c.validateSecuritySettings(); err != nil {
		return err
	}
	if err := c.validateRateLimitConfig(); err != nil {
		return err
	}
	if err := c.validateRetryConfig(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServerSettings() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, level := range validLogLevels {
		if strings.ToLower(c.LogLevel) == level {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("log level must be one of %v, got %s", validLogLevels, c.LogLevel)
	}
	if c.JoinTimeout < time.Second {
		return fmt.Errorf("join timeout must be at least 1 second, got %v", c.JoinTimeout)
	}
	return nil
}

func (c *Config) validateSecuritySettings() error {
	if c.MaxFrameSize < 1024 {
		return fmt.Errorf("max frame size must be at least 1024 bytes, got %d", c.MaxFrameSize)
	}
	if !c.EnableDevMode && len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed origins must be specified when dev mode is disabled")
	}
	return nil
}

func (c *Config) validateRateLimitConfig() error {
	if c.RateLimitEnabled {
		if c.RateLimitRequestsPerSecond <= 0 {
			return fmt.Errorf("rate limit requests per second must be greater than 0 when rate limiting is enabled")
		}
		if c.RateLimitBurst <= 0 {
			return fmt.Errorf("rate limit burst must be greater than 0 when rate limiting is enabled")
		}
	}
	return nil
}

func (c *Config) validateRetryConfig() error {
	if c.RetryEnabled {
		if c.RetryMaxAttempts < 1 {
			return fmt.Errorf("retry max attempts must be at least 1 when retry is enabled")
		}
		if c.RetryInitialDelay < 0 {
			return fmt.Errorf("retry initial delay must be non-negative when retry is enabled")
		}
		if c.RetryMaxDelay < c.RetryInitialDelay {
			return fmt.Errorf("retry max delay must be greater than or equal to initial delay when retry is enabled")
		}
		if c.RetryBackoffMultiplier <= 1.0 {
			return fmt.Errorf("retry backoff multiplier must be greater than 1.0 when retry is enabled")
		}
		if c.RetryJitterPercent < 0 || c.RetryJitterPercent > 100 {
			return fmt.Errorf("retry jitter percent must be between 0 and 100 when retry is enabled")
		}
	}
	return nil
}

// OriginAllowed checks if the given origin is allowed for WebSocket
// connections. This method is thread-safe.
func (c *Config) OriginAllowed(origin string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.EnableDevMode {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// GetRetryConfig converts the application-level retry settings into
// retry.RetryConfig, ready for retry.NewRetrier.
func (c *Config) GetRetryConfig() retry.RetryConfig {
	return retry.RetryConfig{
		MaxAttempts:       c.RetryMaxAttempts,
		InitialDelay:      c.RetryInitialDelay,
		MaxDelay:          c.RetryMaxDelay,
		BackoffMultiplier: c.RetryBackoffMultiplier,
		JitterMaxPercent:  c.RetryJitterPercent,
		RetryableErrors:   []error{},
	}
}

// Helper functions for environment variable parsing with type safety and defaults

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
