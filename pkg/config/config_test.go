package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectError bool
		validate    func(t *testing.T, config *Config)
	}{
		{
			name:        "default configuration",
			envVars:     map[string]string{},
			expectError: false,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, ":8080", config.ListenAddr)
				assert.Equal(t, "info", config.LogLevel)
				assert.Equal(t, []string{}, config.AllowedOrigins)
				assert.Equal(t, int64(64*1024), config.MaxFrameSize)
				assert.Equal(t, true, config.EnableDevMode)
				assert.Equal(t, 10*time.Second, config.JoinTimeout)
			},
		},
		{
			name: "custom configuration from environment",
			envVars: map[string]string{
				"LISTEN_ADDR":     ":9090",
				"LOG_LEVEL":       "debug",
				"ALLOWED_ORIGINS": "http://localhost:3000,https://example.com",
				"MAX_FRAME_SIZE":  "2097152", // 2MB
				"ENABLE_DEV_MODE": "true",
				"JOIN_TIMEOUT":    "5s",
			},
			expectError: false,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, ":9090", config.ListenAddr)
				assert.Equal(t, "debug", config.LogLevel)
				assert.Equal(t, []string{"http://localhost:3000", "https://example.com"}, config.AllowedOrigins)
				assert.Equal(t, int64(2*1024*1024), config.MaxFrameSize)
				assert.Equal(t, true, config.EnableDevMode)
				assert.Equal(t, 5*time.Second, config.JoinTimeout)
			},
		},
		{
			name: "invalid log level",
			envVars: map[string]string{
				"LOG_LEVEL": "invalid",
			},
			expectError: true,
		},
		{
			name: "join timeout too short",
			envVars: map[string]string{
				"JOIN_TIMEOUT": "500ms",
			},
			expectError: true,
		},
		{
			name: "max frame size too small",
			envVars: map[string]string{
				"MAX_FRAME_SIZE": "512",
			},
			expectError: true,
		},
		{
			name: "production mode without allowed origins",
			envVars: map[string]string{
				"ENABLE_DEV_MODE": "false",
			},
			expectError: true,
		},
		{
			name: "production mode with allowed origins",
			envVars: map[string]string{
				"ENABLE_DEV_MODE": "false",
				"ALLOWED_ORIGINS": "https://production.example.com",
			},
			expectError: false,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, false, config.EnableDevMode)
				assert.Equal(t, []string{"https://production.example.com"}, config.AllowedOrigins)
			},
		},
		{
			name: "retry backoff multiplier must exceed 1.0",
			envVars: map[string]string{
				"RETRY_BACKOFF_MULTIPLIER": "1.0",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv()

			for key, value := range tt.envVars {
				os.Setenv(key, value)
				defer os.Unsetenv(key)
			}

			config, err := Load()

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, config)
			} else {
				require.NoError(t, err)
				require.NotNil(t, config)
				if tt.validate != nil {
					tt.validate(t, config)
				}
			}
		})
	}
}

func TestConfigOriginAllowed(t *testing.T) {
	tests := []struct {
		name           string
		config         *Config
		origin         string
		expectedResult bool
	}{
		{
			name: "dev mode allows all origins",
			config: &Config{
				EnableDevMode:  true,
				AllowedOrigins: []string{"https://example.com"},
			},
			origin:         "https://unknown.com",
			expectedResult: true,
		},
		{
			name: "production mode allows listed origin",
			config: &Config{
				EnableDevMode:  false,
				AllowedOrigins: []string{"https://example.com", "https://app.example.com"},
			},
			origin:         "https://example.com",
			expectedResult: true,
		},
		{
			name: "production mode blocks unlisted origin",
			config: &Config{
				EnableDevMode:  false,
				AllowedOrigins: []string{"https://example.com"},
			},
			origin:         "https://malicious.com",
			expectedResult: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.OriginAllowed(tt.origin)
			assert.Equal(t, tt.expectedResult, result)
		})
	}
}

func TestGetRetryConfig(t *testing.T) {
	cfg := &Config{
		RetryMaxAttempts:       5,
		RetryInitialDelay:      50 * time.Millisecond,
		RetryMaxDelay:          2 * time.Second,
		RetryBackoffMultiplier: 2.5,
		RetryJitterPercent:     15,
	}

	retryCfg := cfg.GetRetryConfig()
	assert.Equal(t, 5, retryCfg.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, retryCfg.InitialDelay)
	assert.Equal(t, 2*time.Second, retryCfg.MaxDelay)
	assert.Equal(t, 2.5, retryCfg.BackoffMultiplier)
	assert.Equal(t, 15, retryCfg.JitterMaxPercent)
}

func TestGetEnvHelpers(t *testing.T) {
	clearTestEnv()

	t.Run("getEnvAsString", func(t *testing.T) {
		assert.Equal(t, "default", getEnvAsString("TEST_STRING", "default"))

		os.Setenv("TEST_STRING", "custom")
		defer os.Unsetenv("TEST_STRING")
		assert.Equal(t, "custom", getEnvAsString("TEST_STRING", "default"))
	})

	t.Run("getEnvAsInt", func(t *testing.T) {
		assert.Equal(t, 42, getEnvAsInt("TEST_INT", 42))

		os.Setenv("TEST_INT", "100")
		defer os.Unsetenv("TEST_INT")
		assert.Equal(t, 100, getEnvAsInt("TEST_INT", 42))

		os.Setenv("TEST_INT_INVALID", "not-a-number")
		defer os.Unsetenv("TEST_INT_INVALID")
		assert.Equal(t, 42, getEnvAsInt("TEST_INT_INVALID", 42))
	})

	t.Run("getEnvAsInt64", func(t *testing.T) {
		assert.Equal(t, int64(42), getEnvAsInt64("TEST_INT64", 42))

		os.Setenv("TEST_INT64", "9223372036854775807")
		defer os.Unsetenv("TEST_INT64")
		assert.Equal(t, int64(9223372036854775807), getEnvAsInt64("TEST_INT64", 42))
	})

	t.Run("getEnvAsBool", func(t *testing.T) {
		assert.Equal(t, true, getEnvAsBool("TEST_BOOL", true))

		testCases := []struct {
			value    string
			expected bool
		}{
			{"true", true},
			{"false", false},
			{"1", true},
			{"0", false},
			{"TRUE", true},
			{"FALSE", false},
		}

		for _, tc := range testCases {
			os.Setenv("TEST_BOOL", tc.value)
			assert.Equal(t, tc.expected, getEnvAsBool("TEST_BOOL", false), "value: %s", tc.value)
		}
		os.Unsetenv("TEST_BOOL")
	})

	t.Run("getEnvAsDuration", func(t *testing.T) {
		assert.Equal(t, 5*time.Minute, getEnvAsDuration("TEST_DURATION", 5*time.Minute))

		os.Setenv("TEST_DURATION", "2h30m")
		defer os.Unsetenv("TEST_DURATION")
		assert.Equal(t, 2*time.Hour+30*time.Minute, getEnvAsDuration("TEST_DURATION", 5*time.Minute))
	})

	t.Run("getEnvAsStringSlice", func(t *testing.T) {
		defaultSlice := []string{"a", "b"}
		assert.Equal(t, defaultSlice, getEnvAsStringSlice("TEST_SLICE", defaultSlice))

		os.Setenv("TEST_SLICE", "one,two,three")
		defer os.Unsetenv("TEST_SLICE")
		assert.Equal(t, []string{"one", "two", "three"}, getEnvAsStringSlice("TEST_SLICE", defaultSlice))

		os.Setenv("TEST_SLICE_WHITESPACE", " one , two , three ")
		defer os.Unsetenv("TEST_SLICE_WHITESPACE")
		assert.Equal(t, []string{"one", "two", "three"}, getEnvAsStringSlice("TEST_SLICE_WHITESPACE", defaultSlice))

		os.Setenv("TEST_SLICE_EMPTY", "one,,three,")
		defer os.Unsetenv("TEST_SLICE_EMPTY")
		assert.Equal(t, []string{"one", "three"}, getEnvAsStringSlice("TEST_SLICE_EMPTY", defaultSlice))
	})
}

// clearTestEnv removes every environment variable Load reads, so tests
// don't leak state from the host environment or each other.
func clearTestEnv() {
	testVars := []string{
		"LISTEN_ADDR", "LOG_LEVEL", "ALLOWED_ORIGINS", "MAX_FRAME_SIZE",
		"ENABLE_DEV_MODE", "JOIN_TIMEOUT",
		"ADMIN_LISTEN_ADDR", "ADMIN_API_KEY", "ADMIN_JWT_SECRET",
		"ENABLE_PROFILING", "PROFILING_PORT", "METRICS_INTERVAL",
		"RATE_LIMIT_ENABLED", "RATE_LIMIT_REQUESTS_PER_SECOND", "RATE_LIMIT_BURST",
		"RETRY_ENABLED", "RETRY_MAX_ATTEMPTS", "RETRY_INITIAL_DELAY", "RETRY_MAX_DELAY",
		"RETRY_BACKOFF_MULTIPLIER", "RETRY_JITTER_PERCENT",
		"REPLAY_DIR", "ENABLE_REPLAY_RECORDING", "LAND_CONFIG_DIR",
		"NODE_ID", "SESSION_LEASE_TTL", "SESSION_HEARTBEAT_INTERVAL",
		"SHUTDOWN_TIMEOUT", "SHUTDOWN_GRACE_PERIOD",
		"TEST_STRING", "TEST_INT", "TEST_INT_INVALID", "TEST_INT64", "TEST_BOOL",
		"TEST_DURATION", "TEST_SLICE", "TEST_SLICE_WHITESPACE", "TEST_SLICE_EMPTY",
	}

	for _, v := range testVars {
		os.Unsetenv(v)
	}
}
