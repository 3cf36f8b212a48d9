// Package config provides process-wide configuration for LandKeeper.
//
// This package handles environment variable loading with type-safe parsing,
// applies secure production defaults, performs validation of all
// configuration values, and loads per-Land-type YAML configuration files.
//
// # Loading Process-Wide Configuration
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Environment Variables
//
// Transport:
//   - LISTEN_ADDR: WebSocket listen address (default: ":8080")
//   - LOG_LEVEL: Logging verbosity (default: "info")
//   - ALLOWED_ORIGINS: CORS allowed origins, comma-separated
//   - MAX_FRAME_SIZE: Maximum inbound frame size (default: 64KB)
//   - ENABLE_DEV_MODE: Relax CORS and join authentication (default: true)
//   - JOIN_TIMEOUT: Join command deadline (default: 10s)
//
// Admin API:
//   - ADMIN_LISTEN_ADDR: Address to serve the Admin API on (empty disables it)
//   - ADMIN_API_KEY / ADMIN_JWT_SECRET: authentication, at least one required
//     outside local development
//
// Rate limiting and retry:
//   - RATE_LIMIT_ENABLED, RATE_LIMIT_REQUESTS_PER_SECOND, RATE_LIMIT_BURST
//   - RETRY_ENABLED, RETRY_MAX_ATTEMPTS, RETRY_INITIAL_DELAY, RETRY_MAX_DELAY,
//     RETRY_BACKOFF_MULTIPLIER, RETRY_JITTER_PERCENT
//
// Replay and session registry:
//   - REPLAY_DIR, ENABLE_REPLAY_RECORDING, LAND_CONFIG_DIR
//   - NODE_ID, SESSION_LEASE_TTL, SESSION_HEARTBEAT_INTERVAL
//
// # Per-Land-Type Configuration
//
// LoadLandConfigs reads every *.yaml file in Config.LandConfigDir and
// returns a land.Config per Land type, keyed by file base name:
//
//	landConfigs, err := config.LoadLandConfigs(cfg.LandConfigDir)
//	// landConfigs["dungeon"] is a land.Config built from dungeon.yaml,
//	// falling back to land.DefaultConfig() for any field the file omits.
//
// # CORS Support
//
//	if cfg.OriginAllowed(origin) {
//	    // allow the WebSocket upgrade
//	}
//
// # Retry Configuration
//
// GetRetryConfig returns a retry.RetryConfig ready for retry.NewRetrier:
//
//	retrier := retry.NewRetrier(cfg.GetRetryConfig())
package config
