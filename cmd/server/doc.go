// Package main implements the LandKeeper server process.
//
// It wires together a Realm (the process-wide Land registry), a Transport
// Adapter serving joined players over WebSocket, and an optional Admin HTTP
// API for operational inspection of live Lands and their replay records.
//
// # Architecture
//
// The server application follows a clean separation of concerns:
//
//   - Configuration loading and validation (via pkg/config)
//   - Logging setup and initialization
//   - Land type registration, with per-type YAML overrides
//   - Optional replay recording and periodic persistence
//   - Optional multi-node single-session enforcement
//   - Server lifecycle management with graceful shutdown
//   - Signal handling for SIGINT and SIGTERM
//
// # Startup Sequence
//
//  1. Load configuration from environment variables with secure defaults
//  2. Configure logging based on LOG_LEVEL setting
//  3. Build the Realm and register every known Land type
//  4. Wire replay recording and session registry, if enabled
//  5. Start the WebSocket and (optional) Admin HTTP servers
//  6. Handle shutdown signals gracefully
//
// # Environment Variables
//
// The server reads its configuration from environment variables; see
// pkg/config for the full list and their defaults. Commonly set ones
// include LISTEN_ADDR, ADMIN_LISTEN_ADDR, LOG_LEVEL, ENABLE_DEV_MODE,
// ENABLE_REPLAY_RECORDING, REPLAY_DIR, and NODE_ID.
//
// # Usage
//
// Run the server with default settings:
//
//	./server
//
// Run with a custom listen address and debug logging:
//
//	LISTEN_ADDR=:9000 LOG_LEVEL=debug ./server
//
// # Graceful Shutdown
//
// The server handles SIGINT (Ctrl+C) and SIGTERM signals gracefully:
//
//  1. Stop accepting new connections
//  2. Shut down the client and admin HTTP servers within ShutdownTimeout
//  3. Wait out ShutdownGracePeriod before exiting
package main
