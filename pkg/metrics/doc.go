// Package metrics registers LandKeeper's Prometheus collectors once, at
// import time, and exposes them through the package-level Default instance.
//
// # Recording
//
//	metrics.Default.TickProcessed(landType)
//	metrics.Default.SyncModeUsed(landType, mode.String())
//	metrics.Default.ObservePatchBytes(landType, len(encodedUpdate))
//
// # Serving
//
// cmd/server mounts Handler() on the metrics listen address:
//
//	mux.Handle("/metrics", metrics.Handler())
//
// # Testing
//
// Tests that need an isolated registry (rather than sharing process-wide
// state with every other package under test) should construct their own
// instance with New() instead of using Default.
package metrics
