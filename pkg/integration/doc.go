// Package integration combines circuit breaker and retry patterns for comprehensive
// fault tolerance across LandKeeper's file system and configuration operations.
//
// This package provides ResilientExecutor which layers retry logic on top of
// circuit breaker protection, giving operations the benefits of both mechanisms:
// automatic retries for transient failures and fast-fail for persistent outages.
//
// # Execution Flow
//
// When executing an operation:
//
//  1. The retrier runs up to MaxAttempts attempts, with exponential backoff
//     between them
//  2. Each attempt goes through the circuit breaker, which records its
//     success or failure
//  3. While the breaker is open, an attempt fails at once with
//     ErrCircuitBreakerOpen; the retrier retries that like any other error
//  4. When every attempt fails, the last error is returned wrapped as
//     "operation failed after N attempts" (errors.Is still matches it)
//
// # Creating Executors
//
// Create a custom executor with specific configuration:
//
//	cbConfig := resilience.CircuitBreakerConfig{
//	    MaxFailures: 5,
//	    Timeout:     30 * time.Second,
//	}
//	retryConfig := retry.RetryConfig{
//	    MaxAttempts:  3,
//	    InitialDelay: 100 * time.Millisecond,
//	}
//	executor := integration.CreateCustomExecutor("my-service", cbConfig, retryConfig)
//
// # Executing Operations
//
// Wrap operations with combined protection:
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return callExternalAPI()
//	})
//
// # Pre-configured Executors
//
// Global executors for common operation types:
//
//	// File system operations
//	err := integration.ExecuteFileSystemOperation(ctx, operation)
//
//	// Network/WebSocket operations
//	err := integration.ExecuteNetworkOperation(ctx, operation)
//
//	// Configuration loading
//	err := integration.ExecuteConfigOperation(ctx, operation)
//
// # Ad-hoc Execution
//
// For one-off operations with custom options:
//
//	err := integration.ExecuteResilient(ctx, operation,
//	    integration.ConfigureRetry(retryConfig),
//	    integration.ConfigureCircuitBreaker(cbConfig),
//	)
//
// # Disabling Mechanisms
//
// Run with only one protection mechanism:
//
//	// Retry only, no circuit breaker
//	err := integration.WithCircuitBreakerDisabled(retryConfig).Execute(ctx, operation)
//
//	// Circuit breaker only, no retry
//	err := integration.WithRetryDisabled(cbConfig).Execute(ctx, operation)
//
// # Statistics
//
// Query the circuit breaker's statistics:
//
//	stats := executor.GetStats()
//	// Circuit breaker state and counters, keys prefixed "circuit_breaker_";
//	// no retry metrics are included
//
// # Testing
//
// Tests that exercise ExecuteConfigOperation repeatedly should reset the
// shared circuit breaker between runs so one test's failures can't trip
// the breaker for another:
//
//	resilience.GetGlobalCircuitBreakerManager().Remove("config_loader")
package integration
