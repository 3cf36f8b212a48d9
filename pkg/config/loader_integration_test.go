package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"landkeeper/pkg/resilience"
)

// TestLoadLandConfigsWithCircuitBreakerProtection exercises the
// ExecuteConfigOperation wrapping that loadLandConfigFile relies on.
func TestLoadLandConfigsWithCircuitBreakerProtection(t *testing.T) {
	resetCircuitBreakerForTesting()
	tempDir := t.TempDir()

	writeLandConfigFile(t, tempDir, "valid", "maxPlayers: 4")
	configs, err := LoadLandConfigs(tempDir)
	if err != nil {
		t.Fatalf("expected successful load, got error: %v", err)
	}
	if configs["valid"].MaxPlayers != 4 {
		t.Errorf("expected maxPlayers 4, got %d", configs["valid"].MaxPlayers)
	}

	// Non-existent directory.
	_, err = LoadLandConfigs(filepath.Join(tempDir, "does-not-exist"))
	if err == nil {
		t.Error("expected error when loading from a non-existent directory")
	}

	// Invalid YAML content.
	writeLandConfigFile(t, tempDir, "broken", "maxPlayers: [unclosed_bracket")
	_, err = LoadLandConfigs(tempDir)
	if err == nil {
		t.Error("expected error when parsing invalid YAML")
	}
	errorStr := strings.ToLower(err.Error())
	if !strings.Contains(errorStr, "yaml") && !strings.Contains(errorStr, "unmarshal") && !strings.Contains(errorStr, "operation failed") {
		t.Errorf("expected YAML parsing or operation failed error, got: %v", err)
	}
}

// TestConfigLoaderCircuitBreakerConfiguration tests the circuit breaker configuration.
func TestConfigLoaderCircuitBreakerConfiguration(t *testing.T) {
	resetCircuitBreakerForTesting()

	manager := resilience.GetGlobalCircuitBreakerManager()
	cb := manager.GetOrCreate("config_loader", &resilience.ConfigLoaderConfig)
	config := resilience.ConfigLoaderConfig

	if config.MaxFailures != 2 {
		t.Errorf("expected MaxFailures to be 2, got %d", config.MaxFailures)
	}
	if config.Timeout != 15*time.Second {
		t.Errorf("expected Timeout to be 15s, got %v", config.Timeout)
	}
	if config.Name != "config_loader" {
		t.Errorf("expected Name to be 'config_loader', got %s", config.Name)
	}
	if cb.GetState() != resilience.StateClosed {
		t.Errorf("expected initial state to be closed, got %s", cb.GetState())
	}
}

// TestCircuitBreakerRecovery tests circuit breaker behavior after repeated failures.
func TestCircuitBreakerRecovery(t *testing.T) {
	resetCircuitBreakerForTesting()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = resilience.ExecuteWithConfigLoaderCircuitBreaker(ctx, func(ctx context.Context) error {
			return fmt.Errorf("failure %d", i)
		})
	}

	manager := resilience.GetGlobalCircuitBreakerManager()
	cb := manager.GetOrCreate("config_loader", &resilience.ConfigLoaderConfig)

	if cb.GetState() != resilience.StateOpen {
		t.Errorf("expected circuit breaker to be open, got %s", cb.GetState())
	}
}
