package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landkeeper/pkg/land"
	"landkeeper/pkg/resilience"
)

// resetCircuitBreakerForTesting resets the config-loader circuit breaker
// between tests so one test's failures can't trip the breaker for another.
func resetCircuitBreakerForTesting() {
	resilience.GetGlobalCircuitBreakerManager().Remove("config_loader")
}

func writeLandConfigFile(t *testing.T, dir, landType, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, landType+".yaml"), []byte(content), 0o644)
	require.NoError(t, err)
}

func TestLoadLandConfigsAppliesOverridesOverDefaults(t *testing.T) {
	resetCircuitBreakerForTesting()
	dir := t.TempDir()

	writeLandConfigFile(t, dir, "dungeon", `
tickInterval: 50ms
maxPlayers: 8
allowGuestMode: true
dirtyTracking: adaptive
adaptiveDisableAfterSamples: 10
adaptiveReenableAfterSamples: 5
`)

	configs, err := LoadLandConfigs(dir)
	require.NoError(t, err)
	require.Contains(t, configs, "dungeon")

	cfg := configs["dungeon"]
	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 8, cfg.MaxPlayers)
	assert.True(t, cfg.AllowGuestMode)
	assert.Equal(t, land.DirtyTrackingAdaptive, cfg.DirtyTracking)
	assert.Equal(t, 10, cfg.AdaptiveDisableAfterSamples)
	assert.Equal(t, 5, cfg.AdaptiveReenableAfterSamples)

	// Fields the file omitted fall back to land.DefaultConfig.
	def := land.DefaultConfig()
	assert.Equal(t, def.StateSyncInterval, cfg.StateSyncInterval)
	assert.Equal(t, def.IdleTimeout, cfg.IdleTimeout)
}

func TestLoadLandConfigsEmptyFileUsesDefaults(t *testing.T) {
	resetCircuitBreakerForTesting()
	dir := t.TempDir()
	writeLandConfigFile(t, dir, "lobby", "")

	configs, err := LoadLandConfigs(dir)
	require.NoError(t, err)

	assert.Equal(t, land.DefaultConfig(), configs["lobby"])
}

func TestLoadLandConfigsSkipsNonYAMLFiles(t *testing.T) {
	resetCircuitBreakerForTesting()
	dir := t.TempDir()
	writeLandConfigFile(t, dir, "dungeon", "maxPlayers: 4")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a land config"), 0o644))

	configs, err := LoadLandConfigs(dir)
	require.NoError(t, err)
	assert.Len(t, configs, 1)
	assert.Contains(t, configs, "dungeon")
}

func TestLoadLandConfigsDirectoryNotFound(t *testing.T) {
	resetCircuitBreakerForTesting()

	_, err := LoadLandConfigs(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestLoadLandConfigsInvalidYAMLSyntax(t *testing.T) {
	resetCircuitBreakerForTesting()
	dir := t.TempDir()
	writeLandConfigFile(t, dir, "broken", "maxPlayers: [this is not valid\n")

	_, err := LoadLandConfigs(dir)
	assert.Error(t, err)
}

func TestLoadLandConfigsInvalidDuration(t *testing.T) {
	resetCircuitBreakerForTesting()
	dir := t.TempDir()
	writeLandConfigFile(t, dir, "dungeon", "tickInterval: not-a-duration")

	_, err := LoadLandConfigs(dir)
	assert.ErrorContains(t, err, "tickInterval")
}

func TestLoadLandConfigsInvalidDirtyTrackingMode(t *testing.T) {
	resetCircuitBreakerForTesting()
	dir := t.TempDir()
	writeLandConfigFile(t, dir, "dungeon", "dirtyTracking: sometimes")

	_, err := LoadLandConfigs(dir)
	assert.ErrorContains(t, err, "dirtyTracking")
}

func TestLoadLandConfigsMultipleLandTypes(t *testing.T) {
	resetCircuitBreakerForTesting()
	dir := t.TempDir()
	writeLandConfigFile(t, dir, "dungeon", "maxPlayers: 8")
	writeLandConfigFile(t, dir, "lobby", "maxPlayers: 64\nallowAutoCreateOnJoin: true")

	configs, err := LoadLandConfigs(dir)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, 8, configs["dungeon"].MaxPlayers)
	assert.Equal(t, 64, configs["lobby"].MaxPlayers)
	assert.True(t, configs["lobby"].AllowAutoCreateOnJoin)
}
