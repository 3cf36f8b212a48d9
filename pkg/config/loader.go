package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"landkeeper/pkg/integration"
	"landkeeper/pkg/land"

	"gopkg.in/yaml.v3"
)

// landConfigFile is the YAML shape of one Land type's configuration file
// under Config.LandConfigDir. Durations are plain
// strings (e.g. "33ms") so the files stay hand-editable.
type landConfigFile struct {
	TickInterval                 string `yaml:"tickInterval"`
	StateSyncInterval            string `yaml:"stateSyncInterval"`
	IdleTimeout                  string `yaml:"idleTimeout"`
	MaxPlayers                   int    `yaml:"maxPlayers"`
	AllowGuestMode               bool   `yaml:"allowGuestMode"`
	AllowAutoCreateOnJoin        bool   `yaml:"allowAutoCreateOnJoin"`
	DirtyTracking                string `yaml:"dirtyTracking"`
	AdaptiveDisableAfterSamples  int    `yaml:"adaptiveDisableAfterSamples"`
	AdaptiveReenableAfterSamples int    `yaml:"adaptiveReenableAfterSamples"`
	ResolverTimeout              string `yaml:"resolverTimeout"`
	JoinTimeout                  string `yaml:"joinTimeout"`
}

// LoadLandConfigs reads every *.yaml file in dir and returns a land.Config
// per Land type, keyed by the file's base name without extension (so
// config/lands/dungeon.yaml configures landType "dungeon"). Fields omitted
// from a file fall back to land.DefaultConfig's values.
//
// The read is wrapped in circuit breaker and retry protection: a transient
// filesystem hiccup shouldn't take down the whole Realm's configuration
// load.
func LoadLandConfigs(dir string) (map[string]land.Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading land config dir %q: %w", dir, err)
	}

	configs := make(map[string]land.Config)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		landType := strings.TrimSuffix(entry.Name(), ".yaml")
		path := filepath.Join(dir, entry.Name())

		cfg, err := loadLandConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		configs[landType] = cfg
	}

	return configs, nil
}

func loadLandConfigFile(path string) (land.Config, error) {
	cfg := land.DefaultConfig()
	ctx := context.Background()

	err := integration.ExecuteConfigOperation(ctx, func(ctx context.Context) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var file landConfigFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return err
		}

		return applyLandConfigFile(&cfg, file)
	})
	if err != nil {
		return land.Config{}, err
	}

	return cfg, nil
}

func applyLandConfigFile(cfg *land.Config, file landConfigFile) error {
	var err error
	if cfg.TickInterval, err = parseOptionalDuration(file.TickInterval, cfg.TickInterval); err != nil {
		return fmt.Errorf("tickInterval: %w", err)
	}
	if cfg.StateSyncInterval, err = parseOptionalDuration(file.StateSyncInterval, cfg.StateSyncInterval); err != nil {
		return fmt.Errorf("stateSyncInterval: %w", err)
	}
	if cfg.IdleTimeout, err = parseOptionalDuration(file.IdleTimeout, cfg.IdleTimeout); err != nil {
		return fmt.Errorf("idleTimeout: %w", err)
	}
	if cfg.ResolverTimeout, err = parseOptionalDuration(file.ResolverTimeout, cfg.ResolverTimeout); err != nil {
		return fmt.Errorf("resolverTimeout: %w", err)
	}
	if cfg.JoinTimeout, err = parseOptionalDuration(file.JoinTimeout, cfg.JoinTimeout); err != nil {
		return fmt.Errorf("joinTimeout: %w", err)
	}

	if file.MaxPlayers != 0 {
		cfg.MaxPlayers = file.MaxPlayers
	}
	cfg.AllowGuestMode = file.AllowGuestMode
	cfg.AllowAutoCreateOnJoin = file.AllowAutoCreateOnJoin

	if file.DirtyTracking != "" {
		mode, err := parseDirtyTrackingMode(file.DirtyTracking)
		if err != nil {
			return err
		}
		cfg.DirtyTracking = mode
	}

	if file.AdaptiveDisableAfterSamples != 0 {
		cfg.AdaptiveDisableAfterSamples = file.AdaptiveDisableAfterSamples
	}
	if file.AdaptiveReenableAfterSamples != 0 {
		cfg.AdaptiveReenableAfterSamples = file.AdaptiveReenableAfterSamples
	}

	return nil
}

func parseOptionalDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}

func parseDirtyTrackingMode(value string) (land.DirtyTrackingMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "enabled":
		return land.DirtyTrackingEnabled, nil
	case "disabled":
		return land.DirtyTrackingDisabled, nil
	case "adaptive":
		return land.DirtyTrackingAdaptive, nil
	default:
		return 0, fmt.Errorf("unknown dirtyTracking mode %q", value)
	}
}
