// Package config handles configuration loading and management
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/injector/injector/pkg/types"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConfigVersion is the only supported configuration version
const ConfigVersion = "1"

// DefaultConfigName is the base name searched for in the project root
const DefaultConfigName = "injector.config"

// Manager handles configuration operations
type Manager struct {
	envPrefix string
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{envPrefix: "INJECTOR"}
}

// LoadConfig loads configuration from a YAML or JSON file. Values can be
// overridden from the environment, e.g. INJECTOR_BUILD_POLLINTERVAL=5s.
func (m *Manager) LoadConfig(path string) (*types.InjectorConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(m.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.InjectorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	m.resolvePaths(&cfg, filepath.Dir(path))

	if err := m.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindConfig returns the config file in root, preferring YAML over JSON
func (m *Manager) FindConfig(root string) (string, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		p := filepath.Join(root, DefaultConfigName+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no %s.yaml or %s.json found in %s", DefaultConfigName, DefaultConfigName, root)
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.InjectorConfig) error {
	if cfg.Version != ConfigVersion {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	if len(cfg.Locations) == 0 {
		return fmt.Errorf("no locations defined")
	}
	names := make(map[string]bool)
	for i, loc := range cfg.Locations {
		if loc.Name == "" {
			return fmt.Errorf("location %d: missing name", i)
		}
		if names[loc.Name] {
			return fmt.Errorf("duplicate location name: %s", loc.Name)
		}
		names[loc.Name] = true
		if loc.Root == "" {
			return fmt.Errorf("location '%s': missing root", loc.Name)
		}
	}

	platforms := make(map[string]bool)
	for i, p := range cfg.Platforms {
		if p.Name == "" {
			return fmt.Errorf("platform %d: missing name", i)
		}
		if platforms[p.Name] {
			return fmt.Errorf("duplicate platform name: %s", p.Name)
		}
		platforms[p.Name] = true
		if p.Bits != 32 && p.Bits != 64 {
			return fmt.Errorf("platform '%s': bits must be 32 or 64, got %d", p.Name, p.Bits)
		}
	}

	for i, r := range cfg.TechLevelRules {
		if r.Contains == "" || r.Tag == "" {
			return fmt.Errorf("techLevelRules %d: contains and tag are required", i)
		}
	}

	if cfg.Build.PollInterval <= 0 {
		return fmt.Errorf("build.pollInterval must be positive")
	}
	if cfg.Build.Timeout < 0 {
		return fmt.Errorf("build.timeout must not be negative")
	}
	if cfg.Ledger == "" {
		return fmt.Errorf("ledger path is required")
	}

	switch cfg.Tracking.Driver {
	case types.TrackingDriverFile:
		if cfg.Tracking.Dir == "" {
			return fmt.Errorf("tracking.dir is required for the file driver")
		}
	case types.TrackingDriverPostgres:
		if cfg.Tracking.DSN == "" {
			return fmt.Errorf("tracking.dsn is required for the postgres driver")
		}
	case types.TrackingDriverMemory:
	default:
		return fmt.Errorf("invalid tracking driver: %s", cfg.Tracking.Driver)
	}

	if len(cfg.Events.Brokers) > 0 && cfg.Events.Topic == "" {
		return fmt.Errorf("events.topic is required when brokers are set")
	}

	return nil
}

// GetDefaultConfig returns a starter configuration rooted at root
func (m *Manager) GetDefaultConfig(root string) *types.InjectorConfig {
	enabled := true

	return &types.InjectorConfig{
		Version: ConfigVersion,
		Locations: []types.Location{
			{
				Name:           "release",
				Root:           filepath.Join(root, "release"),
				ReleaseVersion: "1.0",
				BackupDir:      filepath.Join(root, ".injector", "backup"),
			},
		},
		SourceTrees: map[string]string{},
		Platforms: []types.Platform{
			{Name: "linux64", Bits: 64},
		},
		Build: types.BuildConfig{
			WorkDir:      filepath.Join(root, ".injector", "build"),
			Descriptor:   "commands.txt",
			Runner:       "injector-runner",
			PollInterval: 2 * time.Second,
		},
		Ledger:  filepath.Join(root, ".injector", "history.txt"),
		Options: filepath.Join(root, ".injector", "options.txt"),
		Tracking: types.TrackingConfig{
			Driver: types.TrackingDriverFile,
			Dir:    filepath.Join(root, ".injector", "tracking"),
		},
		Notifications: types.NotificationConfig{
			Enabled: &enabled,
		},
		Logging: types.LoggingConfig{
			File:  ".injector.log",
			Level: "info",
		},
	}
}

// WriteConfig writes cfg as YAML
func (m *Manager) WriteConfig(path string, cfg *types.InjectorConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", ConfigVersion)
	v.SetDefault("build.descriptor", "commands.txt")
	v.SetDefault("build.pollInterval", "2s")
	v.SetDefault("build.timeout", "0s")
	v.SetDefault("tracking.driver", types.TrackingDriverFile)
	v.SetDefault("logging.level", "info")
}

// resolvePaths anchors relative file paths at the config directory
func (m *Manager) resolvePaths(cfg *types.InjectorConfig, base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range cfg.Locations {
		cfg.Locations[i].Root = abs(cfg.Locations[i].Root)
		cfg.Locations[i].BackupDir = abs(cfg.Locations[i].BackupDir)
	}
	for k, v := range cfg.SourceTrees {
		cfg.SourceTrees[k] = abs(v)
	}
	cfg.Build.WorkDir = abs(cfg.Build.WorkDir)
	cfg.Ledger = abs(cfg.Ledger)
	cfg.Options = abs(cfg.Options)
	cfg.Tracking.Dir = abs(cfg.Tracking.Dir)
}
