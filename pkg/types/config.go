package types

import (
	"fmt"
	"strings"
	"time"
)

// InjectorConfig is the top-level configuration
type InjectorConfig struct {
	Version        string             `json:"version" yaml:"version" mapstructure:"version"`
	Locations      []Location         `json:"locations" yaml:"locations" mapstructure:"locations"`
	SourceTrees    map[string]string  `json:"sourceTrees,omitempty" yaml:"sourceTrees,omitempty" mapstructure:"sourceTrees"`
	Platforms      []Platform         `json:"platforms" yaml:"platforms" mapstructure:"platforms"`
	TechLevelRules []TechLevelRule    `json:"techLevelRules,omitempty" yaml:"techLevelRules,omitempty" mapstructure:"techLevelRules"`
	Build          BuildConfig        `json:"build" yaml:"build" mapstructure:"build"`
	Ledger         string             `json:"ledger" yaml:"ledger" mapstructure:"ledger"`
	Options        string             `json:"options" yaml:"options" mapstructure:"options"`
	Tracking       TrackingConfig     `json:"tracking" yaml:"tracking" mapstructure:"tracking"`
	Events         EventsConfig       `json:"events,omitempty" yaml:"events,omitempty" mapstructure:"events"`
	Notifications  NotificationConfig `json:"notifications" yaml:"notifications" mapstructure:"notifications"`
	Logging        LoggingConfig      `json:"logging" yaml:"logging" mapstructure:"logging"`
}

// BuildConfig controls dispatch and polling of platform builds
type BuildConfig struct {
	WorkDir       string        `json:"workDir" yaml:"workDir" mapstructure:"workDir"`
	Descriptor    string        `json:"descriptor" yaml:"descriptor" mapstructure:"descriptor"`
	Runner        string        `json:"runner" yaml:"runner" mapstructure:"runner"`
	PollInterval  time.Duration `json:"pollInterval" yaml:"pollInterval" mapstructure:"pollInterval"`
	Timeout       time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
	StopOnFailure bool          `json:"stopOnFailure,omitempty" yaml:"stopOnFailure,omitempty" mapstructure:"stopOnFailure"`
}

// Tracking drivers
const (
	TrackingDriverFile     = "file"
	TrackingDriverPostgres = "postgres"
	TrackingDriverMemory   = "memory"
)

// TrackingConfig selects the change-tracking registry backend
type TrackingConfig struct {
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty" mapstructure:"dir"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// EventsConfig configures promotion event publishing. No brokers disables it.
type EventsConfig struct {
	Brokers []string `json:"brokers,omitempty" yaml:"brokers,omitempty" mapstructure:"brokers"`
	Topic   string   `json:"topic,omitempty" yaml:"topic,omitempty" mapstructure:"topic"`
}

// NotificationConfig configures desktop notifications
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty" mapstructure:"enabled"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty" mapstructure:"successSound"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty" mapstructure:"failureSound"`
}

// IsEnabled treats an unset flag as enabled
func (n NotificationConfig) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	File  string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
	Level string `json:"level" yaml:"level" mapstructure:"level"`
}

// Location looks up a configured location by name
func (c *InjectorConfig) Location(name string) (*Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrLocationUnset
	}
	for i := range c.Locations {
		if c.Locations[i].Name == name {
			return &c.Locations[i], nil
		}
	}
	return nil, fmt.Errorf("unknown location: %s", name)
}

// SelectPlatforms returns the configured platforms matching names, in
// configuration order. An unknown name is an error.
func (c *InjectorConfig) SelectPlatforms(names []string) ([]Platform, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []Platform
	for _, p := range c.Platforms {
		if wanted[p.Name] {
			out = append(out, p)
			delete(wanted, p.Name)
		}
	}
	for n := range wanted {
		return nil, fmt.Errorf("unknown platform: %s", n)
	}
	return out, nil
}

// SourceTree returns the root of a named source tree. Tree names are
// case-insensitive because the config loader folds keys.
func (c *InjectorConfig) SourceTree(name string) (string, bool) {
	for k, v := range c.SourceTrees {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
