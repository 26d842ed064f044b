package cli

import (
	"os"
	"path/filepath"

	"github.com/injector/injector/pkg/config"
)

// Config holds the global CLI flags
type Config struct {
	ConfigFile  string
	ProjectRoot string
	Verbosity   string
	Operator    string
	Version     string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		Verbosity:   "info",
		Operator:    os.Getenv("USER"),
	}
}

// StateDir is where patch sessions are saved between invocations
func (c *Config) StateDir() string {
	return filepath.Join(c.ProjectRoot, ".injector", "state")
}

// DefaultConfigPath is the file written by init when --config is not given
func (c *Config) DefaultConfigPath() string {
	return filepath.Join(c.ProjectRoot, config.DefaultConfigName+".yaml")
}
