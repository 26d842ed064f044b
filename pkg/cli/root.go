// Package cli provides the command-line interface for the injector
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/injector/injector/pkg/config"
	icontext "github.com/injector/injector/pkg/context"
	"github.com/injector/injector/pkg/events"
	"github.com/injector/injector/pkg/logger"
	"github.com/injector/injector/pkg/notifier"
	"github.com/injector/injector/pkg/orchestrator"
	"github.com/injector/injector/pkg/types"
	"github.com/spf13/cobra"
)

// annotationNoConfig marks commands that run without a configuration file
const annotationNoConfig = "injector/no-config"

// CLI holds everything a command invocation needs. Nothing is global, so
// several CLIs can run side by side in tests.
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	logger   logger.Logger
	console  *logger.ConsoleLogger
	output   io.Writer
	errorOut io.Writer
	logOut   io.Writer

	injector   *types.InjectorConfig
	configPath string

	// Optional overrides of the session collaborators
	launcher  orchestrator.Launcher
	notifier  notifier.Notifier
	publisher events.Publisher
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		output:   os.Stdout,
		errorOut: os.Stderr,
	}
	c.console = logger.NewConsoleLogger(c.output, c.errorOut)

	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers. Structured log
// output goes to errorOut.
func NewCLIWithOutput(cfg *Config, output, errorOut io.Writer) *CLI {
	c := NewCLI(cfg)
	c.output = output
	c.errorOut = errorOut
	c.logOut = errorOut
	c.console = logger.NewConsoleLogger(output, errorOut)
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.Execute()
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

// Execute runs the injector command line with os.Args
func Execute(version string) error {
	cfg := NewConfig()
	cfg.Version = version
	return NewCLI(cfg).Execute(os.Args[1:])
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "injector",
		Short: "Promote tracked source changes into release trees",
		Long: `Injector takes a change record, works out which files each injection
request touches and where their sources live, plans the copy into a
release location, runs the platform builds and records the promotion.`,

		SilenceUsage:      true,
		PersistentPreRunE: c.initializeConfig,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("injector v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newResolveCmd())
	c.rootCmd.AddCommand(c.newFileCmd())
	c.rootCmd.AddCommand(c.newPlanCmd())
	c.rootCmd.AddCommand(c.newApplyCmd())
	c.rootCmd.AddCommand(c.newBuildCmd())
	c.rootCmd.AddCommand(c.newCompleteCmd())
	c.rootCmd.AddCommand(c.newLedgerCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newLogsCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: injector.config.yaml in the project root)")
	flags.StringVar(&c.config.ProjectRoot, "root", ".", "project root directory")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&c.config.Operator, "operator", c.config.Operator, "operator recorded in the logs (default: $USER)")
}

// initializeConfig sets up logging and, unless the command opts out, loads
// the configuration file
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	c.logger = c.createLogger("", c.config.Verbosity)
	if c.config.Operator != "" {
		cmd.SetContext(icontext.WithOperator(cmd.Context(), c.config.Operator))
	}

	if cmd.Annotations[annotationNoConfig] == "true" {
		return nil
	}

	mgr := config.NewManager()
	path := c.config.ConfigFile
	if path == "" {
		found, err := mgr.FindConfig(c.config.ProjectRoot)
		if err != nil {
			return err
		}
		path = found
	}

	cfg, err := mgr.LoadConfig(path)
	if err != nil {
		return err
	}
	c.injector = cfg
	c.configPath = path

	level := c.config.Verbosity
	if !cmd.Flags().Changed("verbosity") && cfg.Logging.Level != "" {
		level = cfg.Logging.Level
	}
	logFile := cfg.Logging.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(c.config.ProjectRoot, logFile)
	}
	c.logger = c.createLogger(logFile, level)

	c.logger.Debug("Using config file", logger.WithField("file", path))
	return nil
}

func (c *CLI) createLogger(logFile, level string) logger.Logger {
	if c.logOut != nil {
		return logger.CreateLoggerWithOutput(logFile, level, c.logOut)
	}
	return logger.CreateLogger(logFile, level)
}

// Helper methods for console output

func (c *CLI) printSuccess(message string) {
	c.console.Success(message)
}

func (c *CLI) printError(message string) {
	c.console.Error(message)
}

func (c *CLI) printInfo(message string) {
	c.console.Info(message)
}

func (c *CLI) printWarning(message string) {
	c.console.Warn(message)
}

func (c *CLI) getConfigPath() string {
	if c.config.ConfigFile != "" {
		return c.config.ConfigFile
	}
	return c.config.DefaultConfigPath()
}

func noConfig() map[string]string {
	return map[string]string{annotationNoConfig: "true"}
}
