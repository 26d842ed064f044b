package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/injector/injector/pkg/config"
	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/types"
	"github.com/spf13/cobra"
)

func (c *CLI) newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new injector configuration",
		Long: `Write a starter injector.config.yaml in the project root together with an
options file and the directories the file-based change-tracking store uses.`,
		Args:        cobra.NoArgs,
		Annotations: noConfig(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")
	return cmd
}

func (c *CLI) runInit(force bool) error {
	configPath := c.getConfigPath()

	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration already exists. Use --force to overwrite")
	}

	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}

	mgr := config.NewManager()
	cfg := mgr.GetDefaultConfig(root)
	if err := mgr.WriteConfig(configPath, cfg); err != nil {
		return err
	}
	c.printSuccess(fmt.Sprintf("Created configuration at %s", configPath))

	if err := initLayout(cfg); err != nil {
		return err
	}
	if cfg.Options != "" {
		if _, err := os.Stat(cfg.Options); os.IsNotExist(err) {
			opts := &config.Options{Command32: "make -f build32.mk", Command64: "make -f build64.mk"}
			if err := config.WriteOptions(cfg.Options, opts); err != nil {
				return err
			}
			c.printInfo(fmt.Sprintf("Created options file at %s", cfg.Options))
		}
	}

	c.printInfo("Edit the configuration to describe your locations and platforms")
	return nil
}

// initLayout creates the directories a fresh configuration points at
func initLayout(cfg *types.InjectorConfig) error {
	dirs := []string{cfg.Build.WorkDir, filepath.Dir(cfg.Ledger)}
	if cfg.Tracking.Driver == types.TrackingDriverFile {
		for _, sub := range []string{"records", "tracks", "files"} {
			dirs = append(dirs, filepath.Join(cfg.Tracking.Dir, sub))
		}
	}
	for _, loc := range cfg.Locations {
		dirs = append(dirs, loc.Root)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := fsutil.EnsureDirectory(dir); err != nil {
			return err
		}
	}
	return nil
}
