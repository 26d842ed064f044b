package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/injector/injector/internal/state"
	"github.com/injector/injector/pkg/process"
	"github.com/injector/injector/pkg/types"
	"github.com/spf13/cobra"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	var platforms []string
	var watchOptions bool

	cmd := &cobra.Command{
		Use:   "build <record>",
		Short: "Build the patched location on the checked platforms",
		Long: `Write the build command descriptor, hand it to the build runner and wait
until every platform reports COMPLETE. Without --platform every configured
platform is built. Ctrl-C stops waiting; the remote builds keep running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(platforms) == 0 {
				for _, p := range c.injector.Platforms {
					platforms = append(platforms, p.Name)
				}
			}

			pm := process.NewManager(c.logger)
			ctx := pm.Start(cmd.Context())
			defer pm.Stop()

			h, err := c.openSession(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.closeSession(h)
			pm.RegisterShutdownHandler(func() {
				c.printWarning("Interrupted, saving session")
			})

			if watchOptions && c.injector.Options != "" {
				if err := h.WatchOptions(ctx); err != nil {
					c.printWarning(fmt.Sprintf("Not watching options file: %v", err))
				}
			}

			c.printInfo(fmt.Sprintf("Building %s on %s", h.Patch().ID, strings.Join(platforms, ", ")))
			result, err := h.Build(ctx, platforms, func(bc types.BuildCommand) {
				c.printInfo(fmt.Sprintf("%s: %s %s", bc.Platform, colorState(bc.State), bc.Machine))
			})
			if result != nil {
				c.printIssues(result.Issues)
				c.printCommands(result.Commands)
			}
			if err != nil {
				if sig := pm.Received(); sig != nil {
					return fmt.Errorf("build wait interrupted by %s: %w", sig, err)
				}
				return err
			}

			if len(result.Failed) > 0 {
				return fmt.Errorf("build failed on %s", strings.Join(result.Failed, ", "))
			}
			c.printSuccess(fmt.Sprintf("Build complete in %s", result.Elapsed.Round(time.Second)))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&platforms, "platform", "p", nil, "platforms to build (comma-separated)")
	cmd.Flags().BoolVarP(&watchOptions, "watch-options", "w", true, "reload the options file when it changes")
	return cmd
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show saved patch sessions",
		Long:  `List every saved patch session with its state, location and last build.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sm := state.NewStateManager(c.config.StateDir(), c.logger)
			states, err := sm.DiscoverStates()
			if err != nil {
				return fmt.Errorf("failed to discover sessions: %w", err)
			}
			if len(states) == 0 {
				c.printInfo("No saved sessions")
				return nil
			}

			w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RECORD\tPATCH\tLOCATION\tSTATE\tHELD\tLAST BUILD")
			for _, st := range states {
				patchID, location, patchState := "-", "-", "-"
				if st.Patch != nil {
					patchID = st.Patch.ID
					location = orDash(st.Patch.Location)
					patchState = string(st.Patch.State)
				}

				held := "-"
				if locked, _ := sm.IsLocked(st.RecordID); locked {
					held = fmt.Sprintf("pid %d", st.ProcessID)
				}

				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					st.RecordID, patchID, location, patchState, held, lastBuild(st))
			}
			return w.Flush()
		},
	}
}

func (c *CLI) newLogsCmd() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <record> [platform]",
		Short: "Show build logs of the last run",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sm := state.NewStateManager(c.config.StateDir(), c.logger)
			st, err := sm.ReadState(args[0])
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("no saved session for %s", args[0])
				}
				return err
			}
			if st.LastRun == nil || len(st.LastRun.Commands) == 0 {
				c.printWarning("No build has run for this record")
				return nil
			}

			platform := ""
			if len(args) > 1 {
				platform = args[1]
			}

			shown := 0
			for _, bc := range st.LastRun.Commands {
				if platform != "" && bc.Platform != platform {
					continue
				}
				shown++
				content, err := readLastNLines(bc.LogFile, lines)
				if err != nil {
					c.printError(fmt.Sprintf("Failed to read %s: %v", filepath.Base(bc.LogFile), err))
					continue
				}
				fmt.Fprintf(c.output, "\n=== %s (%s) ===\n", bc.Platform, bc.State)
				fmt.Fprint(c.output, content)
			}
			if shown == 0 {
				return fmt.Errorf("platform %s was not in the last run", platform)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}

func (c *CLI) printCommands(cmds []types.BuildCommand) {
	if len(cmds) == 0 {
		return
	}
	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tBITS\tTAG\tSTATE\tMACHINE\tLOG")
	for _, bc := range cmds {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			bc.Platform, bc.Bits, orDash(bc.TechLevel), colorState(bc.State), orDash(bc.Machine), bc.LogFile)
	}
	_ = w.Flush()
}

func colorState(s types.BuildState) string {
	switch s {
	case types.BuildStateComplete:
		return color.GreenString(s.String())
	case types.BuildStateFailed:
		return color.RedString(s.String())
	case types.BuildStateRunning:
		return color.YellowString(s.String())
	default:
		return s.String()
	}
}

func lastBuild(st *state.SessionState) string {
	if st.LastRun == nil || len(st.LastRun.Commands) == 0 {
		return "-"
	}
	done := 0
	for _, bc := range st.LastRun.Commands {
		if bc.State == types.BuildStateComplete {
			done++
		}
	}
	return fmt.Sprintf("%s %d/%d complete",
		st.LastRun.DispatchedAt.Format("2006-01-02 15:04"), done, len(st.LastRun.Commands))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func readLastNLines(filename string, n int) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var allLines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	start := 0
	if n > 0 && len(allLines) > n {
		start = len(allLines) - n
	}
	if len(allLines[start:]) == 0 {
		return "", nil
	}
	return strings.Join(allLines[start:], "\n") + "\n", nil
}
