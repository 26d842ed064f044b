package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/injector/injector/pkg/fsutil"
	"github.com/injector/injector/pkg/ledger"
	"github.com/injector/injector/pkg/planner"
	"github.com/injector/injector/pkg/resolver"
	"github.com/injector/injector/pkg/types"
	"github.com/injector/injector/pkg/validation"
	"github.com/spf13/cobra"
)

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <record>",
		Short: "Check a patch before planning it",
		Long: `Open the patch for a change record and report problems: an unknown or
missing location, tracks the change-tracking system does not know, sources
that do not exist and files claimed by more than one request.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := c.openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer c.closeSession(h)

			result := validation.NewPatchValidator(c.injector, fsutil.NewOS()).Validate(h.Patch())
			for _, e := range result.Errors {
				msg := fmt.Sprintf("%s: %s", e.Field, e.Message)
				switch e.Level {
				case validation.ValidationLevelError:
					c.printError(msg)
				case validation.ValidationLevelWarning:
					c.printWarning(msg)
				default:
					c.printInfo(msg)
				}
			}

			if !result.Valid {
				return fmt.Errorf("patch %s has %d error(s)", h.Patch().ID,
					result.Count(validation.ValidationLevelError))
			}
			c.printSuccess(fmt.Sprintf("Patch %s is valid (%d warning(s))", h.Patch().ID,
				result.Count(validation.ValidationLevelWarning)))
			return nil
		},
	}
}

func (c *CLI) newResolveCmd() *cobra.Command {
	var mode, hint, location string

	cmd := &cobra.Command{
		Use:   "resolve <record>",
		Short: "Work out where each changed file's source lives",
		Long: `Map every tracked file of the patch to a source path. The mode picks how:
parse roots each request at its own source hint, tree at a named source
tree, other at a directory given with --hint, and native extracts the
tracked revision directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := resolver.ParseMode(mode)
			if err != nil {
				return err
			}

			h, err := c.openSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer c.closeSession(h)

			if location != "" {
				if err := h.SetLocation(location); err != nil {
					return err
				}
			}

			report, err := h.Resolve(m, hint)
			if err != nil {
				return err
			}
			c.printIssues(report.Issues())
			c.printFiles(h.Patch())
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "parse", "location mode (parse, tree, other, native)")
	cmd.Flags().StringVar(&hint, "hint", "", "source tree name or directory for tree and other modes")
	cmd.Flags().StringVarP(&location, "location", "l", "", "set the destination location first")
	return cmd
}

func (c *CLI) newFileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Edit the files of a patch by hand",
	}

	var developer string
	add := &cobra.Command{
		Use:   "add <record> <request> <target> <source>",
		Short: "Add a file the change-tracking system does not know about",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, args[0], func(h *sessionHandle) error {
				f, err := h.AddFile(args[1], args[2], args[3], developer)
				if err != nil {
					return err
				}
				c.printSuccess(fmt.Sprintf("Added %s to %s", f.TargetPath, args[1]))
				return nil
			})
		},
	}
	add.Flags().StringVar(&developer, "developer", "", "developer credited in the ledger (default: the request's)")

	remove := &cobra.Command{
		Use:   "remove <record> <request> <target>",
		Short: "Remove a manually added file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, args[0], func(h *sessionHandle) error {
				return h.RemoveFile(args[1], args[2])
			})
		},
	}

	setActive := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <record> <request> <target>",
			Short: short,
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withSession(cmd, args[0], func(h *sessionHandle) error {
					return h.SetActive(args[1], args[2], active)
				})
			},
		}
	}

	relocate := &cobra.Command{
		Use:   "relocate <record> <request> <target> <source>",
		Short: "Point a file at another source",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, args[0], func(h *sessionHandle) error {
				return h.Relocate(args[1], args[2], args[3])
			})
		},
	}

	cmd.AddCommand(add, remove,
		setActive("include", "Include a file in the promotion", true),
		setActive("exclude", "Leave a file out of the promotion", false),
		relocate)
	return cmd
}

func (c *CLI) newPlanCmd() *cobra.Command {
	var selected []string
	var location string
	var diff, asJSON bool

	cmd := &cobra.Command{
		Use:   "plan <record>",
		Short: "Show what promoting the patch would do",
		Long: `Compute the backups, copies, extractions and ledger entries for the
selected requests (all of them by default) without touching any file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, args[0], func(h *sessionHandle) error {
				if location != "" {
					if err := h.SetLocation(location); err != nil {
						return err
					}
				}
				plan, err := h.Plan(selected)
				if err != nil {
					return err
				}

				if asJSON {
					return writeJSON(c.output, plan)
				}
				c.printPlan(plan)
				if diff {
					preview, err := planner.Preview(plan)
					if err != nil {
						return err
					}
					fmt.Fprint(c.output, preview)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&selected, "select", "s", nil, "requests to include (comma-separated)")
	cmd.Flags().StringVarP(&location, "location", "l", "", "set the destination location first")
	cmd.Flags().BoolVar(&diff, "diff", false, "show a unified diff of every overwrite")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func (c *CLI) newApplyCmd() *cobra.Command {
	var selected []string
	var yes bool

	cmd := &cobra.Command{
		Use:   "apply <record>",
		Short: "Copy the patch into its location",
		Long: `Back up every target that will be overwritten, copy or extract the
sources and run the header and message-catalog post-processing named in
the options file. Requires --yes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, args[0], func(h *sessionHandle) error {
				plan, err := h.Plan(selected)
				if err != nil {
					return err
				}
				c.printPlan(plan)

				result, err := h.Apply(cmd.Context(), plan, yes)
				if err != nil {
					return err
				}
				c.printSuccess(fmt.Sprintf("Applied: %d backed up, %d written, %d extracted, %d published",
					len(result.BackedUp), len(result.Written), len(result.Extracted), len(result.Published)))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&selected, "select", "s", nil, "requests to include (comma-separated)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the plan")
	return cmd
}

func (c *CLI) newCompleteCmd() *cobra.Command {
	var selected []string
	var yes bool

	cmd := &cobra.Command{
		Use:   "complete <record>",
		Short: "Record the promotion and mark the record injected",
		Long: `Append the plan's ledger entries to the history, move the patch to
BuildComplete and mark the change record injected upstream. Requires --yes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, args[0], func(h *sessionHandle) error {
				plan, err := h.Plan(selected)
				if err != nil {
					return err
				}
				result, err := h.Complete(cmd.Context(), plan, yes)
				if err != nil {
					return err
				}
				c.printIssues(result.Issues)
				c.printSuccess(fmt.Sprintf("Patch %s is %s (%d ledger entries added)",
					h.Patch().ID, result.State, result.Appended))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&selected, "select", "s", nil, "requests to include (comma-separated)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the completion")
	return cmd
}

func (c *CLI) newLedgerCmd() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show the promotion history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := ledger.New(c.injector.Ledger).Load()
			if err != nil {
				return err
			}
			if location != "" {
				entries = ledger.ForLocation(entries, location)
			}
			if len(entries) == 0 {
				c.printInfo("No promotions recorded")
				return nil
			}

			w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tTRACK\tDEVELOPER\tWHEN\tLOCATION")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Path, e.Track, e.Developer, e.Timestamp.Format("2006-01-02 15:04"), e.Location)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&location, "location", "l", "", "only show promotions into this location")
	return cmd
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version number of the injector",
		Annotations: noConfig(),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "injector v%s\n", c.config.Version)
		},
	}
}

// withSession opens the record's session, runs fn and closes it
func (c *CLI) withSession(cmd *cobra.Command, recordID string, fn func(h *sessionHandle) error) error {
	h, err := c.openSession(cmd.Context(), recordID)
	if err != nil {
		return err
	}
	defer c.closeSession(h)
	return fn(h)
}

func (c *CLI) printFiles(p *types.Patch) {
	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST\tTARGET\tSOURCE\tACTIVE\tVALID")
	for _, req := range p.OrderedRequests() {
		for _, path := range req.FilePaths() {
			f := req.Files[path]
			valid := color.GreenString("yes")
			if !f.PathValid {
				valid = color.RedString("no")
			}
			active := "yes"
			if !f.Active {
				active = color.YellowString("no")
			}
			if _, dup := p.Duplicates[path]; dup && f.Active {
				active = color.YellowString("dup")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", req.ID, f.TargetPath, f.SourcePath, active, valid)
		}
	}
	_ = w.Flush()
}

func (c *CLI) printPlan(plan *planner.Plan) {
	c.printInfo(fmt.Sprintf("Plan for %s at %s: %s", plan.PatchID, plan.Location, plan.Summary()))
	c.printIssues(plan.Warnings)
	for _, target := range plan.Targets() {
		fmt.Fprintf(c.output, "  %s\n", target)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
