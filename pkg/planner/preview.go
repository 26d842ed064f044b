package planner

import (
	"fmt"
	"os"
	"strings"

	"github.com/injector/injector/pkg/resolver"
	"github.com/pmezard/go-difflib/difflib"
)

// PreviewContext is the number of context lines in preview hunks
const PreviewContext = 3

// Preview renders a unified diff of every overwrite in the plan, current
// target against incoming source, in target order. Native sources and
// unreadable files are listed without a diff.
func Preview(plan *Plan) (string, error) {
	var b strings.Builder
	for _, target := range sortedKeys(plan.Backup) {
		a := plan.Backup[target]
		if strings.HasPrefix(a.Source, resolver.NativeScheme) {
			fmt.Fprintf(&b, "=== %s <- %s (extracted, no preview)\n", a.Target, a.Source)
			continue
		}

		current, err := os.ReadFile(a.Target)
		if err != nil {
			fmt.Fprintf(&b, "=== %s: cannot read target: %v\n", a.Target, err)
			continue
		}
		incoming, err := os.ReadFile(a.Source)
		if err != nil {
			fmt.Fprintf(&b, "=== %s: cannot read source %s: %v\n", a.Target, a.Source, err)
			continue
		}

		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(current)),
			B:        difflib.SplitLines(string(incoming)),
			FromFile: a.Target,
			ToFile:   a.Source,
			Context:  PreviewContext,
		})
		if err != nil {
			return "", fmt.Errorf("diff %s: %w", a.Target, err)
		}
		if diff == "" {
			fmt.Fprintf(&b, "=== %s: identical to %s\n", a.Target, a.Source)
			continue
		}
		b.WriteString(diff)
	}
	return b.String(), nil
}
