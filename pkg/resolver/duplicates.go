package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/injector/injector/pkg/types"
)

// DetectDuplicates returns, for every target path active in two or more
// requests, the sorted ids of those requests.
func DetectDuplicates(requests []*types.InjectionRequest) map[string][]string {
	owners := make(map[string][]string)
	for _, req := range requests {
		for path, f := range req.Files {
			if f.Active {
				owners[path] = append(owners[path], req.ID)
			}
		}
	}

	dups := make(map[string][]string)
	for path, ids := range owners {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		dups[path] = ids
	}
	return dups
}

// DuplicateIssues turns a duplicate map into report items, sorted by path
func DuplicateIssues(dups map[string][]string) []types.Issue {
	paths := make([]string, 0, len(dups))
	for p := range dups {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	issues := make([]types.Issue, 0, len(paths))
	for _, p := range paths {
		issues = append(issues, types.Issue{
			Kind:    types.IssueDuplicateFile,
			Path:    p,
			Message: fmt.Sprintf("active in requests %s", strings.Join(dups[p], ", ")),
		})
	}
	return issues
}
