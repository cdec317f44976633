package analyzer

import (
	"sort"

	"github.com/google/uuid"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

func sortedKeys(trees map[string]*yamlparse.Tree) []string {
	out := make([]string, 0, len(trees))
	for k := range trees {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mustUUID generates a random symbol identity. uuid.New panics only on an
// exhausted entropy source, which in practice never happens; callers
// throughout this package treat symbol IDs as infallible to construct.
func mustUUID() uuid.UUID {
	return uuid.New()
}
