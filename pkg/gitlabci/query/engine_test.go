package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/metrics"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/analyzer"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/document"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/include"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/workspace"
)

func setupEngine(t *testing.T, text string) (*Engine, string) {
	t.Helper()
	return setupEngineWithPackageMap(t, text, nil)
}

func setupEngineWithPackageMap(t *testing.T, text string, packageMap map[string]string) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitlab-ci.yml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644), "writing test fixture")
	uri := "file://" + path

	store := document.New(zap.NewNop(), nil)
	resolver := include.New(nil, include.TemplateIndex{}, zap.NewNop(), func(string) string { return dir }, nil)
	reg := workspace.NewRegistry(store, resolver, analyzer.Options{}, zap.NewNop(), metrics.New(), 2)
	require.NoError(t, reg.DiscoverRoot(context.Background(), dir), "DiscoverRoot")
	return New(store, reg, packageMap), uri
}

func TestDefinitionOnExtendsTarget(t *testing.T) {
	text := "stages: [build, test]\n.base: {stage: build, script: [\"echo\"]}\nunit: {extends: .base, stage: test}\n"
	eng, uri := setupEngine(t, text)

	line := 2
	col := int32FindCol(text, line, ".base")
	locs := eng.Definition(uri, line, col)
	require.Len(t, locs, 1, "expected 1 definition location, got %v", locs)
}

func TestHoverOnJobHeaderRendersMerged(t *testing.T) {
	text := "stages: [build, test]\n.base: {stage: build, script: [\"echo\"]}\nunit: {extends: .base, stage: test}\n"
	eng, uri := setupEngine(t, text)

	line := 2
	col := int32FindCol(text, line, "unit")
	h := eng.Hover(uri, line, col)
	require.NotNil(t, h, "expected non-nil hover")
	assert.True(t, containsAll(h.Contents, "stage: test", "echo"), "expected merged stage and script in hover, got %q", h.Contents)
}

func TestReferencesFindsExtendsUsage(t *testing.T) {
	text := "stages: [build, test]\n.base: {stage: build, script: [\"echo\"]}\nunit: {extends: .base, stage: test}\n"
	eng, uri := setupEngine(t, text)

	line := 1
	col := int32FindCol(text, line, ".base")
	refs := eng.References(uri, line, col)
	require.Len(t, refs, 1, "expected 1 reference to .base, got %v", refs)
}

func TestDiagnosticsReturnsUnknownStage(t *testing.T) {
	text := "stages: [build, test]\n.base: {stage: build, script: [\"echo\"]}\nunit: {extends: .base, stage: deploy}\n"
	eng, uri := setupEngine(t, text)

	diags := eng.Diagnostics(uri)
	assert.NotEmpty(t, diags, "expected at least one diagnostic")
}

func TestRenameProducesEditsAndRejectsCollision(t *testing.T) {
	text := "stages: [test]\nbuild: {stage: test, script: [\"x\"]}\ndeploy: {stage: test, needs: [build]}\n"
	eng, uri := setupEngine(t, text)

	line := 1
	col := int32FindCol(text, line, "build")
	edits, err := eng.Rename(uri, line, col, "compile")
	require.NoError(t, err, "Rename")
	total := 0
	for _, es := range edits {
		total += len(es)
	}
	assert.Equal(t, 2, total, "expected 2 edits (header + needs entry), got %v", edits)

	_, err = eng.Rename(uri, line, col, "deploy")
	assert.Error(t, err, "expected rename collision with existing job 'deploy' to be rejected")
}

func TestCompletionOnIncludeProjectOffersConfiguredProjects(t *testing.T) {
	text := "include:\n  - project: group/other-ci\n    file: /ci.yml\nstages: [test]\n"
	eng, uri := setupEngineWithPackageMap(t, text, map[string]string{"group/shared-ci": "git@git.internal.example.com"})

	line := 1
	col := int32FindCol(text, line, "group/other-ci")
	items := eng.Completion(uri, line, col)
	found := false
	for _, it := range items {
		if it.Label == "group/shared-ci" {
			found = true
		}
	}
	assert.True(t, found, "expected package_map project group/shared-ci among completions, got %+v", items)
}

func TestCompletionOnIncludeComponentOffersKnownComponents(t *testing.T) {
	// A single document is its own workspace here, so the include.component
	// entry it already carries is enough to populate Workspace.KnownComponents
	// and be offered back on a second completion request in the same file.
	text := "include:\n  - component: gitlab.com/my-org/my-project/my-component@1.0\nstages: [test]\n"
	eng, uri := setupEngine(t, text)

	line := 1
	col := int32FindCol(text, line, "gitlab.com/my-org/my-project/my-component@1.0")
	items := eng.Completion(uri, line, col)
	found := false
	for _, it := range items {
		if it.Label == "gitlab.com/my-org/my-project/my-component" {
			found = true
		}
	}
	assert.True(t, found, "expected the workspace's own known component among completions, got %+v", items)
}

// int32FindCol returns the UTF-16 column of needle's first occurrence on
// the given 0-based line, for tests where hand-computing columns would be
// tedious and error-prone.
func int32FindCol(text string, line int, needle string) int {
	lines := splitLines(text)
	if line >= len(lines) {
		return 0
	}
	idx := indexOf(lines[line], needle)
	if idx < 0 {
		return 0
	}
	return idx
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if indexOf(s, p) < 0 {
			return false
		}
	}
	return true
}
