package workspace

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
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store := document.New(zap.NewNop(), nil)
	resolver := include.New(nil, include.TemplateIndex{}, zap.NewNop(), func(includingURI string) string {
		return filepath.Dir(trimFileScheme(includingURI))
	}, nil)
	return NewRegistry(store, resolver, analyzer.Options{}, zap.NewNop(), metrics.New(), 2)
}

func trimFileScheme(uri string) string {
	const prefix = "file://"
	if len(uri) >= len(prefix) && uri[:len(prefix)] == prefix {
		return uri[len(prefix):]
	}
	return uri
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return "file://" + path
}

func TestDiscoverRootBuildsWorkspaceFromCanonicalRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "jobs/build.yml", "build: {stage: build, script: [\"make\"]}\n")
	rootURI := writeFile(t, dir, ".gitlab-ci.yml",
		"stages: [build]\ninclude:\n  - local: jobs/build.yml\n")

	reg := newTestRegistry(t)
	require.NoError(t, reg.DiscoverRoot(context.Background(), dir), "DiscoverRoot")

	workspaces := reg.FindWorkspacesFor(rootURI)
	require.Len(t, workspaces, 1, "expected 1 workspace containing the root")
	ws := workspaces[0]
	_, ok := ws.Table.Jobs()["build"]
	assert.True(t, ok, "expected 'build' job to be indexed via the local include, jobs: %v", ws.Table.Jobs())
	assert.True(t, ws.FilesIncluded[rootURI], "expected FilesIncluded to contain the root URI")
}

func TestOnDidChangeRebuildsContainingWorkspaces(t *testing.T) {
	dir := t.TempDir()
	rootURI := writeFile(t, dir, ".gitlab-ci.yml", "stages: [build]\nbuild: {stage: build, script: [\"x\"]}\n")

	reg := newTestRegistry(t)
	require.NoError(t, reg.DiscoverRoot(context.Background(), dir), "DiscoverRoot")

	reg.store.Open(rootURI, "stages: [build, test]\nbuild: {stage: test, script: [\"x\"]}\n", 1, document.KindOpen)
	require.NoError(t, reg.OnDidChange(context.Background(), rootURI), "OnDidChange")

	ws := reg.FindWorkspacesFor(rootURI)[0]
	sym := ws.Table.Jobs()["build"]
	require.NotNil(t, sym)
	assert.Equal(t, "test", sym.Job.Merged.Stage, "expected reindexed stage 'test' after change")
}

func TestFindWorkspacesForUnknownURIReturnsEmpty(t *testing.T) {
	reg := newTestRegistry(t)
	assert.Empty(t, reg.FindWorkspacesFor("file:///nope.yml"), "expected no workspaces for an unknown URI")
}
