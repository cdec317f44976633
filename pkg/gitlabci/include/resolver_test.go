package include

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/metrics"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/fetchcache"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
)

type capturingGit struct {
	calls atomic.Int32
	host  string
}

func (g *capturingGit) Clone(ctx context.Context, host, project, ref, destDir string) error {
	g.calls.Add(1)
	g.host = host
	return os.MkdirAll(destDir, 0o755)
}

func TestResolveProjectUsesPackageMapForHost(t *testing.T) {
	dir := t.TempDir()
	git := &capturingGit{}
	cache, err := fetchcache.New(dir, git, zap.NewNop(), metrics.New(), 16)
	require.NoError(t, err, "fetchcache.New")

	pm := fetchcache.PackageMap{"group/project": "git@git.internal.example.com"}
	r := New(cache, nil, zap.NewNop(), nil, pm)

	got, err := r.Resolve(context.Background(), "file:///x.yml", Entry{
		Kind: symbols.IncludeProject, Project: "group/project", Ref: "v1.0.0", Files: []string{"/ci/jobs.yml"},
	})
	require.NoError(t, err, "Resolve")
	assert.Equal(t, "git@git.internal.example.com", git.host, "expected the package_map host to reach GitClient.Clone")

	want := "file://" + filepath.Join(dir, "git@git.internal.example.com", "group/project@v1.0.0", "ci/jobs.yml")
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0].URI)
}

func TestResolveProjectFallsBackToProjectNameAsHost(t *testing.T) {
	dir := t.TempDir()
	git := &capturingGit{}
	cache, err := fetchcache.New(dir, git, zap.NewNop(), metrics.New(), 16)
	require.NoError(t, err, "fetchcache.New")

	r := New(cache, nil, zap.NewNop(), nil, nil)
	_, err = r.Resolve(context.Background(), "file:///x.yml", Entry{
		Kind: symbols.IncludeProject, Project: "unmapped/project", Ref: "main", Files: []string{"/a.yml"},
	})
	require.NoError(t, err, "Resolve")
	assert.Equal(t, "unmapped/project", git.host, "expected the unmapped project's own name as the best-guess host")
}

func TestResolveLocal(t *testing.T) {
	r := New(nil, nil, zap.NewNop(), func(string) string { return "/repo" }, nil)
	got, err := r.Resolve(context.Background(), "file:///repo/.gitlab-ci.yml", Entry{Kind: symbols.IncludeLocal, Local: "/ci/b.yml"})
	require.NoError(t, err, "Resolve")
	require.Len(t, got, 1)
	assert.Equal(t, "file:///repo/ci/b.yml", got[0].URI)
}

func TestResolveTemplateUnknown(t *testing.T) {
	r := New(nil, TemplateIndex{"Security/SAST.gitlab-ci.yml": "stages: []\n"}, zap.NewNop(), nil, nil)
	_, err := r.Resolve(context.Background(), "file:///x.yml", Entry{Kind: symbols.IncludeTemplate, Template: "Nonexistent.yml"})
	assert.Error(t, err, "expected an error for an unknown template")

	got, err := r.Resolve(context.Background(), "file:///x.yml", Entry{Kind: symbols.IncludeTemplate, Template: "Security/SAST.gitlab-ci.yml"})
	require.NoError(t, err, "Resolve known template")
	assert.Len(t, got, 1)
}

func TestParseComponentURI(t *testing.T) {
	host, project, name, ref, err := parseComponentURI("gitlab.com/my-org/my-project/my-component@1.0")
	require.NoError(t, err, "parseComponentURI")
	assert.Equal(t, "gitlab.com", host)
	assert.Equal(t, "my-org/my-project", project)
	assert.Equal(t, "my-component", name)
	assert.Equal(t, "1.0", ref)
}

func TestParseComponentURIMissingRef(t *testing.T) {
	_, _, _, _, err := parseComponentURI("gitlab.com/my-org/my-project/my-component")
	assert.Error(t, err, "expected an error for a missing @<ref>")
}
