package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/analyzer"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/document"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/include"
)

func TestWatcherReindexesExternallyCreatedFile(t *testing.T) {
	dir := t.TempDir()
	store := document.New(zap.NewNop(), nil)
	resolver := include.New(nil, include.TemplateIndex{}, zap.NewNop(), func(string) string { return dir }, nil)
	reg := NewRegistry(store, resolver, analyzer.Options{}, zap.NewNop(), nil, 2)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitlab-ci.yml"),
		[]byte("build:\n  stage: test\n  script: [\"echo hi\"]\nstages: [test]\n"), 0o644))
	require.NoError(t, reg.DiscoverRoot(context.Background(), dir), "DiscoverRoot")

	w, err := NewWatcher(reg, zap.NewNop())
	require.NoError(t, err, "NewWatcher")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, dir), "Start")
	defer w.Stop()

	extraPath := filepath.Join(dir, "jobs.yml")
	require.NoError(t, os.WriteFile(extraPath, []byte("lint:\n  stage: test\n  script: [\"echo lint\"]\n"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	uri := "file://" + extraPath
	for time.Now().Before(deadline) {
		if len(reg.FindWorkspacesFor(uri)) > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("expected %s to be picked up by the watcher and indexed as its own workspace", uri)
}
