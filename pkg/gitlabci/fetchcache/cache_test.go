package fetchcache

import (
	"context"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/metrics"
)

type countingGit struct {
	calls atomic.Int32
}

func (g *countingGit) Clone(ctx context.Context, host, project, ref, destDir string) error {
	g.calls.Add(1)
	return os.MkdirAll(destDir, 0o755)
}

func TestSnapshotFetchesOnce(t *testing.T) {
	dir := t.TempDir()
	git := &countingGit{}
	c, err := New(dir, git, zap.NewNop(), metrics.New(), 16)
	require.NoError(t, err, "New")

	key := Key{Host: "example.com", Project: "group/project", Ref: "v1.0.0"}
	_, err = c.Snapshot(context.Background(), key)
	require.NoError(t, err, "first Snapshot")
	_, err = c.Snapshot(context.Background(), key)
	require.NoError(t, err, "second Snapshot")
	assert.EqualValues(t, 1, git.calls.Load(), "expected exactly 1 git invocation for a cache hit on an immutable ref")
}

func TestSnapshotRefetchesMutableRef(t *testing.T) {
	dir := t.TempDir()
	git := &countingGit{}
	c, err := New(dir, git, zap.NewNop(), metrics.New(), 16)
	require.NoError(t, err, "New")

	key := Key{Host: "example.com", Project: "group/project", Ref: "main"}
	_, err = c.Snapshot(context.Background(), key)
	require.NoError(t, err, "Snapshot")
	assert.EqualValues(t, 1, git.calls.Load(), "expected 1 call after first fetch")
	_, err = c.Snapshot(context.Background(), key)
	require.NoError(t, err, "second Snapshot")
	assert.EqualValues(t, 2, git.calls.Load(), "expected a mutable ref to be fetched again")
}

func TestIsImmutableRef(t *testing.T) {
	cases := map[string]bool{
		"v1.2.3":                               true,
		"1.2":                                  true,
		"main":                                 false,
		"feature/my-branch":                    false,
		"a1b2c3d":                              true,
		"a1b2c3d4e5f6789012345678901234567890": true,
	}
	for ref, want := range cases {
		assert.Equal(t, want, isImmutableRef(ref), "isImmutableRef(%q)", ref)
	}
}
