// Package fetchcache is the C3 remote-fetch cache: scoped acquisition of
// remote repository snapshots onto a local directory, keyed by
// (host, project, ref), deduplicated across concurrent callers with
// singleflight and bounded with an LRU eviction policy, the way
// intelligence_gatherer.go's errgroup-backed fan-out is paired here with
// golang.org/x/sync/singleflight for the collapse-concurrent-fetches
// requirement instead of the parallel-gather one.
package fetchcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/metrics"
)

// Key identifies a remote snapshot.
type Key struct {
	Host    string
	Project string
	Ref     string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Host, k.Project, k.Ref)
}

// Dir returns the on-disk snapshot directory for k relative to a cache
// root, laid out as <host>/<project>@<ref>/. The directory holds a
// checked-out clone (see execGitClient.Clone), not a bare one.
func (k Key) Dir(cacheRoot string) string {
	return filepath.Join(cacheRoot, k.Host, k.Project+"@"+k.Ref)
}

// GitClient fetches a ref of a project into a local directory. The
// platform git binary is the real implementation (see git.go); tests
// substitute a fake.
type GitClient interface {
	Clone(ctx context.Context, host, project, ref, destDir string) error
}

// Cache serves local_directory snapshots for (host, project, ref) keys,
// backed by an on-disk cache directory and bounded with an in-memory LRU
// of recently-served keys (eviction here only drops the in-memory
// bookkeeping; on-disk snapshots persist until a caller removes the cache
// root, since re-cloning an immutable ref is wasted work, not a
// correctness issue).
type Cache struct {
	root string
	git  GitClient
	log  *zap.Logger
	mx   *metrics.Recorder

	sf    singleflight.Group
	known *lru.Cache[Key, string]

	mu sync.Mutex
}

// New builds a Cache rooted at cacheRoot, which must already exist or be
// creatable; capacity bounds the number of keys retained in the in-memory
// LRU (not the number of bytes on disk).
func New(cacheRoot string, git GitClient, log *zap.Logger, mx *metrics.Recorder, capacity int) (*Cache, error) {
	if cacheRoot == "" {
		return nil, fmt.Errorf("fetchcache: cache root is required for remote includes")
	}
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("fetchcache: creating cache root %s: %w", cacheRoot, err)
	}
	known, err := lru.New[Key, string](capacity)
	if err != nil {
		return nil, fmt.Errorf("fetchcache: building LRU: %w", err)
	}
	return &Cache{root: cacheRoot, git: git, log: log, mx: mx, known: known}, nil
}

var immutableRefPattern = regexp.MustCompile(`^(v?\d+\.\d+(\.\d+)?(-[0-9A-Za-z.]+)?|[0-9a-f]{7,40})$`)

// isImmutableRef reports whether ref looks like a tag or commit hash
// rather than a branch name, per spec 4.3: "if present and the ref is an
// immutable-looking tag/commit hash, serve it" without revalidating.
func isImmutableRef(ref string) bool {
	return immutableRefPattern.MatchString(ref)
}

// Snapshot returns the local directory containing key's content,
// fetching it if necessary. Concurrent calls for the same key collapse
// into a single fetch (spec 4.3); a failed fetch is not cached and the
// error is returned to every waiter.
func (c *Cache) Snapshot(ctx context.Context, key Key) (string, error) {
	if dir, ok := c.known.Get(key); ok {
		if isImmutableRef(key.Ref) {
			c.mx.CacheHits.Inc()
			return dir, nil
		}
	}

	dir := key.Dir(c.root)
	if info, err := os.Stat(dir); err == nil && info.IsDir() && isImmutableRef(key.Ref) {
		c.known.Add(key, dir)
		c.mx.CacheHits.Inc()
		return dir, nil
	}

	c.mx.CacheMisses.Inc()
	v, err, _ := c.sf.Do(key.String(), func() (any, error) {
		return c.fetch(ctx, key, dir)
	})
	if err != nil {
		c.mx.FetchErrors.Inc()
		return "", err
	}
	c.known.Add(key, dir)
	return v.(string), nil
}

// fetch clones key's ref into a temporary working directory and moves it
// into place atomically, so a reader that stats dir either sees nothing
// or a complete snapshot, never a partial clone. An existing snapshot (a
// mutable ref being refreshed) is moved aside first and removed once the
// new one is in place.
func (c *Cache) fetch(ctx context.Context, key Key, dest string) (string, error) {
	c.log.Info("fetching remote snapshot", zap.String("key", key.String()))

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("fetchcache: preparing %s: %w", dest, err)
	}
	lock := dest + ".lock"
	lf, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("fetchcache: another fetch for %s is in progress: %w", key, err)
	}
	defer os.Remove(lock)
	defer lf.Close()

	tmp, err := os.MkdirTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return "", fmt.Errorf("fetchcache: creating working directory: %w", err)
	}
	if err := c.git.Clone(ctx, key.Host, key.Project, key.Ref, tmp); err != nil {
		os.RemoveAll(tmp)
		return "", fmt.Errorf("fetchcache: cloning %s: %w", key, err)
	}
	old := ""
	if _, err := os.Stat(dest); err == nil {
		old = tmp + ".old"
		if err := os.Rename(dest, old); err != nil {
			os.RemoveAll(tmp)
			return "", fmt.Errorf("fetchcache: replacing snapshot for %s: %w", key, err)
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.RemoveAll(tmp)
		if old != "" {
			os.Rename(old, dest)
		}
		return "", fmt.Errorf("fetchcache: placing snapshot for %s: %w", key, err)
	}
	if old != "" {
		os.RemoveAll(old)
	}
	return dest, nil
}
