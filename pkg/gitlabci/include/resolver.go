// Package include is the C4 include resolver: given one `include:` entry
// and the including document's URI, produces the resolved URI(s) of the
// included documents, dispatching to the remote-fetch cache (C3) for
// anything not already local. Entry field names mirror the teacher's
// pkg/parser/types.go Include struct, generalized from a parsed-config
// projection to a resolver input.
package include

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/fetchcache"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
)

// Entry is one `include:` list item, already classified by the caller
// (the analyzer's shallow pass) from its YAML shape into exactly one
// Kind.
type Entry struct {
	Kind    symbols.IncludeKind
	Local   string   // include.local
	Remote  string   // include.remote (URL)
	Project string   // include.project
	Ref     string   // include.ref, default "HEAD"
	Files   []string // include.file, one or more paths within Project
	Template string  // include.template, a known GitLab template name
	Component string // include.component, "<host>/<project>/<name>@<ref>"
}

// Resolved is one included document's URI and the host/project/ref it
// came from, if remote.
type Resolved struct {
	URI  string
	Kind symbols.IncludeKind
}

// TemplateIndex maps a GitLab CI/CD template name to its embedded
// contents; the real GitLab template catalog is out of scope to vendor
// in full, so only a small, documented subset needed for navigation
// (the template's own job/stage names) is supplied, as the TemplateIndex
// passed to New.
type TemplateIndex map[string]string

// Resolver resolves include entries into URIs, fetching remote content
// via a fetchcache.Cache as needed.
type Resolver struct {
	cache      *fetchcache.Cache
	templates  TemplateIndex
	httpClient *http.Client
	log        *zap.Logger

	// packageMap resolves an include.project's Project name to the SSH
	// host configured for it (spec 4.3's package_map), so resolveProject
	// can build a Key whose Host is the actual host to clone, not an
	// empty string.
	packageMap fetchcache.PackageMap

	// RepoRoot resolves a local include's repository root given the
	// including document's URI, so `local:` paths (always absolute from
	// the repo root per GitLab's own rule) can be joined correctly.
	RepoRoot func(includingURI string) string
}

// New builds a Resolver. cache may be nil if no initializationOptions
// `cache` path was configured; in that case project/component includes
// fail with UnresolvedInclude instead of panicking (remote includes do not
// use the cache). packageMap
// may be nil if initializationOptions.package_map was not set.
func New(cache *fetchcache.Cache, templates TemplateIndex, log *zap.Logger, repoRoot func(string) string, packageMap fetchcache.PackageMap) *Resolver {
	return &Resolver{
		cache:      cache,
		templates:  templates,
		httpClient: &http.Client{},
		log:        log,
		packageMap: packageMap,
		RepoRoot:   repoRoot,
	}
}

// Resolve dispatches entry by Kind.
func (r *Resolver) Resolve(ctx context.Context, includingURI string, entry Entry) ([]Resolved, error) {
	switch entry.Kind {
	case symbols.IncludeLocal:
		return r.resolveLocal(includingURI, entry)
	case symbols.IncludeRemote:
		return r.resolveRemote(ctx, entry)
	case symbols.IncludeProject:
		return r.resolveProject(ctx, entry)
	case symbols.IncludeTemplate:
		return r.resolveTemplate(entry)
	case symbols.IncludeComponent:
		return r.resolveComponent(ctx, entry)
	default:
		return nil, fmt.Errorf("include: unknown kind %q", entry.Kind)
	}
}

// resolveLocal joins entry.Local (a path relative to the repository
// root) against the including document's repository root.
func (r *Resolver) resolveLocal(includingURI string, entry Entry) ([]Resolved, error) {
	if entry.Local == "" {
		return nil, fmt.Errorf("include.local: empty path")
	}
	root := ""
	if r.RepoRoot != nil {
		root = r.RepoRoot(includingURI)
	}
	rel := strings.TrimPrefix(entry.Local, "/")
	uri := "file://" + filepath.Join(root, filepath.FromSlash(rel))
	return []Resolved{{URI: uri, Kind: symbols.IncludeLocal}}, nil
}

// resolveRemote validates entry.Remote and maps it to a cache:// URI named
// by the SHA-256 of the URL. It performs no download (FetchRemote does the
// HTTP GET), writes nothing to the cache, and does not use ETags.
func (r *Resolver) resolveRemote(ctx context.Context, entry Entry) ([]Resolved, error) {
	if entry.Remote == "" {
		return nil, fmt.Errorf("include.remote: empty URL")
	}
	u, err := url.Parse(entry.Remote)
	if err != nil {
		return nil, fmt.Errorf("include.remote: invalid URL %q: %w", entry.Remote, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("include.remote: unsupported scheme %q", u.Scheme)
	}

	sum := sha256.Sum256([]byte(entry.Remote))
	cacheKey := hex.EncodeToString(sum[:])
	uri := "cache://remote/" + cacheKey + path.Ext(u.Path)
	return []Resolved{{URI: uri, Kind: symbols.IncludeRemote}}, nil
}

// FetchRemote performs the actual HTTP GET for a resolveRemote result,
// separated from Resolve so the analyzer can decide when to pay for the
// network round trip (it need not happen on every reindex if the
// document store already has content for the cache:// URI).
func (r *Resolver) FetchRemote(ctx context.Context, remoteURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", remoteURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %s", remoteURL, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", remoteURL, err)
	}
	return string(body), nil
}

// resolveProject snapshots Project@Ref via the remote-fetch cache and
// returns one URI per entry in Files.
func (r *Resolver) resolveProject(ctx context.Context, entry Entry) ([]Resolved, error) {
	if r.cache == nil {
		return nil, fmt.Errorf("include.project %s: no remote cache configured", entry.Project)
	}
	ref := entry.Ref
	if ref == "" {
		ref = "HEAD"
	}
	host := r.packageMap.ResolveHost(entry.Project)
	key := fetchcache.Key{Host: host, Project: entry.Project, Ref: ref}
	dir, err := r.cache.Snapshot(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("include.project %s@%s: %w", entry.Project, ref, err)
	}

	out := make([]Resolved, 0, len(entry.Files))
	for _, f := range entry.Files {
		uri := "file://" + filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(f, "/")))
		out = append(out, Resolved{URI: uri, Kind: symbols.IncludeProject})
	}
	return out, nil
}

// resolveTemplate maps a known GitLab CI/CD template name to an embedded
// path.
func (r *Resolver) resolveTemplate(entry Entry) ([]Resolved, error) {
	if _, ok := r.templates[entry.Template]; !ok {
		return nil, fmt.Errorf("include.template %q: unknown template", entry.Template)
	}
	return []Resolved{{URI: "template://" + entry.Template, Kind: symbols.IncludeTemplate}}, nil
}

// resolveComponent parses "<host>/<project>/<name>@<ref>", snapshots the
// project, and locates templates/<name>.yml or templates/<name>/template.yml.
func (r *Resolver) resolveComponent(ctx context.Context, entry Entry) ([]Resolved, error) {
	if r.cache == nil {
		return nil, fmt.Errorf("include.component %s: no remote cache configured", entry.Component)
	}
	host, project, name, ref, err := parseComponentURI(entry.Component)
	if err != nil {
		return nil, fmt.Errorf("include.component %q: %w", entry.Component, err)
	}

	key := fetchcache.Key{Host: host, Project: project, Ref: ref}
	dir, err := r.cache.Snapshot(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("include.component %s: %w", entry.Component, err)
	}

	candidates := []string{
		filepath.Join(dir, "templates", name+".yml"),
		filepath.Join(dir, "templates", name, "template.yml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return []Resolved{{URI: "file://" + c, Kind: symbols.IncludeComponent}}, nil
		}
	}
	return nil, fmt.Errorf("include.component %s: no templates/%s.yml or templates/%s/template.yml in snapshot", entry.Component, name, name)
}

// parseComponentURI splits "<host>/<project>/<name>@<ref>" into its parts.
// Project may itself contain slashes (GitLab group/subgroup paths), so the
// split point is the final '/' before the last '@'.
func parseComponentURI(uri string) (host, project, name, ref string, err error) {
	at := strings.LastIndex(uri, "@")
	if at < 0 {
		return "", "", "", "", fmt.Errorf("missing @<ref>")
	}
	ref = uri[at+1:]
	pathPart := uri[:at]

	slash := strings.Index(pathPart, "/")
	if slash < 0 {
		return "", "", "", "", fmt.Errorf("missing <project>/<name> after host")
	}
	host = pathPart[:slash]
	rest := pathPart[slash+1:]

	lastSlash := strings.LastIndex(rest, "/")
	if lastSlash < 0 {
		return "", "", "", "", fmt.Errorf("missing component name")
	}
	project = rest[:lastSlash]
	name = rest[lastSlash+1:]
	if project == "" || name == "" || ref == "" {
		return "", "", "", "", fmt.Errorf("malformed component URI")
	}
	return host, project, name, ref, nil
}
