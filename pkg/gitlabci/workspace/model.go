// Package workspace is the C5 workspace model: groups files into
// connected-component workspaces rooted at pipeline entry points,
// maintains the include graph and its reverse, and triggers (re)parsing
// and (re)analysis as documents change.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/metrics"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/analyzer"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/document"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/include"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// Workspace is a connected component in the include graph, rooted at one
// pipeline entry point (spec 3).
type Workspace struct {
	ID            uuid.UUID
	RootURI       string
	FilesIncluded map[string]bool
	IncludeGraph  map[string]map[string]bool
	ReverseGraph  map[string]map[string]bool
	Table         *symbols.Table
	Diagnostics   []symbols.Diagnostic

	// KnownProjects and KnownComponents are the distinct include.project
	// and include.component targets seen anywhere in this workspace,
	// offered back as completion candidates (spec 4.7: "include.component
	// -> known components") for the next file that wants the same one.
	KnownProjects   map[string]bool
	KnownComponents map[string]bool
}

func newWorkspace(rootURI string) *Workspace {
	return &Workspace{
		ID:              uuid.New(),
		RootURI:         rootURI,
		FilesIncluded:   map[string]bool{rootURI: true},
		IncludeGraph:    map[string]map[string]bool{},
		ReverseGraph:    map[string]map[string]bool{},
		Table:           symbols.NewTable(),
		KnownProjects:   map[string]bool{},
		KnownComponents: map[string]bool{},
	}
}

func (w *Workspace) addEdge(from, to string) {
	if w.IncludeGraph[from] == nil {
		w.IncludeGraph[from] = map[string]bool{}
	}
	w.IncludeGraph[from][to] = true
	if w.ReverseGraph[to] == nil {
		w.ReverseGraph[to] = map[string]bool{}
	}
	w.ReverseGraph[to][from] = true
	w.FilesIncluded[to] = true
}

// Registry owns every known Workspace and the document store, resolver
// and analyzer options they're built from.
type Registry struct {
	mu         sync.RWMutex
	workspaces map[uuid.UUID]*Workspace
	membership map[string]map[uuid.UUID]bool // uri -> workspace ids containing it

	store    *document.Store
	resolver *include.Resolver
	opts     analyzer.Options
	log      *zap.Logger
	mx       *metrics.Recorder

	concurrency int
}

// NewRegistry builds an empty Registry.
func NewRegistry(store *document.Store, resolver *include.Resolver, opts analyzer.Options, log *zap.Logger, mx *metrics.Recorder, concurrency int) *Registry {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Registry{
		workspaces:  map[uuid.UUID]*Workspace{},
		membership:  map[string]map[uuid.UUID]bool{},
		store:       store,
		resolver:    resolver,
		opts:        opts,
		log:         log,
		mx:          mx,
		concurrency: concurrency,
	}
}

// DiscoverRoot walks rootDir, fingerprints every *.yml/*.yaml file, and
// builds one workspace per canonical pipeline entry point plus one per
// fingerprinted orphan file (spec 4.5).
func (r *Registry) DiscoverRoot(ctx context.Context, rootDir string) error {
	candidates, err := scanYAMLFiles(rootDir)
	if err != nil {
		return fmt.Errorf("workspace: scanning %s: %w", rootDir, err)
	}

	fingerprinted := map[string]bool{}
	for _, uri := range candidates {
		doc := r.openOnDisk(uri)
		if doc == nil || doc.Tree == nil {
			continue
		}
		if Fingerprint(doc.Tree) {
			fingerprinted[uri] = true
		}
	}

	included := map[string]bool{}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)

	var mu sync.Mutex
	var roots []string
	for uri := range fingerprinted {
		uri := uri
		if IsCanonicalRoot(uri) {
			roots = append(roots, uri)
		}
	}
	// Build canonical roots first so their transitive includes are known
	// before orphan detection runs.
	built := make([]*Workspace, 0, len(roots))
	for _, root := range roots {
		root := root
		eg.Go(func() error {
			ws, err := r.buildWorkspace(egCtx, root)
			if err != nil {
				r.log.Warn("building workspace", zap.String("root", root), zap.Error(err))
				return nil
			}
			mu.Lock()
			built = append(built, ws)
			for f := range ws.FilesIncluded {
				included[f] = true
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for uri := range fingerprinted {
		if included[uri] || IsCanonicalRoot(uri) {
			continue
		}
		ws, err := r.buildWorkspace(ctx, uri)
		if err != nil {
			r.log.Warn("building orphan workspace", zap.String("root", uri), zap.Error(err))
			continue
		}
		built = append(built, ws)
	}

	r.mu.Lock()
	for _, ws := range built {
		r.workspaces[ws.ID] = ws
		for f := range ws.FilesIncluded {
			if r.membership[f] == nil {
				r.membership[f] = map[uuid.UUID]bool{}
			}
			r.membership[f][ws.ID] = true
		}
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) openOnDisk(uri string) *document.Document {
	if existing := r.store.Get(uri); existing != nil {
		return existing
	}
	path := strings.TrimPrefix(uri, "file://")
	text, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return r.store.Open(uri, string(text), 0, document.KindOnDisk)
}

// buildWorkspace constructs the reflexive-transitive closure of rootURI's
// includes (spec 4.5 "Workspace construction") and runs the analyzer over
// it.
func (r *Registry) buildWorkspace(ctx context.Context, rootURI string) (*Workspace, error) {
	start := time.Now()
	if r.mx != nil {
		defer func() { r.mx.IndexSeconds.Observe(time.Since(start).Seconds()) }()
	}

	ws := newWorkspace(rootURI)
	var diags []symbols.Diagnostic

	queue := []string{rootURI}
	visited := map[string]bool{rootURI: true}

	for len(queue) > 0 {
		uri := queue[0]
		queue = queue[1:]

		doc := r.openOnDisk(uri)
		if doc == nil {
			continue
		}
		diags = append(diags, toSymbolDiagnostics(doc.Diags)...)

		entries := extractIncludes(doc.Tree)
		for _, e := range entries {
			switch e.entry.Kind {
			case symbols.IncludeProject:
				if e.entry.Project != "" {
					ws.KnownProjects[e.entry.Project] = true
				}
			case symbols.IncludeComponent:
				name := e.entry.Component
				if at := strings.LastIndex(name, "@"); at > 0 {
					name = name[:at]
				}
				if name != "" {
					ws.KnownComponents[name] = true
				}
			}
			resolved, err := r.resolver.Resolve(ctx, uri, e.entry)
			if err != nil {
				diags = append(diags, symbols.Diagnostic{
					Span:     e.span,
					Severity: symbols.SeverityError,
					Code:     symbols.CodeUnresolvedInclude,
					Message:  err.Error(),
				})
				continue
			}
			for _, res := range resolved {
				ws.addEdge(uri, res.URI)
				if !visited[res.URI] {
					visited[res.URI] = true
					queue = append(queue, res.URI)
				}
			}
		}
	}

	trees := map[string]*yamlparse.Tree{}
	for uri := range ws.FilesIncluded {
		if doc := r.store.Get(uri); doc != nil && doc.Tree != nil {
			trees[uri] = doc.Tree
		}
	}

	table, analysisDiags := analyzer.Index(trees, r.opts)
	ws.Table = table
	ws.Diagnostics = append(diags, analysisDiags...)
	if r.mx != nil {
		for _, d := range ws.Diagnostics {
			r.mx.Diagnostics.WithLabelValues(string(d.Code)).Inc()
		}
	}
	return ws, nil
}

func toSymbolDiagnostics(parseDiags []yamlparse.Diagnostic) []symbols.Diagnostic {
	out := make([]symbols.Diagnostic, 0, len(parseDiags))
	for _, d := range parseDiags {
		sev := symbols.SeverityError
		if d.Severity == yamlparse.SeverityWarning {
			sev = symbols.SeverityWarning
		}
		out = append(out, symbols.Diagnostic{Span: d.Span, Severity: sev, Code: symbols.CodeParseError, Message: d.Message})
	}
	return out
}

// FindWorkspacesFor returns every workspace containing uri.
func (r *Registry) FindWorkspacesFor(uri string) []*Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.membership[uri]
	out := make([]*Workspace, 0, len(ids))
	for id := range ids {
		out = append(out, r.workspaces[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RootURI < out[j].RootURI })
	return out
}

// All returns every known workspace.
func (r *Registry) All() []*Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	return out
}

// OnDidChange re-parses uri (already done by the document store before
// this is called) and recomputes every workspace containing it, per spec
// 4.5's update algorithm. It is intentionally a full workspace rebuild
// rather than a symbol-level incremental patch: workspaces are small
// enough (single pipelines) that the fixed cost of reanalysis is cheaper
// than tracking fine-grained invalidation, and it trivially preserves the
// "partial results are not visible to queries" ordering guarantee (spec
// 5) since the old Workspace value stays live until the new one replaces
// it in the registry.
func (r *Registry) OnDidChange(ctx context.Context, uri string) error {
	r.mu.RLock()
	ids := append([]uuid.UUID(nil), keysOf(r.membership[uri])...)
	roots := make([]string, 0, len(ids))
	for _, id := range ids {
		if ws := r.workspaces[id]; ws != nil {
			roots = append(roots, ws.RootURI)
		}
	}
	r.mu.RUnlock()

	if len(roots) == 0 {
		// uri isn't yet part of any known workspace (e.g. a newly opened
		// buffer for a file not reachable from a discovered root); treat
		// it as its own root so it still gets indexed and can answer
		// queries about itself.
		roots = []string{uri}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)
	rebuilt := make([]*Workspace, len(roots))
	for i, root := range roots {
		i, root := i, root
		eg.Go(func() error {
			ws, err := r.buildWorkspace(egCtx, root)
			if err != nil {
				return err
			}
			rebuilt[i] = ws
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	for i, root := range roots {
		ws := rebuilt[i]
		if ws == nil {
			continue
		}
		old := r.findByRoot(root)
		if old != nil {
			for f := range old.FilesIncluded {
				if r.membership[f] != nil {
					delete(r.membership[f], old.ID)
				}
			}
			delete(r.workspaces, old.ID)
		}
		r.workspaces[ws.ID] = ws
		for f := range ws.FilesIncluded {
			if r.membership[f] == nil {
				r.membership[f] = map[uuid.UUID]bool{}
			}
			r.membership[f][ws.ID] = true
		}
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) findByRoot(root string) *Workspace {
	for _, ws := range r.workspaces {
		if ws.RootURI == root {
			return ws
		}
	}
	return nil
}

func keysOf(m map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func scanYAMLFiles(rootDir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}
		out = append(out, "file://"+path)
		return nil
	})
	return out, err
}
