// Package lspserver is C0's glsp wiring: it turns the JSON-RPC methods
// spec.md section 6 lists into calls against the document store, the
// workspace registry and the query engine, following the request/notify
// handler-struct shape other_examples/77cfa5ff_simon-lentz-yammm's
// lsp.Analyzer uses against glsp/protocol_3_16.
package lspserver

import (
	"context"
	"fmt"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
	"go.uber.org/zap"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/config"
	"github.com/wonderfulspam/gitlab-ci-ls/internal/metrics"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/analyzer"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/document"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/fetchcache"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/include"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/query"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/workspace"
)

const serverName = "gitlab-ci-ls"

// Server owns every long-lived piece C1-C7 wires together. Most fields
// are nil until the initialize request arrives: initializationOptions
// must be decoded and merged with CLI flags before the cache, resolver
// and registry can be built (spec 6: initializationOptions always win
// over flags).
type Server struct {
	flags   config.Flags
	log     *zap.Logger
	version string

	mx      *metrics.Recorder
	store   *document.Store
	reg     *workspace.Registry
	engine  *query.Engine
	watcher *workspace.Watcher
	glspSrv *glspserver.Server
	rootDir string
}

// New builds a Server bound to CLI flags; the rest of its state is wired
// lazily by the initialize handler once initializationOptions are known.
func New(flags config.Flags, log *zap.Logger, version string) (*Server, error) {
	s := &Server{flags: flags, log: log, version: version}

	handler := protocol.Handler{
		Initialize:                s.initialize,
		Initialized:               s.initialized,
		Shutdown:                  s.shutdown,
		TextDocumentDidOpen:       s.didOpen,
		TextDocumentDidChange:     s.didChange,
		TextDocumentDidSave:       s.didSave,
		TextDocumentDidClose:      s.didClose,
		TextDocumentDefinition:    s.definition,
		TextDocumentReferences:    s.references,
		TextDocumentCompletion:    s.completion,
		CompletionItemResolve:     s.completionItemResolve,
		TextDocumentHover:         s.hover,
		TextDocumentRename:        s.rename,
		TextDocumentPrepareRename: s.prepareRename,
		TextDocumentDiagnostic:    s.diagnostic,
	}
	s.glspSrv = glspserver.NewServer(&handler, serverName, false)
	return s, nil
}

// Run serves LSP requests over stdio until shutdown+exit, per spec 6's
// transport contract (stdin/stdout for JSON-RPC, stderr reserved for the
// process's own fatal diagnostics).
func (s *Server) Run() error {
	return s.glspSrv.RunStdio()
}

// wire builds the document store, remote-fetch cache, include resolver,
// workspace registry and query engine from merged configuration. Called
// once, from initialize.
func (s *Server) wire(opts config.Options) error {
	s.mx = metrics.New()

	var cache *fetchcache.Cache
	if opts.Cache != "" {
		gitClient := fetchcache.NewGitClient()
		c, err := fetchcache.New(opts.Cache, gitClient, s.log.With(zap.String("component", "fetchcache")), s.mx, 256)
		if err != nil {
			return fmt.Errorf("initializing remote-fetch cache at %s: %w", opts.Cache, err)
		}
		cache = c
	}

	resolver := include.New(cache, include.TemplateIndex{}, s.log.With(zap.String("component", "include")), s.repoRootFor, fetchcache.PackageMap(opts.PackageMap))
	store := document.New(s.log.With(zap.String("component", "document")), s.onDocumentInvalidated)
	reg := workspace.NewRegistry(store, resolver, analyzer.Options{
		DependenciesStageFiltering: opts.Options.DependenciesAutocompleteStageFiltering,
	}, s.log.With(zap.String("component", "workspace")), s.mx, 4)

	watcher, err := workspace.NewWatcher(reg, s.log.With(zap.String("component", "watch")))
	if err != nil {
		return fmt.Errorf("building file watcher: %w", err)
	}

	s.store = store
	s.reg = reg
	s.engine = query.New(store, reg, opts.PackageMap)
	s.watcher = watcher
	return nil
}

func (s *Server) onDocumentInvalidated(uri string) {
	if err := s.reg.OnDidChange(context.Background(), uri); err != nil {
		s.log.Warn("reindexing after document change", zap.String("uri", uri), zap.Error(err))
	}
}

// repoRootFor approximates a local include's repository root as the
// client's root folder from initialize, or, when none was given, the
// including document's own directory, since the server has
// no VCS integration of its own (platform git is C3's concern, invoked
// only for remote/project/component includes).
func (s *Server) repoRootFor(includingURI string) string {
	if s.rootDir != "" {
		return s.rootDir
	}
	return dirOfURI(includingURI)
}
