package lspserver

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/config"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/document"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/query"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

func (s *Server) initialize(context *glsp.Context, params *protocol.InitializeParams) (any, error) {
	if params.RootURI != nil {
		if u, err := url.Parse(*params.RootURI); err == nil && u.Scheme == "file" {
			s.rootDir = u.Path
		} else {
			s.rootDir = strings.TrimPrefix(*params.RootURI, "file://")
		}
	} else if params.RootPath != nil {
		s.rootDir = *params.RootPath
	}

	raw, err := json.Marshal(params.InitializationOptions)
	if err != nil {
		return nil, fmt.Errorf("re-marshaling initializationOptions: %w", err)
	}
	if string(raw) == "null" {
		raw = nil
	}
	decoded, err := config.Decode(raw)
	if err != nil {
		return nil, err
	}
	opts, err := config.Merge(decoded, s.flags)
	if err != nil {
		return nil, err
	}
	if err := s.wire(opts); err != nil {
		return nil, fmt.Errorf("wiring server components: %w", err)
	}

	if err := s.reg.DiscoverRoot(context.Context, s.rootDir); err != nil {
		s.log.Warn("initial workspace discovery", zap.String("root", s.rootDir), zap.Error(err))
	}
	if s.rootDir != "" {
		if err := s.watcher.Start(context.Context, s.rootDir); err != nil {
			s.log.Warn("starting file watcher", zap.String("root", s.rootDir), zap.Error(err))
		}
	}

	capabilities := protocol.ServerCapabilities{
		TextDocumentSync:   protocol.TextDocumentSyncKindFull,
		DefinitionProvider: true,
		ReferencesProvider: true,
		HoverProvider:      true,
		RenameProvider: &protocol.RenameOptions{
			PrepareProvider: boolPtr(true),
		},
		CompletionProvider: &protocol.CompletionOptions{
			TriggerCharacters: []string{"$", ":", " "},
			ResolveProvider:   boolPtr(true),
		},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: &s.version,
		},
	}, nil
}

func (s *Server) initialized(context *glsp.Context, params *protocol.InitializedParams) error {
	s.log.Info("client initialized", zap.String("root", s.rootDir))
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	s.log.Info("shutdown requested")
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.log.Warn("stopping file watcher", zap.Error(err))
		}
	}
	if s.mx != nil {
		s.log.Info("final metrics", zap.String("metrics", s.mx.Dump()))
	}
	return nil
}

func (s *Server) didOpen(context *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := s.store.Open(params.TextDocument.URI, params.TextDocument.Text, int(params.TextDocument.Version), document.KindOpen)
	s.publishDiagnostics(context, doc.URI)
	return nil
}

func (s *Server) didChange(context *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	text, ok := fullText(params.ContentChanges)
	if !ok {
		return fmt.Errorf("textDocument/didChange: expected full-document sync content")
	}
	if err := s.store.Change(params.TextDocument.URI, text, int(params.TextDocument.Version)); err != nil {
		s.log.Warn("applying change", zap.String("uri", params.TextDocument.URI), zap.Error(err))
		return nil
	}
	s.publishDiagnostics(context, params.TextDocument.URI)
	return nil
}

func (s *Server) didSave(context *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	s.publishDiagnostics(context, params.TextDocument.URI)
	return nil
}

func (s *Server) didClose(context *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.store.Close(params.TextDocument.URI)
	return nil
}

func (s *Server) definition(context *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	locs := s.engine.Definition(params.TextDocument.URI, int(params.Position.Line), int(params.Position.Character))
	if len(locs) == 0 {
		return nil, nil
	}
	return toProtocolLocations(locs), nil
}

func (s *Server) references(context *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	locs := s.engine.References(params.TextDocument.URI, int(params.Position.Line), int(params.Position.Character))
	return toProtocolLocations(locs), nil
}

func (s *Server) completion(context *glsp.Context, params *protocol.CompletionParams) (any, error) {
	items := s.engine.Completion(params.TextDocument.URI, int(params.Position.Line), int(params.Position.Character))
	out := make([]protocol.CompletionItem, 0, len(items))
	for _, it := range items {
		kind := completionKind(it.Kind)
		detail := it.Detail
		out = append(out, protocol.CompletionItem{
			Label:  it.Label,
			Kind:   &kind,
			Detail: &detail,
		})
	}
	return protocol.CompletionList{IsIncomplete: false, Items: out}, nil
}

// completionItemResolve is a passthrough: completion above already fills
// label, kind and detail, and resolve adds nothing (no documentation is
// attached by either). It exists because spec 6 lists
// completionItem/resolve among the honored methods and some clients only
// request extra completion data through it.
func (s *Server) completionItemResolve(context *glsp.Context, params *protocol.CompletionItem) (*protocol.CompletionItem, error) {
	return params, nil
}

func (s *Server) hover(context *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	h := s.engine.Hover(params.TextDocument.URI, int(params.Position.Line), int(params.Position.Character))
	if h == nil {
		return nil, nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: h.Contents},
		Range:    spanToRange(h.Span),
	}, nil
}

// prepareRename accepts the roles Rename accepts as a scope (job header,
// extends/needs/reference target) and reuses Hover for the token's range:
// those are exactly the roles Hover renders a job card for.
func (s *Server) prepareRename(context *glsp.Context, params *protocol.PrepareRenameParams) (any, error) {
	doc := s.store.Get(params.TextDocument.URI)
	if doc == nil || doc.Tree == nil {
		return nil, fmt.Errorf("prepareRename: position does not resolve to a renameable symbol")
	}
	tok := query.Locate(doc.Tree, doc.Tree.ByteOffset(int(params.Position.Line), int(params.Position.Character)))
	if tok == nil || (tok.Role != query.RoleJobHeader && tok.Role != query.RoleExtendsTarget &&
		tok.Role != query.RoleNeedsTarget && tok.Role != query.RoleReferenceJob) {
		return nil, fmt.Errorf("prepareRename: position does not resolve to a renameable symbol")
	}
	h := s.engine.Hover(params.TextDocument.URI, int(params.Position.Line), int(params.Position.Character))
	if h == nil {
		return nil, fmt.Errorf("prepareRename: position does not resolve to a renameable symbol")
	}
	return spanToRange(h.Span), nil
}

func (s *Server) rename(context *glsp.Context, params *protocol.RenameParams) (*protocol.WorkspaceEdit, error) {
	edits, err := s.engine.Rename(params.TextDocument.URI, int(params.Position.Line), int(params.Position.Character), params.NewName)
	if err != nil {
		return nil, err
	}
	changes := map[string][]protocol.TextEdit{}
	for uri, uriEdits := range edits {
		for _, e := range uriEdits {
			changes[uri] = append(changes[uri], protocol.TextEdit{
				Range:   *spanToRange(e.Span),
				NewText: e.NewText,
			})
		}
	}
	return &protocol.WorkspaceEdit{Changes: changes}, nil
}

func (s *Server) diagnostic(context *glsp.Context, params *protocol.DocumentDiagnosticParams) (any, error) {
	diags := s.engine.Diagnostics(params.TextDocument.URI)
	return protocol.RelatedFullDocumentDiagnosticReport{
		FullDocumentDiagnosticReport: protocol.FullDocumentDiagnosticReport{
			Kind:  "full",
			Items: toProtocolDiagnostics(diags),
		},
	}, nil
}

// publishDiagnostics sends a textDocument/publishDiagnostics notification
// for uri, the push-mode companion to the pull-mode textDocument/diagnostic
// handler above (spec 4.7 lists both; editors vary in which they use).
func (s *Server) publishDiagnostics(context *glsp.Context, uri string) {
	diags := s.engine.Diagnostics(uri)
	context.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: toProtocolDiagnostics(diags),
	})
}

func toProtocolDiagnostics(diags []symbols.Diagnostic) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		sev := protocol.DiagnosticSeverityWarning
		if d.Severity == symbols.SeverityError {
			sev = protocol.DiagnosticSeverityError
		}
		code := string(d.Code)
		source := "gitlab-ci-ls"
		out = append(out, protocol.Diagnostic{
			Range:    *spanToRange(d.Span),
			Severity: &sev,
			Code:     &protocol.IntegerOrString{Value: code},
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

func toProtocolLocations(locs []query.Location) []protocol.Location {
	out := make([]protocol.Location, 0, len(locs))
	for _, l := range locs {
		out = append(out, protocol.Location{URI: l.URI, Range: *spanToRange(l.Span)})
	}
	return out
}

// spanToRange converts a yamlparse.Span's UTF-16 line/column positions
// into an LSP Range. A zero-width span (a bare cursor position, e.g. a
// resolved include target with no tracked source range) renders as a
// single-point range.
func spanToRange(span yamlparse.Span) *protocol.Range {
	return &protocol.Range{
		Start: protocol.Position{Line: toUInteger(span.StartLine), Character: toUInteger(span.StartColumn)},
		End:   protocol.Position{Line: toUInteger(span.EndLine), Character: toUInteger(span.EndColumn)},
	}
}

// toUInteger clamps a possibly-negative int down to 0 before narrowing to
// UInteger (a zero-value Span already reports 0 line/column).
func toUInteger(n int) protocol.UInteger {
	if n < 0 {
		return 0
	}
	return protocol.UInteger(n)
}

func completionKind(k symbols.Kind) protocol.CompletionItemKind {
	switch k {
	case symbols.KindJob:
		return protocol.CompletionItemKindFunction
	case symbols.KindStage:
		return protocol.CompletionItemKindEnumMember
	case symbols.KindVariable:
		return protocol.CompletionItemKindVariable
	case symbols.KindInclude:
		return protocol.CompletionItemKindModule
	case symbols.KindComponent:
		return protocol.CompletionItemKindReference
	default:
		return protocol.CompletionItemKindText
	}
}

func fullText(changes []any) (string, bool) {
	if len(changes) != 1 {
		return "", false
	}
	switch c := changes[0].(type) {
	case protocol.TextDocumentContentChangeEventWhole:
		return c.Text, true
	case protocol.TextDocumentContentChangeEvent:
		return c.Text, true
	}
	return "", false
}

func boolPtr(b bool) *bool { return &b }

func dirOfURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if u.Scheme != "file" {
		return filepath.Dir(strings.TrimPrefix(uri, "file://"))
	}
	return filepath.Dir(u.Path)
}
