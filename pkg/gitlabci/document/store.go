// Package document is the C1 document store: in-memory text buffers keyed
// by URI, each carrying a monotonic version and its parsed tree. It is the
// only package allowed to mutate a Document once published.
package document

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// Kind classifies how a Document entered the store.
type Kind int

const (
	KindOpen Kind = iota
	KindOnDisk
	KindRemoteSnapshot
)

// Document is an immutable snapshot of one URI's content at a given
// version; Store.Change never mutates a published *Document, it replaces
// the store's entry with a new one so concurrent readers holding an old
// pointer never observe a torn update (spec 5: "analysis results are
// published atomically").
type Document struct {
	URI     string
	Version int
	Text    string
	Kind    Kind
	Tree    *yamlparse.Tree
	Diags   []yamlparse.Diagnostic
}

// InvalidationFunc is called whenever a URI's content changes or the
// document is closed, so the workspace model (C5) can schedule
// reanalysis. It runs synchronously under no store lock, so it must not
// call back into the Store from the same goroutine path that triggered it
// without expecting reentrancy.
type InvalidationFunc func(uri string)

// Store holds every known Document keyed by URI.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*Document
	log  *zap.Logger

	onInvalidate InvalidationFunc
}

// New builds an empty Store. onInvalidate may be nil.
func New(log *zap.Logger, onInvalidate InvalidationFunc) *Store {
	if onInvalidate == nil {
		onInvalidate = func(string) {}
	}
	return &Store{
		docs:         make(map[string]*Document),
		log:          log,
		onInvalidate: onInvalidate,
	}
}

// Open creates or replaces a Document at version, parsing text
// immediately. Used for textDocument/didOpen and for documents
// materialized by include resolution (on-disk or remote-snapshot kind).
func (s *Store) Open(uri, text string, version int, kind Kind) *Document {
	tree, diags := yamlparse.Parse(uri, text)
	doc := &Document{URI: uri, Version: version, Text: text, Kind: kind, Tree: tree, Diags: diags}

	s.mu.Lock()
	s.docs[uri] = doc
	s.mu.Unlock()

	s.log.Debug("document opened", zap.String("uri", uri), zap.Int("version", version))
	s.onInvalidate(uri)
	return doc
}

// Change replaces the full text of uri at version, rejecting versions
// that don't strictly advance the previous one. It takes no edit list:
// only full-document sync is supported, matching glsp's
// TextDocumentSyncKindFull capability declaration.
func (s *Store) Change(uri, text string, version int) error {
	s.mu.Lock()
	prev, ok := s.docs[uri]
	if ok && version <= prev.Version {
		s.mu.Unlock()
		return fmt.Errorf("document %s: version %d is not newer than stored version %d", uri, version, prev.Version)
	}
	s.mu.Unlock()

	kind := KindOpen
	if ok {
		kind = prev.Kind
	}
	s.Open(uri, text, version, kind)
	return nil
}

// Close drops uri from the store entirely (textDocument/didClose); the
// underlying file, if any, stops being tracked as an open buffer, but
// workspace membership is recomputed by C5 from what's still reachable on
// disk.
func (s *Store) Close(uri string) {
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
	s.onInvalidate(uri)
}

// Get returns the current Document for uri, or nil if unknown.
func (s *Store) Get(uri string) *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[uri]
}

// URIs returns every URI currently tracked by the store.
func (s *Store) URIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		out = append(out, uri)
	}
	return out
}

// GetSpan resolves a 0-based line/UTF-16-column position in uri's current
// text to a Span of zero width at that point, or a zero Span if uri is
// unknown. Callers needing the enclosing node look it up via the
// document's Tree directly.
func (s *Store) GetSpan(uri string, line, utf16Col int) yamlparse.Span {
	doc := s.Get(uri)
	if doc == nil || doc.Tree == nil {
		return yamlparse.Span{URI: uri}
	}
	off := doc.Tree.ByteOffset(line, utf16Col)
	return yamlparse.Span{
		URI:         uri,
		StartByte:   off,
		EndByte:     off,
		StartLine:   line,
		StartColumn: utf16Col,
		EndLine:     line,
		EndColumn:   utf16Col,
	}
}
