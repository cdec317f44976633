// Package yamlparse adapts gopkg.in/yaml.v3 into the span-preserving tree
// the rest of the index consumes (spec component C2). It never returns a
// hard parse error: malformed input becomes a Tree with a nil Root (no
// partial tree is recovered) plus one parse Diagnostic, following pkg/parser.Parse's "never abort" posture in the
// teacher repo, generalized from "parse into GitLabConfig" to "parse into
// a tree the analyzer walks directly".
package yamlparse

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/textpos"
)

// Span is a byte-offset range into a specific document, with the
// line/column form alongside. Tree.Span fills both in when it is called,
// from the 1-based line/column yaml.v3 records on each node, converted to
// the 0-based convention LSP expects.
type Span struct {
	URI                    string
	StartByte, EndByte     int
	StartLine, StartColumn int
	EndLine, EndColumn     int
}

// IsZero reports whether the span carries no position information, e.g.
// for diagnostics that cannot be attached to a specific node.
func (s Span) IsZero() bool {
	return s == Span{}
}

// Contains reports whether byte offset off falls within [StartByte, EndByte).
func (s Span) Contains(off int) bool {
	return off >= s.StartByte && off < s.EndByte
}

// Severity of a parse-time diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Diagnostic is a parse-time problem; semantic diagnostics live in package
// analyzer.
type Diagnostic struct {
	Span     Span
	Severity Severity
	Message  string
}

// Tree is a parsed document: the raw yaml.v3 node graph, plus the document
// text and a position index for turning node line/column into byte spans.
type Tree struct {
	URI  string
	Text string
	Root *yaml.Node // top-level mapping/sequence/scalar node; nil if empty
	idx  *textpos.Index
}

// Parse parses text into a Tree. It never returns a hard error: parse
// failures are folded into the returned Diagnostic slice so indexing of
// the rest of the workspace can continue (spec section 4.2 / 7).
func Parse(uri, text string) (*Tree, []Diagnostic) {
	t := &Tree{URI: uri, Text: text, idx: textpos.NewIndex(text)}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return t, []Diagnostic{{
			Span:     Span{URI: uri},
			Severity: SeverityError,
			Message:  fmt.Sprintf("parsing YAML: %v", err),
		}}
	}
	if len(doc.Content) == 0 {
		return t, nil
	}
	t.Root = doc.Content[0]
	return t, nil
}

// RootMapping returns the root document's top-level mapping node, or nil
// if the document doesn't parse to a mapping (e.g. empty file, or a list).
func (t *Tree) RootMapping() *yaml.Node {
	if t.Root == nil || t.Root.Kind != yaml.MappingNode {
		return nil
	}
	return t.Root
}

// Span computes the byte/line/column Span for a node.
func (t *Tree) Span(n *yaml.Node) Span {
	if n == nil || t.idx == nil {
		return Span{URI: t.URI}
	}
	startLine := max0(n.Line - 1)
	startCol := max0(n.Column - 1)
	startByte := t.idx.ByteOffset(startLine, startCol)
	endByte := startByte + nodeByteLength(n)
	endLine, endCol := t.idx.LineCol(endByte)
	return Span{
		URI:         t.URI,
		StartByte:   startByte,
		EndByte:     endByte,
		StartLine:   startLine,
		StartColumn: startCol,
		EndLine:     endLine,
		EndColumn:   endCol,
	}
}

// ByteOffset converts a 0-based line and 0-based UTF-16 column in this
// document's text into a byte offset, for callers (the document store's
// GetSpan) that only have a cursor position, not a node.
func (t *Tree) ByteOffset(line, utf16Col int) int {
	if t.idx == nil {
		return 0
	}
	return t.idx.ByteOffset(line, utf16Col)
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// nodeByteLength estimates how many bytes a node's own representation
// spans from its start. Scalars are exact for single-line plain/quoted
// forms, which covers every token the query engine resolves positions for
// (job names, stage names, extends/needs targets, include paths).
// Collections (and any other non-scalar) get length 0, a zero-width span
// at their start; EnclosingSpan covers the full extent of a
// mapping/sequence.
func nodeByteLength(n *yaml.Node) int {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
			return len(n.Value) + 2
		}
		if idx := strings.IndexByte(n.Value, '\n'); idx >= 0 {
			return idx
		}
		return len(n.Value)
	default:
		return 0
	}
}

// EnclosingSpan returns a span covering n and every node nested under it,
// the whole block rather than just its header scalar. Definition results
// use the header scalar's span, not this one.
func (t *Tree) EnclosingSpan(n *yaml.Node) Span {
	if n == nil {
		return Span{URI: t.URI}
	}
	start := t.Span(n)
	end := start
	var walk func(*yaml.Node)
	walk = func(c *yaml.Node) {
		if c == nil {
			return
		}
		s := t.Span(c)
		if s.EndByte > end.EndByte {
			end = s
		}
		for _, cc := range c.Content {
			walk(cc)
		}
	}
	for _, c := range n.Content {
		walk(c)
	}
	return Span{
		URI:         t.URI,
		StartByte:   start.StartByte,
		EndByte:     end.EndByte,
		StartLine:   start.StartLine,
		StartColumn: start.StartColumn,
		EndLine:     end.EndLine,
		EndColumn:   end.EndColumn,
	}
}

// MappingLookup finds the value node for key within a mapping node, along
// with the key node itself. Returns nil, nil if absent or n is not a
// mapping.
func MappingLookup(n *yaml.Node, key string) (keyNode, valueNode *yaml.Node) {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i], n.Content[i+1]
		}
	}
	return nil, nil
}

// Pairs returns the key/value node pairs of a mapping node in document
// order.
func Pairs(n *yaml.Node) [][2]*yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	pairs := make([][2]*yaml.Node, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, [2]*yaml.Node{n.Content[i], n.Content[i+1]})
	}
	return pairs
}

// IsReferenceTag reports whether n is a `!reference [job, key, ...]` node.
func IsReferenceTag(n *yaml.Node) bool {
	return n != nil && n.Tag == "!reference"
}

// ReferencePath reads the scalar sequence payload of a !reference node.
func ReferencePath(n *yaml.Node) []string {
	if !IsReferenceTag(n) || n.Kind != yaml.SequenceNode {
		return nil
	}
	path := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		path = append(path, c.Value)
	}
	return path
}

// ScalarStrings reads a sequence node of plain scalars into a string
// slice. Returns a single-element slice if n is itself a scalar, matching
// GitLab's convention that many list-valued keys accept a bare scalar.
func ScalarStrings(n *yaml.Node) []string {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return []string{n.Value}
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind == yaml.ScalarNode {
				out = append(out, c.Value)
			}
		}
		return out
	default:
		return nil
	}
}
