package analyzer

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// resolveReferencesInPlace walks fields (a job's merged field map) and
// splices in the target of every `!reference [job, key, ...]` node found,
// per spec 4.6 step 4: the lookup follows the target job's *unmerged*
// RawFields tree, not its own merged view, so a reference never silently
// picks up changes the referencing job wouldn't see from a plain extends.
func resolveReferencesInPlace(table *symbols.Table, refererTree *yamlparse.Tree, fields map[string]*yaml.Node) []symbols.Diagnostic {
	var diags []symbols.Diagnostic
	for k, v := range fields {
		resolved, d := resolveNode(table, refererTree, v)
		fields[k] = resolved
		diags = append(diags, d...)
	}
	return diags
}

func resolveNode(table *symbols.Table, refererTree *yamlparse.Tree, n *yaml.Node) (*yaml.Node, []symbols.Diagnostic) {
	if n == nil {
		return nil, nil
	}
	if yamlparse.IsReferenceTag(n) {
		return resolveReferenceTag(table, refererTree, n)
	}

	switch n.Kind {
	case yaml.SequenceNode:
		var diags []symbols.Diagnostic
		newContent := make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			r, d := resolveNode(table, refererTree, c)
			newContent[i] = r
			diags = append(diags, d...)
		}
		clone := *n
		clone.Content = newContent
		return &clone, diags
	case yaml.MappingNode:
		var diags []symbols.Diagnostic
		newContent := make([]*yaml.Node, len(n.Content))
		copy(newContent, n.Content)
		for i := 1; i < len(n.Content); i += 2 {
			r, d := resolveNode(table, refererTree, n.Content[i])
			newContent[i] = r
			diags = append(diags, d...)
		}
		clone := *n
		clone.Content = newContent
		return &clone, diags
	default:
		return n, nil
	}
}

func resolveReferenceTag(table *symbols.Table, refererTree *yamlparse.Tree, n *yaml.Node) (*yaml.Node, []symbols.Diagnostic) {
	path := yamlparse.ReferencePath(n)
	span := yamlparse.Span{}
	if refererTree != nil {
		span = refererTree.Span(n)
	}
	if len(path) < 2 {
		return n, []symbols.Diagnostic{{
			Span: span, Severity: symbols.SeverityError, Code: symbols.CodeUnknownReference,
			Message: "!reference requires at least [job, key]",
		}}
	}

	targetSym := firstJobSymbol(table, path[0])
	if targetSym == nil || targetSym.Job == nil {
		return n, []symbols.Diagnostic{{
			Span: span, Severity: symbols.SeverityError, Code: symbols.CodeUnknownReference,
			Message: fmt.Sprintf("!reference points to unknown job %q", path[0]),
		}}
	}

	cur, ok := targetSym.Job.RawFields[path[1]]
	if !ok {
		return n, []symbols.Diagnostic{{
			Span: span, Severity: symbols.SeverityError, Code: symbols.CodeUnknownReference,
			Message: fmt.Sprintf("!reference points to %q.%q, which does not exist", path[0], path[1]),
		}}
	}
	for _, step := range path[2:] {
		if cur.Kind != yaml.MappingNode {
			return n, []symbols.Diagnostic{{
				Span: span, Severity: symbols.SeverityError, Code: symbols.CodeUnknownReference,
				Message: fmt.Sprintf("!reference path %v does not resolve past %q", path, step),
			}}
		}
		_, next := yamlparse.MappingLookup(cur, step)
		if next == nil {
			return n, []symbols.Diagnostic{{
				Span: span, Severity: symbols.SeverityError, Code: symbols.CodeUnknownReference,
				Message: fmt.Sprintf("!reference path %v: key %q not found", path, step),
			}}
		}
		cur = next
	}
	return cur, nil
}
