package workspace

import (
	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/include"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// extractedInclude pairs a resolver Entry with the span of the list item
// it came from, so resolution failures can carry a precise Span for the
// UnresolvedInclude diagnostic (spec 4.4).
type extractedInclude struct {
	entry include.Entry
	span  yamlparse.Span
}

// extractIncludes reads the top-level `include:` key, which GitLab
// accepts as a bare mapping, a single string (a bare local path), or a
// list of any mix of those.
func extractIncludes(tree *yamlparse.Tree) []extractedInclude {
	root := tree.RootMapping()
	if root == nil {
		return nil
	}
	_, val := yamlparse.MappingLookup(root, "include")
	if val == nil {
		return nil
	}

	var items []*yaml.Node
	switch val.Kind {
	case yaml.SequenceNode:
		items = val.Content
	default:
		items = []*yaml.Node{val}
	}

	out := make([]extractedInclude, 0, len(items))
	for _, item := range items {
		if e, ok := extractOneInclude(tree, item); ok {
			out = append(out, e)
		}
	}
	return out
}

func extractOneInclude(tree *yamlparse.Tree, n *yaml.Node) (extractedInclude, bool) {
	span := tree.Span(n)
	if n.Kind == yaml.ScalarNode {
		return extractedInclude{entry: include.Entry{Kind: symbols.IncludeLocal, Local: n.Value}, span: span}, true
	}
	if n.Kind != yaml.MappingNode {
		return extractedInclude{}, false
	}

	if _, v := yamlparse.MappingLookup(n, "local"); v != nil {
		return extractedInclude{entry: include.Entry{Kind: symbols.IncludeLocal, Local: v.Value}, span: tree.Span(v)}, true
	}
	if _, v := yamlparse.MappingLookup(n, "remote"); v != nil {
		return extractedInclude{entry: include.Entry{Kind: symbols.IncludeRemote, Remote: v.Value}, span: tree.Span(v)}, true
	}
	if _, v := yamlparse.MappingLookup(n, "template"); v != nil {
		return extractedInclude{entry: include.Entry{Kind: symbols.IncludeTemplate, Template: v.Value}, span: tree.Span(v)}, true
	}
	if _, v := yamlparse.MappingLookup(n, "component"); v != nil {
		return extractedInclude{entry: include.Entry{Kind: symbols.IncludeComponent, Component: v.Value}, span: tree.Span(v)}, true
	}
	if _, v := yamlparse.MappingLookup(n, "project"); v != nil {
		entry := include.Entry{Kind: symbols.IncludeProject, Project: v.Value}
		if _, refVal := yamlparse.MappingLookup(n, "ref"); refVal != nil {
			entry.Ref = refVal.Value
		}
		if _, fileVal := yamlparse.MappingLookup(n, "file"); fileVal != nil {
			entry.Files = yamlparse.ScalarStrings(fileVal)
		}
		return extractedInclude{entry: entry, span: tree.Span(v)}, true
	}
	return extractedInclude{}, false
}
