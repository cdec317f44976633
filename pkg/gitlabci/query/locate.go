// Package query is the C7 query engine: it translates LSP requests into
// lookups against a workspace.Registry's symbol tables. locate.go
// classifies the token under a cursor; engine.go answers definition,
// references, completion, hover, diagnostics and rename from that
// classification, adapted from the teacher's pkg/analyzer single-pass
// lint-and-report shape to a request/response query surface.
package query

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// TokenRole classifies what a cursor position resolves to.
type TokenRole int

const (
	RoleNone TokenRole = iota
	RoleJobHeader
	RoleExtendsTarget
	RoleNeedsTarget
	RoleStageValue
	RoleStageListEntry
	RoleVariableRef
	RoleIncludeTarget
	RoleReferenceJob
	RoleReferenceKey
)

// Token is the classified result of locating a cursor position.
type Token struct {
	Role  TokenRole
	Value string
	Span  yamlparse.Span
	// Job is the owning job name, when Role concerns something nested
	// inside a job (extends/needs/stage targets, !reference heads).
	Job string
	// IncludeField is which include sub-key a RoleIncludeTarget token sits
	// under ("local", "project", "template" or "component"), since
	// completion's candidate set differs per include kind (spec 4.7).
	IncludeField string
}

var variableRefPattern = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// Locate walks tree to find the token at byte offset off and classifies
// its syntactic role, per spec 4.7's definition/completion "identify the
// token under cursor" step.
func Locate(tree *yamlparse.Tree, off int) *Token {
	root := tree.RootMapping()
	if root == nil {
		return nil
	}
	for _, pair := range yamlparse.Pairs(root) {
		key, val := pair[0], pair[1]
		if tree.Span(key).Contains(off) {
			if key.Value == "stages" {
				continue
			}
			return &Token{Role: RoleJobHeader, Value: key.Value, Span: tree.Span(key), Job: key.Value}
		}
		if key.Value == "stages" {
			if t := locateInStageList(tree, val, off); t != nil {
				return t
			}
			continue
		}
		if key.Value == "include" {
			if val != nil && val.Kind == yaml.ScalarNode {
				if t := includeTarget(tree, val, off, "local"); t != nil {
					return t
				}
				continue
			}
			if t := locateGeneric(tree, val, off, ""); t != nil {
				return t
			}
			continue
		}
		if key.Value == "variables" || key.Value == "default" {
			if t := locateGeneric(tree, val, off, ""); t != nil {
				return t
			}
			continue
		}
		if t := locateInJob(tree, key.Value, val, off); t != nil {
			return t
		}
	}
	return nil
}

func locateInStageList(tree *yamlparse.Tree, val *yaml.Node, off int) *Token {
	if val == nil || val.Kind != yaml.SequenceNode {
		return nil
	}
	for _, c := range val.Content {
		if tree.Span(c).Contains(off) {
			return &Token{Role: RoleStageListEntry, Value: c.Value, Span: tree.Span(c)}
		}
	}
	return nil
}

func locateInJob(tree *yamlparse.Tree, jobName string, val *yaml.Node, off int) *Token {
	if val == nil || val.Kind != yaml.MappingNode {
		return nil
	}
	for _, pair := range yamlparse.Pairs(val) {
		key, v := pair[0], pair[1]
		switch key.Value {
		case "stage":
			if tree.Span(v).Contains(off) {
				return &Token{Role: RoleStageValue, Value: v.Value, Span: tree.Span(v), Job: jobName}
			}
		case "extends":
			if t := locateNameOrList(tree, v, off, RoleExtendsTarget, jobName); t != nil {
				return t
			}
		case "needs":
			if t := locateNeeds(tree, v, off, jobName); t != nil {
				return t
			}
		default:
			if t := locateGeneric(tree, v, off, jobName); t != nil {
				return t
			}
		}
	}
	return nil
}

func locateNameOrList(tree *yamlparse.Tree, v *yaml.Node, off int, role TokenRole, job string) *Token {
	if v == nil {
		return nil
	}
	if v.Kind == yaml.ScalarNode {
		if tree.Span(v).Contains(off) {
			return &Token{Role: role, Value: v.Value, Span: tree.Span(v), Job: job}
		}
		return nil
	}
	if v.Kind == yaml.SequenceNode {
		for _, c := range v.Content {
			if tree.Span(c).Contains(off) {
				return &Token{Role: role, Value: c.Value, Span: tree.Span(c), Job: job}
			}
		}
	}
	return nil
}

func locateNeeds(tree *yamlparse.Tree, v *yaml.Node, off int, job string) *Token {
	if v == nil || v.Kind != yaml.SequenceNode {
		return nil
	}
	for _, item := range v.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			if tree.Span(item).Contains(off) {
				return &Token{Role: RoleNeedsTarget, Value: item.Value, Span: tree.Span(item), Job: job}
			}
		case yaml.MappingNode:
			if _, jobVal := yamlparse.MappingLookup(item, "job"); jobVal != nil && tree.Span(jobVal).Contains(off) {
				return &Token{Role: RoleNeedsTarget, Value: jobVal.Value, Span: tree.Span(jobVal), Job: job}
			}
		}
	}
	return nil
}

// locateGeneric descends into includes, !reference tags and scalar
// strings for $VAR usage, the fallback for keys not given a dedicated
// classifier above.
func locateGeneric(tree *yamlparse.Tree, n *yaml.Node, off int, job string) *Token {
	if n == nil {
		return nil
	}
	if yamlparse.IsReferenceTag(n) {
		path := yamlparse.ReferencePath(n)
		for i, c := range n.Content {
			if !tree.Span(c).Contains(off) {
				continue
			}
			if i == 0 {
				return &Token{Role: RoleReferenceJob, Value: path[0], Span: tree.Span(c), Job: job}
			}
			return &Token{Role: RoleReferenceKey, Value: c.Value, Span: tree.Span(c), Job: path[0]}
		}
		return nil
	}
	if n.Kind == yaml.ScalarNode && tree.Span(n).Contains(off) {
		if strings.Contains(n.Value, "$") {
			if m := variableRefPattern.FindStringSubmatchIndex(n.Value); m != nil {
				return &Token{Role: RoleVariableRef, Value: n.Value[m[2]:m[3]], Span: tree.Span(n), Job: job}
			}
		}
		return nil
	}
	if n.Kind == yaml.MappingNode {
		if _, v := yamlparse.MappingLookup(n, "local"); v != nil {
			if t := includeTarget(tree, v, off, "local"); t != nil {
				return t
			}
		}
		if _, v := yamlparse.MappingLookup(n, "project"); v != nil {
			if t := includeTarget(tree, v, off, "project"); t != nil {
				return t
			}
		}
		if _, v := yamlparse.MappingLookup(n, "template"); v != nil {
			if t := includeTarget(tree, v, off, "template"); t != nil {
				return t
			}
		}
		if _, v := yamlparse.MappingLookup(n, "component"); v != nil {
			if t := includeTarget(tree, v, off, "component"); t != nil {
				return t
			}
		}
		for _, pair := range yamlparse.Pairs(n) {
			if t := locateGeneric(tree, pair[1], off, job); t != nil {
				return t
			}
		}
	}
	if n.Kind == yaml.SequenceNode {
		for _, c := range n.Content {
			if t := locateGeneric(tree, c, off, job); t != nil {
				return t
			}
		}
	}
	return nil
}

func includeTarget(tree *yamlparse.Tree, v *yaml.Node, off int, field string) *Token {
	if tree.Span(v).Contains(off) {
		return &Token{Role: RoleIncludeTarget, Value: v.Value, Span: tree.Span(v), IncludeField: field}
	}
	return nil
}
