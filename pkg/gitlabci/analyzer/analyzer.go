// Package analyzer is the C6 semantic analyzer: from parsed trees plus an
// include graph it builds the per-workspace symbol table, computes merged
// job definitions (extends/default/!reference) and produces diagnostics.
// It runs two passes per workspace (spec 4.6): a shallow extraction pass
// with no merging, then a merge-and-validate pass, mirroring
// pkg/parser.Parse's single-pass-then-GetDependencyGraph split in the
// teacher but generalized to the full extends/reference model.
package analyzer

import (
	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// Options configures opt-in validation behavior (spec 8: initialization
// option `options.dependencies_autocomplete_stage_filtering`).
type Options struct {
	DependenciesStageFiltering bool
}

// reservedTopLevelKeys are never treated as job names.
var reservedTopLevelKeys = map[string]bool{
	"stages": true, "variables": true, "include": true, "default": true,
	"workflow": true, "image": true, "services": true,
	"before_script": true, "after_script": true, "spec": true,
}

// Index runs both analysis passes over every document reachable in one
// workspace and returns its symbol table and diagnostics. trees is keyed
// by document URI; every URI in trees is assumed already a member of the
// workspace being indexed (membership itself is C5's job, not this
// package's).
func Index(trees map[string]*yamlparse.Tree, opts Options) (*symbols.Table, []symbols.Diagnostic) {
	table := symbols.NewTable()
	var diags []symbols.Diagnostic

	uris := sortedKeys(trees)

	for _, uri := range uris {
		diags = append(diags, indexDocument(table, uri, trees[uri])...)
	}

	diags = append(diags, mergeAndValidate(table, opts)...)
	return table, diags
}

// indexDocument is pass 1 for a single document: shallow extraction of
// jobs, stages, variables, default block and component specs, no merging.
func indexDocument(table *symbols.Table, uri string, tree *yamlparse.Tree) []symbols.Diagnostic {
	var diags []symbols.Diagnostic
	root := tree.RootMapping()
	if root == nil {
		return diags
	}

	for _, pair := range yamlparse.Pairs(root) {
		key, val := pair[0], pair[1]
		switch key.Value {
		case "stages":
			for _, s := range yamlparse.ScalarStrings(val) {
				if table.StageIndex(s) < 0 {
					table.StageOrder = append(table.StageOrder, s)
				}
			}
		case "variables":
			indexVariables(table, tree, uri, val, symbols.ScopeRoot)
		case "default":
			if table.DefaultJob == nil {
				job, _ := extractJob(tree, val)
				job.Tree = tree
				table.DefaultJob = job
			}
		case "spec":
			indexComponentSpec(table, tree, uri, val)
		default:
			if reservedTopLevelKeys[key.Value] {
				continue
			}
			job, jobDiags := extractJob(tree, val)
			job.Tree = tree
			job.Hidden = len(key.Value) > 0 && key.Value[0] == '.'
			diags = append(diags, jobDiags...)
			sym := &symbols.Symbol{
				ID:   mustUUID(),
				Kind: symbols.KindJob,
				Name: key.Value,
				URI:  uri,
				Span: tree.Span(key),
				Job:  job,
			}
			table.Insert(sym)
			indexVariables(table, tree, uri, job.RawFields["variables"], symbols.JobScope(key.Value))
		}
	}
	return diags
}

func indexVariables(table *symbols.Table, tree *yamlparse.Tree, uri string, val *yaml.Node, scope symbols.VariableScope) {
	if val == nil || val.Kind != yaml.MappingNode {
		return
	}
	for _, pair := range yamlparse.Pairs(val) {
		name, v := pair[0], pair[1]
		table.Insert(&symbols.Symbol{
			ID:   mustUUID(),
			Kind: symbols.KindVariable,
			Name: name.Value,
			URI:  uri,
			Span: tree.Span(name),
			Variable: &symbols.Variable{
				Scope:     scope,
				ValueSpan: tree.Span(v),
				Value:     v.Value,
			},
		})
	}
}

func indexComponentSpec(table *symbols.Table, tree *yamlparse.Tree, uri string, val *yaml.Node) {
	if val == nil {
		return
	}
	_, inputsVal := yamlparse.MappingLookup(val, "inputs")
	inputs := map[string]string{}
	if inputsVal != nil {
		for _, pair := range yamlparse.Pairs(inputsVal) {
			inputs[pair[0].Value] = pair[1].Value
		}
	}
	table.Insert(&symbols.Symbol{
		ID:   mustUUID(),
		Kind: symbols.KindComponent,
		Name: uri,
		URI:  uri,
		Span: tree.Span(val),
		Component: &symbols.Component{
			Inputs: inputs,
		},
	})
}

func extractJob(tree *yamlparse.Tree, val *yaml.Node) (*symbols.Job, []symbols.Diagnostic) {
	job := &symbols.Job{
		RawFields: map[string]*yaml.Node{},
	}
	var diags []symbols.Diagnostic
	if val == nil || val.Kind != yaml.MappingNode {
		return job, diags
	}

	for _, pair := range yamlparse.Pairs(val) {
		key, v := pair[0], pair[1]
		job.RawFields[key.Value] = v
		switch key.Value {
		case "stage":
			job.Stage = v.Value
			job.StageSpan = tree.Span(v)
		case "extends":
			names := yamlparse.ScalarStrings(v)
			job.Extends = names
			if v.Kind == yaml.SequenceNode {
				for _, c := range v.Content {
					job.ExtendsSpans = append(job.ExtendsSpans, tree.Span(c))
				}
			} else {
				job.ExtendsSpans = append(job.ExtendsSpans, tree.Span(v))
			}
		case "needs":
			job.Needs, job.NeedsSpans = extractNeeds(tree, v)
		case "variables":
			job.Variables = map[string]string{}
			for _, vp := range yamlparse.Pairs(v) {
				job.Variables[vp[0].Value] = vp[1].Value
			}
		}
	}
	return job, diags
}

// extractNeeds reads `needs:` which GitLab accepts as a list of bare job
// name strings or a list of {job: name, ...} mappings.
func extractNeeds(tree *yamlparse.Tree, v *yaml.Node) ([]string, []yamlparse.Span) {
	if v.Kind != yaml.SequenceNode {
		return nil, nil
	}
	var names []string
	var spans []yamlparse.Span
	for _, item := range v.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			names = append(names, item.Value)
			spans = append(spans, tree.Span(item))
		case yaml.MappingNode:
			if _, jobVal := yamlparse.MappingLookup(item, "job"); jobVal != nil {
				names = append(names, jobVal.Value)
				spans = append(spans, tree.Span(jobVal))
			}
		}
	}
	return names, spans
}
