package analyzer

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// mergeAndValidate is pass 2: compute each job's merged definition (spec
// 4.6 steps 1-4), then validate stage and needs (steps 5-6).
func mergeAndValidate(table *symbols.Table, opts Options) []symbols.Diagnostic {
	var diags []symbols.Diagnostic

	jobs := table.Jobs()
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sym := jobs[name]
		fields, mergeDiags := mergeChain(table, name, map[string]bool{})
		diags = append(diags, mergeDiags...)

		refDiags := resolveReferencesInPlace(table, sym.Job.Tree, fields)
		diags = append(diags, refDiags...)

		sym.Job.Merged = buildMergedJob(fields)
		diags = append(diags, validateJob(table, sym, opts)...)
	}

	diags = append(diags, duplicateJobDiagnostics(table)...)
	return diags
}

// mergeChain computes the fixed point described in spec 3: start from
// default_block, apply each extends[] target left-to-right (later wins),
// then the job's own fields. visiting is NOT shared across different
// top-level job resolutions — each call to mergeAndValidate's outer loop
// starts a fresh set — so a mutual-extends cycle is reported at both
// member jobs' own resolutions instead of only the first one visited.
func mergeChain(table *symbols.Table, name string, visiting map[string]bool) (map[string]*yaml.Node, []symbols.Diagnostic) {
	sym := firstJobSymbol(table, name)
	if sym == nil || sym.Job == nil {
		return map[string]*yaml.Node{}, nil
	}
	job := sym.Job

	fields := map[string]*yaml.Node{}
	if table.DefaultJob != nil {
		mergeFieldsInto(fields, table.DefaultJob.RawFields)
	}

	visiting = withName(visiting, name)
	var diags []symbols.Diagnostic

	for i, ext := range job.Extends {
		span := spanAt(job.ExtendsSpans, i)
		if visiting[ext] {
			diags = append(diags, symbols.Diagnostic{
				Span:     span,
				Severity: symbols.SeverityError,
				Code:     symbols.CodeExtendsCycle,
				Message:  fmt.Sprintf("extends cycle: %q extends %q, which (transitively) extends %q again", name, ext, ext),
			})
			continue
		}
		targetSym := firstJobSymbol(table, ext)
		if targetSym == nil {
			diags = append(diags, symbols.Diagnostic{
				Span:     span,
				Severity: symbols.SeverityError,
				Code:     symbols.CodeUnknownExtends,
				Message:  fmt.Sprintf("job %q extends unknown job %q", name, ext),
			})
			continue
		}
		baseFields, baseDiags := mergeChain(table, ext, visiting)
		diags = append(diags, baseDiags...)
		mergeFieldsInto(fields, baseFields)
	}

	own := make(map[string]*yaml.Node, len(job.RawFields))
	for k, v := range job.RawFields {
		if k == "extends" {
			continue
		}
		own[k] = v
	}
	mergeFieldsInto(fields, own)

	return fields, diags
}

func withName(visiting map[string]bool, name string) map[string]bool {
	out := make(map[string]bool, len(visiting)+1)
	for k, v := range visiting {
		out[k] = v
	}
	out[name] = true
	return out
}

func spanAt(spans []yamlparse.Span, i int) yamlparse.Span {
	if i < 0 || i >= len(spans) {
		return yamlparse.Span{}
	}
	return spans[i]
}

// mergeFieldsInto applies src onto dst using the documented rule: maps
// deep-merged key by key, sequences and scalars replaced wholesale (spec
// 3's invariant and 9's open-question decision).
func mergeFieldsInto(dst map[string]*yaml.Node, src map[string]*yaml.Node) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && existing.Kind == yaml.MappingNode && v.Kind == yaml.MappingNode {
			dst[k] = deepMergeMapping(existing, v)
			continue
		}
		dst[k] = v
	}
}

// deepMergeMapping merges two YAML mapping nodes into a synthetic node:
// b's keys win over a's; nested maps merge recursively; anything else in
// b replaces a's value for that key entirely.
func deepMergeMapping(a, b *yaml.Node) *yaml.Node {
	result := map[string]*yaml.Node{}
	var order []string

	for _, pair := range yamlparse.Pairs(a) {
		k := pair[0].Value
		result[k] = pair[1]
		order = append(order, k)
	}
	for _, pair := range yamlparse.Pairs(b) {
		k, v := pair[0].Value, pair[1]
		if existing, ok := result[k]; ok {
			if existing.Kind == yaml.MappingNode && v.Kind == yaml.MappingNode {
				result[k] = deepMergeMapping(existing, v)
			} else {
				result[k] = v
			}
			continue
		}
		result[k] = v
		order = append(order, k)
	}

	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range order {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			result[k],
		)
	}
	return node
}

func firstJobSymbol(table *symbols.Table, name string) *symbols.Symbol {
	entries := table.Lookup(symbols.KindJob, name)
	if len(entries) == 0 {
		return nil
	}
	return entries[0]
}

func duplicateJobDiagnostics(table *symbols.Table) []symbols.Diagnostic {
	var diags []symbols.Diagnostic
	seen := map[string]bool{}
	for _, sym := range table.All() {
		if sym.Kind != symbols.KindJob || seen[sym.Name] {
			continue
		}
		seen[sym.Name] = true
		entries := table.Lookup(symbols.KindJob, sym.Name)
		if len(entries) < 2 {
			continue
		}
		for _, dup := range entries[1:] {
			diags = append(diags, symbols.Diagnostic{
				Span:     dup.Span,
				Severity: symbols.SeverityWarning,
				Code:     symbols.CodeDuplicateJob,
				Message:  fmt.Sprintf("job %q is defined more than once in this workspace", sym.Name),
			})
		}
	}
	return diags
}

func validateJob(table *symbols.Table, sym *symbols.Symbol, opts Options) []symbols.Diagnostic {
	var diags []symbols.Diagnostic
	job := sym.Job

	if job.Hidden {
		return diags // template jobs (name starts with '.') never run and are exempt from stage/needs validation
	}

	stage := job.Stage
	if job.Merged != nil && stage == "" {
		stage = job.Merged.Stage
	}
	if stage != "" && table.StageIndex(stage) < 0 {
		diags = append(diags, symbols.Diagnostic{
			Span:     job.StageSpan,
			Severity: symbols.SeverityError,
			Code:     symbols.CodeUnknownStage,
			Message:  fmt.Sprintf("job %q uses unknown stage %q", sym.Name, stage),
		})
	}

	jobStageIdx := table.StageIndex(stage)
	for i, need := range job.Needs {
		span := spanAt(job.NeedsSpans, i)
		target := firstJobSymbol(table, need)
		if target == nil {
			diags = append(diags, symbols.Diagnostic{
				Span:     span,
				Severity: symbols.SeverityError,
				Code:     symbols.CodeUnknownNeeds,
				Message:  fmt.Sprintf("job %q needs unknown job %q", sym.Name, need),
			})
			continue
		}
		if opts.DependenciesStageFiltering && target.Job != nil && jobStageIdx >= 0 {
			targetStageIdx := table.StageIndex(target.Job.Stage)
			if targetStageIdx > jobStageIdx {
				diags = append(diags, symbols.Diagnostic{
					Span:     span,
					Severity: symbols.SeverityError,
					Code:     symbols.CodeStageOrderViolation,
					Message:  fmt.Sprintf("job %q needs %q, whose stage runs after %q's own stage", sym.Name, need, sym.Name),
				})
			}
		}
	}
	return diags
}

// buildMergedJob projects the merged raw-field map into the typed
// MergedJob summary hover rendering consumes.
func buildMergedJob(fields map[string]*yaml.Node) *symbols.MergedJob {
	m := &symbols.MergedJob{Extra: map[string]any{}}
	for k, v := range fields {
		switch k {
		case "stage":
			m.Stage = v.Value
		case "script":
			m.Script = yamlparse.ScalarStrings(v)
		case "before_script":
			m.BeforeScript = yamlparse.ScalarStrings(v)
		case "after_script":
			m.AfterScript = yamlparse.ScalarStrings(v)
		case "image":
			m.Image = v.Value
		case "tags":
			m.Tags = yamlparse.ScalarStrings(v)
		case "when":
			m.When = v.Value
		case "allow_failure":
			m.AllowFailure = v.Value == "true"
		case "needs":
			m.Needs = extractNeedNames(v)
		case "variables":
			m.Variables = map[string]string{}
			for _, pair := range yamlparse.Pairs(v) {
				m.Variables[pair[0].Value] = pair[1].Value
			}
		case "rules":
			m.Rules = extractRules(v)
		default:
			m.Extra[k] = nodeToPlain(v)
		}
	}
	return m
}

func extractRules(v *yaml.Node) []symbols.Rule {
	if v.Kind != yaml.SequenceNode {
		return nil
	}
	var rules []symbols.Rule
	for _, item := range v.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		var r symbols.Rule
		if _, n := yamlparse.MappingLookup(item, "if"); n != nil {
			r.If = n.Value
		}
		if _, n := yamlparse.MappingLookup(item, "when"); n != nil {
			r.When = n.Value
		}
		if _, n := yamlparse.MappingLookup(item, "changes"); n != nil {
			r.Changes = yamlparse.ScalarStrings(n)
		}
		rules = append(rules, r)
	}
	return rules
}

// extractNeedNames reads job names out of a `needs:` node without
// requiring a Tree for span computation, for contexts (hover rendering of
// an already-merged field) where only the names are needed.
func extractNeedNames(v *yaml.Node) []string {
	if v.Kind != yaml.SequenceNode {
		return nil
	}
	var names []string
	for _, item := range v.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			names = append(names, item.Value)
		case yaml.MappingNode:
			if _, jobVal := yamlparse.MappingLookup(item, "job"); jobVal != nil {
				names = append(names, jobVal.Value)
			}
		}
	}
	return names
}

// nodeToPlain renders a node's scalar value, or a marker string for
// collections, for the Extra bag used by hover rendering of keywords this
// package doesn't model in detail.
func nodeToPlain(n *yaml.Node) any {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value
	case yaml.SequenceNode:
		return yamlparse.ScalarStrings(n)
	default:
		return "<mapping>"
	}
}
