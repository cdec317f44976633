// Package simulate is the 6.1 supplemental hover aid: a read-only
// evaluator over a job's `rules:` that answers "would this job run on
// this ref/event", adapted from the teacher's
// pkg/parser.WorkflowEvaluator/PipelineContext to the merged-job view
// built by package analyzer. It never executes anything and is never
// consulted for diagnostics, only for hover text.
package simulate

import (
	"regexp"
	"strings"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
)

// PipelineContext is the hypothetical trigger a job's rules are
// evaluated against.
type PipelineContext struct {
	Branch       string
	Event        string // push, merge_request_event, schedule, api, web
	IsMR         bool
	IsMainBranch bool
}

// DefaultPipelineContext mirrors a push to the default branch.
func DefaultPipelineContext() PipelineContext {
	return PipelineContext{Branch: "main", Event: "push", IsMainBranch: true}
}

// MergeRequestPipelineContext mirrors a merge request pipeline from
// sourceBranch.
func MergeRequestPipelineContext(sourceBranch string) PipelineContext {
	return PipelineContext{Branch: sourceBranch, Event: "merge_request_event", IsMR: true}
}

var (
	sourceEqRe  = regexp.MustCompile(`\$CI_PIPELINE_SOURCE\s*==\s*"([^"]+)"`)
	sourceNeqRe = regexp.MustCompile(`\$CI_PIPELINE_SOURCE\s*!=\s*"([^"]+)"`)
	branchEqRe  = regexp.MustCompile(`\$CI_COMMIT_BRANCH\s*==\s*"([^"]+)"`)
	branchNeqRe = regexp.MustCompile(`\$CI_COMMIT_BRANCH\s*!=\s*"([^"]+)"`)
)

// WouldRunOn reports whether m's rules permit it to run under ctx. A job
// with no rules always runs, matching GitLab's "rules absent = always
// included" default. Rules are evaluated in order; the first one whose
// condition matches decides the outcome via its `when` (a `when: never`
// match excludes the job, anything else includes it), exactly as GitLab
// evaluates `rules:` top-to-bottom with first-match-wins.
func WouldRunOn(m *symbols.MergedJob, ctx PipelineContext) bool {
	if m == nil || len(m.Rules) == 0 {
		return true
	}
	for _, rule := range m.Rules {
		if !conditionMatches(rule, ctx) {
			continue
		}
		return rule.When != "never"
	}
	return false
}

func conditionMatches(rule symbols.Rule, ctx PipelineContext) bool {
	if rule.If == "" && len(rule.Changes) == 0 {
		return true
	}
	if len(rule.Changes) > 0 {
		// File-level change detection needs a working tree diff this
		// hover-only evaluator has no access to; conservatively treat a
		// changes-gated rule as not matching, same conservative stance
		// the teacher's evaluator takes for changes/exists.
		return false
	}
	return evaluateIf(rule.If, ctx)
}

func evaluateIf(condition string, ctx PipelineContext) bool {
	condition = strings.TrimSpace(condition)
	switch {
	case strings.Contains(condition, "$CI_PIPELINE_SOURCE"):
		return evaluateSource(condition, ctx)
	case strings.Contains(condition, "$CI_COMMIT_BRANCH"):
		return evaluateBranch(condition, ctx)
	case strings.Contains(condition, "$CI_MERGE_REQUEST_ID"):
		return ctx.IsMR
	default:
		return true
	}
}

func evaluateSource(condition string, ctx PipelineContext) bool {
	source := ctx.Event
	if source == "" {
		source = "push"
	}
	if m := sourceEqRe.FindStringSubmatch(condition); m != nil {
		return source == m[1]
	}
	if m := sourceNeqRe.FindStringSubmatch(condition); m != nil {
		return source != m[1]
	}
	return true
}

func evaluateBranch(condition string, ctx PipelineContext) bool {
	if ctx.Branch == "" {
		return false
	}
	if m := branchEqRe.FindStringSubmatch(condition); m != nil {
		return ctx.Branch == m[1]
	}
	if m := branchNeqRe.FindStringSubmatch(condition); m != nil {
		return ctx.Branch != m[1]
	}
	return true
}

// Describe renders a short "would run on: ..." hover annotation for jobs
// with rules, evaluated against a small fixed set of representative
// contexts.
func Describe(m *symbols.MergedJob) string {
	if m == nil || len(m.Rules) == 0 {
		return "runs unconditionally (no rules)"
	}
	var matches []string
	if WouldRunOn(m, DefaultPipelineContext()) {
		matches = append(matches, "main branch push")
	}
	if WouldRunOn(m, MergeRequestPipelineContext("feature")) {
		matches = append(matches, "merge requests")
	}
	if len(matches) == 0 {
		return "would not run on main branch push or merge requests (rules evaluated conservatively)"
	}
	return "would run on: " + strings.Join(matches, ", ")
}
