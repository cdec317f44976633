// Package symbols holds the tagged-variant symbol model shared by the
// analyzer, workspace and query packages: jobs, stages, variables,
// includes, components and !reference pointers, plus the diagnostic
// vocabulary attached to them. Field names follow the teacher's
// pkg/parser/types.go and pkg/analyzer/types vocabulary (Severity as a
// string-backed type with typed constants) generalized from "lint issue"
// to "navigable symbol with a defining span".
package symbols

import (
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityHint    Severity = "hint"
)

// DiagnosticCode is a machine-readable analysis diagnostic code.
type DiagnosticCode string

const (
	CodeUnresolvedInclude    DiagnosticCode = "UnresolvedInclude"
	CodeUnknownExtends       DiagnosticCode = "UnknownExtends"
	CodeUnknownReference     DiagnosticCode = "UnknownReference"
	CodeUnknownNeeds         DiagnosticCode = "UnknownNeeds"
	CodeUnknownStage         DiagnosticCode = "UnknownStage"
	CodeExtendsCycle         DiagnosticCode = "ExtendsCycle"
	CodeDuplicateJob         DiagnosticCode = "DuplicateJob"
	CodeStageOrderViolation  DiagnosticCode = "StageOrderViolation"
	CodeParseError           DiagnosticCode = "ParseError"
)

// Diagnostic is a single analysis finding attached to a Span.
type Diagnostic struct {
	Span     yamlparse.Span
	Severity Severity
	Code     DiagnosticCode
	Message  string
}

// IncludeKind classifies an include entry.
type IncludeKind string

const (
	IncludeLocal     IncludeKind = "local"
	IncludeRemote    IncludeKind = "remote"
	IncludeProject   IncludeKind = "project"
	IncludeTemplate  IncludeKind = "template"
	IncludeComponent IncludeKind = "component"
)

// Kind discriminates the tagged Symbol variants. Dispatch on Kind uses an
// exhaustive switch rather than a virtual method hierarchy, per the
// fixed-shape symbol model.
type Kind int

const (
	KindJob Kind = iota
	KindStage
	KindVariable
	KindInclude
	KindComponent
	KindReference
)

func (k Kind) String() string {
	switch k {
	case KindJob:
		return "job"
	case KindStage:
		return "stage"
	case KindVariable:
		return "variable"
	case KindInclude:
		return "include"
	case KindComponent:
		return "component"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

// VariableScope locates where a Variable symbol was declared.
type VariableScope string

const (
	ScopeRoot           VariableScope = "root"
	ScopeIncludeInputs  VariableScope = "include-inputs"
	scopeJobPrefix                    = "job:"
)

// JobScope builds the VariableScope for a variable declared inside job
// jobName.
func JobScope(jobName string) VariableScope {
	return VariableScope(scopeJobPrefix + jobName)
}

// Symbol is one entry in a SymbolTable: a name, its defining Span and
// document, its Kind, and kind-specific payload. Exactly one of the
// payload fields is meaningful for a given Kind; this mirrors a tagged
// union without resorting to an interface hierarchy, so analyzer code
// switches on Kind once and reads the matching field.
type Symbol struct {
	ID       uuid.UUID
	Kind     Kind
	Name     string
	URI      string
	Span     yamlparse.Span
	DocVersion int

	Job       *Job
	Stage     *Stage
	Variable  *Variable
	Include   *Include
	Component *Component
	Reference *Reference
}

// Job is the central navigable entity: a named pipeline step.
type Job struct {
	Stage     string
	StageSpan yamlparse.Span
	Extends   []string
	ExtendsSpans []yamlparse.Span
	Needs     []string
	NeedsSpans   []yamlparse.Span
	Variables map[string]string
	Hidden    bool // name starts with '.' - a template job, never runs

	// RawFields holds the job's own (unmerged) yaml.v3 value nodes by
	// key, used both for !reference splicing (spec 4.6 step 4, which
	// operates on a target's *unmerged* tree) and for the query engine's
	// !reference key and head lookups. Hover renders Merged, not these.
	RawFields map[string]*yaml.Node

	// Merged is computed by the analyzer's merge pass for every job when
	// the workspace is analyzed, not on first request, and kept here; nil
	// until that pass has run.
	Merged *MergedJob

	// Tree is the parsed document this job's own fields were extracted
	// from, kept so the merge pass can compute Spans for nodes spliced
	// in from !reference payloads without re-threading a URI->Tree map
	// through every merge helper.
	Tree *yamlparse.Tree
}

// MergedJob is the fixed point of default_block + extends chain + own
// fields, keyed by the GitLab keyword so hover rendering can walk it in a
// stable order.
type MergedJob struct {
	Stage        string
	Script       []string
	BeforeScript []string
	AfterScript  []string
	Image        string
	Variables    map[string]string
	Needs        []string
	Tags         []string
	When         string
	AllowFailure bool
	Rules        []Rule
	Extra        map[string]any // keywords not otherwise modeled, kept verbatim
}

// Rule mirrors a GitLab `rules:` entry closely enough to drive the
// read-only "would run on" hover annotation; it is not a full rules
// evaluator.
type Rule struct {
	If      string
	Changes []string
	When    string
}

// Stage is a named ordering bucket for jobs; Order is its index in the
// top-level `stages:` list.
type Stage struct {
	Order int
}

// Variable is a root, job-scoped, or include-input variable declaration.
type Variable struct {
	Scope     VariableScope
	ValueSpan yamlparse.Span
	Value     string
}

// Include is one `include:` entry and the URIs it resolved to.
type Include struct {
	Kind         IncludeKind
	Target       string
	Ref          string
	ResolvedURIs []string
}

// Component is a reusable template bundle identified by
// <host>/<project>/<name>@<ref>.
type Component struct {
	Inputs map[string]string
}

// Reference is a `!reference [job, key, ...]` pointer.
type Reference struct {
	Path []string
}
