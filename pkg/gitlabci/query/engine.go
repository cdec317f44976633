package query

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/document"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/simulate"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/workspace"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// Location is a (uri, span) navigation result.
type Location struct {
	URI  string
	Span yamlparse.Span
}

// CompletionItem is a ranked candidate name with the kind it was drawn
// from, for the host to render and (optionally) request resolve on.
type CompletionItem struct {
	Label string
	Kind  symbols.Kind
	Detail string
}

// Hover is rendered markdown-ish text for a position.
type Hover struct {
	Span     yamlparse.Span
	Contents string
}

// TextEdit is one replacement within a document, for rename.
type TextEdit struct {
	Span    yamlparse.Span
	NewText string
}

// Engine answers LSP feature requests against a workspace.Registry and
// the document store backing it.
type Engine struct {
	store      *document.Store
	reg        *workspace.Registry
	packageMap map[string]string
}

// New builds a query Engine. packageMap is the configured
// initializationOptions.package_map (may be nil); its keys are the
// "configured projects" spec 4.7 names as include.project's completion
// candidates.
func New(store *document.Store, reg *workspace.Registry, packageMap map[string]string) *Engine {
	return &Engine{store: store, reg: reg, packageMap: packageMap}
}

func (e *Engine) locate(uri string, line, utf16Col int) (*Token, *yamlparse.Tree) {
	doc := e.store.Get(uri)
	if doc == nil || doc.Tree == nil {
		return nil, nil
	}
	off := doc.Tree.ByteOffset(line, utf16Col)
	return Locate(doc.Tree, off), doc.Tree
}

// Definition implements spec 4.7 definition(uri, position).
func (e *Engine) Definition(uri string, line, utf16Col int) []Location {
	tok, _ := e.locate(uri, line, utf16Col)
	if tok == nil {
		return nil
	}

	var out []Location
	for _, ws := range e.reg.FindWorkspacesFor(uri) {
		switch tok.Role {
		case RoleJobHeader:
			for _, sym := range ws.Table.Lookup(symbols.KindJob, tok.Value) {
				out = append(out, Location{URI: sym.URI, Span: sym.Span})
			}
		case RoleExtendsTarget, RoleNeedsTarget, RoleReferenceJob:
			for _, sym := range ws.Table.Lookup(symbols.KindJob, tok.Value) {
				out = append(out, Location{URI: sym.URI, Span: sym.Span})
			}
		case RoleStageValue, RoleStageListEntry:
			out = append(out, stageDefinitionLocations(ws, tok.Value)...)
		case RoleVariableRef:
			for _, sym := range ws.Table.Lookup(symbols.KindVariable, tok.Value) {
				out = append(out, Location{URI: sym.URI, Span: sym.Span})
			}
		case RoleIncludeTarget:
			// Include target resolution is carried in the workspace's
			// include graph edges rather than the symbol table; look up
			// every edge out of this document whose destination URI ends
			// with the include value, the best available approximation
			// without re-running the resolver.
			for from, tos := range ws.IncludeGraph {
				if from != uri {
					continue
				}
				for to := range tos {
					if strings.HasSuffix(to, tok.Value) {
						out = append(out, Location{URI: to, Span: yamlparse.Span{URI: to}})
					}
				}
			}
		case RoleReferenceKey:
			for _, sym := range ws.Table.Lookup(symbols.KindJob, tok.Job) {
				if sym.Job == nil {
					continue
				}
				if v, ok := sym.Job.RawFields[tok.Value]; ok && sym.Job.Tree != nil {
					out = append(out, Location{URI: sym.URI, Span: sym.Job.Tree.Span(v)})
				}
			}
		}
	}
	return dedupeLocations(out)
}

func stageDefinitionLocations(ws *workspace.Workspace, name string) []Location {
	idx := ws.Table.StageIndex(name)
	if idx < 0 {
		return nil
	}
	// Stage symbols aren't separately inserted by the analyzer (spec 3
	// treats stage_order itself as the authority); the definition of a
	// stage is the `stages:` list entry, which every workspace file can
	// carry. The root document is reported as canonical; the location has
	// a zero Span (the start of that document), the list entry's own
	// position is not looked up.
	return []Location{{URI: ws.RootURI}}
}

// References implements spec 4.7 references(uri, position): the
// symmetric traversal of Definition, returning every use rather than the
// definition.
func (e *Engine) References(uri string, line, utf16Col int) []Location {
	tok, _ := e.locate(uri, line, utf16Col)
	if tok == nil {
		return nil
	}

	name := tok.Value
	if tok.Role == RoleStageValue || tok.Role == RoleStageListEntry {
		name = tok.Value
	}

	var out []Location
	for _, ws := range e.reg.FindWorkspacesFor(uri) {
		for _, sym := range ws.Table.Jobs() {
			if sym.Job == nil {
				continue
			}
			for i, ext := range sym.Job.Extends {
				if ext == name {
					out = append(out, Location{URI: sym.URI, Span: spanAt(sym.Job.ExtendsSpans, i)})
				}
			}
			for i, need := range sym.Job.Needs {
				if need == name {
					out = append(out, Location{URI: sym.URI, Span: spanAt(sym.Job.NeedsSpans, i)})
				}
			}
		}
	}
	return dedupeLocations(out)
}

func spanAt(spans []yamlparse.Span, i int) yamlparse.Span {
	if i < 0 || i >= len(spans) {
		return yamlparse.Span{}
	}
	return spans[i]
}

// Completion implements spec 4.7 completion(uri, position): context
// (which keyword the cursor sits under) determines the candidate kind.
func (e *Engine) Completion(uri string, line, utf16Col int) []CompletionItem {
	tok, _ := e.locate(uri, line, utf16Col)
	if tok == nil {
		return nil
	}

	var out []CompletionItem
	seen := map[string]bool{}
	add := func(name string, kind symbols.Kind, detail string) {
		key := fmt.Sprintf("%d:%s", kind, name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, CompletionItem{Label: name, Kind: kind, Detail: detail})
	}

	for _, ws := range e.reg.FindWorkspacesFor(uri) {
		switch tok.Role {
		case RoleExtendsTarget, RoleReferenceJob:
			for name := range ws.Table.Jobs() {
				add(name, symbols.KindJob, "job")
			}
		case RoleNeedsTarget:
			for name, sym := range ws.Table.Jobs() {
				if sym.Job != nil && tok.Job != "" {
					add(name, symbols.KindJob, "job, stage "+sym.Job.Stage)
				} else {
					add(name, symbols.KindJob, "job")
				}
			}
		case RoleStageValue, RoleStageListEntry:
			for _, s := range ws.Table.StageOrder {
				add(s, symbols.KindStage, "stage")
			}
		case RoleVariableRef:
			for _, sym := range ws.Table.All() {
				if sym.Kind == symbols.KindVariable {
					add(sym.Name, symbols.KindVariable, string(sym.Variable.Scope))
				}
			}
		case RoleIncludeTarget:
			switch tok.IncludeField {
			case "project":
				for proj := range e.packageMap {
					add(proj, symbols.KindInclude, "configured project")
				}
				for proj := range ws.KnownProjects {
					add(proj, symbols.KindInclude, "project")
				}
			case "component":
				for comp := range ws.KnownComponents {
					add(comp, symbols.KindComponent, "component")
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Hover implements spec 4.7 hover(uri, position).
func (e *Engine) Hover(uri string, line, utf16Col int) *Hover {
	tok, tree := e.locate(uri, line, utf16Col)
	if tok == nil || tree == nil {
		return nil
	}

	workspaces := e.reg.FindWorkspacesFor(uri)
	if len(workspaces) == 0 {
		return nil
	}
	ws := workspaces[0]

	switch tok.Role {
	case RoleJobHeader, RoleExtendsTarget, RoleNeedsTarget, RoleReferenceJob:
		syms := ws.Table.Lookup(symbols.KindJob, tok.Value)
		if len(syms) == 0 || syms[0].Job == nil || syms[0].Job.Merged == nil {
			return nil
		}
		return &Hover{Span: tok.Span, Contents: renderMergedJob(tok.Value, syms[0].Job.Merged)}
	case RoleStageValue, RoleStageListEntry:
		idx := ws.Table.StageIndex(tok.Value)
		referrers := 0
		for _, sym := range ws.Table.Jobs() {
			if sym.Job != nil && sym.Job.Stage == tok.Value {
				referrers++
			}
		}
		return &Hover{Span: tok.Span, Contents: fmt.Sprintf("**%s** (stage %d)\n\n%d job(s) use this stage", tok.Value, idx, referrers)}
	case RoleVariableRef:
		syms := ws.Table.Lookup(symbols.KindVariable, tok.Value)
		if len(syms) == 0 {
			return nil
		}
		return &Hover{Span: tok.Span, Contents: fmt.Sprintf("**%s** = `%s`", tok.Value, syms[0].Variable.Value)}
	}
	return nil
}

func renderMergedJob(name string, m *symbols.MergedJob) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n\n```yaml\n", name)
	if m.Stage != "" {
		fmt.Fprintf(&sb, "stage: %s\n", m.Stage)
	}
	if len(m.Script) > 0 {
		fmt.Fprintf(&sb, "script:\n")
		for _, s := range m.Script {
			fmt.Fprintf(&sb, "  - %s\n", s)
		}
	}
	if len(m.Needs) > 0 {
		fmt.Fprintf(&sb, "needs: %v\n", m.Needs)
	}
	if len(m.Tags) > 0 {
		fmt.Fprintf(&sb, "tags: %v\n", m.Tags)
	}
	sb.WriteString("```\n")
	if len(m.Rules) > 0 {
		fmt.Fprintf(&sb, "\n_%s_\n", simulate.Describe(m))
	}
	return sb.String()
}

// Diagnostics implements spec 4.7 diagnostics(uri): parse diagnostics
// plus every analysis diagnostic whose Span belongs to uri, across every
// workspace containing it.
func (e *Engine) Diagnostics(uri string) []symbols.Diagnostic {
	var out []symbols.Diagnostic
	if doc := e.store.Get(uri); doc != nil {
		for _, d := range doc.Diags {
			out = append(out, symbols.Diagnostic{Span: d.Span, Severity: toSymbolsSeverity(d.Severity), Code: symbols.CodeParseError, Message: d.Message})
		}
	}
	for _, ws := range e.reg.FindWorkspacesFor(uri) {
		for _, d := range ws.Diagnostics {
			if d.Span.URI == uri {
				out = append(out, d)
			}
		}
	}
	return out
}

func toSymbolsSeverity(s yamlparse.Severity) symbols.Severity {
	if s == yamlparse.SeverityWarning {
		return symbols.SeverityWarning
	}
	return symbols.SeverityError
}

// Rename implements spec 4.7 rename(uri, position, new_name): scope is a
// job symbol; produces edits at every header, extends, needs and
// !reference-head span across every containing workspace. Rejects a
// name colliding with an existing job.
func (e *Engine) Rename(uri string, line, utf16Col int, newName string) (map[string][]TextEdit, error) {
	tok, _ := e.locate(uri, line, utf16Col)
	if tok == nil {
		return nil, fmt.Errorf("rename: no renameable symbol at position")
	}

	var oldName string
	switch tok.Role {
	case RoleJobHeader, RoleExtendsTarget, RoleNeedsTarget, RoleReferenceJob:
		oldName = tok.Value
	default:
		return nil, fmt.Errorf("rename: position does not resolve to a job")
	}

	workspaces := e.reg.FindWorkspacesFor(uri)
	for _, ws := range workspaces {
		if len(ws.Table.Lookup(symbols.KindJob, newName)) > 0 {
			return nil, fmt.Errorf("rename: job %q already exists in this workspace", newName)
		}
	}

	edits := map[string][]TextEdit{}
	add := func(uri string, span yamlparse.Span) {
		edits[uri] = append(edits[uri], TextEdit{Span: span, NewText: newName})
	}
	for _, ws := range workspaces {
		for _, sym := range ws.Table.Lookup(symbols.KindJob, oldName) {
			add(sym.URI, sym.Span)
		}
		for _, sym := range ws.Table.Jobs() {
			if sym.Job == nil {
				continue
			}
			for i, ext := range sym.Job.Extends {
				if ext == oldName {
					add(sym.URI, spanAt(sym.Job.ExtendsSpans, i))
				}
			}
			for i, need := range sym.Job.Needs {
				if need == oldName {
					add(sym.URI, spanAt(sym.Job.NeedsSpans, i))
				}
			}
			for _, span := range referenceHeadSpans(sym.Job, oldName) {
				add(sym.URI, span)
			}
		}
	}
	return edits, nil
}

// referenceHeadSpans finds every `!reference [jobName, ...]` node under
// job's unmerged fields whose head names oldName, returning the span of
// just the head scalar so a rename edit leaves the rest of the path
// untouched.
func referenceHeadSpans(job *symbols.Job, oldName string) []yamlparse.Span {
	if job == nil || job.Tree == nil {
		return nil
	}
	var out []yamlparse.Span
	var walk func(n *yaml.Node)
	walk = func(n *yaml.Node) {
		if n == nil {
			return
		}
		if yamlparse.IsReferenceTag(n) {
			path := yamlparse.ReferencePath(n)
			if len(path) > 0 && path[0] == oldName && len(n.Content) > 0 {
				out = append(out, job.Tree.Span(n.Content[0]))
			}
			return
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	for _, v := range job.RawFields {
		walk(v)
	}
	return out
}

func dedupeLocations(in []Location) []Location {
	seen := map[Location]bool{}
	var out []Location
	for _, l := range in {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
