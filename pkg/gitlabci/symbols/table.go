package symbols

import "sync"

// key identifies symbol entries by (kind, name); duplicates are kept
// since duplicate job/stage names are themselves a diagnostic condition,
// not a data-structure error.
type key struct {
	kind Kind
	name string
}

// Table is the per-workspace SymbolTable: (kind, name) -> entries, plus
// the deduplicated stage order and the default block consulted during
// job merging.
type Table struct {
	mu sync.RWMutex

	entries map[key][]*Symbol
	// byURI indexes entries by their defining document, for fast
	// invalidation when a single URI's version changes.
	byURI map[string][]*Symbol

	StageOrder  []string
	DefaultJob  *Job
	DefaultSpan struct {
		URI string
	}
}

// NewTable builds an empty symbol table.
func NewTable() *Table {
	return &Table{
		entries: make(map[key][]*Symbol),
		byURI:   make(map[string][]*Symbol),
	}
}

// Insert adds a symbol entry. Callers are responsible for clearing any
// prior entries from the same URI first (see RemoveURI) so re-indexing a
// changed document doesn't accumulate stale duplicates.
func (t *Table) Insert(s *Symbol) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{kind: s.Kind, name: s.Name}
	t.entries[k] = append(t.entries[k], s)
	t.byURI[s.URI] = append(t.byURI[s.URI], s)
}

// RemoveURI drops every symbol previously contributed by uri, used before
// re-indexing it.
func (t *Table) RemoveURI(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stale := t.byURI[uri]
	delete(t.byURI, uri)
	if len(stale) == 0 {
		return
	}
	staleSet := make(map[*Symbol]bool, len(stale))
	for _, s := range stale {
		staleSet[s] = true
	}
	for k, list := range t.entries {
		kept := list[:0]
		for _, s := range list {
			if !staleSet[s] {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(t.entries, k)
		} else {
			t.entries[k] = kept
		}
	}
}

// Lookup returns every symbol of the given kind and name, in insertion
// order. Duplicates are a DuplicateJob/conflict diagnostic condition, not
// filtered here.
func (t *Table) Lookup(kind Kind, name string) []*Symbol {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Symbol(nil), t.entries[key{kind: kind, name: name}]...)
}

// Jobs returns every Job symbol, keyed by name, first-definition-wins for
// map convenience (callers needing all definitions use Lookup(KindJob, ...)).
func (t *Table) Jobs() map[string]*Symbol {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*Symbol)
	for k, list := range t.entries {
		if k.kind != KindJob || len(list) == 0 {
			continue
		}
		out[k.name] = list[0]
	}
	return out
}

// All returns every symbol in the table, in no particular order.
func (t *Table) All() []*Symbol {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Symbol
	for _, list := range t.entries {
		out = append(out, list...)
	}
	return out
}

// StageIndex returns the position of stage in StageOrder, or -1 if absent.
func (t *Table) StageIndex(stage string) int {
	for i, s := range t.StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// DependencyGraph returns job name -> names it depends on, taken from the
// own `needs` list of the definition Jobs returns for that name (other
// definitions and inherited needs are not included), adapted from
// GitLabConfig.GetDependencyGraph (teacher pkg/parser/types.go).
func (t *Table) DependencyGraph() map[string][]string {
	jobs := t.Jobs()
	graph := make(map[string][]string, len(jobs))
	for name, sym := range jobs {
		if sym.Job == nil {
			continue
		}
		graph[name] = append([]string(nil), sym.Job.Needs...)
	}
	return graph
}

// Dependents returns every job name whose `needs` lists target, the
// reverse of DependencyGraph, used to answer "which jobs need this job".
func (t *Table) Dependents(target string) []string {
	var out []string
	for name, deps := range t.DependencyGraph() {
		for _, d := range deps {
			if d == target {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
