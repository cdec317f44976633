package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

func parse(t *testing.T, uri, text string) *yamlparse.Tree {
	t.Helper()
	tree, diags := yamlparse.Parse(uri, text)
	require.Empty(t, diags, "unexpected parse diagnostics for %s", uri)
	return tree
}

func countCode(diags []symbols.Diagnostic, code symbols.DiagnosticCode) int {
	n := 0
	for _, d := range diags {
		if d.Code == code {
			n++
		}
	}
	return n
}

// S1 - Local extends: definition/hover resolve, no diagnostics.
func TestLocalExtendsMerge(t *testing.T) {
	text := "stages: [build, test]\n.base: {stage: build, script: [\"echo\"]}\nunit: {extends: .base, stage: test}\n"
	trees := map[string]*yamlparse.Tree{"file:///ci.yml": parse(t, "file:///ci.yml", text)}

	table, diags := Index(trees, Options{})
	require.Empty(t, diags)

	unit := firstJobSymbol(table, "unit")
	require.NotNil(t, unit, "expected a unit job symbol")
	assert.Equal(t, "test", unit.Job.Merged.Stage, "expected merged stage 'test' (own field wins over extends)")
	require.Len(t, unit.Job.Merged.Script, 1)
	assert.Equal(t, "echo", unit.Job.Merged.Script[0], "expected merged script from .base")
}

// S2 - Unknown stage.
func TestUnknownStageDiagnostic(t *testing.T) {
	text := "stages: [build, test]\n.base: {stage: build, script: [\"echo\"]}\nunit: {extends: .base, stage: deploy}\n"
	trees := map[string]*yamlparse.Tree{"file:///ci.yml": parse(t, "file:///ci.yml", text)}

	_, diags := Index(trees, Options{})
	assert.Positive(t, countCode(diags, symbols.CodeUnknownStage), "expected an UnknownStage diagnostic, got %v", diags)
}

// S3 - Extends cycle: diagnostic at both sides, merging terminates.
func TestExtendsCycleDiagnosedAtBothSides(t *testing.T) {
	text := "stages: [build]\na: {extends: b, stage: build}\nb: {extends: a, stage: build}\n"
	trees := map[string]*yamlparse.Tree{"file:///ci.yml": parse(t, "file:///ci.yml", text)}

	_, diags := Index(trees, Options{})
	assert.GreaterOrEqual(t, countCode(diags, symbols.CodeExtendsCycle), 2,
		"expected an ExtendsCycle diagnostic at both extends entries, got %v", diags)
}

func TestReferenceSplicing(t *testing.T) {
	text := "stages: [test]\n.base: {stage: test, script: [\"echo hi\"]}\nunit: {stage: test, script: !reference [.base, script]}\n"
	trees := map[string]*yamlparse.Tree{"file:///ci.yml": parse(t, "file:///ci.yml", text)}

	table, diags := Index(trees, Options{})
	require.Empty(t, diags)
	unit := firstJobSymbol(table, "unit")
	require.Len(t, unit.Job.Merged.Script, 1)
	assert.Equal(t, "echo hi", unit.Job.Merged.Script[0], "expected spliced script from .base")
}

func TestUnknownReferenceDiagnostic(t *testing.T) {
	text := "stages: [test]\nunit: {stage: test, script: !reference [.missing, script]}\n"
	trees := map[string]*yamlparse.Tree{"file:///ci.yml": parse(t, "file:///ci.yml", text)}

	_, diags := Index(trees, Options{})
	assert.Positive(t, countCode(diags, symbols.CodeUnknownReference), "expected an UnknownReference diagnostic, got %v", diags)
}

func TestUnknownNeedsDiagnostic(t *testing.T) {
	text := "stages: [test]\nunit: {stage: test, needs: [missing]}\n"
	trees := map[string]*yamlparse.Tree{"file:///ci.yml": parse(t, "file:///ci.yml", text)}

	_, diags := Index(trees, Options{})
	assert.Positive(t, countCode(diags, symbols.CodeUnknownNeeds), "expected an UnknownNeeds diagnostic, got %v", diags)
	assert.Zero(t, countCode(diags, symbols.CodeUnknownReference), "unknown needs target should not be reported as UnknownReference")
}

func TestNeedsStageFilteringOptIn(t *testing.T) {
	text := "stages: [build, test, deploy]\n" +
		"build: {stage: build, script: [\"x\"]}\n" +
		"deploy: {stage: deploy, needs: [build], script: [\"y\"]}\n" +
		"early: {stage: build, needs: [deploy], script: [\"z\"]}\n"
	trees := map[string]*yamlparse.Tree{"file:///ci.yml": parse(t, "file:///ci.yml", text)}

	_, diags := Index(trees, Options{DependenciesStageFiltering: true})
	assert.Positive(t, countCode(diags, symbols.CodeStageOrderViolation),
		"expected a StageOrderViolation diagnostic for 'early' needing a later-stage job, got %v", diags)
}

func TestDuplicateJobDiagnostic(t *testing.T) {
	textA := "stages: [test]\nbuild: {stage: test, script: [\"a\"]}\n"
	textB := "stages: [test]\nbuild: {stage: test, script: [\"b\"]}\n"
	trees := map[string]*yamlparse.Tree{
		"file:///a.yml": parse(t, "file:///a.yml", textA),
		"file:///b.yml": parse(t, "file:///b.yml", textB),
	}

	_, diags := Index(trees, Options{})
	assert.Positive(t, countCode(diags, symbols.CodeDuplicateJob), "expected a DuplicateJob diagnostic, got %v", diags)
}

func TestHiddenJobsExemptFromStageValidation(t *testing.T) {
	text := "stages: [test]\n.template: {stage: nonexistent, script: [\"x\"]}\n"
	trees := map[string]*yamlparse.Tree{"file:///ci.yml": parse(t, "file:///ci.yml", text)}

	_, diags := Index(trees, Options{})
	assert.Zero(t, countCode(diags, symbols.CodeUnknownStage), "did not expect stage validation on a hidden/template job, got %v", diags)
}
