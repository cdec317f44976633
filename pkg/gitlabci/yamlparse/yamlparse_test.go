package yamlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleJob(t *testing.T) {
	text := "stages:\n  - build\n  - test\n\nbuild:\n  stage: build\n  script:\n    - make build\n"
	tree, diags := Parse("file:///ci.yml", text)
	require.Empty(t, diags, "unexpected diagnostics")
	root := tree.RootMapping()
	require.NotNil(t, root, "expected a root mapping")

	_, stagesVal := MappingLookup(root, "stages")
	require.NotNil(t, stagesVal, "expected a stages key")
	stages := ScalarStrings(stagesVal)
	assert.Equal(t, []string{"build", "test"}, stages)

	buildKey, buildVal := MappingLookup(root, "build")
	require.NotNil(t, buildKey, "expected a build job")
	require.NotNil(t, buildVal, "expected a build job")
	span := tree.Span(buildKey)
	assert.Equal(t, 4, span.StartLine, "expected build key on line 4 (0-based)")
}

func TestParseInvalidYAMLYieldsDiagnostic(t *testing.T) {
	text := "build:\n  stage: [unterminated\n"
	_, diags := Parse("file:///bad.yml", text)
	require.NotEmpty(t, diags, "expected a parse diagnostic for malformed YAML")
	assert.Equal(t, SeverityError, diags[0].Severity)
}

func TestReferenceTag(t *testing.T) {
	text := "build:\n  script: !reference [.base, script]\n"
	tree, diags := Parse("file:///ci.yml", text)
	require.Empty(t, diags, "unexpected diagnostics")
	_, buildVal := MappingLookup(tree.RootMapping(), "build")
	_, scriptVal := MappingLookup(buildVal, "script")
	require.True(t, IsReferenceTag(scriptVal), "expected script to be a !reference node")
	path := ReferencePath(scriptVal)
	assert.Equal(t, []string{".base", "script"}, path)
}

func TestPairsOrderPreserved(t *testing.T) {
	text := "b: 1\na: 2\nc: 3\n"
	tree, _ := Parse("file:///ci.yml", text)
	pairs := Pairs(tree.RootMapping())
	want := []string{"b", "a", "c"}
	require.Len(t, pairs, len(want))
	for i, k := range want {
		assert.Equal(t, k, pairs[i][0].Value, "pair %d", i)
	}
}

func TestEnclosingSpanCoversNestedContent(t *testing.T) {
	text := "build:\n  stage: build\n  script:\n    - make build\n    - make test\n"
	tree, _ := Parse("file:///ci.yml", text)
	_, buildVal := MappingLookup(tree.RootMapping(), "build")
	enclosing := tree.EnclosingSpan(buildVal)
	direct := tree.Span(buildVal)
	assert.Greater(t, enclosing.EndByte, direct.EndByte,
		"expected enclosing span to extend past the job header")
}
