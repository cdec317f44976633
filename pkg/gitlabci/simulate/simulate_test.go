package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/symbols"
)

func TestWouldRunOnNoRulesAlwaysRuns(t *testing.T) {
	assert.True(t, WouldRunOn(&symbols.MergedJob{}, DefaultPipelineContext()), "expected a job with no rules to always run")
}

func TestWouldRunOnBranchCondition(t *testing.T) {
	m := &symbols.MergedJob{Rules: []symbols.Rule{
		{If: `$CI_COMMIT_BRANCH == "main"`, When: "on_success"},
	}}
	assert.True(t, WouldRunOn(m, DefaultPipelineContext()), "expected rule to match main branch push")
	assert.False(t, WouldRunOn(m, MergeRequestPipelineContext("feature")), "expected rule not to match a feature-branch MR pipeline")
}

func TestWouldRunOnWhenNeverExcludes(t *testing.T) {
	m := &symbols.MergedJob{Rules: []symbols.Rule{
		{If: `$CI_COMMIT_BRANCH == "main"`, When: "never"},
	}}
	assert.False(t, WouldRunOn(m, DefaultPipelineContext()), "expected when:never to exclude the job on a matching rule")
}

func TestWouldRunOnNoRuleMatchesDefaultsToExcluded(t *testing.T) {
	m := &symbols.MergedJob{Rules: []symbols.Rule{
		{If: `$CI_COMMIT_BRANCH == "release"`, When: "on_success"},
	}}
	assert.False(t, WouldRunOn(m, DefaultPipelineContext()), "expected no matching rule to exclude the job, mirroring GitLab's fall-through behavior")
}
