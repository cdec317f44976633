package workspace

import (
	"path/filepath"
	"strings"

	"github.com/wonderfulspam/gitlab-ci-ls/pkg/gitlabci/yamlparse"
)

// gitlabTopLevelKeys are keys whose presence is evidence a YAML document
// is a GitLab CI configuration, per spec 4.5's fingerprint ("presence of
// top-level keys from the GitLab vocabulary").
var gitlabTopLevelKeys = map[string]bool{
	"stages": true, "include": true, "default": true, "workflow": true,
	"variables": true, "extends": true, "needs": true, "image": true,
	"before_script": true, "after_script": true, "script": true,
	"spec": true, // components
}

// disqualifyingKeys rule out Ansible playbooks and Kubernetes manifests,
// which otherwise share enough YAML shape (mappings with "stages"-like
// lists, "image" keys) to false-positive without an explicit check.
var disqualifyingKeys = map[string]bool{
	"apiVersion": true, "kind": true, // Kubernetes
	"hosts": true, "tasks": true, "roles": true, // Ansible
}

// canonicalRootNames match GitLab's own convention for pipeline entry
// points.
var canonicalRootNames = map[string]bool{
	".gitlab-ci.yml": true, ".gitlab-ci.yaml": true,
}

// Fingerprint classifies a parsed document as GitLab-CI or not.
func Fingerprint(tree *yamlparse.Tree) bool {
	root := tree.RootMapping()
	if root == nil {
		return false
	}
	hasGitlabKey := false
	for _, pair := range yamlparse.Pairs(root) {
		key := pair[0].Value
		if disqualifyingKeys[key] {
			return false
		}
		if gitlabTopLevelKeys[key] {
			hasGitlabKey = true
		}
	}
	if hasGitlabKey {
		return true
	}
	for _, pair := range yamlparse.Pairs(root) {
		if jobVal := pair[1]; jobVal != nil {
			if _, script := yamlparse.MappingLookup(jobVal, "script"); script != nil {
				return true
			}
			if _, stage := yamlparse.MappingLookup(jobVal, "stage"); stage != nil {
				return true
			}
		}
	}
	return false
}

// IsCanonicalRoot reports whether uri's basename matches a canonical
// GitLab CI pipeline entry point name.
func IsCanonicalRoot(uri string) bool {
	return canonicalRootNames[strings.ToLower(filepath.Base(uri))]
}
