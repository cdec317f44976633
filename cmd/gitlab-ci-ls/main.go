package main

import (
	"github.com/spf13/cobra"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/exitcode"
)

var rootCmd = &cobra.Command{
	Use:   "gitlab-ci-ls",
	Short: "Language server for GitLab CI/CD YAML configuration",
	Long: `gitlab-ci-ls speaks the Language Server Protocol over stdio and
understands GitLab CI/CD pipeline files: jobs, stages, include, extends,
needs and !reference, across the files an include graph pulls together.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitcode.Exit(err)
	}
}
