package main

import (
	"github.com/spf13/cobra"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/config"
	"github.com/wonderfulspam/gitlab-ci-ls/internal/exitcode"
	"github.com/wonderfulspam/gitlab-ci-ls/internal/logging"
	"github.com/wonderfulspam/gitlab-ci-ls/pkg/lspserver"
)

var serveFlags config.Flags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the language server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logging.New(serveFlags.LogPath, false)
		if err != nil {
			return exitcode.ConfigError("building logger", err)
		}
		defer log.Sync() //nolint:errcheck

		srv, err := lspserver.New(serveFlags, log, version)
		if err != nil {
			return exitcode.InternalError("constructing server", err)
		}
		if err := srv.Run(); err != nil {
			return exitcode.InternalError("serving over stdio", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.LogPath, "log-path", "", "path to the server's log file (defaults to stderr)")
	serveCmd.Flags().StringVar(&serveFlags.CacheDir, "cache-dir", "", "directory for cached remote include snapshots")
	serveCmd.Flags().StringVar(&serveFlags.PackageMapFile, "package-map-file", "", "JSON file mapping project names to SSH hosts")
	rootCmd.AddCommand(serveCmd)
}
