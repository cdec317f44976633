// Package config decodes LSP initializationOptions into the settings the
// rest of the server consumes, merged with CLI flag defaults the way
// cmd/gitlab-smith/config.go merges .gitlab-smith.yml settings with
// check-override flags: explicit initializationOptions win, flags are the
// fallback, hardcoded defaults are the last resort.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wonderfulspam/gitlab-ci-ls/internal/exitcode"
)

// Options is the decoded form of the `initializationOptions` object spec
// 6 describes.
type Options struct {
	Cache      string            `json:"cache"`
	LogPath    string            `json:"log_path"`
	PackageMap map[string]string `json:"package_map"`
	Options    struct {
		DependenciesAutocompleteStageFiltering bool `json:"dependencies_autocomplete_stage_filtering"`
	} `json:"options"`
}

// Flags holds the CLI convenience flags `serve` accepts for editors that
// cannot set initializationOptions.
type Flags struct {
	LogPath        string
	CacheDir       string
	PackageMapFile string
}

// Decode parses raw initializationOptions JSON (nil/empty is valid: an
// editor may omit it entirely) into Options.
func Decode(raw json.RawMessage) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return opts, fmt.Errorf("decoding initializationOptions: %w", err)
	}
	return opts, nil
}

// Merge applies flags as fallbacks for any field Options left unset;
// initializationOptions values always win over flags.
func Merge(opts Options, flags Flags) (Options, error) {
	if opts.LogPath == "" {
		opts.LogPath = flags.LogPath
	}
	if opts.Cache == "" {
		opts.Cache = flags.CacheDir
	}
	if opts.PackageMap == nil && flags.PackageMapFile != "" {
		pm, err := loadPackageMapFile(flags.PackageMapFile)
		if err != nil {
			return opts, exitcode.ConfigError("reading --package-map-file", err)
		}
		opts.PackageMap = pm
	}
	return opts, nil
}

func loadPackageMapFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}
