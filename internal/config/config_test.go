package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEmptyIsValid(t *testing.T) {
	opts, err := Decode(nil)
	require.NoError(t, err, "Decode(nil)")
	require.Empty(t, opts.Cache)
	require.Empty(t, opts.LogPath)
}

func TestDecodeFullObject(t *testing.T) {
	raw := json.RawMessage(`{
		"cache": "/tmp/cache",
		"log_path": "/tmp/log",
		"package_map": {"tpl": "git@example.com"},
		"options": {"dependencies_autocomplete_stage_filtering": true}
	}`)
	opts, err := Decode(raw)
	require.NoError(t, err, "Decode")
	require.Equal(t, "/tmp/cache", opts.Cache)
	require.Equal(t, "git@example.com", opts.PackageMap["tpl"])
	require.True(t, opts.Options.DependenciesAutocompleteStageFiltering)
}

func TestMergePrefersInitializationOptionsOverFlags(t *testing.T) {
	opts := Options{LogPath: "/from/init"}
	merged, err := Merge(opts, Flags{LogPath: "/from/flag"})
	require.NoError(t, err, "Merge")
	require.Equal(t, "/from/init", merged.LogPath, "expected initializationOptions log_path to win")
}

func TestMergeFallsBackToFlagWhenUnset(t *testing.T) {
	merged, err := Merge(Options{}, Flags{CacheDir: "/from/flag"})
	require.NoError(t, err, "Merge")
	require.Equal(t, "/from/flag", merged.Cache, "expected fallback to flag cache dir")
}

func TestMergeLoadsPackageMapFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "packages.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tpl":"git@example.com"}`), 0o644))

	merged, err := Merge(Options{}, Flags{PackageMapFile: path})
	require.NoError(t, err, "Merge")
	require.Equal(t, "git@example.com", merged.PackageMap["tpl"], "expected package map loaded from file")
}
