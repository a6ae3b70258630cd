package cask

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/sps-pm/sps/internal/errors"
)

const manifestFormatVersion = "1.0"

func manifestPath(caskroom, token, version string) string {
	return filepath.Join(caskroom, token, version, "CASK_INSTALL_MANIFEST.json")
}

// writeManifest atomically writes a CaskInstallManifest, generalizing
// the linker's INSTALL_MANIFEST.json write (internal/linker/linker.go)
// to the richer, typed artifact list casks require.
func writeManifest(caskroom, token, version string, artifacts []InstalledArtifact, installedAt int64) error {
	manifest := CaskInstallManifest{
		ManifestFormatVersion: manifestFormatVersion,
		Token:                 token,
		Version:               version,
		InstalledAt:           installedAt,
		Artifacts:             artifacts,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.NewManifestError(manifestPath(caskroom, token, version), err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(manifestPath(caskroom, token, version))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewManifestError(dir, err)
	}

	tmp := filepath.Join(dir, ".CASK_INSTALL_MANIFEST.json.tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.NewManifestError(tmp, err)
	}
	if err := os.Rename(tmp, manifestPath(caskroom, token, version)); err != nil {
		return errors.NewManifestError(manifestPath(caskroom, token, version), err)
	}
	return nil
}

// ReadManifest loads <caskroom>/<token>/<version>/CASK_INSTALL_MANIFEST.json.
// A missing or corrupt manifest is reported to the caller, which falls
// back to best-effort default-path removal rather than failing outright.
func ReadManifest(caskroom, token, version string) (*CaskInstallManifest, error) {
	data, err := os.ReadFile(manifestPath(caskroom, token, version))
	if err != nil {
		return nil, err
	}
	var manifest CaskInstallManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.NewManifestError(manifestPath(caskroom, token, version), err)
	}
	return &manifest, nil
}

// removeManifestDir removes <caskroom>/<token>/<version>, then removes
// the parent <caskroom>/<token> if it is left empty.
func removeManifestDir(caskroom, token, version string) error {
	versionDir := filepath.Join(caskroom, token, version)
	if err := os.RemoveAll(versionDir); err != nil {
		return err
	}
	tokenDir := filepath.Join(caskroom, token)
	entries, err := os.ReadDir(tokenDir)
	if err != nil {
		return nil
	}
	if len(entries) == 0 {
		_ = os.Remove(tokenDir)
	}
	return nil
}

// pathAllowed enforces the removal safety boundary spec §4.9 requires:
// no ".." components, no glob wildcards, and the (home-expanded,
// cleaned) path must lie under /Library, /Applications, ~/Library, or
// the managed prefix. A manifest is not trusted absolutely.
func pathAllowed(path, prefix string) bool {
	if path == "" {
		return false
	}
	if strings.ContainsAny(path, "*?[") {
		return false
	}
	clean := filepath.Clean(expandHome(path))
	if clean == "." || strings.Contains(clean, "..") {
		return false
	}

	roots := []string{"/Library", "/Applications"}
	if prefix != "" {
		roots = append(roots, prefix)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		roots = append(roots, filepath.Join(home, "Library"))
	}
	for _, root := range roots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
