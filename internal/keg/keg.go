// Package keg inspects the on-disk Cellar to answer "what is installed"
// questions for the resolver and the upgrade path, generalizing the
// teacher's scattered isFormulaInstalled/cellar-path helpers
// (internal/installer/installer.go) into the single KegRegistry
// component spec §4.2 names.
package keg

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/sps-pm/sps/internal/config"
)

// InstalledKeg is one installed formula version on disk.
type InstalledKeg struct {
	Name       string
	VersionStr string
	KegPath    string
}

// Registry inspects a prefix's Cellar.
type Registry struct {
	cfg *config.Config
}

// New creates a Registry rooted at cfg.Cellar.
func New(cfg *config.Config) *Registry {
	return &Registry{cfg: cfg}
}

// GetOptPath is a pure string derivation; it does not check existence.
func (r *Registry) GetOptPath(name string) string {
	return filepath.Join(r.cfg.Prefix, "opt", name)
}

// GetCellarPath is a pure string derivation for <cellar>/<name>.
func (r *Registry) GetCellarPath(name string) string {
	return filepath.Join(r.cfg.Cellar, name)
}

// ListInstalledKegs enumerates every installed version of every formula
// under the Cellar.
func (r *Registry) ListInstalledKegs() ([]InstalledKeg, error) {
	entries, err := os.ReadDir(r.cfg.Cellar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var kegs []InstalledKeg
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		versions, err := r.listVersions(entry.Name())
		if err != nil {
			continue
		}
		kegs = append(kegs, versions...)
	}
	return kegs, nil
}

func (r *Registry) listVersions(name string) ([]InstalledKeg, error) {
	dir := r.GetCellarPath(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []InstalledKeg
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		out = append(out, InstalledKeg{
			Name:       name,
			VersionStr: e.Name(),
			KegPath:    filepath.Join(dir, e.Name()),
		})
	}
	return out, nil
}

// GetInstalledKeg returns the keg for name, or nil if none is installed.
// When multiple version directories exist, this returns the
// lexicographically greatest — a documented approximation (spec §4.2,
// §9): it is wrong for version strings like "10.0.0" vs. "9.0.0".
// Callers that care (the upgrade path) must use LatestBySemver instead.
func (r *Registry) GetInstalledKeg(name string) (*InstalledKeg, error) {
	versions, err := r.listVersions(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionStr < versions[j].VersionStr
	})
	latest := versions[len(versions)-1]
	return &latest, nil
}

// LatestBySemver resolves the open question in spec §9 for callers (the
// upgrade path) that need correct numeric version ordering rather than
// the lexicographic approximation GetInstalledKeg uses. Versions that
// fail to parse as semver are sorted last, in their original relative
// order, so a malformed directory name never wins.
func (r *Registry) LatestBySemver(name string) (*InstalledKeg, error) {
	versions, err := r.listVersions(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}

	type parsed struct {
		keg InstalledKeg
		ver *semver.Version
	}
	ps := make([]parsed, len(versions))
	for i, v := range versions {
		sv, err := semver.NewVersion(v.VersionStr)
		if err != nil {
			sv = nil
		}
		ps[i] = parsed{keg: v, ver: sv}
	}
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].ver == nil && ps[j].ver == nil {
			return false
		}
		if ps[i].ver == nil {
			return false
		}
		if ps[j].ver == nil {
			return true
		}
		return ps[i].ver.LessThan(ps[j].ver)
	})
	latest := ps[len(ps)-1].keg
	for i := len(ps) - 1; i >= 0; i-- {
		if ps[i].ver != nil {
			latest = ps[i].keg
			break
		}
	}
	return &latest, nil
}

// IsInstalled reports whether any version of name is installed.
func (r *Registry) IsInstalled(name string) (bool, error) {
	k, err := r.GetInstalledKeg(name)
	if err != nil {
		return false, err
	}
	return k != nil, nil
}
