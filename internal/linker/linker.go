// Package linker symlinks/wraps a keg's artifacts into the shared
// prefix and records every path it created so the uninstaller can
// reverse it exactly: the full lib/include/share symlinking, plus
// POSIX wrapper scripts and a JSON link manifest for each linked
// formula.
package linker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sps-pm/sps/internal/config"
	"github.com/sps-pm/sps/internal/errors"
)

// wrapperDirs get generated wrapper scripts rather than plain symlinks,
// because interpreted-language kegs need PERL5LIB/PYTHONPATH set up
// before exec.
var wrapperDirs = []string{"bin", "libexec"}

// symlinkDirs get a plain per-entry symlink into the matching prefix
// subdirectory.
var symlinkDirs = []string{"lib", "include", "share"}

// standardSubdirNames are never treated as an extra wrapping folder
// when determining a keg's content root.
var standardSubdirNames = map[string]bool{
	"bin": true, "lib": true, "share": true, "include": true,
	"etc": true, "Frameworks": true, "libexec": true, "sbin": true,
}

// Linker links one keg's content into the prefix.
type Linker struct {
	cfg *config.Config
}

// New creates a Linker bound to cfg's prefix paths.
func New(cfg *config.Config) *Linker {
	return &Linker{cfg: cfg}
}

// LinkFormula determines kegPath's content root, creates the opt link
// (and an unversioned alias for @-versioned names), symlinks
// lib/include/share entries into the prefix, generates bin/libexec
// wrapper scripts, and writes <keg>/INSTALL_MANIFEST.json listing
// every path it created.
func (l *Linker) LinkFormula(name, kegPath string) ([]string, error) {
	contentRoot, err := contentRoot(kegPath)
	if err != nil {
		return nil, errors.New(errors.InstallError, "link", err)
	}

	var links []string

	optLink := filepath.Join(l.cfg.Prefix, "opt", name)
	if err := l.replaceSymlink(optLink, contentRoot); err != nil {
		return nil, errors.New(errors.InstallError, "link", err)
	}
	links = append(links, optLink)

	if base, ok := unversionedAlias(name); ok {
		aliasLink := filepath.Join(l.cfg.Prefix, "opt", base)
		if !exists(aliasLink) {
			if err := l.replaceSymlink(aliasLink, contentRoot); err != nil {
				return nil, errors.New(errors.InstallError, "link", err)
			}
			links = append(links, aliasLink)
		}
	}

	for _, dir := range symlinkDirs {
		created, err := l.linkDirEntries(contentRoot, dir)
		if err != nil {
			return nil, errors.New(errors.InstallError, "link", err)
		}
		links = append(links, created...)
	}

	for _, dir := range wrapperDirs {
		created, err := l.wrapDirEntries(contentRoot, dir)
		if err != nil {
			return nil, errors.New(errors.InstallError, "link", err)
		}
		links = append(links, created...)
	}

	if err := writeManifest(kegPath, links); err != nil {
		return nil, errors.New(errors.ManifestError, "link", err)
	}

	return links, nil
}

// contentRoot returns kegPath itself, unless the extracted tree
// contains exactly one non-standard subdirectory that wraps everything
// else (some tarballs nest "<name>-<version>/" a second time).
func contentRoot(kegPath string) (string, error) {
	entries, err := os.ReadDir(kegPath)
	if err != nil {
		return "", err
	}
	var nonStandard []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() {
			return kegPath, nil
		}
		if standardSubdirNames[e.Name()] || strings.HasPrefix(e.Name(), ".") {
			return kegPath, nil
		}
		nonStandard = append(nonStandard, e)
	}
	if len(nonStandard) == 1 {
		return filepath.Join(kegPath, nonStandard[0].Name()), nil
	}
	return kegPath, nil
}

// unversionedAlias returns the base name when name contains "@<version>"
// (e.g. "python@3.12" -> "python").
func unversionedAlias(name string) (string, bool) {
	idx := strings.Index(name, "@")
	if idx <= 0 {
		return "", false
	}
	return name[:idx], true
}

func (l *Linker) linkDirEntries(contentRoot, subdir string) ([]string, error) {
	src := filepath.Join(contentRoot, subdir)
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	dstDir := filepath.Join(l.cfg.Prefix, subdir)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, err
	}

	var created []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		target := filepath.Join(src, e.Name())
		link := filepath.Join(dstDir, e.Name())
		if err := l.replaceSymlink(link, target); err != nil {
			return nil, err
		}
		created = append(created, link)
	}
	return created, nil
}

func (l *Linker) wrapDirEntries(contentRoot, subdir string) ([]string, error) {
	src := filepath.Join(contentRoot, subdir)
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	dstDir := filepath.Join(l.cfg.Prefix, subdir)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, err
	}

	var created []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		target := filepath.Join(src, e.Name())
		wrapperPath := filepath.Join(dstDir, e.Name())
		if err := l.writeWrapper(wrapperPath, target, contentRoot); err != nil {
			return nil, err
		}
		created = append(created, wrapperPath)
	}
	return created, nil
}

// writeWrapper generates a POSIX wrapper script rather than a plain
// symlink: a bare symlink would not set up PERL5LIB/PYTHONPATH search
// paths that interpreted-language kegs need.
func (l *Linker) writeWrapper(wrapperPath, target, contentRoot string) error {
	_ = os.Remove(wrapperPath)

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -e\n")

	perlLib := filepath.Join(contentRoot, "lib", "perl5")
	if exists(perlLib) {
		fmt.Fprintf(&b, "export PERL5LIB=%q${PERL5LIB:+:$PERL5LIB}\n", perlLib)
	}
	pyLib := filepath.Join(contentRoot, "lib", "python")
	if exists(pyLib) {
		fmt.Fprintf(&b, "export PYTHONPATH=%q${PYTHONPATH:+:$PYTHONPATH}\n", pyLib)
	}

	fmt.Fprintf(&b, "exec %q \"$@\"\n", target)

	if err := os.WriteFile(wrapperPath, []byte(b.String()), 0755); err != nil {
		return err
	}
	return os.Chmod(wrapperPath, 0755)
}

func (l *Linker) replaceSymlink(link, target string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return err
	}
	_ = os.Remove(link)
	return os.Symlink(target, link)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func writeManifest(kegPath string, links []string) error {
	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(kegPath, "INSTALL_MANIFEST.json"), data, 0644)
}

// ReadManifest loads <kegPath>/INSTALL_MANIFEST.json.
func ReadManifest(kegPath string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(kegPath, "INSTALL_MANIFEST.json"))
	if err != nil {
		return nil, err
	}
	var links []string
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// managedRoots is the set of prefix subtrees unlink is willing to touch,
// the safety boundary spec §4.5 requires: the manifest is not trusted
// absolutely.
func (l *Linker) managedRoots() []string {
	return []string{
		filepath.Join(l.cfg.Prefix, "bin"),
		filepath.Join(l.cfg.Prefix, "sbin"),
		filepath.Join(l.cfg.Prefix, "lib"),
		filepath.Join(l.cfg.Prefix, "include"),
		filepath.Join(l.cfg.Prefix, "share"),
		filepath.Join(l.cfg.Prefix, "libexec"),
		filepath.Join(l.cfg.Prefix, "opt"),
	}
}

// UnlinkFormula loads <kegPath>/INSTALL_MANIFEST.json and removes every
// listed path that lies within a managed prefix subtree. Paths outside
// the expected roots are skipped, not trusted, and reported back to the
// caller for logging. A missing or corrupt manifest is not an error —
// the caller proceeds to remove the keg directory regardless.
func (l *Linker) UnlinkFormula(kegPath string) (removed []string, skipped []string, err error) {
	links, rerr := ReadManifest(kegPath)
	if rerr != nil {
		return nil, nil, nil
	}

	roots := l.managedRoots()
	for _, link := range links {
		if !withinAny(link, roots) {
			skipped = append(skipped, link)
			continue
		}
		if rmErr := os.Remove(link); rmErr != nil && !os.IsNotExist(rmErr) {
			return removed, skipped, errors.New(errors.InstallError, "unlink", rmErr)
		}
		removed = append(removed, link)
	}
	return removed, skipped, nil
}

func withinAny(path string, roots []string) bool {
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return false
	}
	for _, root := range roots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
