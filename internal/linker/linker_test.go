package linker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sps-pm/sps/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	prefix := t.TempDir()
	cfg := &config.Config{Prefix: prefix, Cellar: filepath.Join(prefix, "Cellar")}
	return cfg
}

func buildKeg(t *testing.T, cellar, name, version string) string {
	t.Helper()
	kegPath := filepath.Join(cellar, name, version)
	for _, dir := range []string{"bin", "lib", "include", "share"} {
		if err := os.MkdirAll(filepath.Join(kegPath, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(kegPath, "bin", "mytool"), []byte("#!/bin/sh\necho hi\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(kegPath, "lib", "libfoo.dylib"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	return kegPath
}

func TestLinkFormula_CreatesOptLinkAndWrapper(t *testing.T) {
	cfg := testConfig(t)
	kegPath := buildKeg(t, cfg.Cellar, "mytool", "1.0")

	l := New(cfg)
	links, err := l.LinkFormula("mytool", kegPath)
	if err != nil {
		t.Fatalf("LinkFormula: %v", err)
	}
	if len(links) == 0 {
		t.Fatal("expected at least one created link")
	}

	optLink := filepath.Join(cfg.Prefix, "opt", "mytool")
	target, err := os.Readlink(optLink)
	if err != nil {
		t.Fatalf("opt link missing: %v", err)
	}
	if target != kegPath {
		t.Errorf("opt link target = %s, want %s", target, kegPath)
	}

	wrapper := filepath.Join(cfg.Prefix, "bin", "mytool")
	info, err := os.Stat(wrapper)
	if err != nil {
		t.Fatalf("wrapper not created: %v", err)
	}
	if info.Mode().Perm()&0111 == 0 {
		t.Error("wrapper must be executable")
	}

	libLink := filepath.Join(cfg.Prefix, "lib", "libfoo.dylib")
	if _, err := os.Lstat(libLink); err != nil {
		t.Errorf("lib entry not symlinked: %v", err)
	}

	manifestPath := filepath.Join(kegPath, "INSTALL_MANIFEST.json")
	if _, err := os.Stat(manifestPath); err != nil {
		t.Errorf("manifest not written: %v", err)
	}
}

func TestLinkFormula_VersionedNameGetsUnversionedAlias(t *testing.T) {
	cfg := testConfig(t)
	kegPath := buildKeg(t, cfg.Cellar, "python@3.12", "3.12.0")

	l := New(cfg)
	if _, err := l.LinkFormula("python@3.12", kegPath); err != nil {
		t.Fatalf("LinkFormula: %v", err)
	}

	alias := filepath.Join(cfg.Prefix, "opt", "python")
	if _, err := os.Lstat(alias); err != nil {
		t.Errorf("unversioned alias not created: %v", err)
	}
}

func TestUnlinkFormula_RemovesOnlyManagedPaths(t *testing.T) {
	cfg := testConfig(t)
	kegPath := buildKeg(t, cfg.Cellar, "mytool", "1.0")

	l := New(cfg)
	if _, err := l.LinkFormula("mytool", kegPath); err != nil {
		t.Fatalf("LinkFormula: %v", err)
	}

	removed, skipped, err := l.UnlinkFormula(kegPath)
	if err != nil {
		t.Fatalf("UnlinkFormula: %v", err)
	}
	if len(removed) == 0 {
		t.Fatal("expected removed paths")
	}
	if len(skipped) != 0 {
		t.Errorf("expected no skipped paths, got %v", skipped)
	}

	if _, err := os.Lstat(filepath.Join(cfg.Prefix, "opt", "mytool")); !os.IsNotExist(err) {
		t.Error("opt link should have been removed")
	}
}

func TestUnlinkFormula_MissingManifestIsNotAnError(t *testing.T) {
	cfg := testConfig(t)
	kegPath := buildKeg(t, cfg.Cellar, "mytool", "1.0")

	l := New(cfg)
	removed, skipped, err := l.UnlinkFormula(kegPath)
	if err != nil {
		t.Fatalf("missing manifest should not error: %v", err)
	}
	if len(removed) != 0 || len(skipped) != 0 {
		t.Errorf("expected no-op, got removed=%v skipped=%v", removed, skipped)
	}
}
