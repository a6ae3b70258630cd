// Package bottle installs a pre-built bottle tarball into the Cellar,
// generalizing the teacher's installFromBottle
// (internal/installer/installer.go) which extracted with no
// strip-components and never rewrote the hardcoded Homebrew prefix
// baked into bottle binaries. This package extracts with
// strip_components=2 (bottles contain "<name>/<version>/…"), relocates
// every regular file with the Mach-O engine, links via internal/linker,
// and writes an INSTALL_RECEIPT.json.
package bottle

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sps-pm/sps/internal/archive"
	"github.com/sps-pm/sps/internal/config"
	"github.com/sps-pm/sps/internal/errors"
	"github.com/sps-pm/sps/internal/formula"
	"github.com/sps-pm/sps/internal/linker"
	"github.com/sps-pm/sps/internal/logger"
	"github.com/sps-pm/sps/internal/macho"
)

// InstallReceipt is the small metadata file spec §4.6 step 5 requires,
// written to <keg>/INSTALL_RECEIPT.json.
type InstallReceipt struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Tap           string    `json:"tap,omitempty"`
	InstalledFrom string    `json:"installed_from"`
	InstalledAt   time.Time `json:"installed_at"`
	BuildDeps     []string  `json:"build_dependencies,omitempty"`
	RuntimeDeps   []string  `json:"runtime_dependencies,omitempty"`
}

// Installer extracts bottles and wires them into the prefix.
type Installer struct {
	cfg    *config.Config
	linker *linker.Linker
}

// New creates a bottle Installer bound to cfg.
func New(cfg *config.Config) *Installer {
	return &Installer{cfg: cfg, linker: linker.New(cfg)}
}

// Install extracts bottleTarballPath for f into its keg directory,
// relocates every regular file's embedded paths, links it into the
// prefix, and writes the install receipt. It returns the keg path.
func (inst *Installer) Install(bottleTarballPath string, f *formula.Formula) (string, error) {
	kegPath := f.GetCellarPath(inst.cfg.Cellar)
	if err := os.MkdirAll(kegPath, 0755); err != nil {
		return "", errors.New(errors.InstallError, "bottle", err)
	}

	if err := archive.Extract(bottleTarballPath, kegPath, archive.Options{StripComponents: 2}); err != nil {
		return "", errors.New(errors.ExtractionError, "bottle", err)
	}

	if err := inst.relocate(kegPath); err != nil {
		return "", errors.New(errors.RelocationError, "bottle", err)
	}

	if _, err := inst.linker.LinkFormula(f.Name, kegPath); err != nil {
		return "", err
	}

	if err := writeReceipt(kegPath, f); err != nil {
		return "", errors.New(errors.ManifestError, "bottle", err)
	}

	return kegPath, nil
}

// placeholders maps the tokens bottles are built with to their
// real, locally-resolved values. Homebrew-built bottles bake in
// "/opt/homebrew" (arm64) or "/usr/local" (intel) as well as the
// literal "@@HOMEBREW_PREFIX@@"/"@@HOMEBREW_CELLAR@@" placeholder
// forms; sps's own from-source builds use the same placeholder
// convention so the Mach-O relocator logic is shared between both
// install paths.
func (inst *Installer) placeholders() map[string]string {
	return map[string]string{
		"@@HOMEBREW_PREFIX@@": inst.cfg.Prefix,
		"@@HOMEBREW_CELLAR@@": inst.cfg.Cellar,
		"/opt/homebrew":       inst.cfg.Prefix,
		"/usr/local/Cellar":   inst.cfg.Cellar,
	}
}

// relocate walks the extracted keg tree and attempts a Mach-O patch on
// every regular file; non-Mach-O and non-archive files are silently
// left alone by PatchMachOFile (modified=false, err=nil).
func (inst *Installer) relocate(kegPath string) error {
	replacements := inst.placeholders()
	return filepath.WalkDir(kegPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		modified, perr := macho.PatchMachOFile(path, replacements)
		if perr != nil {
			return perr
		}
		if modified {
			logger.Debug("relocated %s", path)
		}
		return nil
	})
}

func writeReceipt(kegPath string, f *formula.Formula) error {
	receipt := InstallReceipt{
		Name:          f.Name,
		Version:       f.FullVersionString(),
		Tap:           f.Tap,
		InstalledFrom: "bottle",
		InstalledAt:   time.Now().UTC(),
		BuildDeps:     f.BuildDependencies,
		RuntimeDeps:   f.Dependencies,
	}
	data, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(kegPath, "INSTALL_RECEIPT.json"), data, 0644)
}
