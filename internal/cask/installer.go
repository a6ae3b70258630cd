// Package cask installs and uninstalls GUI applications distributed
// as Homebrew-style casks: DMG/ZIP/PKG containers holding typed
// artifact stanzas (app bundles, binaries, launchd agents, …).
//
// This generalizes the teacher's cask installer, which only ever
// copied an app bundle straight into /Applications and removed
// quarantine rather than setting it. Every install now stages through
// the private CaskStore, sets com.apple.quarantine on both copies,
// dispatches the full artifact-stanza table, and records a
// CaskInstallManifest so the uninstaller can reverse exactly what was
// done instead of re-deriving default paths from the cask definition.
package cask

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sps-pm/sps/internal/archive"
	"github.com/sps-pm/sps/internal/config"
	"github.com/sps-pm/sps/internal/errors"
	"github.com/sps-pm/sps/internal/logger"
	"github.com/sps-pm/sps/internal/verification"
)

// quarantineAttr is the extended attribute Gatekeeper inspects before
// allowing a first launch. Its value format mirrors what macOS itself
// writes: flags;timestamp;agent;uuid. Only the flags field governs
// behavior (0083 = user approved, quarantine flag set); the rest is
// informational.
const quarantineAttr = "com.apple.quarantine"

// Installer handles installation and uninstallation of casks.
type Installer struct {
	config   *config.Config
	verifier *verification.PackageVerifier
}

// CaskInstallOptions contains options for cask install/uninstall.
type CaskInstallOptions struct {
	Force              bool
	RequireSHA         bool
	SkipCaskDeps       bool
	Verbose            bool
	DryRun             bool
	NoQuarantine       bool
	AdoptOrphanedCasks bool
	// Zap requests deep-clean removal (the `zap` stanza's targets) in
	// addition to the default uninstall. Ignored by InstallCask.
	Zap bool
}

// CaskInstallResult contains the result of a cask installation.
type CaskInstallResult struct {
	Name      string
	Version   string
	Token     string
	Success   bool
	Error     error
	Artifacts []InstalledArtifact
	Caveats   string
}

// NewCaskInstaller creates a new cask installer.
func NewCaskInstaller(cfg *config.Config) *Installer {
	return &Installer{
		config:   cfg,
		verifier: verification.NewPackageVerifier(false), // Non-strict for casks
	}
}

// InstallCask downloads, extracts, and installs a cask's artifacts,
// then writes CASK_INSTALL_MANIFEST.json recording everything it did.
func (ci *Installer) InstallCask(cask *Cask, opts *CaskInstallOptions) (*CaskInstallResult, error) {
	result := &CaskInstallResult{
		Name:    cask.Name,
		Version: cask.Version,
		Token:   cask.Token,
	}

	logger.PrintHeader(fmt.Sprintf("Installing Cask: %s", cask.Token))

	if err := cask.Validate(); err != nil {
		result.Error = fmt.Errorf("invalid cask: %w", err)
		return result, result.Error
	}

	if !cask.IsCompatibleWithPlatform() {
		result.Error = fmt.Errorf("cask %s is not compatible with this platform", cask.Token)
		return result, result.Error
	}

	if cask.IsInstalled() && !opts.Force {
		logger.Info("Cask %s is already installed", cask.Token)
		result.Success = true
		return result, nil
	}

	if opts.DryRun {
		logger.Info("Dry run: would install cask %s", cask.Token)
		result.Success = true
		return result, nil
	}

	downloadPath, err := ci.downloadCask(cask)
	if err != nil {
		result.Error = fmt.Errorf("failed to download cask: %w", err)
		return result, result.Error
	}

	if cask.Sha256 != "" && opts.RequireSHA {
		logger.Debug("Verifying cask checksum")
		if err := ci.verifier.VerifySource(downloadPath, cask.Sha256, 0); err != nil {
			result.Error = fmt.Errorf("cask verification failed: %w", err)
			return result, result.Error
		}
	}

	extractedPath, cleanup, err := ci.stageContainer(cask, downloadPath)
	if err != nil {
		result.Error = fmt.Errorf("failed to stage cask container: %w", err)
		return result, result.Error
	}
	defer cleanup()

	artifacts, err := ci.installArtifacts(cask, extractedPath, opts)
	result.Artifacts = artifacts
	if err != nil {
		result.Error = fmt.Errorf("failed to install artifacts: %w", err)
		return result, result.Error
	}

	if cask.GetCaveats() != "" {
		result.Caveats = cask.GetCaveats()
		logger.Info("Caveats for %s:", cask.Token)
		logger.Info(cask.GetCaveats())
	}

	if err := writeManifest(ci.config.Caskroom, cask.Token, cask.Version, artifacts, time.Now().Unix()); err != nil {
		logger.Warn("Failed to write install manifest: %v", err)
	}

	result.Success = true
	logger.Success("Successfully installed cask %s", cask.Token)
	return result, nil
}

// downloadCask downloads the cask container to the cache, keyed by
// cask-<token>-<filename> per spec §4.8 step 1.
func (ci *Installer) downloadCask(cask *Cask) (string, error) {
	url := cask.GetDownloadURL()
	if url == "" {
		return "", fmt.Errorf("no download URL available")
	}

	cacheDir := filepath.Join(ci.config.Cache, "cask")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", errors.NewPermissionError("create cache directory", err)
	}

	downloadPath := filepath.Join(cacheDir, fmt.Sprintf("cask-%s-%s", cask.Token, cask.GetCacheFileName()))

	if _, err := os.Stat(downloadPath); err == nil {
		logger.Debug("Using cached download: %s", downloadPath)
		return downloadPath, nil
	}

	logger.Step("Downloading %s", filepath.Base(downloadPath))
	tmp := downloadPath + ".download_tmp"
	if err := ci.downloadFile(url, tmp); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, downloadPath); err != nil {
		return "", errors.NewDownloadError("download", url, err)
	}
	return downloadPath, nil
}

func (ci *Installer) downloadFile(url, path string) error {
	cmd := exec.Command("curl", "-fL", "-o", path, url)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.NewDownloadError("download", url, fmt.Errorf("curl failed: %s", string(output)))
	}
	return nil
}

// containerKind is the result of sniffing a downloaded file's magic
// bytes, per spec §4.8 step 2 ("by magic bytes, not extension").
type containerKind int

const (
	containerUnknown containerKind = iota
	containerPkg
	containerZip
	containerTarGz
	containerTarBz2
	containerTarXz
	containerDMG
)

// detectContainer sniffs the first bytes of path. DMG images (UDIF)
// carry no fixed leading magic — their "koly" trailer sits at the end
// of the file — so DMG is the fallback once every other signature has
// been ruled out, same as the cache filename extension would suggest.
func detectContainer(path string) (containerKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return containerUnknown, err
	}
	defer f.Close()

	var head [8]byte
	n, _ := f.Read(head[:])
	b := head[:n]

	switch {
	case len(b) >= 4 && string(b[:4]) == "xar!":
		return containerPkg, nil
	case len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 0x03 && b[3] == 0x04:
		return containerZip, nil
	case len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b:
		return containerTarGz, nil
	case len(b) >= 3 && string(b[:3]) == "BZh":
		return containerTarBz2, nil
	case len(b) >= 6 && b[0] == 0xfd && string(b[1:6]) == "7zXZ\x00":
		return containerTarXz, nil
	default:
		return containerDMG, nil
	}
}

// stageContainer handles the downloaded container per spec §4.8 step
// 3, returning a directory holding the extracted/staged contents and a
// cleanup func the caller must defer.
func (ci *Installer) stageContainer(cask *Cask, downloadPath string) (string, func(), error) {
	kind, err := detectContainer(downloadPath)
	if err != nil {
		return "", func() {}, err
	}

	noop := func() {}

	if kind == containerPkg {
		// PKG is installed directly by the system installer; no staging
		// directory is needed, the artifact handler runs the file as-is.
		return downloadPath, noop, nil
	}

	stageDir, err := os.MkdirTemp(ci.config.Tmp, "cask-"+cask.Token+"-")
	if err != nil {
		return "", noop, errors.NewExtractionError(downloadPath, err)
	}
	cleanup := func() { _ = os.RemoveAll(stageDir) }

	switch kind {
	case containerZip:
		logger.Step("Extracting ZIP")
		if err := archive.ExtractFormat(archive.FormatZip, downloadPath, stageDir, archive.Options{}); err != nil {
			cleanup()
			return "", noop, errors.NewExtractionError(downloadPath, err)
		}
		return stageDir, cleanup, nil
	case containerTarGz:
		logger.Step("Extracting tar.gz")
		if err := archive.ExtractFormat(archive.FormatTarGz, downloadPath, stageDir, archive.Options{}); err != nil {
			cleanup()
			return "", noop, errors.NewExtractionError(downloadPath, err)
		}
		return stageDir, cleanup, nil
	case containerTarBz2:
		logger.Step("Extracting tar.bz2")
		if err := archive.ExtractFormat(archive.FormatTarBz2, downloadPath, stageDir, archive.Options{}); err != nil {
			cleanup()
			return "", noop, errors.NewExtractionError(downloadPath, err)
		}
		return stageDir, cleanup, nil
	case containerTarXz:
		logger.Step("Extracting tar.xz")
		if err := archive.ExtractFormat(archive.FormatTarXz, downloadPath, stageDir, archive.Options{}); err != nil {
			cleanup()
			return "", noop, errors.NewExtractionError(downloadPath, err)
		}
		return stageDir, cleanup, nil
	case containerDMG:
		return ci.stageDMG(downloadPath, stageDir, cleanup)
	default:
		cleanup()
		return "", noop, errors.NewExtractionError(downloadPath, fmt.Errorf("unrecognized cask container format"))
	}
}

// stageDMG attaches dmgPath, copies its contents into stageDir, and
// detaches — never installing directly from the mounted volume, per
// spec §4.8 step 3.
func (ci *Installer) stageDMG(dmgPath, stageDir string, cleanup func()) (string, func(), error) {
	logger.Step("Mounting DMG")

	mountPoint, err := os.MkdirTemp(ci.config.Tmp, "cask-mount-")
	if err != nil {
		cleanup()
		return "", func() {}, errors.NewExtractionError(dmgPath, err)
	}
	defer os.RemoveAll(mountPoint)

	attach := exec.Command("hdiutil", "attach", "-quiet", "-nobrowse", "-mountpoint", mountPoint, dmgPath)
	if out, err := attach.CombinedOutput(); err != nil {
		cleanup()
		return "", func() {}, errors.NewExtractionError(dmgPath, fmt.Errorf("hdiutil attach: %s", string(out)))
	}

	copyErr := copyTree(mountPoint, stageDir)

	detach := exec.Command("hdiutil", "detach", "-quiet", mountPoint)
	if out, err := detach.CombinedOutput(); err != nil {
		logger.Warn("hdiutil detach failed: %s", string(out))
	}

	if copyErr != nil {
		cleanup()
		return "", func() {}, errors.NewExtractionError(dmgPath, copyErr)
	}
	return stageDir, cleanup, nil
}

func copyTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := exec.Command("cp", "-R", filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())).Run(); err != nil {
			return fmt.Errorf("copy %s: %w", e.Name(), err)
		}
	}
	return nil
}

// installArtifacts dispatches every declared stanza to its handler,
// per the table in spec §4.8 step 4, and collects the InstalledArtifact
// each handler produces.
func (ci *Installer) installArtifacts(cask *Cask, sourcePath string, opts *CaskInstallOptions) ([]InstalledArtifact, error) {
	if len(cask.Artifacts) == 0 {
		return nil, fmt.Errorf("no artifacts to install")
	}
	a := cask.Artifacts[0]
	var installed []InstalledArtifact

	for _, app := range a.App {
		produced, err := ci.installApp(cask, app, sourcePath, opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install app %s: %w", app.Source, err)
		}
		installed = append(installed, produced...)
	}

	for _, binary := range a.Binary {
		produced, err := ci.installBinary(binary, sourcePath, opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install binary %s: %w", binary.Source, err)
		}
		installed = append(installed, produced)
	}

	for _, pkg := range a.Pkg {
		produced, err := ci.installPkg(pkg, sourcePath, opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install pkg %s: %w", pkg, err)
		}
		installed = append(installed, produced...)
	}

	for _, man := range a.Manpage {
		produced, err := ci.installManpage(man, sourcePath, opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install manpage %s: %w", man, err)
		}
		installed = append(installed, produced)
	}

	for _, plist := range a.Service {
		produced, err := ci.installLaunchd(plist, sourcePath, opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install service %s: %w", plist, err)
		}
		installed = append(installed, produced)
	}

	for _, suite := range a.Suite {
		produced, err := ci.installWellKnown(suite.Source, suite.Target, sourcePath, "/Applications", opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install suite %s: %w", suite.Source, err)
		}
		installed = append(installed, produced)
	}

	for _, p := range a.Prefpane {
		produced, err := ci.installWellKnown(p, "", sourcePath, homeLibrary("PreferencePanes"), opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install prefpane %s: %w", p, err)
		}
		installed = append(installed, produced)
	}

	for _, p := range a.Qlplugin {
		produced, err := ci.installWellKnown(p, "", sourcePath, homeLibrary("QuickLook"), opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install qlplugin %s: %w", p, err)
		}
		installed = append(installed, produced)
	}

	for _, p := range a.Mdimporter {
		produced, err := ci.installWellKnown(p, "", sourcePath, homeLibrary("Spotlight"), opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install mdimporter %s: %w", p, err)
		}
		installed = append(installed, produced)
	}

	for _, p := range a.Font {
		produced, err := ci.installWellKnown(p, "", sourcePath, homeLibrary("Fonts"), opts)
		if err != nil {
			return installed, fmt.Errorf("failed to install font %s: %w", p, err)
		}
		installed = append(installed, produced)
	}

	for _, installer := range a.Installer {
		if err := ci.runInstaller(installer, sourcePath, opts); err != nil {
			return installed, fmt.Errorf("failed to run installer: %w", err)
		}
	}

	// zap is declarative only: its targets are recorded for replay by
	// the uninstaller, nothing is installed for them now. preflight and
	// uninstall stanzas are not recorded.
	for _, z := range a.Zap {
		installed = append(installed, zapTargets(z)...)
	}

	return installed, nil
}

func homeLibrary(subdir string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/Library"
		return filepath.Join(home, subdir)
	}
	return filepath.Join(home, "Library", subdir)
}

// installApp stages app.Source through the private CaskStore, copies
// it to /Applications, sets quarantine on both copies by default (spec
// §4.8 step 5), and symlinks a Caskroom reference to the /Applications copy.
func (ci *Installer) installApp(cask *Cask, app CaskApp, sourcePath string, opts *CaskInstallOptions) ([]InstalledArtifact, error) {
	src := filepath.Join(sourcePath, app.Source)

	target := app.Target
	if target == "" {
		target = filepath.Base(app.Source)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join("/Applications", target)
	}

	logger.Step("Installing app: %s → %s", app.Source, target)

	if opts.DryRun {
		return nil, nil
	}

	storeDir := filepath.Join(ci.config.CaskStore, cask.Token, cask.Version)
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, err
	}
	storeCopy := filepath.Join(storeDir, filepath.Base(app.Source))
	_ = os.RemoveAll(storeCopy)
	if err := exec.Command("cp", "-R", src, storeCopy).Run(); err != nil {
		return nil, fmt.Errorf("failed to stage application: %w", err)
	}
	ci.setQuarantine(storeCopy, opts)

	if _, err := os.Stat(target); err == nil && !opts.Force {
		return nil, fmt.Errorf("application already exists at %s", target)
	}
	_ = os.RemoveAll(target)
	if err := exec.Command("cp", "-R", storeCopy, target).Run(); err != nil {
		return nil, fmt.Errorf("failed to copy application: %w", err)
	}
	ci.setQuarantine(target, opts)

	link := filepath.Join(ci.config.Caskroom, cask.Token, cask.Version, filepath.Base(target))
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return nil, err
	}
	_ = os.Remove(link)
	_ = os.Symlink(target, link)

	return []InstalledArtifact{
		{Type: ArtifactAppBundle, Path: target},
		{Type: ArtifactCaskroomLink, LinkPath: link, TargetPath: target},
	}, nil
}

// setQuarantine sets com.apple.quarantine on path unless the caller
// opted out with --no-quarantine. Absence of the attribute causes
// Gatekeeper to silently refuse to launch the app on modern macOS, so
// setting it (not clearing it) is the default.
func (ci *Installer) setQuarantine(path string, opts *CaskInstallOptions) {
	if runtime.GOOS != "darwin" {
		return
	}
	if opts.NoQuarantine {
		_ = unix.Removexattr(path, quarantineAttr)
		return
	}
	value := fmt.Sprintf("0083;%x;sps;", time.Now().Unix())
	if err := unix.Setxattr(path, quarantineAttr, []byte(value), 0); err != nil {
		logger.Debug("failed to set quarantine attribute on %s: %v", path, err)
	}
}

// installBinary symlinks binary.Source into <prefix>/bin, the private
// install location this tool uses instead of the real Homebrew prefix.
func (ci *Installer) installBinary(binary CaskBinary, sourcePath string, opts *CaskInstallOptions) (InstalledArtifact, error) {
	src := filepath.Join(sourcePath, binary.Source)

	name := binary.Target
	if name == "" {
		name = filepath.Base(binary.Source)
	}
	target := filepath.Join(ci.config.Prefix, "bin", name)

	logger.Step("Installing binary: %s → %s", binary.Source, target)

	if opts.DryRun {
		return InstalledArtifact{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return InstalledArtifact{}, err
	}
	_ = os.Remove(target)
	if err := os.Symlink(src, target); err != nil {
		return InstalledArtifact{}, fmt.Errorf("failed to create binary symlink: %w", err)
	}

	return InstalledArtifact{Type: ArtifactBinaryLink, LinkPath: target, TargetPath: src}, nil
}

// installManpage symlinks a manpage into <prefix>/share/man/manN,
// taking the section from its file extension (man1 when it has none).
func (ci *Installer) installManpage(rel string, sourcePath string, opts *CaskInstallOptions) (InstalledArtifact, error) {
	src := filepath.Join(sourcePath, rel)
	section := strings.TrimPrefix(filepath.Ext(rel), ".")
	if section == "" {
		section = "1"
	}
	target := filepath.Join(ci.config.Prefix, "share", "man", "man"+section, filepath.Base(rel))

	logger.Step("Installing manpage: %s → %s", rel, target)
	if opts.DryRun {
		return InstalledArtifact{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return InstalledArtifact{}, err
	}
	_ = os.Remove(target)
	if err := os.Symlink(src, target); err != nil {
		return InstalledArtifact{}, err
	}
	return InstalledArtifact{Type: ArtifactCaskroomLink, LinkPath: target, TargetPath: src}, nil
}

// installLaunchd copies plist into ~/Library/LaunchAgents and loads it
// with launchctl, recording the label for reverse uninstall.
func (ci *Installer) installLaunchd(rel string, sourcePath string, opts *CaskInstallOptions) (InstalledArtifact, error) {
	src := filepath.Join(sourcePath, rel)
	label := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	target := filepath.Join(homeLibrary("LaunchAgents"), filepath.Base(rel))

	logger.Step("Installing launchd service: %s", label)
	if opts.DryRun {
		return InstalledArtifact{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return InstalledArtifact{}, err
	}
	if err := exec.Command("cp", src, target).Run(); err != nil {
		return InstalledArtifact{}, fmt.Errorf("failed to copy launchd plist: %w", err)
	}
	if out, err := exec.Command("launchctl", "load", "-w", target).CombinedOutput(); err != nil {
		logger.Warn("launchctl load failed: %s", string(out))
	}

	return InstalledArtifact{Type: ArtifactLaunchd, Label: label, Path: target}, nil
}

// installWellKnown copies a single file/bundle into a known macOS
// location (suite/prefpane/qlplugin/mdimporter/font/…). Spec §4.8 only
// requires these be staged and recorded, not fully driven.
func (ci *Installer) installWellKnown(source, explicitTarget, sourcePath, destDir string, opts *CaskInstallOptions) (InstalledArtifact, error) {
	src := filepath.Join(sourcePath, source)
	name := explicitTarget
	if name == "" {
		name = filepath.Base(source)
	}
	target := filepath.Join(destDir, name)

	logger.Step("Installing %s → %s", source, target)
	if opts.DryRun {
		return InstalledArtifact{}, nil
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return InstalledArtifact{}, err
	}
	_ = os.RemoveAll(target)
	if err := exec.Command("cp", "-R", src, target).Run(); err != nil {
		return InstalledArtifact{}, fmt.Errorf("failed to stage %s: %w", source, err)
	}
	return InstalledArtifact{Type: ArtifactCaskroomLink, LinkPath: target, TargetPath: src}, nil
}

// installPkg runs the system installer against pkg, wrapped in sudo,
// and records a PkgUtilReceipt keyed by the pkg's basename (the real
// bundle identifier is only known by inspecting the xar's PackageInfo,
// which pkgutil --forget tolerates not finding).
func (ci *Installer) installPkg(pkg, sourcePath string, opts *CaskInstallOptions) ([]InstalledArtifact, error) {
	pkgPath := filepath.Join(sourcePath, pkg)

	logger.Step("Installing package: %s", pkg)
	if opts.DryRun {
		return nil, nil
	}

	if out, err := exec.Command("sudo", "installer", "-pkg", pkgPath, "-target", "/").CombinedOutput(); err != nil {
		return nil, fmt.Errorf("failed to install package: %s", string(out))
	}

	id := strings.TrimSuffix(filepath.Base(pkg), filepath.Ext(pkg))
	return []InstalledArtifact{{Type: ArtifactPkgUtilReceipt, ID: id}}, nil
}

// runInstaller handles the `installer` stanza. Script-based installers
// are logged but not driven: spec §9 allows partial handlers here as
// long as manual installers surface their instructions to the user.
func (ci *Installer) runInstaller(installer CaskInstaller, sourcePath string, opts *CaskInstallOptions) error {
	if installer.Manual != "" {
		logger.Info("Manual installation required: %s", installer.Manual)
		return nil
	}
	if installer.Script != nil {
		logger.Step("Running installer script")
		if opts.DryRun {
			return nil
		}
		logger.Warn("Script-based installers are not driven automatically; inspect %s manually", sourcePath)
	}
	return nil
}

// zapTargets converts a zap stanza's delete/trash/rmdir/pkgutil entries
// into ZapTarget artifacts, so --zap uninstall can replay them later
// without re-reading the cask definition.
func zapTargets(z CaskZap) []InstalledArtifact {
	var out []InstalledArtifact
	for _, p := range z.Delete {
		out = append(out, InstalledArtifact{Type: ArtifactZapTarget, Path: p, Action: "delete"})
	}
	for _, p := range z.Trash {
		out = append(out, InstalledArtifact{Type: ArtifactZapTarget, Path: p, Action: "trash"})
	}
	for _, p := range z.Rmdir {
		out = append(out, InstalledArtifact{Type: ArtifactZapTarget, Path: p, Action: "rmdir"})
	}
	for _, id := range z.Pkgutil {
		out = append(out, InstalledArtifact{Type: ArtifactZapTarget, Path: id, Action: "pkgutil"})
	}
	return out
}

// UninstallCask reads CASK_INSTALL_MANIFEST.json and reverses every
// InstalledArtifact in reverse order, per spec §4.9. A missing or
// corrupt manifest falls back to best-effort removal of the cask's
// declared default paths.
func (ci *Installer) UninstallCask(cask *Cask, opts *CaskInstallOptions) error {
	logger.PrintHeader(fmt.Sprintf("Uninstalling Cask: %s", cask.Token))

	if !cask.IsInstalled() && !opts.Force {
		return fmt.Errorf("cask %s is not installed", cask.Token)
	}

	manifest, err := ReadManifest(ci.config.Caskroom, cask.Token, cask.Version)
	if err != nil {
		logger.Warn("No usable install manifest for %s, falling back to default paths: %v", cask.Token, err)
		if rerr := ci.removeDefaultArtifacts(cask, opts); rerr != nil {
			return rerr
		}
		return removeManifestDir(ci.config.Caskroom, cask.Token, cask.Version)
	}

	ci.quitRunningApps(manifest.Artifacts)

	for i := len(manifest.Artifacts) - 1; i >= 0; i-- {
		a := manifest.Artifacts[i]
		if a.Type == ArtifactZapTarget && !opts.Zap {
			continue
		}
		if err := ci.reverseArtifact(a, opts); err != nil {
			logger.Warn("Failed to reverse %s: %v", a.Type, err)
		}
	}

	if err := removeManifestDir(ci.config.Caskroom, cask.Token, cask.Version); err != nil {
		return fmt.Errorf("failed to remove caskroom entry: %w", err)
	}
	logger.Success("Successfully uninstalled cask %s", cask.Token)
	return nil
}

func (ci *Installer) reverseArtifact(a InstalledArtifact, opts *CaskInstallOptions) error {
	switch a.Type {
	case ArtifactAppBundle:
		return ci.removePath(a.Path, opts)
	case ArtifactCaskroomLink, ArtifactBinaryLink:
		if err := ci.removePath(a.LinkPath, opts); err != nil {
			return err
		}
		return nil
	case ArtifactZapTarget:
		return ci.reverseZapTarget(a)
	case ArtifactPkgUtilReceipt:
		out, err := exec.Command("sudo", "pkgutil", "--forget", a.ID).CombinedOutput()
		if err != nil && !strings.Contains(string(out), "No receipt for") {
			return fmt.Errorf("pkgutil --forget %s: %s", a.ID, string(out))
		}
		return nil
	case ArtifactLaunchd:
		if out, err := exec.Command("sudo", "launchctl", "unload", "-w", a.Label).CombinedOutput(); err != nil {
			logger.Debug("launchctl unload %s: %s", a.Label, string(out))
		}
		if a.Path != "" {
			return ci.removePath(a.Path, opts)
		}
		return nil
	case ArtifactCaskroomReference:
		// informational only
		return nil
	default:
		return nil
	}
}

func (ci *Installer) reverseZapTarget(a InstalledArtifact) error {
	switch a.Action {
	case "pkgutil":
		out, err := exec.Command("sudo", "pkgutil", "--forget", a.Path).CombinedOutput()
		if err != nil && !strings.Contains(string(out), "No receipt for") {
			return fmt.Errorf("pkgutil --forget %s: %s", a.Path, string(out))
		}
		return nil
	default:
		return ci.removePath(a.Path, &CaskInstallOptions{})
	}
}

// removePath enforces path-safety (no "..", must be under a managed
// root, no wildcards) before removing, and escalates to sudo only when
// the path is under /Library or /Applications and a direct removal
// fails with permission-denied, per spec §4.9.
func (ci *Installer) removePath(path string, opts *CaskInstallOptions) error {
	if path == "" {
		return nil
	}
	if !pathAllowed(path, ci.config.Prefix) {
		return errors.NewValidationError("uninstall", fmt.Sprintf("refusing to remove unsafe path %q", path))
	}

	logger.Step("Removing: %s", path)
	if opts != nil && opts.DryRun {
		return nil
	}

	err := os.RemoveAll(path)
	if err == nil || !os.IsPermission(err) {
		return err
	}
	if strings.HasPrefix(path, "/Library/") || strings.HasPrefix(path, "/Applications/") {
		out, serr := exec.Command("sudo", "rm", "-rf", path).CombinedOutput()
		if serr != nil {
			return fmt.Errorf("sudo rm -rf %s: %s", path, string(out))
		}
		return nil
	}
	return err
}

// quitRunningApps attempts to gracefully quit any AppBundle artifact
// before removal, per spec §4.9's running-app handling: read the
// bundle's CFBundleIdentifier and ask it to quit via osascript, retrying
// with increasing backoff. Failure is logged but never fatal.
func (ci *Installer) quitRunningApps(artifacts []InstalledArtifact) {
	if runtime.GOOS != "darwin" {
		return
	}
	backoffs := []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}
	for _, a := range artifacts {
		if a.Type != ArtifactAppBundle {
			continue
		}
		bundleID := readBundleIdentifier(a.Path)
		if bundleID == "" {
			continue
		}
		for attempt := 0; attempt < 4; attempt++ {
			script := fmt.Sprintf(`tell application id %q to quit`, bundleID)
			if out, err := exec.Command("osascript", "-e", script).CombinedOutput(); err == nil {
				break
			} else {
				logger.Debug("quit attempt %d for %s failed: %s", attempt+1, bundleID, string(out))
			}
			if attempt < len(backoffs) {
				time.Sleep(backoffs[attempt])
			}
		}
	}
}

func readBundleIdentifier(appPath string) string {
	plistPath := filepath.Join(appPath, "Contents", "Info.plist")
	out, err := exec.Command("/usr/libexec/PlistBuddy", "-c", "Print :CFBundleIdentifier", plistPath).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// removeDefaultArtifacts is the fallback path when no manifest exists:
// it re-derives default /Applications and <prefix>/bin paths straight
// from the cask definition, best-effort only.
func (ci *Installer) removeDefaultArtifacts(cask *Cask, opts *CaskInstallOptions) error {
	if len(cask.Artifacts) == 0 {
		return nil
	}
	a := cask.Artifacts[0]

	for _, app := range a.App {
		target := app.Target
		if target == "" {
			target = filepath.Join("/Applications", filepath.Base(app.Source))
		} else if !filepath.IsAbs(target) {
			target = filepath.Join("/Applications", target)
		}
		if err := ci.removePath(target, opts); err != nil {
			logger.Warn("Failed to remove application %s: %v", target, err)
		}
	}

	for _, binary := range a.Binary {
		name := binary.Target
		if name == "" {
			name = filepath.Base(binary.Source)
		}
		target := filepath.Join(ci.config.Prefix, "bin", name)
		if err := ci.removePath(target, opts); err != nil {
			logger.Warn("Failed to remove binary %s: %v", target, err)
		}
	}

	return nil
}
