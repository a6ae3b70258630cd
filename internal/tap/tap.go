// Package tap manages sps's local tap checkouts: git clones of
// Homebrew-style formula/cask repositories under cfg.Taps (spec §6's
// var/taps), used as the Formulary's fallback when a name isn't found in
// the primary JSON API catalog. Cloning and pulling are the only parts of
// managing a tap that genuinely need a git implementation (go-git/go-git/v5,
// same as the teacher), so that part of this package stays close to the
// teacher's shape; path layout and formula lookup are sps's own.
package tap

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/sps-pm/sps/internal/config"
	"github.com/sps-pm/sps/internal/errors"
	"github.com/sps-pm/sps/internal/formula"
	"github.com/sps-pm/sps/internal/logger"
)

// Tap is a single cloned formula/cask repository living under cfg.Taps.
type Tap struct {
	Name       string `json:"name"`
	FullName   string `json:"full_name"`
	User       string `json:"user"`
	Repository string `json:"repository"`
	Remote     string `json:"remote"`
	Path       string `json:"path"`
	Installed  bool   `json:"installed"`
	Official   bool   `json:"official"`
	Formulae   int    `json:"formulae_count"`
	Casks      int    `json:"casks_count"`
}

// Manager adds, removes, and updates taps under a fixed prefix.
type Manager struct {
	cfg *config.Config
}

// ProgressWriter adapts go-git's clone/pull progress stream to the logger.
type ProgressWriter struct {
	prefix string
}

func (pw *ProgressWriter) Write(p []byte) (n int, err error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		logger.Debug("%s: %s", pw.prefix, msg)
	}
	return len(p), nil
}

// NewManager creates a tap Manager bound to cfg.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg}
}

// tapsRoot is where every tap is checked out: <cfg.Taps>/<user>/<repo>.
// Unlike the real Homebrew, which nests taps under a brew checkout's
// Library/Taps and names each directory "homebrew-<repo>", sps ships as a
// standalone binary with its own var/taps (spec §6), so the on-disk layout
// drops both the brew-checkout prefix and the repeated "homebrew-" stutter;
// only the upstream remote URL (getDefaultRemote) still needs that name,
// since that's GitHub's actual naming convention for tap repos.
func (m *Manager) tapsRoot() string {
	return m.cfg.Taps
}

// ListTaps returns every tap currently checked out under cfg.Taps.
func (m *Manager) ListTaps() ([]*Tap, error) {
	tapsDir := m.tapsRoot()

	var taps []*Tap
	err := filepath.WalkDir(tapsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == tapsDir {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() || path == tapsDir {
			return nil
		}
		if m.isTapDirectory(path) {
			tap, err := m.loadTap(path)
			if err != nil {
				logger.Warn("failed to load tap at %s: %v", path, err)
				return nil
			}
			taps = append(taps, tap)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.Io, "list taps", err)
	}

	sort.Slice(taps, func(i, j int) bool { return taps[i].Name < taps[j].Name })
	return taps, nil
}

// GetTap returns a single installed tap by name ("user/repo").
func (m *Manager) GetTap(name string) (*Tap, error) {
	tapPath := m.getTapPath(name)
	if !m.isTapDirectory(tapPath) {
		return nil, errors.NewNotFoundError(name)
	}
	return m.loadTap(tapPath)
}

// AddTap clones remote (or a derived default GitHub URL) into cfg.Taps.
func (m *Manager) AddTap(name, remote string, options *TapOptions) error {
	if options == nil {
		options = &TapOptions{}
	}

	logger.Progress("Tapping %s", name)

	if err := m.validateTapName(name); err != nil {
		return errors.New(errors.ValidationError, "tap name", err)
	}

	if tap, _ := m.GetTap(name); tap != nil && tap.Installed {
		if !options.Force {
			return errors.New(errors.ValidationError, "add tap", fmt.Errorf("tap %s already tapped", name))
		}
		logger.Info("Tap %s already exists, forcing re-tap", name)
	}

	if remote == "" {
		remote = m.getDefaultRemote(name)
	}

	tapPath := m.getTapPath(name)
	if err := os.MkdirAll(filepath.Dir(tapPath), 0755); err != nil {
		return errors.New(errors.Io, "create tap directory", err)
	}

	logger.Step("Cloning %s", remote)
	progressWriter := &ProgressWriter{prefix: fmt.Sprintf("Clone %s", name)}
	cloneOptions := &git.CloneOptions{
		URL:      remote,
		Progress: progressWriter,
	}
	if options.Shallow {
		cloneOptions.Depth = 1
	}
	if options.Branch != "" {
		cloneOptions.ReferenceName = plumbing.ReferenceName("refs/heads/" + options.Branch)
		cloneOptions.SingleBranch = true
	}

	repo, err := git.PlainClone(tapPath, false, cloneOptions)
	if err != nil {
		return errors.New(errors.DownloadError, "clone tap", err)
	}

	if err := m.verifyTap(tapPath); err != nil {
		_ = os.RemoveAll(tapPath)
		return errors.New(errors.ValidationError, "verify tap", err)
	}

	if head, err := repo.Head(); err == nil {
		logger.Debug("tap %s checked out at %s", name, head.Hash().String()[:12])
	}

	logger.Success("Tapped %s (%d formulae)", name, m.countFormulae(tapPath))
	if !options.Quiet {
		if tap, _ := m.loadTap(tapPath); tap != nil {
			logger.Info("Tap info: %d formulae, %d casks", tap.Formulae, tap.Casks)
		}
	}

	return nil
}

// RemoveTap deletes a tap's checkout, refusing unless --force when the
// cellar still holds formulae installed from it.
func (m *Manager) RemoveTap(name string, options *TapOptions) error {
	if options == nil {
		options = &TapOptions{}
	}

	logger.Progress("Untapping %s", name)

	tap, err := m.GetTap(name)
	if err != nil {
		return errors.NewNotFoundError(name)
	}
	if !tap.Installed {
		return errors.New(errors.ValidationError, "remove tap", fmt.Errorf("tap %s is not installed", name))
	}

	if !options.Force {
		installedFormulae, err := m.getInstalledFormulaeFromTap(tap)
		if err != nil {
			return errors.New(errors.Io, "check installed formulae", err)
		}
		if len(installedFormulae) > 0 {
			return errors.New(errors.DependencyError, "remove tap",
				fmt.Errorf("tap %s has installed formulae: %s (use --force to remove anyway)",
					name, strings.Join(installedFormulae, ", ")))
		}
	}

	if err := os.RemoveAll(tap.Path); err != nil {
		return errors.New(errors.Io, "remove tap directory", err)
	}

	logger.Success("Untapped %s", name)
	return nil
}

// UpdateTap fast-forwards an existing tap's checkout from its origin remote.
func (m *Manager) UpdateTap(name string) error {
	logger.Progress("Updating tap %s", name)

	tap, err := m.GetTap(name)
	if err != nil {
		return errors.NewNotFoundError(name)
	}
	if !tap.Installed {
		return errors.New(errors.ValidationError, "update tap", fmt.Errorf("tap %s is not installed", name))
	}

	repo, err := git.PlainOpen(tap.Path)
	if err != nil {
		return errors.New(errors.Generic, "open tap repository", err)
	}
	workTree, err := repo.Worktree()
	if err != nil {
		return errors.New(errors.Generic, "open tap worktree", err)
	}

	progressWriter := &ProgressWriter{prefix: fmt.Sprintf("Update %s", name)}
	err = workTree.Pull(&git.PullOptions{
		RemoteName: "origin",
		Progress:   progressWriter,
	})
	if err == git.NoErrAlreadyUpToDate {
		logger.Info("Tap %s is already up to date", name)
		return nil
	} else if err != nil {
		return errors.New(errors.DownloadError, "update tap", err)
	}

	logger.Success("Updated tap %s", name)
	return nil
}

// TapOptions controls AddTap/RemoveTap behavior.
type TapOptions struct {
	Force   bool
	Quiet   bool
	Shallow bool
	Branch  string
}

func (m *Manager) getTapPath(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) != 2 {
		parts = []string{"homebrew", name}
	}
	return filepath.Join(m.tapsRoot(), parts[0], parts[1])
}

func (m *Manager) validateTapName(name string) error {
	if name == "" {
		return fmt.Errorf("tap name cannot be empty")
	}
	if strings.Contains(name, " ") {
		return fmt.Errorf("tap name cannot contain spaces")
	}
	return nil
}

func (m *Manager) getDefaultRemote(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) == 2 {
		return fmt.Sprintf("https://github.com/%s/homebrew-%s.git", parts[0], parts[1])
	}
	return fmt.Sprintf("https://github.com/homebrew/homebrew-%s.git", name)
}

func (m *Manager) isTapDirectory(path string) bool {
	if _, err := os.Stat(filepath.Join(path, "Formula")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(path, "Casks")); err == nil {
		return true
	}
	return false
}

func (m *Manager) loadTap(path string) (*Tap, error) {
	relPath, err := filepath.Rel(m.tapsRoot(), path)
	if err != nil {
		return nil, fmt.Errorf("relative tap path: %w", err)
	}

	parts := strings.Split(relPath, string(filepath.Separator))
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid tap path structure: %s", relPath)
	}

	user, repo := parts[0], parts[1]
	name := user + "/" + repo

	tap := &Tap{
		Name:       name,
		FullName:   "homebrew/" + repo,
		User:       user,
		Repository: repo,
		Path:       path,
		Installed:  true,
		Official:   user == "homebrew",
		Formulae:   m.countFormulae(path),
		Casks:      m.countCasks(path),
	}
	if remote := m.getRemoteURL(path); remote != "" {
		tap.Remote = remote
	}
	return tap, nil
}

// countFormulae counts every formula definition a cloned tap carries,
// whether it's a Ruby file sps can only list (not parse) or a YAML file
// sps can fully load (see Tap.GetFormula).
func (m *Manager) countFormulae(tapPath string) int {
	return countDefinitions(filepath.Join(tapPath, "Formula"))
}

func (m *Manager) countCasks(tapPath string) int {
	return countDefinitions(filepath.Join(tapPath, "Casks"))
}

func countDefinitions(dir string) int {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if strings.HasSuffix(file.Name(), ".rb") || strings.HasSuffix(file.Name(), ".yaml") {
			count++
		}
	}
	return count
}

func (m *Manager) getRemoteURL(tapPath string) string {
	repo, err := git.PlainOpen(tapPath)
	if err != nil {
		return ""
	}
	cfg, err := repo.Config()
	if err != nil {
		return ""
	}
	if remote, ok := cfg.Remotes["origin"]; ok && len(remote.URLs) > 0 {
		return remote.URLs[0]
	}
	return ""
}

func (m *Manager) verifyTap(tapPath string) error {
	if !m.isTapDirectory(tapPath) {
		return fmt.Errorf("tap does not contain a Formula or Casks directory")
	}
	return nil
}

func (m *Manager) getInstalledFormulaeFromTap(tap *Tap) ([]string, error) {
	tapFormulae, err := tap.ListFormulae()
	if err != nil {
		return nil, fmt.Errorf("list formulae from tap: %w", err)
	}

	var installedFormulae []string
	for _, formulaName := range tapFormulae {
		formulaDir := filepath.Join(m.cfg.Cellar, formulaName)
		if _, err := os.Stat(formulaDir); err != nil {
			continue
		}
		if m.isFormulaFromTap(formulaName, tap.Name) {
			installedFormulae = append(installedFormulae, formulaName)
		}
	}
	return installedFormulae, nil
}

// isFormulaFromTap reports whether formulaName, as actually installed in
// the cellar, came from tapName. It prefers the authoritative answer —
// the Tap field any keg's INSTALL_RECEIPT.json carries (spec §4.6 step 5,
// written by internal/bottle) — and falls back to "a definition with this
// name exists in the tap's checkout" only when no receipt records a tap at
// all (e.g. a keg installed before this field existed).
func (m *Manager) isFormulaFromTap(formulaName, tapName string) bool {
	versionDirs, err := os.ReadDir(filepath.Join(m.cfg.Cellar, formulaName))
	if err == nil {
		for _, versionDir := range versionDirs {
			if !versionDir.IsDir() {
				continue
			}
			receiptPath := filepath.Join(m.cfg.Cellar, formulaName, versionDir.Name(), "INSTALL_RECEIPT.json")
			if tap, ok := readReceiptTap(receiptPath); ok {
				return tap == tapName
			}
		}
	}

	tapPath := m.getTapPath(tapName)
	if _, err := os.Stat(filepath.Join(tapPath, "Formula", formulaName+".rb")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(tapPath, "Formula", formulaName+".yaml")); err == nil {
		return true
	}
	return false
}

// readReceiptTap reads the "tap" field out of an INSTALL_RECEIPT.json
// without importing internal/bottle's full struct, avoiding a dependency
// edge this package doesn't otherwise need; ok is false when the receipt
// is missing, unreadable, or predates the Tap field.
func readReceiptTap(receiptPath string) (tap string, ok bool) {
	data, err := os.ReadFile(receiptPath)
	if err != nil {
		return "", false
	}
	var receipt struct {
		Tap string `json:"tap"`
	}
	if err := json.Unmarshal(data, &receipt); err != nil {
		return "", false
	}
	if receipt.Tap == "" {
		return "", false
	}
	return receipt.Tap, true
}

// GetFormula loads a single formula definition from this tap. Only YAML
// definitions parse today (spec §1 names no Ruby DSL support as a
// Non-goal); a tap whose definition is still Ruby-only is reported as not
// found with a suggestion, not a silent stub.
func (t *Tap) GetFormula(name string) (*formula.Formula, error) {
	yamlPath := filepath.Join(t.Path, "Formula", name+".yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, errors.New(errors.Io, "read tap formula", err)
		}

		f, err := formula.ParseFormula(data)
		if err != nil {
			return nil, errors.New(errors.ManifestError, "parse tap formula", err)
		}
		f.Tap = t.Name
		f.Path = yamlPath
		return f, nil
	}

	rubyPath := filepath.Join(t.Path, "Formula", name+".rb")
	if _, err := os.Stat(rubyPath); err == nil {
		notFound := errors.NewNotFoundError(name)
		notFound.Suggestions = []string{
			fmt.Sprintf("%s/%s only ships a Ruby formula; sps needs a .yaml definition", t.Name, name),
			"Check if a maintained tap provides a YAML formula for this package",
		}
		return nil, notFound
	}

	return nil, errors.NewNotFoundError(name)
}

// ListFormulae returns every formula name this tap's Formula directory
// carries, Ruby or YAML, sorted.
func (t *Tap) ListFormulae() ([]string, error) {
	formulaDir := filepath.Join(t.Path, "Formula")
	files, err := os.ReadDir(formulaDir)
	if err != nil {
		return nil, err
	}

	var formulae []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if strings.HasSuffix(file.Name(), ".rb") || strings.HasSuffix(file.Name(), ".yaml") {
			formulae = append(formulae, strings.TrimSuffix(file.Name(), filepath.Ext(file.Name())))
		}
	}

	sort.Strings(formulae)
	return formulae, nil
}
