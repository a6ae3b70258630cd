// Package installer orchestrates the end-to-end install of a formula or
// cask: it resolves the dependency graph (internal/resolver), schedules
// every node onto the bounded-concurrency pipeline (internal/pipeline),
// and dispatches each node to the bottle installer (internal/bottle) or
// the source builder (internal/sourcebuild) per its assigned strategy.
//
// Installation runs as a two-phase plan/execute split: resolution and
// strategy assignment happen up front, then the whole plan is handed to
// the pipeline for concurrent execution, with download/progress
// reporting and detailed error logging surfaced throughout.
package installer

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sps-pm/sps/internal/api"
	"github.com/sps-pm/sps/internal/bottle"
	"github.com/sps-pm/sps/internal/cask"
	"github.com/sps-pm/sps/internal/config"
	"github.com/sps-pm/sps/internal/errors"
	"github.com/sps-pm/sps/internal/formula"
	"github.com/sps-pm/sps/internal/keg"
	"github.com/sps-pm/sps/internal/logger"
	"github.com/sps-pm/sps/internal/pipeline"
	"github.com/sps-pm/sps/internal/resolver"
	"github.com/sps-pm/sps/internal/sourcebuild"
	"github.com/sps-pm/sps/internal/tap"
	"github.com/sps-pm/sps/internal/verification"
)

// progressReader wraps an io.Reader to show download progress, unchanged
// from the teacher's idiom.
type progressReader struct {
	reader     io.Reader
	total      int64
	current    int64
	filename   string
	lastUpdate time.Time
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	pr.current += int64(n)

	now := time.Now()
	if now.Sub(pr.lastUpdate) > 100*time.Millisecond || err == io.EOF {
		pr.lastUpdate = now
		currentMB := float64(pr.current) / 1024 / 1024
		totalMB := float64(pr.total) / 1024 / 1024
		if err == io.EOF {
			fmt.Printf("\r    Downloaded %s (%.1f MB) - 100%%\n", pr.filename, totalMB)
		} else {
			percent := float64(pr.current) / float64(pr.total) * 100
			fmt.Printf("\r    Downloading %s (%.1f/%.1f MB) - %.1f%%",
				pr.filename, currentMB, totalMB, percent)
		}
	}
	return n, err
}

// Options contains installation options, as set by the CLI layer.
type Options struct {
	BuildFromSource    bool
	ForceBottle        bool
	IgnoreDependencies bool
	OnlyDependencies   bool
	IncludeTest        bool
	IncludeOptional    bool
	SkipRecommended    bool
	HeadOnly           bool
	KeepTmp            bool
	DebugSymbols       bool
	Force              bool
	DryRun             bool
	Verbose            bool
	CC                 string
	StrictVerification bool
}

// InstallResult contains the result of an installation.
type InstallResult struct {
	Name     string
	Version  string
	Duration time.Duration
	Source   string // "bottle", "source", or "cask"
	Success  bool
	Error    error
}

// Installer handles formula and cask installation.
type Installer struct {
	cfg             *config.Config
	opts            *Options
	apiClient       *api.Client
	verifier        *verification.PackageVerifier
	kegs            *keg.Registry
	tapMgr          *tap.Manager
	bottleInstaller *bottle.Installer
	sourceBuilder   *sourcebuild.Builder
}

// New creates a new installer.
func New(cfg *config.Config, opts *Options) *Installer {
	return &Installer{
		cfg:             cfg,
		opts:            opts,
		apiClient:       api.NewClient(cfg),
		verifier:        verification.NewPackageVerifier(opts.StrictVerification),
		kegs:            keg.New(cfg),
		tapMgr:          tap.NewManager(cfg),
		bottleInstaller: bottle.New(cfg),
		sourceBuilder:   sourcebuild.New(cfg),
	}
}

// GetFormula resolves name the way the CLI and resolver both need:
// API lookup first, falling back to tap-qualified and then core/any-tap
// lookup. It satisfies resolver.Formulary.
func (i *Installer) GetFormula(name string) (*formula.Formula, error) {
	if f, err := i.apiClient.GetFormula(name); err == nil {
		return f, nil
	}

	parts := splitTapQualified(name)
	if len(parts) == 3 {
		tapName := parts[0] + "/" + parts[1]
		t, err := i.tapMgr.GetTap(tapName)
		if err != nil {
			return nil, fmt.Errorf("tap %s not found: %w", tapName, err)
		}
		return t.GetFormula(parts[2])
	}

	if coreTap, err := i.tapMgr.GetTap("homebrew/core"); err == nil {
		if f, err := coreTap.GetFormula(name); err == nil {
			return f, nil
		}
	}

	taps, err := i.tapMgr.ListTaps()
	if err != nil {
		return nil, fmt.Errorf("failed to list taps: %w", err)
	}
	for _, t := range taps {
		if f, err := t.GetFormula(name); err == nil {
			return f, nil
		}
	}

	return nil, fmt.Errorf("formula %s not found", name)
}

func splitTapQualified(name string) []string {
	var parts []string
	start := 0
	for idx := 0; idx < len(name); idx++ {
		if name[idx] == '/' {
			parts = append(parts, name[start:idx])
			start = idx + 1
		}
	}
	parts = append(parts, name[start:])
	return parts
}

// resolutionContext builds a resolver.ResolutionContext from i's
// options, with this as the Formulary and internal/keg as the
// KegRegistry.
func (i *Installer) resolutionContext(name string) *resolver.ResolutionContext {
	platform := i.apiClient.GetPlatformTag()

	ctx := &resolver.ResolutionContext{
		Formulary:       i,
		KegRegistry:     i.kegs,
		PrefixRoot:      i.cfg.Prefix,
		IncludeOptional: i.opts.IncludeOptional || i.cfg.IncludeOptional,
		IncludeTest:     i.opts.IncludeTest || i.cfg.IncludeTest,
		SkipRecommended: i.opts.SkipRecommended || i.cfg.SkipRecommended,
		HasBottle: func(f *formula.Formula) bool {
			return f.HasBottle(platform)
		},
		PerTarget: resolver.PerTargetInstallPreferences{
			ForceSourceBuildTargets: map[string]bool{},
			ForceBottleOnlyTargets:  map[string]bool{},
		},
		RequestedActions: map[string]resolver.RequestedAction{},
	}

	if i.opts.BuildFromSource && !i.opts.ForceBottle {
		ctx.PerTarget.ForceSourceBuildTargets[name] = true
	}
	if i.opts.ForceBottle {
		ctx.PerTarget.ForceBottleOnlyTargets[name] = true
	}
	if i.opts.Force {
		ctx.RequestedActions[name] = resolver.ActionReinstall
	}

	return ctx
}

// InstallFormula installs a formula and its dependencies, reporting
// structured progress through the logger as the pipeline runs.
func (i *Installer) InstallFormula(name string) (*InstallResult, error) {
	start := time.Now()
	result := &InstallResult{Name: name}

	logger.Progress("Installing formula: %s", name)

	graph, err := resolver.Resolve([]string{name}, i.resolutionContext(name))
	if err != nil {
		result.Error = err
		return result, errors.Wrap(err, "dependency resolution", name)
	}

	root, ok := graph.ResolutionDetails[name]
	if !ok || root.Status == resolver.StatusNotFound {
		nf := errors.NewNotFoundError(name)
		logger.LogDetailedError(logger.ErrorContext{
			Operation:   nf.Operation,
			Formula:     nf.Formula,
			Error:       nf,
			Suggestions: nf.Suggestions,
		})
		result.Error = nf
		return result, nf
	}
	if root.Formula != nil {
		result.Version = root.Formula.FullVersionString()
	}
	if root.Strategy == resolver.SourceOnly {
		result.Source = "source"
	} else {
		result.Source = "bottle"
	}

	plan := i.selectPlan(name, graph)
	if len(plan) == 0 {
		logger.Info("%s is already installed", name)
		result.Success = true
		result.Duration = time.Since(start)
		return result, nil
	}

	if i.opts.DryRun {
		logger.Info("Would install: %s", joinNames(plan))
		result.Success = true
		result.Duration = time.Since(start)
		return result, nil
	}

	nodes := i.buildPipelineNodes(plan, graph)
	maxConcurrent := i.cfg.MaxConcurrentInstalls
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	p := pipeline.New(nodes, maxConcurrent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		drainPipelineEvents(p.Events)
	}()

	results := p.Run()
	<-done

	var failures []string
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", r.Name, r.Err))
		}
	}
	if len(failures) > 0 {
		installErr := errors.NewInstallError(name, result.Version, fmt.Errorf("%d task(s) failed: %s", len(failures), joinNames(failures)))
		logger.LogDetailedError(logger.ErrorContext{
			Operation:   installErr.Operation,
			Formula:     name,
			Version:     result.Version,
			Error:       installErr,
			Suggestions: installErr.Suggestions,
		})
		result.Error = installErr
		return result, installErr
	}

	result.Duration = time.Since(start)
	result.Success = true
	return result, nil
}

// selectPlan applies --ignore-dependencies/--only-dependencies to the
// resolver's install plan.
func (i *Installer) selectPlan(name string, graph *resolver.ResolvedGraph) []string {
	plan := graph.InstallPlan
	if i.opts.IgnoreDependencies {
		var filtered []string
		for _, n := range plan {
			if n == name {
				filtered = append(filtered, n)
			}
		}
		return filtered
	}
	if i.opts.OnlyDependencies {
		var filtered []string
		for _, n := range plan {
			if n != name {
				filtered = append(filtered, n)
			}
		}
		return filtered
	}
	return plan
}

// buildPipelineNodes translates a resolved, ordered plan into pipeline
// Nodes. Each node's Deps is restricted to dependencies also present in
// the plan (already-installed dependencies are simply opt paths on
// disk by the time this node's job runs). depOptPaths passed to a
// build/install job are the node's own direct accepted dependencies'
// opt paths — by the time a node's job runs, the pipeline guarantees
// every in-plan dependency already completed, and already-installed
// dependencies already have their opt path on disk.
func (i *Installer) buildPipelineNodes(plan []string, graph *resolver.ResolvedGraph) []*pipeline.Node {
	inPlan := make(map[string]bool, len(plan))
	for _, n := range plan {
		inPlan[n] = true
	}

	nodes := make([]*pipeline.Node, 0, len(plan))
	for _, name := range plan {
		rd := graph.ResolutionDetails[name]

		var nodeDeps, optPaths []string
		for _, dep := range rd.Dependencies() {
			optPaths = append(optPaths, i.kegs.GetOptPath(dep))
			if inPlan[dep] {
				nodeDeps = append(nodeDeps, dep)
			}
		}

		nodes = append(nodes, &pipeline.Node{
			Name: name,
			Deps: nodeDeps,
			Job:  i.makeJob(rd, optPaths),
		})
	}
	return nodes
}

// makeJob builds the JobFunc for one resolved dependency: try a bottle
// when the strategy allows it, falling back to source unless the
// strategy is BottleOrFail.
func (i *Installer) makeJob(rd *resolver.ResolvedDependency, optPaths []string) pipeline.JobFunc {
	return func(name string, emit func(pipeline.EventKind, string)) (string, error) {
		f := rd.Formula
		if f == nil {
			return "", fmt.Errorf("%s: no formula metadata", name)
		}

		platform := i.apiClient.GetPlatformTag()
		hasBottle := f.HasBottle(platform)

		if rd.Strategy != resolver.SourceOnly {
			if hasBottle {
				kegPath, err := i.installBottle(f, platform, emit)
				if err == nil {
					emit(pipeline.LinkStarted, "")
					return kegPath, nil
				}
				if rd.Strategy == resolver.BottleOrFail {
					return "", err
				}
				emit(pipeline.LogWarn, fmt.Sprintf("bottle install failed, falling back to source: %v", err))
			} else if rd.Strategy == resolver.BottleOrFail {
				return "", fmt.Errorf("%s: no bottle available for %s", name, platform)
			}
		}

		kegPath, err := i.installFromSource(f, optPaths, emit)
		if err != nil {
			return "", err
		}
		emit(pipeline.LinkStarted, "")
		return kegPath, nil
	}
}

func (i *Installer) installBottle(f *formula.Formula, platform string, emit func(pipeline.EventKind, string)) (string, error) {
	emit(pipeline.DownloadStarted, "bottle")
	bottlePath, err := i.apiClient.DownloadBottle(f, platform)
	if err != nil {
		emit(pipeline.DownloadFailed, err.Error())
		return "", errors.NewDownloadError("download bottle", f.GetBottleURL(platform), err)
	}
	emit(pipeline.DownloadFinished, bottlePath)

	emit(pipeline.InstallStarted, "bottle")
	kegPath, err := i.bottleInstaller.Install(bottlePath, f)
	if err != nil {
		return "", err
	}
	return kegPath, nil
}

func (i *Installer) installFromSource(f *formula.Formula, optPaths []string, emit func(pipeline.EventKind, string)) (string, error) {
	sourceURL := f.URL
	if i.opts.HeadOnly && f.Head != nil {
		sourceURL = f.Head.URL
	}
	if sourceURL == "" {
		return "", fmt.Errorf("%s: no source URL available", f.Name)
	}

	emit(pipeline.DownloadStarted, "source")
	sourcePath := filepath.Join(i.cfg.Tmp, fmt.Sprintf("%s-%s-source", f.Name, f.Version))
	if err := i.downloadFile(sourceURL, sourcePath); err != nil {
		emit(pipeline.DownloadFailed, err.Error())
		return "", errors.NewDownloadError("download source", sourceURL, err)
	}
	emit(pipeline.DownloadFinished, sourcePath)
	if !i.cfg.KeepTmp {
		defer os.Remove(sourcePath)
	}

	if !i.opts.HeadOnly && f.SHA256 != "" {
		if err := i.verifier.VerifySource(sourcePath, f.SHA256, 0); err != nil {
			return "", errors.New(errors.ChecksumMismatch, "verify source", err)
		}
	}

	emit(pipeline.BuildStarted, "")
	return i.sourceBuilder.Build(sourcePath, f, optPaths)
}

// downloadFile fetches url to path, showing progress, matching the
// teacher's downloadFile (internal/installer/installer.go).
func (i *Installer) downloadFile(url, path string) error {
	filename := filepath.Base(url)
	logger.Step("Downloading %s", filename)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewPermissionError("create download directory", err)
	}

	resp, err := http.Get(url)
	if err != nil {
		return errors.NewDownloadError("download", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewDownloadError("download", url, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.NewPermissionError("create file", err)
	}
	defer file.Close()

	var reader io.Reader = resp.Body
	if resp.ContentLength > 0 && !logger.IsQuiet() {
		reader = &progressReader{reader: resp.Body, total: resp.ContentLength, filename: filename}
	}

	bytesWritten, err := io.Copy(file, reader)
	if err != nil {
		return errors.NewDownloadError("save file", url, err)
	}
	if resp.ContentLength > 0 && bytesWritten != resp.ContentLength {
		logger.Warn("Downloaded size (%d bytes) differs from expected size (%d bytes)", bytesWritten, resp.ContentLength)
	}

	logger.Success("Downloaded %s (%d bytes)", filename, bytesWritten)
	return nil
}

// drainPipelineEvents renders pipeline events through the logger the
// way the teacher's install flow narrates each step.
func drainPipelineEvents(events <-chan pipeline.Event) {
	for e := range events {
		switch e.Kind {
		case pipeline.JobProcessingStarted:
			logger.Step("Processing %s", e.Node)
		case pipeline.DownloadStarted:
			logger.Step("%s: downloading %s", e.Node, e.Message)
		case pipeline.DownloadFinished:
			logger.Debug("%s: downloaded to %s", e.Node, e.Message)
		case pipeline.DownloadFailed:
			logger.Warn("%s: download failed: %s", e.Node, e.Message)
		case pipeline.BuildStarted:
			logger.Step("%s: building from source", e.Node)
		case pipeline.InstallStarted:
			logger.Step("%s: installing", e.Node)
		case pipeline.LinkStarted:
			logger.Step("%s: linking into prefix", e.Node)
		case pipeline.JobSuccess:
			logger.Success("%s installed", e.Node)
		case pipeline.JobFailed:
			logger.Failure("%s failed: %v", e.Node, e.Err)
		case pipeline.LogWarn:
			logger.Warn("%s: %s", e.Node, e.Message)
		case pipeline.LogInfo:
			logger.Info("%s: %s", e.Node, e.Message)
		case pipeline.LogError:
			logger.Error("%s: %s", e.Node, e.Message)
		case pipeline.PipelineFinished:
			logger.Debug("pipeline finished in %v (%d ok, %d failed)", e.Duration, e.Success, e.Fail)
		}
	}
}

func joinNames(names []string) string {
	out := ""
	for idx, n := range names {
		if idx > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// InstallCask installs a cask.
func (i *Installer) InstallCask(name string) (*InstallResult, error) {
	start := time.Now()
	result := &InstallResult{Name: name, Source: "cask"}

	logger.Progress("Installing cask: %s", name)

	caskData, err := i.apiClient.GetCask(name)
	if err != nil {
		result.Error = fmt.Errorf("failed to fetch cask '%s': %w", name, err)
		return result, result.Error
	}

	caskInstaller := cask.NewCaskInstaller(i.cfg)
	opts := &cask.CaskInstallOptions{
		Force:        i.opts.Force,
		RequireSHA:   true,
		Verbose:      i.opts.Verbose,
		DryRun:       i.opts.DryRun,
		NoQuarantine: false,
	}

	caskResult, err := caskInstaller.InstallCask(caskData, opts)
	if err != nil {
		result.Error = err
		return result, err
	}

	result.Version = caskResult.Version
	result.Success = caskResult.Success
	result.Duration = time.Since(start)

	if caskResult.Caveats != "" {
		logger.Info("Caveats:")
		logger.Info(caskResult.Caveats)
	}

	return result, caskResult.Error
}

// VerifyInstallation verifies the integrity of an installed package.
func (i *Installer) VerifyInstallation(formulaName string) (*verification.VerificationResult, error) {
	cellarPath := filepath.Join(i.cfg.Cellar, formulaName)
	return i.verifier.VerifyInstallation(cellarPath), nil
}
