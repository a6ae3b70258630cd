// Package resolver builds an acyclic dependency graph from formula
// metadata, classifies each node's install strategy (bottle vs. source),
// performs a topological sort, and emits an execution plan. It is the
// component spec §4.1 calls the Dependency Resolver.
//
// This generalizes the teacher's recursive, side-effecting
// installDependencies (internal/installer/installer.go) — which walks
// and installs in the same pass — into a pure, two-phase plan/execute
// split: Resolve only builds the graph; internal/pipeline (Phase B)
// drives the actual work against it.
package resolver

import (
	"fmt"
	"os"
	"sort"

	"github.com/sps-pm/sps/internal/errors"
	"github.com/sps-pm/sps/internal/formula"
)

func defaultPathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NodeStatus is a node's resolution state.
type NodeStatus int

const (
	// StatusInstalled means a keg for this formula already exists.
	StatusInstalled NodeStatus = iota
	// StatusMissing means the node is a dependency that must be installed.
	StatusMissing
	// StatusRequested means the node is one of the initial targets.
	StatusRequested
	// StatusSkippedOptional means the edge into this node was filtered out.
	StatusSkippedOptional
	// StatusNotFound means the formula could not be loaded.
	StatusNotFound
	// StatusFailed means a dependency of this node could not be resolved.
	StatusFailed
)

func (s NodeStatus) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusMissing:
		return "missing"
	case StatusRequested:
		return "requested"
	case StatusSkippedOptional:
		return "skipped-optional"
	case StatusNotFound:
		return "not-found"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Strategy is a node's install-strategy decision.
type Strategy int

const (
	// BottlePreferred installs from a bottle when one exists for the
	// current platform, otherwise falls back to source.
	BottlePreferred Strategy = iota
	// SourceOnly always builds from source.
	SourceOnly
	// BottleOrFail installs only from a bottle; no bottle is an error.
	BottleOrFail
)

func (s Strategy) String() string {
	switch s {
	case BottlePreferred:
		return "bottle-preferred"
	case SourceOnly:
		return "source-only"
	case BottleOrFail:
		return "bottle-or-fail"
	default:
		return "unknown"
	}
}

// RequestedAction is the user-requested action for an initial target.
type RequestedAction int

const (
	// ActionInstall is a plain install request.
	ActionInstall RequestedAction = iota
	// ActionUpgrade requests upgrading an already-installed formula.
	ActionUpgrade
	// ActionReinstall requests reinstalling the current version.
	ActionReinstall
)

// PerTargetInstallPreferences overrides strategy assignment for specific
// initial targets.
type PerTargetInstallPreferences struct {
	ForceSourceBuildTargets map[string]bool
	ForceBottleOnlyTargets  map[string]bool
}

// ResolutionContext carries every switch that affects resolution.
type ResolutionContext struct {
	Formulary   Formulary
	KegRegistry KegRegistry
	PrefixRoot  string

	IncludeOptional                  bool
	IncludeTest                      bool
	SkipRecommended                  bool
	BuildAllFromSource                bool
	CascadeSourcePreferenceToChildren bool

	PerTarget PerTargetInstallPreferences

	// RequestedActions maps an initial target name to the action the
	// user asked for. Targets absent from this map default to Install.
	RequestedActions map[string]RequestedAction

	// HasBottle reports whether f has a bottle for the current
	// platform. Injected so the resolver stays platform-agnostic.
	HasBottle func(f *formula.Formula) bool

	// PathExists reports whether an opt path actually exists on disk.
	// Defaults to a real os.Stat check; overridable for tests.
	PathExists func(path string) bool
}

// Formulary loads formula definitions by name.
type Formulary interface {
	GetFormula(name string) (*formula.Formula, error)
}

// KegRegistry answers "is this already installed" questions.
type KegRegistry interface {
	IsInstalled(name string) (bool, error)
	GetOptPath(name string) string
}

// ResolvedDependency is one node in the resolution graph.
type ResolvedDependency struct {
	Name            string
	Formula         *formula.Formula
	KegPath         string
	OptPath         string
	Status          NodeStatus
	AccumulatedTags map[formula.DependencyTag]bool
	Strategy        Strategy
	FailureReason   string

	children []childEdge
}

type childEdge struct {
	name string
	tags map[formula.DependencyTag]bool
}

// Dependencies returns the names of the dependency edges this node
// accepted during resolution (after global/strategy filtering), in
// declaration order. Callers building an execution DAG (internal/pipeline)
// use this to populate each task's predecessor list.
func (d *ResolvedDependency) Dependencies() []string {
	names := make([]string, len(d.children))
	for i, c := range d.children {
		names[i] = c.name
	}
	return names
}

// ResolvedGraph is the output of Resolve.
type ResolvedGraph struct {
	InstallPlan                []string
	BuildDependencyOptPaths    []string
	RuntimeDependencyOptPaths  []string
	ResolutionDetails          map[string]*ResolvedDependency
}

// Resolve builds a ResolvedGraph for the given initial targets. It never
// silently drops a target: a target whose formula can't be loaded is
// recorded with StatusNotFound rather than omitted, and the only fatal
// error this returns is a dependency cycle.
func Resolve(targets []string, ctx *ResolutionContext) (*ResolvedGraph, error) {
	if ctx.HasBottle == nil {
		ctx.HasBottle = func(f *formula.Formula) bool { return false }
	}
	if ctx.RequestedActions == nil {
		ctx.RequestedActions = map[string]RequestedAction{}
	}
	if ctx.PathExists == nil {
		ctx.PathExists = defaultPathExists
	}

	r := &resolution{
		ctx:     ctx,
		nodes:   make(map[string]*ResolvedDependency),
		visiting: make(map[string]bool),
	}

	for _, target := range targets {
		if err := r.visitTagged(target, nil, nil, true); err != nil {
			return nil, err
		}
	}

	plan, err := r.topoSort()
	if err != nil {
		return nil, err
	}

	graph := &ResolvedGraph{
		InstallPlan:       plan,
		ResolutionDetails: r.nodes,
	}
	graph.BuildDependencyOptPaths, graph.RuntimeDependencyOptPaths = r.optPaths()
	return graph, nil
}

type resolution struct {
	ctx      *ResolutionContext
	nodes    map[string]*ResolvedDependency
	visiting map[string]bool
}

// visitTagged resolves name, recursing into its dependency edges.
// parentStrategy and incomingTags describe the edge that led here;
// isInitialTarget is true only for names passed directly to Resolve.
func (r *resolution) visitTagged(name string, parentStrategy *Strategy, incomingTags map[formula.DependencyTag]bool, isInitialTarget bool) error {
	if r.visiting[name] {
		return errors.New(errors.DependencyError, "resolve", fmt.Errorf("cycle detected at %q", name))
	}

	if existing, ok := r.nodes[name]; ok {
		r.mergeTags(existing, incomingTags)
		r.promoteIfNowRequired(existing, incomingTags, isInitialTarget)
		return nil
	}

	r.visiting[name] = true
	defer delete(r.visiting, name)

	node := &ResolvedDependency{
		Name:            name,
		AccumulatedTags: map[formula.DependencyTag]bool{},
	}
	r.mergeTags(node, incomingTags)
	r.nodes[name] = node

	f, err := r.ctx.Formulary.GetFormula(name)
	if err != nil {
		node.Status = StatusNotFound
		node.FailureReason = err.Error()
		return nil
	}
	node.Formula = f

	strategy := r.assignStrategy(name, f, parentStrategy, isInitialTarget)
	node.Strategy = strategy

	installed, kerr := r.ctx.KegRegistry.IsInstalled(name)
	if kerr != nil {
		installed = false
	}
	action := r.ctx.RequestedActions[name]
	forcedBuild := r.ctx.PerTarget.ForceSourceBuildTargets[name] || r.ctx.BuildAllFromSource

	switch {
	case installed && !forcedBuild && action != ActionUpgrade && action != ActionReinstall:
		node.Status = StatusInstalled
	case isInitialTarget:
		node.Status = StatusRequested
	default:
		node.Status = StatusMissing
	}
	node.OptPath = r.ctx.KegRegistry.GetOptPath(name)

	for _, dep := range f.TaggedDependencies() {
		if !r.passesGlobalFilter(dep) {
			continue
		}
		if !r.passesStrategyFilter(strategy, dep) {
			continue
		}
		node.children = append(node.children, childEdge{name: dep.Name, tags: dep.Tags})
		strategyCopy := strategy
		if err := r.visitTagged(dep.Name, &strategyCopy, dep.Tags, false); err != nil {
			return err
		}
	}

	return nil
}

func (r *resolution) mergeTags(node *ResolvedDependency, incoming map[formula.DependencyTag]bool) {
	if node.AccumulatedTags == nil {
		node.AccumulatedTags = map[formula.DependencyTag]bool{}
	}
	for tag, present := range incoming {
		if present {
			node.AccumulatedTags[tag] = true
			if tag == formula.TagRecommended || tag == formula.TagOptional {
				node.AccumulatedTags[formula.TagRuntime] = true
			}
		}
	}
}

// promoteIfNowRequired upgrades a previously SkippedOptional node to
// Missing when a new edge makes it required, per spec §4.1 step 2.
func (r *resolution) promoteIfNowRequired(node *ResolvedDependency, incoming map[formula.DependencyTag]bool, isInitialTarget bool) {
	if node.Status != StatusSkippedOptional {
		return
	}
	required := isInitialTarget
	if incoming[formula.TagRuntime] || incoming[formula.TagBuild] {
		required = true
	}
	if incoming[formula.TagRecommended] && !r.ctx.SkipRecommended {
		required = true
	}
	if incoming[formula.TagOptional] && r.ctx.IncludeOptional {
		required = true
	}
	if required {
		node.Status = StatusMissing
	}
}

// assignStrategy computes NodeInstallStrategy per spec §4.1's six-step
// precedence list.
func (r *resolution) assignStrategy(name string, f *formula.Formula, parentStrategy *Strategy, isInitialTarget bool) Strategy {
	if isInitialTarget && r.ctx.PerTarget.ForceSourceBuildTargets[name] {
		return SourceOnly
	}
	if isInitialTarget && r.ctx.PerTarget.ForceBottleOnlyTargets[name] {
		return BottleOrFail
	}
	if r.ctx.BuildAllFromSource {
		return SourceOnly
	}
	if parentStrategy != nil && *parentStrategy == SourceOnly && r.ctx.CascadeSourcePreferenceToChildren {
		return SourceOnly
	}
	if parentStrategy != nil && *parentStrategy == BottleOrFail {
		return BottleOrFail
	}
	if r.ctx.HasBottle(f) {
		return BottlePreferred
	}
	return SourceOnly
}

// passesGlobalFilter applies the include_optional/include_test/
// skip_recommended switches.
func (r *resolution) passesGlobalFilter(dep formula.TaggedDependency) bool {
	if dep.Tags[formula.TagTest] && !dep.HasAny(formula.TagRuntime, formula.TagBuild, formula.TagRecommended, formula.TagOptional) {
		if !r.ctx.IncludeTest {
			return false
		}
	}
	if isPureOptional(dep) && !r.ctx.IncludeOptional {
		return false
	}
	if isPureRecommended(dep) && r.ctx.SkipRecommended {
		return false
	}
	return true
}

func isPureOptional(dep formula.TaggedDependency) bool {
	return dep.Tags[formula.TagOptional] && !dep.Tags[formula.TagBuild] && !dep.Tags[formula.TagTest] && len(dep.Tags) <= 2
}

func isPureRecommended(dep formula.TaggedDependency) bool {
	return dep.Tags[formula.TagRecommended] && !dep.Tags[formula.TagBuild] && !dep.Tags[formula.TagTest] && !dep.Tags[formula.TagOptional] && len(dep.Tags) <= 2
}

// passesStrategyFilter implements the bottle-skips-pure-build-deps rule.
func (r *resolution) passesStrategyFilter(parentStrategy Strategy, dep formula.TaggedDependency) bool {
	if parentStrategy == SourceOnly {
		return true
	}
	// BottlePreferred or BottleOrFail: skip edges whose tag set is purely BUILD.
	return !dep.IsPureBuild()
}

// topoSort runs Kahn's algorithm over nodes in {Installed, Missing,
// Requested} using only edges that passed both resolver filters.
func (r *resolution) topoSort() ([]string, error) {
	inDegree := map[string]int{}
	adj := map[string][]string{}
	included := func(status NodeStatus) bool {
		return status == StatusInstalled || status == StatusMissing || status == StatusRequested
	}

	var names []string
	for name, node := range r.nodes {
		if !included(node.Status) {
			continue
		}
		names = append(names, name)
		if _, ok := inDegree[name]; !ok {
			inDegree[name] = 0
		}
	}
	sort.Strings(names)

	for _, name := range names {
		node := r.nodes[name]
		for _, edge := range node.children {
			child, ok := r.nodes[edge.name]
			if !ok || !included(child.Status) {
				continue
			}
			adj[edge.name] = append(adj[edge.name], name)
			inDegree[name]++
		}
	}

	var queue []string
	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		next := append([]string{}, adj[n]...)
		sort.Strings(next)
		for _, m := range next {
			inDegree[m]--
			if inDegree[m] == 0 {
				queue = append(queue, m)
				sort.Strings(queue)
			}
		}
	}

	if len(order) != len(names) {
		return nil, errors.New(errors.DependencyError, "resolve", fmt.Errorf("dependency cycle detected among: %v", remaining(names, order)))
	}

	plan := make([]string, 0, len(order))
	for _, name := range order {
		if r.nodes[name].Status == StatusMissing || r.nodes[name].Status == StatusRequested {
			plan = append(plan, name)
		}
	}
	return plan, nil
}

func remaining(all, done []string) []string {
	doneSet := map[string]bool{}
	for _, d := range done {
		doneSet[d] = true
	}
	var rem []string
	for _, a := range all {
		if !doneSet[a] {
			rem = append(rem, a)
		}
	}
	return rem
}

// optPaths scans ResolutionDetails for build/runtime dependency opt
// paths, deduplicated and order-preserving.
func (r *resolution) optPaths() (build, runtime []string) {
	seenBuild := map[string]bool{}
	seenRuntime := map[string]bool{}

	var names []string
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := r.nodes[name]
		if node.OptPath == "" || !r.ctx.PathExists(node.OptPath) {
			continue
		}
		if node.AccumulatedTags[formula.TagBuild] && !seenBuild[node.OptPath] {
			seenBuild[node.OptPath] = true
			build = append(build, node.OptPath)
		}
		if (node.AccumulatedTags[formula.TagRuntime] || node.AccumulatedTags[formula.TagRecommended] || node.AccumulatedTags[formula.TagOptional]) && !seenRuntime[node.OptPath] {
			seenRuntime[node.OptPath] = true
			runtime = append(runtime, node.OptPath)
		}
	}
	return build, runtime
}
