package resolver

import (
	"testing"

	"github.com/sps-pm/sps/internal/formula"
)

type fakeFormulary struct {
	formulae map[string]*formula.Formula
}

func (f *fakeFormulary) GetFormula(name string) (*formula.Formula, error) {
	if ff, ok := f.formulae[name]; ok {
		return ff, nil
	}
	return nil, errNotFound(name)
}

type notFoundErr struct{ name string }

func (e notFoundErr) Error() string { return "formula not found: " + e.name }

func errNotFound(name string) error { return notFoundErr{name} }

type fakeKegRegistry struct {
	installed map[string]bool
}

func (k *fakeKegRegistry) IsInstalled(name string) (bool, error) {
	return k.installed[name], nil
}

func (k *fakeKegRegistry) GetOptPath(name string) string {
	return "/opt/" + name
}

func newCtx(formulary *fakeFormulary, installed map[string]bool, hasBottle map[string]bool) *ResolutionContext {
	return &ResolutionContext{
		Formulary:   formulary,
		KegRegistry: &fakeKegRegistry{installed: installed},
		HasBottle: func(f *formula.Formula) bool {
			return hasBottle[f.Name]
		},
		PathExists: func(string) bool { return true },
	}
}

func f(name string, deps, buildDeps []string) *formula.Formula {
	return &formula.Formula{Name: name, Version: "1.0", Dependencies: deps, BuildDependencies: buildDeps}
}

func TestResolve_DiamondDependency(t *testing.T) {
	formulary := &fakeFormulary{formulae: map[string]*formula.Formula{
		"pkgX": f("pkgX", []string{"pkgA", "pkgB"}, nil),
		"pkgA": f("pkgA", []string{"pkgC"}, nil),
		"pkgB": f("pkgB", []string{"pkgC"}, nil),
		"pkgC": f("pkgC", nil, nil),
	}}
	ctx := newCtx(formulary, nil, map[string]bool{"pkgX": true, "pkgA": true, "pkgB": true, "pkgC": true})

	graph, err := Resolve([]string{"pkgX"}, ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pos := map[string]int{}
	for i, name := range graph.InstallPlan {
		pos[name] = i
	}
	if pos["pkgC"] >= pos["pkgA"] || pos["pkgC"] >= pos["pkgB"] {
		t.Fatalf("pkgC must precede pkgA and pkgB: %v", graph.InstallPlan)
	}
	if pos["pkgA"] >= pos["pkgX"] || pos["pkgB"] >= pos["pkgX"] {
		t.Fatalf("pkgA and pkgB must precede pkgX: %v", graph.InstallPlan)
	}
}

func TestResolve_CycleIsFatal(t *testing.T) {
	formulary := &fakeFormulary{formulae: map[string]*formula.Formula{
		"a": f("a", []string{"b"}, nil),
		"b": f("b", []string{"a"}, nil),
	}}
	ctx := newCtx(formulary, nil, nil)

	if _, err := Resolve([]string{"a"}, ctx); err == nil {
		t.Fatal("expected a cycle error, got nil")
	}
}

func TestResolve_BottlePreferredSkipsPureBuildEdge(t *testing.T) {
	formulary := &fakeFormulary{formulae: map[string]*formula.Formula{
		"pkgY": f("pkgY", nil, []string{"pkgZ"}),
		"pkgZ": f("pkgZ", nil, nil),
	}}
	ctx := newCtx(formulary, nil, map[string]bool{"pkgY": true})

	graph, err := Resolve([]string{"pkgY"}, ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(graph.InstallPlan) != 1 || graph.InstallPlan[0] != "pkgY" {
		t.Fatalf("expected only pkgY in plan, got %v", graph.InstallPlan)
	}
	if _, ok := graph.ResolutionDetails["pkgZ"]; ok {
		t.Fatalf("pkgZ should never have been visited: %v", graph.ResolutionDetails)
	}
}

func TestResolve_SourceOnlyTraversesPureBuildEdge(t *testing.T) {
	formulary := &fakeFormulary{formulae: map[string]*formula.Formula{
		"pkgY": f("pkgY", nil, []string{"pkgZ"}),
		"pkgZ": f("pkgZ", nil, nil),
	}}
	ctx := newCtx(formulary, nil, map[string]bool{"pkgY": true})
	ctx.PerTarget.ForceSourceBuildTargets = map[string]bool{"pkgY": true}

	graph, err := Resolve([]string{"pkgY"}, ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(graph.InstallPlan) != 2 {
		t.Fatalf("expected pkgZ and pkgY in plan, got %v", graph.InstallPlan)
	}
	if graph.InstallPlan[0] != "pkgZ" || graph.InstallPlan[1] != "pkgY" {
		t.Fatalf("expected [pkgZ pkgY], got %v", graph.InstallPlan)
	}
	node := graph.ResolutionDetails["pkgY"]
	if node.Strategy != SourceOnly {
		t.Fatalf("expected pkgY strategy SourceOnly, got %v", node.Strategy)
	}

	found := false
	for _, p := range graph.BuildDependencyOptPaths {
		if p == "/opt/pkgZ" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pkgZ opt path in build dep opt paths: %v", graph.BuildDependencyOptPaths)
	}
}

func TestResolve_AlreadyInstalledIsNotInPlan(t *testing.T) {
	formulary := &fakeFormulary{formulae: map[string]*formula.Formula{
		"pkgA": f("pkgA", nil, nil),
	}}
	ctx := newCtx(formulary, map[string]bool{"pkgA": true}, map[string]bool{"pkgA": true})

	graph, err := Resolve([]string{"pkgA"}, ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(graph.InstallPlan) != 0 {
		t.Fatalf("expected empty plan for already-installed target, got %v", graph.InstallPlan)
	}
	if graph.ResolutionDetails["pkgA"].Status != StatusInstalled {
		t.Fatalf("expected StatusInstalled, got %v", graph.ResolutionDetails["pkgA"].Status)
	}
}

func TestResolve_MissingChildDoesNotAbortWholeResolution(t *testing.T) {
	formulary := &fakeFormulary{formulae: map[string]*formula.Formula{
		"pkgX": f("pkgX", []string{"ghost"}, nil),
	}}
	ctx := newCtx(formulary, nil, map[string]bool{"pkgX": true})

	graph, err := Resolve([]string{"pkgX"}, ctx)
	if err != nil {
		t.Fatalf("Resolve should not fail outright on a missing child: %v", err)
	}
	ghost := graph.ResolutionDetails["ghost"]
	if ghost == nil || ghost.Status != StatusNotFound {
		t.Fatalf("expected ghost to be recorded NotFound, got %+v", ghost)
	}
}
