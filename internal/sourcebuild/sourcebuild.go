// Package sourcebuild builds a formula from its source tarball: it
// detects the build system (autotools, cmake, meson, and others) via
// a multi-step probe rather than a single hardcoded guess, then runs
// the build inside a sanitized, reproducible environment rather than
// passing the caller's os.Environ() through untouched.
package sourcebuild

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sps-pm/sps/internal/archive"
	"github.com/sps-pm/sps/internal/config"
	"github.com/sps-pm/sps/internal/errors"
	"github.com/sps-pm/sps/internal/formula"
	"github.com/sps-pm/sps/internal/linker"
	"github.com/sps-pm/sps/internal/logger"
)

// System names one of the build systems detectSystem recognizes.
type System string

const (
	SystemPerl      System = "perl"
	SystemAutotools System = "autotools"
	SystemCMake     System = "cmake"
	SystemMeson     System = "meson"
	SystemGo        System = "go-self-build"
	SystemCargo     System = "cargo"
	SystemPython    System = "python"
	SystemMake      System = "make"
)

// Builder builds a formula's extracted source tree and links the result.
type Builder struct {
	cfg    *config.Config
	linker *linker.Linker
}

// New creates a Builder bound to cfg.
func New(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg, linker: linker.New(cfg)}
}

// Build extracts sourceArchivePath with strip_components=1, detects
// and runs the matching build system against f's keg path, links the
// result into the prefix, and returns the keg path. depOptPaths lists
// every dependency opt path the resolver determined is visible to this
// build (build-time and runtime).
func (b *Builder) Build(sourceArchivePath string, f *formula.Formula, depOptPaths []string) (string, error) {
	buildDir, err := os.MkdirTemp(b.cfg.Tmp, f.Name+"-build-*")
	if err != nil {
		return "", errors.New(errors.BuildEnvError, "sourcebuild", err)
	}
	if !b.cfg.KeepTmp {
		defer os.RemoveAll(buildDir)
	}

	if err := archive.Extract(sourceArchivePath, buildDir, archive.Options{StripComponents: 1}); err != nil {
		return "", errors.New(errors.ExtractionError, "sourcebuild", err)
	}

	kegPath := f.GetCellarPath(b.cfg.Cellar)
	if err := os.MkdirAll(kegPath, 0755); err != nil {
		return "", errors.New(errors.InstallError, "sourcebuild", err)
	}

	for _, patch := range f.Patches {
		if err := applyPatch(buildDir, &patch); err != nil {
			return "", errors.New(errors.BuildFailure, "sourcebuild", fmt.Errorf("applying patch: %w", err))
		}
	}

	system, commands, err := detectSystem(buildDir, kegPath, f.Name)
	if err != nil {
		return "", errors.New(errors.BuildFailure, "sourcebuild", err)
	}

	env, tmpDir, err := b.buildEnvironment(kegPath, depOptPaths)
	if err != nil {
		return "", errors.New(errors.BuildEnvError, "sourcebuild", err)
	}
	defer os.RemoveAll(tmpDir)

	logger.Debug("building %s with %s", f.Name, system)
	for _, args := range commands {
		if err := runBuildStep(buildDir, env, args); err != nil {
			return "", errors.New(errors.BuildFailure, "sourcebuild", fmt.Errorf("%s: %w", strings.Join(args, " "), err))
		}
	}

	if _, err := b.linker.LinkFormula(f.Name, kegPath); err != nil {
		return "", err
	}

	return kegPath, nil
}

// applyPatch fetches (or reads inline) a patch and applies it to
// sourceDir with the patch command.
func applyPatch(sourceDir string, patch *formula.Patch) error {
	var content []byte
	switch {
	case patch.URL != "":
		resp, err := http.Get(patch.URL)
		if err != nil {
			return fmt.Errorf("downloading patch: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("downloading patch: HTTP %d", resp.StatusCode)
		}
		content, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading patch body: %w", err)
		}
	case patch.Data != "":
		content = []byte(patch.Data)
	default:
		return fmt.Errorf("patch has neither URL nor inline data")
	}

	strip := patch.Strip
	cmd := exec.Command("patch", fmt.Sprintf("-p%d", strip))
	cmd.Dir = sourceDir
	cmd.Stdin = strings.NewReader(string(content))
	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.Stdout = logger.StepWriter()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("patch command failed: %w: %s", err, stderr.String())
	}
	return nil
}

func runBuildStep(dir string, env []string, args []string) error {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = logger.StepWriter()
	cmd.Stderr = logger.StepWriter()
	return cmd.Run()
}

// detectSystem implements spec §4.7's ten-step, first-match-wins
// build-system detection order.
func detectSystem(sourceDir, kegPath, formulaName string) (System, [][]string, error) {
	has := func(name string) bool {
		_, err := os.Stat(filepath.Join(sourceDir, name))
		return err == nil
	}

	switch {
	case has("Configure") && formulaName == "perl":
		return SystemPerl, [][]string{
			{"./Configure", "-des", "-Dprefix=" + kegPath},
			{"make"},
			{"make", "install"},
		}, nil

	case has("configure.ac") || has("configure.in"):
		if !has("configure") {
			if err := ensureAutoreconf(); err != nil {
				return "", nil, err
			}
			return SystemAutotools, [][]string{
				{"autoreconf", "-fvi"},
				{"./configure", "--prefix=" + kegPath, "--disable-dependency-tracking"},
				{"make"},
				{"make", "install"},
			}, nil
		}
		fallthrough

	case has("configure"):
		return SystemAutotools, [][]string{
			{"./configure", "--prefix=" + kegPath, "--disable-dependency-tracking"},
			{"make"},
			{"make", "install"},
		}, nil

	case has("CMakeLists.txt"):
		return SystemCMake, [][]string{
			{"cmake", "-S", ".", "-B", "build", "-DCMAKE_INSTALL_PREFIX=" + kegPath, "-DCMAKE_BUILD_TYPE=Release"},
			{"cmake", "--build", "build"},
			{"cmake", "--install", "build"},
		}, nil

	case has("meson.build"):
		return SystemMeson, [][]string{
			{"meson", "setup", "build", "--prefix=" + kegPath, "--buildtype=release"},
			{"meson", "compile", "-C", "build"},
			{"meson", "install", "-C", "build"},
		}, nil

	case has(filepath.Join("src", "make.bash")):
		return SystemGo, [][]string{{filepath.Join("src", "make.bash")}}, nil
	case has(filepath.Join("src", "all.bash")):
		return SystemGo, [][]string{{filepath.Join("src", "all.bash")}}, nil

	case has("Cargo.toml"):
		return SystemCargo, [][]string{
			{"cargo", "install", "--root", kegPath, "--path", "."},
		}, nil

	case has("setup.py"):
		return SystemPython, [][]string{
			{"python3", "setup.py", "install", "--prefix=" + kegPath},
		}, nil

	case hasMakefile(sourceDir):
		return SystemMake, [][]string{{"make", "install"}}, nil
	}

	return "", nil, fmt.Errorf("no recognized build system in %s", sourceDir)
}

func hasMakefile(dir string) bool {
	for _, name := range []string{"Makefile", "makefile", "GNUmakefile"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func ensureAutoreconf() error {
	for _, tool := range []string{"autoreconf", "autoconf", "automake", "aclocal"} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("required tool %q not found", tool)
		}
	}
	return nil
}

// allowedPassthrough is the allowlist of ambient variables spec §4.7
// permits through unmodified.
var allowedPassthrough = map[string]bool{
	"HOME": true, "USER": true, "TERM": true, "LANG": true, "DISPLAY": true,
}

func isAllowedPassthroughKey(key string) bool {
	if allowedPassthrough[key] {
		return true
	}
	return strings.HasPrefix(key, "LC_")
}

// buildEnvironment constructs the sanitized build environment: an
// allowlist passthrough of ambient variables, a synthesized PATH,
// compiler selection, and the full set of
// CPPFLAGS/LDFLAGS/CFLAGS/CXXFLAGS/PKG_CONFIG_*/CMAKE_* variables
// derived from depOptPaths and the prefix. Nothing from the caller's
// environment leaks through beyond the allowlist: the environment is
// cleared and rebuilt from scratch rather than merely appended to.
func (b *Builder) buildEnvironment(kegPath string, depOptPaths []string) (env []string, tmpDir string, err error) {
	tmpDir, err = os.MkdirTemp(b.cfg.Tmp, "build-env-*")
	if err != nil {
		return nil, "", err
	}

	m := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 && isAllowedPassthroughKey(kv[:i]) {
			m[kv[:i]] = kv[i+1:]
		}
	}

	// Reversed dep order: the last-declared dependency's directories
	// come first, so its bin directory wins PATH's first-match lookup.
	reversed := make([]string, len(depOptPaths))
	for i, p := range depOptPaths {
		reversed[len(depOptPaths)-1-i] = p
	}

	var binDirs, includeDirs, libDirs, pkgConfigDirs, cmakePrefixes []string
	for _, p := range reversed {
		binDirs = append(binDirs, filepath.Join(p, "bin"))
		includeDirs = append(includeDirs, filepath.Join(p, "include"))
		libDirs = append(libDirs, filepath.Join(p, "lib"))
		pkgConfigDirs = append(pkgConfigDirs, filepath.Join(p, "lib", "pkgconfig"))
		cmakePrefixes = append(cmakePrefixes, p)
	}

	pathParts := append([]string{}, binDirs...)
	pathParts = append(pathParts,
		filepath.Join(b.cfg.Prefix, "bin"), filepath.Join(b.cfg.Prefix, "sbin"),
		"/usr/bin", "/bin", "/usr/sbin", "/sbin")
	m["PATH"] = strings.Join(pathParts, ":")

	cc, cxx := resolveCompilers()
	m["CC"] = cc
	m["CXX"] = cxx

	if runtime.GOOS == "darwin" {
		if sdk, serr := exec.Command("xcrun", "--show-sdk-path").Output(); serr == nil {
			m["SDKROOT"] = strings.TrimSpace(string(sdk))
		}
		m["MACOSX_DEPLOYMENT_TARGET"] = macOSDeploymentTarget()
	}

	var cppflags, ldflags, cflags []string
	cppflags = append(cppflags, "-I"+filepath.Join(b.cfg.Prefix, "include"))
	for _, d := range includeDirs {
		cppflags = append(cppflags, "-I"+d)
	}
	ldflags = append(ldflags, "-L"+filepath.Join(b.cfg.Prefix, "lib"))
	for _, d := range libDirs {
		ldflags = append(ldflags, "-L"+d)
	}
	cflags = append(cflags, "-O2")
	if sdkroot, ok := m["SDKROOT"]; ok && sdkroot != "" {
		ldflags = append(ldflags, "-isysroot", sdkroot)
		cflags = append(cflags, "-isysroot", sdkroot)
	}

	m["CPPFLAGS"] = strings.Join(cppflags, " ")
	m["LDFLAGS"] = strings.Join(ldflags, " ")
	m["CFLAGS"] = strings.Join(cflags, " ")
	cxxflags := append(append([]string{}, cflags...), "-stdlib=libc++")
	m["CXXFLAGS"] = strings.Join(cxxflags, " ")

	m["PKG_CONFIG_PATH"] = strings.Join(append(pkgConfigDirs, filepath.Join(b.cfg.Prefix, "lib", "pkgconfig")), ":")
	m["PKG_CONFIG_LIBDIR"] = strings.Join(pkgConfigDirs, ":")
	m["ACLOCAL_PATH"] = filepath.Join(b.cfg.Prefix, "share", "aclocal")
	m["CMAKE_PREFIX_PATH"] = strings.Join(append(cmakePrefixes, b.cfg.Prefix), ":")
	m["CMAKE_FRAMEWORK_PATH"] = strings.Join(cmakePrefixes, ":")
	m["CMAKE_INCLUDE_PATH"] = strings.Join(includeDirs, ":")
	m["CMAKE_LIBRARY_PATH"] = strings.Join(libDirs, ":")

	m["MAKEFLAGS"] = fmt.Sprintf("-j%d", runtime.NumCPU())

	m["TMPDIR"] = tmpDir
	m["TEMP"] = tmpDir
	m["TMP"] = tmpDir

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env = make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+m[k])
	}
	return env, tmpDir, nil
}

// resolveCompilers finds CC/CXX via system tooling, falling back to
// the common default names when the system has none configured.
func resolveCompilers() (cc, cxx string) {
	if runtime.GOOS == "darwin" {
		if out, err := exec.Command("xcrun", "-find", "clang").Output(); err == nil {
			cc = strings.TrimSpace(string(out))
		}
		if out, err := exec.Command("xcrun", "-find", "clang++").Output(); err == nil {
			cxx = strings.TrimSpace(string(out))
		}
	}
	if cc == "" {
		cc = "cc"
	}
	if cxx == "" {
		cxx = "c++"
	}
	return cc, cxx
}

func macOSDeploymentTarget() string {
	if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
		v := strings.TrimSpace(string(out))
		if parts := strings.SplitN(v, ".", 2); len(parts) > 0 {
			return parts[0] + ".0"
		}
	}
	return "11.0"
}
