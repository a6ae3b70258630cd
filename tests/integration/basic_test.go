package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var spsBinary string

func TestMain(m *testing.M) {
	// Build the sps binary for testing
	if err := buildSps(); err != nil {
		panic("Failed to build sps binary: " + err.Error())
	}

	// Run tests
	code := m.Run()

	// Cleanup
	_ = os.RemoveAll(filepath.Dir(spsBinary))

	os.Exit(code)
}

func buildSps() error {
	// Get the project root directory
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	// Go up two levels to get to project root
	projectRoot := filepath.Join(wd, "..", "..")

	// Create temp directory for binary
	tmpDir, err := os.MkdirTemp("", "sps-test-*")
	if err != nil {
		return err
	}

	spsBinary = filepath.Join(tmpDir, "sps")

	// Build the binary
	cmd := exec.Command("go", "build", "-o", spsBinary, "./cmd/sps")
	cmd.Dir = projectRoot

	return cmd.Run()
}

func runSps(args ...string) (string, string, error) {
	cmd := exec.Command(spsBinary, args...)

	// Create temporary directories for testing
	tempDir, _ := os.MkdirTemp("", "sps-test")
	defer func() { _ = os.RemoveAll(tempDir) }()

	// Set minimal environment with temporary paths
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"SPS_NO_AUTO_UPDATE=1",
		"SPS_PREFIX=" + tempDir,
		"SPS_CELLAR=" + filepath.Join(tempDir, "Cellar"),
		"SPS_CASKROOM=" + filepath.Join(tempDir, "Caskroom"),
		"SPS_CACHE=" + filepath.Join(tempDir, "Cache"),
		"SPS_LOGS=" + filepath.Join(tempDir, "Logs"),
		"SPS_TMP=" + filepath.Join(tempDir, "Temp"),
		"SPS_TAPS=" + filepath.Join(tempDir, "var", "taps"),
	}

	// Create the necessary directories
	_ = os.MkdirAll(filepath.Join(tempDir, "var", "taps"), 0755)

	stdout, err := cmd.Output()
	stderr := ""

	if exitErr, ok := err.(*exec.ExitError); ok {
		stderr = string(exitErr.Stderr)
	}

	return string(stdout), stderr, err
}

func TestVersionCommand(t *testing.T) {
	stdout, stderr, err := runSps("--version")
	if err != nil {
		t.Fatalf("sps --version failed: %v\nstderr: %s", err, stderr)
	}

	if !strings.Contains(stdout, "sps") {
		t.Errorf("Version output should contain 'sps', got: %s", stdout)
	}

	if !strings.Contains(stdout, "Go:") {
		t.Errorf("Version output should contain Go version, got: %s", stdout)
	}

	if !strings.Contains(stdout, "Platform:") {
		t.Errorf("Version output should contain platform info, got: %s", stdout)
	}
}

func TestHelpCommand(t *testing.T) {
	stdout, stderr, err := runSps("--help")
	if err != nil {
		t.Fatalf("sps --help failed: %v\nstderr: %s", err, stderr)
	}

	expectedCommands := []string{
		"install", "uninstall", "upgrade", "update",
		"search", "info", "list", "cleanup",
		"doctor", "config", "tap", "untap",
	}

	for _, cmd := range expectedCommands {
		if !strings.Contains(stdout, cmd) {
			t.Errorf("Help output should contain command '%s', got: %s", cmd, stdout)
		}
	}

	if !strings.Contains(stdout, "Usage:") {
		t.Errorf("Help output should contain usage information, got: %s", stdout)
	}
}

func TestConfigCommand(t *testing.T) {
	stdout, stderr, err := runSps("config")
	if err != nil {
		t.Fatalf("sps config failed: %v\nstderr: %s", err, stderr)
	}

	expectedKeys := []string{
		"SPS_PREFIX:",
		"SPS_REPOSITORY:",
		"SPS_CELLAR:",
		"SPS_CACHE:",
	}

	for _, key := range expectedKeys {
		if !strings.Contains(stdout, key) {
			t.Errorf("Config output should contain '%s', got: %s", key, stdout)
		}
	}
}

func TestEnvCommand(t *testing.T) {
	stdout, stderr, err := runSps("env")
	if err != nil {
		t.Fatalf("sps env failed: %v\nstderr: %s", err, stderr)
	}

	expectedExports := []string{
		"export SPS_PREFIX=",
		"export SPS_REPOSITORY=",
		"export SPS_CELLAR=",
		"export PATH=",
	}

	for _, export := range expectedExports {
		if !strings.Contains(stdout, export) {
			t.Errorf("Env output should contain '%s', got: %s", export, stdout)
		}
	}
}

func TestPrefixCommand(t *testing.T) {
	stdout, stderr, err := runSps("prefix")
	if err != nil {
		t.Fatalf("sps prefix failed: %v\nstderr: %s", err, stderr)
	}

	prefix := strings.TrimSpace(stdout)
	if prefix == "" {
		t.Error("Prefix should not be empty")
	}

	// Should be an absolute path
	if !filepath.IsAbs(prefix) {
		t.Errorf("Prefix should be absolute path, got: %s", prefix)
	}
}

func TestCellarCommand(t *testing.T) {
	stdout, stderr, err := runSps("cellar")
	if err != nil {
		t.Fatalf("sps cellar failed: %v\nstderr: %s", err, stderr)
	}

	cellar := strings.TrimSpace(stdout)
	if cellar == "" {
		t.Error("Cellar path should not be empty")
	}

	// Should be an absolute path
	if !filepath.IsAbs(cellar) {
		t.Errorf("Cellar should be absolute path, got: %s", cellar)
	}
}

func TestCacheCommand(t *testing.T) {
	stdout, stderr, err := runSps("cache")
	if err != nil {
		t.Fatalf("sps cache failed: %v\nstderr: %s", err, stderr)
	}

	cache := strings.TrimSpace(stdout)
	if cache == "" {
		t.Error("Cache path should not be empty")
	}

	// Should be an absolute path
	if !filepath.IsAbs(cache) {
		t.Errorf("Cache should be absolute path, got: %s", cache)
	}
}

func TestSearchCommand(t *testing.T) {
	stdout, stderr, err := runSps("search", "--help")
	if err != nil {
		t.Fatalf("sps search --help failed: %v\nstderr: %s", err, stderr)
	}

	if !strings.Contains(stdout, "Usage:") {
		t.Errorf("Search help should contain usage information, got: %s", stdout)
	}
}

func TestInstallCommandHelp(t *testing.T) {
	stdout, stderr, err := runSps("install", "--help")
	if err != nil {
		t.Fatalf("sps install --help failed: %v\nstderr: %s", err, stderr)
	}

	expectedFlags := []string{
		"--formula",
		"--cask",
		"--build-from-source",
		"--force-bottle",
		"--dry-run",
	}

	for _, flag := range expectedFlags {
		if !strings.Contains(stdout, flag) {
			t.Errorf("Install help should contain flag '%s', got: %s", flag, stdout)
		}
	}
}

func TestDryRunInstall(t *testing.T) {
	_, stderr, err := runSps("install", "--dry-run", "nonexistent-formula")

	// Dry run should not fail due to dry-run logic itself
	if err != nil {
		// If it fails, it should be due to formula not found or not implemented, not due to dry-run logic
		if !strings.Contains(stderr, "not found") && !strings.Contains(stderr, "not yet implemented") {
			t.Errorf("Unexpected error for dry-run install: %v\nstderr: %s", err, stderr)
		}
	}
}

func TestListCommand(t *testing.T) {
	stdout, stderr, err := runSps("list")
	// List command should succeed even if no packages are installed
	if err != nil {
		// Only fail if it's not a "not implemented" error
		if !strings.Contains(stderr, "not yet implemented") {
			t.Fatalf("sps list failed: %v\nstderr: %s", err, stderr)
		}
	}

	// If successful, output can be empty (no packages installed)
	_ = stdout // Don't require any specific output
}

func TestDoctorCommand(t *testing.T) {
	stdout, stderr, err := runSps("doctor")
	// Doctor command should provide system diagnostics
	if err != nil {
		// Only fail if it's not a "not implemented" error
		if !strings.Contains(stderr, "not yet implemented") {
			t.Fatalf("sps doctor failed: %v\nstderr: %s", err, stderr)
		}
	}

	_ = stdout // Output may vary based on system state
}

func TestTapCommand(t *testing.T) {
	stdout, stderr, err := runSps("tap")
	// Tap command without arguments should list taps
	if err != nil {
		// Only fail if it's not a "not implemented" error or "no taps directory" error
		if !strings.Contains(stderr, "not yet implemented") && 
		   !strings.Contains(stderr, "no such file or directory") {
			t.Fatalf("sps tap failed: %v\nstderr: %s", err, stderr)
		}
		t.Skipf("Tap command failed as expected in test environment: %s", stderr)
	}

	_ = stdout // Output may be empty if no taps are installed
}

func TestInvalidCommand(t *testing.T) {
	stdout, stderr, err := runSps("nonexistent-command")

	// Should fail with non-zero exit code
	if err == nil {
		t.Error("Invalid command should fail")
	}

	// Should provide helpful error message
	output := stdout + stderr
	if !strings.Contains(output, "Unknown command") && !strings.Contains(output, "unknown command") {
		t.Errorf("Should indicate unknown command, got: %s", output)
	}
}

func TestGlobalFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"verbose flag", []string{"--verbose", "--help"}},
		{"debug flag", []string{"--debug", "--help"}},
		{"quiet flag", []string{"--quiet", "--help"}},
		{"force flag", []string{"--force", "--help"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := runSps(tt.args...)
			if err != nil {
				t.Fatalf("%s failed: %v\nstderr: %s", tt.name, err, stderr)
			}

			// Help should still work with global flags
			if !strings.Contains(stdout, "Usage:") {
				t.Errorf("%s should still show help, got: %s", tt.name, stdout)
			}
		})
	}
}

func TestCompletionCommand(t *testing.T) {
	shells := []string{"bash", "zsh", "fish", "powershell"}

	for _, shell := range shells {
		t.Run("completion for "+shell, func(t *testing.T) {
			stdout, stderr, err := runSps("completion", shell)
			if err != nil {
				t.Fatalf("sps completion %s failed: %v\nstderr: %s", shell, err, stderr)
			}

			if len(stdout) == 0 {
				t.Errorf("Completion for %s should generate output", shell)
			}
		})
	}
}
