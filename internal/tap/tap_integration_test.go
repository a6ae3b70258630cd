package tap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sps-pm/sps/internal/config"
	"github.com/sps-pm/sps/internal/logger"
)

func TestManagerOperations(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	cfg := &config.Config{Taps: tempDir}

	manager := NewManager(cfg)
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.cfg != cfg {
		t.Error("Manager config not set correctly")
	}
}

func TestListTapsEmpty(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	cfg := &config.Config{Taps: filepath.Join(tempDir, "taps")}
	manager := NewManager(cfg)

	if err := os.MkdirAll(cfg.Taps, 0755); err != nil {
		t.Fatalf("Failed to create taps dir: %v", err)
	}

	taps, err := manager.ListTaps()
	if err != nil {
		t.Errorf("ListTaps failed: %v", err)
	}
	if len(taps) != 0 {
		t.Errorf("Expected 0 taps in empty directory, got %d", len(taps))
	}
}

func TestListTapsMissingDir(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	cfg := &config.Config{Taps: filepath.Join(tempDir, "does-not-exist")}
	manager := NewManager(cfg)

	taps, err := manager.ListTaps()
	if err != nil {
		t.Errorf("ListTaps should tolerate a missing taps directory: %v", err)
	}
	if len(taps) != 0 {
		t.Errorf("Expected 0 taps for missing directory, got %d", len(taps))
	}
}

func TestGetTapNonExistent(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	cfg := &config.Config{Taps: tempDir}
	manager := NewManager(cfg)

	if _, err := manager.GetTap("nonexistent/tap"); err == nil {
		t.Error("Expected error for non-existent tap")
	}
}

func TestGetTapPathIntegration(t *testing.T) {
	cfg := &config.Config{Taps: "/test/taps"}
	manager := NewManager(cfg)

	tests := []struct {
		name     string
		expected string
	}{
		{name: "user/repo", expected: "/test/taps/user/repo"},
		{name: "simple-name", expected: "/test/taps/homebrew/simple-name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := manager.getTapPath(tt.name)
			if path != tt.expected {
				t.Errorf("Expected path %s, got %s", tt.expected, path)
			}
		})
	}
}

func TestValidateTapNameIntegration(t *testing.T) {
	manager := &Manager{}

	tests := []struct {
		name        string
		expectError bool
	}{
		{"valid-name", false},
		{"user/repo", false},
		{"", true},
		{"name with spaces", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := manager.validateTapName(tt.name)
			hasError := err != nil
			if tt.expectError && !hasError {
				t.Errorf("Expected error for tap name %q", tt.name)
			}
			if !tt.expectError && hasError {
				t.Errorf("Unexpected error for tap name %q: %v", tt.name, err)
			}
		})
	}
}

func TestGetDefaultRemoteIntegration(t *testing.T) {
	manager := &Manager{}

	tests := []struct {
		name     string
		expected string
	}{
		{name: "user/repo", expected: "https://github.com/user/homebrew-repo.git"},
		{name: "simple-name", expected: "https://github.com/homebrew/homebrew-simple-name.git"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := manager.getDefaultRemote(tt.name)
			if remote != tt.expected {
				t.Errorf("Expected remote %s, got %s", tt.expected, remote)
			}
		})
	}
}

func TestIsTapDirectoryIntegration(t *testing.T) {
	tempDir := t.TempDir()
	manager := &Manager{}

	if manager.isTapDirectory("/nonexistent/path") {
		t.Error("Non-existent directory should not be a tap directory")
	}

	emptyDir := filepath.Join(tempDir, "empty")
	_ = os.MkdirAll(emptyDir, 0755)
	if manager.isTapDirectory(emptyDir) {
		t.Error("Empty directory should not be a tap directory")
	}

	formulaDir := filepath.Join(tempDir, "with-formula")
	_ = os.MkdirAll(filepath.Join(formulaDir, "Formula"), 0755)
	if !manager.isTapDirectory(formulaDir) {
		t.Error("Directory with Formula subdirectory should be a tap directory")
	}

	casksDir := filepath.Join(tempDir, "with-casks")
	_ = os.MkdirAll(filepath.Join(casksDir, "Casks"), 0755)
	if !manager.isTapDirectory(casksDir) {
		t.Error("Directory with Casks subdirectory should be a tap directory")
	}
}

func TestCountFormulaeAndCasks(t *testing.T) {
	tempDir := t.TempDir()
	manager := &Manager{}

	formulaDir := filepath.Join(tempDir, "Formula")
	casksDir := filepath.Join(tempDir, "Casks")
	_ = os.MkdirAll(formulaDir, 0755)
	_ = os.MkdirAll(casksDir, 0755)

	for i := 0; i < 3; i++ {
		_ = os.WriteFile(filepath.Join(formulaDir, fmt.Sprintf("formula%d.rb", i)), []byte("# formula"), 0644)
	}
	for i := 0; i < 2; i++ {
		_ = os.WriteFile(filepath.Join(casksDir, fmt.Sprintf("cask%d.yaml", i)), []byte("# cask"), 0644)
	}
	_ = os.WriteFile(filepath.Join(formulaDir, "readme.txt"), []byte("readme"), 0644)
	_ = os.WriteFile(filepath.Join(casksDir, "info.md"), []byte("info"), 0644)

	if count := manager.countFormulae(tempDir); count != 3 {
		t.Errorf("Expected 3 formulae, got %d", count)
	}
	if count := manager.countCasks(tempDir); count != 2 {
		t.Errorf("Expected 2 casks, got %d", count)
	}
	if count := manager.countFormulae("/nonexistent"); count != 0 {
		t.Errorf("Expected 0 formulae for non-existent directory, got %d", count)
	}
	if count := manager.countCasks("/nonexistent"); count != 0 {
		t.Errorf("Expected 0 casks for non-existent directory, got %d", count)
	}
}

func TestVerifyTapIntegration(t *testing.T) {
	tempDir := t.TempDir()
	manager := &Manager{}

	emptyDir := filepath.Join(tempDir, "empty")
	_ = os.MkdirAll(emptyDir, 0755)
	if err := manager.verifyTap(emptyDir); err == nil {
		t.Error("Expected error for invalid tap")
	}

	validDir := filepath.Join(tempDir, "valid")
	_ = os.MkdirAll(filepath.Join(validDir, "Formula"), 0755)
	if err := manager.verifyTap(validDir); err != nil {
		t.Errorf("Expected no error for valid tap: %v", err)
	}

	validCasksDir := filepath.Join(tempDir, "valid-casks")
	_ = os.MkdirAll(filepath.Join(validCasksDir, "Casks"), 0755)
	if err := manager.verifyTap(validCasksDir); err != nil {
		t.Errorf("Expected no error for valid casks tap: %v", err)
	}
}

func TestProgressWriter(t *testing.T) {
	writer := &ProgressWriter{prefix: "test"}

	data := []byte("test progress message\n")
	n, err := writer.Write(data)
	if err != nil {
		t.Errorf("ProgressWriter.Write failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Expected to write %d bytes, wrote %d", len(data), n)
	}

	n, err = writer.Write([]byte(""))
	if err != nil {
		t.Errorf("ProgressWriter.Write failed for empty data: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected to write 0 bytes for empty data, wrote %d", n)
	}
}

func TestAddTap(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	cfg := &config.Config{Taps: tempDir}
	manager := NewManager(cfg)

	err := manager.AddTap("", "", nil)
	if err == nil {
		t.Error("Expected error for empty tap name")
	}
	if !strings.Contains(err.Error(), "tap name cannot be empty") {
		t.Errorf("Expected validation error, got: %v", err)
	}

	err = manager.AddTap("invalid name", "", nil)
	if err == nil {
		t.Error("Expected error for tap name with spaces")
	}
	if !strings.Contains(err.Error(), "cannot contain spaces") {
		t.Errorf("Expected spaces error, got: %v", err)
	}

	err = manager.AddTap("test/invalid", "https://github.com/nonexistent/repo.git", nil)
	if err == nil {
		t.Error("Expected error for invalid remote")
	}

	defaultRemote := manager.getDefaultRemote("test/example")
	if expected := "https://github.com/test/homebrew-example.git"; defaultRemote != expected {
		t.Errorf("Expected default remote %s, got %s", expected, defaultRemote)
	}

	simpleRemote := manager.getDefaultRemote("example")
	if expected := "https://github.com/homebrew/homebrew-example.git"; simpleRemote != expected {
		t.Errorf("Expected simple remote %s, got %s", expected, simpleRemote)
	}
}

func TestRemoveTap(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	cfg := &config.Config{
		Taps:   filepath.Join(tempDir, "taps"),
		Cellar: filepath.Join(tempDir, "Cellar"),
	}
	manager := NewManager(cfg)

	err := manager.RemoveTap("nonexistent/tap", nil)
	if err == nil {
		t.Error("Expected error for non-existent tap")
	}

	tapPath := filepath.Join(cfg.Taps, "test", "example")
	_ = os.MkdirAll(filepath.Join(tapPath, "Formula"), 0755)
	_ = os.WriteFile(filepath.Join(tapPath, "Formula", "testformula.rb"), []byte("# test formula"), 0644)

	if err := manager.RemoveTap("test/example", nil); err != nil {
		t.Errorf("Expected successful removal, got: %v", err)
	}
	if _, err := os.Stat(tapPath); !os.IsNotExist(err) {
		t.Error("Expected tap directory to be removed")
	}
}

func TestUpdateTap(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	cfg := &config.Config{Taps: tempDir}
	manager := NewManager(cfg)

	if err := manager.UpdateTap("nonexistent/tap"); err == nil {
		t.Error("Expected error for non-existent tap")
	}

	tapPath := filepath.Join(tempDir, "test", "example")
	_ = os.MkdirAll(filepath.Join(tapPath, "Formula"), 0755)

	err := manager.UpdateTap("test/example")
	if err == nil {
		t.Error("Expected error for tap without git repository")
	}
}

func TestGetInstalledFormulaeFromTap(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	cfg := &config.Config{
		Taps:   filepath.Join(tempDir, "taps"),
		Cellar: filepath.Join(tempDir, "Cellar"),
	}
	manager := NewManager(cfg)

	tapPath := filepath.Join(cfg.Taps, "test", "example")
	formulaDir := filepath.Join(tapPath, "Formula")
	_ = os.MkdirAll(formulaDir, 0755)

	formulas := []string{"formula1", "formula2", "formula3"}
	for _, name := range formulas {
		_ = os.WriteFile(filepath.Join(formulaDir, name+".rb"), []byte("# "+name), 0644)
	}

	// formula1 is installed, with a receipt naming this tap.
	receiptDir := filepath.Join(cfg.Cellar, "formula1", "1.0")
	_ = os.MkdirAll(receiptDir, 0755)
	receipt, _ := json.Marshal(map[string]string{"name": "formula1", "tap": "test/example"})
	_ = os.WriteFile(filepath.Join(receiptDir, "INSTALL_RECEIPT.json"), receipt, 0644)

	tap := &Tap{Name: "test/example", Path: tapPath}

	installedFormulae, err := manager.getInstalledFormulaeFromTap(tap)
	if err != nil {
		t.Fatalf("getInstalledFormulaeFromTap failed: %v", err)
	}
	if len(installedFormulae) != 1 {
		t.Errorf("Expected 1 installed formula, got %d", len(installedFormulae))
	}
	if len(installedFormulae) > 0 && installedFormulae[0] != "formula1" {
		t.Errorf("Expected 'formula1' to be installed, got %v", installedFormulae)
	}
}

func TestIsFormulaFromTap(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	cfg := &config.Config{
		Taps:   filepath.Join(tempDir, "taps"),
		Cellar: filepath.Join(tempDir, "Cellar"),
	}
	manager := NewManager(cfg)

	tapPath := filepath.Join(cfg.Taps, "test", "example")
	formulaDir := filepath.Join(tapPath, "Formula")
	_ = os.MkdirAll(formulaDir, 0755)
	_ = os.WriteFile(filepath.Join(formulaDir, "testformula.rb"), []byte("# test formula"), 0644)
	_ = os.WriteFile(filepath.Join(formulaDir, "yamlformula.yaml"), []byte("# yaml formula"), 0644)

	// No receipt on disk: falls back to the tap-checkout heuristic.
	if !manager.isFormulaFromTap("testformula", "test/example") {
		t.Error("Expected testformula to be from test/example tap")
	}
	if manager.isFormulaFromTap("nonexistent", "test/example") {
		t.Error("Expected nonexistent formula to not be from tap")
	}
	if !manager.isFormulaFromTap("yamlformula", "test/example") {
		t.Error("Expected yamlformula to be from test/example tap")
	}

	// A receipt naming a different tap overrides the heuristic.
	receiptDir := filepath.Join(cfg.Cellar, "testformula", "1.0")
	_ = os.MkdirAll(receiptDir, 0755)
	receipt, _ := json.Marshal(map[string]string{"name": "testformula", "tap": "other/tap"})
	_ = os.WriteFile(filepath.Join(receiptDir, "INSTALL_RECEIPT.json"), receipt, 0644)

	if manager.isFormulaFromTap("testformula", "test/example") {
		t.Error("Expected receipt tap mismatch to override the checkout heuristic")
	}
	if !manager.isFormulaFromTap("testformula", "other/tap") {
		t.Error("Expected receipt tap to confirm other/tap")
	}
}

func TestTapGetFormula(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	tap := &Tap{Name: "test/example", Path: tempDir}

	formulaDir := filepath.Join(tempDir, "Formula")
	_ = os.MkdirAll(formulaDir, 0755)

	if _, err := tap.GetFormula("nonexistent"); err == nil {
		t.Error("Expected error for non-existent formula")
	}

	// A Ruby-only definition is reported as not found, with a suggestion
	// pointing at the missing YAML definition, not a stub error.
	_ = os.WriteFile(filepath.Join(formulaDir, "rubyformula.rb"), []byte("# ruby formula"), 0644)
	_, err := tap.GetFormula("rubyformula")
	if err == nil {
		t.Error("Expected error for Ruby-only formula")
	}

	invalidYaml := []byte("invalid: yaml: content")
	_ = os.WriteFile(filepath.Join(formulaDir, "yamlformula.yaml"), invalidYaml, 0644)
	if _, err := tap.GetFormula("yamlformula"); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestTapListFormulae(t *testing.T) {
	logger.Init(false, false, true)

	tempDir := t.TempDir()
	tap := &Tap{Name: "test/example", Path: tempDir}

	formulaDir := filepath.Join(tempDir, "Formula")
	_ = os.MkdirAll(formulaDir, 0755)

	formulae, err := tap.ListFormulae()
	if err != nil {
		t.Fatalf("ListFormulae failed: %v", err)
	}
	if len(formulae) != 0 {
		t.Errorf("Expected 0 formulae in empty directory, got %d", len(formulae))
	}

	formulaFiles := []string{"formula1.rb", "formula2.yaml", "formula3.rb", "readme.txt", "subdir"}
	for _, filename := range formulaFiles {
		path := filepath.Join(formulaDir, filename)
		if filename == "subdir" {
			_ = os.MkdirAll(path, 0755)
		} else {
			_ = os.WriteFile(path, []byte("# "+filename), 0644)
		}
	}

	formulae, err = tap.ListFormulae()
	if err != nil {
		t.Fatalf("ListFormulae failed: %v", err)
	}

	expected := []string{"formula1", "formula2", "formula3"}
	if len(formulae) != len(expected) {
		t.Errorf("Expected %d formulae, got %d", len(expected), len(formulae))
	}
	for i, name := range formulae {
		if i < len(expected) && name != expected[i] {
			t.Errorf("Expected formula %s at index %d, got %s", expected[i], i, name)
		}
	}

	nonExistentTap := &Tap{Name: "nonexistent/tap", Path: "/nonexistent/path"}
	if _, err := nonExistentTap.ListFormulae(); err == nil {
		t.Error("Expected error for non-existent formula directory")
	}
}
