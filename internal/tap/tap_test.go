package tap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sps-pm/sps/internal/config"
)

func TestNewManager(t *testing.T) {
	cfg := &config.Config{}
	manager := NewManager(cfg)

	if manager.cfg != cfg {
		t.Error("Manager should store config reference")
	}
}

func TestValidateTapName(t *testing.T) {
	cfg := &config.Config{}
	manager := NewManager(cfg)

	tests := []struct {
		name    string
		tapName string
		wantErr bool
	}{
		{"valid tap name", "user/repo", false},
		{"valid short name", "myrepo", false},
		{"empty name", "", true},
		{"name with spaces", "user name/repo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := manager.validateTapName(tt.tapName)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTapName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetDefaultRemote(t *testing.T) {
	cfg := &config.Config{}
	manager := NewManager(cfg)

	tests := []struct {
		name     string
		tapName  string
		expected string
	}{
		{
			name:     "full tap name",
			tapName:  "user/repo",
			expected: "https://github.com/user/homebrew-repo.git",
		},
		{
			name:     "short tap name",
			tapName:  "myrepo",
			expected: "https://github.com/homebrew/homebrew-myrepo.git",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := manager.getDefaultRemote(tt.tapName)
			if result != tt.expected {
				t.Errorf("getDefaultRemote() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestGetTapPath(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{Taps: tmpDir}
	manager := NewManager(cfg)

	tests := []struct {
		name     string
		tapName  string
		expected string
	}{
		{
			name:     "full tap name",
			tapName:  "user/repo",
			expected: filepath.Join(tmpDir, "user", "repo"),
		},
		{
			name:     "short tap name",
			tapName:  "myrepo",
			expected: filepath.Join(tmpDir, "homebrew", "myrepo"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := manager.getTapPath(tt.tapName)
			if result != tt.expected {
				t.Errorf("getTapPath() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestIsTapDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{}
	manager := NewManager(cfg)

	emptyDir := filepath.Join(tmpDir, "empty")
	if err := os.MkdirAll(emptyDir, 0755); err != nil {
		t.Fatalf("Failed to create empty directory: %v", err)
	}
	if manager.isTapDirectory(emptyDir) {
		t.Error("Empty directory should not be a tap directory")
	}

	formulaDir := filepath.Join(tmpDir, "with-formula", "Formula")
	if err := os.MkdirAll(formulaDir, 0755); err != nil {
		t.Fatalf("Failed to create formula directory: %v", err)
	}
	if !manager.isTapDirectory(filepath.Join(tmpDir, "with-formula")) {
		t.Error("Directory with Formula subdirectory should be a tap directory")
	}

	casksDir := filepath.Join(tmpDir, "with-casks", "Casks")
	if err := os.MkdirAll(casksDir, 0755); err != nil {
		t.Fatalf("Failed to create casks directory: %v", err)
	}
	if !manager.isTapDirectory(filepath.Join(tmpDir, "with-casks")) {
		t.Error("Directory with Casks subdirectory should be a tap directory")
	}

	if manager.isTapDirectory("/non/existent/directory") {
		t.Error("Non-existent directory should not be a tap directory")
	}
}

func TestCountFormulae(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{}
	manager := NewManager(cfg)

	formulaDir := filepath.Join(tmpDir, "Formula")
	if err := os.MkdirAll(formulaDir, 0755); err != nil {
		t.Fatalf("Failed to create formula directory: %v", err)
	}

	testFormulae := []string{"wget.rb", "curl.rb", "python.yaml", "not-a-formula.txt"}
	for _, name := range testFormulae {
		if err := os.WriteFile(filepath.Join(formulaDir, name), []byte("# test formula"), 0644); err != nil {
			t.Fatalf("Failed to create test formula %s: %v", name, err)
		}
	}

	count := manager.countFormulae(tmpDir)
	expectedCount := 3 // .rb and .yaml count, .txt is ignored
	if count != expectedCount {
		t.Errorf("countFormulae() = %v, want %v", count, expectedCount)
	}

	emptyDir := filepath.Join(tmpDir, "empty")
	if err := os.MkdirAll(emptyDir, 0755); err != nil {
		t.Fatalf("Failed to create empty directory: %v", err)
	}
	if count := manager.countFormulae(emptyDir); count != 0 {
		t.Errorf("countFormulae() for directory without Formula = %v, want 0", count)
	}
}

func TestCountCasks(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{}
	manager := NewManager(cfg)

	casksDir := filepath.Join(tmpDir, "Casks")
	if err := os.MkdirAll(casksDir, 0755); err != nil {
		t.Fatalf("Failed to create casks directory: %v", err)
	}

	testCasks := []string{"firefox.rb", "chrome.yaml", "not-a-cask.txt"}
	for _, name := range testCasks {
		if err := os.WriteFile(filepath.Join(casksDir, name), []byte("# test cask"), 0644); err != nil {
			t.Fatalf("Failed to create test cask %s: %v", name, err)
		}
	}

	count := manager.countCasks(tmpDir)
	expectedCount := 2
	if count != expectedCount {
		t.Errorf("countCasks() = %v, want %v", count, expectedCount)
	}
}

func TestLoadTap(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{Taps: tmpDir}
	manager := NewManager(cfg)

	tapPath := filepath.Join(tmpDir, "testuser", "testrepo")
	formulaDir := filepath.Join(tapPath, "Formula")
	if err := os.MkdirAll(formulaDir, 0755); err != nil {
		t.Fatalf("Failed to create tap directory: %v", err)
	}

	testFormulae := []string{"formula1.rb", "formula2.rb"}
	for _, name := range testFormulae {
		if err := os.WriteFile(filepath.Join(formulaDir, name), []byte("# test formula"), 0644); err != nil {
			t.Fatalf("Failed to create test formula: %v", err)
		}
	}

	tap, err := manager.loadTap(tapPath)
	if err != nil {
		t.Fatalf("loadTap() error = %v", err)
	}

	if tap.Name != "testuser/testrepo" {
		t.Errorf("Tap name = %v, want testuser/testrepo", tap.Name)
	}
	if tap.User != "testuser" {
		t.Errorf("Tap user = %v, want testuser", tap.User)
	}
	if tap.Repository != "testrepo" {
		t.Errorf("Tap repository = %v, want testrepo", tap.Repository)
	}
	if !tap.Installed {
		t.Error("Loaded tap should be marked as installed")
	}
	if tap.Formulae != 2 {
		t.Errorf("Tap formulae count = %v, want 2", tap.Formulae)
	}
	if tap.Official {
		t.Error("Test user tap should not be marked as official")
	}
}

func TestVerifyTap(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{}
	manager := NewManager(cfg)

	emptyDir := filepath.Join(tmpDir, "empty")
	if err := os.MkdirAll(emptyDir, 0755); err != nil {
		t.Fatalf("Failed to create empty directory: %v", err)
	}
	if err := manager.verifyTap(emptyDir); err == nil {
		t.Error("verifyTap() should fail for empty directory")
	}

	formulaDir := filepath.Join(tmpDir, "with-formula")
	if err := os.MkdirAll(filepath.Join(formulaDir, "Formula"), 0755); err != nil {
		t.Fatalf("Failed to create formula directory: %v", err)
	}
	if err := manager.verifyTap(formulaDir); err != nil {
		t.Errorf("verifyTap() should pass for directory with Formula: %v", err)
	}

	casksDir := filepath.Join(tmpDir, "with-casks")
	if err := os.MkdirAll(filepath.Join(casksDir, "Casks"), 0755); err != nil {
		t.Fatalf("Failed to create casks directory: %v", err)
	}
	if err := manager.verifyTap(casksDir); err != nil {
		t.Errorf("verifyTap() should pass for directory with Casks: %v", err)
	}
}

func TestTapOptions(t *testing.T) {
	opts := &TapOptions{
		Force:   true,
		Quiet:   false,
		Shallow: true,
		Branch:  "main",
	}

	if !opts.Force {
		t.Error("Force option should be true")
	}
	if opts.Quiet {
		t.Error("Quiet option should be false")
	}
	if !opts.Shallow {
		t.Error("Shallow option should be true")
	}
	if opts.Branch != "main" {
		t.Errorf("Branch option = %v, want main", opts.Branch)
	}
}

func TestTapStruct(t *testing.T) {
	tap := &Tap{
		Name:       "user/repo",
		FullName:   "homebrew/repo",
		User:       "user",
		Repository: "repo",
		Remote:     "https://github.com/user/homebrew-repo.git",
		Path:       "/path/to/tap",
		Installed:  true,
		Official:   false,
		Formulae:   10,
		Casks:      5,
	}

	if tap.Name != "user/repo" {
		t.Errorf("Name = %v, want user/repo", tap.Name)
	}
	if !tap.Installed {
		t.Error("Installed should be true")
	}
	if tap.Official {
		t.Error("Official should be false for user tap")
	}
	if tap.Formulae != 10 {
		t.Errorf("Formulae count = %v, want 10", tap.Formulae)
	}
	if tap.Casks != 5 {
		t.Errorf("Casks count = %v, want 5", tap.Casks)
	}
}

func TestTapListFormulaeOriginal(t *testing.T) {
	tmpDir := t.TempDir()

	tap := &Tap{Name: "test/tap", Path: tmpDir}

	formulaDir := filepath.Join(tmpDir, "Formula")
	if err := os.MkdirAll(formulaDir, 0755); err != nil {
		t.Fatalf("Failed to create formula directory: %v", err)
	}

	testFormulae := []string{"wget.rb", "curl.rb", "python.yaml", "not-a-formula.txt"}
	for _, name := range testFormulae {
		if err := os.WriteFile(filepath.Join(formulaDir, name), []byte("# test formula"), 0644); err != nil {
			t.Fatalf("Failed to create test formula %s: %v", name, err)
		}
	}

	formulae, err := tap.ListFormulae()
	if err != nil {
		t.Fatalf("ListFormulae() error = %v", err)
	}

	expectedCount := 3
	if len(formulae) != expectedCount {
		t.Errorf("ListFormulae() count = %v, want %v", len(formulae), expectedCount)
	}

	expectedFormulae := []string{"curl", "python", "wget"}
	for i, expected := range expectedFormulae {
		if i < len(formulae) && formulae[i] != expected {
			t.Errorf("Formula[%d] = %v, want %v", i, formulae[i], expected)
		}
	}

	for _, name := range formulae {
		if strings.Contains(name, "not-a-formula") {
			t.Error("Non-formula files should not be included")
		}
	}
}
