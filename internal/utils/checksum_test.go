package utils

import (
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sps-pm/sps/internal/errors"
)

func sha256Hex(content string) string {
	hasher := sha256.New()
	hasher.Write([]byte(content))
	return hex.EncodeToString(hasher.Sum(nil))
}

func TestVerifySHA256(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.txt")
	content := "Hello, World!"
	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	expected := sha256Hex(content)

	if err := VerifySHA256(testFile, expected); err != nil {
		t.Errorf("VerifySHA256 failed with correct checksum: %v", err)
	}

	err := VerifySHA256(testFile, "0000000000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		t.Fatal("VerifySHA256 should fail with incorrect checksum")
	}
	var spsErr *errors.SpsError
	if !stderrors.As(err, &spsErr) {
		t.Fatalf("expected *errors.SpsError, got %T", err)
	}
	if spsErr.Kind != errors.ChecksumMismatch {
		t.Errorf("expected ChecksumMismatch kind, got %v", spsErr.Kind)
	}

	nonExistent := filepath.Join(tempDir, "nonexistent.txt")
	err = VerifySHA256(nonExistent, expected)
	if err == nil {
		t.Error("VerifySHA256 should fail with non-existent file")
	}
}

func TestVerifySHA256CaseInsensitive(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.txt")
	content := "Case test"
	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	expected := sha256Hex(content)

	if err := VerifySHA256(testFile, strings.ToUpper(expected)); err != nil {
		t.Errorf("VerifySHA256 should treat hex case as insignificant: %v", err)
	}
	if err := VerifySHA256(testFile, expected); err != nil {
		t.Errorf("VerifySHA256 failed with correct lowercase checksum: %v", err)
	}
}

func TestComputeSHA256(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.txt")
	content := "Hello, World!"
	if err := os.WriteFile(testFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	expected := sha256Hex(content)

	actual, err := ComputeSHA256(testFile)
	if err != nil {
		t.Fatalf("ComputeSHA256 failed: %v", err)
	}
	if actual != expected {
		t.Errorf("expected SHA256 %s, got %s", expected, actual)
	}

	nonExistent := filepath.Join(tempDir, "nonexistent.txt")
	if _, err := ComputeSHA256(nonExistent); err == nil {
		t.Error("ComputeSHA256 should fail with non-existent file")
	}
}

func TestVerifySHA256EdgeCases(t *testing.T) {
	tempDir := t.TempDir()

	emptyFile := filepath.Join(tempDir, "empty.txt")
	if err := os.WriteFile(emptyFile, []byte(""), 0644); err != nil {
		t.Fatalf("failed to write empty file: %v", err)
	}
	emptySHA256 := sha256Hex("")
	if err := VerifySHA256(emptyFile, emptySHA256); err != nil {
		t.Errorf("VerifySHA256 failed with empty file: %v", err)
	}

	largeFile := filepath.Join(tempDir, "large.txt")
	largeContent := make([]byte, 1024*1024)
	for i := range largeContent {
		largeContent[i] = byte(i % 256)
	}
	if err := os.WriteFile(largeFile, largeContent, 0644); err != nil {
		t.Fatalf("failed to write large file: %v", err)
	}
	largeSHA256 := sha256Hex(string(largeContent))
	if err := VerifySHA256(largeFile, largeSHA256); err != nil {
		t.Errorf("VerifySHA256 failed with large file: %v", err)
	}
	computed, err := ComputeSHA256(largeFile)
	if err != nil {
		t.Fatalf("ComputeSHA256 failed with large file: %v", err)
	}
	if computed != largeSHA256 {
		t.Errorf("ComputeSHA256 result mismatch for large file")
	}
}
