// Package verification checks a downloaded bottle/source archive, or an
// already-installed keg, against the integrity data sps actually has: a
// SHA-256 digest and (when known) a byte size. Spec §1 names "no signature
// verification beyond SHA-256" as an explicit Non-goal, so unlike a generic
// multi-algorithm checksum library this package has exactly one hash
// function wired in — carrying MD5/SHA1/SHA512 support here would be dead
// code no formula or cask JSON this tool ever parses could exercise.
package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sps-pm/sps/internal/errors"
	"github.com/sps-pm/sps/internal/logger"
)

// ChecksumType names the hash algorithm a Checksum was computed with.
// SHA256 is the only algorithm sps's formula/cask metadata ever carries.
type ChecksumType string

const (
	SHA256 ChecksumType = "sha256"
)

// Checksum pairs an algorithm with its expected hex digest.
type Checksum struct {
	Type  ChecksumType
	Value string
}

// FileInfo describes what a downloaded or installed file is expected to
// look like before VerifyFile inspects the real thing on disk.
type FileInfo struct {
	Path         string
	Size         int64
	ModTime      time.Time
	Checksums    []Checksum
	ExpectedSize int64 // 0 if unknown
}

// VerificationResult reports what VerifyFile found.
type VerificationResult struct {
	FilePath        string
	ChecksumsPassed map[ChecksumType]bool
	SizeMatches     bool
	FileExists      bool
	Errors          []error
	Warnings        []string
}

// Verifier runs size and checksum checks against a single file.
type Verifier struct {
	enableSizeCheck bool
	enableTimeCheck bool
	strictMode      bool
}

// NewVerifier creates a Verifier. In strict mode a size mismatch against an
// ExpectedSize is a hard error; otherwise it is downgraded to a warning,
// since bottle/source download sizes can legitimately shift between
// catalog refreshes.
func NewVerifier(strict bool) *Verifier {
	return &Verifier{
		enableSizeCheck: true,
		enableTimeCheck: false,
		strictMode:      strict,
	}
}

// VerifyFile performs the size and checksum checks FileInfo describes.
func (v *Verifier) VerifyFile(fileInfo *FileInfo) *VerificationResult {
	result := &VerificationResult{
		FilePath:        fileInfo.Path,
		ChecksumsPassed: make(map[ChecksumType]bool),
		Errors:          []error{},
		Warnings:        []string{},
	}

	stat, err := os.Stat(fileInfo.Path)
	if err != nil {
		result.FileExists = false
		result.Errors = append(result.Errors,
			errors.NewPermissionError(fmt.Sprintf("access %s", fileInfo.Path), err))
		return result
	}
	result.FileExists = true

	if fileInfo.ExpectedSize > 0 && v.enableSizeCheck {
		result.SizeMatches = stat.Size() == fileInfo.ExpectedSize
		if !result.SizeMatches {
			msg := fmt.Sprintf("file size mismatch: expected %d bytes, got %d bytes",
				fileInfo.ExpectedSize, stat.Size())
			if v.strictMode {
				result.Errors = append(result.Errors, fmt.Errorf("%s", msg))
			} else {
				result.Warnings = append(result.Warnings, msg)
			}
		}
	} else {
		result.SizeMatches = true
	}

	for _, checksum := range fileInfo.Checksums {
		passed, err := v.verifyChecksum(fileInfo.Path, checksum)
		result.ChecksumsPassed[checksum.Type] = passed
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	return result
}

func (v *Verifier) verifyChecksum(filePath string, checksum Checksum) (bool, error) {
	logger.Debug("Verifying %s checksum for %s", checksum.Type, filepath.Base(filePath))

	if checksum.Type != SHA256 {
		return false, fmt.Errorf("unsupported checksum type: %s", checksum.Type)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return false, errors.NewPermissionError(fmt.Sprintf("read file for checksum %s", filePath), err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false, fmt.Errorf("failed to compute %s checksum: %w", checksum.Type, err)
	}

	actualChecksum := strings.ToLower(hex.EncodeToString(hasher.Sum(nil)))
	expectedChecksum := strings.ToLower(checksum.Value)

	if actualChecksum != expectedChecksum {
		formulaName, version := splitNameVersion(filepath.Base(filePath))
		return false, errors.NewChecksumError(formulaName, version, expectedChecksum, actualChecksum)
	}

	logger.Debug("%s checksum verified successfully", checksum.Type)
	return true, nil
}

// splitNameVersion pulls a best-effort "<name>-<version>-..." split out of
// a bottle/source filename for error reporting; sps's own cache naming
// (cache-<name>-<version>.<ext>) and Homebrew's bottle naming both start
// this way.
func splitNameVersion(filename string) (name, version string) {
	parts := strings.Split(filename, "-")
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}
	return "", ""
}

// ComputeChecksum computes filePath's SHA-256 digest.
func (v *Verifier) ComputeChecksum(filePath string, checksumType ChecksumType) (string, error) {
	if checksumType != SHA256 {
		return "", fmt.Errorf("unsupported checksum type: %s", checksumType)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyMultipleFiles verifies each file in turn.
func (v *Verifier) VerifyMultipleFiles(files []*FileInfo) []*VerificationResult {
	results := make([]*VerificationResult, len(files))
	for i, fileInfo := range files {
		results[i] = v.VerifyFile(fileInfo)
	}
	return results
}

// IsVerificationSuccessful reports whether every critical check passed:
// the file exists, every checksum matched, and no error was recorded.
func (result *VerificationResult) IsVerificationSuccessful() bool {
	if !result.FileExists {
		return false
	}
	for _, passed := range result.ChecksumsPassed {
		if !passed {
			return false
		}
	}
	return len(result.Errors) == 0
}

// GetSummary returns a one-line human-readable verification summary.
func (result *VerificationResult) GetSummary() string {
	if result.IsVerificationSuccessful() {
		return fmt.Sprintf("✓ Verification passed (%d checksums verified)", len(result.ChecksumsPassed))
	}

	var issues []string
	if !result.FileExists {
		issues = append(issues, "file does not exist")
	}
	for checksumType, passed := range result.ChecksumsPassed {
		if !passed {
			issues = append(issues, fmt.Sprintf("%s checksum failed", checksumType))
		}
	}
	if !result.SizeMatches {
		issues = append(issues, "size mismatch")
	}
	if len(result.Errors) > 0 {
		issues = append(issues, fmt.Sprintf("%d errors", len(result.Errors)))
	}

	return fmt.Sprintf("✗ Verification failed: %s", strings.Join(issues, ", "))
}

// LogResults logs the verification outcome through internal/logger.
func (result *VerificationResult) LogResults() {
	if result.IsVerificationSuccessful() {
		logger.Success("Package verification: %s", result.GetSummary())
		return
	}
	logger.Error("Package verification failed for %s", filepath.Base(result.FilePath))
	for _, err := range result.Errors {
		logger.Error("  - %v", err)
	}
	for _, warning := range result.Warnings {
		logger.Warn("  - %s", warning)
	}
}

// PackageVerifier is the high-level entry point the bottle, source, and
// cask installers call: it wraps Verifier with the two shapes the
// pipeline actually needs (a download with a known checksum/size, and an
// already-unpacked keg with neither).
type PackageVerifier struct {
	verifier *Verifier
}

// NewPackageVerifier creates a PackageVerifier.
func NewPackageVerifier(strict bool) *PackageVerifier {
	return &PackageVerifier{verifier: NewVerifier(strict)}
}

// VerifyBottle verifies a downloaded bottle tarball's SHA-256 (and size,
// when known) before the bottle installer is allowed to extract it.
func (pv *PackageVerifier) VerifyBottle(bottlePath, expectedSHA256 string, expectedSize int64) error {
	return pv.verifyDownload(bottlePath, expectedSHA256, expectedSize)
}

// VerifySource verifies a downloaded source archive the same way.
func (pv *PackageVerifier) VerifySource(sourcePath, expectedSHA256 string, expectedSize int64) error {
	return pv.verifyDownload(sourcePath, expectedSHA256, expectedSize)
}

func (pv *PackageVerifier) verifyDownload(path, expectedSHA256 string, expectedSize int64) error {
	fileInfo := &FileInfo{
		Path:         path,
		ExpectedSize: expectedSize,
		Checksums:    []Checksum{{Type: SHA256, Value: expectedSHA256}},
	}

	result := pv.verifier.VerifyFile(fileInfo)
	result.LogResults()

	if !result.IsVerificationSuccessful() {
		for _, err := range result.Errors {
			if spsErr, ok := err.(*errors.SpsError); ok && spsErr.Kind == errors.ChecksumMismatch {
				return spsErr
			}
		}
		return errors.New(errors.ChecksumMismatch, "verify download",
			fmt.Errorf("%s", result.GetSummary()))
	}
	return nil
}

// VerifyInstallation sanity-checks an already-installed keg: it can't
// recompute checksums against bytes the build/relocation/link steps have
// since modified, so it only confirms the keg exists and isn't empty.
func (pv *PackageVerifier) VerifyInstallation(installPath string) *VerificationResult {
	stat, err := os.Stat(installPath)
	if err != nil {
		return &VerificationResult{
			FilePath:   installPath,
			FileExists: false,
			Errors:     []error{err},
		}
	}

	result := &VerificationResult{
		FilePath:        installPath,
		FileExists:      true,
		SizeMatches:     true,
		ChecksumsPassed: make(map[ChecksumType]bool),
	}

	if stat.IsDir() {
		fileCount := 0
		err := filepath.Walk(installPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if !info.IsDir() {
				fileCount++
			}
			return nil
		})
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not walk installation directory: %v", err))
		} else if fileCount == 0 {
			result.Warnings = append(result.Warnings, "installation directory appears to be empty")
		} else {
			logger.Debug("Installation contains %d files", fileCount)
		}
	}

	return result
}
