// Package errors provides the structured error type used across every core
// package. Core code never returns bare errors for user-facing failures; it
// wraps them in a *SpsError carrying a Kind, the operation, and the package
// context so the CLI layer can print detailed, actionable diagnostics.
package errors

import (
	"fmt"
	"strings"
)

// Kind categorizes a failure the way spec §7 enumerates them: "kinds, not
// types" — a closed set used for dispatch (retry policy, exit behavior),
// not a type hierarchy.
type Kind int

const (
	// Generic is the fallback kind for errors with no more specific category.
	Generic Kind = iota
	// NotFound represents a missing formula, cask, or keg.
	NotFound
	// DependencyError represents a cycle or unresolvable dependency.
	DependencyError
	// DownloadError represents a failed network fetch.
	DownloadError
	// ChecksumMismatch represents a SHA-256 verification failure.
	ChecksumMismatch
	// ExtractionError represents an unsafe or malformed archive.
	ExtractionError
	// BuildEnvError represents a failure sanitizing or constructing the build environment.
	BuildEnvError
	// BuildFailure represents a nonzero exit from a build tool.
	BuildFailure
	// RelocationError represents a Mach-O codesign failure.
	RelocationError
	// InstallError represents a filesystem operation failure during install.
	InstallError
	// ManifestError represents a manifest parse/write failure.
	ManifestError
	// CommandExecError represents a failed external command invocation.
	CommandExecError
	// Io represents a generic filesystem I/O failure.
	Io
	// Json represents a JSON marshal/unmarshal failure.
	Json
	// Http represents a non-2xx HTTP response that isn't better classified.
	Http
	// ValidationError represents unsafe or malformed user/declared input (zap/launchd/pkgutil ids, paths).
	ValidationError
	// Cache represents a local cache read/write failure.
	Cache
	// PermissionError represents a filesystem permission failure.
	PermissionError
	// ConfigurationError represents a configuration problem.
	ConfigurationError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case DependencyError:
		return "dependency error"
	case DownloadError:
		return "download error"
	case ChecksumMismatch:
		return "checksum mismatch"
	case ExtractionError:
		return "extraction error"
	case BuildEnvError:
		return "build environment error"
	case BuildFailure:
		return "build failure"
	case RelocationError:
		return "relocation error"
	case InstallError:
		return "install error"
	case ManifestError:
		return "manifest error"
	case CommandExecError:
		return "command execution error"
	case Io:
		return "I/O error"
	case Json:
		return "JSON error"
	case Http:
		return "HTTP error"
	case ValidationError:
		return "validation error"
	case Cache:
		return "cache error"
	case PermissionError:
		return "permission error"
	case ConfigurationError:
		return "configuration error"
	default:
		return "error"
	}
}

// SpsError is a structured error carrying enough context for the CLI layer
// to render a detailed, suggestion-bearing diagnostic.
type SpsError struct {
	Kind        Kind
	Operation   string
	Formula     string
	Version     string
	Platform    string
	Cause       error
	Suggestions []string
	Recoverable bool
}

// Error implements the error interface.
func (e *SpsError) Error() string {
	var parts []string

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation '%s' failed", e.Operation))
	}
	if e.Formula != "" {
		parts = append(parts, fmt.Sprintf("for formula '%s'", e.Formula))
	}
	if e.Version != "" {
		parts = append(parts, fmt.Sprintf("version '%s'", e.Version))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("reason: %v", e.Cause))
	}

	if len(parts) == 0 {
		return e.Kind.String()
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *SpsError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a specific kind.
func (e *SpsError) Is(target error) bool {
	if spsErr, ok := target.(*SpsError); ok {
		return e.Kind == spsErr.Kind
	}
	return false
}

// New creates a bare SpsError of the given kind.
func New(kind Kind, operation string, cause error) *SpsError {
	return &SpsError{Kind: kind, Operation: operation, Cause: cause}
}

// NewNotFoundError creates a formula/cask/keg-not-found error.
func NewNotFoundError(name string) *SpsError {
	return &SpsError{
		Kind:      NotFound,
		Operation: "lookup",
		Formula:   name,
		Suggestions: []string{
			fmt.Sprintf("Search for similar names with 'sps search %s'", name),
			"Check if the name is spelled correctly",
			"Try refreshing the catalog with 'sps update'",
			"Check if it lives in a tap that needs to be added",
		},
	}
}

// NewDependencyError creates a dependency-related error.
func NewDependencyError(formula, dependency string, cause error) *SpsError {
	return &SpsError{
		Kind:      DependencyError,
		Operation: "dependency resolution",
		Formula:   formula,
		Cause:     cause,
		Suggestions: []string{
			fmt.Sprintf("Try installing '%s' separately first", dependency),
			"Check if the dependency name is correct",
			"Use --ignore-dependencies to skip dependency checks",
		},
		Recoverable: true,
	}
}

// NewDownloadError creates a download-related error.
func NewDownloadError(operation, url string, cause error) *SpsError {
	suggestions := []string{
		"Check your internet connection",
		"Verify the download URL is correct",
		"Try downloading manually to test connectivity",
	}
	if cause != nil {
		if strings.Contains(cause.Error(), "404") {
			suggestions = append(suggestions, "The file may have been moved or deleted")
		}
		if strings.Contains(cause.Error(), "timeout") || strings.Contains(cause.Error(), "deadline exceeded") {
			suggestions = append(suggestions, "The server may be slow, try again later")
		}
	}
	return &SpsError{
		Kind:        DownloadError,
		Operation:   operation,
		Cause:       cause,
		Suggestions: suggestions,
		Recoverable: true,
	}
}

// NewChecksumError creates a checksum verification error.
func NewChecksumError(formula, version, expected, actual string) *SpsError {
	return &SpsError{
		Kind:      ChecksumMismatch,
		Operation: "checksum verification",
		Formula:   formula,
		Version:   version,
		Cause:     fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual),
		Suggestions: []string{
			"The download may be corrupted, try downloading again",
			"Clear the cache and retry the installation",
			"Report this issue if it persists",
		},
		Recoverable: true,
	}
}

// NewExtractionError creates an archive-extraction error.
func NewExtractionError(path string, cause error) *SpsError {
	return &SpsError{
		Kind:      ExtractionError,
		Operation: "extraction",
		Cause:     cause,
		Suggestions: []string{
			fmt.Sprintf("The archive %s may be corrupted or malicious", path),
			"Re-download and retry",
		},
	}
}

// NewBuildEnvError creates a build-environment sanitization error.
func NewBuildEnvError(formula string, cause error) *SpsError {
	return &SpsError{
		Kind:      BuildEnvError,
		Operation: "build environment setup",
		Formula:   formula,
		Cause:     cause,
	}
}

// NewBuildFailure creates a build-tool failure error.
func NewBuildFailure(formula, version string, cause error) *SpsError {
	return &SpsError{
		Kind:      BuildFailure,
		Operation: "build",
		Formula:   formula,
		Version:   version,
		Cause:     cause,
		Suggestions: []string{
			"Check if you have the required build tools installed",
			"Look for error messages in the build output above",
		},
	}
}

// NewRelocationError creates a Mach-O relocation/codesign error.
func NewRelocationError(path string, cause error) *SpsError {
	return &SpsError{
		Kind:      RelocationError,
		Operation: "binary relocation",
		Cause:     fmt.Errorf("%s: %w", path, cause),
	}
}

// NewInstallError creates a general installation error.
func NewInstallError(formula, version string, cause error) *SpsError {
	return &SpsError{
		Kind:      InstallError,
		Operation: "installation",
		Formula:   formula,
		Version:   version,
		Cause:     cause,
		Suggestions: []string{
			"Check the installation logs for more details",
			"Try installing with --verbose for more information",
		},
	}
}

// NewManifestError creates a manifest parse/write error.
func NewManifestError(path string, cause error) *SpsError {
	return &SpsError{
		Kind:      ManifestError,
		Operation: "manifest",
		Cause:     fmt.Errorf("%s: %w", path, cause),
	}
}

// NewCommandExecError creates an external-command execution error.
func NewCommandExecError(command string, cause error) *SpsError {
	return &SpsError{
		Kind:      CommandExecError,
		Operation: command,
		Cause:     cause,
	}
}

// NewValidationError creates an unsafe-input error.
func NewValidationError(operation, detail string) *SpsError {
	return &SpsError{
		Kind:      ValidationError,
		Operation: operation,
		Cause:     fmt.Errorf("%s", detail),
	}
}

// NewPermissionError creates a permission-related error.
func NewPermissionError(operation string, cause error) *SpsError {
	return &SpsError{
		Kind:      PermissionError,
		Operation: operation,
		Cause:     cause,
		Suggestions: []string{
			"Check file and directory permissions",
			"Ensure you have write access to the installation directory",
		},
		Recoverable: true,
	}
}

// NewConfigurationError creates a configuration-related error.
func NewConfigurationError(operation string, cause error) *SpsError {
	return &SpsError{
		Kind:      ConfigurationError,
		Operation: operation,
		Cause:     cause,
		Suggestions: []string{
			"Check your sps configuration",
			"Verify environment variables are set correctly",
			"Try running 'sps doctor' to diagnose issues",
		},
		Recoverable: true,
	}
}

// Wrap wraps an error with additional context, updating an existing
// *SpsError in place or creating a new InstallError-kind wrapper.
func Wrap(err error, operation, formula string) error {
	if err == nil {
		return nil
	}
	if spsErr, ok := err.(*SpsError); ok {
		spsErr.Operation = operation
		if spsErr.Formula == "" {
			spsErr.Formula = formula
		}
		return spsErr
	}
	return &SpsError{
		Kind:      InstallError,
		Operation: operation,
		Formula:   formula,
		Cause:     err,
	}
}

// IsRecoverable checks if an error can be recovered from.
func IsRecoverable(err error) bool {
	if spsErr, ok := err.(*SpsError); ok {
		return spsErr.Recoverable
	}
	return false
}

// GetKind returns the error kind for a given error.
func GetKind(err error) Kind {
	if spsErr, ok := err.(*SpsError); ok {
		return spsErr.Kind
	}
	return Generic
}
