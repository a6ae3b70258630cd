// Package config derives the on-disk prefix layout and run-time behavior
// flags for sps, generalizing the teacher's environment-driven Config to
// the full prefix layout of spec §6 and adding an optional local TOML
// override file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds every path and behavior flag the core needs. It is loaded
// once at process startup by the CLI layer and passed down as a parameter
// — core packages never read the environment directly (spec §9, "Global
// process state").
type Config struct {
	// Core paths (spec §6 prefix layout).
	Prefix    string
	Cellar    string
	Caskroom  string
	CaskStore string
	Cache     string
	Logs      string
	Taps      string
	VarState  string
	Tmp       string
	// Repository and Library exist for compatibility with the teacher's
	// notion of a separate brew-checkout location; sps ships as a single
	// static binary, so both simply mirror Prefix.
	Repository string
	Library    string

	// Behavior flags.
	Debug           bool
	Verbose         bool
	Quiet           bool
	Force           bool
	DryRun          bool
	BuildFromSource bool
	ForceBottle     bool
	KeepTmp         bool
	NoInstallUpgrade bool
	InstallCleanup   bool

	// Resolver switches (spec §4.1 ResolutionContext).
	IncludeOptional bool
	IncludeTest     bool
	SkipRecommended bool

	// Pipeline (spec §4.3/§5).
	MaxConcurrentInstalls int

	// Network settings.
	CurlRetries        int
	CurlConnectTimeout int
	CurlMaxTime        int
	DownloadConnectSec int
	DownloadTotalSec   int

	// Auto-update (spec SUPPLEMENTED FEATURES §C.4).
	NoAutoUpdate   bool
	AutoUpdateSecs int

	// Build (spec §4.7).
	MakeJobs int

	// CI/Testing.
	CI bool
}

// fileConfig is the shape of an optional <prefix>/etc/sps.toml override.
type fileConfig struct {
	BuildFromSource       *bool `toml:"build_from_source"`
	ForceBottle           *bool `toml:"force_bottle"`
	MaxConcurrentInstalls *int  `toml:"max_concurrent_installs"`
	NoAutoUpdate          *bool `toml:"no_auto_update"`
	AutoUpdateSecs        *int  `toml:"auto_update_secs"`
}

// New creates a Config with default values, environment overrides, and (if
// present) a local sps.toml override layered on top.
func New() (*Config, error) {
	cfg := &Config{
		CurlRetries:           3,
		CurlConnectTimeout:    5,
		MaxConcurrentInstalls: 4,
		DownloadConnectSec:    30,
		DownloadTotalSec:      300,
		AutoUpdateSecs:        86400,
		MakeJobs:              runtime.NumCPU(),
	}

	if err := cfg.setPaths(); err != nil {
		return nil, fmt.Errorf("failed to set paths: %w", err)
	}

	cfg.loadFromEnv()
	cfg.loadFromFile()

	return cfg, nil
}

func (c *Config) setPaths() error {
	if c.Prefix == "" {
		if prefix := os.Getenv("SPS_PREFIX"); prefix != "" {
			c.Prefix = prefix
		} else if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
			c.Prefix = "/opt/sps"
		} else if runtime.GOOS == "darwin" {
			c.Prefix = "/usr/local/sps"
		} else {
			c.Prefix = "/home/sps/.sps"
		}
	}

	if c.Cellar == "" {
		c.Cellar = envOrJoin("SPS_CELLAR", c.Prefix, "Cellar")
	}
	if c.Caskroom == "" {
		c.Caskroom = envOrJoin("SPS_CASKROOM", c.Prefix, "Caskroom")
	}
	if c.CaskStore == "" {
		c.CaskStore = envOrJoin("SPS_CASKSTORE", c.Prefix, "CaskStore")
	}
	if c.Taps == "" {
		c.Taps = envOrJoin("SPS_TAPS", c.Prefix, filepath.Join("var", "taps"))
	}

	if c.Cache == "" {
		if cache := os.Getenv("SPS_CACHE"); cache != "" {
			c.Cache = cache
		} else {
			c.Cache = filepath.Join(c.Prefix, "var", "cache")
		}
	}
	if c.Logs == "" {
		if logs := os.Getenv("SPS_LOGS"); logs != "" {
			c.Logs = logs
		} else {
			c.Logs = filepath.Join(c.Prefix, "var", "log")
		}
	}
	if c.VarState == "" {
		c.VarState = filepath.Join(c.Prefix, "var", "state")
	}
	if c.Tmp == "" {
		if tmp := os.Getenv("SPS_TMP"); tmp != "" {
			c.Tmp = tmp
		} else {
			c.Tmp = filepath.Join(c.Prefix, "var", "tmp")
		}
	}

	c.Repository = c.Prefix
	c.Library = filepath.Join(c.Prefix, "Library")

	return nil
}

func envOrJoin(env, prefix, sub string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return filepath.Join(prefix, sub)
}

func (c *Config) loadFromEnv() {
	c.Debug = getBoolEnv("SPS_DEBUG", c.Debug)
	c.Verbose = getBoolEnv("SPS_VERBOSE", c.Verbose)
	c.Quiet = getBoolEnv("SPS_QUIET", c.Quiet)
	c.Force = getBoolEnv("SPS_FORCE", c.Force)
	c.BuildFromSource = getBoolEnv("SPS_BUILD_FROM_SOURCE", c.BuildFromSource)
	c.ForceBottle = getBoolEnv("SPS_FORCE_BOTTLE", c.ForceBottle)
	c.KeepTmp = getBoolEnv("SPS_KEEP_TMP", c.KeepTmp)
	c.NoInstallUpgrade = getBoolEnv("SPS_NO_INSTALL_UPGRADE", c.NoInstallUpgrade)
	c.InstallCleanup = getBoolEnv("SPS_INSTALL_CLEANUP", c.InstallCleanup)

	c.IncludeOptional = getBoolEnv("SPS_INCLUDE_OPTIONAL", c.IncludeOptional)
	c.IncludeTest = getBoolEnv("SPS_INCLUDE_TEST", c.IncludeTest)
	c.SkipRecommended = getBoolEnv("SPS_SKIP_RECOMMENDED", c.SkipRecommended)

	c.MaxConcurrentInstalls = getIntEnv("SPS_MAX_CONCURRENT_INSTALLS", c.MaxConcurrentInstalls)
	c.CurlRetries = getIntEnv("SPS_CURL_RETRIES", c.CurlRetries)
	c.CurlConnectTimeout = getIntEnv("SPS_CURL_CONNECT_TIMEOUT", c.CurlConnectTimeout)
	c.CurlMaxTime = getIntEnv("SPS_CURL_MAX_TIME", c.CurlMaxTime)

	c.NoAutoUpdate = getBoolEnv("SPS_NO_AUTO_UPDATE", c.NoAutoUpdate)
	c.AutoUpdateSecs = getIntEnv("SPS_AUTO_UPDATE_SECS", c.AutoUpdateSecs)

	// Recognized verbatim for compatibility with existing build scripts.
	c.MakeJobs = getIntEnv("HOMEBREW_MAKE_JOBS", c.MakeJobs)

	c.CI = getBoolEnv("CI", c.CI)
}

// loadFromFile applies <prefix>/etc/sps.toml on top of env-derived values,
// if the file exists. Malformed files are ignored rather than fatal — the
// prefix may not be initialized yet when Config is constructed.
func (c *Config) loadFromFile() {
	path := filepath.Join(c.Prefix, "etc", "sps.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return
	}

	if fc.BuildFromSource != nil {
		c.BuildFromSource = *fc.BuildFromSource
	}
	if fc.ForceBottle != nil {
		c.ForceBottle = *fc.ForceBottle
	}
	if fc.MaxConcurrentInstalls != nil {
		c.MaxConcurrentInstalls = *fc.MaxConcurrentInstalls
	}
	if fc.NoAutoUpdate != nil {
		c.NoAutoUpdate = *fc.NoAutoUpdate
	}
	if fc.AutoUpdateSecs != nil {
		c.AutoUpdateSecs = *fc.AutoUpdateSecs
	}
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		if value == "1" {
			return true
		} else if value == "0" {
			return false
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// RootMarker is the path to the file that identifies an initialized prefix.
func (c *Config) RootMarker() string {
	return filepath.Join(c.Prefix, ".sps_root")
}

// IsInitialized reports whether the root marker file exists. No sps command
// writes the marker.
func (c *Config) IsInitialized() bool {
	_, err := os.Stat(c.RootMarker())
	return err == nil
}

// EnsureDirectories creates every directory the prefix layout requires.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Join(c.Prefix, "bin"),
		filepath.Join(c.Prefix, "sbin"),
		filepath.Join(c.Prefix, "lib"),
		filepath.Join(c.Prefix, "include"),
		filepath.Join(c.Prefix, "share"),
		filepath.Join(c.Prefix, "opt"),
		filepath.Join(c.Prefix, "etc"),
		c.Cellar,
		c.Caskroom,
		c.CaskStore,
		c.Cache,
		c.Logs,
		c.Taps,
		c.VarState,
		c.Tmp,
		filepath.Join(c.Library, "PinnedKegs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ShellPathExport returns an export line that puts <prefix>/bin and
// <prefix>/sbin ahead of $PATH. No sps command prints it, and shell rc
// files are never modified.
func (c *Config) ShellPathExport() string {
	return fmt.Sprintf("export PATH=%q", strings.Join([]string{
		filepath.Join(c.Prefix, "bin"),
		filepath.Join(c.Prefix, "sbin"),
		"$PATH",
	}, ":"))
}
