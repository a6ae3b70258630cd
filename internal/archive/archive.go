// Package archive safely extracts the tar/zip archives bottles and
// source tarballs ship as. It generalizes the teacher's extractTarGz
// (internal/installer/installer.go), which extracted gzip-only tar
// with no strip-components support and no path-traversal guard, into
// the full format set and safety checks spec §4.6/§4.7 require,
// grounded on tsukumogami-tsuku's internal/actions/extract.go.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/sps-pm/sps/internal/errors"
)

// Format identifies an archive's compression/container scheme.
type Format int

const (
	FormatUnknown Format = iota
	FormatTarGz
	FormatTarBz2
	FormatTarXz
	FormatTar
	FormatZip
)

// DetectFormat infers a Format from an archive's filename.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"), strings.HasSuffix(lower, ".tbz"):
		return FormatTarBz2
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	default:
		return FormatUnknown
	}
}

// Options controls extraction behavior.
type Options struct {
	// StripComponents removes this many leading path elements from
	// every entry; entries with fewer elements than this are skipped
	// entirely (mirrors tar --strip-components).
	StripComponents int
}

// Extract extracts archivePath into destPath, which must already
// exist. Format is auto-detected from archivePath's name; use
// ExtractFormat to name the format explicitly.
func Extract(archivePath, destPath string, opts Options) error {
	format := DetectFormat(archivePath)
	return ExtractFormat(format, archivePath, destPath, opts)
}

// ExtractFormat extracts archivePath using an explicitly-named format.
func ExtractFormat(format Format, archivePath, destPath string, opts Options) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.New(errors.ExtractionError, "extract", err)
	}
	defer f.Close()

	var err2 error
	switch format {
	case FormatTarGz:
		gz, gerr := gzip.NewReader(f)
		if gerr != nil {
			return errors.New(errors.ExtractionError, "extract", gerr)
		}
		defer gz.Close()
		err2 = extractTar(tar.NewReader(gz), destPath, opts)
	case FormatTarBz2:
		err2 = extractTar(tar.NewReader(bzip2.NewReader(f)), destPath, opts)
	case FormatTarXz:
		xr, xerr := xz.NewReader(f)
		if xerr != nil {
			return errors.New(errors.ExtractionError, "extract", xerr)
		}
		err2 = extractTar(tar.NewReader(xr), destPath, opts)
	case FormatTar:
		err2 = extractTar(tar.NewReader(f), destPath, opts)
	case FormatZip:
		return extractZip(archivePath, destPath, opts)
	default:
		return errors.New(errors.ExtractionError, "extract", fmt.Errorf("unsupported archive format for %s", archivePath))
	}
	if err2 != nil {
		return errors.New(errors.ExtractionError, "extract", err2)
	}
	return nil
}

// stripAndJoin applies StripComponents to name and joins the
// remainder onto destPath, returning ok=false when the entry should
// be skipped (too few path components to survive stripping).
func stripAndJoin(destPath, name string, strip int) (target string, ok bool) {
	clean := strings.TrimPrefix(filepath.ToSlash(name), "./")
	parts := strings.Split(clean, "/")
	if len(parts) <= strip {
		return "", false
	}
	parts = parts[strip:]
	return filepath.Join(destPath, filepath.Join(parts...)), true
}

// isWithin reports whether target lies within base (or equals it),
// resolved to absolute paths so ".." components can't escape it.
func isWithin(target, base string) bool {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}

func extractTar(tr *tar.Reader, destPath string, opts Options) error {
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		target, ok := stripAndJoin(destPath, header.Name, opts.StripComponents)
		if !ok {
			continue
		}
		if !isWithin(target, destPath) {
			return fmt.Errorf("archive entry escapes destination: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("mkdir parent of %s: %w", target, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("write %s: %w", target, err)
			}
			out.Close()

		case tar.TypeSymlink:
			if err := validateSymlinkTarget(header.Linkname, target, destPath); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("mkdir parent of %s: %w", target, err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("symlink %s: %w", target, err)
			}

		case tar.TypeLink:
			// Hard links: only ever honored if the link target also
			// resolves inside destPath.
			linkTarget, ok := stripAndJoin(destPath, header.Linkname, opts.StripComponents)
			if !ok || !isWithin(linkTarget, destPath) {
				return fmt.Errorf("hardlink target escapes destination: %s -> %s", header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("mkdir parent of %s: %w", target, err)
			}
			_ = os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("link %s: %w", target, err)
			}
		}
	}
	return nil
}

// validateSymlinkTarget rejects absolute symlink targets and targets
// that would resolve outside destPath.
func validateSymlinkTarget(linkTarget, linkLocation, destPath string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("absolute symlink target not allowed: %s -> %s", linkLocation, linkTarget)
	}
	resolved := filepath.Join(filepath.Dir(linkLocation), linkTarget)
	if !isWithin(resolved, destPath) {
		return fmt.Errorf("symlink target escapes destination: %s -> %s", linkLocation, linkTarget)
	}
	return nil
}

func extractZip(archivePath, destPath string, opts Options) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	for _, zf := range r.File {
		target, ok := stripAndJoin(destPath, zf.Name, opts.StripComponents)
		if !ok {
			continue
		}
		if !isWithin(target, destPath) {
			return fmt.Errorf("zip entry escapes destination: %s", zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("mkdir parent of %s: %w", target, err)
		}

		if err := extractZipEntry(zf, target, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(zf *zip.File, target, destPath string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", zf.Name, err)
	}
	defer rc.Close()

	mode := zf.Mode()
	if mode&os.ModeSymlink != 0 {
		data, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read symlink entry %s: %w", zf.Name, err)
		}
		linkName := string(data)
		if err := validateSymlinkTarget(linkName, target, destPath); err != nil {
			return err
		}
		_ = os.Remove(target)
		return os.Symlink(linkName, target)
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, mode.Perm()|0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}
