package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func buildTarGz(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func buildMaliciousTarGz(t *testing.T, name string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := "pwned"
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gz.Close()

	path := filepath.Join(t.TempDir(), "evil.tar.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtract_TarGzStripComponents(t *testing.T) {
	archivePath := buildTarGz(t, map[string]string{
		"pkg-1.0/bin/tool":    "#!/bin/sh\n",
		"pkg-1.0/share/doc":   "docs",
		"pkg-1.0/lib/libfoo":  "lib",
	})
	dest := t.TempDir()

	if err := Extract(archivePath, dest, Options{StripComponents: 1}); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	for _, rel := range []string{"bin/tool", "share/doc", "lib/libfoo"} {
		if _, err := os.Stat(filepath.Join(dest, rel)); err != nil {
			t.Errorf("expected %s to exist: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "pkg-1.0")); !os.IsNotExist(err) {
		t.Error("stripped prefix directory should not exist")
	}
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	archivePath := buildMaliciousTarGz(t, "../../etc/passwd")
	dest := t.TempDir()

	if err := Extract(archivePath, dest, Options{}); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(dest)), "etc", "passwd")); !os.IsNotExist(err) {
		t.Error("traversal entry must not have been written")
	}
}

func TestExtract_RejectsSymlinkEscape(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	_ = tw.WriteHeader(&tar.Header{
		Name:     "link",
		Typeflag: tar.TypeSymlink,
		Linkname: "../../../etc/passwd",
		Mode:     0777,
	})
	tw.Close()
	gz.Close()

	path := filepath.Join(t.TempDir(), "evil-link.tar.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	if err := Extract(path, dest, Options{}); err == nil {
		t.Fatal("expected symlink escape to be rejected")
	}
}

func TestExtract_Zip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("root/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "archive.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	if err := Extract(path, dest, Options{}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "root", "file.txt"))
	if err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want hello", data)
	}
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"foo.tar.gz":  FormatTarGz,
		"foo.tgz":     FormatTarGz,
		"foo.tar.bz2": FormatTarBz2,
		"foo.tar.xz":  FormatTarXz,
		"foo.tar":     FormatTar,
		"foo.zip":     FormatZip,
		"foo.rar":     FormatUnknown,
	}
	for name, want := range cases {
		if got := DetectFormat(name); got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", name, got, want)
		}
	}
}
