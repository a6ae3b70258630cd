// Package macho rewrites absolute paths embedded in Mach-O load commands
// in place. Bottles are built against an expected prefix
// (e.g. /opt/homebrew); when poured into a different prefix every
// LC_LOAD_DYLIB/LC_RPATH/LC_ID_DYLIB string that names the build-time
// prefix has to be rewritten so dynamic linking and RPATH resolution
// still work.
//
// The detection dispatch (magic-number table, thin vs. fat vs. archive)
// follows the same shape as tsukumogami-tsuku's internal/verify/header.go,
// but the mutation itself — locating the load-command string slots,
// bounds-checking the replacement, and writing bytes back in place — is
// original work: no example repo performs in-process Mach-O mutation, and
// the stdlib debug/macho package is read-only, so this package parses the
// load-command stream by hand.
package macho

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Magic numbers, per <mach-o/loader.h> and <mach-o/fat.h>.
const (
	magic32       uint32 = 0xfeedface
	cigam32       uint32 = 0xcefaedfe
	magic64       uint32 = 0xfeedfacf
	cigam64       uint32 = 0xcffaedfe
	fatMagic      uint32 = 0xcafebabe
	fatCigam      uint32 = 0xbebafeca
	fatMagic64    uint32 = 0xcafebabf
	fatCigam64    uint32 = 0xbfbafeca
	archMagicLen         = 4
	machHeaderSz         = 28 // mach_header (32-bit)
	machHeader64Sz       = 32 // mach_header_64
	fatArchSz            = 20
	fatArch64Sz          = 32
)

// Load command constants actually used for path rewriting. Values from
// <mach-o/loader.h>.
const (
	lcLoadDylib      uint32 = 0x0c
	lcIDDylib        uint32 = 0x0d
	lcLoadWeakDylib  uint32 = 0x18 | 0x80000000
	lcRpath          uint32 = 0x1c | 0x80000000
	lcReexportDylib  uint32 = 0x1f | 0x80000000
	lcLazyLoadDylib  uint32 = 0x20
)

var archMagic = []byte("!<arch>\n")

// Kind identifies the on-disk shape of a candidate file.
type Kind int

const (
	// KindUnsupported is any file this package will not touch.
	KindUnsupported Kind = iota
	// KindThin32 is a single-architecture 32-bit Mach-O.
	KindThin32
	// KindThin64 is a single-architecture 64-bit Mach-O.
	KindThin64
	// KindFat32 is a universal binary with 32-bit fat_arch entries.
	KindFat32
	// KindFat64 is a universal binary with 64-bit fat_arch entries.
	KindFat64
	// KindArchive is a static archive (ar); never rewritten.
	KindArchive
)

// DetectKind identifies a buffer's Mach-O shape from its magic number,
// without otherwise parsing it.
func DetectKind(buf []byte) Kind {
	if len(buf) >= len(archMagic) && bytes.Equal(buf[:len(archMagic)], archMagic) {
		return KindArchive
	}
	if len(buf) < archMagicLen {
		return KindUnsupported
	}
	switch binary.BigEndian.Uint32(buf[:4]) {
	case fatMagic, fatCigam:
		return KindFat32
	case fatMagic64, fatCigam64:
		return KindFat64
	}
	switch binary.LittleEndian.Uint32(buf[:4]) {
	case magic32, cigam32:
		return KindThin32
	case magic64, cigam64:
		return KindThin64
	}
	return KindUnsupported
}

// IsMachO reports whether buf's magic identifies it as something this
// package can patch (thin or fat Mach-O). Archives and anything else are
// excluded — relocation is a no-op for them, determined by content, not
// file extension.
func IsMachO(buf []byte) bool {
	switch DetectKind(buf) {
	case KindThin32, KindThin64, KindFat32, KindFat64:
		return true
	default:
		return false
	}
}

// patch is a surviving, bounds-checked rewrite: new bytes go at
// absolute offset Offset in the file buffer, NUL-padded out to
// Allocated bytes.
type patch struct {
	offset    int64
	allocated int
	value     []byte
}

// byteOrderFor returns the architecture slice's own endianness, derived
// from its header magic — never assumed from the host.
func byteOrderFor(magic32or64 uint32) binary.ByteOrder {
	switch magic32or64 {
	case cigam32, cigam64:
		return binary.BigEndian
	default:
		return binary.LittleEndian
	}
}

// sliceHeader describes one architecture slice inside the file buffer
// (the whole file, for a thin binary; one fat_arch region, for a FAT
// binary).
type sliceHeader struct {
	start    int64 // absolute offset of the mach_header within the file
	is64     bool
	order    binary.ByteOrder
	ncmds    uint32
	cmdsOff  int64 // absolute offset where the load commands begin
}

func readSliceHeader(buf []byte, start int64) (*sliceHeader, error) {
	if start < 0 || start+4 > int64(len(buf)) {
		return nil, fmt.Errorf("macho: slice header out of bounds at %d", start)
	}
	magicLE := binary.LittleEndian.Uint32(buf[start : start+4])

	var is64 bool
	var order binary.ByteOrder
	switch magicLE {
	case magic32, cigam32:
		is64 = false
		order = byteOrderFor(magicLE)
	case magic64, cigam64:
		is64 = true
		order = byteOrderFor(magicLE)
	default:
		return nil, fmt.Errorf("macho: slice at %d is not a Mach-O header", start)
	}

	headerSz := int64(machHeaderSz)
	if is64 {
		headerSz = machHeader64Sz
	}
	if start+headerSz > int64(len(buf)) {
		return nil, fmt.Errorf("macho: truncated header at %d", start)
	}

	// ncmds is the 5th field: magic, cputype, cpusubtype, filetype, ncmds.
	ncmds := order.Uint32(buf[start+16 : start+20])

	return &sliceHeader{
		start:   start,
		is64:    is64,
		order:   order,
		ncmds:   ncmds,
		cmdsOff: start + headerSz,
	}, nil
}

// collectPatches walks one architecture slice's load commands and
// returns the surviving (bounds-checked) patches for replacements that
// fit, and logs (via the returned skipped slice) any replacement that
// would overflow its allocated slot.
func collectPatches(buf []byte, sh *sliceHeader, replacements map[string]string) (surviving []patch, skipped []string, err error) {
	off := sh.cmdsOff
	for i := uint32(0); i < sh.ncmds; i++ {
		if off+8 > int64(len(buf)) {
			return nil, nil, fmt.Errorf("macho: load command %d out of bounds", i)
		}
		cmd := sh.order.Uint32(buf[off : off+4])
		cmdsize := sh.order.Uint32(buf[off+4 : off+8])
		if cmdsize < 8 || off+int64(cmdsize) > int64(len(buf)) {
			return nil, nil, fmt.Errorf("macho: load command %d has invalid size %d", i, cmdsize)
		}

		var strOff uint32
		isPathBearing := true
		switch cmd {
		case lcLoadDylib, lcIDDylib, lcLoadWeakDylib, lcReexportDylib, lcLazyLoadDylib:
			if off+12 > int64(len(buf)) {
				return nil, nil, fmt.Errorf("macho: dylib command %d truncated", i)
			}
			strOff = sh.order.Uint32(buf[off+8 : off+12])
		case lcRpath:
			if off+12 > int64(len(buf)) {
				return nil, nil, fmt.Errorf("macho: rpath command %d truncated", i)
			}
			strOff = sh.order.Uint32(buf[off+8 : off+12])
		default:
			isPathBearing = false
		}

		if isPathBearing && strOff > 0 && strOff < cmdsize {
			strStart := off + int64(strOff)
			allocated := int(cmdsize - strOff)
			if strStart+int64(allocated) > int64(len(buf)) {
				return nil, nil, fmt.Errorf("macho: command %d string slot out of bounds", i)
			}
			raw := buf[strStart : strStart+int64(allocated)]
			current := cString(raw)

			if newPath, changed := applyReplacements(current, replacements); changed {
				if len(newPath)+1 > allocated {
					skipped = append(skipped, fmt.Sprintf("offset %d: %q -> %q needs %d bytes, has %d", strStart, current, newPath, len(newPath)+1, allocated))
				} else {
					surviving = append(surviving, patch{
						offset:    strStart,
						allocated: allocated,
						value:     []byte(newPath),
					})
				}
			}
		}

		off += int64(cmdsize)
	}
	return surviving, skipped, nil
}

func cString(b []byte) string {
	if idx := bytes.IndexByte(b, 0); idx >= 0 {
		return string(b[:idx])
	}
	return string(b)
}

// applyReplacements substitutes every occurring placeholder substring
// with its replacement. Returns the (possibly unchanged) result and
// whether anything changed.
func applyReplacements(s string, replacements map[string]string) (string, bool) {
	out := s
	changed := false
	for placeholder, replacement := range replacements {
		if placeholder == "" || placeholder == replacement {
			continue
		}
		if newOut := replaceAll(out, placeholder, replacement); newOut != out {
			out = newOut
			changed = true
		}
	}
	return out, changed
}

func replaceAll(s, old, new string) string {
	if old == "" {
		return s
	}
	return string(bytes.ReplaceAll([]byte(s), []byte(old), []byte(new)))
}

// PatchResult reports what patching a single file did.
type PatchResult struct {
	Modified bool
	Skipped  []string
}

// PatchMachOFile rewrites placeholder paths embedded in path-bearing
// Mach-O load commands (LC_LOAD_DYLIB, LC_LOAD_WEAK_DYLIB,
// LC_REEXPORT_DYLIB, LC_LAZY_LOAD_DYLIB, LC_ID_DYLIB, LC_RPATH), across
// thin and FAT binaries, then re-signs on Apple Silicon. Returns whether
// the file was modified. It is idempotent: re-running with the same
// replacements against an already-patched file is a no-op.
func PatchMachOFile(path string, replacements map[string]string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("macho: stat %s: %w", path, err)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("macho: read %s: %w", path, err)
	}
	if len(buf) < machHeaderSz {
		return false, nil
	}

	kind := DetectKind(buf)
	var slices []int64
	switch kind {
	case KindThin32, KindThin64:
		slices = []int64{0}
	case KindFat32:
		slices, err = fatSliceOffsets(buf, false)
	case KindFat64:
		slices, err = fatSliceOffsets(buf, true)
	default:
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("macho: %s: %w", path, err)
	}

	var all []patch
	for _, start := range slices {
		sh, err := readSliceHeader(buf, start)
		if err != nil {
			return false, fmt.Errorf("macho: %s: %w", path, err)
		}
		surviving, skipped, err := collectPatches(buf, sh, replacements)
		if err != nil {
			return false, fmt.Errorf("macho: %s: %w", path, err)
		}
		for _, s := range skipped {
			debugLog("macho: %s: skipped patch, %s", path, s)
		}
		all = append(all, surviving...)
	}

	if len(all) == 0 {
		return false, nil
	}

	// Phase 2: mutation. Every write is bounded by the patch's own
	// allocated length, verified again here defensively.
	out := make([]byte, len(buf))
	copy(out, buf)
	for _, p := range all {
		if p.offset < 0 || p.offset+int64(p.allocated) > int64(len(out)) {
			return false, fmt.Errorf("macho: %s: patch at %d out of bounds", path, p.offset)
		}
		if len(p.value)+1 > p.allocated {
			return false, fmt.Errorf("macho: %s: patch at %d overflows allocated slot", path, p.offset)
		}
		slot := out[p.offset : p.offset+int64(p.allocated)]
		for i := range slot {
			slot[i] = 0
		}
		copy(slot, p.value)
	}

	if err := writeAtomic(path, out, info.Mode()); err != nil {
		return false, fmt.Errorf("macho: %s: %w", path, err)
	}

	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		if err := codesignAdhoc(path); err != nil {
			return false, fmt.Errorf("macho: %s: codesign: %w", path, err)
		}
	}

	return true, nil
}

// fatSliceOffsets returns the absolute file offset of each architecture
// slice's mach_header, read from the FAT header. The FAT header itself
// is always big-endian regardless of host or slice endianness, and its
// offsets/sizes are never modified by patching.
func fatSliceOffsets(buf []byte, is64 bool) ([]int64, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("truncated fat header")
	}
	nArch := binary.BigEndian.Uint32(buf[4:8])
	entrySz := int64(fatArchSz)
	if is64 {
		entrySz = fatArch64Sz
	}
	var offsets []int64
	base := int64(8)
	for i := uint32(0); i < nArch; i++ {
		entryStart := base + int64(i)*entrySz
		if entryStart+entrySz > int64(len(buf)) {
			return nil, fmt.Errorf("truncated fat_arch entry %d", i)
		}
		var sliceOff int64
		if is64 {
			sliceOff = int64(binary.BigEndian.Uint64(buf[entryStart+8 : entryStart+16]))
		} else {
			sliceOff = int64(binary.BigEndian.Uint32(buf[entryStart+8 : entryStart+12]))
		}
		offsets = append(offsets, sliceOff)
	}
	return offsets, nil
}

// writeAtomic writes data to a temp file in path's directory, fsyncs,
// and renames over the original, preserving the original permissions.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".macho-patch-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// codesignAdhoc ad-hoc re-signs a patched binary, required on Apple
// Silicon after any byte mutation or the binary will refuse to execute.
func codesignAdhoc(path string) error {
	cmd := exec.Command("codesign", "-s", "-", "--force", "--preserve-metadata=identifier,entitlements", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err, string(out))
	}
	return nil
}

// debugLog is a package-level hook so callers can observe skipped
// patches without this package importing the CLI's logger package.
var debugLog = func(format string, args ...interface{}) {}

// SetDebugLogger installs a sink for this package's debug-level
// messages (currently: skipped overflowing patches).
func SetDebugLogger(f func(format string, args ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	debugLog = f
}
