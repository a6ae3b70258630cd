// Package utils holds small content-integrity helpers. The API client uses
// VerifySHA256 to confirm that downloaded bytes match the formula/cask's
// declared SHA-256 before anything downstream trusts them (spec §1 "Non-goals:
// no signature verification beyond SHA-256", §7 ChecksumMismatch).
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/sps-pm/sps/internal/errors"
)

// VerifySHA256 confirms filename's contents hash to expectedSHA256. The
// comparison is case-insensitive: the Homebrew API always emits lowercase
// hex, but a tap-local formula or a hand-edited override file may not.
func VerifySHA256(filename, expectedSHA256 string) error {
	actual, err := ComputeSHA256(filename)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expectedSHA256) {
		return errors.New(errors.ChecksumMismatch, "verify checksum",
			checksumMismatch{expected: expectedSHA256, actual: actual})
	}
	return nil
}

// ComputeSHA256 streams filename through SHA-256 without holding the whole
// file in memory, matching the bottle/source archive sizes this sees in
// practice.
func ComputeSHA256(filename string) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", errors.New(errors.Io, "open file for checksum", err)
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", errors.New(errors.Io, "read file for checksum", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// checksumMismatch is the Cause wrapped into a ChecksumMismatch SpsError by
// VerifySHA256; kept distinct from errors.NewChecksumError (used by callers
// that already have formula/version context to attach) since this package
// only ever sees a bare filename.
type checksumMismatch struct {
	expected, actual string
}

func (m checksumMismatch) Error() string {
	return "checksum mismatch: expected " + m.expected + ", got " + m.actual
}
