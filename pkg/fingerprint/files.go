package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lathe-build/lathe/pkg/work"
)

// fingerprintPath records fingerprints for path into files. Regular files
// produce one entry; directories are walked and produce one entry per
// contained file, plus entries for empty directories when the property is
// directory-sensitive. Missing paths are recorded as absent rather than
// failing, so a deleted input invalidates the fingerprint instead of
// breaking it.
func fingerprintPath(path string, value work.FileValueSupplier, files map[string]FileFingerprint) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			files[path] = FileFingerprint{Identity: identityComponent(path, value.Normalization), ContentHash: "absent"}
			return nil
		}
		return err
	}

	if !info.IsDir() {
		fp, err := fingerprintFile(path, value)
		if err != nil {
			return err
		}
		files[path] = fp
		return nil
	}

	return filepath.WalkDir(path, func(sub string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if value.DirSensitivity != work.DirectorySensitive {
				return nil
			}
			empty, err := isEmptyDir(sub)
			if err != nil {
				return err
			}
			if empty {
				files[sub] = FileFingerprint{Identity: identityComponent(sub, value.Normalization), Dir: true}
			}
			return nil
		}
		fp, err := fingerprintFile(sub, value)
		if err != nil {
			return err
		}
		files[sub] = fp
		return nil
	})
}

// fingerprintFile hashes one regular file according to the property's
// normalization policies.
func fingerprintFile(path string, value work.FileValueSupplier) (FileFingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileFingerprint{}, fmt.Errorf("read %s: %w", path, err)
	}

	if value.LineEndings == work.LineEndingsNormalized {
		data = normalizeLineEndings(data)
	}

	sum := sha256.Sum256(data)
	return FileFingerprint{
		Identity:    identityComponent(path, value.Normalization),
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

// identityComponent selects the path contribution for the given
// normalization strategy.
//
// Absolute-path normalization makes the file's absolute path part of its
// identity, so path changes invalidate the cache even when content does
// not. Every other strategy contributes at most the bare file name, so two
// files with equal names and content in different parent directories are
// identical inputs.
func identityComponent(path string, normalization work.Normalization) string {
	switch normalization {
	case work.NormalizeAbsolutePath:
		abs, err := filepath.Abs(path)
		if err != nil {
			return path
		}
		return abs
	case work.NormalizeContent:
		return ""
	default:
		return filepath.Base(path)
	}
}

// normalizeLineEndings rewrites CRLF sequences to LF so text inputs hash
// identically across platforms.
func normalizeLineEndings(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
