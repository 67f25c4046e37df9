package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// NormalizeTargetPath trims whitespace and cleans the path using filepath.Clean.
// Note: On Unix (case-sensitive), we do not lowercase paths. Two descriptors
// that differ only in case are distinct targets there.
func NormalizeTargetPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	return filepath.Clean(p)
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized
// destination path. Stores use it as a unique key so that two tasks can
// never write the same file.
func Fingerprint(target string) string {
	sum := sha256.Sum256([]byte(NormalizeTargetPath(target)))
	return hex.EncodeToString(sum[:])
}
