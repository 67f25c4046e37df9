// Package fsguard keeps user- and site-derived destination paths inside the
// configured download root.
package fsguard

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tinoosan/fetchq/internal/data"
)

// PartSuffix is appended to the final path while a transfer is in flight.
const PartSuffix = ".part"

const maxFolderName = 50

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x{200b}]`)

// Resolve joins target onto root and returns the cleaned absolute path. It
// rejects targets that would land outside root (or on root itself), whether
// through "..", an absolute path or a symlinked parent directory.
func Resolve(root, target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", data.ErrTargetPath
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	base = filepath.Clean(base)

	p := target
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)
	if !within(base, p) {
		return "", fmt.Errorf("%w: %s", data.ErrUnsafePath, target)
	}

	// A parent that already exists must still resolve inside root after
	// following symlinks.
	if realBase, err := filepath.EvalSymlinks(base); err == nil {
		if parent, ok := existingParent(filepath.Dir(p)); ok {
			realParent, err := filepath.EvalSymlinks(parent)
			if err == nil && realParent != realBase && !within(realBase, realParent) {
				return "", fmt.Errorf("%w: %s", data.ErrUnsafePath, target)
			}
		}
	}
	return p, nil
}

// within reports whether p is strictly below base.
func within(base, p string) bool {
	if p == base {
		return false
	}
	baseWithSep := base
	if !strings.HasSuffix(baseWithSep, string(os.PathSeparator)) {
		baseWithSep += string(os.PathSeparator)
	}
	return strings.HasPrefix(p, baseWithSep)
}

func existingParent(dir string) (string, bool) {
	for {
		if _, err := os.Lstat(dir); err == nil {
			return dir, true
		}
		next := filepath.Dir(dir)
		if next == dir {
			return "", false
		}
		dir = next
	}
}

// SanitizeName replaces characters that are unsafe in file names with "_".
// Path separators are replaced too, so the result is always one element.
func SanitizeName(name string) string {
	name = unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_")
	switch name {
	case "", ".", "..":
		return "_"
	}
	return name
}

// FolderName builds a stable per-source folder name: the sanitized name
// truncated to 50 runes followed by the first 8 hex chars of md5(source).
func FolderName(name, source string) string {
	clean := []rune(SanitizeName(name))
	if len(clean) > maxFolderName {
		clean = clean[:maxFolderName]
	}
	sum := md5.Sum([]byte(source))
	return string(clean) + "_" + hex.EncodeToString(sum[:])[:8]
}

// PartPath returns the in-flight path for final. It lives in the same
// directory so the final rename never crosses filesystems.
func PartPath(final string) string { return final + PartSuffix }
