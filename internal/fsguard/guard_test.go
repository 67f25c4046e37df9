package fsguard

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinoosan/fetchq/internal/data"
)

func TestResolve(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name    string
		target  string
		want    string
		wantErr error
	}{
		{"relative", "site/a.jpg", filepath.Join(root, "site", "a.jpg"), nil},
		{"cleaned", "site/./x/../a.jpg", filepath.Join(root, "site", "a.jpg"), nil},
		{"dotdot escape", "../evil.jpg", "", data.ErrUnsafePath},
		{"nested escape", "a/../../evil.jpg", "", data.ErrUnsafePath},
		{"absolute outside", "/etc/passwd", "", data.ErrUnsafePath},
		{"absolute inside", filepath.Join(root, "ok.png"), filepath.Join(root, "ok.png"), nil},
		{"root itself", ".", "", data.ErrUnsafePath},
		{"empty", "  ", "", data.ErrTargetPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(root, tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := Resolve(root, "link/a.jpg"); !errors.Is(err, data.ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		`a<b>c:d"e/f\g|h?i*j`: "a_b_c_d_e_f_g_h_i_j",
		"zero\u200bwidth":     "zero_width",
		"..":                  "_",
		"  ok name.jpg ":      "ok name.jpg",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q want %q", in, got, want)
		}
	}
}

func TestFolderName(t *testing.T) {
	a := FolderName("My Album", "https://bunkr.si/a/xyz")
	b := FolderName("My Album", "https://bunkr.si/a/xyz")
	c := FolderName("My Album", "https://bunkr.si/a/other")
	if a != b {
		t.Fatalf("folder name not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("different sources share a folder name")
	}
	if !strings.HasPrefix(a, "My Album_") || len(a) != len("My Album_")+8 {
		t.Fatalf("unexpected folder name %q", a)
	}
	long := FolderName(strings.Repeat("x", 80), "s")
	if len(long) != 50+1+8 {
		t.Fatalf("long name not truncated: %d", len(long))
	}
}
