package media

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"clip.MP4", KindVideo},
		{"https://cdn.example.com/data/ab/cd.jpg?f=x.jpg", KindImage},
		{"/tmp/a/b/report.pdf", KindDocument},
		{"pack.7z", KindArchive},
		{"README", KindOther},
		{"weird.exe", KindOther},
		{"frag.webm#t=10", KindVideo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.name); got != tt.want {
				t.Fatalf("KindOf(%q) = %s want %s", tt.name, got, tt.want)
			}
		})
	}
}

func TestAllowList(t *testing.T) {
	all := NewAllowList()
	if !all.Allowed("a.zip") || !all.Allowed("a.png") {
		t.Fatalf("default allow-list should allow known kinds")
	}
	if all.Allowed("a.exe") {
		t.Fatalf("default allow-list should reject unknown extensions")
	}

	imgs := NewAllowList(KindImage)
	if imgs.Allowed("a.mp4") {
		t.Fatalf("image-only list allowed a video")
	}
	if !imgs.AllowsKind(KindImage) {
		t.Fatalf("image-only list rejected images")
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind(" Video "); !ok || k != KindVideo {
		t.Fatalf("ParseKind video = %q %v", k, ok)
	}
	if _, ok := ParseKind("audio"); ok {
		t.Fatalf("ParseKind accepted unknown kind")
	}
}

func TestReorganize(t *testing.T) {
	root := t.TempDir()
	write := func(rel string) {
		t.Helper()
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("album_1/a.jpg")
	write("album_1/nested/b.mp4")
	write("album_2/c.png")
	write("album_2/notes.txt")
	write("album_3/d.mp4.part")

	res, err := Reorganize(root, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Reorganize: %v", err)
	}
	if res.Moved != 3 {
		t.Fatalf("moved = %d want 3", res.Moved)
	}
	for _, p := range []string{"IMAGES/a.jpg", "IMAGES/c.png", "VIDEOS/b.mp4", "album_2/notes.txt", "album_3/d.mp4.part"} {
		if _, err := os.Stat(filepath.Join(root, p)); err != nil {
			t.Fatalf("expected %s: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "album_1")); !os.IsNotExist(err) {
		t.Fatalf("album_1 should have been pruned, err=%v", err)
	}
	if res.PrunedDirs != 2 {
		t.Fatalf("pruned = %d want 2", res.PrunedDirs)
	}
}
