package media

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const (
	ImagesDir = "IMAGES"
	VideosDir = "VIDEOS"
)

// ReorganizeResult summarises a Reorganize run.
type ReorganizeResult struct {
	Moved      int
	Skipped    int
	PrunedDirs int
}

// Reorganize moves every image under root into root/IMAGES and every video
// into root/VIDEOS, then removes directories left empty. Files that would
// overwrite an existing file are left in place. In-progress ".part" files
// are never touched.
func Reorganize(root string, log *slog.Logger) (ReorganizeResult, error) {
	if log == nil {
		log = slog.Default()
	}
	var res ReorganizeResult
	root = filepath.Clean(root)
	images := filepath.Join(root, ImagesDir)
	videos := filepath.Join(root, VideosDir)
	for _, d := range []string{images, videos} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return res, err
		}
	}

	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == images || p == videos {
				return filepath.SkipDir
			}
			if p != root {
				dirs = append(dirs, p)
			}
			return nil
		}
		if filepath.Ext(p) == ".part" {
			return nil
		}
		var dstDir string
		switch KindOf(d.Name()) {
		case KindImage:
			dstDir = images
		case KindVideo:
			dstDir = videos
		default:
			return nil
		}
		dst := filepath.Join(dstDir, d.Name())
		if _, err := os.Lstat(dst); err == nil {
			log.Warn("reorganize: destination exists, leaving file in place", "file", p, "dst", dst)
			res.Skipped++
			return nil
		}
		if err := os.Rename(p, dst); err != nil {
			log.Error("reorganize: move", "file", p, "err", err)
			res.Skipped++
			return nil
		}
		log.Info("reorganize: moved", "file", d.Name(), "dst", filepath.Base(dstDir))
		res.Moved++
		return nil
	})
	if err != nil {
		return res, err
	}

	// Deepest first so parents become empty before they are checked.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return res, err
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(d); err != nil {
			log.Error("reorganize: prune", "dir", d, "err", err)
			continue
		}
		res.PrunedDirs++
	}
	return res, nil
}
