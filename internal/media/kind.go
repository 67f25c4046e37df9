// Package media classifies downloadable files by extension.
package media

import (
	"path"
	"strings"
)

// Kind is the coarse media category of a file.
type Kind string

const (
	KindVideo    Kind = "video"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindArchive  Kind = "archive"
	KindOther    Kind = "other"
)

// Kinds lists every category that can appear in an allow-list.
var Kinds = []Kind{KindVideo, KindImage, KindDocument, KindArchive}

var extensions = map[string]Kind{
	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage, ".gif": KindImage,
	".bmp": KindImage, ".webp": KindImage, ".tiff": KindImage, ".tif": KindImage,
	".svg": KindImage, ".heic": KindImage, ".raw": KindImage,

	".mp4": KindVideo, ".avi": KindVideo, ".mkv": KindVideo, ".mov": KindVideo,
	".wmv": KindVideo, ".flv": KindVideo, ".webm": KindVideo, ".mpeg": KindVideo,
	".mpg": KindVideo, ".m4v": KindVideo, ".3gp": KindVideo, ".ogg": KindVideo,

	".pdf": KindDocument, ".txt": KindDocument, ".doc": KindDocument,
	".docx": KindDocument, ".epub": KindDocument,

	".zip": KindArchive, ".rar": KindArchive, ".7z": KindArchive,
	".tar": KindArchive, ".gz": KindArchive,
}

// KindOf derives the kind from the extension of a file name, URL path or
// destination path. Query strings and fragments are ignored.
func KindOf(name string) Kind {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if k, ok := extensions[strings.ToLower(path.Ext(name))]; ok {
		return k
	}
	return KindOther
}

// ParseKind returns the kind named by s, or false.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindVideo, KindImage, KindDocument, KindArchive, KindOther:
		return k, true
	}
	return "", false
}

// AllowList restricts which kinds may be enqueued. The zero value allows
// nothing; use NewAllowList.
type AllowList struct {
	kinds map[Kind]bool
}

// NewAllowList builds an allow-list from kinds. With no kinds every known
// category (but not KindOther) is allowed.
func NewAllowList(kinds ...Kind) AllowList {
	if len(kinds) == 0 {
		kinds = Kinds
	}
	m := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return AllowList{kinds: m}
}

// Allowed reports whether the file named by name may be downloaded.
func (a AllowList) Allowed(name string) bool {
	return a.kinds[KindOf(name)]
}

// AllowsKind reports whether k is on the list.
func (a AllowList) AllowsKind(k Kind) bool { return a.kinds[k] }
