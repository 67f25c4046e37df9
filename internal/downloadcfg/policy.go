package downloadcfg

// CollisionPolicy defines how to handle a final destination that already
// exists on disk when a transfer starts.
// Values: "error" | "overwrite" | "skip".
type CollisionPolicy string

const (
	CollisionError     CollisionPolicy = "error"
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionSkip      CollisionPolicy = "skip"
)

// PartialPolicy defines what happens to the in-flight ".part" file when a
// transfer is cancelled or paused.
// Values: "delete" | "keep". With "keep" a later attempt resumes it.
type PartialPolicy string

const (
	PartialDelete PartialPolicy = "delete"
	PartialKeep   PartialPolicy = "keep"
)

// Options carries downloader-agnostic options for a transfer attempt.
type Options struct {
	Collision CollisionPolicy
	Partial   PartialPolicy
}

// ParseCollisionPolicy converts a string to a CollisionPolicy with default.
func ParseCollisionPolicy(s string) CollisionPolicy {
	switch CollisionPolicy(s) {
	case CollisionOverwrite:
		return CollisionOverwrite
	case CollisionSkip:
		return CollisionSkip
	case CollisionError:
		fallthrough
	default:
		return CollisionError
	}
}

// ParsePartialPolicy converts a string to a PartialPolicy, defaulting to
// deleting partial files.
func ParsePartialPolicy(s string) PartialPolicy {
	if PartialPolicy(s) == PartialKeep {
		return PartialKeep
	}
	return PartialDelete
}

// KeepPartial reports whether partial files survive cancellation.
func (o Options) KeepPartial() bool { return o.Partial == PartialKeep }
