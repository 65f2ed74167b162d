package plist

// Property names shared between packages.
const (
	// Link access.
	NLinks      = "nlinks"
	ElinkPrefix = "elink_prefix"
	ElinkFapl   = "elink_fapl"

	// Link create.
	CreateIntermediate = "intermediate_group"
	CharEncoding       = "character_encoding"

	// Group create.
	GroupInfo = "group_info"
	LinkInfo  = "link_info"

	// Dataset/group create.
	Pipeline   = "pline"
	ChunkElems = "chunk_elems"

	// Dataset transfer.
	EDC = "err_detect"

	// File access.
	Connector = "vol_connector_info"

	// File mount.
	MountLocal = "local"

	// Object copy.
	CopyShallow = "copy_shallow"
)

// DefaultNLinks is the default number of soft/external/user-defined links a
// single traversal may follow.
const DefaultNLinks = 16

func classDefaults(c Class) map[string]any {
	switch c {
	case LinkAccess:
		return map[string]any{NLinks: DefaultNLinks, ElinkPrefix: ""}
	case LinkCreate:
		return map[string]any{CreateIntermediate: false, CharEncoding: 0}
	case GroupCreate:
		return map[string]any{}
	case DatasetCreate:
		return map[string]any{ChunkElems: uint64(0)}
	case DatasetXfer:
		return map[string]any{EDC: true}
	case FileMount:
		return map[string]any{MountLocal: false}
	case ObjectCopy:
		return map[string]any{CopyShallow: false}
	default:
		return nil
	}
}

// Int returns an int property, or def when the list is nil or lacks it.
func Int(l *List, name string, def int) int {
	if l == nil {
		return def
	}
	v, err := l.Get(name)
	if err != nil {
		return def
	}
	if n, ok := v.(int); ok {
		return n
	}
	return def
}

// Uint64 returns a uint64 property, or def when the list is nil or lacks it.
func Uint64(l *List, name string, def uint64) uint64 {
	if l == nil {
		return def
	}
	v, err := l.Get(name)
	if err != nil {
		return def
	}
	if n, ok := v.(uint64); ok {
		return n
	}
	return def
}

// Bool returns a bool property, or def when the list is nil or lacks it.
func Bool(l *List, name string, def bool) bool {
	if l == nil {
		return def
	}
	v, err := l.Get(name)
	if err != nil {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// String returns a string property, or def when the list is nil or lacks it.
func String(l *List, name string, def string) string {
	if l == nil {
		return def
	}
	v, err := l.Get(name)
	if err != nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}
