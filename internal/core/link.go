package core

import "fmt"

// LinkType defines the type of link (hard, soft, external, user-defined).
type LinkType uint8

// Link type constants as numbered by the HDF5 file format.
const (
	LinkTypeHard     LinkType = 0  // Hard link: direct reference to object
	LinkTypeSoft     LinkType = 1  // Soft link: symbolic path to object
	LinkTypeExternal LinkType = 64 // External link: reference to object in another file

	// LinkTypeUDMin is the first identifier available to user-defined link classes.
	LinkTypeUDMin LinkType = 65
	// LinkTypeUDMax is the last valid link class identifier.
	LinkTypeUDMax LinkType = 255
)

// String returns the string representation of the link type.
func (lt LinkType) String() string {
	switch lt {
	case LinkTypeHard:
		return "Hard"
	case LinkTypeSoft:
		return "Soft"
	case LinkTypeExternal:
		return "External"
	default:
		if lt >= LinkTypeUDMin {
			return fmt.Sprintf("UserDefined(%d)", lt)
		}
		return fmt.Sprintf("Unknown(%d)", lt)
	}
}

// IsSpecial reports whether resolving the link requires more than reading
// a stored address.
func (lt LinkType) IsSpecial() bool {
	return lt != LinkTypeHard
}

// CharSet is the character set of a link name.
type CharSet uint8

// Character sets.
const (
	CharSetASCII CharSet = 0
	CharSetUTF8  CharSet = 1
)

// Link is one named entry of a group's link table. Which payload fields are
// meaningful depends on Type.
type Link struct {
	Name        string   `cbor:"n"`
	Type        LinkType `cbor:"t"`
	CorderValid bool     `cbor:"cv,omitempty"`
	Corder      int64    `cbor:"co,omitempty"`
	CSet        CharSet  `cbor:"cs,omitempty"`

	// Hard links.
	Addr Address `cbor:"a,omitempty"`

	// Soft links.
	Target string `cbor:"s,omitempty"`

	// External links.
	ExtFile string `cbor:"ef,omitempty"`
	ExtPath string `cbor:"ep,omitempty"`

	// User-defined links.
	UDData []byte `cbor:"ud,omitempty"`
}

// NewHardLink returns a hard link named name pointing at addr.
func NewHardLink(name string, addr Address) Link {
	return Link{Name: name, Type: LinkTypeHard, Addr: addr}
}

// NewSoftLink returns a soft link named name whose value is target.
func NewSoftLink(name, target string) Link {
	return Link{Name: name, Type: LinkTypeSoft, Target: target}
}

// NewExternalLink returns an external link to objPath inside file.
func NewExternalLink(name, file, objPath string) Link {
	return Link{Name: name, Type: LinkTypeExternal, ExtFile: file, ExtPath: objPath}
}

// NewUDLink returns a user-defined link of class typ carrying data.
func NewUDLink(name string, typ LinkType, data []byte) Link {
	return Link{Name: name, Type: typ, UDData: append([]byte(nil), data...)}
}

// ValueSize returns the size of the link's payload as reported by link-info queries.
func (l *Link) ValueSize() int {
	switch l.Type {
	case LinkTypeHard:
		return 8
	case LinkTypeSoft:
		return len(l.Target) + 1
	case LinkTypeExternal:
		return 1 + len(l.ExtFile) + 1 + len(l.ExtPath) + 1
	default:
		return len(l.UDData)
	}
}

// Validate checks the internal consistency of the link.
func (l *Link) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("link name is empty")
	}
	switch {
	case l.Type == LinkTypeHard:
		if !l.Addr.Defined() {
			return fmt.Errorf("hard link %q has undefined address", l.Name)
		}
	case l.Type == LinkTypeSoft:
		if l.Target == "" {
			return fmt.Errorf("soft link %q has empty target", l.Name)
		}
	case l.Type == LinkTypeExternal:
		if l.ExtFile == "" || l.ExtPath == "" {
			return fmt.Errorf("external link %q needs file and object path", l.Name)
		}
	case l.Type < LinkTypeUDMin:
		return fmt.Errorf("link %q has reserved type %d", l.Name, l.Type)
	}
	return nil
}
