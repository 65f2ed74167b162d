package core

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Address locates an object header inside one file.
type Address uint64

// AddrUndef marks an address that has not been allocated.
const AddrUndef Address = ^Address(0)

// Defined reports whether the address has been allocated.
func (a Address) Defined() bool {
	return a != AddrUndef
}

// TokenSize is the width of an object token.
const TokenSize = 16

// Token is the connector-neutral identity of an object inside a file.
type Token [TokenSize]byte

// AddressToken encodes an address as a token.
func AddressToken(a Address) Token {
	var t Token
	binary.LittleEndian.PutUint64(t[:8], uint64(a))
	return t
}

// TokenAddress decodes an address previously encoded with AddressToken.
func TokenAddress(t Token) Address {
	return Address(binary.LittleEndian.Uint64(t[:8]))
}

// ObjectType classifies the object stored at an address.
type ObjectType uint8

// Object types.
const (
	ObjectUnknown ObjectType = iota
	ObjectGroup
	ObjectDataset
	ObjectDatatype
)

// String returns the object type name.
func (t ObjectType) String() string {
	switch t {
	case ObjectGroup:
		return "group"
	case ObjectDataset:
		return "dataset"
	case ObjectDatatype:
		return "datatype"
	default:
		return "unknown"
	}
}

// MsgKey names an object-header message.
type MsgKey string

// Message keys.
const (
	MsgGroupInfo MsgKey = "ginfo"
	MsgLinkInfo  MsgKey = "linfo"
	MsgPipeline  MsgKey = "pline"
	MsgDataspace MsgKey = "dspace"
	MsgDatatype  MsgKey = "dtype"
	MsgLayout    MsgKey = "layout"
	MsgComment   MsgKey = "comment"

	attrPrefix = "attr/"
)

// AttrKey returns the message key holding attribute name.
func AttrKey(name string) MsgKey {
	return MsgKey(attrPrefix + name)
}

// AttrName extracts the attribute name from an attribute message key.
func AttrName(key MsgKey) (string, bool) {
	return strings.CutPrefix(string(key), attrPrefix)
}

// GroupInfo carries the storage hints a group hands down to new child groups.
type GroupInfo struct {
	LocalHeapSizeHint uint32 `cbor:"lh"`
	MaxCompact        uint16 `cbor:"mc"`
	MinDense          uint16 `cbor:"md"`
	EstNumEntries     uint16 `cbor:"ne"`
	EstNameLen        uint16 `cbor:"nl"`
}

// DefaultGroupInfo matches the library defaults for new groups.
func DefaultGroupInfo() GroupInfo {
	return GroupInfo{MaxCompact: 8, MinDense: 6, EstNumEntries: 4, EstNameLen: 8}
}

// LinkInfo records creation-order tracking for a group's links.
type LinkInfo struct {
	TrackCorder bool  `cbor:"tc"`
	IndexCorder bool  `cbor:"ic"`
	MaxCorder   int64 `cbor:"mx"`
}

// Dataspace is the extent of a dataset or attribute.
type Dataspace struct {
	Dims    []uint64 `cbor:"d"`
	MaxDims []uint64 `cbor:"m,omitempty"`
}

// NumElements returns the number of elements in the extent.
func (s Dataspace) NumElements() uint64 {
	n := uint64(1)
	for _, d := range s.Dims {
		n *= d
	}
	return n
}

// Validate checks dims against max dims.
func (s Dataspace) Validate() error {
	if s.MaxDims == nil {
		return nil
	}
	if len(s.MaxDims) != len(s.Dims) {
		return fmt.Errorf("dataspace rank %d does not match max rank %d", len(s.Dims), len(s.MaxDims))
	}
	for i, d := range s.Dims {
		if s.MaxDims[i] != Unlimited && d > s.MaxDims[i] {
			return fmt.Errorf("dimension %d size %d exceeds maximum %d", i, d, s.MaxDims[i])
		}
	}
	return nil
}

// Unlimited marks a dimension without an upper bound.
const Unlimited = ^uint64(0)

// TypeClass is the class of a datatype.
type TypeClass uint8

// Datatype classes.
const (
	ClassInteger TypeClass = iota
	ClassFloat
	ClassString
	ClassOpaque
	ClassCompound
)

// ByteOrder of multi-byte datatypes.
type ByteOrder uint8

// Byte orders.
const (
	OrderLE ByteOrder = iota
	OrderBE
	OrderNone
)

// Datatype describes the element layout of a dataset or attribute.
type Datatype struct {
	Class  TypeClass `cbor:"c"`
	Size   uint32    `cbor:"s"`
	Order  ByteOrder `cbor:"o"`
	Signed bool      `cbor:"g,omitempty"`
	Tag    string    `cbor:"t,omitempty"`
}

// Layout describes how dataset elements are split into filtered chunks.
// ChunkElems of zero stores the whole extent as a single chunk.
type Layout struct {
	ChunkElems uint64 `cbor:"ce"`
	NumChunks  uint64 `cbor:"nc"`
}

// Chunk is one stored chunk together with the mask of filters skipped when it
// was written.
type Chunk struct {
	Mask uint32 `cbor:"m"`
	Size uint64 `cbor:"s"`
	Data []byte `cbor:"d"`
}

// Attribute is a small named value attached to an object header.
type Attribute struct {
	Name    string    `cbor:"n"`
	Type    Datatype  `cbor:"t"`
	Space   Dataspace `cbor:"s"`
	Data    []byte    `cbor:"d"`
	Corder  int64     `cbor:"o"`
	CharSet CharSet   `cbor:"c,omitempty"`
}
