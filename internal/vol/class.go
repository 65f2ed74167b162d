// Package vol implements the virtual object layer: the registry of connector
// classes and the dispatch of every object operation to the connector that
// owns the object.
//
// A connector is described by a Class, a table of capability interfaces. A
// nil capability means the connector does not support that group of
// operations; dispatching to it fails with utils.ErrUnsupported. Objects
// handed to callers are always *Object values, which bind the connector's
// opaque data to the registered Connector so no handle crosses the API
// without its connector.
package vol

import (
	"context"
	"time"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
)

// Version is the connector interface version a Class must declare.
const Version = 3

// Value is the numeric identity of a connector class, as opposed to the ID
// handed out when it is registered.
type Value int

// Well-known connector values.
const (
	NativeValue      Value = 0
	PassThroughValue Value = 517
	// MaxValue is the largest value a connector may use.
	MaxValue Value = 65535
)

// NativeName is the name of the built-in connector.
const NativeName = "native"

// ObjectType classifies the objects connectors hand out.
type ObjectType uint8

// Object types.
const (
	ObjFile ObjectType = iota + 1
	ObjGroup
	ObjDataset
	ObjDatatype
	ObjAttr
	ObjRequest
	ObjBlob
)

// String returns the object type name.
func (t ObjectType) String() string {
	switch t {
	case ObjFile:
		return "file"
	case ObjGroup:
		return "group"
	case ObjDataset:
		return "dataset"
	case ObjDatatype:
		return "datatype"
	case ObjAttr:
		return "attribute"
	case ObjRequest:
		return "request"
	case ObjBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Subclass names one capability group of a Class.
type Subclass uint8

// Capability groups.
const (
	SubclsNone Subclass = iota
	SubclsInfo
	SubclsWrap
	SubclsAttr
	SubclsDataset
	SubclsDatatype
	SubclsFile
	SubclsGroup
	SubclsLink
	SubclsObject
	SubclsRequest
	SubclsBlob
	SubclsToken
)

var subclassNames = [...]string{
	SubclsNone:     "none",
	SubclsInfo:     "info",
	SubclsWrap:     "wrap",
	SubclsAttr:     "attribute",
	SubclsDataset:  "dataset",
	SubclsDatatype: "datatype",
	SubclsFile:     "file",
	SubclsGroup:    "group",
	SubclsLink:     "link",
	SubclsObject:   "object",
	SubclsRequest:  "request",
	SubclsBlob:     "blob",
	SubclsToken:    "token",
}

func (s Subclass) String() string {
	if int(s) < len(subclassNames) {
		return subclassNames[s]
	}
	return "unknown"
}

// CapFlags advertise what a connector can do.
type CapFlags uint64

// Capability flags.
const (
	CapThreadSafe CapFlags = 1 << iota
	CapAsync
	CapNativeFiles
	CapFileBasic
	CapGroupBasic
	CapDatasetBasic
	CapAttrBasic
	CapLinkBasic
	CapObjectBasic
	CapSoftLinks
	CapExternalLinks
	CapUDLinks
	CapMounts
	CapFilters
	CapBlobs
	CapStackable
)

// Level selects which connector of a stack an introspection call answers for.
type Level uint8

const (
	// LevelCurrent is the connector being asked.
	LevelCurrent Level = iota
	// LevelNext is the connector directly below a pass-through connector.
	LevelNext
	// LevelTerminal is the innermost connector of the stack.
	LevelTerminal
)

// FileFlags are the intent flags of file create and open.
type FileFlags uint32

// File intent flags.
const (
	FileReadOnly  FileFlags = 0
	FileReadWrite FileFlags = 1 << iota
	FileTruncate
	FileExclusive
)

// Writable reports whether the flags allow modification.
func (f FileFlags) Writable() bool {
	return f&(FileReadWrite|FileTruncate|FileExclusive) != 0
}

// RequestStatus is the state of an asynchronous operation.
type RequestStatus uint8

// Request states.
const (
	RequestInProgress RequestStatus = iota
	RequestSucceeded
	RequestFailed
	RequestCanceled
	RequestCantCancel
)

// Terminal reports whether the request has finished one way or another.
func (s RequestStatus) Terminal() bool {
	return s == RequestSucceeded || s == RequestFailed || s == RequestCanceled
}

func (s RequestStatus) String() string {
	switch s {
	case RequestInProgress:
		return "in progress"
	case RequestSucceeded:
		return "succeeded"
	case RequestFailed:
		return "failed"
	case RequestCanceled:
		return "canceled"
	case RequestCantCancel:
		return "can't cancel"
	default:
		return "unknown"
	}
}

// WaitForever is the timeout of a wait that blocks until the request is done.
const WaitForever time.Duration = -1

// LocKind selects how LocParams names an object relative to another.
type LocKind uint8

// Location kinds.
const (
	LocSelf LocKind = iota
	LocByName
	LocByIdx
	LocByToken
)

// IndexType is the index a by-index lookup or an iteration walks.
type IndexType uint8

// Index types.
const (
	IndexName IndexType = iota
	IndexCrtOrder
)

// IterOrder is the direction of a by-index lookup or an iteration.
type IterOrder uint8

// Iteration orders.
const (
	OrderInc IterOrder = iota
	OrderDec
	OrderNative
)

// LocParams names the object an operation acts on, relative to the object
// the operation is dispatched on.
type LocParams struct {
	Type ObjectType
	Kind LocKind

	// LocByName and LocByIdx.
	Name string
	Lapl *plist.List

	// LocByIdx.
	Index IndexType
	Order IterOrder
	N     uint64

	// LocByToken.
	Token core.Token
}

// Self returns the parameters naming the object itself.
func Self(typ ObjectType) LocParams {
	return LocParams{Type: typ, Kind: LocSelf}
}

// ByName returns the parameters naming an object by path.
func ByName(typ ObjectType, name string, lapl *plist.List) LocParams {
	return LocParams{Type: typ, Kind: LocByName, Name: name, Lapl: lapl}
}

// ByIdx returns the parameters naming the n-th link of the group at name.
func ByIdx(typ ObjectType, name string, idx IndexType, order IterOrder, n uint64, lapl *plist.List) LocParams {
	return LocParams{Type: typ, Kind: LocByIdx, Name: name, Index: idx, Order: order, N: n, Lapl: lapl}
}

// ByToken returns the parameters naming an object by token.
func ByToken(typ ObjectType, tok core.Token) LocParams {
	return LocParams{Type: typ, Kind: LocByToken, Token: tok}
}

// OptionalArgs carries a connector-specific operation.
type OptionalArgs struct {
	Op   int
	Args any
}

// Async collects the request token of an operation a connector chose to run
// asynchronously. A nil *Async asks for synchronous execution.
type Async struct {
	token any
	req   *Request
}

// NewAsync returns a collector for an asynchronous operation.
func NewAsync() *Async {
	return &Async{}
}

// Set records the connector's request token.
func (a *Async) Set(token any) {
	if a != nil {
		a.token = token
	}
}

// Token returns the recorded connector token.
func (a *Async) Token() any {
	if a == nil {
		return nil
	}
	return a.token
}

// Request returns the request of the operation, or nil if it completed
// synchronously.
func (a *Async) Request() *Request {
	if a == nil {
		return nil
	}
	return a.req
}

// InfoClass manages the connector-specific configuration value stored on
// file access lists. Copy requires Free.
type InfoClass struct {
	Copy       func(info any) (any, error)
	Compare    func(a, b any) (int, error)
	Free       func(info any) error
	ToString   func(info any) (string, error)
	FromString func(s string) (any, error)
}

// WrapClass lets a stacking connector re-wrap objects created below it.
// GetObject returns the object of the connector below; GetWrapCtx captures
// what WrapObject needs to wrap further objects of the same file. GetWrapCtx
// requires FreeWrapCtx.
type WrapClass struct {
	GetObject    func(obj any) (any, error)
	GetWrapCtx   func(obj any) (any, error)
	WrapObject   func(obj any, typ ObjectType, wrapCtx any) (any, error)
	UnwrapObject func(obj any) (any, error)
	FreeWrapCtx  func(wrapCtx any) error
}

// Class describes a connector.
type Class struct {
	Version     int
	Value       Value
	Name        string
	ConnVersion int
	CapFlags    CapFlags

	// Initialize runs when the class is first registered; Terminate when its
	// last reference is dropped.
	Initialize func(vipl *plist.List) error
	Terminate  func() error

	Info *InfoClass
	Wrap *WrapClass

	Attr       AttrClass
	Dataset    DatasetClass
	Datatype   DatatypeClass
	File       FileClass
	Group      GroupClass
	Link       LinkClass
	Object     ObjectClass
	Introspect IntrospectClass
	Request    RequestClass
	Blob       BlobClass
	Token      TokenClass
	Optional   OptionalClass
}

// AttrClass implements attribute operations.
type AttrClass interface {
	Create(ctx context.Context, obj any, loc LocParams, name string, typ core.Datatype, space core.Dataspace, acpl, aapl *plist.List, async *Async) (any, error)
	Open(ctx context.Context, obj any, loc LocParams, name string, aapl *plist.List, async *Async) (any, error)
	Read(ctx context.Context, attr any, buf []byte, async *Async) error
	Write(ctx context.Context, attr any, buf []byte, async *Async) error
	Get(ctx context.Context, obj any, args AttrGet, async *Async) error
	Specific(ctx context.Context, obj any, loc LocParams, args AttrSpecific, async *Async) error
	Optional(ctx context.Context, obj any, args *OptionalArgs, async *Async) error
	Close(ctx context.Context, attr any, async *Async) error
}

// DatasetClass implements dataset operations.
type DatasetClass interface {
	Create(ctx context.Context, obj any, loc LocParams, name string, lcpl *plist.List, typ core.Datatype, space core.Dataspace, dcpl, dapl *plist.List, async *Async) (any, error)
	Open(ctx context.Context, obj any, loc LocParams, name string, dapl *plist.List, async *Async) (any, error)
	Read(ctx context.Context, dset any, buf []byte, dxpl *plist.List, async *Async) error
	Write(ctx context.Context, dset any, buf []byte, dxpl *plist.List, async *Async) error
	Get(ctx context.Context, dset any, args DatasetGet, async *Async) error
	Specific(ctx context.Context, dset any, args DatasetSpecific, async *Async) error
	Optional(ctx context.Context, dset any, args *OptionalArgs, async *Async) error
	Close(ctx context.Context, dset any, async *Async) error
}

// DatatypeClass implements committed datatype operations.
type DatatypeClass interface {
	Commit(ctx context.Context, obj any, loc LocParams, name string, typ core.Datatype, lcpl, tcpl, tapl *plist.List, async *Async) (any, error)
	Open(ctx context.Context, obj any, loc LocParams, name string, tapl *plist.List, async *Async) (any, error)
	Get(ctx context.Context, dtype any, args DatatypeGet, async *Async) error
	Specific(ctx context.Context, dtype any, args DatatypeSpecific, async *Async) error
	Optional(ctx context.Context, dtype any, args *OptionalArgs, async *Async) error
	Close(ctx context.Context, dtype any, async *Async) error
}

// FileClass implements file operations. Specific may be called with a nil
// file for operations that act on a name (FileIsAccessible, FileDelete).
type FileClass interface {
	Create(ctx context.Context, name string, flags FileFlags, fcpl, fapl *plist.List, async *Async) (any, error)
	Open(ctx context.Context, name string, flags FileFlags, fapl *plist.List, async *Async) (any, error)
	Get(ctx context.Context, file any, args FileGet, async *Async) error
	Specific(ctx context.Context, file any, args FileSpecific, async *Async) error
	Optional(ctx context.Context, file any, args *OptionalArgs, async *Async) error
	Close(ctx context.Context, file any, async *Async) error
}

// GroupClass implements group operations.
type GroupClass interface {
	Create(ctx context.Context, obj any, loc LocParams, name string, lcpl, gcpl, gapl *plist.List, async *Async) (any, error)
	Open(ctx context.Context, obj any, loc LocParams, name string, gapl *plist.List, async *Async) (any, error)
	Get(ctx context.Context, obj any, args GroupGet, async *Async) error
	Specific(ctx context.Context, grp any, args GroupSpecific, async *Async) error
	Optional(ctx context.Context, grp any, args *OptionalArgs, async *Async) error
	Close(ctx context.Context, grp any, async *Async) error
}

// LinkClass implements link operations.
type LinkClass interface {
	Create(ctx context.Context, args LinkCreate, obj any, loc LocParams, lcpl, lapl *plist.List, async *Async) error
	Copy(ctx context.Context, src any, srcLoc LocParams, dst any, dstLoc LocParams, lcpl, lapl *plist.List, async *Async) error
	Move(ctx context.Context, src any, srcLoc LocParams, dst any, dstLoc LocParams, lcpl, lapl *plist.List, async *Async) error
	Get(ctx context.Context, obj any, loc LocParams, args LinkGet, async *Async) error
	Specific(ctx context.Context, obj any, loc LocParams, args LinkSpecific, async *Async) error
	Optional(ctx context.Context, obj any, loc LocParams, args *OptionalArgs, async *Async) error
}

// ObjectClass implements operations on objects of any type.
type ObjectClass interface {
	Open(ctx context.Context, obj any, loc LocParams, async *Async) (any, ObjectType, error)
	Copy(ctx context.Context, src any, srcLoc LocParams, srcName string, dst any, dstLoc LocParams, dstName string, ocpypl, lcpl *plist.List, async *Async) error
	Get(ctx context.Context, obj any, loc LocParams, args ObjectGet, async *Async) error
	Specific(ctx context.Context, obj any, loc LocParams, args ObjectSpecific, async *Async) error
	Optional(ctx context.Context, obj any, loc LocParams, args *OptionalArgs, async *Async) error
}

// IntrospectClass answers questions about the connector itself.
type IntrospectClass interface {
	// GetConnClass returns the class at level of the stack obj belongs to.
	GetConnClass(ctx context.Context, obj any, level Level) (*Class, error)
	GetCapFlags(info any) (CapFlags, error)
	OptQuery(ctx context.Context, obj any, subcls Subclass, op int) (OptFlags, error)
}

// OptFlags describe how a connector supports an optional operation.
type OptFlags uint32

// Optional operation flags.
const (
	OptSupported OptFlags = 1 << iota
	OptReadData
	OptWriteData
	OptQueryMetadata
	OptModifyMetadata
)

// RequestClass implements asynchronous request handling.
type RequestClass interface {
	Wait(ctx context.Context, req any, timeout time.Duration) (RequestStatus, error)
	Notify(req any, fn func(RequestStatus)) error
	Cancel(ctx context.Context, req any) (RequestStatus, error)
	Specific(ctx context.Context, req any, args RequestSpecific) error
	Optional(ctx context.Context, req any, args *OptionalArgs) error
	Free(req any) error
}

// BlobClass stores opaque byte sequences inside a file.
type BlobClass interface {
	Put(ctx context.Context, file any, data []byte) ([]byte, error)
	Get(ctx context.Context, file any, id []byte) ([]byte, error)
	Specific(ctx context.Context, file any, id []byte, args BlobSpecific) error
	Optional(ctx context.Context, file any, id []byte, args *OptionalArgs) error
}

// TokenClass converts object tokens.
type TokenClass interface {
	Compare(obj any, a, b core.Token) (int, error)
	ToString(obj any, typ ObjectType, tok core.Token) (string, error)
	FromString(obj any, typ ObjectType, s string) (core.Token, error)
}

// OptionalClass handles connector-wide optional operations not tied to a
// capability group.
type OptionalClass interface {
	Optional(ctx context.Context, obj any, args *OptionalArgs, async *Async) error
}
