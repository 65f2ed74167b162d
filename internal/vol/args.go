package vol

import (
	"time"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
)

// Each get and specific operation family is a sealed interface with one
// pointer struct per case. Fields below an "out" comment are filled in by
// the connector.

// AttrGet is an attribute query.
type AttrGet interface{ attrGet() }

// AttrGetSpace returns the dataspace of an open attribute.
type AttrGetSpace struct {
	// out
	Space core.Dataspace
}

// AttrGetType returns the datatype of an open attribute.
type AttrGetType struct {
	// out
	Type core.Datatype
}

// AttrGetName returns the name of an open attribute.
type AttrGetName struct {
	// out
	Name string
}

// AttrGetInfo returns information about the attribute named at Loc.
type AttrGetInfo struct {
	Loc  LocParams
	Name string
	// out
	Info AttrInfo
}

func (*AttrGetSpace) attrGet() {}
func (*AttrGetType) attrGet()  {}
func (*AttrGetName) attrGet()  {}
func (*AttrGetInfo) attrGet()  {}

// AttrInfo describes an attribute.
type AttrInfo struct {
	Name     string
	DataSize uint64
}

// AttrSpecific is an attribute operation addressed by name.
type AttrSpecific interface{ attrSpecific() }

// AttrDelete removes an attribute.
type AttrDelete struct{ Name string }

// AttrExists checks for an attribute.
type AttrExists struct {
	Name string
	// out
	Exists bool
}

// AttrIterate calls Fn for every attribute in name order, starting at *Idx
// when Idx is set. Iteration stops at the first error Fn returns.
type AttrIterate struct {
	Order IterOrder
	Idx   *uint64
	Fn    func(name string, info AttrInfo) error
}

// AttrRename renames an attribute.
type AttrRename struct{ Old, New string }

func (*AttrDelete) attrSpecific()  {}
func (*AttrExists) attrSpecific()  {}
func (*AttrIterate) attrSpecific() {}
func (*AttrRename) attrSpecific()  {}

// DatasetGet is a dataset query.
type DatasetGet interface{ datasetGet() }

// DatasetGetSpace returns the current dataspace.
type DatasetGetSpace struct {
	// out
	Space core.Dataspace
}

// DatasetGetType returns the element datatype.
type DatasetGetType struct {
	// out
	Type core.Datatype
}

// DatasetGetDCPL returns a copy of the creation properties.
type DatasetGetDCPL struct {
	// out
	DCPL *plist.List
}

// DatasetGetStorageSize returns the number of bytes stored for the dataset.
type DatasetGetStorageSize struct {
	// out
	Size uint64
}

func (*DatasetGetSpace) datasetGet()       {}
func (*DatasetGetType) datasetGet()        {}
func (*DatasetGetDCPL) datasetGet()        {}
func (*DatasetGetStorageSize) datasetGet() {}

// DatasetSpecific is a dataset operation.
type DatasetSpecific interface{ datasetSpecific() }

// DatasetSetExtent resizes a dataset within its maximum dimensions.
type DatasetSetExtent struct{ Dims []uint64 }

// DatasetFlush writes cached dataset state to storage.
type DatasetFlush struct{}

// DatasetRefresh reloads dataset state from storage.
type DatasetRefresh struct{}

func (*DatasetSetExtent) datasetSpecific() {}
func (*DatasetFlush) datasetSpecific()     {}
func (*DatasetRefresh) datasetSpecific()   {}

// DatatypeGet is a committed datatype query.
type DatatypeGet interface{ datatypeGet() }

// DatatypeGetType returns the committed type.
type DatatypeGetType struct {
	// out
	Type core.Datatype
}

func (*DatatypeGetType) datatypeGet() {}

// DatatypeSpecific is a committed datatype operation.
type DatatypeSpecific interface{ datatypeSpecific() }

// DatatypeFlush writes the datatype to storage.
type DatatypeFlush struct{}

func (*DatatypeFlush) datatypeSpecific() {}

// FileGet is a file query.
type FileGet interface{ fileGet() }

// FileGetName returns the name the file was opened with.
type FileGetName struct {
	// out
	Name string
}

// FileGetIntent returns the flags the file was opened with.
type FileGetIntent struct {
	// out
	Flags FileFlags
}

// FileGetFileno returns a number identifying the open file.
type FileGetFileno struct {
	// out
	Fileno uint64
}

// FileGetFAPL returns a copy of the access properties.
type FileGetFAPL struct {
	// out
	FAPL *plist.List
}

// FileGetFCPL returns a copy of the creation properties.
type FileGetFCPL struct {
	// out
	FCPL *plist.List
}

// FileGetObjCount counts the open objects of the given types in the file.
type FileGetObjCount struct {
	Types []ObjectType
	// out
	Count int
}

func (*FileGetName) fileGet()     {}
func (*FileGetIntent) fileGet()   {}
func (*FileGetFileno) fileGet()   {}
func (*FileGetFAPL) fileGet()     {}
func (*FileGetFCPL) fileGet()     {}
func (*FileGetObjCount) fileGet() {}

// FileSpecific is a file operation.
type FileSpecific interface{ fileSpecific() }

// FileFlush writes the file to storage.
type FileFlush struct{}

// FileReopen opens the file again, sharing its storage.
type FileReopen struct {
	// out
	File any
}

// FileIsAccessible checks whether Name can be opened with FAPL.
type FileIsAccessible struct {
	Name string
	FAPL *plist.List
	// out
	Accessible bool
}

// FileDelete removes the file Name.
type FileDelete struct {
	Name string
	FAPL *plist.List
}

// FileIsEqual compares the file with another file of the same connector.
type FileIsEqual struct {
	Other any
	// out
	Equal bool
}

func (*FileFlush) fileSpecific()        {}
func (*FileReopen) fileSpecific()       {}
func (*FileIsAccessible) fileSpecific() {}
func (*FileDelete) fileSpecific()       {}
func (*FileIsEqual) fileSpecific()      {}

// GroupGet is a group query.
type GroupGet interface{ groupGet() }

// GroupGetInfo describes the group named at Loc.
type GroupGetInfo struct {
	Loc LocParams
	// out
	Info GroupInfo
}

// GroupGetGCPL returns a copy of the creation properties.
type GroupGetGCPL struct {
	// out
	GCPL *plist.List
}

func (*GroupGetInfo) groupGet() {}
func (*GroupGetGCPL) groupGet() {}

// GroupInfo describes a group.
type GroupInfo struct {
	NLinks     uint64
	MaxCorder  int64
	Mounted    bool
	TrackOrder bool
}

// GroupSpecific is a group operation.
type GroupSpecific interface{ groupSpecific() }

// GroupMount mounts Child at the group Name names.
type GroupMount struct {
	Name  string
	Child any
	FMPL  *plist.List
}

// GroupUnmount detaches the file mounted at Name.
type GroupUnmount struct{ Name string }

// GroupFlush writes the group to storage.
type GroupFlush struct{}

// GroupRefresh reloads the group from storage.
type GroupRefresh struct{}

func (*GroupMount) groupSpecific()   {}
func (*GroupUnmount) groupSpecific() {}
func (*GroupFlush) groupSpecific()   {}
func (*GroupRefresh) groupSpecific() {}

// LinkCreate selects the kind of link to create.
type LinkCreate interface{ linkCreate() }

// LinkCreateHard links the object at Target, or the object the operation is
// dispatched on when Target is nil.
type LinkCreateHard struct {
	Target    any
	TargetLoc LocParams
}

// LinkCreateSoft stores a path.
type LinkCreateSoft struct{ Target string }

// LinkCreateExternal points into another file.
type LinkCreateExternal struct{ File, Path string }

// LinkCreateUD stores a user-defined payload of a registered link class.
type LinkCreateUD struct {
	Type core.LinkType
	Data []byte
}

func (*LinkCreateHard) linkCreate()     {}
func (*LinkCreateSoft) linkCreate()     {}
func (*LinkCreateExternal) linkCreate() {}
func (*LinkCreateUD) linkCreate()       {}

// LinkGet is a link query.
type LinkGet interface{ linkGet() }

// LinkGetInfo describes the link.
type LinkGetInfo struct {
	// out
	Info LinkInfo
}

// LinkGetName returns the name of the link a by-index location selects.
type LinkGetName struct {
	// out
	Name string
}

// LinkGetValue returns the stored link.
type LinkGetValue struct {
	// out
	Link core.Link
}

func (*LinkGetInfo) linkGet()  {}
func (*LinkGetName) linkGet()  {}
func (*LinkGetValue) linkGet() {}

// LinkInfo describes a link.
type LinkInfo struct {
	Type        core.LinkType
	CorderValid bool
	Corder      int64
	CSet        core.CharSet
	Token       core.Token // hard links
	ValueSize   int        // other links
}

// LinkSpecific is a link operation.
type LinkSpecific interface{ linkSpecific() }

// LinkDelete removes the link.
type LinkDelete struct{}

// LinkExists checks for the link.
type LinkExists struct {
	// out
	Exists bool
}

// LinkIterate calls Fn for the links of a group. With Recursive set it
// descends into subgroups, each visited once. Iteration stops at the first
// error Fn returns.
type LinkIterate struct {
	Recursive bool
	Index     IndexType
	Order     IterOrder
	Idx       *uint64
	Fn        func(name string, info LinkInfo) error
}

func (*LinkDelete) linkSpecific()  {}
func (*LinkExists) linkSpecific()  {}
func (*LinkIterate) linkSpecific() {}

// ObjectGet is an object query.
type ObjectGet interface{ objectGet() }

// ObjectGetFile returns the file an object belongs to, as a new object.
type ObjectGetFile struct {
	// out
	File any
}

// ObjectGetName returns the path an object was reached by.
type ObjectGetName struct {
	// out
	Name string
}

// ObjectGetType returns the type of the object.
type ObjectGetType struct {
	// out
	Type ObjectType
}

// ObjectGetInfo describes the object.
type ObjectGetInfo struct {
	// out
	Info ObjectInfo
}

func (*ObjectGetFile) objectGet() {}
func (*ObjectGetName) objectGet() {}
func (*ObjectGetType) objectGet() {}
func (*ObjectGetInfo) objectGet() {}

// ObjectInfo describes an object.
type ObjectInfo struct {
	Fileno   uint64
	Token    core.Token
	Type     ObjectType
	NumAttrs int
	NumLinks int // groups only
	NumMsgs  int
}

// ObjectSpecific is an object operation.
type ObjectSpecific interface{ objectSpecific() }

// ObjectExists checks whether the location resolves to an object.
type ObjectExists struct {
	// out
	Exists bool
}

// ObjectLookup returns the token of the object.
type ObjectLookup struct {
	// out
	Token core.Token
}

// ObjectVisit calls Fn for the object and every object reachable below it,
// each visited once. Names are relative to the starting object, which is ".".
type ObjectVisit struct {
	Index IndexType
	Order IterOrder
	Fn    func(name string, info ObjectInfo) error
}

// ObjectFlush writes the object to storage.
type ObjectFlush struct{}

// ObjectRefresh reloads the object from storage.
type ObjectRefresh struct{}

func (*ObjectExists) objectSpecific()  {}
func (*ObjectLookup) objectSpecific()  {}
func (*ObjectVisit) objectSpecific()   {}
func (*ObjectFlush) objectSpecific()   {}
func (*ObjectRefresh) objectSpecific() {}

// RequestSpecific is a request operation.
type RequestSpecific interface{ requestSpecific() }

// RequestGetExecTime reports how long the operation ran.
type RequestGetExecTime struct {
	// out
	Elapsed time.Duration
}

// RequestGetErr returns the error the operation failed with.
type RequestGetErr struct {
	// out
	Err error
}

func (*RequestGetExecTime) requestSpecific() {}
func (*RequestGetErr) requestSpecific()      {}

// BlobSpecific is a blob operation.
type BlobSpecific interface{ blobSpecific() }

// BlobDelete removes the blob.
type BlobDelete struct{}

// BlobIsNull reports whether the id is the null blob id.
type BlobIsNull struct {
	// out
	IsNull bool
}

// BlobSetNull returns the null blob id.
type BlobSetNull struct {
	// out
	ID []byte
}

func (*BlobDelete) blobSpecific()  {}
func (*BlobIsNull) blobSpecific()  {}
func (*BlobSetNull) blobSpecific() {}
