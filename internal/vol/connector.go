package vol

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
)

// Connector is a registered connector class.
//
// The dispatch methods hand the call to the matching capability of the
// class and fail with utils.ErrUnsupported when the class leaves it nil.
// They work on the connector's own object data and return raw data; Object
// is the layer that binds results to a connector. Stacking connectors call
// these methods on the connector below them.
type Connector struct {
	id    ID
	class *Class
	reg   *Registry
	refs  int // guarded by reg.mu
}

// ID returns the registration handle.
func (c *Connector) ID() ID { return c.id }

// Name returns the class name.
func (c *Connector) Name() string { return c.class.Name }

// Value returns the class value.
func (c *Connector) Value() Value { return c.class.Value }

// Class returns the registered class.
func (c *Connector) Class() *Class { return c.class }

// Registry returns the registry the connector belongs to.
func (c *Connector) Registry() *Registry { return c.reg }

func (c *Connector) String() string {
	return fmt.Sprintf("%s (value %d, id %d)", c.class.Name, c.class.Value, c.id)
}

func (c *Connector) incRef() {
	c.reg.mu.Lock()
	c.refs++
	c.reg.mu.Unlock()
}

// decRef drops a reference, terminating the connector at zero.
func (c *Connector) decRef() error {
	r := c.reg
	r.mu.Lock()
	if c.refs <= 0 {
		r.mu.Unlock()
		return fmt.Errorf("connector %q released more often than referenced: %w", c.class.Name, utils.ErrInvalidArgument)
	}
	c.refs--
	if c.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	if i := slices.Index(r.conns, c); i >= 0 {
		r.conns = slices.Delete(r.conns, i, i+1)
	}
	r.mu.Unlock()
	return c.terminate()
}

func (c *Connector) terminate() error {
	c.reg.logger.Debug("connector terminated", slog.String("name", c.class.Name), slog.Int64("id", int64(c.id)))
	if c.class.Terminate == nil {
		return nil
	}
	if err := c.class.Terminate(); err != nil {
		return utils.WrapError(fmt.Sprintf("terminating connector %q", c.class.Name), err)
	}
	return nil
}

func (c *Connector) unsupported(subcls Subclass, op string) error {
	return fmt.Errorf("connector %q: %s %s: %w", c.class.Name, subcls, op, utils.ErrUnsupported)
}

// CopyInfo duplicates a connector info value. Without an info copy callback
// the value is shared.
func (c *Connector) CopyInfo(info any) (any, error) {
	if info == nil || c.class.Info == nil || c.class.Info.Copy == nil {
		return info, nil
	}
	out, err := c.class.Info.Copy(info)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("copying info of connector %q", c.class.Name), err)
	}
	return out, nil
}

// FreeInfo releases a connector info value.
func (c *Connector) FreeInfo(info any) error {
	if info == nil || c.class.Info == nil || c.class.Info.Free == nil {
		return nil
	}
	if err := c.class.Info.Free(info); err != nil {
		return utils.WrapError(fmt.Sprintf("freeing info of connector %q", c.class.Name), err)
	}
	return nil
}

// CompareInfo orders two info values of this connector. Without a compare
// callback, values are equal when deeply equal and otherwise ordered by
// their printed form.
func (c *Connector) CompareInfo(a, b any) (int, error) {
	if c.class.Info != nil && c.class.Info.Compare != nil {
		return c.class.Info.Compare(a, b)
	}
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	case reflect.DeepEqual(a, b):
		return 0, nil
	}
	return cmp.Compare(fmt.Sprintf("%#v", a), fmt.Sprintf("%#v", b)), nil
}

// InfoToString formats an info value.
func (c *Connector) InfoToString(info any) (string, error) {
	if info == nil {
		return "", nil
	}
	if c.class.Info == nil || c.class.Info.ToString == nil {
		return "", c.unsupported(SubclsInfo, "to string")
	}
	return c.class.Info.ToString(info)
}

// InfoFromString parses an info value. An empty string is a nil info.
func (c *Connector) InfoFromString(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	if c.class.Info == nil || c.class.Info.FromString == nil {
		return nil, c.unsupported(SubclsInfo, "from string")
	}
	return c.class.Info.FromString(s)
}

// GetObject returns the object of the connector below a stacking connector,
// or obj itself for a terminal connector.
func (c *Connector) GetObject(obj any) (any, error) {
	if c.class.Wrap == nil || c.class.Wrap.GetObject == nil {
		return obj, nil
	}
	return c.class.Wrap.GetObject(obj)
}

// Attributes.

func (c *Connector) attr(op string) (AttrClass, error) {
	if c.class.Attr == nil {
		return nil, c.unsupported(SubclsAttr, op)
	}
	return c.class.Attr, nil
}

func (c *Connector) AttrCreate(ctx context.Context, obj any, loc LocParams, name string, typ core.Datatype, space core.Dataspace, acpl, aapl *plist.List, async *Async) (any, error) {
	a, err := c.attr("create")
	if err != nil {
		return nil, err
	}
	return a.Create(ctx, obj, loc, name, typ, space, acpl, aapl, async)
}

func (c *Connector) AttrOpen(ctx context.Context, obj any, loc LocParams, name string, aapl *plist.List, async *Async) (any, error) {
	a, err := c.attr("open")
	if err != nil {
		return nil, err
	}
	return a.Open(ctx, obj, loc, name, aapl, async)
}

func (c *Connector) AttrRead(ctx context.Context, attr any, buf []byte, async *Async) error {
	a, err := c.attr("read")
	if err != nil {
		return err
	}
	return a.Read(ctx, attr, buf, async)
}

func (c *Connector) AttrWrite(ctx context.Context, attr any, buf []byte, async *Async) error {
	a, err := c.attr("write")
	if err != nil {
		return err
	}
	return a.Write(ctx, attr, buf, async)
}

func (c *Connector) AttrGet(ctx context.Context, obj any, args AttrGet, async *Async) error {
	a, err := c.attr("get")
	if err != nil {
		return err
	}
	return a.Get(ctx, obj, args, async)
}

func (c *Connector) AttrSpecific(ctx context.Context, obj any, loc LocParams, args AttrSpecific, async *Async) error {
	a, err := c.attr("specific")
	if err != nil {
		return err
	}
	return a.Specific(ctx, obj, loc, args, async)
}

func (c *Connector) AttrOptional(ctx context.Context, obj any, args *OptionalArgs, async *Async) error {
	a, err := c.attr("optional")
	if err != nil {
		return err
	}
	return a.Optional(ctx, obj, args, async)
}

func (c *Connector) AttrClose(ctx context.Context, attr any, async *Async) error {
	a, err := c.attr("close")
	if err != nil {
		return err
	}
	return a.Close(ctx, attr, async)
}

// Datasets.

func (c *Connector) dataset(op string) (DatasetClass, error) {
	if c.class.Dataset == nil {
		return nil, c.unsupported(SubclsDataset, op)
	}
	return c.class.Dataset, nil
}

func (c *Connector) DatasetCreate(ctx context.Context, obj any, loc LocParams, name string, lcpl *plist.List, typ core.Datatype, space core.Dataspace, dcpl, dapl *plist.List, async *Async) (any, error) {
	d, err := c.dataset("create")
	if err != nil {
		return nil, err
	}
	return d.Create(ctx, obj, loc, name, lcpl, typ, space, dcpl, dapl, async)
}

func (c *Connector) DatasetOpen(ctx context.Context, obj any, loc LocParams, name string, dapl *plist.List, async *Async) (any, error) {
	d, err := c.dataset("open")
	if err != nil {
		return nil, err
	}
	return d.Open(ctx, obj, loc, name, dapl, async)
}

func (c *Connector) DatasetRead(ctx context.Context, dset any, buf []byte, dxpl *plist.List, async *Async) error {
	d, err := c.dataset("read")
	if err != nil {
		return err
	}
	return d.Read(ctx, dset, buf, dxpl, async)
}

func (c *Connector) DatasetWrite(ctx context.Context, dset any, buf []byte, dxpl *plist.List, async *Async) error {
	d, err := c.dataset("write")
	if err != nil {
		return err
	}
	return d.Write(ctx, dset, buf, dxpl, async)
}

func (c *Connector) DatasetGet(ctx context.Context, dset any, args DatasetGet, async *Async) error {
	d, err := c.dataset("get")
	if err != nil {
		return err
	}
	return d.Get(ctx, dset, args, async)
}

func (c *Connector) DatasetSpecific(ctx context.Context, dset any, args DatasetSpecific, async *Async) error {
	d, err := c.dataset("specific")
	if err != nil {
		return err
	}
	return d.Specific(ctx, dset, args, async)
}

func (c *Connector) DatasetOptional(ctx context.Context, dset any, args *OptionalArgs, async *Async) error {
	d, err := c.dataset("optional")
	if err != nil {
		return err
	}
	return d.Optional(ctx, dset, args, async)
}

func (c *Connector) DatasetClose(ctx context.Context, dset any, async *Async) error {
	d, err := c.dataset("close")
	if err != nil {
		return err
	}
	return d.Close(ctx, dset, async)
}

// Committed datatypes.

func (c *Connector) datatype(op string) (DatatypeClass, error) {
	if c.class.Datatype == nil {
		return nil, c.unsupported(SubclsDatatype, op)
	}
	return c.class.Datatype, nil
}

func (c *Connector) DatatypeCommit(ctx context.Context, obj any, loc LocParams, name string, typ core.Datatype, lcpl, tcpl, tapl *plist.List, async *Async) (any, error) {
	t, err := c.datatype("commit")
	if err != nil {
		return nil, err
	}
	return t.Commit(ctx, obj, loc, name, typ, lcpl, tcpl, tapl, async)
}

func (c *Connector) DatatypeOpen(ctx context.Context, obj any, loc LocParams, name string, tapl *plist.List, async *Async) (any, error) {
	t, err := c.datatype("open")
	if err != nil {
		return nil, err
	}
	return t.Open(ctx, obj, loc, name, tapl, async)
}

func (c *Connector) DatatypeGet(ctx context.Context, dtype any, args DatatypeGet, async *Async) error {
	t, err := c.datatype("get")
	if err != nil {
		return err
	}
	return t.Get(ctx, dtype, args, async)
}

func (c *Connector) DatatypeSpecific(ctx context.Context, dtype any, args DatatypeSpecific, async *Async) error {
	t, err := c.datatype("specific")
	if err != nil {
		return err
	}
	return t.Specific(ctx, dtype, args, async)
}

func (c *Connector) DatatypeOptional(ctx context.Context, dtype any, args *OptionalArgs, async *Async) error {
	t, err := c.datatype("optional")
	if err != nil {
		return err
	}
	return t.Optional(ctx, dtype, args, async)
}

func (c *Connector) DatatypeClose(ctx context.Context, dtype any, async *Async) error {
	t, err := c.datatype("close")
	if err != nil {
		return err
	}
	return t.Close(ctx, dtype, async)
}

// Files.

func (c *Connector) file(op string) (FileClass, error) {
	if c.class.File == nil {
		return nil, c.unsupported(SubclsFile, op)
	}
	return c.class.File, nil
}

func (c *Connector) FileCreate(ctx context.Context, name string, flags FileFlags, fcpl, fapl *plist.List, async *Async) (any, error) {
	f, err := c.file("create")
	if err != nil {
		return nil, err
	}
	return f.Create(ctx, name, flags, fcpl, fapl, async)
}

func (c *Connector) FileOpen(ctx context.Context, name string, flags FileFlags, fapl *plist.List, async *Async) (any, error) {
	f, err := c.file("open")
	if err != nil {
		return nil, err
	}
	return f.Open(ctx, name, flags, fapl, async)
}

func (c *Connector) FileGet(ctx context.Context, file any, args FileGet, async *Async) error {
	f, err := c.file("get")
	if err != nil {
		return err
	}
	return f.Get(ctx, file, args, async)
}

func (c *Connector) FileSpecific(ctx context.Context, file any, args FileSpecific, async *Async) error {
	f, err := c.file("specific")
	if err != nil {
		return err
	}
	return f.Specific(ctx, file, args, async)
}

func (c *Connector) FileOptional(ctx context.Context, file any, args *OptionalArgs, async *Async) error {
	f, err := c.file("optional")
	if err != nil {
		return err
	}
	return f.Optional(ctx, file, args, async)
}

func (c *Connector) FileClose(ctx context.Context, file any, async *Async) error {
	f, err := c.file("close")
	if err != nil {
		return err
	}
	return f.Close(ctx, file, async)
}

// Groups.

func (c *Connector) group(op string) (GroupClass, error) {
	if c.class.Group == nil {
		return nil, c.unsupported(SubclsGroup, op)
	}
	return c.class.Group, nil
}

func (c *Connector) GroupCreate(ctx context.Context, obj any, loc LocParams, name string, lcpl, gcpl, gapl *plist.List, async *Async) (any, error) {
	g, err := c.group("create")
	if err != nil {
		return nil, err
	}
	return g.Create(ctx, obj, loc, name, lcpl, gcpl, gapl, async)
}

func (c *Connector) GroupOpen(ctx context.Context, obj any, loc LocParams, name string, gapl *plist.List, async *Async) (any, error) {
	g, err := c.group("open")
	if err != nil {
		return nil, err
	}
	return g.Open(ctx, obj, loc, name, gapl, async)
}

func (c *Connector) GroupGet(ctx context.Context, obj any, args GroupGet, async *Async) error {
	g, err := c.group("get")
	if err != nil {
		return err
	}
	return g.Get(ctx, obj, args, async)
}

func (c *Connector) GroupSpecific(ctx context.Context, grp any, args GroupSpecific, async *Async) error {
	g, err := c.group("specific")
	if err != nil {
		return err
	}
	return g.Specific(ctx, grp, args, async)
}

func (c *Connector) GroupOptional(ctx context.Context, grp any, args *OptionalArgs, async *Async) error {
	g, err := c.group("optional")
	if err != nil {
		return err
	}
	return g.Optional(ctx, grp, args, async)
}

func (c *Connector) GroupClose(ctx context.Context, grp any, async *Async) error {
	g, err := c.group("close")
	if err != nil {
		return err
	}
	return g.Close(ctx, grp, async)
}

// Links.

func (c *Connector) link(op string) (LinkClass, error) {
	if c.class.Link == nil {
		return nil, c.unsupported(SubclsLink, op)
	}
	return c.class.Link, nil
}

func (c *Connector) LinkCreate(ctx context.Context, args LinkCreate, obj any, loc LocParams, lcpl, lapl *plist.List, async *Async) error {
	l, err := c.link("create")
	if err != nil {
		return err
	}
	return l.Create(ctx, args, obj, loc, lcpl, lapl, async)
}

func (c *Connector) LinkCopy(ctx context.Context, src any, srcLoc LocParams, dst any, dstLoc LocParams, lcpl, lapl *plist.List, async *Async) error {
	l, err := c.link("copy")
	if err != nil {
		return err
	}
	return l.Copy(ctx, src, srcLoc, dst, dstLoc, lcpl, lapl, async)
}

func (c *Connector) LinkMove(ctx context.Context, src any, srcLoc LocParams, dst any, dstLoc LocParams, lcpl, lapl *plist.List, async *Async) error {
	l, err := c.link("move")
	if err != nil {
		return err
	}
	return l.Move(ctx, src, srcLoc, dst, dstLoc, lcpl, lapl, async)
}

func (c *Connector) LinkGet(ctx context.Context, obj any, loc LocParams, args LinkGet, async *Async) error {
	l, err := c.link("get")
	if err != nil {
		return err
	}
	return l.Get(ctx, obj, loc, args, async)
}

func (c *Connector) LinkSpecific(ctx context.Context, obj any, loc LocParams, args LinkSpecific, async *Async) error {
	l, err := c.link("specific")
	if err != nil {
		return err
	}
	return l.Specific(ctx, obj, loc, args, async)
}

func (c *Connector) LinkOptional(ctx context.Context, obj any, loc LocParams, args *OptionalArgs, async *Async) error {
	l, err := c.link("optional")
	if err != nil {
		return err
	}
	return l.Optional(ctx, obj, loc, args, async)
}

// Objects.

func (c *Connector) object(op string) (ObjectClass, error) {
	if c.class.Object == nil {
		return nil, c.unsupported(SubclsObject, op)
	}
	return c.class.Object, nil
}

func (c *Connector) ObjectOpen(ctx context.Context, obj any, loc LocParams, async *Async) (any, ObjectType, error) {
	o, err := c.object("open")
	if err != nil {
		return nil, 0, err
	}
	return o.Open(ctx, obj, loc, async)
}

func (c *Connector) ObjectCopy(ctx context.Context, src any, srcLoc LocParams, srcName string, dst any, dstLoc LocParams, dstName string, ocpypl, lcpl *plist.List, async *Async) error {
	o, err := c.object("copy")
	if err != nil {
		return err
	}
	return o.Copy(ctx, src, srcLoc, srcName, dst, dstLoc, dstName, ocpypl, lcpl, async)
}

func (c *Connector) ObjectGet(ctx context.Context, obj any, loc LocParams, args ObjectGet, async *Async) error {
	o, err := c.object("get")
	if err != nil {
		return err
	}
	return o.Get(ctx, obj, loc, args, async)
}

func (c *Connector) ObjectSpecific(ctx context.Context, obj any, loc LocParams, args ObjectSpecific, async *Async) error {
	o, err := c.object("specific")
	if err != nil {
		return err
	}
	return o.Specific(ctx, obj, loc, args, async)
}

func (c *Connector) ObjectOptional(ctx context.Context, obj any, loc LocParams, args *OptionalArgs, async *Async) error {
	o, err := c.object("optional")
	if err != nil {
		return err
	}
	return o.Optional(ctx, obj, loc, args, async)
}

// Introspection.

// ConnClass returns the class at level of the stack obj belongs to.
// LevelCurrent is answered here without asking the connector.
func (c *Connector) ConnClass(ctx context.Context, obj any, level Level) (*Class, error) {
	if level == LevelCurrent || c.class.Introspect == nil {
		return c.class, nil
	}
	return c.class.Introspect.GetConnClass(ctx, obj, level)
}

// CapFlags returns the capabilities the connector reports for info.
func (c *Connector) CapFlags(info any) (CapFlags, error) {
	if c.class.Introspect == nil {
		return c.class.CapFlags, nil
	}
	return c.class.Introspect.GetCapFlags(info)
}

// OptQuery reports how the connector supports optional operation op of
// subcls. A connector without introspection supports none.
func (c *Connector) OptQuery(ctx context.Context, obj any, subcls Subclass, op int) (OptFlags, error) {
	if c.class.Introspect == nil {
		return 0, nil
	}
	return c.class.Introspect.OptQuery(ctx, obj, subcls, op)
}

// Requests.

func (c *Connector) request(op string) (RequestClass, error) {
	if c.class.Request == nil {
		return nil, c.unsupported(SubclsRequest, op)
	}
	return c.class.Request, nil
}

func (c *Connector) RequestWait(ctx context.Context, req any, timeout time.Duration) (RequestStatus, error) {
	r, err := c.request("wait")
	if err != nil {
		return RequestFailed, err
	}
	return r.Wait(ctx, req, timeout)
}

func (c *Connector) RequestNotify(req any, fn func(RequestStatus)) error {
	r, err := c.request("notify")
	if err != nil {
		return err
	}
	return r.Notify(req, fn)
}

func (c *Connector) RequestCancel(ctx context.Context, req any) (RequestStatus, error) {
	r, err := c.request("cancel")
	if err != nil {
		return RequestCantCancel, err
	}
	return r.Cancel(ctx, req)
}

func (c *Connector) RequestSpecific(ctx context.Context, req any, args RequestSpecific) error {
	r, err := c.request("specific")
	if err != nil {
		return err
	}
	return r.Specific(ctx, req, args)
}

func (c *Connector) RequestOptional(ctx context.Context, req any, args *OptionalArgs) error {
	r, err := c.request("optional")
	if err != nil {
		return err
	}
	return r.Optional(ctx, req, args)
}

func (c *Connector) RequestFree(req any) error {
	r, err := c.request("free")
	if err != nil {
		return err
	}
	return r.Free(req)
}

// Blobs.

func (c *Connector) blob(op string) (BlobClass, error) {
	if c.class.Blob == nil {
		return nil, c.unsupported(SubclsBlob, op)
	}
	return c.class.Blob, nil
}

func (c *Connector) BlobPut(ctx context.Context, file any, data []byte) ([]byte, error) {
	b, err := c.blob("put")
	if err != nil {
		return nil, err
	}
	return b.Put(ctx, file, data)
}

func (c *Connector) BlobGet(ctx context.Context, file any, id []byte) ([]byte, error) {
	b, err := c.blob("get")
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, file, id)
}

func (c *Connector) BlobSpecific(ctx context.Context, file any, id []byte, args BlobSpecific) error {
	b, err := c.blob("specific")
	if err != nil {
		return err
	}
	return b.Specific(ctx, file, id, args)
}

func (c *Connector) BlobOptional(ctx context.Context, file any, id []byte, args *OptionalArgs) error {
	b, err := c.blob("optional")
	if err != nil {
		return err
	}
	return b.Optional(ctx, file, id, args)
}

// Tokens.

// TokenCompare orders two tokens. Without a token class, tokens compare
// bytewise.
func (c *Connector) TokenCompare(obj any, a, b core.Token) (int, error) {
	if c.class.Token == nil {
		return slices.Compare(a[:], b[:]), nil
	}
	return c.class.Token.Compare(obj, a, b)
}

func (c *Connector) TokenToString(obj any, typ ObjectType, tok core.Token) (string, error) {
	if c.class.Token == nil {
		return "", c.unsupported(SubclsToken, "to string")
	}
	return c.class.Token.ToString(obj, typ, tok)
}

func (c *Connector) TokenFromString(obj any, typ ObjectType, s string) (core.Token, error) {
	if c.class.Token == nil {
		return core.Token{}, c.unsupported(SubclsToken, "from string")
	}
	return c.class.Token.FromString(obj, typ, s)
}

// Generic optional operations.

func (c *Connector) Optional(ctx context.Context, obj any, args *OptionalArgs, async *Async) error {
	if c.class.Optional == nil {
		return c.unsupported(SubclsNone, "optional")
	}
	return c.class.Optional.Optional(ctx, obj, args, async)
}
