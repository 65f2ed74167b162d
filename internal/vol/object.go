package vol

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
)

// Object is a connector object bound to its connector. Creating an Object
// takes a connector reference; Close or Free gives it back exactly once.
//
// The dispatch methods call the connector with the object's data and wrap
// every object and request coming back, so everything a caller holds carries
// a connector binding. Object arguments (link targets, mount children, copy
// destinations) are unwrapped before the call and must belong to the same
// connector.
type Object struct {
	conn  *Connector
	typ   ObjectType
	data  any
	freed atomic.Bool
}

// NewObject binds data to conn.
func NewObject(conn *Connector, typ ObjectType, data any) *Object {
	conn.incRef()
	return &Object{conn: conn, typ: typ, data: data}
}

// Connector returns the connector owning the object.
func (o *Object) Connector() *Connector { return o.conn }

// ConnectorID returns the ID of the owning connector.
func (o *Object) ConnectorID() ID { return o.conn.id }

// Type returns the object type.
func (o *Object) Type() ObjectType { return o.typ }

// Data returns the connector's object.
func (o *Object) Data() any { return o.data }

// Valid reports whether the object has not been closed or freed.
func (o *Object) Valid() bool { return o != nil && !o.freed.Load() }

// Free releases the binding without closing the connector object.
func (o *Object) Free() error {
	if !o.freed.CompareAndSwap(false, true) {
		return nil
	}
	return o.conn.decRef()
}

func (o *Object) String() string {
	return fmt.Sprintf("%s object of connector %q", o.typ, o.conn.Name())
}

// call runs fn with o's wrap context on ctx and binds a request token the
// connector left behind to async.
func (o *Object) call(ctx context.Context, async *Async, fn func(ctx context.Context, inner *Async) error) error {
	if !o.Valid() {
		return fmt.Errorf("%s object already closed: %w", o.typ, utils.ErrInvalidArgument)
	}
	wc, err := NewWrapContext(o)
	if err != nil {
		return err
	}
	var inner *Async
	if async != nil {
		inner = NewAsync()
	}
	err = fn(WithWrapContext(ctx, wc), inner)
	if tok := inner.Token(); err == nil && tok != nil {
		async.req = newRequest(o.conn, tok)
	}
	return utils.KeepPrimary(err, wc.DecRef())
}

func (o *Object) open(ctx context.Context, typ ObjectType, async *Async, fn func(ctx context.Context, inner *Async) (any, error)) (*Object, error) {
	var data any
	err := o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		var err error
		data, err = fn(ctx, inner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewObject(o.conn, typ, data), nil
}

// peer returns the data of an object argument, or o's own data for nil.
func (o *Object) peer(p *Object) (any, error) {
	switch {
	case p == nil:
		return o.data, nil
	case !p.Valid():
		return nil, fmt.Errorf("%s argument already closed: %w", p.typ, utils.ErrInvalidArgument)
	case p.conn != o.conn:
		return nil, fmt.Errorf("objects of connectors %q and %q cannot be combined: %w",
			o.conn.Name(), p.conn.Name(), utils.ErrInvalidArgument)
	}
	return p.data, nil
}

func fileRequest(conn *Connector, async, inner *Async) {
	if tok := inner.Token(); tok != nil {
		async.req = newRequest(conn, tok)
	}
}

func propOf(fapl *plist.List) (*ConnectorProp, error) {
	p, err := GetConnectorProp(fapl)
	if err != nil {
		return nil, utils.WrapError("selecting connector", err)
	}
	return p, nil
}

// FileCreate creates a file with the connector selected on fapl.
func FileCreate(ctx context.Context, name string, flags FileFlags, fcpl, fapl *plist.List, async *Async) (*Object, error) {
	p, err := propOf(fapl)
	if err != nil {
		return nil, err
	}
	var inner *Async
	if async != nil {
		inner = NewAsync()
	}
	data, err := p.Conn.FileCreate(ctx, name, flags, fcpl, fapl, inner)
	if err != nil {
		return nil, err
	}
	fileRequest(p.Conn, async, inner)
	return NewObject(p.Conn, ObjFile, data), nil
}

// FileOpen opens a file with the connector selected on fapl.
func FileOpen(ctx context.Context, name string, flags FileFlags, fapl *plist.List, async *Async) (*Object, error) {
	p, err := propOf(fapl)
	if err != nil {
		return nil, err
	}
	var inner *Async
	if async != nil {
		inner = NewAsync()
	}
	data, err := p.Conn.FileOpen(ctx, name, flags, fapl, inner)
	if err != nil {
		return nil, err
	}
	fileRequest(p.Conn, async, inner)
	return NewObject(p.Conn, ObjFile, data), nil
}

// FileIsAccessible reports whether the connector selected on fapl can open name.
func FileIsAccessible(ctx context.Context, name string, fapl *plist.List) (bool, error) {
	p, err := propOf(fapl)
	if err != nil {
		return false, err
	}
	args := &FileIsAccessible{Name: name, FAPL: fapl}
	if err := p.Conn.FileSpecific(ctx, nil, args, nil); err != nil {
		return false, err
	}
	return args.Accessible, nil
}

// FileDelete removes name with the connector selected on fapl.
func FileDelete(ctx context.Context, name string, fapl *plist.List) error {
	p, err := propOf(fapl)
	if err != nil {
		return err
	}
	return p.Conn.FileSpecific(ctx, nil, &FileDelete{Name: name, FAPL: fapl}, nil)
}

// Close closes the connector object and, on success, releases the binding.
// A failed close leaves the object valid.
func (o *Object) Close(ctx context.Context, async *Async) error {
	err := o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		switch o.typ {
		case ObjFile:
			return o.conn.FileClose(ctx, o.data, inner)
		case ObjGroup:
			return o.conn.GroupClose(ctx, o.data, inner)
		case ObjDataset:
			return o.conn.DatasetClose(ctx, o.data, inner)
		case ObjDatatype:
			return o.conn.DatatypeClose(ctx, o.data, inner)
		case ObjAttr:
			return o.conn.AttrClose(ctx, o.data, inner)
		default:
			return fmt.Errorf("closing %s object: %w", o.typ, utils.ErrInvalidArgument)
		}
	})
	if err != nil {
		return err
	}
	return o.Free()
}

// Attributes.

func (o *Object) AttrCreate(ctx context.Context, loc LocParams, name string, typ core.Datatype, space core.Dataspace, acpl, aapl *plist.List, async *Async) (*Object, error) {
	return o.open(ctx, ObjAttr, async, func(ctx context.Context, inner *Async) (any, error) {
		return o.conn.AttrCreate(ctx, o.data, loc, name, typ, space, acpl, aapl, inner)
	})
}

func (o *Object) AttrOpen(ctx context.Context, loc LocParams, name string, aapl *plist.List, async *Async) (*Object, error) {
	return o.open(ctx, ObjAttr, async, func(ctx context.Context, inner *Async) (any, error) {
		return o.conn.AttrOpen(ctx, o.data, loc, name, aapl, inner)
	})
}

func (o *Object) AttrRead(ctx context.Context, buf []byte, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.AttrRead(ctx, o.data, buf, inner)
	})
}

func (o *Object) AttrWrite(ctx context.Context, buf []byte, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.AttrWrite(ctx, o.data, buf, inner)
	})
}

func (o *Object) AttrGet(ctx context.Context, args AttrGet, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.AttrGet(ctx, o.data, args, inner)
	})
}

func (o *Object) AttrSpecific(ctx context.Context, loc LocParams, args AttrSpecific, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.AttrSpecific(ctx, o.data, loc, args, inner)
	})
}

func (o *Object) AttrOptional(ctx context.Context, args *OptionalArgs, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.AttrOptional(ctx, o.data, args, inner)
	})
}

// Datasets.

func (o *Object) DatasetCreate(ctx context.Context, loc LocParams, name string, lcpl *plist.List, typ core.Datatype, space core.Dataspace, dcpl, dapl *plist.List, async *Async) (*Object, error) {
	return o.open(ctx, ObjDataset, async, func(ctx context.Context, inner *Async) (any, error) {
		return o.conn.DatasetCreate(ctx, o.data, loc, name, lcpl, typ, space, dcpl, dapl, inner)
	})
}

func (o *Object) DatasetOpen(ctx context.Context, loc LocParams, name string, dapl *plist.List, async *Async) (*Object, error) {
	return o.open(ctx, ObjDataset, async, func(ctx context.Context, inner *Async) (any, error) {
		return o.conn.DatasetOpen(ctx, o.data, loc, name, dapl, inner)
	})
}

func (o *Object) DatasetRead(ctx context.Context, buf []byte, dxpl *plist.List, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.DatasetRead(ctx, o.data, buf, dxpl, inner)
	})
}

func (o *Object) DatasetWrite(ctx context.Context, buf []byte, dxpl *plist.List, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.DatasetWrite(ctx, o.data, buf, dxpl, inner)
	})
}

func (o *Object) DatasetGet(ctx context.Context, args DatasetGet, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.DatasetGet(ctx, o.data, args, inner)
	})
}

func (o *Object) DatasetSpecific(ctx context.Context, args DatasetSpecific, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.DatasetSpecific(ctx, o.data, args, inner)
	})
}

func (o *Object) DatasetOptional(ctx context.Context, args *OptionalArgs, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.DatasetOptional(ctx, o.data, args, inner)
	})
}

// Committed datatypes.

func (o *Object) DatatypeCommit(ctx context.Context, loc LocParams, name string, typ core.Datatype, lcpl, tcpl, tapl *plist.List, async *Async) (*Object, error) {
	return o.open(ctx, ObjDatatype, async, func(ctx context.Context, inner *Async) (any, error) {
		return o.conn.DatatypeCommit(ctx, o.data, loc, name, typ, lcpl, tcpl, tapl, inner)
	})
}

func (o *Object) DatatypeOpen(ctx context.Context, loc LocParams, name string, tapl *plist.List, async *Async) (*Object, error) {
	return o.open(ctx, ObjDatatype, async, func(ctx context.Context, inner *Async) (any, error) {
		return o.conn.DatatypeOpen(ctx, o.data, loc, name, tapl, inner)
	})
}

func (o *Object) DatatypeGet(ctx context.Context, args DatatypeGet, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.DatatypeGet(ctx, o.data, args, inner)
	})
}

func (o *Object) DatatypeSpecific(ctx context.Context, args DatatypeSpecific, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.DatatypeSpecific(ctx, o.data, args, inner)
	})
}

func (o *Object) DatatypeOptional(ctx context.Context, args *OptionalArgs, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.DatatypeOptional(ctx, o.data, args, inner)
	})
}

// Files.

func (o *Object) FileGet(ctx context.Context, args FileGet, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.FileGet(ctx, o.data, args, inner)
	})
}

// FileSpecific runs a file operation. FileReopen yields an *Object and
// FileIsEqual takes one.
func (o *Object) FileSpecific(ctx context.Context, args FileSpecific, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		switch a := args.(type) {
		case *FileReopen:
			r := &FileReopen{}
			if err := o.conn.FileSpecific(ctx, o.data, r, inner); err != nil {
				return err
			}
			a.File = NewObject(o.conn, ObjFile, r.File)
			return nil
		case *FileIsEqual:
			other, ok := a.Other.(*Object)
			if !ok {
				return fmt.Errorf("file comparison with %T: %w", a.Other, utils.ErrInvalidArgument)
			}
			if other.conn != o.conn {
				a.Equal = false
				return nil
			}
			peer, err := o.peer(other)
			if err != nil {
				return err
			}
			eq := &FileIsEqual{Other: peer}
			if err := o.conn.FileSpecific(ctx, o.data, eq, inner); err != nil {
				return err
			}
			a.Equal = eq.Equal
			return nil
		default:
			return o.conn.FileSpecific(ctx, o.data, args, inner)
		}
	})
}

func (o *Object) FileOptional(ctx context.Context, args *OptionalArgs, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.FileOptional(ctx, o.data, args, inner)
	})
}

// Groups.

func (o *Object) GroupCreate(ctx context.Context, loc LocParams, name string, lcpl, gcpl, gapl *plist.List, async *Async) (*Object, error) {
	return o.open(ctx, ObjGroup, async, func(ctx context.Context, inner *Async) (any, error) {
		return o.conn.GroupCreate(ctx, o.data, loc, name, lcpl, gcpl, gapl, inner)
	})
}

func (o *Object) GroupOpen(ctx context.Context, loc LocParams, name string, gapl *plist.List, async *Async) (*Object, error) {
	return o.open(ctx, ObjGroup, async, func(ctx context.Context, inner *Async) (any, error) {
		return o.conn.GroupOpen(ctx, o.data, loc, name, gapl, inner)
	})
}

func (o *Object) GroupGet(ctx context.Context, args GroupGet, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.GroupGet(ctx, o.data, args, inner)
	})
}

// GroupSpecific runs a group operation. GroupMount takes the child file as
// an *Object.
func (o *Object) GroupSpecific(ctx context.Context, args GroupSpecific, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		if a, ok := args.(*GroupMount); ok {
			child, ok := a.Child.(*Object)
			if !ok || child == nil {
				return fmt.Errorf("mounting %T: %w", a.Child, utils.ErrInvalidArgument)
			}
			data, err := o.peer(child)
			if err != nil {
				return err
			}
			args = &GroupMount{Name: a.Name, Child: data, FMPL: a.FMPL}
		}
		return o.conn.GroupSpecific(ctx, o.data, args, inner)
	})
}

func (o *Object) GroupOptional(ctx context.Context, args *OptionalArgs, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.GroupOptional(ctx, o.data, args, inner)
	})
}

// Links.

// LinkCreate creates a link named by loc. A hard link target given as an
// *Object is unwrapped.
func (o *Object) LinkCreate(ctx context.Context, args LinkCreate, loc LocParams, lcpl, lapl *plist.List, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		if h, ok := args.(*LinkCreateHard); ok && h.Target != nil {
			target, ok := h.Target.(*Object)
			if !ok {
				return fmt.Errorf("hard link target %T: %w", h.Target, utils.ErrInvalidArgument)
			}
			data, err := o.peer(target)
			if err != nil {
				return err
			}
			args = &LinkCreateHard{Target: data, TargetLoc: h.TargetLoc}
		}
		return o.conn.LinkCreate(ctx, args, o.data, loc, lcpl, lapl, inner)
	})
}

// LinkCopy copies the link at srcLoc to dstLoc relative to dst, or to o
// when dst is nil.
func (o *Object) LinkCopy(ctx context.Context, srcLoc LocParams, dst *Object, dstLoc LocParams, lcpl, lapl *plist.List, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		d, err := o.peer(dst)
		if err != nil {
			return err
		}
		return o.conn.LinkCopy(ctx, o.data, srcLoc, d, dstLoc, lcpl, lapl, inner)
	})
}

// LinkMove moves the link at srcLoc to dstLoc relative to dst, or to o
// when dst is nil.
func (o *Object) LinkMove(ctx context.Context, srcLoc LocParams, dst *Object, dstLoc LocParams, lcpl, lapl *plist.List, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		d, err := o.peer(dst)
		if err != nil {
			return err
		}
		return o.conn.LinkMove(ctx, o.data, srcLoc, d, dstLoc, lcpl, lapl, inner)
	})
}

func (o *Object) LinkGet(ctx context.Context, loc LocParams, args LinkGet, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.LinkGet(ctx, o.data, loc, args, inner)
	})
}

func (o *Object) LinkSpecific(ctx context.Context, loc LocParams, args LinkSpecific, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.LinkSpecific(ctx, o.data, loc, args, inner)
	})
}

func (o *Object) LinkOptional(ctx context.Context, loc LocParams, args *OptionalArgs, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.LinkOptional(ctx, o.data, loc, args, inner)
	})
}

// Objects.

// ObjectOpen opens the object loc names, whatever its type.
func (o *Object) ObjectOpen(ctx context.Context, loc LocParams, async *Async) (*Object, error) {
	var (
		data any
		typ  ObjectType
	)
	err := o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		var err error
		data, typ, err = o.conn.ObjectOpen(ctx, o.data, loc, inner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewObject(o.conn, typ, data), nil
}

// ObjectCopy copies srcName below srcLoc to dstName below dstLoc relative to
// dst, or to o when dst is nil.
func (o *Object) ObjectCopy(ctx context.Context, srcLoc LocParams, srcName string, dst *Object, dstLoc LocParams, dstName string, ocpypl, lcpl *plist.List, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		d, err := o.peer(dst)
		if err != nil {
			return err
		}
		return o.conn.ObjectCopy(ctx, o.data, srcLoc, srcName, d, dstLoc, dstName, ocpypl, lcpl, inner)
	})
}

// ObjectGet runs an object query. ObjectGetFile yields an *Object.
func (o *Object) ObjectGet(ctx context.Context, loc LocParams, args ObjectGet, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		if a, ok := args.(*ObjectGetFile); ok {
			r := &ObjectGetFile{}
			if err := o.conn.ObjectGet(ctx, o.data, loc, r, inner); err != nil {
				return err
			}
			a.File = NewObject(o.conn, ObjFile, r.File)
			return nil
		}
		return o.conn.ObjectGet(ctx, o.data, loc, args, inner)
	})
}

func (o *Object) ObjectSpecific(ctx context.Context, loc LocParams, args ObjectSpecific, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.ObjectSpecific(ctx, o.data, loc, args, inner)
	})
}

func (o *Object) ObjectOptional(ctx context.Context, loc LocParams, args *OptionalArgs, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.ObjectOptional(ctx, o.data, loc, args, inner)
	})
}

// Introspection.

// ConnClass returns the class at level of the object's connector stack.
func (o *Object) ConnClass(ctx context.Context, level Level) (*Class, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%s object already closed: %w", o.typ, utils.ErrInvalidArgument)
	}
	return o.conn.ConnClass(ctx, o.data, level)
}

// OptQuery reports how the connector stack supports an optional operation.
func (o *Object) OptQuery(ctx context.Context, subcls Subclass, op int) (OptFlags, error) {
	if !o.Valid() {
		return 0, fmt.Errorf("%s object already closed: %w", o.typ, utils.ErrInvalidArgument)
	}
	return o.conn.OptQuery(ctx, o.data, subcls, op)
}

// Blobs.

func (o *Object) BlobPut(ctx context.Context, data []byte) ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%s object already closed: %w", o.typ, utils.ErrInvalidArgument)
	}
	return o.conn.BlobPut(ctx, o.data, data)
}

func (o *Object) BlobGet(ctx context.Context, id []byte) ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%s object already closed: %w", o.typ, utils.ErrInvalidArgument)
	}
	return o.conn.BlobGet(ctx, o.data, id)
}

func (o *Object) BlobSpecific(ctx context.Context, id []byte, args BlobSpecific) error {
	if !o.Valid() {
		return fmt.Errorf("%s object already closed: %w", o.typ, utils.ErrInvalidArgument)
	}
	return o.conn.BlobSpecific(ctx, o.data, id, args)
}

func (o *Object) BlobOptional(ctx context.Context, id []byte, args *OptionalArgs) error {
	if !o.Valid() {
		return fmt.Errorf("%s object already closed: %w", o.typ, utils.ErrInvalidArgument)
	}
	return o.conn.BlobOptional(ctx, o.data, id, args)
}

// Tokens.

func (o *Object) TokenCompare(a, b core.Token) (int, error) {
	return o.conn.TokenCompare(o.data, a, b)
}

func (o *Object) TokenToString(typ ObjectType, tok core.Token) (string, error) {
	return o.conn.TokenToString(o.data, typ, tok)
}

func (o *Object) TokenFromString(typ ObjectType, s string) (core.Token, error) {
	return o.conn.TokenFromString(o.data, typ, s)
}

// Optional runs a connector-wide optional operation.
func (o *Object) Optional(ctx context.Context, args *OptionalArgs, async *Async) error {
	return o.call(ctx, async, func(ctx context.Context, inner *Async) error {
		return o.conn.Optional(ctx, o.data, args, inner)
	})
}
