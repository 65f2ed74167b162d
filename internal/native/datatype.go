package native

import (
	"context"
	"fmt"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

type datatypeOps struct{ n *Native }

func (o datatypeOps) Commit(ctx context.Context, obj any, lp vol.LocParams, name string, typ core.Datatype, lcpl, _, _ *plist.List, _ *vol.Async) (any, error) {
	if typ.Size == 0 {
		return nil, fmt.Errorf("committing datatype %q: zero size: %w", name, utils.ErrInvalidArgument)
	}
	loc, err := o.n.create(ctx, obj, lp, name, lcpl, func(ctx context.Context, store storage.Store) (core.Address, error) {
		addr, err := store.CreateObject(ctx, core.ObjectDatatype)
		if err != nil {
			return core.AddrUndef, err
		}
		if err := store.WriteMessage(ctx, addr, core.MsgDatatype, typ); err != nil {
			return core.AddrUndef, utils.KeepPrimary(err, store.DeleteObject(ctx, addr))
		}
		return addr, nil
	})
	if err != nil {
		return nil, err
	}
	o.n.track(loc.File(), vol.ObjDatatype, 1)
	return &datatypeObj{loc: loc, typ: typ}, nil
}

func (o datatypeOps) Open(ctx context.Context, obj any, lp vol.LocParams, name string, _ *plist.List, _ *vol.Async) (any, error) {
	if name != "" {
		lp = vol.ByName(vol.ObjDatatype, name, lp.Lapl)
	}
	loc, err := o.n.resolve(ctx, obj, lp)
	if err != nil {
		return nil, err
	}
	t := &datatypeObj{loc: loc}
	err = checkType(ctx, loc, core.ObjectDatatype)
	if err == nil {
		err = loc.File().Store().ReadMessage(ctx, loc.Addr(), core.MsgDatatype, &t.typ)
	}
	if err != nil {
		return nil, utils.KeepPrimary(err, loc.Free())
	}
	o.n.track(loc.File(), vol.ObjDatatype, 1)
	return t, nil
}

func asDatatype(obj any) (*datatypeObj, error) {
	t, ok := obj.(*datatypeObj)
	if !ok || !t.loc.Valid() {
		return nil, fmt.Errorf("%T is not an open native datatype: %w", obj, utils.ErrInvalidArgument)
	}
	return t, nil
}

func (o datatypeOps) Get(_ context.Context, dtype any, args vol.DatatypeGet, _ *vol.Async) error {
	t, err := asDatatype(dtype)
	if err != nil {
		return err
	}
	a, ok := args.(*vol.DatatypeGetType)
	if !ok {
		return fmt.Errorf("datatype query %T: %w", args, utils.ErrUnsupported)
	}
	a.Type = t.typ
	return nil
}

func (o datatypeOps) Specific(ctx context.Context, dtype any, args vol.DatatypeSpecific, async *vol.Async) error {
	t, err := asDatatype(dtype)
	if err != nil {
		return err
	}
	if _, ok := args.(*vol.DatatypeFlush); !ok {
		return fmt.Errorf("datatype operation %T: %w", args, utils.ErrUnsupported)
	}
	return spawn(ctx, async, t.loc.File().Store().Flush)
}

func (o datatypeOps) Optional(_ context.Context, _ any, args *vol.OptionalArgs, _ *vol.Async) error {
	return unsupportedOpt(vol.SubclsDatatype, args)
}

func (o datatypeOps) Close(_ context.Context, dtype any, _ *vol.Async) error {
	t, err := asDatatype(dtype)
	if err != nil {
		return err
	}
	o.n.track(t.loc.File(), vol.ObjDatatype, -1)
	return t.loc.Free()
}
