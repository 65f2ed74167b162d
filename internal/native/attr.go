package native

import (
	"context"
	"fmt"
	"slices"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

type attrOps struct{ n *Native }

func readAttr(ctx context.Context, loc *group.Location, name string) (core.Attribute, error) {
	var a core.Attribute
	ok, err := readMsg(ctx, loc, core.AttrKey(name), &a)
	if err != nil {
		return a, err
	}
	if !ok {
		return a, fmt.Errorf("attribute %q of %q: %w", name, loc.Path(), utils.ErrNotFound)
	}
	return a, nil
}

// attrNames returns the attribute names of the object at loc in name order.
func attrNames(ctx context.Context, loc *group.Location) ([]string, error) {
	keys, err := loc.File().Store().Messages(ctx, loc.Addr())
	if err != nil {
		return nil, err
	}
	var names []string
	for _, k := range keys {
		if name, ok := core.AttrName(k); ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (o attrOps) Create(ctx context.Context, obj any, lp vol.LocParams, name string, typ core.Datatype, space core.Dataspace, acpl, _ *plist.List, _ *vol.Async) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("creating attribute: no name given: %w", utils.ErrInvalidArgument)
	}
	size, err := utils.DataSize(space.Dims, uint64(typ.Size))
	if err == nil {
		err = utils.ValidateBufferSize(size, utils.MaxAttributeSize, "attribute")
	}
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("creating attribute %q", name), err)
	}

	loc, err := o.n.resolve(ctx, obj, lp)
	if err != nil {
		return nil, err
	}
	names, err := attrNames(ctx, loc)
	if err != nil {
		return nil, utils.KeepPrimary(err, loc.Free())
	}
	if slices.Contains(names, name) {
		return nil, utils.KeepPrimary(
			fmt.Errorf("attribute %q of %q: %w", name, loc.Path(), utils.ErrAlreadyExists), loc.Free())
	}
	attr := core.Attribute{
		Name:    name,
		Type:    typ,
		Space:   space,
		Data:    make([]byte, size),
		Corder:  int64(len(names)),
		CharSet: charSet(acpl),
	}
	if err := loc.File().Store().WriteMessage(ctx, loc.Addr(), core.AttrKey(name), attr); err != nil {
		return nil, utils.KeepPrimary(err, loc.Free())
	}
	o.n.track(loc.File(), vol.ObjAttr, 1)
	return &attrObj{loc: loc, name: name}, nil
}

func (o attrOps) Open(ctx context.Context, obj any, lp vol.LocParams, name string, _ *plist.List, _ *vol.Async) (any, error) {
	loc, err := o.n.resolve(ctx, obj, lp)
	if err != nil {
		return nil, err
	}
	if _, err := readAttr(ctx, loc, name); err != nil {
		return nil, utils.KeepPrimary(err, loc.Free())
	}
	o.n.track(loc.File(), vol.ObjAttr, 1)
	return &attrObj{loc: loc, name: name}, nil
}

func asAttr(obj any) (*attrObj, error) {
	a, ok := obj.(*attrObj)
	if !ok || !a.loc.Valid() {
		return nil, fmt.Errorf("%T is not an open native attribute: %w", obj, utils.ErrInvalidArgument)
	}
	return a, nil
}

func (o attrOps) Read(ctx context.Context, attr any, buf []byte, _ *vol.Async) error {
	a, err := asAttr(attr)
	if err != nil {
		return err
	}
	v, err := readAttr(ctx, a.loc, a.name)
	if err != nil {
		return err
	}
	if len(buf) != len(v.Data) {
		return fmt.Errorf("attribute %q holds %d bytes, buffer has %d: %w", a.name, len(v.Data), len(buf), utils.ErrInvalidArgument)
	}
	copy(buf, v.Data)
	return nil
}

func (o attrOps) Write(ctx context.Context, attr any, buf []byte, _ *vol.Async) error {
	a, err := asAttr(attr)
	if err != nil {
		return err
	}
	v, err := readAttr(ctx, a.loc, a.name)
	if err != nil {
		return err
	}
	if len(buf) != len(v.Data) {
		return fmt.Errorf("attribute %q holds %d bytes, buffer has %d: %w", a.name, len(v.Data), len(buf), utils.ErrInvalidArgument)
	}
	v.Data = slices.Clone(buf)
	return a.loc.File().Store().WriteMessage(ctx, a.loc.Addr(), core.AttrKey(a.name), v)
}

func (o attrOps) Get(ctx context.Context, obj any, args vol.AttrGet, _ *vol.Async) error {
	if info, ok := args.(*vol.AttrGetInfo); ok {
		loc, err := o.n.resolve(ctx, obj, info.Loc)
		if err != nil {
			return err
		}
		defer loc.Free()
		v, err := readAttr(ctx, loc, info.Name)
		if err != nil {
			return err
		}
		info.Info = vol.AttrInfo{Name: v.Name, DataSize: uint64(len(v.Data))}
		return nil
	}

	a, err := asAttr(obj)
	if err != nil {
		return err
	}
	v, err := readAttr(ctx, a.loc, a.name)
	if err != nil {
		return err
	}
	switch g := args.(type) {
	case *vol.AttrGetSpace:
		g.Space = v.Space
	case *vol.AttrGetType:
		g.Type = v.Type
	case *vol.AttrGetName:
		g.Name = v.Name
	default:
		return fmt.Errorf("attribute query %T: %w", args, utils.ErrUnsupported)
	}
	return nil
}

func (o attrOps) Specific(ctx context.Context, obj any, lp vol.LocParams, args vol.AttrSpecific, _ *vol.Async) error {
	loc, err := o.n.resolve(ctx, obj, lp)
	if err != nil {
		return err
	}
	defer loc.Free()
	store := loc.File().Store()

	switch a := args.(type) {
	case *vol.AttrDelete:
		if _, err := readAttr(ctx, loc, a.Name); err != nil {
			return err
		}
		return store.DeleteMessage(ctx, loc.Addr(), core.AttrKey(a.Name))
	case *vol.AttrExists:
		var v core.Attribute
		a.Exists, err = readMsg(ctx, loc, core.AttrKey(a.Name), &v)
		return err
	case *vol.AttrIterate:
		return iterateAttrs(ctx, loc, a)
	case *vol.AttrRename:
		v, err := readAttr(ctx, loc, a.Old)
		if err != nil {
			return err
		}
		if a.New == a.Old {
			return nil
		}
		var existing core.Attribute
		exists, err := readMsg(ctx, loc, core.AttrKey(a.New), &existing)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("attribute %q of %q: %w", a.New, loc.Path(), utils.ErrAlreadyExists)
		}
		v.Name = a.New
		if err := store.WriteMessage(ctx, loc.Addr(), core.AttrKey(a.New), v); err != nil {
			return err
		}
		return store.DeleteMessage(ctx, loc.Addr(), core.AttrKey(a.Old))
	default:
		return fmt.Errorf("attribute operation %T: %w", args, utils.ErrUnsupported)
	}
}

func iterateAttrs(ctx context.Context, loc *group.Location, it *vol.AttrIterate) error {
	names, err := attrNames(ctx, loc)
	if err != nil {
		return err
	}
	if it.Order == vol.OrderDec {
		slices.Reverse(names)
	}
	start := uint64(0)
	if it.Idx != nil {
		start = *it.Idx
	}
	for i := start; i < uint64(len(names)); i++ {
		v, err := readAttr(ctx, loc, names[i])
		if err != nil {
			return err
		}
		if it.Idx != nil {
			*it.Idx = i + 1
		}
		if err := it.Fn(v.Name, vol.AttrInfo{Name: v.Name, DataSize: uint64(len(v.Data))}); err != nil {
			return err
		}
	}
	return nil
}

func (o attrOps) Optional(_ context.Context, _ any, args *vol.OptionalArgs, _ *vol.Async) error {
	return unsupportedOpt(vol.SubclsAttr, args)
}

func (o attrOps) Close(_ context.Context, attr any, _ *vol.Async) error {
	a, err := asAttr(attr)
	if err != nil {
		return err
	}
	o.n.track(a.loc.File(), vol.ObjAttr, -1)
	return a.loc.Free()
}
