package native

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/fxamacker/cbor/v2"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

type objectOps struct{ n *Native }

// Open opens the object lp names as whatever type it turns out to be.
func (o objectOps) Open(ctx context.Context, obj any, lp vol.LocParams, _ *vol.Async) (any, vol.ObjectType, error) {
	loc, err := o.n.resolve(ctx, obj, lp)
	if err != nil {
		return nil, 0, err
	}
	typ, err := loc.File().Store().ObjectType(ctx, loc.Addr())
	if err != nil {
		return nil, 0, utils.KeepPrimary(err, loc.Free())
	}

	var out any
	switch typ {
	case core.ObjectGroup:
		out = &groupObj{loc: loc}
	case core.ObjectDataset:
		d := &datasetObj{loc: loc}
		err = d.load(ctx)
		out = d
	case core.ObjectDatatype:
		t := &datatypeObj{loc: loc}
		err = loc.File().Store().ReadMessage(ctx, loc.Addr(), core.MsgDatatype, &t.typ)
		out = t
	default:
		err = fmt.Errorf("object %q has unknown type %d: %w", loc.Path(), typ, utils.ErrInvalidArgument)
	}
	if err != nil {
		return nil, 0, utils.KeepPrimary(err, loc.Free())
	}
	vt := objectType(typ)
	o.n.track(loc.File(), vt, 1)
	return out, vt, nil
}

// Copy copies the object srcName names, and everything reachable from it by
// hard links, to dstName. Objects reached twice are copied once.
func (o objectOps) Copy(ctx context.Context, src any, srcLoc vol.LocParams, srcName string, dst any, dstLoc vol.LocParams, dstName string, ocpypl, lcpl *plist.List, _ *vol.Async) error {
	if srcName != "" {
		srcLoc = vol.ByName(vol.ObjGroup, srcName, srcLoc.Lapl)
	}
	from, err := o.n.resolve(ctx, src, srcLoc)
	if err != nil {
		return err
	}
	defer from.Free()
	if dstName == "" {
		return fmt.Errorf("copying %q: no destination name: %w", from.Path(), utils.ErrInvalidArgument)
	}

	c := &copier{
		src:     from.File().Store(),
		shallow: plist.Bool(ocpypl, plist.CopyShallow, false),
		memo:    make(map[core.Address]core.Address),
	}
	loc, err := o.n.create(ctx, dst, dstLoc, dstName, lcpl, func(ctx context.Context, store storage.Store) (core.Address, error) {
		c.dst = store
		return c.copy(ctx, from.Addr(), 0)
	})
	if err != nil {
		return err
	}
	return loc.Free()
}

// copier copies objects between stores.
type copier struct {
	src, dst storage.Store
	shallow  bool
	memo     map[core.Address]core.Address
}

func (c *copier) copy(ctx context.Context, addr core.Address, depth int) (core.Address, error) {
	if out, ok := c.memo[addr]; ok {
		return out, nil
	}
	typ, err := c.src.ObjectType(ctx, addr)
	if err != nil {
		return core.AddrUndef, err
	}
	out, err := c.dst.CreateObject(ctx, typ)
	if err != nil {
		return core.AddrUndef, err
	}
	c.memo[addr] = out
	if err := c.copyContent(ctx, addr, out, typ, depth); err != nil {
		return core.AddrUndef, utils.KeepPrimary(err, c.dst.DeleteObject(ctx, out))
	}
	return out, nil
}

func (c *copier) copyContent(ctx context.Context, addr, out core.Address, typ core.ObjectType, depth int) error {
	keys, err := c.src.Messages(ctx, addr)
	if err != nil {
		return err
	}
	for _, k := range keys {
		var raw cbor.RawMessage
		if err := c.src.ReadMessage(ctx, addr, k, &raw); err != nil {
			return err
		}
		if err := c.dst.WriteMessage(ctx, out, k, raw); err != nil {
			return err
		}
	}

	switch typ {
	case core.ObjectDataset:
		var layout core.Layout
		if err := c.src.ReadMessage(ctx, addr, core.MsgLayout, &layout); err != nil {
			return err
		}
		for idx := range layout.NumChunks {
			chunk, err := c.src.ReadChunk(ctx, addr, idx)
			if errors.Is(err, utils.ErrNotFound) && !errors.Is(err, utils.ErrObjectNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := c.dst.WriteChunk(ctx, out, idx, chunk); err != nil {
				return err
			}
		}
	case core.ObjectGroup:
		if c.shallow && depth > 0 {
			return nil
		}
		links, err := c.src.Links(ctx, addr)
		if err != nil {
			return err
		}
		for _, l := range links {
			if l.Type == core.LinkTypeHard {
				if l.Addr, err = c.copy(ctx, l.Addr, depth+1); err != nil {
					return err
				}
			}
			if err := c.dst.InsertLink(ctx, out, l); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o objectOps) Get(ctx context.Context, obj any, lp vol.LocParams, args vol.ObjectGet, _ *vol.Async) error {
	if a, ok := args.(*vol.ObjectGetFile); ok {
		base, err := locOf(obj)
		if err != nil {
			return err
		}
		f, err := o.n.shareFile(base.File())
		if err != nil {
			return err
		}
		a.File = f
		return nil
	}

	if at, ok := obj.(*attrObj); ok && lp.Kind == vol.LocSelf {
		switch a := args.(type) {
		case *vol.ObjectGetType:
			a.Type = vol.ObjAttr
			return nil
		case *vol.ObjectGetName:
			a.Name = at.name
			return nil
		}
	}

	loc, err := o.n.resolve(ctx, obj, lp)
	if err != nil {
		return err
	}
	defer loc.Free()
	switch a := args.(type) {
	case *vol.ObjectGetName:
		a.Name = loc.Path()
	case *vol.ObjectGetType:
		typ, err := loc.File().Store().ObjectType(ctx, loc.Addr())
		if err != nil {
			return err
		}
		a.Type = objectType(typ)
	case *vol.ObjectGetInfo:
		a.Info, err = objectInfo(ctx, loc)
		return err
	default:
		return fmt.Errorf("object query %T: %w", args, utils.ErrUnsupported)
	}
	return nil
}

// shareFile returns a new file handle for a file already open.
func (n *Native) shareFile(f *group.File) (*fileObj, error) {
	n.mu.Lock()
	of, ok := n.files[f.Name()]
	if !ok || of.file != f {
		n.mu.Unlock()
		return nil, fmt.Errorf("file %q is no longer open: %w", f.Name(), utils.ErrInvalidArgument)
	}
	if err := f.Reopen(); err != nil {
		n.mu.Unlock()
		return nil, err
	}
	of.users++
	writable := of.writable
	n.mu.Unlock()

	flags := vol.FileReadOnly
	if writable {
		flags = vol.FileReadWrite
	}
	obj, err := fileOps{n}.newFile(f, flags, nil, nil)
	if err != nil {
		return nil, utils.KeepPrimary(err, n.release(f))
	}
	return obj, nil
}

func objectInfo(ctx context.Context, loc *group.Location) (vol.ObjectInfo, error) {
	store := loc.File().Store()
	typ, err := store.ObjectType(ctx, loc.Addr())
	if err != nil {
		return vol.ObjectInfo{}, err
	}
	keys, err := store.Messages(ctx, loc.Addr())
	if err != nil {
		return vol.ObjectInfo{}, err
	}
	info := vol.ObjectInfo{
		Fileno:  fileno(loc.File()),
		Token:   loc.Token(),
		Type:    objectType(typ),
		NumMsgs: len(keys),
	}
	for _, k := range keys {
		if _, ok := core.AttrName(k); ok {
			info.NumAttrs++
		}
	}
	if typ == core.ObjectGroup {
		links, err := group.Links(ctx, loc)
		if err != nil {
			return vol.ObjectInfo{}, err
		}
		info.NumLinks = len(links)
	}
	return info, nil
}

func (o objectOps) Specific(ctx context.Context, obj any, lp vol.LocParams, args vol.ObjectSpecific, async *vol.Async) error {
	if a, ok := args.(*vol.ObjectExists); ok {
		return o.exists(ctx, obj, lp, a)
	}
	loc, err := o.n.resolve(ctx, obj, lp)
	if err != nil {
		return err
	}
	defer loc.Free()
	switch a := args.(type) {
	case *vol.ObjectLookup:
		a.Token = loc.Token()
		return nil
	case *vol.ObjectVisit:
		seen := map[objectKey]bool{keyOf(loc): true}
		info, err := objectInfo(ctx, loc)
		if err != nil {
			return err
		}
		if err := a.Fn(".", info); err != nil {
			return err
		}
		return visitObjects(ctx, loc, "", a, seen)
	case *vol.ObjectFlush:
		return spawn(ctx, async, loc.File().Store().Flush)
	case *vol.ObjectRefresh:
		if d, ok := obj.(*datasetObj); ok && lp.Kind == vol.LocSelf {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.load(ctx)
		}
		_, err := loc.File().Store().ObjectType(ctx, loc.Addr())
		return err
	default:
		return fmt.Errorf("object operation %T: %w", args, utils.ErrUnsupported)
	}
}

func (o objectOps) exists(ctx context.Context, obj any, lp vol.LocParams, a *vol.ObjectExists) error {
	if lp.Kind == vol.LocByName {
		base, err := locOf(obj)
		if err != nil {
			return err
		}
		a.Exists, err = o.n.engine.ObjectExists(ctx, base, lp.Name, lp.Lapl)
		return err
	}
	loc, err := o.n.resolve(ctx, obj, lp)
	if errors.Is(err, utils.ErrNotFound) {
		a.Exists = false
		return nil
	}
	if err != nil {
		return err
	}
	a.Exists = true
	return loc.Free()
}

// visitObjects reports every object reachable by hard links below grp once.
func visitObjects(ctx context.Context, grp *group.Location, prefix string, it *vol.ObjectVisit, seen map[objectKey]bool) error {
	typ, err := grp.File().Store().ObjectType(ctx, grp.Addr())
	if err != nil || typ != core.ObjectGroup {
		return err
	}
	links, err := sortedLinks(ctx, grp, it.Index, it.Order)
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.Type != core.LinkTypeHard {
			continue
		}
		child := group.NewLocation(grp.File(), l.Addr, path.Join(grp.Path(), l.Name))
		key := keyOf(child)
		if seen[key] {
			if err := child.Free(); err != nil {
				return err
			}
			continue
		}
		seen[key] = true
		name := path.Join(prefix, l.Name)
		info, err := objectInfo(ctx, child)
		if err == nil {
			err = it.Fn(name, info)
		}
		if err == nil {
			err = visitObjects(ctx, child, name, it, seen)
		}
		if err := utils.KeepPrimary(err, child.Free()); err != nil {
			return err
		}
	}
	return nil
}

func (o objectOps) Optional(_ context.Context, _ any, _ vol.LocParams, args *vol.OptionalArgs, _ *vol.Async) error {
	return unsupportedOpt(vol.SubclsObject, args)
}
