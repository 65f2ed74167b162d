package native

import (
	"context"
	"fmt"
	"path"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

type linkOps struct{ n *Native }

func linkLapl(lp vol.LocParams, lapl *plist.List) *plist.List {
	if lp.Lapl != nil {
		return lp.Lapl
	}
	return lapl
}

// nameOf returns the link path of a by-name location.
func nameOf(lp vol.LocParams) (string, error) {
	if lp.Kind != vol.LocByName {
		return "", fmt.Errorf("link location must be given by name: %w", utils.ErrInvalidArgument)
	}
	return lp.Name, nil
}

func (o linkOps) Create(ctx context.Context, args vol.LinkCreate, obj any, lp vol.LocParams, lcpl, lapl *plist.List, _ *vol.Async) error {
	base, err := locOf(obj)
	if err != nil {
		return err
	}
	name, err := nameOf(lp)
	if err != nil {
		return err
	}
	lapl = linkLapl(lp, lapl)

	var link core.Link
	switch a := args.(type) {
	case *vol.LinkCreateHard:
		return o.createHard(ctx, obj, base, name, a, lcpl, lapl)
	case *vol.LinkCreateSoft:
		link = core.NewSoftLink("", a.Target)
	case *vol.LinkCreateExternal:
		link = core.NewExternalLink("", a.File, a.Path)
	case *vol.LinkCreateUD:
		link = core.NewUDLink("", a.Type, a.Data)
	default:
		return fmt.Errorf("link kind %T: %w", args, utils.ErrUnsupported)
	}
	link.CSet = charSet(lcpl)
	return o.n.engine.CreateLink(ctx, base, name, link, createFlags(lcpl), lapl)
}

// createHard links the target object at name. Hard links never cross files.
func (o linkOps) createHard(ctx context.Context, obj any, base *group.Location, name string, a *vol.LinkCreateHard, lcpl, lapl *plist.List) error {
	from := a.Target
	if from == nil {
		from = obj
	}
	target, err := o.n.resolve(ctx, from, a.TargetLoc)
	if err != nil {
		return err
	}
	defer target.Free()

	return o.n.engine.Traverse(ctx, base, name, createFlags(lcpl), lapl, func(ctx context.Context, v *group.Visit) error {
		if v.Name == "." {
			return fmt.Errorf("creating link %q: no name given: %w", name, utils.ErrInvalidArgument)
		}
		if v.Link != nil {
			return fmt.Errorf("name %q already exists: %w", name, utils.ErrAlreadyExists)
		}
		if v.Group.File() != target.File() {
			return fmt.Errorf("hard link %q to an object of file %q: %w", name, target.File().Name(), utils.ErrInvalidArgument)
		}
		l := core.NewHardLink(v.Name, target.Addr())
		l.CSet = charSet(lcpl)
		return group.InsertLink(ctx, v.Group, l)
	})
}

func (o linkOps) relink(ctx context.Context, src any, srcLoc vol.LocParams, dst any, dstLoc vol.LocParams, keep bool, lcpl, lapl *plist.List) error {
	srcBase, err := locOf(src)
	if err != nil {
		return err
	}
	dstBase, err := locOf(dst)
	if err != nil {
		return err
	}
	srcName, err := nameOf(srcLoc)
	if err != nil {
		return err
	}
	dstName, err := nameOf(dstLoc)
	if err != nil {
		return err
	}
	return o.n.engine.MoveLink(ctx, srcBase, srcName, dstBase, dstName, keep, createFlags(lcpl), linkLapl(srcLoc, lapl))
}

func (o linkOps) Copy(ctx context.Context, src any, srcLoc vol.LocParams, dst any, dstLoc vol.LocParams, lcpl, lapl *plist.List, _ *vol.Async) error {
	return o.relink(ctx, src, srcLoc, dst, dstLoc, true, lcpl, lapl)
}

func (o linkOps) Move(ctx context.Context, src any, srcLoc vol.LocParams, dst any, dstLoc vol.LocParams, lcpl, lapl *plist.List, _ *vol.Async) error {
	return o.relink(ctx, src, srcLoc, dst, dstLoc, false, lcpl, lapl)
}

// findLink returns the link a by-name or by-index location selects.
func (o linkOps) findLink(ctx context.Context, obj any, lp vol.LocParams) (core.Link, error) {
	base, err := locOf(obj)
	if err != nil {
		return core.Link{}, err
	}
	switch lp.Kind {
	case vol.LocByName:
		return o.n.engine.FindLink(ctx, base, lp.Name, lp.Lapl)
	case vol.LocByIdx:
		link, grp, err := o.n.linkByIdx(ctx, base, lp)
		if err != nil {
			return core.Link{}, err
		}
		return link, grp.Free()
	default:
		return core.Link{}, fmt.Errorf("link location kind %d: %w", lp.Kind, utils.ErrInvalidArgument)
	}
}

func linkInfo(l core.Link) vol.LinkInfo {
	info := vol.LinkInfo{Type: l.Type, CorderValid: l.CorderValid, Corder: l.Corder, CSet: l.CSet}
	if l.Type == core.LinkTypeHard {
		info.Token = core.AddressToken(l.Addr)
	} else {
		info.ValueSize = l.ValueSize()
	}
	return info
}

func (o linkOps) Get(ctx context.Context, obj any, lp vol.LocParams, args vol.LinkGet, _ *vol.Async) error {
	link, err := o.findLink(ctx, obj, lp)
	if err != nil {
		return err
	}
	switch a := args.(type) {
	case *vol.LinkGetInfo:
		a.Info = linkInfo(link)
	case *vol.LinkGetName:
		a.Name = link.Name
	case *vol.LinkGetValue:
		a.Link = link
	default:
		return fmt.Errorf("link query %T: %w", args, utils.ErrUnsupported)
	}
	return nil
}

func (o linkOps) Specific(ctx context.Context, obj any, lp vol.LocParams, args vol.LinkSpecific, _ *vol.Async) error {
	base, err := locOf(obj)
	if err != nil {
		return err
	}
	switch a := args.(type) {
	case *vol.LinkDelete:
		if lp.Kind == vol.LocByIdx {
			link, grp, err := o.n.linkByIdx(ctx, base, lp)
			if err != nil {
				return err
			}
			err = grp.File().Store().RemoveLink(ctx, grp.Addr(), link.Name)
			return utils.KeepPrimary(err, grp.Free())
		}
		name, err := nameOf(lp)
		if err != nil {
			return err
		}
		return o.n.engine.RemoveLink(ctx, base, name, lp.Lapl)
	case *vol.LinkExists:
		name, err := nameOf(lp)
		if err != nil {
			return err
		}
		a.Exists, err = o.n.engine.LinkExists(ctx, base, name, lp.Lapl)
		return err
	case *vol.LinkIterate:
		grp, err := o.n.resolve(ctx, obj, lp)
		if err != nil {
			return err
		}
		defer grp.Free()
		if err := checkType(ctx, grp, core.ObjectGroup); err != nil {
			return err
		}
		if a.Recursive {
			seen := map[objectKey]bool{keyOf(grp): true}
			return o.visitLinks(ctx, grp, "", a, seen)
		}
		return iterateLinks(ctx, grp, a)
	default:
		return fmt.Errorf("link operation %T: %w", args, utils.ErrUnsupported)
	}
}

func iterateLinks(ctx context.Context, grp *group.Location, it *vol.LinkIterate) error {
	links, err := sortedLinks(ctx, grp, it.Index, it.Order)
	if err != nil {
		return err
	}
	start := uint64(0)
	if it.Idx != nil {
		start = *it.Idx
	}
	for i := start; i < uint64(len(links)); i++ {
		if it.Idx != nil {
			*it.Idx = i + 1
		}
		if err := it.Fn(links[i].Name, linkInfo(links[i])); err != nil {
			return err
		}
	}
	return nil
}

// objectKey identifies an object across the files of a mount tree.
type objectKey struct {
	file *group.File
	addr core.Address
}

func keyOf(loc *group.Location) objectKey {
	return objectKey{file: loc.File(), addr: loc.Addr()}
}

// visitLinks reports every link below grp, descending once into each group
// reached by a hard link.
func (o linkOps) visitLinks(ctx context.Context, grp *group.Location, prefix string, it *vol.LinkIterate, seen map[objectKey]bool) error {
	links, err := sortedLinks(ctx, grp, it.Index, it.Order)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := path.Join(prefix, l.Name)
		if err := it.Fn(name, linkInfo(l)); err != nil {
			return err
		}
		if l.Type != core.LinkTypeHard {
			continue
		}
		child := group.NewLocation(grp.File(), l.Addr, path.Join(grp.Path(), l.Name))
		key := keyOf(child)
		typ, err := grp.File().Store().ObjectType(ctx, l.Addr)
		if err == nil && typ == core.ObjectGroup && !seen[key] {
			seen[key] = true
			err = o.visitLinks(ctx, child, name, it, seen)
		}
		if err := utils.KeepPrimary(err, child.Free()); err != nil {
			return err
		}
	}
	return nil
}

func (o linkOps) Optional(_ context.Context, _ any, _ vol.LocParams, args *vol.OptionalArgs, _ *vol.Async) error {
	return unsupportedOpt(vol.SubclsLink, args)
}
