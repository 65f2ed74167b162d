package group

import (
	"context"
	"errors"
	"fmt"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
)

// CreateGroupObject allocates an unlinked group with the given messages. A
// nil linfo or empty pline leaves that message out.
func CreateGroupObject(ctx context.Context, store storage.Store, ginfo core.GroupInfo, linfo *core.LinkInfo, pline []byte) (core.Address, error) {
	addr, err := store.CreateObject(ctx, core.ObjectGroup)
	if err != nil {
		return core.AddrUndef, err
	}
	err = store.WriteMessage(ctx, addr, core.MsgGroupInfo, ginfo)
	if err == nil && linfo != nil {
		err = store.WriteMessage(ctx, addr, core.MsgLinkInfo, *linfo)
	}
	if err == nil && len(pline) > 0 {
		err = store.WriteMessage(ctx, addr, core.MsgPipeline, pline)
	}
	if err != nil {
		return core.AddrUndef, utils.KeepPrimary(err, store.DeleteObject(ctx, addr))
	}
	return addr, nil
}

// InsertLink adds link to the group at grp, assigning a creation order when
// the group tracks one.
func InsertLink(ctx context.Context, grp *Location, link core.Link) error {
	if err := link.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, utils.ErrInvalidArgument)
	}
	store := grp.File().Store()

	var linfo core.LinkInfo
	err := store.ReadMessage(ctx, grp.Addr(), core.MsgLinkInfo, &linfo)
	switch {
	case err == nil && linfo.TrackCorder:
		link.CorderValid = true
		link.Corder = linfo.MaxCorder
	case err != nil && !errors.Is(err, utils.ErrNotFound):
		return err
	}

	if err := store.InsertLink(ctx, grp.Addr(), link); err != nil {
		return err
	}
	if link.CorderValid {
		linfo.MaxCorder++
		return store.WriteMessage(ctx, grp.Addr(), core.MsgLinkInfo, linfo)
	}
	return nil
}

// Find resolves name to the location of an existing object.
func (e *Engine) Find(ctx context.Context, loc *Location, name string, lapl *plist.List) (*Location, error) {
	var obj *Location
	err := e.Traverse(ctx, loc, name, TargetNormal, lapl, func(_ context.Context, v *Visit) error {
		if v.Object == nil {
			return absent("object %q not found", v.Name)
		}
		obj = v.TakeObject()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// FindLink returns the link name refers to without following it.
func (e *Engine) FindLink(ctx context.Context, loc *Location, name string, lapl *plist.List) (core.Link, error) {
	var link core.Link
	err := e.Traverse(ctx, loc, name, TargetSLink|TargetUDLink|TargetMount, lapl, func(_ context.Context, v *Visit) error {
		if v.Link == nil {
			return absent("link %q not found", v.Name)
		}
		link = *v.Link
		return nil
	})
	return link, err
}

// LinkExists reports whether the final component of name is a link. Missing
// intermediate components and dangling links along the way report false.
func (e *Engine) LinkExists(ctx context.Context, loc *Location, name string, lapl *plist.List) (bool, error) {
	var exists bool
	err := e.Traverse(ctx, loc, name, TargetSLink|TargetUDLink|TargetExists, lapl, func(_ context.Context, v *Visit) error {
		exists = v.Link != nil
		return nil
	})
	if IsAbsent(err) {
		return false, nil
	}
	return exists, err
}

// ObjectExists reports whether name resolves to an object.
func (e *Engine) ObjectExists(ctx context.Context, loc *Location, name string, lapl *plist.List) (bool, error) {
	var exists bool
	err := e.Traverse(ctx, loc, name, TargetExists, lapl, func(_ context.Context, v *Visit) error {
		exists = v.Object != nil
		return nil
	})
	if IsAbsent(err) {
		return false, nil
	}
	return exists, err
}

// CreateLink inserts link under name, which must not exist yet. The link's
// own name is replaced by the final component of name.
func (e *Engine) CreateLink(ctx context.Context, loc *Location, name string, link core.Link, flags Flags, lapl *plist.List) error {
	return e.createLink(ctx, loc, name, link, flags, lapl, nil)
}

func (e *Engine) createLink(ctx context.Context, loc *Location, name string, link core.Link, flags Flags, lapl *plist.List, check func(grp *Location) error) error {
	if link.Type >= core.LinkTypeUDMin {
		class, err := e.classes.Lookup(link.Type)
		if err != nil {
			return err
		}
		if v, ok := class.(LinkValidator); ok {
			if err := v.Validate(name, link.UDData); err != nil {
				return utils.WrapError(fmt.Sprintf("creating %s link %q", class.Name(), name), err)
			}
		}
	}
	return e.Traverse(ctx, loc, name, flags&CreateIntermediate, lapl, func(ctx context.Context, v *Visit) error {
		if v.Name == "." {
			return fmt.Errorf("creating link %q: no name given: %w", name, utils.ErrInvalidArgument)
		}
		if v.Link != nil {
			return fmt.Errorf("name %q already exists: %w", name, utils.ErrAlreadyExists)
		}
		if check != nil {
			if err := check(v.Group); err != nil {
				return err
			}
		}
		link.Name = v.Name
		return InsertLink(ctx, v.Group, link)
	})
}

// RemoveLink deletes the link name refers to.
func (e *Engine) RemoveLink(ctx context.Context, loc *Location, name string, lapl *plist.List) error {
	return e.Traverse(ctx, loc, name, TargetSLink|TargetUDLink|TargetMount, lapl, func(ctx context.Context, v *Visit) error {
		if v.Link == nil {
			return absent("link %q not found", name)
		}
		return v.Group.File().Store().RemoveLink(ctx, v.Group.Addr(), v.Name)
	})
}

// MoveLink relinks src as dst. With keep set the source link stays, which
// makes this a copy. Hard links cannot move between files.
func (e *Engine) MoveLink(ctx context.Context, srcLoc *Location, src string, dstLoc *Location, dst string, keep bool, flags Flags, lapl *plist.List) error {
	var (
		link    core.Link
		srcFile *File
	)
	err := e.Traverse(ctx, srcLoc, src, TargetSLink|TargetUDLink|TargetMount, lapl, func(_ context.Context, v *Visit) error {
		if v.Link == nil {
			return absent("link %q not found", src)
		}
		link, srcFile = *v.Link, v.Group.File()
		return nil
	})
	if err != nil {
		return err
	}

	sameFile := func(grp *Location) error {
		if link.Type == core.LinkTypeHard && grp.File() != srcFile {
			return fmt.Errorf("moving hard link %q to another file: %w", src, utils.ErrInvalidArgument)
		}
		return nil
	}
	link.CorderValid, link.Corder = false, 0
	if err := e.createLink(ctx, dstLoc, dst, link, flags, lapl, sameFile); err != nil {
		return err
	}
	if keep {
		return nil
	}
	return e.RemoveLink(ctx, srcLoc, src, lapl)
}

// Links returns the links of the group at loc in name order.
func Links(ctx context.Context, loc *Location) ([]core.Link, error) {
	return loc.File().Store().Links(ctx, loc.Addr())
}

// Mount attaches child at the group name refers to. The mount point is
// resolved through any mounts already in place, so mounts nest.
func (e *Engine) Mount(ctx context.Context, loc *Location, name string, child *File, local bool, lapl *plist.List) error {
	mp, err := e.Find(ctx, loc, name, lapl)
	if err != nil {
		return err
	}
	defer mp.Free()

	typ, err := mp.File().Store().ObjectType(ctx, mp.Addr())
	if err != nil {
		return err
	}
	if typ != core.ObjectGroup {
		return fmt.Errorf("mount point %q is a %s, not a group: %w", name, typ, utils.ErrInvalidArgument)
	}
	return mp.File().mount(mp.Addr(), child, local)
}

// Unmount detaches the file mounted at name.
func (e *Engine) Unmount(ctx context.Context, loc *Location, name string, lapl *plist.List) error {
	var mp *Location
	err := e.Traverse(ctx, loc, name, TargetMount, lapl, func(_ context.Context, v *Visit) error {
		if v.Object == nil {
			return absent("mount point %q not found", v.Name)
		}
		mp = v.TakeObject()
		return nil
	})
	if err != nil {
		return err
	}
	_, err = mp.File().unmount(mp.Addr())
	return utils.KeepPrimary(err, mp.Free())
}
