package native

import (
	"context"
	"fmt"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/filter"
	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

type groupOps struct{ n *Native }

// groupMessages collects the creation messages a group creation list asks for.
func groupMessages(gcpl *plist.List) (core.GroupInfo, *core.LinkInfo, []byte, error) {
	ginfo, ok, err := listValue[core.GroupInfo](gcpl, plist.GroupInfo)
	if err != nil {
		return ginfo, nil, nil, err
	}
	if !ok {
		ginfo = core.DefaultGroupInfo()
	}
	var linfo *core.LinkInfo
	li, ok, err := listValue[core.LinkInfo](gcpl, plist.LinkInfo)
	if err != nil {
		return ginfo, nil, nil, err
	}
	if ok {
		linfo = &core.LinkInfo{TrackCorder: li.TrackCorder, IndexCorder: li.IndexCorder}
	}
	chain, err := filter.GetChain(gcpl)
	if err != nil {
		return ginfo, nil, nil, err
	}
	var pline []byte
	if chain.Len() > 0 {
		if pline, err = chain.Encode(filter.MessageV2); err != nil {
			return ginfo, nil, nil, err
		}
	}
	return ginfo, linfo, pline, nil
}

func (o groupOps) Create(ctx context.Context, obj any, lp vol.LocParams, name string, lcpl, gcpl, _ *plist.List, _ *vol.Async) (any, error) {
	ginfo, linfo, pline, err := groupMessages(gcpl)
	if err != nil {
		return nil, utils.WrapError("group creation properties", err)
	}
	loc, err := o.n.create(ctx, obj, lp, name, lcpl, func(ctx context.Context, store storage.Store) (core.Address, error) {
		return group.CreateGroupObject(ctx, store, ginfo, linfo, pline)
	})
	if err != nil {
		return nil, err
	}
	o.n.track(loc.File(), vol.ObjGroup, 1)
	return &groupObj{loc: loc}, nil
}

func (o groupOps) Open(ctx context.Context, obj any, lp vol.LocParams, name string, _ *plist.List, _ *vol.Async) (any, error) {
	if name != "" {
		lp = vol.ByName(vol.ObjGroup, name, lp.Lapl)
	}
	loc, err := o.n.resolve(ctx, obj, lp)
	if err != nil {
		return nil, err
	}
	if err := checkType(ctx, loc, core.ObjectGroup); err != nil {
		return nil, utils.KeepPrimary(err, loc.Free())
	}
	o.n.track(loc.File(), vol.ObjGroup, 1)
	return &groupObj{loc: loc}, nil
}

func (o groupOps) Get(ctx context.Context, obj any, args vol.GroupGet, _ *vol.Async) error {
	switch a := args.(type) {
	case *vol.GroupGetInfo:
		loc, err := o.n.resolve(ctx, obj, a.Loc)
		if err != nil {
			return err
		}
		defer loc.Free()
		a.Info, err = groupInfo(ctx, loc)
		return err
	case *vol.GroupGetGCPL:
		loc, err := locOf(obj)
		if err != nil {
			return err
		}
		a.GCPL, err = groupCreateList(ctx, loc)
		return err
	default:
		return fmt.Errorf("group query %T: %w", args, utils.ErrUnsupported)
	}
}

func groupInfo(ctx context.Context, loc *group.Location) (vol.GroupInfo, error) {
	if err := checkType(ctx, loc, core.ObjectGroup); err != nil {
		return vol.GroupInfo{}, err
	}
	links, err := group.Links(ctx, loc)
	if err != nil {
		return vol.GroupInfo{}, err
	}
	info := vol.GroupInfo{NLinks: uint64(len(links)), Mounted: mounted(loc)}
	var linfo core.LinkInfo
	if _, err := readMsg(ctx, loc, core.MsgLinkInfo, &linfo); err != nil {
		return vol.GroupInfo{}, err
	}
	info.MaxCorder, info.TrackOrder = linfo.MaxCorder, linfo.TrackCorder
	return info, nil
}

// mounted reports whether a file is mounted at loc, either seen from the
// mount point itself or from the root of the mounted file.
func mounted(loc *group.Location) bool {
	f := loc.File()
	if f.Parent() != nil && loc.Addr() == f.Store().Root() {
		return true
	}
	for _, m := range f.Mounts() {
		if m.Addr == loc.Addr() {
			return true
		}
	}
	return false
}

// groupCreateList rebuilds the creation properties of the group at loc from
// its stored messages.
func groupCreateList(ctx context.Context, loc *group.Location) (*plist.List, error) {
	gcpl := plist.New(plist.GroupCreate)
	ginfo := core.DefaultGroupInfo()
	var linfo core.LinkInfo
	var pline []byte
	_, err := readMsg(ctx, loc, core.MsgGroupInfo, &ginfo)
	hasLinfo := false
	if err == nil {
		hasLinfo, err = readMsg(ctx, loc, core.MsgLinkInfo, &linfo)
	}
	hasPline := false
	if err == nil {
		hasPline, err = readMsg(ctx, loc, core.MsgPipeline, &pline)
	}
	if err == nil {
		err = gcpl.Insert(plist.GroupInfo, ginfo, plist.Hooks{})
	}
	if err == nil && hasLinfo {
		err = gcpl.Insert(plist.LinkInfo, core.LinkInfo{TrackCorder: linfo.TrackCorder, IndexCorder: linfo.IndexCorder}, plist.Hooks{})
	}
	if err == nil && hasPline {
		var chain *filter.Chain
		if chain, err = filter.DecodeChain(pline); err == nil {
			err = filter.SetChain(gcpl, chain)
		}
	}
	if err != nil {
		return nil, utils.KeepPrimary(err, gcpl.Close())
	}
	return gcpl, nil
}

func (o groupOps) Specific(ctx context.Context, grp any, args vol.GroupSpecific, async *vol.Async) error {
	loc, err := locOf(grp)
	if err != nil {
		return err
	}
	switch a := args.(type) {
	case *vol.GroupMount:
		child, err := asFile(a.Child)
		if err != nil {
			return err
		}
		local := plist.Bool(a.FMPL, plist.MountLocal, false)
		return o.n.engine.Mount(ctx, loc, a.Name, child.file(), local, nil)
	case *vol.GroupUnmount:
		return o.n.engine.Unmount(ctx, loc, a.Name, nil)
	case *vol.GroupFlush:
		store := loc.File().Store()
		return spawn(ctx, async, store.Flush)
	case *vol.GroupRefresh:
		// Groups keep no state outside the store.
		return checkType(ctx, loc, core.ObjectGroup)
	default:
		return fmt.Errorf("group operation %T: %w", args, utils.ErrUnsupported)
	}
}

func (o groupOps) Optional(_ context.Context, _ any, args *vol.OptionalArgs, _ *vol.Async) error {
	return unsupportedOpt(vol.SubclsGroup, args)
}

func (o groupOps) Close(_ context.Context, grp any, _ *vol.Async) error {
	g, ok := grp.(*groupObj)
	if !ok {
		return fmt.Errorf("closing %T as a group: %w", grp, utils.ErrInvalidArgument)
	}
	if !g.loc.Valid() {
		return fmt.Errorf("group already closed: %w", utils.ErrInvalidArgument)
	}
	o.n.track(g.loc.File(), vol.ObjGroup, -1)
	return g.loc.Free()
}
