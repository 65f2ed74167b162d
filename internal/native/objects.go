package native

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"sync"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/filter"
	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// fileObj is an open file handle. root holds the file open.
type fileObj struct {
	root  *group.Location
	flags vol.FileFlags
	fcpl  *plist.List
	fapl  *plist.List
}

func (f *fileObj) file() *group.File { return f.root.File() }

// groupObj is an open group, or a group handed to a user-defined link class.
type groupObj struct {
	loc *group.Location
}

// datasetObj caches the metadata of an open dataset.
type datasetObj struct {
	loc *group.Location

	mu     sync.Mutex
	space  core.Dataspace
	typ    core.Datatype
	layout core.Layout
	chain  *filter.Chain
	dcpl   *plist.List
}

type datatypeObj struct {
	loc *group.Location
	typ core.Datatype
}

// attrObj is an open attribute of the object at loc.
type attrObj struct {
	loc  *group.Location
	name string
}

// locOf returns the location of any native object. The location stays owned
// by the object.
func locOf(obj any) (*group.Location, error) {
	var loc *group.Location
	switch o := obj.(type) {
	case *fileObj:
		loc = o.root
	case *groupObj:
		loc = o.loc
	case *datasetObj:
		loc = o.loc
	case *datatypeObj:
		loc = o.loc
	case *attrObj:
		loc = o.loc
	default:
		return nil, fmt.Errorf("object %T does not belong to the native connector: %w", obj, utils.ErrInvalidArgument)
	}
	if !loc.Valid() {
		return nil, fmt.Errorf("%T already closed: %w", obj, utils.ErrInvalidArgument)
	}
	return loc, nil
}

// resolve returns a new location for the object lp names relative to obj.
func (n *Native) resolve(ctx context.Context, obj any, lp vol.LocParams) (*group.Location, error) {
	base, err := locOf(obj)
	if err != nil {
		return nil, err
	}
	switch lp.Kind {
	case vol.LocSelf:
		return base.Clone(), nil
	case vol.LocByName:
		return n.engine.Find(ctx, base, lp.Name, lp.Lapl)
	case vol.LocByIdx:
		link, grp, err := n.linkByIdx(ctx, base, lp)
		if err != nil {
			return nil, err
		}
		defer grp.Free()
		return n.engine.Find(ctx, grp, link.Name, lp.Lapl)
	case vol.LocByToken:
		addr := core.TokenAddress(lp.Token)
		if _, err := base.File().Store().ObjectType(ctx, addr); err != nil {
			return nil, err
		}
		return group.NewLocation(base.File(), addr, ""), nil
	default:
		return nil, fmt.Errorf("location kind %d: %w", lp.Kind, utils.ErrInvalidArgument)
	}
}

// linkByIdx returns the n-th link of the group lp.Name names and that group.
func (n *Native) linkByIdx(ctx context.Context, base *group.Location, lp vol.LocParams) (core.Link, *group.Location, error) {
	name := lp.Name
	if name == "" {
		name = "."
	}
	grp, err := n.engine.Find(ctx, base, name, lp.Lapl)
	if err != nil {
		return core.Link{}, nil, err
	}
	links, err := sortedLinks(ctx, grp, lp.Index, lp.Order)
	if err != nil {
		return core.Link{}, nil, utils.KeepPrimary(err, grp.Free())
	}
	if lp.N >= uint64(len(links)) {
		return core.Link{}, nil, utils.KeepPrimary(
			fmt.Errorf("link index %d of %d in %q: %w", lp.N, len(links), name, utils.ErrNotFound),
			grp.Free())
	}
	return links[lp.N], grp, nil
}

// sortedLinks returns the links of grp in the requested index order.
func sortedLinks(ctx context.Context, grp *group.Location, idx vol.IndexType, order vol.IterOrder) ([]core.Link, error) {
	links, err := group.Links(ctx, grp)
	if err != nil {
		return nil, err
	}
	if idx == vol.IndexCrtOrder {
		for _, l := range links {
			if !l.CorderValid {
				return nil, fmt.Errorf("group %q does not track creation order: %w", grp.Path(), utils.ErrInvalidArgument)
			}
		}
		slices.SortStableFunc(links, func(a, b core.Link) int { return cmp.Compare(a.Corder, b.Corder) })
	}
	if order == vol.OrderDec {
		slices.Reverse(links)
	}
	return links, nil
}

// checkType fails unless the object at loc has type want.
func checkType(ctx context.Context, loc *group.Location, want core.ObjectType) error {
	typ, err := loc.File().Store().ObjectType(ctx, loc.Addr())
	if err != nil {
		return err
	}
	if typ != want {
		return fmt.Errorf("%q is a %s, not a %s: %w", loc.Path(), typ, want, utils.ErrInvalidArgument)
	}
	return nil
}

// createFlags returns the traversal flags a link creation list asks for.
func createFlags(lcpl *plist.List) group.Flags {
	if plist.Bool(lcpl, plist.CreateIntermediate, false) {
		return group.CreateIntermediate
	}
	return group.TargetNormal
}

func charSet(lcpl *plist.List) core.CharSet {
	return core.CharSet(plist.Int(lcpl, plist.CharEncoding, int(core.CharSetASCII)))
}

// create makes a new object with mk in the file holding the group lp and
// name lead to, and links it there. An empty name leaves the object
// anonymous in the file of the location lp names.
func (n *Native) create(ctx context.Context, obj any, lp vol.LocParams, name string, lcpl *plist.List, mk func(ctx context.Context, store storage.Store) (core.Address, error)) (*group.Location, error) {
	base, err := n.resolve(ctx, obj, lp)
	if err != nil {
		return nil, err
	}
	defer base.Free()
	if name == "" {
		addr, err := mk(ctx, base.File().Store())
		if err != nil {
			return nil, err
		}
		return group.NewLocation(base.File(), addr, ""), nil
	}

	var out *group.Location
	err = n.engine.Traverse(ctx, base, name, createFlags(lcpl), lapl(lp), func(ctx context.Context, v *group.Visit) error {
		if v.Name == "." {
			return fmt.Errorf("creating %q: no name given: %w", name, utils.ErrInvalidArgument)
		}
		if v.Link != nil {
			return fmt.Errorf("name %q already exists: %w", name, utils.ErrAlreadyExists)
		}
		store := v.Group.File().Store()
		addr, err := mk(ctx, store)
		if err != nil {
			return err
		}
		l := core.NewHardLink(v.Name, addr)
		l.CSet = charSet(lcpl)
		if err := group.InsertLink(ctx, v.Group, l); err != nil {
			return utils.KeepPrimary(err, store.DeleteObject(ctx, addr))
		}
		out = group.NewLocation(v.Group.File(), addr, path.Join(v.Group.Path(), v.Name))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// listValue returns the value of a property, reporting whether it is set.
func listValue[T any](l *plist.List, name string) (T, bool, error) {
	var zero T
	if l == nil || !l.Has(name) {
		return zero, false, nil
	}
	v, err := l.Get(name)
	if err != nil {
		return zero, false, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, false, fmt.Errorf("property %q holds %T: %w", name, v, utils.ErrInvalidArgument)
	}
	return t, true, nil
}

func lapl(lp vol.LocParams) *plist.List { return lp.Lapl }

// readMsg reads a message, reporting whether it exists.
func readMsg(ctx context.Context, loc *group.Location, key core.MsgKey, v any) (bool, error) {
	err := loc.File().Store().ReadMessage(ctx, loc.Addr(), key, v)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, utils.ErrNotFound) && !errors.Is(err, utils.ErrObjectNotFound):
		return false, nil
	default:
		return false, err
	}
}

func freeObject(obj any) error {
	loc, err := locOf(obj)
	if err != nil {
		return err
	}
	return loc.Free()
}
