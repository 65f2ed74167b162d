package native

import (
	"context"
	"fmt"

	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// handles hands groups to user-defined link classes as *vol.Object values
// bound to the connector stack of the operation, so a class sees the same
// kind of handle the API returns and can call back through it. Outside a
// dispatched operation the bare group is used.
type handles struct{ n *Native }

func (h handles) Wrap(ctx context.Context, loc *group.Location) (any, error) {
	g := &groupObj{loc: loc}
	h.n.track(loc.File(), vol.ObjGroup, 1)
	wc := vol.WrapContextFrom(ctx)
	if wc == nil {
		return g, nil
	}
	obj, err := wc.Wrap(g, vol.ObjGroup)
	if err != nil {
		return nil, utils.KeepPrimary(err, groupOps(h).Close(ctx, g, nil))
	}
	return obj, nil
}

func (h handles) Unwrap(handle any) (*group.Location, error) {
	data := handle
	if o, ok := handle.(*vol.Object); ok {
		if !o.Valid() {
			return nil, fmt.Errorf("link class handle already freed: %w", utils.ErrInvalidArgument)
		}
		var err error
		if data, err = o.Connector().UnwrapObject(o.Data()); err != nil {
			return nil, err
		}
	}
	loc, err := locOf(data)
	if err != nil {
		return nil, err
	}
	return loc.Clone(), nil
}

// Release closes a handle the way the API would.
func (h handles) Release(handle any) error {
	ctx := context.Background()
	if o, ok := handle.(*vol.Object); ok {
		if !o.Valid() {
			return nil
		}
		return o.Close(ctx, nil)
	}
	switch obj := handle.(type) {
	case *groupObj:
		return groupOps(h).Close(ctx, obj, nil)
	case *datasetObj:
		return datasetOps(h).Close(ctx, obj, nil)
	case *datatypeObj:
		return datatypeOps(h).Close(ctx, obj, nil)
	default:
		return freeObject(handle)
	}
}
