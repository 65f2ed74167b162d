package passthru

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

type attrOps struct{ p *PassThrough }

func (a attrOps) Create(ctx context.Context, obj any, loc vol.LocParams, name string, typ core.Datatype, space core.Dataspace, acpl, aapl *plist.List, async *vol.Async) (any, error) {
	a.p.trace("attribute create", slog.String("name", name))
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return a.p.open(o.conn, async, func(inner *vol.Async) (any, error) {
		return o.conn.AttrCreate(ctx, o.under, loc, name, typ, space, acpl, aapl, inner)
	})
}

func (a attrOps) Open(ctx context.Context, obj any, loc vol.LocParams, name string, aapl *plist.List, async *vol.Async) (any, error) {
	a.p.trace("attribute open", slog.String("name", name))
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return a.p.open(o.conn, async, func(inner *vol.Async) (any, error) {
		return o.conn.AttrOpen(ctx, o.under, loc, name, aapl, inner)
	})
}

func (a attrOps) Read(ctx context.Context, attr any, buf []byte, async *vol.Async) error {
	a.p.trace("attribute read")
	o, err := unwrap(attr)
	if err != nil {
		return err
	}
	return a.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.AttrRead(ctx, o.under, buf, inner)
	})
}

func (a attrOps) Write(ctx context.Context, attr any, buf []byte, async *vol.Async) error {
	a.p.trace("attribute write")
	o, err := unwrap(attr)
	if err != nil {
		return err
	}
	return a.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.AttrWrite(ctx, o.under, buf, inner)
	})
}

func (a attrOps) Get(ctx context.Context, obj any, args vol.AttrGet, async *vol.Async) error {
	a.p.trace("attribute get")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return a.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.AttrGet(ctx, o.under, args, inner)
	})
}

func (a attrOps) Specific(ctx context.Context, obj any, loc vol.LocParams, args vol.AttrSpecific, async *vol.Async) error {
	a.p.trace("attribute specific")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return a.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.AttrSpecific(ctx, o.under, loc, args, inner)
	})
}

func (a attrOps) Optional(ctx context.Context, obj any, args *vol.OptionalArgs, async *vol.Async) error {
	a.p.trace("attribute optional")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return a.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.AttrOptional(ctx, o.under, args, inner)
	})
}

func (a attrOps) Close(ctx context.Context, attr any, async *vol.Async) error {
	a.p.trace("attribute close")
	o, err := unwrap(attr)
	if err != nil {
		return err
	}
	return a.p.close(o, async, func(inner *vol.Async) error {
		return o.conn.AttrClose(ctx, o.under, inner)
	})
}

type datasetOps struct{ p *PassThrough }

func (d datasetOps) Create(ctx context.Context, obj any, loc vol.LocParams, name string, lcpl *plist.List, typ core.Datatype, space core.Dataspace, dcpl, dapl *plist.List, async *vol.Async) (any, error) {
	d.p.trace("dataset create", slog.String("name", name))
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return d.p.open(o.conn, async, func(inner *vol.Async) (any, error) {
		return o.conn.DatasetCreate(ctx, o.under, loc, name, lcpl, typ, space, dcpl, dapl, inner)
	})
}

func (d datasetOps) Open(ctx context.Context, obj any, loc vol.LocParams, name string, dapl *plist.List, async *vol.Async) (any, error) {
	d.p.trace("dataset open", slog.String("name", name))
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return d.p.open(o.conn, async, func(inner *vol.Async) (any, error) {
		return o.conn.DatasetOpen(ctx, o.under, loc, name, dapl, inner)
	})
}

func (d datasetOps) Read(ctx context.Context, dset any, buf []byte, dxpl *plist.List, async *vol.Async) error {
	d.p.trace("dataset read", slog.Int("bytes", len(buf)))
	o, err := unwrap(dset)
	if err != nil {
		return err
	}
	return d.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.DatasetRead(ctx, o.under, buf, dxpl, inner)
	})
}

func (d datasetOps) Write(ctx context.Context, dset any, buf []byte, dxpl *plist.List, async *vol.Async) error {
	d.p.trace("dataset write", slog.Int("bytes", len(buf)))
	o, err := unwrap(dset)
	if err != nil {
		return err
	}
	return d.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.DatasetWrite(ctx, o.under, buf, dxpl, inner)
	})
}

func (d datasetOps) Get(ctx context.Context, dset any, args vol.DatasetGet, async *vol.Async) error {
	d.p.trace("dataset get")
	o, err := unwrap(dset)
	if err != nil {
		return err
	}
	return d.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.DatasetGet(ctx, o.under, args, inner)
	})
}

func (d datasetOps) Specific(ctx context.Context, dset any, args vol.DatasetSpecific, async *vol.Async) error {
	d.p.trace("dataset specific")
	o, err := unwrap(dset)
	if err != nil {
		return err
	}
	return d.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.DatasetSpecific(ctx, o.under, args, inner)
	})
}

func (d datasetOps) Optional(ctx context.Context, dset any, args *vol.OptionalArgs, async *vol.Async) error {
	d.p.trace("dataset optional")
	o, err := unwrap(dset)
	if err != nil {
		return err
	}
	return d.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.DatasetOptional(ctx, o.under, args, inner)
	})
}

func (d datasetOps) Close(ctx context.Context, dset any, async *vol.Async) error {
	d.p.trace("dataset close")
	o, err := unwrap(dset)
	if err != nil {
		return err
	}
	return d.p.close(o, async, func(inner *vol.Async) error {
		return o.conn.DatasetClose(ctx, o.under, inner)
	})
}

type datatypeOps struct{ p *PassThrough }

func (t datatypeOps) Commit(ctx context.Context, obj any, loc vol.LocParams, name string, typ core.Datatype, lcpl, tcpl, tapl *plist.List, async *vol.Async) (any, error) {
	t.p.trace("datatype commit", slog.String("name", name))
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return t.p.open(o.conn, async, func(inner *vol.Async) (any, error) {
		return o.conn.DatatypeCommit(ctx, o.under, loc, name, typ, lcpl, tcpl, tapl, inner)
	})
}

func (t datatypeOps) Open(ctx context.Context, obj any, loc vol.LocParams, name string, tapl *plist.List, async *vol.Async) (any, error) {
	t.p.trace("datatype open", slog.String("name", name))
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return t.p.open(o.conn, async, func(inner *vol.Async) (any, error) {
		return o.conn.DatatypeOpen(ctx, o.under, loc, name, tapl, inner)
	})
}

func (t datatypeOps) Get(ctx context.Context, dtype any, args vol.DatatypeGet, async *vol.Async) error {
	t.p.trace("datatype get")
	o, err := unwrap(dtype)
	if err != nil {
		return err
	}
	return t.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.DatatypeGet(ctx, o.under, args, inner)
	})
}

func (t datatypeOps) Specific(ctx context.Context, dtype any, args vol.DatatypeSpecific, async *vol.Async) error {
	t.p.trace("datatype specific")
	o, err := unwrap(dtype)
	if err != nil {
		return err
	}
	return t.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.DatatypeSpecific(ctx, o.under, args, inner)
	})
}

func (t datatypeOps) Optional(ctx context.Context, dtype any, args *vol.OptionalArgs, async *vol.Async) error {
	t.p.trace("datatype optional")
	o, err := unwrap(dtype)
	if err != nil {
		return err
	}
	return t.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.DatatypeOptional(ctx, o.under, args, inner)
	})
}

func (t datatypeOps) Close(ctx context.Context, dtype any, async *vol.Async) error {
	t.p.trace("datatype close")
	o, err := unwrap(dtype)
	if err != nil {
		return err
	}
	return t.p.close(o, async, func(inner *vol.Async) error {
		return o.conn.DatatypeClose(ctx, o.under, inner)
	})
}

type fileOps struct{ p *PassThrough }

// withUnder runs fn with the connector below selected on a copy of fapl.
func (f fileOps) withUnder(ctx context.Context, fapl *plist.List, fn func(under *vol.Connector, fapl *plist.List) error) error {
	info, err := f.p.accessInfo(ctx, fapl)
	if err != nil {
		return err
	}
	underFapl, err := underAccess(fapl, info)
	if err != nil {
		return utils.KeepPrimary(err, freeInfo(info))
	}
	err = utils.KeepPrimary(fn(info.Under, underFapl), underFapl.Close())
	return utils.KeepPrimary(err, freeInfo(info))
}

func (f fileOps) Create(ctx context.Context, name string, flags vol.FileFlags, fcpl, fapl *plist.List, async *vol.Async) (any, error) {
	f.p.trace("file create", slog.String("name", name))
	var out any
	err := f.withUnder(ctx, fapl, func(under *vol.Connector, fapl *plist.List) error {
		var err error
		out, err = f.p.open(under, async, func(inner *vol.Async) (any, error) {
			return under.FileCreate(ctx, name, flags, fcpl, fapl, inner)
		})
		return err
	})
	return out, err
}

func (f fileOps) Open(ctx context.Context, name string, flags vol.FileFlags, fapl *plist.List, async *vol.Async) (any, error) {
	f.p.trace("file open", slog.String("name", name))
	var out any
	err := f.withUnder(ctx, fapl, func(under *vol.Connector, fapl *plist.List) error {
		var err error
		out, err = f.p.open(under, async, func(inner *vol.Async) (any, error) {
			return under.FileOpen(ctx, name, flags, fapl, inner)
		})
		return err
	})
	return out, err
}

func (f fileOps) Get(ctx context.Context, file any, args vol.FileGet, async *vol.Async) error {
	f.p.trace("file get")
	o, err := unwrap(file)
	if err != nil {
		return err
	}
	return f.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.FileGet(ctx, o.under, args, inner)
	})
}

func (f fileOps) Specific(ctx context.Context, file any, args vol.FileSpecific, async *vol.Async) error {
	f.p.trace("file specific", slog.String("op", fmt.Sprintf("%T", args)))
	switch a := args.(type) {
	case *vol.FileIsAccessible:
		return f.withUnder(ctx, a.FAPL, func(under *vol.Connector, fapl *plist.List) error {
			r := &vol.FileIsAccessible{Name: a.Name, FAPL: fapl}
			err := f.p.forward(under, async, func(inner *vol.Async) error {
				return under.FileSpecific(ctx, nil, r, inner)
			})
			a.Accessible = r.Accessible
			return err
		})
	case *vol.FileDelete:
		return f.withUnder(ctx, a.FAPL, func(under *vol.Connector, fapl *plist.List) error {
			return f.p.forward(under, async, func(inner *vol.Async) error {
				return under.FileSpecific(ctx, nil, &vol.FileDelete{Name: a.Name, FAPL: fapl}, inner)
			})
		})
	}

	o, err := unwrap(file)
	if err != nil {
		return err
	}
	switch a := args.(type) {
	case *vol.FileReopen:
		r := &vol.FileReopen{}
		if err := f.p.forward(o.conn, async, func(inner *vol.Async) error {
			return o.conn.FileSpecific(ctx, o.under, r, inner)
		}); err != nil {
			return err
		}
		reopened, err := f.p.wrap(r.File, o.conn)
		if err != nil {
			return err
		}
		a.File = reopened
		return nil
	case *vol.FileIsEqual:
		other, err := underOf(a.Other)
		if err != nil {
			return err
		}
		r := &vol.FileIsEqual{Other: other}
		err = f.p.forward(o.conn, async, func(inner *vol.Async) error {
			return o.conn.FileSpecific(ctx, o.under, r, inner)
		})
		a.Equal = r.Equal
		return err
	default:
		return f.p.forward(o.conn, async, func(inner *vol.Async) error {
			return o.conn.FileSpecific(ctx, o.under, args, inner)
		})
	}
}

func (f fileOps) Optional(ctx context.Context, file any, args *vol.OptionalArgs, async *vol.Async) error {
	f.p.trace("file optional")
	o, err := unwrap(file)
	if err != nil {
		return err
	}
	return f.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.FileOptional(ctx, o.under, args, inner)
	})
}

func (f fileOps) Close(ctx context.Context, file any, async *vol.Async) error {
	f.p.trace("file close")
	o, err := unwrap(file)
	if err != nil {
		return err
	}
	return f.p.close(o, async, func(inner *vol.Async) error {
		return o.conn.FileClose(ctx, o.under, inner)
	})
}

type groupOps struct{ p *PassThrough }

func (g groupOps) Create(ctx context.Context, obj any, loc vol.LocParams, name string, lcpl, gcpl, gapl *plist.List, async *vol.Async) (any, error) {
	g.p.trace("group create", slog.String("name", name))
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return g.p.open(o.conn, async, func(inner *vol.Async) (any, error) {
		return o.conn.GroupCreate(ctx, o.under, loc, name, lcpl, gcpl, gapl, inner)
	})
}

func (g groupOps) Open(ctx context.Context, obj any, loc vol.LocParams, name string, gapl *plist.List, async *vol.Async) (any, error) {
	g.p.trace("group open", slog.String("name", name))
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return g.p.open(o.conn, async, func(inner *vol.Async) (any, error) {
		return o.conn.GroupOpen(ctx, o.under, loc, name, gapl, inner)
	})
}

func (g groupOps) Get(ctx context.Context, obj any, args vol.GroupGet, async *vol.Async) error {
	g.p.trace("group get")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return g.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.GroupGet(ctx, o.under, args, inner)
	})
}

func (g groupOps) Specific(ctx context.Context, grp any, args vol.GroupSpecific, async *vol.Async) error {
	g.p.trace("group specific")
	o, err := unwrap(grp)
	if err != nil {
		return err
	}
	if a, ok := args.(*vol.GroupMount); ok {
		child, err := underOf(a.Child)
		if err != nil {
			return err
		}
		args = &vol.GroupMount{Name: a.Name, Child: child, FMPL: a.FMPL}
	}
	return g.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.GroupSpecific(ctx, o.under, args, inner)
	})
}

func (g groupOps) Optional(ctx context.Context, grp any, args *vol.OptionalArgs, async *vol.Async) error {
	g.p.trace("group optional")
	o, err := unwrap(grp)
	if err != nil {
		return err
	}
	return g.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.GroupOptional(ctx, o.under, args, inner)
	})
}

func (g groupOps) Close(ctx context.Context, grp any, async *vol.Async) error {
	g.p.trace("group close")
	o, err := unwrap(grp)
	if err != nil {
		return err
	}
	return g.p.close(o, async, func(inner *vol.Async) error {
		return o.conn.GroupClose(ctx, o.under, inner)
	})
}
