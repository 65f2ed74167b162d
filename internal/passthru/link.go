package passthru

import (
	"context"
	"log/slog"

	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/vol"
)

type linkOps struct{ p *PassThrough }

func (l linkOps) Create(ctx context.Context, args vol.LinkCreate, obj any, loc vol.LocParams, lcpl, lapl *plist.List, async *vol.Async) error {
	l.p.trace("link create", slog.String("name", loc.Name))
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	if h, ok := args.(*vol.LinkCreateHard); ok {
		target, err := underOf(h.Target)
		if err != nil {
			return err
		}
		args = &vol.LinkCreateHard{Target: target, TargetLoc: h.TargetLoc}
	}
	return l.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.LinkCreate(ctx, args, o.under, loc, lcpl, lapl, inner)
	})
}

// pair unwraps the source and destination of a copy or move.
func pair(src, dst any) (*object, any, error) {
	s, err := unwrap(src)
	if err != nil {
		return nil, nil, err
	}
	d, err := underOf(dst)
	if err != nil {
		return nil, nil, err
	}
	return s, d, nil
}

func (l linkOps) Copy(ctx context.Context, src any, srcLoc vol.LocParams, dst any, dstLoc vol.LocParams, lcpl, lapl *plist.List, async *vol.Async) error {
	l.p.trace("link copy", slog.String("src", srcLoc.Name), slog.String("dst", dstLoc.Name))
	s, d, err := pair(src, dst)
	if err != nil {
		return err
	}
	return l.p.forward(s.conn, async, func(inner *vol.Async) error {
		return s.conn.LinkCopy(ctx, s.under, srcLoc, d, dstLoc, lcpl, lapl, inner)
	})
}

func (l linkOps) Move(ctx context.Context, src any, srcLoc vol.LocParams, dst any, dstLoc vol.LocParams, lcpl, lapl *plist.List, async *vol.Async) error {
	l.p.trace("link move", slog.String("src", srcLoc.Name), slog.String("dst", dstLoc.Name))
	s, d, err := pair(src, dst)
	if err != nil {
		return err
	}
	return l.p.forward(s.conn, async, func(inner *vol.Async) error {
		return s.conn.LinkMove(ctx, s.under, srcLoc, d, dstLoc, lcpl, lapl, inner)
	})
}

func (l linkOps) Get(ctx context.Context, obj any, loc vol.LocParams, args vol.LinkGet, async *vol.Async) error {
	l.p.trace("link get")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return l.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.LinkGet(ctx, o.under, loc, args, inner)
	})
}

func (l linkOps) Specific(ctx context.Context, obj any, loc vol.LocParams, args vol.LinkSpecific, async *vol.Async) error {
	l.p.trace("link specific")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return l.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.LinkSpecific(ctx, o.under, loc, args, inner)
	})
}

func (l linkOps) Optional(ctx context.Context, obj any, loc vol.LocParams, args *vol.OptionalArgs, async *vol.Async) error {
	l.p.trace("link optional")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return l.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.LinkOptional(ctx, o.under, loc, args, inner)
	})
}

type objectOps struct{ p *PassThrough }

func (ob objectOps) Open(ctx context.Context, obj any, loc vol.LocParams, async *vol.Async) (any, vol.ObjectType, error) {
	ob.p.trace("object open")
	o, err := unwrap(obj)
	if err != nil {
		return nil, 0, err
	}
	var typ vol.ObjectType
	out, err := ob.p.open(o.conn, async, func(inner *vol.Async) (any, error) {
		var (
			under any
			err   error
		)
		under, typ, err = o.conn.ObjectOpen(ctx, o.under, loc, inner)
		return under, err
	})
	if err != nil {
		return nil, 0, err
	}
	return out, typ, nil
}

func (ob objectOps) Copy(ctx context.Context, src any, srcLoc vol.LocParams, srcName string, dst any, dstLoc vol.LocParams, dstName string, ocpypl, lcpl *plist.List, async *vol.Async) error {
	ob.p.trace("object copy", slog.String("src", srcName), slog.String("dst", dstName))
	s, d, err := pair(src, dst)
	if err != nil {
		return err
	}
	return ob.p.forward(s.conn, async, func(inner *vol.Async) error {
		return s.conn.ObjectCopy(ctx, s.under, srcLoc, srcName, d, dstLoc, dstName, ocpypl, lcpl, inner)
	})
}

func (ob objectOps) Get(ctx context.Context, obj any, loc vol.LocParams, args vol.ObjectGet, async *vol.Async) error {
	ob.p.trace("object get")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	a, ok := args.(*vol.ObjectGetFile)
	if !ok {
		return ob.p.forward(o.conn, async, func(inner *vol.Async) error {
			return o.conn.ObjectGet(ctx, o.under, loc, args, inner)
		})
	}
	r := &vol.ObjectGetFile{}
	if err := ob.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.ObjectGet(ctx, o.under, loc, r, inner)
	}); err != nil {
		return err
	}
	file, err := ob.p.wrap(r.File, o.conn)
	if err != nil {
		return err
	}
	a.File = file
	return nil
}

func (ob objectOps) Specific(ctx context.Context, obj any, loc vol.LocParams, args vol.ObjectSpecific, async *vol.Async) error {
	ob.p.trace("object specific")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return ob.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.ObjectSpecific(ctx, o.under, loc, args, inner)
	})
}

func (ob objectOps) Optional(ctx context.Context, obj any, loc vol.LocParams, args *vol.OptionalArgs, async *vol.Async) error {
	ob.p.trace("object optional")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return ob.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.ObjectOptional(ctx, o.under, loc, args, inner)
	})
}
