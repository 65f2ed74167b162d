// Package passthru implements a stacking connector that forwards every
// operation to the connector below it. It changes nothing about the data;
// it exists to exercise the wrapping rules every stacking connector follows:
// each object it hands out wraps an object of the connector below, objects
// passed back in are unwrapped before forwarding, and requests are wrapped
// like any other object.
package passthru

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// Name and ConnVersion identify the connector; its value is
// vol.PassThroughValue.
const (
	Name        = "pass_through_ext"
	ConnVersion = 0
)

// Info selects the connector below and the info value handed to it. An
// Info holds a reference to Under.
type Info struct {
	Under     *vol.Connector
	UnderInfo any
}

// PassThrough is a pass-through connector bound to the registry its under
// connectors are looked up in.
type PassThrough struct {
	reg    *vol.Registry
	logger *slog.Logger

	classOnce sync.Once
	class     *vol.Class
}

// Option configures a PassThrough.
type Option func(*PassThrough)

// WithLogger traces every forwarded operation at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(p *PassThrough) { p.logger = logger }
}

// New returns a pass-through connector resolving under connectors in reg.
func New(reg *vol.Registry, opts ...Option) *PassThrough {
	p := &PassThrough{
		reg:    reg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Class returns the connector class to register. Every call returns the
// same class.
func (p *PassThrough) Class() *vol.Class {
	p.classOnce.Do(func() {
		p.class = &vol.Class{
			Version:     vol.Version,
			Value:       vol.PassThroughValue,
			Name:        Name,
			ConnVersion: ConnVersion,
			CapFlags:    vol.CapStackable,
			Info: &vol.InfoClass{
				Copy:       p.copyInfo,
				Compare:    compareInfo,
				Free:       freeInfo,
				ToString:   infoToString,
				FromString: p.infoFromString,
			},
			Wrap: &vol.WrapClass{
				GetObject:    getObject,
				GetWrapCtx:   getWrapCtx,
				WrapObject:   p.wrapObject,
				UnwrapObject: unwrapObject,
				FreeWrapCtx:  freeWrapCtx,
			},
			Attr:       attrOps{p},
			Dataset:    datasetOps{p},
			Datatype:   datatypeOps{p},
			File:       fileOps{p},
			Group:      groupOps{p},
			Link:       linkOps{p},
			Object:     objectOps{p},
			Introspect: introspectOps{p},
			Request:    requestOps{p},
			Blob:       blobOps{p},
			Token:      tokenOps{p},
			Optional:   optionalOps{p},
		}
	})
	return p.class
}

func (p *PassThrough) trace(op string, args ...any) {
	p.logger.Debug("pass-through "+op, args...)
}

// Info values.

func asInfo(v any) (*Info, error) {
	info, ok := v.(*Info)
	if !ok || info == nil || info.Under == nil {
		return nil, fmt.Errorf("pass-through info %T: %w", v, utils.ErrInvalidArgument)
	}
	return info, nil
}

func (p *PassThrough) copyInfo(v any) (any, error) {
	info, err := asInfo(v)
	if err != nil {
		return nil, err
	}
	return newInfo(info.Under, info.UnderInfo)
}

// newInfo returns an Info holding its own reference to under and its own
// copy of underInfo.
func newInfo(under *vol.Connector, underInfo any) (*Info, error) {
	ui, err := under.CopyInfo(underInfo)
	if err != nil {
		return nil, err
	}
	if err := under.Registry().IncRef(under.ID()); err != nil {
		return nil, utils.KeepPrimary(err, under.FreeInfo(ui))
	}
	return &Info{Under: under, UnderInfo: ui}, nil
}

func compareInfo(a, b any) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}
	x, err := asInfo(a)
	if err != nil {
		return 0, err
	}
	y, err := asInfo(b)
	if err != nil {
		return 0, err
	}
	if n := cmp.Compare(x.Under.Value(), y.Under.Value()); n != 0 {
		return n, nil
	}
	return x.Under.CompareInfo(x.UnderInfo, y.UnderInfo)
}

func freeInfo(v any) error {
	info, err := asInfo(v)
	if err != nil {
		return err
	}
	return utils.KeepPrimary(info.Under.FreeInfo(info.UnderInfo), info.Under.Registry().Unregister(info.Under.ID()))
}

func infoToString(v any) (string, error) {
	info, err := asInfo(v)
	if err != nil {
		return "", err
	}
	s, err := info.Under.InfoToString(info.UnderInfo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("under_vol=%d;under_info={%s}", info.Under.Value(), s), nil
}

// infoFromString parses "under_vol=<value>;under_info={<info>}" and
// registers the under connector by value, loading it if needed.
func (p *PassThrough) infoFromString(s string) (any, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "under_vol=")
	if !ok {
		return nil, fmt.Errorf("pass-through info %q: missing under_vol: %w", s, utils.ErrInvalidArgument)
	}
	valStr, infoPart, _ := strings.Cut(rest, ";")
	v, err := strconv.Atoi(strings.TrimSpace(valStr))
	if err != nil {
		return nil, fmt.Errorf("pass-through info %q: under_vol: %v: %w", s, err, utils.ErrInvalidArgument)
	}
	var underStr string
	if infoPart = strings.TrimSpace(infoPart); infoPart != "" {
		inner, ok := strings.CutPrefix(infoPart, "under_info={")
		if ok {
			inner, ok = strings.CutSuffix(inner, "}")
		}
		if !ok {
			return nil, fmt.Errorf("pass-through info %q: malformed under_info: %w", s, utils.ErrInvalidArgument)
		}
		underStr = inner
	}

	id, err := p.reg.RegisterByValue(context.Background(), vol.Value(v), nil)
	if err != nil {
		return nil, utils.WrapError("pass-through under connector", err)
	}
	under, err := p.reg.Get(id)
	if err != nil {
		return nil, utils.KeepPrimary(err, p.reg.Unregister(id))
	}
	underInfo, err := under.InfoFromString(underStr)
	if err != nil {
		return nil, utils.KeepPrimary(err, p.reg.Unregister(id))
	}
	return &Info{Under: under, UnderInfo: underInfo}, nil
}

// accessInfo returns an owned copy of the info selected on fapl. Without an
// info the native connector is used.
func (p *PassThrough) accessInfo(ctx context.Context, fapl *plist.List) (*Info, error) {
	prop, err := vol.GetConnectorProp(fapl)
	if err != nil {
		return nil, err
	}
	if prop.Info != nil {
		info, err := asInfo(prop.Info)
		if err != nil {
			return nil, err
		}
		return newInfo(info.Under, info.UnderInfo)
	}
	id, err := p.reg.RegisterByName(ctx, vol.NativeName, nil)
	if err != nil {
		return nil, utils.WrapError("pass-through default under connector", err)
	}
	under, err := p.reg.Get(id)
	if err != nil {
		return nil, utils.KeepPrimary(err, p.reg.Unregister(id))
	}
	return &Info{Under: under}, nil
}

// underAccess returns a copy of fapl selecting the connector below. The
// caller closes it.
func underAccess(fapl *plist.List, info *Info) (*plist.List, error) {
	out, err := fapl.Copy()
	if err != nil {
		return nil, err
	}
	if err := vol.SetConnectorProp(out, &vol.ConnectorProp{Conn: info.Under, Info: info.UnderInfo}); err != nil {
		return nil, utils.KeepPrimary(err, out.Close())
	}
	return out, nil
}

// Wrapped objects.

// object wraps an object of the connector below. It holds a reference to
// that connector until freed.
type object struct {
	under any
	conn  *vol.Connector
}

func (p *PassThrough) wrap(under any, conn *vol.Connector) (*object, error) {
	if err := conn.Registry().IncRef(conn.ID()); err != nil {
		return nil, err
	}
	return &object{under: under, conn: conn}, nil
}

func (o *object) free() error {
	return o.conn.Registry().Unregister(o.conn.ID())
}

func unwrap(obj any) (*object, error) {
	o, ok := obj.(*object)
	if !ok || o == nil {
		return nil, fmt.Errorf("object %T does not belong to the pass-through connector: %w", obj, utils.ErrInvalidArgument)
	}
	return o, nil
}

// underOf unwraps an optional argument object; nil stays nil.
func underOf(obj any) (any, error) {
	if obj == nil {
		return nil, nil
	}
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return o.under, nil
}

// forward runs fn against the connector below and wraps the request it
// leaves behind.
func (p *PassThrough) forward(conn *vol.Connector, async *vol.Async, fn func(inner *vol.Async) error) error {
	var inner *vol.Async
	if async != nil {
		inner = vol.NewAsync()
	}
	if err := fn(inner); err != nil {
		return err
	}
	if tok := inner.Token(); tok != nil {
		req, err := p.wrap(tok, conn)
		if err != nil {
			return err
		}
		async.Set(req)
	}
	return nil
}

// open forwards an operation returning a new object and wraps it.
func (p *PassThrough) open(conn *vol.Connector, async *vol.Async, fn func(inner *vol.Async) (any, error)) (any, error) {
	var under any
	err := p.forward(conn, async, func(inner *vol.Async) error {
		var err error
		under, err = fn(inner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p.wrap(under, conn)
}

// close forwards a close and frees the wrapper once the object below is
// closed. A failed close keeps the wrapper usable.
func (p *PassThrough) close(o *object, async *vol.Async, fn func(inner *vol.Async) error) error {
	if err := p.forward(o.conn, async, fn); err != nil {
		return err
	}
	return o.free()
}

// Wrap class.

type wrapCtx struct {
	under any
	conn  *vol.Connector
}

func getObject(obj any) (any, error) {
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return o.under, nil
}

func getWrapCtx(obj any) (any, error) {
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	under, err := o.conn.GetWrapCtx(o.under)
	if err != nil {
		return nil, err
	}
	if err := o.conn.Registry().IncRef(o.conn.ID()); err != nil {
		return nil, utils.KeepPrimary(err, o.conn.FreeWrapCtx(under))
	}
	return &wrapCtx{under: under, conn: o.conn}, nil
}

func (p *PassThrough) wrapObject(obj any, typ vol.ObjectType, ctx any) (any, error) {
	w, ok := ctx.(*wrapCtx)
	if !ok {
		return nil, fmt.Errorf("pass-through wrap context %T: %w", ctx, utils.ErrInvalidArgument)
	}
	under, err := w.conn.WrapObject(obj, typ, w.under)
	if err != nil {
		return nil, err
	}
	return p.wrap(under, w.conn)
}

func unwrapObject(obj any) (any, error) {
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	return o.conn.UnwrapObject(o.under)
}

func freeWrapCtx(ctx any) error {
	w, ok := ctx.(*wrapCtx)
	if !ok {
		return fmt.Errorf("pass-through wrap context %T: %w", ctx, utils.ErrInvalidArgument)
	}
	return utils.KeepPrimary(w.conn.FreeWrapCtx(w.under), w.conn.Registry().Unregister(w.conn.ID()))
}
