package passthru

import (
	"context"
	"time"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/vol"
)

type introspectOps struct{ p *PassThrough }

// GetConnClass answers LevelNext with the connector directly below and
// LevelTerminal by asking that connector in turn.
func (i introspectOps) GetConnClass(ctx context.Context, obj any, level vol.Level) (*vol.Class, error) {
	if level == vol.LevelCurrent {
		return i.p.Class(), nil
	}
	o, err := unwrap(obj)
	if err != nil {
		return nil, err
	}
	if level == vol.LevelNext {
		return o.conn.Class(), nil
	}
	return o.conn.ConnClass(ctx, o.under, vol.LevelTerminal)
}

// GetCapFlags reports what the connector below can do; stacking adds
// nothing and takes nothing away.
func (i introspectOps) GetCapFlags(info any) (vol.CapFlags, error) {
	if info == nil {
		return vol.CapStackable, nil
	}
	in, err := asInfo(info)
	if err != nil {
		return 0, err
	}
	flags, err := in.Under.CapFlags(in.UnderInfo)
	if err != nil {
		return 0, err
	}
	return flags | vol.CapStackable, nil
}

func (i introspectOps) OptQuery(ctx context.Context, obj any, subcls vol.Subclass, op int) (vol.OptFlags, error) {
	o, err := unwrap(obj)
	if err != nil {
		return 0, err
	}
	return o.conn.OptQuery(ctx, o.under, subcls, op)
}

type requestOps struct{ p *PassThrough }

func (r requestOps) Wait(ctx context.Context, req any, timeout time.Duration) (vol.RequestStatus, error) {
	r.p.trace("request wait")
	o, err := unwrap(req)
	if err != nil {
		return vol.RequestFailed, err
	}
	return o.conn.RequestWait(ctx, o.under, timeout)
}

func (r requestOps) Notify(req any, fn func(vol.RequestStatus)) error {
	r.p.trace("request notify")
	o, err := unwrap(req)
	if err != nil {
		return err
	}
	return o.conn.RequestNotify(o.under, fn)
}

func (r requestOps) Cancel(ctx context.Context, req any) (vol.RequestStatus, error) {
	r.p.trace("request cancel")
	o, err := unwrap(req)
	if err != nil {
		return vol.RequestCantCancel, err
	}
	return o.conn.RequestCancel(ctx, o.under)
}

func (r requestOps) Specific(ctx context.Context, req any, args vol.RequestSpecific) error {
	o, err := unwrap(req)
	if err != nil {
		return err
	}
	return o.conn.RequestSpecific(ctx, o.under, args)
}

func (r requestOps) Optional(ctx context.Context, req any, args *vol.OptionalArgs) error {
	o, err := unwrap(req)
	if err != nil {
		return err
	}
	return o.conn.RequestOptional(ctx, o.under, args)
}

// Free releases the request below, then the wrapper.
func (r requestOps) Free(req any) error {
	r.p.trace("request free")
	o, err := unwrap(req)
	if err != nil {
		return err
	}
	if err := o.conn.RequestFree(o.under); err != nil {
		return err
	}
	return o.free()
}

type blobOps struct{ p *PassThrough }

func (b blobOps) Put(ctx context.Context, file any, data []byte) ([]byte, error) {
	b.p.trace("blob put")
	o, err := unwrap(file)
	if err != nil {
		return nil, err
	}
	return o.conn.BlobPut(ctx, o.under, data)
}

func (b blobOps) Get(ctx context.Context, file any, id []byte) ([]byte, error) {
	b.p.trace("blob get")
	o, err := unwrap(file)
	if err != nil {
		return nil, err
	}
	return o.conn.BlobGet(ctx, o.under, id)
}

func (b blobOps) Specific(ctx context.Context, file any, id []byte, args vol.BlobSpecific) error {
	b.p.trace("blob specific")
	o, err := unwrap(file)
	if err != nil {
		return err
	}
	return o.conn.BlobSpecific(ctx, o.under, id, args)
}

func (b blobOps) Optional(ctx context.Context, file any, id []byte, args *vol.OptionalArgs) error {
	o, err := unwrap(file)
	if err != nil {
		return err
	}
	return o.conn.BlobOptional(ctx, o.under, id, args)
}

type tokenOps struct{ p *PassThrough }

func (t tokenOps) Compare(obj any, a, b core.Token) (int, error) {
	o, err := unwrap(obj)
	if err != nil {
		return 0, err
	}
	return o.conn.TokenCompare(o.under, a, b)
}

func (t tokenOps) ToString(obj any, typ vol.ObjectType, tok core.Token) (string, error) {
	o, err := unwrap(obj)
	if err != nil {
		return "", err
	}
	return o.conn.TokenToString(o.under, typ, tok)
}

func (t tokenOps) FromString(obj any, typ vol.ObjectType, s string) (core.Token, error) {
	o, err := unwrap(obj)
	if err != nil {
		return core.Token{}, err
	}
	return o.conn.TokenFromString(o.under, typ, s)
}

type optionalOps struct{ p *PassThrough }

func (op optionalOps) Optional(ctx context.Context, obj any, args *vol.OptionalArgs, async *vol.Async) error {
	op.p.trace("optional")
	o, err := unwrap(obj)
	if err != nil {
		return err
	}
	return op.p.forward(o.conn, async, func(inner *vol.Async) error {
		return o.conn.Optional(ctx, o.under, args, inner)
	})
}
