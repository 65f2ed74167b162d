package vol

import (
	"context"
	"fmt"
	"sync"

	"github.com/scigolib/h5vol/internal/utils"
)

// WrapContext captures the connector stack of an object so that objects a
// connector creates deep inside an operation, such as the handles given to
// user-defined link callbacks, can be wrapped the same way as objects
// returned through the API.
//
// A WrapContext is reference counted; it holds a reference to its connector
// and the connector's own wrap context until the count drops to zero.
type WrapContext struct {
	conn *Connector
	data any

	mu   sync.Mutex
	refs int
}

// NewWrapContext captures the stack of o. The caller owns one reference.
func NewWrapContext(o *Object) (*WrapContext, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("wrap context of a freed object: %w", utils.ErrInvalidArgument)
	}
	data, err := o.conn.GetWrapCtx(o.data)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("getting wrap context of connector %q", o.conn.Name()), err)
	}
	o.conn.incRef()
	return &WrapContext{conn: o.conn, data: data, refs: 1}, nil
}

// Connector returns the connector objects are wrapped for.
func (w *WrapContext) Connector() *Connector { return w.conn }

// IncRef adds a reference.
func (w *WrapContext) IncRef() {
	w.mu.Lock()
	w.refs++
	w.mu.Unlock()
}

// DecRef drops a reference, freeing the context at zero.
func (w *WrapContext) DecRef() error {
	w.mu.Lock()
	if w.refs <= 0 {
		w.mu.Unlock()
		return fmt.Errorf("wrap context released more often than referenced: %w", utils.ErrInvalidArgument)
	}
	w.refs--
	last := w.refs == 0
	w.mu.Unlock()
	if !last {
		return nil
	}
	return utils.KeepPrimary(w.conn.FreeWrapCtx(w.data), w.conn.decRef())
}

// Wrap binds data, an object of the terminal connector, to the captured
// stack.
func (w *WrapContext) Wrap(data any, typ ObjectType) (*Object, error) {
	wrapped, err := w.conn.WrapObject(data, typ, w.data)
	if err != nil {
		return nil, err
	}
	return NewObject(w.conn, typ, wrapped), nil
}

// Unwrap returns the terminal connector's data behind o.
func (w *WrapContext) Unwrap(o *Object) (any, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("unwrapping a freed object: %w", utils.ErrInvalidArgument)
	}
	return o.conn.UnwrapObject(o.data)
}

type wrapCtxKey struct{}

// WithWrapContext returns a context carrying w.
func WithWrapContext(ctx context.Context, w *WrapContext) context.Context {
	return context.WithValue(ctx, wrapCtxKey{}, w)
}

// WrapContextFrom returns the wrap context carried by ctx, or nil.
func WrapContextFrom(ctx context.Context) *WrapContext {
	w, _ := ctx.Value(wrapCtxKey{}).(*WrapContext)
	return w
}

// GetWrapCtx returns the connector's wrap context for obj, or nil for a
// connector that does not wrap.
func (c *Connector) GetWrapCtx(obj any) (any, error) {
	if c.class.Wrap == nil || c.class.Wrap.GetWrapCtx == nil {
		return nil, nil
	}
	return c.class.Wrap.GetWrapCtx(obj)
}

// FreeWrapCtx releases a context returned by GetWrapCtx.
func (c *Connector) FreeWrapCtx(wrapCtx any) error {
	if c.class.Wrap == nil || c.class.Wrap.FreeWrapCtx == nil || wrapCtx == nil {
		return nil
	}
	return c.class.Wrap.FreeWrapCtx(wrapCtx)
}

// WrapObject wraps an object of the terminal connector for this connector.
func (c *Connector) WrapObject(obj any, typ ObjectType, wrapCtx any) (any, error) {
	if c.class.Wrap == nil || c.class.Wrap.WrapObject == nil {
		return obj, nil
	}
	return c.class.Wrap.WrapObject(obj, typ, wrapCtx)
}

// UnwrapObject returns the terminal connector's object behind obj.
func (c *Connector) UnwrapObject(obj any) (any, error) {
	if c.class.Wrap == nil || c.class.Wrap.UnwrapObject == nil {
		return obj, nil
	}
	return c.class.Wrap.UnwrapObject(obj)
}
