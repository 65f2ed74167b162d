package vol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scigolib/h5vol/internal/utils"
)

// Request is the handle of an operation a connector runs asynchronously.
//
// Wait may be called any number of times; once a terminal status has been
// observed it is returned without asking the connector again. Free releases
// the connector's request and the connector reference exactly once.
type Request struct {
	conn *Connector
	data any

	mu     sync.Mutex
	status RequestStatus
	freed  bool
}

func newRequest(conn *Connector, data any) *Request {
	conn.incRef()
	return &Request{conn: conn, data: data}
}

// Connector returns the connector running the request.
func (r *Request) Connector() *Connector { return r.conn }

// Data returns the connector's request token.
func (r *Request) Data() any { return r.data }

func (r *Request) cached() (RequestStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.freed {
		return 0, false, fmt.Errorf("request already freed: %w", utils.ErrInvalidArgument)
	}
	return r.status, r.status.Terminal(), nil
}

func (r *Request) record(s RequestStatus) {
	r.mu.Lock()
	if !r.status.Terminal() {
		r.status = s
	}
	r.mu.Unlock()
}

// Wait blocks until the request finishes, timeout passes or ctx is done.
// A zero timeout polls; WaitForever blocks. A request that is still running
// when the wait ends reports RequestInProgress without an error.
func (r *Request) Wait(ctx context.Context, timeout time.Duration) (RequestStatus, error) {
	s, done, err := r.cached()
	if err != nil || done {
		return s, err
	}
	s, err = r.conn.RequestWait(ctx, r.data, timeout)
	if err == nil {
		r.record(s)
	}
	return s, err
}

// Status returns the last status observed without waiting.
func (r *Request) Status() RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Notify arranges for fn to run once the request finishes.
func (r *Request) Notify(fn func(RequestStatus)) error {
	if _, _, err := r.cached(); err != nil {
		return err
	}
	return r.conn.RequestNotify(r.data, func(s RequestStatus) {
		r.record(s)
		fn(s)
	})
}

// Cancel stops the request if it has not finished.
func (r *Request) Cancel(ctx context.Context) (RequestStatus, error) {
	s, done, err := r.cached()
	if err != nil || done {
		return s, err
	}
	s, err = r.conn.RequestCancel(ctx, r.data)
	if err == nil {
		r.record(s)
	}
	return s, err
}

// Specific runs a request operation.
func (r *Request) Specific(ctx context.Context, args RequestSpecific) error {
	if _, _, err := r.cached(); err != nil {
		return err
	}
	return r.conn.RequestSpecific(ctx, r.data, args)
}

// Optional runs a connector-specific request operation.
func (r *Request) Optional(ctx context.Context, args *OptionalArgs) error {
	if _, _, err := r.cached(); err != nil {
		return err
	}
	return r.conn.RequestOptional(ctx, r.data, args)
}

// Free releases the request. Freeing twice is a no-op; a failed free leaves
// the request intact.
func (r *Request) Free() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.freed {
		return nil
	}
	if err := r.conn.RequestFree(r.data); err != nil {
		return err
	}
	r.freed = true
	return r.conn.decRef()
}
