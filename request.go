package h5vol

import (
	"context"
	"fmt"
	"sync"

	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// Request tracks an asynchronous operation.
type Request struct {
	mu   sync.Mutex
	req  *vol.Request // nil when the operation finished synchronously
	done bool
	err  error
}

func newRequest(async *vol.Async) *Request {
	return &Request{req: async.Request()}
}

// Wait blocks until the operation finishes and returns its error. The
// request is released once it finishes; later calls return the same result.
// A cancelled ctx stops the wait, not the operation.
func (r *Request) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.req == nil || r.done {
		return r.err
	}
	status, err := r.req.Wait(ctx, vol.WaitForever)
	if err != nil {
		return err
	}
	return r.finish(ctx, status)
}

// Cancel stops the operation and returns its outcome the way Wait does: an
// operation stopped in time reports context.Canceled, one that had already
// finished keeps its own result.
func (r *Request) Cancel(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.req == nil || r.done {
		return r.err
	}
	status, err := r.req.Cancel(ctx)
	if err != nil {
		return err
	}
	if !status.Terminal() {
		if status, err = r.req.Wait(ctx, vol.WaitForever); err != nil {
			return err
		}
	}
	return r.finish(ctx, status)
}

// finish records the outcome of a terminal status and frees the request.
func (r *Request) finish(ctx context.Context, status vol.RequestStatus) error {
	switch status {
	case vol.RequestFailed:
		a := &vol.RequestGetErr{}
		if err := r.req.Specific(ctx, a); err != nil {
			r.err = err
		} else {
			r.err = a.Err
		}
	case vol.RequestCanceled:
		r.err = fmt.Errorf("request canceled: %w", context.Canceled)
	}
	r.done = true
	return utils.KeepPrimary(r.err, r.req.Free())
}

// Done reports whether the operation has finished, without blocking.
func (r *Request) Done(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.req == nil || r.done {
		return true, nil
	}
	status, err := r.req.Wait(ctx, 0)
	if err != nil {
		return false, err
	}
	return status.Terminal(), nil
}
