package native

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// request is an operation running in its own goroutine.
type request struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
	start  time.Time

	mu      sync.Mutex
	status  vol.RequestStatus
	err     error
	elapsed time.Duration
	notify  []func(vol.RequestStatus)
}

// spawn runs fn in the background when the caller passed an async collector
// and inline otherwise. A background fn outlives the caller's context but
// can be canceled through the request.
func spawn(ctx context.Context, async *vol.Async, fn func(ctx context.Context) error) error {
	if async == nil {
		return fn(ctx)
	}
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &request{id: uuid.New(), cancel: cancel, done: make(chan struct{}), start: time.Now()}
	go r.run(rctx, fn)
	async.Set(r)
	return nil
}

func (r *request) run(ctx context.Context, fn func(ctx context.Context) error) {
	err := fn(ctx)
	r.cancel()

	status := vol.RequestSucceeded
	switch {
	case errors.Is(err, context.Canceled):
		status = vol.RequestCanceled
	case err != nil:
		status = vol.RequestFailed
	}
	r.mu.Lock()
	r.status, r.err, r.elapsed = status, err, time.Since(r.start)
	fns := r.notify
	r.notify = nil
	// Closed under mu so Notify either queues before this point or sees
	// the request finished.
	close(r.done)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}

func (r *request) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *request) result() vol.RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *request) String() string {
	return "request " + r.id.String()
}

func asRequest(req any) (*request, error) {
	r, ok := req.(*request)
	if !ok || r == nil {
		return nil, fmt.Errorf("request %T does not belong to the native connector: %w", req, utils.ErrInvalidArgument)
	}
	return r, nil
}

type requestOps struct{}

func (requestOps) Wait(ctx context.Context, req any, timeout time.Duration) (vol.RequestStatus, error) {
	r, err := asRequest(req)
	if err != nil {
		return vol.RequestFailed, err
	}
	switch {
	case timeout == 0:
		if !r.finished() {
			return vol.RequestInProgress, nil
		}
	case timeout < 0:
		select {
		case <-r.done:
		case <-ctx.Done():
			return vol.RequestInProgress, ctx.Err()
		}
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-r.done:
		case <-t.C:
			return vol.RequestInProgress, nil
		case <-ctx.Done():
			return vol.RequestInProgress, ctx.Err()
		}
	}
	return r.result(), nil
}

func (requestOps) Notify(req any, fn func(vol.RequestStatus)) error {
	r, err := asRequest(req)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if !r.finished() {
		r.notify = append(r.notify, fn)
		r.mu.Unlock()
		return nil
	}
	status := r.status
	r.mu.Unlock()
	fn(status)
	return nil
}

// Cancel stops a running request and waits for it to wind down. A finished
// request cannot be canceled.
func (requestOps) Cancel(ctx context.Context, req any) (vol.RequestStatus, error) {
	r, err := asRequest(req)
	if err != nil {
		return vol.RequestCantCancel, err
	}
	if r.finished() {
		return vol.RequestCantCancel, nil
	}
	r.cancel()
	select {
	case <-r.done:
		return r.result(), nil
	case <-ctx.Done():
		return vol.RequestInProgress, ctx.Err()
	}
}

func (requestOps) Specific(_ context.Context, req any, args vol.RequestSpecific) error {
	r, err := asRequest(req)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch a := args.(type) {
	case *vol.RequestGetExecTime:
		if r.status.Terminal() {
			a.Elapsed = r.elapsed
		} else {
			a.Elapsed = time.Since(r.start)
		}
	case *vol.RequestGetErr:
		a.Err = r.err
	default:
		return fmt.Errorf("request operation %T: %w", args, utils.ErrUnsupported)
	}
	return nil
}

func (requestOps) Optional(_ context.Context, _ any, args *vol.OptionalArgs) error {
	return fmt.Errorf("request optional operation %d: %w", args.Op, utils.ErrUnsupported)
}

// Free releases a finished request.
func (requestOps) Free(req any) error {
	r, err := asRequest(req)
	if err != nil {
		return err
	}
	if !r.finished() {
		return fmt.Errorf("%s is still running: %w", r, utils.ErrInvalidArgument)
	}
	return nil
}
