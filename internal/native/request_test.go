package native

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5vol/internal/vol"
)

func TestRequest_NotifyRacesCompletion(t *testing.T) {
	ctx := context.Background()
	ops := requestOps{}

	for i := 0; i < 2000; i++ {
		async := vol.NewAsync()
		require.NoError(t, spawn(ctx, async, func(context.Context) error { return nil }))

		got := make(chan vol.RequestStatus, 1)
		require.NoError(t, ops.Notify(async.Token(), func(s vol.RequestStatus) { got <- s }))

		select {
		case s := <-got:
			require.Equal(t, vol.RequestSucceeded, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("request %d: notification lost", i)
		}
	}
}

func TestRequest_Lifecycle(t *testing.T) {
	ctx := context.Background()
	ops := requestOps{}

	t.Run("failure is recorded", func(t *testing.T) {
		boom := errors.New("boom")
		async := vol.NewAsync()
		require.NoError(t, spawn(ctx, async, func(context.Context) error { return boom }))

		status, err := ops.Wait(ctx, async.Token(), vol.WaitForever)
		require.NoError(t, err)
		assert.Equal(t, vol.RequestFailed, status)

		getErr := &vol.RequestGetErr{}
		require.NoError(t, ops.Specific(ctx, async.Token(), getErr))
		assert.ErrorIs(t, getErr.Err, boom)
		require.NoError(t, ops.Free(async.Token()))
	})

	t.Run("cancel stops a running request", func(t *testing.T) {
		started := make(chan struct{})
		async := vol.NewAsync()
		require.NoError(t, spawn(ctx, async, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}))
		<-started

		status, err := ops.Wait(ctx, async.Token(), 0)
		require.NoError(t, err)
		assert.Equal(t, vol.RequestInProgress, status)
		require.Error(t, ops.Free(async.Token()))

		status, err = ops.Cancel(ctx, async.Token())
		require.NoError(t, err)
		assert.Equal(t, vol.RequestCanceled, status)

		status, err = ops.Cancel(ctx, async.Token())
		require.NoError(t, err)
		assert.Equal(t, vol.RequestCantCancel, status)
		require.NoError(t, ops.Free(async.Token()))
	})
}
