package group

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
)

func memFile(name string) *File {
	return NewFile(name, storage.NewMemStore())
}

func TestMount_Substitution(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()

	f1, f2 := memFile("f1.h5"), memFile("f2.h5")
	f1Root, f2Root := f1.Root(), f2.Root()
	defer f1Root.Free()
	defer f2Root.Free()

	x := mkgroupIn(t, e, f1Root, "/x")
	mnt := mkgroupIn(t, e, f2Root, "/mnt")
	mkgroupIn(t, e, f2Root, "/mnt/hidden")

	require.NoError(t, e.Mount(ctx, f2Root, "/mnt", f1, false, nil))
	assert.Equal(t, f2, f1.Parent())
	require.Len(t, f2.Mounts(), 1)
	assert.Equal(t, mnt, f2.Mounts()[0].Addr)

	obj, err := e.Find(ctx, f2Root, "/mnt/x", nil)
	require.NoError(t, err)
	assert.Equal(t, x, obj.Addr())
	assert.Same(t, f1, obj.File())
	require.NoError(t, obj.Free())

	// The mounted root hides the mount point's own links.
	ok, err := e.ObjectExists(ctx, f2Root, "/mnt/hidden", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// Absolute names inside the child start at the top of the mount tree.
	obj, err = e.Find(ctx, f1Root, "/mnt/x", nil)
	require.NoError(t, err)
	assert.Same(t, f1, obj.File())
	require.NoError(t, obj.Free())

	// TargetMount stops at the mount point itself.
	err = e.Traverse(ctx, f2Root, "/mnt", TargetMount, nil, func(_ context.Context, v *Visit) error {
		assert.Same(t, f2, v.Object.File())
		assert.Equal(t, mnt, v.Object.Addr())
		return nil
	})
	require.NoError(t, err)

	mkgroupIn(t, e, f2Root, "/other")
	require.ErrorIs(t, e.Mount(ctx, f2Root, "/other", f1, false, nil), utils.ErrAlreadyExists)

	require.NoError(t, e.Unmount(ctx, f2Root, "/mnt", nil))
	assert.Nil(t, f1.Parent())
	ok, err = e.ObjectExists(ctx, f2Root, "/mnt/x", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.ObjectExists(ctx, f2Root, "/mnt/hidden", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	require.ErrorIs(t, e.Unmount(ctx, f2Root, "/mnt", nil), utils.ErrNotFound)
}

func TestMount_Validation(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	parent, child := memFile("p.h5"), memFile("c.h5")
	pRoot, cRoot := parent.Root(), child.Root()
	defer pRoot.Free()
	defer cRoot.Free()

	mkgroupIn(t, e, pRoot, "/m")
	mkgroupIn(t, e, cRoot, "/back")
	ds, err := parent.Store().CreateObject(ctx, core.ObjectDataset)
	require.NoError(t, err)
	require.NoError(t, e.CreateLink(ctx, pRoot, "/ds", core.NewHardLink("", ds), TargetNormal, nil))

	require.ErrorIs(t, e.Mount(ctx, pRoot, "/ds", child, false, nil), utils.ErrInvalidArgument)
	require.ErrorIs(t, e.Mount(ctx, pRoot, "/m", parent, false, nil), utils.ErrInvalidArgument)

	require.NoError(t, e.Mount(ctx, pRoot, "/m", child, false, nil))
	// Mounting the parent under its own child would loop.
	require.ErrorIs(t, e.Mount(ctx, cRoot, "back", parent, false, nil), utils.ErrInvalidArgument)
}

func TestMount_DepthBound(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()

	files := make([]*File, MaxMountDepth+3)
	for i := range files {
		files[i] = memFile("f.h5")
	}
	top := files[0].Root()
	defer top.Free()
	mkgroupIn(t, e, top, "/m")

	// Each file is mounted on the root of the previous one, all reachable at /m.
	require.NoError(t, e.Mount(ctx, top, "/m", files[1], false, nil))
	var err error
	for i := 2; i < len(files); i++ {
		err = e.Mount(ctx, top, "/m", files[i], false, nil)
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, utils.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "nested mounts")
}

func TestFile_HoldsAndClose(t *testing.T) {
	f := memFile("f.h5")
	closed := 0
	f.OnClose(func(*File) { closed++ })

	root := f.Root()
	clone := root.Clone()
	moved := clone.Move()
	assert.False(t, clone.Valid())
	assert.Equal(t, 2, f.Holds())

	require.NoError(t, f.Close())
	assert.True(t, f.Closing())
	assert.False(t, f.Closed())

	require.NoError(t, root.Free())
	require.NoError(t, root.Free())
	assert.Equal(t, 0, closed)
	require.NoError(t, moved.Free())
	assert.True(t, f.Closed())
	assert.Equal(t, 1, closed)

	require.ErrorIs(t, f.Release(), utils.ErrInvalidArgument)
	require.ErrorIs(t, f.Reopen(), utils.ErrInvalidArgument)
}
