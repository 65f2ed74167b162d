package storage

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/utils"
)

// exerciseStore runs the behaviour every Store must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	root := s.Root()
	require.True(t, root.Defined())

	typ, err := s.ObjectType(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, core.ObjectGroup, typ)

	var gi core.GroupInfo
	require.NoError(t, s.ReadMessage(ctx, root, core.MsgGroupInfo, &gi))
	assert.Equal(t, core.DefaultGroupInfo(), gi)

	// Links.
	ds, err := s.CreateObject(ctx, core.ObjectDataset)
	require.NoError(t, err)
	require.NoError(t, s.InsertLink(ctx, root, core.NewHardLink("data", ds)))
	require.NoError(t, s.InsertLink(ctx, root, core.NewSoftLink("alias", "/data")))
	err = s.InsertLink(ctx, root, core.NewHardLink("data", ds))
	require.ErrorIs(t, err, utils.ErrAlreadyExists)

	l, err := s.LookupLink(ctx, root, "alias")
	require.NoError(t, err)
	assert.Equal(t, core.LinkTypeSoft, l.Type)
	assert.Equal(t, "/data", l.Target)

	links, err := s.Links(ctx, root)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "alias", links[0].Name)
	assert.Equal(t, "data", links[1].Name)

	_, err = s.LookupLink(ctx, root, "missing")
	require.ErrorIs(t, err, utils.ErrNotFound)
	_, err = s.LookupLink(ctx, ds, "x")
	require.ErrorIs(t, err, utils.ErrInvalidArgument)

	require.NoError(t, s.RemoveLink(ctx, root, "alias"))
	require.ErrorIs(t, s.RemoveLink(ctx, root, "alias"), utils.ErrNotFound)

	// Messages.
	space := core.Dataspace{Dims: []uint64{4, 5}}
	require.NoError(t, s.WriteMessage(ctx, ds, core.MsgDataspace, space))
	var got core.Dataspace
	require.NoError(t, s.ReadMessage(ctx, ds, core.MsgDataspace, &got))
	assert.Equal(t, space.Dims, got.Dims)
	keys, err := s.Messages(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, []core.MsgKey{core.MsgDataspace}, keys)
	require.NoError(t, s.DeleteMessage(ctx, ds, core.MsgDataspace))
	require.ErrorIs(t, s.ReadMessage(ctx, ds, core.MsgDataspace, &got), utils.ErrNotFound)

	// Chunks.
	require.NoError(t, s.WriteChunk(ctx, ds, 3, core.Chunk{Mask: 2, Size: 4, Data: []byte{1, 2, 3, 4}}))
	c, err := s.ReadChunk(ctx, ds, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), c.Mask)
	assert.Equal(t, []byte{1, 2, 3, 4}, c.Data)
	_, err = s.ReadChunk(ctx, ds, 0)
	require.ErrorIs(t, err, utils.ErrNotFound)

	// Blobs.
	id, err := s.PutBlob(ctx, []byte("blob"))
	require.NoError(t, err)
	b, err := s.GetBlob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), b)
	require.NoError(t, s.DeleteBlob(ctx, id))
	_, err = s.GetBlob(ctx, id)
	require.ErrorIs(t, err, utils.ErrNotFound)
	require.ErrorIs(t, s.DeleteBlob(ctx, uuid.New()), utils.ErrNotFound)

	// Objects.
	require.NoError(t, s.DeleteObject(ctx, ds))
	_, err = s.ObjectType(ctx, ds)
	require.ErrorIs(t, err, utils.ErrObjectNotFound)
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	exerciseStore(t, s)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestMemStore_ImagePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "f.h5")

	s, err := OpenImage(path, Create)
	require.NoError(t, err)
	g, err := s.CreateObject(ctx, core.ObjectGroup)
	require.NoError(t, err)
	require.NoError(t, s.InsertLink(ctx, s.Root(), core.NewHardLink("g", g)))
	require.NoError(t, s.InsertLink(ctx, g, core.NewExternalLink("ext", "other.h5", "/x")))
	require.NoError(t, s.Close())

	_, err = OpenImage(path, Create)
	require.ErrorIs(t, err, utils.ErrAlreadyExists)

	ro, err := OpenImage(path, ReadOnly)
	require.NoError(t, err)
	l, err := ro.LookupLink(ctx, ro.Root(), "g")
	require.NoError(t, err)
	assert.Equal(t, g, l.Addr)
	ext, err := ro.LookupLink(ctx, g, "ext")
	require.NoError(t, err)
	assert.Equal(t, "other.h5", ext.ExtFile)

	_, err = ro.CreateObject(ctx, core.ObjectGroup)
	require.ErrorIs(t, err, utils.ErrInvalidArgument)
	size, err := ro.Size(ctx)
	require.NoError(t, err)
	assert.Positive(t, size)
	require.NoError(t, ro.Close())

	tr, err := OpenImage(path, Truncate)
	require.NoError(t, err)
	links, err := tr.Links(ctx, tr.Root())
	require.NoError(t, err)
	assert.Empty(t, links)
	require.NoError(t, tr.Close())

	_, err = OpenImage(filepath.Join(t.TempDir(), "missing.h5"), ReadWrite)
	require.ErrorIs(t, err, utils.ErrNotFound)
}

func TestRedisStore_Integration(t *testing.T) {
	redisAddr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second)
	if err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}
	_ = conn.Close()

	ctx := context.Background()
	cfg := RedisConfig{
		URL:  fmt.Sprintf("redis://%s/0", redisAddr),
		Name: "test-" + uuid.NewString(),
		Mode: Create,
	}
	s, err := NewRedisStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.drop(context.Background())
		_ = s.Close()
	})
	exerciseStore(t, s)

	cfg.Mode = ReadOnly
	ro, err := NewRedisStore(ctx, cfg)
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, s.Root(), ro.Root())
	_, err = ro.CreateObject(ctx, core.ObjectGroup)
	require.ErrorIs(t, err, utils.ErrInvalidArgument)

	cfg.Mode = Create
	_, err = NewRedisStore(ctx, cfg)
	require.ErrorIs(t, err, utils.ErrAlreadyExists)
}
