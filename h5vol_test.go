package h5vol

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5vol/internal/config"
	"github.com/scigolib/h5vol/internal/filter"
	"github.com/scigolib/h5vol/internal/plugin"
)

type fixture struct {
	t   *testing.T
	ctx context.Context
	dir string
	rt  *Runtime
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	opts = append([]Option{WithPluginPath(t.TempDir())}, opts...)
	rt, err := New(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, rt.Close()) })
	return &fixture{t: t, ctx: ctx, dir: t.TempDir(), rt: rt}
}

func (fx *fixture) path(name string) string { return filepath.Join(fx.dir, name) }

func (fx *fixture) create(name string) *File {
	fx.t.Helper()
	f, err := fx.rt.CreateFile(fx.ctx, fx.path(name), CreateExclusive)
	require.NoError(fx.t, err)
	return f
}

func (fx *fixture) open(name string, mode OpenMode) *File {
	fx.t.Helper()
	f, err := fx.rt.OpenFile(fx.ctx, fx.path(name), mode)
	require.NoError(fx.t, err)
	return f
}

type closer interface {
	Close(ctx context.Context) error
}

func (fx *fixture) close(c closer) {
	fx.t.Helper()
	require.NoError(fx.t, c.Close(fx.ctx))
}

func (fx *fixture) exists(loc *Handle, name string) bool {
	fx.t.Helper()
	ok, err := loc.Exists(fx.ctx, name)
	require.NoError(fx.t, err)
	return ok
}

func int32s(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(v))
	}
	return out
}

func TestRuntime_Defaults(t *testing.T) {
	fx := newFixture(t)
	conns := fx.rt.Connectors()
	require.Len(t, conns, 2)
	assert.Equal(t, "native", conns[0].Name)
	assert.Equal(t, "pass_through_ext", conns[1].Name)
	assert.Equal(t, 517, conns[1].Value)
	assert.Equal(t, "native", fx.rt.DefaultConnector())

	var ids []uint16
	for _, f := range fx.rt.Filters() {
		ids = append(ids, f.ID)
	}
	assert.Subset(t, ids, []uint16{1, 2, 3, 32000})
	assert.True(t, fx.rt.PluginsEnabled())
	assert.False(t, fx.rt.FilterAvailable(fx.ctx, 999))
}

func TestRuntime_FileRoundTrip(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("data.h5")
	assert.Equal(t, "native", f.ConnectorName())

	_, err := fx.rt.CreateFile(fx.ctx, fx.path("data.h5"), CreateExclusive)
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = f.CreateGroup(fx.ctx, "/exp/run1")
	require.ErrorIs(t, err, ErrNotFound)
	g, err := f.CreateGroup(fx.ctx, "/exp/run1", WithParents())
	require.NoError(t, err)
	assert.Equal(t, "/exp/run1", g.Name())
	assert.Equal(t, f.ConnectorID(), g.ConnectorID())

	data := int32s(1, 2, 3, 4, 5, 6, 7, 8)
	d, err := g.CreateDataset(fx.ctx, "temps", Int32, []uint64{8}, WithChunk(3), WithShuffle(), WithDeflate(6))
	require.NoError(t, err)
	assert.Equal(t, "/exp/run1/temps", d.Name())
	require.NoError(t, d.Write(fx.ctx, data))
	fx.close(d)
	fx.close(g)
	require.NoError(t, f.Flush(fx.ctx))
	fx.close(f)
	require.ErrorIs(t, f.Close(fx.ctx), ErrInvalidArgument)

	ok, err := fx.rt.FileExists(fx.ctx, fx.path("data.h5"))
	require.NoError(t, err)
	assert.True(t, ok)

	ro := fx.open("data.h5", OpenReadOnly)
	_, err = ro.CreateGroup(fx.ctx, "other")
	require.Error(t, err)

	d, err = ro.OpenDataset(fx.ctx, "exp/run1/temps")
	require.NoError(t, err)
	size, err := d.Size(fx.ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), size)
	buf := make([]byte, size)
	require.NoError(t, d.Read(fx.ctx, buf))
	assert.Equal(t, data, buf)

	filters, err := d.Filters(fx.ctx)
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, "shuffle", filters[0].Name)
	assert.Equal(t, []uint32{4}, filters[0].Params, "element size is filled in")
	assert.Equal(t, "deflate", filters[1].Name)
	assert.True(t, filters[1].Optional)
	fx.close(d)
	fx.close(ro)

	require.NoError(t, fx.rt.DeleteFile(fx.ctx, fx.path("data.h5")))
	ok, err = fx.rt.FileExists(fx.ctx, fx.path("data.h5"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRuntime_Links(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("links.h5")
	g, err := f.CreateGroup(fx.ctx, "g")
	require.NoError(t, err)
	fx.close(g)

	require.NoError(t, f.CreateSoftLink(fx.ctx, "soft", "/g"))
	require.NoError(t, f.CreateSoftLink(fx.ctx, "dangling", "/missing"))
	require.NoError(t, f.CreateHardLink(fx.ctx, "hard", "g"))
	require.ErrorIs(t, f.CreateSoftLink(fx.ctx, "hard", "/g"), ErrAlreadyExists)

	assert.True(t, fx.exists(&f.Handle, "soft"))
	assert.False(t, fx.exists(&f.Handle, "dangling"))
	assert.False(t, fx.exists(&f.Handle, "nope/deeper"))
	linked, err := f.LinkExists(fx.ctx, "dangling")
	require.NoError(t, err)
	assert.True(t, linked)

	typ, err := f.TypeOf(fx.ctx, "soft")
	require.NoError(t, err)
	assert.Equal(t, TypeGroup, typ)

	links, err := f.Links(fx.ctx, "/", false)
	require.NoError(t, err)
	var names []string
	for _, l := range links {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"dangling", "g", "hard", "soft"}, names)
	assert.Equal(t, LinkSoft, links[0].Type)
	assert.Equal(t, LinkHard, links[1].Type)

	require.NoError(t, f.MoveLink(fx.ctx, "hard", "g/self"))
	assert.False(t, fx.exists(&f.Handle, "hard"))
	assert.True(t, fx.exists(&f.Handle, "g/self/self/self"))

	recursive, err := f.Links(fx.ctx, "", true)
	require.NoError(t, err)
	names = names[:0]
	for _, l := range recursive {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"dangling", "g", "g/self", "soft"}, names)

	require.NoError(t, f.DeleteLink(fx.ctx, "soft"))
	require.ErrorIs(t, f.DeleteLink(fx.ctx, "soft"), ErrNotFound)
	fx.close(f)
}

func TestRuntime_ExternalLinkAndMount(t *testing.T) {
	fx := newFixture(t)
	b := fx.create("b.h5")
	g, err := b.CreateGroup(fx.ctx, "x/y", WithParents())
	require.NoError(t, err)
	fx.close(g)

	a := fx.create("a.h5")
	require.NoError(t, a.CreateExternalLink(fx.ctx, "ext", fx.path("b.h5"), "/x"))
	require.NoError(t, a.CreateExternalLink(fx.ctx, "broken", fx.path("none.h5"), "/x"))
	assert.True(t, fx.exists(&a.Handle, "ext/y"))
	assert.False(t, fx.exists(&a.Handle, "broken"))

	ext, err := a.OpenGroup(fx.ctx, "ext")
	require.NoError(t, err)
	assert.True(t, fx.exists(&ext.Handle, "y"))
	fx.close(ext)

	mnt, err := a.CreateGroup(fx.ctx, "mnt")
	require.NoError(t, err)
	fx.close(mnt)
	require.NoError(t, a.Mount(fx.ctx, "mnt", b))
	assert.True(t, fx.exists(&a.Handle, "mnt/x/y"))
	require.ErrorIs(t, a.Mount(fx.ctx, "mnt", nil), ErrInvalidArgument)
	require.NoError(t, a.Unmount(fx.ctx, "mnt"))
	assert.False(t, fx.exists(&a.Handle, "mnt/x"))

	same, err := a.SameFile(fx.ctx, b)
	require.NoError(t, err)
	assert.False(t, same)

	fx.close(a)
	fx.close(b)
}

func TestRuntime_LinkQuota(t *testing.T) {
	cfg := config.Default()
	cfg.Link.NLinks = 1
	fx := newFixture(t, WithConfig(cfg))
	f := fx.create("quota.h5")
	g, err := f.CreateGroup(fx.ctx, "g")
	require.NoError(t, err)
	fx.close(g)
	require.NoError(t, f.CreateSoftLink(fx.ctx, "s2", "/g"))
	require.NoError(t, f.CreateSoftLink(fx.ctx, "s1", "/s2"))

	assert.True(t, fx.exists(&f.Handle, "s2"))
	_, err = f.Exists(fx.ctx, "s1")
	require.ErrorIs(t, err, ErrTooManyLinks, "the quota is not swallowed by existence checks")
	_, err = f.OpenGroup(fx.ctx, "s1")
	require.ErrorIs(t, err, ErrTooManyLinks)
	fx.close(f)
}

func TestRuntime_AsyncWrite(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("async.h5")
	d, err := f.CreateDataset(fx.ctx, "d", Int32, []uint64{4}, WithChunk(2))
	require.NoError(t, err)

	data := int32s(9, 8, 7, 6)
	req, err := d.WriteAsync(fx.ctx, data)
	require.NoError(t, err)
	require.NoError(t, req.Wait(fx.ctx))
	done, err := req.Done(fx.ctx)
	require.NoError(t, err)
	assert.True(t, done)

	buf := make([]byte, len(data))
	require.NoError(t, d.Read(fx.ctx, buf))
	assert.Equal(t, data, buf)

	req, err = d.WriteAsync(fx.ctx, make([]byte, 3))
	require.NoError(t, err)
	require.ErrorIs(t, req.Wait(fx.ctx), ErrInvalidArgument)
	require.ErrorIs(t, req.Wait(fx.ctx), ErrInvalidArgument, "the result is kept")

	fx.close(d)
	fx.close(f)
}

func TestRuntime_CancelWrite(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("cancel.h5")
	d, err := f.CreateDataset(fx.ctx, "d", Int32, []uint64{4}, WithChunk(2))
	require.NoError(t, err)

	data := int32s(1, 2, 3, 4)
	req, err := d.WriteAsync(fx.ctx, data)
	require.NoError(t, err)
	err = req.Cancel(fx.ctx)
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	} else {
		buf := make([]byte, len(data))
		require.NoError(t, d.Read(fx.ctx, buf))
		assert.Equal(t, data, buf, "a write that won the race is kept")
	}
	assert.Equal(t, err, req.Wait(fx.ctx))
	done, derr := req.Done(fx.ctx)
	require.NoError(t, derr)
	assert.True(t, done)

	req, err = d.WriteAsync(fx.ctx, make([]byte, 3))
	require.NoError(t, err)
	require.ErrorIs(t, req.Wait(fx.ctx), ErrInvalidArgument)
	require.ErrorIs(t, req.Cancel(fx.ctx), ErrInvalidArgument, "a finished request keeps its result")

	fx.close(d)
	fx.close(f)
}

func TestRuntime_ExtentAndChecksums(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("extent.h5")
	d, err := f.CreateDataset(fx.ctx, "d", Int32, []uint64{2}, WithChunk(2), WithMaxDims(Unlimited), WithFletcher32())
	require.NoError(t, err)
	require.NoError(t, d.Write(fx.ctx, int32s(1, 2)))
	require.NoError(t, d.SetExtent(fx.ctx, 4))

	dims, err := d.Dims(fx.ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, dims)
	typ, err := d.Type(fx.ctx)
	require.NoError(t, err)
	assert.Equal(t, Int32, typ)

	buf := make([]byte, 16)
	require.NoError(t, d.ReadUnchecked(fx.ctx, buf))
	assert.Equal(t, int32s(1, 2, 0, 0), buf)
	stored, err := d.StorageSize(fx.ctx)
	require.NoError(t, err)
	assert.Positive(t, stored)

	_, err = f.CreateDataset(fx.ctx, "bad", Datatype{}, []uint64{1})
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.CreateDataset(fx.ctx, "bad", Int32, []uint64{1}, WithDeflate(12))
	require.ErrorIs(t, err, ErrInvalidArgument)

	fx.close(d)
	fx.close(f)
}

func TestRuntime_PassThroughDefault(t *testing.T) {
	fx := newFixture(t, WithConnector("pass_through_ext under_vol=0;under_info={}"))
	assert.Equal(t, "pass_through_ext under_vol=0;under_info={}", fx.rt.DefaultConnector())

	f := fx.create("pt.h5")
	assert.Equal(t, "pass_through_ext", f.ConnectorName())
	d, err := f.CreateDataset(fx.ctx, "a/d", Int32, []uint64{2}, WithParentGroups())
	require.NoError(t, err)
	assert.Equal(t, "pass_through_ext", d.ConnectorName())
	require.NoError(t, d.Write(fx.ctx, int32s(5, 6)))

	req, err := d.WriteAsync(fx.ctx, int32s(7, 8))
	require.NoError(t, err)
	require.NoError(t, req.Wait(fx.ctx))
	buf := make([]byte, 8)
	require.NoError(t, d.Read(fx.ctx, buf))
	assert.Equal(t, int32s(7, 8), buf)

	fx.close(d)
	fx.close(f)
}

func TestRuntime_UserDefinedLinks(t *testing.T) {
	alias := LinkClass{
		Type: 90,
		Name: "alias",
		Traverse: func(ctx context.Context, _ string, cur *Group, data []byte) (*Group, error) {
			return cur.OpenGroup(ctx, string(data))
		},
		Validate: func(_ string, data []byte) error {
			if len(data) == 0 {
				return errors.New("alias needs a target")
			}
			return nil
		},
	}
	fx := newFixture(t, WithLinkClass(alias))
	f := fx.create("ud.h5")
	g, err := f.CreateGroup(fx.ctx, "target")
	require.NoError(t, err)
	fx.close(g)

	require.NoError(t, f.CreateUDLink(fx.ctx, "a", 90, []byte("/target")))
	require.Error(t, f.CreateUDLink(fx.ctx, "b", 90, nil))
	require.ErrorIs(t, f.CreateUDLink(fx.ctx, "c", 91, []byte("x")), ErrNotFound)
	assert.True(t, fx.exists(&f.Handle, "a"))

	g, err = f.OpenGroup(fx.ctx, "a")
	require.NoError(t, err)
	fx.close(g)

	require.NoError(t, fx.rt.UnregisterLinkClass(90))
	assert.False(t, fx.exists(&f.Handle, "a"))
	require.ErrorIs(t, fx.rt.RegisterLinkClass(LinkClass{Type: 92}), ErrInvalidArgument)
	fx.close(f)
}

// xorCodec is a filter served from the plugin path.
type xorCodec struct{}

func (xorCodec) ID() filter.ID { return 400 }
func (xorCodec) Name() string  { return "xor" }

func (xorCodec) key(p []uint32) byte {
	if len(p) == 0 {
		return 0
	}
	return byte(p[0])
}

func (c xorCodec) Apply(params []uint32, data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ c.key(params)
	}
	return out, nil
}

func (c xorCodec) Remove(params []uint32, data []byte) ([]byte, error) {
	return c.Apply(params, data)
}

type provider struct {
	kind plugin.Kind
	info any
}

func (p provider) PluginKind() plugin.Kind { return p.kind }
func (p provider) PluginInfo() any         { return p.info }

type module struct{ p plugin.Provider }

func (m module) Lookup(symbol string) (any, error) {
	if symbol != plugin.Symbol {
		return nil, errors.New("no such symbol")
	}
	return m.p, nil
}

type opener map[string]plugin.Module

func (o opener) Open(path string) (plugin.Module, error) {
	m, ok := o[path]
	if !ok {
		return nil, errors.New("not a plugin")
	}
	return m, nil
}

func TestRuntime_FilterPlugin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xor.so")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	op := opener{path: module{provider{kind: plugin.KindFilter, info: xorCodec{}}}}

	fx := newFixture(t, WithPluginPath(dir), WithPluginOpener(op))
	assert.Equal(t, []string{dir}, fx.rt.PluginPath())
	f := fx.create("plugin.h5")
	d, err := f.CreateDataset(fx.ctx, "d", Uint8, []uint64{4}, WithFilter(400, false, 0x5a))
	require.NoError(t, err)
	require.NoError(t, d.Write(fx.ctx, []byte{1, 2, 3, 4}))
	buf := make([]byte, 4)
	require.NoError(t, d.Read(fx.ctx, buf))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)

	filters, err := d.Filters(fx.ctx)
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, "xor", filters[0].Name)
	assert.Equal(t, []uint32{0x5a}, filters[0].Params)
	assert.True(t, fx.rt.FilterAvailable(fx.ctx, 400))

	other := t.TempDir()
	require.NoError(t, fx.rt.PrependPluginPath(other))
	require.NoError(t, fx.rt.AppendPluginPath(filepath.Join(other, "late")))
	assert.Equal(t, []string{other, dir, filepath.Join(other, "late")}, fx.rt.PluginPath())

	fx.close(d)
	fx.close(f)
}

func TestRuntime_NewErrors(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, WithConnector("nosuch"), WithPluginPath(t.TempDir()))
	require.ErrorIs(t, err, ErrNotFound)

	disabled := config.Default()
	disabled.Plugin.Preload = plugin.NoPlugins
	_, err = New(ctx, WithConfig(disabled), WithConnector("nosuch"))
	require.ErrorIs(t, err, ErrUnavailable)

	bad := config.Default()
	bad.Link.NLinks = 0
	_, err = New(ctx, WithConfig(bad))
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(ctx, WithConnector("pass_through_ext under_vol=banana"), WithPluginPath(t.TempDir()))
	require.ErrorIs(t, err, ErrInvalidArgument)
}
