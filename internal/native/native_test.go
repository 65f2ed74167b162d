package native

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/filter"
	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

var self = vol.Self(vol.ObjGroup)

type fixture struct {
	t    *testing.T
	ctx  context.Context
	dir  string
	n    *Native
	fapl *plist.List
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	n := New(opts...)
	reg := vol.NewRegistry()
	id, err := reg.Register(n.Class(), nil)
	require.NoError(t, err)
	conn, err := reg.Get(id)
	require.NoError(t, err)
	fapl := plist.New(plist.FileAccess)
	require.NoError(t, vol.SetConnectorProp(fapl, &vol.ConnectorProp{Conn: conn}))
	t.Cleanup(func() {
		assert.NoError(t, fapl.Close())
		assert.NoError(t, reg.Close())
	})
	return &fixture{t: t, ctx: context.Background(), dir: t.TempDir(), n: n, fapl: fapl}
}

func (fx *fixture) path(name string) string { return filepath.Join(fx.dir, name) }

func (fx *fixture) create(name string) *vol.Object {
	fx.t.Helper()
	f, err := vol.FileCreate(fx.ctx, fx.path(name), vol.FileExclusive, nil, fx.fapl, nil)
	require.NoError(fx.t, err)
	return f
}

func (fx *fixture) open(name string, flags vol.FileFlags) *vol.Object {
	fx.t.Helper()
	f, err := vol.FileOpen(fx.ctx, fx.path(name), flags, fx.fapl, nil)
	require.NoError(fx.t, err)
	return f
}

func (fx *fixture) close(o *vol.Object) {
	fx.t.Helper()
	require.NoError(fx.t, o.Close(fx.ctx, nil))
}

func (fx *fixture) mkgroup(loc *vol.Object, name string) {
	fx.t.Helper()
	g, err := loc.GroupCreate(fx.ctx, self, name, intermediate(fx.t), nil, nil, nil)
	require.NoError(fx.t, err)
	fx.close(g)
}

func (fx *fixture) dataset(loc *vol.Object, name string, chunk uint64, data ...int32) *vol.Object {
	fx.t.Helper()
	dcpl := plist.New(plist.DatasetCreate)
	require.NoError(fx.t, dcpl.Set(plist.ChunkElems, chunk))
	space := core.Dataspace{Dims: []uint64{uint64(len(data))}}
	d, err := loc.DatasetCreate(fx.ctx, self, name, intermediate(fx.t), int32Type, space, dcpl, nil, nil)
	require.NoError(fx.t, err)
	require.NoError(fx.t, d.DatasetWrite(fx.ctx, int32s(data...), nil, nil))
	return d
}

func (fx *fixture) read(d *vol.Object, size int) []byte {
	fx.t.Helper()
	buf := make([]byte, size)
	require.NoError(fx.t, d.DatasetRead(fx.ctx, buf, nil, nil))
	return buf
}

func intermediate(t *testing.T) *plist.List {
	t.Helper()
	l := plist.New(plist.LinkCreate)
	require.NoError(t, l.Set(plist.CreateIntermediate, true))
	return l
}

var int32Type = core.Datatype{Class: core.ClassInteger, Size: 4, Signed: true}

func int32s(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(v))
	}
	return out
}

func byName(name string) vol.LocParams { return vol.ByName(vol.ObjGroup, name, nil) }

func TestNative_FileLifecycle(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("a.h5")

	_, err := f.GroupCreate(fx.ctx, self, "x/y", nil, nil, nil, nil)
	require.ErrorIs(t, err, utils.ErrNotFound)
	fx.mkgroup(f, "x/y")

	err = vol.FileDelete(fx.ctx, fx.path("a.h5"), fx.fapl)
	require.ErrorIs(t, err, utils.ErrInvalidArgument)
	fx.close(f)
	assert.Empty(t, fx.n.OpenFiles())

	ok, err := vol.FileIsAccessible(fx.ctx, fx.path("a.h5"), fx.fapl)
	require.NoError(t, err)
	assert.True(t, ok)

	ro := fx.open("a.h5", vol.FileReadOnly)
	g, err := ro.GroupOpen(fx.ctx, self, "/x/y", nil, nil)
	require.NoError(t, err)
	fx.close(g)
	_, err = ro.GroupCreate(fx.ctx, self, "z", nil, nil, nil, nil)
	require.Error(t, err)

	intent := &vol.FileGetIntent{}
	require.NoError(t, ro.FileGet(fx.ctx, intent, nil))
	assert.False(t, intent.Flags.Writable())
	fx.close(ro)

	require.NoError(t, vol.FileDelete(fx.ctx, fx.path("a.h5"), fx.fapl))
	ok, err = vol.FileIsAccessible(fx.ctx, fx.path("a.h5"), fx.fapl)
	require.NoError(t, err)
	assert.False(t, ok)
	require.ErrorIs(t, vol.FileDelete(fx.ctx, fx.path("a.h5"), fx.fapl), utils.ErrNotFound)
}

func TestNative_SharedOpen(t *testing.T) {
	fx := newFixture(t)
	f1 := fx.create("s.h5")
	f2 := fx.open("s.h5", vol.FileReadWrite)

	var n1, n2 vol.FileGetFileno
	require.NoError(t, f1.FileGet(fx.ctx, &n1, nil))
	require.NoError(t, f2.FileGet(fx.ctx, &n2, nil))
	assert.Equal(t, n1.Fileno, n2.Fileno)

	eq := &vol.FileIsEqual{Other: f2}
	require.NoError(t, f1.FileSpecific(fx.ctx, eq, nil))
	assert.True(t, eq.Equal)

	_, err := vol.FileCreate(fx.ctx, fx.path("s.h5"), vol.FileExclusive, nil, fx.fapl, nil)
	require.ErrorIs(t, err, utils.ErrAlreadyExists)
	_, err = vol.FileCreate(fx.ctx, fx.path("s.h5"), vol.FileTruncate, nil, fx.fapl, nil)
	require.ErrorIs(t, err, utils.ErrInvalidArgument)

	g, err := f1.GroupCreate(fx.ctx, self, "g", nil, nil, nil, nil)
	require.NoError(t, err)

	all := &vol.FileGetObjCount{}
	require.NoError(t, f2.FileGet(fx.ctx, all, nil))
	assert.Equal(t, 3, all.Count)
	groups := &vol.FileGetObjCount{Types: []vol.ObjectType{vol.ObjGroup}}
	require.NoError(t, f2.FileGet(fx.ctx, groups, nil))
	assert.Equal(t, 1, groups.Count)

	reopen := &vol.FileReopen{}
	require.NoError(t, f1.FileSpecific(fx.ctx, reopen, nil))
	f3, ok := reopen.File.(*vol.Object)
	require.True(t, ok)

	fx.close(f1)
	fx.close(f2)
	assert.Len(t, fx.n.OpenFiles(), 1)
	fx.close(f3)
	assert.Len(t, fx.n.OpenFiles(), 1, "an open group keeps the file")
	fx.close(g)
	assert.Empty(t, fx.n.OpenFiles())
}

func TestNative_DatasetRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		chunk uint64
		set   func(c *filter.Chain) error
	}{
		{name: "contiguous"},
		{name: "chunked", chunk: 3},
		{name: "deflate", chunk: 4, set: func(c *filter.Chain) error { return c.SetDeflate(6) }},
		{name: "shuffle and deflate", chunk: 4, set: func(c *filter.Chain) error {
			if err := c.SetShuffle(); err != nil {
				return err
			}
			return c.SetDeflate(1)
		}},
		{name: "fletcher32", chunk: 5, set: (*filter.Chain).SetFletcher32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			f := fx.create("d.h5")
			dcpl := plist.New(plist.DatasetCreate)
			require.NoError(t, dcpl.Set(plist.ChunkElems, tt.chunk))
			if tt.set != nil {
				require.NoError(t, filter.ModifyChain(dcpl, tt.set))
			}
			space := core.Dataspace{Dims: []uint64{10}}
			d, err := f.DatasetCreate(fx.ctx, self, "data", nil, int32Type, space, dcpl, nil, nil)
			require.NoError(t, err)

			data := int32s(1, -2, 3, -4, 5, -6, 7, -8, 9, -10)
			require.NoError(t, d.DatasetWrite(fx.ctx, data, nil, nil))
			assert.Equal(t, data, fx.read(d, len(data)))
			require.ErrorIs(t, d.DatasetRead(fx.ctx, make([]byte, 4), nil, nil), utils.ErrInvalidArgument)

			size := &vol.DatasetGetStorageSize{}
			require.NoError(t, d.DatasetGet(fx.ctx, size, nil))
			assert.NotZero(t, size.Size)
			fx.close(d)

			d, err = f.DatasetOpen(fx.ctx, self, "data", nil, nil)
			require.NoError(t, err)
			assert.Equal(t, data, fx.read(d, len(data)))

			got := &vol.DatasetGetDCPL{}
			require.NoError(t, d.DatasetGet(fx.ctx, got, nil))
			assert.Equal(t, tt.chunk, plist.Uint64(got.DCPL, plist.ChunkElems, 99))
			chain, err := filter.GetChain(got.DCPL)
			require.NoError(t, err)
			want, err := filter.GetChain(dcpl)
			require.NoError(t, err)
			assert.Equal(t, want.Len(), chain.Len())
			require.NoError(t, got.DCPL.Close())

			fx.close(d)
			fx.close(f)
		})
	}
}

func TestNative_SetExtent(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("ext.h5")
	dcpl := plist.New(plist.DatasetCreate)
	require.NoError(t, dcpl.Set(plist.ChunkElems, uint64(3)))
	space := core.Dataspace{Dims: []uint64{2, 3}, MaxDims: []uint64{core.Unlimited, 3}}
	d, err := f.DatasetCreate(fx.ctx, self, "grid", nil, int32Type, space, dcpl, nil, nil)
	require.NoError(t, err)
	require.NoError(t, d.DatasetWrite(fx.ctx, int32s(1, 2, 3, 4, 5, 6), nil, nil))

	extend := func(dims ...uint64) error {
		return d.DatasetSpecific(fx.ctx, &vol.DatasetSetExtent{Dims: dims}, nil)
	}
	require.NoError(t, extend(3, 3))
	assert.Equal(t, int32s(1, 2, 3, 4, 5, 6, 0, 0, 0), fx.read(d, 36))
	require.NoError(t, extend(1, 3))
	assert.Equal(t, int32s(1, 2, 3), fx.read(d, 12))
	require.NoError(t, extend(2, 3))
	assert.Equal(t, int32s(1, 2, 3, 0, 0, 0), fx.read(d, 24))

	require.ErrorIs(t, extend(2, 4), utils.ErrInvalidArgument)
	require.ErrorIs(t, extend(2), utils.ErrInvalidArgument)

	got := &vol.DatasetGetSpace{}
	require.NoError(t, d.DatasetGet(fx.ctx, got, nil))
	assert.Equal(t, []uint64{2, 3}, got.Space.Dims)

	info := &ChunkInfo{Index: 1}
	require.NoError(t, d.DatasetOptional(fx.ctx, &vol.OptionalArgs{Op: OptChunkInfo, Args: info}, nil))
	assert.Equal(t, uint64(12), info.Size)
	fx.close(d)
	fx.close(f)
}

func TestCopyOverlap(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6}
	dst := make([]byte, 8)
	copyOverlap(dst, []uint64{2, 4}, src, []uint64{3, 2}, 1)
	assert.Equal(t, []byte{1, 2, 0, 0, 3, 4, 0, 0}, dst)

	dst = make([]byte, 2)
	copyOverlap(dst, []uint64{2}, src, []uint64{6}, 1)
	assert.Equal(t, []byte{1, 2}, dst)
}

func TestNative_Attributes(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("attr.h5")
	space := core.Dataspace{Dims: []uint64{2}}

	a, err := f.AttrCreate(fx.ctx, self, "units", int32Type, space, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, a.AttrWrite(fx.ctx, int32s(7, 8), nil))
	_, err = f.AttrCreate(fx.ctx, self, "units", int32Type, space, nil, nil, nil)
	require.ErrorIs(t, err, utils.ErrAlreadyExists)

	buf := make([]byte, 8)
	require.NoError(t, a.AttrRead(fx.ctx, buf, nil))
	assert.Equal(t, int32s(7, 8), buf)
	name := &vol.AttrGetName{}
	require.NoError(t, a.AttrGet(fx.ctx, name, nil))
	assert.Equal(t, "units", name.Name)
	fx.close(a)

	b, err := f.AttrCreate(fx.ctx, self, "alpha", int32Type, space, nil, nil, nil)
	require.NoError(t, err)
	fx.close(b)

	var names []string
	it := &vol.AttrIterate{Fn: func(name string, _ vol.AttrInfo) error {
		names = append(names, name)
		return nil
	}}
	require.NoError(t, f.AttrSpecific(fx.ctx, self, it, nil))
	assert.Equal(t, []string{"alpha", "units"}, names)

	require.NoError(t, f.AttrSpecific(fx.ctx, self, &vol.AttrRename{Old: "units", New: "meters"}, nil))
	exists := &vol.AttrExists{Name: "units"}
	require.NoError(t, f.AttrSpecific(fx.ctx, self, exists, nil))
	assert.False(t, exists.Exists)

	info := &vol.AttrGetInfo{Loc: self, Name: "meters"}
	require.NoError(t, f.AttrGet(fx.ctx, info, nil))
	assert.Equal(t, uint64(8), info.Info.DataSize)

	require.NoError(t, f.AttrSpecific(fx.ctx, self, &vol.AttrDelete{Name: "alpha"}, nil))
	require.ErrorIs(t, f.AttrSpecific(fx.ctx, self, &vol.AttrDelete{Name: "alpha"}, nil), utils.ErrNotFound)
	fx.close(f)
}

func TestNative_Links(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("links.h5")
	fx.mkgroup(f, "g")

	mklink := func(name string, args vol.LinkCreate) error {
		return f.LinkCreate(fx.ctx, args, byName(name), nil, nil, nil)
	}
	require.NoError(t, mklink("soft", &vol.LinkCreateSoft{Target: "/g"}))
	require.NoError(t, mklink("dangling", &vol.LinkCreateSoft{Target: "/missing"}))
	require.NoError(t, mklink("hard", &vol.LinkCreateHard{TargetLoc: byName("g")}))
	require.ErrorIs(t, mklink("hard", &vol.LinkCreateSoft{Target: "/g"}), utils.ErrAlreadyExists)

	linkExists := func(name string) bool {
		a := &vol.LinkExists{}
		require.NoError(t, f.LinkSpecific(fx.ctx, byName(name), a, nil))
		return a.Exists
	}
	objectExists := func(name string) bool {
		a := &vol.ObjectExists{}
		require.NoError(t, f.ObjectSpecific(fx.ctx, byName(name), a, nil))
		return a.Exists
	}
	assert.True(t, linkExists("dangling"))
	assert.False(t, objectExists("dangling"))
	assert.True(t, objectExists("soft"))
	assert.False(t, linkExists("nope/deeper"))

	lookup := func(name string) core.Token {
		a := &vol.ObjectLookup{}
		require.NoError(t, f.ObjectSpecific(fx.ctx, byName(name), a, nil))
		return a.Token
	}
	assert.Equal(t, lookup("g"), lookup("hard"))
	assert.Equal(t, lookup("g"), lookup("soft"))

	value := &vol.LinkGetValue{}
	require.NoError(t, f.LinkGet(fx.ctx, byName("soft"), value, nil))
	assert.Equal(t, core.LinkTypeSoft, value.Link.Type)
	assert.Equal(t, "/g", value.Link.Target)

	nth := func(order vol.IterOrder, n uint64) string {
		a := &vol.LinkGetName{}
		require.NoError(t, f.LinkGet(fx.ctx, vol.ByIdx(vol.ObjGroup, ".", vol.IndexName, order, n, nil), a, nil))
		return a.Name
	}
	assert.Equal(t, "g", nth(vol.OrderInc, 1))
	assert.Equal(t, "soft", nth(vol.OrderDec, 0))

	require.NoError(t, f.LinkMove(fx.ctx, byName("soft"), f, byName("g/moved"), nil, nil, nil))
	assert.False(t, linkExists("soft"))
	assert.True(t, objectExists("g/moved"))
	require.NoError(t, f.LinkCopy(fx.ctx, byName("g/moved"), f, byName("copied"), nil, nil, nil))
	assert.True(t, linkExists("g/moved"))
	assert.True(t, linkExists("copied"))

	require.NoError(t, f.LinkSpecific(fx.ctx, byName("hard"), &vol.LinkDelete{}, nil))
	assert.False(t, linkExists("hard"))
	require.ErrorIs(t, f.LinkSpecific(fx.ctx, byName("hard"), &vol.LinkDelete{}, nil), utils.ErrNotFound)

	other := fx.create("other.h5")
	err := other.LinkCreate(fx.ctx, &vol.LinkCreateHard{Target: f, TargetLoc: byName("g")}, byName("x"), nil, nil, nil)
	require.ErrorIs(t, err, utils.ErrInvalidArgument)
	fx.close(other)
	fx.close(f)
}

func TestNative_LinkIteration(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("iter.h5")

	gcpl := plist.New(plist.GroupCreate)
	require.NoError(t, gcpl.Insert(plist.LinkInfo, core.LinkInfo{TrackCorder: true}, plist.Hooks{}))
	g, err := f.GroupCreate(fx.ctx, self, "ordered", nil, gcpl, nil, nil)
	require.NoError(t, err)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		fx.mkgroup(g, name)
	}
	require.NoError(t, g.LinkCreate(fx.ctx, &vol.LinkCreateHard{TargetLoc: vol.ByName(vol.ObjGroup, "/", nil)}, byName("mid/up"), nil, nil, nil))

	iterate := func(loc *vol.Object, it *vol.LinkIterate) []string {
		var names []string
		it.Fn = func(name string, _ vol.LinkInfo) error {
			names = append(names, name)
			return nil
		}
		require.NoError(t, loc.LinkSpecific(fx.ctx, self, it, nil))
		return names
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, iterate(g, &vol.LinkIterate{Index: vol.IndexCrtOrder}))
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, iterate(g, &vol.LinkIterate{}))
	assert.Equal(t, []string{"mid", "alpha", "zeta"}, iterate(g, &vol.LinkIterate{Index: vol.IndexCrtOrder, Order: vol.OrderDec}))

	idx := uint64(1)
	assert.Equal(t, []string{"mid", "zeta"}, iterate(g, &vol.LinkIterate{Idx: &idx}))
	assert.Equal(t, uint64(3), idx)

	assert.Equal(t,
		[]string{"ordered", "ordered/alpha", "ordered/mid", "ordered/mid/up", "ordered/zeta"},
		iterate(f, &vol.LinkIterate{Recursive: true}))

	stop := errors.New("stop")
	it := &vol.LinkIterate{Fn: func(string, vol.LinkInfo) error { return stop }}
	require.ErrorIs(t, g.LinkSpecific(fx.ctx, self, it, nil), stop)

	info := &vol.GroupGetInfo{Loc: self}
	require.NoError(t, g.GroupGet(fx.ctx, info, nil))
	assert.Equal(t, uint64(3), info.Info.NLinks)
	assert.True(t, info.Info.TrackOrder)
	assert.Equal(t, int64(3), info.Info.MaxCorder)

	err = f.LinkSpecific(fx.ctx, self, &vol.LinkIterate{Index: vol.IndexCrtOrder, Fn: it.Fn}, nil)
	require.ErrorIs(t, err, utils.ErrInvalidArgument)

	fx.close(g)
	fx.close(f)
}

func TestNative_ExternalLink(t *testing.T) {
	fx := newFixture(t)
	b := fx.create("b.h5")
	fx.mkgroup(b, "x")
	fx.close(b)

	a := fx.create("a.h5")
	ext := &vol.LinkCreateExternal{File: fx.path("b.h5"), Path: "/x"}
	require.NoError(t, a.LinkCreate(fx.ctx, ext, byName("ext"), nil, nil, nil))

	g, err := a.GroupOpen(fx.ctx, self, "ext", nil, nil)
	require.NoError(t, err)
	name := &vol.ObjectGetName{}
	require.NoError(t, g.ObjectGet(fx.ctx, self, name, nil))
	assert.Equal(t, "/x", name.Name)
	assert.ElementsMatch(t, []string{fx.path("a.h5"), fx.path("b.h5")}, fx.n.OpenFiles())

	fx.close(g)
	assert.Equal(t, []string{fx.path("a.h5")}, fx.n.OpenFiles())

	missing := &vol.LinkCreateExternal{File: fx.path("none.h5"), Path: "/x"}
	require.NoError(t, a.LinkCreate(fx.ctx, missing, byName("broken"), nil, nil, nil))
	exists := &vol.ObjectExists{}
	require.NoError(t, a.ObjectSpecific(fx.ctx, byName("broken"), exists, nil))
	assert.False(t, exists.Exists)
	fx.close(a)
}

func TestNative_Mount(t *testing.T) {
	fx := newFixture(t)
	a := fx.create("a.h5")
	fx.mkgroup(a, "mnt")
	b := fx.create("b.h5")
	fx.mkgroup(b, "inner")

	require.NoError(t, a.GroupSpecific(fx.ctx, &vol.GroupMount{Name: "mnt", Child: b}, nil))
	g, err := a.GroupOpen(fx.ctx, self, "mnt/inner", nil, nil)
	require.NoError(t, err)
	fx.close(g)

	info := &vol.GroupGetInfo{Loc: byName("mnt")}
	require.NoError(t, a.GroupGet(fx.ctx, info, nil))
	assert.True(t, info.Info.Mounted)
	assert.Equal(t, uint64(1), info.Info.NLinks)

	var mounts []MountInfo
	require.NoError(t, a.FileOptional(fx.ctx, &vol.OptionalArgs{Op: OptMounts, Args: &mounts}, nil))
	require.Len(t, mounts, 1)
	assert.Equal(t, fx.path("b.h5"), mounts[0].File)
	assert.False(t, mounts[0].Local)

	require.NoError(t, a.GroupSpecific(fx.ctx, &vol.GroupUnmount{Name: "mnt"}, nil))
	_, err = a.GroupOpen(fx.ctx, self, "mnt/inner", nil, nil)
	require.ErrorIs(t, err, utils.ErrNotFound)

	fx.close(b)
	fx.close(a)
	assert.Empty(t, fx.n.OpenFiles())
}

func TestNative_ObjectCopyAndVisit(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("copy.h5")
	fx.mkgroup(f, "a/b")
	fx.close(fx.dataset(f, "a/d", 2, 1, 2, 3, 4))
	require.NoError(t, f.LinkCreate(fx.ctx, &vol.LinkCreateHard{TargetLoc: byName("a")}, byName("a/b/up"), nil, nil, nil))

	require.NoError(t, f.ObjectCopy(fx.ctx, self, "a", f, self, "c", nil, nil, nil))

	visit := func(name string) []string {
		var names []string
		a := &vol.ObjectVisit{Fn: func(name string, _ vol.ObjectInfo) error {
			names = append(names, name)
			return nil
		}}
		require.NoError(t, f.ObjectSpecific(fx.ctx, byName(name), a, nil))
		return names
	}
	assert.Equal(t, []string{".", "b", "d"}, visit("c"))

	lookup := func(name string) core.Token {
		a := &vol.ObjectLookup{}
		require.NoError(t, f.ObjectSpecific(fx.ctx, byName(name), a, nil))
		return a.Token
	}
	assert.Equal(t, lookup("c"), lookup("c/b/up"))
	assert.NotEqual(t, lookup("a"), lookup("c"))

	d, err := f.DatasetOpen(fx.ctx, self, "c/d", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32s(1, 2, 3, 4), fx.read(d, 16))
	fx.close(d)

	shallow := plist.New(plist.ObjectCopy)
	require.NoError(t, shallow.Set(plist.CopyShallow, true))
	require.NoError(t, f.ObjectCopy(fx.ctx, self, "a", f, self, "s", shallow, nil, nil))
	assert.Equal(t, []string{".", "b", "d"}, visit("s"))
	assert.Equal(t, []string{"."}, visit("s/b"))

	info := &vol.ObjectGetInfo{}
	require.NoError(t, f.ObjectGet(fx.ctx, byName("c"), info, nil))
	assert.Equal(t, vol.ObjGroup, info.Info.Type)
	assert.Equal(t, 2, info.Info.NumLinks)

	obj, err := f.ObjectOpen(fx.ctx, byName("c/d"))
	require.NoError(t, err)
	assert.Equal(t, vol.ObjDataset, obj.Type())
	file := &vol.ObjectGetFile{}
	require.NoError(t, obj.ObjectGet(fx.ctx, self, file, nil))
	ff, ok := file.File.(*vol.Object)
	require.True(t, ok)
	fx.close(obj)
	fx.close(ff)
	fx.close(f)
	assert.Empty(t, fx.n.OpenFiles())
}

func TestNative_AsyncWrite(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("async.h5")
	d := fx.dataset(f, "d", 2, 0, 0, 0, 0)

	async := vol.NewAsync()
	data := int32s(9, 8, 7, 6)
	require.NoError(t, d.DatasetWrite(fx.ctx, data, nil, async))
	req := async.Request()
	require.NotNil(t, req)
	status, err := req.Wait(fx.ctx, vol.WaitForever)
	require.NoError(t, err)
	assert.Equal(t, vol.RequestSucceeded, status)
	require.NoError(t, req.Free())
	assert.Equal(t, data, fx.read(d, len(data)))

	async = vol.NewAsync()
	require.NoError(t, d.DatasetWrite(fx.ctx, make([]byte, 3), nil, async))
	req = async.Request()
	status, err = req.Wait(fx.ctx, vol.WaitForever)
	require.NoError(t, err)
	assert.Equal(t, vol.RequestFailed, status)
	getErr := &vol.RequestGetErr{}
	require.NoError(t, req.Specific(fx.ctx, getErr))
	require.ErrorIs(t, getErr.Err, utils.ErrInvalidArgument)
	require.NoError(t, req.Free())

	fx.close(d)
	fx.close(f)
}

// pathClass is a user-defined link whose payload is a path relative to the
// group holding it.
type pathClass struct {
	sawObject bool
}

func (*pathClass) Type() core.LinkType { return 80 }
func (*pathClass) Name() string        { return "path" }

func (c *pathClass) Traverse(ctx context.Context, _ string, cur any, data []byte, _ *plist.List) (any, error) {
	obj, ok := cur.(*vol.Object)
	c.sawObject = ok
	if !ok {
		return nil, errors.New("link class got a bare handle")
	}
	g, err := obj.GroupOpen(ctx, self, string(data), nil, nil)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func TestNative_UserDefinedLink(t *testing.T) {
	classes := group.NewLinkClassRegistry()
	class := &pathClass{}
	require.NoError(t, classes.Register(class))
	fx := newFixture(t, WithLinkClasses(classes))
	f := fx.create("ud.h5")
	fx.mkgroup(f, "target")

	require.NoError(t, f.LinkCreate(fx.ctx, &vol.LinkCreateUD{Type: 80, Data: []byte("target")}, byName("ud"), nil, nil, nil))
	err := f.LinkCreate(fx.ctx, &vol.LinkCreateUD{Type: 81}, byName("other"), nil, nil, nil)
	require.ErrorIs(t, err, utils.ErrNotFound)

	g, err := f.GroupOpen(fx.ctx, self, "ud", nil, nil)
	require.NoError(t, err)
	assert.True(t, class.sawObject)

	count := &vol.FileGetObjCount{Types: []vol.ObjectType{vol.ObjGroup}}
	require.NoError(t, f.FileGet(fx.ctx, count, nil))
	assert.Equal(t, 1, count.Count)
	fx.close(g)
	fx.close(f)
}

func TestNative_BlobsAndTokens(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("blob.h5")
	fx.mkgroup(f, "g")

	id, err := f.BlobPut(fx.ctx, []byte("payload"))
	require.NoError(t, err)
	got, err := f.BlobGet(fx.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	isNull := &vol.BlobIsNull{}
	require.NoError(t, f.BlobSpecific(fx.ctx, id, isNull))
	assert.False(t, isNull.IsNull)
	setNull := &vol.BlobSetNull{}
	require.NoError(t, f.BlobSpecific(fx.ctx, nil, setNull))
	require.NoError(t, f.BlobSpecific(fx.ctx, setNull.ID, isNull))
	assert.True(t, isNull.IsNull)

	require.NoError(t, f.BlobSpecific(fx.ctx, id, &vol.BlobDelete{}))
	_, err = f.BlobGet(fx.ctx, id)
	require.ErrorIs(t, err, utils.ErrNotFound)
	_, err = f.BlobGet(fx.ctx, []byte{1, 2})
	require.ErrorIs(t, err, utils.ErrInvalidArgument)

	lookup := &vol.ObjectLookup{}
	require.NoError(t, f.ObjectSpecific(fx.ctx, byName("g"), lookup, nil))
	s, err := f.TokenToString(vol.ObjGroup, lookup.Token)
	require.NoError(t, err)
	back, err := f.TokenFromString(vol.ObjGroup, s)
	require.NoError(t, err)
	assert.Equal(t, lookup.Token, back)
	n, err := f.TokenCompare(lookup.Token, back)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.TokenFromString(vol.ObjGroup, "zz")
	require.ErrorIs(t, err, utils.ErrInvalidArgument)

	var size uint64
	require.NoError(t, f.FileOptional(fx.ctx, &vol.OptionalArgs{Op: OptImageSize, Args: &size}, nil))
	assert.NotZero(t, size)
	fx.close(f)
}

func TestNative_Introspection(t *testing.T) {
	fx := newFixture(t)
	f := fx.create("intro.h5")

	for _, level := range []vol.Level{vol.LevelCurrent, vol.LevelNext, vol.LevelTerminal} {
		class, err := f.ConnClass(fx.ctx, level)
		require.NoError(t, err)
		assert.Same(t, fx.n.Class(), class)
	}
	flags, err := f.OptQuery(fx.ctx, vol.SubclsDataset, OptChunkInfo)
	require.NoError(t, err)
	assert.NotZero(t, flags&vol.OptSupported)
	flags, err = f.OptQuery(fx.ctx, vol.SubclsGroup, OptChunkInfo)
	require.NoError(t, err)
	assert.Zero(t, flags)

	err = f.GroupOptional(fx.ctx, &vol.OptionalArgs{Op: 7}, nil)
	require.ErrorIs(t, err, utils.ErrUnsupported)
	fx.close(f)
}
