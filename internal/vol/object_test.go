package vol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
)

type memFile struct {
	name  string
	flags FileFlags
}

// memFiles is a file-only connector keeping files in a map.
type memFiles struct {
	mu        sync.Mutex
	files     map[string]*memFile
	closes    int
	failClose bool
	async     bool
	sawWrap   *WrapContext
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[string]*memFile)}
}

func (m *memFiles) Create(ctx context.Context, name string, flags FileFlags, _, _ *plist.List, async *Async) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; ok && flags&FileExclusive != 0 {
		return nil, utils.ErrAlreadyExists
	}
	f := &memFile{name: name, flags: flags}
	m.files[name] = f
	if m.async {
		async.Set("create " + name)
	}
	return f, nil
}

func (m *memFiles) Open(_ context.Context, name string, flags FileFlags, _ *plist.List, _ *Async) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return nil, utils.ErrNotFound
	}
	return &memFile{name: name, flags: flags}, nil
}

func (m *memFiles) Get(ctx context.Context, file any, args FileGet, _ *Async) error {
	m.sawWrap = WrapContextFrom(ctx)
	switch a := args.(type) {
	case *FileGetName:
		a.Name = file.(*memFile).name
	case *FileGetIntent:
		a.Flags = file.(*memFile).flags
	default:
		return utils.ErrUnsupported
	}
	return nil
}

func (m *memFiles) Specific(_ context.Context, file any, args FileSpecific, _ *Async) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch a := args.(type) {
	case *FileIsAccessible:
		_, a.Accessible = m.files[a.Name]
	case *FileDelete:
		if _, ok := m.files[a.Name]; !ok {
			return utils.ErrNotFound
		}
		delete(m.files, a.Name)
	case *FileIsEqual:
		a.Equal = a.Other.(*memFile).name == file.(*memFile).name
	case *FileReopen:
		f := file.(*memFile)
		a.File = &memFile{name: f.name, flags: f.flags}
	default:
		return utils.ErrUnsupported
	}
	return nil
}

func (m *memFiles) Optional(context.Context, any, *OptionalArgs, *Async) error {
	return utils.ErrUnsupported
}

func (m *memFiles) Close(context.Context, any, *Async) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failClose {
		return errors.New("flush failed")
	}
	m.closes++
	return nil
}

// memRequests completes every request immediately.
type memRequests struct {
	waits, frees int
	failFree     bool
}

func (r *memRequests) Wait(context.Context, any, time.Duration) (RequestStatus, error) {
	r.waits++
	return RequestSucceeded, nil
}

func (r *memRequests) Notify(_ any, fn func(RequestStatus)) error {
	fn(RequestSucceeded)
	return nil
}

func (r *memRequests) Cancel(context.Context, any) (RequestStatus, error) {
	return RequestCantCancel, nil
}

func (r *memRequests) Specific(_ context.Context, _ any, args RequestSpecific) error {
	if a, ok := args.(*RequestGetExecTime); ok {
		a.Elapsed = time.Millisecond
		return nil
	}
	return utils.ErrUnsupported
}

func (r *memRequests) Optional(context.Context, any, *OptionalArgs) error {
	return utils.ErrUnsupported
}

func (r *memRequests) Free(any) error {
	if r.failFree {
		return errors.New("still running")
	}
	r.frees++
	return nil
}

type objFixture struct {
	t     *testing.T
	ctx   context.Context
	reg   *Registry
	id    ID
	files *memFiles
	reqs  *memRequests
	fapl  *plist.List
}

func newObjFixture(t *testing.T) *objFixture {
	t.Helper()
	fx := &objFixture{
		t:     t,
		ctx:   context.Background(),
		reg:   NewRegistry(),
		files: newMemFiles(),
		reqs:  &memRequests{},
	}
	class := testClass("memfiles", 100, nil)
	class.File = fx.files
	class.Request = fx.reqs
	var err error
	fx.id, err = fx.reg.Register(class, nil)
	require.NoError(t, err)
	conn, err := fx.reg.Get(fx.id)
	require.NoError(t, err)

	fx.fapl = plist.New(plist.FileAccess)
	require.NoError(t, SetConnectorProp(fx.fapl, &ConnectorProp{Conn: conn}))
	t.Cleanup(func() { _ = fx.fapl.Close() })
	return fx
}

func (fx *objFixture) refs() int {
	return refs(fx.t, fx.reg, fx.id)
}

func TestObject_CreateAndClose(t *testing.T) {
	fx := newObjFixture(t)
	assert.Equal(t, 2, fx.refs(), "registration plus the access list")

	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, nil)
	require.NoError(t, err)
	assert.Equal(t, ObjFile, f.Type())
	assert.Equal(t, fx.id, f.ConnectorID())
	assert.Equal(t, 3, fx.refs())

	name := &FileGetName{}
	require.NoError(t, f.FileGet(fx.ctx, name, nil))
	assert.Equal(t, "a.h5", name.Name)
	require.NotNil(t, fx.files.sawWrap, "operations see the wrap context")
	assert.Equal(t, fx.id, fx.files.sawWrap.Connector().ID())

	require.NoError(t, f.Close(fx.ctx, nil))
	assert.Equal(t, 1, fx.files.closes)
	assert.Equal(t, 2, fx.refs())
	assert.False(t, f.Valid())

	err = f.Close(fx.ctx, nil)
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)
	assert.Equal(t, 1, fx.files.closes, "closed objects never reach the connector")
	assert.NoError(t, f.Free(), "free after close is a no-op")
	assert.Equal(t, 2, fx.refs())
}

func TestObject_FailedCloseKeepsObject(t *testing.T) {
	fx := newObjFixture(t)
	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, nil)
	require.NoError(t, err)

	fx.files.failClose = true
	require.Error(t, f.Close(fx.ctx, nil))
	assert.True(t, f.Valid())
	assert.Equal(t, 3, fx.refs())

	fx.files.failClose = false
	require.NoError(t, f.Close(fx.ctx, nil))
	assert.Equal(t, 2, fx.refs())
}

func TestObject_ConnectorOutlivesUnregister(t *testing.T) {
	fx := newObjFixture(t)
	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, nil)
	require.NoError(t, err)

	require.NoError(t, fx.reg.Unregister(fx.id))
	require.NoError(t, fx.fapl.Close())
	assert.Equal(t, 1, fx.refs(), "the open file keeps the connector")

	intent := &FileGetIntent{}
	require.NoError(t, f.FileGet(fx.ctx, intent, nil))
	assert.Equal(t, FileTruncate, intent.Flags)

	require.NoError(t, f.Close(fx.ctx, nil))
	_, err = fx.reg.Get(fx.id)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestObject_FileOperationsByName(t *testing.T) {
	fx := newObjFixture(t)
	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, nil)
	require.NoError(t, err)
	require.NoError(t, f.Close(fx.ctx, nil))

	ok, err := FileIsAccessible(fx.ctx, "a.h5", fx.fapl)
	require.NoError(t, err)
	assert.True(t, ok)

	g, err := FileOpen(fx.ctx, "a.h5", FileReadOnly, fx.fapl, nil)
	require.NoError(t, err)
	require.NoError(t, g.Close(fx.ctx, nil))

	require.NoError(t, FileDelete(fx.ctx, "a.h5", fx.fapl))
	ok, err = FileIsAccessible(fx.ctx, "a.h5", fx.fapl)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = FileOpen(fx.ctx, "a.h5", FileReadOnly, fx.fapl, nil)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = FileOpen(fx.ctx, "a.h5", FileReadOnly, plist.New(plist.FileAccess), nil)
	assert.ErrorIs(t, err, utils.ErrNotFound, "no connector selected")
}

func TestObject_ReturnedObjectsAreBound(t *testing.T) {
	fx := newObjFixture(t)
	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, nil)
	require.NoError(t, err)
	defer f.Close(fx.ctx, nil)

	reopen := &FileReopen{}
	require.NoError(t, f.FileSpecific(fx.ctx, reopen, nil))
	g, ok := reopen.File.(*Object)
	require.True(t, ok, "reopen yields %T", reopen.File)
	assert.Equal(t, 4, fx.refs())

	eq := &FileIsEqual{Other: g}
	require.NoError(t, f.FileSpecific(fx.ctx, eq, nil))
	assert.True(t, eq.Equal)

	require.NoError(t, g.Close(fx.ctx, nil))
	eq = &FileIsEqual{Other: g}
	assert.ErrorIs(t, f.FileSpecific(fx.ctx, eq, nil), utils.ErrInvalidArgument)
}

func TestObject_ForeignConnectorNeverEqual(t *testing.T) {
	fx := newObjFixture(t)
	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, nil)
	require.NoError(t, err)

	other := testClass("other", 101, nil)
	other.File = newMemFiles()
	id, err := fx.reg.Register(other, nil)
	require.NoError(t, err)
	conn, err := fx.reg.Get(id)
	require.NoError(t, err)
	foreign := NewObject(conn, ObjFile, &memFile{name: "a.h5"})

	eq := &FileIsEqual{Other: foreign}
	require.NoError(t, f.FileSpecific(fx.ctx, eq, nil))
	assert.False(t, eq.Equal)

	assert.ErrorIs(t, f.GroupSpecific(fx.ctx, &GroupMount{Name: "/mnt", Child: foreign}, nil), utils.ErrInvalidArgument)
}

func TestObject_UnsupportedCapability(t *testing.T) {
	fx := newObjFixture(t)
	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, nil)
	require.NoError(t, err)
	defer f.Close(fx.ctx, nil)

	_, err = f.GroupCreate(fx.ctx, Self(ObjFile), "g", nil, nil, nil, nil)
	assert.ErrorIs(t, err, utils.ErrUnsupported)
	assert.Contains(t, err.Error(), `"memfiles"`)

	err = f.LinkSpecific(fx.ctx, ByName(ObjGroup, "g", nil), &LinkExists{}, nil)
	assert.ErrorIs(t, err, utils.ErrUnsupported)

	_, err = f.TokenToString(ObjGroup, [16]byte{})
	assert.ErrorIs(t, err, utils.ErrUnsupported)
	n, err := f.TokenCompare([16]byte{1}, [16]byte{2})
	require.NoError(t, err)
	assert.Equal(t, -1, n)

	flags, err := f.OptQuery(fx.ctx, SubclsFile, 3)
	require.NoError(t, err)
	assert.Zero(t, flags)
}

func TestObject_ConnClass(t *testing.T) {
	fx := newObjFixture(t)
	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, nil)
	require.NoError(t, err)
	defer f.Close(fx.ctx, nil)

	for _, level := range []Level{LevelCurrent, LevelNext, LevelTerminal} {
		c, err := f.ConnClass(fx.ctx, level)
		require.NoError(t, err)
		assert.Equal(t, "memfiles", c.Name)
	}
}

func TestObject_AsyncRequest(t *testing.T) {
	fx := newObjFixture(t)
	fx.files.async = true

	async := NewAsync()
	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, async)
	require.NoError(t, err)
	req := async.Request()
	require.NotNil(t, req)
	assert.Equal(t, "create a.h5", req.Data())
	assert.Equal(t, 4, fx.refs(), "the request holds a reference")

	s, err := req.Wait(fx.ctx, WaitForever)
	require.NoError(t, err)
	assert.Equal(t, RequestSucceeded, s)
	s, err = req.Wait(fx.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, RequestSucceeded, s)
	assert.Equal(t, 1, fx.reqs.waits, "terminal status is cached")

	s, err = req.Cancel(fx.ctx)
	require.NoError(t, err)
	assert.Equal(t, RequestSucceeded, s)

	elapsed := &RequestGetExecTime{}
	require.NoError(t, req.Specific(fx.ctx, elapsed))
	assert.Equal(t, time.Millisecond, elapsed.Elapsed)

	fx.reqs.failFree = true
	require.Error(t, req.Free())
	assert.Equal(t, 4, fx.refs())

	fx.reqs.failFree = false
	require.NoError(t, req.Free())
	require.NoError(t, req.Free())
	assert.Equal(t, 1, fx.reqs.frees)
	assert.Equal(t, 3, fx.refs())

	_, err = req.Wait(fx.ctx, 0)
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)

	require.NoError(t, f.Close(fx.ctx, nil))
}

func TestObject_SyncCallHasNoRequest(t *testing.T) {
	fx := newObjFixture(t)
	fx.files.async = true

	f, err := FileCreate(fx.ctx, "a.h5", FileTruncate, nil, fx.fapl, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, fx.refs())
	require.NoError(t, f.Close(fx.ctx, nil))

	async := NewAsync()
	g, err := FileOpen(fx.ctx, "a.h5", FileReadOnly, fx.fapl, async)
	require.NoError(t, err)
	assert.Nil(t, async.Request(), "connector completed synchronously")
	require.NoError(t, g.Close(fx.ctx, nil))
}

func TestRequest_Notify(t *testing.T) {
	fx := newObjFixture(t)
	conn, err := fx.reg.Get(fx.id)
	require.NoError(t, err)

	req := newRequest(conn, "token")
	var got RequestStatus
	require.NoError(t, req.Notify(func(s RequestStatus) { got = s }))
	assert.Equal(t, RequestSucceeded, got)
	assert.Equal(t, RequestSucceeded, req.Status())
	require.NoError(t, req.Free())
}

type wrapCounter struct {
	gets, frees int
}

func TestWrapContext_RefCounting(t *testing.T) {
	fx := newObjFixture(t)
	wc := &wrapCounter{}
	class := testClass("wrapping", 200, nil)
	class.Wrap = &WrapClass{
		GetWrapCtx:   func(obj any) (any, error) { wc.gets++; return "ctx", nil },
		FreeWrapCtx:  func(any) error { wc.frees++; return nil },
		WrapObject:   func(obj any, _ ObjectType, c any) (any, error) { return []any{c, obj}, nil },
		UnwrapObject: func(obj any) (any, error) { return obj.([]any)[1], nil },
	}
	id, err := fx.reg.Register(class, nil)
	require.NoError(t, err)
	conn, err := fx.reg.Get(id)
	require.NoError(t, err)

	o := NewObject(conn, ObjGroup, "root")
	w, err := NewWrapContext(o)
	require.NoError(t, err)
	assert.Equal(t, 1, wc.gets)
	assert.Equal(t, 3, refs(t, fx.reg, id))

	wrapped, err := w.Wrap("child", ObjGroup)
	require.NoError(t, err)
	assert.Equal(t, []any{"ctx", "child"}, wrapped.Data())
	inner, err := w.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "child", inner)
	require.NoError(t, wrapped.Free())

	w.IncRef()
	require.NoError(t, w.DecRef())
	assert.Zero(t, wc.frees)
	require.NoError(t, w.DecRef())
	assert.Equal(t, 1, wc.frees)
	assert.ErrorIs(t, w.DecRef(), utils.ErrInvalidArgument)

	require.NoError(t, o.Free())
	assert.Equal(t, 1, refs(t, fx.reg, id))

	_, err = NewWrapContext(o)
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)
	assert.Nil(t, WrapContextFrom(context.Background()))
}

func TestConnectorProp_FollowsListLifecycle(t *testing.T) {
	fx := newObjFixture(t)
	conn, err := fx.reg.Get(fx.id)
	require.NoError(t, err)
	assert.Equal(t, 2, fx.refs())

	cp, err := fx.fapl.Copy()
	require.NoError(t, err)
	assert.Equal(t, 3, fx.refs())
	assert.True(t, cp.Equal(fx.fapl))

	p, err := GetConnectorProp(cp)
	require.NoError(t, err)
	assert.Same(t, conn, p.Conn)

	require.NoError(t, cp.Close())
	assert.Equal(t, 2, fx.refs())

	err = SetConnectorProp(plist.New(plist.GroupAccess), &ConnectorProp{Conn: conn})
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)
	assert.Equal(t, 2, fx.refs())
}

func TestConnectorProp_CompareIsAntisymmetric(t *testing.T) {
	reg := NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })

	class := testClass("opaque", 101, nil)
	class.Info = &InfoClass{
		Copy:     func(info any) (any, error) { return info, nil },
		Free:     func(any) error { return nil },
		Compare:  func(a, b any) (int, error) { return 0, errors.New("infos cannot be ordered") },
		ToString: func(info any) (string, error) { return fmt.Sprint(info), nil },
	}
	id, err := reg.Register(class, nil)
	require.NoError(t, err)
	conn, err := reg.Get(id)
	require.NoError(t, err)

	fapl := func(info any) *plist.List {
		l := plist.New(plist.FileAccess)
		require.NoError(t, SetConnectorProp(l, &ConnectorProp{Conn: conn, Info: info}))
		t.Cleanup(func() { _ = l.Close() })
		return l
	}
	a, b := fapl("a"), fapl("b")
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(fapl("a")))

	tests := []struct {
		name string
		a, b any
		want int
	}{
		{name: "equal values", a: []int{1}, b: []int{1}, want: 0},
		{name: "different values", a: []int{1}, b: []int{2}, want: -1},
		{name: "nil first", a: nil, b: []int{1}, want: -1},
	}
	plainID, err := reg.Register(testClass("plain", 102, nil), nil)
	require.NoError(t, err)
	plain, err := reg.Get(plainID)
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := plain.CompareInfo(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			n, err = plain.CompareInfo(tt.b, tt.a)
			require.NoError(t, err)
			assert.Equal(t, -tt.want, n)
		})
	}
}
