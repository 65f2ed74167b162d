package vol

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/plugin"
	"github.com/scigolib/h5vol/internal/utils"
)

type lifecycle struct {
	inits, terms int
	order        *[]string
}

func testClass(name string, v Value, lc *lifecycle) *Class {
	c := &Class{Version: Version, Name: name, Value: v}
	if lc != nil {
		c.Initialize = func(*plist.List) error { lc.inits++; return nil }
		c.Terminate = func() error {
			lc.terms++
			if lc.order != nil {
				*lc.order = append(*lc.order, name)
			}
			return nil
		}
	}
	return c
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := NewRegistry(opts...)
	_, err := r.Register(testClass(NativeName, NativeValue, nil), nil)
	require.NoError(t, err)
	return r
}

func refs(t *testing.T, r *Registry, id ID) int {
	t.Helper()
	n, err := r.RefCount(id)
	require.NoError(t, err)
	return n
}

func TestRegistry_RefCounting(t *testing.T) {
	r := newTestRegistry(t)
	lc := &lifecycle{}
	class := testClass("custom", 42, lc)

	id, err := r.Register(class, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, refs(t, r, id))

	again, err := r.Register(testClass("custom", 42, lc), nil)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 2, refs(t, r, id))
	assert.Equal(t, 1, lc.inits, "initialize runs once")

	byValue, err := r.LookupByValue(42)
	require.NoError(t, err)
	assert.Equal(t, id, byValue)
	byName, err := r.LookupByName("custom")
	require.NoError(t, err)
	assert.Equal(t, id, byName)

	require.NoError(t, r.Unregister(id))
	assert.Equal(t, 1, refs(t, r, id))
	assert.Zero(t, lc.terms)

	require.NoError(t, r.Unregister(id))
	assert.Equal(t, 1, lc.terms)

	_, err = r.Get(id)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	_, err = r.LookupByValue(42)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.ErrorIs(t, r.Unregister(id), utils.ErrNotFound)
}

func TestRegistry_IDsAreNotReused(t *testing.T) {
	r := newTestRegistry(t)
	first, err := r.Register(testClass("a", 10, nil), nil)
	require.NoError(t, err)
	require.NoError(t, r.Unregister(first))

	second, err := r.Register(testClass("a", 10, nil), nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestRegistry_Validation(t *testing.T) {
	free := func(any) error { return nil }
	tests := []struct {
		name  string
		class *Class
		want  string
	}{
		{"nil", nil, "nil class"},
		{"version", &Class{Version: Version + 1, Name: "x", Value: 1}, "interface version"},
		{"empty name", &Class{Version: Version, Value: 1}, "empty name"},
		{"negative value", &Class{Version: Version, Name: "x", Value: -1}, "out of range"},
		{"value too large", &Class{Version: Version, Name: "x", Value: MaxValue + 1}, "out of range"},
		{
			"info copy without free",
			&Class{Version: Version, Name: "x", Value: 1, Info: &InfoClass{Copy: func(v any) (any, error) { return v, nil }}},
			"info copy",
		},
		{
			"wrap context without free",
			&Class{Version: Version, Name: "x", Value: 1, Wrap: &WrapClass{GetWrapCtx: func(v any) (any, error) { return v, nil }}},
			"wrap-context",
		},
	}
	r := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(tt.class, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConnectorInvalid)
			assert.ErrorIs(t, err, utils.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	ok := &Class{Version: Version, Name: "ok", Value: 1, Info: &InfoClass{Copy: func(v any) (any, error) { return v, nil }, Free: free}}
	_, err := r.Register(ok, nil)
	assert.NoError(t, err)
	assert.Len(t, r.Connectors(), 1)
}

func TestRegistry_ValueConflict(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register(testClass("impostor", NativeValue, nil), nil)
	assert.ErrorIs(t, err, utils.ErrAlreadyExists)
	assert.Contains(t, err.Error(), `"native"`)
}

func TestRegistry_InitializeFailure(t *testing.T) {
	r := NewRegistry()
	class := testClass("broken", 7, nil)
	class.Initialize = func(*plist.List) error { return errors.New("no backend") }

	_, err := r.Register(class, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backend")
	assert.Empty(t, r.Connectors())
}

type fakeFinder struct {
	classes map[string]*Class
	err     error
	calls   int
}

func (f *fakeFinder) Find(ctx context.Context, kind plugin.Kind, key plugin.Key, match func(any) bool) (any, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if kind != plugin.KindVOL {
		return nil, utils.ErrNotFound
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.classes {
		if match(c) {
			return c, nil
		}
	}
	return nil, utils.ErrNotFound
}

func TestRegistry_PluginFallback(t *testing.T) {
	lc := &lifecycle{}
	finder := &fakeFinder{classes: map[string]*Class{"plugged": testClass("plugged", 300, lc)}}
	r := newTestRegistry(t, WithFinder(finder))
	ctx := context.Background()

	id, err := r.RegisterByName(ctx, "plugged", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, lc.inits)
	assert.Equal(t, 1, finder.calls)

	again, err := r.RegisterByValue(ctx, 300, nil)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 2, refs(t, r, id))
	assert.Equal(t, 1, finder.calls, "registered connectors are not searched for")

	_, err = r.RegisterByName(ctx, "absent", nil)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	stale := testClass("stale", 302, lc)
	stale.Version = Version + 1
	finder.classes["stale"] = stale
	_, err = r.RegisterByName(ctx, "stale", nil)
	assert.ErrorIs(t, err, utils.ErrUnavailable)
	assert.NotErrorIs(t, err, utils.ErrInvalidArgument)
	assert.Equal(t, 1, lc.inits, "a stale plugin is not initialized")
	_, err = r.LookupByName("stale")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = r.Register(stale, nil)
	assert.ErrorIs(t, err, utils.ErrConnectorInvalid)

	finder.err = errors.New("bad plugin")
	_, err = r.RegisterByValue(ctx, 301, nil)
	assert.ErrorIs(t, err, utils.ErrUnavailable)
	assert.Contains(t, err.Error(), "bad plugin")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.RegisterByName(canceled, "other", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_NoFinder(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.RegisterByName(context.Background(), "plugged", nil)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	id, err := r.RegisterByName(context.Background(), NativeName, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, refs(t, r, id))
}

func TestRegistry_OptOperations(t *testing.T) {
	r := NewRegistry()

	op, err := r.RegisterOptOperation(SubclsDataset, "chunk_read")
	require.NoError(t, err)
	assert.Equal(t, OptDynamicBase, op)

	op2, err := r.RegisterOptOperation(SubclsDataset, "chunk_write")
	require.NoError(t, err)
	assert.Equal(t, OptDynamicBase+1, op2)

	other, err := r.RegisterOptOperation(SubclsFile, "chunk_read")
	require.NoError(t, err)
	assert.Equal(t, OptDynamicBase, other, "values are per subclass")

	_, err = r.RegisterOptOperation(SubclsDataset, "chunk_read")
	assert.ErrorIs(t, err, utils.ErrAlreadyExists)
	_, err = r.RegisterOptOperation(SubclsInfo, "x")
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)
	_, err = r.RegisterOptOperation(SubclsDataset, "")
	assert.ErrorIs(t, err, utils.ErrInvalidArgument)

	found, err := r.FindOptOperation(SubclsDataset, "chunk_write")
	require.NoError(t, err)
	assert.Equal(t, op2, found)

	require.NoError(t, r.UnregisterOptOperation(SubclsDataset, "chunk_read"))
	_, err = r.FindOptOperation(SubclsDataset, "chunk_read")
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.ErrorIs(t, r.UnregisterOptOperation(SubclsDataset, "chunk_read"), utils.ErrNotFound)

	op3, err := r.RegisterOptOperation(SubclsDataset, "chunk_read")
	require.NoError(t, err)
	assert.Equal(t, OptDynamicBase+2, op3, "values are not reused")
}

func TestParseConnectorString(t *testing.T) {
	tests := []struct {
		in, name, info string
	}{
		{"", "", ""},
		{"native", "native", ""},
		{"  pass_through_ext   under_vol=0;under_info={}  ", "pass_through_ext", "under_vol=0;under_info={}"},
		{"517 under_vol=0", "517", "under_vol=0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, info := ParseConnectorString(tt.in)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.info, info)
		})
	}
}

func stringInfoClass(frees *int) *InfoClass {
	return &InfoClass{
		Copy:       func(v any) (any, error) { s := *v.(*string); return &s, nil },
		Free:       func(any) error { *frees++; return nil },
		ToString:   func(v any) (string, error) { return *v.(*string), nil },
		FromString: parseStringInfo,
	}
}

func parseStringInfo(s string) (any, error) {
	if strings.ContainsRune(s, '!') {
		return nil, errors.New("bad info")
	}
	return &s, nil
}

func TestRegistry_ResolveDefault(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	frees := 0
	custom := testClass("custom", 42, nil)
	custom.Info = stringInfoClass(&frees)
	customID, err := r.Register(custom, nil)
	require.NoError(t, err)
	nativeID, err := r.LookupByName(NativeName)
	require.NoError(t, err)

	def, err := r.ResolveDefault(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, NativeName, def.Conn.Name())
	assert.Nil(t, def.Info)
	assert.Same(t, def, r.Default())
	assert.Equal(t, 2, refs(t, r, nativeID))

	def, err = r.ResolveDefault(ctx, "custom level=3")
	require.NoError(t, err)
	assert.Equal(t, "custom", def.Conn.Name())
	assert.Equal(t, "custom level=3", def.String())
	assert.Equal(t, 1, refs(t, r, nativeID), "previous default released")
	assert.Equal(t, 2, refs(t, r, customID))

	def, err = r.ResolveDefault(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "custom", def.Conn.Name())
	assert.Equal(t, 1, frees)
	assert.Equal(t, 2, refs(t, r, customID))

	_, err = r.ResolveDefault(ctx, "custom oops!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad info")
	assert.Equal(t, 2, refs(t, r, customID), "failed parse gives its reference back")

	_, err = r.ResolveDefault(ctx, "missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.Same(t, def, r.Default())
}

func TestRegistry_CloseTerminatesInReverse(t *testing.T) {
	var order []string
	lc := &lifecycle{order: &order}
	r := NewRegistry()
	for i, name := range []string{"first", "second", "third"} {
		_, err := r.Register(testClass(name, Value(i+1), lc), nil)
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Empty(t, r.Connectors())
}

func TestRegistry_Connectors(t *testing.T) {
	r := newTestRegistry(t)
	c := testClass("custom", 42, nil)
	c.ConnVersion = 2
	c.CapFlags = CapFileBasic | CapAsync
	_, err := r.Register(c, nil)
	require.NoError(t, err)

	list := r.Connectors()
	require.Len(t, list, 2)
	assert.Equal(t, NativeName, list[0].Name)
	assert.Equal(t, Status{ID: list[1].ID, Name: "custom", Value: 42, Version: 2, CapFlags: CapFileBasic | CapAsync, Refs: 1}, list[1])
}
