package h5vol

import (
	"context"
	"fmt"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// Handle is an open object. Files and groups are locations: names passed to
// their methods are resolved relative to them, or from the file root when
// they start with "/".
type Handle struct {
	rt   *Runtime
	obj  *vol.Object
	name string
}

// Name returns the path the object was opened by.
func (h *Handle) Name() string { return h.name }

// ConnectorID returns the registry id of the connector serving the object.
func (h *Handle) ConnectorID() int64 { return int64(h.obj.ConnectorID()) }

// ConnectorName returns the name of the connector serving the object.
func (h *Handle) ConnectorName() string { return h.obj.Connector().Name() }

// Close releases the object. A failed close leaves the handle open.
func (h *Handle) Close(ctx context.Context) error {
	if !h.obj.Valid() {
		return fmt.Errorf("%s already closed: %w", h.name, utils.ErrInvalidArgument)
	}
	return h.obj.Close(ctx, nil)
}

var self = vol.Self(vol.ObjGroup)

func (h *Handle) at(name string) vol.LocParams {
	return vol.ByName(vol.ObjGroup, name, h.rt.lapl)
}

func (h *Handle) child(obj *vol.Object, name string) Handle {
	return Handle{rt: h.rt, obj: obj, name: joinName(h.name, name)}
}

func joinName(base, name string) string {
	switch {
	case len(name) > 0 && name[0] == '/':
		return name
	case base == "" || base == "/":
		return "/" + name
	default:
		return base + "/" + name
	}
}

// Group is an open group.
type Group struct {
	Handle
}

type groupConfig struct {
	parents bool
	corder  bool
}

// GroupOption configures group creation.
type GroupOption func(*groupConfig)

// WithParents creates missing groups along the path.
func WithParents() GroupOption {
	return func(cfg *groupConfig) { cfg.parents = true }
}

// WithCreationOrder tracks and indexes link creation order in the group.
func WithCreationOrder() GroupOption {
	return func(cfg *groupConfig) { cfg.corder = true }
}

func intermediateLCPL(on bool) (*plist.List, error) {
	lcpl := plist.New(plist.LinkCreate)
	if err := lcpl.Set(plist.CreateIntermediate, on); err != nil {
		return nil, utils.KeepPrimary(err, lcpl.Close())
	}
	return lcpl, nil
}

// CreateGroup creates a group at name.
func (h *Handle) CreateGroup(ctx context.Context, name string, opts ...GroupOption) (*Group, error) {
	cfg := &groupConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	lcpl, err := intermediateLCPL(cfg.parents)
	if err != nil {
		return nil, err
	}
	defer lcpl.Close()

	gcpl := plist.New(plist.GroupCreate)
	defer gcpl.Close()
	if cfg.corder {
		if err := gcpl.Insert(plist.LinkInfo, core.LinkInfo{TrackCorder: true, IndexCorder: true}, plist.Hooks{}); err != nil {
			return nil, err
		}
	}

	obj, err := h.obj.GroupCreate(ctx, self, name, lcpl, gcpl, nil, nil)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("create group %q", name), err)
	}
	return &Group{h.child(obj, name)}, nil
}

// OpenGroup opens the group at name.
func (h *Handle) OpenGroup(ctx context.Context, name string) (*Group, error) {
	obj, err := h.obj.GroupOpen(ctx, self, name, nil, nil)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("open group %q", name), err)
	}
	if name == "/" {
		return &Group{Handle{rt: h.rt, obj: obj, name: "/"}}, nil
	}
	return &Group{h.child(obj, name)}, nil
}

// LinkType is the kind of a link.
type LinkType = core.LinkType

// Link types. User-defined links use types from LinkTypeUDMin up.
const (
	LinkHard      = core.LinkTypeHard
	LinkSoft      = core.LinkTypeSoft
	LinkExternal  = core.LinkTypeExternal
	LinkTypeUDMin = core.LinkTypeUDMin
)

// CreateSoftLink creates a link at name to the path target. The target need
// not exist.
func (h *Handle) CreateSoftLink(ctx context.Context, name, target string) error {
	return h.createLink(ctx, name, &vol.LinkCreateSoft{Target: target})
}

// CreateHardLink creates a link at name to the object at target, which is
// resolved relative to h.
func (h *Handle) CreateHardLink(ctx context.Context, name, target string) error {
	return h.createLink(ctx, name, &vol.LinkCreateHard{TargetLoc: h.at(target)})
}

// CreateExternalLink creates a link at name to the object at path in file.
func (h *Handle) CreateExternalLink(ctx context.Context, name, file, path string) error {
	return h.createLink(ctx, name, &vol.LinkCreateExternal{File: file, Path: path})
}

// CreateUDLink creates a user-defined link of a registered class.
func (h *Handle) CreateUDLink(ctx context.Context, name string, typ LinkType, data []byte) error {
	return h.createLink(ctx, name, &vol.LinkCreateUD{Type: typ, Data: data})
}

func (h *Handle) createLink(ctx context.Context, name string, args vol.LinkCreate) error {
	if err := h.obj.LinkCreate(ctx, args, h.at(name), nil, h.rt.lapl, nil); err != nil {
		return utils.WrapError(fmt.Sprintf("create link %q", name), err)
	}
	return nil
}

// DeleteLink removes the link at name. The object it pointed to is not
// removed while other links reach it.
func (h *Handle) DeleteLink(ctx context.Context, name string) error {
	return h.obj.LinkSpecific(ctx, h.at(name), &vol.LinkDelete{}, nil)
}

// MoveLink renames the link src to dst, both relative to h.
func (h *Handle) MoveLink(ctx context.Context, src, dst string) error {
	return h.obj.LinkMove(ctx, h.at(src), h.obj, h.at(dst), nil, h.rt.lapl, nil)
}

// Exists reports whether name resolves to an object. Every component of
// the path is checked; a dangling or unresolvable link reports false.
func (h *Handle) Exists(ctx context.Context, name string) (bool, error) {
	a := &vol.ObjectExists{}
	if err := h.obj.ObjectSpecific(ctx, h.at(name), a, nil); err != nil {
		return false, err
	}
	return a.Exists, nil
}

// LinkExists reports whether the last component of name is a link,
// whether or not it resolves.
func (h *Handle) LinkExists(ctx context.Context, name string) (bool, error) {
	a := &vol.LinkExists{}
	if err := h.obj.LinkSpecific(ctx, h.at(name), a, nil); err != nil {
		return false, err
	}
	return a.Exists, nil
}

// LinkEntry describes one link of a group.
type LinkEntry struct {
	Name   string // relative to the listed group
	Type   LinkType
	Corder int64 // valid when the group tracks creation order
}

// Links lists the links of the group at name in name order. With recursive
// set, links below subgroups reached by hard links are listed as well, each
// group once.
func (h *Handle) Links(ctx context.Context, name string, recursive bool) ([]LinkEntry, error) {
	var out []LinkEntry
	it := &vol.LinkIterate{
		Recursive: recursive,
		Fn: func(n string, info vol.LinkInfo) error {
			out = append(out, LinkEntry{Name: n, Type: info.Type, Corder: info.Corder})
			return nil
		},
	}
	loc := self
	if name != "" && name != "." {
		loc = h.at(name)
	}
	if err := h.obj.LinkSpecific(ctx, loc, it, nil); err != nil {
		return nil, utils.WrapError(fmt.Sprintf("list links of %q", name), err)
	}
	return out, nil
}

// ObjectType is the type of the object at a path.
type ObjectType = vol.ObjectType

// Object types.
const (
	TypeGroup    = vol.ObjGroup
	TypeDataset  = vol.ObjDataset
	TypeDatatype = vol.ObjDatatype
)

// TypeOf returns the type of the object at name.
func (h *Handle) TypeOf(ctx context.Context, name string) (ObjectType, error) {
	a := &vol.ObjectGetType{}
	if err := h.obj.ObjectGet(ctx, h.at(name), a, nil); err != nil {
		return 0, err
	}
	return a.Type, nil
}
