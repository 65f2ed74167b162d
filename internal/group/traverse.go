package group

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
)

// Flags modify how the final component of a name is resolved.
type Flags uint8

// Traversal flags. TargetNormal follows every link and mount point.
const (
	TargetNormal Flags = 0
	// TargetSLink leaves a terminal soft link unresolved.
	TargetSLink Flags = 1 << (iota - 1)
	// TargetUDLink leaves a terminal external or user-defined link unresolved.
	TargetUDLink
	// TargetExists reports unresolvable links as absent instead of failing.
	TargetExists
	// TargetMount stops at a terminal mount point instead of crossing it.
	TargetMount
	// CreateIntermediate creates missing groups for non-final components.
	CreateIntermediate
)

// Visit is what an Operator receives for the final component of a name.
//
// Group is the group holding the link. Link is nil when the name does not
// exist, and Object is nil when the link could not be (or was asked not to
// be) resolved. The engine frees both locations after the operator returns
// unless the operator claims them with TakeGroup or TakeObject.
type Visit struct {
	Group  *Location
	Name   string
	Link   *core.Link
	Object *Location

	tookGroup  bool
	tookObject bool
}

// TakeGroup transfers ownership of the group location to the caller.
func (v *Visit) TakeGroup() *Location {
	v.tookGroup = true
	return v.Group
}

// TakeObject transfers ownership of the object location to the caller.
func (v *Visit) TakeObject() *Location {
	v.tookObject = true
	return v.Object
}

// Operator is invoked once for the final component of a traversed name.
type Operator func(ctx context.Context, v *Visit) error

// errAbsent marks failures that mean "this name does not resolve", as
// opposed to failures reading the namespace.
var errAbsent = errors.New("name does not resolve")

func absent(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, errors.Join(utils.ErrNotFound, errAbsent))...)
}

// IsAbsent reports whether err means a name did not resolve.
func IsAbsent(err error) bool {
	return errors.Is(err, errAbsent)
}

// Engine resolves names. It is safe for concurrent use; all per-call state
// lives on the stack of Traverse.
type Engine struct {
	external  ExternalOpener
	extPrefix string
	classes   *LinkClassRegistry
	handles   HandleWrapper
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithExternalOpener enables external links.
func WithExternalOpener(o ExternalOpener) Option {
	return func(e *Engine) { e.external = o }
}

// WithExternalPrefix sets the search prefix list tried before the link
// property prefix when opening external link targets.
func WithExternalPrefix(prefix string) Option {
	return func(e *Engine) { e.extPrefix = prefix }
}

// WithLinkClasses sets the user-defined link class registry.
func WithLinkClasses(r *LinkClassRegistry) Option {
	return func(e *Engine) { e.classes = r }
}

// WithHandleWrapper sets how locations are handed to user-defined link
// callbacks.
func WithHandleWrapper(w HandleWrapper) Option {
	return func(e *Engine) { e.handles = w }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine returns an engine. Without an external opener, external links
// fail to resolve.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		classes: NewLinkClassRegistry(),
		handles: LocationHandles{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LinkClasses returns the user-defined link class registry.
func (e *Engine) LinkClasses() *LinkClassRegistry {
	return e.classes
}

// walk carries the state shared by a traversal and the link traversals it
// starts.
type walk struct {
	nlinks int
	lapl   *plist.List
}

// Traverse resolves name starting at loc and calls op for its final
// component. lapl supplies the link budget and external link prefix; nil
// selects the defaults. The walk is not transactional: groups created for
// CreateIntermediate stay if a later component fails.
func (e *Engine) Traverse(ctx context.Context, loc *Location, name string, flags Flags, lapl *plist.List, op Operator) error {
	if name == "" {
		return fmt.Errorf("traverse: empty name: %w", utils.ErrInvalidArgument)
	}
	if !loc.Valid() {
		return fmt.Errorf("traverse %q: invalid location: %w", name, utils.ErrInvalidArgument)
	}
	w := &walk{nlinks: plist.Int(lapl, plist.NLinks, plist.DefaultNLinks), lapl: lapl}
	return e.traverse(ctx, w, loc, name, flags, op)
}

func (e *Engine) traverse(ctx context.Context, w *walk, loc *Location, name string, flags Flags, op Operator) error {
	var grp *Location
	if strings.HasPrefix(name, "/") {
		grp = loc.File().TopRoot()
	} else {
		grp = loc.Clone()
	}

	rest := skipSeparators(name)
	if rest == "" {
		// "/" and "." name the starting group itself.
		v := &Visit{Group: grp, Name: ".", Object: grp.Clone()}
		return e.visit(ctx, v, op)
	}

	for {
		if err := ctx.Err(); err != nil {
			return utils.KeepPrimary(err, grp.Free())
		}

		var comp string
		comp, rest = nextComponent(rest)
		last := rest == ""

		link, found, err := e.lookup(ctx, grp, comp)
		if err != nil {
			return utils.KeepPrimary(err, grp.Free())
		}

		var obj *Location
		if found {
			obj, err = e.resolve(ctx, w, grp, &link, flags, last)
			if err != nil {
				return utils.KeepPrimary(err, grp.Free())
			}
		}

		if last {
			v := &Visit{Group: grp, Name: comp, Object: obj}
			if found {
				v.Link = &link
			}
			return e.visit(ctx, v, op)
		}

		switch {
		case !found && flags&CreateIntermediate != 0:
			obj, err = e.createIntermediate(ctx, grp, comp)
			if err != nil {
				return utils.KeepPrimary(err, grp.Free())
			}
		case !found:
			return utils.KeepPrimary(absent("component %q of %q not found", comp, name), grp.Free())
		case obj == nil:
			return utils.KeepPrimary(absent("component %q of %q does not resolve", comp, name), grp.Free())
		}

		if err := grp.Free(); err != nil {
			return utils.KeepPrimary(err, obj.Free())
		}
		grp = obj
	}
}

func (e *Engine) visit(ctx context.Context, v *Visit, op Operator) error {
	err := op(ctx, v)
	if !v.tookObject && v.Object != nil {
		err = utils.KeepPrimary(err, v.Object.Free())
	}
	if !v.tookGroup {
		err = utils.KeepPrimary(err, v.Group.Free())
	}
	return err
}

func (e *Engine) lookup(ctx context.Context, grp *Location, comp string) (core.Link, bool, error) {
	link, err := grp.File().Store().LookupLink(ctx, grp.Addr(), comp)
	switch {
	case err == nil:
		return link, true, nil
	case errors.Is(err, utils.ErrNotFound) && !errors.Is(err, utils.ErrObjectNotFound):
		return core.Link{}, false, nil
	default:
		return core.Link{}, false, utils.WrapError(fmt.Sprintf("looking up %q in %s", comp, grp), err)
	}
}

// resolve turns a found link into the location of its target. It returns a
// nil location for links left unresolved by flags, and in exists mode for
// links whose target cannot be reached.
func (e *Engine) resolve(ctx context.Context, w *walk, grp *Location, link *core.Link, flags Flags, last bool) (*Location, error) {
	var (
		obj *Location
		err error
	)
	switch {
	case link.Type == core.LinkTypeHard:
		obj = grp.child(link.Name, link.Addr)
	case link.Type == core.LinkTypeSoft && last && flags&TargetSLink != 0,
		link.Type >= core.LinkTypeExternal && last && flags&TargetUDLink != 0:
		return nil, nil
	default:
		if w.nlinks <= 0 {
			return nil, fmt.Errorf("resolving link %q in %s: %w", link.Name, grp, utils.ErrTooManyLinks)
		}
		w.nlinks--

		switch link.Type {
		case core.LinkTypeSoft:
			obj, err = e.traverseSoft(ctx, w, grp, link, flags)
		case core.LinkTypeExternal:
			obj, err = e.traverseExternal(ctx, w, grp, link, flags)
		default:
			obj, err = e.traverseUD(ctx, w, grp, link)
		}
		if err != nil {
			if flags&TargetExists == 0 || errors.Is(err, utils.ErrTooManyLinks) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			e.logger.Debug("link does not resolve",
				slog.String("link", link.Name), slog.String("type", link.Type.String()), slog.String("err", err.Error()))
			return nil, nil
		}
	}

	if !last || flags&TargetMount == 0 {
		if err := crossMounts(obj); err != nil {
			return nil, utils.KeepPrimary(err, obj.Free())
		}
	}
	return obj, nil
}

// crossMounts replaces loc with the root of any file mounted at it, repeating
// for nested mounts.
func crossMounts(loc *Location) error {
	for depth := 0; ; depth++ {
		child, ok := loc.file.mountedAt(loc.addr)
		if !ok {
			return nil
		}
		if depth == MaxMountDepth {
			return fmt.Errorf("crossing mount points at %s: more than %d nested mounts: %w",
				loc, MaxMountDepth, utils.ErrInvalidArgument)
		}
		child.Hold()
		if err := loc.file.Release(); err != nil {
			return utils.KeepPrimary(err, child.Release())
		}
		loc.file = child
		loc.addr = child.store.Root()
	}
}

// targetOf traverses name from start and returns the resolved object.
func (e *Engine) targetOf(ctx context.Context, w *walk, start *Location, name string, flags Flags) (*Location, error) {
	var obj *Location
	err := e.traverse(ctx, w, start, name, flags&TargetExists, func(_ context.Context, v *Visit) error {
		if v.Object == nil {
			return absent("object %q not found", name)
		}
		obj = v.TakeObject()
		return nil
	})
	return obj, err
}

func (e *Engine) traverseSoft(ctx context.Context, w *walk, grp *Location, link *core.Link, flags Flags) (*Location, error) {
	obj, err := e.targetOf(ctx, w, grp, link.Target, flags)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("soft link %q -> %q", link.Name, link.Target), err)
	}
	obj.path = joinPath(grp.path, link.Name)
	return obj, nil
}

func (e *Engine) traverseExternal(ctx context.Context, w *walk, grp *Location, link *core.Link, flags Flags) (*Location, error) {
	if e.external == nil {
		return nil, fmt.Errorf("external link %q: no external opener: %w", link.Name, utils.ErrUnsupported)
	}
	root, err := e.openExternal(ctx, grp.File(), link.ExtFile, w.lapl)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("external link %q", link.Name), err)
	}
	obj, err := e.targetOf(ctx, w, root, link.ExtPath, flags)
	err = utils.KeepPrimary(err, root.Free())
	if err != nil {
		return nil, utils.KeepPrimary(
			utils.WrapError(fmt.Sprintf("external link %q -> %s:%s", link.Name, link.ExtFile, link.ExtPath), err),
			freeAll(obj))
	}
	return obj, nil
}

func (e *Engine) traverseUD(ctx context.Context, w *walk, grp *Location, link *core.Link) (*Location, error) {
	class, err := e.classes.Lookup(link.Type)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("user-defined link %q", link.Name), err)
	}

	cur, err := e.handles.Wrap(ctx, grp.Clone())
	if err != nil {
		return nil, err
	}
	target, err := class.Traverse(ctx, link.Name, cur, link.UDData, w.lapl)
	err = utils.KeepPrimary(err, e.handles.Release(cur))
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("user-defined link %q (%s)", link.Name, class.Name()), err)
	}
	if target == nil {
		return nil, absent("user-defined link %q has no target", link.Name)
	}

	obj, err := e.handles.Unwrap(target)
	err = utils.KeepPrimary(err, e.handles.Release(target))
	if err != nil {
		return nil, utils.KeepPrimary(err, freeAll(obj))
	}
	obj.path = joinPath(grp.path, link.Name)
	return obj, nil
}

// createIntermediate makes a new group named comp inside grp. The new group
// inherits the parent's group info, creation-order tracking and filter
// pipeline.
func (e *Engine) createIntermediate(ctx context.Context, grp *Location, comp string) (*Location, error) {
	store := grp.File().Store()

	ginfo := core.DefaultGroupInfo()
	if err := store.ReadMessage(ctx, grp.addr, core.MsgGroupInfo, &ginfo); err != nil && !errors.Is(err, utils.ErrNotFound) {
		return nil, err
	}
	var linfo *core.LinkInfo
	var parentLinfo core.LinkInfo
	switch err := store.ReadMessage(ctx, grp.addr, core.MsgLinkInfo, &parentLinfo); {
	case err == nil:
		linfo = &core.LinkInfo{TrackCorder: parentLinfo.TrackCorder, IndexCorder: parentLinfo.IndexCorder}
	case !errors.Is(err, utils.ErrNotFound):
		return nil, err
	}
	var pline []byte
	if err := store.ReadMessage(ctx, grp.addr, core.MsgPipeline, &pline); err != nil && !errors.Is(err, utils.ErrNotFound) {
		return nil, err
	}

	addr, err := CreateGroupObject(ctx, store, ginfo, linfo, pline)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("creating intermediate group %q", comp), err)
	}
	if err := InsertLink(ctx, grp, core.NewHardLink(comp, addr)); err != nil {
		return nil, utils.KeepPrimary(
			utils.WrapError(fmt.Sprintf("linking intermediate group %q", comp), err),
			store.DeleteObject(ctx, addr))
	}
	e.logger.Debug("created intermediate group", slog.String("group", joinPath(grp.path, comp)))
	return grp.child(comp, addr), nil
}

// nextComponent splits the first component off name. Repeated separators and
// "." components are skipped.
func nextComponent(name string) (comp, rest string) {
	comp, rest, _ = strings.Cut(name, "/")
	return comp, skipSeparators(rest)
}

func skipSeparators(name string) string {
	for {
		switch {
		case strings.HasPrefix(name, "/"):
			name = name[1:]
		case name == ".":
			return ""
		case strings.HasPrefix(name, "./"):
			name = name[2:]
		default:
			return name
		}
	}
}
