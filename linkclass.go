package h5vol

import (
	"context"
	"fmt"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// LinkClass resolves user-defined links of one type.
type LinkClass struct {
	Type LinkType // at least LinkTypeUDMin
	Name string

	// Traverse opens the target of the link linkName in cur. cur is
	// borrowed and must not be closed. The returned group is handed to the
	// traversal, which closes it; a nil group means the link does not
	// resolve.
	Traverse func(ctx context.Context, linkName string, cur *Group, data []byte) (*Group, error)

	// Validate, when set, checks the payload of links being created.
	Validate func(linkName string, data []byte) error
}

// RegisterLinkClass adds a user-defined link class, replacing any class
// registered for the same type.
func (rt *Runtime) RegisterLinkClass(c LinkClass) error {
	if c.Traverse == nil {
		return fmt.Errorf("link class %q: no traverse function: %w", c.Name, utils.ErrInvalidArgument)
	}
	var lc group.LinkClass = &linkClass{rt: rt, c: c}
	if c.Validate != nil {
		lc = &validatingLinkClass{linkClass{rt: rt, c: c}}
	}
	return rt.links.Register(lc)
}

// UnregisterLinkClass removes the class for typ.
func (rt *Runtime) UnregisterLinkClass(typ LinkType) error {
	return rt.links.Unregister(typ)
}

// linkClass adapts a LinkClass to the traversal engine, whose handles are
// connector objects.
type linkClass struct {
	rt *Runtime
	c  LinkClass
}

func (l *linkClass) Type() core.LinkType { return l.c.Type }
func (l *linkClass) Name() string        { return l.c.Name }

func (l *linkClass) Traverse(ctx context.Context, linkName string, cur any, data []byte, _ *plist.List) (any, error) {
	obj, ok := cur.(*vol.Object)
	if !ok {
		return nil, fmt.Errorf("link class %q: group handle %T: %w", l.c.Name, cur, utils.ErrInvalidArgument)
	}
	g, err := l.c.Traverse(ctx, linkName, &Group{Handle{rt: l.rt, obj: obj}}, data)
	if err != nil || g == nil {
		return nil, err
	}
	return g.obj, nil
}

type validatingLinkClass struct {
	linkClass
}

func (l *validatingLinkClass) Validate(linkName string, data []byte) error {
	return l.c.Validate(linkName, data)
}
