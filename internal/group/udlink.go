package group

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
)

// LinkClass resolves user-defined links of one type.
type LinkClass interface {
	Type() core.LinkType
	Name() string
	// Traverse returns a handle to the link target. cur is a handle to the
	// group holding the link; both handles come from the engine's
	// HandleWrapper. A nil target means the link does not resolve.
	Traverse(ctx context.Context, linkName string, cur any, data []byte, lapl *plist.List) (any, error)
}

// LinkValidator is implemented by link classes that check payloads when a
// link is created.
type LinkValidator interface {
	Validate(linkName string, data []byte) error
}

// LinkClassRegistry maps user-defined link types to their classes. It is safe
// for concurrent use.
type LinkClassRegistry struct {
	mu      sync.RWMutex
	classes map[core.LinkType]LinkClass
}

// NewLinkClassRegistry returns an empty registry.
func NewLinkClassRegistry() *LinkClassRegistry {
	return &LinkClassRegistry{classes: make(map[core.LinkType]LinkClass)}
}

// Register adds c, replacing any class registered for the same type.
func (r *LinkClassRegistry) Register(c LinkClass) error {
	if c == nil || c.Type() < core.LinkTypeUDMin {
		return fmt.Errorf("registering link class: type must be at least %d: %w", core.LinkTypeUDMin, utils.ErrInvalidArgument)
	}
	r.mu.Lock()
	r.classes[c.Type()] = c
	r.mu.Unlock()
	return nil
}

// Unregister removes the class for typ.
func (r *LinkClassRegistry) Unregister(typ core.LinkType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[typ]; !ok {
		return fmt.Errorf("link class %d: %w", typ, utils.ErrNotFound)
	}
	delete(r.classes, typ)
	return nil
}

// Lookup returns the class for typ.
func (r *LinkClassRegistry) Lookup(typ core.LinkType) (LinkClass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[typ]
	if !ok {
		return nil, fmt.Errorf("link class %d is not registered: %w", typ, utils.ErrNotFound)
	}
	return c, nil
}

// IsRegistered reports whether typ has a class.
func (r *LinkClassRegistry) IsRegistered(typ core.LinkType) bool {
	_, err := r.Lookup(typ)
	return err == nil
}

// Types returns the registered types in ascending order.
func (r *LinkClassRegistry) Types() []core.LinkType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.classes))
}

// HandleWrapper converts between locations and the handles user-defined link
// classes work with.
type HandleWrapper interface {
	// Wrap takes ownership of loc and returns a handle for it. ctx is the
	// context of the traversal that reached the link.
	Wrap(ctx context.Context, loc *Location) (any, error)
	// Unwrap returns a new location for the object behind h. The handle stays
	// valid.
	Unwrap(h any) (*Location, error)
	// Release drops a handle.
	Release(h any) error
}

// LocationHandles uses *Location values as handles.
type LocationHandles struct{}

// Wrap returns loc.
func (LocationHandles) Wrap(_ context.Context, loc *Location) (any, error) { return loc, nil }

// Unwrap clones the location behind h.
func (LocationHandles) Unwrap(h any) (*Location, error) {
	loc, ok := h.(*Location)
	if !ok || !loc.Valid() {
		return nil, fmt.Errorf("handle %T is not a location: %w", h, utils.ErrInvalidArgument)
	}
	return loc.Clone(), nil
}

// Release frees the location behind h.
func (LocationHandles) Release(h any) error {
	if loc, ok := h.(*Location); ok {
		return loc.Free()
	}
	return nil
}
