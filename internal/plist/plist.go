// Package plist implements property lists: named, typed settings attached to
// create, access and transfer operations.
//
// Values are stored as-is; properties that own resources (filter chains,
// connector references) install Hooks so that copying, comparing and closing a
// list manages them correctly.
package plist

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/scigolib/h5vol/internal/utils"
)

// Class identifies the kind of operation a list configures.
type Class uint8

// Property list classes.
const (
	FileCreate Class = iota
	FileAccess
	FileMount
	GroupCreate
	GroupAccess
	DatasetCreate
	DatasetAccess
	DatasetXfer
	DatatypeCreate
	DatatypeAccess
	AttrCreate
	AttrAccess
	LinkCreate
	LinkAccess
	ObjectCopy
	VOLInit
)

var classNames = [...]string{
	FileCreate:     "file create",
	FileAccess:     "file access",
	FileMount:      "file mount",
	GroupCreate:    "group create",
	GroupAccess:    "group access",
	DatasetCreate:  "dataset create",
	DatasetAccess:  "dataset access",
	DatasetXfer:    "dataset transfer",
	DatatypeCreate: "datatype create",
	DatatypeAccess: "datatype access",
	AttrCreate:     "attribute create",
	AttrAccess:     "attribute access",
	LinkCreate:     "link create",
	LinkAccess:     "link access",
	ObjectCopy:     "object copy",
	VOLInit:        "VOL initialize",
}

// String returns the class name.
func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", c)
}

// Hooks manage property values that own resources. Nil hooks fall back to
// plain assignment, == comparison and no cleanup.
type Hooks struct {
	Copy    func(v any) (any, error)
	Compare func(a, b any) int
	Close   func(v any) error
}

type property struct {
	value any
	hooks Hooks
}

// List is a set of named properties of one class.
type List struct {
	class Class
	props map[string]*property
}

// New returns a list of class seeded with the class defaults.
func New(class Class) *List {
	l := &List{class: class, props: make(map[string]*property)}
	for name, v := range classDefaults(class) {
		l.props[name] = &property{value: v}
	}
	return l
}

// Class returns the list's class.
func (l *List) Class() Class {
	return l.class
}

// Has reports whether the property exists on the list.
func (l *List) Has(name string) bool {
	_, ok := l.props[name]
	return ok
}

// Get returns the value of a property.
func (l *List) Get(name string) (any, error) {
	p, ok := l.props[name]
	if !ok {
		return nil, fmt.Errorf("property %q on %s list: %w", name, l.class, utils.ErrNotFound)
	}
	return p.value, nil
}

// Set replaces the value of an existing property, closing the previous value.
func (l *List) Set(name string, v any) error {
	p, ok := l.props[name]
	if !ok {
		return fmt.Errorf("property %q on %s list: %w", name, l.class, utils.ErrNotFound)
	}
	if p.hooks.Close != nil && p.value != nil {
		if err := p.hooks.Close(p.value); err != nil {
			return utils.WrapError(fmt.Sprintf("closing previous value of %q", name), err)
		}
	}
	p.value = v
	return nil
}

// Insert adds a property with hooks, or replaces value and hooks of an
// existing one.
func (l *List) Insert(name string, v any, hooks Hooks) error {
	if p, ok := l.props[name]; ok {
		if err := l.Set(name, v); err != nil {
			return err
		}
		p.hooks = hooks
		return nil
	}
	l.props[name] = &property{value: v, hooks: hooks}
	return nil
}

// Delete removes a property, closing its value.
func (l *List) Delete(name string) error {
	p, ok := l.props[name]
	if !ok {
		return fmt.Errorf("property %q on %s list: %w", name, l.class, utils.ErrNotFound)
	}
	delete(l.props, name)
	if p.hooks.Close != nil && p.value != nil {
		return p.hooks.Close(p.value)
	}
	return nil
}

// Names returns the property names in sorted order.
func (l *List) Names() []string {
	return slices.Sorted(maps.Keys(l.props))
}

// Copy returns an independent list; properties with a copy hook are deep-copied.
func (l *List) Copy() (*List, error) {
	out := &List{class: l.class, props: make(map[string]*property, len(l.props))}
	for name, p := range l.props {
		v := p.value
		if p.hooks.Copy != nil && v != nil {
			var err error
			if v, err = p.hooks.Copy(v); err != nil {
				_ = out.Close()
				return nil, utils.WrapError(fmt.Sprintf("copying property %q", name), err)
			}
		}
		out.props[name] = &property{value: v, hooks: p.hooks}
	}
	return out, nil
}

// Compare orders two lists by class, property count, property names and
// then property values.
func (l *List) Compare(other *List) int {
	if c := cmp.Compare(l.class, other.class); c != 0 {
		return c
	}
	if c := cmp.Compare(len(l.props), len(other.props)); c != 0 {
		return c
	}
	names, otherNames := l.Names(), other.Names()
	if c := slices.Compare(names, otherNames); c != 0 {
		return c
	}
	for _, name := range names {
		a, b := l.props[name], other.props[name]
		if a.hooks.Compare != nil {
			if c := a.hooks.Compare(a.value, b.value); c != 0 {
				return c
			}
			continue
		}
		if c := compareValues(a.value, b.value); c != 0 {
			return c
		}
	}
	return 0
}

// Equal reports whether two lists compare equal.
func (l *List) Equal(other *List) bool {
	return l.Compare(other) == 0
}

// Close releases every property value that owns resources.
func (l *List) Close() error {
	var first error
	for name, p := range l.props {
		if p.hooks.Close != nil && p.value != nil {
			if err := p.hooks.Close(p.value); err != nil && first == nil {
				first = utils.WrapError(fmt.Sprintf("closing property %q", name), err)
			}
		}
	}
	clear(l.props)
	return first
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case int:
		if bv, ok := b.(int); ok {
			return cmp.Compare(av, bv)
		}
	case uint64:
		if bv, ok := b.(uint64); ok {
			return cmp.Compare(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return cmp.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	}
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	// Values of uncomparable types order by their printed form.
	return cmp.Compare(fmt.Sprintf("%T%v", a, a), fmt.Sprintf("%T%v", b, b))
}
