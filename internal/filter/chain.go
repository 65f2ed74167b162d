package filter

import (
	"fmt"
	"slices"

	"github.com/scigolib/h5vol/internal/utils"
)

// Chain is an ordered filter pipeline. The zero value is an empty chain.
// A Chain is not safe for concurrent mutation.
type Chain struct {
	filters []Descriptor
}

// NewChain returns a chain holding copies of filters in order.
func NewChain(filters ...Descriptor) (*Chain, error) {
	c := &Chain{}
	for _, d := range filters {
		if err := c.AppendNamed(d.ID, d.Flags, d.Name, d.Params()...); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Len returns the number of filters.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.filters)
}

// At returns a copy of the filter at index i.
func (c *Chain) At(i int) (Descriptor, error) {
	if i < 0 || i >= c.Len() {
		return Descriptor{}, fmt.Errorf("filter index %d out of range [0,%d): %w", i, c.Len(), utils.ErrInvalidArgument)
	}
	return c.filters[i].clone(), nil
}

// Filters returns copies of every filter in pipeline order.
func (c *Chain) Filters() []Descriptor {
	out := make([]Descriptor, c.Len())
	for i := range out {
		out[i] = c.filters[i].clone()
	}
	return out
}

// Append adds a filter at the end of the chain. The same id may appear more
// than once.
func (c *Chain) Append(id ID, flags Flags, params ...uint32) error {
	return c.AppendNamed(id, flags, "", params...)
}

// AppendNamed is Append with an explicit filter name.
func (c *Chain) AppendNamed(id ID, flags Flags, name string, params ...uint32) error {
	if err := validate(id, flags); err != nil {
		return err
	}
	if len(c.filters) >= MaxFilters {
		return fmt.Errorf("filter %d: chain already holds %d filters: %w", id, MaxFilters, utils.ErrInvalidArgument)
	}
	c.filters = append(c.filters, NewDescriptor(id, flags, name, params...))
	return nil
}

// Modify replaces the flags and parameters of the first filter with id.
func (c *Chain) Modify(id ID, flags Flags, params ...uint32) error {
	if err := validate(id, flags); err != nil {
		return err
	}
	i := c.index(id)
	if i < 0 {
		return fmt.Errorf("filter %d: %w", id, utils.ErrFilterNotFound)
	}
	c.filters[i].Flags = flags
	c.filters[i].setParams(params)
	return nil
}

// Remove deletes every filter with id, or the whole chain for All. Removing
// from an empty chain is a no-op.
func (c *Chain) Remove(id ID) error {
	if id == All {
		c.filters = nil
		return nil
	}
	if len(c.filters) == 0 {
		return nil
	}
	n := len(c.filters)
	c.filters = slices.DeleteFunc(c.filters, func(d Descriptor) bool { return d.ID == id })
	if len(c.filters) == n {
		return fmt.Errorf("filter %d: %w", id, utils.ErrFilterNotFound)
	}
	return nil
}

// Find returns a copy of the first filter with id.
func (c *Chain) Find(id ID) (Descriptor, error) {
	i := c.index(id)
	if i < 0 {
		return Descriptor{}, fmt.Errorf("filter %d: %w", id, utils.ErrFilterNotFound)
	}
	return c.filters[i].clone(), nil
}

// Has reports whether id appears in the chain.
func (c *Chain) Has(id ID) bool {
	return c.index(id) >= 0
}

func (c *Chain) index(id ID) int {
	if c == nil {
		return -1
	}
	return slices.IndexFunc(c.filters, func(d Descriptor) bool { return d.ID == id })
}

// Clone returns an independent copy of the chain.
func (c *Chain) Clone() *Chain {
	return &Chain{filters: c.Filters()}
}

// Equal reports whether two chains are structurally identical.
func (c *Chain) Equal(other *Chain) bool {
	return Compare(c, other) == 0
}

// Compare orders chains by length, then entry by entry on id, flags, name,
// parameter count and parameter values. A nil chain is empty.
func Compare(a, b *Chain) int {
	la, lb := a.Len(), b.Len()
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	}
	for i := range la {
		if c := compareDescriptors(&a.filters[i], &b.filters[i]); c != 0 {
			return c
		}
	}
	return 0
}

// SetDeflate appends an optional deflate filter with the given level (0-9).
func (c *Chain) SetDeflate(level uint32) error {
	if level > 9 {
		return fmt.Errorf("deflate level %d: %w", level, utils.ErrInvalidArgument)
	}
	return c.AppendNamed(Deflate, Optional, "deflate", level)
}

// SetShuffle appends an optional shuffle filter. Its element size is filled
// in when the chain is bound to a datatype.
func (c *Chain) SetShuffle() error {
	return c.AppendNamed(Shuffle, Optional, "shuffle")
}

// SetFletcher32 appends a mandatory Fletcher32 checksum filter.
func (c *Chain) SetFletcher32() error {
	return c.AppendNamed(Fletcher32, Mandatory, "fletcher32")
}

// SetLZF appends an optional LZF filter.
func (c *Chain) SetLZF() error {
	return c.AppendNamed(LZF, Optional, "lzf")
}
