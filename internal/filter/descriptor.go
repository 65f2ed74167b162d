// Package filter implements the data filter pipeline attached to dataset and
// group creation properties.
//
// A Chain is an ordered list of filter descriptors. Filters are applied in
// chain order when chunk data is written and removed in reverse order when it
// is read. Codec implementations are found through a Registry, which falls
// back to dynamically loaded plugins for ids it does not know.
package filter

import (
	"fmt"
	"slices"

	"github.com/scigolib/h5vol/internal/utils"
)

// ID is a filter identifier. Ids below Reserved belong to the library.
type ID uint16

// Standard filter identifiers.
const (
	All         ID = 0 // Remove sentinel; never a valid filter id
	Deflate     ID = 1
	Shuffle     ID = 2
	Fletcher32  ID = 3
	SZIP        ID = 4
	NBit        ID = 5
	ScaleOffset ID = 6
	Reserved    ID = 256
	BZIP2       ID = 307
	LZF         ID = 32000
)

// Flags are per-filter behaviour bits.
type Flags uint16

// Filter flags.
const (
	Mandatory Flags = 0
	Optional  Flags = 0x0001
)

// MaxFilters is the longest chain a pipeline may hold.
const MaxFilters = 32

// inlineParams is how many parameters a descriptor holds without allocating.
const inlineParams = 4

// Descriptor is one entry of a filter chain.
type Descriptor struct {
	ID    ID
	Flags Flags
	Name  string

	n      int
	inline [inlineParams]uint32
	spill  []uint32
}

// NewDescriptor returns a descriptor holding a copy of params.
func NewDescriptor(id ID, flags Flags, name string, params ...uint32) Descriptor {
	d := Descriptor{ID: id, Flags: flags, Name: name}
	d.setParams(params)
	return d
}

func (d *Descriptor) setParams(params []uint32) {
	d.n = len(params)
	d.inline = [inlineParams]uint32{}
	d.spill = nil
	if len(params) > inlineParams {
		d.spill = slices.Clone(params)
		return
	}
	copy(d.inline[:], params)
}

// NumParams returns the number of client parameters.
func (d Descriptor) NumParams() int {
	return d.n
}

// Param returns parameter i.
func (d Descriptor) Param(i int) uint32 {
	if d.spill != nil {
		return d.spill[i]
	}
	return d.inline[:d.n][i]
}

// Params returns a copy of the client parameters.
func (d Descriptor) Params() []uint32 {
	if d.spill != nil {
		return slices.Clone(d.spill)
	}
	if d.n == 0 {
		return nil
	}
	return slices.Clone(d.inline[:d.n])
}

// Spilled reports whether the parameters live on the heap.
func (d Descriptor) Spilled() bool {
	return d.spill != nil
}

// IsOptional reports whether failures of this filter may be skipped on write.
func (d Descriptor) IsOptional() bool {
	return d.Flags&Optional != 0
}

func (d Descriptor) clone() Descriptor {
	out := d
	if d.spill != nil {
		out.spill = slices.Clone(d.spill)
	}
	return out
}

// String formats the descriptor for listings.
func (d Descriptor) String() string {
	name := d.Name
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf("%d(%s) flags=%#x params=%v", d.ID, name, uint16(d.Flags), d.Params())
}

func compareDescriptors(a, b *Descriptor) int {
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	case a.Flags < b.Flags:
		return -1
	case a.Flags > b.Flags:
		return 1
	}
	if c := compareNames(a.Name, b.Name); c != 0 {
		return c
	}
	switch {
	case a.n < b.n:
		return -1
	case a.n > b.n:
		return 1
	}
	for i := range a.n {
		pa, pb := a.Param(i), b.Param(i)
		switch {
		case pa < pb:
			return -1
		case pa > pb:
			return 1
		}
	}
	return 0
}

// compareNames orders an absent name before any present one, then bytewise.
func compareNames(a, b string) int {
	switch {
	case a == "" && b != "":
		return -1
	case a != "" && b == "":
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func validate(id ID, flags Flags) error {
	if id == All {
		return fmt.Errorf("filter id 0: %w", utils.ErrInvalidArgument)
	}
	if flags&^Optional != 0 {
		return fmt.Errorf("filter %d flags %#x: %w", id, uint16(flags), utils.ErrInvalidArgument)
	}
	return nil
}
