package filter

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5vol/internal/utils"
)

// Pipeline message versions.
const (
	MessageV1 = 1
	MessageV2 = 2
)

// Encode serializes the chain as a pipeline message.
//
// Version 1 carries six reserved header bytes, null-terminated names padded
// to eight bytes and parameter lists padded to an even count. Version 2 drops
// the padding and omits names for library filters (ids below Reserved).
func (c *Chain) Encode(version int) ([]byte, error) {
	if version != MessageV1 && version != MessageV2 {
		return nil, fmt.Errorf("pipeline message version %d: %w", version, utils.ErrInvalidArgument)
	}

	buf := make([]byte, 0, 8+c.Len()*32)
	buf = append(buf, byte(version), byte(c.Len()))
	if version == MessageV1 {
		buf = append(buf, 0, 0, 0, 0, 0, 0)
	}

	for i := range c.Len() {
		buf = encodeFilter(buf, &c.filters[i], version)
	}
	return buf, nil
}

func encodeFilter(buf []byte, d *Descriptor, version int) []byte {
	hasName := version == MessageV1 || d.ID >= Reserved
	var nameLen int
	if hasName && d.Name != "" {
		nameLen = len(d.Name) + 1
		if version == MessageV1 {
			nameLen = (nameLen + 7) &^ 7
		}
	}

	buf = binary.LittleEndian.AppendUint16(buf, uint16(d.ID))
	if hasName {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(nameLen)) //nolint:gosec // G115: names are short
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(d.Flags))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(d.n)) //nolint:gosec // G115: parameter count bounded by message format

	if nameLen > 0 {
		name := make([]byte, nameLen)
		copy(name, d.Name)
		buf = append(buf, name...)
	}
	for i := range d.n {
		buf = binary.LittleEndian.AppendUint32(buf, d.Param(i))
	}
	if version == MessageV1 && d.n%2 != 0 {
		buf = append(buf, 0, 0, 0, 0)
	}
	return buf
}

// DecodeChain parses a pipeline message produced by Encode.
func DecodeChain(data []byte) (*Chain, error) {
	r := reader{data: data}
	version := int(r.u8())
	n := int(r.u8())
	if r.err != nil {
		return nil, r.fail("header")
	}
	switch version {
	case MessageV1:
		r.skip(6)
	case MessageV2:
	default:
		return nil, fmt.Errorf("pipeline message version %d: %w", version, utils.ErrInvalidArgument)
	}
	if n > MaxFilters {
		return nil, fmt.Errorf("pipeline message holds %d filters: %w", n, utils.ErrInvalidArgument)
	}

	c := &Chain{filters: make([]Descriptor, 0, n)}
	for i := range n {
		id := ID(r.u16())
		var nameLen int
		if version == MessageV1 || id >= Reserved {
			nameLen = int(r.u16())
		}
		flags := Flags(r.u16())
		nparams := int(r.u16())
		name := r.cstring(nameLen)
		params := make([]uint32, nparams)
		for j := range params {
			params[j] = r.u32()
		}
		if version == MessageV1 && nparams%2 != 0 {
			r.skip(4)
		}
		if r.err != nil {
			return nil, r.fail(fmt.Sprintf("filter %d", i))
		}
		if err := validate(id, flags); err != nil {
			return nil, utils.WrapError(fmt.Sprintf("decoding filter %d", i), err)
		}
		c.filters = append(c.filters, NewDescriptor(id, flags, name, params...))
	}
	return c, nil
}

type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d", n, r.off, len(r.data)-r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) { r.take(n) }

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// cstring reads a null-padded name field of n bytes.
func (r *reader) cstring(n int) string {
	b := r.take(n)
	for i, ch := range b {
		if ch == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (r *reader) fail(what string) error {
	return fmt.Errorf("truncated pipeline message (%s): %v: %w", what, r.err, utils.ErrInvalidArgument)
}
