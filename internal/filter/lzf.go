package filter

import (
	"errors"
	"fmt"
)

// LZFCodec implements LZF compression (id 32000), the fast LZ77 variant
// registered by PyTables. Parameters are carried through unchanged.
//
// Compressed data is a sequence of segments:
//
//	000LLLLL              literal run of L+1 bytes
//	RRROOOOO OOOOOOOO     back reference of R+2 bytes (R < 7)
//	111OOOOO OOOOOOOO R   back reference of R+9 bytes
//
// with a 13-bit distance O+1 into the already decoded output.
type LZFCodec struct{}

// ID returns LZF.
func (LZFCodec) ID() ID { return LZF }

// Name returns "lzf".
func (LZFCodec) Name() string { return "lzf" }

// Apply compresses data.
func (LZFCodec) Apply(_ []uint32, data []byte) ([]byte, error) {
	return lzfCompress(data), nil
}

// Remove decompresses data.
func (LZFCodec) Remove(_ []uint32, data []byte) ([]byte, error) {
	out, err := lzfDecompress(data)
	if err != nil {
		return nil, fmt.Errorf("lzf decompression failed: %w", err)
	}
	return out, nil
}

const (
	lzfHashLog   = 14
	lzfMaxOffset = 1 << 13
	lzfMaxLit    = 32
	lzfMaxRef    = 264
)

func lzfHash(b0, b1, b2 byte) uint32 {
	v := uint32(b0)<<16 | uint32(b1)<<8 | uint32(b2)
	v ^= v >> 16
	v *= 0x45d9f3b
	v ^= v >> 16
	return v & (1<<lzfHashLog - 1)
}

func lzfCompress(in []byte) []byte {
	if len(in) == 0 {
		return in
	}

	out := make([]byte, 0, len(in)+len(in)/lzfMaxLit+1)
	// Positions are stored +1 so that zero means empty.
	var table [1 << lzfHashLog]int
	lit := 0
	pos := 0
	for pos+3 <= len(in) {
		h := lzfHash(in[pos], in[pos+1], in[pos+2])
		ref := table[h] - 1
		table[h] = pos + 1

		dist := pos - ref
		if ref < 0 || dist > lzfMaxOffset ||
			in[ref] != in[pos] || in[ref+1] != in[pos+1] || in[ref+2] != in[pos+2] {
			pos++
			continue
		}

		out = lzfLiterals(out, in[lit:pos])
		n := 3
		limit := min(len(in)-pos, lzfMaxRef)
		for n < limit && in[ref+n] == in[pos+n] {
			n++
		}
		out = lzfBackref(out, dist, n)

		for i := pos + 1; i < pos+n && i+2 < len(in); i++ {
			table[lzfHash(in[i], in[i+1], in[i+2])] = i + 1
		}
		pos += n
		lit = pos
	}
	return lzfLiterals(out, in[lit:])
}

func lzfLiterals(out, lit []byte) []byte {
	for len(lit) > 0 {
		n := min(len(lit), lzfMaxLit)
		out = append(out, byte(n-1))
		out = append(out, lit[:n]...)
		lit = lit[n:]
	}
	return out
}

func lzfBackref(out []byte, dist, n int) []byte {
	off := dist - 1
	if n <= 8 {
		return append(out, byte((n-2)<<5|off>>8), byte(off))
	}
	return append(out, byte(0xE0|off>>8), byte(off), byte(n-9))
}

func lzfDecompress(in []byte) ([]byte, error) {
	out := make([]byte, 0, len(in)*2)
	for pos := 0; pos < len(in); {
		ctrl := in[pos]
		pos++

		if ctrl < 0x20 {
			n := int(ctrl) + 1
			if pos+n > len(in) {
				return nil, errors.New("truncated literal run")
			}
			out = append(out, in[pos:pos+n]...)
			pos += n
			continue
		}

		if pos >= len(in) {
			return nil, errors.New("truncated back reference")
		}
		dist := (int(ctrl&0x1F)<<8 | int(in[pos])) + 1
		pos++

		n := int(ctrl>>5) + 2
		if ctrl&0xE0 == 0xE0 {
			if pos >= len(in) {
				return nil, errors.New("truncated long back reference")
			}
			n = int(in[pos]) + 9
			pos++
		}
		if dist > len(out) {
			return nil, fmt.Errorf("back reference distance %d beyond %d decoded bytes", dist, len(out))
		}
		// Source and destination may overlap, so copy byte by byte.
		src := len(out) - dist
		for i := range n {
			out = append(out, out[src+i])
		}
	}
	return out, nil
}
