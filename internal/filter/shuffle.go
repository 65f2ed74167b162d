package filter

import (
	"fmt"

	"github.com/scigolib/h5vol/internal/utils"
)

// ShuffleCodec implements byte shuffle (id 2). It transposes the data so that
// byte k of every element is stored together, which helps a following
// compressor on numeric data:
//
//	Original: [A1 A2 A3 A4 B1 B2 B3 B4 C1 C2 C3 C4]
//	Shuffled: [A1 B1 C1 A2 B2 C2 A3 B3 C3 A4 B4 C4]
//
// The element size is the first parameter and is set from the datatype.
type ShuffleCodec struct{}

// ID returns Shuffle.
func (ShuffleCodec) ID() ID { return Shuffle }

// Name returns "shuffle".
func (ShuffleCodec) Name() string { return "shuffle" }

// SetLocal stores the element size as the only parameter.
func (ShuffleCodec) SetLocal(elemSize uint32, _ []uint32) ([]uint32, error) {
	if elemSize == 0 {
		return nil, fmt.Errorf("shuffle element size 0: %w", utils.ErrInvalidArgument)
	}
	return []uint32{elemSize}, nil
}

// Apply shuffles data.
func (ShuffleCodec) Apply(params []uint32, data []byte) ([]byte, error) {
	return shuffle(params, data, false)
}

// Remove restores the original byte order.
func (ShuffleCodec) Remove(params []uint32, data []byte) ([]byte, error) {
	return shuffle(params, data, true)
}

func shuffle(params []uint32, data []byte, reverse bool) ([]byte, error) {
	if len(params) < 1 || params[0] == 0 {
		return nil, fmt.Errorf("shuffle parameters %v: %w", params, utils.ErrInvalidArgument)
	}
	size := int(params[0])
	if size == 1 || len(data) == 0 {
		return data, nil
	}

	// A trailing partial element is copied through untouched.
	n := len(data) / size
	out := make([]byte, len(data))
	copy(out[n*size:], data[n*size:])
	for b := range size {
		for e := range n {
			packed, spread := b*n+e, e*size+b
			if reverse {
				out[spread] = data[packed]
			} else {
				out[packed] = data[spread]
			}
		}
	}
	return out, nil
}
