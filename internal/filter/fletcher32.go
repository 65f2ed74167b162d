package filter

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5vol/internal/utils"
)

// Fletcher32Codec appends a Fletcher-32 checksum (id 3). Remove verifies and
// strips it; Strip drops it unverified when error detection is off.
type Fletcher32Codec struct{}

// ID returns Fletcher32.
func (Fletcher32Codec) ID() ID { return Fletcher32 }

// Name returns "fletcher32".
func (Fletcher32Codec) Name() string { return "fletcher32" }

// Apply appends the little-endian checksum of data.
func (Fletcher32Codec) Apply(_ []uint32, data []byte) ([]byte, error) {
	out := make([]byte, len(data)+4)
	copy(out, data)
	binary.LittleEndian.PutUint32(out[len(data):], fletcher32(data))
	return out, nil
}

// Remove checks and strips the trailing checksum.
func (c Fletcher32Codec) Remove(_ []uint32, data []byte) ([]byte, error) {
	payload, err := c.Strip(data)
	if err != nil {
		return nil, err
	}
	stored := binary.LittleEndian.Uint32(data[len(payload):])
	if sum := fletcher32(payload); sum != stored {
		return nil, fmt.Errorf("fletcher32 checksum mismatch: stored=%08x, calculated=%08x: %w",
			stored, sum, utils.ErrIO)
	}
	return payload, nil
}

// Strip drops the trailing checksum.
func (Fletcher32Codec) Strip(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for fletcher32: %d bytes: %w", len(data), utils.ErrIO)
	}
	return data[:len(data)-4], nil
}

// fletcher32 sums little-endian 16-bit words modulo 65535; an odd trailing
// byte counts as a word with a zero high byte.
func fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	i := 0
	for ; i+1 < len(data); i += 2 {
		sum1 = (sum1 + (uint32(data[i]) | uint32(data[i+1])<<8)) % 65535
		sum2 = (sum2 + sum1) % 65535
	}
	if i < len(data) {
		sum1 = (sum1 + uint32(data[i])) % 65535
		sum2 = (sum2 + sum1) % 65535
	}
	return sum2<<16 | sum1
}
