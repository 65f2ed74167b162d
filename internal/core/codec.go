// Package core defines the object model shared by the traversal engine, the
// storage layer and the connectors: links, object-header messages and their
// CBOR encoding.
package core

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Canonical encoding so identical messages always produce identical bytes.
var encOptions = cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	ShortestFloat: cbor.ShortestFloatNone,
	Time:          cbor.TimeUnix,
	TimeTag:       cbor.EncTagNone,
	IndefLength:   cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

// Decoding is bounded; stored images and Redis values are untrusted input.
var decOptions = cbor.DecOptions{
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1 << 20,
	MaxNestedLevels:  32,
	IndefLength:      cbor.IndefLengthForbidden,
	DupMapKey:        cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()

// Marshal encodes v with the canonical CBOR encoding.
func Marshal(v any) ([]byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor encode %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	if err := dm.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor decode %T: %w", v, err)
	}
	return nil
}
