package utils

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckMultiplyOverflow(t *testing.T) {
	tests := []struct {
		name    string
		a       uint64
		b       uint64
		wantErr bool
	}{
		{name: "no overflow - small numbers", a: 10, b: 20},
		{name: "no overflow - one zero", a: 0, b: math.MaxUint64},
		{name: "no overflow - both zero"},
		{name: "overflow - max * 2", a: math.MaxUint64, b: 2, wantErr: true},
		{name: "boundary - max * 1", a: math.MaxUint64, b: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckMultiplyOverflow(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSafeMultiply(t *testing.T) {
	got, err := SafeMultiply(1<<20, 1<<10)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<30), got)

	got, err = SafeMultiply(math.MaxUint64, 3)
	require.Error(t, err)
	require.Zero(t, got)
}

func TestDataSize(t *testing.T) {
	tests := []struct {
		name     string
		dims     []uint64
		elemSize uint64
		want     uint64
		wantErr  bool
	}{
		{name: "1D", dims: []uint64{10}, elemSize: 8, want: 80},
		{name: "3D", dims: []uint64{2, 3, 4}, elemSize: 4, want: 96},
		{name: "scalar", dims: nil, elemSize: 4, want: 4},
		{name: "zero extent", dims: []uint64{0, 7}, elemSize: 4, want: 0},
		{name: "zero element size", dims: []uint64{3}, elemSize: 0, wantErr: true},
		{name: "dimension overflow", dims: []uint64{math.MaxUint64, 2}, elemSize: 1, wantErr: true},
		{name: "element overflow", dims: []uint64{math.MaxUint64 / 2}, elemSize: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DataSize(tt.dims, tt.elemSize)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestValidateBufferSize(t *testing.T) {
	require.NoError(t, ValidateBufferSize(0, 10, "empty"))
	require.NoError(t, ValidateBufferSize(10, 10, "at limit"))

	err := ValidateBufferSize(11, 10, "attribute")
	require.Error(t, err)
	require.Contains(t, err.Error(), "attribute")
	require.True(t, errors.Is(err, ErrInvalidArgument))
}
