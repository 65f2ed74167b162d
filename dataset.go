package h5vol

import (
	"context"
	"fmt"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/filter"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// Datatype describes dataset elements.
type Datatype = core.Datatype

// Common datatypes, little endian.
var (
	Int8    = Datatype{Class: core.ClassInteger, Size: 1, Signed: true}
	Int16   = Datatype{Class: core.ClassInteger, Size: 2, Signed: true}
	Int32   = Datatype{Class: core.ClassInteger, Size: 4, Signed: true}
	Int64   = Datatype{Class: core.ClassInteger, Size: 8, Signed: true}
	Uint8   = Datatype{Class: core.ClassInteger, Size: 1}
	Uint16  = Datatype{Class: core.ClassInteger, Size: 2}
	Uint32  = Datatype{Class: core.ClassInteger, Size: 4}
	Uint64  = Datatype{Class: core.ClassInteger, Size: 8}
	Float32 = Datatype{Class: core.ClassFloat, Size: 4}
	Float64 = Datatype{Class: core.ClassFloat, Size: 8}
)

// Unlimited marks a maximum dimension without a bound.
const Unlimited = core.Unlimited

// Dataset is an open dataset. Data is read and written as raw element
// bytes in the dataset's datatype.
type Dataset struct {
	Handle
}

type datasetConfig struct {
	parents bool
	chunk   uint64
	maxDims []uint64
	filters []func(*filter.Chain) error
}

// DatasetOption configures dataset creation.
type DatasetOption func(*datasetConfig)

// WithChunk stores the dataset in chunks of n elements. Without it the
// whole extent is one chunk.
func WithChunk(n uint64) DatasetOption {
	return func(cfg *datasetConfig) { cfg.chunk = n }
}

// WithMaxDims sets the largest extent the dataset may grow to.
func WithMaxDims(dims ...uint64) DatasetOption {
	return func(cfg *datasetConfig) { cfg.maxDims = dims }
}

// WithDeflate compresses chunks with zlib at level (1-9).
func WithDeflate(level uint32) DatasetOption {
	return withFilter(func(c *filter.Chain) error { return c.SetDeflate(level) })
}

// WithShuffle reorders element bytes before compression.
func WithShuffle() DatasetOption {
	return withFilter(func(c *filter.Chain) error { return c.SetShuffle() })
}

// WithFletcher32 adds a checksum to every chunk.
func WithFletcher32() DatasetOption {
	return withFilter(func(c *filter.Chain) error { return c.SetFletcher32() })
}

// WithLZF compresses chunks with LZF.
func WithLZF() DatasetOption {
	return withFilter(func(c *filter.Chain) error { return c.SetLZF() })
}

// WithFilter appends filter id with params. It may name a filter loaded
// from the plugin path. An optional filter that fails or is missing is
// skipped for the chunk instead of failing the write.
func WithFilter(id uint16, optional bool, params ...uint32) DatasetOption {
	flags := filter.Mandatory
	if optional {
		flags = filter.Optional
	}
	return withFilter(func(c *filter.Chain) error { return c.Append(filter.ID(id), flags, params...) })
}

// WithParentGroups creates missing groups along the dataset path.
func WithParentGroups() DatasetOption {
	return func(cfg *datasetConfig) { cfg.parents = true }
}

func withFilter(fn func(*filter.Chain) error) DatasetOption {
	return func(cfg *datasetConfig) { cfg.filters = append(cfg.filters, fn) }
}

// CreateDataset creates a dataset of dims elements of dtype at name.
func (h *Handle) CreateDataset(ctx context.Context, name string, dtype Datatype, dims []uint64, opts ...DatasetOption) (*Dataset, error) {
	cfg := &datasetConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if dtype.Size == 0 {
		return nil, fmt.Errorf("datatype size must be positive: %w", utils.ErrInvalidArgument)
	}

	dcpl := plist.New(plist.DatasetCreate)
	defer dcpl.Close()
	if err := dcpl.Set(plist.ChunkElems, cfg.chunk); err != nil {
		return nil, err
	}
	if len(cfg.filters) > 0 {
		err := filter.ModifyChain(dcpl, func(c *filter.Chain) error {
			for _, fn := range cfg.filters {
				if err := fn(c); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, utils.WrapError("invalid filter pipeline", err)
		}
	}

	lcpl, err := intermediateLCPL(cfg.parents)
	if err != nil {
		return nil, err
	}
	defer lcpl.Close()

	space := core.Dataspace{Dims: dims, MaxDims: cfg.maxDims}
	obj, err := h.obj.DatasetCreate(ctx, self, name, lcpl, dtype, space, dcpl, nil, nil)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("create dataset %q", name), err)
	}
	return &Dataset{h.child(obj, name)}, nil
}

// OpenDataset opens the dataset at name.
func (h *Handle) OpenDataset(ctx context.Context, name string) (*Dataset, error) {
	obj, err := h.obj.DatasetOpen(ctx, self, name, nil, nil)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("open dataset %q", name), err)
	}
	return &Dataset{h.child(obj, name)}, nil
}

// Write replaces the dataset contents. data must hold exactly the
// dataset's extent.
func (d *Dataset) Write(ctx context.Context, data []byte) error {
	return d.obj.DatasetWrite(ctx, data, nil, nil)
}

// WriteAsync starts a write and returns the request tracking it. data must
// not be modified until the request completes.
func (d *Dataset) WriteAsync(ctx context.Context, data []byte) (*Request, error) {
	async := vol.NewAsync()
	if err := d.obj.DatasetWrite(ctx, data, nil, async); err != nil {
		return nil, err
	}
	return newRequest(async), nil
}

// Read fills buf with the dataset contents. buf must hold exactly the
// dataset's extent.
func (d *Dataset) Read(ctx context.Context, buf []byte) error {
	return d.obj.DatasetRead(ctx, buf, nil, nil)
}

// ReadUnchecked reads without verifying checksums stored by the
// fletcher32 filter.
func (d *Dataset) ReadUnchecked(ctx context.Context, buf []byte) error {
	dxpl := plist.New(plist.DatasetXfer)
	defer dxpl.Close()
	if err := dxpl.Set(plist.EDC, false); err != nil {
		return err
	}
	return d.obj.DatasetRead(ctx, buf, dxpl, nil)
}

// Dims returns the current extent.
func (d *Dataset) Dims(ctx context.Context) ([]uint64, error) {
	a := &vol.DatasetGetSpace{}
	if err := d.obj.DatasetGet(ctx, a, nil); err != nil {
		return nil, err
	}
	return a.Space.Dims, nil
}

// Type returns the element datatype.
func (d *Dataset) Type(ctx context.Context) (Datatype, error) {
	a := &vol.DatasetGetType{}
	if err := d.obj.DatasetGet(ctx, a, nil); err != nil {
		return Datatype{}, err
	}
	return a.Type, nil
}

// Size returns the number of bytes Read and Write expect.
func (d *Dataset) Size(ctx context.Context) (uint64, error) {
	dims, err := d.Dims(ctx)
	if err != nil {
		return 0, err
	}
	typ, err := d.Type(ctx)
	if err != nil {
		return 0, err
	}
	return utils.DataSize(dims, uint64(typ.Size))
}

// StorageSize returns the bytes the dataset occupies after filtering.
func (d *Dataset) StorageSize(ctx context.Context) (uint64, error) {
	a := &vol.DatasetGetStorageSize{}
	if err := d.obj.DatasetGet(ctx, a, nil); err != nil {
		return 0, err
	}
	return a.Size, nil
}

// SetExtent resizes the dataset within its maximum dimensions.
func (d *Dataset) SetExtent(ctx context.Context, dims ...uint64) error {
	return d.obj.DatasetSpecific(ctx, &vol.DatasetSetExtent{Dims: dims}, nil)
}

// FilterInfo describes one entry of a dataset's filter pipeline.
type FilterInfo struct {
	ID       uint16
	Name     string
	Optional bool
	Params   []uint32
}

// Filters returns the filter pipeline in the order filters are applied on
// write.
func (d *Dataset) Filters(ctx context.Context) ([]FilterInfo, error) {
	a := &vol.DatasetGetDCPL{}
	if err := d.obj.DatasetGet(ctx, a, nil); err != nil {
		return nil, err
	}
	defer a.DCPL.Close()
	chain, err := filter.GetChain(a.DCPL)
	if err != nil {
		return nil, err
	}
	descs := chain.Filters()
	out := make([]FilterInfo, len(descs))
	for i, desc := range descs {
		name := desc.Name
		if name == "" {
			name = d.rt.filters.Name(desc.ID)
		}
		out[i] = FilterInfo{ID: uint16(desc.ID), Name: name, Optional: desc.IsOptional(), Params: desc.Params()}
	}
	return out, nil
}
