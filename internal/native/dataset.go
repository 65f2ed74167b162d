package native

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/filter"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

type datasetOps struct{ n *Native }

// numChunks returns how many chunks hold total elements. A zero chunk size
// stores everything in one chunk.
func numChunks(total, chunkElems uint64) uint64 {
	switch {
	case total == 0:
		return 0
	case chunkElems == 0:
		return 1
	default:
		return (total + chunkElems - 1) / chunkElems
	}
}

func datasetSize(space core.Dataspace, typ core.Datatype) (uint64, error) {
	size, err := utils.DataSize(space.Dims, uint64(typ.Size))
	if err != nil {
		return 0, err
	}
	if err := utils.ValidateBufferSize(size, utils.MaxDatasetSize, "dataset extent"); err != nil {
		return 0, err
	}
	return size, nil
}

func (o datasetOps) Create(ctx context.Context, obj any, lp vol.LocParams, name string, lcpl *plist.List, typ core.Datatype, space core.Dataspace, dcpl, _ *plist.List, _ *vol.Async) (any, error) {
	if err := space.Validate(); err != nil {
		return nil, fmt.Errorf("creating dataset %q: %v: %w", name, err, utils.ErrInvalidArgument)
	}
	if _, err := datasetSize(space, typ); err != nil {
		return nil, utils.WrapError(fmt.Sprintf("creating dataset %q", name), err)
	}

	chain, err := filter.GetChain(dcpl)
	if err != nil {
		return nil, err
	}
	if err := o.n.pipeline.SetLocal(ctx, chain, typ.Size); err != nil {
		return nil, utils.WrapError(fmt.Sprintf("creating dataset %q", name), err)
	}
	var pline []byte
	if chain.Len() > 0 {
		if pline, err = chain.Encode(filter.MessageV2); err != nil {
			return nil, err
		}
	}
	chunkElems := plist.Uint64(dcpl, plist.ChunkElems, 0)
	layout := core.Layout{ChunkElems: chunkElems, NumChunks: numChunks(space.NumElements(), chunkElems)}

	loc, err := o.n.create(ctx, obj, lp, name, lcpl, func(ctx context.Context, store storage.Store) (core.Address, error) {
		addr, err := store.CreateObject(ctx, core.ObjectDataset)
		if err != nil {
			return core.AddrUndef, err
		}
		err = store.WriteMessage(ctx, addr, core.MsgDataspace, space)
		if err == nil {
			err = store.WriteMessage(ctx, addr, core.MsgDatatype, typ)
		}
		if err == nil {
			err = store.WriteMessage(ctx, addr, core.MsgLayout, layout)
		}
		if err == nil && len(pline) > 0 {
			err = store.WriteMessage(ctx, addr, core.MsgPipeline, pline)
		}
		if err != nil {
			return core.AddrUndef, utils.KeepPrimary(err, store.DeleteObject(ctx, addr))
		}
		return addr, nil
	})
	if err != nil {
		return nil, err
	}

	d := &datasetObj{loc: loc, space: space, typ: typ, layout: layout, chain: chain}
	if d.dcpl, err = datasetCreateList(layout, chain); err != nil {
		return nil, utils.KeepPrimary(err, loc.Free())
	}
	o.n.track(loc.File(), vol.ObjDataset, 1)
	return d, nil
}

func datasetCreateList(layout core.Layout, chain *filter.Chain) (*plist.List, error) {
	dcpl := plist.New(plist.DatasetCreate)
	err := dcpl.Set(plist.ChunkElems, layout.ChunkElems)
	if err == nil && chain.Len() > 0 {
		err = filter.SetChain(dcpl, chain)
	}
	if err != nil {
		return nil, utils.KeepPrimary(err, dcpl.Close())
	}
	return dcpl, nil
}

// load reads the dataset metadata from storage. The caller holds d.mu or
// owns d exclusively.
func (d *datasetObj) load(ctx context.Context) error {
	store := d.loc.File().Store()
	var (
		space  core.Dataspace
		typ    core.Datatype
		layout core.Layout
		pline  []byte
	)
	err := store.ReadMessage(ctx, d.loc.Addr(), core.MsgDataspace, &space)
	if err == nil {
		err = store.ReadMessage(ctx, d.loc.Addr(), core.MsgDatatype, &typ)
	}
	if err == nil {
		err = store.ReadMessage(ctx, d.loc.Addr(), core.MsgLayout, &layout)
	}
	if err != nil {
		return utils.WrapError(fmt.Sprintf("reading dataset %q", d.loc.Path()), err)
	}
	chain := &filter.Chain{}
	ok, err := readMsg(ctx, d.loc, core.MsgPipeline, &pline)
	if err != nil {
		return err
	}
	if ok {
		if chain, err = filter.DecodeChain(pline); err != nil {
			return utils.WrapError(fmt.Sprintf("dataset %q pipeline", d.loc.Path()), err)
		}
	}
	dcpl, err := datasetCreateList(layout, chain)
	if err != nil {
		return err
	}
	if d.dcpl != nil {
		if err := d.dcpl.Close(); err != nil {
			return utils.KeepPrimary(err, dcpl.Close())
		}
	}
	d.space, d.typ, d.layout, d.chain, d.dcpl = space, typ, layout, chain, dcpl
	return nil
}

func (o datasetOps) Open(ctx context.Context, obj any, lp vol.LocParams, name string, _ *plist.List, _ *vol.Async) (any, error) {
	if name != "" {
		lp = vol.ByName(vol.ObjDataset, name, lp.Lapl)
	}
	loc, err := o.n.resolve(ctx, obj, lp)
	if err != nil {
		return nil, err
	}
	if err := checkType(ctx, loc, core.ObjectDataset); err != nil {
		return nil, utils.KeepPrimary(err, loc.Free())
	}
	d := &datasetObj{loc: loc}
	if err := d.load(ctx); err != nil {
		return nil, utils.KeepPrimary(err, loc.Free())
	}
	o.n.track(loc.File(), vol.ObjDataset, 1)
	return d, nil
}

func asDataset(obj any) (*datasetObj, error) {
	d, ok := obj.(*datasetObj)
	if !ok || !d.loc.Valid() {
		return nil, fmt.Errorf("%T is not an open native dataset: %w", obj, utils.ErrInvalidArgument)
	}
	return d, nil
}

// chunkSpan returns the byte range chunk idx covers in a buffer of size bytes.
func (d *datasetObj) chunkSpan(idx, size uint64) (uint64, uint64) {
	if d.layout.ChunkElems == 0 {
		return 0, size
	}
	step := d.layout.ChunkElems * uint64(d.typ.Size)
	return idx * step, min((idx+1)*step, size)
}

// readAll decodes every chunk into buf. Chunks never written read as zeros.
// The caller holds d.mu.
func (o datasetOps) readAll(ctx context.Context, d *datasetObj, buf []byte, edc bool) error {
	store := d.loc.File().Store()
	for idx := range d.layout.NumChunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		start, end := d.chunkSpan(idx, uint64(len(buf)))
		dst := buf[start:end]
		c, err := store.ReadChunk(ctx, d.loc.Addr(), idx)
		switch {
		case errors.Is(err, utils.ErrNotFound) && !errors.Is(err, utils.ErrObjectNotFound):
			clear(dst)
			continue
		case err != nil:
			return err
		case c.Size == 0:
			clear(dst)
			continue
		}
		raw, err := o.n.pipeline.Remove(ctx, d.chain, c.Mask, c.Data, edc)
		if err != nil {
			return utils.WrapError(fmt.Sprintf("dataset %q chunk %d", d.loc.Path(), idx), err)
		}
		if uint64(len(raw)) != c.Size || c.Size != end-start {
			return fmt.Errorf("dataset %q chunk %d: decoded %d bytes, want %d: %w",
				d.loc.Path(), idx, len(raw), end-start, utils.ErrIO)
		}
		copy(dst, raw)
	}
	return nil
}

// writeAll encodes buf into chunks. The caller holds d.mu.
func (o datasetOps) writeAll(ctx context.Context, d *datasetObj, buf []byte) error {
	store := d.loc.File().Store()
	for idx := range d.layout.NumChunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		start, end := d.chunkSpan(idx, uint64(len(buf)))
		raw := buf[start:end]
		out, mask, err := o.n.pipeline.Apply(ctx, d.chain, slices.Clone(raw))
		if err != nil {
			return utils.WrapError(fmt.Sprintf("dataset %q chunk %d", d.loc.Path(), idx), err)
		}
		if err := store.WriteChunk(ctx, d.loc.Addr(), idx, core.Chunk{Mask: mask, Size: uint64(len(raw)), Data: out}); err != nil {
			return err
		}
	}
	return nil
}

func (d *datasetObj) checkBuffer(buf []byte) error {
	if !d.loc.Valid() {
		return fmt.Errorf("dataset closed before the transfer ran: %w", utils.ErrInvalidArgument)
	}
	size, err := datasetSize(d.space, d.typ)
	if err != nil {
		return err
	}
	if uint64(len(buf)) != size {
		return fmt.Errorf("dataset %q holds %d bytes, buffer has %d: %w", d.loc.Path(), size, len(buf), utils.ErrInvalidArgument)
	}
	return nil
}

// Read decodes the whole extent into buf. An asynchronous read fills buf
// once the request succeeds.
func (o datasetOps) Read(ctx context.Context, dset any, buf []byte, dxpl *plist.List, async *vol.Async) error {
	d, err := asDataset(dset)
	if err != nil {
		return err
	}
	edc := plist.Bool(dxpl, plist.EDC, true)
	return spawn(ctx, async, func(ctx context.Context) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.checkBuffer(buf); err != nil {
			return err
		}
		return o.readAll(ctx, d, buf, edc)
	})
}

// Write replaces the whole extent with buf. An asynchronous write reads
// buf until the request finishes.
func (o datasetOps) Write(ctx context.Context, dset any, buf []byte, _ *plist.List, async *vol.Async) error {
	d, err := asDataset(dset)
	if err != nil {
		return err
	}
	return spawn(ctx, async, func(ctx context.Context) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.checkBuffer(buf); err != nil {
			return err
		}
		return o.writeAll(ctx, d, buf)
	})
}

func (o datasetOps) Get(ctx context.Context, dset any, args vol.DatasetGet, _ *vol.Async) error {
	d, err := asDataset(dset)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch a := args.(type) {
	case *vol.DatasetGetSpace:
		a.Space = core.Dataspace{Dims: slices.Clone(d.space.Dims), MaxDims: slices.Clone(d.space.MaxDims)}
	case *vol.DatasetGetType:
		a.Type = d.typ
	case *vol.DatasetGetDCPL:
		a.DCPL, err = d.dcpl.Copy()
		return err
	case *vol.DatasetGetStorageSize:
		a.Size, err = storageSize(ctx, d)
		return err
	default:
		return fmt.Errorf("dataset query %T: %w", args, utils.ErrUnsupported)
	}
	return nil
}

func storageSize(ctx context.Context, d *datasetObj) (uint64, error) {
	store := d.loc.File().Store()
	var size uint64
	for idx := range d.layout.NumChunks {
		c, err := store.ReadChunk(ctx, d.loc.Addr(), idx)
		if errors.Is(err, utils.ErrNotFound) && !errors.Is(err, utils.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		size += uint64(len(c.Data))
	}
	return size, nil
}

func (o datasetOps) Specific(ctx context.Context, dset any, args vol.DatasetSpecific, async *vol.Async) error {
	d, err := asDataset(dset)
	if err != nil {
		return err
	}
	switch a := args.(type) {
	case *vol.DatasetSetExtent:
		d.mu.Lock()
		defer d.mu.Unlock()
		return o.setExtent(ctx, d, a.Dims)
	case *vol.DatasetFlush:
		return spawn(ctx, async, d.loc.File().Store().Flush)
	case *vol.DatasetRefresh:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.load(ctx)
	default:
		return fmt.Errorf("dataset operation %T: %w", args, utils.ErrUnsupported)
	}
}

// setExtent resizes the dataset. Elements inside both the old and the new
// extent keep their values; new elements read as zeros. The caller holds
// d.mu.
func (o datasetOps) setExtent(ctx context.Context, d *datasetObj, dims []uint64) error {
	if len(dims) != len(d.space.Dims) {
		return fmt.Errorf("extent of rank %d for dataset of rank %d: %w", len(dims), len(d.space.Dims), utils.ErrInvalidArgument)
	}
	maxDims := d.space.MaxDims
	if maxDims == nil {
		maxDims = d.space.Dims
	}
	space := core.Dataspace{Dims: slices.Clone(dims), MaxDims: slices.Clone(d.space.MaxDims)}
	if err := (core.Dataspace{Dims: dims, MaxDims: maxDims}).Validate(); err != nil {
		return fmt.Errorf("extending dataset %q: %v: %w", d.loc.Path(), err, utils.ErrInvalidArgument)
	}
	newSize, err := datasetSize(space, d.typ)
	if err != nil {
		return err
	}
	oldSize, err := datasetSize(d.space, d.typ)
	if err != nil {
		return err
	}

	old := make([]byte, oldSize)
	if err := o.readAll(ctx, d, old, true); err != nil {
		return err
	}
	resized := make([]byte, newSize)
	copyOverlap(resized, dims, old, d.space.Dims, uint64(d.typ.Size))

	oldChunks := d.layout.NumChunks
	layout := core.Layout{ChunkElems: d.layout.ChunkElems, NumChunks: numChunks(space.NumElements(), d.layout.ChunkElems)}
	store := d.loc.File().Store()
	if err := store.WriteMessage(ctx, d.loc.Addr(), core.MsgDataspace, space); err != nil {
		return err
	}
	if err := store.WriteMessage(ctx, d.loc.Addr(), core.MsgLayout, layout); err != nil {
		return err
	}
	d.space, d.layout = space, layout
	if err := o.writeAll(ctx, d, resized); err != nil {
		return err
	}
	// Chunks past the new extent are emptied so a later extension reads zeros.
	for idx := layout.NumChunks; idx < oldChunks; idx++ {
		if err := store.WriteChunk(ctx, d.loc.Addr(), idx, core.Chunk{}); err != nil {
			return err
		}
	}
	return nil
}

// copyOverlap copies the elements inside both extents from src to dst, both
// laid out in row-major order.
func copyOverlap(dst []byte, dstDims []uint64, src []byte, srcDims []uint64, elemSize uint64) {
	rank := len(dstDims)
	if rank == 0 {
		copy(dst, src)
		return
	}
	overlap := make([]uint64, rank)
	for i := range overlap {
		overlap[i] = min(dstDims[i], srcDims[i])
		if overlap[i] == 0 {
			return
		}
	}
	run := overlap[rank-1] * elemSize
	idx := make([]uint64, rank-1)
	for {
		var so, do uint64
		for i, v := range idx {
			so = so*srcDims[i] + v
			do = do*dstDims[i] + v
		}
		so *= srcDims[rank-1] * elemSize
		do *= dstDims[rank-1] * elemSize
		copy(dst[do:do+run], src[so:so+run])

		i := rank - 2
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < overlap[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func (o datasetOps) Optional(ctx context.Context, dset any, args *vol.OptionalArgs, _ *vol.Async) error {
	d, err := asDataset(dset)
	if err != nil {
		return err
	}
	if args.Op != OptChunkInfo {
		return unsupportedOpt(vol.SubclsDataset, args)
	}
	info, ok := args.Args.(*ChunkInfo)
	if !ok {
		return fmt.Errorf("chunk info into %T: %w", args.Args, utils.ErrInvalidArgument)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.Index >= d.layout.NumChunks {
		return fmt.Errorf("chunk %d of %d: %w", info.Index, d.layout.NumChunks, utils.ErrInvalidArgument)
	}
	c, err := d.loc.File().Store().ReadChunk(ctx, d.loc.Addr(), info.Index)
	if err != nil {
		return err
	}
	info.Mask, info.Size = c.Mask, uint64(len(c.Data))
	return nil
}

func (o datasetOps) Close(_ context.Context, dset any, _ *vol.Async) error {
	d, err := asDataset(dset)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	o.n.track(d.loc.File(), vol.ObjDataset, -1)
	err = d.dcpl.Close()
	return utils.KeepPrimary(d.loc.Free(), err)
}
