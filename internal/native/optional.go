package native

import (
	"context"
	"fmt"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// Optional operations of the native connector. Their values lie below
// vol.OptDynamicBase.
const (
	// OptChunkInfo fills a *ChunkInfo for the chunk at its Index.
	OptChunkInfo = iota + 1
	// OptImageSize stores the encoded size of the file in a *uint64.
	OptImageSize
	// OptMounts stores the mount table of the file in a *[]MountInfo.
	OptMounts
)

// ChunkInfo describes one stored dataset chunk.
type ChunkInfo struct {
	Index uint64
	// out
	Mask uint32
	Size uint64
}

// MountInfo describes a file mounted on a group, which Token identifies.
type MountInfo struct {
	Token core.Token
	File  string
	Local bool
}

func optionalFlags(subcls vol.Subclass, op int) vol.OptFlags {
	switch {
	case subcls == vol.SubclsDataset && op == OptChunkInfo:
		return vol.OptSupported | vol.OptQueryMetadata
	case subcls == vol.SubclsFile && (op == OptImageSize || op == OptMounts):
		return vol.OptSupported | vol.OptQueryMetadata
	default:
		return 0
	}
}

func unsupportedOpt(subcls vol.Subclass, args *vol.OptionalArgs) error {
	return fmt.Errorf("native %s optional operation %d: %w", subcls, args.Op, utils.ErrUnsupported)
}

func imageSize(ctx context.Context, f *fileObj, out any) error {
	p, ok := out.(*uint64)
	if !ok {
		return fmt.Errorf("image size into %T: %w", out, utils.ErrInvalidArgument)
	}
	sizer, ok := f.file().Store().(storage.Sizer)
	if !ok {
		return fmt.Errorf("image size of %q: %w", f.file().Name(), utils.ErrUnsupported)
	}
	n, err := sizer.Size(ctx)
	if err != nil {
		return err
	}
	*p = n
	return nil
}

func mounts(f *fileObj, out any) error {
	p, ok := out.(*[]MountInfo)
	if !ok {
		return fmt.Errorf("mount table into %T: %w", out, utils.ErrInvalidArgument)
	}
	var list []MountInfo
	for _, m := range f.file().Mounts() {
		list = append(list, MountInfo{Token: core.AddressToken(m.Addr), File: m.Child.Name(), Local: m.Local})
	}
	*p = list
	return nil
}
