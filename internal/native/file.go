package native

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

type fileOps struct{ n *Native }

func createMode(flags vol.FileFlags) storage.Mode {
	if flags&vol.FileTruncate != 0 {
		return storage.Truncate
	}
	return storage.Create
}

func openMode(flags vol.FileFlags) storage.Mode {
	if flags.Writable() {
		return storage.ReadWrite
	}
	return storage.ReadOnly
}

func copyList(l *plist.List, class plist.Class) (*plist.List, error) {
	if l == nil {
		return plist.New(class), nil
	}
	return l.Copy()
}

func (o fileOps) newFile(f *group.File, flags vol.FileFlags, fcpl, fapl *plist.List) (*fileObj, error) {
	fcpl, err := copyList(fcpl, plist.FileCreate)
	if err != nil {
		return nil, err
	}
	fapl, err = copyList(fapl, plist.FileAccess)
	if err != nil {
		return nil, utils.KeepPrimary(err, fcpl.Close())
	}
	return &fileObj{root: f.Root(), flags: flags, fcpl: fcpl, fapl: fapl}, nil
}

func (o fileOps) open(ctx context.Context, name string, mode storage.Mode, flags vol.FileFlags, fcpl, fapl *plist.List) (any, error) {
	f, err := o.n.acquire(ctx, name, mode)
	if err != nil {
		return nil, err
	}
	obj, err := o.newFile(f, flags, fcpl, fapl)
	if err != nil {
		return nil, utils.KeepPrimary(err, o.n.release(f))
	}
	return obj, nil
}

func (o fileOps) Create(ctx context.Context, name string, flags vol.FileFlags, fcpl, fapl *plist.List, _ *vol.Async) (any, error) {
	return o.open(ctx, name, createMode(flags), flags|vol.FileReadWrite, fcpl, fapl)
}

func (o fileOps) Open(ctx context.Context, name string, flags vol.FileFlags, fapl *plist.List, _ *vol.Async) (any, error) {
	return o.open(ctx, name, openMode(flags), flags, nil, fapl)
}

func asFile(obj any) (*fileObj, error) {
	f, ok := obj.(*fileObj)
	if !ok || !f.root.Valid() {
		return nil, fmt.Errorf("%T is not an open native file: %w", obj, utils.ErrInvalidArgument)
	}
	return f, nil
}

func (o fileOps) Get(_ context.Context, obj any, args vol.FileGet, _ *vol.Async) error {
	f, err := asFile(obj)
	if err != nil {
		return err
	}
	switch a := args.(type) {
	case *vol.FileGetName:
		a.Name = f.file().Name()
	case *vol.FileGetIntent:
		a.Flags = f.flags
	case *vol.FileGetFileno:
		a.Fileno = fileno(f.file())
	case *vol.FileGetFAPL:
		a.FAPL, err = f.fapl.Copy()
	case *vol.FileGetFCPL:
		a.FCPL, err = f.fcpl.Copy()
	case *vol.FileGetObjCount:
		a.Count = o.n.objCount(f.file(), a.Types)
	default:
		return fmt.Errorf("file query %T: %w", args, utils.ErrUnsupported)
	}
	return err
}

// fileno derives a stable number for an open file from its identity.
func fileno(f *group.File) uint64 {
	id := f.ID()
	return binary.LittleEndian.Uint64(id[:8])
}

func (o fileOps) Specific(ctx context.Context, obj any, args vol.FileSpecific, async *vol.Async) error {
	switch a := args.(type) {
	case *vol.FileIsAccessible:
		ok, err := o.n.backend.Exists(ctx, a.Name)
		a.Accessible = ok
		return err
	case *vol.FileDelete:
		o.n.mu.Lock()
		_, open := o.n.files[a.Name]
		o.n.mu.Unlock()
		if open {
			return fmt.Errorf("deleting open file %q: %w", a.Name, utils.ErrInvalidArgument)
		}
		return o.n.backend.Delete(ctx, a.Name)
	}

	f, err := asFile(obj)
	if err != nil {
		return err
	}
	switch a := args.(type) {
	case *vol.FileFlush:
		return spawn(ctx, async, f.file().Store().Flush)
	case *vol.FileReopen:
		mode := storage.ReadOnly
		if f.flags.Writable() {
			mode = storage.ReadWrite
		}
		g, err := o.n.acquire(ctx, f.file().Name(), mode)
		if err != nil {
			return err
		}
		if g != f.file() {
			return utils.KeepPrimary(
				fmt.Errorf("file %q was replaced while open: %w", f.file().Name(), utils.ErrInvalidArgument),
				o.n.release(g))
		}
		reopened, err := o.newFile(g, f.flags&^(vol.FileTruncate|vol.FileExclusive), f.fcpl, f.fapl)
		if err != nil {
			return utils.KeepPrimary(err, o.n.release(g))
		}
		a.File = reopened
		return nil
	case *vol.FileIsEqual:
		other, err := asFile(a.Other)
		if err != nil {
			return err
		}
		a.Equal = other.file() == f.file()
		return nil
	default:
		return fmt.Errorf("file operation %T: %w", args, utils.ErrUnsupported)
	}
}

func (o fileOps) Optional(ctx context.Context, obj any, args *vol.OptionalArgs, _ *vol.Async) error {
	f, err := asFile(obj)
	if err != nil {
		return err
	}
	switch args.Op {
	case OptImageSize:
		return imageSize(ctx, f, args.Args)
	case OptMounts:
		return mounts(f, args.Args)
	default:
		return unsupportedOpt(vol.SubclsFile, args)
	}
}

// Close releases the handle. The file itself closes once the last handle
// and the last object inside it are gone.
func (o fileOps) Close(_ context.Context, obj any, _ *vol.Async) error {
	f, err := asFile(obj)
	if err != nil {
		return err
	}
	file := f.file()
	err = o.n.release(file)
	err = utils.KeepPrimary(err, f.root.Free())
	return utils.KeepPrimary(err, utils.KeepPrimary(f.fcpl.Close(), f.fapl.Close()))
}
