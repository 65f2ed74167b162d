package h5vol

import (
	"context"
	"fmt"

	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// CreateMode specifies how to create a new file.
type CreateMode int

const (
	// CreateTruncate creates a new file, discarding an existing one.
	CreateTruncate CreateMode = iota

	// CreateExclusive creates a new file, failing if it already exists.
	CreateExclusive
)

// OpenMode specifies the access an opened file allows.
type OpenMode int

const (
	// OpenReadOnly opens a file for reading.
	OpenReadOnly OpenMode = iota

	// OpenReadWrite opens a file for reading and writing.
	OpenReadWrite
)

// File is an open file. Its location methods address objects relative to
// the root group.
type File struct {
	Handle
}

// CreateFile creates name through the default connector.
func (rt *Runtime) CreateFile(ctx context.Context, name string, mode CreateMode) (*File, error) {
	var flags vol.FileFlags
	switch mode {
	case CreateTruncate:
		flags = vol.FileTruncate
	case CreateExclusive:
		flags = vol.FileExclusive
	default:
		return nil, fmt.Errorf("invalid create mode: %d: %w", mode, utils.ErrInvalidArgument)
	}
	obj, err := vol.FileCreate(ctx, name, flags, nil, rt.fapl, nil)
	if err != nil {
		return nil, utils.WrapError("file create failed", err)
	}
	return &File{Handle{rt: rt, obj: obj, name: "/"}}, nil
}

// OpenFile opens an existing file through the default connector.
func (rt *Runtime) OpenFile(ctx context.Context, name string, mode OpenMode) (*File, error) {
	var flags vol.FileFlags
	switch mode {
	case OpenReadOnly:
		flags = vol.FileReadOnly
	case OpenReadWrite:
		flags = vol.FileReadWrite
	default:
		return nil, fmt.Errorf("invalid open mode: %d: %w", mode, utils.ErrInvalidArgument)
	}
	obj, err := vol.FileOpen(ctx, name, flags, rt.fapl, nil)
	if err != nil {
		return nil, utils.WrapError("file open failed", err)
	}
	return &File{Handle{rt: rt, obj: obj, name: "/"}}, nil
}

// FileExists reports whether name can be opened by the default connector.
func (rt *Runtime) FileExists(ctx context.Context, name string) (bool, error) {
	return vol.FileIsAccessible(ctx, name, rt.fapl)
}

// DeleteFile removes a file that is not open.
func (rt *Runtime) DeleteFile(ctx context.Context, name string) error {
	return vol.FileDelete(ctx, name, rt.fapl)
}

// Root opens the root group.
func (f *File) Root(ctx context.Context) (*Group, error) {
	return f.OpenGroup(ctx, "/")
}

// Path returns the name the file was created or opened with.
func (f *File) Path(ctx context.Context) (string, error) {
	a := &vol.FileGetName{}
	if err := f.obj.FileGet(ctx, a, nil); err != nil {
		return "", err
	}
	return a.Name, nil
}

// Flush writes buffered changes to storage.
func (f *File) Flush(ctx context.Context) error {
	return f.obj.FileSpecific(ctx, &vol.FileFlush{}, nil)
}

// Mount attaches child's root group at the group name, hiding that group's
// contents until Unmount. child must stay open while it is mounted.
func (f *File) Mount(ctx context.Context, name string, child *File) error {
	if child == nil {
		return fmt.Errorf("mount %q: no child file: %w", name, utils.ErrInvalidArgument)
	}
	return f.obj.GroupSpecific(ctx, &vol.GroupMount{Name: name, Child: child.obj}, nil)
}

// Unmount detaches the file mounted at name.
func (f *File) Unmount(ctx context.Context, name string) error {
	return f.obj.GroupSpecific(ctx, &vol.GroupUnmount{Name: name}, nil)
}

// SameFile reports whether f and other refer to the same underlying file.
func (f *File) SameFile(ctx context.Context, other *File) (bool, error) {
	a := &vol.FileIsEqual{Other: other.obj}
	if err := f.obj.FileSpecific(ctx, a, nil); err != nil {
		return false, err
	}
	return a.Equal, nil
}
