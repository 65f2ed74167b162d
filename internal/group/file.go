// Package group resolves names in the file namespace.
//
// A File pairs a storage backend with the mount table of files mounted on
// it. A Location names an object inside a File and keeps the file open for
// as long as it is alive. Traverse walks '/'-separated names from a Location,
// following soft, external and user-defined links and crossing mount points,
// and hands the final component to an Operator.
package group

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
)

// MaxMountDepth bounds how many nested mount points a single lookup may cross.
const MaxMountDepth = 32

type mountPoint struct {
	addr  core.Address
	child *File
	local bool
}

// MountInfo describes one entry of a file's mount table.
type MountInfo struct {
	Addr  core.Address
	Child *File
	Local bool
}

// File is an open file as seen by the traversal engine.
//
// A file stays open while anything holds it. Close marks it for closing; the
// store is closed once the last hold is released.
type File struct {
	id    uuid.UUID
	name  string
	store storage.Store

	mu      sync.Mutex
	holds   int
	closing bool
	closed  bool
	mounts  []mountPoint // sorted by addr
	parent  *File
	onClose func(*File)
}

// NewFile wraps an opened store. name is the path the file was opened with.
func NewFile(name string, store storage.Store) *File {
	return &File{id: uuid.New(), name: name, store: store}
}

// OnClose registers fn to run after the store has been closed.
func (f *File) OnClose(fn func(*File)) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

// ID returns the identity of this open file.
func (f *File) ID() uuid.UUID { return f.id }

// Name returns the path the file was opened with.
func (f *File) Name() string { return f.name }

// Store returns the storage backend.
func (f *File) Store() storage.Store { return f.store }

// Root returns a new location for the root group.
func (f *File) Root() *Location {
	return NewLocation(f, f.store.Root(), "/")
}

// TopRoot returns the root group of the file at the top of the mount tree,
// which is where absolute names start.
func (f *File) TopRoot() *Location {
	top := f
	for {
		top.mu.Lock()
		p := top.parent
		top.mu.Unlock()
		if p == nil {
			break
		}
		top = p
	}
	return top.Root()
}

// Hold keeps the file open until a matching Release.
func (f *File) Hold() {
	f.mu.Lock()
	f.holds++
	f.mu.Unlock()
}

// Release drops a hold, closing the store if the file was closed and this
// was the last hold.
func (f *File) Release() error {
	f.mu.Lock()
	if f.holds == 0 {
		f.mu.Unlock()
		return fmt.Errorf("file %q released more often than held: %w", f.name, utils.ErrInvalidArgument)
	}
	f.holds--
	shut := f.holds == 0 && f.closing && !f.closed
	if shut {
		f.closed = true
	}
	f.mu.Unlock()
	if shut {
		return f.shutdown()
	}
	return nil
}

// Holds returns the number of outstanding holds.
func (f *File) Holds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holds
}

// Close marks the file for closing. The store is closed now if nothing holds
// the file, otherwise when the last hold is released.
func (f *File) Close() error {
	f.mu.Lock()
	f.closing = true
	shut := f.holds == 0 && !f.closed
	if shut {
		f.closed = true
	}
	f.mu.Unlock()
	if shut {
		return f.shutdown()
	}
	return nil
}

// Closing reports whether Close has been called.
func (f *File) Closing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closing
}

// Closed reports whether the store has been closed.
func (f *File) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reopen cancels a pending close.
func (f *File) Reopen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("file %q already closed: %w", f.name, utils.ErrInvalidArgument)
	}
	f.closing = false
	return nil
}

func (f *File) shutdown() error {
	f.mu.Lock()
	mounts := f.mounts
	f.mounts = nil
	fn := f.onClose
	f.mu.Unlock()

	var err error
	for _, m := range mounts {
		m.child.setParent(nil)
		err = utils.KeepPrimary(err, m.child.Release())
	}
	err = utils.KeepPrimary(f.store.Close(), err)
	if fn != nil {
		fn(f)
	}
	return err
}

// Parent returns the file this one is mounted on, or nil.
func (f *File) Parent() *File {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parent
}

func (f *File) setParent(p *File) {
	f.mu.Lock()
	f.parent = p
	f.mu.Unlock()
}

// mount records child at addr. The child is held until it is unmounted.
func (f *File) mount(addr core.Address, child *File, local bool) error {
	if child == f {
		return fmt.Errorf("mounting %q on itself: %w", f.name, utils.ErrInvalidArgument)
	}
	if child.Parent() != nil {
		return fmt.Errorf("file %q is already mounted: %w", child.name, utils.ErrAlreadyExists)
	}
	for a := f; a != nil; a = a.Parent() {
		if a == child {
			return fmt.Errorf("mounting %q would introduce a cycle: %w", child.name, utils.ErrInvalidArgument)
		}
	}

	f.mu.Lock()
	i, found := slices.BinarySearchFunc(f.mounts, addr, cmpMount)
	if found {
		f.mu.Unlock()
		return fmt.Errorf("mount point %d in %q is already in use: %w", addr, f.name, utils.ErrAlreadyExists)
	}
	f.mounts = slices.Insert(f.mounts, i, mountPoint{addr: addr, child: child, local: local})
	f.mu.Unlock()

	child.Hold()
	child.setParent(f)
	return nil
}

// unmount removes the mount at addr and returns the child it held.
func (f *File) unmount(addr core.Address) (*File, error) {
	f.mu.Lock()
	i, found := slices.BinarySearchFunc(f.mounts, addr, cmpMount)
	if !found {
		f.mu.Unlock()
		return nil, fmt.Errorf("address %d in %q is not a mount point: %w", addr, f.name, utils.ErrNotFound)
	}
	child := f.mounts[i].child
	f.mounts = slices.Delete(f.mounts, i, i+1)
	f.mu.Unlock()

	child.setParent(nil)
	return child, child.Release()
}

// mountedAt returns the file mounted at addr.
func (f *File) mountedAt(addr core.Address) (*File, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, found := slices.BinarySearchFunc(f.mounts, addr, cmpMount)
	if !found {
		return nil, false
	}
	return f.mounts[i].child, true
}

// Mounts returns the mount table in address order.
func (f *File) Mounts() []MountInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MountInfo, len(f.mounts))
	for i, m := range f.mounts {
		out[i] = MountInfo{Addr: m.addr, Child: m.child, Local: m.local}
	}
	return out
}

func cmpMount(m mountPoint, addr core.Address) int {
	switch {
	case m.addr < addr:
		return -1
	case m.addr > addr:
		return 1
	default:
		return 0
	}
}
