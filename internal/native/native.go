// Package native implements the reference connector. It stores files
// through a storage backend, resolves names with the group engine and runs
// dataset chunks through the filter pipeline.
package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/filter"
	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// ConnVersion is the version the native connector reports.
const ConnVersion = 1

// Capabilities of the native connector.
const Capabilities = vol.CapThreadSafe | vol.CapAsync | vol.CapNativeFiles |
	vol.CapFileBasic | vol.CapGroupBasic | vol.CapDatasetBasic | vol.CapAttrBasic |
	vol.CapLinkBasic | vol.CapObjectBasic | vol.CapSoftLinks | vol.CapExternalLinks |
	vol.CapUDLinks | vol.CapMounts | vol.CapFilters | vol.CapBlobs

// Native is the state shared by every file the connector opens.
type Native struct {
	backend  Backend
	pipeline *filter.Pipeline
	engine   *group.Engine
	classes  *group.LinkClassRegistry
	logger   *slog.Logger

	extPrefix string

	classOnce sync.Once
	class     *vol.Class

	mu    sync.Mutex
	files map[string]*openFile
}

// Option configures a Native connector.
type Option func(*Native)

// WithBackend selects where files are stored. The default keeps files as
// image files on the local file system.
func WithBackend(b Backend) Option {
	return func(n *Native) { n.backend = b }
}

// WithPipeline sets the filter pipeline used for dataset chunks.
func WithPipeline(p *filter.Pipeline) Option {
	return func(n *Native) { n.pipeline = p }
}

// WithLinkClasses sets the user-defined link classes traversal may follow.
func WithLinkClasses(r *group.LinkClassRegistry) Option {
	return func(n *Native) { n.classes = r }
}

// WithExternalPrefix sets the prefix list searched for external link
// targets before the link access prefix.
func WithExternalPrefix(prefix string) Option {
	return func(n *Native) { n.extPrefix = prefix }
}

// WithLogger sets the connector logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Native) { n.logger = logger }
}

// New returns a native connector.
func New(opts ...Option) *Native {
	n := &Native{
		backend: ImageBackend{},
		classes: group.NewLinkClassRegistry(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		files:   make(map[string]*openFile),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.pipeline == nil {
		n.pipeline = filter.NewPipeline(filter.NewRegistry(filter.WithLogger(n.logger)))
	}
	n.engine = group.NewEngine(
		group.WithExternalOpener(n),
		group.WithExternalPrefix(n.extPrefix),
		group.WithLinkClasses(n.classes),
		group.WithHandleWrapper(handles{n}),
		group.WithLogger(n.logger),
	)
	return n
}

// Engine returns the traversal engine.
func (n *Native) Engine() *group.Engine { return n.engine }

// Class returns the connector class to register. Every call returns the
// same class.
func (n *Native) Class() *vol.Class {
	n.classOnce.Do(func() { n.class = n.newClass() })
	return n.class
}

func (n *Native) newClass() *vol.Class {
	return &vol.Class{
		Version:     vol.Version,
		Value:       vol.NativeValue,
		Name:        vol.NativeName,
		ConnVersion: ConnVersion,
		CapFlags:    Capabilities,
		Terminate:   n.Close,
		Attr:        attrOps{n},
		Dataset:     datasetOps{n},
		Datatype:    datatypeOps{n},
		File:        fileOps{n},
		Group:       groupOps{n},
		Link:        linkOps{n},
		Object:      objectOps{n},
		Introspect:  introspectOps{n},
		Request:     requestOps{},
		Blob:        blobOps{},
		Token:       tokenOps{},
	}
}

// Close closes every file still open.
func (n *Native) Close() error {
	n.mu.Lock()
	files := make([]*openFile, 0, len(n.files))
	for _, of := range n.files {
		files = append(files, of)
	}
	clear(n.files)
	n.mu.Unlock()

	var errs []error
	for _, of := range files {
		n.logger.Debug("closing file left open", slog.String("file", of.file.Name()))
		errs = append(errs, of.file.Close())
	}
	return errors.Join(errs...)
}

// openFile is a file shared by every handle that opened the same name.
type openFile struct {
	file     *group.File
	writable bool
	users    int
	objs     map[vol.ObjectType]int
}

// acquire opens name or joins the handles that already have it open.
func (n *Native) acquire(ctx context.Context, name string, mode storage.Mode) (*group.File, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if of, ok := n.files[name]; ok && !of.file.Closed() {
		switch {
		case mode == storage.Create:
			return nil, fmt.Errorf("file %q is open: %w", name, utils.ErrAlreadyExists)
		case mode == storage.Truncate:
			return nil, fmt.Errorf("truncating open file %q: %w", name, utils.ErrInvalidArgument)
		case mode.Writable() && !of.writable:
			return nil, fmt.Errorf("file %q is already open read-only: %w", name, utils.ErrInvalidArgument)
		}
		if err := of.file.Reopen(); err != nil {
			return nil, err
		}
		of.users++
		return of.file, nil
	}

	store, err := n.backend.Open(ctx, name, mode)
	if err != nil {
		return nil, utils.WrapError(fmt.Sprintf("opening %q", name), err)
	}
	f := group.NewFile(name, store)
	of := &openFile{file: f, writable: mode.Writable(), users: 1, objs: make(map[vol.ObjectType]int)}
	f.OnClose(func(*group.File) {
		n.mu.Lock()
		if n.files[name] == of {
			delete(n.files, name)
		}
		n.mu.Unlock()
	})
	n.files[name] = of
	return f, nil
}

// release drops one user of f, closing it once the last one is gone. The
// store stays open until every location inside it is freed.
func (n *Native) release(f *group.File) error {
	n.mu.Lock()
	of, ok := n.files[f.Name()]
	last := !ok || of.file != f
	if ok && of.file == f {
		of.users--
		last = of.users == 0
	}
	n.mu.Unlock()
	if !last {
		return nil
	}
	return f.Close()
}

// track counts objects opened inside f.
func (n *Native) track(f *group.File, typ vol.ObjectType, delta int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if of, ok := n.files[f.Name()]; ok && of.file == f {
		of.objs[typ] += delta
	}
}

// objCount counts the open handles of f of the given types, or of every
// type when types is empty.
func (n *Native) objCount(f *group.File, types []vol.ObjectType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	of, ok := n.files[f.Name()]
	if !ok || of.file != f {
		return 0
	}
	count := 0
	for _, typ := range []vol.ObjectType{vol.ObjFile, vol.ObjGroup, vol.ObjDataset, vol.ObjDatatype, vol.ObjAttr} {
		if len(types) > 0 && !slices.Contains(types, typ) {
			continue
		}
		if typ == vol.ObjFile {
			count += of.users
		} else {
			count += of.objs[typ]
		}
	}
	return count
}

// OpenExternal opens the target of an external link for the traversal
// engine. The file is closed when the returned location is freed.
func (n *Native) OpenExternal(ctx context.Context, path string, from *group.File, _ *plist.List) (*group.Location, error) {
	mode := storage.ReadOnly
	n.mu.Lock()
	if of, ok := n.files[from.Name()]; ok && of.writable {
		mode = storage.ReadWrite
	}
	n.mu.Unlock()

	f, err := n.acquire(ctx, path, mode)
	if err != nil && mode == storage.ReadWrite {
		f, err = n.acquire(ctx, path, storage.ReadOnly)
	}
	if err != nil {
		return nil, err
	}
	root := f.Root()
	return root, n.release(f)
}

// OpenFiles returns the names of the files currently open.
func (n *Native) OpenFiles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.files))
	for name := range n.files {
		out = append(out, name)
	}
	return out
}

func objectType(t core.ObjectType) vol.ObjectType {
	switch t {
	case core.ObjectGroup:
		return vol.ObjGroup
	case core.ObjectDataset:
		return vol.ObjDataset
	case core.ObjectDatatype:
		return vol.ObjDatatype
	default:
		return 0
	}
}
