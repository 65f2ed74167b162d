package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/utils"
)

const imageVersion = 1

// image is the persisted form of a MemStore.
type image struct {
	Version int                      `cbor:"v"`
	Root    core.Address             `cbor:"r"`
	Next    core.Address             `cbor:"n"`
	Objects map[core.Address]*object `cbor:"o"`
	Blobs   map[string][]byte        `cbor:"b,omitempty"`
}

type object struct {
	Type     core.ObjectType        `cbor:"t"`
	Messages map[core.MsgKey][]byte `cbor:"m,omitempty"`
	Links    map[string]core.Link   `cbor:"l,omitempty"`
	Chunks   map[uint64]core.Chunk  `cbor:"c,omitempty"`
}

// MemStore keeps a file in memory and, when bound to a path, persists it as
// a CBOR image on Flush and Close. It is safe for concurrent use.
type MemStore struct {
	mu     sync.RWMutex
	path   string
	mode   Mode
	img    *image
	dirty  bool
	closed bool
}

// NewMemStore returns an empty writable store that is never persisted.
func NewMemStore() *MemStore {
	s := &MemStore{mode: ReadWrite, img: newImage()}
	s.img.Root, _ = initRoot(context.Background(), s)
	return s
}

func newImage() *image {
	return &image{
		Version: imageVersion,
		Root:    core.AddrUndef,
		Next:    1,
		Objects: make(map[core.Address]*object),
		Blobs:   make(map[string][]byte),
	}
}

// OpenImage opens or creates the image file at path according to mode.
func OpenImage(path string, mode Mode) (*MemStore, error) {
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, errors.Join(utils.ErrIO, statErr))
	}

	switch {
	case mode == Create && exists:
		return nil, fmt.Errorf("file %s: %w", path, utils.ErrAlreadyExists)
	case mode == Create || mode == Truncate:
		s := &MemStore{path: path, mode: mode, img: newImage(), dirty: true}
		root, err := initRoot(context.Background(), s)
		if err != nil {
			return nil, err
		}
		s.img.Root = root
		if err := s.Flush(context.Background()); err != nil {
			return nil, err
		}
		return s, nil
	case !exists:
		return nil, fmt.Errorf("file %s: %w", path, utils.ErrNotFound)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, errors.Join(utils.ErrIO, err))
	}
	img := newImage()
	if err := core.Unmarshal(data, img); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, errors.Join(utils.ErrIO, err))
	}
	if img.Version != imageVersion {
		return nil, fmt.Errorf("image %s version %d: %w", path, img.Version, utils.ErrUnsupported)
	}
	if _, ok := img.Objects[img.Root]; !ok {
		return nil, fmt.Errorf("image %s has no root group: %w", path, utils.ErrIO)
	}
	return &MemStore{path: path, mode: mode, img: img}, nil
}

// Path returns the backing file path, or "" for a purely in-memory store.
func (s *MemStore) Path() string {
	return s.path
}

// Root returns the root group address.
func (s *MemStore) Root() core.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img.Root
}

func (s *MemStore) writable(op string) error {
	if s.closed {
		return fmt.Errorf("%s: store closed: %w", op, utils.ErrInvalidArgument)
	}
	if !s.mode.Writable() {
		return errReadOnly(op)
	}
	s.dirty = true
	return nil
}

func (s *MemStore) object(addr core.Address) (*object, error) {
	if s.closed {
		return nil, fmt.Errorf("store closed: %w", utils.ErrInvalidArgument)
	}
	o, ok := s.img.Objects[addr]
	if !ok {
		return nil, errObject(addr)
	}
	return o, nil
}

// CreateObject allocates a new object header.
func (s *MemStore) CreateObject(_ context.Context, typ core.ObjectType) (core.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable("create object"); err != nil {
		return core.AddrUndef, err
	}
	addr := s.img.Next
	s.img.Next++
	s.img.Objects[addr] = &object{Type: typ}
	return addr, nil
}

// ObjectType returns the type of the object at addr.
func (s *MemStore) ObjectType(_ context.Context, addr core.Address) (core.ObjectType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, err := s.object(addr)
	if err != nil {
		return core.ObjectUnknown, err
	}
	return o.Type, nil
}

// DeleteObject removes the object header at addr and everything stored on it.
func (s *MemStore) DeleteObject(_ context.Context, addr core.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable("delete object"); err != nil {
		return err
	}
	if _, err := s.object(addr); err != nil {
		return err
	}
	delete(s.img.Objects, addr)
	return nil
}

// ReadMessage decodes the message key of addr into v.
func (s *MemStore) ReadMessage(_ context.Context, addr core.Address, key core.MsgKey, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, err := s.object(addr)
	if err != nil {
		return err
	}
	raw, ok := o.Messages[key]
	if !ok {
		return fmt.Errorf("message %q on object %d: %w", key, addr, utils.ErrNotFound)
	}
	return core.Unmarshal(raw, v)
}

// WriteMessage stores v as message key of addr.
func (s *MemStore) WriteMessage(_ context.Context, addr core.Address, key core.MsgKey, v any) error {
	raw, err := core.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable("write message"); err != nil {
		return err
	}
	o, err := s.object(addr)
	if err != nil {
		return err
	}
	if o.Messages == nil {
		o.Messages = make(map[core.MsgKey][]byte)
	}
	o.Messages[key] = raw
	return nil
}

// DeleteMessage removes message key from addr.
func (s *MemStore) DeleteMessage(_ context.Context, addr core.Address, key core.MsgKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable("delete message"); err != nil {
		return err
	}
	o, err := s.object(addr)
	if err != nil {
		return err
	}
	if _, ok := o.Messages[key]; !ok {
		return fmt.Errorf("message %q on object %d: %w", key, addr, utils.ErrNotFound)
	}
	delete(o.Messages, key)
	return nil
}

// Messages lists the message keys of addr in sorted order.
func (s *MemStore) Messages(_ context.Context, addr core.Address) ([]core.MsgKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, err := s.object(addr)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(o.Messages)), nil
}

func (s *MemStore) group(addr core.Address) (*object, error) {
	o, err := s.object(addr)
	if err != nil {
		return nil, err
	}
	if o.Type != core.ObjectGroup {
		return nil, fmt.Errorf("object %d is a %s, not a group: %w", addr, o.Type, utils.ErrInvalidArgument)
	}
	return o, nil
}

// LookupLink returns the link name in group.
func (s *MemStore) LookupLink(_ context.Context, group core.Address, name string) (core.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, err := s.group(group)
	if err != nil {
		return core.Link{}, err
	}
	l, ok := o.Links[name]
	if !ok {
		return core.Link{}, errLink(group, name)
	}
	return l, nil
}

// InsertLink adds link to group.
func (s *MemStore) InsertLink(_ context.Context, group core.Address, link core.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable("insert link"); err != nil {
		return err
	}
	o, err := s.group(group)
	if err != nil {
		return err
	}
	if _, ok := o.Links[link.Name]; ok {
		return fmt.Errorf("link %q in group %d: %w", link.Name, group, utils.ErrAlreadyExists)
	}
	if o.Links == nil {
		o.Links = make(map[string]core.Link)
	}
	o.Links[link.Name] = link
	return nil
}

// RemoveLink deletes link name from group.
func (s *MemStore) RemoveLink(_ context.Context, group core.Address, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable("remove link"); err != nil {
		return err
	}
	o, err := s.group(group)
	if err != nil {
		return err
	}
	if _, ok := o.Links[name]; !ok {
		return errLink(group, name)
	}
	delete(o.Links, name)
	return nil
}

// Links returns the links of group in name order.
func (s *MemStore) Links(_ context.Context, group core.Address) ([]core.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, err := s.group(group)
	if err != nil {
		return nil, err
	}
	out := make([]core.Link, 0, len(o.Links))
	for _, name := range slices.Sorted(maps.Keys(o.Links)) {
		out = append(out, o.Links[name])
	}
	return out, nil
}

// ReadChunk returns chunk idx of the dataset at addr.
func (s *MemStore) ReadChunk(_ context.Context, addr core.Address, idx uint64) (core.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, err := s.object(addr)
	if err != nil {
		return core.Chunk{}, err
	}
	c, ok := o.Chunks[idx]
	if !ok {
		return core.Chunk{}, fmt.Errorf("chunk %d of object %d: %w", idx, addr, utils.ErrNotFound)
	}
	c.Data = slices.Clone(c.Data)
	return c, nil
}

// WriteChunk stores chunk idx of the dataset at addr.
func (s *MemStore) WriteChunk(_ context.Context, addr core.Address, idx uint64, chunk core.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable("write chunk"); err != nil {
		return err
	}
	o, err := s.object(addr)
	if err != nil {
		return err
	}
	if o.Chunks == nil {
		o.Chunks = make(map[uint64]core.Chunk)
	}
	chunk.Data = slices.Clone(chunk.Data)
	o.Chunks[idx] = chunk
	return nil
}

// PutBlob stores data under a new id.
func (s *MemStore) PutBlob(_ context.Context, data []byte) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable("put blob"); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	s.img.Blobs[id.String()] = slices.Clone(data)
	return id, nil
}

// GetBlob returns the blob stored under id.
func (s *MemStore) GetBlob(_ context.Context, id uuid.UUID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.img.Blobs[id.String()]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", id, utils.ErrNotFound)
	}
	return slices.Clone(b), nil
}

// DeleteBlob removes the blob stored under id.
func (s *MemStore) DeleteBlob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable("delete blob"); err != nil {
		return err
	}
	if _, ok := s.img.Blobs[id.String()]; !ok {
		return fmt.Errorf("blob %s: %w", id, utils.ErrNotFound)
	}
	delete(s.img.Blobs, id.String())
	return nil
}

// Size returns the length of the encoded image.
func (s *MemStore) Size(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := core.Marshal(s.img)
	if err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

// Flush writes the image to its path when it has changed.
func (s *MemStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *MemStore) flushLocked() error {
	if s.path == "" || !s.dirty || !s.mode.Writable() {
		return nil
	}
	data, err := core.Marshal(s.img)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("flush %s: %w", s.path, errors.Join(utils.ErrIO, err))
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("flush %s: %w", s.path, errors.Join(utils.ErrIO, err))
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("flush %s: %w", s.path, errors.Join(utils.ErrIO, err))
	}
	s.dirty = false
	return nil
}

// Close flushes the image and releases the store. Closing twice is a no-op.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	return err
}
