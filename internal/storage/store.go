// Package storage holds object headers, link tables, chunk data and blobs for
// one file. The traversal engine and the native connector treat a Store as a
// key/value tree; how it is persisted is up to the implementation.
package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/utils"
)

// Store is the storage collaborator of a single open file.
//
// Lookups of absent objects, messages, links, chunks and blobs return errors
// matching utils.ErrNotFound; backend failures match utils.ErrIO.
type Store interface {
	// Root returns the address of the root group.
	Root() core.Address

	CreateObject(ctx context.Context, typ core.ObjectType) (core.Address, error)
	ObjectType(ctx context.Context, addr core.Address) (core.ObjectType, error)
	DeleteObject(ctx context.Context, addr core.Address) error

	// ReadMessage decodes the message stored under key into v.
	ReadMessage(ctx context.Context, addr core.Address, key core.MsgKey, v any) error
	WriteMessage(ctx context.Context, addr core.Address, key core.MsgKey, v any) error
	DeleteMessage(ctx context.Context, addr core.Address, key core.MsgKey) error
	Messages(ctx context.Context, addr core.Address) ([]core.MsgKey, error)

	LookupLink(ctx context.Context, group core.Address, name string) (core.Link, error)
	// InsertLink fails with utils.ErrAlreadyExists when the name is taken.
	InsertLink(ctx context.Context, group core.Address, link core.Link) error
	RemoveLink(ctx context.Context, group core.Address, name string) error
	// Links returns the group's links ordered by name.
	Links(ctx context.Context, group core.Address) ([]core.Link, error)

	ReadChunk(ctx context.Context, addr core.Address, idx uint64) (core.Chunk, error)
	WriteChunk(ctx context.Context, addr core.Address, idx uint64, chunk core.Chunk) error

	PutBlob(ctx context.Context, data []byte) (uuid.UUID, error)
	GetBlob(ctx context.Context, id uuid.UUID) ([]byte, error)
	DeleteBlob(ctx context.Context, id uuid.UUID) error

	Flush(ctx context.Context) error
	Close() error
}

// Sizer is implemented by stores that can report their persisted size.
type Sizer interface {
	Size(ctx context.Context) (uint64, error)
}

// Mode selects how a store is opened.
type Mode uint8

// Open modes.
const (
	ReadOnly Mode = iota
	ReadWrite
	Create   // fail if the file exists
	Truncate // replace an existing file
)

// Writable reports whether the mode allows modification.
func (m Mode) Writable() bool {
	return m != ReadOnly
}

// initRoot creates the root group of a new store with default group messages.
func initRoot(ctx context.Context, s Store) (core.Address, error) {
	root, err := s.CreateObject(ctx, core.ObjectGroup)
	if err != nil {
		return core.AddrUndef, err
	}
	if err := s.WriteMessage(ctx, root, core.MsgGroupInfo, core.DefaultGroupInfo()); err != nil {
		return core.AddrUndef, err
	}
	if err := s.WriteMessage(ctx, root, core.MsgLinkInfo, core.LinkInfo{}); err != nil {
		return core.AddrUndef, err
	}
	return root, nil
}

func errObject(addr core.Address) error {
	return fmt.Errorf("object at address %d: %w", addr, utils.ErrObjectNotFound)
}

func errLink(group core.Address, name string) error {
	return fmt.Errorf("link %q in group %d: %w", name, group, utils.ErrNotFound)
}

func errReadOnly(op string) error {
	return fmt.Errorf("%s: file opened read-only: %w", op, utils.ErrInvalidArgument)
}
