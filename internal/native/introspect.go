package native

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/scigolib/h5vol/internal/core"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

type introspectOps struct{ n *Native }

// GetConnClass returns the native class at every level; nothing stacks
// below it.
func (o introspectOps) GetConnClass(_ context.Context, _ any, _ vol.Level) (*vol.Class, error) {
	return o.n.Class(), nil
}

func (introspectOps) GetCapFlags(any) (vol.CapFlags, error) {
	return Capabilities, nil
}

func (introspectOps) OptQuery(_ context.Context, _ any, subcls vol.Subclass, op int) (vol.OptFlags, error) {
	return optionalFlags(subcls, op), nil
}

// Blobs live in the store of the file the object belongs to, under uuid ids.
type blobOps struct{}

func blobID(id []byte) (uuid.UUID, error) {
	u, err := uuid.FromBytes(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("blob id %x: %v: %w", id, err, utils.ErrInvalidArgument)
	}
	return u, nil
}

func (blobOps) Put(ctx context.Context, file any, data []byte) ([]byte, error) {
	loc, err := locOf(file)
	if err != nil {
		return nil, err
	}
	id, err := loc.File().Store().PutBlob(ctx, data)
	if err != nil {
		return nil, err
	}
	return id[:], nil
}

func (blobOps) Get(ctx context.Context, file any, id []byte) ([]byte, error) {
	loc, err := locOf(file)
	if err != nil {
		return nil, err
	}
	u, err := blobID(id)
	if err != nil {
		return nil, err
	}
	return loc.File().Store().GetBlob(ctx, u)
}

func (blobOps) Specific(ctx context.Context, file any, id []byte, args vol.BlobSpecific) error {
	switch a := args.(type) {
	case *vol.BlobIsNull:
		a.IsNull = len(id) == 0 || bytes.Equal(id, uuid.Nil[:])
		return nil
	case *vol.BlobSetNull:
		a.ID = make([]byte, len(uuid.Nil))
		return nil
	case *vol.BlobDelete:
		loc, err := locOf(file)
		if err != nil {
			return err
		}
		u, err := blobID(id)
		if err != nil {
			return err
		}
		return loc.File().Store().DeleteBlob(ctx, u)
	default:
		return fmt.Errorf("blob operation %T: %w", args, utils.ErrUnsupported)
	}
}

func (blobOps) Optional(_ context.Context, _ any, _ []byte, args *vol.OptionalArgs) error {
	return unsupportedOpt(vol.SubclsBlob, args)
}

// Tokens encode object addresses; they order and print bytewise.
type tokenOps struct{}

func (tokenOps) Compare(_ any, a, b core.Token) (int, error) {
	return bytes.Compare(a[:], b[:]), nil
}

func (tokenOps) ToString(_ any, _ vol.ObjectType, tok core.Token) (string, error) {
	return hex.EncodeToString(tok[:]), nil
}

func (tokenOps) FromString(_ any, _ vol.ObjectType, s string) (core.Token, error) {
	var tok core.Token
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != core.TokenSize {
		return tok, fmt.Errorf("token %q: want %d hex bytes: %w", s, core.TokenSize, utils.ErrInvalidArgument)
	}
	copy(tok[:], b)
	return tok, nil
}
