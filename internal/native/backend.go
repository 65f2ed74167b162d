package native

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/scigolib/h5vol/internal/storage"
	"github.com/scigolib/h5vol/internal/utils"
)

// Backend creates the storage of named files.
type Backend interface {
	Open(ctx context.Context, name string, mode storage.Mode) (storage.Store, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
}

// ImageBackend stores each file as an image file at its name.
type ImageBackend struct{}

// Open opens or creates the image at name.
func (ImageBackend) Open(_ context.Context, name string, mode storage.Mode) (storage.Store, error) {
	return storage.OpenImage(name, mode)
}

// Exists reports whether an image can be opened at name.
func (ImageBackend) Exists(_ context.Context, name string) (bool, error) {
	s, err := storage.OpenImage(name, storage.ReadOnly)
	switch {
	case err == nil:
		return true, s.Close()
	case errors.Is(err, utils.ErrNotFound), errors.Is(err, utils.ErrIO), errors.Is(err, utils.ErrUnsupported):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes the image at name.
func (ImageBackend) Delete(_ context.Context, name string) error {
	if err := os.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file %s: %w", name, utils.ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", name, errors.Join(utils.ErrIO, err))
	}
	return nil
}

// RedisBackend keeps files in a Redis database, one key namespace per name.
type RedisBackend struct {
	URL string
}

// Open connects to the server and opens the file name.
func (b RedisBackend) Open(ctx context.Context, name string, mode storage.Mode) (storage.Store, error) {
	return storage.NewRedisStore(ctx, storage.RedisConfig{URL: b.URL, Name: name, Mode: mode})
}

// Exists reports whether the file name has been created.
func (b RedisBackend) Exists(ctx context.Context, name string) (bool, error) {
	s, err := b.Open(ctx, name, storage.ReadOnly)
	switch {
	case err == nil:
		return true, s.Close()
	case errors.Is(err, utils.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes every key of the file name.
func (b RedisBackend) Delete(ctx context.Context, name string) error {
	s, err := storage.NewRedisStore(ctx, storage.RedisConfig{URL: b.URL, Name: name, Mode: storage.ReadOnly})
	if err != nil {
		return err
	}
	return utils.KeepPrimary(s.Drop(ctx), s.Close())
}
