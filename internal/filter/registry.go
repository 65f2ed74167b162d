package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/scigolib/h5vol/internal/plugin"
	"github.com/scigolib/h5vol/internal/utils"
)

// Registry maps filter ids to codecs. Ids it does not know are looked up
// through a plugin finder and cached on success. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[ID]Codec
	finder plugin.Finder
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFinder enables dynamic loading of unknown filters.
func WithFinder(f plugin.Finder) RegistryOption {
	return func(r *Registry) { r.finder = f }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry returns a registry holding the built-in codecs.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		codecs: make(map[ID]Codec),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, c := range Builtins() {
		r.codecs[c.ID()] = c
	}
	return r
}

// Register adds or replaces the codec for its id.
func (r *Registry) Register(c Codec) error {
	if c == nil || c.ID() == All {
		return fmt.Errorf("registering filter codec: %w", utils.ErrInvalidArgument)
	}
	r.mu.Lock()
	r.codecs[c.ID()] = c
	r.mu.Unlock()
	return nil
}

// Unregister removes the codec for id.
func (r *Registry) Unregister(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[id]; !ok {
		return fmt.Errorf("filter %d: %w", id, utils.ErrFilterNotFound)
	}
	delete(r.codecs, id)
	return nil
}

// Lookup returns a registered codec without consulting plugins.
func (r *Registry) Lookup(id ID) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[id]
	return c, ok
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.codecs))
	for id := range r.codecs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Resolve returns the codec for id, loading it from the plugin path when it
// is not registered. A plugin that cannot be found reports ErrFilterNotFound;
// one that cannot be loaded reports ErrUnavailable. Either way only this
// filter is affected.
func (r *Registry) Resolve(ctx context.Context, id ID) (Codec, error) {
	if c, ok := r.Lookup(id); ok {
		return c, nil
	}
	if r.finder == nil {
		return nil, fmt.Errorf("filter %d: %w", id, utils.ErrFilterNotFound)
	}

	info, err := r.finder.Find(ctx, plugin.KindFilter, plugin.ByID(int(id)), func(info any) bool {
		c, ok := info.(Codec)
		return ok && c.ID() == id
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, utils.ErrNotFound):
		return nil, fmt.Errorf("filter %d: %w", id, utils.ErrFilterNotFound)
	default:
		r.logger.Debug("filter plugin unavailable", slog.Int("id", int(id)), slog.String("err", err.Error()))
		return nil, fmt.Errorf("filter %d: %w", id, errors.Join(utils.ErrUnavailable, err))
	}

	c := info.(Codec)
	r.mu.Lock()
	if existing, ok := r.codecs[id]; ok {
		c = existing
	} else {
		r.codecs[id] = c
	}
	r.mu.Unlock()
	r.logger.Debug("filter plugin registered", slog.Int("id", int(id)), slog.String("name", c.Name()))
	return c, nil
}

// Available reports whether id can be resolved.
func (r *Registry) Available(ctx context.Context, id ID) bool {
	_, err := r.Resolve(ctx, id)
	return err == nil
}

// Name returns the codec name for id, or "" when it is unknown.
func (r *Registry) Name(id ID) string {
	if c, ok := r.Lookup(id); ok {
		return c.Name()
	}
	return ""
}
