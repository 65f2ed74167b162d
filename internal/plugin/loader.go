// Package plugin locates and opens dynamically loadable filter and connector
// modules.
//
// A module exports a variable named Symbol implementing Provider. The Loader
// walks its search path in order, opens candidate modules, and returns the
// first provider of the requested kind whose info satisfies the caller's
// match function. Opened modules and successful lookups are cached.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/scigolib/h5vol/internal/utils"
)

// Kind is the class of plugin being searched for.
type Kind uint8

// Plugin kinds, usable as a mask for Disable/Enable.
const (
	KindFilter Kind = 1 << iota
	KindVOL

	KindAll = KindFilter | KindVOL
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFilter:
		return "filter"
	case KindVOL:
		return "VOL connector"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Symbol is the name every module must export.
const Symbol = "H5PLPlugin"

// Provider is implemented by the value a module exports under Symbol.
type Provider interface {
	PluginKind() Kind
	PluginInfo() any
}

// Key identifies the plugin being searched for.
type Key struct {
	Name string
	ID   int
}

// ByName returns a key matching plugins by name.
func ByName(name string) Key {
	return Key{Name: name, ID: -1}
}

// ByID returns a key matching plugins by numeric identifier.
func ByID(id int) Key {
	return Key{ID: id}
}

// String returns the key for messages.
func (k Key) String() string {
	if k.Name != "" {
		return strconv.Quote(k.Name)
	}
	return strconv.Itoa(k.ID)
}

// Finder is the part of Loader consumed by the filter and connector registries.
type Finder interface {
	Find(ctx context.Context, kind Kind, key Key, match func(info any) bool) (any, error)
}

type module struct {
	path      string
	providers []Provider
}

// Loader searches plugin directories and caches what it opens.
type Loader struct {
	mu       sync.Mutex
	paths    *PathTable
	opener   Opener
	suffix   string
	disabled Kind
	modules  map[string]*module
	broken   map[string]error
	resolved map[string]any
	group    singleflight.Group
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces the module opener.
func WithOpener(o Opener) Option {
	return func(l *Loader) { l.opener = o }
}

// WithPaths sets the initial search path.
func WithPaths(dirs ...string) Option {
	return func(l *Loader) { l.paths = NewPathTable(dirs...) }
}

// WithSuffix sets the module file suffix (default ".so").
func WithSuffix(suffix string) Option {
	return func(l *Loader) { l.suffix = suffix }
}

// WithLogger sets the logger used for scan diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithPreload applies a preload setting; NoPlugins disables every kind.
func WithPreload(preload string) Option {
	return func(l *Loader) {
		if preload == NoPlugins {
			l.disabled = KindAll
		}
	}
}

// NewLoader returns a loader searching DefaultPath unless configured otherwise.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		paths:    NewPathTable(),
		opener:   GoOpener{},
		suffix:   ".so",
		modules:  make(map[string]*module),
		broken:   make(map[string]error),
		resolved: make(map[string]any),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Paths runs fn with exclusive access to the search path table. Cached
// lookups are dropped when the table changes so new directories are seen.
func (l *Loader) Paths(fn func(*PathTable) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	before := strings.Join(l.paths.dirs, "\x00")
	err := fn(l.paths)
	if strings.Join(l.paths.dirs, "\x00") != before {
		clear(l.resolved)
	}
	return err
}

// SearchPath returns a copy of the current search order.
func (l *Loader) SearchPath() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paths.Dirs()
}

// Disable stops dynamic loading for the kinds in mask.
func (l *Loader) Disable(mask Kind) {
	l.mu.Lock()
	l.disabled |= mask
	l.mu.Unlock()
}

// Enable re-allows dynamic loading for the kinds in mask.
func (l *Loader) Enable(mask Kind) {
	l.mu.Lock()
	l.disabled &^= mask
	l.mu.Unlock()
}

// Enabled reports whether kind may be loaded dynamically.
func (l *Loader) Enabled(kind Kind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disabled&kind == 0
}

// OpenModules returns the number of modules opened so far.
func (l *Loader) OpenModules() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.modules)
}

// Find returns the info of the first plugin of kind that matches. Failures to
// open individual modules are logged and skipped; the search reports
// ErrUnavailable when loading is disabled and ErrNotFound when nothing matched.
func (l *Loader) Find(ctx context.Context, kind Kind, key Key, match func(info any) bool) (any, error) {
	cacheKey := kind.String() + "/" + key.String()

	l.mu.Lock()
	if l.disabled&kind != 0 {
		l.mu.Unlock()
		return nil, fmt.Errorf("%s plugin %s: dynamic loading disabled: %w", kind, key, utils.ErrUnavailable)
	}
	if info, ok := l.resolved[cacheKey]; ok {
		l.mu.Unlock()
		return info, nil
	}
	dirs := l.paths.Dirs()
	l.mu.Unlock()

	var info any
	var err error
	for {
		info, err, _ = l.group.Do(cacheKey, func() (any, error) {
			return l.search(ctx, dirs, kind, key, match)
		})
		// A shared search stopped by another caller's context is retried
		// for callers whose own context is still live.
		if isContextErr(err) && ctx.Err() == nil {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.resolved[cacheKey] = info
	l.mu.Unlock()
	return info, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (l *Loader) search(ctx context.Context, dirs []string, kind Kind, key Key, match func(any) bool) (any, error) {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			l.logger.Debug("skipping plugin directory", slog.String("dir", dir), slog.String("err", err.Error()))
			continue
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), l.suffix) {
				continue
			}
			mod, err := l.open(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			for _, p := range mod.providers {
				if p.PluginKind() != kind {
					continue
				}
				if info := p.PluginInfo(); match(info) {
					l.logger.Debug("plugin resolved",
						slog.String("kind", kind.String()), slog.String("key", key.String()), slog.String("path", mod.path))
					return info, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%s plugin %s in search path %q: %w", kind, key, dirs, utils.ErrNotFound)
}

// open returns the cached module at path, opening it on first use.
func (l *Loader) open(path string) (*module, error) {
	l.mu.Lock()
	if m, ok := l.modules[path]; ok {
		l.mu.Unlock()
		return m, nil
	}
	if err, ok := l.broken[path]; ok {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	m, err := l.load(path)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.broken[path] = err
		l.logger.Debug("plugin open failed", slog.String("path", path), slog.String("err", err.Error()))
		return nil, err
	}
	if existing, ok := l.modules[path]; ok {
		return existing, nil
	}
	l.modules[path] = m
	return m, nil
}

func (l *Loader) load(path string) (*module, error) {
	mod, err := l.opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	sym, err := mod.Lookup(Symbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s in %s: %w", Symbol, path, err)
	}
	var providers []Provider
	switch v := sym.(type) {
	case Provider:
		providers = []Provider{v}
	case *Provider:
		providers = []Provider{*v}
	case []Provider:
		providers = v
	case *[]Provider:
		providers = *v
	default:
		return nil, fmt.Errorf("%s in %s has type %T: %w", Symbol, path, sym, errors.ErrUnsupported)
	}
	return &module{path: path, providers: providers}, nil
}

// Reset drops every cached lookup and module handle. Modules loaded by the Go
// runtime stay mapped; a later search re-resolves them through the opener.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.modules)
	clear(l.broken)
	clear(l.resolved)
}
