// Package h5vol is a Go implementation of the HDF5 virtual object layer.
//
// A Runtime owns a connector registry with the native connector and the
// pass-through connector registered, a filter registry, a plugin loader for
// connectors and filters that are not built in, and the user-defined link
// classes traversal may follow. Files are opened through the runtime's
// default connector, which is chosen the way HDF5 chooses it: from the
// HDF5_VOL_CONNECTOR setting, falling back to native.
//
// Example:
//
//	rt, err := h5vol.New(ctx)
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	f, err := rt.CreateFile(ctx, "data.h5", h5vol.CreateTruncate)
//	if err != nil {
//	    return err
//	}
//	defer f.Close(ctx)
//
//	g, err := f.CreateGroup(ctx, "/experiments/run1", h5vol.WithParents())
package h5vol

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/scigolib/h5vol/internal/config"
	"github.com/scigolib/h5vol/internal/filter"
	"github.com/scigolib/h5vol/internal/group"
	"github.com/scigolib/h5vol/internal/native"
	"github.com/scigolib/h5vol/internal/passthru"
	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/plugin"
	"github.com/scigolib/h5vol/internal/utils"
	"github.com/scigolib/h5vol/internal/vol"
)

// Runtime is the set of registries files are opened against. It is safe for
// concurrent use.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	loader  *plugin.Loader
	filters *filter.Registry
	links   *group.LinkClassRegistry
	reg     *vol.Registry
	native  *native.Native

	fapl *plist.List // default connector selection
	lapl *plist.List // traversal limits
}

type options struct {
	cfg        *config.Config
	logger     *slog.Logger
	opener     plugin.Opener
	backend    native.Backend
	linkClass  []LinkClass
	connector  *string
	pluginDirs []string
}

// Option configures a Runtime.
type Option func(*options)

// WithConfig uses cfg instead of the defaults. The environment is not read
// unless cfg came from config.Load.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithConnector overrides the configured default connector. The setting
// has the form "<name> [info]".
func WithConnector(setting string) Option {
	return func(o *options) { o.connector = &setting }
}

// WithPluginPath overrides the configured plugin search path.
func WithPluginPath(dirs ...string) Option {
	return func(o *options) { o.pluginDirs = dirs }
}

// WithPluginOpener replaces the loader's module opener.
func WithPluginOpener(op plugin.Opener) Option {
	return func(o *options) { o.opener = op }
}

// WithBackend overrides the configured storage backend of the native
// connector.
func WithBackend(b native.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLinkClass registers a user-defined link class.
func WithLinkClass(c LinkClass) Option {
	return func(o *options) { o.linkClass = append(o.linkClass, c) }
}

// New builds a runtime and resolves its default connector.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg == nil {
		o.cfg = config.Default()
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	rt := &Runtime{
		cfg:    o.cfg,
		logger: o.logger,
		links:  group.NewLinkClassRegistry(),
	}

	dirs := o.pluginDirs
	if dirs == nil {
		dirs = plugin.ParsePathList(o.cfg.Plugin.Path)
	}
	loaderOpts := []plugin.Option{
		plugin.WithPaths(dirs...),
		plugin.WithPreload(o.cfg.Plugin.Preload),
		plugin.WithLogger(o.logger),
	}
	if o.opener != nil {
		loaderOpts = append(loaderOpts, plugin.WithOpener(o.opener))
	}
	rt.loader = plugin.NewLoader(loaderOpts...)
	rt.filters = filter.NewRegistry(filter.WithFinder(rt.loader), filter.WithLogger(o.logger))

	for _, c := range o.linkClass {
		if err := rt.RegisterLinkClass(c); err != nil {
			return nil, err
		}
	}

	backend := o.backend
	if backend == nil {
		backend = backendFor(o.cfg.Storage)
	}
	rt.native = native.New(
		native.WithBackend(backend),
		native.WithPipeline(filter.NewPipeline(rt.filters)),
		native.WithLinkClasses(rt.links),
		native.WithExternalPrefix(o.cfg.Link.ExtPrefix),
		native.WithLogger(o.logger),
	)
	rt.reg = vol.NewRegistry(vol.WithFinder(rt.loader), vol.WithLogger(o.logger))

	if err := rt.init(ctx, o); err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	return rt, nil
}

func backendFor(cfg config.StorageConfig) native.Backend {
	if cfg.Backend == config.BackendRedis {
		return native.RedisBackend{URL: cfg.RedisURL}
	}
	return native.ImageBackend{}
}

func (rt *Runtime) init(ctx context.Context, o *options) error {
	if _, err := rt.reg.Register(rt.native.Class(), nil); err != nil {
		return utils.WrapError("registering native connector", err)
	}
	pt := passthru.New(rt.reg, passthru.WithLogger(rt.logger))
	if _, err := rt.reg.Register(pt.Class(), nil); err != nil {
		return utils.WrapError("registering pass-through connector", err)
	}

	setting := rt.cfg.VOL.Connector
	if o.connector != nil {
		setting = *o.connector
	}
	prop, err := rt.reg.ResolveDefault(ctx, setting)
	if err != nil {
		return err
	}
	rt.fapl = plist.New(plist.FileAccess)
	if err := vol.SetConnectorProp(rt.fapl, prop); err != nil {
		return err
	}

	rt.lapl = plist.New(plist.LinkAccess)
	return rt.lapl.Set(plist.NLinks, rt.cfg.Link.NLinks)
}

// Close terminates every connector, closing any file left open.
func (rt *Runtime) Close() error {
	var errs []error
	for _, l := range []*plist.List{rt.fapl, rt.lapl} {
		if l != nil {
			errs = append(errs, l.Close())
		}
	}
	rt.fapl, rt.lapl = nil, nil
	if rt.reg != nil {
		errs = append(errs, rt.reg.Close())
	}
	return errors.Join(errs...)
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// DefaultConnector returns the default connector setting in the form
// accepted by WithConnector.
func (rt *Runtime) DefaultConnector() string {
	prop, err := vol.GetConnectorProp(rt.fapl)
	if err != nil {
		return ""
	}
	return prop.String()
}

// ConnectorStatus describes a registered connector.
type ConnectorStatus struct {
	ID           int64
	Name         string
	Value        int
	Version      int
	Capabilities uint64
	Refs         int
}

// Connectors lists the registered connectors in registration order.
func (rt *Runtime) Connectors() []ConnectorStatus {
	list := rt.reg.Connectors()
	out := make([]ConnectorStatus, len(list))
	for i, s := range list {
		out[i] = ConnectorStatus{
			ID:           int64(s.ID),
			Name:         s.Name,
			Value:        int(s.Value),
			Version:      s.Version,
			Capabilities: uint64(s.CapFlags),
			Refs:         s.Refs,
		}
	}
	return out
}

// FilterStatus describes a filter codec known to the runtime.
type FilterStatus struct {
	ID   uint16
	Name string
}

// Filters lists the registered filter codecs by id. Plugins appear once a
// dataset has used them.
func (rt *Runtime) Filters() []FilterStatus {
	ids := rt.filters.IDs()
	out := make([]FilterStatus, len(ids))
	for i, id := range ids {
		out[i] = FilterStatus{ID: uint16(id), Name: rt.filters.Name(id)}
	}
	return out
}

// FilterAvailable reports whether filter id can be used, loading it from the
// plugin path if needed.
func (rt *Runtime) FilterAvailable(ctx context.Context, id uint16) bool {
	return rt.filters.Available(ctx, filter.ID(id))
}

// PluginPath returns the plugin search path in search order.
func (rt *Runtime) PluginPath() []string { return rt.loader.SearchPath() }

// AppendPluginPath adds dir at the end of the plugin search path.
func (rt *Runtime) AppendPluginPath(dir string) error {
	return rt.loader.Paths(func(p *plugin.PathTable) error { return p.Append(dir) })
}

// PrependPluginPath adds dir at the front of the plugin search path.
func (rt *Runtime) PrependPluginPath(dir string) error {
	return rt.loader.Paths(func(p *plugin.PathTable) error { return p.Prepend(dir) })
}

// PluginsEnabled reports whether connectors and filters may be loaded.
func (rt *Runtime) PluginsEnabled() bool {
	return rt.loader.Enabled(plugin.KindAll)
}
