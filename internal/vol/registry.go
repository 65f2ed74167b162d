package vol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/scigolib/h5vol/internal/plist"
	"github.com/scigolib/h5vol/internal/plugin"
	"github.com/scigolib/h5vol/internal/utils"
)

// ID is the process-unique handle of a registered connector.
type ID int64

// OptDynamicBase is the first operation value handed out by
// RegisterOptOperation. Connectors use values below it for their own
// optional operations.
const OptDynamicBase = 1024

// Registry is the table of registered connectors. It is safe for concurrent
// use; registration is serialized so a lookup never sees a half-registered
// connector.
type Registry struct {
	mu     sync.RWMutex
	conns  []*Connector // registration order
	nextID ID

	optOps  map[Subclass]map[string]int
	nextOpt map[Subclass]int

	def *ConnectorProp

	finder plugin.Finder
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFinder enables loading connectors from plugins.
func WithFinder(f plugin.Finder) Option {
	return func(r *Registry) { r.finder = f }
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		nextID:  1,
		optOps:  make(map[Subclass]map[string]int),
		nextOpt: make(map[Subclass]int),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func validate(c *Class) error {
	if c == nil {
		return fmt.Errorf("nil class: %w", utils.ErrConnectorInvalid)
	}
	var reason string
	switch {
	case c.Version != Version:
		reason = fmt.Sprintf("interface version %d, want %d", c.Version, Version)
	case c.Name == "":
		reason = "empty name"
	case c.Value < 0 || c.Value > MaxValue:
		reason = fmt.Sprintf("value %d out of range", c.Value)
	case c.Info != nil && c.Info.Copy != nil && c.Info.Free == nil:
		reason = "info copy without info free"
	case c.Wrap != nil && c.Wrap.GetWrapCtx != nil && c.Wrap.FreeWrapCtx == nil:
		reason = "get-wrap-context without free-wrap-context"
	default:
		return nil
	}
	return fmt.Errorf("connector %q: %s: %w", c.Name, reason, utils.ErrConnectorInvalid)
}

// Register adds class and returns its ID. Registering a class whose name is
// already registered returns the existing ID with one more reference.
// Initialize runs once, before the connector becomes visible; it must not
// call back into the registry.
func (r *Registry) Register(class *Class, vipl *plist.List) (ID, error) {
	if err := validate(class); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.class.Name == class.Name {
			c.refs++
			return c.id, nil
		}
	}
	for _, c := range r.conns {
		if c.class.Value == class.Value {
			return 0, fmt.Errorf("connector %q: value %d already used by %q: %w",
				class.Name, class.Value, c.class.Name, utils.ErrAlreadyExists)
		}
	}
	if class.Initialize != nil {
		if err := class.Initialize(vipl); err != nil {
			return 0, utils.WrapError(fmt.Sprintf("initializing connector %q", class.Name), err)
		}
	}

	c := &Connector{id: r.nextID, class: class, reg: r, refs: 1}
	r.nextID++
	r.conns = append(r.conns, c)
	r.logger.Debug("connector registered",
		slog.String("name", class.Name), slog.Int("value", int(class.Value)), slog.Int64("id", int64(c.id)))
	return c.id, nil
}

// RegisterByName registers the connector called name, loading it from the
// plugin path if it is not registered yet.
func (r *Registry) RegisterByName(ctx context.Context, name string, vipl *plist.List) (ID, error) {
	if id, err := r.takeRef(func(c *Class) bool { return c.Name == name }); err == nil {
		return id, nil
	}
	class, err := r.load(ctx, plugin.ByName(name), func(c *Class) bool { return c.Name == name })
	if err != nil {
		return 0, err
	}
	return r.Register(class, vipl)
}

// RegisterByValue registers the connector with value v, loading it from the
// plugin path if it is not registered yet.
func (r *Registry) RegisterByValue(ctx context.Context, v Value, vipl *plist.List) (ID, error) {
	if id, err := r.takeRef(func(c *Class) bool { return c.Value == v }); err == nil {
		return id, nil
	}
	class, err := r.load(ctx, plugin.ByID(int(v)), func(c *Class) bool { return c.Value == v })
	if err != nil {
		return 0, err
	}
	return r.Register(class, vipl)
}

func (r *Registry) takeRef(match func(*Class) bool) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if match(c.class) {
			c.refs++
			return c.id, nil
		}
	}
	return 0, utils.ErrNotFound
}

// load finds a connector class through the plugin finder. A plugin that is
// not there reports ErrNotFound; one that fails to load or was built against
// another interface version reports ErrUnavailable.
func (r *Registry) load(ctx context.Context, key plugin.Key, match func(*Class) bool) (*Class, error) {
	if r.finder == nil {
		return nil, fmt.Errorf("connector %s: %w", key, utils.ErrNotFound)
	}
	info, err := r.finder.Find(ctx, plugin.KindVOL, key, func(info any) bool {
		c, ok := info.(*Class)
		return ok && match(c)
	})
	switch {
	case err == nil:
		class := info.(*Class)
		if class.Version != Version {
			r.logger.Debug("connector plugin version mismatch",
				slog.String("key", key.String()), slog.Int("version", int(class.Version)))
			return nil, fmt.Errorf("connector %s: plugin interface version %d, want %d: %w",
				key, class.Version, Version, utils.ErrUnavailable)
		}
		return class, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, utils.ErrNotFound):
		return nil, fmt.Errorf("connector %s: %w", key, err)
	default:
		r.logger.Debug("connector plugin unavailable", slog.String("key", key.String()), slog.String("err", err.Error()))
		return nil, fmt.Errorf("connector %s: %w", key, errors.Join(utils.ErrUnavailable, err))
	}
}

// LookupByName returns the ID of the first connector called name.
func (r *Registry) LookupByName(name string) (ID, error) {
	return r.lookup(func(c *Class) bool { return c.Name == name }, strconv.Quote(name))
}

// LookupByValue returns the ID of the first connector with value v.
func (r *Registry) LookupByValue(v Value) (ID, error) {
	return r.lookup(func(c *Class) bool { return c.Value == v }, "with value "+strconv.Itoa(int(v)))
}

func (r *Registry) lookup(match func(*Class) bool, what string) (ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if match(c.class) {
			return c.id, nil
		}
	}
	return 0, fmt.Errorf("connector %s: %w", what, utils.ErrNotFound)
}

// Get returns the connector registered under id.
func (r *Registry) Get(id ID) (*Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.find(id); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("connector id %d: %w", id, utils.ErrNotFound)
}

func (r *Registry) find(id ID) *Connector {
	for _, c := range r.conns {
		if c.id == id {
			return c
		}
	}
	return nil
}

// IncRef adds a reference to the connector.
func (r *Registry) IncRef(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.find(id)
	if c == nil {
		return fmt.Errorf("connector id %d: %w", id, utils.ErrNotFound)
	}
	c.refs++
	return nil
}

// Unregister drops a reference. The connector is terminated and removed when
// its last reference goes.
func (r *Registry) Unregister(id ID) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	return c.decRef()
}

// RefCount returns the number of references to the connector.
func (r *Registry) RefCount(id ID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.find(id)
	if c == nil {
		return 0, fmt.Errorf("connector id %d: %w", id, utils.ErrNotFound)
	}
	return c.refs, nil
}

// Status describes a registered connector.
type Status struct {
	ID       ID
	Name     string
	Value    Value
	Version  int
	CapFlags CapFlags
	Refs     int
}

// Connectors lists the registered connectors in registration order.
func (r *Registry) Connectors() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, len(r.conns))
	for i, c := range r.conns {
		out[i] = Status{
			ID:       c.id,
			Name:     c.class.Name,
			Value:    c.class.Value,
			Version:  c.class.ConnVersion,
			CapFlags: c.class.CapFlags,
			Refs:     c.refs,
		}
	}
	return out
}

// ParseConnectorString splits a default connector setting of the form
// "name [info]". The name may also be a connector value.
func ParseConnectorString(s string) (name, info string) {
	s = strings.TrimSpace(s)
	name, info, _ = strings.Cut(s, " ")
	return name, strings.TrimSpace(info)
}

// ResolveDefault selects the default connector from setting, which names a
// registered connector, a connector to load from the plugin path, or is
// empty to select the native connector. The result is kept as the registry
// default and returned; the registry owns it.
func (r *Registry) ResolveDefault(ctx context.Context, setting string) (*ConnectorProp, error) {
	name, infoStr := ParseConnectorString(setting)
	if name == "" {
		name = NativeName
	}

	var (
		id  ID
		err error
	)
	if v, convErr := strconv.Atoi(name); convErr == nil {
		id, err = r.RegisterByValue(ctx, Value(v), nil)
	} else {
		id, err = r.RegisterByName(ctx, name, nil)
	}
	if err != nil {
		return nil, utils.WrapError("resolving default connector", err)
	}
	conn, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	prop := &ConnectorProp{Conn: conn}
	if infoStr != "" {
		if prop.Info, err = conn.InfoFromString(infoStr); err != nil {
			return nil, utils.KeepPrimary(
				utils.WrapError(fmt.Sprintf("parsing info %q for connector %q", infoStr, conn.Name()), err),
				conn.decRef())
		}
	}

	r.mu.Lock()
	old := r.def
	r.def = prop
	r.mu.Unlock()
	if old != nil {
		if err := old.Release(); err != nil {
			r.logger.Debug("releasing previous default connector", slog.String("err", err.Error()))
		}
	}
	r.logger.Debug("default connector", slog.String("name", conn.Name()), slog.String("info", infoStr))
	return prop, nil
}

// Default returns the connector selected by ResolveDefault, or nil.
func (r *Registry) Default() *ConnectorProp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

func validOptSubclass(s Subclass) bool {
	return s >= SubclsAttr && s <= SubclsToken
}

// RegisterOptOperation assigns an operation value to a named optional
// operation of subcls. Values are unique per subclass.
func (r *Registry) RegisterOptOperation(subcls Subclass, name string) (int, error) {
	if !validOptSubclass(subcls) || name == "" {
		return 0, fmt.Errorf("optional operation %q of %s: %w", name, subcls, utils.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.optOps[subcls]
	if ops == nil {
		ops = make(map[string]int)
		r.optOps[subcls] = ops
	}
	if _, ok := ops[name]; ok {
		return 0, fmt.Errorf("optional operation %q of %s: %w", name, subcls, utils.ErrAlreadyExists)
	}
	op := OptDynamicBase + r.nextOpt[subcls]
	r.nextOpt[subcls]++
	ops[name] = op
	return op, nil
}

// FindOptOperation returns the value of a registered optional operation.
func (r *Registry) FindOptOperation(subcls Subclass, name string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.optOps[subcls][name]
	if !ok {
		return 0, fmt.Errorf("optional operation %q of %s: %w", name, subcls, utils.ErrNotFound)
	}
	return op, nil
}

// UnregisterOptOperation forgets a registered optional operation. Its value
// is not reused.
func (r *Registry) UnregisterOptOperation(subcls Subclass, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.optOps[subcls][name]; !ok {
		return fmt.Errorf("optional operation %q of %s: %w", name, subcls, utils.ErrNotFound)
	}
	delete(r.optOps[subcls], name)
	return nil
}

// Close terminates every connector regardless of outstanding references.
func (r *Registry) Close() error {
	r.mu.Lock()
	conns := slices.Clone(r.conns)
	r.conns = nil
	def := r.def
	r.def = nil
	r.mu.Unlock()

	var errs []error
	if def != nil && def.Info != nil {
		errs = append(errs, def.Conn.FreeInfo(def.Info))
	}
	for _, c := range slices.Backward(conns) {
		errs = append(errs, c.terminate())
	}
	return errors.Join(errs...)
}
