package hxlive

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/containerd/log"
	"github.com/oklog/ulid/v2"
	"github.com/pthm/hxlive/lib/cache"
	"github.com/pthm/hxlive/lib/encoding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Model is a persisted record. Models are sent to the client as their
// fields plus a "pk" key.
type Model = encoding.Model

// ModelStore loads and saves models of one type.
type ModelStore interface {
	Get(ctx context.Context, pk any) (Model, error)
	Create(ctx context.Context, fields map[string]any) (Model, error)
	Update(ctx context.Context, pk any, fields map[string]any) (Model, error)
}

// Registry holds component definitions, model stores and the caches shared
// by every request. Construct one at startup and pass it to the handler.
type Registry struct {
	mu         sync.RWMutex
	defs       map[string]*Def
	stores     map[string]ModelStore
	modelTypes map[reflect.Type]string

	signer  *encoding.Signer
	backend cache.Backend
	cache   *TreeCache
	serial  *SerialQueue
	metrics *metrics
	tracer  trace.Tracer
	opts    *options

	// OnError is called when dispatching fails with an error that is not
	// part of the message protocol. Customize this to handle errors
	// appropriately for your application.
	OnError func(http.ResponseWriter, *http.Request, error)
}

// NewRegistry creates a registry signing state with secret.
func NewRegistry(secret []byte, opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	signer, err := encoding.NewSigner(secret)
	if err != nil {
		panic(fmt.Sprintf("hxlive: failed to create signer: %v", err))
	}
	sealKey := o.sealKey
	if sealKey == nil {
		sealKey = secret
	}
	sealer, err := encoding.NewSealer(sealKey)
	if err != nil {
		panic(fmt.Sprintf("hxlive: failed to create sealer: %v", err))
	}

	if o.backend == nil {
		o.backend = cache.NewMemory(0)
	}
	tp := o.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	reg := &Registry{
		defs:       make(map[string]*Def),
		stores:     make(map[string]ModelStore),
		modelTypes: make(map[reflect.Type]string),
		signer:     signer,
		backend:    o.backend,
		metrics:    newMetrics(o.registerer),
		tracer:     tp.Tracer("github.com/pthm/hxlive"),
		opts:       o,
	}
	reg.cache = newTreeCache(reg, o.backend, sealer, o.ttl, o.nearSize)
	if o.serial.Enabled {
		reg.serial = newSerialQueue(reg, o.backend, o.serial)
	}

	reg.OnError = func(w http.ResponseWriter, r *http.Request, err error) {
		if IsComponentLoadError(err) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
	return reg
}

// Signer returns the registry's checksum signer.
func (reg *Registry) Signer() *encoding.Signer {
	return reg.signer
}

// Cache returns the tree cache.
func (reg *Registry) Cache() *TreeCache {
	return reg.cache
}

// Prefix returns the URL prefix the handler serves.
func (reg *Registry) Prefix() string {
	return reg.opts.prefix
}

// Backend returns the cross-request cache backend.
func (reg *Registry) Backend() cache.Backend {
	return reg.backend
}

// Register adds a component type under name and returns its schema for
// declaring actions and hooks. Panics if name is empty or already taken.
func Register[C Component](reg *Registry, name string, factory func() C) *Def {
	if name == "" {
		panic("hxlive: component name must not be empty")
	}
	def := newDef(name, func() Component { return factory() })

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.defs[name]; exists {
		panic(fmt.Sprintf("hxlive: component %q registered twice", name))
	}
	reg.defs[name] = def
	return def
}

// RegisterModel makes store available to dbInput actions under name and to
// method parameters of sample's type.
//
//	reg.RegisterModel("todo", (*Todo)(nil), todos)
func (reg *Registry) RegisterModel(name string, sample Model, store ModelStore) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.stores[name] = store
	reg.modelTypes[reflect.TypeOf(sample)] = name
}

// Def returns the schema registered under name.
func (reg *Registry) Def(name string) (*Def, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if def, ok := reg.defs[name]; ok {
		return def, nil
	}
	return nil, &ComponentLoadError{Name: name, Tried: reg.candidates(name)}
}

// candidates lists registered names close to name, for diagnostics.
func (reg *Registry) candidates(name string) []string {
	norm := normalizeName(name)
	var similar []string
	for n := range reg.defs {
		if normalizeName(n) == norm || strings.HasSuffix(n, "."+name) || strings.HasSuffix(name, "."+n) {
			similar = append(similar, n)
		}
	}
	if len(similar) == 0 {
		similar = encoding.SortedKeys(reg.defs)
	}
	return similar
}

func normalizeName(s string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "_", "", ".", "").Replace(s))
}

func (reg *Registry) store(name string) (ModelStore, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s, ok := reg.stores[name]
	return s, ok
}

func (reg *Registry) storeForType(t reflect.Type) (ModelStore, bool) {
	reg.mu.RLock()
	name, ok := reg.modelTypes[t]
	if !ok && t.Kind() == reflect.Struct {
		name, ok = reg.modelTypes[reflect.PointerTo(t)]
	}
	reg.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return reg.store(name)
}

// NewID returns a fresh component id.
func NewID() string {
	return strings.ToLower(ulid.Make().String())
}

// Create resolves a component into tree. With useCache the component is
// restored from the tree cache when present; otherwise, or on a miss, a
// new instance is constructed, mounted and hydrated. An empty id gets a
// generated one.
func (reg *Registry) Create(ctx context.Context, tree *Tree, name, id string, useCache bool) (Component, error) {
	def, err := reg.Def(name)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = NewID()
	}

	if useCache {
		c, err := reg.cache.Restore(ctx, tree, id)
		switch {
		case err == nil && baseOf(c).name == name:
			return c, nil
		case err == nil:
			log.G(ctx).WithField("component", id).Warnf("cached component is %q, not %q", baseOf(c).name, name)
		case !cache.IsMiss(err):
			log.G(ctx).WithError(err).WithField("component", id).Warn("restore from cache failed")
		default:
			log.G(ctx).WithField("component", id).Debug("component cache miss")
		}
	}
	return reg.construct(ctx, tree, def, id, "", nil)
}

// GetOrCreate is Create with the cache enabled.
func (reg *Registry) GetOrCreate(ctx context.Context, tree *Tree, name, id string) (Component, error) {
	return reg.Create(ctx, tree, name, id, true)
}

// CreateChild constructs a component and links it under parent. The child
// id is derived from the parent id and key so it is stable across renders.
// setup runs before Mount and is the place to pass initial values.
func (reg *Registry) CreateChild(ctx context.Context, parent Component, name, key string, setup func(Component) error) (Component, error) {
	pb := baseOf(parent)
	if pb.tree == nil {
		return nil, fmt.Errorf("hxlive: parent %s is not attached to a tree", pb.id)
	}
	id := pb.id + "." + key
	if existing := pb.tree.Get(id); existing != nil {
		pb.tree.Link(parent, existing)
		return existing, nil
	}

	def, err := reg.Def(name)
	if err != nil {
		return nil, err
	}
	c, err := reg.construct(ctx, pb.tree, def, id, key, setup)
	if err != nil {
		return nil, err
	}
	pb.tree.Link(parent, c)
	return c, nil
}

// Child is CreateChild with a typed setup function.
//
//	item, err := hxlive.Child(ctx, list, "todo-item", "42", func(it *TodoItem) error {
//	    it.TodoID = 42
//	    return nil
//	})
func Child[C Component](ctx context.Context, parent Component, name, key string, setup func(C) error) (C, error) {
	var zero C
	reg := baseOf(parent).tree.reg
	c, err := reg.CreateChild(ctx, parent, name, key, func(c Component) error {
		typed, ok := c.(C)
		if !ok {
			return fmt.Errorf("hxlive: component %q is %T", name, c)
		}
		if setup == nil {
			return nil
		}
		return setup(typed)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := c.(C)
	if !ok {
		return zero, fmt.Errorf("hxlive: component %q is %T", name, c)
	}
	return typed, nil
}

func (reg *Registry) construct(ctx context.Context, tree *Tree, def *Def, id, key string, setup func(Component) error) (Component, error) {
	c := def.factory()
	b := baseOf(c)
	b.id = id
	b.name = def.name
	b.key = key
	b.def = def
	b.self = c
	b.errors = make(map[string][]FieldError)
	tree.add(c)

	if setup != nil {
		if err := setup(c); err != nil {
			return nil, err
		}
	}
	if m, ok := c.(Mounter); ok {
		if err := m.Mount(ctx); err != nil {
			return nil, fmt.Errorf("hxlive: mount %s: %w", def.name, err)
		}
	}
	captureSnapshots(c)
	if h, ok := c.(Hydrater); ok {
		if err := h.Hydrate(ctx); err != nil {
			return nil, fmt.Errorf("hxlive: hydrate %s: %w", def.name, err)
		}
	}
	return c, nil
}
