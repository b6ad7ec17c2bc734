package hxlive

import (
	"context"
	"fmt"
	"reflect"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pthm/hxlive/lib/encoding"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	baseType    = reflect.TypeOf(Base{})
)

// Hook is a typed per-field hook. It receives the value being set (for
// updating hooks) or the value after assignment (for updated and resolved
// hooks).
type Hook[C Component] func(ctx context.Context, c C, value any) error

type hookFunc func(ctx context.Context, c Component, value any) error

type fieldDef struct {
	name  string // wire name
	index []int
	typ   reflect.Type
}

// stateField is an exported field persisted in the tree cache. key is the
// dotted Go field path.
type stateField struct {
	key   string
	index []int
}

type methodDef struct {
	name   string
	fn     reflect.Value
	params []reflect.Type // excluding receiver and context
	names  []string       // parameter names for keyword arguments
	hasCtx bool
}

// Def is the schema of a registered component type. It is computed once
// by Register and shared by every instance.
//
//	def := hxlive.Register(reg, "counter", func() *Counter { return &Counter{} })
//	def.Action("increment", (*Counter).Increment)
//	def.Action("add", (*Counter).Add, "amount")
//	hxlive.OnUpdated(def, "count", func(ctx context.Context, c *Counter, v any) error {
//	    c.Parity = c.Count % 2
//	    return nil
//	})
type Def struct {
	name    string
	typ     reflect.Type // struct type
	factory func() Component

	fields  []*fieldDef
	byName  map[string]*fieldDef
	state   []stateField
	methods map[string]*methodDef

	exclude   mapset.Set[string]
	safe      mapset.Set[string]
	models    map[string]string
	sensitive bool

	updating map[string][]hookFunc
	updated  map[string][]hookFunc
	resolved map[string][]hookFunc
}

func newDef(name string, factory func() Component) *Def {
	sample := factory()
	rv := reflect.ValueOf(sample)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("hxlive: component %q must be a pointer to a struct, got %T", name, sample))
	}

	d := &Def{
		name:     name,
		typ:      rv.Elem().Type(),
		factory:  factory,
		byName:   make(map[string]*fieldDef),
		methods:  make(map[string]*methodDef),
		exclude:  mapset.NewThreadUnsafeSet[string](),
		safe:     mapset.NewThreadUnsafeSet[string](),
		models:   make(map[string]string),
		updating: make(map[string][]hookFunc),
		updated:  make(map[string][]hookFunc),
		resolved: make(map[string][]hookFunc),
	}
	d.reflectFields(d.typ, nil, "")
	return d
}

func (d *Def) reflectFields(t reflect.Type, index []int, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		idx := append(append([]int(nil), index...), i)
		key := prefix + f.Name
		if f.Type == baseType {
			continue
		}
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Tag.Get("json") == "" {
			d.reflectFields(f.Type, idx, key+".")
			continue
		}
		d.state = append(d.state, stateField{key: key, index: idx})

		name, _, skip := encoding.FieldName(f)
		if skip {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if _, dup := d.byName[name]; dup {
			continue
		}
		fd := &fieldDef{name: name, index: idx, typ: f.Type}
		d.fields = append(d.fields, fd)
		d.byName[name] = fd
	}
}

// Name returns the registered component name.
func (d *Def) Name() string { return d.name }

// Fields returns the public attribute names in declaration order.
func (d *Def) Fields() []string {
	out := make([]string, 0, len(d.fields))
	for _, f := range d.fields {
		if !d.exclude.Contains(f.name) {
			out = append(out, f.name)
		}
	}
	return out
}

// Methods returns the names of the declared actions.
func (d *Def) Methods() []string {
	return encoding.SortedKeys(d.methods)
}

func (d *Def) field(name string) (*fieldDef, bool) {
	f, ok := d.byName[name]
	if !ok || d.exclude.Contains(name) {
		return nil, false
	}
	return f, true
}

// Exclude hides fields from the client. Excluded fields are still kept in
// the tree cache.
func (d *Def) Exclude(names ...string) *Def {
	d.exclude.Append(names...)
	return d
}

// Safe marks string fields whose values templates may emit without HTML
// escaping (see Text).
func (d *Def) Safe(names ...string) *Def {
	d.safe.Append(names...)
	return d
}

// Sensitive encrypts the component's cache records.
func (d *Def) Sensitive() *Def {
	d.sensitive = true
	return d
}

// Model declares that dbInput actions naming dbName are stored through the
// model store registered as modelName.
func (d *Def) Model(dbName, modelName string) *Def {
	d.models[dbName] = modelName
	return d
}

// Action declares a method callable from the client. fn must be a method
// expression or a function whose first parameter is the component type,
// optionally followed by a context.Context:
//
//	def.Action("increment", (*Counter).Increment)
//	def.Action("rename", (*Profile).Rename, "first", "last")
//
// The optional names label the remaining parameters so calls can pass them
// as keyword arguments. Results may be empty, (error), (T) or (T, error);
// a non-nil T is returned to the client.
func (d *Def) Action(name string, fn any, paramNames ...string) *Def {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		panic(fmt.Sprintf("hxlive: action %s.%s is %T, not a function", d.name, name, fn))
	}
	if ft.NumIn() == 0 || ft.In(0) != reflect.PointerTo(d.typ) {
		panic(fmt.Sprintf("hxlive: action %s.%s must take *%s as its first parameter", d.name, name, d.typ))
	}
	if ft.NumOut() > 2 || (ft.NumOut() == 2 && ft.Out(1) != errorType) {
		panic(fmt.Sprintf("hxlive: action %s.%s must return (T, error), T, error or nothing", d.name, name))
	}

	md := &methodDef{name: name, fn: fv}
	first := 1
	if ft.NumIn() > 1 && ft.In(1) == contextType {
		md.hasCtx = true
		first = 2
	}
	for i := first; i < ft.NumIn(); i++ {
		md.params = append(md.params, ft.In(i))
	}
	if len(paramNames) > len(md.params) {
		panic(fmt.Sprintf("hxlive: action %s.%s names %d parameters but takes %d", d.name, name, len(paramNames), len(md.params)))
	}
	md.names = paramNames
	d.methods[name] = md
	return d
}

func (d *Def) checkField(name string) {
	if _, ok := d.byName[name]; !ok {
		panic(fmt.Sprintf("hxlive: component %s has no field %q", d.name, name))
	}
}

func wrapHook[C Component](fn Hook[C]) hookFunc {
	return func(ctx context.Context, c Component, value any) error {
		return fn(ctx, c.(C), value)
	}
}

// OnUpdating attaches a hook that runs before field is set from the client.
// Returning an error aborts the update.
func OnUpdating[C Component](d *Def, field string, fn Hook[C]) *Def {
	d.checkField(field)
	d.updating[field] = append(d.updating[field], wrapHook(fn))
	return d
}

// OnUpdated attaches a hook that runs after field has been set.
func OnUpdated[C Component](d *Def, field string, fn Hook[C]) *Def {
	d.checkField(field)
	d.updated[field] = append(d.updated[field], wrapHook(fn))
	return d
}

// OnResolved attaches a hook that runs once the final synced value of field
// has been applied.
func OnResolved[C Component](d *Def, field string, fn Hook[C]) *Def {
	d.checkField(field)
	d.resolved[field] = append(d.resolved[field], wrapHook(fn))
	return d
}

func runHooks(ctx context.Context, hooks []hookFunc, c Component, value any) error {
	for _, h := range hooks {
		if err := h(ctx, c, value); err != nil {
			return err
		}
	}
	return nil
}
