package hxlive

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/pthm/hxlive/lib/callparse"
	"github.com/pthm/hxlive/lib/encoding"
	"github.com/pthm/hxlive/lib/typecast"
)

// Partial names a region of a component's HTML to return instead of the
// whole DOM. Key matches data-live-key, ID matches id and Target matches
// either.
type Partial struct {
	ID     string `json:"id,omitempty"`
	Key    string `json:"key,omitempty"`
	Target string `json:"target,omitempty"`
}

// Action is one queued instruction from the client. Apply returns the
// component that subsequent actions operate on; Refresh and Reset replace
// it.
type Action interface {
	Kind() string
	Partials() []Partial
	Apply(ctx context.Context, tree *Tree, c Component, req *ComponentRequest) (Component, *ReturnValue, error)
}

type actionBase struct {
	partials []Partial
}

func (a actionBase) Partials() []Partial { return a.partials }

// SyncInput sets one property from a bound input.
type SyncInput struct {
	actionBase
	Name  string
	Value any
}

// CallMethod invokes a declared action method.
type CallMethod struct {
	actionBase
	Name   string
	Args   []any
	Kwargs map[string]any
	// Parent retargets the call to the parent component ("$parent.name()").
	Parent bool
}

// Refresh rebuilds the component from the cache and replays the client's
// data onto it ("$refresh").
type Refresh struct{ actionBase }

// Reset replaces the component with a freshly mounted one ("$reset").
type Reset struct{ actionBase }

// Toggle negates boolean properties ("$toggle('a', 'b')").
type Toggle struct {
	actionBase
	Names []string
}

// ValidateAll validates every field instead of only the changed ones
// ("$validate").
type ValidateAll struct{ actionBase }

// DBInput creates or updates a model from bound inputs.
type DBInput struct {
	actionBase
	Model  string
	DBName string
	PK     any
	Fields map[string]any
}

func (*SyncInput) Kind() string   { return "syncInput" }
func (*CallMethod) Kind() string  { return "callMethod" }
func (*Refresh) Kind() string     { return "refresh" }
func (*Reset) Kind() string       { return "reset" }
func (*Toggle) Kind() string      { return "toggle" }
func (*ValidateAll) Kind() string { return "validate" }
func (*DBInput) Kind() string     { return "dbInput" }

// ParseAction builds an action from its wire form
// {"type", "payload", "partials"}. Special method names are routed to
// their own action types here, not when the action is applied.
func ParseAction(raw map[string]any) (Action, error) {
	typ, _ := raw["type"].(string)
	payload, _ := raw["payload"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}
	base := actionBase{partials: parsePartials(raw)}

	switch typ {
	case "syncInput":
		name, _ := payload["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: syncInput without name", ErrUnknownAction)
		}
		return &SyncInput{actionBase: base, Name: name, Value: payload["value"]}, nil

	case "callMethod":
		name, _ := payload["name"].(string)
		return parseCall(base, name)

	case "dbInput":
		a := &DBInput{actionBase: base, Fields: map[string]any{}}
		a.Model, _ = payload["model"].(string)
		if db, ok := payload["db"].(map[string]any); ok {
			a.PK = db["pk"]
			a.DBName, _ = db["name"].(string)
		}
		if fields, ok := payload["fields"].(map[string]any); ok {
			a.Fields = fields
		}
		if a.Model == "" && a.DBName == "" {
			return nil, fmt.Errorf("%w: dbInput without model", ErrUnknownAction)
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, typ)
}

func parsePartials(raw map[string]any) []Partial {
	var items []any
	switch v := raw["partials"].(type) {
	case []any:
		items = v
	}
	if single, ok := raw["partial"].(map[string]any); ok {
		items = append(items, single)
	}

	var out []Partial
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		var p Partial
		p.ID, _ = m["id"].(string)
		p.Key, _ = m["key"].(string)
		p.Target, _ = m["target"].(string)
		if p != (Partial{}) {
			out = append(out, p)
		}
	}
	return out
}

func parseCall(base actionBase, s string) (Action, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: callMethod without name", ErrUnknownAction)
	}

	parent := false
	if rest, ok := strings.CutPrefix(s, "$parent."); ok {
		parent = true
		s = rest
	}

	// "name=value" is a property set, not a call.
	if !parent && !strings.Contains(s, "(") {
		if key, val, err := callparse.ParseKwarg(s); err == nil {
			return &SyncInput{actionBase: base, Name: key, Value: val}, nil
		}
	}

	name, args, kwargs, err := callparse.ParseCall(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMethod, err)
	}

	if !parent {
		switch name {
		case "$reset":
			return &Reset{actionBase: base}, nil
		case "$refresh":
			return &Refresh{actionBase: base}, nil
		case "$validate":
			return &ValidateAll{actionBase: base}, nil
		case "$toggle":
			t := &Toggle{actionBase: base}
			for _, a := range args {
				n, ok := a.(string)
				if !ok {
					return nil, fmt.Errorf("%w: $toggle takes field names, got %v", ErrInvalidArguments, a)
				}
				t.Names = append(t.Names, n)
			}
			return t, nil
		}
	}
	if strings.HasPrefix(name, "$") {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return &CallMethod{actionBase: base, Name: name, Args: args, Kwargs: kwargs, Parent: parent}, nil
}

// Apply sets the property. When the queue syncs the same field several
// times the value always lands, but hooks only run for actions whose value
// is the final one, so superseded keystrokes do not trigger side effects.
func (a *SyncInput) Apply(ctx context.Context, _ *Tree, c Component, req *ComponentRequest) (Component, *ReturnValue, error) {
	hooks := true
	if req != nil {
		if final, ok := req.finalSync[a.Name]; ok {
			hooks = sameValue(final, a.Value)
		}
	}
	err := SetProperty(ctx, c, a.Name, a.Value, SetOptions{Hooks: hooks, Clean: true})
	return c, nil, err
}

func sameValue(a, b any) bool {
	da, errA := encoding.Dumps(a)
	db, errB := encoding.Dumps(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return da == db
}

// Apply invokes the method. Validation errors returned by the method are
// recorded on the component; any other error is returned as is.
func (a *CallMethod) Apply(ctx context.Context, tree *Tree, c Component, _ *ComponentRequest) (Component, *ReturnValue, error) {
	target := c
	if a.Parent {
		p := baseOf(c).Parent()
		if p == nil {
			return c, nil, fmt.Errorf("%w: %s", ErrNoParent, baseOf(c).id)
		}
		baseOf(p).forceRender = true
		target = p
	}

	b := baseOf(target)
	md, ok := b.def.methods[a.Name]
	if !ok {
		return c, nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, b.name, a.Name)
	}
	in, err := bindArgs(ctx, tree.reg, target, md, a.Args, a.Kwargs)
	if err != nil {
		return c, nil, err
	}

	caller, isCaller := target.(Caller)
	if isCaller {
		if err := caller.Calling(ctx, a.Name, a.Args); err != nil {
			return c, nil, err
		}
	}
	value, err := callResults(md.fn.Call(in))
	if isCaller {
		if herr := caller.Called(ctx, a.Name, a.Args); herr != nil && err == nil {
			err = herr
		}
	}
	if err != nil {
		handled, verr := applyValidationError(target, err)
		if !handled {
			return c, nil, err
		}
		return c, nil, verr
	}
	return c, &ReturnValue{Method: a.Name, Args: a.Args, Kwargs: a.Kwargs, Value: value}, nil
}

func bindArgs(ctx context.Context, reg *Registry, target Component, md *methodDef, args []any, kwargs map[string]any) ([]reflect.Value, error) {
	in := []reflect.Value{reflect.ValueOf(target)}
	if md.hasCtx {
		in = append(in, reflect.ValueOf(ctx))
	}

	variadic := md.fn.Type().IsVariadic()
	fixed := len(md.params)
	if variadic {
		fixed--
	}
	if !variadic && len(args) > fixed {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrInvalidArguments, md.name, fixed, len(args))
	}
	for k := range kwargs {
		found := false
		for i, n := range md.names {
			if n == k && i < fixed {
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s has no parameter %q", ErrInvalidArguments, md.name, k)
		}
	}

	for i := 0; i < fixed; i++ {
		pt := md.params[i]
		var (
			raw  any
			have bool
		)
		if i < len(args) {
			raw, have = args[i], true
		} else if i < len(md.names) {
			raw, have = kwargs[md.names[i]]
		}
		if !have {
			in = append(in, reflect.Zero(pt))
			continue
		}
		v, err := castParam(ctx, reg, pt, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s argument %d: %v", ErrInvalidArguments, md.name, i+1, err)
		}
		in = append(in, v)
	}

	if variadic {
		elem := md.params[fixed].Elem()
		for i := fixed; i < len(args); i++ {
			v, err := castParam(ctx, reg, elem, args[i])
			if err != nil {
				return nil, fmt.Errorf("%w: %s argument %d: %v", ErrInvalidArguments, md.name, i+1, err)
			}
			in = append(in, v)
		}
	}
	return in, nil
}

// castParam converts a raw argument. Parameters of a registered model type
// receive the model loaded by primary key.
func castParam(ctx context.Context, reg *Registry, t reflect.Type, raw any) (reflect.Value, error) {
	if store, ok := reg.storeForType(t); ok {
		m, err := store.Get(ctx, raw)
		if err != nil {
			return reflect.Value{}, err
		}
		mv := reflect.ValueOf(m)
		switch {
		case mv.Type().AssignableTo(t):
			return mv, nil
		case mv.Kind() == reflect.Pointer && mv.Elem().Type().AssignableTo(t):
			return mv.Elem(), nil
		}
		return reflect.Value{}, fmt.Errorf("store returned %T for %s", m, t)
	}
	return typecast.Cast(raw, t)
}

func callResults(out []reflect.Value) (any, error) {
	var (
		value any
		err   error
	)
	for _, o := range out {
		if o.Type() == errorType {
			if !o.IsNil() {
				err = o.Interface().(error)
			}
			continue
		}
		switch o.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			if o.IsNil() {
				continue
			}
		}
		value = o.Interface()
	}
	return value, err
}

// Apply reloads the component from the cache, replays the client's data
// and hydrates.
func (a *Refresh) Apply(ctx context.Context, tree *Tree, c Component, req *ComponentRequest) (Component, *ReturnValue, error) {
	b := baseOf(c)
	fresh, err := tree.reg.Create(ctx, tree, b.name, b.id, true)
	if err != nil {
		return c, nil, err
	}
	tree.replace(c, fresh)

	if req != nil {
		if err := applyData(ctx, fresh, req.Data); err != nil {
			return c, nil, err
		}
	}
	if h, ok := fresh.(Hydrater); ok {
		if err := h.Hydrate(ctx); err != nil {
			return c, nil, err
		}
	}
	return fresh, nil, nil
}

// Apply mounts a new uncached component in place of c and clears errors.
// The children c had are dropped first, so Mount builds fresh ones.
func (a *Reset) Apply(ctx context.Context, tree *Tree, c Component, _ *ComponentRequest) (Component, *ReturnValue, error) {
	b := baseOf(c)
	tree.prune(c)
	fresh, err := tree.reg.Create(ctx, tree, b.name, b.id, false)
	if err != nil {
		return c, nil, err
	}
	tree.replace(c, fresh)
	baseOf(fresh).ClearErrors()
	return fresh, nil, nil
}

// Apply negates each named property through SetProperty, so hooks fire.
func (a *Toggle) Apply(ctx context.Context, _ *Tree, c Component, _ *ComponentRequest) (Component, *ReturnValue, error) {
	for _, name := range a.Names {
		cur, ok := GetProperty(c, name).(bool)
		if !ok {
			return c, nil, &AttributeError{Component: baseOf(c).name, Name: name, Err: fmt.Errorf("not a bool")}
		}
		if err := SetProperty(ctx, c, name, !cur, SetOptions{Hooks: true}); err != nil {
			return c, nil, err
		}
	}
	return c, nil, nil
}

// Apply does nothing; the dispatcher widens validation to every field.
func (a *ValidateAll) Apply(_ context.Context, _ *Tree, c Component, _ *ComponentRequest) (Component, *ReturnValue, error) {
	return c, nil, nil
}

// Apply saves the fields through the resolved model store. The store is
// found from the type of the component attribute named Model, or from the
// schema's Model declarations. When that attribute holds the model, or a
// slice of them, the saved model is written back.
func (a *DBInput) Apply(ctx context.Context, tree *Tree, c Component, _ *ComponentRequest) (Component, *ReturnValue, error) {
	b := baseOf(c)
	reg := tree.reg

	var store ModelStore
	f, hasField := b.def.field(a.Model)
	if hasField {
		t := f.typ
		if t.Kind() == reflect.Slice {
			t = t.Elem()
		}
		store, _ = reg.storeForType(t)
	}
	if store == nil {
		name := a.DBName
		if name == "" {
			name = a.Model
		}
		if modelName, ok := b.def.models[name]; ok {
			name = modelName
		}
		store, _ = reg.store(name)
	}
	if store == nil {
		return c, nil, fmt.Errorf("%w: %s", ErrNoModelStore, a.Model)
	}

	var (
		m   Model
		err error
	)
	if a.PK != nil && a.PK != "" {
		m, err = store.Update(ctx, a.PK, a.Fields)
	} else {
		m, err = store.Create(ctx, a.Fields)
	}
	if err != nil {
		return c, nil, err
	}

	if hasField {
		writeBackModel(fieldValue(c, f), m)
	}
	return c, nil, nil
}

func writeBackModel(field reflect.Value, m Model) {
	mv := reflect.ValueOf(m)
	fit := func(t reflect.Type) (reflect.Value, bool) {
		switch {
		case mv.Type().AssignableTo(t):
			return mv, true
		case mv.Kind() == reflect.Pointer && mv.Elem().Type().AssignableTo(t):
			return mv.Elem(), true
		}
		return reflect.Value{}, false
	}

	if v, ok := fit(field.Type()); ok {
		field.Set(v)
		return
	}
	if field.Kind() != reflect.Slice {
		return
	}
	v, ok := fit(field.Type().Elem())
	if !ok {
		return
	}
	pk := m.PrimaryKey()
	for i := 0; i < field.Len(); i++ {
		el := field.Index(i)
		var existing Model
		if el.CanInterface() {
			existing, _ = el.Interface().(Model)
		}
		if existing == nil && el.CanAddr() {
			existing, _ = el.Addr().Interface().(Model)
		}
		if existing != nil && reflect.DeepEqual(existing.PrimaryKey(), pk) {
			el.Set(v)
			return
		}
	}
	field.Set(reflect.Append(field, v))
}

// applyData sets each client-known value without hooks. Keys that are not
// public attributes are ignored.
func applyData(ctx context.Context, c Component, data map[string]any) error {
	for _, name := range encoding.SortedKeys(data) {
		err := SetProperty(ctx, c, name, data[name], SetOptions{})
		if err == nil {
			continue
		}
		if ae, ok := err.(*AttributeError); ok && ae.Err == ErrUnknownAttribute {
			continue
		}
		return err
	}
	return nil
}
