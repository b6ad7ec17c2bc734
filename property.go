package hxlive

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/pthm/hxlive/lib/encoding"
	"github.com/pthm/hxlive/lib/typecast"
	"github.com/vmihailenco/msgpack/v5"
)

// SetOptions controls SetProperty.
type SetOptions struct {
	// Hooks runs the updating, updated and resolved hooks.
	Hooks bool
	// Clean passes the value through the attached form's cleaner.
	Clean bool
}

func fieldValue(c Component, f *fieldDef) reflect.Value {
	return reflect.ValueOf(c).Elem().FieldByIndex(f.index)
}

// Attributes returns the public state of c keyed by wire name. Values are
// the live Go values, not their JSON form.
func Attributes(c Component) map[string]any {
	def := baseOf(c).def
	out := make(map[string]any, len(def.fields))
	for _, name := range def.Fields() {
		out[name] = fieldValue(c, def.byName[name]).Interface()
	}
	return out
}

// FrontendData returns the public state of c in its JSON-safe form, the
// representation sent to the client and covered by the checksum.
func FrontendData(c Component) (map[string]any, error) {
	n, err := encoding.Normalize(Attributes(c))
	if err != nil {
		return nil, fmt.Errorf("hxlive: encode %s: %w", baseOf(c).name, err)
	}
	m, _ := n.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// GetProperty resolves a dotted path through fields, map keys and slice
// indexes. It returns nil when any segment is absent.
func GetProperty(c Component, path string) any {
	parts := strings.Split(path, ".")
	f, ok := baseOf(c).def.field(parts[0])
	if !ok {
		return nil
	}
	v := fieldValue(c, f)
	for _, seg := range parts[1:] {
		var ok bool
		if v, ok = step(v, seg); !ok {
			return nil
		}
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

// step descends one path segment.
func step(v reflect.Value, seg string) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			name, _, skip := encoding.FieldName(t.Field(i))
			if skip {
				continue
			}
			if name == seg || (name == "" && t.Field(i).Name == seg) {
				return v.Field(i), true
			}
		}
	case reflect.Map:
		key, err := typecast.Cast(seg, v.Type().Key())
		if err != nil {
			return reflect.Value{}, false
		}
		mv := v.MapIndex(key)
		return mv, mv.IsValid()
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= v.Len() {
			return reflect.Value{}, false
		}
		return v.Index(i), true
	}
	return reflect.Value{}, false
}

// SetProperty is the single entry point for changing component state from
// the client. For a top level field it runs, in order: updating hooks,
// type conversion, form cleaning, assignment, updated hooks and resolved
// hooks. Dotted paths assign into nested structs, maps and slices; hooks
// are keyed by the full path for those.
func SetProperty(ctx context.Context, c Component, path string, value any, opts SetOptions) error {
	b := baseOf(c)
	parts := strings.Split(path, ".")
	f, ok := b.def.field(parts[0])
	if !ok {
		return &AttributeError{Component: b.name, Name: path, Err: ErrUnknownAttribute}
	}

	if opts.Hooks {
		if u, ok := c.(Updater); ok {
			if err := u.Updating(ctx, path, value); err != nil {
				return err
			}
		}
		if err := runHooks(ctx, b.def.updating[path], c, value); err != nil {
			return err
		}
	}

	field := fieldValue(c, f)
	var err error
	if len(parts) == 1 {
		err = assignField(c, field, path, value, opts.Clean)
	} else {
		err = assignPath(field, parts[1:], value)
	}
	if err != nil {
		return &AttributeError{Component: b.name, Name: path, Err: err}
	}

	if opts.Hooks {
		current := GetProperty(c, path)
		if u, ok := c.(Updater); ok {
			if err := u.Updated(ctx, path, current); err != nil {
				return err
			}
		}
		if err := runHooks(ctx, b.def.updated[path], c, current); err != nil {
			return err
		}
		if r, ok := c.(Resolver); ok {
			if err := r.Resolved(ctx, path, current); err != nil {
				return err
			}
		}
		if err := runHooks(ctx, b.def.resolved[path], c, current); err != nil {
			return err
		}
	}
	return nil
}

func assignField(c Component, field reflect.Value, name string, value any, clean bool) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}
	cv, err := typecast.Cast(value, field.Type())
	if err != nil {
		return err
	}

	if clean {
		if fm, ok := c.(Former); ok {
			if cl, ok := fm.Form().(Cleaner); ok {
				if cleaned, ok := cl.Clean(name, cv.Interface()); ok {
					cv = keepInProgress(cv, cleaned, field.Type())
				}
			}
		}
	}
	field.Set(cv)
	return nil
}

// keepInProgress prefers the cleaned value unless the only difference is
// surrounding whitespace, so a user typing "Ada " keeps the trailing space
// in the input.
func keepInProgress(raw reflect.Value, cleaned any, t reflect.Type) reflect.Value {
	if s, ok := raw.Interface().(string); ok {
		if cs, ok := cleaned.(string); ok && strings.TrimSpace(s) == cs {
			return raw
		}
	}
	cv, err := typecast.Cast(cleaned, t)
	if err != nil {
		return raw
	}
	return cv
}

// assignPath sets a value below field. Maps are copied on write because
// map elements are not addressable.
func assignPath(v reflect.Value, path []string, value any) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			if !v.CanSet() {
				return fmt.Errorf("nil pointer at %q", path[0])
			}
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	seg := path[0]
	switch v.Kind() {
	case reflect.Struct:
		next, ok := step(v, seg)
		if !ok {
			return fmt.Errorf("no field %q", seg)
		}
		if len(path) == 1 {
			return typecast.Assign(next, value)
		}
		return assignPath(next, path[1:], value)

	case reflect.Map:
		if v.IsNil() {
			v.Set(reflect.MakeMap(v.Type()))
		}
		key, err := typecast.Cast(seg, v.Type().Key())
		if err != nil {
			return err
		}
		elem := reflect.New(v.Type().Elem()).Elem()
		if cur := v.MapIndex(key); cur.IsValid() {
			elem.Set(cur)
		}
		if len(path) == 1 {
			if err := typecast.Assign(elem, value); err != nil {
				return err
			}
		} else if err := assignPath(elem, path[1:], value); err != nil {
			return err
		}
		v.SetMapIndex(key, elem)
		return nil

	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= v.Len() {
			return fmt.Errorf("index %q out of range", seg)
		}
		if len(path) == 1 {
			return typecast.Assign(v.Index(i), value)
		}
		return assignPath(v.Index(i), path[1:], value)

	case reflect.Interface:
		if v.IsNil() {
			return fmt.Errorf("nil value at %q", seg)
		}
		// Interface contents are not addressable; copy, assign and store back.
		inner := reflect.New(v.Elem().Type()).Elem()
		inner.Set(v.Elem())
		if err := assignPath(inner, path, value); err != nil {
			return err
		}
		v.Set(inner)
		return nil
	}
	return fmt.Errorf("cannot descend into %s at %q", v.Type(), seg)
}

// captureSnapshots records the resettable field values of c. Fields
// holding saved models and values msgpack cannot encode are skipped.
func captureSnapshots(c Component) {
	b := baseOf(c)
	b.snapshots = make(map[string][]byte)
	for _, f := range b.def.fields {
		v := fieldValue(c, f)
		if holdsSavedModel(v) {
			continue
		}
		raw, err := msgpack.Marshal(v.Interface())
		if err != nil {
			continue
		}
		b.snapshots[f.name] = raw
	}
}

// holdsSavedModel reports whether v is a model with a primary key, which
// cannot safely be rebuilt from a snapshot.
func holdsSavedModel(v reflect.Value) bool {
	if !v.CanInterface() {
		return false
	}
	m, ok := v.Interface().(encoding.Model)
	if !ok && v.CanAddr() {
		m, ok = v.Addr().Interface().(encoding.Model)
	}
	if !ok {
		return false
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return false
	}
	pk := reflect.ValueOf(m.PrimaryKey())
	return pk.IsValid() && !pk.IsZero()
}

// Reset restores every field captured after Mount to its initial value.
func (b *Base) Reset() error {
	if b.self == nil {
		return nil
	}
	for name, raw := range b.snapshots {
		f, ok := b.def.byName[name]
		if !ok {
			continue
		}
		fresh := reflect.New(f.typ)
		if err := msgpack.Unmarshal(raw, fresh.Interface()); err != nil {
			return &AttributeError{Component: b.name, Name: name, Err: err}
		}
		fieldValue(b.self, f).Set(fresh.Elem())
	}
	return nil
}
