// Package typecast converts loosely typed values decoded from the wire
// (strings, int64, float64, bool, []any, map[string]any) into the
// declared Go types of component fields and method parameters.
package typecast

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pthm/hxlive/lib/callparse"
	lencoding "github.com/pthm/hxlive/lib/encoding"
	"github.com/shopspring/decimal"
)

// Error reports a value that could not be converted to the target type.
type Error struct {
	Value any
	Type  reflect.Type
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("typecast: cannot convert %#v to %s: %v", e.Value, e.Type, e.Err)
	}
	return fmt.Sprintf("typecast: cannot convert %#v to %s", e.Value, e.Type)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	timeType      = reflect.TypeOf(time.Time{})
	durationType  = reflect.TypeOf(time.Duration(0))
	uuidType      = reflect.TypeOf(uuid.UUID{})
	decimalType   = reflect.TypeOf(decimal.Decimal{})
	unmarshalText = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// To converts v to T.
func To[T any](v any) (T, error) {
	var zero T
	rv, err := Cast(v, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	return rv.Interface().(T), nil
}

// Cast converts v to a value of type t.
func Cast(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	}
	if t.Kind() != reflect.Interface && rv.Type().ConvertibleTo(t) && sameFamily(rv.Kind(), t.Kind()) {
		return rv.Convert(t), nil
	}

	fail := func(err error) (reflect.Value, error) {
		return reflect.Value{}, &Error{Value: v, Type: t, Err: err}
	}

	switch t {
	case timeType:
		return castTime(v, t)
	case durationType:
		switch x := v.(type) {
		case string:
			d, err := time.ParseDuration(x)
			if err != nil {
				return fail(err)
			}
			return reflect.ValueOf(d), nil
		case int64:
			return reflect.ValueOf(time.Duration(x)), nil
		}
		return fail(nil)
	case uuidType:
		s, ok := v.(string)
		if !ok {
			return fail(nil)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(id), nil
	case decimalType:
		var (
			d   decimal.Decimal
			err error
		)
		switch x := v.(type) {
		case string:
			d, err = decimal.NewFromString(x)
		case int64:
			d = decimal.NewFromInt(x)
		case float64:
			d = decimal.NewFromFloat(x)
		default:
			return fail(nil)
		}
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(d), nil
	}

	if s, ok := v.(string); ok && reflect.PointerTo(t).Implements(unmarshalText) {
		out := reflect.New(t)
		if err := out.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return fail(err)
		}
		return out.Elem(), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		inner, err := Cast(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t.Elem())
		out.Elem().Set(inner)
		return out, nil

	case reflect.Interface:
		if rv.Type().Implements(t) {
			out := reflect.New(t).Elem()
			out.Set(rv)
			return out, nil
		}
		return fail(nil)

	case reflect.Bool:
		b, err := toBool(v)
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(b).Convert(t), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := toInt(v)
		if err != nil {
			return fail(err)
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(i) {
			return fail(fmt.Errorf("overflow"))
		}
		out.SetInt(i)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := toInt(v)
		if err != nil {
			return fail(err)
		}
		out := reflect.New(t).Elem()
		if i < 0 || out.OverflowUint(uint64(i)) {
			return fail(fmt.Errorf("overflow"))
		}
		out.SetUint(uint64(i))
		return out, nil

	case reflect.Float32, reflect.Float64:
		f, err := toFloat(v)
		if err != nil {
			return fail(err)
		}
		return reflect.ValueOf(f).Convert(t), nil

	case reflect.String:
		switch x := v.(type) {
		case int64, float64, bool, json.Number:
			return reflect.ValueOf(fmt.Sprint(x)).Convert(t), nil
		case fmt.Stringer:
			return reflect.ValueOf(x.String()).Convert(t), nil
		}
		return fail(nil)

	case reflect.Slice, reflect.Array:
		items, ok := v.([]any)
		if !ok {
			return castJSON(v, t)
		}
		var out reflect.Value
		if t.Kind() == reflect.Slice {
			out = reflect.MakeSlice(t, len(items), len(items))
		} else {
			if len(items) > t.Len() {
				return fail(fmt.Errorf("%d items for array of %d", len(items), t.Len()))
			}
			out = reflect.New(t).Elem()
		}
		for i, item := range items {
			ev, err := Cast(item, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
		return out, nil

	case reflect.Map:
		m, ok := v.(map[string]any)
		if !ok {
			return castJSON(v, t)
		}
		out := reflect.MakeMapWithSize(t, len(m))
		for k, item := range m {
			kv, err := Cast(k, t.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			ev, err := Cast(item, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(kv, ev)
		}
		return out, nil

	case reflect.Struct:
		m, ok := v.(map[string]any)
		if !ok {
			return castJSON(v, t)
		}
		out := reflect.New(t).Elem()
		if err := fillStruct(out, m); err != nil {
			return fail(err)
		}
		return out, nil
	}

	return castJSON(v, t)
}

// Assign casts v and stores it in dst, which must be settable.
func Assign(dst reflect.Value, v any) error {
	cv, err := Cast(v, dst.Type())
	if err != nil {
		return err
	}
	dst.Set(cv)
	return nil
}

func fillStruct(out reflect.Value, m map[string]any) error {
	t := out.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, skip := lencoding.FieldName(f)
		if skip {
			continue
		}
		if f.Anonymous && name == "" {
			inner := out.Field(i)
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					inner.Set(reflect.New(inner.Type().Elem()))
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				if err := fillStruct(inner, m); err != nil {
					return err
				}
			}
			continue
		}
		if name == "" {
			name = f.Name
		}
		val, ok := m[name]
		if !ok {
			continue
		}
		if err := Assign(out.Field(i), val); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func castTime(v any, t reflect.Type) (reflect.Value, error) {
	switch x := v.(type) {
	case string:
		if parsed, ok := callparse.CastDateTime(x); ok {
			return reflect.ValueOf(parsed), nil
		}
		if clock, err := time.Parse("15:04:05", x); err == nil {
			return reflect.ValueOf(clock), nil
		}
		if clock, err := time.Parse("15:04", x); err == nil {
			return reflect.ValueOf(clock), nil
		}
	case int64:
		return reflect.ValueOf(time.Unix(x, 0).UTC()), nil
	}
	return reflect.Value{}, &Error{Value: v, Type: t}
}

// castJSON is the last resort: encode v and decode it into t.
func castJSON(v any, t reflect.Type) (reflect.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, &Error{Value: v, Type: t, Err: err}
	}
	out := reflect.New(t)
	if err := json.Unmarshal(raw, out.Interface()); err != nil {
		return reflect.Value{}, &Error{Value: v, Type: t, Err: err}
	}
	return out.Elem(), nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "on", "yes", "t", "y":
			return true, nil
		case "false", "0", "off", "no", "f", "n", "", "none", "null":
			return false, nil
		}
	}
	return false, fmt.Errorf("not a boolean")
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not integral", x)
		}
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return x.Int64()
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%q is not integral", x)
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("not a number")
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("not a number")
}

// sameFamily limits reflect conversions to ones that preserve meaning;
// reflect would happily turn an int into a one-rune string. Integers go
// through the overflow-checked path instead.
func sameFamily(a, b reflect.Kind) bool {
	return family(a) > 1 && family(a) == family(b)
}

func family(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return 1
	case reflect.Float32, reflect.Float64:
		return 2
	case reflect.String:
		return 3
	case reflect.Bool:
		return 4
	}
	return 0
}
