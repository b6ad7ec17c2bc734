// Package encoding converts component state to and from canonical JSON and
// signs it.
//
// The codec is deliberately lossy in one direction: floats are written as
// strings. Browsers parse 1.0 as the integer 1, so a float field that
// round-trips through the client would otherwise change type and break
// checksums. Decoding never re-hydrates typed values; assigning decoded
// values back into typed fields is the job of the typecast package.
package encoding

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"
)

// Model is implemented by persisted records (the ORM layer). Models are
// encoded as a flat object of their fields plus a "pk" key.
type Model interface {
	PrimaryKey() any
}

// ManyToMany is implemented by models with many-to-many relations. The
// related primary keys are flattened into the encoded model under the
// relation name.
type ManyToMany interface {
	ManyToManyIDs() map[string][]any
}

// JSONer is implemented by arbitrary values that know how to present
// themselves to the frontend.
type JSONer interface {
	ToJSON() any
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	decimalType   = reflect.TypeOf(decimal.Decimal{})
	jsonNumType   = reflect.TypeOf(json.Number(""))
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textType      = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Dumps serializes v to canonical JSON (RFC 8785 key ordering).
func Dumps(v any) (string, error) {
	b, err := DumpsBytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DumpsBytes is Dumps returning bytes.
func DumpsBytes(v any) ([]byte, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// Loads decodes a JSON document into plain Go values: map[string]any,
// []any, string, bool, nil, int64 for integral numbers and float64
// otherwise.
func Loads(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("encoding: trailing data after JSON value")
	}
	return plain(v), nil
}

// LoadsMap decodes a JSON object.
func LoadsMap(s string) (map[string]any, error) {
	v, err := Loads(s)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("encoding: expected JSON object, got %T", v)
	}
	return m, nil
}

// Plain converts json.Number values produced by a UseNumber decoder into
// int64 or float64, recursively.
func Plain(v any) any {
	return plain(v)
}

func plain(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = plain(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = plain(e)
		}
		return t
	}
	return v
}

// Normalize converts v into a tree of JSON-safe values (maps, slices,
// strings, integers, bools and nil) following the codec rules.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return normalize(reflect.ValueOf(v))
}

func normalize(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	for rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}

	if rv.CanInterface() {
		iface := rv.Interface()
		if rv.Kind() != reflect.Pointer && rv.CanAddr() {
			switch rv.Addr().Interface().(type) {
			case JSONer, Model:
				iface = rv.Addr().Interface()
			}
		}
		switch x := iface.(type) {
		case JSONer:
			return Normalize(x.ToJSON())
		case Model:
			return normalizeModel(rv, x)
		case *big.Rat:
			return x.RatString(), nil
		}
	}

	switch rv.Type() {
	case timeType:
		return rv.Interface().(time.Time).Format(time.RFC3339Nano), nil
	case decimalType:
		return rv.Interface().(decimal.Decimal).String(), nil
	case jsonNumType:
		num := rv.Interface().(json.Number)
		if _, err := num.Int64(); err == nil {
			return num, nil
		}
		return num.String(), nil
	}

	switch rv.Kind() {
	case reflect.Pointer:
		return normalize(rv.Elem())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	case reflect.String:
		return rv.String(), nil
	}

	if rv.Type().Implements(marshalerType) || reflect.PointerTo(rv.Type()).Implements(marshalerType) && rv.CanAddr() {
		return normalizeMarshaler(rv)
	}
	if rv.Type().Implements(textType) {
		b, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			val, err := normalize(iter.Value())
			if err != nil {
				return nil, err
			}
			out[mapKey(iter.Key())] = val
		}
		return out, nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes()), nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			val, err := normalize(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case reflect.Struct:
		out := make(map[string]any)
		if err := normalizeStruct(rv, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	return nil, fmt.Errorf("encoding: cannot encode value of type %s", rv.Type())
}

func normalizeModel(rv reflect.Value, m Model) (any, error) {
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}

	out := make(map[string]any)
	switch rv.Kind() {
	case reflect.Struct:
		if err := normalizeStruct(rv, out); err != nil {
			return nil, err
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			val, err := normalize(iter.Value())
			if err != nil {
				return nil, err
			}
			out[mapKey(iter.Key())] = val
		}
	}

	pk, err := Normalize(m.PrimaryKey())
	if err != nil {
		return nil, err
	}
	out["pk"] = pk

	if rel, ok := m.(ManyToMany); ok {
		for name, ids := range rel.ManyToManyIDs() {
			vals, err := Normalize(ids)
			if err != nil {
				return nil, err
			}
			if vals == nil {
				vals = []any{}
			}
			out[name] = vals
		}
	}
	return out, nil
}

func normalizeMarshaler(rv reflect.Value) (any, error) {
	var m json.Marshaler
	if rv.Type().Implements(marshalerType) {
		m = rv.Interface().(json.Marshaler)
	} else {
		m = rv.Addr().Interface().(json.Marshaler)
	}
	raw, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return Normalize(floatsToStrings(v))
}

// floatsToStrings keeps integral numbers and turns every other number into
// its string form.
func floatsToStrings(v any) any {
	switch t := v.(type) {
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return t
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = floatsToStrings(e)
		}
	case []any:
		for i, e := range t {
			t[i] = floatsToStrings(e)
		}
	}
	return v
}

func normalizeStruct(rv reflect.Value, out map[string]any) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		name, omitEmpty, skip := FieldName(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if f.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				if err := normalizeStruct(inner, out); err != nil {
					return err
				}
			}
			continue
		}
		if name == "" {
			name = f.Name
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		val, err := normalize(fv)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		out[name] = val
	}
	return nil
}

// FieldName returns the JSON name of a struct field. name is empty for
// untagged embedded structs, whose fields are promoted. skip is true for
// unexported fields and fields tagged "-".
func FieldName(f reflect.StructField) (name string, omitEmpty bool, skip bool) {
	if !f.IsExported() && !f.Anonymous {
		return "", false, true
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	if f.Anonymous && name == "" {
		t := f.Type
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() == reflect.Struct {
			return "", omitEmpty, false
		}
		if !f.IsExported() {
			return "", false, true
		}
		name = f.Name
	}
	return name, omitEmpty, false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if b, err := tm.MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(k.Interface())
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
