package encoding

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type book struct {
	ID     int64   `json:"id"`
	Title  string  `json:"title"`
	Price  float64 `json:"price"`
	secret string
	tagIDs []int64
}

func (b book) PrimaryKey() any { return b.ID }

func (b book) ManyToManyIDs() map[string][]any {
	ids := make([]any, len(b.tagIDs))
	for i, id := range b.tagIDs {
		ids[i] = id
	}
	return map[string][]any{"tags": ids}
}

type point struct{ X, Y int }

func (p point) ToJSON() any { return []int{p.X, p.Y} }

func TestDumpsFloatsAsStrings(t *testing.T) {
	s, err := Dumps(map[string]any{"n": 1.5})
	if err != nil {
		t.Fatalf("Dumps() error = %v", err)
	}
	if s != `{"n":"1.5"}` {
		t.Errorf("Dumps() = %s, want {\"n\":\"1.5\"}", s)
	}

	v, err := LoadsMap(s)
	if err != nil {
		t.Fatalf("LoadsMap() error = %v", err)
	}
	if v["n"] != "1.5" {
		t.Errorf("n = %#v, want string \"1.5\"", v["n"])
	}
}

func TestDumpsCanonicalKeyOrder(t *testing.T) {
	a, _ := Dumps(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": true, "y": nil}})
	b, _ := Dumps(map[string]any{"c": map[string]any{"y": nil, "z": true}, "a": 2, "b": 1})
	if a != b {
		t.Errorf("Dumps not canonical: %s != %s", a, b)
	}
	if a != `{"a":2,"b":1,"c":{"y":null,"z":true}}` {
		t.Errorf("Dumps() = %s", a)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []map[string]any{
		{},
		{"name": "world", "count": int64(3), "ok": true, "none": nil},
		{"list": []any{int64(1), "two", []any{}}, "nested": map[string]any{"k": "v"}},
		{"unicode": "héllo <b>&</b>"},
	}

	for _, m := range tests {
		s, err := Dumps(m)
		if err != nil {
			t.Fatalf("Dumps(%v) error = %v", m, err)
		}
		got, err := Loads(s)
		if err != nil {
			t.Fatalf("Loads(%s) error = %v", s, err)
		}
		if diff := cmp.Diff(m, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDumpsModel(t *testing.T) {
	b := book{ID: 7, Title: "Dune", Price: 9.99, secret: "x", tagIDs: []int64{1, 2}}
	s, err := Dumps(b)
	if err != nil {
		t.Fatalf("Dumps() error = %v", err)
	}
	want := `{"id":7,"pk":7,"price":"9.99","tags":[1,2],"title":"Dune"}`
	if s != want {
		t.Errorf("Dumps(model) = %s, want %s", s, want)
	}

	s, err = Dumps([]book{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}})
	if err != nil {
		t.Fatalf("Dumps(queryset) error = %v", err)
	}
	if !strings.HasPrefix(s, `[{"id":1,"pk":1,`) {
		t.Errorf("Dumps(queryset) = %s", s)
	}
}

func TestDumpsSpecialValues(t *testing.T) {
	id := uuid.MustParse("7c5b1f5e-3f1e-4d4a-9a61-2f0e2b8f1c11")
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	s, err := Dumps(map[string]any{
		"decimal": decimal.RequireFromString("10.50"),
		"rat":     big.NewRat(1, 3),
		"uuid":    id,
		"time":    when,
		"point":   point{1, 2},
		"bytes":   []byte("hi"),
	})
	if err != nil {
		t.Fatalf("Dumps() error = %v", err)
	}

	want := `{"bytes":"aGk=","decimal":"10.5","point":[1,2],"rat":"1/3","time":"2024-03-01T12:30:00Z","uuid":"7c5b1f5e-3f1e-4d4a-9a61-2f0e2b8f1c11"}`
	if s != want {
		t.Errorf("Dumps() = %s\nwant %s", s, want)
	}
}

func TestDumpsUnsupported(t *testing.T) {
	if _, err := Dumps(map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("Dumps(chan) expected error")
	}
}

func TestLoadsRejectsTrailingData(t *testing.T) {
	if _, err := Loads(`{"a":1} {"b":2}`); err == nil {
		t.Error("Loads() expected error for trailing data")
	}
	if _, err := LoadsMap(`[1]`); err == nil {
		t.Error("LoadsMap() expected error for array")
	}
}
