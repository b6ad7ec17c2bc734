package hxlive

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/a-h/templ"
	"github.com/google/go-cmp/cmp"
	"github.com/pthm/hxlive/lib/cache"
)

type shelf struct {
	Base
	Label string `json:"label"`
}

func (s *shelf) Mount(ctx context.Context) error {
	_, err := Child[*todoList](ctx, s, "list", "l", nil)
	return err
}

func (s *shelf) Render(context.Context) templ.Component { return htmlf(`<div></div>`) }

type vault struct {
	Base
	Secret string `json:"secret"`
}

func (v *vault) Render(context.Context) templ.Component { return htmlf(`<div></div>`) }

type leaky struct {
	Base
	Count int           `json:"count"`
	Done  chan struct{} `json:"-"`
}

func (l *leaky) Render(context.Context) templ.Component { return htmlf(`<div>%d</div>`, l.Count) }

func (l *leaky) Increment() { l.Count++ }

func TestTreeCacheRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	Register(reg, "shelf", func() *shelf { return &shelf{} })
	ctx := context.Background()

	root, err := reg.Create(ctx, reg.NewTree(nil), "shelf", "s", false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	list := baseOf(root).tree.Get("s.l").(*todoList)
	list.Title = "Groceries"
	list.AddError("title", "short", "Too short.")
	baseOf(root).tree.Get("s.l.b").(*todoItem).Count = 3

	if err := reg.Cache().Store(ctx, list); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	r := httptest.NewRequest("POST", "/live/message/list", nil)
	tree := reg.NewTree(r)
	c, err := reg.Cache().Restore(ctx, tree, "s.l.a")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if tree.Len() != 4 {
		t.Errorf("tree.Len() = %d, want 4", tree.Len())
	}
	item := c.(*todoItem)
	if item.Text != "item a" || item.Key() != "a" {
		t.Errorf("item = %q key %q, want item a key a", item.Text, item.Key())
	}
	parent, ok := item.Parent().(*todoList)
	if !ok {
		t.Fatalf("Parent() = %T, want *todoList", item.Parent())
	}
	if parent.Title != "Groceries" {
		t.Errorf("parent Title = %q, want Groceries", parent.Title)
	}
	if diff := cmp.Diff(map[string][]FieldError{"title": {{Code: "short", Message: "Too short."}}}, parent.Errors()); diff != "" {
		t.Errorf("parent errors mismatch (-want +got):\n%s", diff)
	}
	if got := tree.Get("s.l.b").(*todoItem).Count; got != 3 {
		t.Errorf("sibling Count = %d, want 3", got)
	}
	if tree.Root(item) != tree.Get("s") {
		t.Error("Root() is not the shelf")
	}

	topology := map[string][]string{}
	for _, id := range []string{"s", "s.l", "s.l.a", "s.l.b"} {
		n := tree.Get(id)
		if n == nil {
			t.Fatalf("tree.Get(%q) = nil", id)
		}
		if baseOf(n).Request() != r {
			t.Errorf("%s: Request() is not the live request", id)
		}
		var kids []string
		for _, k := range baseOf(n).Children() {
			kids = append(kids, baseOf(k).ID())
		}
		topology[id] = kids
	}
	wantTopology := map[string][]string{
		"s":     {"s.l"},
		"s.l":   {"s.l.a", "s.l.b"},
		"s.l.a": nil,
		"s.l.b": nil,
	}
	if diff := cmp.Diff(wantTopology, topology); diff != "" {
		t.Errorf("topology mismatch (-want +got):\n%s", diff)
	}
	if p := tree.Get("s.l").(*todoList).Parent(); p != tree.Get("s") {
		t.Errorf("list Parent() = %v, want the shelf", p)
	}
}

func TestTreeCacheParentEvicted(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	list, err := reg.Create(ctx, reg.NewTree(nil), "list", "l", false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := reg.Cache().Store(ctx, list); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := reg.Cache().Delete(ctx, "l"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	tree := reg.NewTree(nil)
	c, err := reg.Cache().Restore(ctx, tree, "l.b")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if c.(*todoItem).Parent() != nil {
		t.Error("Parent() != nil after parent eviction")
	}
	if tree.Len() != 1 {
		t.Errorf("tree.Len() = %d, want 1", tree.Len())
	}

	if _, err := reg.Cache().Restore(ctx, reg.NewTree(nil), "l"); !cache.IsMiss(err) {
		t.Errorf("Restore(evicted) error = %v, want miss", err)
	}
}

func TestTreeCacheSensitive(t *testing.T) {
	reg := newTestRegistry(t)
	Register(reg, "vault", func() *vault { return &vault{} }).Sensitive()
	ctx := context.Background()

	v := newComponent[*vault](t, reg, "vault")
	v.Secret = "hunter2"
	if err := reg.Cache().Store(ctx, v); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	raw, err := reg.Backend().Get(ctx, componentKeyPrefix+v.ID())
	if err != nil {
		t.Fatalf("backend Get() error = %v", err)
	}
	if bytes.Contains(raw, []byte("hunter2")) {
		t.Error("sensitive record stored in plain text")
	}

	c, err := reg.Cache().Restore(ctx, reg.NewTree(nil), v.ID())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := c.(*vault).Secret; got != "hunter2" {
		t.Errorf("Secret = %q, want hunter2", got)
	}
}

func TestTreeCacheNotSerializable(t *testing.T) {
	reg := newTestRegistry(t)
	Register(reg, "leaky", func() *leaky { return &leaky{Done: make(chan struct{})} })
	ctx := context.Background()

	l := newComponent[*leaky](t, reg, "leaky")
	err := reg.Cache().Store(ctx, l)
	if !IsNotSerializable(err) {
		t.Fatalf("Store() error = %v, want NotSerializableError", err)
	}
	if _, err := reg.Backend().Get(ctx, componentKeyPrefix+l.ID()); !cache.IsMiss(err) {
		t.Errorf("backend Get() error = %v, want miss", err)
	}
}

func TestTreeCacheNear(t *testing.T) {
	reg := newTestRegistry(t, WithNearCache(8))
	ctx := context.Background()

	c := newComponent[*counter](t, reg, "counter")
	c.Count = 7
	if err := reg.Cache().Store(ctx, c); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := reg.Backend().Delete(ctx, componentKeyPrefix+c.ID()); err != nil {
		t.Fatal(err)
	}

	got, err := reg.Cache().Restore(ctx, reg.NewTree(nil), c.ID())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got.(*counter).Count != 7 {
		t.Errorf("Count = %d, want 7", got.(*counter).Count)
	}
}

func TestCreateUsesCache(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	c := newComponent[*counter](t, reg, "counter")
	c.Count = 2
	if err := reg.Cache().Store(ctx, c); err != nil {
		t.Fatal(err)
	}

	cached, err := reg.Create(ctx, reg.NewTree(nil), "counter", c.ID(), true)
	if err != nil {
		t.Fatal(err)
	}
	if cached.(*counter).Count != 2 {
		t.Errorf("cached Count = %d, want 2", cached.(*counter).Count)
	}

	fresh, err := reg.Create(ctx, reg.NewTree(nil), "counter", c.ID(), false)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.(*counter).Count != 0 {
		t.Errorf("fresh Count = %d, want 0", fresh.(*counter).Count)
	}

	other, err := reg.Create(ctx, reg.NewTree(nil), "hooked", c.ID(), true)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := other.(*hooked); !ok {
		t.Errorf("Create(hooked) over a cached counter = %T", other)
	}
}
