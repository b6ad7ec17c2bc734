package hxlive

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/google/go-cmp/cmp"
	"github.com/pthm/hxlive/lib/encoding"
	"github.com/pthm/hxlive/lib/markup"
)

type twin struct{ Base }

func (*twin) Render(context.Context) templ.Component { return htmlf(`<p>one</p><p>two</p>`) }

type bio struct {
	Base
	About string `json:"about"`
	Intro string `json:"intro"`
}

func (b *bio) Render(context.Context) templ.Component { return htmlf(`<div></div>`) }

func TestRenderNodeAttributes(t *testing.T) {
	reg := newTestRegistry(t)
	c := newComponent[*counter](t, reg, "counter")
	c.Count = 4
	c.Call("flash", "#count")

	out, err := reg.renderNode(context.Background(), c, true)
	if err != nil {
		t.Fatalf("renderNode() error = %v", err)
	}
	frag, err := markup.Parse(out)
	if err != nil {
		t.Fatalf("markup.Parse() error = %v", err)
	}

	attr := func(key string) string {
		v, ok := frag.Attr(key)
		if !ok {
			t.Errorf("missing attribute %s", key)
		}
		return v
	}
	if got := attr(AttrID); got != c.ID() {
		t.Errorf("%s = %q, want %q", AttrID, got, c.ID())
	}
	if got := attr(AttrName); got != "counter" {
		t.Errorf("%s = %q, want counter", AttrName, got)
	}
	if _, ok := frag.Attr(AttrKey); ok {
		t.Errorf("unexpected %s on a component without key", AttrKey)
	}

	data, err := encoding.LoadsMap(attr(AttrData))
	if err != nil {
		t.Fatalf("LoadsMap(data) error = %v", err)
	}
	if diff := cmp.Diff(map[string]any{"count": int64(4), "label": "", "log": nil}, data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if !reg.Signer().Verify(data, attr(AttrChecksum)) {
		t.Error("checksum does not verify against data")
	}
	if got := attr(AttrCalls); got != `[{"fn":"flash","args":["#count"]}]` {
		t.Errorf("%s = %s", AttrCalls, got)
	}

	plain, err := reg.renderNode(context.Background(), c, false)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(plain, AttrData) || strings.Contains(plain, AttrCalls) {
		t.Errorf("renderNode(withData=false) = %s, want no data attributes", plain)
	}
}

func TestRenderNodeRootRule(t *testing.T) {
	reg := newTestRegistry(t)
	Register(reg, "twin", func() *twin { return &twin{} })
	c := newComponent[*twin](t, reg, "twin")

	_, err := reg.renderNode(context.Background(), c, true)
	if !errors.Is(err, ErrMultipleRoots) {
		t.Errorf("renderNode() error = %v, want %v", err, ErrMultipleRoots)
	}
}

func TestEmbedChildren(t *testing.T) {
	reg := newTestRegistry(t)
	l := newComponent[*todoList](t, reg, "list")
	l.Children()[1].(*todoItem).Count = 2

	out, err := reg.renderNode(context.Background(), l, true)
	if err != nil {
		t.Fatalf("renderNode() error = %v", err)
	}

	for _, key := range []string{"a", "b"} {
		child, ok, err := markup.ExtractBy(out, AttrID, l.ID()+"."+key)
		if err != nil || !ok {
			t.Fatalf("child %s not embedded in %s", key, out)
		}
		if !strings.Contains(child, AttrKey+`="`+key+`"`) || !strings.Contains(child, AttrData) {
			t.Errorf("child %s = %s, want key and data attributes", key, child)
		}
	}
	if !strings.Contains(out, `<p class="total">2</p>`) {
		t.Errorf("total missing from %s", out)
	}

	tree := baseOf(l).tree
	if _, ok := tree.memo[l.ID()+".a"]; !ok {
		t.Error("child output not memoized")
	}

	// A memoized child is not rendered again even when its state changes.
	l.Children()[0].(*todoItem).Text = "changed"
	again, err := reg.renderNode(context.Background(), l.Children()[0], false)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(again, "changed") {
		t.Errorf("memoized child re-rendered: %s", again)
	}
}

func TestText(t *testing.T) {
	reg := newTestRegistry(t)
	Register(reg, "bio", func() *bio { return &bio{} }).Safe("intro")
	b := newComponent[*bio](t, reg, "bio")
	b.About = "<b>me</b>"
	b.Intro = "<b>hi</b>"

	tests := []struct {
		field string
		want  string
	}{
		{"about", "&lt;b&gt;me&lt;/b&gt;"},
		{"intro", "<b>hi</b>"},
		{"missing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Text(b, tt.field).Render(context.Background(), &buf); err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.field, buf.String(), tt.want)
			}
		})
	}
}

func TestExtractPartials(t *testing.T) {
	src := `<div data-live-id="x"><p data-live-key="label">hi</p><span id="count">1</span></div>`

	got, err := extractPartials(src, []Partial{
		{Key: "label"},
		{ID: "count"},
		{Target: "count"},
		{ID: "nowhere"},
	})
	if err != nil {
		t.Fatalf("extractPartials() error = %v", err)
	}
	want := []PartialDOM{
		{Key: "label", DOM: `<p data-live-key="label">hi</p>`},
		{ID: "count", DOM: `<span id="count">1</span>`},
		{Target: "count", DOM: `<span id="count">1</span>`},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("extractPartials() mismatch (-want +got):\n%s", diff)
	}
}

func TestView(t *testing.T) {
	reg := newTestRegistry(t)
	var buf bytes.Buffer
	err := reg.View(nil, "counter", "v1", func(c Component) error {
		c.(*counter).Count = 9
		return nil
	}).Render(context.Background(), &buf)
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if !strings.Contains(buf.String(), `<span id="count">9</span>`) {
		t.Errorf("View() = %s", buf.String())
	}

	c, err := reg.Cache().Restore(context.Background(), reg.NewTree(nil), "v1")
	if err != nil {
		t.Fatalf("view was not cached: %v", err)
	}
	if c.(*counter).Count != 9 {
		t.Errorf("cached Count = %d, want 9", c.(*counter).Count)
	}

	err = reg.View(nil, "missing", "", nil).Render(context.Background(), &buf)
	if !IsComponentLoadError(err) {
		t.Errorf("View(missing) error = %v, want ComponentLoadError", err)
	}
}
