package markup

import (
	"errors"
	"strings"
	"testing"
)

func TestParseSingleRoot(t *testing.T) {
	tests := []struct {
		name string
		src  string
		err  error
	}{
		{"single", `<div><p>a</p><p>b</p></div>`, nil},
		{"whitespace and comments", "\n  <!-- c --><section>x</section>\n", nil},
		{"two roots", `<div></div><div></div>`, ErrMultipleRoots},
		{"stray text", `hello <div></div>`, ErrMultipleRoots},
		{"empty", `   `, ErrNoRoot},
		{"text only", `<!-- only -->`, ErrNoRoot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			if !errors.Is(err, tt.err) {
				t.Errorf("Parse() error = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestSetAttr(t *testing.T) {
	frag, err := Parse(`<div class="c">hi</div>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	frag.SetAttr("data-live-id", "abc")
	frag.SetAttr("class", "d")
	frag.SetAttr("data-live-data", `{"a":"<b>"}`)

	out := frag.String()
	want := `<div class="d" data-live-id="abc" data-live-data="{&#34;a&#34;:&#34;&lt;b&gt;&#34;}">hi</div>`
	if out != want {
		t.Errorf("String() = %s\nwant %s", out, want)
	}

	if v, ok := frag.Attr("data-live-id"); !ok || v != "abc" {
		t.Errorf("Attr() = %q, %v", v, ok)
	}
}

func TestExtract(t *testing.T) {
	src := `<div><ul id="items"><li data-live-key="one">1</li></ul><p id="footer">f</p></div>`

	got, ok, err := Extract(src, "data-live-key", "items")
	if err != nil || !ok {
		t.Fatalf("Extract(items) = %v, %v", ok, err)
	}
	if !strings.HasPrefix(got, `<ul id="items">`) {
		t.Errorf("Extract(items) = %s", got)
	}

	got, ok, _ = Extract(src, "data-live-key", "one")
	if !ok || got != `<li data-live-key="one">1</li>` {
		t.Errorf("Extract(one) = %s, %v", got, ok)
	}

	if _, ok, _ := Extract(src, "data-live-key", "missing"); ok {
		t.Error("Extract(missing) found a match")
	}

	got, ok, _ = ExtractBy(src, "id", "footer")
	if !ok || got != `<p id="footer">f</p>` {
		t.Errorf("ExtractBy(footer) = %s, %v", got, ok)
	}
}

func TestReplace(t *testing.T) {
	parent, _ := Parse(`<div data-live-id="p"><span>before</span><div data-live-id="c" data-live-checksum="old">old</div></div>`)
	child, _ := Parse(`<div data-live-id="c" data-live-checksum="new">new</div>`)

	if !parent.Replace("data-live-id", "c", child) {
		t.Fatal("Replace() found no match")
	}
	want := `<div data-live-id="p"><span>before</span><div data-live-id="c" data-live-checksum="new">new</div></div>`
	if got := parent.String(); got != want {
		t.Errorf("String() = %s\nwant %s", got, want)
	}

	if parent.Replace("data-live-id", "p", child) {
		t.Error("Replace() replaced the fragment root")
	}
	if parent.Find("data-live-id", "p") != parent.Root {
		t.Error("Find() did not return root")
	}
}
