package hxlive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"

	"github.com/a-h/templ"
	"github.com/containerd/log"
	"github.com/pthm/hxlive/lib/encoding"
	"github.com/pthm/hxlive/lib/markup"
)

// Attributes injected on a component's root element.
const (
	AttrID       = "data-live-id"
	AttrName     = "data-live-name"
	AttrKey      = "data-live-key"
	AttrChecksum = "data-live-checksum"
	AttrData     = "data-live-data"
	AttrCalls    = "data-live-calls"
)

type ctxKey int

const (
	componentCtxKey ctxKey = iota
	flashCtxKey
)

// Current returns the component being rendered, or nil outside a render.
func Current(ctx context.Context) Component {
	c, _ := ctx.Value(componentCtxKey).(Component)
	return c
}

// renderNode renders c with its identity attributes. The raw template
// output is memoized per request so a parent embedding an already rendered
// child reuses it. withData adds the initial state and queued calls.
func (reg *Registry) renderNode(ctx context.Context, c Component, withData bool) (string, error) {
	b := baseOf(c)
	if b.tree == nil {
		reg.NewTree(nil).add(c)
	}

	raw, ok := b.tree.memo[b.id]
	if !ok {
		var buf bytes.Buffer
		rctx := context.WithValue(ctx, componentCtxKey, c)
		if err := c.Render(rctx).Render(rctx, &buf); err != nil {
			return "", fmt.Errorf("hxlive: render %s: %w", b.name, err)
		}
		raw = buf.String()
		b.tree.memo[b.id] = raw
	}

	frag, err := markup.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("hxlive: render %s: %w", b.name, err)
	}

	data, err := FrontendData(c)
	if err != nil {
		return "", err
	}
	checksum, err := reg.signer.Checksum(data)
	if err != nil {
		return "", err
	}

	frag.SetAttr(AttrID, b.id)
	frag.SetAttr(AttrName, b.name)
	if b.key != "" {
		frag.SetAttr(AttrKey, b.key)
	}
	frag.SetAttr(AttrChecksum, checksum)

	if withData {
		dumped, err := encoding.Dumps(data)
		if err != nil {
			return "", err
		}
		calls := b.calls
		if calls == nil {
			calls = []Call{}
		}
		callsJSON, err := json.Marshal(calls)
		if err != nil {
			return "", err
		}
		frag.SetAttr(AttrData, dumped)
		frag.SetAttr(AttrCalls, string(callsJSON))
	}
	return frag.String(), nil
}

// Embed renders child inside a parent template:
//
//	templ todoList(c *TodoList) {
//	    <ul>
//	        for _, item := range c.Children() {
//	            @hxlive.Embed(item)
//	        }
//	    </ul>
//	}
//
// A child already rendered in this request is not rendered again.
func Embed(child Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		b := baseOf(child)
		if b.tree == nil || b.tree.reg == nil {
			return fmt.Errorf("hxlive: cannot embed %s outside a component tree", b.name)
		}
		out, err := b.tree.reg.renderNode(ctx, child, true)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	})
}

// Text writes the value of a field. Values of fields marked Safe are
// written as is; everything else is HTML escaped.
func Text(c Component, field string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		v := GetProperty(c, field)
		if v == nil {
			return nil
		}
		s := fmt.Sprint(v)
		if !baseOf(c).def.safe.Contains(field) {
			s = html.EscapeString(s)
		}
		_, err := io.WriteString(w, s)
		return err
	})
}

// View renders a component for a full page load. The component is
// constructed fresh, setup runs before Mount, and the resulting tree is
// cached so later messages can restore it.
//
//	func page(w http.ResponseWriter, r *http.Request) {
//	    hxlive.Render(w, r, layout(reg.View(r, "counter", "", nil)))
//	}
func (reg *Registry) View(r *http.Request, name, id string, setup func(Component) error) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		out, err := reg.renderView(ctx, r, name, id, setup)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	})
}

func (reg *Registry) renderView(ctx context.Context, r *http.Request, name, id string, setup func(Component) error) (string, error) {
	def, err := reg.Def(name)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = NewID()
	}
	tree := reg.NewTree(r)
	c, err := reg.construct(ctx, tree, def, id, "", setup)
	if err != nil {
		return "", err
	}
	out, err := reg.renderNode(ctx, c, true)
	if err != nil {
		return "", err
	}
	if err := reg.cache.Store(ctx, c); err != nil {
		log.G(ctx).WithError(err).WithField("component", id).Warn("component not cached")
	}
	return out, nil
}

// extractPartials returns the requested subtrees of rendered HTML.
func extractPartials(src string, partials []Partial) ([]PartialDOM, error) {
	var out []PartialDOM
	for _, p := range partials {
		var (
			dom string
			ok  bool
			err error
		)
		switch {
		case p.Key != "":
			dom, ok, err = markup.ExtractBy(src, AttrKey, p.Key)
		case p.ID != "":
			dom, ok, err = markup.ExtractBy(src, "id", p.ID)
		case p.Target != "":
			dom, ok, err = markup.Extract(src, AttrKey, p.Target)
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, PartialDOM{ID: p.ID, Key: p.Key, Target: p.Target, DOM: dom})
	}
	return out, nil
}
