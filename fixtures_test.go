package hxlive

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/a-h/templ"
)

var testSecret = []byte("test-secret-0123456789abcdef0123")

func htmlf(format string, args ...any) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, format, args...)
		return err
	})
}

// counter exercises plain fields, methods, calls and redirects.
type counter struct {
	Base
	Count int      `json:"count"`
	Label string   `json:"label"`
	Log   []string `json:"log"`
	Hits  int      `json:"hits"`
	Trail []string `json:"trail"`
}

func (c *counter) Render(context.Context) templ.Component {
	return htmlf(`<div><span id="count">%d</span><p data-live-key="label">%s</p></div>`, c.Count, html.EscapeString(c.Label))
}

func (c *counter) Increment() { c.Count++ }
func (c *counter) Add(amount int) int { c.Count += amount; return c.Count }
func (c *counter) Push(entry string) { c.Log = append(c.Log, entry) }
func (c *counter) Hit() { c.Hits++ }
func (c *counter) Mark(entry string) { c.Trail = append(c.Trail, entry) }
func (c *counter) Notify() { c.Call("notify", c.Count) }
func (c *counter) Fail() error { return errors.New("boom") }
func (c *counter) Leave(ctx context.Context) Redirect {
	AddFlash(ctx, FlashSuccess, "bye")
	return Redirect{URL: "/done"}
}

// hooked records every hook call.
type hooked struct {
	Base
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
	Other bool   `json:"other"`

	mu    sync.Mutex
	trace []string
}

func (h *hooked) Render(context.Context) templ.Component {
	return htmlf(`<div>%s</div>`, html.EscapeString(h.Name))
}

func (h *hooked) record(s string) {
	h.mu.Lock()
	h.trace = append(h.trace, s)
	h.mu.Unlock()
}

func (h *hooked) Updating(_ context.Context, name string, value any) error {
	h.record(fmt.Sprintf("updating %s=%v", name, value))
	return nil
}

func (h *hooked) Updated(_ context.Context, name string, value any) error {
	h.record(fmt.Sprintf("updated %s=%v", name, value))
	return nil
}

func (h *hooked) Resolved(_ context.Context, name string, value any) error {
	h.record(fmt.Sprintf("resolved %s=%v", name, value))
	return nil
}

// profile is validated by a StructForm.
type profile struct {
	Base
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

var profileForm = NewStructForm().WithCleaner("email", TrimSpace)

func (p *profile) Form() Form { return profileForm }

func (p *profile) Render(context.Context) templ.Component {
	return htmlf(`<form><input name="name" value="%s"><input name="email" value="%s"></form>`,
		html.EscapeString(p.Name), html.EscapeString(p.Email))
}

func (p *profile) Claim() error {
	return &ValidationError{Field: "name", Code: "taken", Message: "Name is taken."}
}

func (p *profile) Broken() error {
	return &ValidationError{Field: "name", Message: "no code"}
}

// todoList and todoItem form a parent with keyed children.
type todoList struct {
	Base
	Title string `json:"title"`
}

func (l *todoList) Mount(ctx context.Context) error {
	for _, key := range []string{"a", "b"} {
		if _, err := Child(ctx, l, "item", key, func(it *todoItem) error {
			it.Text = "item " + key
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (l *todoList) Rename(title string) { l.Title = title }

func (l *todoList) Render(context.Context) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		total := 0
		var sb strings.Builder
		for _, c := range l.Children() {
			total += c.(*todoItem).Count
			if err := Embed(c).Render(ctx, &sb); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, `<section><h1>%s</h1>%s<p class="total">%d</p></section>`, html.EscapeString(l.Title), sb.String(), total)
		return err
	})
}

type todoItem struct {
	Base
	Text  string `json:"text"`
	Count int    `json:"count"`
}

func (it *todoItem) Render(context.Context) templ.Component {
	return htmlf(`<div class="item">%s: %d</div>`, html.EscapeString(it.Text), it.Count)
}

func (it *todoItem) Bump() {
	it.Count++
	if p := it.Parent(); p != nil {
		p.(*todoList).ForceRender()
	}
}

func (it *todoItem) Quiet() { it.Count++ }

// note is a persisted model.
type note struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

func (n *note) PrimaryKey() any { return n.ID }

type noteStore struct {
	mu    sync.Mutex
	next  int64
	notes map[int64]*note
}

func newNoteStore() *noteStore {
	return &noteStore{notes: make(map[int64]*note)}
}

func (s *noteStore) Get(_ context.Context, pk any) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := toID(pk)
	if err != nil {
		return nil, err
	}
	n, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %d not found", id)
	}
	cp := *n
	return &cp, nil
}

func (s *noteStore) Create(_ context.Context, fields map[string]any) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	n := &note{ID: s.next}
	n.Body, _ = fields["body"].(string)
	s.notes[n.ID] = n
	cp := *n
	return &cp, nil
}

func (s *noteStore) Update(_ context.Context, pk any, fields map[string]any) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := toID(pk)
	if err != nil {
		return nil, err
	}
	n, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %d not found", id)
	}
	if body, ok := fields["body"].(string); ok {
		n.Body = body
	}
	cp := *n
	return &cp, nil
}

func toID(pk any) (int64, error) {
	switch v := pk.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		var id int64
		_, err := fmt.Sscan(v, &id)
		return id, err
	}
	return 0, fmt.Errorf("bad pk %v", pk)
}

// notebook holds models.
type notebook struct {
	Base
	Current *note   `json:"current"`
	Notes   []*note `json:"notes"`
	Viewed  string  `json:"viewed"`
}

func (nb *notebook) Render(context.Context) templ.Component {
	return htmlf(`<div>%d notes</div>`, len(nb.Notes))
}

func (nb *notebook) Show(n *note) { nb.Viewed = n.Body }

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	reg := NewRegistry(testSecret, opts...)

	Register(reg, "counter", func() *counter { return &counter{} }).
		Action("increment", (*counter).Increment).
		Action("add", (*counter).Add, "amount").
		Action("push", (*counter).Push, "entry").
		Action("hit", (*counter).Hit).
		Action("mark", (*counter).Mark, "entry").
		Action("notify", (*counter).Notify).
		Action("fail", (*counter).Fail).
		Action("leave", (*counter).Leave).
		Exclude("hits", "trail")

	Register(reg, "hooked", func() *hooked { return &hooked{} })

	Register(reg, "profile", func() *profile { return &profile{} }).
		Action("claim", (*profile).Claim).
		Action("broken", (*profile).Broken)

	Register(reg, "list", func() *todoList { return &todoList{Title: "Todo"} }).
		Action("rename", (*todoList).Rename, "title")
	Register(reg, "item", func() *todoItem { return &todoItem{} }).
		Action("bump", (*todoItem).Bump).
		Action("quiet", (*todoItem).Quiet)

	Register(reg, "notebook", func() *notebook { return &notebook{} }).
		Action("show", (*notebook).Show, "note")
	reg.RegisterModel("note", (*note)(nil), newNoteStore())

	return reg
}

func mount(t *testing.T, client *TestClient, name string) *TestComponent {
	t.Helper()
	c, err := client.Mount(name, nil)
	if err != nil {
		t.Fatalf("Mount(%q) error = %v", name, err)
	}
	return c
}

func send(t *testing.T, c *TestComponent, actions ...map[string]any) *TestResult {
	t.Helper()
	res, err := c.Send(actions...)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	return res
}

func mustOK(t *testing.T, res *TestResult) *Response {
	t.Helper()
	if res.StatusCode != 200 || res.Response == nil {
		t.Fatalf("status = %d, error = %q, body = %s", res.StatusCode, res.Error, res.Body)
	}
	return res.Response
}
