package hxlive

import (
	"context"
	"net/http"

	"github.com/a-h/templ"
)

// Component is implemented by every live component. User types satisfy it
// by embedding Base and providing Render:
//
//	type Counter struct {
//	    hxlive.Base
//	    Count int `json:"count"`
//	}
//
//	func (c *Counter) Render(ctx context.Context) templ.Component {
//	    return counterView(c)
//	}
//
// Exported fields are the component's state. They are sent to the browser,
// synced back from it and kept in the tree cache between requests.
type Component interface {
	liveBase() *Base
	Render(ctx context.Context) templ.Component
}

// FieldError is one validation failure for a field.
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Call is a client-side function invocation queued by a component.
type Call struct {
	Fn   string `json:"fn"`
	Args []any  `json:"args"`
}

// Base carries the identity and per-request state of a component. Embed it
// by value in component structs. None of its fields are part of the public
// state.
type Base struct {
	id   string
	name string
	key  string

	parentID string
	childIDs []string

	errors         map[string][]FieldError
	calls          []Call
	forceRender    bool
	validateCalled bool

	tree *Tree
	def  *Def
	self Component

	// msgpack encodings of field values captured after Mount, keyed by
	// wire name.
	snapshots map[string][]byte
}

func (b *Base) liveBase() *Base { return b }

// ID returns the component id.
func (b *Base) ID() string { return b.id }

// Name returns the registered component name.
func (b *Base) Name() string { return b.name }

// Key returns the optional key that disambiguates siblings.
func (b *Base) Key() string { return b.key }

// Request returns the HTTP request currently being served. It is never
// persisted and is re-attached whenever the component is restored.
func (b *Base) Request() *http.Request {
	if b.tree == nil {
		return nil
	}
	return b.tree.req
}

// Parent returns the parent component, or nil for a root.
func (b *Base) Parent() Component {
	if b.parentID == "" || b.tree == nil {
		return nil
	}
	return b.tree.Get(b.parentID)
}

// Children returns the child components in order.
func (b *Base) Children() []Component {
	if b.tree == nil {
		return nil
	}
	out := make([]Component, 0, len(b.childIDs))
	for _, id := range b.childIDs {
		if c := b.tree.Get(id); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the child with the given key, or nil.
func (b *Base) Child(key string) Component {
	for _, c := range b.Children() {
		if c.liveBase().key == key {
			return c
		}
	}
	return nil
}

// Errors returns the accumulated validation errors keyed by field.
func (b *Base) Errors() map[string][]FieldError {
	if b.errors == nil {
		b.errors = make(map[string][]FieldError)
	}
	return b.errors
}

// AddError records a validation error for field.
func (b *Base) AddError(field, code, message string) {
	b.Errors()[field] = append(b.Errors()[field], FieldError{Code: code, Message: message})
}

// ClearErrors removes all validation errors.
func (b *Base) ClearErrors() {
	b.errors = make(map[string][]FieldError)
}

// Calls returns the queued client calls in the order they were added.
func (b *Base) Calls() []Call {
	return b.calls
}

// Call queues a JavaScript function call for the client.
//
//	c.Call("highlight", "#row-3")
func (b *Base) Call(fn string, args ...any) {
	if args == nil {
		args = []any{}
	}
	b.calls = append(b.calls, Call{Fn: fn, Args: args})
}

// ForceRender makes the component re-render in this request even when its
// own state did not change. Children use it on their parent:
//
//	c.Parent().(*TodoList).ForceRender()
func (b *Base) ForceRender() {
	b.forceRender = true
}

// RenderForced reports whether ForceRender was called.
func (b *Base) RenderForced() bool {
	return b.forceRender
}

// Lifecycle hooks. Each is optional; the framework checks for the interface
// and skips the call when a component does not implement it.
type (
	// Mounter is called once when a component is constructed, never when
	// it is restored from the cache.
	Mounter interface {
		Mount(ctx context.Context) error
	}

	// Hydrater is called after request data has been applied.
	Hydrater interface {
		Hydrate(ctx context.Context) error
	}

	// Updater is called around every property set from the client.
	Updater interface {
		Updating(ctx context.Context, name string, value any) error
		Updated(ctx context.Context, name string, value any) error
	}

	// Resolver is called after a synced property has been applied and its
	// updated hooks have run.
	Resolver interface {
		Resolved(ctx context.Context, name string, value any) error
	}

	// Caller is called around every method invocation.
	Caller interface {
		Calling(ctx context.Context, name string, args []any) error
		Called(ctx context.Context, name string, args []any) error
	}

	// Completer is called after every queued action has run.
	Completer interface {
		Complete(ctx context.Context) error
	}

	// RenderedHook receives the HTML produced for a message response.
	RenderedHook interface {
		Rendered(ctx context.Context, html string) error
	}

	// Former attaches a form used for validation and value cleaning.
	Former interface {
		Form() Form
	}
)

func baseOf(c Component) *Base {
	return c.liveBase()
}
