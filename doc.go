// Package hxlive provides server-driven reactive components for Go web
// applications rendered with templ.
//
// A component is a Go struct whose exported fields are its state. The
// browser holds a signed copy of that state, sends back input changes and
// method calls as a queue of actions, and receives freshly rendered HTML
// plus the fields that changed. All component logic stays on the server.
//
// # Core Concepts
//
// Components embed hxlive.Base and implement Render:
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
//	func (c *Counter) Increment() { c.Count++ }
//
// Optional lifecycle interfaces (Mounter, Hydrater, Updater, Resolver,
// Caller, Completer, RenderedHook) are called when implemented.
//
// # Registration
//
// The schema of every component is computed once, at registration. Actions
// are declared explicitly with method expressions, so only listed methods
// are callable from the browser:
//
//	reg := hxlive.NewRegistry(secret)
//	hxlive.Register(reg, "counter", func() *Counter { return &Counter{} }).
//	    Action("increment", (*Counter).Increment).
//	    Action("add", (*Counter).Add, "amount")
//	http.Handle("/live/", reg.Handler())
//
// Per-field hooks are typed:
//
//	hxlive.OnUpdated(def, "count", func(ctx context.Context, c *Counter, v any) error {
//	    c.Parity = c.Count % 2
//	    return nil
//	})
//
// # Messages
//
// A message names a component id, the data the browser last received, the
// checksum the server issued for that data and a queue of actions:
// syncInput (set a field), callMethod (invoke an action, or the directives
// $reset, $refresh, $toggle('field') and $validate) and dbInput (save a
// model). The checksum is verified before anything is applied. The
// response carries the changed fields, the new checksum, errors, queued
// client calls and either the rendered DOM or the requested partials. When
// the DOM is unchanged and nothing else is pending the handler answers 304.
//
// # State and Caching
//
// Between requests each component tree is kept in a cache.Backend, one
// msgpack record per component, keyed by id. Components marked Sensitive
// are sealed with AES-GCM. Use a cache.Redis backend to share state across
// processes, and WithSerial to make concurrent messages for the same
// component run one at a time.
//
// # Security Model
//
// Browser state is authenticated with an HMAC over its canonical JSON
// form; a mismatch rejects the message before any component code runs.
// CSRF protection is automatic: messages require the X-Requested-With or
// HX-Request header, which browsers do not send cross-origin without a
// preflight.
//
// # Error Handling
//
// Malformed or tampered messages are answered with {"error": message} and
// status 200 so the browser script can always parse the body. Other errors
// reach Registry.OnError:
//
//	reg.OnError = func(w http.ResponseWriter, r *http.Request, err error) {
//	    log.G(r.Context()).WithError(err).Error("component failed")
//	    http.Error(w, "Something went wrong", 500)
//	}
package hxlive
