package hxlive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/pthm/hxlive/lib/encoding"
	"github.com/pthm/hxlive/lib/markup"
)

// TestClient plays the browser side of the message protocol against a
// registry's handler. It keeps each component's data, checksum and render
// hash the way the component script does, so consecutive messages behave
// as they would in a browser.
//
//	client := hxlive.NewTestClient(reg)
//	counter, err := client.Mount("counter", nil)
//	res, err := counter.Call("increment")
//	if res.Response.Data["count"] != int64(1) { ... }
type TestClient struct {
	reg     *Registry
	handler http.Handler
	ctx     context.Context
}

// NewTestClient creates a client for reg.
func NewTestClient(reg *Registry) *TestClient {
	return &TestClient{reg: reg, handler: reg.Handler(), ctx: context.Background()}
}

// TestComponent is the client-side state of one mounted component.
type TestComponent struct {
	client *TestClient

	Name     string
	ID       string
	Key      string
	Data     map[string]any
	Checksum string
	Hash     string
	HTML     string

	epoch int64
}

// TestResult is the outcome of one message.
type TestResult struct {
	StatusCode int
	Body       string

	// Response is the decoded payload of a successful message.
	Response *Response
	// Error is the message of a protocol error.
	Error string
	// Queued is set when the message was acknowledged as queued.
	Queued bool
}

// NotModified reports whether the server answered 304.
func (r *TestResult) NotModified() bool {
	return r.StatusCode == http.StatusNotModified
}

// Mount renders a new component the way a full page load does and returns
// its client state. setup runs before Mount.
func (tc *TestClient) Mount(name string, setup func(Component) error) (*TestComponent, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	out, err := tc.reg.renderView(tc.ctx, req, name, "", setup)
	if err != nil {
		return nil, err
	}
	return tc.attach(out)
}

// attach builds client state from HTML rendered with data attributes, such
// as the output of Registry.View or a child embedded in a parent.
func (tc *TestClient) attach(out string) (*TestComponent, error) {
	frag, err := markup.Parse(out)
	if err != nil {
		return nil, err
	}
	comp := &TestComponent{client: tc, HTML: out}
	comp.ID, _ = frag.Attr(AttrID)
	comp.Name, _ = frag.Attr(AttrName)
	comp.Key, _ = frag.Attr(AttrKey)
	comp.Checksum, _ = frag.Attr(AttrChecksum)
	raw, ok := frag.Attr(AttrData)
	if !ok {
		return nil, fmt.Errorf("hxlive: rendered component has no %s", AttrData)
	}
	if comp.Data, err = encoding.LoadsMap(raw); err != nil {
		return nil, err
	}
	return comp, nil
}

// Child returns client state for the child with id as embedded in the
// component's current HTML.
func (c *TestComponent) Child(id string) (*TestComponent, error) {
	out, ok, err := markup.ExtractBy(c.HTML, AttrID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("hxlive: child %s not found", id)
	}
	return c.client.attach(out)
}

// Sync sends a syncInput action.
func (c *TestComponent) Sync(name string, value any) (*TestResult, error) {
	return c.Send(SyncAction(name, value))
}

// Call sends a callMethod action, such as "add(2)" or "$reset".
func (c *TestComponent) Call(expr string) (*TestResult, error) {
	return c.Send(CallAction(expr))
}

// SyncAction builds a syncInput action for Send.
func SyncAction(name string, value any) map[string]any {
	return map[string]any{"type": "syncInput", "payload": map[string]any{"name": name, "value": value}}
}

// CallAction builds a callMethod action for Send.
func CallAction(expr string) map[string]any {
	return map[string]any{"type": "callMethod", "payload": map[string]any{"name": expr}}
}

// Body encodes a message carrying actions from the current client state.
// Each call advances the message epoch.
func (c *TestComponent) Body(actions ...map[string]any) ([]byte, error) {
	c.epoch++
	queue := make([]any, len(actions))
	for i, a := range actions {
		queue[i] = a
	}
	return json.Marshal(map[string]any{
		"id":          c.ID,
		"key":         c.Key,
		"epoch":       c.epoch,
		"hash":        c.Hash,
		"data":        c.Data,
		"checksum":    c.Checksum,
		"actionQueue": queue,
	})
}

// Send posts one message carrying actions. On success the returned data,
// checksum and hash become the component's client state.
func (c *TestComponent) Send(actions ...map[string]any) (*TestResult, error) {
	body, err := c.Body(actions...)
	if err != nil {
		return nil, err
	}

	req := httptest.NewRequest(http.MethodPost, c.client.reg.opts.prefix+"message/"+c.Name, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	rec := httptest.NewRecorder()
	c.client.handler.ServeHTTP(rec, req)

	res := &TestResult{StatusCode: rec.Code, Body: rec.Body.String()}
	if rec.Code != http.StatusOK {
		return res, nil
	}

	var probe struct {
		Error  string `json:"error"`
		Queued bool   `json:"queued"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &probe); err != nil {
		return nil, err
	}
	res.Error, res.Queued = probe.Error, probe.Queued
	if res.Error != "" || res.Queued {
		return res, nil
	}

	res.Response = &Response{}
	dec := json.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
	dec.UseNumber()
	if err := dec.Decode(res.Response); err != nil {
		return nil, err
	}
	res.Response.Data, _ = encoding.Plain(res.Response.Data).(map[string]any)
	c.apply(res.Response)
	return res, nil
}

func (c *TestComponent) apply(resp *Response) {
	for k, v := range resp.Data {
		c.Data[k] = v
	}
	c.Checksum = resp.Checksum
	if resp.DOM != "" {
		c.HTML = resp.DOM
		c.Hash = resp.Hash
	}
}
